package loghub

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"

	"github.com/cognia-ai/loghub/pkg/features"
)

// ErrorHandler receives out-of-band failures from the pipeline (transport
// write errors, panics inside a sink). It must not log through the pipeline.
type ErrorHandler func(source, transport, message string, err error)

// Hub owns the runtime configuration and the transport registry. It performs
// level filtering, sampling, context merging, normalization, redaction and
// synchronous fan-out to every registered transport, isolating failures per
// transport.
type Hub struct {
	mu         sync.RWMutex
	cfg        Config
	transports map[string]Transport
	order      []string // registration order, for deterministic fan-out
	registry   *ContextRegistry
	sampler    *features.Sampler
	redactor   *features.Redactor
	onError    ErrorHandler
	closed     bool
}

// New creates a Hub from config. A console transport is ensured lazily on
// the first dispatch unless the config disables it.
func New(cfg Config) (*Hub, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &Hub{
		cfg:        cfg,
		transports: make(map[string]Transport),
		registry:   NewContextRegistry(cfg.SessionFile),
		sampler:    features.NewSampler(cfg.Sampling, int(LevelError)),
		onError:    defaultErrorHandler,
	}
	h.redactor = features.NewRedactor(cfg.Redaction, h.redactorPatternError)
	return h, nil
}

func defaultErrorHandler(source, transport, message string, err error) {
	fmt.Fprintf(os.Stderr, "loghub: %s %s: %s: %v\n", source, transport, message, err)
}

func (h *Hub) redactorPatternError(pattern string, err error) {
	h.reportError("redaction", "", fmt.Sprintf("skipping invalid pattern %q", pattern), err)
}

// SetErrorHandler replaces the out-of-band failure handler. A nil handler
// restores the stderr default.
func (h *Hub) SetErrorHandler(fn ErrorHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if fn == nil {
		fn = defaultErrorHandler
	}
	h.onError = fn
}

func (h *Hub) reportError(source, transport, message string, err error) {
	h.mu.RLock()
	fn := h.onError
	h.mu.RUnlock()
	if fn != nil {
		fn(source, transport, message, err)
	}
}

// ReportTransportError routes a transport's out-of-band failure through the
// hub's error handler. Intended for transports' own async paths (timed
// flushes, background drains) where no Log call is in flight.
func (h *Hub) ReportTransportError(transport, message string, err error) {
	h.reportError("transport", transport, message, err)
}

// Context returns the hub's context registry.
func (h *Hub) Context() *ContextRegistry {
	return h.registry
}

// Config returns a copy of the current configuration.
func (h *Hub) Config() Config {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.cfg
}

// SetConfig replaces the runtime configuration. Sampling rules and the
// redactor are rebuilt; the transport registry is untouched.
func (h *Hub) SetConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	h.mu.Lock()
	h.cfg = cfg
	h.sampler.SetRules(cfg.Sampling)
	h.redactor = features.NewRedactor(cfg.Redaction, h.redactorPatternError)
	h.mu.Unlock()
	return nil
}

// UpdateSampling replaces just the sampling rules. Last writer wins.
func (h *Hub) UpdateSampling(rules map[string]features.SamplingRule) {
	h.mu.Lock()
	h.cfg.Sampling = rules
	h.mu.Unlock()
	h.sampler.SetRules(rules)
}

// Logger returns a module-scoped logger backed by this hub.
func (h *Hub) Logger(module string) *Logger {
	return &Logger{hub: h, module: module}
}

// RegisterTransport adds a transport under its name. Registering a name that
// is already in use closes and replaces the previous transport.
func (h *Hub) RegisterTransport(t Transport) {
	h.mu.Lock()
	prev, existed := h.transports[t.Name()]
	h.transports[t.Name()] = t
	if !existed {
		h.order = append(h.order, t.Name())
	}
	h.mu.Unlock()

	if existed {
		if closer, ok := prev.(Closer); ok {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := closer.Close(ctx); err != nil {
				h.reportError("registry", prev.Name(), "closing replaced transport", err)
			}
		}
	}
}

// UnregisterTransport removes and closes a transport by name.
func (h *Hub) UnregisterTransport(name string) {
	h.mu.Lock()
	t, ok := h.transports[name]
	if ok {
		delete(h.transports, name)
		for i, n := range h.order {
			if n == name {
				h.order = append(h.order[:i], h.order[i+1:]...)
				break
			}
		}
	}
	h.mu.Unlock()

	if ok {
		if closer, cok := t.(Closer); cok {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := closer.Close(ctx); err != nil {
				h.reportError("registry", name, "closing transport", err)
			}
		}
	}
}

// Transport returns a registered transport by name, or nil.
func (h *Hub) Transport(name string) Transport {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.transports[name]
}

// log is the hot path. Filtering and sampling run before any expensive work
// so dropped entries stay cheap.
func (h *Hub) log(module string, scoped map[string]interface{}, tags []string, level Level, msg string, args []interface{}) {
	h.mu.RLock()
	cfg := h.cfg
	closed := h.closed
	h.mu.RUnlock()

	if closed || level < cfg.MinLevel {
		return
	}
	if !h.sampler.ShouldLog(module, int(level)) {
		return
	}
	dedupe := h.sampler.CheckDedupe(module, int(level), msg)
	if !dedupe.Allow {
		return
	}

	data, errArg := collectArgs(args)

	// Ambient context first, then logger scope, then call-site data.
	merged := h.registry.Ambient()
	merged = mergeFields(merged, scoped)
	merged = mergeFields(merged, data)
	if dedupe.Count > 1 {
		if merged == nil {
			merged = make(map[string]interface{}, 1)
		}
		// Caller data keeps precedence; a caller-supplied count field is
		// not overwritten by the aggregation counter.
		if _, ok := merged["count"]; !ok {
			merged["count"] = dedupe.Count
		}
	}

	entry := &LogEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Level:     level.String(),
		Message:   msg,
		Module:    module,
		TraceID:   h.registry.TraceID(),
		SessionID: h.registry.SessionID(),
		Tags:      tags,
	}
	if errArg != nil && level >= LevelError && cfg.IncludeStackTrace {
		entry.Stack = captureStack()
	}
	if cfg.IncludeSource {
		entry.Source = captureSource(cfg.SourceSkip)
	}

	entry.Data = normalizeData(merged)

	h.mu.RLock()
	redactor := h.redactor
	h.mu.RUnlock()
	if redactor.Enabled() {
		entry.Message = redactor.RedactText(entry.Message)
		entry.Stack = redactor.RedactText(entry.Stack)
		entry.Data = redactor.RedactData(entry.Data)
	}

	h.dispatch(entry)
}

// collectArgs splits variadic log arguments into a merged data map and the
// last error value, if any. An error contributes an "error" data field.
func collectArgs(args []interface{}) (map[string]interface{}, error) {
	var data map[string]interface{}
	var errArg error
	for _, a := range args {
		switch v := a.(type) {
		case nil:
		case map[string]interface{}:
			data = mergeFields(data, v)
		case error:
			errArg = v
			if data == nil {
				data = make(map[string]interface{}, 1)
			}
			data["error"] = v
		default:
			if data == nil {
				data = make(map[string]interface{}, 1)
			}
			data["value"] = v
		}
	}
	return data, errArg
}

// mergeFields overlays b onto a; later layers win on key collision.
func mergeFields(a, b map[string]interface{}) map[string]interface{} {
	if len(b) == 0 {
		return a
	}
	if a == nil {
		a = make(map[string]interface{}, len(b))
	}
	for k, v := range b {
		a[k] = v
	}
	return a
}

// dispatch fans the entry out to every registered transport. Each call is
// wrapped individually: a failing or panicking sink is reported out-of-band
// and never prevents delivery to the others or reaches the caller.
func (h *Hub) dispatch(entry *LogEntry) {
	h.ensureConsole()

	h.mu.RLock()
	names := make([]string, len(h.order))
	copy(names, h.order)
	transports := make([]Transport, 0, len(names))
	for _, n := range names {
		if t, ok := h.transports[n]; ok {
			transports = append(transports, t)
		}
	}
	h.mu.RUnlock()

	for _, t := range transports {
		h.safeLog(t, entry)
	}
}

func (h *Hub) safeLog(t Transport, entry *LogEntry) {
	defer func() {
		if r := recover(); r != nil {
			h.reportError("dispatch", t.Name(), "transport panicked", fmt.Errorf("%v", r))
		}
	}()
	if err := t.Log(entry); err != nil {
		h.reportError("dispatch", t.Name(), "transport write failed", err)
	}
}

// ensureConsole lazily registers the console transport unless disabled or a
// transport named "console" already exists.
func (h *Hub) ensureConsole() {
	h.mu.RLock()
	enabled := h.cfg.EnableConsole
	_, present := h.transports["console"]
	h.mu.RUnlock()
	if !enabled || present {
		return
	}

	h.mu.Lock()
	if _, ok := h.transports["console"]; !ok {
		c := NewConsoleTransport(nil)
		h.transports[c.Name()] = c
		h.order = append(h.order, c.Name())
	}
	h.mu.Unlock()
}

// Flush awaits every transport's optional flush in parallel, tolerating
// individual failures. The combined error reports every sink that failed.
func (h *Hub) Flush(ctx context.Context) error {
	h.mu.RLock()
	flushers := make([]Transport, 0, len(h.transports))
	for _, t := range h.transports {
		if _, ok := t.(Flusher); ok {
			flushers = append(flushers, t)
		}
	}
	h.mu.RUnlock()

	var wg sync.WaitGroup
	var errMu sync.Mutex
	var result *multierror.Error

	for _, t := range flushers {
		wg.Add(1)
		go func(t Transport) {
			defer wg.Done()
			if err := t.(Flusher).Flush(ctx); err != nil {
				errMu.Lock()
				result = multierror.Append(result, fmt.Errorf("flush %s: %w", t.Name(), err))
				errMu.Unlock()
			}
		}(t)
	}
	wg.Wait()
	return result.ErrorOrNil()
}

// Shutdown flushes then closes every transport in parallel, clears the
// registry and resets configuration to defaults, leaving the system
// re-initializable.
func (h *Hub) Shutdown(ctx context.Context) error {
	var result *multierror.Error
	if err := h.Flush(ctx); err != nil {
		result = multierror.Append(result, err)
	}

	h.mu.Lock()
	transports := make([]Transport, 0, len(h.transports))
	for _, t := range h.transports {
		transports = append(transports, t)
	}
	h.transports = make(map[string]Transport)
	h.order = nil
	h.closed = true
	h.cfg = DefaultConfig()
	h.mu.Unlock()

	var wg sync.WaitGroup
	var errMu sync.Mutex
	for _, t := range transports {
		closer, ok := t.(Closer)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(name string, c Closer) {
			defer wg.Done()
			if err := c.Close(ctx); err != nil {
				errMu.Lock()
				result = multierror.Append(result, fmt.Errorf("close %s: %w", name, err))
				errMu.Unlock()
			}
		}(t.Name(), closer)
	}
	wg.Wait()
	return result.ErrorOrNil()
}

// captureStack returns the current goroutine's stack, bounded to 16 KiB.
func captureStack() string {
	buf := make([]byte, 16*1024)
	n := runtime.Stack(buf, false)
	return string(buf[:n])
}

// captureSource records the call site skip frames above this function. The
// default of 3 lands on the caller of a Logger level method.
func captureSource(skip int) *SourceLocation {
	if skip <= 0 {
		skip = 3
	}
	pc, file, line, ok := runtime.Caller(skip)
	if !ok {
		return nil
	}
	src := &SourceLocation{File: file, Line: line}
	if fn := runtime.FuncForPC(pc); fn != nil {
		src.Function = fn.Name()
	}
	return src
}
