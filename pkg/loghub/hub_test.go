package loghub

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cognia-ai/loghub/pkg/features"
)

// captureTransport records delivered entries for assertions.
type captureTransport struct {
	mu      sync.Mutex
	name    string
	entries []*LogEntry
	logErr  error
	flushed int
	closed  int
}

func (c *captureTransport) Name() string {
	if c.name == "" {
		return "capture"
	}
	return c.name
}

func (c *captureTransport) Log(e *LogEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.logErr != nil {
		return c.logErr
	}
	c.entries = append(c.entries, e)
	return nil
}

func (c *captureTransport) Flush(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.flushed++
	return nil
}

func (c *captureTransport) Close(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *captureTransport) all() []*LogEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*LogEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

type panicTransport struct{}

func (panicTransport) Name() string        { return "panicky" }
func (panicTransport) Log(*LogEntry) error { panic("sink blew up") }

func newTestHub(t *testing.T, mutate func(*Config)) (*Hub, *captureTransport) {
	t.Helper()
	cfg := DefaultConfig()
	cfg.EnableConsole = false
	cfg.SessionFile = ""
	if mutate != nil {
		mutate(&cfg)
	}
	h, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	sink := &captureTransport{}
	h.RegisterTransport(sink)
	return h, sink
}

func TestHubMinLevelFiltering(t *testing.T) {
	h, sink := newTestHub(t, func(cfg *Config) {
		cfg.MinLevel = LevelWarn
	})
	log := h.Logger("app")

	log.Debug("debug dropped")
	log.Info("info dropped")
	log.Warn("warn delivered")
	log.Error("error delivered")

	got := sink.all()
	if len(got) != 2 {
		t.Fatalf("delivered %d entries, want 2", len(got))
	}
	if got[0].Message != "warn delivered" || got[1].Message != "error delivered" {
		t.Errorf("wrong entries delivered: %q, %q", got[0].Message, got[1].Message)
	}
}

func TestHubEntryShape(t *testing.T) {
	h, sink := newTestHub(t, nil)
	h.Logger("app.server").Info("started", map[string]interface{}{"port": 8080})

	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("delivered %d entries, want 1", len(got))
	}
	e := got[0]
	if e.ID == "" {
		t.Error("entry id missing")
	}
	if e.SessionID == "" {
		t.Error("session id missing")
	}
	if e.Level != "info" || e.Module != "app.server" || e.Message != "started" {
		t.Errorf("entry fields wrong: %+v", e)
	}
	if e.Data["port"] != 8080 {
		t.Errorf("data not carried: %#v", e.Data)
	}
	if _, err := time.Parse(time.RFC3339Nano, e.Timestamp); err != nil {
		t.Errorf("timestamp not RFC3339: %q", e.Timestamp)
	}
}

func TestHubSamplingDropsBelowBypass(t *testing.T) {
	h, sink := newTestHub(t, func(cfg *Config) {
		cfg.Sampling = map[string]features.SamplingRule{
			"noisy": {Rate: 0},
		}
	})
	log := h.Logger("noisy")

	log.Info("dropped by sampling")
	log.Error("errors always pass")

	got := sink.all()
	if len(got) != 1 || got[0].Message != "errors always pass" {
		t.Fatalf("sampling bypass broken: %d entries", len(got))
	}
}

func TestHubDedupeAggregates(t *testing.T) {
	h, sink := newTestHub(t, nil)
	log := h.Logger("app")

	for i := 0; i < 10; i++ {
		log.Info("same message")
	}

	got := sink.all()
	if len(got) != 2 {
		t.Fatalf("delivered %d entries, want first plus aggregated", len(got))
	}
	if got[0].Data["count"] != nil {
		t.Errorf("first delivery should carry no count: %#v", got[0].Data)
	}
	if got[1].Data["count"] != 10 {
		t.Errorf("aggregated delivery count = %v, want 10", got[1].Data["count"])
	}
}

func TestHubDedupeKeepsCallerCount(t *testing.T) {
	h, sink := newTestHub(t, nil)
	log := h.Logger("app")

	for i := 0; i < 10; i++ {
		log.Info("rows processed", map[string]interface{}{"count": 7})
	}

	got := sink.all()
	if len(got) != 2 {
		t.Fatalf("delivered %d entries, want first plus aggregated", len(got))
	}
	// The aggregation counter must not overwrite caller data.
	if got[1].Data["count"] != 7 {
		t.Errorf("caller count clobbered: %v", got[1].Data["count"])
	}
}

func TestHubContextMergeOrder(t *testing.T) {
	h, sink := newTestHub(t, nil)
	h.Context().SetAmbient("layer", "ambient")
	h.Context().SetAmbient("region", "eu")

	log := h.Logger("app").WithContext(map[string]interface{}{
		"layer": "scope",
		"job":   "sync",
	})
	log.Info("merged", map[string]interface{}{"layer": "call"})

	got := sink.all()
	if len(got) != 1 {
		t.Fatalf("delivered %d entries", len(got))
	}
	d := got[0].Data
	if d["layer"] != "call" {
		t.Errorf("call-site data must win: %v", d["layer"])
	}
	if d["region"] != "eu" || d["job"] != "sync" {
		t.Errorf("lower layers lost: %#v", d)
	}
}

func TestHubScopeFrozen(t *testing.T) {
	h, sink := newTestHub(t, nil)
	base := h.Logger("app").WithContext(map[string]interface{}{"a": 1})
	derived := base.WithContext(map[string]interface{}{"b": 2})

	base.Info("base only")
	derived.Info("both fields")

	got := sink.all()
	if _, ok := got[0].Data["b"]; ok {
		t.Error("derivation leaked into parent scope")
	}
	if got[1].Data["a"] != 1 || got[1].Data["b"] != 2 {
		t.Errorf("derived scope incomplete: %#v", got[1].Data)
	}
}

func TestHubChildModuleNames(t *testing.T) {
	h, sink := newTestHub(t, nil)
	h.Logger("app").Child("worker").Child("pool").Info("hi")

	got := sink.all()
	if got[0].Module != "app.worker.pool" {
		t.Errorf("module = %q", got[0].Module)
	}
}

func TestHubTags(t *testing.T) {
	h, sink := newTestHub(t, nil)
	h.Logger("app").WithTags("audit").WithTags("billing").Info("tagged")

	got := sink.all()
	if len(got[0].Tags) != 2 || got[0].Tags[0] != "audit" || got[0].Tags[1] != "billing" {
		t.Errorf("tags = %v", got[0].Tags)
	}
}

func TestHubTraceIDStamped(t *testing.T) {
	h, sink := newTestHub(t, nil)
	log := h.Logger("app")

	log.Info("before trace")
	h.Context().WithTrace(func(traceID string) {
		log.Info("inside trace")
		got := sink.all()
		if got[1].TraceID != traceID {
			t.Errorf("trace id = %q, want %q", got[1].TraceID, traceID)
		}
	})
	log.Info("after trace")

	got := sink.all()
	if got[0].TraceID != "" || got[2].TraceID != "" {
		t.Error("entries outside the scope should carry no trace id")
	}
}

func TestHubErrorArgument(t *testing.T) {
	h, sink := newTestHub(t, nil)
	h.Logger("app").Error("op failed", fmt.Errorf("connection refused"))

	got := sink.all()
	e := got[0]
	em, ok := e.Data["error"].(map[string]interface{})
	if !ok {
		t.Fatalf("error not normalized into data: %#v", e.Data)
	}
	if em["message"] != "connection refused" {
		t.Errorf("error message = %v", em["message"])
	}
	if e.Stack == "" {
		t.Error("error-level entry with error argument should carry a stack")
	}
}

func TestHubNoStackBelowError(t *testing.T) {
	h, sink := newTestHub(t, nil)
	h.Logger("app").Warn("mild", fmt.Errorf("transient"))

	if got := sink.all(); got[0].Stack != "" {
		t.Error("warn entries must not capture stacks")
	}
}

func TestHubRedactsEntries(t *testing.T) {
	h, sink := newTestHub(t, nil)
	h.Logger("auth").Info("login with Bearer abc123", map[string]interface{}{
		"password": "hunter2",
	})

	got := sink.all()
	e := got[0]
	if e.Message != "login with [REDACTED]" {
		t.Errorf("message not redacted: %q", e.Message)
	}
	if e.Data["password"] != "[REDACTED]" {
		t.Errorf("data not redacted: %v", e.Data["password"])
	}
}

func TestHubTransportIsolation(t *testing.T) {
	h, sink := newTestHub(t, nil)
	failing := &captureTransport{name: "failing", logErr: fmt.Errorf("disk full")}
	h.RegisterTransport(failing)
	h.RegisterTransport(panicTransport{})

	var reported []string
	h.SetErrorHandler(func(source, transport, message string, err error) {
		reported = append(reported, transport)
	})

	h.Logger("app").Info("still delivered")

	if got := sink.all(); len(got) != 1 {
		t.Fatalf("healthy sink received %d entries, want 1", len(got))
	}
	if len(reported) != 2 {
		t.Fatalf("expected 2 out-of-band reports, got %v", reported)
	}
}

func TestHubConsoleLazyRegistration(t *testing.T) {
	cfg := DefaultConfig()
	cfg.SessionFile = ""
	h, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	if h.Transport("console") != nil {
		t.Fatal("console should not exist before the first dispatch")
	}
	// Swap in a capture sink under the console name before anything logs so
	// the test stays quiet.
	h.RegisterTransport(&captureTransport{name: "console"})
	h.Logger("app").Info("hello")
	if h.Transport("console") == nil {
		t.Fatal("console slot should be occupied after dispatch")
	}
}

func TestHubConsoleDisabled(t *testing.T) {
	h, _ := newTestHub(t, nil)
	h.Logger("app").Info("hello")
	if h.Transport("console") != nil {
		t.Error("console must not be registered when disabled")
	}
}

func TestHubRegisterReplaceClosesPrevious(t *testing.T) {
	h, _ := newTestHub(t, nil)
	first := &captureTransport{name: "dup"}
	second := &captureTransport{name: "dup"}
	h.RegisterTransport(first)
	h.RegisterTransport(second)

	first.mu.Lock()
	closed := first.closed
	first.mu.Unlock()
	if closed != 1 {
		t.Errorf("replaced transport closed %d times, want 1", closed)
	}
	if h.Transport("dup") != Transport(second) {
		t.Error("replacement not installed")
	}
}

func TestHubUnregisterTransport(t *testing.T) {
	h, sink := newTestHub(t, nil)
	h.UnregisterTransport("capture")

	h.Logger("app").Info("nobody home")
	if len(sink.all()) != 0 {
		t.Error("unregistered transport still receiving entries")
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.closed != 1 {
		t.Errorf("unregistered transport closed %d times, want 1", sink.closed)
	}
}

func TestHubFlush(t *testing.T) {
	h, sink := newTestHub(t, nil)
	if err := h.Flush(context.Background()); err != nil {
		t.Fatalf("Flush: %v", err)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.flushed != 1 {
		t.Errorf("flushed %d times, want 1", sink.flushed)
	}
}

func TestHubShutdown(t *testing.T) {
	h, sink := newTestHub(t, nil)
	if err := h.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}

	sink.mu.Lock()
	flushed, closed := sink.flushed, sink.closed
	sink.mu.Unlock()
	if flushed != 1 || closed != 1 {
		t.Errorf("flushed=%d closed=%d, want 1/1", flushed, closed)
	}

	// Logging after shutdown is a silent no-op.
	h.Logger("app").Info("into the void")
	if len(sink.all()) != 0 {
		t.Error("entry delivered after shutdown")
	}
	if h.Transport("capture") != nil {
		t.Error("registry not cleared on shutdown")
	}
}

func TestHubSetConfigRebuildsPipeline(t *testing.T) {
	h, sink := newTestHub(t, nil)
	log := h.Logger("app")

	log.Debug("debug before")
	cfg := h.Config()
	cfg.MinLevel = LevelDebug
	if err := h.SetConfig(cfg); err != nil {
		t.Fatal(err)
	}
	log.Debug("debug after")

	got := sink.all()
	if len(got) != 1 || got[0].Message != "debug after" {
		t.Fatalf("runtime level change not applied: %d entries", len(got))
	}
}

func TestHubUpdateSampling(t *testing.T) {
	h, sink := newTestHub(t, nil)
	log := h.Logger("chatty")

	log.Info("first passes")
	h.UpdateSampling(map[string]features.SamplingRule{"chatty": {Rate: 0}})
	log.Info("second dropped")

	got := sink.all()
	if len(got) != 1 || got[0].Message != "first passes" {
		t.Fatalf("sampling update not applied: %d entries", len(got))
	}
}

func TestHubSetConfigRejectsInvalid(t *testing.T) {
	h, _ := newTestHub(t, nil)
	bad := h.Config()
	bad.EnableRemote = true
	bad.RemoteEndpoint = "://not-a-url"
	if err := h.SetConfig(bad); err == nil {
		t.Fatal("invalid config accepted")
	}
}

func TestHubFatalDoesNotExit(t *testing.T) {
	h, sink := newTestHub(t, nil)
	h.Logger("app").Fatal("unrecoverable")
	got := sink.all()
	if len(got) != 1 || got[0].Level != "fatal" {
		t.Fatalf("fatal entry not delivered: %d entries", len(got))
	}
}

func TestHubIncludeSource(t *testing.T) {
	h, sink := newTestHub(t, func(cfg *Config) {
		cfg.IncludeSource = true
	})
	h.Logger("app").Info("where am I")

	got := sink.all()
	if got[0].Source == nil || got[0].Source.File == "" {
		t.Fatalf("source location missing: %+v", got[0].Source)
	}
}
