package transports

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/cognia-ai/loghub/pkg/loghub"
)

// AITrace is an ad-hoc trace-and-span structure created per trace/session
// group for an AI-observability backend.
type AITrace struct {
	ID        string    `json:"id"`
	SessionID string    `json:"sessionId,omitempty"`
	Name      string    `json:"name"`
	Spans     []AISpan  `json:"spans"`
	Timestamp time.Time `json:"timestamp"`
}

// AISpan is one entry rendered as a span within an AITrace.
type AISpan struct {
	ID         string                 `json:"id"`
	Name       string                 `json:"name"`
	Level      string                 `json:"level"`
	Message    string                 `json:"message"`
	Module     string                 `json:"module"`
	Timestamp  string                 `json:"timestamp"`
	Attributes map[string]interface{} `json:"attributes,omitempty"`
}

// AITraceClient delivers trace structures to the backend.
type AITraceClient interface {
	CreateTrace(ctx context.Context, t AITrace) error
}

// HTTPAITraceClient posts traces as JSON to an ingestion endpoint.
type HTTPAITraceClient struct {
	Endpoint string
	Headers  map[string]string
	Client   *http.Client
}

// CreateTrace implements AITraceClient.
func (c *HTTPAITraceClient) CreateTrace(ctx context.Context, t AITrace) error {
	payload, err := json.Marshal(t)
	if err != nil {
		return errors.Wrap(err, "marshaling trace")
	}
	client := c.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.Endpoint, bytes.NewReader(payload))
	if err != nil {
		return errors.Wrap(err, "building request")
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range c.Headers {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return errors.Wrap(err, "posting trace")
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("backend returned status %d", resp.StatusCode)
	}
	return nil
}

// AITraceBridge buffers entries, groups them by trace id (falling back to
// session id) and, on a batching cadence, creates one trace per group on
// the backend. Backend unavailability is a soft failure: entries return to
// the buffer up to a bounded size rather than raising.
type AITraceBridge struct {
	client    AITraceClient
	mu        sync.Mutex
	pending   []*loghub.LogEntry
	maxBuffer int
	interval  time.Duration
	timer     *time.Timer
	onError   func(msg string, err error)
	closed    bool
}

// AITraceOption configures an AITraceBridge.
type AITraceOption func(*AITraceBridge)

// WithAITraceInterval sets the batching cadence. Zero disables the timer.
func WithAITraceInterval(d time.Duration) AITraceOption {
	return func(b *AITraceBridge) { b.interval = d }
}

// WithAITraceMaxBuffer bounds how many entries may wait for the backend.
func WithAITraceMaxBuffer(n int) AITraceOption {
	return func(b *AITraceBridge) {
		if n > 0 {
			b.maxBuffer = n
		}
	}
}

// WithAITraceErrorHandler sets the out-of-band failure reporter.
func WithAITraceErrorHandler(fn func(msg string, err error)) AITraceOption {
	return func(b *AITraceBridge) { b.onError = fn }
}

// NewAITraceBridge creates the bridge around a backend client.
func NewAITraceBridge(client AITraceClient, opts ...AITraceOption) *AITraceBridge {
	b := &AITraceBridge{
		client:    client,
		maxBuffer: 500,
		interval:  10 * time.Second,
		onError:   func(string, error) {},
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.interval > 0 {
		b.timer = time.AfterFunc(b.interval, b.timedFlush)
	}
	return b
}

// Name implements loghub.Transport.
func (b *AITraceBridge) Name() string { return "aitrace" }

// Log buffers the entry. When the buffer is at capacity the oldest entry is
// dropped and reported; the pipeline itself is never blocked or failed.
func (b *AITraceBridge) Log(entry *loghub.LogEntry) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return errors.New("aitrace bridge is closed")
	}
	if len(b.pending) >= b.maxBuffer {
		b.pending = b.pending[1:]
		b.onError("trace buffer full", errors.New("dropping oldest entry"))
	}
	b.pending = append(b.pending, entry)
	return nil
}

func (b *AITraceBridge) timedFlush() {
	if err := b.Flush(context.Background()); err != nil {
		b.onError("timed flush failed", err)
	}
	b.mu.Lock()
	if !b.closed && b.timer != nil {
		b.timer.Reset(b.interval)
	}
	b.mu.Unlock()
}

// groupKey buckets an entry under its trace id, session id, or a shared
// fallback.
func groupKey(e *loghub.LogEntry) string {
	if e.TraceID != "" {
		return "trace:" + e.TraceID
	}
	if e.SessionID != "" {
		return "session:" + e.SessionID
	}
	return "untraced"
}

// Flush groups buffered entries and creates one trace per group. Groups the
// backend rejects are returned to the buffer, bounded by the buffer cap;
// the error is swallowed after reporting so backend downtime stays
// invisible to callers.
func (b *AITraceBridge) Flush(ctx context.Context) error {
	b.mu.Lock()
	batch := b.pending
	b.pending = nil
	b.mu.Unlock()

	if len(batch) == 0 {
		return nil
	}

	groups := make(map[string][]*loghub.LogEntry)
	var order []string
	for _, e := range batch {
		key := groupKey(e)
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], e)
	}

	var failed []*loghub.LogEntry
	for _, key := range order {
		entries := groups[key]
		trace := buildTrace(key, entries)
		if err := b.client.CreateTrace(ctx, trace); err != nil {
			b.onError("creating trace "+key, err)
			failed = append(failed, entries...)
		}
	}

	if len(failed) > 0 {
		b.mu.Lock()
		combined := append(failed, b.pending...)
		if len(combined) > b.maxBuffer {
			dropped := len(combined) - b.maxBuffer
			combined = combined[dropped:]
			b.onError("trace buffer full after requeue", errors.Errorf("dropping %d oldest entries", dropped))
		}
		b.pending = combined
		b.mu.Unlock()
	}
	return nil
}

func buildTrace(key string, entries []*loghub.LogEntry) AITrace {
	first := entries[0]
	t := AITrace{
		ID:        first.TraceID,
		SessionID: first.SessionID,
		Name:      key,
		Timestamp: time.Now().UTC(),
		Spans:     make([]AISpan, 0, len(entries)),
	}
	if t.ID == "" {
		t.ID = first.ID
	}
	for _, e := range entries {
		t.Spans = append(t.Spans, AISpan{
			ID:         e.ID,
			Name:       e.Module + ": " + e.Message,
			Level:      e.Level,
			Message:    e.Message,
			Module:     e.Module,
			Timestamp:  e.Timestamp,
			Attributes: e.Data,
		})
	}
	return t
}

// Close implements loghub.Closer: stop the timer, then attempt a final
// flush.
func (b *AITraceBridge) Close(ctx context.Context) error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	if b.timer != nil {
		b.timer.Stop()
	}
	b.mu.Unlock()

	return b.Flush(ctx)
}

// Pending returns the number of buffered entries awaiting the backend.
func (b *AITraceBridge) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}
