package transports

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"

	"github.com/cognia-ai/loghub/internal/buffer"
	"github.com/cognia-ai/loghub/pkg/loghub"
)

// TransformFunc produces the wire payload for a batch, letting the shipper
// match different collector schemas. The default marshals the batch as a
// JSON array.
type TransformFunc func(entries []*loghub.LogEntry) ([]byte, error)

// RemoteShipper posts batched entries to an HTTP collector. Batches that
// exhaust their retries move to an offline queue instead of being discarded;
// a connectivity-restored signal drains the queue in batches.
type RemoteShipper struct {
	endpoint string
	headers  map[string]string
	client   *http.Client

	buf           *buffer.Batch[*loghub.LogEntry]
	flushInterval time.Duration
	timer         *time.Timer

	mu         sync.Mutex
	offline    [][]*loghub.LogEntry
	offlineLen int
	offlineCap int
	closed     bool

	maxRetries  uint64
	sendTimeout time.Duration
	transform   TransformFunc
	onError     func(msg string, err error)
}

// RemoteOption configures a RemoteShipper.
type RemoteOption func(*RemoteShipper)

// WithRemoteHeaders adds custom headers to every shipped batch.
func WithRemoteHeaders(h map[string]string) RemoteOption {
	return func(s *RemoteShipper) { s.headers = h }
}

// WithRemoteBufferSize sets the batch threshold in entries.
func WithRemoteBufferSize(n int) RemoteOption {
	return func(s *RemoteShipper) {
		if n > 0 {
			s.buf = buffer.New[*loghub.LogEntry](n)
		}
	}
}

// WithRemoteFlushInterval sets the timed-flush cadence. Zero disables the
// timer.
func WithRemoteFlushInterval(d time.Duration) RemoteOption {
	return func(s *RemoteShipper) { s.flushInterval = d }
}

// WithRemoteMaxRetries sets how many times a batch is retried with
// exponential backoff before moving to the offline queue.
func WithRemoteMaxRetries(n int) RemoteOption {
	return func(s *RemoteShipper) {
		if n >= 0 {
			s.maxRetries = uint64(n)
		}
	}
}

// WithRemoteSendTimeout bounds each in-flight request.
func WithRemoteSendTimeout(d time.Duration) RemoteOption {
	return func(s *RemoteShipper) { s.sendTimeout = d }
}

// WithRemoteTransform sets the payload transform.
func WithRemoteTransform(fn TransformFunc) RemoteOption {
	return func(s *RemoteShipper) {
		if fn != nil {
			s.transform = fn
		}
	}
}

// WithRemoteOfflineCap bounds the offline queue in entries. The oldest
// queued batch is dropped (and reported) when the cap would be exceeded.
func WithRemoteOfflineCap(n int) RemoteOption {
	return func(s *RemoteShipper) {
		if n > 0 {
			s.offlineCap = n
		}
	}
}

// WithRemoteErrorHandler sets the out-of-band failure reporter.
func WithRemoteErrorHandler(fn func(msg string, err error)) RemoteOption {
	return func(s *RemoteShipper) { s.onError = fn }
}

// WithRemoteHTTPClient replaces the HTTP client.
func WithRemoteHTTPClient(c *http.Client) RemoteOption {
	return func(s *RemoteShipper) {
		if c != nil {
			s.client = c
		}
	}
}

// NewRemoteShipper creates a shipper posting to endpoint.
func NewRemoteShipper(endpoint string, opts ...RemoteOption) *RemoteShipper {
	s := &RemoteShipper{
		endpoint:      endpoint,
		client:        &http.Client{},
		buf:           buffer.New[*loghub.LogEntry](50),
		flushInterval: 5 * time.Second,
		offlineCap:    5000,
		maxRetries:    3,
		sendTimeout:   10 * time.Second,
		transform:     defaultTransform,
		onError:       func(string, error) {},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.flushInterval > 0 {
		s.timer = time.AfterFunc(s.flushInterval, s.timedFlush)
	}
	return s
}

func defaultTransform(entries []*loghub.LogEntry) ([]byte, error) {
	payload, err := json.Marshal(entries)
	return payload, errors.Wrap(err, "marshaling batch")
}

// Name implements loghub.Transport.
func (s *RemoteShipper) Name() string { return "remote" }

// Log buffers the entry; a full buffer triggers an asynchronous flush.
func (s *RemoteShipper) Log(entry *loghub.LogEntry) error {
	s.mu.Lock()
	closed := s.closed
	s.mu.Unlock()
	if closed {
		return errors.New("remote shipper is closed")
	}

	if full := s.buf.Append(entry); full {
		go func() {
			if err := s.Flush(context.Background()); err != nil {
				s.onError("threshold flush failed", err)
			}
		}()
	}
	return nil
}

func (s *RemoteShipper) timedFlush() {
	if err := s.Flush(context.Background()); err != nil {
		s.onError("timed flush failed", err)
	}
	s.mu.Lock()
	if !s.closed && s.timer != nil {
		s.timer.Reset(s.flushInterval)
	}
	s.mu.Unlock()
}

// Flush sends the pending batch. A batch that exhausts its retries is moved
// to the offline queue and the send error is returned so callers can
// observe it; the entries are never discarded silently.
func (s *RemoteShipper) Flush(ctx context.Context) error {
	batch := s.buf.Take()
	if len(batch) == 0 {
		return nil
	}

	if err := s.sendWithRetry(ctx, batch); err != nil {
		s.enqueueOffline(batch)
		return err
	}
	return nil
}

// sendWithRetry posts one batch, retrying with exponential backoff up to
// the configured attempt count.
func (s *RemoteShipper) sendWithRetry(ctx context.Context, batch []*loghub.LogEntry) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), s.maxRetries),
		ctx,
	)
	return backoff.Retry(func() error {
		return s.send(ctx, batch)
	}, policy)
}

// send performs one bounded POST.
func (s *RemoteShipper) send(ctx context.Context, batch []*loghub.LogEntry) error {
	payload, err := s.transform(batch)
	if err != nil {
		// A broken transform will not heal on retry.
		return backoff.Permanent(err)
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.sendTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(sendCtx, http.MethodPost, s.endpoint, bytes.NewReader(payload))
	if err != nil {
		return backoff.Permanent(errors.Wrap(err, "building request"))
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range s.headers {
		req.Header.Set(k, v)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return errors.Wrap(err, "posting batch")
	}
	defer func() {
		io.Copy(io.Discard, resp.Body)
		resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errors.Errorf("collector returned status %d", resp.StatusCode)
	}
	return nil
}

// enqueueOffline parks a batch for later delivery, dropping the oldest
// queued batch when the entry cap would be exceeded.
func (s *RemoteShipper) enqueueOffline(batch []*loghub.LogEntry) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.offlineCap > 0 && len(s.offline) > 0 && s.offlineLen+len(batch) > s.offlineCap {
		dropped := s.offline[0]
		s.offline = s.offline[1:]
		s.offlineLen -= len(dropped)
		s.onError("offline queue full", errors.Errorf("dropping %d oldest entries", len(dropped)))
	}
	s.offline = append(s.offline, batch)
	s.offlineLen += len(batch)
}

// SetOnline signals connectivity state. Transitioning to online drains the
// offline queue in batches.
func (s *RemoteShipper) SetOnline(online bool) {
	if !online {
		return
	}
	go s.drainOffline()
}

func (s *RemoteShipper) drainOffline() {
	for {
		s.mu.Lock()
		if len(s.offline) == 0 {
			s.mu.Unlock()
			return
		}
		batch := s.offline[0]
		s.offline = s.offline[1:]
		s.offlineLen -= len(batch)
		s.mu.Unlock()

		if err := s.sendWithRetry(context.Background(), batch); err != nil {
			// Still unreachable; put the batch back at the head so queue
			// order survives a partial drain. It was under the cap a moment
			// ago, so no drop check is needed.
			s.mu.Lock()
			s.offline = append([][]*loghub.LogEntry{batch}, s.offline...)
			s.offlineLen += len(batch)
			s.mu.Unlock()
			s.onError("offline drain failed", err)
			return
		}
	}
}

// PendingCount returns buffered plus offline-queued entries.
func (s *RemoteShipper) PendingCount() int {
	s.mu.Lock()
	offline := s.offlineLen
	s.mu.Unlock()
	return s.buf.Len() + offline
}

// Close implements loghub.Closer: stop the timer, then attempt a final
// flush.
func (s *RemoteShipper) Close(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	if s.timer != nil {
		s.timer.Stop()
	}
	s.mu.Unlock()

	return s.Flush(ctx)
}
