// Package transports contains the heavier pipeline sinks: the flock-guarded
// persistent store, the remote HTTP shipper, the distributed-tracing and
// AI-trace bridges, and the cross-context change notifiers.
package transports

import (
	"bufio"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/pkg/errors"

	"github.com/cognia-ai/loghub/internal/buffer"
	"github.com/cognia-ai/loghub/pkg/loghub"
)

// lockTimeout bounds how long a flush may wait on the cross-process store
// lock before giving up and requeueing the batch.
const lockTimeout = 10 * time.Second

// FileStore persists entries to a JSONL file shared across processes. It
// buffers entries and flushes when the buffer reaches its threshold or on a
// timer; each flush appends the whole batch under a file lock. On failure
// the batch is requeued at the front of the buffer. After each successful
// open and flush a retention sweep removes entries past the age limit and,
// if the total still exceeds the cap, the oldest excess entries.
//
// Lock discipline: mu guards closed and the timer and is never held during
// I/O; flushMu serializes flushes so a requeued batch keeps its place. Log
// only touches mu and the buffer's own lock, so a slow or contended flush
// never blocks a logging caller.
type FileStore struct {
	mu            sync.Mutex
	flushMu       sync.Mutex
	path          string
	lock          *flock.Flock
	buf           *buffer.Batch[*loghub.LogEntry]
	flushInterval time.Duration
	timer         *time.Timer
	maxEntries    int
	retention     time.Duration
	notifier      Notifier
	onError       func(msg string, err error)
	closed        bool
}

// FileStoreOption configures a FileStore.
type FileStoreOption func(*FileStore)

// WithStoreBufferSize sets the flush threshold in entries.
func WithStoreBufferSize(n int) FileStoreOption {
	return func(fs *FileStore) {
		if n > 0 {
			fs.buf = buffer.New[*loghub.LogEntry](n)
		}
	}
}

// WithStoreFlushInterval sets the timed-flush cadence. Zero disables the
// timer.
func WithStoreFlushInterval(d time.Duration) FileStoreOption {
	return func(fs *FileStore) { fs.flushInterval = d }
}

// WithStoreMaxEntries caps the number of stored entries. Zero disables the
// count limit.
func WithStoreMaxEntries(n int) FileStoreOption {
	return func(fs *FileStore) { fs.maxEntries = n }
}

// WithStoreRetention sets the maximum entry age. Zero disables the age
// limit.
func WithStoreRetention(d time.Duration) FileStoreOption {
	return func(fs *FileStore) { fs.retention = d }
}

// WithStoreNotifier sets the best-effort change notifier broadcast after
// each successful flush.
func WithStoreNotifier(n Notifier) FileStoreOption {
	return func(fs *FileStore) { fs.notifier = n }
}

// WithStoreErrorHandler sets the out-of-band failure reporter.
func WithStoreErrorHandler(fn func(msg string, err error)) FileStoreOption {
	return func(fs *FileStore) { fs.onError = fn }
}

// NewFileStore opens (creating if needed) the store at path and runs an
// initial retention sweep.
func NewFileStore(path string, opts ...FileStoreOption) (*FileStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, errors.Wrap(err, "creating store directory")
	}

	fs := &FileStore{
		path:          path,
		lock:          flock.New(path + ".lock"),
		buf:           buffer.New[*loghub.LogEntry](50),
		flushInterval: 5 * time.Second,
		maxEntries:    10000,
		retention:     7 * 24 * time.Hour,
		notifier:      NoopNotifier{},
		onError:       func(string, error) {},
	}
	for _, opt := range opts {
		opt(fs)
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return nil, errors.Wrap(err, "opening store file")
	}
	f.Close()

	if err := fs.sweep(); err != nil {
		fs.onError("initial retention sweep failed", err)
	}

	if fs.flushInterval > 0 {
		fs.timer = time.AfterFunc(fs.flushInterval, fs.timedFlush)
	}
	return fs, nil
}

// Name implements loghub.Transport.
func (fs *FileStore) Name() string { return "storage" }

// Log buffers the entry; a full buffer triggers an asynchronous flush so
// the hot path never waits on disk.
func (fs *FileStore) Log(entry *loghub.LogEntry) error {
	fs.mu.Lock()
	closed := fs.closed
	fs.mu.Unlock()
	if closed {
		return errors.New("file store is closed")
	}

	if full := fs.buf.Append(entry); full {
		go func() {
			if err := fs.flushOnce(); err != nil {
				fs.onError("threshold flush failed", err)
			}
		}()
	}
	return nil
}

func (fs *FileStore) timedFlush() {
	if err := fs.flushOnce(); err != nil {
		fs.onError("timed flush failed", err)
	}
	fs.mu.Lock()
	if !fs.closed && fs.timer != nil {
		fs.timer.Reset(fs.flushInterval)
	}
	fs.mu.Unlock()
}

// Flush implements loghub.Flusher.
func (fs *FileStore) Flush(ctx context.Context) error {
	return fs.flushOnce()
}

// flushOnce writes the whole pending batch in one append. The batch is
// requeued at the front on failure so call order is preserved.
func (fs *FileStore) flushOnce() error {
	fs.flushMu.Lock()
	defer fs.flushMu.Unlock()

	batch := fs.buf.Take()
	if len(batch) == 0 {
		return nil
	}

	if err := fs.appendBatch(batch); err != nil {
		fs.buf.Requeue(batch)
		return err
	}

	if err := fs.sweep(); err != nil {
		fs.onError("retention sweep failed", err)
	}
	fs.notifier.Notify(fs.path)
	return nil
}

// acquireLock takes the cross-process store lock, polling up to the bounded
// timeout. Another process wedged on the lock degrades to a requeue, not a
// hang.
func (fs *FileStore) acquireLock() error {
	ctx, cancel := context.WithTimeout(context.Background(), lockTimeout)
	defer cancel()
	ok, err := fs.lock.TryLockContext(ctx, 25*time.Millisecond)
	if err != nil {
		return errors.Wrap(err, "acquiring store lock")
	}
	if !ok {
		return errors.New("store lock acquisition timed out")
	}
	return nil
}

func (fs *FileStore) appendBatch(batch []*loghub.LogEntry) error {
	if err := fs.acquireLock(); err != nil {
		return err
	}
	defer func() {
		if err := fs.lock.Unlock(); err != nil {
			fs.onError("releasing store lock", err)
		}
	}()

	f, err := os.OpenFile(fs.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o600)
	if err != nil {
		return errors.Wrap(err, "opening store file")
	}
	w := bufio.NewWriter(f)
	for _, e := range batch {
		line, err := json.Marshal(e)
		if err != nil {
			// A single unmarshalable entry must not poison the batch.
			fs.onError("marshaling entry "+e.ID, err)
			continue
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return errors.Wrap(err, "writing batch")
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(err, "closing store file")
	}
	return nil
}

// sweep deletes entries older than the retention age, then the oldest
// excess entries when the count cap is still exceeded. The file is
// rewritten atomically via a temp file.
func (fs *FileStore) sweep() error {
	if fs.retention <= 0 && fs.maxEntries <= 0 {
		return nil
	}
	if err := fs.acquireLock(); err != nil {
		return err
	}
	defer func() {
		if err := fs.lock.Unlock(); err != nil {
			fs.onError("releasing store lock", err)
		}
	}()

	entries, err := readAll(fs.path)
	if err != nil {
		return err
	}

	kept := entries[:0]
	if fs.retention > 0 {
		cutoff := time.Now().Add(-fs.retention)
		for _, e := range entries {
			if t := e.Time(); !t.IsZero() && t.Before(cutoff) {
				continue
			}
			kept = append(kept, e)
		}
	} else {
		kept = entries
	}

	if fs.maxEntries > 0 && len(kept) > fs.maxEntries {
		sortByTimestamp(kept)
		kept = kept[len(kept)-fs.maxEntries:]
	}

	if len(kept) == len(entries) {
		return nil
	}
	return rewrite(fs.path, kept)
}

// Close implements loghub.Closer: flush, then release the timer.
func (fs *FileStore) Close(ctx context.Context) error {
	fs.mu.Lock()
	if fs.closed {
		fs.mu.Unlock()
		return nil
	}
	fs.closed = true
	if fs.timer != nil {
		fs.timer.Stop()
	}
	fs.mu.Unlock()

	fs.flushMu.Lock()
	defer fs.flushMu.Unlock()
	batch := fs.buf.Take()
	if len(batch) == 0 {
		return nil
	}
	if err := fs.appendBatch(batch); err != nil {
		fs.buf.Requeue(batch)
		return err
	}
	fs.notifier.Notify(fs.path)
	return nil
}

// Path returns the store file location.
func (fs *FileStore) Path() string { return fs.path }

// Pending returns the number of buffered, not yet persisted entries.
func (fs *FileStore) Pending() int { return fs.buf.Len() }

func readAll(path string) ([]*loghub.LogEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, errors.Wrap(err, "opening store file")
	}
	defer f.Close()

	var entries []*loghub.LogEntry
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		var e loghub.LogEntry
		if err := json.Unmarshal([]byte(line), &e); err != nil {
			// Skip corrupt lines; readers must stay usable after a partial
			// write from another process.
			continue
		}
		entries = append(entries, &e)
	}
	if err := sc.Err(); err != nil {
		return entries, errors.Wrap(err, "scanning store file")
	}
	return entries, nil
}

func rewrite(path string, entries []*loghub.LogEntry) error {
	tmp := path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return errors.Wrap(err, "creating temp store file")
	}
	w := bufio.NewWriter(f)
	for _, e := range entries {
		line, err := json.Marshal(e)
		if err != nil {
			continue
		}
		w.Write(line)
		w.WriteByte('\n')
	}
	if err := w.Flush(); err != nil {
		f.Close()
		os.Remove(tmp)
		return errors.Wrap(err, "writing temp store file")
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return errors.Wrap(err, "closing temp store file")
	}
	return errors.Wrap(os.Rename(tmp, path), "replacing store file")
}

func sortByTimestamp(entries []*loghub.LogEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Timestamp < entries[j].Timestamp
	})
}

// QueryFilter selects stored entries. Zero values mean "no constraint".
type QueryFilter struct {
	// MinLevel keeps entries at or above the level.
	MinLevel loghub.Level
	// Module keeps entries with this exact module name.
	Module string
	// TraceID keeps entries with this exact trace id.
	TraceID string
	// Since/Until bound the time window.
	Since time.Time
	Until time.Time
	// Contains keeps entries whose message contains the substring.
	Contains string
	// Tags keeps entries carrying every listed tag.
	Tags []string
	// Limit caps the result count; 0 means unlimited.
	Limit int
}

func (q *QueryFilter) matches(e *loghub.LogEntry) bool {
	if e.LevelValue() < q.MinLevel {
		return false
	}
	if q.Module != "" && e.Module != q.Module {
		return false
	}
	if q.TraceID != "" && e.TraceID != q.TraceID {
		return false
	}
	if !q.Since.IsZero() || !q.Until.IsZero() {
		t := e.Time()
		if !q.Since.IsZero() && t.Before(q.Since) {
			return false
		}
		if !q.Until.IsZero() && t.After(q.Until) {
			return false
		}
	}
	if q.Contains != "" && !strings.Contains(e.Message, q.Contains) {
		return false
	}
	for _, tag := range q.Tags {
		if !e.HasTag(tag) {
			return false
		}
	}
	return true
}

// Query returns stored entries matching the filter, sorted by timestamp.
// Cross-process readers must sort rather than assume arrival order.
func (fs *FileStore) Query(filter QueryFilter) ([]*loghub.LogEntry, error) {
	entries, err := readAll(fs.path)
	if err != nil {
		return nil, err
	}
	sortByTimestamp(entries)

	var out []*loghub.LogEntry
	for _, e := range entries {
		if !filter.matches(e) {
			continue
		}
		out = append(out, e)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// StoreStats aggregates stored entries.
type StoreStats struct {
	TotalEntries int            `json:"totalEntries"`
	ByLevel      map[string]int `json:"byLevel"`
	ByModule     map[string]int `json:"byModule"`
	Oldest       string         `json:"oldest,omitempty"`
	Newest       string         `json:"newest,omitempty"`
}

// Stats computes aggregate statistics over the stored entries.
func (fs *FileStore) Stats() (StoreStats, error) {
	entries, err := readAll(fs.path)
	if err != nil {
		return StoreStats{}, err
	}

	stats := StoreStats{
		TotalEntries: len(entries),
		ByLevel:      make(map[string]int),
		ByModule:     make(map[string]int),
	}
	for _, e := range entries {
		stats.ByLevel[e.Level]++
		stats.ByModule[e.Module]++
		if stats.Oldest == "" || e.Timestamp < stats.Oldest {
			stats.Oldest = e.Timestamp
		}
		if e.Timestamp > stats.Newest {
			stats.Newest = e.Timestamp
		}
	}
	return stats, nil
}

// Export writes every stored entry as one JSON array, sorted by timestamp.
func (fs *FileStore) Export(w io.Writer) error {
	entries, err := readAll(fs.path)
	if err != nil {
		return err
	}
	sortByTimestamp(entries)
	if entries == nil {
		entries = []*loghub.LogEntry{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return errors.Wrap(enc.Encode(entries), "encoding export")
}
