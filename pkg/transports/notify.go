package transports

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
)

// Notifier broadcasts a best-effort "store changed" signal to other
// execution contexts sharing the same store. Delivery is not guaranteed and
// failures must never propagate into the pipeline.
type Notifier interface {
	Notify(path string)
}

// NoopNotifier is the platform fallback when no notification channel is
// available.
type NoopNotifier struct{}

// Notify implements Notifier.
func (NoopNotifier) Notify(string) {}

// NATSNotifier publishes store-change signals on a NATS subject so log
// viewers in other processes can refresh without polling.
type NATSNotifier struct {
	conn    *nats.Conn
	subject string
	onError func(msg string, err error)
}

// NewNATSNotifier connects to the NATS server at url and publishes on
// subject. An empty subject defaults to "loghub.store.updated".
func NewNATSNotifier(url, subject string, onError func(msg string, err error)) (*NATSNotifier, error) {
	if subject == "" {
		subject = "loghub.store.updated"
	}
	if onError == nil {
		onError = func(string, error) {}
	}
	conn, err := nats.Connect(url,
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(-1),
	)
	if err != nil {
		return nil, errors.Wrap(err, "connecting to nats")
	}
	return &NATSNotifier{conn: conn, subject: subject, onError: onError}, nil
}

// Notify implements Notifier. Errors are reported out-of-band and otherwise
// ignored.
func (n *NATSNotifier) Notify(path string) {
	if err := n.conn.Publish(n.subject, []byte(path)); err != nil {
		n.onError("publishing store notification", err)
	}
}

// Subscribe invokes fn with the changed store path each time a notification
// arrives. The returned subscription can be drained/unsubscribed by the
// caller.
func (n *NATSNotifier) Subscribe(fn func(path string)) (*nats.Subscription, error) {
	sub, err := n.conn.Subscribe(n.subject, func(msg *nats.Msg) {
		fn(string(msg.Data))
	})
	return sub, errors.Wrap(err, "subscribing to store notifications")
}

// Close releases the NATS connection.
func (n *NATSNotifier) Close() {
	n.conn.Close()
}

// StoreWatcher observes the store file directly through filesystem events,
// for contexts that share the store but have no broker available.
type StoreWatcher struct {
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchStore invokes onChange each time the store file at path is written.
// Watching the parent directory survives the atomic rename performed by the
// retention sweep.
func WatchStore(path string, onChange func()) (*StoreWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, errors.Wrap(err, "creating watcher")
	}
	if err := w.Add(filepath.Dir(path)); err != nil {
		w.Close()
		return nil, errors.Wrap(err, "watching store directory")
	}

	sw := &StoreWatcher{watcher: w, done: make(chan struct{})}
	target := filepath.Clean(path)
	go func() {
		for {
			select {
			case <-sw.done:
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					onChange()
				}
			case _, ok := <-w.Errors:
				if !ok {
					return
				}
				// Watch errors are best-effort; observers fall back to
				// manual refresh.
			}
		}
	}()
	return sw, nil
}

// Close stops watching.
func (sw *StoreWatcher) Close() error {
	close(sw.done)
	return sw.watcher.Close()
}
