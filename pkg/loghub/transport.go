package loghub

import "context"

// Transport is a destination that receives entries. Log errors are reported
// to the Hub's error handler and never reach the original logging caller; a
// transport must not re-enter the pipeline from inside Log.
type Transport interface {
	// Name uniquely identifies the transport in the Hub's registry.
	Name() string
	// Log accepts one entry. Buffered transports enqueue and return; the
	// entry must be treated as read-only.
	Log(entry *LogEntry) error
}

// Flusher is implemented by transports that buffer entries. Flush must
// either deliver everything currently buffered or return an error.
type Flusher interface {
	Flush(ctx context.Context) error
}

// Closer is implemented by transports holding resources (timers,
// connections). Close must flush before releasing them.
type Closer interface {
	Close(ctx context.Context) error
}
