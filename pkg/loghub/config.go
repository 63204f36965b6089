package loghub

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/cognia-ai/loghub/pkg/features"
)

// Config is the runtime configuration of the logging pipeline. It is owned
// by the Hub; callers replace it through Init or Hub.SetConfig.
type Config struct {
	// MinLevel suppresses all entries below it before any other work.
	MinLevel Level

	// Transport toggles. Console defaults on; a console transport is ensured
	// lazily unless explicitly disabled.
	EnableConsole bool
	EnableStorage bool
	EnableRemote  bool

	// RemoteEndpoint is the collector URL. Required when EnableRemote is set.
	RemoteEndpoint string
	// RemoteHeaders are custom headers added to every shipped batch.
	RemoteHeaders map[string]string

	// Persistent-store limits.
	MaxStorageEntries int
	RetentionDays     int

	// IncludeStackTrace captures a stack for error/fatal entries that carry
	// an error value.
	IncludeStackTrace bool
	// IncludeSource captures the call site. Off by default; the capture
	// offset varies with call depth, so it is wired to SourceSkip.
	IncludeSource bool
	// SourceSkip is the number of frames between runtime.Caller and the
	// user's call site.
	SourceSkip int

	// Sampling maps a module name or prefix to its sampling rule.
	Sampling map[string]features.SamplingRule

	// BufferSize is the batch threshold for buffered transports.
	BufferSize int
	// FlushInterval is the timed-flush cadence for buffered transports.
	FlushInterval time.Duration

	// Redaction scrubs sensitive content before fan-out.
	Redaction features.RedactionConfig

	// SessionFile is where the reload-durable session id lives. Empty means
	// the default per-user location; if that is unwritable the session id is
	// held in memory only.
	SessionFile string
}

// DefaultConfig returns the stock pipeline configuration.
func DefaultConfig() Config {
	return Config{
		MinLevel:          LevelInfo,
		EnableConsole:     true,
		EnableStorage:     false,
		EnableRemote:      false,
		MaxStorageEntries: 10000,
		RetentionDays:     7,
		IncludeStackTrace: true,
		IncludeSource:     false,
		SourceSkip:        3,
		BufferSize:        50,
		FlushInterval:     5 * time.Second,
		Redaction:         features.DefaultRedactionConfig(),
		SessionFile:       defaultSessionFile(),
	}
}

// Validate checks cross-field constraints.
func (c *Config) Validate() error {
	if !c.MinLevel.Valid() {
		return fmt.Errorf("invalid minimum level %d", int(c.MinLevel))
	}
	if c.EnableRemote {
		if c.RemoteEndpoint == "" {
			return fmt.Errorf("remote transport enabled without an endpoint")
		}
		if _, err := url.ParseRequestURI(c.RemoteEndpoint); err != nil {
			return fmt.Errorf("invalid remote endpoint %q: %w", c.RemoteEndpoint, err)
		}
	}
	if c.BufferSize <= 0 {
		return fmt.Errorf("buffer size must be positive, got %d", c.BufferSize)
	}
	if c.FlushInterval < 0 {
		return fmt.Errorf("flush interval must not be negative")
	}
	return nil
}

// defaultSessionFile resolves the per-user session id location. Returns ""
// when no user cache directory is available, which keeps the session id in
// memory only.
func defaultSessionFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return ""
	}
	return filepath.Join(dir, "loghub", "session")
}
