package loghub

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// ContextRegistry holds the session identifier, the current trace id and a
// small ambient key-value map merged into every entry.
type ContextRegistry struct {
	mu        sync.Mutex
	sessionID string
	traceID   string
	ambient   map[string]interface{}
}

// NewContextRegistry creates a registry. The session id is read from
// sessionFile when one exists there from a previous run; otherwise a new id
// is generated and written back. When sessionFile is empty or unwritable the
// id lives in memory only.
func NewContextRegistry(sessionFile string) *ContextRegistry {
	return &ContextRegistry{
		sessionID: loadOrCreateSessionID(sessionFile),
		ambient:   make(map[string]interface{}),
	}
}

func loadOrCreateSessionID(path string) string {
	if path != "" {
		if raw, err := os.ReadFile(path); err == nil {
			if id := strings.TrimSpace(string(raw)); id != "" {
				return id
			}
		}
	}
	id := uuid.NewString()
	if path != "" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err == nil {
			// Best effort; an unwritable store degrades to a per-run id.
			_ = os.WriteFile(path, []byte(id+"\n"), 0o600)
		}
	}
	return id
}

// SessionID returns the session identifier, stable across reloads when the
// session file is available.
func (r *ContextRegistry) SessionID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sessionID
}

// TraceID returns the current correlation id, or "" when none is set.
func (r *ContextRegistry) TraceID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.traceID
}

// SetTraceID sets the current correlation id.
func (r *ContextRegistry) SetTraceID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.traceID = id
}

// ClearTraceID removes the current correlation id.
func (r *ContextRegistry) ClearTraceID() {
	r.SetTraceID("")
}

// WithTrace runs fn with a freshly generated trace id and restores the
// previous id afterward, including when fn panics. Nested calls each restore
// their own saved value.
func (r *ContextRegistry) WithTrace(fn func(traceID string)) {
	r.mu.Lock()
	prev := r.traceID
	id := uuid.NewString()
	r.traceID = id
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.traceID = prev
		r.mu.Unlock()
	}()
	fn(id)
}

// SetAmbient stores an ambient key-value pair merged into every entry's data.
func (r *ContextRegistry) SetAmbient(key string, value interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ambient[key] = value
}

// RemoveAmbient deletes an ambient key.
func (r *ContextRegistry) RemoveAmbient(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.ambient, key)
}

// Ambient returns a copy of the ambient context map.
func (r *ContextRegistry) Ambient() map[string]interface{} {
	r.mu.Lock()
	defer r.mu.Unlock()
	if len(r.ambient) == 0 {
		return nil
	}
	out := make(map[string]interface{}, len(r.ambient))
	for k, v := range r.ambient {
		out[k] = v
	}
	return out
}
