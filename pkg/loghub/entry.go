package loghub

import "time"

// LogEntry is one structured log record flowing through the pipeline.
// Once an entry has been redacted it is immutable: transports may read and
// serialize it but must never modify it.
type LogEntry struct {
	ID        string                 `json:"id"`
	Timestamp string                 `json:"timestamp"`
	Level     string                 `json:"level"`
	Message   string                 `json:"message"`
	Module    string                 `json:"module"`
	TraceID   string                 `json:"traceId,omitempty"`
	SessionID string                 `json:"sessionId,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Stack     string                 `json:"stack,omitempty"`
	Source    *SourceLocation        `json:"source,omitempty"`
	Tags      []string               `json:"tags,omitempty"`
}

// SourceLocation identifies the call site that produced an entry.
type SourceLocation struct {
	File     string `json:"file,omitempty"`
	Line     int    `json:"line,omitempty"`
	Function string `json:"function,omitempty"`
}

// LevelValue parses the entry's wire-format level. Unknown values map to
// LevelInfo so malformed stored entries still sort somewhere sensible.
func (e *LogEntry) LevelValue() Level {
	lvl, err := ParseLevel(e.Level)
	if err != nil {
		return LevelInfo
	}
	return lvl
}

// Time parses the entry's timestamp. Returns the zero time when the
// timestamp is malformed.
func (e *LogEntry) Time() time.Time {
	t, err := time.Parse(time.RFC3339Nano, e.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// HasTag reports whether the entry carries the given tag.
func (e *LogEntry) HasTag(tag string) bool {
	for _, t := range e.Tags {
		if t == tag {
			return true
		}
	}
	return false
}
