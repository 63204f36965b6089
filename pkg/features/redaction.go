package features

import (
	"reflect"
	"regexp"
	"strings"
	"time"
)

// RedactionConfig controls scrubbing of sensitive content before an entry
// leaves the pipeline.
type RedactionConfig struct {
	// Enabled turns redaction on. When false Redact is a no-op.
	Enabled bool
	// Keys are sensitive key names, matched case- and separator-insensitively
	// by equality or substring containment.
	Keys []string
	// Patterns are regular expressions applied case-insensitively to free
	// text. Invalid patterns are skipped, never fatal.
	Patterns []string
	// Replacement is the token substituted for redacted content.
	Replacement string
	// MaxDepth bounds traversal of the structured data tree. Values deeper
	// than this are returned unmodified.
	MaxDepth int
}

// DefaultRedactionConfig returns the stock redaction configuration.
func DefaultRedactionConfig() RedactionConfig {
	return RedactionConfig{
		Enabled: true,
		Keys: []string{
			"password", "passwd", "secret", "token", "apikey", "api_key",
			"authorization", "auth", "credential", "private_key", "session_key",
			"access_token", "refresh_token", "cookie",
		},
		Patterns: []string{
			`Bearer\s+[A-Za-z0-9\-._~+/]+=*`,
			`sk-[A-Za-z0-9]{20,}`,
			`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`,
		},
		Replacement: "[REDACTED]",
		MaxDepth:    8,
	}
}

// Redactor scrubs sensitive keys and text patterns from log content. A
// redactor is immutable after construction and safe for concurrent use.
type Redactor struct {
	enabled     bool
	keys        []string // normalized sensitive key names
	patterns    []*regexp.Regexp
	replacement string
	maxDepth    int
}

// NewRedactor compiles a redactor from config. Patterns that fail to compile
// are skipped; their errors are reported through onError when provided.
func NewRedactor(cfg RedactionConfig, onError func(pattern string, err error)) *Redactor {
	r := &Redactor{
		enabled:     cfg.Enabled,
		replacement: cfg.Replacement,
		maxDepth:    cfg.MaxDepth,
	}
	if r.replacement == "" {
		r.replacement = "[REDACTED]"
	}
	if r.maxDepth <= 0 {
		r.maxDepth = 8
	}
	for _, k := range cfg.Keys {
		if n := normalizeKey(k); n != "" {
			r.keys = append(r.keys, n)
		}
	}
	for _, p := range cfg.Patterns {
		re, err := regexp.Compile("(?i)" + p)
		if err != nil {
			if onError != nil {
				onError(p, err)
			}
			continue
		}
		r.patterns = append(r.patterns, re)
	}
	return r
}

// Enabled reports whether redaction is active.
func (r *Redactor) Enabled() bool {
	return r.enabled
}

// normalizeKey lowercases a key and strips separator characters so that
// "apiKey", "api_key" and "API-KEY" all compare equal.
func normalizeKey(k string) string {
	var b strings.Builder
	for _, c := range strings.ToLower(k) {
		switch c {
		case '_', '-', ' ', '.':
		default:
			b.WriteRune(c)
		}
	}
	return b.String()
}

// sensitiveKey reports whether the key matches a sensitive-key rule by
// equality or containment.
func (r *Redactor) sensitiveKey(key string) bool {
	n := normalizeKey(key)
	if n == "" {
		return false
	}
	for _, k := range r.keys {
		if n == k || strings.Contains(n, k) {
			return true
		}
	}
	return false
}

// RedactText applies the compiled patterns to free text, replacing matches
// with the replacement token.
func (r *Redactor) RedactText(s string) string {
	if !r.enabled || s == "" {
		return s
	}
	for _, re := range r.patterns {
		s = re.ReplaceAllString(s, r.replacement)
	}
	return s
}

// RedactData recursively scrubs a structured data tree. Values under
// sensitive keys are replaced wholesale regardless of type; strings are
// scanned against the patterns; times are normalized to ISO text; maps and
// slices are walked with depth tracking; traversal stops past MaxDepth; a
// cycle is replaced with the replacement token rather than recursed.
func (r *Redactor) RedactData(data map[string]interface{}) map[string]interface{} {
	if !r.enabled || data == nil {
		return data
	}
	visited := make(map[uintptr]bool)
	out := r.redactMap(data, 0, visited)
	if m, ok := out.(map[string]interface{}); ok {
		return m
	}
	return data
}

func (r *Redactor) redactValue(key string, v interface{}, depth int, visited map[uintptr]bool) interface{} {
	if depth > r.maxDepth {
		return v
	}
	if key != "" && r.sensitiveKey(key) {
		return r.replacement
	}

	switch val := v.(type) {
	case nil:
		return nil
	case string:
		return r.RedactText(val)
	case time.Time:
		return val.UTC().Format(time.RFC3339Nano)
	case map[string]interface{}:
		return r.redactMap(val, depth, visited)
	case []interface{}:
		return r.redactSlice(val, depth, visited)
	default:
		return v
	}
}

func (r *Redactor) redactMap(m map[string]interface{}, depth int, visited map[uintptr]bool) interface{} {
	ptr := reflect.ValueOf(m).Pointer()
	if visited[ptr] {
		return r.replacement
	}
	visited[ptr] = true
	defer delete(visited, ptr)

	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = r.redactValue(k, v, depth+1, visited)
	}
	return out
}

func (r *Redactor) redactSlice(s []interface{}, depth int, visited map[uintptr]bool) interface{} {
	if len(s) == 0 {
		return s
	}
	ptr := reflect.ValueOf(s).Pointer()
	if visited[ptr] {
		return r.replacement
	}
	visited[ptr] = true
	defer delete(visited, ptr)

	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = r.redactValue("", v, depth+1, visited)
	}
	return out
}
