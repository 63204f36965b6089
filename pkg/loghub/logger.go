package loghub

// Logger is a module-scoped handle on the pipeline. Child loggers extend the
// module name; context-bound loggers carry a frozen extra field map. All
// derivations share the same underlying hub.
type Logger struct {
	hub    *Hub
	module string
	scope  map[string]interface{} // frozen; never mutated after derivation
	tags   []string
}

// Module returns the logger's module name.
func (l *Logger) Module() string { return l.module }

// Child derives a logger for a sub-module. Names concatenate with a dot.
func (l *Logger) Child(name string) *Logger {
	return &Logger{
		hub:    l.hub,
		module: l.module + "." + name,
		scope:  l.scope,
		tags:   l.tags,
	}
}

// WithContext derives a logger carrying extra fields merged into every
// entry. Later derivations and call-site data win on key collision.
func (l *Logger) WithContext(fields map[string]interface{}) *Logger {
	merged := make(map[string]interface{}, len(l.scope)+len(fields))
	for k, v := range l.scope {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{hub: l.hub, module: l.module, scope: merged, tags: l.tags}
}

// WithTags derives a logger whose entries carry the given tags.
func (l *Logger) WithTags(tags ...string) *Logger {
	combined := make([]string, 0, len(l.tags)+len(tags))
	combined = append(combined, l.tags...)
	combined = append(combined, tags...)
	return &Logger{hub: l.hub, module: l.module, scope: l.scope, tags: combined}
}

// Trace logs at trace level. Arguments may be data maps or error values;
// maps merge in order, an error becomes an "error" data field.
func (l *Logger) Trace(msg string, args ...interface{}) {
	l.hub.log(l.module, l.scope, l.tags, LevelTrace, msg, args)
}

// Debug logs at debug level.
func (l *Logger) Debug(msg string, args ...interface{}) {
	l.hub.log(l.module, l.scope, l.tags, LevelDebug, msg, args)
}

// Info logs at info level.
func (l *Logger) Info(msg string, args ...interface{}) {
	l.hub.log(l.module, l.scope, l.tags, LevelInfo, msg, args)
}

// Warn logs at warn level.
func (l *Logger) Warn(msg string, args ...interface{}) {
	l.hub.log(l.module, l.scope, l.tags, LevelWarn, msg, args)
}

// Error logs at error level. Passing an error value captures a stack when
// the configuration enables it.
func (l *Logger) Error(msg string, args ...interface{}) {
	l.hub.log(l.module, l.scope, l.tags, LevelError, msg, args)
}

// Fatal logs at fatal level. It does not terminate the process: logging
// must never crash the application.
func (l *Logger) Fatal(msg string, args ...interface{}) {
	l.hub.log(l.module, l.scope, l.tags, LevelFatal, msg, args)
}
