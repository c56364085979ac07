package log

import (
	"context"
	"fmt"
	stdlog "log"
	"strings"
)

// goControlCharReplacer escapes control characters that can be used for log
// injection (CWE-117). Newlines and tabs in attacker-influenced strings can
// forge fake log entries.
var goControlCharReplacer = strings.NewReplacer(
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

func sanitizeLogString(s string) string {
	return goControlCharReplacer.Replace(s)
}

// GoLogger is a Logger backed by the standard library log package. It is
// intended for tests and small tools; production deployments should use the
// zap implementation.
type GoLogger struct {
	Level  Level
	fields []Field
	group  string
}

// NewGoLogger creates a GoLogger emitting entries at or above the given level.
func NewGoLogger(level Level) *GoLogger {
	return &GoLogger{Level: level}
}

// Log writes the entry through the standard library logger.
func (l *GoLogger) Log(_ context.Context, level Level, msg string, fields ...Field) {
	if !l.Enabled(level) {
		return
	}

	parts := make([]string, 0, 2+len(l.fields)+len(fields))
	parts = append(parts, fmt.Sprintf("[%s]", level.String()))
	parts = append(parts, sanitizeLogString(msg))

	for _, field := range append(append([]Field(nil), l.fields...), fields...) {
		key := field.Key
		if l.group != "" {
			key = l.group + "." + key
		}

		value := field.Value
		if s, ok := value.(string); ok {
			value = sanitizeLogString(s)
		}

		parts = append(parts, fmt.Sprintf("%s=%v", key, value))
	}

	stdlog.Print(strings.Join(parts, " "))
}

// With returns a child logger carrying additional fields.
//
//nolint:ireturn
func (l *GoLogger) With(fields ...Field) Logger {
	child := *l
	child.fields = append(append([]Field(nil), l.fields...), fields...)

	return &child
}

// WithGroup returns a child logger that prefixes subsequent field keys.
//
//nolint:ireturn
func (l *GoLogger) WithGroup(name string) Logger {
	child := *l
	if name != "" {
		if child.group != "" {
			child.group += "." + name
		} else {
			child.group = name
		}
	}

	return &child
}

// Enabled reports whether the given level would be emitted.
func (l *GoLogger) Enabled(level Level) bool {
	if l == nil {
		return false
	}

	return l.Level >= level
}

// Sync is a no-op for the standard library logger.
func (l *GoLogger) Sync(_ context.Context) error { return nil }
