package loghub

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"
)

// ConsoleTransport writes entries synchronously to a writer. It does no
// buffering and is not subject to batching or retry.
type ConsoleTransport struct {
	mu sync.Mutex
	w  io.Writer
}

// NewConsoleTransport creates a console transport. A nil writer defaults to
// stderr so log output stays separate from application stdout.
func NewConsoleTransport(w io.Writer) *ConsoleTransport {
	if w == nil {
		w = os.Stderr
	}
	return &ConsoleTransport{w: w}
}

// Name implements Transport.
func (c *ConsoleTransport) Name() string { return "console" }

// Log formats and writes the entry immediately.
func (c *ConsoleTransport) Log(entry *LogEntry) error {
	line := formatConsoleLine(entry)

	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := io.WriteString(c.w, line)
	return err
}

func formatConsoleLine(entry *LogEntry) string {
	var b strings.Builder
	b.WriteString(entry.Timestamp)
	b.WriteByte(' ')
	b.WriteString(strings.ToUpper(padLevel(entry.Level)))
	b.WriteString(" [")
	b.WriteString(entry.Module)
	b.WriteString("] ")
	b.WriteString(entry.Message)

	if entry.TraceID != "" {
		fmt.Fprintf(&b, " trace=%s", shortID(entry.TraceID))
	}
	if len(entry.Data) > 0 {
		keys := make([]string, 0, len(entry.Data))
		for k := range entry.Data {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, " %s=%v", k, entry.Data[k])
		}
	}
	if len(entry.Tags) > 0 {
		fmt.Fprintf(&b, " tags=%s", strings.Join(entry.Tags, ","))
	}
	b.WriteByte('\n')

	if entry.Stack != "" {
		b.WriteString(entry.Stack)
		if !strings.HasSuffix(entry.Stack, "\n") {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

func padLevel(level string) string {
	if len(level) < 5 {
		return level + strings.Repeat(" ", 5-len(level))
	}
	return level
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
