package bot

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gammazero/deque"
)

const logCapacity = 500

// LogEntry is one bot log line, shaped for the frontend log panel.
type LogEntry struct {
	Timestamp string `json:"timestamp"`
	Level     string `json:"level"`
	Message   string `json:"message"`
}

// LogBuffer keeps the most recent bot log entries in memory so the HTTP and
// WebSocket surfaces can serve them without touching log files. Bounded at
// 500 entries; oldest entries are dropped first.
type LogBuffer struct {
	mu      sync.Mutex
	entries deque.Deque[LogEntry]
	total   uint64
	logger  *slog.Logger
	now     func() time.Time
}

// NewLogBuffer creates an empty buffer that mirrors entries to the process
// logger.
func NewLogBuffer() *LogBuffer {
	return &LogBuffer{
		logger: slog.Default().With("module", "bot"),
		now:    time.Now,
	}
}

// Log appends an entry and mirrors it to slog.
func (b *LogBuffer) Log(level, message string) {
	entry := LogEntry{
		Timestamp: b.now().UTC().Format(time.RFC3339Nano),
		Level:     level,
		Message:   message,
	}

	b.mu.Lock()
	b.entries.PushBack(entry)
	for b.entries.Len() > logCapacity {
		b.entries.PopFront()
	}
	b.total++
	b.mu.Unlock()

	switch level {
	case "ERROR":
		b.logger.Error(message)
	case "WARNING":
		b.logger.Warn(message)
	case "DEBUG":
		b.logger.Debug(message)
	default:
		b.logger.Info(message)
	}
}

// Logf appends a formatted entry.
func (b *LogBuffer) Logf(level, format string, args ...any) {
	b.Log(level, fmt.Sprintf(format, args...))
}

// Recent returns up to limit entries, newest first.
func (b *LogBuffer) Recent(limit int) []LogEntry {
	b.mu.Lock()
	defer b.mu.Unlock()

	n := b.entries.Len()
	if limit > 0 && limit < n {
		n = limit
	}

	out := make([]LogEntry, 0, n)
	for i := 0; i < n; i++ {
		// Newest first: walk from the back of the deque.
		out = append(out, b.entries.At(b.entries.Len()-1-i))
	}
	return out
}

// Total returns the number of entries ever appended. Monotonic; Clear does
// not reset it, so stream consumers can detect new entries across clears.
func (b *LogBuffer) Total() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.total
}

// Clear drops all buffered entries.
func (b *LogBuffer) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries.Clear()
}
