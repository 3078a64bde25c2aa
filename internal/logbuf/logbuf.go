package logbuf

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Entry is one diagnostic log line.
type Entry struct {
	Timestamp time.Time `json:"timestamp"`
	Level     string    `json:"level"`
	Message   string    `json:"message"`
}

// Buffer is a bounded in-memory ring of recent diagnostic entries.
// Entries are dropped oldest-first once the capacity is reached. Callers
// own and inject the buffer; there is no package-level instance.
type Buffer struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

// New creates a Buffer holding at most capacity entries. A non-positive
// capacity falls back to 100.
func New(capacity int) *Buffer {
	if capacity <= 0 {
		capacity = 100
	}
	return &Buffer{entries: make([]Entry, capacity)}
}

// Append records an entry, evicting the oldest when the buffer is full.
func (b *Buffer) Append(level, message string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[b.next] = Entry{Timestamp: time.Now().UTC(), Level: level, Message: message}
	b.next++
	if b.next == len(b.entries) {
		b.next = 0
		b.full = true
	}
}

// Snapshot returns the buffered entries oldest-first without clearing.
func (b *Buffer) Snapshot() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.copyLocked()
}

// Drain returns the buffered entries oldest-first and clears the buffer.
func (b *Buffer) Drain() []Entry {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.copyLocked()
	b.next = 0
	b.full = false
	return out
}

func (b *Buffer) copyLocked() []Entry {
	if !b.full {
		out := make([]Entry, b.next)
		copy(out, b.entries[:b.next])
		return out
	}
	out := make([]Entry, 0, len(b.entries))
	out = append(out, b.entries[b.next:]...)
	out = append(out, b.entries[:b.next]...)
	return out
}

// Hook mirrors zerolog events into the buffer so diagnostics show up on
// /logs without separate instrumentation.
type Hook struct {
	Buffer *Buffer
}

func (h Hook) Run(e *zerolog.Event, level zerolog.Level, message string) {
	if h.Buffer == nil || message == "" {
		return
	}
	h.Buffer.Append(level.String(), message)
}
