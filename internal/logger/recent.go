package logger

import (
	"sync"
	"time"
)

const defaultRecentSize = 512

// Entry is a log line kept in the in-memory history.
type Entry struct {
	Time    time.Time `json:"time"`
	Level   string    `json:"level"`
	Message string    `json:"message"`
}

type ring struct {
	mu      sync.Mutex
	entries []Entry
	next    int
	full    bool
}

func newRing(size int) *ring {
	return &ring{entries: make([]Entry, size)}
}

func (r *ring) add(level Level, message string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.entries[r.next] = Entry{Time: time.Now(), Level: level.String(), Message: message}
	r.next = (r.next + 1) % len(r.entries)
	if r.next == 0 {
		r.full = true
	}
}

func (r *ring) snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.full {
		out := make([]Entry, r.next)
		copy(out, r.entries[:r.next])
		return out
	}

	out := make([]Entry, 0, len(r.entries))
	out = append(out, r.entries[r.next:]...)
	out = append(out, r.entries[:r.next]...)
	return out
}

// Recent returns the most recent log entries, oldest first.
func Recent() []Entry {
	return recent.snapshot()
}

// ResetRecent clears the in-memory history.
func ResetRecent() {
	recent.mu.Lock()
	defer recent.mu.Unlock()
	recent.entries = make([]Entry, len(recent.entries))
	recent.next = 0
	recent.full = false
}
