package vad

import "sync"

// DefaultHistoryLength bounds the diagnostic volume history.
const DefaultHistoryLength = 50

// History is a fixed-capacity ring of recent volumes. The oldest entry is
// evicted on overflow.
type History struct {
	mu   sync.Mutex
	buf  []Volume
	head int
	len  int
}

// NewHistory creates a history holding at most capacity volumes.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultHistoryLength
	}
	return &History{buf: make([]Volume, capacity)}
}

// Push appends v, dropping the oldest value when full.
func (h *History) Push(v Volume) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.buf[h.head] = v
	h.head = (h.head + 1) % len(h.buf)
	if h.len < len(h.buf) {
		h.len++
	}
}

// Snapshot returns the held volumes, oldest first.
func (h *History) Snapshot() []Volume {
	h.mu.Lock()
	defer h.mu.Unlock()

	out := make([]Volume, h.len)
	start := (h.head - h.len + len(h.buf)) % len(h.buf)
	for i := 0; i < h.len; i++ {
		out[i] = h.buf[(start+i)%len(h.buf)]
	}
	return out
}

// Len returns the number of held volumes.
func (h *History) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.len
}

// Reset clears the history.
func (h *History) Reset() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.head = 0
	h.len = 0
}
