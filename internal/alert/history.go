package alert

import (
	"sync"

	"arbwatch/internal/model"
)

// History is a bounded, append-only, time-ordered log of alerts. Once full,
// the oldest alerts are overwritten.
type History struct {
	mu    sync.RWMutex
	buf   []model.Alert
	next  int
	full  bool
	total uint64
}

// NewHistory creates a History retaining at most capacity alerts.
func NewHistory(capacity int) *History {
	if capacity <= 0 {
		capacity = 1
	}
	return &History{buf: make([]model.Alert, capacity)}
}

// Append stores a copy of a.
func (h *History) Append(a model.Alert) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.buf[h.next] = a
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
	h.total++
}

// List returns up to limit alerts, most recent first, that satisfy every
// filter. limit <= 0 returns all retained alerts.
func (h *History) List(limit int, filters ...func(model.Alert) bool) []model.Alert {
	h.mu.RLock()
	defer h.mu.RUnlock()

	size := h.next
	if h.full {
		size = len(h.buf)
	}
	out := make([]model.Alert, 0, min(size, max(limit, 0)))

	for i := 0; i < size; i++ {
		idx := (h.next - 1 - i + len(h.buf)) % len(h.buf)
		a := h.buf[idx]
		if !matches(a, filters) {
			continue
		}
		out = append(out, a)
		if limit > 0 && len(out) == limit {
			break
		}
	}
	return out
}

// Total returns how many alerts were ever appended.
func (h *History) Total() uint64 {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.total
}

func matches(a model.Alert, filters []func(model.Alert) bool) bool {
	for _, f := range filters {
		if !f(a) {
			return false
		}
	}
	return true
}
