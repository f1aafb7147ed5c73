package status

import (
	"context"
	"sync"

	"github.com/Golevka2001/awtrix-scripts/internal/eventbus"
)

const defaultHistory = 200

// History keeps the most recent bus events in a ring buffer.
type History struct {
	mu   sync.Mutex
	buf  []eventbus.Event
	next int
	full bool
}

func NewHistory(size int) *History {
	if size <= 0 {
		size = defaultHistory
	}
	return &History{buf: make([]eventbus.Event, size)}
}

func (h *History) Add(e eventbus.Event) {
	h.mu.Lock()
	h.buf[h.next] = e
	h.next = (h.next + 1) % len(h.buf)
	if h.next == 0 {
		h.full = true
	}
	h.mu.Unlock()
}

// Recent returns up to n events, newest first.
func (h *History) Recent(n int) []eventbus.Event {
	h.mu.Lock()
	defer h.mu.Unlock()

	size := h.next
	if h.full {
		size = len(h.buf)
	}
	if n <= 0 || n > size {
		n = size
	}
	out := make([]eventbus.Event, 0, n)
	for i := 0; i < n; i++ {
		idx := (h.next - 1 - i + len(h.buf)) % len(h.buf)
		out = append(out, h.buf[idx])
	}
	return out
}

// Follow records events from bus until ctx ends.
func (h *History) Follow(ctx context.Context, bus eventbus.Bus) {
	if bus == nil {
		return
	}
	ch, unsub := bus.Subscribe(64)
	defer unsub()
	for {
		select {
		case <-ctx.Done():
			return
		case e, ok := <-ch:
			if !ok {
				return
			}
			h.Add(e)
		}
	}
}
