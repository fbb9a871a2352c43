package crosstab

import (
	"context"
	"sync"

	"github.com/iliyamo/seat-sync/internal/model"
)

// MemoryHub connects viewing contexts that live in one process: each
// attached bus sees every published message, its own included.  Tests
// use it to exercise cross-context convergence without Redis, and
// embedders that host several contexts in one binary can wire it as
// the tab bus directly.
type MemoryHub struct {
	mu    sync.Mutex
	buses []*memoryBus
}

// NewMemoryHub returns an empty hub.
func NewMemoryHub() *MemoryHub { return &MemoryHub{} }

// Attach creates a new Bus connected to the hub.
func (h *MemoryHub) Attach() Bus {
	b := &memoryBus{hub: h, out: make(chan model.TabMessage, 32)}
	h.mu.Lock()
	h.buses = append(h.buses, b)
	h.mu.Unlock()
	return b
}

func (h *MemoryHub) broadcast(msg model.TabMessage) {
	h.mu.Lock()
	buses := make([]*memoryBus, len(h.buses))
	copy(buses, h.buses)
	h.mu.Unlock()
	for _, b := range buses {
		b.deliver(msg)
	}
}

func (h *MemoryHub) detach(target *memoryBus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for i, b := range h.buses {
		if b == target {
			h.buses = append(h.buses[:i], h.buses[i+1:]...)
			return
		}
	}
}

type memoryBus struct {
	hub    *MemoryHub
	out    chan model.TabMessage
	mu     sync.Mutex
	closed bool
}

func (b *memoryBus) Publish(_ context.Context, msg model.TabMessage) error {
	b.hub.broadcast(msg)
	return nil
}

func (b *memoryBus) deliver(msg model.TabMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	select {
	case b.out <- msg:
	default:
	}
}

func (b *memoryBus) Messages() <-chan model.TabMessage { return b.out }

func (b *memoryBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.closed {
		b.closed = true
		close(b.out)
		b.hub.detach(b)
	}
	return nil
}
