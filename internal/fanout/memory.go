package fanout

import (
	"context"
	"sync"
)

// MemoryHub is the in-process hub for single-node deployments and tests.
type MemoryHub struct {
	mu     sync.Mutex
	subs   map[string]map[int]chan Update
	nextID int
	closed bool
}

func NewMemoryHub() *MemoryHub {
	return &MemoryHub{subs: map[string]map[int]chan Update{}}
}

// Publish sends the update to every current subscriber of the account. A
// subscriber that has fallen behind its buffer misses the intermediate
// value; the next publish delivers the newer full snapshot, so nothing
// stays stale.
func (h *MemoryHub) Publish(ctx context.Context, accountID string, update Update) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs[accountID] {
		select {
		case ch <- update:
		default:
		}
	}
	return nil
}

func (h *MemoryHub) Subscribe(ctx context.Context, accountID string) (<-chan Update, func(), error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.subs[accountID] == nil {
		h.subs[accountID] = map[int]chan Update{}
	}
	id := h.nextID
	h.nextID++
	ch := make(chan Update, 8)
	h.subs[accountID][id] = ch

	cancel := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if sub, ok := h.subs[accountID][id]; ok {
			delete(h.subs[accountID], id)
			close(sub)
		}
	}
	return ch, cancel, nil
}

func (h *MemoryHub) Close() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return nil
	}
	h.closed = true
	for _, subs := range h.subs {
		for id, ch := range subs {
			delete(subs, id)
			close(ch)
		}
	}
	return nil
}
