package notify

import (
	"context"
	"sync"
)

const subscriberBuffer = 16

// Hub broadcasts notifications to in-process subscribers such as websocket
// streams and the terminal UI. Slow subscribers lose messages rather than
// blocking the scheduler.
type Hub struct {
	mu     sync.Mutex
	subs   map[int]chan Notification
	nextID int
}

func NewHub() *Hub {
	return &Hub{subs: make(map[int]chan Notification)}
}

// Subscribe returns a channel of notifications and a function that
// unsubscribes and closes the channel.
func (h *Hub) Subscribe() (<-chan Notification, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	id := h.nextID
	h.nextID++
	ch := make(chan Notification, subscriberBuffer)
	h.subs[id] = ch
	var once sync.Once
	return ch, func() {
		once.Do(func() {
			h.mu.Lock()
			delete(h.subs, id)
			h.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (h *Hub) Subscribers() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

func (h *Hub) Notify(_ context.Context, n Notification) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.subs {
		select {
		case ch <- n:
		default:
		}
	}
	return nil
}
