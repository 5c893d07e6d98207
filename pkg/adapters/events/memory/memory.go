package memory

import (
	"context"
	"sync"

	"github.com/urbanmesh/urbanflow/internal/domain"
	"github.com/urbanmesh/urbanflow/internal/ports"
)

// Bus implements EventBus with in-process handlers. Delivery is
// synchronous, which makes test assertions deterministic.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string][]ports.EventHandler
}

// NewBus creates an empty in-memory event bus.
func NewBus() *Bus {
	return &Bus{subscribers: make(map[string][]ports.EventHandler)}
}

// Publish delivers the event to every subscriber of the topic.
func (b *Bus) Publish(ctx context.Context, topic string, event domain.Event) error {
	b.mu.RLock()
	handlers := make([]ports.EventHandler, len(b.subscribers[topic]))
	copy(handlers, b.subscribers[topic])
	b.mu.RUnlock()

	for _, handler := range handlers {
		if err := handler(ctx, event); err != nil {
			// Subscriber errors are the subscriber's problem.
			continue
		}
	}
	return nil
}

// Subscribe registers a handler for a topic.
func (b *Bus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers[topic] = append(b.subscribers[topic], handler)
	return nil
}

// Close drops all subscriptions.
func (b *Bus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subscribers = make(map[string][]ports.EventHandler)
	return nil
}
