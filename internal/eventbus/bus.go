package eventbus

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/rs/xid"
)

// Handler represents an event handler function
type Handler func(event *Event)

// Bus is the observer list the hub reports lifecycle events to
type Bus interface {
	// Publish delivers an event to all subscribers before returning
	Publish(event *Event)

	// PublishAsync queues an event; it is dropped when the queue is full
	PublishAsync(event *Event)

	// Subscribe subscribes to events of a specific type
	Subscribe(eventType EventType, handler Handler) string

	// SubscribeAll subscribes to all events
	SubscribeAll(handler Handler) string

	// Unsubscribe removes a subscription
	Unsubscribe(id string)
}

type subscription struct {
	id      string
	handler Handler
}

// InMemoryBus is an in-memory implementation of Bus
type InMemoryBus struct {
	mu          sync.RWMutex
	subscribers map[EventType][]subscription
	allHandlers []subscription

	eventChan chan *Event
	dropped   atomic.Int64
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startOnce sync.Once
	stopOnce  sync.Once
}

// NewInMemoryBus creates a new in-memory event bus
func NewInMemoryBus(bufferSize int) *InMemoryBus {
	return &InMemoryBus{
		subscribers: make(map[EventType][]subscription),
		eventChan:   make(chan *Event, bufferSize),
	}
}

// Publish implements Bus
func (b *InMemoryBus) Publish(event *Event) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subscribers[event.Type])+len(b.allHandlers))
	for _, sub := range b.subscribers[event.Type] {
		handlers = append(handlers, sub.handler)
	}
	for _, sub := range b.allHandlers {
		handlers = append(handlers, sub.handler)
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(event)
	}
}

// PublishAsync implements Bus
func (b *InMemoryBus) PublishAsync(event *Event) {
	select {
	case b.eventChan <- event:
	default:
		b.dropped.Add(1)
	}
}

// Dropped returns how many async events were discarded on a full queue.
func (b *InMemoryBus) Dropped() int64 {
	return b.dropped.Load()
}

// Subscribe implements Bus
func (b *InMemoryBus) Subscribe(eventType EventType, handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := subscription{id: xid.New().String(), handler: handler}
	b.subscribers[eventType] = append(b.subscribers[eventType], sub)
	return sub.id
}

// SubscribeAll implements Bus
func (b *InMemoryBus) SubscribeAll(handler Handler) string {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub := subscription{id: xid.New().String(), handler: handler}
	b.allHandlers = append(b.allHandlers, sub)
	return sub.id
}

// Unsubscribe implements Bus
func (b *InMemoryBus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for eventType, subs := range b.subscribers {
		if i := indexOf(subs, id); i >= 0 {
			b.subscribers[eventType] = append(subs[:i:i], subs[i+1:]...)
			return
		}
	}

	if i := indexOf(b.allHandlers, id); i >= 0 {
		b.allHandlers = append(b.allHandlers[:i:i], b.allHandlers[i+1:]...)
	}
}

// Start begins draining async events. Calling it more than once is a no-op.
func (b *InMemoryBus) Start(ctx context.Context) {
	b.startOnce.Do(func() {
		ctx, b.cancel = context.WithCancel(ctx)
		b.wg.Add(1)
		go b.processEvents(ctx)
	})
}

// Stop delivers the events still queued, then waits for the worker to exit.
func (b *InMemoryBus) Stop() {
	b.stopOnce.Do(func() {
		if b.cancel != nil {
			b.cancel()
		}
		b.wg.Wait()
	})
}

func (b *InMemoryBus) processEvents(ctx context.Context) {
	defer b.wg.Done()

	for {
		select {
		case <-ctx.Done():
			b.drain()
			return
		case event := <-b.eventChan:
			if event != nil {
				b.Publish(event)
			}
		}
	}
}

func (b *InMemoryBus) drain() {
	for {
		select {
		case event := <-b.eventChan:
			if event != nil {
				b.Publish(event)
			}
		default:
			return
		}
	}
}

func indexOf(subs []subscription, id string) int {
	for i, sub := range subs {
		if sub.id == id {
			return i
		}
	}
	return -1
}
