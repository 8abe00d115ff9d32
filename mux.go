package hublink

import (
	"context"
	"encoding/json"
	"sync"
)

// EventMux lets many listeners share one hub subscription per event type.
// The first listener for a type subscribes, and the last one to leave
// unsubscribes.
type EventMux struct {
	client *Client

	mu      sync.Mutex
	nextID  uint64
	entries map[string]*muxEntry
}

type muxEntry struct {
	ready        chan struct{}
	err          error
	subscription *Subscription
	listeners    map[uint64]EventHandler
}

// NewEventMux creates a multiplexer over client.
func NewEventMux(client *Client) *EventMux {
	return &EventMux{
		client:  client,
		entries: make(map[string]*muxEntry),
	}
}

// Listen adds handler for eventType ("" for every event). It returns a
// cancel function that removes the handler; cancelling the last handler
// of a type unsubscribes from the hub.
func (m *EventMux) Listen(ctx context.Context, eventType string, handler EventHandler) (cancel func(ctx context.Context) error, err error) {
	if handler == nil {
		return nil, NewError(ErrCodeValidation, "handler cannot be nil")
	}

	m.mu.Lock()
	m.nextID++
	id := m.nextID
	entry, ok := m.entries[eventType]
	if !ok {
		entry = &muxEntry{
			ready:     make(chan struct{}),
			listeners: make(map[uint64]EventHandler),
		}
		m.entries[eventType] = entry
	}
	entry.listeners[id] = handler
	m.mu.Unlock()

	if !ok {
		sub, err := m.client.Subscribe(ctx, eventType, m.dispatcher(eventType))
		m.mu.Lock()
		entry.subscription, entry.err = sub, err
		if err != nil {
			delete(m.entries, eventType)
		}
		close(entry.ready)
		m.mu.Unlock()
	} else {
		select {
		case <-entry.ready:
		case <-ctx.Done():
			m.removeListener(eventType, entry, id)
			return nil, ctx.Err()
		}
	}

	if entry.err != nil {
		return nil, entry.err
	}

	var once sync.Once
	return func(ctx context.Context) error {
		var err error
		once.Do(func() {
			err = m.release(ctx, eventType, entry, id)
		})
		return err
	}, nil
}

// Listeners returns how many handlers are registered for eventType.
func (m *EventMux) Listeners(eventType string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.entries[eventType]; ok {
		return len(entry.listeners)
	}
	return 0
}

func (m *EventMux) dispatcher(eventType string) EventHandler {
	return func(event json.RawMessage) {
		m.mu.Lock()
		entry := m.entries[eventType]
		var handlers []EventHandler
		if entry != nil {
			handlers = make([]EventHandler, 0, len(entry.listeners))
			for _, h := range entry.listeners {
				handlers = append(handlers, h)
			}
		}
		m.mu.Unlock()

		for _, h := range handlers {
			h(event)
		}
	}
}

func (m *EventMux) removeListener(eventType string, entry *muxEntry, id uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(entry.listeners, id)
}

func (m *EventMux) release(ctx context.Context, eventType string, entry *muxEntry, id uint64) error {
	m.mu.Lock()
	delete(entry.listeners, id)
	last := len(entry.listeners) == 0 && m.entries[eventType] == entry
	if last {
		delete(m.entries, eventType)
	}
	m.mu.Unlock()

	if !last {
		return nil
	}
	return entry.subscription.Unsubscribe(ctx)
}
