package utils

import "sync"

const eventSubBuffer = 16

// EventSub is a fan-out event subscription over go channels.
// Publish never blocks: a subscriber whose buffer is full misses the event.
type EventSub[T any] struct {
	mu     sync.RWMutex
	subs   map[chan T]struct{}
	closed bool
}

func NewEventSub[T any]() *EventSub[T] {
	return &EventSub[T]{subs: make(map[chan T]struct{})}
}

// Subscribe returns a channel of future events and a func that removes it.
// The channel is closed on unsubscribe or Close.
func (es *EventSub[T]) Subscribe() (<-chan T, func()) {
	es.mu.Lock()
	defer es.mu.Unlock()

	ch := make(chan T, eventSubBuffer)
	if es.closed {
		close(ch)
		return ch, func() {}
	}
	es.subs[ch] = struct{}{}

	return ch, func() { es.unsubscribe(ch) }
}

func (es *EventSub[T]) unsubscribe(ch chan T) {
	es.mu.Lock()
	defer es.mu.Unlock()

	if _, ok := es.subs[ch]; ok {
		delete(es.subs, ch)
		close(ch)
	}
}

// Publish delivers data to every subscriber and returns how many missed it.
func (es *EventSub[T]) Publish(data T) int {
	es.mu.RLock()
	defer es.mu.RUnlock()

	if es.closed {
		return 0
	}

	dropped := 0
	for ch := range es.subs {
		select {
		case ch <- data:
		default:
			dropped++
		}
	}
	return dropped
}

// Len returns the number of subscribers.
func (es *EventSub[T]) Len() int {
	es.mu.RLock()
	defer es.mu.RUnlock()
	return len(es.subs)
}

func (es *EventSub[T]) Close() {
	es.mu.Lock()
	defer es.mu.Unlock()

	if !es.closed {
		es.closed = true
		for ch := range es.subs {
			close(ch)
			delete(es.subs, ch)
		}
	}
}
