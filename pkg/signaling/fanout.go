package signaling

import (
	"context"
	"sync"
)

type subscriber struct {
	ch   chan Message
	once sync.Once
}

func (s *subscriber) close() {
	s.once.Do(func() { close(s.ch) })
}

// roomSet fans inbound messages out to the local subscribers of each room.
type roomSet struct {
	mu   sync.RWMutex
	subs map[string]map[*subscriber]struct{}
}

func newRoomSet() *roomSet {
	return &roomSet{subs: make(map[string]map[*subscriber]struct{})}
}

// add registers a subscriber for room and reports whether it is the first one.
func (r *roomSet) add(room string) (*subscriber, bool) {
	sub := &subscriber{ch: make(chan Message, subscriptionBuffer)}

	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.subs[room]
	if !ok {
		set = make(map[*subscriber]struct{})
		r.subs[room] = set
	}
	set[sub] = struct{}{}
	return sub, !ok
}

// remove drops a subscriber and reports whether the room has none left.
func (r *roomSet) remove(room string, sub *subscriber) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set := r.subs[room]
	if _, ok := set[sub]; !ok {
		return false
	}
	delete(set, sub)
	sub.close()
	if len(set) == 0 {
		delete(r.subs, room)
		return true
	}
	return false
}

// deliver hands msg to every subscriber of room without blocking and returns
// how many subscribers had to drop it.
func (r *roomSet) deliver(room string, msg Message) int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	dropped := 0
	for sub := range r.subs[room] {
		select {
		case sub.ch <- msg:
		default:
			dropped++
		}
	}
	return dropped
}

func (r *roomSet) rooms() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.subs))
	for name := range r.subs {
		names = append(names, name)
	}
	return names
}

func (r *roomSet) closeAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for room, set := range r.subs {
		for sub := range set {
			sub.close()
		}
		delete(r.subs, room)
	}
}

// subscription wires ctx and the returned cancel func to one removal.
func (r *roomSet) subscription(ctx context.Context, room string, onEmpty func()) (<-chan Message, func()) {
	sub, _ := r.add(room)

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			if r.remove(room, sub) && onEmpty != nil {
				onEmpty()
			}
		})
	}
	context.AfterFunc(ctx, cancel)

	return sub.ch, cancel
}
