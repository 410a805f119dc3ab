package bus

import (
	"strings"
	"sync"
)

// Bus fans events out to in-process subscribers. Kinds are dot-namespaced
// ("session.qr", "message.group", "report.generated") and a subscriber
// names the prefix it cares about. Delivery never blocks a publisher: a
// subscriber whose buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]subscriber
}

type subscriber struct {
	prefix string
	ch     chan Event
}

// New returns an empty bus.
func New() *Bus {
	return &Bus{subs: make(map[int]subscriber)}
}

// Subscribe registers interest in every kind beginning with prefix and
// returns the delivery channel plus a detach function. buf bounds how far
// a slow consumer may lag before it starts losing events.
func (b *Bus) Subscribe(prefix string, buf int) (<-chan Event, func()) {
	ch := make(chan Event, buf)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = subscriber{prefix: prefix, ch: ch}
	b.mu.Unlock()

	return ch, func() {
		b.mu.Lock()
		delete(b.subs, id)
		b.mu.Unlock()
	}
}

// Publish delivers evt to every subscriber whose prefix matches its kind.
func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, sub := range b.subs {
		if !strings.HasPrefix(evt.Kind, sub.prefix) {
			continue
		}
		select {
		case sub.ch <- evt:
		default:
			// Full buffer: drop rather than stall the publisher.
		}
	}
}
