// ABOUTME: In-process event fan-out
// ABOUTME: Delivers events to subscribers without ever blocking the emitter
package events

import (
	"sync"
)

// DefaultSubscriberBuffer is the channel capacity given to each subscriber
const DefaultSubscriberBuffer = 64

// Bus is a Sink that fans events out to subscribers. A subscriber whose
// buffer is full misses the event.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int

	// recent events replayed to new subscribers
	history []Event
	keep    int
}

// NewBus creates a bus that remembers the last keep events
func NewBus(keep int) *Bus {
	return &Bus{
		subs: make(map[int]chan Event),
		keep: keep,
	}
}

// Emit delivers e to every subscriber
func (b *Bus) Emit(e Event) {
	b.mu.Lock()
	if b.keep > 0 {
		b.history = append(b.history, e)
		if len(b.history) > b.keep {
			b.history = b.history[len(b.history)-b.keep:]
		}
	}
	b.mu.Unlock()

	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel of events and a cancel func that closes it
func (b *Bus) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, DefaultSubscriberBuffer)

	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
	return ch, cancel
}

// Recent returns a copy of the remembered events, oldest first
func (b *Bus) Recent() []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Event, len(b.history))
	copy(out, b.history)
	return out
}
