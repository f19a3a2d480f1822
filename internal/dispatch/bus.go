package dispatch

import (
	"sync"
	"time"

	"github.com/roach88/tillsync/internal/outbox"
	"github.com/roach88/tillsync/internal/pos"
)

// EventType distinguishes bus events.
type EventType int

const (
	// EventClaimed is published when a command goes IN_FLIGHT.
	EventClaimed EventType = iota + 1
	// EventApplied is published after an outcome was recorded.
	EventApplied
	// EventReleased is published when a cancelled dispatch put the command back.
	EventReleased
	// EventRetried is published when an operator or the backoff returned a
	// failed command to PENDING.
	EventRetried
	// EventDropped is published when an operator dropped a command.
	EventDropped
)

func (t EventType) String() string {
	switch t {
	case EventClaimed:
		return "claimed"
	case EventApplied:
		return "applied"
	case EventReleased:
		return "released"
	case EventRetried:
		return "retried"
	case EventDropped:
		return "dropped"
	default:
		return "unknown"
	}
}

// Event reports a command status change. Outcome is set for EventApplied.
type Event struct {
	Type    EventType
	Command pos.Command
	Outcome *outbox.Outcome
	At      time.Time
}

// Bus fans events out to subscribers. Publishing never blocks: a
// subscriber whose buffer is full misses the event.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type Bus struct {
	mu     sync.Mutex
	subs   map[int]chan Event
	nextID int
}

// NewBus creates an empty bus.
func NewBus() *Bus {
	return &Bus{subs: make(map[int]chan Event)}
}

// Subscribe registers a subscriber with the given channel buffer. The
// returned cancel func unregisters it and closes the channel; it is safe
// to call more than once.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 0 {
		buffer = 0
	}
	ch := make(chan Event, buffer)

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

// Publish delivers ev to every subscriber with room in its buffer.
func (b *Bus) Publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
