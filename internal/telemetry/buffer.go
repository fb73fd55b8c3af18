package telemetry

import (
	"fmt"
	"sync"
	"time"
)

// EventBuffer is a fixed-capacity, per-radio ring of recent events. It owns
// the radio's id sequence, which starts at 1.
type EventBuffer struct {
	mu       sync.Mutex
	events   []Event
	capacity int
	nextID   int64
	created  time.Time
}

// NewEventBuffer creates a buffer holding the newest capacity events. Older
// events are evicted only when a new one arrives on a full buffer.
func NewEventBuffer(capacity int) *EventBuffer {
	if capacity < 1 {
		capacity = 1
	}
	return &EventBuffer{
		events:   make([]Event, 0, capacity),
		capacity: capacity,
		nextID:   1,
		created:  time.Now(),
	}
}

// Append assigns the next id if e has none, stores e and returns it.
func (b *EventBuffer) Append(e Event) (Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.appendLocked(e)
}

// appendLocked requires b.mu.
func (b *EventBuffer) appendLocked(e Event) (Event, error) {
	if e.ID == 0 {
		e.ID = b.nextID
	} else if e.ID < b.nextID {
		return e, fmt.Errorf("%w: %d < %d", ErrStaleEventID, e.ID, b.nextID)
	}
	b.nextID = e.ID + 1

	b.events = append(b.events, e)
	if over := len(b.events) - b.capacity; over > 0 {
		// shift in place so the backing array does not grow without bound
		n := copy(b.events, b.events[over:])
		for i := n; i < len(b.events); i++ {
			b.events[i] = Event{}
		}
		b.events = b.events[:n]
	}
	return e, nil
}

// GetEventsAfter returns every buffered event with ID > lastID, oldest first.
func (b *EventBuffer) GetEventsAfter(lastID int64) []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.eventsAfterLocked(lastID)
}

func (b *EventBuffer) eventsAfterLocked(lastID int64) []Event {
	var result []Event
	for _, e := range b.events {
		if e.ID > lastID {
			result = append(result, e)
		}
	}
	return result
}

// Capacity returns the buffer capacity.
func (b *EventBuffer) Capacity() int {
	return b.capacity
}

// Size returns the number of buffered events.
func (b *EventBuffer) Size() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.events)
}

// LastID returns the last id issued, or 0.
func (b *EventBuffer) LastID() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.nextID - 1
}

// Created returns when the buffer was created.
func (b *EventBuffer) Created() time.Time {
	return b.created
}
