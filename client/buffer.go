package client

import "sync"

// DefaultFeedCapacity bounds the rolling activity feed when no explicit
// capacity is configured.
const DefaultFeedCapacity = 50

// FeedBuffer holds the most recent activity events for feed rendering.
//
// Events are kept in arrival order, deduplicated by event id, and evicted
// oldest-first once the capacity is reached. The zero capacity falls back to
// DefaultFeedCapacity.
type FeedBuffer struct {
	mu       sync.Mutex
	capacity int
	items    []Event
	seen     map[string]struct{}
}

// NewFeedBuffer constructs a feed buffer with the given capacity.
func NewFeedBuffer(capacity int) *FeedBuffer {
	if capacity <= 0 {
		capacity = DefaultFeedCapacity
	}
	return &FeedBuffer{
		capacity: capacity,
		items:    make([]Event, 0, capacity),
		seen:     make(map[string]struct{}, capacity),
	}
}

// Insert appends one event and reports whether it was fresh. Events whose id
// is already buffered are ignored, so replaying a backfill next to the live
// stream cannot duplicate feed entries.
func (b *FeedBuffer) Insert(event Event) bool {
	if event.ID == "" {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.seen[event.ID]; ok {
		return false
	}
	if len(b.items) >= b.capacity {
		evicted := b.items[0]
		b.items = b.items[1:]
		delete(b.seen, evicted.ID)
	}
	b.items = append(b.items, event)
	b.seen[event.ID] = struct{}{}
	return true
}

// Events snapshots the buffered events oldest first.
func (b *FeedBuffer) Events() []Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]Event(nil), b.items...)
}

// Len reports how many events are buffered.
func (b *FeedBuffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.items)
}
