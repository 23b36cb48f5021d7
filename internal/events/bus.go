package events

import (
	"sync"

	"quorumline/internal/domain"
)

// Bus fans committed events out to in-process subscribers. Publishing is
// best effort and happens after commit; a slow subscriber drops events
// rather than stalling the mutation path.
type Bus struct {
	mu   sync.RWMutex
	subs []chan domain.Event
}

// Subscribe registers a buffered channel that receives every event
// published after the call.
func (b *Bus) Subscribe(buffer int) <-chan domain.Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan domain.Event, buffer)
	b.mu.Lock()
	b.subs = append(b.subs, ch)
	b.mu.Unlock()
	return ch
}

// Publish delivers e to every subscriber without blocking.
func (b *Bus) Publish(e domain.Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}
