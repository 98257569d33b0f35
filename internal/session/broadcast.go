package session

import (
	"context"
	"sync"
)

// broadcast fans state snapshots out to subscribers. Each subscriber holds at
// most one pending snapshot; a newer snapshot replaces an unread one so slow
// readers always end on the latest state.
type broadcast struct {
	mu   sync.RWMutex
	subs map[int]chan State
	next int
}

func newBroadcast() *broadcast {
	return &broadcast{subs: make(map[int]chan State)}
}

// subscribe registers a subscriber primed with initial. The channel is closed
// when ctx ends.
func (b *broadcast) subscribe(ctx context.Context, initial State) <-chan State {
	ch := make(chan State, 1)
	ch <- initial

	b.mu.Lock()
	id := b.next
	b.next++
	b.subs[id] = ch
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, id)
		close(ch)
		b.mu.Unlock()
	}()
	return ch
}

// publish must be called with the manager lock held so snapshots arrive in
// mutation order.
func (b *broadcast) publish(st State) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- st.clone():
			continue
		default:
		}
		// Replace the stale snapshot.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- st.clone():
		default:
		}
	}
}

func (b *broadcast) len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
