package events

import (
	"sync"

	"offlinetiles/internal/tile"
)

type Type string

const (
	Progress    Type = "progress"
	Complete    Type = "complete"
	Error       Type = "error"
	MissingTile Type = "missing_tile"
)

// Event is one notification from a download session or the tile source.
type Event struct {
	Type      Type
	SessionID string
	Completed int
	Total     int
	Coord     *tile.Coord
	Err       error
}

type subscriber struct {
	id int
	fn func(Event)
}

// Bus delivers events to registered handlers, synchronously and in
// registration order. Handlers must not block for long.
type Bus struct {
	mu     sync.RWMutex
	nextID int
	subs   []subscriber
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers fn and returns a function that removes it.
func (b *Bus) Subscribe(fn func(Event)) (unsubscribe func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber{id: id, fn: fn})

	var once sync.Once
	return func() {
		once.Do(func() { b.remove(id) })
	}
}

func (b *Bus) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for i, s := range b.subs {
		if s.id == id {
			b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
			return
		}
	}
}

func (b *Bus) Publish(e Event) {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	for _, s := range subs {
		s.fn(e)
	}
}
