// Package events fans reader events out to subscribers (the websocket hub,
// tests). Publishing never blocks: a subscriber whose buffer is full misses
// the event.
package events

import (
	"sync"
	"time"
)

// Type names an event.
type Type string

const (
	MetadataUpdated   Type = "metadataUpdated"
	ChunkRendered     Type = "chunkRendered"
	Restored          Type = "restored"
	AnnotationAdded   Type = "annotationAdded"
	AnnotationDeleted Type = "annotationDeleted"
)

// Event is one notification. Data is encoded as JSON by transports.
type Event struct {
	Type      Type      `json:"type"`
	UserID    string    `json:"userId,omitempty"`
	SessionID string    `json:"sessionId,omitempty"`
	Path      string    `json:"path,omitempty"`
	Data      any       `json:"data,omitempty"`
	Time      time.Time `json:"time"`
}

// Bus is a non-blocking publish/subscribe hub. The zero value is ready to
// use and a nil *Bus discards events.
type Bus struct {
	mu     sync.RWMutex
	subs   map[int]chan Event
	nextID int
}

// NewBus returns an empty bus.
func NewBus() *Bus { return &Bus{} }

// Publish delivers e to every subscriber with room in its buffer.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	if e.Time.IsZero() {
		e.Time = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel of events and a cancel func that closes it.
func (b *Bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan Event, buffer)
	b.mu.Lock()
	if b.subs == nil {
		b.subs = make(map[int]chan Event)
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			close(ch)
		})
	}
}

// Subscribers returns the number of live subscriptions.
func (b *Bus) Subscribers() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
