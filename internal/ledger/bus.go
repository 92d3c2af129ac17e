package ledger

import (
	"sync"
)

// Event is published after a ledger mutation commits. UserID scopes who
// may see it on the websocket stream.
type Event struct {
	Type   string `json:"type"`
	UserID string `json:"user_id"`
	Data   any    `json:"data"`
}

const (
	EventTransaction = "transaction"
	EventTrade       = "trade"
)

// Bus fans ledger events out to in-process subscribers. Slow subscribers
// drop events rather than blocking the publisher.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
}

func NewBus() *Bus {
	return &Bus{subs: make(map[chan Event]struct{})}
}

func (b *Bus) Subscribe() chan Event {
	ch := make(chan Event, 100)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()
	return ch
}

func (b *Bus) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subs[ch]; ok {
		delete(b.subs, ch)
		close(ch)
	}
	b.mu.Unlock()
}

func (b *Bus) Publish(evt Event) {
	b.mu.RLock()
	for ch := range b.subs {
		select {
		case ch <- evt:
		default:
		}
	}
	b.mu.RUnlock()
}
