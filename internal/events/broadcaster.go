// Package events provides an SSE event broadcaster for vault mutations.
package events

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/nanome-ai/plugin-vault/internal/metrics"
	"github.com/nanome-ai/plugin-vault/pkg/protocol"
)

const (
	EventCreate  = "create"
	EventUpload  = "upload"
	EventDelete  = "delete"
	EventRename  = "rename"
	EventMove    = "move"
	EventEncrypt = "encrypt"
	EventDecrypt = "decrypt"
	EventExpire  = "expire"
)

// Event is a vault mutation.
type Event = protocol.Event

// Broadcaster manages SSE subscribers and publishes events.
type Broadcaster struct {
	mu          sync.RWMutex
	subscribers map[chan Event]struct{}
}

// NewBroadcaster creates a new event broadcaster.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subscribers: make(map[chan Event]struct{}),
	}
}

// Subscribe adds a new subscriber and returns its event channel.
// The caller must call Unsubscribe when done.
func (b *Broadcaster) Subscribe() chan Event {
	ch := make(chan Event, 64)
	b.mu.Lock()
	b.subscribers[ch] = struct{}{}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetSSESubscribers(n)
	return ch
}

// Unsubscribe removes a subscriber and closes its channel.
func (b *Broadcaster) Unsubscribe(ch chan Event) {
	b.mu.Lock()
	if _, ok := b.subscribers[ch]; ok {
		delete(b.subscribers, ch)
		close(ch)
	}
	n := len(b.subscribers)
	b.mu.Unlock()
	metrics.SetSSESubscribers(n)
}

// Publish sends an event to all subscribers. Slow consumers miss events
// rather than block the publisher.
func (b *Broadcaster) Publish(eventType, path string) {
	event := Event{Type: eventType, Path: path, Timestamp: time.Now().Unix()}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subscribers {
		select {
		case ch <- event:
		default:
		}
	}
	metrics.RecordSSEEvent(eventType)
}

// Count returns the current number of subscribers.
func (b *Broadcaster) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}

// MarshalEvent serializes an event to JSON.
func MarshalEvent(e Event) ([]byte, error) {
	return json.Marshal(e)
}
