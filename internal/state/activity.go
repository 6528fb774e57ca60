package state

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// Kind classifies an activity feed item.
type Kind string

const (
	ActivityMessageIncoming Kind = "message_incoming"
	ActivityMessageOutgoing Kind = "message_outgoing"
	ActivityUserJoined      Kind = "user_joined"
	ActivityUserUpdate      Kind = "user_update"
	ActivityCommandExecuted Kind = "command_executed"
	ActivityBotConnected    Kind = "bot_connected"
	ActivityBotDisconnected Kind = "bot_disconnected"
	ActivityError           Kind = "error"
)

// FeedCapacity bounds the activity feed; the oldest item beyond it is
// dropped silently.
const FeedCapacity = 50

// Item is one activity feed entry. Items are never mutated after
// insertion; eviction is the only removal path besides Clear.
type Item struct {
	ID          string            `json:"id"`
	Kind        Kind              `json:"type"`
	Title       string            `json:"title"`
	Description string            `json:"description"`
	Timestamp   int64             `json:"timestamp"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// NewItem builds an item with a locally generated id and the current time.
func NewItem(kind Kind, title, description string, metadata map[string]string) Item {
	return Item{
		ID:          uuid.New().String(),
		Kind:        kind,
		Title:       title,
		Description: description,
		Timestamp:   time.Now().UnixMilli(),
		Metadata:    metadata,
	}
}

// Feed is the bounded, newest-first activity log.
type Feed struct {
	mu     sync.RWMutex
	items  []Item
	signal *Signal
}

// NewFeed creates an empty activity feed.
func NewFeed(signal *Signal) *Feed {
	return &Feed{signal: signal}
}

// Record prepends an item and truncates to capacity.
func (f *Feed) Record(item Item) {
	f.mu.Lock()
	f.items = append([]Item{item}, f.items...)
	if len(f.items) > FeedCapacity {
		f.items = f.items[:FeedCapacity]
	}
	f.mu.Unlock()
	f.signal.Notify()
}

// Items returns a newest-first copy of the feed.
func (f *Feed) Items() []Item {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make([]Item, len(f.items))
	copy(out, f.items)
	return out
}

// Len returns the number of items.
func (f *Feed) Len() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.items)
}

// Clear empties the feed.
func (f *Feed) Clear() {
	f.mu.Lock()
	f.items = nil
	f.mu.Unlock()
	f.signal.Notify()
}
