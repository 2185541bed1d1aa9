package server

import (
	"sync"
	"time"

	"github.com/brightlabs/schoolsync/internal/collab"
)

const (
	// MessageTypeLockUpdate announces a lock state change on a document.
	MessageTypeLockUpdate = "lock-update"
	// MessageTypePresenceUpdate announces a viewer-set change on a document.
	MessageTypePresenceUpdate = "presence-update"
)

// BroadcastMessage is the fan-out envelope delivered to every session
// subscribed to a document key.
type BroadcastMessage struct {
	Type         string
	Key          collab.DocumentKey
	Lock         *collab.Lock
	Dispossessed *collab.Lock
	Reason       string
	Viewers      []collab.Viewer
	Timestamp    time.Time
}

// CollabDispatcher routes broadcast messages to the sessions watching each
// document. Delivery is best-effort: a subscriber whose buffer is full
// misses the message and reconciles on its next explicit request.
type CollabDispatcher struct {
	mu          sync.RWMutex
	subscribers map[collab.DocumentKey]map[int64]chan<- BroadcastMessage
	nextID      int64
}

// NewCollabDispatcher returns an empty dispatcher.
func NewCollabDispatcher() *CollabDispatcher {
	return &CollabDispatcher{
		subscribers: make(map[collab.DocumentKey]map[int64]chan<- BroadcastMessage),
	}
}

// Subscribe registers the stream for messages about the key and returns the
// unsubscribe function. The caller owns the channel; the dispatcher never
// closes it.
func (d *CollabDispatcher) Subscribe(key collab.DocumentKey, stream chan<- BroadcastMessage) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	subscriberID := d.nextID
	if _, ok := d.subscribers[key]; !ok {
		d.subscribers[key] = make(map[int64]chan<- BroadcastMessage)
	}
	d.subscribers[key][subscriberID] = stream
	return func() {
		d.unregisterSubscriber(key, subscriberID)
	}
}

// Publish fans the message out to every subscriber of its key without blocking.
func (d *CollabDispatcher) Publish(message BroadcastMessage) {
	if message.Key.Zero() || message.Type == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[message.Key]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	streams := make([]chan<- BroadcastMessage, 0, len(subscribers))
	for _, stream := range subscribers {
		streams = append(streams, stream)
	}
	d.mu.RUnlock()
	for _, stream := range streams {
		select {
		case stream <- message:
		default:
		}
	}
}

// PublishLock implements collab.Broadcaster.
func (d *CollabDispatcher) PublishLock(event collab.LockEvent) {
	d.Publish(BroadcastMessage{
		Type:         MessageTypeLockUpdate,
		Key:          event.Key,
		Lock:         event.Lock,
		Dispossessed: event.Dispossessed,
		Reason:       event.Reason,
		Timestamp:    time.Now().UTC(),
	})
}

// PublishPresence implements collab.Broadcaster.
func (d *CollabDispatcher) PublishPresence(event collab.PresenceEvent) {
	d.Publish(BroadcastMessage{
		Type:      MessageTypePresenceUpdate,
		Key:       event.Key,
		Viewers:   event.Viewers,
		Timestamp: time.Now().UTC(),
	})
}

func (d *CollabDispatcher) unregisterSubscriber(key collab.DocumentKey, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[key]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, key)
		}
	}
	d.mu.Unlock()
}
