package eventbus

import (
	"time"

	"github.com/rs/xid"
)

// EventType represents the type of a lifecycle event
type EventType string

// Event types emitted by the hub
const (
	EventHubStarted         EventType = "hub.started"
	EventHubStopped         EventType = "hub.stopped"
	EventClientConnected    EventType = "client.connected"
	EventClientRegistered   EventType = "client.registered"
	EventClientDisconnected EventType = "client.disconnected"
	EventClientEvicted      EventType = "client.evicted"
	EventBroadcastSent      EventType = "broadcast.sent"
	EventBroadcastTargeted  EventType = "broadcast.targeted"
)

// Event represents a hub lifecycle or delivery event
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Source    string            `json:"source"`
	Data      any               `json:"data,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewEvent creates a new event
func NewEvent(eventType EventType, source string, data any) *Event {
	return &Event{
		ID:        xid.New().String(),
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    source,
		Data:      data,
	}
}

// WithMetadata adds metadata to the event
func (e *Event) WithMetadata(key, value string) *Event {
	if e.Metadata == nil {
		e.Metadata = make(map[string]string)
	}
	e.Metadata[key] = value
	return e
}
