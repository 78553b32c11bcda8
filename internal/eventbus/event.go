package eventbus

import (
	"time"

	"github.com/rs/xid"
)

// EventType represents the type of event
type EventType string

// Event types. The payload carried in Event.Data is documented per type and
// defined by the publishing package.
const (
	// EventLineUpdated carries a full line snapshot (hub.LineUpdated)
	EventLineUpdated EventType = "line.updated"
	// EventLineStatusChanged carries a status transition (hub.StatusChanged)
	EventLineStatusChanged EventType = "line.status_changed"
	// EventLineRemoved carries the removed line id (hub.LineRemoved)
	EventLineRemoved EventType = "line.removed"
	// EventMessageAppended carries a stored message (hub.NewMessage)
	EventMessageAppended EventType = "message.appended"
	// EventPairingChallenge carries a fresh pairing challenge (hub.PairingChallenge)
	EventPairingChallenge EventType = "pairing.challenge"
	// EventDeliveryRequested asks transport adapters to send a message (hub.DeliveryRequest)
	EventDeliveryRequested EventType = "delivery.requested"
	// EventClientConnected is published by the gateway on connect
	EventClientConnected EventType = "client.connected"
	// EventClientDisconnected is published by the gateway on close
	EventClientDisconnected EventType = "client.disconnected"
	// EventError carries a non-fatal, informational failure
	EventError EventType = "error"
)

// Event represents a system event
type Event struct {
	ID        string            `json:"id"`
	Type      EventType         `json:"type"`
	Timestamp time.Time         `json:"timestamp"`
	Source    string            `json:"source"`
	Data      any               `json:"data"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// NewEvent creates a new event
func NewEvent(eventType EventType, source string, data any) *Event {
	return &Event{
		ID:        generateID(),
		Type:      eventType,
		Timestamp: time.Now(),
		Source:    source,
		Data:      data,
		Metadata:  make(map[string]string),
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

func generateID() string {
	return xid.New().String()
}
