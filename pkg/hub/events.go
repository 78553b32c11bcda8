package hub

import (
	"time"

	"github.com/HMasataka/linehub/pkg/domain"
)

// Payloads carried in eventbus.Event.Data for each hub event type.

// LineUpdated is published with eventbus.EventLineUpdated whenever a line's
// name, status or last-message summary changes
type LineUpdated struct {
	LineID string             `json:"lineId"`
	Line   domain.LineSummary `json:"line"`
}

// StatusChanged is published with eventbus.EventLineStatusChanged
type StatusChanged struct {
	LineID          string        `json:"lineId"`
	Status          domain.Status `json:"status"`
	Previous        domain.Status `json:"previous"`
	LastConnectedAt *time.Time    `json:"lastConnectedAt"`
	Reason          string        `json:"reason,omitempty"`
}

// NewMessage is published with eventbus.EventMessageAppended
type NewMessage struct {
	LineID  string         `json:"lineId"`
	Message domain.Message `json:"message"`
}

// PairingChallenge is published with eventbus.EventPairingChallenge
type PairingChallenge struct {
	LineID    string     `json:"lineId"`
	Challenge string     `json:"challenge"`
	IssuedAt  time.Time  `json:"issuedAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// DeliveryRequest is published with eventbus.EventDeliveryRequested for
// transport adapters. The message is already stored.
type DeliveryRequest struct {
	LineID  string         `json:"lineId"`
	Message domain.Message `json:"message"`
}

// LineRemoved is published with eventbus.EventLineRemoved
type LineRemoved struct {
	LineID          string `json:"lineId"`
	DroppedRegistry bool   `json:"droppedRegistry"`
}

// Notice is published with eventbus.EventError for informational failures
type Notice struct {
	LineID  string `json:"lineId,omitempty"`
	Message string `json:"message"`
}
