package domain

import (
	"strings"
	"time"
)

// Status is the connection state of a line
type Status string

// Line statuses
const (
	StatusDisconnected Status = "disconnected"
	StatusWaitingQR    Status = "waiting_qr"
	StatusConnected    Status = "connected"
	StatusError        Status = "error"
)

// Statuses lists every canonical status
var Statuses = []Status{StatusDisconnected, StatusWaitingQR, StatusConnected, StatusError}

// Valid reports whether s is one of the canonical statuses
func (s Status) Valid() bool {
	switch s {
	case StatusDisconnected, StatusWaitingQR, StatusConnected, StatusError:
		return true
	}
	return false
}

// Line is one externally addressable messaging identity
type Line struct {
	ID              string     `json:"id"`
	DisplayName     string     `json:"displayName"`
	Status          Status     `json:"status"`
	LastConnectedAt *time.Time `json:"lastConnectedAt"`
	LastMessageAt   *time.Time `json:"lastMessageAt"`
	CreatedAt       time.Time  `json:"createdAt"`
	UpdatedAt       time.Time  `json:"updatedAt"`
}

// NewLine returns a disconnected line with the given identifier. A blank
// display name falls back to the identifier.
func NewLine(id, displayName string, now time.Time) Line {
	name := strings.TrimSpace(displayName)
	if name == "" {
		name = id
	}
	return Line{
		ID:          id,
		DisplayName: name,
		Status:      StatusDisconnected,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// LineSummary is a line enriched with its most recent message
type LineSummary struct {
	Line
	LastMessage *Message `json:"lastMessage"`
}

// TimePtr returns a pointer to a copy of t
func TimePtr(t time.Time) *time.Time {
	return &t
}
