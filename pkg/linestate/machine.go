// Package linestate holds the connection lifecycle of a line.
//
//	disconnected --startSession--> waiting_qr --paired--> connected
//	waiting_qr --failed--> error --retry--> waiting_qr
//	connected --disconnected--> disconnected
//
// Operators may force connected or disconnected from any state.
package linestate

import (
	"fmt"
	"strings"

	"github.com/HMasataka/linehub/pkg/domain"
)

// Event is something that moves a line between statuses
type Event string

// Lifecycle events
const (
	EventStartSession    Event = "start_session"
	EventPaired          Event = "paired"
	EventPairingFailed   Event = "pairing_failed"
	EventDisconnected    Event = "disconnected"
	EventRetry           Event = "retry"
	EventForceConnect    Event = "force_connect"
	EventForceDisconnect Event = "force_disconnect"
)

type edge struct {
	from  domain.Status
	event Event
}

var transitions = map[edge]domain.Status{
	{domain.StatusDisconnected, EventStartSession}: domain.StatusWaitingQR,
	{domain.StatusWaitingQR, EventStartSession}:    domain.StatusWaitingQR,
	{domain.StatusWaitingQR, EventPaired}:          domain.StatusConnected,
	{domain.StatusWaitingQR, EventPairingFailed}:   domain.StatusError,
	{domain.StatusConnected, EventDisconnected}:    domain.StatusDisconnected,
	{domain.StatusError, EventRetry}:               domain.StatusWaitingQR,
	{domain.StatusError, EventStartSession}:        domain.StatusWaitingQR,
}

// Next returns the status reached by applying ev to a line in status from
func Next(from domain.Status, ev Event) (domain.Status, error) {
	switch ev {
	case EventForceConnect:
		return domain.StatusConnected, nil
	case EventForceDisconnect:
		return domain.StatusDisconnected, nil
	}
	to, ok := transitions[edge{from, ev}]
	if !ok {
		return from, fmt.Errorf("%w: %s on %s", domain.ErrInvalidTransition, ev, from)
	}
	return to, nil
}

// EventFor picks the event that moves a line from one status to another
// when a caller names the target status directly. Operator requests for
// connected or disconnected are overrides; the other targets follow the
// pairing edges.
func EventFor(from, to domain.Status, operator bool) (Event, error) {
	if operator {
		switch to {
		case domain.StatusConnected:
			return EventForceConnect, nil
		case domain.StatusDisconnected:
			return EventForceDisconnect, nil
		}
	}

	switch {
	case to == domain.StatusWaitingQR && from == domain.StatusError:
		return EventRetry, nil
	case to == domain.StatusWaitingQR:
		return EventStartSession, nil
	case to == domain.StatusConnected:
		return EventPaired, nil
	case to == domain.StatusError:
		return EventPairingFailed, nil
	case to == domain.StatusDisconnected:
		return EventDisconnected, nil
	}
	return "", fmt.Errorf("%w: %q", domain.ErrInvalidStatus, to)
}

var legacy = map[string]domain.Status{
	"connecting": domain.StatusWaitingQR,
	"pairing":    domain.StatusWaitingQR,
	"qr":         domain.StatusWaitingQR,
	"online":     domain.StatusConnected,
	"open":       domain.StatusConnected,
	"offline":    domain.StatusDisconnected,
	"closed":     domain.StatusDisconnected,
	"failed":     domain.StatusError,
}

// Parse maps a raw status string onto the canonical statuses. Legacy
// three-state values are migrated; anything else is rejected.
func Parse(raw string) (domain.Status, error) {
	s := strings.ToLower(strings.TrimSpace(raw))
	if status := domain.Status(s); status.Valid() {
		return status, nil
	}
	if status, ok := legacy[s]; ok {
		return status, nil
	}
	return "", fmt.Errorf("%w: %q", domain.ErrInvalidStatus, raw)
}

// LeavesPairing reports whether a move exits waiting_qr
func LeavesPairing(from, to domain.Status) bool {
	return from == domain.StatusWaitingQR && to != domain.StatusWaitingQR
}
