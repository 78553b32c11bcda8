package domain

import "time"

// Direction tells whether a message was received or sent by the line
type Direction string

// Message directions
const (
	DirectionIncoming Direction = "incoming"
	DirectionOutgoing Direction = "outgoing"
)

// Valid reports whether d is a known direction
func (d Direction) Valid() bool {
	return d == DirectionIncoming || d == DirectionOutgoing
}

// Message is one unit of conversation content belonging to a line
type Message struct {
	ID        string         `json:"id"`
	Direction Direction      `json:"direction"`
	Body      string         `json:"body"`
	From      string         `json:"from,omitempty"`
	To        string         `json:"to,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Status    string         `json:"status,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}
