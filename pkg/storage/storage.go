// Package storage defines the persistence contracts behind the line
// registry and the per-line message log.
package storage

import (
	"context"
	"errors"

	"github.com/HMasataka/linehub/pkg/domain"
)

var (
	// ErrNotFound is returned when a line record does not exist
	ErrNotFound = errors.New("storage: not found")

	// ErrExists is returned when inserting a line that already exists
	ErrExists = errors.New("storage: already exists")
)

// LineStore persists line records keyed by normalized identifier
type LineStore interface {
	// ListLines returns every stored line in insertion order
	ListLines(ctx context.Context) ([]domain.Line, error)

	// GetLine returns the line or ErrNotFound
	GetLine(ctx context.Context, id string) (domain.Line, error)

	// InsertLine stores a new line or fails with ErrExists
	InsertLine(ctx context.Context, line domain.Line) error

	// UpdateLine replaces an existing line or fails with ErrNotFound
	UpdateLine(ctx context.Context, line domain.Line) error

	// DeleteLine removes the line record. Missing lines are not an error.
	DeleteLine(ctx context.Context, id string) error

	// CountLines returns the number of stored lines
	CountLines(ctx context.Context) (int, error)
}

// MessageStore persists one ordered, append-only sequence per line
type MessageStore interface {
	// AppendMessage adds msg to the end of the line's sequence and returns
	// once the write is durable
	AppendMessage(ctx context.Context, lineID string, msg domain.Message) error

	// TailMessages returns up to limit of the most recent messages in
	// append order
	TailMessages(ctx context.Context, lineID string, limit int) ([]domain.Message, error)

	// LastMessage returns the most recent message, if any
	LastMessage(ctx context.Context, lineID string) (domain.Message, bool, error)

	// CountMessages returns the length of the line's sequence
	CountMessages(ctx context.Context, lineID string) (int, error)

	// ClearMessages truncates one line's sequence
	ClearMessages(ctx context.Context, lineID string) error

	// ClearAllMessages truncates every sequence
	ClearAllMessages(ctx context.Context) error
}

// Store is a complete backend
type Store interface {
	LineStore
	MessageStore

	// Close releases the backend's resources
	Close() error
}
