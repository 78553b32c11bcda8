// Package messagelog is the ordered, append-only history of each line.
package messagelog

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/HMasataka/linehub/pkg/domain"
	perrors "github.com/HMasataka/linehub/pkg/errors"
	"github.com/HMasataka/linehub/pkg/storage"
)

// History limits
const (
	DefaultLimit = 100
	MaxLimit     = 250
)

// LineLookup resolves a line identifier against the registry
type LineLookup interface {
	Get(ctx context.Context, sessionKey string) (domain.Line, error)
}

// Options configures a Log
type Options struct {
	DefaultLimit int
	MaxLimit     int
	Now          func() time.Time
	NewID        func() string
}

// Log appends to and slices per-line message sequences
type Log struct {
	store        storage.MessageStore
	lines        LineLookup
	defaultLimit int
	maxLimit     int
	now          func() time.Time
	newID        func() string
}

// New creates a log over store. lines is consulted before every append and
// read so that history only exists for registered lines.
func New(store storage.MessageStore, lines LineLookup, opts Options) *Log {
	if opts.MaxLimit <= 0 {
		opts.MaxLimit = MaxLimit
	}
	if opts.DefaultLimit <= 0 {
		opts.DefaultLimit = DefaultLimit
	}
	if opts.DefaultLimit > opts.MaxLimit {
		opts.DefaultLimit = opts.MaxLimit
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.NewID == nil {
		opts.NewID = uuid.NewString
	}
	return &Log{
		store:        store,
		lines:        lines,
		defaultLimit: opts.DefaultLimit,
		maxLimit:     opts.MaxLimit,
		now:          opts.Now,
		newID:        opts.NewID,
	}
}

// Clamp bounds a caller-supplied limit. Zero or negative selects the default.
func (l *Log) Clamp(limit int) int {
	if limit <= 0 {
		return l.defaultLimit
	}
	if limit > l.maxLimit {
		return l.maxLimit
	}
	return limit
}

// Normalize fills defaults and validates msg without storing it
func (l *Log) Normalize(msg domain.Message) (domain.Message, error) {
	msg.Body = strings.TrimSpace(msg.Body)
	if msg.Body == "" {
		return domain.Message{}, fmt.Errorf("%w: empty body", domain.ErrInvalidRequest)
	}
	if !msg.Direction.Valid() {
		return domain.Message{}, fmt.Errorf("%w: direction %q", domain.ErrInvalidRequest, msg.Direction)
	}
	msg.From = strings.TrimSpace(msg.From)
	msg.To = strings.TrimSpace(msg.To)
	if msg.ID == "" {
		msg.ID = l.newID()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = l.now()
	}
	msg.Timestamp = msg.Timestamp.UTC().Round(0)
	if len(msg.Metadata) == 0 {
		msg.Metadata = nil
	}
	return msg, nil
}

// Append stores msg at the end of the line's history and returns the stored
// form once it is durable.
func (l *Log) Append(ctx context.Context, lineID string, msg domain.Message) (domain.Message, error) {
	line, err := l.lines.Get(ctx, lineID)
	if err != nil {
		return domain.Message{}, err
	}

	stored, err := l.Normalize(msg)
	if err != nil {
		return domain.Message{}, err
	}

	if err := l.store.AppendMessage(ctx, line.ID, stored); err != nil {
		return domain.Message{}, perrors.Wrap(err, perrors.ErrorTypeStorage, perrors.CodeRegisterFailed, "append message failed")
	}
	return stored, nil
}

// Slice returns the most recent messages in append order
func (l *Log) Slice(ctx context.Context, lineID string, limit int) ([]domain.Message, error) {
	line, err := l.lines.Get(ctx, lineID)
	if err != nil {
		return nil, err
	}

	msgs, err := l.store.TailMessages(ctx, line.ID, l.Clamp(limit))
	if err != nil {
		return nil, perrors.Wrap(err, perrors.ErrorTypeStorage, perrors.CodeServerError, "read history failed")
	}
	return msgs, nil
}

// Last returns the most recent message of a line, if any
func (l *Log) Last(ctx context.Context, lineID string) (*domain.Message, error) {
	msg, ok, err := l.store.LastMessage(ctx, domain.NormalizeLineID(lineID))
	if err != nil {
		return nil, perrors.Wrap(err, perrors.ErrorTypeStorage, perrors.CodeServerError, "read last message failed")
	}
	if !ok {
		return nil, nil
	}
	return &msg, nil
}

// Clear truncates one line's history. The registry entry is left alone.
func (l *Log) Clear(ctx context.Context, lineID string) error {
	id := domain.NormalizeLineID(lineID)
	if id == "" {
		return domain.ErrMissingLine
	}
	if err := l.store.ClearMessages(ctx, id); err != nil {
		return perrors.Wrap(err, perrors.ErrorTypeStorage, perrors.CodeUpdateFailed, "clear history failed")
	}
	return nil
}

// ClearAll truncates every line's history
func (l *Log) ClearAll(ctx context.Context) error {
	if err := l.store.ClearAllMessages(ctx); err != nil {
		return perrors.Wrap(err, perrors.ErrorTypeStorage, perrors.CodeUpdateFailed, "clear history failed")
	}
	return nil
}
