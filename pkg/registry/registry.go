// Package registry is the durable record of every configured line.
package registry

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/HMasataka/linehub/internal/keylock"
	"github.com/HMasataka/linehub/pkg/domain"
	perrors "github.com/HMasataka/linehub/pkg/errors"
	"github.com/HMasataka/linehub/pkg/storage"
)

// DefaultMaxLines is the cap applied when none is configured
const DefaultMaxLines = 8

// Options configures a Registry
type Options struct {
	MaxLines int
	Now      func() time.Time
}

// Registry owns create, read and update of line records on top of a
// storage.LineStore.
type Registry struct {
	store    storage.LineStore
	maxLines int
	now      func() time.Time

	// createMu serializes creation so the capacity check and the insert
	// happen as one step
	createMu sync.Mutex
	locks    *keylock.Locker
}

// New creates a registry over store
func New(store storage.LineStore, opts Options) *Registry {
	if opts.MaxLines <= 0 {
		opts.MaxLines = DefaultMaxLines
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Registry{
		store:    store,
		maxLines: opts.MaxLines,
		now:      opts.Now,
		locks:    keylock.New(),
	}
}

// MaxLines returns the configured capacity
func (r *Registry) MaxLines() int {
	return r.maxLines
}

// ResolveID derives the line identifier from an explicit key, falling back
// to the display name.
func ResolveID(sessionKey, displayName string) (string, error) {
	if id := domain.NormalizeLineID(sessionKey); id != "" {
		return id, nil
	}
	if id := domain.NormalizeLineID(displayName); id != "" {
		return id, nil
	}
	return "", domain.ErrMissingLine
}

// List returns every line in storage order
func (r *Registry) List(ctx context.Context) ([]domain.Line, error) {
	lines, err := r.store.ListLines(ctx)
	if err != nil {
		return nil, storageError(err, perrors.CodeServerError, "list lines")
	}
	return lines, nil
}

// Count returns the number of registered lines
func (r *Registry) Count(ctx context.Context) (int, error) {
	n, err := r.store.CountLines(ctx)
	if err != nil {
		return 0, storageError(err, perrors.CodeServerError, "count lines")
	}
	return n, nil
}

// Get returns the line with the given identifier. The identifier is
// normalized first.
func (r *Registry) Get(ctx context.Context, sessionKey string) (domain.Line, error) {
	id := domain.NormalizeLineID(sessionKey)
	if id == "" {
		return domain.Line{}, domain.ErrMissingLine
	}
	return r.get(ctx, id)
}

func (r *Registry) get(ctx context.Context, id string) (domain.Line, error) {
	line, err := r.store.GetLine(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Line{}, fmt.Errorf("%w: %s", domain.ErrLineNotFound, id)
	}
	if err != nil {
		return domain.Line{}, storageError(err, perrors.CodeServerError, "get line")
	}
	return line, nil
}

// Create registers a line. When a line with the resulting identifier already
// exists its display name is updated instead and created is false; that path
// does not count toward the cap.
func (r *Registry) Create(ctx context.Context, sessionKey, displayName string) (line domain.Line, created bool, err error) {
	id, err := ResolveID(sessionKey, displayName)
	if err != nil {
		return domain.Line{}, false, err
	}

	r.createMu.Lock()
	defer r.createMu.Unlock()

	existing, err := r.store.GetLine(ctx, id)
	switch {
	case err == nil:
		line, err := r.rename(ctx, existing, displayName)
		return line, false, err
	case !errors.Is(err, storage.ErrNotFound):
		return domain.Line{}, false, storageError(err, perrors.CodeUpdateFailed, "look up line")
	}

	line, err = r.insert(ctx, id, displayName)
	if err != nil {
		return domain.Line{}, false, err
	}
	return line, true, nil
}

// Ensure returns the line for sessionKey, creating it when missing.
// Concurrent callers for the same key observe a single creation.
func (r *Registry) Ensure(ctx context.Context, sessionKey string) (line domain.Line, created bool, err error) {
	id := domain.NormalizeLineID(sessionKey)
	if id == "" {
		return domain.Line{}, false, domain.ErrMissingLine
	}

	if line, err := r.store.GetLine(ctx, id); err == nil {
		return line, false, nil
	}

	r.createMu.Lock()
	defer r.createMu.Unlock()

	existing, err := r.store.GetLine(ctx, id)
	switch {
	case err == nil:
		return existing, false, nil
	case !errors.Is(err, storage.ErrNotFound):
		return domain.Line{}, false, storageError(err, perrors.CodeUpdateFailed, "look up line")
	}

	line, err = r.insert(ctx, id, "")
	if err != nil {
		return domain.Line{}, false, err
	}
	return line, true, nil
}

// insert checks capacity and stores a new line. Callers hold createMu.
func (r *Registry) insert(ctx context.Context, id, displayName string) (domain.Line, error) {
	n, err := r.store.CountLines(ctx)
	if err != nil {
		return domain.Line{}, storageError(err, perrors.CodeUpdateFailed, "count lines")
	}
	if n >= r.maxLines {
		return domain.Line{}, fmt.Errorf("%w: %d of %d", domain.ErrMaxLinesReached, n, r.maxLines)
	}

	line := domain.NewLine(id, displayName, r.now().UTC())
	err = r.store.InsertLine(ctx, line)
	if errors.Is(err, storage.ErrExists) {
		// inserted by another process sharing the store
		return r.get(ctx, id)
	}
	if err != nil {
		return domain.Line{}, storageError(err, perrors.CodeUpdateFailed, "insert line")
	}
	return line, nil
}

func (r *Registry) rename(ctx context.Context, line domain.Line, displayName string) (domain.Line, error) {
	name := strings.TrimSpace(displayName)
	if name == "" || name == line.DisplayName {
		return line, nil
	}
	return r.mutate(ctx, line.ID, func(l *domain.Line) error {
		l.DisplayName = name
		return nil
	})
}

// Rename sets the display name of an existing line
func (r *Registry) Rename(ctx context.Context, sessionKey, displayName string) (domain.Line, error) {
	name := strings.TrimSpace(displayName)
	return r.mutateKey(ctx, sessionKey, func(l *domain.Line) error {
		if name == "" {
			name = l.ID
		}
		l.DisplayName = name
		return nil
	})
}

// UpdateStatus records a new status. Only entering connected stamps
// lastConnectedAt, with the supplied time or now; other statuses keep the
// previous value and ignore a supplied one.
func (r *Registry) UpdateStatus(ctx context.Context, sessionKey string, status domain.Status, lastConnectedAt *time.Time) (domain.Line, error) {
	if !status.Valid() {
		return domain.Line{}, fmt.Errorf("%w: %q", domain.ErrInvalidStatus, status)
	}
	return r.mutateKey(ctx, sessionKey, func(l *domain.Line) error {
		l.Status = status
		if status != domain.StatusConnected {
			return nil
		}
		stamp := r.now()
		if lastConnectedAt != nil {
			stamp = *lastConnectedAt
		}
		l.LastConnectedAt = domain.TimePtr(stamp.UTC())
		return nil
	})
}

// TouchMessageActivity bumps lastMessageAt to now
func (r *Registry) TouchMessageActivity(ctx context.Context, sessionKey string) (domain.Line, error) {
	return r.mutateKey(ctx, sessionKey, func(l *domain.Line) error {
		l.LastMessageAt = domain.TimePtr(r.now().UTC())
		return nil
	})
}

// Remove deletes the line record
func (r *Registry) Remove(ctx context.Context, sessionKey string) error {
	id := domain.NormalizeLineID(sessionKey)
	if id == "" {
		return domain.ErrMissingLine
	}

	r.createMu.Lock()
	defer r.createMu.Unlock()

	if _, err := r.get(ctx, id); err != nil {
		return err
	}
	if err := r.store.DeleteLine(ctx, id); err != nil {
		return storageError(err, perrors.CodeUpdateFailed, "delete line")
	}
	return nil
}

func (r *Registry) mutateKey(ctx context.Context, sessionKey string, fn func(*domain.Line) error) (domain.Line, error) {
	id := domain.NormalizeLineID(sessionKey)
	if id == "" {
		return domain.Line{}, domain.ErrMissingLine
	}
	return r.mutate(ctx, id, fn)
}

// mutate applies fn to the stored line under the line's lock
func (r *Registry) mutate(ctx context.Context, id string, fn func(*domain.Line) error) (domain.Line, error) {
	unlock := r.locks.Lock(id)
	defer unlock()

	line, err := r.get(ctx, id)
	if err != nil {
		return domain.Line{}, err
	}
	if err := fn(&line); err != nil {
		return domain.Line{}, err
	}
	line.UpdatedAt = r.now().UTC()

	err = r.store.UpdateLine(ctx, line)
	if errors.Is(err, storage.ErrNotFound) {
		return domain.Line{}, fmt.Errorf("%w: %s", domain.ErrLineNotFound, id)
	}
	if err != nil {
		return domain.Line{}, storageError(err, perrors.CodeUpdateFailed, "update line")
	}
	return line, nil
}

func storageError(err error, code, op string) error {
	return perrors.Wrap(err, perrors.ErrorTypeStorage, code, op+" failed")
}
