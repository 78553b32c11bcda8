// Package filestore keeps the registry in one JSON document and each line's
// log in its own append-only JSON Lines file.
//
//	<dir>/lines.json
//	<dir>/messages/<line id>.jsonl
package filestore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/HMasataka/linehub/pkg/domain"
	"github.com/HMasataka/linehub/pkg/storage"
)

const (
	registryFile = "lines.json"
	messagesDir  = "messages"
	logExt       = ".jsonl"
	maxRecord    = 4 << 20
	tailChunk    = 64 << 10
)

type document struct {
	Lines []domain.Line `json:"lines"`
}

// Store is a file-backed storage.Store
type Store struct {
	dir string

	mu    sync.RWMutex
	lines []domain.Line
	index map[string]int

	logLocks sync.Map // map[string]*sync.Mutex
}

var _ storage.Store = (*Store)(nil)

// Open loads or initializes the store rooted at dir
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(filepath.Join(dir, messagesDir), 0o755); err != nil {
		return nil, fmt.Errorf("filestore: create %s: %w", dir, err)
	}

	s := &Store{
		dir:   dir,
		index: make(map[string]int),
	}

	data, err := os.ReadFile(s.registryPath())
	switch {
	case errors.Is(err, os.ErrNotExist):
		return s, nil
	case err != nil:
		return nil, fmt.Errorf("filestore: read registry: %w", err)
	}

	var doc document
	if len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("filestore: parse registry: %w", err)
		}
	}
	for _, line := range doc.Lines {
		if _, dup := s.index[line.ID]; dup || line.ID == "" {
			continue
		}
		s.index[line.ID] = len(s.lines)
		s.lines = append(s.lines, line)
	}
	return s, nil
}

// Close implements storage.Store
func (s *Store) Close() error {
	return nil
}

func (s *Store) registryPath() string {
	return filepath.Join(s.dir, registryFile)
}

func (s *Store) logPath(lineID string) (string, error) {
	if lineID == "" || lineID == "." || lineID == ".." || strings.ContainsAny(lineID, `/\`) {
		return "", fmt.Errorf("filestore: invalid line id %q", lineID)
	}
	return filepath.Join(s.dir, messagesDir, lineID+logExt), nil
}

func (s *Store) logLock(lineID string) *sync.Mutex {
	mu, _ := s.logLocks.LoadOrStore(lineID, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// ListLines implements storage.LineStore
func (s *Store) ListLines(ctx context.Context) ([]domain.Line, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.Line, len(s.lines))
	copy(out, s.lines)
	return out, nil
}

// GetLine implements storage.LineStore
func (s *Store) GetLine(ctx context.Context, id string) (domain.Line, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, ok := s.index[id]
	if !ok {
		return domain.Line{}, storage.ErrNotFound
	}
	return s.lines[i], nil
}

// CountLines implements storage.LineStore
func (s *Store) CountLines(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.lines), nil
}

// InsertLine implements storage.LineStore
func (s *Store) InsertLine(ctx context.Context, line domain.Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.index[line.ID]; ok {
		return storage.ErrExists
	}

	next := append(append([]domain.Line(nil), s.lines...), line)
	if err := s.persist(next); err != nil {
		return err
	}
	s.lines = next
	s.index[line.ID] = len(next) - 1
	return nil
}

// UpdateLine implements storage.LineStore
func (s *Store) UpdateLine(ctx context.Context, line domain.Line) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[line.ID]
	if !ok {
		return storage.ErrNotFound
	}

	next := append([]domain.Line(nil), s.lines...)
	next[i] = line
	if err := s.persist(next); err != nil {
		return err
	}
	s.lines = next
	return nil
}

// DeleteLine implements storage.LineStore
func (s *Store) DeleteLine(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, ok := s.index[id]
	if !ok {
		return nil
	}

	next := make([]domain.Line, 0, len(s.lines)-1)
	next = append(next, s.lines[:i]...)
	next = append(next, s.lines[i+1:]...)
	if err := s.persist(next); err != nil {
		return err
	}

	s.lines = next
	s.index = make(map[string]int, len(next))
	for j, line := range next {
		s.index[line.ID] = j
	}
	return nil
}

// persist atomically replaces the registry document. Callers hold s.mu.
func (s *Store) persist(lines []domain.Line) error {
	data, err := json.MarshalIndent(document{Lines: lines}, "", "  ")
	if err != nil {
		return fmt.Errorf("filestore: encode registry: %w", err)
	}
	return writeFileAtomic(s.registryPath(), data)
}

func writeFileAtomic(path string, data []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("filestore: create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("filestore: write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("filestore: sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("filestore: close temp file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("filestore: replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// AppendMessage implements storage.MessageStore
func (s *Store) AppendMessage(ctx context.Context, lineID string, msg domain.Message) error {
	path, err := s.logPath(lineID)
	if err != nil {
		return err
	}

	record, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("filestore: encode message: %w", err)
	}
	record = append(record, '\n')

	mu := s.logLock(lineID)
	mu.Lock()
	defer mu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("filestore: open log: %w", err)
	}
	defer f.Close()

	// A torn record from an interrupted write must not swallow this one.
	if torn, err := endsMidRecord(f); err != nil {
		return err
	} else if torn {
		record = append([]byte{'\n'}, record...)
	}

	if _, err := f.Write(record); err != nil {
		return fmt.Errorf("filestore: append message: %w", err)
	}
	if err := f.Sync(); err != nil {
		return fmt.Errorf("filestore: sync log: %w", err)
	}
	return nil
}

func endsMidRecord(f *os.File) (bool, error) {
	info, err := f.Stat()
	if err != nil {
		return false, fmt.Errorf("filestore: stat log: %w", err)
	}
	if info.Size() == 0 {
		return false, nil
	}
	last := make([]byte, 1)
	if _, err := f.ReadAt(last, info.Size()-1); err != nil {
		return false, fmt.Errorf("filestore: read log: %w", err)
	}
	return last[0] != '\n', nil
}

func (s *Store) openLog(lineID string) (*os.File, func(), error) {
	path, err := s.logPath(lineID)
	if err != nil {
		return nil, nil, err
	}

	mu := s.logLock(lineID)
	mu.Lock()

	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		mu.Unlock()
		return nil, nil, nil
	}
	if err != nil {
		mu.Unlock()
		return nil, nil, fmt.Errorf("filestore: open log: %w", err)
	}
	return f, func() {
		f.Close()
		mu.Unlock()
	}, nil
}

func decodeRecord(raw []byte) (domain.Message, bool) {
	if len(bytes.TrimSpace(raw)) == 0 || len(raw) > maxRecord {
		return domain.Message{}, false
	}
	var msg domain.Message
	if json.Unmarshal(raw, &msg) != nil {
		return domain.Message{}, false
	}
	return msg, true
}

// eachRecord streams the log from the start. Undecodable records are skipped.
func (s *Store) eachRecord(lineID string, fn func(domain.Message)) error {
	f, release, err := s.openLog(lineID)
	if err != nil || f == nil {
		return err
	}
	defer release()

	r := bufio.NewReaderSize(f, tailChunk)
	for {
		raw, err := r.ReadBytes('\n')
		if msg, ok := decodeRecord(raw); ok {
			fn(msg)
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("filestore: read log: %w", err)
		}
	}
}

// readTail decodes at most limit records from the end of the log, reading
// backwards in chunks. The result is in log order. Undecodable records,
// including a torn final record, are skipped.
func (s *Store) readTail(lineID string, limit int) ([]domain.Message, error) {
	if limit <= 0 {
		return nil, nil
	}
	f, release, err := s.openLog(lineID)
	if err != nil || f == nil {
		return nil, err
	}
	defer release()

	info, err := f.Stat()
	if err != nil {
		return nil, fmt.Errorf("filestore: stat log: %w", err)
	}

	var (
		rev      []domain.Message
		carry    []byte
		oversize bool
		pos      = info.Size()
		chunk    = make([]byte, tailChunk)
	)
	take := func(seg []byte) bool {
		if msg, ok := decodeRecord(seg); ok {
			rev = append(rev, msg)
		}
		return len(rev) >= limit
	}

	for pos > 0 {
		n := int64(tailChunk)
		if pos < n {
			n = pos
		}
		pos -= n
		if _, err := f.ReadAt(chunk[:n], pos); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("filestore: read log: %w", err)
		}

		buf := append(append([]byte{}, chunk[:n]...), carry...)
		end := len(buf)
		for {
			i := bytes.LastIndexByte(buf[:end], '\n')
			if i < 0 {
				break
			}
			seg := buf[i+1 : end]
			end = i
			if oversize {
				oversize = false
				continue
			}
			if take(seg) {
				return reverse(rev), nil
			}
		}

		carry = buf[:end]
		if len(carry) > maxRecord {
			carry, oversize = nil, true
		}
	}
	if !oversize && len(carry) > 0 {
		take(carry)
	}
	return reverse(rev), nil
}

func reverse(msgs []domain.Message) []domain.Message {
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs
}

// TailMessages implements storage.MessageStore
func (s *Store) TailMessages(ctx context.Context, lineID string, limit int) ([]domain.Message, error) {
	out, err := s.readTail(lineID, limit)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []domain.Message{}
	}
	return out, nil
}

// LastMessage implements storage.MessageStore
func (s *Store) LastMessage(ctx context.Context, lineID string) (domain.Message, bool, error) {
	out, err := s.readTail(lineID, 1)
	if err != nil || len(out) == 0 {
		return domain.Message{}, false, err
	}
	return out[0], true, nil
}

// CountMessages implements storage.MessageStore
func (s *Store) CountMessages(ctx context.Context, lineID string) (int, error) {
	n := 0
	err := s.eachRecord(lineID, func(domain.Message) { n++ })
	return n, err
}

// ClearMessages implements storage.MessageStore
func (s *Store) ClearMessages(ctx context.Context, lineID string) error {
	path, err := s.logPath(lineID)
	if err != nil {
		return err
	}

	mu := s.logLock(lineID)
	mu.Lock()
	defer mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("filestore: clear log: %w", err)
	}
	return nil
}

// ClearAllMessages implements storage.MessageStore
func (s *Store) ClearAllMessages(ctx context.Context) error {
	entries, err := os.ReadDir(filepath.Join(s.dir, messagesDir))
	if err != nil {
		return fmt.Errorf("filestore: list logs: %w", err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, logExt) {
			continue
		}
		if err := s.ClearMessages(ctx, strings.TrimSuffix(name, logExt)); err != nil {
			return err
		}
	}
	return nil
}
