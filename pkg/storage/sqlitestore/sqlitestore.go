// Package sqlitestore is a storage.Store backed by a SQLite database
// accessed through a zombiezen connection pool.
package sqlitestore

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"zombiezen.com/go/sqlite"
	"zombiezen.com/go/sqlite/sqlitex"

	"github.com/HMasataka/linehub/pkg/domain"
	"github.com/HMasataka/linehub/pkg/storage"
)

const schema = `
CREATE TABLE IF NOT EXISTS lines (
	id                TEXT PRIMARY KEY,
	display_name      TEXT NOT NULL,
	status            TEXT NOT NULL,
	last_connected_at INTEGER,
	last_message_at   INTEGER,
	created_at        INTEGER NOT NULL,
	updated_at        INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS messages (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	line_id    TEXT NOT NULL,
	id         TEXT NOT NULL,
	direction  TEXT NOT NULL,
	body       TEXT NOT NULL,
	from_addr  TEXT NOT NULL DEFAULT '',
	to_addr    TEXT NOT NULL DEFAULT '',
	ts         INTEGER NOT NULL,
	status     TEXT NOT NULL DEFAULT '',
	metadata   TEXT
);

CREATE INDEX IF NOT EXISTS messages_line_seq ON messages (line_id, seq);
`

var pragmas = []string{
	"PRAGMA journal_mode=WAL",
	"PRAGMA synchronous=NORMAL",
	"PRAGMA busy_timeout=5000",
	"PRAGMA temp_store=MEMORY",
}

// Config configures the SQLite store
type Config struct {
	// Path is the database file. Its parent directory must exist.
	Path string

	// PoolSize defaults to 4
	PoolSize int

	Logger *slog.Logger
}

// Store is a SQLite-backed storage.Store
type Store struct {
	pool   *sqlitex.Pool
	logger *slog.Logger
	path   string
}

var _ storage.Store = (*Store)(nil)

// Open opens the database and applies the schema
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("sqlitestore: path is required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	size := cfg.PoolSize
	if size <= 0 {
		size = 4
	}

	pool, err := sqlitex.NewPool(cfg.Path, sqlitex.PoolOptions{
		PoolSize:    size,
		PrepareConn: prepareConn,
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: open %s: %w", cfg.Path, err)
	}

	s := &Store{pool: pool, logger: logger, path: cfg.Path}

	conn, err := s.take(context.Background())
	if err != nil {
		pool.Close()
		return nil, err
	}
	err = sqlitex.ExecuteScript(conn, schema, nil)
	s.pool.Put(conn)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("sqlitestore: apply schema: %w", err)
	}

	logger.Info("sqlite store opened", "path", cfg.Path, "pool_size", size)
	return s, nil
}

func prepareConn(conn *sqlite.Conn) error {
	for _, pragma := range pragmas {
		if err := sqlitex.ExecuteTransient(conn, pragma, nil); err != nil {
			return fmt.Errorf("sqlitestore: %s: %w", pragma, err)
		}
	}
	return nil
}

// Close implements storage.Store
func (s *Store) Close() error {
	if err := s.pool.Close(); err != nil {
		return fmt.Errorf("sqlitestore: close %s: %w", s.path, err)
	}
	s.logger.Info("sqlite store closed", "path", s.path)
	return nil
}

func (s *Store) take(ctx context.Context) (*sqlite.Conn, error) {
	conn, err := s.pool.Take(ctx)
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: take connection: %w", err)
	}
	return conn, nil
}

const lineColumns = "id, display_name, status, last_connected_at, last_message_at, created_at, updated_at"

// ListLines implements storage.LineStore
func (s *Store) ListLines(ctx context.Context) ([]domain.Line, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	lines := []domain.Line{}
	err = sqlitex.Execute(conn, "SELECT "+lineColumns+" FROM lines ORDER BY rowid", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			lines = append(lines, scanLine(stmt))
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: list lines: %w", err)
	}
	return lines, nil
}

// GetLine implements storage.LineStore
func (s *Store) GetLine(ctx context.Context, id string) (domain.Line, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return domain.Line{}, err
	}
	defer s.pool.Put(conn)

	var (
		line  domain.Line
		found bool
	)
	err = sqlitex.Execute(conn, "SELECT "+lineColumns+" FROM lines WHERE id = ?", &sqlitex.ExecOptions{
		Args: []any{id},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			line = scanLine(stmt)
			found = true
			return nil
		},
	})
	if err != nil {
		return domain.Line{}, fmt.Errorf("sqlitestore: get line: %w", err)
	}
	if !found {
		return domain.Line{}, storage.ErrNotFound
	}
	return line, nil
}

// CountLines implements storage.LineStore
func (s *Store) CountLines(ctx context.Context) (int, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	var n int
	err = sqlitex.Execute(conn, "SELECT COUNT(*) FROM lines", &sqlitex.ExecOptions{
		ResultFunc: func(stmt *sqlite.Stmt) error {
			n = int(stmt.ColumnInt64(0))
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: count lines: %w", err)
	}
	return n, nil
}

// InsertLine implements storage.LineStore
func (s *Store) InsertLine(ctx context.Context, line domain.Line) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`INSERT INTO lines (`+lineColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO NOTHING`,
		&sqlitex.ExecOptions{Args: lineArgs(line)})
	if err != nil {
		return fmt.Errorf("sqlitestore: insert line: %w", err)
	}
	if conn.Changes() == 0 {
		return storage.ErrExists
	}
	return nil
}

// UpdateLine implements storage.LineStore
func (s *Store) UpdateLine(ctx context.Context, line domain.Line) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	err = sqlitex.Execute(conn,
		`UPDATE lines SET display_name = ?, status = ?, last_connected_at = ?,
		 last_message_at = ?, created_at = ?, updated_at = ? WHERE id = ?`,
		&sqlitex.ExecOptions{Args: append(lineArgs(line)[1:], line.ID)})
	if err != nil {
		return fmt.Errorf("sqlitestore: update line: %w", err)
	}
	if conn.Changes() == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteLine implements storage.LineStore
func (s *Store) DeleteLine(ctx context.Context, id string) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, "DELETE FROM lines WHERE id = ?", &sqlitex.ExecOptions{Args: []any{id}}); err != nil {
		return fmt.Errorf("sqlitestore: delete line: %w", err)
	}
	return nil
}

// AppendMessage implements storage.MessageStore
func (s *Store) AppendMessage(ctx context.Context, lineID string, msg domain.Message) (err error) {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	var metadata any
	if len(msg.Metadata) > 0 {
		raw, err := json.Marshal(msg.Metadata)
		if err != nil {
			return fmt.Errorf("sqlitestore: encode metadata: %w", err)
		}
		metadata = string(raw)
	}

	endTransaction, err := sqlitex.ImmediateTransaction(conn)
	if err != nil {
		return fmt.Errorf("sqlitestore: begin append: %w", err)
	}
	defer endTransaction(&err)

	err = sqlitex.Execute(conn,
		`INSERT INTO messages (line_id, id, direction, body, from_addr, to_addr, ts, status, metadata)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		&sqlitex.ExecOptions{Args: []any{
			lineID, msg.ID, string(msg.Direction), msg.Body, msg.From, msg.To,
			msg.Timestamp.UnixNano(), msg.Status, metadata,
		}})
	if err != nil {
		return fmt.Errorf("sqlitestore: append message: %w", err)
	}
	return nil
}

const messageColumns = "id, direction, body, from_addr, to_addr, ts, status, metadata"

// TailMessages implements storage.MessageStore
func (s *Store) TailMessages(ctx context.Context, lineID string, limit int) ([]domain.Message, error) {
	msgs := []domain.Message{}
	if limit <= 0 {
		return msgs, nil
	}

	conn, err := s.take(ctx)
	if err != nil {
		return nil, err
	}
	defer s.pool.Put(conn)

	query := `SELECT ` + messageColumns + ` FROM (
		SELECT seq, ` + messageColumns + ` FROM messages
		WHERE line_id = ? ORDER BY seq DESC LIMIT ?
	) ORDER BY seq ASC`
	err = sqlitex.Execute(conn, query, &sqlitex.ExecOptions{
		Args: []any{lineID, limit},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			msg, err := scanMessage(stmt)
			if err != nil {
				return err
			}
			msgs = append(msgs, msg)
			return nil
		},
	})
	if err != nil {
		return nil, fmt.Errorf("sqlitestore: tail messages: %w", err)
	}
	return msgs, nil
}

// LastMessage implements storage.MessageStore
func (s *Store) LastMessage(ctx context.Context, lineID string) (domain.Message, bool, error) {
	msgs, err := s.TailMessages(ctx, lineID, 1)
	if err != nil || len(msgs) == 0 {
		return domain.Message{}, false, err
	}
	return msgs[0], true, nil
}

// CountMessages implements storage.MessageStore
func (s *Store) CountMessages(ctx context.Context, lineID string) (int, error) {
	conn, err := s.take(ctx)
	if err != nil {
		return 0, err
	}
	defer s.pool.Put(conn)

	var n int
	err = sqlitex.Execute(conn, "SELECT COUNT(*) FROM messages WHERE line_id = ?", &sqlitex.ExecOptions{
		Args: []any{lineID},
		ResultFunc: func(stmt *sqlite.Stmt) error {
			n = int(stmt.ColumnInt64(0))
			return nil
		},
	})
	if err != nil {
		return 0, fmt.Errorf("sqlitestore: count messages: %w", err)
	}
	return n, nil
}

// ClearMessages implements storage.MessageStore
func (s *Store) ClearMessages(ctx context.Context, lineID string) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	if err := sqlitex.Execute(conn, "DELETE FROM messages WHERE line_id = ?", &sqlitex.ExecOptions{Args: []any{lineID}}); err != nil {
		return fmt.Errorf("sqlitestore: clear messages: %w", err)
	}
	return nil
}

// ClearAllMessages implements storage.MessageStore
func (s *Store) ClearAllMessages(ctx context.Context) error {
	conn, err := s.take(ctx)
	if err != nil {
		return err
	}
	defer s.pool.Put(conn)

	if err := sqlitex.ExecuteTransient(conn, "DELETE FROM messages", nil); err != nil {
		return fmt.Errorf("sqlitestore: clear all messages: %w", err)
	}
	return nil
}

func lineArgs(line domain.Line) []any {
	return []any{
		line.ID,
		line.DisplayName,
		string(line.Status),
		nullableTime(line.LastConnectedAt),
		nullableTime(line.LastMessageAt),
		line.CreatedAt.UnixNano(),
		line.UpdatedAt.UnixNano(),
	}
}

func scanLine(stmt *sqlite.Stmt) domain.Line {
	return domain.Line{
		ID:              stmt.ColumnText(0),
		DisplayName:     stmt.ColumnText(1),
		Status:          domain.Status(stmt.ColumnText(2)),
		LastConnectedAt: columnTime(stmt, 3),
		LastMessageAt:   columnTime(stmt, 4),
		CreatedAt:       fromNanos(stmt.ColumnInt64(5)),
		UpdatedAt:       fromNanos(stmt.ColumnInt64(6)),
	}
}

func scanMessage(stmt *sqlite.Stmt) (domain.Message, error) {
	msg := domain.Message{
		ID:        stmt.ColumnText(0),
		Direction: domain.Direction(stmt.ColumnText(1)),
		Body:      stmt.ColumnText(2),
		From:      stmt.ColumnText(3),
		To:        stmt.ColumnText(4),
		Timestamp: fromNanos(stmt.ColumnInt64(5)),
		Status:    stmt.ColumnText(6),
	}
	if stmt.ColumnType(7) != sqlite.TypeNull {
		if err := json.Unmarshal([]byte(stmt.ColumnText(7)), &msg.Metadata); err != nil {
			return msg, fmt.Errorf("decode metadata of %s: %w", msg.ID, err)
		}
	}
	return msg, nil
}

func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func columnTime(stmt *sqlite.Stmt, col int) *time.Time {
	if stmt.ColumnType(col) == sqlite.TypeNull {
		return nil
	}
	t := fromNanos(stmt.ColumnInt64(col))
	return &t
}

func fromNanos(n int64) time.Time {
	return time.Unix(0, n).UTC()
}
