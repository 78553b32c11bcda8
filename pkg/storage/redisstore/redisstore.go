// Package redisstore is a storage.Store on Redis. Lines live in a hash with
// a sorted set recording insertion order; each line's log is a list.
package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/HMasataka/linehub/pkg/domain"
	"github.com/HMasataka/linehub/pkg/storage"
)

// DefaultPrefix namespaces every key the store writes
const DefaultPrefix = "linehub"

// Store is a Redis-backed storage.Store
type Store struct {
	client *redis.Client
	prefix string
}

var _ storage.Store = (*Store)(nil)

// Open connects to the server at redisURL and verifies it answers
func Open(ctx context.Context, redisURL, prefix string) (*Store, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("redisstore: parse url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redisstore: ping: %w", err)
	}
	return New(client, prefix), nil
}

// New wraps an existing client
func New(client *redis.Client, prefix string) *Store {
	if prefix == "" {
		prefix = DefaultPrefix
	}
	return &Store{client: client, prefix: prefix}
}

// Close implements storage.Store
func (s *Store) Close() error {
	return s.client.Close()
}

func (s *Store) linesKey() string {
	return s.prefix + ":lines"
}

func (s *Store) orderKey() string {
	return s.prefix + ":lines:order"
}

func (s *Store) seqKey() string {
	return s.prefix + ":lines:seq"
}

func (s *Store) messagesKey(lineID string) string {
	return fmt.Sprintf("%s:messages:%s", s.prefix, lineID)
}

// ListLines implements storage.LineStore
func (s *Store) ListLines(ctx context.Context) ([]domain.Line, error) {
	ids, err := s.client.ZRange(ctx, s.orderKey(), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: list order: %w", err)
	}
	lines := make([]domain.Line, 0, len(ids))
	if len(ids) == 0 {
		return lines, nil
	}

	values, err := s.client.HMGet(ctx, s.linesKey(), ids...).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: list lines: %w", err)
	}
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var line domain.Line
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			return nil, fmt.Errorf("redisstore: decode line: %w", err)
		}
		lines = append(lines, line)
	}
	return lines, nil
}

// GetLine implements storage.LineStore
func (s *Store) GetLine(ctx context.Context, id string) (domain.Line, error) {
	raw, err := s.client.HGet(ctx, s.linesKey(), id).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Line{}, storage.ErrNotFound
	}
	if err != nil {
		return domain.Line{}, fmt.Errorf("redisstore: get line: %w", err)
	}

	var line domain.Line
	if err := json.Unmarshal([]byte(raw), &line); err != nil {
		return domain.Line{}, fmt.Errorf("redisstore: decode line: %w", err)
	}
	return line, nil
}

// CountLines implements storage.LineStore
func (s *Store) CountLines(ctx context.Context) (int, error) {
	n, err := s.client.HLen(ctx, s.linesKey()).Result()
	if err != nil {
		return 0, fmt.Errorf("redisstore: count lines: %w", err)
	}
	return int(n), nil
}

// insertLine claims the hash field and its order slot in one step.
// KEYS: lines, order, seq. ARGV: id, encoded line.
var insertLine = redis.NewScript(`
if redis.call('HSETNX', KEYS[1], ARGV[1], ARGV[2]) == 0 then
  return 0
end
local seq = redis.call('INCR', KEYS[3])
redis.call('ZADD', KEYS[2], seq, ARGV[1])
return 1
`)

// updateLine rewrites the hash field only while it exists.
// KEYS: lines. ARGV: id, encoded line.
var updateLine = redis.NewScript(`
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 0 then
  return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// InsertLine implements storage.LineStore
func (s *Store) InsertLine(ctx context.Context, line domain.Line) error {
	raw, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("redisstore: encode line: %w", err)
	}

	keys := []string{s.linesKey(), s.orderKey(), s.seqKey()}
	created, err := insertLine.Run(ctx, s.client, keys, line.ID, raw).Int()
	if err != nil {
		return fmt.Errorf("redisstore: insert line: %w", err)
	}
	if created == 0 {
		return storage.ErrExists
	}
	return nil
}

// UpdateLine implements storage.LineStore
func (s *Store) UpdateLine(ctx context.Context, line domain.Line) error {
	raw, err := json.Marshal(line)
	if err != nil {
		return fmt.Errorf("redisstore: encode line: %w", err)
	}

	updated, err := updateLine.Run(ctx, s.client, []string{s.linesKey()}, line.ID, raw).Int()
	if err != nil {
		return fmt.Errorf("redisstore: update line: %w", err)
	}
	if updated == 0 {
		return storage.ErrNotFound
	}
	return nil
}

// DeleteLine implements storage.LineStore
func (s *Store) DeleteLine(ctx context.Context, id string) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HDel(ctx, s.linesKey(), id)
		pipe.ZRem(ctx, s.orderKey(), id)
		return nil
	})
	if err != nil {
		return fmt.Errorf("redisstore: delete line: %w", err)
	}
	return nil
}

// AppendMessage implements storage.MessageStore
func (s *Store) AppendMessage(ctx context.Context, lineID string, msg domain.Message) error {
	raw, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("redisstore: encode message: %w", err)
	}
	if err := s.client.RPush(ctx, s.messagesKey(lineID), raw).Err(); err != nil {
		return fmt.Errorf("redisstore: append message: %w", err)
	}
	return nil
}

// TailMessages implements storage.MessageStore
func (s *Store) TailMessages(ctx context.Context, lineID string, limit int) ([]domain.Message, error) {
	msgs := []domain.Message{}
	if limit <= 0 {
		return msgs, nil
	}

	values, err := s.client.LRange(ctx, s.messagesKey(lineID), -int64(limit), -1).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: tail messages: %w", err)
	}
	for _, raw := range values {
		var msg domain.Message
		if err := json.Unmarshal([]byte(raw), &msg); err != nil {
			return nil, fmt.Errorf("redisstore: decode message: %w", err)
		}
		msgs = append(msgs, msg)
	}
	return msgs, nil
}

// LastMessage implements storage.MessageStore
func (s *Store) LastMessage(ctx context.Context, lineID string) (domain.Message, bool, error) {
	raw, err := s.client.LIndex(ctx, s.messagesKey(lineID), -1).Result()
	if errors.Is(err, redis.Nil) {
		return domain.Message{}, false, nil
	}
	if err != nil {
		return domain.Message{}, false, fmt.Errorf("redisstore: last message: %w", err)
	}

	var msg domain.Message
	if err := json.Unmarshal([]byte(raw), &msg); err != nil {
		return domain.Message{}, false, fmt.Errorf("redisstore: decode message: %w", err)
	}
	return msg, true, nil
}

// CountMessages implements storage.MessageStore
func (s *Store) CountMessages(ctx context.Context, lineID string) (int, error) {
	n, err := s.client.LLen(ctx, s.messagesKey(lineID)).Result()
	if err != nil {
		return 0, fmt.Errorf("redisstore: count messages: %w", err)
	}
	return int(n), nil
}

// ClearMessages implements storage.MessageStore
func (s *Store) ClearMessages(ctx context.Context, lineID string) error {
	if err := s.client.Del(ctx, s.messagesKey(lineID)).Err(); err != nil {
		return fmt.Errorf("redisstore: clear messages: %w", err)
	}
	return nil
}

// ClearAllMessages implements storage.MessageStore
func (s *Store) ClearAllMessages(ctx context.Context) error {
	iter := s.client.Scan(ctx, 0, s.messagesKey("*"), 100).Iterator()
	for iter.Next(ctx) {
		if err := s.client.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("redisstore: clear messages: %w", err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redisstore: scan logs: %w", err)
	}
	return nil
}
