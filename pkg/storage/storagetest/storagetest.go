// Package storagetest is a conformance suite run against every storage
// backend.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/HMasataka/linehub/pkg/domain"
	"github.com/HMasataka/linehub/pkg/storage"
)

// Factory opens an empty store. The suite closes it.
type Factory func(t *testing.T) storage.Store

// Run executes the suite
func Run(t *testing.T, open Factory) {
	t.Helper()

	t.Run("InsertGetUpdate", func(t *testing.T) { testInsertGetUpdate(t, open(t)) })
	t.Run("InsertDuplicate", func(t *testing.T) { testInsertDuplicate(t, open(t)) })
	t.Run("MissingLine", func(t *testing.T) { testMissingLine(t, open(t)) })
	t.Run("ListPreservesInsertion", func(t *testing.T) { testListOrder(t, open(t)) })
	t.Run("DeleteLine", func(t *testing.T) { testDeleteLine(t, open(t)) })
	t.Run("AppendTail", func(t *testing.T) { testAppendTail(t, open(t)) })
	t.Run("TailIgnoresTimestamps", func(t *testing.T) { testTailIgnoresTimestamps(t, open(t)) })
	t.Run("EmptyLog", func(t *testing.T) { testEmptyLog(t, open(t)) })
	t.Run("Clear", func(t *testing.T) { testClear(t, open(t)) })
	t.Run("ConcurrentAppend", func(t *testing.T) { testConcurrentAppend(t, open(t)) })
}

var base = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func closeStore(t *testing.T, s storage.Store) {
	t.Cleanup(func() {
		if err := s.Close(); err != nil {
			t.Errorf("close store: %v", err)
		}
	})
}

func testInsertGetUpdate(t *testing.T, s storage.Store) {
	closeStore(t, s)
	ctx := context.Background()

	line := domain.NewLine("caja-centro", "Caja Centro", base)
	if err := s.InsertLine(ctx, line); err != nil {
		t.Fatalf("insert: %v", err)
	}

	got, err := s.GetLine(ctx, "caja-centro")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.DisplayName != "Caja Centro" || got.Status != domain.StatusDisconnected {
		t.Fatalf("unexpected line %+v", got)
	}
	if !got.CreatedAt.Equal(base) {
		t.Fatalf("created at = %v", got.CreatedAt)
	}

	connected := base.Add(time.Minute)
	got.Status = domain.StatusConnected
	got.LastConnectedAt = &connected
	got.UpdatedAt = connected
	if err := s.UpdateLine(ctx, got); err != nil {
		t.Fatalf("update: %v", err)
	}

	again, err := s.GetLine(ctx, "caja-centro")
	if err != nil {
		t.Fatalf("get after update: %v", err)
	}
	if again.Status != domain.StatusConnected {
		t.Fatalf("status = %q", again.Status)
	}
	if again.LastConnectedAt == nil || !again.LastConnectedAt.Equal(connected) {
		t.Fatalf("last connected = %v", again.LastConnectedAt)
	}
	if again.LastMessageAt != nil {
		t.Fatalf("last message should stay nil, got %v", again.LastMessageAt)
	}
}

func testInsertDuplicate(t *testing.T, s storage.Store) {
	closeStore(t, s)
	ctx := context.Background()

	line := domain.NewLine("soporte", "", base)
	if err := s.InsertLine(ctx, line); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.InsertLine(ctx, line); !errors.Is(err, storage.ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}
	n, err := s.CountLines(ctx)
	if err != nil || n != 1 {
		t.Fatalf("count = %d, %v", n, err)
	}
}

func testMissingLine(t *testing.T, s storage.Store) {
	closeStore(t, s)
	ctx := context.Background()

	if _, err := s.GetLine(ctx, "nope"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("get: expected ErrNotFound, got %v", err)
	}
	if err := s.UpdateLine(ctx, domain.NewLine("nope", "", base)); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("update: expected ErrNotFound, got %v", err)
	}
	if err := s.DeleteLine(ctx, "nope"); err != nil {
		t.Fatalf("delete missing: %v", err)
	}
}

func testListOrder(t *testing.T, s storage.Store) {
	closeStore(t, s)
	ctx := context.Background()

	ids := []string{"cajero1", "cajero2", "soporte"}
	for i, id := range ids {
		if err := s.InsertLine(ctx, domain.NewLine(id, "", base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("insert %s: %v", id, err)
		}
	}

	lines, err := s.ListLines(ctx)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(lines) != len(ids) {
		t.Fatalf("got %d lines", len(lines))
	}
	for i, line := range lines {
		if line.ID != ids[i] {
			t.Fatalf("lines[%d] = %s, want %s", i, line.ID, ids[i])
		}
	}
}

func testDeleteLine(t *testing.T, s storage.Store) {
	closeStore(t, s)
	ctx := context.Background()

	if err := s.InsertLine(ctx, domain.NewLine("temp", "", base)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.DeleteLine(ctx, "temp"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetLine(ctx, "temp"); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	if err := s.InsertLine(ctx, domain.NewLine("temp", "", base)); err != nil {
		t.Fatalf("reinsert after delete: %v", err)
	}
}

func message(i int, ts time.Time) domain.Message {
	return domain.Message{
		ID:        fmt.Sprintf("m-%03d", i),
		Direction: domain.DirectionIncoming,
		Body:      fmt.Sprintf("body %d", i),
		From:      "+5491112345678",
		Timestamp: ts,
		Metadata:  map[string]any{"seq": fmt.Sprint(i)},
	}
}

func testAppendTail(t *testing.T, s storage.Store) {
	closeStore(t, s)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		if err := s.AppendMessage(ctx, "caja", message(i, base.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	tail, err := s.TailMessages(ctx, "caja", 3)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	want := []string{"m-007", "m-008", "m-009"}
	if len(tail) != len(want) {
		t.Fatalf("tail len = %d", len(tail))
	}
	for i, m := range tail {
		if m.ID != want[i] {
			t.Fatalf("tail[%d] = %s, want %s", i, m.ID, want[i])
		}
	}
	if tail[2].Body != "body 9" || tail[2].From != "+5491112345678" || tail[2].Metadata["seq"] != "9" {
		t.Fatalf("message fields not preserved: %+v", tail[2])
	}
	if !tail[2].Timestamp.Equal(base.Add(9 * time.Second)) {
		t.Fatalf("timestamp = %v", tail[2].Timestamp)
	}

	all, err := s.TailMessages(ctx, "caja", 100)
	if err != nil || len(all) != 10 {
		t.Fatalf("tail all = %d, %v", len(all), err)
	}

	last, ok, err := s.LastMessage(ctx, "caja")
	if err != nil || !ok || last.ID != "m-009" {
		t.Fatalf("last = %+v, %v, %v", last, ok, err)
	}

	n, err := s.CountMessages(ctx, "caja")
	if err != nil || n != 10 {
		t.Fatalf("count = %d, %v", n, err)
	}
}

func testTailIgnoresTimestamps(t *testing.T, s storage.Store) {
	closeStore(t, s)
	ctx := context.Background()

	stamps := []time.Time{base.Add(time.Hour), base, base.Add(-time.Hour)}
	for i, ts := range stamps {
		if err := s.AppendMessage(ctx, "caja", message(i, ts)); err != nil {
			t.Fatalf("append: %v", err)
		}
	}

	tail, err := s.TailMessages(ctx, "caja", 3)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	for i, m := range tail {
		if m.ID != fmt.Sprintf("m-%03d", i) {
			t.Fatalf("order changed: %v", tail)
		}
	}
}

func testEmptyLog(t *testing.T, s storage.Store) {
	closeStore(t, s)
	ctx := context.Background()

	tail, err := s.TailMessages(ctx, "never-written", 10)
	if err != nil {
		t.Fatalf("tail: %v", err)
	}
	if len(tail) != 0 {
		t.Fatalf("expected empty tail, got %d", len(tail))
	}
	if _, ok, err := s.LastMessage(ctx, "never-written"); err != nil || ok {
		t.Fatalf("last on empty log: %v, %v", ok, err)
	}
}

func testClear(t *testing.T, s storage.Store) {
	closeStore(t, s)
	ctx := context.Background()

	for _, id := range []string{"a", "b"} {
		if err := s.InsertLine(ctx, domain.NewLine(id, "", base)); err != nil {
			t.Fatalf("insert: %v", err)
		}
		for i := 0; i < 3; i++ {
			if err := s.AppendMessage(ctx, id, message(i, base)); err != nil {
				t.Fatalf("append: %v", err)
			}
		}
	}

	if err := s.ClearMessages(ctx, "a"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if n, _ := s.CountMessages(ctx, "a"); n != 0 {
		t.Fatalf("a still has %d messages", n)
	}
	if n, _ := s.CountMessages(ctx, "b"); n != 3 {
		t.Fatalf("b has %d messages", n)
	}
	if _, err := s.GetLine(ctx, "a"); err != nil {
		t.Fatalf("clear must keep the line record: %v", err)
	}

	if err := s.ClearAllMessages(ctx); err != nil {
		t.Fatalf("clear all: %v", err)
	}
	if n, _ := s.CountMessages(ctx, "b"); n != 0 {
		t.Fatalf("b still has %d messages", n)
	}
	if n, _ := s.CountLines(ctx); n != 2 {
		t.Fatalf("clear all removed lines: %d left", n)
	}
}

func testConcurrentAppend(t *testing.T, s storage.Store) {
	closeStore(t, s)
	ctx := context.Background()

	const writers, each = 4, 10
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < each; i++ {
				if err := s.AppendMessage(ctx, "busy", message(w*each+i, base)); err != nil {
					t.Errorf("append: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	n, err := s.CountMessages(ctx, "busy")
	if err != nil || n != writers*each {
		t.Fatalf("count = %d, %v", n, err)
	}
}
