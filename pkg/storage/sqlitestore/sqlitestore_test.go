package sqlitestore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/HMasataka/linehub/pkg/domain"
	"github.com/HMasataka/linehub/pkg/storage"
	"github.com/HMasataka/linehub/pkg/storage/storagetest"
)

func TestConformance(t *testing.T) {
	storagetest.Run(t, func(t *testing.T) storage.Store {
		s, err := Open(Config{Path: filepath.Join(t.TempDir(), "linehub.db")})
		if err != nil {
			t.Fatalf("open: %v", err)
		}
		return s
	})
}

func TestReopenKeepsState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "linehub.db")
	ctx := context.Background()
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	s, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.InsertLine(ctx, domain.NewLine("cajero2", "Cajero 2", now)); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.AppendMessage(ctx, "cajero2", domain.Message{ID: "a", Direction: domain.DirectionOutgoing, Body: "listo", Timestamp: now}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	reopened, err := Open(Config{Path: path})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()

	line, err := reopened.GetLine(ctx, "cajero2")
	if err != nil || line.DisplayName != "Cajero 2" {
		t.Fatalf("line after reopen = %+v, %v", line, err)
	}
	msgs, err := reopened.TailMessages(ctx, "cajero2", 5)
	if err != nil || len(msgs) != 1 || msgs[0].Metadata != nil {
		t.Fatalf("messages after reopen = %+v, %v", msgs, err)
	}
}
