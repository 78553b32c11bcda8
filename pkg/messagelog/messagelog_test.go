package messagelog

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/HMasataka/linehub/pkg/domain"
	"github.com/HMasataka/linehub/pkg/registry"
	"github.com/HMasataka/linehub/pkg/storage/filestore"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newLog(t *testing.T) (*Log, *registry.Registry) {
	t.Helper()
	store, err := filestore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	reg := registry.New(store, registry.Options{})
	if _, _, err := reg.Create(context.Background(), "caja-centro", "Caja Centro"); err != nil {
		t.Fatalf("create line: %v", err)
	}
	return New(store, reg, Options{Now: func() time.Time { return fixedNow }}), reg
}

func TestAppendAssignsDefaults(t *testing.T) {
	log, _ := newLog(t)

	msg, err := log.Append(context.Background(), "Caja Centro", domain.Message{
		Direction: domain.DirectionIncoming,
		Body:      "  Hola  ",
		From:      "+5491112345678",
	})
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	if msg.ID == "" {
		t.Fatal("expected a generated id")
	}
	if !msg.Timestamp.Equal(fixedNow) {
		t.Fatalf("timestamp = %v", msg.Timestamp)
	}
	if msg.Body != "Hola" {
		t.Fatalf("body = %q", msg.Body)
	}

	last, err := log.Slice(context.Background(), "caja-centro", 1)
	if err != nil {
		t.Fatalf("slice: %v", err)
	}
	if len(last) != 1 || last[0].ID != msg.ID || last[0].Body != msg.Body || !last[0].Timestamp.Equal(msg.Timestamp) {
		t.Fatalf("read back %+v, want %+v", last, msg)
	}
}

func TestAppendValidation(t *testing.T) {
	log, _ := newLog(t)
	ctx := context.Background()

	if _, err := log.Append(ctx, "caja-centro", domain.Message{Direction: domain.DirectionOutgoing, Body: "   "}); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("empty body: %v", err)
	}
	if _, err := log.Append(ctx, "caja-centro", domain.Message{Direction: "sideways", Body: "x"}); !errors.Is(err, domain.ErrInvalidRequest) {
		t.Fatalf("bad direction: %v", err)
	}
	if _, err := log.Append(ctx, "no-existe", domain.Message{Direction: domain.DirectionOutgoing, Body: "x"}); !errors.Is(err, domain.ErrLineNotFound) {
		t.Fatalf("unknown line: %v", err)
	}
	if _, err := log.Slice(ctx, "no-existe", 0); !errors.Is(err, domain.ErrLineNotFound) {
		t.Fatalf("slice unknown line: %v", err)
	}
}

func TestOrderingPreserved(t *testing.T) {
	log, _ := newLog(t)
	ctx := context.Background()

	stamps := []time.Time{fixedNow.Add(2 * time.Hour), fixedNow, fixedNow.Add(time.Hour)}
	var ids []string
	for i, ts := range stamps {
		msg, err := log.Append(ctx, "caja-centro", domain.Message{
			Direction: domain.DirectionIncoming,
			Body:      fmt.Sprintf("m%d", i+1),
			Timestamp: ts,
		})
		if err != nil {
			t.Fatalf("append: %v", err)
		}
		ids = append(ids, msg.ID)
	}

	got, err := log.Slice(ctx, "caja-centro", 3)
	if err != nil {
		t.Fatalf("slice: %v", err)
	}
	for i := range ids {
		if got[i].ID != ids[i] {
			t.Fatalf("slice[%d] = %s, want %s", i, got[i].ID, ids[i])
		}
	}
}

func TestHistoryLimitClamping(t *testing.T) {
	log, _ := newLog(t)
	ctx := context.Background()

	for i := 0; i < 300; i++ {
		if _, err := log.Append(ctx, "caja-centro", domain.Message{Direction: domain.DirectionIncoming, Body: fmt.Sprintf("m%d", i)}); err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
	}

	got, err := log.Slice(ctx, "caja-centro", 100000)
	if err != nil {
		t.Fatalf("slice: %v", err)
	}
	if len(got) != MaxLimit {
		t.Fatalf("got %d messages, want %d", len(got), MaxLimit)
	}
	if got[0].Body != "m50" || got[len(got)-1].Body != "m299" {
		t.Fatalf("expected the tail, got %s..%s", got[0].Body, got[len(got)-1].Body)
	}

	def, err := log.Slice(ctx, "caja-centro", 0)
	if err != nil || len(def) != DefaultLimit {
		t.Fatalf("default slice = %d, %v", len(def), err)
	}
}

func TestClamp(t *testing.T) {
	log := New(nil, nil, Options{DefaultLimit: 120})
	tests := map[int]int{-5: 120, 0: 120, 1: 1, 250: 250, 251: 250, 100000: 250}
	for in, want := range tests {
		if got := log.Clamp(in); got != want {
			t.Fatalf("Clamp(%d) = %d, want %d", in, got, want)
		}
	}
}

func TestClearKeepsLine(t *testing.T) {
	log, reg := newLog(t)
	ctx := context.Background()

	if _, err := log.Append(ctx, "caja-centro", domain.Message{Direction: domain.DirectionIncoming, Body: "x"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := log.Clear(ctx, "caja-centro"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if last, err := log.Last(ctx, "caja-centro"); err != nil || last != nil {
		t.Fatalf("last after clear = %v, %v", last, err)
	}
	if _, err := reg.Get(ctx, "caja-centro"); err != nil {
		t.Fatalf("line removed by clear: %v", err)
	}
}
