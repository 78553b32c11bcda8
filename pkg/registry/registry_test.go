package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/HMasataka/linehub/pkg/domain"
	perrors "github.com/HMasataka/linehub/pkg/errors"
	"github.com/HMasataka/linehub/pkg/storage/filestore"
)

var fixedNow = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func newRegistry(t *testing.T, maxLines int) *Registry {
	t.Helper()
	store, err := filestore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return New(store, Options{MaxLines: maxLines, Now: func() time.Time { return fixedNow }})
}

func TestCreateDerivesIDFromDisplayName(t *testing.T) {
	r := newRegistry(t, 8)

	line, created, err := r.Create(context.Background(), "", "Caja Centro")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if !created {
		t.Fatal("expected a new line")
	}
	if line.ID != "caja-centro" || line.DisplayName != "Caja Centro" || line.Status != domain.StatusDisconnected {
		t.Fatalf("unexpected line %+v", line)
	}
}

func TestCreateMissingLine(t *testing.T) {
	r := newRegistry(t, 8)

	_, _, err := r.Create(context.Background(), "  ", "!!!")
	if !errors.Is(err, domain.ErrMissingLine) {
		t.Fatalf("expected missing_line, got %v", err)
	}
}

func TestCreateUpsertsDisplayName(t *testing.T) {
	r := newRegistry(t, 1)
	ctx := context.Background()

	if _, _, err := r.Create(ctx, "cajero1", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	line, created, err := r.Create(ctx, "cajero1", "Cajero Uno")
	if err != nil {
		t.Fatalf("upsert at capacity: %v", err)
	}
	if created || line.DisplayName != "Cajero Uno" {
		t.Fatalf("unexpected upsert result %+v created=%v", line, created)
	}
}

func TestCapEnforcement(t *testing.T) {
	r := newRegistry(t, 3)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if _, _, err := r.Create(ctx, fmt.Sprintf("linea %d", i), ""); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}

	_, _, err := r.Create(ctx, "linea extra", "")
	if perrors.CodeOf(err) != perrors.CodeMaxLinesReached {
		t.Fatalf("expected max_lines_reached, got %v", err)
	}
	if n, _ := r.Count(ctx); n != 3 {
		t.Fatalf("count after rejected create = %d", n)
	}

	if _, _, err := r.Ensure(ctx, "otra"); perrors.CodeOf(err) != perrors.CodeMaxLinesReached {
		t.Fatalf("ensure must respect the cap, got %v", err)
	}
}

func TestEnsureConcurrentSingleCreation(t *testing.T) {
	r := newRegistry(t, 8)
	ctx := context.Background()

	const callers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		created int
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, c, err := r.Ensure(ctx, "Soporte")
			if err != nil {
				t.Errorf("ensure: %v", err)
				return
			}
			if c {
				mu.Lock()
				created++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if created != 1 {
		t.Fatalf("expected exactly one creation, got %d", created)
	}
	if n, _ := r.Count(ctx); n != 1 {
		t.Fatalf("count = %d", n)
	}
}

func TestUpdateStatusStampsConnection(t *testing.T) {
	r := newRegistry(t, 8)
	ctx := context.Background()

	if _, _, err := r.Create(ctx, "cajero1", ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	line, err := r.UpdateStatus(ctx, "cajero1", domain.StatusConnected, nil)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if line.LastConnectedAt == nil || !line.LastConnectedAt.Equal(fixedNow) {
		t.Fatalf("last connected = %v", line.LastConnectedAt)
	}

	line, err = r.UpdateStatus(ctx, "cajero1", domain.StatusDisconnected, nil)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if line.LastConnectedAt == nil {
		t.Fatal("disconnecting must keep the previous connection time")
	}

	if _, err := r.UpdateStatus(ctx, "cajero1", domain.Status("bogus"), nil); !errors.Is(err, domain.ErrInvalidStatus) {
		t.Fatalf("expected invalid status, got %v", err)
	}
}

func TestUpdateStatusIgnoresStampOffConnected(t *testing.T) {
	r := newRegistry(t, 8)
	ctx := context.Background()

	if _, _, err := r.Create(ctx, "cajero1", ""); err != nil {
		t.Fatalf("create: %v", err)
	}

	stale := fixedNow.Add(-48 * time.Hour)
	line, err := r.UpdateStatus(ctx, "cajero1", domain.StatusDisconnected, &stale)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if line.LastConnectedAt != nil {
		t.Fatalf("a line that never connected got last connected = %v", line.LastConnectedAt)
	}

	reported := fixedNow.Add(-time.Minute)
	line, err = r.UpdateStatus(ctx, "cajero1", domain.StatusConnected, &reported)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if line.LastConnectedAt == nil || !line.LastConnectedAt.Equal(reported) {
		t.Fatalf("last connected = %v, want the reported %v", line.LastConnectedAt, reported)
	}

	line, err = r.UpdateStatus(ctx, "cajero1", domain.StatusWaitingQR, &stale)
	if err != nil {
		t.Fatalf("update: %v", err)
	}
	if line.LastConnectedAt == nil || !line.LastConnectedAt.Equal(reported) {
		t.Fatalf("last connected = %v, want %v kept", line.LastConnectedAt, reported)
	}
}

func TestUnknownLine(t *testing.T) {
	r := newRegistry(t, 8)
	ctx := context.Background()

	if _, err := r.UpdateStatus(ctx, "nope", domain.StatusConnected, nil); !errors.Is(err, domain.ErrLineNotFound) {
		t.Fatalf("update: expected line_not_found, got %v", err)
	}
	if _, err := r.TouchMessageActivity(ctx, "nope"); !errors.Is(err, domain.ErrLineNotFound) {
		t.Fatalf("touch: expected line_not_found, got %v", err)
	}
	if err := r.Remove(ctx, "nope"); !errors.Is(err, domain.ErrLineNotFound) {
		t.Fatalf("remove: expected line_not_found, got %v", err)
	}
}

func TestTouchAndRemove(t *testing.T) {
	r := newRegistry(t, 1)
	ctx := context.Background()

	if _, _, err := r.Create(ctx, "cajero1", ""); err != nil {
		t.Fatalf("create: %v", err)
	}
	line, err := r.TouchMessageActivity(ctx, "CAJERO1")
	if err != nil {
		t.Fatalf("touch: %v", err)
	}
	if line.LastMessageAt == nil || !line.LastMessageAt.Equal(fixedNow) {
		t.Fatalf("last message = %v", line.LastMessageAt)
	}

	if err := r.Remove(ctx, "cajero1"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, _, err := r.Create(ctx, "cajero2", ""); err != nil {
		t.Fatalf("removal should free capacity: %v", err)
	}
}
