package redisstore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/rs/xid"

	"github.com/HMasataka/linehub/pkg/domain"
	"github.com/HMasataka/linehub/pkg/storage"
	"github.com/HMasataka/linehub/pkg/storage/storagetest"
)

// Set LINEHUB_TEST_REDIS_URL (for example redis://localhost:6379/15) to run
// the suite against a live server.
func TestConformance(t *testing.T) {
	url := redisURL(t)
	storagetest.Run(t, func(t *testing.T) storage.Store {
		return openTest(t, url)
	})
}

func redisURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("LINEHUB_TEST_REDIS_URL")
	if url == "" {
		t.Skip("LINEHUB_TEST_REDIS_URL not set")
	}
	return url
}

func openTest(t *testing.T, url string) *Store {
	t.Helper()
	prefix := "linehub-test-" + xid.New().String()
	s, err := Open(context.Background(), url, prefix)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	t.Cleanup(func() {
		s.Close()
		cleanup(t, url, prefix)
	})
	return s
}

func TestConcurrentInsertKeepsOrderConsistent(t *testing.T) {
	s := openTest(t, redisURL(t))
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	const workers = 16
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		won     int
		existed int
	)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.InsertLine(ctx, domain.NewLine("cajero1", fmt.Sprintf("Caja %d", i), base))
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				won++
			case errors.Is(err, storage.ErrExists):
				existed++
			default:
				t.Errorf("insert %d: %v", i, err)
			}
		}(i)
	}
	wg.Wait()

	if won != 1 || existed != workers-1 {
		t.Fatalf("won=%d existed=%d, want 1 and %d", won, existed, workers-1)
	}
	members, err := s.client.ZRange(ctx, s.orderKey(), 0, -1).Result()
	if err != nil {
		t.Fatalf("order: %v", err)
	}
	if len(members) != 1 || members[0] != "cajero1" {
		t.Fatalf("order = %v", members)
	}
	if seq, _ := s.client.Get(ctx, s.seqKey()).Int(); seq != 1 {
		t.Fatalf("seq = %d, losing inserts must not consume order slots", seq)
	}
}

func TestUpdateAfterDeleteDoesNotResurrect(t *testing.T) {
	s := openTest(t, redisURL(t))
	ctx := context.Background()
	line := domain.NewLine("cajero1", "", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))

	if err := s.InsertLine(ctx, line); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := s.DeleteLine(ctx, line.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if err := s.UpdateLine(ctx, line); !errors.Is(err, storage.ErrNotFound) {
		t.Fatalf("update = %v, want ErrNotFound", err)
	}
	if n, _ := s.CountLines(ctx); n != 0 {
		t.Fatalf("count = %d", n)
	}
}

func cleanup(t *testing.T, url, prefix string) {
	s, err := Open(context.Background(), url, prefix)
	if err != nil {
		t.Logf("cleanup: %v", err)
		return
	}
	defer s.Close()

	ctx := context.Background()
	iter := s.client.Scan(ctx, 0, prefix+":*", 100).Iterator()
	for iter.Next(ctx) {
		s.client.Del(ctx, iter.Val())
	}
}

func TestKeysAreNamespaced(t *testing.T) {
	s := &Store{prefix: "p"}
	if got := s.messagesKey("caja"); got != "p:messages:caja" {
		t.Fatalf("messagesKey = %q", got)
	}
	if got := s.linesKey(); got != "p:lines" {
		t.Fatalf("linesKey = %q", got)
	}
}
