package httpapi

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/HMasataka/linehub/internal/eventbus"
	"github.com/HMasataka/linehub/pkg/auth"
	"github.com/HMasataka/linehub/pkg/hub"
	"github.com/HMasataka/linehub/pkg/messagelog"
	"github.com/HMasataka/linehub/pkg/registry"
	"github.com/HMasataka/linehub/pkg/storage/filestore"
)

func newHub(t *testing.T) *hub.Hub {
	t.Helper()
	store, err := filestore.Open(t.TempDir())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	reg := registry.New(store, registry.Options{MaxLines: 8})
	log := messagelog.New(store, reg, messagelog.Options{})
	h := hub.New(reg, log, eventbus.NewInMemoryBus(4, nil), hub.WithAutoProvision(true))
	t.Cleanup(func() { h.Stop() })
	return h
}

func get(t *testing.T, handler http.Handler, path, token string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s: %v (%s)", path, err, rec.Body.String())
	}
	return rec, body
}

func TestListLinesAndMessages(t *testing.T) {
	h := newHub(t)
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		if _, err := h.RegisterIncoming(ctx, "caja-centro", fmt.Sprintf("m%d", i), "", "", nil); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	router := NewRouter(h, Options{AllowAnonymousRead: true})

	rec, body := get(t, router, "/api/lines", "")
	if rec.Code != http.StatusOK || body["ok"] != true {
		t.Fatalf("lines: %d %v", rec.Code, body)
	}
	lines := body["lines"].([]any)
	if len(lines) != 1 || lines[0].(map[string]any)["id"] != "caja-centro" {
		t.Fatalf("unexpected lines %v", lines)
	}

	rec, body = get(t, router, "/api/lines/caja-centro/messages?limit=2", "")
	if rec.Code != http.StatusOK || body["lineId"] != "caja-centro" {
		t.Fatalf("messages: %d %v", rec.Code, body)
	}
	msgs := body["messages"].([]any)
	if len(msgs) != 2 || msgs[1].(map[string]any)["body"] != "m4" {
		t.Fatalf("unexpected messages %v", msgs)
	}
}

func TestMessagesErrors(t *testing.T) {
	h := newHub(t)
	router := NewRouter(h, Options{AllowAnonymousRead: true})

	rec, body := get(t, router, "/api/lines/no-existe/messages", "")
	if rec.Code != http.StatusNotFound || body["code"] != "line_not_found" || body["ok"] != false {
		t.Fatalf("unknown line: %d %v", rec.Code, body)
	}

	rec, body = get(t, router, "/api/lines/---/messages", "")
	if rec.Code != http.StatusBadRequest || body["code"] != "missing_line" {
		t.Fatalf("missing line: %d %v", rec.Code, body)
	}
}

func TestLimitClamp(t *testing.T) {
	a := &api{options: Options{DefaultLimit: DefaultHistoryLimit, MaxLimit: MaxHistoryLimit}}
	tests := []struct {
		query string
		want  int
	}{
		{"", DefaultHistoryLimit},
		{"?limit=abc", DefaultHistoryLimit},
		{"?limit=0", 1},
		{"?limit=-4", 1},
		{"?limit=40", 40},
		{"?limit=100000", MaxHistoryLimit},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/api/lines/x/messages"+tt.query, nil)
		if got := a.limit(req); got != tt.want {
			t.Errorf("limit(%q) = %d, want %d", tt.query, got, tt.want)
		}
	}
}

func TestRequiresCredential(t *testing.T) {
	h := newHub(t)
	authn := auth.NewStatic([]auth.StaticToken{{Token: "secret", SubjectID: "op", SubjectType: "admin"}})
	router := NewRouter(h, Options{Authenticator: authn})

	for _, token := range []string{"", "wrong"} {
		rec, body := get(t, router, "/api/lines", token)
		if rec.Code != http.StatusUnauthorized || body["error"] != "unauthorized" {
			t.Fatalf("token %q: %d %v", token, rec.Code, body)
		}
	}

	rec, _ := get(t, router, "/api/lines", "secret")
	if rec.Code != http.StatusOK {
		t.Fatalf("valid token: %d", rec.Code)
	}

	// health stays public
	rec, body := get(t, router, "/healthz", "")
	if rec.Code != http.StatusOK || body["ok"] != true {
		t.Fatalf("health: %d %v", rec.Code, body)
	}
}

func TestMetricsEndpoint(t *testing.T) {
	router := NewRouter(newHub(t), Options{AllowAnonymousRead: true})
	get(t, router, "/api/lines", "")

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("metrics: %d", rec.Code)
	}
}
