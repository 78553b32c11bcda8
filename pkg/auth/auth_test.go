package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/HMasataka/linehub/pkg/domain"
)

func TestSessionStoreLifecycle(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewSessionStore(time.Hour)
	s.now = func() time.Time { return now }
	ctx := context.Background()

	token, issued, err := s.Issue("caja-1", "cajero")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if len(token) != tokenBytes*2 {
		t.Fatalf("token length = %d", len(token))
	}
	if !issued.ExpiresAt.Equal(now.Add(time.Hour)) {
		t.Fatalf("expires at %v", issued.ExpiresAt)
	}

	id, err := s.Authenticate(ctx, token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	if id.SubjectID != "caja-1" || id.SubjectType != "cajero" {
		t.Fatalf("unexpected identity %+v", id)
	}

	now = now.Add(time.Hour)
	if _, err := s.Authenticate(ctx, token); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expired token accepted: %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expired session kept")
	}
}

func TestSessionStoreRevokeAndPurge(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s := NewSessionStore(time.Minute)
	s.now = func() time.Time { return now }

	a, _, _ := s.Issue("a", "admin")
	if _, _, err := s.Issue("b", "admin"); err != nil {
		t.Fatalf("issue: %v", err)
	}

	s.Revoke(a)
	if _, err := s.Authenticate(context.Background(), a); err == nil {
		t.Fatal("revoked token accepted")
	}

	now = now.Add(2 * time.Minute)
	if n := s.PurgeExpired(); n != 1 {
		t.Fatalf("purged %d", n)
	}
}

func TestStaticAndChain(t *testing.T) {
	static := NewStatic([]StaticToken{
		{Token: "secret", SubjectID: "operator", SubjectType: "admin"},
		{Token: "", SubjectID: "ignored"},
	})
	sessions := NewSessionStore(0)
	token, _, err := sessions.Issue("caja-2", "cajero")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	chain := Chain{sessions, static}
	ctx := context.Background()

	tests := []struct {
		name    string
		token   string
		subject string
		wantErr bool
	}{
		{"static", "secret", "operator", false},
		{"session", token, "caja-2", false},
		{"unknown", "nope", "", true},
		{"empty", "", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			id, err := chain.Authenticate(ctx, tt.token)
			if tt.wantErr {
				if !errors.Is(err, domain.ErrUnauthorized) {
					t.Fatalf("expected unauthorized, got %v", err)
				}
				return
			}
			if err != nil || id.SubjectID != tt.subject {
				t.Fatalf("got %+v, %v", id, err)
			}
		})
	}
}

func TestBearerToken(t *testing.T) {
	tests := map[string]string{
		"Bearer abc":   "abc",
		"bearer  abc ": "abc",
		"Basic abc":    "",
		"abc":          "",
		"":             "",
	}
	for header, want := range tests {
		if got := BearerToken(header); got != want {
			t.Errorf("BearerToken(%q) = %q, want %q", header, got, want)
		}
	}
}

func TestPolicy(t *testing.T) {
	p := NewPolicy([]string{"cajero", " Admin "})

	if err := p.Authorize(Identity{SubjectType: "admin"}); err != nil {
		t.Fatalf("admin rejected: %v", err)
	}
	if err := p.Authorize(Identity{SubjectType: "CAJERO"}); err != nil {
		t.Fatalf("cajero rejected: %v", err)
	}
	if err := p.Authorize(Identity{SubjectType: "cliente"}); !errors.Is(err, domain.ErrForbidden) {
		t.Fatalf("expected forbidden, got %v", err)
	}
}
