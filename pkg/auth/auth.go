// Package auth resolves operator credentials presented by gateway
// connections and HTTP callers.
package auth

import (
	"context"
	"crypto/subtle"
	"fmt"
	"strings"
	"time"

	"github.com/HMasataka/linehub/pkg/domain"
)

// Identity is an authenticated subject
type Identity struct {
	SubjectID   string    `json:"subjectId"`
	SubjectType string    `json:"subjectType"`
	ExpiresAt   time.Time `json:"expiresAt,omitzero"`
}

// Expired reports whether the identity has an expiry in the past
func (id Identity) Expired(now time.Time) bool {
	return !id.ExpiresAt.IsZero() && !now.Before(id.ExpiresAt)
}

// Authenticator resolves a bearer token to an identity. Unknown or expired
// tokens yield domain.ErrUnauthorized.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (Identity, error)
}

// StaticToken is a long-lived credential from configuration
type StaticToken struct {
	Token       string
	SubjectID   string
	SubjectType string
}

// Static authenticates a fixed set of tokens
type Static struct {
	tokens []StaticToken
}

// NewStatic creates a static authenticator. Entries with an empty token are
// ignored.
func NewStatic(tokens []StaticToken) *Static {
	s := &Static{}
	for _, t := range tokens {
		if t.Token == "" {
			continue
		}
		s.tokens = append(s.tokens, t)
	}
	return s
}

// Authenticate implements Authenticator
func (s *Static) Authenticate(_ context.Context, token string) (Identity, error) {
	if token == "" {
		return Identity{}, domain.ErrUnauthorized
	}
	for _, t := range s.tokens {
		if subtle.ConstantTimeCompare([]byte(t.Token), []byte(token)) == 1 {
			return Identity{SubjectID: t.SubjectID, SubjectType: t.SubjectType}, nil
		}
	}
	return Identity{}, fmt.Errorf("%w: unknown token", domain.ErrUnauthorized)
}

// Chain tries each authenticator in order
type Chain []Authenticator

// Authenticate implements Authenticator
func (c Chain) Authenticate(ctx context.Context, token string) (Identity, error) {
	for _, a := range c {
		if a == nil {
			continue
		}
		if id, err := a.Authenticate(ctx, token); err == nil {
			return id, nil
		}
	}
	return Identity{}, domain.ErrUnauthorized
}

// BearerToken extracts the token from an Authorization header value
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Policy decides which subject types may mutate hub state
type Policy struct {
	operatorTypes map[string]struct{}
}

// NewPolicy creates a policy admitting the given subject types
func NewPolicy(operatorTypes []string) Policy {
	p := Policy{operatorTypes: make(map[string]struct{}, len(operatorTypes))}
	for _, t := range operatorTypes {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			p.operatorTypes[t] = struct{}{}
		}
	}
	return p
}

// Authorize returns domain.ErrForbidden when id may not operate lines
func (p Policy) Authorize(id Identity) error {
	if _, ok := p.operatorTypes[strings.ToLower(id.SubjectType)]; ok {
		return nil
	}
	return fmt.Errorf("%w: subject type %q", domain.ErrForbidden, id.SubjectType)
}
