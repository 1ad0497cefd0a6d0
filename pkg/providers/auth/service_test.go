package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/tphan267/supportcall/pkg/config"
	"github.com/tphan267/supportcall/pkg/logger"
	"github.com/tphan267/supportcall/pkg/providers"
)

func newTestService(t *testing.T, secret string) *Service {
	t.Helper()
	cfg := &config.Config{Auth: config.AuthConfig{JWTSecret: secret, TokenTTL: "1h"}}
	registry := providers.NewRegistry(nil, logger.Discard(), cfg, nil)

	s := NewService()
	if err := s.Initialize(context.Background(), registry); err != nil {
		t.Fatalf("Failed to initialize auth service: %v", err)
	}
	return s
}

func TestIssueAndValidate(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, "test-secret")

	token, expires, err := s.IssueToken(ctx, "alice", "room-1")
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	if time.Until(expires) > time.Hour || time.Until(expires) < 59*time.Minute {
		t.Fatalf("Unexpected expiry: %v", expires)
	}

	identity, err := s.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}
	if identity.Name != "alice" || identity.Room != "room-1" {
		t.Fatalf("Unexpected identity: %+v", identity)
	}
}

func TestIssueRequiresIdentityAndRoom(t *testing.T) {
	s := newTestService(t, "test-secret")
	if _, _, err := s.IssueToken(context.Background(), "alice", ""); err == nil {
		t.Fatal("Expected error without room")
	}
}

func TestRejectsForeignAndExpiredTokens(t *testing.T) {
	ctx := context.Background()
	s := newTestService(t, "test-secret")
	other := newTestService(t, "other-secret")

	foreign, _, err := other.IssueToken(ctx, "mallory", "room-1")
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	if _, err := s.ValidateToken(ctx, foreign); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Expected ErrInvalidToken for foreign token, got %v", err)
	}

	token, _, err := s.IssueToken(ctx, "alice", "room-1")
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	s.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	if _, err := s.ValidateToken(ctx, token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Expected ErrInvalidToken for expired token, got %v", err)
	}

	if _, err := s.ValidateToken(ctx, "not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("Expected ErrInvalidToken for garbage, got %v", err)
	}
}

func TestGeneratesSecretWhenMissing(t *testing.T) {
	s := newTestService(t, "")
	if len(s.secret) == 0 {
		t.Fatal("Expected generated secret")
	}
}
