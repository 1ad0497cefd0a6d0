package main

import (
	"context"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
	"github.com/tphan267/supportcall/pkg/config"
	"github.com/tphan267/supportcall/pkg/logger"
	"github.com/tphan267/supportcall/pkg/media/mediatest"
	"github.com/tphan267/supportcall/pkg/providers"
	"github.com/tphan267/supportcall/pkg/providers/calls"
	"github.com/tphan267/supportcall/pkg/rtc/rtctest"
	"github.com/tphan267/supportcall/pkg/signaling"
	"github.com/tphan267/supportcall/pkg/storage"
)

func TestServiceRegistryIntegration(t *testing.T) {
	// Setup test database
	store, err := storage.NewSQLiteStorage(":memory:", nil)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	defer store.Close()

	cfg := &config.Config{
		Identity: "agent@example.com",
		Room:     "support-42",
		Auth:     config.AuthConfig{JWTSecret: "test-secret"},
	}
	relay := signaling.NewHub().Join("edge")

	registry := createServiceRegistry(store, logger.Discard(), cfg, relay,
		calls.NewService(&mediatest.Capturer{}, &rtctest.Factory{}))

	// Initialize all services
	ctx := context.Background()
	if err := registry.InitializeAll(ctx); err != nil {
		t.Fatalf("Failed to initialize services: %v", err)
	}
	defer registry.Shutdown(ctx)

	// Test typed getters
	authProvider, err := registry.GetAuth()
	if err != nil || authProvider == nil {
		t.Fatalf("Failed to get auth provider: %v", err)
	}

	analyticsProvider, err := registry.GetAnalytics()
	if err != nil || analyticsProvider == nil {
		t.Fatalf("Failed to get analytics provider: %v", err)
	}

	callProvider, err := registry.GetCalls()
	if err != nil || callProvider == nil {
		t.Fatalf("Failed to get call provider: %v", err)
	}

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := registry.StartRunnable(runCtx); err != nil {
		t.Fatalf("Failed to start runnable services: %v", err)
	}

	// The configured room is attached once the calls service starts
	var status *providers.CallStatus
	deadline := time.Now().Add(2 * time.Second)
	for {
		status, err = callProvider.Status(cfg.Room)
		if err == nil || time.Now().After(deadline) {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}
	if err != nil {
		t.Fatalf("Expected configured room to be attached: %v", err)
	}
	if status.Identity != cfg.Identity || status.State != "idle" {
		t.Errorf("Unexpected status: %+v", status)
	}

	// A token round trips through the auth provider
	token, _, err := authProvider.IssueToken(ctx, cfg.Identity, cfg.Room)
	if err != nil {
		t.Fatalf("Failed to issue token: %v", err)
	}
	identity, err := authProvider.ValidateToken(ctx, token)
	if err != nil {
		t.Fatalf("Failed to validate token: %v", err)
	}
	if identity.Name != cfg.Identity || identity.Room != cfg.Room {
		t.Errorf("Unexpected identity: %+v", identity)
	}

	// Test getting service by name
	for _, name := range []string{"auth", "analytics", "calls"} {
		if _, err := registry.Get(name); err != nil {
			t.Errorf("Failed to get %s service by name: %v", name, err)
		}
	}
	if _, err := registry.Get("proxy"); err == nil {
		t.Error("Expected error for unregistered service")
	}
}

func TestServiceRegistryDuplicateRegistration(t *testing.T) {
	registry := providers.NewRegistry(nil, logger.Discard(), &config.Config{}, nil)

	if err := registry.Register(calls.NewService(&mediatest.Capturer{}, &rtctest.Factory{})); err != nil {
		t.Fatalf("Failed to register calls service: %v", err)
	}
	if err := registry.Register(calls.NewService(&mediatest.Capturer{}, &rtctest.Factory{})); err == nil {
		t.Error("Expected error registering the same service twice")
	}
}

func TestICEServers(t *testing.T) {
	if got := iceServers(nil); got != nil {
		t.Errorf("Expected nil to fall back to defaults, got %v", got)
	}

	got := iceServers([]config.ICEServer{{URLs: []string{"turn:turn.example.com:3478"}, Username: "u", Credential: "p"}})
	want := webrtc.ICEServer{URLs: []string{"turn:turn.example.com:3478"}, Username: "u", Credential: "p"}
	if len(got) != 1 || got[0].URLs[0] != want.URLs[0] || got[0].Username != want.Username || got[0].Credential != want.Credential {
		t.Errorf("Unexpected ICE servers: %+v", got)
	}
}

func TestMaskAPIKey(t *testing.T) {
	if got := maskAPIKey("short"); got != "***" {
		t.Errorf("Expected short keys fully masked, got %q", got)
	}
	if got := maskAPIKey("abcdefgh12345"); got != "abcdefgh***" {
		t.Errorf("Unexpected mask: %q", got)
	}
}
