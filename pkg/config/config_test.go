package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFillsDefaultsAndSaves(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")

	c, err := Load("test", file, "")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if c.PeerID == "" {
		t.Fatal("Expected generated peer id")
	}
	if c.Relay.Backend != RelayMemory {
		t.Fatalf("Expected memory relay by default, got %q", c.Relay.Backend)
	}
	if c.AnswerTimeout() != 90*time.Second {
		t.Fatalf("Expected 90s answer timeout, got %v", c.AnswerTimeout())
	}
	if c.TickInterval() != time.Second {
		t.Fatalf("Expected 1s tick, got %v", c.TickInterval())
	}
	if c.Auth.JWTSecret == "" {
		t.Fatal("Expected generated jwt secret")
	}
	if c.GetServerPort() != "3030" {
		t.Fatalf("Expected port 3030, got %s", c.GetServerPort())
	}

	if _, err := os.Stat(file); err != nil {
		t.Fatalf("Expected config to be saved: %v", err)
	}

	again, err := Load("test", file, "debug")
	if err != nil {
		t.Fatalf("Failed to reload config: %v", err)
	}
	if again.PeerID != c.PeerID {
		t.Fatalf("Expected peer id to persist, got %q want %q", again.PeerID, c.PeerID)
	}
	if again.Auth.JWTSecret != c.Auth.JWTSecret {
		t.Fatal("Expected jwt secret to persist")
	}
	if again.LogLevel != "debug" {
		t.Fatalf("Expected flag to override log level, got %q", again.LogLevel)
	}
}

func TestLoadReadsYaml(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	yaml := `
peer_id: desk-1
identity: alice
room: support-42
relay:
  backend: websocket
  url: wss://relay.example.com
call:
  answer_timeout: 30s
  manual_answer: true
`
	if err := os.WriteFile(file, []byte(yaml), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	c, err := Load("test", file, "")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if c.PeerID != "desk-1" || c.Identity != "alice" || c.Room != "support-42" {
		t.Fatalf("Unexpected identity fields: %+v", c)
	}
	if c.Relay.Backend != RelayWebSocket || c.Relay.URL != "wss://relay.example.com" {
		t.Fatalf("Unexpected relay config: %+v", c.Relay)
	}
	if c.AnswerTimeout() != 30*time.Second || !c.Call.ManualAnswer {
		t.Fatalf("Unexpected call config: %+v", c.Call)
	}
}

func TestLoadRejectsMalformedYaml(t *testing.T) {
	file := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(file, []byte("relay: [unterminated\n"), 0o600); err != nil {
		t.Fatalf("Failed to write config: %v", err)
	}

	if _, err := Load("test", file, ""); err == nil {
		t.Fatal("Expected malformed config to fail")
	}

	data, err := os.ReadFile(file)
	if err != nil {
		t.Fatalf("Failed to read config: %v", err)
	}
	if string(data) != "relay: [unterminated\n" {
		t.Fatal("Malformed config must not be overwritten")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SUPPORTCALL_RELAY_BACKEND", RelayRedis)
	t.Setenv("SUPPORTCALL_REDIS_ADDR", "localhost:6379")
	t.Setenv("SUPPORTCALL_ROOM", "env-room")

	c, err := Load("test", filepath.Join(t.TempDir(), "config.yaml"), "")
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}
	if c.Relay.Backend != RelayRedis || c.Relay.RedisAddr != "localhost:6379" {
		t.Fatalf("Unexpected relay config: %+v", c.Relay)
	}
	if c.Room != "env-room" {
		t.Fatalf("Expected room from env, got %q", c.Room)
	}
}

func TestValidateRelay(t *testing.T) {
	c := &Config{Relay: RelayConfig{Backend: RelayWebSocket}}
	if err := c.Validate(); err == nil {
		t.Fatal("Expected websocket relay without url to fail")
	}

	c.Relay.Backend = "carrier-pigeon"
	if err := c.Validate(); err == nil {
		t.Fatal("Expected unknown backend to fail")
	}

	c.Relay.Backend = RelayMemory
	if err := c.Validate(); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
}

func TestDurationFallbacks(t *testing.T) {
	c := &Config{Call: CallConfig{AnswerTimeout: "soon", TickInterval: "-1s"}}
	if c.AnswerTimeout() != 90*time.Second {
		t.Fatalf("Expected fallback, got %v", c.AnswerTimeout())
	}
	if c.TickInterval() != time.Second {
		t.Fatalf("Expected fallback, got %v", c.TickInterval())
	}
}
