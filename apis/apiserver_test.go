package apis

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/tphan267/supportcall/pkg/api"
	"github.com/tphan267/supportcall/pkg/call"
	"github.com/tphan267/supportcall/pkg/config"
	"github.com/tphan267/supportcall/pkg/logger"
	"github.com/tphan267/supportcall/pkg/media/mediatest"
	"github.com/tphan267/supportcall/pkg/providers"
	"github.com/tphan267/supportcall/pkg/providers/analytics"
	"github.com/tphan267/supportcall/pkg/providers/auth"
	"github.com/tphan267/supportcall/pkg/providers/calls"
	"github.com/tphan267/supportcall/pkg/rtc/rtctest"
	"github.com/tphan267/supportcall/pkg/signaling"
	"github.com/tphan267/supportcall/pkg/storage"
)

func setupTestServer(t *testing.T, devLogin bool) *ApiServer {
	t.Helper()

	store, err := storage.NewSQLiteStorage(":memory:", logger.Discard())
	if err != nil {
		t.Fatalf("Failed to create storage: %v", err)
	}

	cfg := &config.Config{
		Call: config.CallConfig{AnswerTimeout: "30s"},
		Auth: config.AuthConfig{JWTSecret: "test-secret", DevLogin: devLogin},
	}
	relay := signaling.NewHub().Join("edge")

	registry := providers.NewRegistry(store, logger.Discard(), cfg, relay)
	registry.MustRegister(auth.NewService())
	registry.MustRegister(analytics.NewService())
	registry.MustRegister(calls.NewService(&mediatest.Capturer{}, &rtctest.Factory{}))
	if err := registry.InitializeAll(context.Background()); err != nil {
		t.Fatalf("Failed to initialize services: %v", err)
	}

	t.Cleanup(func() {
		registry.Shutdown(context.Background())
		store.Close()
	})
	return New(registry)
}

func doRequest(t *testing.T, s *ApiServer, method, path, token string, body interface{}) (int, api.ApiResponse) {
	t.Helper()

	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.App().Test(req, -1)
	if err != nil {
		t.Fatalf("Request failed: %v", err)
	}

	raw, _ := io.ReadAll(resp.Body)
	var response api.ApiResponse
	if err := json.Unmarshal(raw, &response); err != nil {
		t.Fatalf("Failed to parse response %q: %v", raw, err)
	}
	return resp.StatusCode, response
}

func login(t *testing.T, s *ApiServer) string {
	t.Helper()
	status, resp := doRequest(t, s, http.MethodPost, "/api/login", "", map[string]string{
		"identity": "visitor@example.com",
		"room":     "support-42",
	})
	if status != fiber.StatusOK || !resp.Success {
		t.Fatalf("Login failed with %d: %+v", status, resp.Error)
	}
	data := resp.Data.(map[string]interface{})
	return data["token"].(string)
}

func TestHealth(t *testing.T) {
	s := setupTestServer(t, false)
	status, resp := doRequest(t, s, http.MethodGet, "/health", "", nil)
	if status != fiber.StatusOK || !resp.Success {
		t.Fatalf("Expected healthy response, got %d", status)
	}
}

func TestLoginDisabled(t *testing.T) {
	s := setupTestServer(t, false)
	status, resp := doRequest(t, s, http.MethodPost, "/api/login", "", map[string]string{
		"identity": "visitor@example.com",
		"room":     "support-42",
	})
	if status != fiber.StatusForbidden {
		t.Fatalf("Expected 403, got %d", status)
	}
	if resp.Success || resp.Error == nil {
		t.Fatal("Expected error response")
	}
}

func TestCallRoutesRequireToken(t *testing.T) {
	s := setupTestServer(t, true)

	status, _ := doRequest(t, s, http.MethodPost, "/api/call/start", "", nil)
	if status != fiber.StatusUnauthorized {
		t.Fatalf("Expected 401 without token, got %d", status)
	}

	status, resp := doRequest(t, s, http.MethodGet, "/api/call/status", "forged", nil)
	if status != fiber.StatusUnauthorized {
		t.Fatalf("Expected 401 with bad token, got %d", status)
	}
	if resp.Error.Code != "unauthorized" {
		t.Fatalf("Expected unauthorized code, got %q", resp.Error.Code)
	}
}

func TestCallLifecycleOverHTTP(t *testing.T) {
	s := setupTestServer(t, true)
	token := login(t, s)

	status, resp := doRequest(t, s, http.MethodGet, "/api/call/status", token, nil)
	if status != fiber.StatusOK {
		t.Fatalf("Expected 200, got %d", status)
	}
	if state := resp.Data.(map[string]interface{})["state"]; state != "idle" {
		t.Fatalf("Expected idle, got %v", state)
	}

	status, resp = doRequest(t, s, http.MethodPost, "/api/call/start", token, nil)
	if status != fiber.StatusOK {
		t.Fatalf("Expected 200 on start, got %d: %+v", status, resp.Error)
	}
	if state := resp.Data.(map[string]interface{})["state"]; state != "dialing" {
		t.Fatalf("Expected dialing, got %v", state)
	}

	status, resp = doRequest(t, s, http.MethodPost, "/api/call/start", token, nil)
	if status != fiber.StatusConflict || resp.Error.Code != "call_in_progress" {
		t.Fatalf("Expected 409 call_in_progress, got %d", status)
	}

	status, _ = doRequest(t, s, http.MethodPost, "/api/call/mute", token, map[string]string{})
	if status != fiber.StatusBadRequest {
		t.Fatalf("Expected 400 without muted flag, got %d", status)
	}

	status, resp = doRequest(t, s, http.MethodPost, "/api/call/mute", token, map[string]bool{"muted": true})
	if status != fiber.StatusOK {
		t.Fatalf("Expected 200 on mute, got %d: %+v", status, resp.Error)
	}
	if muted := resp.Data.(map[string]interface{})["muted"]; muted != true {
		t.Fatalf("Expected muted, got %v", muted)
	}

	status, resp = doRequest(t, s, http.MethodPost, "/api/call/share", token, nil)
	if status != fiber.StatusConflict {
		t.Fatalf("Expected 409 sharing before connect, got %d", status)
	}

	status, _ = doRequest(t, s, http.MethodPost, "/api/call/end", token, nil)
	if status != fiber.StatusOK {
		t.Fatalf("Expected 200 on end, got %d", status)
	}
	status, _ = doRequest(t, s, http.MethodPost, "/api/call/end", token, nil)
	if status != fiber.StatusOK {
		t.Fatalf("Expected ending twice to succeed, got %d", status)
	}

	status, resp = doRequest(t, s, http.MethodPost, "/api/call/accept", token, nil)
	if status != fiber.StatusConflict || resp.Error.Code != "no_active_call" {
		t.Fatalf("Expected 409 no_active_call, got %d", status)
	}

	status, resp = doRequest(t, s, http.MethodGet, "/api/call/missed", token, nil)
	if status != fiber.StatusOK || !resp.Success {
		t.Fatalf("Expected 200 on missed, got %d", status)
	}

	status, _ = doRequest(t, s, http.MethodGet, "/api/call/history?limit=5", token, nil)
	if status != fiber.StatusOK {
		t.Fatalf("Expected 200 on history, got %d", status)
	}

	status, resp = doRequest(t, s, http.MethodPost, "/api/metrics", token, nil)
	if status != fiber.StatusOK {
		t.Fatalf("Expected 200 on metrics, got %d: %+v", status, resp.Error)
	}
}

func TestWriteSSE(t *testing.T) {
	var buf bytes.Buffer
	w := bufio.NewWriter(&buf)

	ev := call.Event{Type: call.EventEnded, CallID: "c1", Reason: call.Missed, Message: call.Missed.Description()}
	if err := writeSSE(w, string(ev.Type), ev); err != nil {
		t.Fatalf("Failed to write event: %v", err)
	}

	out := buf.String()
	if !strings.HasPrefix(out, "event: ended\ndata: {") || !strings.HasSuffix(out, "}\n\n") {
		t.Fatalf("Unexpected frame: %q", out)
	}
	if !strings.Contains(out, `"reason":"missed"`) {
		t.Fatalf("Expected reason in frame: %q", out)
	}
}
