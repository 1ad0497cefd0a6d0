package apis

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/valyala/fasthttp"

	"github.com/tphan267/supportcall/pkg/api"
	"github.com/tphan267/supportcall/pkg/call"
	"github.com/tphan267/supportcall/pkg/core"
	"github.com/tphan267/supportcall/pkg/media"
	"github.com/tphan267/supportcall/pkg/providers"
	"github.com/tphan267/supportcall/pkg/providers/calls"
	"github.com/tphan267/supportcall/pkg/signaling"
)

const (
	sseKeepAlive      = 15 * time.Second
	shareScreenWindow = 2 * time.Minute
)

// ApiServer is the HTTP server using Fiber
type ApiServer struct {
	app       *fiber.App
	coreApp   core.App
	providers *providers.Registry
}

// New creates a new HTTP server with the given service registry
func New(p *providers.Registry) *ApiServer {
	app := fiber.New(fiber.Config{
		ErrorHandler:          customErrorHandler,
		DisableStartupMessage: true,
	})

	s := &ApiServer{
		app:       app,
		coreApp:   core.NewMainApp(p),
		providers: p,
	}

	s.setupMiddleware()
	s.setupRoutes()

	return s
}

func (s *ApiServer) setupMiddleware() {
	s.app.Use(recover.New())
	s.app.Use(logger.New())
}

func (s *ApiServer) setupRoutes() {
	// API routes
	apiGroup := s.app.Group("/api")

	apiGroup.Post("/login", s.handleLogin)
	apiGroup.Post("/metrics", s.authMiddleware, s.handleGetMetrics)

	callGroup := apiGroup.Group("/call", s.authMiddleware)
	callGroup.Post("/start", s.handleStartCall)
	callGroup.Post("/end", s.handleEndCall)
	callGroup.Post("/accept", s.handleAcceptCall)
	callGroup.Post("/mute", s.handleMute)
	callGroup.Post("/share", s.handleShareScreen)
	callGroup.Delete("/share", s.handleStopScreenShare)
	callGroup.Get("/status", s.handleStatus)
	callGroup.Get("/events", s.handleEvents)
	callGroup.Get("/missed", s.handleMissedCalls)
	callGroup.Get("/history", s.handleHistory)

	s.app.Get("/health", s.handleHealth)
}

// App returns the underlying Fiber app for route registration
func (s *ApiServer) App() *fiber.App {
	return s.app
}

// Start starts the HTTP server
func (s *ApiServer) Start(addr string) error {
	s.providers.Logger().Printf("Starting server on %s", addr)
	return s.app.Listen(addr)
}

// Shutdown gracefully shuts down the server
func (s *ApiServer) Shutdown(ctx context.Context) error {
	s.providers.Logger().Println("Server shutdown requested")
	return s.app.ShutdownWithContext(ctx)
}

// authMiddleware extracts the bearer token
func (s *ApiServer) authMiddleware(c *fiber.Ctx) error {
	token := extractToken(c)
	if token == "" {
		return api.ErrorUnauthorizedResp(c, "Missing authorization token")
	}

	// Store token in context for handlers
	c.Locals("token", token)
	return c.Next()
}

// handleLogin issues a token for an identity and room
func (s *ApiServer) handleLogin(c *fiber.Ctx) error {
	var req core.LoginRequest
	if err := c.BodyParser(&req); err != nil {
		return api.ErrorBadRequestResp(c, "Invalid request body")
	}

	resp, err := s.coreApp.Login(c.Context(), req)
	if err != nil {
		if errors.Is(err, core.ErrLoginDisabled) {
			return api.ErrorForbiddenResp(c, err.Error())
		}
		return api.ErrorBadRequestResp(c, err.Error())
	}

	return api.SuccessResp(c, resp)
}

func (s *ApiServer) handleStartCall(c *fiber.Ctx) error {
	status, err := s.coreApp.StartCall(c.Context(), c.Locals("token").(string))
	if err != nil {
		return errorResp(c, err)
	}
	return api.SuccessResp(c, status)
}

func (s *ApiServer) handleEndCall(c *fiber.Ctx) error {
	token := c.Locals("token").(string)
	if err := s.coreApp.EndCall(c.Context(), token); err != nil {
		return errorResp(c, err)
	}
	return s.respondStatus(c, token)
}

func (s *ApiServer) handleAcceptCall(c *fiber.Ctx) error {
	token := c.Locals("token").(string)
	if err := s.coreApp.AcceptCall(c.Context(), token); err != nil {
		return errorResp(c, err)
	}
	return s.respondStatus(c, token)
}

func (s *ApiServer) handleMute(c *fiber.Ctx) error {
	var req struct {
		Muted *bool `json:"muted"`
	}
	if err := c.BodyParser(&req); err != nil || req.Muted == nil {
		return api.ErrorBadRequestResp(c, "Missing muted flag")
	}

	status, err := s.coreApp.SetMuted(c.Context(), c.Locals("token").(string), *req.Muted)
	if err != nil {
		return errorResp(c, err)
	}
	return api.SuccessResp(c, status)
}

// handleShareScreen waits for the display picker, bounded by shareScreenWindow
func (s *ApiServer) handleShareScreen(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(context.Background(), shareScreenWindow)
	defer cancel()

	status, err := s.coreApp.ShareScreen(ctx, c.Locals("token").(string))
	if err != nil {
		return errorResp(c, err)
	}
	return api.SuccessResp(c, status)
}

func (s *ApiServer) handleStopScreenShare(c *fiber.Ctx) error {
	status, err := s.coreApp.StopScreenShare(c.Context(), c.Locals("token").(string))
	if err != nil {
		return errorResp(c, err)
	}
	return api.SuccessResp(c, status)
}

func (s *ApiServer) handleStatus(c *fiber.Ctx) error {
	return s.respondStatus(c, c.Locals("token").(string))
}

func (s *ApiServer) respondStatus(c *fiber.Ctx, token string) error {
	status, err := s.coreApp.CallStatus(c.Context(), token)
	if err != nil {
		return errorResp(c, err)
	}
	return api.SuccessResp(c, status)
}

// handleEvents streams call events as Server-Sent Events
func (s *ApiServer) handleEvents(c *fiber.Ctx) error {
	token := c.Locals("token").(string)

	events, cancel, err := s.coreApp.CallEvents(c.Context(), token)
	if err != nil {
		return errorResp(c, err)
	}
	status, err := s.coreApp.CallStatus(c.Context(), token)
	if err != nil {
		cancel()
		return errorResp(c, err)
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	log := s.providers.Logger()
	c.Context().SetBodyStreamWriter(fasthttp.StreamWriter(func(w *bufio.Writer) {
		defer cancel()

		if err := writeSSE(w, "status", status); err != nil {
			return
		}

		keepAlive := time.NewTicker(sseKeepAlive)
		defer keepAlive.Stop()

		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				if err := writeSSE(w, string(ev.Type), ev); err != nil {
					log.Debug("[API] Event stream closed: %v", err)
					return
				}
			case <-keepAlive.C:
				if _, err := w.WriteString(": ping\n\n"); err != nil {
					return
				}
				if err := w.Flush(); err != nil {
					return
				}
			}
		}
	}))

	return nil
}

// writeSSE writes one Server-Sent Event and flushes it
func writeSSE(w *bufio.Writer, event string, data interface{}) error {
	payload, err := json.Marshal(data)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
		return err
	}
	return w.Flush()
}

func (s *ApiServer) handleMissedCalls(c *fiber.Ctx) error {
	missed, err := s.coreApp.MissedCalls(c.Context(), c.Locals("token").(string))
	if err != nil {
		return errorResp(c, err)
	}
	return api.SuccessResp(c, missed)
}

func (s *ApiServer) handleHistory(c *fiber.Ctx) error {
	limit, _ := strconv.Atoi(c.Query("limit"))

	records, err := s.coreApp.CallHistory(c.Context(), c.Locals("token").(string), limit)
	if err != nil {
		return errorResp(c, err)
	}
	return api.SuccessResp(c, records)
}

// handleGetMetrics handles metrics retrieval
func (s *ApiServer) handleGetMetrics(c *fiber.Ctx) error {
	token := c.Locals("token").(string)

	var query providers.MetricsQuery
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&query); err != nil {
			return api.ErrorBadRequestResp(c, "Invalid request body")
		}
	}

	result, err := s.coreApp.GetMetrics(c.Context(), token, query)
	if err != nil {
		return errorResp(c, err)
	}

	return api.SuccessResp(c, result)
}

// handleHealth handles health checks
func (s *ApiServer) handleHealth(c *fiber.Ctx) error {
	return api.SuccessResp(c, fiber.Map{
		"status": "healthy",
	})
}

// errorResp maps domain errors onto the response envelope
func errorResp(c *fiber.Ctx, err error) error {
	code := ""
	status := fiber.StatusInternalServerError

	switch {
	case errors.Is(err, core.ErrUnauthorized):
		status, code = fiber.StatusUnauthorized, "unauthorized"
	case errors.Is(err, calls.ErrCallInProgress):
		status, code = fiber.StatusConflict, "call_in_progress"
	case errors.Is(err, calls.ErrNoActiveCall):
		status, code = fiber.StatusConflict, "no_active_call"
	case errors.Is(err, call.ErrInvalidState), errors.Is(err, call.ErrSessionEnded):
		status, code = fiber.StatusConflict, "invalid_state"
	case errors.Is(err, media.ErrCanceled):
		status, code = fiber.StatusConflict, "canceled"
	case errors.Is(err, calls.ErrNotAttached):
		status, code = fiber.StatusNotFound, "not_attached"
	case errors.Is(err, signaling.ErrRelayUnavailable):
		status, code = fiber.StatusServiceUnavailable, call.RelayUnavailable.String()
	case errors.Is(err, media.ErrDeviceUnavailable):
		status, code = fiber.StatusServiceUnavailable, call.DeviceUnavailable.String()
	case errors.Is(err, context.DeadlineExceeded):
		status, code = fiber.StatusGatewayTimeout, "timeout"
	}

	return api.ErrorResp(c, api.ApiError{
		Code:    code,
		Status:  status,
		Message: err.Error(),
	})
}

// extractToken extracts the bearer token from the Authorization header, or
// from the token query parameter for clients such as EventSource that cannot
// set headers
func extractToken(c *fiber.Ctx) string {
	auth := c.Get("Authorization")
	if auth == "" {
		return c.Query("token")
	}

	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || parts[0] != "Bearer" {
		return ""
	}

	return parts[1]
}

// customErrorHandler handles errors
func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError

	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}

	return c.Status(code).JSON(api.ApiResponse{
		Success: false,
		Error: &api.ApiError{
			Status:  code,
			Message: err.Error(),
		},
	})
}
