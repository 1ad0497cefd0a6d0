package analytics

import (
	"context"
	"sync"
	"time"

	"github.com/tphan267/supportcall/pkg/providers"
)

const maxEvents = 10000

// Service keeps call lifecycle events in memory and aggregates them on demand
type Service struct {
	events []providers.Event
	mu     sync.RWMutex
}

// NewService creates a new analytics service
func NewService() *Service {
	return &Service{
		events: make([]providers.Event, 0),
	}
}

// Name returns the service name
func (s *Service) Name() string {
	return "analytics"
}

// Initialize sets up the service
func (s *Service) Initialize(ctx context.Context, registry *providers.Registry) error {
	registry.Logger().Println("Initializing analytics service")
	return nil
}

// IsRunnable returns false, events are only aggregated on read
func (s *Service) IsRunnable() bool {
	return false
}

// Start is not used for analytics service
func (s *Service) Start(ctx context.Context) error {
	return nil
}

// Stop gracefully shuts down the service
func (s *Service) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = nil
	return nil
}

// RegisterAPIRoutes registers analytics-related routes
func (s *Service) RegisterAPIRoutes(app interface{}) error {
	// Analytics routes are handled by apiserver
	return nil
}

// Track records an analytics event. The oldest events are dropped past maxEvents.
func (s *Service) Track(ctx context.Context, event providers.Event) error {
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}

	s.mu.Lock()
	s.events = append(s.events, event)
	if over := len(s.events) - maxEvents; over > 0 {
		s.events = append(s.events[:0:0], s.events[over:]...)
	}
	s.mu.Unlock()
	return nil
}

// GetMetrics counts events by type and end reason and sums connected seconds
func (s *Service) GetMetrics(ctx context.Context, query providers.MetricsQuery) (*providers.MetricsResult, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	typeFilter := make(map[string]bool)
	for _, t := range query.EventTypes {
		typeFilter[t] = true
	}

	count := int64(0)
	byType := make(map[string]int64)
	byReason := make(map[string]int64)
	connectedSeconds := int64(0)

	for _, event := range s.events {
		if len(typeFilter) > 0 && !typeFilter[event.Type] {
			continue
		}
		if !query.StartTime.IsZero() && event.Timestamp.Before(query.StartTime) {
			continue
		}
		if !query.EndTime.IsZero() && event.Timestamp.After(query.EndTime) {
			continue
		}

		count++
		byType[event.Type]++
		if reason, ok := event.Data["reason"].(string); ok && reason != "" {
			byReason[reason]++
		}
		if secs, ok := event.Data["seconds"].(int); ok {
			connectedSeconds += int64(secs)
		}
	}

	return &providers.MetricsResult{
		Data: map[string]interface{}{
			"total_events":      count,
			"by_type":           byType,
			"by_reason":         byReason,
			"connected_seconds": connectedSeconds,
		},
		Count: count,
	}, nil
}

// Verify that Service implements both Service and AnalyticsProvider interfaces
var _ providers.Service = (*Service)(nil)
var _ providers.AnalyticsProvider = (*Service)(nil)
