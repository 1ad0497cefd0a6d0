package analytics

import (
	"context"
	"testing"
	"time"

	"github.com/tphan267/supportcall/pkg/providers"
)

func TestGetMetricsAggregates(t *testing.T) {
	ctx := context.Background()
	s := NewService()

	events := []providers.Event{
		{Type: "call_dialing", UserID: "alice"},
		{Type: "call_ended", UserID: "alice", Data: map[string]interface{}{"reason": "missed"}},
		{Type: "call_dialing", UserID: "alice"},
		{Type: "call_ended", UserID: "alice", Data: map[string]interface{}{"reason": "hung_up", "seconds": 42}},
	}
	for _, e := range events {
		if err := s.Track(ctx, e); err != nil {
			t.Fatalf("Failed to track: %v", err)
		}
	}

	all, err := s.GetMetrics(ctx, providers.MetricsQuery{})
	if err != nil {
		t.Fatalf("Failed to get metrics: %v", err)
	}
	if all.Count != 4 {
		t.Fatalf("Expected 4 events, got %d", all.Count)
	}
	byReason := all.Data["by_reason"].(map[string]int64)
	if byReason["missed"] != 1 || byReason["hung_up"] != 1 {
		t.Fatalf("Unexpected reasons: %v", byReason)
	}
	if all.Data["connected_seconds"].(int64) != 42 {
		t.Fatalf("Expected 42 connected seconds, got %v", all.Data["connected_seconds"])
	}

	ended, err := s.GetMetrics(ctx, providers.MetricsQuery{EventTypes: []string{"call_ended"}})
	if err != nil {
		t.Fatalf("Failed to get metrics: %v", err)
	}
	if ended.Count != 2 {
		t.Fatalf("Expected 2 ended events, got %d", ended.Count)
	}

	future, err := s.GetMetrics(ctx, providers.MetricsQuery{StartTime: time.Now().Add(time.Hour)})
	if err != nil {
		t.Fatalf("Failed to get metrics: %v", err)
	}
	if future.Count != 0 {
		t.Fatalf("Expected no events in the future, got %d", future.Count)
	}
}

func TestTrackCapsHistory(t *testing.T) {
	s := NewService()
	for i := 0; i < maxEvents+5; i++ {
		s.Track(context.Background(), providers.Event{Type: "call_dialing"})
	}
	if len(s.events) != maxEvents {
		t.Fatalf("Expected %d events, got %d", maxEvents, len(s.events))
	}
}
