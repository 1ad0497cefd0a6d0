package utils

import "testing"

func TestEventSubFanOut(t *testing.T) {
	es := NewEventSub[int]()
	a, cancelA := es.Subscribe()
	b, _ := es.Subscribe()

	if dropped := es.Publish(7); dropped != 0 {
		t.Fatalf("Expected no drops, got %d", dropped)
	}
	if got := <-a; got != 7 {
		t.Fatalf("Expected 7, got %d", got)
	}
	if got := <-b; got != 7 {
		t.Fatalf("Expected 7, got %d", got)
	}

	cancelA()
	cancelA()
	if _, ok := <-a; ok {
		t.Fatal("Expected channel to be closed after unsubscribe")
	}
	if es.Len() != 1 {
		t.Fatalf("Expected 1 subscriber, got %d", es.Len())
	}

	es.Close()
	if _, ok := <-b; ok {
		t.Fatal("Expected channel to be closed after Close")
	}

	late, _ := es.Subscribe()
	if _, ok := <-late; ok {
		t.Fatal("Expected subscribe after Close to return a closed channel")
	}
}

func TestEventSubDropsForSlowSubscriber(t *testing.T) {
	es := NewEventSub[int]()
	es.Subscribe()

	dropped := 0
	for i := 0; i < eventSubBuffer+3; i++ {
		dropped += es.Publish(i)
	}
	if dropped != 3 {
		t.Fatalf("Expected 3 drops, got %d", dropped)
	}
}

func TestGenerateID(t *testing.T) {
	id, err := GenerateID()
	if err != nil {
		t.Fatalf("Failed to generate id: %v", err)
	}
	if len(id) != idLength {
		t.Fatalf("Expected length %d, got %d", idLength, len(id))
	}
}

func TestEnvBool(t *testing.T) {
	t.Setenv("SUPPORTCALL_TEST_FLAG", "yes")
	if !EnvBool("SUPPORTCALL_TEST_FLAG", false) {
		t.Fatal("Expected yes to be true")
	}
	if EnvBool("SUPPORTCALL_TEST_UNSET", false) {
		t.Fatal("Expected default for unset variable")
	}
}
