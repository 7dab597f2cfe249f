// internal/state/event_test.go
package state

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/user/agentrelay/internal/types"
)

func TestEventStore(t *testing.T) {
	dir := t.TempDir()
	store := NewEventStore(dir)
	ctx := context.Background()

	// Test append
	event1 := &types.Event{
		RequestID: types.NewRequestID(),
		Origin:    "test:1",
		Kind:      "assistant_text",
		Content:   "hello",
		Meta:      json.RawMessage(`{"cost":0.1}`),
	}
	if err := store.Append(ctx, event1); err != nil {
		t.Fatal(err)
	}
	if event1.ID == "" || event1.At.IsZero() {
		t.Error("expected id and timestamp to be filled in")
	}

	// Test tail
	events, err := store.Tail(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Seq != 1 {
		t.Errorf("expected seq 1, got %d", events[0].Seq)
	}
	if events[0].Content != "hello" {
		t.Errorf("expected content hello, got %s", events[0].Content)
	}

	// Test count
	count, err := store.Count(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if count != 1 {
		t.Errorf("expected count 1, got %d", count)
	}
}

func TestEventStoreSequenceSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	ctx := context.Background()

	first := NewEventStore(dir)
	for i := 0; i < 3; i++ {
		if err := first.Append(ctx, &types.Event{Kind: "assistant_text"}); err != nil {
			t.Fatal(err)
		}
	}

	second := NewEventStore(dir)
	ev := &types.Event{Kind: "final_result"}
	if err := second.Append(ctx, ev); err != nil {
		t.Fatal(err)
	}
	if ev.Seq != 4 {
		t.Errorf("expected seq 4, got %d", ev.Seq)
	}

	tail, err := second.Tail(ctx, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(tail) != 2 || tail[0].Seq != 3 || tail[1].Seq != 4 {
		t.Errorf("unexpected tail: %+v", tail)
	}
}

func TestEventStoreEmpty(t *testing.T) {
	store := NewEventStore(t.TempDir())
	events, err := store.Tail(context.Background(), 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(events) != 0 {
		t.Errorf("expected no events, got %d", len(events))
	}
	count, err := store.Count(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if count != 0 {
		t.Errorf("expected 0, got %d", count)
	}
}
