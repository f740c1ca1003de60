package events

import (
	"encoding/json"
	"testing"
)

func TestHubPublishSubscribe(t *testing.T) {
	t.Parallel()

	h := NewHub(16)
	ch, cancel := h.Subscribe()
	defer cancel()

	h.Publish(TypeRunQueued, map[string]any{"run_id": "r1", "pipeline": "ci"})

	ev := <-ch
	if ev.Type != TypeRunQueued || ev.ID != 1 {
		t.Fatalf("unexpected event: %#v", ev)
	}
	var data map[string]any
	if err := json.Unmarshal(ev.Data, &data); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if data["run_id"] != "r1" {
		t.Fatalf("payload not delivered: %v", data)
	}
}

func TestHubCancelStopsDelivery(t *testing.T) {
	t.Parallel()

	h := NewHub(16)
	ch, cancel := h.Subscribe()
	cancel()

	// Channel closes on cancel; publishes after that go nowhere.
	if _, ok := <-ch; ok {
		t.Fatal("channel not closed after cancel")
	}
	h.Publish(TypeRunStarted, nil)
}

func TestHubNilPayloadIsEmptyObject(t *testing.T) {
	t.Parallel()

	h := NewHub(16)
	h.Publish(TypeRunFinished, nil)

	events := h.SnapshotSince(0)
	if len(events) != 1 || string(events[0].Data) != "{}" {
		t.Fatalf("unexpected snapshot: %#v", events)
	}
}

func TestHubSnapshotSince(t *testing.T) {
	t.Parallel()

	h := NewHub(16)
	for range 5 {
		h.Publish(TypeStepFinished, nil)
	}

	all := h.SnapshotSince(0)
	if len(all) != 5 || all[0].ID != 1 || all[4].ID != 5 {
		t.Fatalf("unexpected full snapshot: %#v", all)
	}

	tail := h.SnapshotSince(3)
	if len(tail) != 2 || tail[0].ID != 4 {
		t.Fatalf("unexpected tail snapshot: %#v", tail)
	}
}

func TestHubRingOverwritesOldest(t *testing.T) {
	t.Parallel()

	h := NewHub(3)
	for range 5 {
		h.Publish(TypeStepStarted, nil)
	}

	events := h.SnapshotSince(0)
	if len(events) != 3 {
		t.Fatalf("got %d buffered events, want 3", len(events))
	}
	if events[0].ID != 3 || events[2].ID != 5 {
		t.Fatalf("oldest events not evicted: %#v", events)
	}
}

func TestHubSlowSubscriberDoesNotBlock(t *testing.T) {
	t.Parallel()

	h := NewHub(8)
	_, cancel := h.Subscribe()
	defer cancel()

	// The subscriber channel holds 128 events; beyond that publishes
	// must drop rather than block.
	for range 300 {
		h.Publish(TypeStepFinished, nil)
	}
}
