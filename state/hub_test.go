package state_test

import (
	"testing"
	"time"

	"github.com/firasghr/pibox-server/state"
)

func TestBroadcastDeliversToAllSubscribers(t *testing.T) {
	h := state.NewHub()
	a := h.Subscribe()
	b := h.Subscribe()

	h.Broadcast("hello")

	select {
	case msg := <-a.Messages():
		if msg != "hello" {
			t.Errorf("subscriber a: got %v, want hello", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber a: timed out waiting for broadcast")
	}
	select {
	case msg := <-b.Messages():
		if msg != "hello" {
			t.Errorf("subscriber b: got %v, want hello", msg)
		}
	case <-time.After(time.Second):
		t.Fatal("subscriber b: timed out waiting for broadcast")
	}
}

// TestSlowSubscriberDoesNotBlockOthers verifies broadcast isolation: a
// subscriber whose queue is already full does not prevent delivery to
// other subscribers, and Broadcast itself never blocks.
func TestSlowSubscriberDoesNotBlockOthers(t *testing.T) {
	h := state.NewHub()
	slow := h.Subscribe()
	fast := h.Subscribe()

	// Fill the slow subscriber's queue past capacity without draining it.
	for i := 0; i < 64; i++ {
		h.Broadcast(i)
	}

	select {
	case <-fast.Messages():
	case <-time.After(time.Second):
		t.Fatal("fast subscriber did not receive a message despite the slow one being full")
	}
	_ = slow
}

func TestCloseRemovesSubscriber(t *testing.T) {
	h := state.NewHub()
	sub := h.Subscribe()
	if h.SubscriberCount() != 1 {
		t.Fatalf("expected 1 subscriber, got %d", h.SubscriberCount())
	}
	sub.Close()
	if h.SubscriberCount() != 0 {
		t.Fatalf("expected 0 subscribers after close, got %d", h.SubscriberCount())
	}
}
