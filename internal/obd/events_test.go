package obd

import (
	"fmt"
	"testing"
	"time"

	"github.com/dperry713/simulator/internal/protocol"
	"github.com/dperry713/simulator/internal/transport"
)

func TestHubDeliversToEverySubscriber(t *testing.T) {
	h := NewHub()
	a := h.Subscribe(4)
	b := h.Subscribe(4)
	defer h.Unsubscribe(a)
	defer h.Unsubscribe(b)

	h.Publish(Event{Kind: EventStateChanged, State: "connected"})

	for i, ch := range []chan Event{a, b} {
		select {
		case ev := <-ch:
			if ev.State != "connected" {
				t.Errorf("subscriber %d: got state %q", i, ev.State)
			}
		case <-time.After(time.Second):
			t.Fatalf("subscriber %d never received the event", i)
		}
	}
}

func TestHubDropsWhenSubscriberIsFull(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe(1)
	defer h.Unsubscribe(ch)

	// The second publish must not block the caller.
	done := make(chan struct{})
	go func() {
		h.Publish(Event{Kind: EventStateChanged, State: "first"})
		h.Publish(Event{Kind: EventStateChanged, State: "second"})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("publish blocked on a full subscriber")
	}

	ev := <-ch
	if ev.State != "first" {
		t.Errorf("expected the first event to survive, got %q", ev.State)
	}
	select {
	case ev := <-ch:
		t.Errorf("expected overflow to be dropped, got %q", ev.State)
	default:
	}
}

func TestUnsubscribeClosesChannel(t *testing.T) {
	h := NewHub()
	ch := h.Subscribe(1)
	h.Unsubscribe(ch)
	if _, ok := <-ch; ok {
		t.Error("expected closed channel after unsubscribe")
	}
	// Unsubscribing twice must not panic.
	h.Unsubscribe(ch)
}

func TestClassifyError(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{transport.ErrDeviceNotFound, "device_not_found"},
		{transport.ErrPermissionDenied, "permission_denied"},
		{transport.ErrTimeout, "timeout"},
		{transport.ErrLinkLost, "link_lost"},
		{protocol.ErrProtocolUnsupported, "protocol_unsupported"},
		{protocol.ErrChecksumMismatch, "checksum_mismatch"},
		{protocol.ErrNoData, "no_data"},
		{fmt.Errorf("wrapped: %w", transport.ErrLinkLost), "link_lost"},
		{fmt.Errorf("plain failure"), "error"},
	}
	for _, tt := range tests {
		if got := classifyError(tt.err); got != tt.want {
			t.Errorf("classify(%v): expected %q, got %q", tt.err, tt.want, got)
		}
	}
}
