package obd

import (
	"errors"
	"sync"
	"time"

	"github.com/dperry713/simulator/internal/dtc"
	"github.com/dperry713/simulator/internal/pid"
	"github.com/dperry713/simulator/internal/protocol"
	"github.com/dperry713/simulator/internal/transport"
)

// Event kinds.
const (
	EventStateChanged = "state_changed"
	EventValueUpdated = "value_updated"
	EventDTCsUpdated  = "dtcs_updated"
	EventAlert        = "alert"
	EventError        = "error"
)

// Event is one core-to-UI notification. Kind selects which optional
// field carries the payload.
type Event struct {
	Kind      string            `json:"kind"`
	Timestamp time.Time         `json:"timestamp"`
	State     string            `json:"state,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	Value     *pid.DecodedValue `json:"value,omitempty"`
	DTCs      []dtc.Entry       `json:"dtcs,omitempty"`
	Alert     *Alert            `json:"alert,omitempty"`
	Error     *ErrorInfo        `json:"error,omitempty"`
}

// Alert reports a decoded value crossing a configured threshold.
type Alert struct {
	Key   string  `json:"key"`
	Name  string  `json:"name"`
	Value float64 `json:"value"`
	Unit  string  `json:"unit"`
	Level string  `json:"level"` // "warning" or "critical"
	Limit float64 `json:"limit"`
}

// ErrorInfo carries a classified failure for UI consumption.
type ErrorInfo struct {
	Class   string `json:"class"`
	Message string `json:"message"`
}

// classifyError maps an error chain to its taxonomy class name.
func classifyError(err error) string {
	switch {
	case errors.Is(err, transport.ErrDeviceNotFound):
		return "device_not_found"
	case errors.Is(err, transport.ErrPermissionDenied):
		return "permission_denied"
	case errors.Is(err, protocol.ErrProtocolUnsupported):
		return "protocol_unsupported"
	case errors.Is(err, transport.ErrUnsupported):
		return "unsupported"
	case errors.Is(err, transport.ErrTimeout):
		return "timeout"
	case errors.Is(err, transport.ErrLinkLost):
		return "link_lost"
	case errors.Is(err, protocol.ErrChecksumMismatch):
		return "checksum_mismatch"
	case errors.Is(err, protocol.ErrNoData):
		return "no_data"
	default:
		return "error"
	}
}

// Hub fans events out to subscribers. Delivery is non-blocking: a
// subscriber that stops draining loses events rather than stalling the
// worker.
type Hub struct {
	mu   sync.Mutex
	subs map[chan Event]struct{}
}

// NewHub returns an empty event hub.
func NewHub() *Hub {
	return &Hub{subs: make(map[chan Event]struct{})}
}

// Subscribe registers a new subscriber channel with the given buffer.
func (h *Hub) Subscribe(buffer int) chan Event {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)
	h.mu.Lock()
	h.subs[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

// Unsubscribe removes and closes a subscriber channel.
func (h *Hub) Unsubscribe(ch chan Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.subs[ch]; ok {
		delete(h.subs, ch)
		close(ch)
	}
}

// Publish delivers an event to every subscriber that has room.
func (h *Hub) Publish(ev Event) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for ch := range h.subs {
		select {
		case ch <- ev:
		default:
		}
	}
}
