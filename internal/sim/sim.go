// Package sim emulates an engine controller behind the transport
// carrier interface, for demo mode and end-to-end tests.
package sim

import (
	"fmt"
	"sync"
	"time"

	"github.com/dperry713/simulator/internal/protocol"
	"github.com/dperry713/simulator/internal/transport"
)

// quietDelay is how long an empty Read waits before returning (0, nil),
// mimicking a serial port's quiet timeout.
const quietDelay = 2 * time.Millisecond

// Factory-seeded trouble codes.
var (
	seedActive    = []byte{0x03, 0x01, 0x04, 0x20} // P0301, P0420
	seedPending   = []byte{0x01, 0x71}             // P0171
	seedPermanent = []byte{0x04, 0x20}             // P0420
)

// ECU is a simulated engine controller. It answers mode/PID requests
// written to it with waveform-driven sensor values and seeded trouble
// codes, speaking either J1850 VPW frames or the frameless generic
// layout.
type ECU struct {
	mu     sync.Mutex
	closed bool

	proto  protocol.Protocol
	dec    *protocol.Decoder
	req    []byte // unframed request bytes (generic mode)
	rx     []byte // bytes waiting for the tester to read
	engine engineState

	active    []byte
	pending   []byte
	permanent []byte
}

// New returns a simulated engine controller speaking the given
// protocol. It comes with misfire and catalyst codes already set.
func New(p protocol.Protocol) (*ECU, error) {
	switch p {
	case protocol.J1850VPW, protocol.Generic:
	default:
		return nil, fmt.Errorf("sim: no %v emulation: %w", p, transport.ErrUnsupported)
	}
	return &ECU{
		proto:     p,
		dec:       protocol.NewDecoder(),
		engine:    newEngineState(),
		active:    append([]byte(nil), seedActive...),
		pending:   append([]byte(nil), seedPending...),
		permanent: append([]byte(nil), seedPermanent...),
	}, nil
}

// SetCodes replaces the seeded trouble codes. Each argument is a run of
// two-byte records.
func (e *ECU) SetCodes(active, pending, permanent []byte) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.active = append([]byte(nil), active...)
	e.pending = append([]byte(nil), pending...)
	e.permanent = append([]byte(nil), permanent...)
}

// Write feeds request bytes to the controller. Responses become
// available to Read once a complete request has arrived.
func (e *ECU) Write(p []byte) (int, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return 0, transport.ErrLinkLost
	}

	switch e.proto {
	case protocol.J1850VPW:
		frames, _ := e.dec.Feed(p)
		for _, f := range frames {
			if f.Kind() != protocol.FrameRequest || len(f.Data) < 2 {
				continue
			}
			// Half-duplex bus: the tester hears its own transmission.
			e.rx = append(e.rx, f.Bytes()...)
			e.handle(f.Data[0], f.Data[1])
		}
	case protocol.Generic:
		e.req = append(e.req, p...)
		for len(e.req) >= 2 {
			mode, pid := e.req[0], e.req[1]
			e.req = e.req[2:]
			e.handle(mode, pid)
		}
	}
	return len(p), nil
}

// Read drains response bytes, returning (0, nil) after a short quiet
// delay when none are waiting.
func (e *ECU) Read(p []byte) (int, error) {
	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		return 0, transport.ErrLinkLost
	}
	if len(e.rx) > 0 {
		n := copy(p, e.rx)
		e.rx = e.rx[n:]
		e.mu.Unlock()
		return n, nil
	}
	e.mu.Unlock()
	time.Sleep(quietDelay)
	return 0, nil
}

// Close severs the link. Further reads and writes fail like a dropped
// carrier.
func (e *ECU) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	return nil
}

// handle answers one request. Callers hold e.mu.
func (e *ECU) handle(mode, pid byte) {
	switch mode {
	case protocol.ModeCurrentData:
		e.engine.step()
		a, b, ok := e.engine.sample(pid)
		if !ok {
			return // unknown PID, the vehicle stays silent
		}
		e.reply(protocol.ReplyFrame(mode, pid, a, b), []byte{mode | protocol.ModeReplyFlag, pid, a, b})
	case protocol.ModeStoredDTCs:
		e.diag(mode, e.active)
	case protocol.ModePendingDTCs:
		e.diag(mode, e.pending)
	case protocol.ModePermanentDTCs:
		e.diag(mode, e.permanent)
	case protocol.ModeClearDTCs:
		// Clearing resets stored and pending lists; permanent codes
		// age out on their own over drive cycles.
		e.active = nil
		e.pending = nil
		e.reply(protocol.AckFrame(mode), []byte{mode | protocol.ModeReplyFlag})
	}
}

func (e *ECU) diag(mode byte, records []byte) {
	generic := make([]byte, 0, len(records)+2)
	generic = append(generic, mode|protocol.ModeReplyFlag, byte(len(records)/2))
	generic = append(generic, records...)
	e.reply(protocol.DiagFrame(mode, records), generic)
}

func (e *ECU) reply(f protocol.Frame, generic []byte) {
	if e.proto == protocol.J1850VPW {
		e.rx = append(e.rx, f.Bytes()...)
		return
	}
	e.rx = append(e.rx, generic...)
}
