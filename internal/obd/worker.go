package obd

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/dperry713/simulator/internal/dtc"
	"github.com/dperry713/simulator/internal/pid"
	"github.com/dperry713/simulator/internal/protocol"
	"github.com/dperry713/simulator/internal/transport"
)

type cmdKind int

const (
	cmdStart cmdKind = iota
	cmdStop
	cmdSetWatch
	cmdReadDTCs
	cmdClearDTCs
	cmdReadOnce
)

type dtcReply struct {
	entries []dtc.Entry
	err     error
}

type valueReply struct {
	value pid.DecodedValue
	err   error
}

// command is one queued request for the worker. Reply channels are
// buffered so the worker never blocks answering.
type command struct {
	kind  cmdKind
	watch []byte
	pid   byte
	dtcs  chan dtcReply
	value chan valueReply
	errc  chan error
}

// worker owns the carrier for one session. Everything here runs on the
// session goroutine.
type worker struct {
	m       *Manager
	cfg     Config
	carrier transport.Carrier
	codec   protocol.Codec
	stop    chan struct{}
	cmds    chan command

	monitoring bool
	watch      []byte
	failures   int
	alerts     map[string]int
	buf        []byte
}

// session is the connect goroutine: dial, protocol setup, probe, then
// the command/poll loop until disconnect or link failure.
func (m *Manager) session(cfg Config, stop, done chan struct{}, cmds chan command) {
	defer close(done)
	defer drainCommands(cmds)

	car, err := m.Dial(cfg)
	if err != nil {
		m.sessionFailed(nil, stop, fmt.Errorf("obd: open carrier: %w", err))
		return
	}

	// A disconnect may have raced the dial.
	m.mu.Lock()
	if m.state != Connecting || m.stopCh != stop {
		m.mu.Unlock()
		car.Close()
		return
	}
	m.carrier = car
	m.mu.Unlock()

	codec, err := protocol.NewCodec(cfg.Protocol)
	if err != nil {
		m.sessionFailed(car, stop, err)
		return
	}
	w := &worker{
		m:       m,
		cfg:     cfg,
		carrier: car,
		codec:   codec,
		stop:    stop,
		cmds:    cmds,
		watch:   append([]byte(nil), DefaultWatchList...),
		alerts:  make(map[string]int),
		buf:     make([]byte, 512),
	}

	if err := codec.Init(car); err != nil {
		m.sessionFailed(car, stop, fmt.Errorf("obd: protocol init: %w", err))
		return
	}
	if err := w.probe(); err != nil {
		m.sessionFailed(car, stop, err)
		return
	}

	if !m.transition(Connected, stop, nil) {
		car.Close()
		return
	}
	log.Printf("[obd] connected %s %q (%s)", cfg.Carrier, cfg.Port, cfg.Protocol)

	if err := w.loop(); err != nil {
		if m.transition(Error, stop, err) {
			log.Printf("[obd] link failed: %v", err)
			m.publishError(err)
		}
		m.mu.Lock()
		if m.carrier == car {
			m.carrier = nil
		}
		m.mu.Unlock()
		car.Close()
	}
}

// sessionFailed ends a connect attempt before the loop ran. The state
// moves to Error unless a disconnect already won.
func (m *Manager) sessionFailed(car transport.Carrier, stop chan struct{}, err error) {
	if car != nil {
		car.Close()
	}
	m.mu.Lock()
	if m.carrier == car {
		m.carrier = nil
	}
	m.mu.Unlock()
	if m.transition(Error, stop, err) {
		log.Printf("[obd] connect failed: %v", err)
		m.publishError(err)
	}
}

// drainCommands fails whatever was queued when the session ended.
func drainCommands(cmds chan command) {
	for {
		select {
		case c := <-cmds:
			failCommand(c)
		default:
			return
		}
	}
}

func failCommand(c command) {
	switch {
	case c.dtcs != nil:
		c.dtcs <- dtcReply{err: ErrNotConnected}
	case c.value != nil:
		c.value <- valueReply{err: ErrNotConnected}
	case c.errc != nil:
		c.errc <- ErrNotConnected
	}
}

// probe issues one RPM request to confirm something OBD-shaped is on
// the other end. Silence is a timeout; a stream of garbage past the
// failure threshold means the protocol does not match.
func (w *worker) probe() error {
	_, garbled, err := w.transact(protocol.Request{Mode: protocol.ModeCurrentData, Pid: 0x0C})
	if err == nil {
		return nil
	}
	if errors.Is(err, transport.ErrTimeout) && garbled >= w.cfg.FailureThreshold {
		return fmt.Errorf("obd: probe: %d garbled candidates: %w", garbled, protocol.ErrProtocolUnsupported)
	}
	if errors.Is(err, protocol.ErrNoData) {
		return fmt.Errorf("obd: probe: vehicle silent: %w", transport.ErrTimeout)
	}
	return fmt.Errorf("obd: probe: %w", err)
}

// loop serves commands and paces poll cycles. Commands only run between
// cycles. A non-nil return is a link failure to escalate.
func (w *worker) loop() error {
	var cycle <-chan time.Time
	for {
		if w.monitoring && cycle == nil {
			cycle = time.After(w.cfg.Interval)
		}
		if !w.monitoring {
			cycle = nil
		}
		select {
		case <-w.stop:
			return nil
		case c := <-w.cmds:
			if err := w.command(c); err != nil {
				return err
			}
		case <-cycle:
			cycle = nil
			if err := w.runCycle(); err != nil {
				return err
			}
		}
	}
}

// command applies one queued request. Per-call failures answer the
// caller; only a cycle started here can escalate.
func (w *worker) command(c command) error {
	switch c.kind {
	case cmdStart:
		if len(c.watch) > 0 {
			w.watch = append(w.watch[:0], c.watch...)
		}
		if !w.monitoring {
			w.monitoring = true
			w.failures = 0
			w.m.transition(Monitoring, w.stop, nil)
			log.Printf("[obd] monitoring %d pids every %v", len(w.watch), w.cfg.Interval)
			return w.runCycle()
		}
	case cmdStop:
		if w.monitoring {
			w.monitoring = false
			w.failures = 0
			w.m.transition(Connected, w.stop, nil)
			log.Printf("[obd] monitoring stopped")
		}
	case cmdSetWatch:
		w.watch = append(w.watch[:0], c.watch...)
		log.Printf("[obd] watch list now %d pids", len(w.watch))
	case cmdReadDTCs:
		entries, err := w.readDTCs()
		c.dtcs <- dtcReply{entries: entries, err: err}
	case cmdClearDTCs:
		c.errc <- w.clearDTCs()
	case cmdReadOnce:
		v, err := w.readOnce(c.pid)
		c.value <- valueReply{value: v, err: err}
	}
	return nil
}

// runCycle polls the watch-list once. Failures are counted across
// cycles and reset by any success; passing the threshold, or a hard
// link error, escalates.
func (w *worker) runCycle() error {
	for _, p := range w.watch {
		select {
		case <-w.stop:
			return nil
		default:
		}
		resp, _, err := w.transact(protocol.Request{Mode: protocol.ModeCurrentData, Pid: p})
		if err != nil {
			if errors.Is(err, transport.ErrLinkLost) {
				return err
			}
			w.failures++
			log.Printf("[obd] pid %02X: %v (failure %d/%d)", p, err, w.failures, w.cfg.FailureThreshold)
			if w.failures >= w.cfg.FailureThreshold {
				return fmt.Errorf("obd: %d consecutive poll failures: %w", w.failures, transport.ErrLinkLost)
			}
			continue
		}
		w.failures = 0
		v := pid.Decode(p, resp.Data, resp.At)
		w.m.pushValue(v)
		w.checkAlerts(v)
	}
	return nil
}

// transact writes one request and scans reads for its response until
// the timeout. It reports how many candidates the codec discarded.
func (w *worker) transact(req protocol.Request) (protocol.Response, int, error) {
	payload := w.codec.EncodeRequest(req)
	if _, err := w.carrier.Write(payload); err != nil {
		return protocol.Response{}, 0, fmt.Errorf("obd: write request: %w", err)
	}

	garbled := 0
	deadline := time.Now().Add(w.cfg.Timeout)
	for time.Now().Before(deadline) {
		n, err := w.carrier.Read(w.buf)
		if err != nil {
			return protocol.Response{}, garbled, fmt.Errorf("obd: read reply: %w", err)
		}
		resps, discarded, ferr := w.codec.Feed(w.buf[:n])
		garbled += discarded
		for _, r := range resps {
			if r.Mode == req.Mode && (req.ModeOnly() || r.Pid == req.Pid) {
				return r, garbled, nil
			}
		}
		if ferr != nil {
			return protocol.Response{}, garbled, fmt.Errorf("obd: mode %02X: %w", req.Mode, ferr)
		}
	}
	return protocol.Response{}, garbled, fmt.Errorf("obd: no reply for mode %02X pid %02X: %w", req.Mode, req.Pid, transport.ErrTimeout)
}

// readDTCs refreshes the full trouble-code picture: stored, pending,
// and permanent lists in one pass. An explicit no-data answer just
// means that list is empty.
func (w *worker) readDTCs() ([]dtc.Entry, error) {
	queries := []struct {
		mode   byte
		status dtc.Status
	}{
		{protocol.ModeStoredDTCs, dtc.Active},
		{protocol.ModePendingDTCs, dtc.Pending},
		{protocol.ModePermanentDTCs, dtc.Permanent},
	}

	var out []dtc.Entry
	for _, q := range queries {
		resp, _, err := w.transact(protocol.Request{Mode: q.mode})
		if err != nil {
			if errors.Is(err, protocol.ErrNoData) {
				continue
			}
			return nil, fmt.Errorf("obd: read %v codes: %w", q.status, err)
		}
		out = append(out, dtc.Entries(q.status, resp.Data)...)
	}

	log.Printf("[obd] read %d trouble codes", len(out))
	w.m.hub.Publish(Event{Kind: EventDTCsUpdated, Timestamp: time.Now(), DTCs: out})
	return out, nil
}

// clearDTCs asks the vehicle to erase its codes and insists on the
// acknowledgement.
func (w *worker) clearDTCs() error {
	if _, _, err := w.transact(protocol.Request{Mode: protocol.ModeClearDTCs}); err != nil {
		return fmt.Errorf("obd: clear codes: %w", err)
	}
	log.Printf("[obd] trouble codes cleared")
	w.m.hub.Publish(Event{Kind: EventDTCsUpdated, Timestamp: time.Now()})
	return nil
}

func (w *worker) readOnce(p byte) (pid.DecodedValue, error) {
	resp, _, err := w.transact(protocol.Request{Mode: protocol.ModeCurrentData, Pid: p})
	if err != nil {
		return pid.DecodedValue{}, err
	}
	v := pid.Decode(p, resp.Data, resp.At)
	w.m.pushValue(v)
	w.checkAlerts(v)
	return v, nil
}

// checkAlerts compares a decoded value against its thresholds, firing
// an event when the level rises. Dropping back rearms the alert.
func (w *worker) checkAlerts(v pid.DecodedValue) {
	if v.Unrecognized {
		return
	}
	for _, t := range w.cfg.Thresholds {
		if t.Key != v.Key {
			continue
		}
		level, limit := 0, 0.0
		switch {
		case t.Crit > 0 && v.Value >= t.Crit:
			level, limit = 2, t.Crit
		case t.Warn > 0 && v.Value >= t.Warn:
			level, limit = 1, t.Warn
		}
		prev := w.alerts[v.Key]
		w.alerts[v.Key] = level
		if level > prev {
			name := "warning"
			if level == 2 {
				name = "critical"
			}
			log.Printf("[obd] %s: %s %.1f %s over %.1f", name, v.Key, v.Value, v.Unit, limit)
			a := Alert{Key: v.Key, Name: v.Name, Value: v.Value, Unit: v.Unit, Level: name, Limit: limit}
			w.m.hub.Publish(Event{Kind: EventAlert, Timestamp: time.Now(), Alert: &a})
		}
		return
	}
}
