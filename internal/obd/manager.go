// Package obd is the connection manager: a state machine that owns one
// carrier at a time, polls the watch-list while monitoring, and fans
// decoded values, trouble-code sets, and failures out as events.
package obd

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/dperry713/simulator/internal/dtc"
	"github.com/dperry713/simulator/internal/pid"
	"github.com/dperry713/simulator/internal/protocol"
	"github.com/dperry713/simulator/internal/transport"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultInterval         = 500 * time.Millisecond
	DefaultTimeout          = 10 * time.Second
	DefaultFailureThreshold = 5
)

// DefaultWatchList polls the parameters a dashboard cares about most:
// rpm, speed, load, coolant and intake temperature, throttle.
var DefaultWatchList = []byte{0x0C, 0x0D, 0x04, 0x05, 0x0F, 0x11}

// ErrNotConnected is returned by commands issued without a live
// connection.
var ErrNotConnected = errors.New("obd: not connected")

// Threshold carries the alert bounds for one parameter key. A zero
// bound disables that level.
type Threshold struct {
	Key  string  `json:"key" yaml:"key"`
	Warn float64 `json:"warn" yaml:"warn"`
	Crit float64 `json:"crit" yaml:"crit"`
}

// Config describes one connection attempt.
type Config struct {
	Carrier  transport.Kind
	Port     string
	Baud     int
	Protocol protocol.Protocol

	// Interval paces poll cycles; Timeout bounds each request.
	Interval time.Duration
	Timeout  time.Duration

	// FailureThreshold is how many consecutive poll failures escalate
	// to a lost link.
	FailureThreshold int

	SeriesCap  int
	Thresholds []Threshold
}

func (c Config) withDefaults() Config {
	if c.Baud <= 0 {
		c.Baud = transport.DefaultBaudRate
	}
	if c.Interval <= 0 {
		c.Interval = DefaultInterval
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = DefaultFailureThreshold
	}
	if c.SeriesCap <= 0 {
		c.SeriesCap = pid.DefaultSeriesCap
	}
	return c
}

// DialFunc opens the carrier for a connection attempt.
type DialFunc func(cfg Config) (transport.Carrier, error)

func defaultDial(cfg Config) (transport.Carrier, error) {
	return transport.Open(transport.Config{
		Carrier: cfg.Carrier,
		Port:    cfg.Port,
		Baud:    cfg.Baud,
	})
}

// Manager drives the connection lifecycle. All carrier I/O happens on a
// single worker goroutine between Connect and Disconnect; callers talk
// to it through queued commands and the event hub.
type Manager struct {
	mu      sync.Mutex
	state   State
	lastErr error
	cfg     Config
	carrier transport.Carrier
	stopCh  chan struct{}
	done    chan struct{}
	cmds    chan command

	hub    *Hub
	series *pid.SeriesSet

	// Dial opens carriers for connect attempts. Replace before Connect
	// to route extra carrier kinds (the CLI routes demo mode to the
	// simulator); defaults to the transport dialer.
	Dial DialFunc
}

// NewManager returns a disconnected manager.
func NewManager() *Manager {
	return &Manager{
		hub:    NewHub(),
		series: pid.NewSeriesSet(pid.DefaultSeriesCap),
		Dial:   defaultDial,
	}
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Err returns the failure behind an Error state, nil otherwise.
func (m *Manager) Err() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastErr
}

// Status is a point-in-time snapshot for status queries.
type Status struct {
	State    string `json:"state"`
	Reason   string `json:"reason,omitempty"`
	Carrier  string `json:"carrier,omitempty"`
	Port     string `json:"port,omitempty"`
	Protocol string `json:"protocol,omitempty"`
}

// Status snapshots the lifecycle state and the connection it refers to.
func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := Status{State: m.state.String()}
	if m.lastErr != nil {
		st.Reason = m.lastErr.Error()
	}
	if m.state != Disconnected {
		st.Carrier = string(m.cfg.Carrier)
		st.Port = m.cfg.Port
		st.Protocol = m.cfg.Protocol.String()
	}
	return st
}

// Series exposes the per-PID sample history of the current session.
func (m *Manager) Series() *pid.SeriesSet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.series
}

// Subscribe registers an event channel with the given buffer.
func (m *Manager) Subscribe(buffer int) chan Event {
	return m.hub.Subscribe(buffer)
}

// Unsubscribe removes and closes an event channel.
func (m *Manager) Unsubscribe(ch chan Event) {
	m.hub.Unsubscribe(ch)
}

// Connect starts an asynchronous connection attempt: open the carrier,
// run protocol setup, probe for a live vehicle. Progress surfaces as
// state_changed events; WaitReady blocks for the outcome. Connect is
// valid from Disconnected and Error only.
func (m *Manager) Connect(cfg Config) error {
	cfg = cfg.withDefaults()

	m.mu.Lock()
	switch m.state {
	case Disconnected, Error:
	default:
		st := m.state
		m.mu.Unlock()
		return fmt.Errorf("obd: connect while %v", st)
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	cmds := make(chan command, 16)
	m.stopCh = stop
	m.done = done
	m.cmds = cmds
	m.cfg = cfg
	m.series = pid.NewSeriesSet(cfg.SeriesCap)
	m.state = Connecting
	m.lastErr = nil
	m.mu.Unlock()

	log.Printf("[obd] connecting %s %q (%s)", cfg.Carrier, cfg.Port, cfg.Protocol)
	m.publishState(Connecting, nil)

	go m.session(cfg, stop, done, cmds)
	return nil
}

// WaitReady blocks until the connect attempt settles: nil once
// Connected (or already Monitoring), the failure once Error.
func (m *Manager) WaitReady(ctx context.Context) error {
	tick := time.NewTicker(20 * time.Millisecond)
	defer tick.Stop()
	for {
		m.mu.Lock()
		st, err := m.state, m.lastErr
		m.mu.Unlock()
		switch st {
		case Connected, Monitoring:
			return nil
		case Error:
			if err == nil {
				err = errors.New("obd: connect failed")
			}
			return err
		case Disconnected:
			return ErrNotConnected
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
		}
	}
}

// Disconnect releases the carrier and returns to Disconnected from any
// state. It is idempotent. Closing the carrier unblocks a worker stuck
// in a read.
func (m *Manager) Disconnect() error {
	m.mu.Lock()
	if m.state == Disconnected {
		m.mu.Unlock()
		return nil
	}
	stop, car, done := m.stopCh, m.carrier, m.done
	m.state = Disconnected
	m.lastErr = nil
	m.stopCh, m.carrier, m.cmds, m.done = nil, nil, nil, nil
	m.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if car != nil {
		car.Close()
		if done != nil {
			<-done
		}
	}
	log.Printf("[obd] disconnected")
	m.publishState(Disconnected, nil)
	return nil
}

// Start begins monitoring over the given watch-list (the default list
// when empty). While already monitoring it just swaps the list.
func (m *Manager) Start(watch []byte) error {
	_, err := m.enqueue(context.Background(), command{kind: cmdStart, watch: append([]byte(nil), watch...)})
	return err
}

// Stop halts monitoring, returning to Connected. Stopping while already
// Connected is a no-op.
func (m *Manager) Stop() error {
	_, err := m.enqueue(context.Background(), command{kind: cmdStop})
	return err
}

// SetWatchList replaces the polled PID set. The swap happens at the
// next cycle boundary, never mid-cycle.
func (m *Manager) SetWatchList(pids []byte) error {
	if len(pids) == 0 {
		return errors.New("obd: empty watch list")
	}
	_, err := m.enqueue(context.Background(), command{kind: cmdSetWatch, watch: append([]byte(nil), pids...)})
	return err
}

// ReadDTCs queries the stored, pending, and permanent trouble-code
// lists and returns the combined set, newest read wins wholesale.
func (m *Manager) ReadDTCs(ctx context.Context) ([]dtc.Entry, error) {
	c := command{kind: cmdReadDTCs, dtcs: make(chan dtcReply, 1)}
	stop, err := m.enqueue(ctx, c)
	if err != nil {
		return nil, err
	}
	select {
	case r := <-c.dtcs:
		return r.entries, r.err
	case <-stop:
		select {
		case r := <-c.dtcs:
			return r.entries, r.err
		default:
			return nil, ErrNotConnected
		}
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// ClearDTCs asks the vehicle to erase stored and pending codes. Missing
// acknowledgement within the timeout is a failure, never assumed
// success.
func (m *Manager) ClearDTCs(ctx context.Context) error {
	c := command{kind: cmdClearDTCs, errc: make(chan error, 1)}
	stop, err := m.enqueue(ctx, c)
	if err != nil {
		return err
	}
	select {
	case err := <-c.errc:
		return err
	case <-stop:
		select {
		case err := <-c.errc:
			return err
		default:
			return ErrNotConnected
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ReadOnce queries a single PID outside the poll loop and returns its
// decoded value.
func (m *Manager) ReadOnce(ctx context.Context, p byte) (pid.DecodedValue, error) {
	c := command{kind: cmdReadOnce, pid: p, value: make(chan valueReply, 1)}
	stop, err := m.enqueue(ctx, c)
	if err != nil {
		return pid.DecodedValue{}, err
	}
	select {
	case r := <-c.value:
		return r.value, r.err
	case <-stop:
		select {
		case r := <-c.value:
			return r.value, r.err
		default:
			return pid.DecodedValue{}, ErrNotConnected
		}
	case <-ctx.Done():
		return pid.DecodedValue{}, ctx.Err()
	}
}

// enqueue hands a command to the worker, failing fast when no live
// session can serve it. The returned channel is the session's stop
// signal; waiters select on it so a disconnect cannot strand them.
func (m *Manager) enqueue(ctx context.Context, c command) (chan struct{}, error) {
	m.mu.Lock()
	if m.state != Connected && m.state != Monitoring {
		m.mu.Unlock()
		return nil, ErrNotConnected
	}
	cmds, stop := m.cmds, m.stopCh
	m.mu.Unlock()

	select {
	case cmds <- c:
		return stop, nil
	case <-stop:
		return nil, ErrNotConnected
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// transition moves to state s if the session identified by stop is
// still the live one. Returns whether the move happened.
func (m *Manager) transition(s State, stop chan struct{}, reason error) bool {
	m.mu.Lock()
	if m.stopCh != stop || m.state == s {
		m.mu.Unlock()
		return false
	}
	m.state = s
	m.lastErr = reason
	m.mu.Unlock()
	m.publishState(s, reason)
	return true
}

func (m *Manager) publishState(s State, reason error) {
	ev := Event{Kind: EventStateChanged, Timestamp: time.Now(), State: s.String()}
	if reason != nil {
		ev.Reason = reason.Error()
	}
	m.hub.Publish(ev)
}

func (m *Manager) publishError(err error) {
	m.hub.Publish(Event{
		Kind:      EventError,
		Timestamp: time.Now(),
		Error:     &ErrorInfo{Class: classifyError(err), Message: err.Error()},
	})
}

// pushValue records a decoded sample and announces it.
func (m *Manager) pushValue(v pid.DecodedValue) {
	m.mu.Lock()
	series := m.series
	m.mu.Unlock()
	series.Push(v)

	val := v
	m.hub.Publish(Event{Kind: EventValueUpdated, Timestamp: time.Now(), Value: &val})
}
