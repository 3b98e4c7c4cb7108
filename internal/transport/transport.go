// Package transport provides byte-stream carriers that link the scanner
// to an OBD-II adapter over a serial port or a Bluetooth Low Energy GATT
// connection. Carriers deliberately know nothing about framing or
// protocol; they move bytes and classify link failures.
package transport

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"time"
)

// Kind selects the physical link used to reach the adapter.
type Kind string

const (
	KindSerial Kind = "serial"
	KindBLE    Kind = "ble"
	KindDemo   Kind = "demo"
)

// ParseKind maps a config string to a carrier Kind. The empty string
// defaults to serial.
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "serial", "usb", "tty":
		return KindSerial, nil
	case "ble", "bluetooth":
		return KindBLE, nil
	case "demo", "sim":
		return KindDemo, nil
	default:
		return "", fmt.Errorf("transport: unknown carrier %q", s)
	}
}

// Carrier failure classes. Implementations wrap these so callers can
// sort failures with errors.Is regardless of the underlying link.
var (
	ErrDeviceNotFound   = errors.New("transport: device not found")
	ErrPermissionDenied = errors.New("transport: permission denied")
	ErrTimeout          = errors.New("transport: timeout")
	ErrLinkLost         = errors.New("transport: link lost")
	ErrUnsupported      = errors.New("transport: carrier not supported")
)

const (
	// DefaultBaudRate matches the ELM327 factory default.
	DefaultBaudRate = 38400

	// DefaultReadTimeout is the quiet interval after which a Read
	// returns (0, nil). Callers own overall deadlines and treat the
	// empty read as "no data yet", the same way a serial port with a
	// read timeout behaves.
	DefaultReadTimeout = 100 * time.Millisecond
)

// Carrier is a byte-stream link to an OBD-II adapter.
//
// Read returns (0, nil) when no data arrived within the configured read
// timeout. After Close, pending and future Reads fail with ErrLinkLost.
// Close is idempotent.
type Carrier interface {
	io.Reader
	io.Writer
	io.Closer
}

// Config describes how to open a carrier.
type Config struct {
	Carrier     Kind
	Port        string // serial device path ("auto" to pick one) or BLE MAC address
	Baud        int
	ReadTimeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.Carrier == "" {
		c.Carrier = KindSerial
	}
	if c.Baud == 0 {
		c.Baud = DefaultBaudRate
	}
	if c.ReadTimeout == 0 {
		c.ReadTimeout = DefaultReadTimeout
	}
	return c
}

// Open dials the carrier described by cfg. The demo carrier is provided
// by the caller (it is not a physical link), so asking for it here
// fails with ErrUnsupported.
func Open(cfg Config) (Carrier, error) {
	cfg = cfg.withDefaults()
	switch cfg.Carrier {
	case KindSerial:
		return OpenSerial(cfg.Port, cfg.Baud, cfg.ReadTimeout)
	case KindBLE:
		return OpenBLE(cfg.Port, cfg.ReadTimeout)
	default:
		return nil, fmt.Errorf("transport: open %q: %w", string(cfg.Carrier), ErrUnsupported)
	}
}
