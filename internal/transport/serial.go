package transport

import (
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"sync"
	"time"

	"go.bug.st/serial"
)

// SerialCarrier drives a USB or native serial link to the adapter.
// Close may be called from another goroutine to unblock a pending Read.
type SerialCarrier struct {
	mu     sync.Mutex
	closed bool
	port   serial.Port
	name   string
}

// OpenSerial opens the named port at the given baud rate with 8-N-1
// framing. An empty name or "auto" picks the most plausible adapter
// port on the host.
func OpenSerial(name string, baud int, readTimeout time.Duration) (*SerialCarrier, error) {
	if name == "" || name == "auto" {
		picked, err := AutoSelectPort()
		if err != nil {
			return nil, err
		}
		name = picked
	}

	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(name, mode)
	if err != nil {
		return nil, mapSerialError("open "+name, err)
	}
	if err := port.SetReadTimeout(readTimeout); err != nil {
		port.Close()
		return nil, mapSerialError("set timeout on "+name, err)
	}
	// Adapters spew boot banners and stale responses; start clean.
	port.ResetInputBuffer()

	log.Printf("[transport] opened %s at %d baud", name, baud)
	return &SerialCarrier{port: port, name: name}, nil
}

// Name reports the device path the carrier was opened on.
func (c *SerialCarrier) Name() string { return c.name }

func (c *SerialCarrier) Read(p []byte) (int, error) {
	if c.isClosed() {
		return 0, fmt.Errorf("transport: read %s: %w", c.name, ErrLinkLost)
	}
	n, err := c.port.Read(p)
	if err != nil {
		return n, mapSerialError("read "+c.name, err)
	}
	return n, nil
}

func (c *SerialCarrier) Write(p []byte) (int, error) {
	if c.isClosed() {
		return 0, fmt.Errorf("transport: write %s: %w", c.name, ErrLinkLost)
	}
	n, err := c.port.Write(p)
	if err != nil {
		return n, mapSerialError("write "+c.name, err)
	}
	return n, nil
}

func (c *SerialCarrier) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	if err := c.port.Close(); err != nil {
		return mapSerialError("close "+c.name, err)
	}
	return nil
}

func (c *SerialCarrier) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// mapSerialError folds library and OS errors into the carrier failure
// classes so callers never have to know which link they are on.
func mapSerialError(op string, err error) error {
	var pe *serial.PortError
	if errors.As(err, &pe) {
		switch pe.Code() {
		case serial.PortNotFound, serial.InvalidSerialPort:
			return fmt.Errorf("transport: %s: %w", op, ErrDeviceNotFound)
		case serial.PermissionDenied, serial.PortBusy:
			return fmt.Errorf("transport: %s: %w", op, ErrPermissionDenied)
		case serial.PortClosed:
			return fmt.Errorf("transport: %s: %w", op, ErrLinkLost)
		}
	}
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("transport: %s: %w", op, ErrDeviceNotFound)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("transport: %s: %w", op, ErrPermissionDenied)
	case errors.Is(err, io.EOF):
		// An unplugged USB adapter surfaces as EOF on some platforms.
		return fmt.Errorf("transport: %s: %w", op, ErrLinkLost)
	}
	return fmt.Errorf("transport: %s: %w", op, err)
}
