//go:build !linux

package transport

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestBLEStubWrapsErrUnsupported(t *testing.T) {
	if _, err := OpenBLE("AA:BB:CC:DD:EE:FF", time.Second); !errors.Is(err, ErrUnsupported) {
		t.Errorf("OpenBLE: expected ErrUnsupported in chain, got %v", err)
	}
	if _, err := Scan(context.Background()); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Scan: expected ErrUnsupported in chain, got %v", err)
	}

	var c BLECarrier
	if _, err := c.Read(make([]byte, 8)); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Read: expected ErrUnsupported in chain, got %v", err)
	}
	if _, err := c.Write([]byte{0x01}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Write: expected ErrUnsupported in chain, got %v", err)
	}
}
