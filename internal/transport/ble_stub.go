// BLE stub for non-Linux platforms.
//
// The BLE carrier rides on the BlueZ D-Bus API, which only exists on
// Linux. This stub keeps the package compiling elsewhere.

//go:build !linux

package transport

import (
	"context"
	"fmt"
	"time"
)

// Device describes a BLE peripheral seen during a scan (stub).
type Device struct {
	Address string `json:"address"`
	Name    string `json:"name,omitempty"`
	RSSI    int16  `json:"rssi,omitempty"`
}

// BLECarrier is unavailable on this platform.
type BLECarrier struct{}

// OpenBLE reports that BLE is not supported on this platform.
func OpenBLE(address string, readTimeout time.Duration) (*BLECarrier, error) {
	return nil, fmt.Errorf("transport: ble on this platform: %w", ErrUnsupported)
}

// Scan reports that BLE is not supported on this platform.
func Scan(ctx context.Context) ([]Device, error) {
	return nil, fmt.Errorf("transport: ble on this platform: %w", ErrUnsupported)
}

func (c *BLECarrier) Read(p []byte) (int, error) {
	return 0, fmt.Errorf("transport: ble read on this platform: %w", ErrUnsupported)
}

func (c *BLECarrier) Write(p []byte) (int, error) {
	return 0, fmt.Errorf("transport: ble write on this platform: %w", ErrUnsupported)
}
func (c *BLECarrier) Close() error { return nil }
