package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/dperry713/simulator/internal/transport"
)

var scanCmd = &cobra.Command{
	Use:   "scan",
	Short: "Discover Bluetooth LE adapters nearby",
	Long: `Scan for Bluetooth LE devices for the configured number of seconds
(bluetooth.scan_seconds) and list their addresses. Connect to one with:

  obdscan monitor --carrier ble --port <address>`,
	RunE: runScan,
}

func init() {
	rootCmd.AddCommand(scanCmd)
}

func runScan(cmd *cobra.Command, args []string) error {
	cfg := loadSettings()

	seconds := cfg.Bluetooth.ScanSeconds
	if seconds <= 0 {
		seconds = 5
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(seconds*float64(time.Second)))
	defer cancel()

	fmt.Printf("Scanning for %.0fs...\n", seconds)
	devices, err := transport.Scan(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Println("No devices found.")
		return nil
	}

	for _, d := range devices {
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		fmt.Printf("  %s  %-24s RSSI %d\n", d.Address, name, d.RSSI)
	}
	return nil
}
