// obdscan is a headless OBD-II scanner: it reads live vehicle data and
// diagnostic trouble codes over a serial or Bluetooth LE adapter, logs
// samples to CSV, and can serve events to external UIs over WebSocket.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/dperry713/simulator/internal/config"
	"github.com/dperry713/simulator/internal/obd"
	"github.com/dperry713/simulator/internal/server"
	"github.com/dperry713/simulator/internal/sim"
	"github.com/dperry713/simulator/internal/transport"
)

var (
	configPath   string
	flagCarrier  string
	flagPort     string
	flagBaud     int
	flagProtocol string
	flagDemo     bool
)

var rootCmd = &cobra.Command{
	Use:   "obdscan",
	Short: "OBD-II scanner: live data, trouble codes, event server",
	Long: `obdscan talks to a vehicle over a serial or Bluetooth LE OBD-II adapter.

It polls live parameters (RPM, speed, temperatures, ...), reads and clears
diagnostic trouble codes, and logs samples to CSV. The serve command exposes
the same data to external UIs as a WebSocket event stream.

Connection settings come from the config file and can be overridden per run:
  Serial: --port /dev/ttyUSB0 [--baud 38400]
  BLE:    --carrier ble --port AA:BB:CC:DD:EE:FF
  Demo:   --demo (simulated engine, no hardware needed)`,
	Version: "1.0.0",
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.yaml", "Path to config file (YAML or JSON)")
	rootCmd.PersistentFlags().StringVar(&flagCarrier, "carrier", "", "Link carrier: serial, ble, or demo")
	rootCmd.PersistentFlags().StringVarP(&flagPort, "port", "p", "", "Serial device path (\"auto\" to pick one) or BLE address")
	rootCmd.PersistentFlags().IntVarP(&flagBaud, "baud", "b", 0, "Baud rate (serial only)")
	rootCmd.PersistentFlags().StringVar(&flagProtocol, "protocol", "", "Link protocol: generic, j1850vpw, or elm327")
	rootCmd.PersistentFlags().BoolVar(&flagDemo, "demo", false, "Run against the simulated engine")
}

func main() {
	log.SetFlags(log.Ldate | log.Ltime | log.Lshortfile)
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadSettings reads the config file and lays the command-line
// overrides on top.
func loadSettings() *config.Config {
	cfg := config.Load(configPath)
	if flagCarrier != "" {
		cfg.Connection.Carrier = flagCarrier
	}
	if flagPort != "" {
		cfg.Connection.Port = flagPort
	}
	if flagBaud > 0 {
		cfg.Connection.BaudRate = flagBaud
	}
	if flagProtocol != "" {
		cfg.Connection.Protocol = flagProtocol
	}
	if flagDemo {
		cfg.Connection.Carrier = "demo"
	}
	return cfg
}

// buildManager wires a manager whose dialer routes the demo carrier to
// the simulated engine.
func buildManager(cfg *config.Config) (*obd.Manager, obd.Config, error) {
	mcfg, err := server.ConnectionConfig(cfg)
	if err != nil {
		return nil, obd.Config{}, err
	}

	mgr := obd.NewManager()
	dial := mgr.Dial
	mgr.Dial = func(c obd.Config) (transport.Carrier, error) {
		if c.Carrier == transport.KindDemo {
			ecu, err := sim.New(c.Protocol)
			return ecu, err
		}
		return dial(c)
	}
	return mgr, mcfg, nil
}

// signalContext returns a context cancelled by SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.Printf("[main] received %v, shutting down", sig)
		cancel()
	}()
	return ctx, cancel
}

// connect runs a full connection attempt and waits for the outcome.
func connect(ctx context.Context, mgr *obd.Manager, mcfg obd.Config) error {
	if err := mgr.Connect(mcfg); err != nil {
		return err
	}
	return mgr.WaitReady(ctx)
}
