package main

import (
	"fmt"
	"log"

	"github.com/spf13/cobra"

	"github.com/dperry713/simulator/internal/logger"
	"github.com/dperry713/simulator/internal/obd"
	"github.com/dperry713/simulator/internal/server"
)

var monitorCmd = &cobra.Command{
	Use:   "monitor [parameter...]",
	Short: "Poll live parameters and print them until interrupted",
	Long: `Connect to the vehicle and poll the watch-list continuously.

Parameters are named by registry key (rpm, vehicle_speed, coolant_temp, ...)
or hex PID (0x0C). With no arguments the watch-list comes from the config
file. Samples are appended to the CSV session log when logging is enabled.

Examples:
  obdscan monitor --demo
  obdscan monitor rpm coolant_temp --port /dev/ttyUSB0`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
}

func runMonitor(cmd *cobra.Command, args []string) error {
	cfg := loadSettings()
	mgr, mcfg, err := buildManager(cfg)
	if err != nil {
		return err
	}

	watch := args
	if len(watch) == 0 {
		watch = cfg.Monitoring.WatchList
	}
	pids, err := server.WatchPids(watch)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	events := mgr.Subscribe(256)
	defer mgr.Unsubscribe(events)

	csv := logger.New(logger.Config{
		Enabled: cfg.Logging.Enabled,
		Dir:     cfg.Logging.Dir,
		MaxRows: cfg.Logging.MaxRows,
	})
	defer csv.Close()

	if err := connect(ctx, mgr, mcfg); err != nil {
		return err
	}
	defer mgr.Disconnect()

	if err := mgr.Start(pids); err != nil {
		return err
	}

	fmt.Printf("Monitoring %d parameters every %v. Press Ctrl+C to stop.\n\n", len(pids), mcfg.Interval)

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			switch ev.Kind {
			case obd.EventValueUpdated:
				if ev.Value == nil {
					continue
				}
				v := *ev.Value
				csv.Record(v)
				name := v.Name
				if v.Unrecognized {
					name = fmt.Sprintf("PID %02X (unrecognized, raw % X)", v.Pid, v.Raw)
					fmt.Printf("%-34s\n", name)
					continue
				}
				mark := ""
				if v.OutOfRange {
					mark = "  [out of range]"
				}
				fmt.Printf("%-30s %10.1f %s%s\n", name, v.Value, v.Unit, mark)
			case obd.EventAlert:
				if ev.Alert != nil {
					fmt.Printf("!! %s: %s %.1f %s over %.1f\n",
						ev.Alert.Level, ev.Alert.Name, ev.Alert.Value, ev.Alert.Unit, ev.Alert.Limit)
				}
			case obd.EventStateChanged:
				log.Printf("[monitor] state: %s %s", ev.State, ev.Reason)
				if ev.State == obd.Error.String() {
					return fmt.Errorf("link failed: %s", ev.Reason)
				}
			}
		}
	}
}
