package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dperry713/simulator/internal/server"
)

var readCmd = &cobra.Command{
	Use:   "read <parameter> [parameter...]",
	Short: "Read parameters once and print their values",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runRead,
}

func init() {
	rootCmd.AddCommand(readCmd)
}

func runRead(cmd *cobra.Command, args []string) error {
	cfg := loadSettings()
	mgr, mcfg, err := buildManager(cfg)
	if err != nil {
		return err
	}
	pids, err := server.WatchPids(args)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := connect(ctx, mgr, mcfg); err != nil {
		return err
	}
	defer mgr.Disconnect()

	for _, p := range pids {
		v, err := mgr.ReadOnce(ctx, p)
		if err != nil {
			return fmt.Errorf("read pid %02X: %w", p, err)
		}
		if v.Unrecognized {
			fmt.Printf("PID %02X: unrecognized, raw % X\n", v.Pid, v.Raw)
			continue
		}
		fmt.Printf("%-30s %10.1f %s\n", v.Name, v.Value, v.Unit)
	}
	return nil
}
