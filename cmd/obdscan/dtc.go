package main

import (
	"fmt"
	"log"
	"time"

	"github.com/spf13/cobra"

	"github.com/dperry713/simulator/internal/dtc"
)

var dtcCmd = &cobra.Command{
	Use:   "dtc",
	Short: "Read, clear, and review diagnostic trouble codes",
}

var dtcReadCmd = &cobra.Command{
	Use:   "read",
	Short: "Read stored, pending, and permanent trouble codes",
	RunE:  runDTCRead,
}

var dtcClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Clear stored and pending trouble codes",
	Long: `Ask the vehicle to erase its stored and pending trouble codes.

Success requires the vehicle's acknowledgement; a missing acknowledgement is
reported as a failure. Permanent codes cannot be cleared this way, and the
local occurrence history is never touched.`,
	RunE: runDTCClear,
}

var dtcHistoryCmd = &cobra.Command{
	Use:   "history",
	Short: "Show every trouble code ever observed, most recent first",
	RunE:  runDTCHistory,
}

func init() {
	dtcCmd.AddCommand(dtcReadCmd)
	dtcCmd.AddCommand(dtcClearCmd)
	dtcCmd.AddCommand(dtcHistoryCmd)
	rootCmd.AddCommand(dtcCmd)
}

func runDTCRead(cmd *cobra.Command, args []string) error {
	cfg := loadSettings()
	mgr, mcfg, err := buildManager(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := connect(ctx, mgr, mcfg); err != nil {
		return err
	}
	defer mgr.Disconnect()

	entries, err := mgr.ReadDTCs(ctx)
	if err != nil {
		return err
	}

	if len(entries) == 0 {
		fmt.Println("No trouble codes.")
	} else {
		fmt.Printf("%d trouble code(s):\n\n", len(entries))
		for _, e := range entries {
			fmt.Printf("  %-6s %-10s %s\n", e.Code, e.Status, e.Description)
		}
	}

	// Book the sightings so "dtc history" remembers them after a clear.
	if cfg.Logging.History != "" && len(entries) > 0 {
		store, err := dtc.OpenStore(cfg.Logging.History)
		if err != nil {
			log.Printf("[dtc] history store: %v", err)
			return nil
		}
		defer store.Close()
		if err := store.Observe(entries, time.Now()); err != nil {
			log.Printf("[dtc] history store: %v", err)
		}
	}
	return nil
}

func runDTCClear(cmd *cobra.Command, args []string) error {
	cfg := loadSettings()
	mgr, mcfg, err := buildManager(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	if err := connect(ctx, mgr, mcfg); err != nil {
		return err
	}
	defer mgr.Disconnect()

	if err := mgr.ClearDTCs(ctx); err != nil {
		return err
	}
	fmt.Println("Trouble codes cleared (vehicle acknowledged).")
	return nil
}

func runDTCHistory(cmd *cobra.Command, args []string) error {
	cfg := loadSettings()
	if cfg.Logging.History == "" {
		return fmt.Errorf("dtc history is disabled (logging.history is empty)")
	}

	store, err := dtc.OpenStore(cfg.Logging.History)
	if err != nil {
		return err
	}
	defer store.Close()

	records, err := store.History()
	if err != nil {
		return err
	}
	if len(records) == 0 {
		fmt.Println("No trouble codes on record.")
		return nil
	}

	fmt.Printf("%d code(s) on record:\n\n", len(records))
	for _, r := range records {
		fmt.Printf("  %-6s seen %dx, last %s (%s)\n      %s\n",
			r.Code, r.Count, r.LastSeen.Format("2006-01-02 15:04"), r.LastStatus, r.Description)
	}
	return nil
}
