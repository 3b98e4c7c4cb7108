package main

import (
	"log"

	"github.com/spf13/cobra"

	"github.com/dperry713/simulator/internal/dtc"
	"github.com/dperry713/simulator/internal/logger"
	"github.com/dperry713/simulator/internal/server"
)

var flagListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the WebSocket event server for external UIs",
	Long: `Start the HTTP/WebSocket server. UIs subscribe to /ws for core events
(state changes, decoded values, trouble codes, alerts) and send commands
(connect, start_monitoring, read_dtcs, ...) back over the same socket.

The server starts disconnected; the first connect command opens the link.`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "Override listen address (e.g. :8080)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadSettings()
	if flagListen != "" {
		cfg.Server.ListenAddr = flagListen
	}

	mgr, _, err := buildManager(cfg)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()

	csv := logger.New(logger.Config{
		Enabled: cfg.Logging.Enabled,
		Dir:     cfg.Logging.Dir,
		MaxRows: cfg.Logging.MaxRows,
	})
	defer csv.Close()

	var store *dtc.Store
	if cfg.Logging.History != "" {
		store, err = dtc.OpenStore(cfg.Logging.History)
		if err != nil {
			log.Printf("[main] dtc history disabled: %v", err)
		} else {
			defer store.Close()
		}
	}

	defer mgr.Disconnect()

	srv := server.New(cfg, mgr, csv, store)
	return srv.Run(ctx)
}
