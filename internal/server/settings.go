package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/dperry713/simulator/internal/config"
	"github.com/dperry713/simulator/internal/obd"
	"github.com/dperry713/simulator/internal/pid"
	"github.com/dperry713/simulator/internal/protocol"
	"github.com/dperry713/simulator/internal/transport"
)

// ConnectionConfig translates the loaded document into the manager's
// per-attempt config. BLE connections take the port from the bluetooth
// section when one is configured there.
func ConnectionConfig(cfg *config.Config) (obd.Config, error) {
	carrier, err := transport.ParseKind(cfg.Connection.Carrier)
	if err != nil {
		return obd.Config{}, err
	}
	proto, err := protocol.ParseProtocol(cfg.Connection.Protocol)
	if err != nil {
		return obd.Config{}, err
	}

	port := cfg.Connection.Port
	if carrier == transport.KindBLE && cfg.Bluetooth.DeviceAddress != "" {
		port = cfg.Bluetooth.DeviceAddress
	}

	out := obd.Config{
		Carrier:          carrier,
		Port:             port,
		Baud:             cfg.Connection.BaudRate,
		Protocol:         proto,
		Interval:         time.Duration(cfg.Monitoring.IntervalSeconds * float64(time.Second)),
		Timeout:          time.Duration(cfg.Connection.TimeoutSeconds * float64(time.Second)),
		FailureThreshold: cfg.Monitoring.FailureThreshold,
		SeriesCap:        cfg.Monitoring.SeriesCap,
	}
	if cfg.Alerts.Enabled {
		for _, t := range cfg.Alerts.Thresholds {
			out.Thresholds = append(out.Thresholds, obd.Threshold{Key: t.Key, Warn: t.Warn, Crit: t.Crit})
		}
	}
	return out, nil
}

// WatchPids maps watch-list entries to PID bytes. Entries are registry
// keys ("rpm") or hex PIDs ("0x0C", "0C").
func WatchPids(entries []string) ([]byte, error) {
	if len(entries) == 0 {
		return nil, fmt.Errorf("server: empty watch list")
	}
	out := make([]byte, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if p, ok := pid.LookupKey(e); ok {
			out = append(out, p.Pid)
			continue
		}
		n, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(e), "0x"), 16, 8)
		if err != nil {
			return nil, fmt.Errorf("server: unknown parameter %q", e)
		}
		out = append(out, byte(n))
	}
	return out, nil
}
