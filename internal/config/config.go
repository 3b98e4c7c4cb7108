// Package config holds the scanner's sectioned configuration document:
// connection, bluetooth, monitoring, alerts, logging, server, and the
// display sections (appearance, window, dashboard) that external UIs
// round-trip through the API. Unknown keys in a loaded file are
// ignored; missing keys fall back to defaults.
package config

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// Config is the full configuration document.
type Config struct {
	mu sync.RWMutex

	Appearance AppearanceConfig `yaml:"appearance" json:"appearance"`
	Connection ConnectionConfig `yaml:"connection" json:"connection"`
	Bluetooth  BluetoothConfig  `yaml:"bluetooth" json:"bluetooth"`
	Monitoring MonitoringConfig `yaml:"monitoring" json:"monitoring"`
	Alerts     AlertsConfig     `yaml:"alerts" json:"alerts"`
	Window     WindowConfig     `yaml:"window" json:"window"`
	Dashboard  DashboardConfig  `yaml:"dashboard" json:"dashboard"`
	Logging    LoggingConfig    `yaml:"logging" json:"logging"`
	Server     ServerConfig     `yaml:"server" json:"server"`

	path string // file path for save/load
}

// AppearanceConfig is UI theming carried for external UIs; the core
// only stores and serves it.
type AppearanceConfig struct {
	Theme    string `yaml:"theme" json:"theme"` // "dark" or "light"
	FontSize int    `yaml:"font_size" json:"fontSize"`
}

type ConnectionConfig struct {
	Carrier        string  `yaml:"carrier" json:"carrier"` // "serial", "ble", "demo"
	Port           string  `yaml:"port" json:"port"`       // device path, "auto" to pick one
	BaudRate       int     `yaml:"baud_rate" json:"baudRate"`
	Protocol       string  `yaml:"protocol" json:"protocol"` // "generic", "j1850vpw", "elm327"
	TimeoutSeconds float64 `yaml:"timeout_seconds" json:"timeoutSeconds"`
}

type BluetoothConfig struct {
	DeviceAddress string  `yaml:"device_address" json:"deviceAddress"` // BLE MAC
	DeviceName    string  `yaml:"device_name" json:"deviceName"`
	ScanSeconds   float64 `yaml:"scan_seconds" json:"scanSeconds"`
}

type MonitoringConfig struct {
	IntervalSeconds  float64  `yaml:"interval_seconds" json:"intervalSeconds"`
	WatchList        []string `yaml:"watch_list" json:"watchList"` // parameter keys
	SeriesCap        int      `yaml:"series_cap" json:"seriesCap"` // points kept per PID
	FailureThreshold int      `yaml:"failure_threshold" json:"failureThreshold"`
}

// Threshold is one alert bound; a zero level disables it.
type Threshold struct {
	Key  string  `yaml:"key" json:"key"`
	Warn float64 `yaml:"warn" json:"warn"`
	Crit float64 `yaml:"crit" json:"crit"`
}

type AlertsConfig struct {
	Enabled    bool        `yaml:"enabled" json:"enabled"`
	Thresholds []Threshold `yaml:"thresholds" json:"thresholds"`
}

// WindowConfig is window geometry round-tripped for external UIs.
type WindowConfig struct {
	Width     int  `yaml:"width" json:"width"`
	Height    int  `yaml:"height" json:"height"`
	Maximized bool `yaml:"maximized" json:"maximized"`
}

// Gauge declares the display range for one parameter.
type Gauge struct {
	Key string  `yaml:"key" json:"key"`
	Min float64 `yaml:"min" json:"min"`
	Max float64 `yaml:"max" json:"max"`
}

type DashboardConfig struct {
	Gauges []Gauge `yaml:"gauges" json:"gauges"`
}

type LoggingConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Dir     string `yaml:"dir" json:"dir"`
	MaxRows int    `yaml:"max_rows" json:"maxRows"` // rows per file before rotation
	History string `yaml:"history" json:"history"`  // DTC occurrence store path, "" disables
}

type ServerConfig struct {
	ListenAddr string `yaml:"listen_addr" json:"listenAddr"`
}

// DefaultConfig returns the documented defaults.
func DefaultConfig() *Config {
	return &Config{
		Appearance: AppearanceConfig{
			Theme:    "dark",
			FontSize: 12,
		},
		Connection: ConnectionConfig{
			Carrier:        "serial",
			Port:           "auto",
			BaudRate:       38400,
			Protocol:       "j1850vpw",
			TimeoutSeconds: 10,
		},
		Bluetooth: BluetoothConfig{
			ScanSeconds: 5,
		},
		Monitoring: MonitoringConfig{
			IntervalSeconds: 0.5,
			WatchList: []string{
				"rpm", "vehicle_speed", "engine_load",
				"coolant_temp", "intake_temp", "throttle_pos",
			},
			SeriesCap:        100,
			FailureThreshold: 5,
		},
		Alerts: AlertsConfig{
			Enabled: true,
			Thresholds: []Threshold{
				{Key: "rpm", Warn: 6000, Crit: 7000},
				{Key: "vehicle_speed", Warn: 120, Crit: 160},
				{Key: "engine_load", Warn: 80, Crit: 95},
				{Key: "coolant_temp", Warn: 90, Crit: 105},
				{Key: "intake_temp", Warn: 60, Crit: 80},
				{Key: "throttle_pos", Warn: 90, Crit: 100},
			},
		},
		Window: WindowConfig{
			Width:  1024,
			Height: 768,
		},
		Dashboard: DashboardConfig{
			Gauges: []Gauge{
				{Key: "rpm", Min: 0, Max: 8000},
				{Key: "vehicle_speed", Min: 0, Max: 200},
				{Key: "engine_load", Min: 0, Max: 100},
			},
		},
		Logging: LoggingConfig{
			Enabled: false,
			Dir:     "logs",
			MaxRows: 1000,
			History: "dtc_history.db",
		},
		Server: ServerConfig{
			ListenAddr: ":8080",
		},
	}
}

// Load reads config from a YAML or JSON file (by extension), then
// applies .env and environment variable overrides. Falls back to
// defaults if the file is missing or unparseable.
func Load(path string) *Config {
	cfg := DefaultConfig()
	cfg.path = path

	data, err := os.ReadFile(path)
	if err != nil {
		log.Printf("[config] no config at %s, using defaults", path)
	} else if err := unmarshalByExt(path, data, cfg); err != nil {
		log.Printf("[config] error parsing %s: %v, using defaults", path, err)
		cfg = DefaultConfig()
		cfg.path = path
	} else {
		log.Printf("[config] loaded from %s", path)
	}

	// Load .env from the config's directory, then the CWD.
	envPaths := []string{
		filepath.Join(filepath.Dir(path), ".env"),
		".env",
	}
	for _, ep := range envPaths {
		loadEnvFile(ep)
	}

	cfg.applyEnvOverrides()
	return cfg
}

func unmarshalByExt(path string, data []byte, cfg *Config) error {
	if strings.EqualFold(filepath.Ext(path), ".json") {
		return json.Unmarshal(data, cfg)
	}
	return yaml.Unmarshal(data, cfg)
}

// loadEnvFile reads a simple KEY=VALUE .env file and sets os env vars.
// The real environment takes precedence over file entries.
func loadEnvFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		return
	}
	log.Printf("[config] loading .env from %s", path)
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		parts := strings.SplitN(line, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		val := strings.Trim(strings.TrimSpace(parts[1]), `"'`)
		if os.Getenv(key) == "" {
			os.Setenv(key, val)
		}
	}
}

// applyEnvOverrides reads environment variables and overrides config
// values. Supported: OBD_CARRIER, OBD_PORT, OBD_BAUD, OBD_PROTOCOL,
// OBD_TIMEOUT, BLE_ADDRESS, LISTEN_ADDR, LOG_ENABLED, LOG_DIR
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("OBD_CARRIER"); v != "" {
		c.Connection.Carrier = v
	}
	if v := os.Getenv("OBD_PORT"); v != "" {
		c.Connection.Port = v
	}
	if v := os.Getenv("OBD_BAUD"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Connection.BaudRate = n
		}
	}
	if v := os.Getenv("OBD_PROTOCOL"); v != "" {
		c.Connection.Protocol = v
	}
	if v := os.Getenv("OBD_TIMEOUT"); v != "" {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			c.Connection.TimeoutSeconds = n
		}
	}
	if v := os.Getenv("BLE_ADDRESS"); v != "" {
		c.Bluetooth.DeviceAddress = v
	}
	if v := os.Getenv("LISTEN_ADDR"); v != "" {
		c.Server.ListenAddr = v
	}
	if v := os.Getenv("LOG_ENABLED"); v != "" {
		c.Logging.Enabled = v == "1" || v == "true" || v == "yes"
	}
	if v := os.Getenv("LOG_DIR"); v != "" {
		c.Logging.Dir = v
	}
}

// Save writes the config back to its file, in the format the extension
// names.
func (c *Config) Save() error {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.path == "" {
		return fmt.Errorf("config: no file path to save to")
	}

	var (
		data []byte
		err  error
	)
	if strings.EqualFold(filepath.Ext(c.path), ".json") {
		data, err = json.MarshalIndent(c, "", "  ")
	} else {
		data, err = yaml.Marshal(c)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(c.path, data, 0644)
}

// ToJSON serializes the config for the API.
func (c *Config) ToJSON() ([]byte, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return json.Marshal(c)
}

// UpdateFromJSON applies a partial JSON update by deep-merging incoming
// fields into the existing config. Fields absent from the incoming JSON
// are preserved.
func (c *Config) UpdateFromJSON(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	currentBytes, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal current config: %w", err)
	}
	var base map[string]interface{}
	if err := json.Unmarshal(currentBytes, &base); err != nil {
		return fmt.Errorf("unmarshal current config: %w", err)
	}

	var patch map[string]interface{}
	if err := json.Unmarshal(data, &patch); err != nil {
		return fmt.Errorf("unmarshal patch: %w", err)
	}

	deepMerge(base, patch)

	merged, err := json.Marshal(base)
	if err != nil {
		return fmt.Errorf("marshal merged config: %w", err)
	}
	return json.Unmarshal(merged, c)
}

// deepMerge recursively merges src into dst. Nested maps merge; every
// other type overwrites.
func deepMerge(dst, src map[string]interface{}) {
	for key, srcVal := range src {
		if srcMap, ok := srcVal.(map[string]interface{}); ok {
			if dstMap, ok := dst[key].(map[string]interface{}); ok {
				deepMerge(dstMap, srcMap)
				continue
			}
		}
		dst[key] = srcVal
	}
}
