// Package logger records decoded samples to per-session CSV files, one
// row per sample, with rotation once a file reaches its row cap.
package logger

import (
	"encoding/csv"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/dperry713/simulator/internal/pid"
)

// Config holds logger configuration.
type Config struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Dir     string `yaml:"dir" json:"dir"`
	MaxRows int    `yaml:"max_rows" json:"maxRows"`
}

// DefaultMaxRows rotates a session file once it holds this many samples.
const DefaultMaxRows = 1000

var csvHeader = []string{"timestamp", "pid", "parameter_name", "value", "unit"}

// Logger appends decoded samples to CSV session files.
type Logger struct {
	mu      sync.Mutex
	dir     string
	maxRows int
	enabled bool

	file   *os.File
	writer *csv.Writer
	rows   int
	seq    int
}

// New creates a Logger. Nothing touches the filesystem until the first
// recorded sample.
func New(cfg Config) *Logger {
	if cfg.Dir == "" {
		cfg.Dir = "logs"
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = DefaultMaxRows
	}
	return &Logger{
		dir:     cfg.Dir,
		maxRows: cfg.MaxRows,
		enabled: cfg.Enabled,
	}
}

// SetEnabled toggles logging at runtime. Disabling closes the current
// file.
func (l *Logger) SetEnabled(on bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.enabled = on
	if !on {
		l.closeFile()
	}
}

// IsEnabled reports whether samples are being recorded.
func (l *Logger) IsEnabled() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.enabled
}

// Record appends one decoded sample.
func (l *Logger) Record(v pid.DecodedValue) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.enabled {
		return
	}

	if l.writer == nil || l.rows >= l.maxRows {
		if err := l.rotateFile(time.Now()); err != nil {
			log.Printf("[logger] rotate failed: %v", err)
			return
		}
	}

	if err := l.writer.Write(buildRow(v)); err != nil {
		log.Printf("[logger] write failed: %v", err)
		return
	}
	l.writer.Flush()
	l.rows++
}

// Close flushes and closes the current session file.
func (l *Logger) Close() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closeFile()
}

func (l *Logger) rotateFile(now time.Time) error {
	l.closeFile()

	if err := os.MkdirAll(l.dir, 0755); err != nil {
		return fmt.Errorf("mkdir %s: %w", l.dir, err)
	}

	// The sequence number keeps rotations within the same second from
	// landing on one file.
	l.seq++
	filename := fmt.Sprintf("session_%s_%03d.csv", now.Format("2006-01-02_150405"), l.seq)
	path := filepath.Join(l.dir, filename)

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	l.file = f
	l.writer = csv.NewWriter(f)
	l.rows = 0

	if err := l.writer.Write(csvHeader); err != nil {
		return err
	}
	l.writer.Flush()

	log.Printf("[logger] opened %s", path)
	return nil
}

func (l *Logger) closeFile() {
	if l.writer != nil {
		l.writer.Flush()
		l.writer = nil
	}
	if l.file != nil {
		l.file.Close()
		l.file = nil
	}
}

func buildRow(v pid.DecodedValue) []string {
	return []string{
		v.Timestamp.Format(time.RFC3339Nano),
		fmt.Sprintf("%02X", v.Pid),
		v.Name,
		strconv.FormatFloat(v.Value, 'f', -1, 64),
		v.Unit,
	}
}
