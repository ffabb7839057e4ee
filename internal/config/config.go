package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	// Servers
	HTTPAddr string
	TCPAddr  string // empty disables the candump line server

	// Streaming
	TickInterval     time.Duration
	StreamSources    []string
	PowertrainSource string
	BodySource       string
	DefaultBaud      int
	WriteTimeout     time.Duration

	// OBD-II
	ScriptDir    string
	StrictDLC    bool
	EmulatedPIDs []uint8

	// Logging
	Debug    bool
	LogLevel string
}

// Default returns the configuration used when nothing is set.
func Default() *Config {
	return &Config{
		HTTPAddr:         ":8080",
		TCPAddr:          ":9000",
		TickInterval:     200 * time.Millisecond,
		StreamSources:    []string{"A", "B"},
		PowertrainSource: "A",
		BodySource:       "B",
		DefaultBaud:      500000,
		WriteTimeout:     5 * time.Second,
		ScriptDir:        "seeds",
		EmulatedPIDs:     []uint8{0x0C, 0x0D},
	}
}

// Load reads envFile into the environment (a missing file is fine, variables
// already set win) and builds the configuration from it.
func Load(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("error loading %s: %w", envFile, err)
	}
	return FromEnv()
}

// FromEnv builds the configuration from environment variables only.
func FromEnv() (*Config, error) {
	cfg := Default()
	var err error

	if v, ok := os.LookupEnv("HTTP_ADDR"); ok {
		cfg.HTTPAddr = v
	}
	if v, ok := os.LookupEnv("TCP_ADDR"); ok {
		cfg.TCPAddr = v
	}
	if v, ok := lookup("TICK_INTERVAL_MS"); ok {
		if cfg.TickInterval, err = millis("TICK_INTERVAL_MS", v); err != nil {
			return nil, err
		}
	}
	if v, ok := lookup("WRITE_TIMEOUT_MS"); ok {
		if cfg.WriteTimeout, err = millis("WRITE_TIMEOUT_MS", v); err != nil {
			return nil, err
		}
	}
	if v, ok := lookup("STREAM_SOURCES"); ok {
		cfg.StreamSources = splitList(v)
	}
	if v, ok := lookup("TELEMETRY_POWERTRAIN_SOURCE"); ok {
		cfg.PowertrainSource = v
	}
	if v, ok := lookup("TELEMETRY_BODY_SOURCE"); ok {
		cfg.BodySource = v
	}
	if v, ok := lookup("DEFAULT_BAUD"); ok {
		if cfg.DefaultBaud, err = strconv.Atoi(v); err != nil || cfg.DefaultBaud <= 0 {
			return nil, fmt.Errorf("invalid DEFAULT_BAUD %q", v)
		}
	}
	if v, ok := lookup("SCRIPT_DIR"); ok {
		cfg.ScriptDir = v
	}
	if v, ok := lookup("STRICT_DLC"); ok {
		if cfg.StrictDLC, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("invalid STRICT_DLC %q: %w", v, err)
		}
	}
	if v, ok := lookup("EMULATED_PIDS"); ok {
		if cfg.EmulatedPIDs, err = parsePIDs(v); err != nil {
			return nil, err
		}
	}
	if v, ok := lookup("DEBUG"); ok {
		if cfg.Debug, err = strconv.ParseBool(v); err != nil {
			return nil, fmt.Errorf("invalid DEBUG %q: %w", v, err)
		}
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		cfg.LogLevel = strings.ToLower(v)
	}

	if len(cfg.StreamSources) == 0 {
		return nil, fmt.Errorf("STREAM_SOURCES must name at least one source")
	}
	return cfg, nil
}

// lookup returns a trimmed, non-empty environment value.
func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(key)
	v = strings.TrimSpace(v)
	return v, ok && v != ""
}

func millis(key, v string) (time.Duration, error) {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: want a positive number of milliseconds", key, v)
	}
	return time.Duration(n) * time.Millisecond, nil
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parsePIDs parses comma-separated hex PID codes ("0C,0x0D").
func parsePIDs(v string) ([]uint8, error) {
	var pids []uint8
	for _, p := range splitList(v) {
		p = strings.TrimPrefix(strings.ToLower(p), "0x")
		n, err := strconv.ParseUint(p, 16, 8)
		if err != nil {
			return nil, fmt.Errorf("invalid PID %q in EMULATED_PIDS: %w", p, err)
		}
		pids = append(pids, uint8(n))
	}
	return pids, nil
}
