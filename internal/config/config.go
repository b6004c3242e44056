// Package config loads application configuration from environment variables
// and the optional TOML device pool description.
package config

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/BurntSushi/toml"

	"github.com/seantiz/gantry/internal/device"
)

const (
	defaultListenAddr = ":8080"
	defaultDBPath     = "gantry.db"

	envListenAddr = "GANTRY_LISTEN_ADDR"
	envDBPath     = "GANTRY_DB_PATH"
	envLogLevel   = "GANTRY_LOG_LEVEL"
	envDevices    = "GANTRY_DEVICES"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	ListenAddr  string
	DBPath      string
	LogLevel    slog.Level
	DevicesPath string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	cfg := Config{
		ListenAddr: defaultListenAddr,
		DBPath:     defaultDBPath,
		LogLevel:   slog.LevelInfo,
	}

	if v := os.Getenv(envListenAddr); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv(envDBPath); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv(envLogLevel); v != "" {
		cfg.LogLevel = parseLogLevel(v)
	}
	cfg.DevicesPath = os.Getenv(envDevices)

	return cfg
}

func parseLogLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// NewLogger creates a structured JSON logger writing to w at the configured level.
func NewLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
	}))
}

// devicesFile is the TOML schema of the device pool description:
//
//	[[devices]]
//	name = "interp0"
//	kind = "interpreter"
//	concurrency = 8
type devicesFile struct {
	Devices []device.Config `toml:"devices"`
}

// LoadDevices reads the device pool description from the TOML file at path.
// An empty path yields the default pool: a single interpreter device.
func LoadDevices(path string) ([]device.Config, error) {
	if path == "" {
		return []device.Config{
			{Name: "interpreter0", Kind: device.KindInterpreter, Concurrency: device.DefaultConcurrency},
		}, nil
	}

	var f devicesFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("decode devices file %q: %w", path, err)
	}
	if len(f.Devices) == 0 {
		return nil, fmt.Errorf("devices file %q declares no devices", path)
	}
	return f.Devices, nil
}
