package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/godbus/dbus/v5"
)

// Logger is a simple logger interface for the config package.
type Logger interface {
	Warn(args ...any)
	Info(args ...any)
}

type defaultLogger struct{}

func (d *defaultLogger) Warn(args ...any) {
	log.Println(append([]any{"WARN:"}, args...)...)
}

func (d *defaultLogger) Info(args ...any) {
	log.Println(append([]any{"INFO:"}, args...)...)
}

var logger Logger = &defaultLogger{}

// SetLogger sets the logger for the config package.
func SetLogger(l Logger) {
	logger = l
}

const (
	// BusSession selects the per-user session bus.
	BusSession = "session"
	// BusSystem selects the system bus.
	BusSystem = "system"

	// DefaultBusName is the well-known name client libraries look for.
	DefaultBusName = "com.ubuntu.OnlineAccounts.Manager"
	// DefaultObjectPath is where the manager object is exported.
	DefaultObjectPath = "/com/ubuntu/OnlineAccounts/Manager"

	// EnvPrefix prefixes every environment override.
	EnvPrefix = "FAKEOA_"
)

// DefaultHome is the default configuration directory.
var DefaultHome = filepath.Join(os.Getenv("HOME"), ".fake-online-accounts")

// DefaultPath returns the config file used when none is given.
func DefaultPath() string {
	return filepath.Join(DefaultHome, "config.json")
}

// Config is the root configuration.
type Config struct {
	// Bus is "session" or "system". Ignored when Address is set.
	Bus string `json:"bus"`
	// Address is an explicit bus address, e.g. unix:path=/tmp/bus.
	Address string `json:"address"`

	BusName    string `json:"bus_name"`
	ObjectPath string `json:"object_path"`

	// AccountsFile replaces the built-in accounts when set.
	AccountsFile string `json:"accounts_file"`
	// HonorFilters makes GetAccounts apply serviceId/accountId filters.
	HonorFilters bool `json:"honor_filters"`

	LogLevel string `json:"log_level"`
	LogJSON  bool   `json:"log_json"`
	// LogFile receives a copy of every log line when set.
	LogFile string `json:"log_file"`
}

// Defaults returns a Config with all default values set.
func Defaults() *Config {
	return &Config{
		Bus:        BusSession,
		BusName:    DefaultBusName,
		ObjectPath: DefaultObjectPath,
		LogLevel:   "info",
	}
}

func applyEnvOverrides(cfg *Config) {
	getEnv := func(key string) string {
		return strings.TrimSpace(os.Getenv(EnvPrefix + key))
	}
	getBool := func(v string) bool {
		return v == "true" || v == "1"
	}

	if v := getEnv("BUS"); v != "" {
		cfg.Bus = v
	}
	if v := getEnv("ADDRESS"); v != "" {
		cfg.Address = v
	}
	if v := getEnv("BUS_NAME"); v != "" {
		cfg.BusName = v
	}
	if v := getEnv("OBJECT_PATH"); v != "" {
		cfg.ObjectPath = v
	}
	if v := getEnv("ACCOUNTS_FILE"); v != "" {
		cfg.AccountsFile = v
	}
	if v := getEnv("HONOR_FILTERS"); v != "" {
		cfg.HonorFilters = getBool(v)
	}
	if v := getEnv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := getEnv("LOG_JSON"); v != "" {
		cfg.LogJSON = getBool(v)
	}
	if v := getEnv("LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
}

// Validate returns an error describing the first invalid field.
func (c *Config) Validate() error {
	if c.Address == "" && c.Bus != BusSession && c.Bus != BusSystem {
		return fmt.Errorf("bus must be %q or %q, got %q", BusSession, BusSystem, c.Bus)
	}

	if c.BusName == "" || !strings.Contains(c.BusName, ".") {
		return fmt.Errorf("invalid bus name %q", c.BusName)
	}

	if !dbus.ObjectPath(c.ObjectPath).IsValid() {
		return fmt.Errorf("invalid object path %q", c.ObjectPath)
	}

	validLogLevels := map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
	if !validLogLevels[c.LogLevel] {
		return errors.New("log_level must be one of: debug, info, warn, error")
	}

	return nil
}

// Load reads configuration from path (DefaultPath when empty).
// Priority: env vars > config file > defaults. A missing file is not an error;
// an unreadable or malformed one is.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath()
	}

	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
		logger.Info("Loaded config", "path", path)
	case errors.Is(err, os.ErrNotExist):
	default:
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// String returns a string representation of the config (for debugging).
func (c *Config) String() string {
	target := c.Bus
	if c.Address != "" {
		target = c.Address
	}
	return fmt.Sprintf("Config{Bus: %s, BusName: %s, ObjectPath: %s, AccountsFile: %q, HonorFilters: %t, LogLevel: %s}",
		target,
		c.BusName,
		c.ObjectPath,
		c.AccountsFile,
		c.HonorFilters,
		c.LogLevel,
	)
}
