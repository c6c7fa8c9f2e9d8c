package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaults(t *testing.T) {
	cfg := Defaults()

	if cfg.Bus != BusSession {
		t.Errorf("expected bus %s, got %s", BusSession, cfg.Bus)
	}
	if cfg.BusName != "com.ubuntu.OnlineAccounts.Manager" {
		t.Errorf("unexpected bus name %s", cfg.BusName)
	}
	if cfg.ObjectPath != "/com/ubuntu/OnlineAccounts/Manager" {
		t.Errorf("unexpected object path %s", cfg.ObjectPath)
	}
	if cfg.HonorFilters {
		t.Error("expected filters to be ignored by default")
	}
	if cfg.AccountsFile != "" {
		t.Errorf("expected no accounts file, got %s", cfg.AccountsFile)
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected log level 'info', got %s", cfg.LogLevel)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
		errMsg  string
	}{
		{
			name:   "valid config",
			mutate: func(*Config) {},
		},
		{
			name:   "system bus",
			mutate: func(c *Config) { c.Bus = BusSystem },
		},
		{
			name:    "unknown bus",
			mutate:  func(c *Config) { c.Bus = "starter" },
			wantErr: true,
			errMsg:  "bus must be",
		},
		{
			name: "unknown bus ignored with address",
			mutate: func(c *Config) {
				c.Bus = ""
				c.Address = "unix:path=/tmp/bus"
			},
		},
		{
			name:    "empty bus name",
			mutate:  func(c *Config) { c.BusName = "" },
			wantErr: true,
			errMsg:  "invalid bus name",
		},
		{
			name:    "bus name without dot",
			mutate:  func(c *Config) { c.BusName = "manager" },
			wantErr: true,
			errMsg:  "invalid bus name",
		},
		{
			name:    "relative object path",
			mutate:  func(c *Config) { c.ObjectPath = "com/ubuntu" },
			wantErr: true,
			errMsg:  "invalid object path",
		},
		{
			name:    "trailing slash object path",
			mutate:  func(c *Config) { c.ObjectPath = "/com/ubuntu/" },
			wantErr: true,
			errMsg:  "invalid object path",
		},
		{
			name:    "invalid log level",
			mutate:  func(c *Config) { c.LogLevel = "verbose" },
			wantErr: true,
			errMsg:  "log_level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !strings.Contains(err.Error(), tt.errMsg) {
					t.Errorf("expected error containing %q, got %q", tt.errMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestLoadNoConfigFile(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.BusName != DefaultBusName {
		t.Errorf("expected default bus name, got %s", cfg.BusName)
	}
}

func TestLoadWithConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	data := `{
		"bus": "system",
		"accounts_file": "/etc/fake/accounts.yaml",
		"honor_filters": true,
		"log_level": "DEBUG",
		"log_file": "/var/tmp/fake-online-accounts.log"
	}`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Bus != BusSystem {
		t.Errorf("expected system bus, got %s", cfg.Bus)
	}
	if cfg.AccountsFile != "/etc/fake/accounts.yaml" {
		t.Errorf("unexpected accounts file %s", cfg.AccountsFile)
	}
	if !cfg.HonorFilters {
		t.Error("expected honor_filters from file")
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected normalized log level 'debug', got %s", cfg.LogLevel)
	}
	if cfg.LogFile != "/var/tmp/fake-online-accounts.log" {
		t.Errorf("unexpected log file %s", cfg.LogFile)
	}
	if cfg.ObjectPath != DefaultObjectPath {
		t.Errorf("unset fields should keep defaults, got %s", cfg.ObjectPath)
	}
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoadInvalidFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"object_path": "nope"}`), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"bus": "system"}`), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("FAKEOA_BUS", "session")
	t.Setenv("FAKEOA_ADDRESS", "unix:path=/tmp/test-bus")
	t.Setenv("FAKEOA_BUS_NAME", "com.example.Accounts")
	t.Setenv("FAKEOA_OBJECT_PATH", "/com/example/Accounts")
	t.Setenv("FAKEOA_ACCOUNTS_FILE", "seed.json")
	t.Setenv("FAKEOA_HONOR_FILTERS", "1")
	t.Setenv("FAKEOA_LOG_LEVEL", "warn")
	t.Setenv("FAKEOA_LOG_JSON", "true")
	t.Setenv("FAKEOA_LOG_FILE", "/tmp/fake.log")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Bus != BusSession {
		t.Errorf("env should override file bus, got %s", cfg.Bus)
	}
	if cfg.Address != "unix:path=/tmp/test-bus" {
		t.Errorf("unexpected address %s", cfg.Address)
	}
	if cfg.BusName != "com.example.Accounts" || cfg.ObjectPath != "/com/example/Accounts" {
		t.Errorf("unexpected identity %s %s", cfg.BusName, cfg.ObjectPath)
	}
	if cfg.AccountsFile != "seed.json" || !cfg.HonorFilters {
		t.Errorf("unexpected accounts settings %s %t", cfg.AccountsFile, cfg.HonorFilters)
	}
	if cfg.LogLevel != "warn" || !cfg.LogJSON {
		t.Errorf("unexpected log settings %s %t", cfg.LogLevel, cfg.LogJSON)
	}
	if cfg.LogFile != "/tmp/fake.log" {
		t.Errorf("unexpected log file %s", cfg.LogFile)
	}
}

func TestConfigString(t *testing.T) {
	cfg := Defaults()
	s := cfg.String()
	if !strings.Contains(s, "session") || !strings.Contains(s, DefaultBusName) {
		t.Errorf("unexpected String(): %s", s)
	}

	cfg.Address = "unix:path=/tmp/x"
	if !strings.Contains(cfg.String(), "unix:path=/tmp/x") {
		t.Errorf("address should be shown when set: %s", cfg.String())
	}
}

func TestDefaultPath(t *testing.T) {
	if filepath.Base(DefaultPath()) != "config.json" {
		t.Errorf("unexpected default path %s", DefaultPath())
	}
}
