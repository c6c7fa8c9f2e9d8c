// Package service installs the files that let a session bus start the
// manager on demand, and controls the matching systemd user unit.
package service

import (
	"context"
	"os"
	"path/filepath"

	"github.com/bigknoxy/fake-online-accounts/internal/manager"
)

// DefaultName is the systemd unit name, without the .service suffix.
const DefaultName = "fake-online-accounts"

type Manager interface {
	Install(ctx context.Context) (Result, error)
	Uninstall(ctx context.Context) (Result, error)
	Status(ctx context.Context) (Status, error)
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	IsInstalled() bool
	Name() string
}

type Status struct {
	Installed bool
	Running   bool
	// Systemd is false when no systemd user manager could be reached.
	Systemd bool
	// Status is the unit's active/sub state, e.g. "active (running)".
	Status string
	// ExecStart is the command line recorded in the installed unit.
	ExecStart string
}

type Result struct {
	Message string
	LogPath string
	Files   []string
	Success bool
}

type Config struct {
	Name        string
	Description string
	// ExecPath is the binary the bus and systemd start.
	ExecPath string
	// BusName is the well-known name the activation file claims.
	BusName string
	// DataDir is the XDG data home that holds dbus-1/services.
	DataDir string
	// ConfigDir is the XDG config home that holds systemd/user.
	ConfigDir string
}

func (c Config) withDefaults() Config {
	home, _ := os.UserHomeDir()
	if c.Name == "" {
		c.Name = DefaultName
	}
	if c.Description == "" {
		c.Description = "Fake OnlineAccounts manager for tests"
	}
	if c.BusName == "" {
		c.BusName = manager.BusName
	}
	if c.DataDir == "" {
		c.DataDir = os.Getenv("XDG_DATA_HOME")
	}
	if c.DataDir == "" {
		c.DataDir = filepath.Join(home, ".local", "share")
	}
	if c.ConfigDir == "" {
		c.ConfigDir = os.Getenv("XDG_CONFIG_HOME")
	}
	if c.ConfigDir == "" {
		c.ConfigDir = filepath.Join(home, ".config")
	}
	return c
}

// ActivationPath is where the session bus looks for the service file.
func (c Config) ActivationPath() string {
	return filepath.Join(c.DataDir, "dbus-1", "services", c.BusName+".service")
}

// UnitPath is where the systemd user manager looks for the unit.
func (c Config) UnitPath() string {
	return filepath.Join(c.ConfigDir, "systemd", "user", c.UnitName())
}

// UnitName is the unit file name including its suffix.
func (c Config) UnitName() string {
	return c.Name + ".service"
}
