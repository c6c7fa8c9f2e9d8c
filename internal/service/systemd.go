package service

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	sddbus "github.com/coreos/go-systemd/v22/dbus"
	"github.com/coreos/go-systemd/v22/unit"
	"github.com/coreos/go-systemd/v22/util"
	"github.com/juju/errors"

	"github.com/bigknoxy/fake-online-accounts/internal/log"
)

// ErrNoSystemd is returned by the default SystemdAPI factory when the host
// does not run systemd. File installation still works without it.
const ErrNoSystemd = errors.ConstError("systemd is not running")

// SystemdAPI is the part of the systemd user manager's D-Bus API we use.
// *sddbus.Conn satisfies it.
type SystemdAPI interface {
	Close()
	ReloadContext(ctx context.Context) error
	StartUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	StopUnitContext(ctx context.Context, name string, mode string, ch chan<- string) (int, error)
	ListUnitsByNamesContext(ctx context.Context, units []string) ([]sddbus.UnitStatus, error)
}

// SystemdAPIFactory opens a connection to the systemd user manager.
type SystemdAPIFactory func(ctx context.Context) (SystemdAPI, error)

// NewSystemdAPI connects to the calling user's systemd instance.
func NewSystemdAPI(ctx context.Context) (SystemdAPI, error) {
	if !util.IsRunningSystemd() {
		return nil, ErrNoSystemd
	}
	conn, err := sddbus.NewUserConnectionContext(ctx)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

type Option func(*systemdManager)

// WithSystemdAPI replaces NewSystemdAPI.
func WithSystemdAPI(f SystemdAPIFactory) Option {
	return func(s *systemdManager) {
		s.newAPI = f
	}
}

type systemdManager struct {
	config Config
	newAPI SystemdAPIFactory
	logger *log.Logger
}

// NewManager returns a Manager for the per-user activation file and unit.
func NewManager(cfg Config, opts ...Option) (Manager, error) {
	cfg = cfg.withDefaults()
	if cfg.ExecPath == "" {
		exe, err := os.Executable()
		if err != nil {
			return nil, fmt.Errorf("failed to locate executable: %w", err)
		}
		cfg.ExecPath = exe
	}

	s := &systemdManager{
		config: cfg,
		newAPI: NewSystemdAPI,
		logger: log.SubPackage("service"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

func (s *systemdManager) Name() string {
	return "systemd --user"
}

func (s *systemdManager) IsInstalled() bool {
	return exists(s.config.UnitPath()) && exists(s.config.ActivationPath())
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (s *systemdManager) execStart() string {
	return s.config.ExecPath + " serve"
}

func (s *systemdManager) unitOptions() []*unit.UnitOption {
	return []*unit.UnitOption{
		unit.NewUnitOption("Unit", "Description", s.config.Description),
		unit.NewUnitOption("Service", "Type", "notify"),
		unit.NewUnitOption("Service", "BusName", s.config.BusName),
		unit.NewUnitOption("Service", "ExecStart", s.execStart()),
	}
}

// activationOptions uses the unit file syntax, which the bus's service
// files share.
func (s *systemdManager) activationOptions() []*unit.UnitOption {
	return []*unit.UnitOption{
		unit.NewUnitOption("D-BUS Service", "Name", s.config.BusName),
		unit.NewUnitOption("D-BUS Service", "Exec", s.execStart()),
		unit.NewUnitOption("D-BUS Service", "SystemdService", s.config.UnitName()),
	}
}

func writeOptions(path string, opts []*unit.UnitOption) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(path), err)
	}
	data, err := io.ReadAll(unit.Serialize(opts))
	if err != nil {
		return fmt.Errorf("failed to render %s: %w", path, err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", path, err)
	}
	return nil
}

func (s *systemdManager) Install(ctx context.Context) (Result, error) {
	if s.IsInstalled() {
		return Result{}, errors.AlreadyExistsf("service at %s", s.config.UnitPath())
	}

	if err := writeOptions(s.config.UnitPath(), s.unitOptions()); err != nil {
		return Result{}, err
	}
	if err := writeOptions(s.config.ActivationPath(), s.activationOptions()); err != nil {
		return Result{}, err
	}
	if err := s.reload(ctx); err != nil {
		return Result{}, err
	}

	s.logger.Info("Installed service", "unit", s.config.UnitPath(), "activation", s.config.ActivationPath())
	return Result{
		Success: true,
		Message: "Service installed successfully!",
		LogPath: "journalctl --user -u " + s.config.Name + " -f",
		Files:   []string{s.config.UnitPath(), s.config.ActivationPath()},
	}, nil
}

func (s *systemdManager) Uninstall(ctx context.Context) (Result, error) {
	if !exists(s.config.UnitPath()) && !exists(s.config.ActivationPath()) {
		return Result{}, errors.NotFoundf("service %s", s.config.Name)
	}

	if err := s.Stop(ctx); err != nil && !errors.Is(err, errors.NotFound) {
		return Result{}, err
	}

	var removed []string
	for _, path := range []string{s.config.ActivationPath(), s.config.UnitPath()} {
		err := os.Remove(path)
		switch {
		case err == nil:
			removed = append(removed, path)
		case !os.IsNotExist(err):
			return Result{}, fmt.Errorf("failed to remove %s: %w", path, err)
		}
	}
	if err := s.reload(ctx); err != nil {
		return Result{}, err
	}

	s.logger.Info("Uninstalled service", "files", len(removed))
	return Result{
		Success: true,
		Message: "Service uninstalled successfully!",
		Files:   removed,
	}, nil
}

func (s *systemdManager) Start(ctx context.Context) error {
	if !s.IsInstalled() {
		return errors.NotFoundf("service %s", s.config.Name)
	}
	api, err := s.newAPI(ctx)
	if err != nil {
		return fmt.Errorf("failed to connect to systemd: %w", err)
	}
	defer api.Close()

	ch := make(chan string, 1)
	if _, err := api.StartUnitContext(ctx, s.config.UnitName(), "replace", ch); err != nil {
		return fmt.Errorf("failed to start %s: %w", s.config.UnitName(), err)
	}
	return wait(ctx, "start", ch)
}

// Stop stops the unit. It returns a NotFound error when the unit is not
// running.
func (s *systemdManager) Stop(ctx context.Context) error {
	api, err := s.newAPI(ctx)
	if errors.Is(err, ErrNoSystemd) {
		return errors.NotFoundf("running service %s", s.config.Name)
	}
	if err != nil {
		return fmt.Errorf("failed to connect to systemd: %w", err)
	}
	defer api.Close()

	running, _, err := s.unitState(ctx, api)
	if err != nil {
		return err
	}
	if !running {
		return errors.NotFoundf("running service %s", s.config.Name)
	}

	ch := make(chan string, 1)
	if _, err := api.StopUnitContext(ctx, s.config.UnitName(), "replace", ch); err != nil {
		return fmt.Errorf("failed to stop %s: %w", s.config.UnitName(), err)
	}
	return wait(ctx, "stop", ch)
}

func (s *systemdManager) Status(ctx context.Context) (Status, error) {
	status := Status{Installed: s.IsInstalled()}

	if data, err := os.ReadFile(s.config.UnitPath()); err == nil {
		opts, err := unit.DeserializeOptions(bytes.NewReader(data))
		if err != nil {
			return status, fmt.Errorf("failed to parse %s: %w", s.config.UnitPath(), err)
		}
		for _, opt := range opts {
			if opt.Section == "Service" && opt.Name == "ExecStart" {
				status.ExecStart = opt.Value
			}
		}
	}

	api, err := s.newAPI(ctx)
	if errors.Is(err, ErrNoSystemd) {
		status.Status = "systemd not running"
		return status, nil
	}
	if err != nil {
		return status, fmt.Errorf("failed to connect to systemd: %w", err)
	}
	defer api.Close()

	status.Systemd = true
	status.Running, status.Status, err = s.unitState(ctx, api)
	return status, err
}

func (s *systemdManager) unitState(ctx context.Context, api SystemdAPI) (bool, string, error) {
	units, err := api.ListUnitsByNamesContext(ctx, []string{s.config.UnitName()})
	if err != nil {
		return false, "", fmt.Errorf("failed to query %s: %w", s.config.UnitName(), err)
	}
	for _, u := range units {
		if u.Name == s.config.UnitName() {
			running := u.LoadState == "loaded" && u.ActiveState == "active"
			return running, fmt.Sprintf("%s (%s)", u.ActiveState, u.SubState), nil
		}
	}
	return false, "unknown", nil
}

// reload asks systemd to pick up changed unit files. Without systemd there
// is nothing to reload.
func (s *systemdManager) reload(ctx context.Context) error {
	api, err := s.newAPI(ctx)
	if errors.Is(err, ErrNoSystemd) {
		s.logger.Debug("Skipping daemon reload", "reason", err)
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to connect to systemd: %w", err)
	}
	defer api.Close()

	if err := api.ReloadContext(ctx); err != nil {
		return fmt.Errorf("failed to reload systemd: %w", err)
	}
	return nil
}

func wait(ctx context.Context, op string, ch <-chan string) error {
	select {
	case result := <-ch:
		if result != "done" {
			return fmt.Errorf("failed to %s service (job result %q)", op, result)
		}
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
