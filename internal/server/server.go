// Package server runs the manager on a bus until interrupted or disconnected.
package server

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/godbus/dbus/v5"

	"github.com/bigknoxy/fake-online-accounts/internal/bus"
	"github.com/bigknoxy/fake-online-accounts/internal/log"
	"github.com/bigknoxy/fake-online-accounts/internal/manager"
)

// State is the lifecycle position of a Server.
type State int32

const (
	Unbound State = iota
	Serving
	Stopped
)

func (s State) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case Serving:
		return "serving"
	case Stopped:
		return "stopped"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Config identifies the bus and the name/path the manager is published under.
type Config struct {
	Bus        bus.Options
	BusName    string
	ObjectPath dbus.ObjectPath
}

// Notifier reports lifecycle changes to a service manager, in sd_notify
// state syntax ("READY=1").
type Notifier func(state string) error

// SystemdNotifier notifies systemd when running under it and does nothing
// otherwise.
func SystemdNotifier(state string) error {
	_, err := daemon.SdNotify(false, state)
	return err
}

// Server owns one bus connection and the manager exported on it.
type Server struct {
	cfg     Config
	manager *manager.Manager
	notify  Notifier
	logger  *log.Logger

	state     atomic.Int32
	ready     chan struct{}
	readyOnce sync.Once
}

// Option configures a Server.
type Option func(*Server)

// WithNotifier replaces SystemdNotifier.
func WithNotifier(n Notifier) Option {
	return func(s *Server) {
		s.notify = n
	}
}

// New returns an unbound Server.
func New(cfg Config, m *manager.Manager, opts ...Option) *Server {
	if cfg.BusName == "" {
		cfg.BusName = manager.BusName
	}
	if cfg.ObjectPath == "" {
		cfg.ObjectPath = manager.ObjectPath
	}
	s := &Server{
		cfg:     cfg,
		manager: m,
		notify:  SystemdNotifier,
		logger:  log.SubPackage("server"),
		ready:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current lifecycle state.
func (s *Server) State() State {
	return State(s.state.Load())
}

// Ready is closed once the name is owned and calls are being served.
func (s *Server) Ready() <-chan struct{} {
	return s.ready
}

// Run connects to the configured bus and serves until ctx is cancelled or
// the bus connection is lost. Both are a normal shutdown and return nil;
// only failures to connect, export or claim the name are errors.
func (s *Server) Run(ctx context.Context) error {
	conn, err := bus.Connect(ctx, s.cfg.Bus)
	if err != nil {
		return err
	}
	defer conn.Close()
	return s.Serve(ctx, conn)
}

// Serve is Run on an already open connection.
func (s *Server) Serve(ctx context.Context, conn *dbus.Conn) error {
	if err := s.manager.Export(conn, s.cfg.ObjectPath); err != nil {
		return err
	}
	if err := bus.AcquireName(conn, s.cfg.BusName); err != nil {
		return err
	}
	lost, err := bus.WatchNameLost(conn, s.cfg.BusName)
	if err != nil {
		return err
	}

	s.state.Store(int32(Serving))
	s.readyOnce.Do(func() { close(s.ready) })
	s.logger.Info("Serving", "name", s.cfg.BusName, "path", s.cfg.ObjectPath, "unique_name", conn.Names()[0])
	s.sdNotify(daemon.SdNotifyReady)

	reason := s.wait(ctx, conn, lost)

	s.state.Store(int32(Stopped))
	s.sdNotify(daemon.SdNotifyStopping)
	s.logger.Info("Stopped", "reason", reason)
	return nil
}

func (s *Server) wait(ctx context.Context, conn *dbus.Conn, lost <-chan string) string {
	for {
		select {
		case <-ctx.Done():
			return "interrupted"
		case <-conn.Context().Done():
			if ctx.Err() != nil {
				return "interrupted"
			}
			return "bus connection closed"
		case name, ok := <-lost:
			if !ok {
				lost = nil
				continue
			}
			s.logger.Warn("Name taken over by another instance", "name", name)
		}
	}
}

func (s *Server) sdNotify(state string) {
	if s.notify == nil {
		return
	}
	if err := s.notify(state); err != nil {
		s.logger.Debug("Service manager notification failed", "state", state, "error", err)
	}
}
