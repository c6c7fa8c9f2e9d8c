// Package bus connects to a D-Bus message bus and claims well-known names.
package bus

import (
	"context"
	"errors"
	"fmt"

	"github.com/godbus/dbus/v5"
)

// Bus kinds accepted by Options.Bus.
const (
	Session = "session"
	System  = "system"
)

const (
	daemonInterface = "org.freedesktop.DBus"
	nameLostSignal  = daemonInterface + ".NameLost"
)

// ErrNameTaken is returned when another connection keeps the requested name.
var ErrNameTaken = errors.New("bus name is owned by another connection")

// Options selects the bus to connect to.
type Options struct {
	// Bus is Session or System. Ignored when Address is set.
	Bus string
	// Address is an explicit D-Bus address.
	Address string
}

// Connect opens a private connection to the selected bus. The connection is
// closed when ctx is cancelled.
func Connect(ctx context.Context, opts Options) (*dbus.Conn, error) {
	var (
		conn *dbus.Conn
		err  error
	)
	switch {
	case opts.Address != "":
		conn, err = dbus.Connect(opts.Address, dbus.WithContext(ctx))
	case opts.Bus == System:
		conn, err = dbus.ConnectSystemBus(dbus.WithContext(ctx))
	case opts.Bus == Session || opts.Bus == "":
		conn, err = dbus.ConnectSessionBus(dbus.WithContext(ctx))
	default:
		return nil, fmt.Errorf("unknown bus %q", opts.Bus)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s bus: %w", opts.describe(), err)
	}
	return conn, nil
}

func (o Options) describe() string {
	if o.Address != "" {
		return o.Address
	}
	if o.Bus == "" {
		return Session
	}
	return o.Bus
}

// AcquireName claims name without queueing. An existing owner that allows
// replacement is replaced, and this connection in turn allows being replaced,
// so the most recent instance always wins.
func AcquireName(conn *dbus.Conn, name string) error {
	flags := dbus.NameFlagAllowReplacement | dbus.NameFlagReplaceExisting | dbus.NameFlagDoNotQueue
	reply, err := conn.RequestName(name, flags)
	if err != nil {
		return fmt.Errorf("failed to request name %s: %w", name, err)
	}
	switch reply {
	case dbus.RequestNameReplyPrimaryOwner, dbus.RequestNameReplyAlreadyOwner:
		return nil
	default:
		return fmt.Errorf("%s: %w", name, ErrNameTaken)
	}
}

// WatchNameLost reports when the bus takes name away from this connection,
// which happens when a later instance replaces it. The returned channel is
// closed when the connection goes away.
func WatchNameLost(conn *dbus.Conn, name string) (<-chan string, error) {
	err := conn.AddMatchSignal(
		dbus.WithMatchInterface(daemonInterface),
		dbus.WithMatchMember("NameLost"),
		dbus.WithMatchArg(0, name),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to watch %s: %w", name, err)
	}

	signals := make(chan *dbus.Signal, 8)
	conn.Signal(signals)

	lost := make(chan string, 1)
	go func() {
		defer close(lost)
		for sig := range signals {
			if sig.Name != nameLostSignal || len(sig.Body) == 0 {
				continue
			}
			if lostName, ok := sig.Body[0].(string); ok && lostName == name {
				select {
				case lost <- lostName:
				default:
				}
			}
		}
	}()
	return lost, nil
}
