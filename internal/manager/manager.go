// Package manager exports the account registry as the OnlineAccounts
// manager object on D-Bus.
package manager

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"

	"github.com/bigknoxy/fake-online-accounts/internal/accounts"
	"github.com/bigknoxy/fake-online-accounts/internal/log"
)

// Well-known identity of the manager. Clients hardcode these.
const (
	BusName       = "com.ubuntu.OnlineAccounts.Manager"
	ObjectPath    = dbus.ObjectPath("/com/ubuntu/OnlineAccounts/Manager")
	InterfaceName = "com.ubuntu.OnlineAccounts.Manager"
)

// ErrNoAccount is the D-Bus error name returned when a lookup matches nothing.
const ErrNoAccount = "com.ubuntu.OnlineAccounts.Error.NoAccount"

// AccountInfo is the (ua{sv}) pair describing one account.
type AccountInfo struct {
	ID      uint32
	Details map[string]dbus.Variant
}

// Manager answers OnlineAccounts manager calls from a Registry. Calls are
// handled one at a time.
type Manager struct {
	mu       sync.Mutex
	registry *accounts.Registry
	calls    *CallLog
	logger   *log.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithCallLog sets where the per-call lines are written.
func WithCallLog(w io.Writer) Option {
	return func(m *Manager) {
		m.calls = NewCallLog(w)
	}
}

// WithLogger sets the diagnostic logger.
func WithLogger(l *log.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// New returns a Manager serving registry. The call log defaults to discard.
func New(registry *accounts.Registry, opts ...Option) *Manager {
	m := &Manager{
		registry: registry,
		calls:    NewCallLog(nil),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.logger == nil {
		m.logger = log.SubPackage("manager")
	}
	return m
}

// Export publishes the manager and its introspection data at path.
func (m *Manager) Export(conn *dbus.Conn, path dbus.ObjectPath) error {
	if err := conn.Export(m, path, InterfaceName); err != nil {
		return fmt.Errorf("failed to export manager at %s: %w", path, err)
	}
	node := introspect.NewIntrospectable(Introspection(path))
	if err := conn.Export(node, path, "org.freedesktop.DBus.Introspectable"); err != nil {
		return fmt.Errorf("failed to export introspection at %s: %w", path, err)
	}
	return nil
}

// GetAccounts lists every account. Filters are only applied when the
// registry was built to honor them.
func (m *Manager) GetAccounts(sender dbus.Sender, filters map[string]dbus.Variant) ([]AccountInfo, *dbus.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.Record("GetAccounts", filters)
	l := m.callLogger(sender, "GetAccounts")

	list := m.registry.ListAccounts(unwrap(filters))
	out := make([]AccountInfo, 0, len(list))
	for _, a := range list {
		out = append(out, accountInfo(a))
	}
	l.Debug("Listed accounts", "count", len(out))
	return out, nil
}

// Authenticate returns the credentials of the account with the given id and
// service.
func (m *Manager) Authenticate(sender dbus.Sender, accountID uint32, serviceID string, interactive, invalidate bool, parameters map[string]dbus.Variant) (map[string]dbus.Variant, *dbus.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.Record("Authenticate", accountID, serviceID, interactive, invalidate, parameters)
	l := m.callLogger(sender, "Authenticate")

	cred, err := m.registry.Authenticate(accountID, serviceID, interactive, invalidate, unwrap(parameters))
	if err != nil {
		l.Warn("Authenticate failed", "account_id", accountID, "service_id", serviceID, "error", err)
		return nil, toDBusError(err)
	}
	l.Debug("Authenticated", "account_id", accountID, "service_id", serviceID, "method", cred.Method())
	return credentialFields(cred), nil
}

// RequestAccess returns the first account for serviceID and its credentials.
func (m *Manager) RequestAccess(sender dbus.Sender, serviceID string, parameters map[string]dbus.Variant) (AccountInfo, map[string]dbus.Variant, *dbus.Error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.calls.Record("RequestAccess", serviceID, parameters)
	l := m.callLogger(sender, "RequestAccess")

	account, cred, err := m.registry.RequestAccess(serviceID, unwrap(parameters))
	if err != nil {
		l.Warn("RequestAccess failed", "service_id", serviceID, "error", err)
		return AccountInfo{}, nil, toDBusError(err)
	}
	l.Debug("Granted access", "account_id", account.ID, "service_id", serviceID)
	return accountInfo(account), credentialFields(cred), nil
}

func (m *Manager) callLogger(sender dbus.Sender, method string) *log.Logger {
	return m.logger.With("call_id", log.NewCallID(), "method", method, "sender", string(sender))
}

func accountInfo(a accounts.Account) AccountInfo {
	return AccountInfo{ID: a.ID, Details: variants(a.Summary())}
}

func credentialFields(c accounts.Credential) map[string]dbus.Variant {
	return variants(accounts.Fields(c))
}

func variants(fields map[string]any) map[string]dbus.Variant {
	out := make(map[string]dbus.Variant, len(fields))
	for k, v := range fields {
		out[k] = dbus.MakeVariant(v)
	}
	return out
}

func unwrap(in map[string]dbus.Variant) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		out[k] = v.Value()
	}
	return out
}

// toDBusError turns a lookup failure into an error reply. The body starts
// with a readable message followed by the key that failed to match.
func toDBusError(err error) *dbus.Error {
	var nf *accounts.NotFoundError
	if errors.As(err, &nf) {
		body := []interface{}{nf.Error()}
		if nf.ByAccount {
			body = append(body, nf.AccountID)
		}
		body = append(body, nf.ServiceID)
		return dbus.NewError(ErrNoAccount, body)
	}
	return dbus.MakeFailedError(err)
}
