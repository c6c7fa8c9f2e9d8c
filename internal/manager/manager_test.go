package manager

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"

	"github.com/godbus/dbus/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bigknoxy/fake-online-accounts/internal/accounts"
	"github.com/bigknoxy/fake-online-accounts/internal/bus"
	"github.com/bigknoxy/fake-online-accounts/internal/bus/bustest"
)

const sender = dbus.Sender(":1.42")

// syncBuffer is written by the bus dispatch goroutine and read by the test.
type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

func newTestManager(t *testing.T, calls io.Writer, opts ...accounts.Option) *Manager {
	t.Helper()
	reg, err := accounts.NewRegistry(accounts.DefaultAccounts(), opts...)
	require.NoError(t, err)
	return New(reg, WithCallLog(calls))
}

func plain(m map[string]dbus.Variant) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v.Value()
	}
	return out
}

func TestGetAccounts(t *testing.T) {
	var calls bytes.Buffer
	m := newTestManager(t, &calls)

	got, dbusErr := m.GetAccounts(sender, map[string]dbus.Variant{
		"serviceId": dbus.MakeVariant("oauth1-service"),
	})
	require.Nil(t, dbusErr)
	require.Len(t, got, 5)

	wantIDs := []uint32{1, 2, 3, 42, 99}
	for i, info := range got {
		assert.Equal(t, wantIDs[i], info.ID)
	}
	assert.Equal(t, map[string]any{
		"displayName": "Password account",
		"serviceId":   "password-service",
		"authMethod":  int32(3),
	}, plain(got[2].Details))

	assert.Equal(t, "GetAccounts {\"serviceId\": \"oauth1-service\"}\n", calls.String())
}

func TestGetAccounts_HonorsFilters(t *testing.T) {
	var calls bytes.Buffer
	m := newTestManager(t, &calls, accounts.WithFilters())

	got, dbusErr := m.GetAccounts(sender, map[string]dbus.Variant{
		"accountId": dbus.MakeVariant(uint32(42)),
	})
	require.Nil(t, dbusErr)
	require.Len(t, got, 1)
	assert.Equal(t, uint32(42), got[0].ID)

	for _, id := range []dbus.Variant{
		dbus.MakeVariant(uint64(1<<32 + 42)),
		dbus.MakeVariant(int64(1<<32 + 42)),
		dbus.MakeVariant(int32(-1)),
		dbus.MakeVariant(int64(-1)),
	} {
		got, dbusErr = m.GetAccounts(sender, map[string]dbus.Variant{"accountId": id})
		require.Nil(t, dbusErr)
		assert.Empty(t, got, "accountId %s", id)
	}
}

func TestAuthenticate(t *testing.T) {
	var calls bytes.Buffer
	m := newTestManager(t, &calls)

	got, dbusErr := m.Authenticate(sender, 1, "oauth1-service", false, false, map[string]dbus.Variant{})
	require.Nil(t, dbusErr)
	assert.Equal(t, map[string]any{
		"ConsumerKey":     "consumer_key",
		"ConsumerSecret":  "consumer_secret",
		"Token":           "token",
		"TokenSecret":     "token_secret",
		"SignatureMethod": "HMAC-SHA1",
	}, plain(got))

	got, dbusErr = m.Authenticate(sender, 2, "oauth2-service", true, false, nil)
	require.Nil(t, dbusErr)
	assert.Equal(t, map[string]any{
		"AccessToken":   "access_token",
		"ExpiresIn":     int32(0),
		"GrantedScopes": []string{"scope1", "scope2"},
	}, plain(got))
	assert.Equal(t, "a{sv}", dbus.SignatureOf(got).String())

	lines := strings.Split(strings.TrimSpace(calls.String()), "\n")
	assert.Equal(t, []string{
		`Authenticate 1 "oauth1-service" false false {}`,
		`Authenticate 2 "oauth2-service" true false {}`,
	}, lines)
}

func TestAuthenticate_NotFound(t *testing.T) {
	var calls bytes.Buffer
	m := newTestManager(t, &calls)

	got, dbusErr := m.Authenticate(sender, 999, "no-such-service", false, false, nil)
	assert.Nil(t, got)
	require.NotNil(t, dbusErr)
	assert.Equal(t, ErrNoAccount, dbusErr.Name)
	require.Len(t, dbusErr.Body, 3)
	assert.Equal(t, uint32(999), dbusErr.Body[1])
	assert.Equal(t, "no-such-service", dbusErr.Body[2])
	assert.Contains(t, dbusErr.Error(), "999")
	assert.Contains(t, dbusErr.Error(), "no-such-service")
}

func TestRequestAccess(t *testing.T) {
	var calls bytes.Buffer
	m := newTestManager(t, &calls)

	info, creds, dbusErr := m.RequestAccess(sender, "password-service", map[string]dbus.Variant{
		"scopes": dbus.MakeVariant([]string{"a"}),
	})
	require.Nil(t, dbusErr)
	assert.Equal(t, uint32(3), info.ID)
	assert.Equal(t, map[string]any{
		"displayName": "Password account",
		"serviceId":   "password-service",
		"authMethod":  int32(3),
	}, plain(info.Details))
	assert.Equal(t, map[string]any{"Username": "user", "Password": "pass"}, plain(creds))
	assert.Equal(t, "(ua{sv})", dbus.SignatureOf(info).String())

	assert.True(t, strings.HasPrefix(calls.String(), `RequestAccess "password-service" {"scopes": `))
}

func TestRequestAccess_NotFound(t *testing.T) {
	var calls bytes.Buffer
	m := newTestManager(t, &calls)

	_, creds, dbusErr := m.RequestAccess(sender, "unknown-service", nil)
	assert.Nil(t, creds)
	require.NotNil(t, dbusErr)
	assert.Equal(t, ErrNoAccount, dbusErr.Name)
	assert.Equal(t, []interface{}{`no account for service "unknown-service"`, "unknown-service"}, dbusErr.Body)
}

func TestRepeatedCallsIdentical(t *testing.T) {
	var calls bytes.Buffer
	m := newTestManager(t, &calls)

	first, _ := m.GetAccounts(sender, nil)
	second, _ := m.GetAccounts(sender, nil)
	assert.Equal(t, first, second)

	a, _, _ := m.RequestAccess(sender, "google-drive-scope", nil)
	b, _, _ := m.RequestAccess(sender, "google-drive-scope", nil)
	assert.Equal(t, a, b)
}

func TestToDBusError_Other(t *testing.T) {
	dbusErr := toDBusError(assert.AnError)
	assert.Equal(t, "org.freedesktop.DBus.Error.Failed", dbusErr.Name)
}

func TestCallLog_SortsKeys(t *testing.T) {
	var buf bytes.Buffer
	NewCallLog(&buf).Record("GetAccounts", map[string]dbus.Variant{
		"b": dbus.MakeVariant("2"),
		"a": dbus.MakeVariant(true),
	})
	assert.Equal(t, "GetAccounts {\"a\": true, \"b\": \"2\"}\n", buf.String())
}

func TestCallLog_NilWriter(t *testing.T) {
	assert.NotPanics(t, func() {
		NewCallLog(nil).Record("GetAccounts", map[string]dbus.Variant{})
	})
}

func TestIntrospectXML(t *testing.T) {
	doc, err := IntrospectXML(ObjectPath)
	require.NoError(t, err)

	for _, want := range []string{
		`<interface name="com.ubuntu.OnlineAccounts.Manager">`,
		`<method name="GetAccounts">`,
		`<method name="Authenticate">`,
		`<method name="RequestAccess">`,
		`type="a(ua{sv})"`,
		`type="(ua{sv})"`,
		`name="org.freedesktop.DBus.Introspectable"`,
	} {
		assert.Contains(t, doc, want)
	}
}

// The signatures advertised in the introspection data must match the Go
// method signatures godbus derives when exporting.
func TestInterfaceMatchesMethods(t *testing.T) {
	want := map[string]string{}
	for _, method := range Interface.Methods {
		var in, out string
		for _, arg := range method.Args {
			if arg.Direction == "in" {
				in += arg.Type
			} else {
				out += arg.Type
			}
		}
		want[method.Name] = in + "->" + out
	}

	got := map[string]string{
		"GetAccounts":   "a{sv}->" + dbus.SignatureOf([]AccountInfo{}).String(),
		"Authenticate":  "usbba{sv}->" + dbus.SignatureOf(map[string]dbus.Variant{}).String(),
		"RequestAccess": "sa{sv}->" + dbus.SignatureOf(AccountInfo{}, map[string]dbus.Variant{}).String(),
	}
	assert.Equal(t, want, got)
}

func TestOverBus(t *testing.T) {
	d := bustest.Start(t)
	ctx := context.Background()

	server, err := bus.Connect(ctx, bus.Options{Address: d.Address})
	require.NoError(t, err)
	defer server.Close()

	var calls syncBuffer
	m := newTestManager(t, &calls)
	require.NoError(t, m.Export(server, ObjectPath))
	require.NoError(t, bus.AcquireName(server, BusName))

	client, err := bus.Connect(ctx, bus.Options{Address: d.Address})
	require.NoError(t, err)
	defer client.Close()
	obj := client.Object(BusName, ObjectPath)

	var list []AccountInfo
	require.NoError(t, obj.Call(InterfaceName+".GetAccounts", 0, map[string]dbus.Variant{}).Store(&list))
	require.Len(t, list, 5)
	assert.Equal(t, uint32(99), list[4].ID)

	var creds map[string]dbus.Variant
	require.NoError(t, obj.Call(InterfaceName+".Authenticate", 0,
		uint32(2), "oauth2-service", false, false, map[string]dbus.Variant{}).Store(&creds))
	assert.Equal(t, []string{"scope1", "scope2"}, creds["GrantedScopes"].Value())

	var info AccountInfo
	require.NoError(t, obj.Call(InterfaceName+".RequestAccess", 0,
		"password-service", map[string]dbus.Variant{}).Store(&info, &creds))
	assert.Equal(t, uint32(3), info.ID)
	assert.Equal(t, "user", creds["Username"].Value())

	call := obj.Call(InterfaceName+".Authenticate", 0,
		uint32(999), "no-such-service", false, false, map[string]dbus.Variant{})
	require.Error(t, call.Err)
	var dbusErr dbus.Error
	require.ErrorAs(t, call.Err, &dbusErr)
	assert.Equal(t, ErrNoAccount, dbusErr.Name)

	var xmlDoc string
	require.NoError(t, obj.Call("org.freedesktop.DBus.Introspectable.Introspect", 0).Store(&xmlDoc))
	assert.Contains(t, xmlDoc, "RequestAccess")

	lines := strings.Split(strings.TrimSpace(calls.String()), "\n")
	require.Len(t, lines, 4)
	assert.True(t, strings.HasPrefix(lines[0], "GetAccounts"))
	assert.True(t, strings.HasPrefix(lines[3], "Authenticate 999"))
}
