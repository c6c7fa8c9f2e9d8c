package manager

import (
	"encoding/xml"

	"github.com/godbus/dbus/v5"
	"github.com/godbus/dbus/v5/introspect"
)

// Interface describes the manager methods with the argument names client
// libraries were generated from.
var Interface = introspect.Interface{
	Name: InterfaceName,
	Methods: []introspect.Method{
		{
			Name: "GetAccounts",
			Args: []introspect.Arg{
				{Name: "filters", Type: "a{sv}", Direction: "in"},
				{Name: "accounts", Type: "a(ua{sv})", Direction: "out"},
			},
		},
		{
			Name: "Authenticate",
			Args: []introspect.Arg{
				{Name: "accountId", Type: "u", Direction: "in"},
				{Name: "serviceId", Type: "s", Direction: "in"},
				{Name: "interactive", Type: "b", Direction: "in"},
				{Name: "invalidate", Type: "b", Direction: "in"},
				{Name: "parameters", Type: "a{sv}", Direction: "in"},
				{Name: "credentials", Type: "a{sv}", Direction: "out"},
			},
		},
		{
			Name: "RequestAccess",
			Args: []introspect.Arg{
				{Name: "serviceId", Type: "s", Direction: "in"},
				{Name: "parameters", Type: "a{sv}", Direction: "in"},
				{Name: "account", Type: "(ua{sv})", Direction: "out"},
				{Name: "credentials", Type: "a{sv}", Direction: "out"},
			},
		},
	},
}

// Introspection returns the node exported at path.
func Introspection(path dbus.ObjectPath) *introspect.Node {
	return &introspect.Node{
		Name:       string(path),
		Interfaces: []introspect.Interface{introspect.IntrospectData, Interface},
	}
}

// IntrospectXML renders the introspection document for path.
func IntrospectXML(path dbus.ObjectPath) (string, error) {
	data, err := xml.MarshalIndent(Introspection(path), "", "  ")
	if err != nil {
		return "", err
	}
	return introspect.IntrospectDeclarationString + string(data) + "\n", nil
}
