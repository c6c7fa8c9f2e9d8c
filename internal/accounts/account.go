package accounts

import (
	"fmt"

	"github.com/juju/errors"
)

// Account is a single configured account and the credential it hands out.
type Account struct {
	ID          uint32
	DisplayName string
	ServiceID   string
	Credential  Credential
}

// AuthMethod reports the method tag of the account's credential.
func (a Account) AuthMethod() AuthMethod {
	return a.Credential.Method()
}

// Summary serializes the account details sent alongside its id.
func (a Account) Summary() map[string]any {
	return map[string]any{
		"displayName": a.DisplayName,
		"serviceId":   a.ServiceID,
		"authMethod":  int32(a.AuthMethod()),
	}
}

// NotFoundError is returned when no account matches a lookup key.
// It satisfies errors.Is(err, errors.NotFound).
type NotFoundError struct {
	ServiceID string
	AccountID uint32
	// ByAccount is set when the lookup also keyed on AccountID.
	ByAccount bool
}

func (e *NotFoundError) Error() string {
	if e.ByAccount {
		return fmt.Sprintf("no account %d for service %q", e.AccountID, e.ServiceID)
	}
	return fmt.Sprintf("no account for service %q", e.ServiceID)
}

// Unwrap ties the error to the juju/errors NotFound kind.
func (e *NotFoundError) Unwrap() error {
	return errors.NotFound
}

// IsNotFound reports whether err is a failed account lookup.
func IsNotFound(err error) bool {
	return errors.Is(err, errors.NotFound)
}
