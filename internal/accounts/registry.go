package accounts

import (
	"fmt"
	"math"
)

// Filter keys honored by ListAccounts when the registry is built WithFilters.
const (
	FilterServiceID = "serviceId"
	FilterAccountID = "accountId"
)

// Option configures a Registry.
type Option func(*Registry)

// WithFilters makes ListAccounts apply the serviceId and accountId filters.
// Without it every account is returned whatever the filters say, which is
// what existing test suites expect.
func WithFilters() Option {
	return func(r *Registry) {
		r.honorFilters = true
	}
}

// Registry is an ordered, read-only set of accounts. Lookups scan in
// insertion order and the first match wins.
type Registry struct {
	accounts     []Account
	honorFilters bool
}

// NewRegistry builds a registry from the given accounts. Accounts and their
// credentials are copied, and lookups hand out copies, so callers cannot
// change what later lookups return.
func NewRegistry(accounts []Account, opts ...Option) (*Registry, error) {
	copied := make([]Account, 0, len(accounts))
	for i, a := range accounts {
		if a.Credential == nil {
			return nil, fmt.Errorf("account %d (id %d): missing credential", i, a.ID)
		}
		copied = append(copied, a.clone())
	}
	r := &Registry{accounts: copied}
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Len returns the number of accounts.
func (r *Registry) Len() int {
	return len(r.accounts)
}

// HonorsFilters reports whether ListAccounts applies its filters.
func (r *Registry) HonorsFilters() bool {
	return r.honorFilters
}

// ListAccounts returns the accounts in registry order.
func (r *Registry) ListAccounts(filters map[string]any) []Account {
	out := make([]Account, 0, len(r.accounts))
	for _, a := range r.accounts {
		if r.honorFilters && !matches(a, filters) {
			continue
		}
		out = append(out, a.clone())
	}
	return out
}

// Authenticate returns the credential of the first account with both the
// given id and service. interactive, invalidate and params are accepted for
// interface compatibility and do not change the result.
func (r *Registry) Authenticate(accountID uint32, serviceID string, interactive, invalidate bool, params map[string]any) (Credential, error) {
	for _, a := range r.accounts {
		if a.ID == accountID && a.ServiceID == serviceID {
			return Clone(a.Credential), nil
		}
	}
	return nil, &NotFoundError{AccountID: accountID, ServiceID: serviceID, ByAccount: true}
}

// RequestAccess returns the first account registered for serviceID together
// with its credential.
func (r *Registry) RequestAccess(serviceID string, params map[string]any) (Account, Credential, error) {
	for _, a := range r.accounts {
		if a.ServiceID == serviceID {
			a = a.clone()
			return a, a.Credential, nil
		}
	}
	return Account{}, nil, &NotFoundError{ServiceID: serviceID}
}

func (a Account) clone() Account {
	a.Credential = Clone(a.Credential)
	return a
}

// matches applies the filters to a. A filter whose value has the wrong type
// or is out of range matches nothing.
func matches(a Account, filters map[string]any) bool {
	if v, ok := filters[FilterServiceID]; ok {
		if s, ok := v.(string); !ok || s != a.ServiceID {
			return false
		}
	}
	if v, ok := filters[FilterAccountID]; ok {
		if id, ok := toUint32(v); !ok || id != a.ID {
			return false
		}
	}
	return true
}

func toUint32(v any) (uint32, bool) {
	switch n := v.(type) {
	case uint32:
		return n, true
	case uint8:
		return uint32(n), true
	case uint16:
		return uint32(n), true
	case int16:
		return uint32(n), n >= 0
	case int32:
		return uint32(n), n >= 0
	case int:
		return uint32(n), n >= 0 && int64(n) <= math.MaxUint32
	case int64:
		return uint32(n), n >= 0 && n <= math.MaxUint32
	case uint64:
		return uint32(n), n <= math.MaxUint32
	case float64:
		return uint32(n), n >= 0 && n <= math.MaxUint32 && n == math.Trunc(n)
	default:
		return 0, false
	}
}
