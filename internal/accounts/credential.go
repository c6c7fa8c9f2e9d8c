// Package accounts holds the fixed set of accounts served by the fake
// OnlineAccounts manager and the lookups performed against it.
package accounts

import "fmt"

// AuthMethod is the numeric tag reported as authMethod for an account.
type AuthMethod int32

// Authentication methods understood by OnlineAccounts clients.
const (
	AuthOAuth1   AuthMethod = 1
	AuthOAuth2   AuthMethod = 2
	AuthPassword AuthMethod = 3
	// AuthSASL is reserved; no credential variant carries it.
	AuthSASL AuthMethod = 4
)

// DefaultSignatureMethod is used for OAuth1 credentials that do not name one.
const DefaultSignatureMethod = "HMAC-SHA1"

// String returns the method name.
func (m AuthMethod) String() string {
	switch m {
	case AuthOAuth1:
		return "oauth1"
	case AuthOAuth2:
		return "oauth2"
	case AuthPassword:
		return "password"
	case AuthSASL:
		return "sasl"
	default:
		return fmt.Sprintf("AuthMethod(%d)", int32(m))
	}
}

// Credential is one of *OAuth1, *OAuth2 or *Password.
type Credential interface {
	Method() AuthMethod
	credential()
}

// OAuth1 holds an OAuth 1.0a token pair.
type OAuth1 struct {
	ConsumerKey     string
	ConsumerSecret  string
	Token           string
	TokenSecret     string
	SignatureMethod string
}

// OAuth2 holds a bearer token and the scopes it was granted.
type OAuth2 struct {
	AccessToken   string
	ExpiresIn     int32
	GrantedScopes []string
}

// Password holds plain username/password credentials.
type Password struct {
	Username string
	Password string
}

func (*OAuth1) Method() AuthMethod   { return AuthOAuth1 }
func (*OAuth2) Method() AuthMethod   { return AuthOAuth2 }
func (*Password) Method() AuthMethod { return AuthPassword }

func (*OAuth1) credential()   {}
func (*OAuth2) credential()   {}
func (*Password) credential() {}

// Clone returns a copy of c that shares no memory with it.
func Clone(c Credential) Credential {
	switch c := c.(type) {
	case *OAuth1:
		cp := *c
		return &cp
	case *OAuth2:
		cp := *c
		cp.GrantedScopes = append([]string(nil), c.GrantedScopes...)
		return &cp
	case *Password:
		cp := *c
		return &cp
	default:
		panic(fmt.Sprintf("accounts: unknown credential type %T", c))
	}
}

// Fields serializes a credential into the string-keyed mapping sent to
// clients. The method tag is not part of the mapping; it travels with the
// owning account.
func Fields(c Credential) map[string]any {
	switch c := c.(type) {
	case *OAuth1:
		sig := c.SignatureMethod
		if sig == "" {
			sig = DefaultSignatureMethod
		}
		return map[string]any{
			"ConsumerKey":     c.ConsumerKey,
			"ConsumerSecret":  c.ConsumerSecret,
			"Token":           c.Token,
			"TokenSecret":     c.TokenSecret,
			"SignatureMethod": sig,
		}
	case *OAuth2:
		return map[string]any{
			"AccessToken":   c.AccessToken,
			"ExpiresIn":     c.ExpiresIn,
			"GrantedScopes": append([]string{}, c.GrantedScopes...),
		}
	case *Password:
		return map[string]any{
			"Username": c.Username,
			"Password": c.Password,
		}
	default:
		panic(fmt.Sprintf("accounts: unknown credential type %T", c))
	}
}
