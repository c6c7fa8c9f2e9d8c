package accounts

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultAccounts returns the accounts client test suites are written against.
// The ids, names and tokens must not change.
func DefaultAccounts() []Account {
	return []Account{
		{
			ID:          1,
			DisplayName: "OAuth1 account",
			ServiceID:   "oauth1-service",
			Credential: &OAuth1{
				ConsumerKey:     "consumer_key",
				ConsumerSecret:  "consumer_secret",
				Token:           "token",
				TokenSecret:     "token_secret",
				SignatureMethod: DefaultSignatureMethod,
			},
		},
		{
			ID:          2,
			DisplayName: "OAuth2 account",
			ServiceID:   "oauth2-service",
			Credential: &OAuth2{
				AccessToken:   "access_token",
				ExpiresIn:     0,
				GrantedScopes: []string{"scope1", "scope2"},
			},
		},
		{
			ID:          3,
			DisplayName: "Password account",
			ServiceID:   "password-service",
			Credential:  &Password{Username: "user", Password: "pass"},
		},
		{
			ID:          42,
			DisplayName: "Fake google account",
			ServiceID:   "google-drive-scope",
			Credential:  &OAuth2{AccessToken: "fake-google-access-token"},
		},
		{
			ID:          99,
			DisplayName: "Fake mcloud account",
			ServiceID:   "com.canonical.scopes.mcloud_mcloud_mcloud",
			Credential:  &OAuth2{AccessToken: "fake-mcloud-access-token"},
		},
	}
}

// seedFile is the on-disk layout of an accounts file.
type seedFile struct {
	Accounts []seedAccount `json:"accounts" yaml:"accounts"`
}

type seedAccount struct {
	ID          uint32        `json:"id" yaml:"id"`
	DisplayName string        `json:"display_name" yaml:"display_name"`
	ServiceID   string        `json:"service_id" yaml:"service_id"`
	OAuth1      *seedOAuth1   `json:"oauth1,omitempty" yaml:"oauth1,omitempty"`
	OAuth2      *seedOAuth2   `json:"oauth2,omitempty" yaml:"oauth2,omitempty"`
	Password    *seedPassword `json:"password,omitempty" yaml:"password,omitempty"`
}

type seedOAuth1 struct {
	ConsumerKey     string `json:"consumer_key" yaml:"consumer_key"`
	ConsumerSecret  string `json:"consumer_secret" yaml:"consumer_secret"`
	Token           string `json:"token" yaml:"token"`
	TokenSecret     string `json:"token_secret" yaml:"token_secret"`
	SignatureMethod string `json:"signature_method" yaml:"signature_method"`
}

type seedOAuth2 struct {
	AccessToken   string   `json:"access_token" yaml:"access_token"`
	ExpiresIn     int32    `json:"expires_in" yaml:"expires_in"`
	GrantedScopes []string `json:"granted_scopes" yaml:"granted_scopes"`
}

type seedPassword struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
}

// LoadAccounts reads accounts from a YAML (.yaml, .yml) or JSON file.
func LoadAccounts(path string) ([]Account, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read accounts file: %w", err)
	}
	return ParseAccounts(data, isYAML(path))
}

// ParseAccounts decodes an accounts document.
func ParseAccounts(data []byte, yamlFormat bool) ([]Account, error) {
	var f seedFile
	var err error
	if yamlFormat {
		err = yaml.Unmarshal(data, &f)
	} else {
		err = json.Unmarshal(data, &f)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse accounts: %w", err)
	}

	out := make([]Account, 0, len(f.Accounts))
	for i, s := range f.Accounts {
		cred, err := s.credential()
		if err != nil {
			return nil, fmt.Errorf("account %d: %w", i, err)
		}
		out = append(out, Account{
			ID:          s.ID,
			DisplayName: s.DisplayName,
			ServiceID:   s.ServiceID,
			Credential:  cred,
		})
	}
	return out, nil
}

func (s seedAccount) credential() (Credential, error) {
	var creds []Credential
	if s.OAuth1 != nil {
		creds = append(creds, &OAuth1{
			ConsumerKey:     s.OAuth1.ConsumerKey,
			ConsumerSecret:  s.OAuth1.ConsumerSecret,
			Token:           s.OAuth1.Token,
			TokenSecret:     s.OAuth1.TokenSecret,
			SignatureMethod: s.OAuth1.SignatureMethod,
		})
	}
	if s.OAuth2 != nil {
		creds = append(creds, &OAuth2{
			AccessToken:   s.OAuth2.AccessToken,
			ExpiresIn:     s.OAuth2.ExpiresIn,
			GrantedScopes: s.OAuth2.GrantedScopes,
		})
	}
	if s.Password != nil {
		creds = append(creds, &Password{
			Username: s.Password.Username,
			Password: s.Password.Password,
		})
	}
	if len(creds) != 1 {
		return nil, fmt.Errorf("expected exactly one of oauth1, oauth2 or password, got %d", len(creds))
	}
	return creds[0], nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	default:
		return false
	}
}
