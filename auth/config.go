// Package auth drives the OAuth2 authorization code login against the
// identity provider and the provider-side registration flow.
package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// StatePolicy controls how the callback treats the OAuth state parameter.
type StatePolicy int

const (
	// StateStrict rejects a callback whose state is missing or differs from
	// the value stored at login.
	StateStrict StatePolicy = iota
	// StatePermissive logs a missing or mismatched state and continues.
	StatePermissive
)

func (p StatePolicy) String() string {
	if p == StatePermissive {
		return "permissive"
	}
	return "strict"
}

// ParseStatePolicy parses "strict" or "permissive".
func ParseStatePolicy(s string) (StatePolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return StateStrict, nil
	case "permissive":
		return StatePermissive, nil
	}
	return StateStrict, fmt.Errorf("unknown state policy %q", s)
}

const (
	// DefaultTimeout bounds every outbound call to the identity provider.
	DefaultTimeout = 10 * time.Second
	// MinPasswordLength is checked locally before calling the provider.
	MinPasswordLength = 8
)

// DefaultScopes are requested at login.
var DefaultScopes = []string{"email", "openid", "phone"}

// Config describes the identity provider client.
type Config struct {
	Region     string
	UserPoolID string
	ClientID   string
	// Domain is either a hosted UI domain prefix or a full host name.
	Domain string
	// BaseURL overrides the derived hosted UI URL, e.g. for a custom domain
	// served over a non-standard scheme in tests.
	BaseURL      string
	RedirectURI  string
	ClientSecret *Secret
	Scopes       []string
	StatePolicy  StatePolicy
	Timeout      time.Duration
}

// Validate checks that the fields needed for the login flow are present.
func (c Config) Validate() error {
	var missing []string
	if c.ClientID == "" {
		missing = append(missing, "client id")
	}
	if c.RedirectURI == "" {
		missing = append(missing, "redirect uri")
	}
	if c.BaseURL == "" && c.Region == "" {
		missing = append(missing, "region")
	}
	if c.BaseURL == "" && c.Domain == "" && c.UserPoolID == "" {
		missing = append(missing, "domain or user pool id")
	}
	if len(missing) > 0 {
		return errors.New("auth config: missing " + strings.Join(missing, ", "))
	}
	return nil
}

// HostedUIURL returns the provider's base URL. A domain without dots is a
// hosted UI prefix; without a domain the user pool id is used as the prefix.
func (c Config) HostedUIURL() string {
	if c.BaseURL != "" {
		return strings.TrimRight(c.BaseURL, "/")
	}
	if strings.Contains(c.Domain, ".") {
		return "https://" + strings.TrimRight(c.Domain, "/")
	}
	prefix := c.Domain
	if prefix == "" {
		prefix = c.UserPoolID
	}
	return fmt.Sprintf("https://%s.auth.%s.amazoncognito.com", prefix, c.Region)
}

func (c Config) timeout() time.Duration {
	if c.Timeout > 0 {
		return c.Timeout
	}
	return DefaultTimeout
}

func (c Config) scopes() []string {
	if len(c.Scopes) > 0 {
		return c.Scopes
	}
	return DefaultScopes
}
