package auth

import (
	"fmt"
	"regexp"
)

// Redirect codes sent to the frontend as ?error=<code>.
const (
	CodeNoCode           = "no_code"
	CodeInvalidState     = "invalid_state"
	CodeTokenExchange    = "token_exchange_failed"
	CodeUserInfo         = "userinfo_failed"
	CodeEmailNotVerified = "email_not_verified"
	CodeAuthFailed       = "auth_failed"
)

// CallbackError is implemented by every error HandleCallback returns for a
// failed login. RedirectCode is safe to place in a URL.
type CallbackError interface {
	error
	RedirectCode() string
}

// ProviderError is returned when the provider redirected back with an error
// instead of a code.
type ProviderError struct {
	Code        string
	Description string
}

func (e *ProviderError) Error() string {
	if e.Description != "" {
		return fmt.Sprintf("provider returned %s: %s", e.Code, e.Description)
	}
	return "provider returned " + e.Code
}

var redirectCodePattern = regexp.MustCompile(`^[A-Za-z0-9_.-]{1,64}$`)

// RedirectCode passes the provider's error through when it is a plain token.
func (e *ProviderError) RedirectCode() string {
	if redirectCodePattern.MatchString(e.Code) {
		return e.Code
	}
	return CodeAuthFailed
}

// MissingCodeError is returned when the callback has neither code nor error.
type MissingCodeError struct{}

func (e *MissingCodeError) Error() string        { return "no authorization code received" }
func (e *MissingCodeError) RedirectCode() string { return CodeNoCode }

// InvalidStateError is returned under StateStrict when the state is missing
// from the session or the callback, or the two differ.
type InvalidStateError struct {
	Reason string
}

func (e *InvalidStateError) Error() string        { return "invalid oauth state: " + e.Reason }
func (e *InvalidStateError) RedirectCode() string { return CodeInvalidState }

// TokenExchangeError wraps a failed code-for-token exchange.
type TokenExchangeError struct {
	Err error
}

func (e *TokenExchangeError) Error() string        { return "token exchange failed: " + e.Err.Error() }
func (e *TokenExchangeError) Unwrap() error        { return e.Err }
func (e *TokenExchangeError) RedirectCode() string { return CodeTokenExchange }

// UserInfoFetchError wraps a failed userinfo request.
type UserInfoFetchError struct {
	Status int
	Err    error
}

func (e *UserInfoFetchError) Error() string {
	if e.Err != nil {
		return "userinfo fetch failed: " + e.Err.Error()
	}
	return fmt.Sprintf("userinfo fetch failed: status %d", e.Status)
}
func (e *UserInfoFetchError) Unwrap() error        { return e.Err }
func (e *UserInfoFetchError) RedirectCode() string { return CodeUserInfo }

// EmailNotVerifiedError is returned when the provider reports an unverified
// email. Email lets the frontend offer a confirmation step.
type EmailNotVerifiedError struct {
	Email string
}

func (e *EmailNotVerifiedError) Error() string        { return "email not verified: " + e.Email }
func (e *EmailNotVerifiedError) RedirectCode() string { return CodeEmailNotVerified }

// AuthProviderError is a sign-up, confirmation or resend failure translated
// into a user-facing message and HTTP status.
type AuthProviderError struct {
	Op      Operation
	Code    string
	Message string
	Status  int
	Err     error
}

func (e *AuthProviderError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Op, e.Message, e.Code)
}

func (e *AuthProviderError) Unwrap() error { return e.Err }
