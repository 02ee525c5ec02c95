package auth

import (
	"context"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"log/slog"
	"strings"

	"github.com/funstudy/funstudy/internal/apperr"
	"github.com/funstudy/funstudy/internal/util"
	"github.com/funstudy/funstudy/users"
)

// stateBytes is the entropy of the state and nonce values.
const stateBytes = 32

// UserStore persists application-side user metadata.
type UserStore interface {
	RecordLogin(ctx context.Context, login users.Login) (*users.User, error)
	Create(ctx context.Context, userID, email, gradeLevel string) (*users.User, error)
}

// PendingLogin is stored in the session between InitiateLogin and the
// callback.
type PendingLogin struct {
	State string `json:"state"`
	Nonce string `json:"nonce"`
}

// CallbackParams are the query parameters of the redirect back from the
// provider.
type CallbackParams struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// SessionUser is the identity kept in an authenticated session.
type SessionUser struct {
	Sub           string `json:"sub"`
	Email         string `json:"email"`
	Name          string `json:"name,omitempty"`
	Username      string `json:"username,omitempty"`
	EmailVerified bool   `json:"email_verified"`
}

// CallbackResult is a completed login.
type CallbackResult struct {
	User   SessionUser
	Tokens Tokens
}

// RegisterInput is a registration request body.
type RegisterInput struct {
	Email      string `json:"email"`
	Password   string `json:"password"`
	GradeLevel string `json:"gradeLevel"`
}

// RegisterResult reports a created account.
type RegisterResult struct {
	UserSub                   string `json:"userSub"`
	EmailVerificationRequired bool   `json:"emailVerificationRequired"`
}

// Controller drives login, registration and confirmation.
type Controller struct {
	cfg    Config
	oidc   OIDCProvider
	signup SignUpProvider
	users  UserStore
	logger *slog.Logger
}

// NewController wires the collaborators. users may be nil, in which case
// nothing is persisted on login or registration.
func NewController(cfg Config, oidc OIDCProvider, signup SignUpProvider, users UserStore, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		cfg:    cfg,
		oidc:   oidc,
		signup: signup,
		users:  users,
		logger: logger.With("component", "auth"),
	}
}

// StatePolicy returns the configured policy.
func (c *Controller) StatePolicy() StatePolicy { return c.cfg.StatePolicy }

// InitiateLogin returns the authorize URL and the values the caller must
// keep in the session until the callback.
func (c *Controller) InitiateLogin(ctx context.Context) (string, PendingLogin, error) {
	state, err := util.RandomHex(stateBytes)
	if err != nil {
		return "", PendingLogin{}, err
	}
	nonce, err := util.RandomHex(stateBytes)
	if err != nil {
		return "", PendingLogin{}, err
	}
	pending := PendingLogin{State: state, Nonce: nonce}
	return c.oidc.AuthCodeURL(state, nonce), pending, nil
}

// HandleCallback completes the authorization code flow. pending is nil when
// the session holds no login in progress. Failures are CallbackErrors.
func (c *Controller) HandleCallback(ctx context.Context, pending *PendingLogin, params CallbackParams) (*CallbackResult, error) {
	if params.Error != "" {
		return nil, &ProviderError{Code: params.Error, Description: params.ErrorDescription}
	}
	if params.Code == "" {
		return nil, &MissingCodeError{}
	}
	if err := c.checkState(pending, params.State); err != nil {
		return nil, err
	}

	tokens, err := c.oidc.Exchange(ctx, params.Code)
	if err != nil {
		return nil, asCallbackError(err, func(e error) error { return &TokenExchangeError{Err: e} })
	}
	if pending != nil && pending.Nonce != "" {
		if err := c.checkNonce(pending.Nonce, tokens.IDToken); err != nil {
			return nil, err
		}
	}

	info, err := c.oidc.UserInfo(ctx, tokens)
	if err != nil {
		return nil, asCallbackError(err, func(e error) error { return &UserInfoFetchError{Err: e} })
	}
	if !bool(info.EmailVerified) {
		return nil, &EmailNotVerifiedError{Email: info.Email}
	}

	if c.users != nil {
		_, err := c.users.RecordLogin(ctx, users.Login{
			UserID:   info.Sub,
			Email:    info.Email,
			Username: info.Username,
			Name:     info.Name,
		})
		if err != nil {
			c.logger.Error("record login failed", "sub", info.Sub, "error", err)
		}
	}

	return &CallbackResult{
		User: SessionUser{
			Sub:           info.Sub,
			Email:         info.Email,
			Name:          info.Name,
			Username:      info.Username,
			EmailVerified: true,
		},
		Tokens: *tokens,
	}, nil
}

func asCallbackError(err error, wrap func(error) error) error {
	var ce CallbackError
	if errors.As(err, &ce) {
		return err
	}
	return wrap(err)
}

func (c *Controller) checkState(pending *PendingLogin, received string) error {
	var reason string
	switch {
	case pending == nil || pending.State == "":
		reason = "no state in session"
	case received == "":
		reason = "no state in callback"
	case subtle.ConstantTimeCompare([]byte(pending.State), []byte(received)) != 1:
		reason = "state mismatch"
	default:
		return nil
	}
	if c.cfg.StatePolicy == StatePermissive {
		c.logger.Warn("oauth state check failed, continuing", "reason", reason)
		return nil
	}
	return &InvalidStateError{Reason: reason}
}

// checkNonce compares the nonce claim of the ID token with the one sent at
// login. The token signature is not verified; the userinfo call that follows
// is authoritative for the identity.
func (c *Controller) checkNonce(expected, idToken string) error {
	if idToken == "" {
		return nil
	}
	got, ok := idTokenNonce(idToken)
	if !ok || got == "" {
		return nil
	}
	if subtle.ConstantTimeCompare([]byte(expected), []byte(got)) == 1 {
		return nil
	}
	if c.cfg.StatePolicy == StatePermissive {
		c.logger.Warn("id token nonce mismatch, continuing")
		return nil
	}
	return &InvalidStateError{Reason: "nonce mismatch"}
}

func idTokenNonce(idToken string) (string, bool) {
	parts := strings.Split(idToken, ".")
	if len(parts) != 3 {
		return "", false
	}
	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return "", false
	}
	var claims struct {
		Nonce string `json:"nonce"`
	}
	if err := json.Unmarshal(payload, &claims); err != nil {
		return "", false
	}
	return claims.Nonce, true
}

// Register creates a provider account and stores the user's metadata.
func (c *Controller) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	email := strings.TrimSpace(in.Email)
	if email == "" || in.Password == "" {
		return nil, apperr.Validation("Email and password are required")
	}
	if len(in.Password) < MinPasswordLength {
		return nil, apperr.Validation("Password must be at least %d characters", MinPasswordLength)
	}

	req := SignUpRequest{
		Email:          email,
		Password:       in.Password,
		Name:           users.NameFromEmail(email),
		WithSecretHash: c.signup.HasSecret(),
	}
	res, err := c.signup.SignUp(ctx, req)
	if err != nil && errorCode(err) == "NotAuthorizedException" && c.signup.HasSecret() {
		// The app client may or may not be configured with a secret; try the
		// other way once.
		req.WithSecretHash = !req.WithSecretHash
		c.logger.Warn("sign up not authorized, retrying", "secret_hash", req.WithSecretHash)
		res, err = c.signup.SignUp(ctx, req)
	}
	if err != nil {
		mapped := mapProviderError(OpSignUp, err)
		c.logger.Error("sign up failed", "code", mapped.Code, "error", err)
		return nil, mapped
	}

	if c.users != nil {
		if _, err := c.users.Create(ctx, res.UserSub, email, in.GradeLevel); err != nil {
			c.logger.Error("save user metadata failed", "sub", res.UserSub, "error", err)
		}
	}
	return &RegisterResult{UserSub: res.UserSub, EmailVerificationRequired: !res.Confirmed}, nil
}

// ConfirmRegistration submits the emailed confirmation code.
func (c *Controller) ConfirmRegistration(ctx context.Context, email, code string) error {
	email = strings.TrimSpace(email)
	code = strings.TrimSpace(code)
	if email == "" || code == "" {
		return apperr.Validation("Email and confirmation code are required")
	}
	if err := c.signup.ConfirmSignUp(ctx, email, code); err != nil {
		mapped := mapProviderError(OpConfirm, err)
		c.logger.Error("confirm sign up failed", "code", mapped.Code, "error", err)
		return mapped
	}
	return nil
}

// ResendConfirmationCode asks the provider to send a new code.
func (c *Controller) ResendConfirmationCode(ctx context.Context, email string) error {
	email = strings.TrimSpace(email)
	if email == "" {
		return apperr.Validation("Email is required")
	}
	if err := c.signup.ResendConfirmationCode(ctx, email); err != nil {
		mapped := mapProviderError(OpResend, err)
		c.logger.Error("resend confirmation failed", "code", mapped.Code, "error", err)
		return mapped
	}
	return nil
}
