package api

import (
	"errors"
	"net/http"
	"net/url"

	"github.com/funstudy/funstudy/auth"
)

const (
	registerMessage = "Registration successful! Please check your email for verification if required, then you can login."
	confirmMessage  = "Email confirmed successfully! You can now login."
	resendMessage   = "Confirmation code sent! Please check your email."
)

// Login handles GET /auth/login. It stores the pending state and nonce in
// an unauthenticated session and redirects to the hosted login page. An
// authenticated session is ended first.
func (a *API) Login(w http.ResponseWriter, r *http.Request) {
	authURL, pending, err := a.auth.InitiateLogin(r.Context())
	if err != nil {
		a.fail(w, r, "initiate login failed", err)
		return
	}
	rs := sessionFromContext(r.Context())
	if rs != nil && rs.session.Authenticated() {
		if err := a.sessions.Delete(r.Context(), rs.token); err != nil {
			a.logger.Warn("ending previous session failed", "error", err)
		}
		rs = nil
	}
	if rs == nil {
		rs, err = a.newSession()
	}
	if err != nil {
		a.fail(w, r, "create session failed", err)
		return
	}
	rs.session.Pending = &pending
	if err := a.saveSession(w, r, rs); err != nil {
		a.fail(w, r, "save session failed", err)
		return
	}
	a.audit.log(AuditLoginInitiated, r)
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback handles GET /auth/callback, the provider's redirect back. Every
// outcome is a redirect to the frontend; failures carry an error code.
func (a *API) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := auth.CallbackParams{
		Code:             q.Get("code"),
		State:            q.Get("state"),
		Error:            q.Get("error"),
		ErrorDescription: q.Get("error_description"),
	}

	rs := sessionFromContext(r.Context())
	var pending *auth.PendingLogin
	if rs != nil {
		pending = rs.session.Pending
	}

	result, err := a.auth.HandleCallback(r.Context(), pending, params)
	if err != nil {
		a.callbackFailed(w, r, rs, err)
		return
	}

	if rs == nil {
		if rs, err = a.sessionOrNew(r); err != nil {
			a.callbackFailed(w, r, nil, err)
			return
		}
	}
	user := result.User
	tokens := result.Tokens
	rs.session.Pending = nil
	rs.session.User = &user
	rs.session.Tokens = &tokens
	if err := a.rotateSession(w, r, rs); err != nil {
		a.callbackFailed(w, r, nil, err)
		return
	}
	a.writeCSRFCookie(w, r)
	a.audit.logEvent(AuditLoginSuccess, r, user.Sub)
	http.Redirect(w, r, a.frontend("/?auth=success"), http.StatusFound)
}

func (a *API) callbackFailed(w http.ResponseWriter, r *http.Request, rs *requestSession, err error) {
	code := auth.CodeAuthFailed
	var cbErr auth.CallbackError
	if errors.As(err, &cbErr) {
		code = cbErr.RedirectCode()
	}
	query := url.Values{"error": {code}}
	var notVerified *auth.EmailNotVerifiedError
	if errors.As(err, &notVerified) && notVerified.Email != "" {
		query.Set("email", notVerified.Email)
	}

	// A pending login is single use.
	if rs != nil && rs.session.Pending != nil {
		rs.session.Pending = nil
		if err := a.saveSession(w, r, rs); err != nil {
			a.logger.Warn("clearing pending login failed", "error", err)
		}
	}

	a.logger.Warn("login callback failed", "code", code, "error", err)
	a.audit.logFailure(AuditLoginFailure, r, code)
	http.Redirect(w, r, a.frontend("/?"+query.Encode()), http.StatusFound)
}

// Logout handles GET /auth/logout. It is idempotent: without a session it
// just redirects.
func (a *API) Logout(w http.ResponseWriter, r *http.Request) {
	rs := sessionFromContext(r.Context())
	if rs == nil {
		http.Redirect(w, r, a.frontend("/"), http.StatusFound)
		return
	}
	if err := a.sessions.Delete(r.Context(), rs.token); err != nil {
		a.logger.Error("session destroy failed", "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to logout")
		return
	}
	a.clearSessionCookie(w, r)
	a.clearCSRFCookie(w, r)
	userID := ""
	if rs.session.User != nil {
		userID = rs.session.User.Sub
	}
	a.audit.logEvent(AuditLogout, r, userID)
	http.Redirect(w, r, a.frontend("/"), http.StatusFound)
}

// CheckSession handles GET /auth/session. Tokens never leave the server.
func (a *API) CheckSession(w http.ResponseWriter, r *http.Request) {
	rs := sessionFromContext(r.Context())
	if rs == nil || !rs.session.Authenticated() {
		writeJSON(w, http.StatusOK, SessionResponse{IsAuthenticated: false})
		return
	}
	u := rs.session.User
	writeJSON(w, http.StatusOK, SessionResponse{
		IsAuthenticated: true,
		User:            &SessionUserView{Sub: u.Sub, Email: u.Email, Name: u.Name},
		CSRFToken:       a.csrfToken(w, r),
	})
}

// Register handles POST /auth/register.
func (a *API) Register(w http.ResponseWriter, r *http.Request) {
	if !a.limitAccountFlow(w, r) {
		return
	}
	req, ok := decodeJSON[RegisterRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	res, err := a.auth.Register(r.Context(), auth.RegisterInput{
		Email:      req.Email,
		Password:   req.Password,
		GradeLevel: req.GradeLevel,
	})
	if err != nil {
		a.audit.logFailure(AuditRegisterFailure, r, err.Error())
		a.fail(w, r, "registration failed", err)
		return
	}
	a.audit.logEvent(AuditRegister, r, res.UserSub)
	writeJSON(w, http.StatusOK, RegisterResponse{
		Success:                   true,
		Message:                   registerMessage,
		UserSub:                   res.UserSub,
		EmailVerificationRequired: res.EmailVerificationRequired,
	})
}

// ConfirmRegistration handles POST /auth/confirm-registration.
func (a *API) ConfirmRegistration(w http.ResponseWriter, r *http.Request) {
	if !a.limitAccountFlow(w, r) {
		return
	}
	req, ok := decodeJSON[ConfirmRegistrationRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if err := a.auth.ConfirmRegistration(r.Context(), req.Email, req.ConfirmationCode); err != nil {
		a.fail(w, r, "confirm registration failed", err)
		return
	}
	a.audit.log(AuditConfirm, r)
	writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: confirmMessage})
}

// ResendConfirmation handles POST /auth/resend-confirmation.
func (a *API) ResendConfirmation(w http.ResponseWriter, r *http.Request) {
	if !a.limitAccountFlow(w, r) {
		return
	}
	req, ok := decodeJSON[ResendConfirmationRequest](w, r, maxAuthBodySize)
	if !ok {
		return
	}
	if err := a.auth.ResendConfirmationCode(r.Context(), req.Email); err != nil {
		a.fail(w, r, "resend confirmation failed", err)
		return
	}
	a.audit.log(AuditResendConfirmation, r)
	writeJSON(w, http.StatusOK, MessageResponse{Success: true, Message: resendMessage})
}
