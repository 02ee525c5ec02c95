package api

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/funstudy/funstudy/internal/util"
)

type contextKey int

const sessionContextKey contextKey = iota

const (
	sessionCookieName = "funstudy.sid"
	sessionDuration   = 24 * time.Hour
	sessionTokenBytes = 32
)

type requestSession struct {
	token   string
	session Session
}

// SessionMiddleware loads the session named by the cookie, if any, onto the
// request context. It never creates a session.
func (a *API) SessionMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		cookie, err := r.Cookie(sessionCookieName)
		if err != nil || cookie.Value == "" {
			next.ServeHTTP(w, r)
			return
		}
		session, ok := a.sessions.Get(r.Context(), cookie.Value)
		if !ok {
			next.ServeHTTP(w, r)
			return
		}
		rs := &requestSession{token: cookie.Value, session: session}
		ctx := context.WithValue(r.Context(), sessionContextKey, rs)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// AuthMiddleware rejects requests without an authenticated session and
// extends the session's expiry on every request it lets through.
func (a *API) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rs := sessionFromContext(r.Context())
		if rs == nil || !rs.session.Authenticated() {
			writeError(w, http.StatusUnauthorized, "Authentication required")
			return
		}
		if err := a.saveSession(w, r, rs); err != nil {
			a.logger.Warn("session refresh failed", "error", err)
		}
		next.ServeHTTP(w, r)
	})
}

func sessionFromContext(ctx context.Context) *requestSession {
	rs, _ := ctx.Value(sessionContextKey).(*requestSession)
	return rs
}

// sessionOrNew returns the request's session or starts a fresh one that is
// persisted by the next saveSession.
func (a *API) sessionOrNew(r *http.Request) (*requestSession, error) {
	if rs := sessionFromContext(r.Context()); rs != nil {
		return rs, nil
	}
	return a.newSession()
}

func (a *API) newSession() (*requestSession, error) {
	token, err := util.RandomToken(sessionTokenBytes)
	if err != nil {
		return nil, err
	}
	return &requestSession{
		token: token,
		session: Session{
			ID:        uuid.NewString(),
			CreatedAt: a.now(),
		},
	}, nil
}

// saveSession stores rs with a fresh 24h expiry and re-issues the cookie.
func (a *API) saveSession(w http.ResponseWriter, r *http.Request, rs *requestSession) error {
	now := a.now()
	rs.session.LastAccessedAt = now
	rs.session.ExpiresAt = now.Add(sessionDuration)
	if err := a.sessions.Put(r.Context(), rs.token, rs.session); err != nil {
		return err
	}
	a.writeSessionCookie(w, r, rs.token, rs.session.ExpiresAt)
	return nil
}

// rotateSession moves the session to a new token, e.g. after login.
func (a *API) rotateSession(w http.ResponseWriter, r *http.Request, rs *requestSession) error {
	old := rs.token
	token, err := util.RandomToken(sessionTokenBytes)
	if err != nil {
		return err
	}
	rs.token = token
	if err := a.saveSession(w, r, rs); err != nil {
		return err
	}
	if old != "" {
		_ = a.sessions.Delete(r.Context(), old)
	}
	return nil
}

func (a *API) cookieAttrs(r *http.Request) (secure bool, sameSite http.SameSite) {
	if a.crossSiteCookies {
		return true, http.SameSiteNoneMode
	}
	return a.secureCookies || requestIsSecure(r), http.SameSiteLaxMode
}

func (a *API) writeSessionCookie(w http.ResponseWriter, r *http.Request, token string, expiresAt time.Time) {
	secure, sameSite := a.cookieAttrs(r)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
		Expires:  expiresAt,
		MaxAge:   int(sessionDuration.Seconds()),
	})
}

func (a *API) clearSessionCookie(w http.ResponseWriter, r *http.Request) {
	secure, sameSite := a.cookieAttrs(r)
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
	})
}

func requestIsSecure(r *http.Request) bool {
	if r.TLS != nil {
		return true
	}
	if strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https") {
		return true
	}
	return strings.Contains(strings.ToLower(r.Header.Get("Forwarded")), "proto=https")
}

// RequestLogger logs one line per request at info, or warn for 5xx.
func (a *API) RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		level := slog.LevelInfo
		if status >= http.StatusInternalServerError {
			level = slog.LevelWarn
		}
		a.logger.LogAttrs(r.Context(), level, "request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", status),
			slog.Int("bytes", ww.BytesWritten()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}
