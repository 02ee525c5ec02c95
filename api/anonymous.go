package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/funstudy/funstudy/internal/util"
)

const (
	anonCookieName = "funstudy.anon"
	anonKeySalt    = "funstudy:anonymous"
	anonKeyInfo    = "funstudy:anonymous_id_key:v1"
)

// WithAnonymousKey derives the key that signs anonymous usage ids from
// secret. Instances sharing a secret accept each other's ids. Without it a
// random per-process key is used.
func WithAnonymousKey(secret []byte) Option {
	return func(a *API) {
		if len(secret) == 0 {
			return
		}
		key, err := util.HKDF(secret, []byte(anonKeySalt), []byte(anonKeyInfo))
		if err == nil {
			a.anonKey = key
		}
	}
}

func (a *API) signAnonID(id string) string {
	mac := hmac.New(sha256.New, a.anonKey)
	mac.Write([]byte(id))
	return id + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func (a *API) verifyAnonID(value string) (string, bool) {
	id, _, ok := strings.Cut(value, ".")
	if !ok || id == "" {
		return "", false
	}
	if !hmac.Equal([]byte(a.signAnonID(id)), []byte(value)) {
		return "", false
	}
	return id, true
}

// usageID returns the key that question de-duplication is tracked under.
// Requests with a stored session use the session id and refresh it. Others
// carry a signed anonymous id in a cookie, which costs no session store
// write; the usage cache bounds what is kept for them.
func (a *API) usageID(w http.ResponseWriter, r *http.Request) string {
	if rs := sessionFromContext(r.Context()); rs != nil {
		if err := a.saveSession(w, r, rs); err != nil {
			a.logger.Warn("session refresh failed", "error", err)
		}
		return rs.session.ID
	}
	if len(a.anonKey) == 0 {
		return ""
	}
	if c, err := r.Cookie(anonCookieName); err == nil {
		if id, ok := a.verifyAnonID(c.Value); ok {
			return id
		}
	}

	id := uuid.NewString()
	secure, sameSite := a.cookieAttrs(r)
	http.SetCookie(w, &http.Cookie{
		Name:     anonCookieName,
		Value:    a.signAnonID(id),
		Path:     "/api/quiz",
		HttpOnly: true,
		Secure:   secure,
		SameSite: sameSite,
		MaxAge:   int(sessionDuration.Seconds()),
	})
	return id
}
