package api

import (
	"net/http"
	"strings"
)

const (
	corsAllowedMethods = "GET, POST, PUT, DELETE, OPTIONS"
	corsAllowedHeaders = "Content-Type, Authorization, " + csrfHeaderName
	corsMaxAge         = "600"
)

// originMatcher decides whether a browser origin may make credentialed
// requests. Patterns are exact origins or "*.suffix" entries that match any
// subdomain, e.g. "https://*.vercel.app".
type originMatcher struct {
	exact    map[string]bool
	suffixes []originSuffix
}

type originSuffix struct {
	prefix string // "https://"
	domain string // ".vercel.app"
}

func newOriginMatcher(origins []string) *originMatcher {
	m := &originMatcher{exact: make(map[string]bool)}
	for _, o := range origins {
		o = strings.TrimRight(strings.TrimSpace(o), "/")
		if o == "" {
			continue
		}
		scheme, host, ok := strings.Cut(o, "://")
		if ok && strings.HasPrefix(host, "*.") {
			m.suffixes = append(m.suffixes, originSuffix{prefix: scheme + "://", domain: host[1:]})
			continue
		}
		m.exact[o] = true
	}
	return m
}

func (m *originMatcher) allowed(origin string) bool {
	if origin == "" {
		return false
	}
	if m.exact[origin] {
		return true
	}
	for _, s := range m.suffixes {
		if strings.HasPrefix(origin, s.prefix) && strings.HasSuffix(origin, s.domain) &&
			len(origin) > len(s.prefix)+len(s.domain) {
			return true
		}
	}
	return false
}

// CORS answers preflight requests and sets credentialed CORS headers for
// allowed origins. Requests from other origins pass through without CORS
// headers, so browsers block them.
func (a *API) CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		w.Header().Add("Vary", "Origin")
		if a.origins.allowed(origin) {
			h := w.Header()
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
			if r.Method == http.MethodOptions && r.Header.Get("Access-Control-Request-Method") != "" {
				h.Set("Access-Control-Allow-Methods", corsAllowedMethods)
				h.Set("Access-Control-Allow-Headers", corsAllowedHeaders)
				h.Set("Access-Control-Max-Age", corsMaxAge)
				w.WriteHeader(http.StatusNoContent)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
