package api

import (
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"strconv"
	"strings"
	"sync"
	"time"
)

type attemptRecord struct {
	requests    int
	lastRequest time.Time
	lockedUntil time.Time
}

func retryAfterString(d time.Duration) string {
	secs := int(d.Seconds())
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}

// ---------------------------------------------------------------------------
// Account flow rate limiter (per-IP burst + global sliding window)
// ---------------------------------------------------------------------------
//
// Register, confirm and resend each cost a call to the identity provider,
// which throttles the whole app client once it sees too many. These limits
// keep one origin, or a distributed burst, from exhausting that quota.

const (
	// regIPMaxRequests is the number of requests per IP before lockout.
	regIPMaxRequests = 10
	// regIPBaseLockout is the initial per-IP lockout.
	regIPBaseLockout = 5 * time.Minute
	// regIPMaxLockout caps the exponential backoff.
	regIPMaxLockout = 1 * time.Hour
	// regIPExpiry is how long after the last request before the record expires.
	regIPExpiry = 1 * time.Hour
	// maxTrackedIPs triggers a sweep of expired records.
	maxTrackedIPs = 10000

	regGlobalWindow      = 1 * time.Minute
	regGlobalMaxRequests = 100
	regGlobalLockout     = 5 * time.Minute
)

// registrationIPLimiter counts every account flow request per source IP,
// successful or not.
type registrationIPLimiter struct {
	mu       sync.Mutex
	requests map[string]*attemptRecord
	max      int
}

func newRegistrationIPLimiter() *registrationIPLimiter {
	return &registrationIPLimiter{
		requests: make(map[string]*attemptRecord),
		max:      regIPMaxRequests,
	}
}

func (rl *registrationIPLimiter) check(ip string) (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.requests[ip]
	if !ok {
		return false, 0
	}
	if time.Since(rec.lastRequest) > regIPExpiry {
		delete(rl.requests, ip)
		return false, 0
	}
	if time.Now().Before(rec.lockedUntil) {
		return true, time.Until(rec.lockedUntil)
	}
	return false, 0
}

func (rl *registrationIPLimiter) record(ip string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	rec, ok := rl.requests[ip]
	if !ok {
		if len(rl.requests) >= maxTrackedIPs {
			rl.sweepLocked(time.Now())
		}
		rec = &attemptRecord{}
		rl.requests[ip] = rec
	}
	rec.requests++
	rec.lastRequest = time.Now()

	if rec.requests >= rl.max {
		shift := rec.requests - rl.max
		lockout := regIPBaseLockout
		for i := 0; i < shift; i++ {
			lockout *= 2
			if lockout > regIPMaxLockout {
				lockout = regIPMaxLockout
				break
			}
		}
		rec.lockedUntil = time.Now().Add(lockout)
	}
}

// sweepLocked removes expired records. rl.mu must be held.
func (rl *registrationIPLimiter) sweepLocked(now time.Time) {
	for ip, rec := range rl.requests {
		if now.Sub(rec.lastRequest) > regIPExpiry {
			delete(rl.requests, ip)
		}
	}
}

// registrationGlobalLimiter tracks account flow requests across all IPs
// using a sliding window.
type registrationGlobalLimiter struct {
	mu          sync.Mutex
	requests    []time.Time
	lockedUntil time.Time
	max         int
}

func newRegistrationGlobalLimiter() *registrationGlobalLimiter {
	return &registrationGlobalLimiter{max: regGlobalMaxRequests}
}

func (rl *registrationGlobalLimiter) check() (blocked bool, retryAfter time.Duration) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	if time.Now().Before(rl.lockedUntil) {
		return true, time.Until(rl.lockedUntil)
	}
	return false, 0
}

func (rl *registrationGlobalLimiter) record() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	rl.requests = append(rl.requests, now)
	rl.requests = trimWindow(rl.requests, now, regGlobalWindow)

	if len(rl.requests) >= rl.max {
		rl.lockedUntil = now.Add(regGlobalLockout)
	}
}

// limitAccountFlow applies both limiters and records the request. It writes
// a 429 and returns false when the caller is throttled.
func (a *API) limitAccountFlow(w http.ResponseWriter, r *http.Request) bool {
	clientIP := a.extractClientIP(r)
	if blocked, retryAfter := a.regGlobalLimiter.check(); blocked {
		a.audit.logFailure(AuditRegisterRateLimited, r, "global rate limited")
		writeRegistrationRateLimited(w, retryAfter)
		return false
	}
	if blocked, retryAfter := a.regIPLimiter.check(clientIP); blocked {
		a.audit.logFailure(AuditRegisterRateLimited, r, "ip rate limited", slog.String("client_ip", clientIP))
		writeRegistrationRateLimited(w, retryAfter)
		return false
	}
	a.regIPLimiter.record(clientIP)
	a.regGlobalLimiter.record()
	return true
}

// writeRegistrationRateLimited sends a 429 response for account flow throttling.
func writeRegistrationRateLimited(w http.ResponseWriter, retryAfter time.Duration) {
	w.Header().Set("Retry-After", retryAfterString(retryAfter))
	writeErrorBody(w, http.StatusTooManyRequests, "Too many requests. Please try again later.", "RateLimited", nil)
}

// ---------------------------------------------------------------------------
// Helper: extract client IP
// ---------------------------------------------------------------------------

// extractClientIP returns the client IP for rate limiting. It delegates to
// extractClientIPWithProxies using the API's configured trusted proxies.
func (a *API) extractClientIP(r *http.Request) string {
	return extractClientIPWithProxies(r, a.trustedProxies)
}

// extractClientIPWithProxies returns the best-effort client IP address.
//
// Proxy headers (X-Forwarded-For, Forwarded, X-Real-IP) are only honored
// if trustedProxies is non-empty AND the request's RemoteAddr falls within
// one of the trusted CIDR ranges. With no trusted proxies RemoteAddr is
// always used.
//
// Priority when proxy headers are trusted:
// 1. First valid entry in X-Forwarded-For
// 2. First valid "for=" value in Forwarded
// 3. X-Real-IP
// 4. RemoteAddr
func extractClientIPWithProxies(r *http.Request, trustedProxies []netip.Prefix) string {
	remoteIP, _ := parseIPCandidate(r.RemoteAddr)

	// Determine whether the direct peer is trusted.
	// Default: trust no proxy headers unless explicitly configured.
	proxyTrusted := false
	if len(trustedProxies) > 0 && remoteIP != "" {
		if addr, err := netip.ParseAddr(remoteIP); err == nil {
			for _, prefix := range trustedProxies {
				if prefix.Contains(addr) {
					proxyTrusted = true
					break
				}
			}
		}
	}

	if proxyTrusted {
		if xff := strings.TrimSpace(r.Header.Get("X-Forwarded-For")); xff != "" {
			for _, part := range strings.Split(xff, ",") {
				if ip, ok := parseIPCandidate(part); ok {
					return ip
				}
			}
		}

		if fwd := strings.TrimSpace(r.Header.Get("Forwarded")); fwd != "" {
			for _, elem := range strings.Split(fwd, ",") {
				for _, param := range strings.Split(elem, ";") {
					param = strings.TrimSpace(param)
					if !strings.HasPrefix(strings.ToLower(param), "for=") {
						continue
					}
					raw := strings.TrimSpace(param[4:])
					if ip, ok := parseIPCandidate(raw); ok {
						return ip
					}
				}
			}
		}

		if xrip := strings.TrimSpace(r.Header.Get("X-Real-IP")); xrip != "" {
			if ip, ok := parseIPCandidate(xrip); ok {
				return ip
			}
		}
	}

	if remoteIP != "" {
		return remoteIP
	}
	return ""
}

// extractClientIP is the package-level function for use in tests and
// contexts without an API instance. It trusts no proxy headers and
// always returns RemoteAddr (fail-safe default).
func extractClientIP(r *http.Request) string {
	return extractClientIPWithProxies(r, nil)
}

// ParseTrustedProxies parses CIDR ranges for WithTrustedProxies. A bare
// address is a single-host range.
func ParseTrustedProxies(entries []string) ([]netip.Prefix, error) {
	prefixes := make([]netip.Prefix, 0, len(entries))
	for _, e := range entries {
		e = strings.TrimSpace(e)
		if e == "" {
			continue
		}
		if strings.Contains(e, "/") {
			p, err := netip.ParsePrefix(e)
			if err != nil {
				return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
			}
			prefixes = append(prefixes, p.Masked())
			continue
		}
		addr, err := netip.ParseAddr(e)
		if err != nil {
			return nil, fmt.Errorf("trusted proxy %q: %w", e, err)
		}
		prefixes = append(prefixes, netip.PrefixFrom(addr, addr.BitLen()))
	}
	return prefixes, nil
}

func parseIPCandidate(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	s = strings.Trim(s, "\"")
	if s == "" {
		return "", false
	}

	// RFC 7239 quoted IPv6 may appear as [::1]:1234.
	if host, _, err := net.SplitHostPort(s); err == nil {
		s = host
	}

	// Remove IPv6 brackets if present.
	s = strings.TrimPrefix(s, "[")
	s = strings.TrimSuffix(s, "]")
	// Drop zone if any (e.g. fe80::1%eth0).
	if i := strings.IndexByte(s, '%'); i >= 0 {
		s = s[:i]
	}

	if addr, err := netip.ParseAddr(s); err == nil {
		return addr.String(), true
	}
	// As a fallback, allow net.ParseIP normalization.
	if ip := net.ParseIP(s); ip != nil {
		return ip.String(), true
	}
	return "", false
}
