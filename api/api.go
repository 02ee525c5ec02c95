package api

import (
	_ "embed"
	"log/slog"
	"net/http"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-openapi/runtime/middleware"

	"github.com/funstudy/funstudy/auth"
	"github.com/funstudy/funstudy/internal/util"
	"github.com/funstudy/funstudy/quiz"
	"github.com/funstudy/funstudy/users"
)

// API holds the dependencies needed by the REST handlers.
type API struct {
	quiz  *quiz.Service
	users *users.Store
	auth  *auth.Controller

	sessions         SessionStore
	logger           *slog.Logger
	audit            *auditLogger
	regIPLimiter     *registrationIPLimiter
	regGlobalLimiter *registrationGlobalLimiter
	origins          *originMatcher
	trustedProxies   []netip.Prefix
	alertFn          AlertFunc
	anonKey          []byte
	now              func() time.Time

	frontendURL      string
	crossSiteCookies bool
	secureCookies    bool
}

//go:embed openapi.yaml
var openapiSpec []byte

// Option configures the API instance.
type Option func(*API)

// WithLogger sets the structured logger for request, error and audit logs.
// If not set, a default JSON logger writing to stderr is used.
func WithLogger(logger *slog.Logger) Option {
	return func(a *API) {
		a.logger = logger
	}
}

// WithSessionStore replaces the default in-memory session store.
func WithSessionStore(store SessionStore) Option {
	return func(a *API) {
		a.sessions = store
	}
}

// WithFrontendURL sets where login, callback and logout redirect to.
func WithFrontendURL(u string) Option {
	return func(a *API) {
		a.frontendURL = strings.TrimRight(u, "/")
	}
}

// WithAllowedOrigins sets the origins allowed to make credentialed CORS
// requests. Entries may use a "*." host wildcard.
func WithAllowedOrigins(origins []string) Option {
	return func(a *API) {
		a.origins = newOriginMatcher(origins)
	}
}

// WithTrustedProxies sets CIDR ranges whose forwarding headers are honored
// when resolving the client IP for rate limiting.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) {
		a.trustedProxies = prefixes
	}
}

// WithCookiePolicy controls the session and CSRF cookie attributes. With
// crossSite the cookies are Secure and SameSite=None so a frontend on another
// site can send them; secure forces the Secure flag on plain HTTP.
func WithCookiePolicy(crossSite, secure bool) Option {
	return func(a *API) {
		a.crossSiteCookies = crossSite
		a.secureCookies = secure
	}
}

// WithAlertFunc registers a callback for anomaly alerts raised from audit
// events.
func WithAlertFunc(fn AlertFunc) Option {
	return func(a *API) {
		a.alertFn = fn
	}
}

// New creates a new API instance.
func New(quizSvc *quiz.Service, userStore *users.Store, controller *auth.Controller, opts ...Option) *API {
	a := &API{
		quiz:             quizSvc,
		users:            userStore,
		auth:             controller,
		regIPLimiter:     newRegistrationIPLimiter(),
		regGlobalLimiter: newRegistrationGlobalLimiter(),
		now:              time.Now,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = slog.New(slog.NewJSONHandler(os.Stderr, nil))
	}
	if a.sessions == nil {
		a.sessions = NewMemorySessionStore()
	}
	if a.origins == nil {
		a.origins = newOriginMatcher(nil)
	}
	if len(a.anonKey) == 0 {
		key, err := util.RandomBytes(util.HKDFKeyLength)
		if err != nil {
			a.logger.Error("anonymous id key unavailable, anonymous question requests are not de-duplicated", "error", err)
		}
		a.anonKey = key
	}
	a.audit = newAuditLogger(a.logger)
	if a.alertFn != nil {
		a.audit.metrics = newMetricsCollector(a.alertFn)
	}
	return a
}

// Router returns a chi.Router with the middleware stack and all routes
// mounted.
func (a *API) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(a.RequestLogger)
	r.Use(chimw.Recoverer)
	r.Use(a.SecurityHeaders)
	r.Use(a.CORS)
	r.Use(a.SessionMiddleware)

	r.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/yaml")
		w.Write(openapiSpec)
	})

	r.Handle("/docs*", middleware.SwaggerUI(middleware.SwaggerUIOpts{
		SpecURL: "/openapi.yaml",
		Path:    "docs",
	}, nil))

	r.Handle("/redoc*", middleware.Redoc(middleware.RedocOpts{
		SpecURL: "/openapi.yaml",
		Path:    "redoc",
	}, nil))

	r.Get("/health", a.Health)

	r.Route("/auth", func(r chi.Router) {
		r.Get("/login", a.Login)
		r.Get("/callback", a.Callback)
		r.Get("/logout", a.Logout)
		r.Get("/session", a.CheckSession)
		r.Post("/register", a.Register)
		r.Post("/confirm-registration", a.ConfirmRegistration)
		r.Post("/resend-confirmation", a.ResendConfirmation)
	})

	r.Route("/api/quiz", func(r chi.Router) {
		r.Get("/questions/{grade}/{subject}/{difficulty}", a.GetQuestions)
		r.Post("/verify-answers", a.VerifyAnswers)
		r.With(a.AuthMiddleware, a.CSRFMiddleware).Post("/submit", a.SubmitQuiz)
		r.Get("/subjects/{grade}", a.ListSubjects)
		r.Get("/difficulties/{grade}/{subject}", a.ListDifficulties)
		r.Get("/stats", a.QuizStats)
	})

	r.Route("/api/user", func(r chi.Router) {
		r.Use(a.AuthMiddleware)
		r.Use(a.CSRFMiddleware)
		r.Get("/profile", a.GetProfile)
		r.Put("/profile", a.UpdateProfile)
		r.Get("/attempts", a.ListAttempts)
	})

	return r
}

// Health reports liveness.
func (a *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: a.now().UTC().Format(time.RFC3339),
	})
}

// frontend returns an absolute frontend URL for path, or path itself when
// no frontend is configured.
func (a *API) frontend(path string) string {
	return a.frontendURL + path
}
