package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/cognitoidentityprovider"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/funstudy/funstudy/api"
	"github.com/funstudy/funstudy/auth"
	"github.com/funstudy/funstudy/quiz"
	"github.com/funstudy/funstudy/storage"
	"github.com/funstudy/funstudy/users"
)

var (
	port int

	cognitoDomain       string
	cognitoBaseURL      string
	cognitoUserPoolID   string
	cognitoClientID     string
	cognitoClientSecret string
	redirectURI         string
	statePolicy         string
	providerTimeout     time.Duration

	frontendURL      string
	allowedOrigins   []string
	trustedProxies   []string
	cookieSecure     bool
	cookieCrossSite  bool
	sessionBackend   string
	sessionSecret    string
	alertWebhookURL  string
	alertWebhookAuth string

	batchSize     int
	usageCapacity int
	redisURL      string
	usageTTL      time.Duration
)

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Start the quiz API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		logger := slog.Default()

		store, closeStore, err := openStore(ctx, storeOpts)
		if err != nil {
			return err
		}
		defer closeStore()
		if _, err := ensureTables(ctx, store, coreTables); err != nil {
			return err
		}

		policy, err := auth.ParseStatePolicy(statePolicy)
		if err != nil {
			return err
		}
		authCfg := auth.Config{
			Region:       storeOpts.awsRegion,
			UserPoolID:   cognitoUserPoolID,
			ClientID:     cognitoClientID,
			Domain:       cognitoDomain,
			BaseURL:      cognitoBaseURL,
			RedirectURI:  redirectURI,
			ClientSecret: auth.NewSecret(cognitoClientSecret),
			StatePolicy:  policy,
			Timeout:      providerTimeout,
		}
		if err := authCfg.Validate(); err != nil {
			return err
		}
		if policy == auth.StatePermissive {
			logger.Warn("OAuth state checking is permissive; callbacks with a missing or mismatched state are accepted")
		}

		awsCfg, err := loadAWSConfig(ctx, storeOpts)
		if err != nil {
			return err
		}
		oidc := auth.NewCognitoOIDC(authCfg, &http.Client{Timeout: providerTimeout})
		signup := auth.NewCognitoSignUp(cognitoidentityprovider.NewFromConfig(awsCfg), authCfg)
		userStore := users.NewStore(store, logger)
		controller := auth.NewController(authCfg, oidc, signup, userStore, logger)

		usage, closeUsage, err := openUsageCache(ctx)
		if err != nil {
			return err
		}
		defer closeUsage()
		quizSvc := quiz.NewService(store,
			quiz.WithBatchSize(batchSize),
			quiz.WithUsageCache(usage),
			quiz.WithLogger(logger),
		)

		sessions, closeSessions, err := openSessionStore(ctx, store, logger)
		if err != nil {
			return err
		}
		defer closeSessions()

		proxies, err := api.ParseTrustedProxies(trustedProxies)
		if err != nil {
			return err
		}
		opts := []api.Option{
			api.WithLogger(logger),
			api.WithSessionStore(sessions),
			api.WithFrontendURL(frontendURL),
			api.WithAllowedOrigins(append([]string{frontendURL}, allowedOrigins...)),
			api.WithTrustedProxies(proxies),
			api.WithCookiePolicy(cookieCrossSite, cookieSecure),
		}
		if sessionSecret != "" {
			opts = append(opts, api.WithAnonymousKey([]byte(sessionSecret)))
		}
		if alertWebhookURL != "" {
			hook := api.NewAlertWebhook(alertWebhookURL, alertWebhookAuth, logger)
			defer hook.Close()
			opts = append(opts, api.WithAlertFunc(hook.Notify))
		}
		a := api.New(quizSvc, userStore, controller, opts...)

		server := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           a.Router(),
			ReadHeaderTimeout: 10 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		}

		// Graceful shutdown on SIGINT/SIGTERM.
		done := make(chan error, 1)
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				done <- fmt.Errorf("server failed: %w", err)
				return
			}
			done <- nil
		}()

		printBanner()
		fmt.Printf("Starting server on port %d (store: %s, sessions: %s)...\n", port, storeOpts.backend, sessionBackend)
		fmt.Printf("API docs at http://localhost:%d/docs\n", port)

		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

		select {
		case sig := <-quit:
			fmt.Printf("\nReceived %s, shutting down...\n", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				return fmt.Errorf("server shutdown failed: %w", err)
			}
			return nil
		case err := <-done:
			return err
		}
	},
}

// openUsageCache returns the Redis-backed cache when a Redis URL is set and
// the bounded in-memory cache otherwise.
func openUsageCache(ctx context.Context) (quiz.UsageCache, func(), error) {
	if redisURL == "" {
		return quiz.NewMemoryUsageCache(usageCapacity), func() {}, nil
	}
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, func() {}, fmt.Errorf("invalid redis url: %w", err)
	}
	client := redis.NewClient(opt)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, func() {}, fmt.Errorf("connecting to redis: %w", err)
	}
	slog.Info("question usage tracked in redis", "addr", opt.Addr, "ttl", usageTTL)
	return quiz.NewRedisUsageCache(client, usageTTL), func() { _ = client.Close() }, nil
}

// openSessionStore builds the session store. The persistent store seals
// sessions into the document store and needs a session secret.
func openSessionStore(ctx context.Context, store storage.Store, logger *slog.Logger) (api.SessionStore, func(), error) {
	switch sessionBackend {
	case "memory", "":
		s := api.NewMemorySessionStore()
		return s, s.Close, nil
	case "persistent":
		if sessionSecret == "" {
			return nil, func() {}, errors.New("--session-secret is required for persistent sessions")
		}
		s, err := api.NewPersistentSessionStore(ctx, store, []byte(sessionSecret), logger)
		if err != nil {
			return nil, func() {}, err
		}
		return s, s.Close, nil
	}
	return nil, func() {}, fmt.Errorf("unknown session backend %q", sessionBackend)
}

func init() {
	rootCmd.AddCommand(serverCmd)
	f := serverCmd.Flags()
	addStoreFlags(f)

	f.IntVarP(&port, "port", "p", 5000, "Port to listen on")
	f.StringVar(&cognitoDomain, "cognito-domain", "", "Hosted UI domain prefix or full host name")
	f.StringVar(&cognitoBaseURL, "cognito-base-url", "", "Override the hosted UI base URL")
	f.StringVar(&cognitoUserPoolID, "cognito-user-pool-id", "", "User pool id")
	f.StringVar(&cognitoClientID, "cognito-client-id", "", "App client id")
	f.StringVar(&cognitoClientSecret, "cognito-client-secret", "", "App client secret, if the client has one")
	f.StringVar(&redirectURI, "redirect-uri", "http://localhost:5000/auth/callback", "OAuth redirect URI registered with the app client")
	f.StringVar(&statePolicy, "state-policy", "strict", "OAuth state check: strict or permissive")
	f.DurationVar(&providerTimeout, "provider-timeout", auth.DefaultTimeout, "Timeout for each call to the identity provider")

	f.StringVar(&frontendURL, "frontend-url", "http://localhost:3000", "Frontend origin used for redirects and CORS")
	f.StringSliceVar(&allowedOrigins, "allowed-origins", nil, "Additional CORS origins; a leading *. matches any subdomain")
	f.StringSliceVar(&trustedProxies, "trusted-proxies", nil, "Proxy IPs or CIDRs whose forwarding headers are trusted")
	f.BoolVar(&cookieSecure, "cookie-secure", false, "Always mark cookies Secure")
	f.BoolVar(&cookieCrossSite, "cookie-cross-site", false, "Issue SameSite=None cookies for a frontend on another site")
	f.StringVar(&sessionBackend, "sessions", "memory", "Session store: memory or persistent")
	f.StringVar(&sessionSecret, "session-secret", "", "Secret used to seal persistent sessions and sign anonymous quiz ids (at least 32 bytes for persistent sessions)")
	f.StringVar(&alertWebhookURL, "alert-webhook-url", "", "POST security alerts to this URL")
	f.StringVar(&alertWebhookAuth, "alert-webhook-auth", "", "Authorization header value sent with alerts")

	f.IntVar(&batchSize, "batch-size", quiz.DefaultBatchSize, "Questions served per request")
	f.IntVar(&usageCapacity, "usage-capacity", quiz.DefaultUsageCapacity, "Sessions tracked by the in-memory usage cache")
	f.StringVar(&redisURL, "redis-url", "", "Track question usage in Redis instead of memory, e.g. redis://localhost:6379/0")
	f.DurationVar(&usageTTL, "usage-ttl", quiz.DefaultUsageTTL, "How long an idle session's usage set is kept in Redis")

	bindEnv(f, "port", "PORT")
	bindEnv(f, "cognito-domain", "COGNITO_DOMAIN", "COGNITO_DOMAIN_PREFIX")
	bindEnv(f, "cognito-base-url", "COGNITO_BASE_URL")
	bindEnv(f, "cognito-user-pool-id", "COGNITO_USER_POOL_ID")
	bindEnv(f, "cognito-client-id", "COGNITO_CLIENT_ID")
	bindEnv(f, "cognito-client-secret", "COGNITO_CLIENT_SECRET", "CLIENT_SECRET")
	bindEnv(f, "redirect-uri", "REDIRECT_URI")
	bindEnv(f, "state-policy", "FUNSTUDY_STATE_POLICY")
	bindEnv(f, "provider-timeout", "FUNSTUDY_PROVIDER_TIMEOUT")
	bindEnv(f, "frontend-url", "FRONTEND_URL")
	bindEnv(f, "allowed-origins", "FUNSTUDY_ALLOWED_ORIGINS")
	bindEnv(f, "trusted-proxies", "FUNSTUDY_TRUSTED_PROXIES")
	bindEnv(f, "cookie-secure", "FUNSTUDY_COOKIE_SECURE")
	bindEnv(f, "cookie-cross-site", "FUNSTUDY_COOKIE_CROSS_SITE")
	bindEnv(f, "sessions", "FUNSTUDY_SESSIONS")
	bindEnv(f, "session-secret", "SESSION_SECRET")
	bindEnv(f, "alert-webhook-url", "FUNSTUDY_ALERT_WEBHOOK_URL")
	bindEnv(f, "alert-webhook-auth", "FUNSTUDY_ALERT_WEBHOOK_AUTH")
	bindEnv(f, "batch-size", "FUNSTUDY_BATCH_SIZE")
	bindEnv(f, "usage-capacity", "FUNSTUDY_USAGE_CAPACITY")
	bindEnv(f, "redis-url", "REDIS_URL")
	bindEnv(f, "usage-ttl", "FUNSTUDY_USAGE_TTL")
}
