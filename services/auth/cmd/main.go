// Package main is the entry point for the GitHub login service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/carlossalguero/ghlogin/services/auth/internal/config"
	"github.com/carlossalguero/ghlogin/services/auth/internal/cookie"
	"github.com/carlossalguero/ghlogin/services/auth/internal/middleware"
	"github.com/carlossalguero/ghlogin/services/auth/internal/oauth"
	"github.com/carlossalguero/ghlogin/services/auth/internal/server"
	"github.com/carlossalguero/ghlogin/services/auth/internal/service"
	"github.com/carlossalguero/ghlogin/services/shared/cache"
	"github.com/carlossalguero/ghlogin/services/shared/circuitbreaker"
	"github.com/carlossalguero/ghlogin/services/shared/events"
	"github.com/carlossalguero/ghlogin/services/shared/health"
	"github.com/carlossalguero/ghlogin/services/shared/logger"
	"github.com/carlossalguero/ghlogin/services/shared/metrics"
	ghtls "github.com/carlossalguero/ghlogin/services/shared/tls"
	"github.com/carlossalguero/ghlogin/services/shared/tracing"
)

const serviceName = "ghlogin-auth"

func main() {
	cfg, err := config.Load(os.Getenv("AUTH_CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	logger.Init(logger.Config{
		Level:       cfg.Log.Level,
		Format:      cfg.Log.Format,
		ServiceName: serviceName,
		Environment: cfg.Environment,
	})
	log := logger.Default()
	log.Info("starting ghlogin auth service",
		"environment", cfg.Environment,
		"tls_enabled", cfg.TLS.Enabled,
		"secure_cookies", cfg.IsProduction(),
	)

	// Tracing
	tracingCfg := cfg.Tracing
	tracingCfg.ServiceVersion = version()
	if tracingCfg.Environment == "" {
		tracingCfg.Environment = cfg.Environment
	}
	_, tracingCleanup, err := tracing.Init(tracingCfg)
	if err != nil {
		log.Error("failed to initialize tracing", "error", err)
	} else if tracingCfg.Enabled {
		log.Info("tracing initialized", "endpoint", tracingCfg.Endpoint)
	}

	metricsInstance := metrics.New(metrics.Config{
		ServiceName: "auth",
		Subsystem:   "auth",
	})

	// Redis (optional)
	var cacheClient *cache.Client
	if cfg.RedisEnabled() {
		cacheClient, err = cache.New(cfg.Redis)
		if err != nil {
			if cfg.State.ReplayProtection {
				log.Error("failed to connect to Redis", "error", err)
				os.Exit(1)
			}
			log.Warn("failed to connect to Redis, continuing without it", "error", err)
		} else {
			log.Info("connected to Redis", "address", cfg.Redis.Address)
		}
	}

	// NATS (optional)
	var eventsClient *events.Client
	if cfg.NATSEnabled() {
		eventsClient, err = events.New(cfg.NATS, log)
		if err != nil {
			log.Warn("failed to connect to NATS, continuing without events", "error", err)
		} else {
			log.Info("connected to NATS", "url", cfg.NATS.URL)
		}
	}

	// Identity provider
	providerClient, err := newProviderClient(cfg)
	if err != nil {
		log.Error("failed to configure identity provider client", "error", err)
		os.Exit(1)
	}
	provider := oauth.NewGitHubProvider(oauth.GitHubConfig{
		ClientID:     cfg.GitHub.ClientID,
		ClientSecret: cfg.GitHub.ClientSecret,
		RedirectURL:  cfg.GitHub.RedirectURL,
		Scopes:       cfg.GitHub.Scopes,
		AuthURL:      cfg.GitHub.AuthURL,
		TokenURL:     cfg.GitHub.TokenURL,
		HTTPClient:   providerClient,
		Metrics:      metricsInstance,
	})

	cbConfig := cfg.CircuitBreaker
	cbConfig.OnStateChange = func(name string, from, to circuitbreaker.State) {
		log.Warn("circuit breaker state changed", "component", name, "from", from.String(), "to", to.String())
		metricsInstance.SetCircuitBreakerState(name, int(to))
		if to == circuitbreaker.StateOpen {
			metricsInstance.RecordCircuitBreakerTrip(name)
		}
	}
	breaker := circuitbreaker.New(provider.Name(), cbConfig)

	svcCfg := service.Config{
		Provider: provider,
		Breaker:  breaker,
		Metrics:  metricsInstance,
		Logger:   log,
	}
	if eventsClient != nil {
		svcCfg.Events = eventsClient
	}
	if cacheClient != nil && cfg.State.ReplayProtection {
		svcCfg.States = service.NewRedisStateStore(cacheClient, cfg.State.TTL)
		log.Info("state replay protection enabled", "ttl", cfg.State.TTL)
	}
	handshake := service.New(svcCfg)

	// Health
	healthChecker := health.NewChecker(
		health.WithVersion(version()),
		health.WithTimeout(5*time.Second),
	)
	healthChecker.Register(provider.Name(), health.CircuitCheck(func() string {
		return breaker.State().String()
	}))
	if cacheClient != nil {
		healthChecker.Register("redis", health.WithDetails(
			health.PingCheck("redis", cacheClient.Ping),
			cacheClient.PoolDetails,
		))
	}
	if eventsClient != nil {
		healthChecker.Register("nats", health.PingCheck("nats", eventsClient.Ping))
	}

	// Rate limiting
	var limiter middleware.Limiter
	var memLimiter *middleware.RateLimiter
	if cfg.RateLimit.Enabled {
		if cacheClient != nil {
			limiter = middleware.NewRedisLimiter(cacheClient, cfg.RateLimit.Requests, cfg.RateLimit.Window)
		} else {
			memLimiter = middleware.NewRateLimiter(cfg.RateLimit.Requests, cfg.RateLimit.Window, cfg.RateLimit.Burst)
			limiter = memLimiter
		}
	}

	srv := server.New(server.Config{
		Service:    handshake,
		Jar:        cookie.NewJar(cfg.IsProduction()),
		Health:     healthChecker,
		Metrics:    metricsInstance,
		Logger:     log,
		Limiter:    limiter,
		TrustProxy: cfg.RateLimit.TrustProxy,
	})

	httpServer := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           srv.Handler(),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}
	if cfg.TLS.Enabled {
		tlsConfig, err := ghtls.ServerTLSConfig(ghtls.Config{
			CertFile: cfg.TLS.CertFile,
			KeyFile:  cfg.TLS.KeyFile,
		})
		if err != nil {
			log.Error("failed to configure TLS", "error", err)
			os.Exit(1)
		}
		httpServer.TLSConfig = tlsConfig
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server", "address", httpServer.Addr, "tls", cfg.TLS.Enabled)
		var err error
		if cfg.TLS.Enabled {
			err = httpServer.ListenAndServeTLS("", "")
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case sig := <-quit:
		log.Info("shutting down server...", "signal", sig.String())
	case err := <-serveErr:
		log.Error("HTTP server error", "error", err)
		exitCode = 1
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error("server shutdown error", "error", err)
	}

	if memLimiter != nil {
		memLimiter.Stop()
	}

	if cacheClient != nil {
		if err := cacheClient.Close(); err != nil {
			log.Error("redis close error", "error", err)
		}
	}

	if eventsClient != nil {
		if err := eventsClient.Close(); err != nil {
			log.Error("NATS close error", "error", err)
		}
	}

	if tracingCleanup != nil {
		if err := tracingCleanup(ctx); err != nil {
			log.Error("tracing shutdown error", "error", err)
		}
	}

	log.Info("server stopped")
	os.Exit(exitCode)
}

// newProviderClient builds the HTTP client used for the token exchange.
func newProviderClient(cfg *config.Config) (*http.Client, error) {
	tlsConfig, err := ghtls.ClientTLSConfig(ghtls.Config{CAFile: cfg.GitHub.CAFile})
	if err != nil {
		return nil, err
	}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = tlsConfig

	return &http.Client{
		Timeout:   cfg.GitHub.Timeout,
		Transport: transport,
	}, nil
}

func version() string {
	if v := os.Getenv("VERSION"); v != "" {
		return v
	}
	return "dev"
}
