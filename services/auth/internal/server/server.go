// Package server exposes the handshake over HTTP.
package server

import (
	"net/http"
	"net/url"

	"github.com/gorilla/mux"

	"github.com/carlossalguero/ghlogin/services/auth/internal/cookie"
	"github.com/carlossalguero/ghlogin/services/auth/internal/middleware"
	"github.com/carlossalguero/ghlogin/services/auth/internal/service"
	"github.com/carlossalguero/ghlogin/services/shared/errors"
	"github.com/carlossalguero/ghlogin/services/shared/health"
	"github.com/carlossalguero/ghlogin/services/shared/logger"
	"github.com/carlossalguero/ghlogin/services/shared/metrics"
	"github.com/carlossalguero/ghlogin/services/shared/tracing"
)

// Route paths.
const (
	PathState       = "/api/state"
	PathTokenNew    = "/api/token/new"
	PathTokenStored = "/api/token/stored"
	PathAuthorize   = "/api/authorize"
	PathHealth      = "/health"
	PathLive        = "/health/live"
	PathReady       = "/health/ready"
	PathMetrics     = "/metrics"
)

// Config holds the server dependencies. Health, Metrics and Limiter are
// optional.
type Config struct {
	Service *service.Service
	Jar     *cookie.Jar
	Health  *health.Checker
	Metrics *metrics.Metrics
	Logger  *logger.Logger

	// Limiter rate limits the exchange and authorize routes.
	Limiter    middleware.Limiter
	TrustProxy bool
}

// Server routes handshake requests to the service.
type Server struct {
	svc     *service.Service
	jar     *cookie.Jar
	log     *logger.Logger
	handler http.Handler
}

// New creates the server and builds its router.
func New(cfg Config) *Server {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}

	s := &Server{
		svc: cfg.Service,
		jar: cfg.Jar,
		log: log.WithComponent("http"),
	}

	r := mux.NewRouter()
	r.Use(middleware.Tracing(middleware.TracingConfig{
		SkipPaths: []string{PathHealth, PathLive, PathReady, PathMetrics},
		SpanName: func(r *http.Request) string {
			return tracing.HTTPSpanName(r.Method, routeTemplate(r))
		},
	}))
	if cfg.Metrics != nil {
		r.Use(cfg.Metrics.HTTPMiddleware(routeTemplate))
	}

	limit := func(h http.HandlerFunc) http.Handler { return h }
	if cfg.Limiter != nil {
		rl := middleware.RateLimit(middleware.RateLimitConfig{
			Limiter:    cfg.Limiter,
			Logger:     s.log,
			TrustProxy: cfg.TrustProxy,
			PathLabel:  routeTemplate,
			Metrics:    rateLimitMetrics(cfg.Metrics),
		})
		limit = func(h http.HandlerFunc) http.Handler { return rl(h) }
	}

	r.HandleFunc(PathState, s.handleState).Methods(http.MethodGet)
	r.Handle(PathTokenNew, limit(s.handleExchange)).Methods(http.MethodGet)
	r.HandleFunc(PathTokenStored, s.handleStored).Methods(http.MethodGet)
	r.Handle(PathAuthorize, limit(s.handleAuthorize)).Methods(http.MethodGet)

	if cfg.Health != nil {
		r.Handle(PathHealth, cfg.Health.Handler()).Methods(http.MethodGet)
		r.Handle(PathLive, cfg.Health.LivenessHandler()).Methods(http.MethodGet)
		r.Handle(PathReady, cfg.Health.ReadinessHandler()).Methods(http.MethodGet)
	}
	if cfg.Metrics != nil {
		r.Handle(PathMetrics, cfg.Metrics.Handler()).Methods(http.MethodGet)
	}

	var handler http.Handler = r
	handler = middleware.Security()(handler)
	handler = middleware.Logging(s.log)(handler)
	handler = middleware.RequestID()(handler)
	handler = middleware.Recovery(s.log)(handler)
	s.handler = handler

	return s
}

// Handler returns the root HTTP handler.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// rateLimitMetrics avoids handing a typed nil to the middleware.
func rateLimitMetrics(m *metrics.Metrics) middleware.RateLimitMetrics {
	if m == nil {
		return nil
	}
	return m
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

func (s *Server) handleState(w http.ResponseWriter, r *http.Request) {
	res := s.svc.IssueState(r.Context())
	if res.OK() {
		s.jar.SetState(w, res.Value)
	}
	writeResult(w, res)
}

func (s *Server) handleAuthorize(w http.ResponseWriter, r *http.Request) {
	res := s.svc.Authorize(r.Context())
	if !res.OK() {
		writeResult(w, res)
		return
	}
	s.jar.SetState(w, res.Value)
	http.Redirect(w, r, res.RedirectURL, http.StatusFound)
}

func (s *Server) handleExchange(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	cookieState, _ := cookie.GetState(r)

	res := s.svc.ExchangeToken(r.Context(), service.ExchangeRequest{
		Code:        lastValue(query, "code"),
		State:       lastValue(query, "state"),
		CookieState: cookieState,
	})

	if res.StateConsumed {
		s.jar.ClearState(w)
	}
	if res.OK() {
		s.jar.SetToken(w, res.Value)
	}
	writeResult(w, res)
}

// lastValue returns the last occurrence of a repeated query parameter.
func lastValue(q url.Values, key string) string {
	vs := q[key]
	if len(vs) == 0 {
		return ""
	}
	return vs[len(vs)-1]
}

func (s *Server) handleStored(w http.ResponseWriter, r *http.Request) {
	token, _ := cookie.GetToken(r)
	writeResult(w, s.svc.ReadStoredToken(r.Context(), token))
}

// writeResult writes a result as a plain-text response. Nothing but the
// status is written once the client has gone away.
func writeResult(w http.ResponseWriter, res service.Result) {
	status := res.StatusCode()
	if status == errors.StatusClientClosedRequest {
		w.WriteHeader(status)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if body := res.Body(); body != "" {
		_, _ = w.Write([]byte(body))
	}
}
