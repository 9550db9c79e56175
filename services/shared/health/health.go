// Package health provides health check utilities for services.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"
)

// Status represents the health status of a component.
type Status string

const (
	// StatusUp indicates the component is healthy.
	StatusUp Status = "up"
	// StatusDown indicates the component is unhealthy.
	StatusDown Status = "down"
	// StatusDegraded indicates the component is partially healthy.
	StatusDegraded Status = "degraded"
)

// Check represents a health check function.
type Check func(ctx context.Context) ComponentHealth

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Status  Status         `json:"status"`
	Message string         `json:"message,omitempty"`
	Details map[string]any `json:"details,omitempty"`
	Latency time.Duration  `json:"latency_ms"`
}

// Response represents the overall health response.
type Response struct {
	Status     Status                     `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// Checker manages health checks for a service.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]Check
	version string
	timeout time.Duration
}

// Option is a functional option for configuring the Checker.
type Option func(*Checker)

// WithVersion sets the service version.
func WithVersion(version string) Option {
	return func(c *Checker) {
		c.version = version
	}
}

// WithTimeout sets the timeout for individual health checks.
func WithTimeout(timeout time.Duration) Option {
	return func(c *Checker) {
		c.timeout = timeout
	}
}

// NewChecker creates a new health checker.
func NewChecker(opts ...Option) *Checker {
	c := &Checker{
		checks:  make(map[string]Check),
		timeout: 5 * time.Second,
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// Register adds a health check for a component.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks[name] = check
}

// Check runs all health checks concurrently and returns the overall health.
func (c *Checker) Check(ctx context.Context) Response {
	c.mu.RLock()
	checks := make(map[string]Check, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()

	response := Response{
		Status:     StatusUp,
		Timestamp:  time.Now().UTC(),
		Version:    c.version,
		Components: make(map[string]ComponentHealth, len(checks)),
	}

	if len(checks) == 0 {
		return response
	}

	type result struct {
		name   string
		health ComponentHealth
	}

	var wg sync.WaitGroup
	results := make(chan result, len(checks))

	for name, check := range checks {
		wg.Add(1)
		go func(name string, check Check) {
			defer wg.Done()

			checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
			defer cancel()

			start := time.Now()
			health := check(checkCtx)
			health.Latency = time.Since(start)

			results <- result{name, health}
		}(name, check)
	}

	wg.Wait()
	close(results)

	for r := range results {
		response.Components[r.name] = r.health

		switch r.health.Status {
		case StatusDown:
			response.Status = StatusDown
		case StatusDegraded:
			if response.Status != StatusDown {
				response.Status = StatusDegraded
			}
		}
	}

	return response
}

// IsHealthy returns true if all components are healthy.
func (c *Checker) IsHealthy(ctx context.Context) bool {
	return c.Check(ctx).Status == StatusUp
}

// LivenessHandler reports that the process is serving requests.
func (c *Checker) LivenessHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, Response{
			Status:    StatusUp,
			Timestamp: time.Now().UTC(),
			Version:   c.version,
		})
	})
}

// ReadinessHandler runs every check and includes per-component detail.
func (c *Checker) ReadinessHandler() http.Handler {
	return c.handler(true)
}

// Handler runs every check and reports only the aggregate status.
func (c *Checker) Handler() http.Handler {
	return c.handler(false)
}

func (c *Checker) handler(detailed bool) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		response := c.Check(r.Context())

		status := http.StatusOK
		if response.Status == StatusDown {
			status = http.StatusServiceUnavailable
		}

		if !detailed {
			response.Components = nil
		}

		writeJSON(w, status, response)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// Common health check implementations

// PingCheck creates a health check for a dependency reachable through a ping
// function, such as Redis or NATS.
func PingCheck(component string, ping func(context.Context) error) Check {
	return func(ctx context.Context) ComponentHealth {
		if err := ping(ctx); err != nil {
			return ComponentHealth{
				Status:  StatusDown,
				Message: component + " unreachable",
				Details: map[string]any{"error": err.Error()},
			}
		}
		return ComponentHealth{
			Status:  StatusUp,
			Message: component + " reachable",
		}
	}
}

// WithDetails merges details from fn into every result of check.
func WithDetails(check Check, fn func() map[string]any) Check {
	return func(ctx context.Context) ComponentHealth {
		h := check(ctx)
		extra := fn()
		if len(extra) == 0 {
			return h
		}
		merged := make(map[string]any, len(h.Details)+len(extra))
		for k, v := range extra {
			merged[k] = v
		}
		for k, v := range h.Details {
			merged[k] = v
		}
		h.Details = merged
		return h
	}
}

// CircuitCheck reports degraded while the named breaker is not closed.
func CircuitCheck(state func() string) Check {
	return func(_ context.Context) ComponentHealth {
		s := state()
		if s != "closed" {
			return ComponentHealth{
				Status:  StatusDegraded,
				Message: "identity provider circuit " + s,
				Details: map[string]any{"state": s},
			}
		}
		return ComponentHealth{
			Status:  StatusUp,
			Message: "identity provider circuit closed",
		}
	}
}
