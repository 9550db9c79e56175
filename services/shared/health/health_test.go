package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func up(context.Context) ComponentHealth       { return ComponentHealth{Status: StatusUp} }
func down(context.Context) ComponentHealth     { return ComponentHealth{Status: StatusDown} }
func degraded(context.Context) ComponentHealth { return ComponentHealth{Status: StatusDegraded} }

func TestChecker_NoChecks(t *testing.T) {
	c := NewChecker(WithVersion("1.0.0"))

	resp := c.Check(context.Background())

	assert.Equal(t, StatusUp, resp.Status)
	assert.Equal(t, "1.0.0", resp.Version)
	assert.Empty(t, resp.Components)
}

func TestChecker_AggregateStatus(t *testing.T) {
	tests := []struct {
		name   string
		checks map[string]Check
		want   Status
	}{
		{"all up", map[string]Check{"a": up, "b": up}, StatusUp},
		{"one degraded", map[string]Check{"a": up, "b": degraded}, StatusDegraded},
		{"down wins over degraded", map[string]Check{"a": degraded, "b": down}, StatusDown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := NewChecker()
			for name, check := range tt.checks {
				c.Register(name, check)
			}

			resp := c.Check(context.Background())
			assert.Equal(t, tt.want, resp.Status)
			assert.Len(t, resp.Components, len(tt.checks))
			assert.Equal(t, tt.want == StatusUp, c.IsHealthy(context.Background()))
		})
	}
}

func TestChecker_TimeoutPropagates(t *testing.T) {
	c := NewChecker(WithTimeout(20 * time.Millisecond))
	c.Register("slow", PingCheck("redis", func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}))

	resp := c.Check(context.Background())

	assert.Equal(t, StatusDown, resp.Status)
	assert.Equal(t, "redis unreachable", resp.Components["slow"].Message)
}

func TestPingCheck(t *testing.T) {
	ok := PingCheck("nats", func(context.Context) error { return nil })(context.Background())
	assert.Equal(t, StatusUp, ok.Status)

	bad := PingCheck("nats", func(context.Context) error { return errors.New("refused") })(context.Background())
	assert.Equal(t, StatusDown, bad.Status)
	assert.Equal(t, "refused", bad.Details["error"])
}

func TestWithDetails(t *testing.T) {
	pool := func() map[string]any { return map[string]any{"idle_conns": 2, "error": "ignored"} }

	ok := WithDetails(PingCheck("redis", func(context.Context) error { return nil }), pool)(context.Background())
	assert.Equal(t, StatusUp, ok.Status)
	assert.Equal(t, 2, ok.Details["idle_conns"])

	bad := WithDetails(PingCheck("redis", func(context.Context) error { return errors.New("refused") }), pool)(context.Background())
	assert.Equal(t, StatusDown, bad.Status)
	assert.Equal(t, "refused", bad.Details["error"], "check details win over extras")
	assert.Equal(t, 2, bad.Details["idle_conns"])
}

func TestCircuitCheck(t *testing.T) {
	assert.Equal(t, StatusUp, CircuitCheck(func() string { return "closed" })(context.Background()).Status)
	assert.Equal(t, StatusDegraded, CircuitCheck(func() string { return "open" })(context.Background()).Status)
}

func TestHandlers(t *testing.T) {
	c := NewChecker(WithVersion("test"))
	c.Register("redis", down)

	t.Run("health hides components", func(t *testing.T) {
		rec := httptest.NewRecorder()
		c.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var resp Response
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, StatusDown, resp.Status)
		assert.Nil(t, resp.Components)
	})

	t.Run("ready includes components", func(t *testing.T) {
		rec := httptest.NewRecorder()
		c.ReadinessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var resp Response
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Contains(t, resp.Components, "redis")
	})

	t.Run("live is always up", func(t *testing.T) {
		rec := httptest.NewRecorder()
		c.LivenessHandler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	})
}
