// Package config loads the auth service configuration.
package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/carlossalguero/ghlogin/services/shared/cache"
	"github.com/carlossalguero/ghlogin/services/shared/circuitbreaker"
	"github.com/carlossalguero/ghlogin/services/shared/events"
	"github.com/carlossalguero/ghlogin/services/shared/tracing"
)

// EnvProduction is the environment name that turns on Secure cookies.
const EnvProduction = "production"

// Config holds the auth service configuration.
type Config struct {
	Environment string `mapstructure:"environment"`

	HTTP struct {
		Host              string        `mapstructure:"host"`
		Port              int           `mapstructure:"port"`
		ReadHeaderTimeout time.Duration `mapstructure:"read_header_timeout"`
		ShutdownTimeout   time.Duration `mapstructure:"shutdown_timeout"`
	} `mapstructure:"http"`

	GitHub struct {
		ClientID     string        `mapstructure:"client_id"`
		ClientSecret string        `mapstructure:"client_secret"`
		RedirectURL  string        `mapstructure:"redirect_url"`
		Scopes       []string      `mapstructure:"scopes"`
		AuthURL      string        `mapstructure:"auth_url"`
		TokenURL     string        `mapstructure:"token_url"`
		Timeout      time.Duration `mapstructure:"timeout"`
		CAFile       string        `mapstructure:"ca_file"`
	} `mapstructure:"github"`

	State struct {
		ReplayProtection bool          `mapstructure:"replay_protection"`
		TTL              time.Duration `mapstructure:"ttl"`
	} `mapstructure:"state"`

	RateLimit struct {
		Enabled    bool          `mapstructure:"enabled"`
		Requests   int           `mapstructure:"requests"`
		Window     time.Duration `mapstructure:"window"`
		Burst      int           `mapstructure:"burst"`
		TrustProxy bool          `mapstructure:"trust_proxy"`
	} `mapstructure:"rate_limit"`

	CircuitBreaker circuitbreaker.Config `mapstructure:"circuit_breaker"`

	TLS struct {
		Enabled  bool   `mapstructure:"enabled"`
		CertFile string `mapstructure:"cert_file"`
		KeyFile  string `mapstructure:"key_file"`
	} `mapstructure:"tls"`

	Redis   cache.Config   `mapstructure:"redis"`
	NATS    events.Config  `mapstructure:"nats"`
	Tracing tracing.Config `mapstructure:"tracing"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c.Environment == EnvProduction
}

// Addr returns the HTTP listen address.
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.HTTP.Host, c.HTTP.Port)
}

// RedisEnabled reports whether a Redis address was configured.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Address != ""
}

// NATSEnabled reports whether a NATS URL was configured.
func (c *Config) NATSEnabled() bool {
	return c.NATS.URL != ""
}

// Validate checks that the configuration can start the service.
func (c *Config) Validate() error {
	var errs []error

	if c.GitHub.ClientID == "" {
		errs = append(errs, errors.New("github.client_id is required (PUBLIC_GITHUB_CLIENT_ID)"))
	}
	if c.GitHub.ClientSecret == "" {
		errs = append(errs, errors.New("github.client_secret is required (GITHUB_CLIENT_SECRET)"))
	}
	if c.HTTP.Port <= 0 || c.HTTP.Port > 65535 {
		errs = append(errs, fmt.Errorf("http.port %d out of range", c.HTTP.Port))
	}
	if c.GitHub.Timeout <= 0 {
		errs = append(errs, errors.New("github.timeout must be positive"))
	}
	if c.TLS.Enabled && (c.TLS.CertFile == "" || c.TLS.KeyFile == "") {
		errs = append(errs, errors.New("tls.cert_file and tls.key_file are required when tls is enabled"))
	}
	if c.State.ReplayProtection && !c.RedisEnabled() {
		errs = append(errs, errors.New("state.replay_protection requires redis.address"))
	}
	if c.RateLimit.Enabled && (c.RateLimit.Requests <= 0 || c.RateLimit.Window <= 0) {
		errs = append(errs, errors.New("rate_limit.requests and rate_limit.window must be positive"))
	}

	return errors.Join(errs...)
}

// Load reads configuration from defaults, an optional auth.yaml and the
// environment. A non-empty configFile is read instead of searching.
func Load(configFile string) (*Config, error) {
	v := viper.New()

	if configFile != "" {
		v.SetConfigFile(configFile)
	} else {
		v.SetConfigName("auth")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/ghlogin")
	}

	setDefaults(v)

	v.SetEnvPrefix("AUTH")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Names used by the browser-facing deployment.
	_ = v.BindEnv("github.client_id", "AUTH_GITHUB_CLIENT_ID", "PUBLIC_GITHUB_CLIENT_ID")
	_ = v.BindEnv("github.client_secret", "AUTH_GITHUB_CLIENT_SECRET", "GITHUB_CLIENT_SECRET")
	_ = v.BindEnv("environment", "AUTH_ENVIRONMENT", "ENVIRONMENT")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.read_header_timeout", "10s")
	v.SetDefault("http.shutdown_timeout", "30s")

	v.SetDefault("github.client_id", "")
	v.SetDefault("github.client_secret", "")
	v.SetDefault("github.redirect_url", "")
	v.SetDefault("github.scopes", []string{"read:user"})
	v.SetDefault("github.auth_url", "")
	v.SetDefault("github.token_url", "")
	v.SetDefault("github.timeout", "10s")
	v.SetDefault("github.ca_file", "")

	v.SetDefault("state.replay_protection", false)
	v.SetDefault("state.ttl", "10m")

	v.SetDefault("rate_limit.enabled", true)
	v.SetDefault("rate_limit.requests", 30)
	v.SetDefault("rate_limit.window", "1m")
	v.SetDefault("rate_limit.burst", 10)
	v.SetDefault("rate_limit.trust_proxy", false)

	cb := circuitbreaker.DefaultConfig()
	v.SetDefault("circuit_breaker.failure_threshold", cb.FailureThreshold)
	v.SetDefault("circuit_breaker.success_threshold", cb.SuccessThreshold)
	v.SetDefault("circuit_breaker.timeout", cb.Timeout)
	v.SetDefault("circuit_breaker.max_half_open_requests", cb.MaxHalfOpenRequests)

	v.SetDefault("tls.enabled", false)
	v.SetDefault("tls.cert_file", "")
	v.SetDefault("tls.key_file", "")

	rc := cache.DefaultConfig()
	v.SetDefault("redis.address", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.pool_size", rc.PoolSize)
	v.SetDefault("redis.min_idle_conns", rc.MinIdleConns)
	v.SetDefault("redis.dial_timeout", rc.DialTimeout)
	v.SetDefault("redis.read_timeout", rc.ReadTimeout)
	v.SetDefault("redis.write_timeout", rc.WriteTimeout)
	v.SetDefault("redis.max_retries", rc.MaxRetries)
	v.SetDefault("redis.key_prefix", "ghlogin:auth:")

	nc := events.DefaultConfig()
	v.SetDefault("nats.url", "")
	v.SetDefault("nats.name", nc.Name)
	v.SetDefault("nats.max_reconnects", nc.MaxReconnects)
	v.SetDefault("nats.reconnect_wait", nc.ReconnectWait)
	v.SetDefault("nats.timeout", nc.Timeout)
	v.SetDefault("nats.drain_timeout", nc.DrainTimeout)
	v.SetDefault("nats.enable_jetstream", false)
	v.SetDefault("nats.stream", nc.Stream)

	tc := tracing.DefaultConfig()
	v.SetDefault("tracing.enabled", tc.Enabled)
	v.SetDefault("tracing.service_name", tc.ServiceName)
	v.SetDefault("tracing.service_version", tc.ServiceVersion)
	v.SetDefault("tracing.environment", "")
	v.SetDefault("tracing.endpoint", tc.Endpoint)
	v.SetDefault("tracing.sample_rate", tc.SampleRate)
	v.SetDefault("tracing.insecure", tc.Insecure)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
}
