// Package events provides a NATS client wrapper for publishing handshake events.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/carlossalguero/ghlogin/services/shared/logger"
)

// Common errors.
var (
	ErrNotConnected      = errors.New("not connected to NATS")
	ErrJetStreamDisabled = errors.New("JetStream not enabled")
)

// Config holds NATS client configuration.
type Config struct {
	URL             string        `mapstructure:"url"`
	Name            string        `mapstructure:"name"`
	MaxReconnects   int           `mapstructure:"max_reconnects"`
	ReconnectWait   time.Duration `mapstructure:"reconnect_wait"`
	Timeout         time.Duration `mapstructure:"timeout"`
	DrainTimeout    time.Duration `mapstructure:"drain_timeout"`
	EnableJetStream bool          `mapstructure:"enable_jetstream"`
	Stream          string        `mapstructure:"stream"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() Config {
	return Config{
		URL:           "nats://localhost:4222",
		Name:          "ghlogin-auth",
		MaxReconnects: 10,
		ReconnectWait: 2 * time.Second,
		Timeout:       5 * time.Second,
		DrainTimeout:  30 * time.Second,
		Stream:        "GHLOGIN_AUTH",
	}
}

// Client wraps the NATS client with additional functionality.
type Client struct {
	conn   *nats.Conn
	js     jetstream.JetStream
	config Config
	log    *logger.Logger
	mu     sync.RWMutex
}

// Event represents a generic event.
type Event struct {
	ID        string         `json:"id"`
	Type      string         `json:"type"`
	Source    string         `json:"source"`
	Timestamp time.Time      `json:"timestamp"`
	RequestID string         `json:"request_id,omitempty"`
	Data      map[string]any `json:"data"`
}

// NewEvent creates a new event with the given type and source.
func NewEvent(eventType, source string, data map[string]any) Event {
	if data == nil {
		data = make(map[string]any)
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      eventType,
		Source:    source,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// New creates a new NATS client.
func New(cfg Config, log *logger.Logger) (*Client, error) {
	if cfg.URL == "" {
		cfg.URL = "nats://localhost:4222"
	}
	if cfg.MaxReconnects == 0 {
		cfg.MaxReconnects = 10
	}
	if cfg.ReconnectWait == 0 {
		cfg.ReconnectWait = 2 * time.Second
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = 5 * time.Second
	}
	if log == nil {
		log = logger.Default()
	}
	log = log.WithComponent("events")

	opts := []nats.Option{
		nats.Name(cfg.Name),
		nats.MaxReconnects(cfg.MaxReconnects),
		nats.ReconnectWait(cfg.ReconnectWait),
		nats.Timeout(cfg.Timeout),
		nats.DrainTimeout(cfg.DrainTimeout),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			log.Info("reconnected to NATS", "url", nc.ConnectedUrl())
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			if err != nil {
				log.Warn("disconnected from NATS", "error", err)
			}
		}),
	}

	conn, err := nats.Connect(cfg.URL, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	client := &Client{
		conn:   conn,
		config: cfg,
		log:    log,
	}

	if cfg.EnableJetStream {
		js, err := jetstream.New(conn)
		if err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		client.js = js

		ctx, cancel := context.WithTimeout(context.Background(), cfg.Timeout)
		defer cancel()
		if _, err := client.CreateStream(ctx, jetstream.StreamConfig{
			Name:     cfg.Stream,
			Subjects: []string{SubjectPrefixAuth + ">"},
			MaxAge:   24 * time.Hour,
		}); err != nil {
			conn.Close()
			return nil, fmt.Errorf("failed to create stream %s: %w", cfg.Stream, err)
		}
	}

	return client, nil
}

// Close drains and closes the NATS connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		return c.conn.Drain()
	}
	return nil
}

// IsConnected returns whether the client is connected.
func (c *Client) IsConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}

// Ping flushes the connection, returning an error if the server does not
// answer before ctx is done.
func (c *Client) Ping(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	return c.conn.FlushWithContext(ctx)
}

// --- Publishing ---

// Publish publishes a message to a subject. Messages go through JetStream
// when it is enabled.
func (c *Client) Publish(ctx context.Context, subject string, data []byte) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if c.js != nil {
		_, err := c.js.Publish(ctx, subject, data)
		return err
	}
	return c.conn.Publish(subject, data)
}

// PublishJSON publishes a JSON-encoded message to a subject.
func (c *Client) PublishJSON(ctx context.Context, subject string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to marshal message: %w", err)
	}
	return c.Publish(ctx, subject, data)
}

// PublishEvent publishes an event to a subject.
func (c *Client) PublishEvent(ctx context.Context, subject string, event Event) error {
	if requestID, ok := ctx.Value(logger.RequestIDKey).(string); ok {
		event.RequestID = requestID
	}
	return c.PublishJSON(ctx, subject, event)
}

// --- JetStream Operations ---

// CreateStream creates or updates a JetStream stream.
func (c *Client) CreateStream(ctx context.Context, cfg jetstream.StreamConfig) (jetstream.Stream, error) {
	if c.js == nil {
		return nil, ErrJetStreamDisabled
	}
	return c.js.CreateOrUpdateStream(ctx, cfg)
}

// --- Handshake Events ---

// SubjectPrefixAuth is the subject prefix for handshake events.
const SubjectPrefixAuth = "ghlogin.auth."

// Event types.
const (
	EventStateIssued         = "state.issued"
	EventTokenIssued         = "token.issued"
	EventTokenExchangeFailed = "token.exchange_failed"
)

// AuthSubject returns the subject an auth event of the given type is
// published on.
func AuthSubject(eventType string) string {
	return SubjectPrefixAuth + eventType
}

// PublishAuthEvent publishes a handshake event. Data must never carry
// secrets such as codes or tokens.
func (c *Client) PublishAuthEvent(ctx context.Context, eventType string, data map[string]any) error {
	event := NewEvent(eventType, "auth", data)
	return c.PublishEvent(ctx, AuthSubject(eventType), event)
}
