// Package service implements the GitHub login handshake: state issuance,
// code-for-token exchange and reading the stored token.
package service

import (
	"context"
	"crypto/subtle"
	stderrors "errors"
	"net"

	"github.com/google/uuid"

	"github.com/carlossalguero/ghlogin/services/auth/internal/oauth"
	"github.com/carlossalguero/ghlogin/services/shared/circuitbreaker"
	"github.com/carlossalguero/ghlogin/services/shared/errors"
	"github.com/carlossalguero/ghlogin/services/shared/events"
	"github.com/carlossalguero/ghlogin/services/shared/logger"
	"github.com/carlossalguero/ghlogin/services/shared/tracing"
)

// Response messages. Clients may match on these.
const (
	MsgMissingCode        = "Missing authorization code"
	MsgMissingState       = "Missing state parameter"
	MsgMissingStateCookie = "Missing state cookie"
	MsgStateMismatch      = "State mismatch"
	MsgStateReused        = "State already used"
	MsgStateStoreDown     = "State store unavailable"
	MsgInvalidCode        = "Invalid authorization code"
	MsgFetchFailed        = "Failed to fetch access token"
	MsgProviderTimeout    = "Identity provider timed out"
	MsgProviderDown       = "Identity provider unavailable"
	MsgStateFailed        = "Failed to generate state"
)

// Operation names used in metrics and events.
const (
	OpState     = "state"
	OpExchange  = "exchange"
	OpStored    = "stored"
	OpAuthorize = "authorize"
)

// StateStore tracks which states have been exchanged.
type StateStore interface {
	Consume(ctx context.Context, state string) (bool, error)
}

// EventClient defines the interface for event publishing.
type EventClient interface {
	PublishAuthEvent(ctx context.Context, eventType string, data map[string]any) error
}

// MetricsRecorder receives handshake outcomes.
type MetricsRecorder interface {
	RecordHandshake(operation, outcome string)
}

// Breaker guards the token exchange.
type Breaker interface {
	Allow() error
	RecordSuccess()
	RecordFailure()
	Release()
}

// Config holds the service dependencies. Everything but Provider is optional.
type Config struct {
	Provider oauth.Provider
	Breaker  Breaker
	States   StateStore
	Events   EventClient
	Metrics  MetricsRecorder
	Logger   *logger.Logger
	// NewState generates state values. Defaults to UUID v4.
	NewState func() (string, error)
}

// Service provides the handshake business logic. It holds no per-request
// state.
type Service struct {
	provider oauth.Provider
	breaker  Breaker
	states   StateStore
	events   EventClient
	metrics  MetricsRecorder
	log      *logger.Logger
	newState func() (string, error)
}

// New creates a new handshake service.
func New(cfg Config) *Service {
	log := cfg.Logger
	if log == nil {
		log = logger.Default()
	}
	newState := cfg.NewState
	if newState == nil {
		newState = newUUIDState
	}

	return &Service{
		provider: cfg.Provider,
		breaker:  cfg.Breaker,
		states:   cfg.States,
		events:   cfg.Events,
		metrics:  cfg.Metrics,
		log:      log.WithComponent("handshake"),
		newState: newState,
	}
}

func newUUIDState() (string, error) {
	id, err := uuid.NewRandom()
	if err != nil {
		return "", err
	}
	return id.String(), nil
}

// IssueState generates a fresh CSRF state value.
func (s *Service) IssueState(ctx context.Context) Result {
	state, err := s.newState()
	if err != nil {
		s.log.ErrorContext(ctx, "state generation failed", "error", err)
		return s.finish(ctx, OpState, upstreamFailure(errors.InternalWrap(MsgStateFailed, err)))
	}

	s.publish(ctx, events.EventStateIssued, nil)
	return s.finish(ctx, OpState, success(state))
}

// Authorize issues a state and builds the provider authorization URL for it.
func (s *Service) Authorize(ctx context.Context) Result {
	res := s.IssueState(ctx)
	if !res.OK() {
		return res
	}
	res.RedirectURL = s.provider.AuthURL(res.Value)
	s.record(OpAuthorize, res.Outcome)
	return res
}

// ExchangeRequest carries the callback inputs. Empty strings mean absent.
type ExchangeRequest struct {
	Code        string
	State       string
	CookieState string
}

// ExchangeToken validates the callback and trades the code for an access
// token. Checks run in order and stop at the first failure.
func (s *Service) ExchangeToken(ctx context.Context, req ExchangeRequest) Result {
	ctx, span := tracing.StartSpan(ctx, "handshake.exchange")
	defer span.End()

	res := s.exchange(ctx, req)
	tracing.WithOutcome(span, OpExchange, res.Outcome.String())
	if res.Err != nil {
		tracing.WithError(span, res.Err)
		s.publish(ctx, events.EventTokenExchangeFailed, map[string]any{
			"reason":  string(res.Err.Code),
			"outcome": res.Outcome.String(),
		})
	} else {
		s.publish(ctx, events.EventTokenIssued, map[string]any{
			"provider": s.provider.Name(),
		})
	}

	return s.finish(ctx, OpExchange, res)
}

func (s *Service) exchange(ctx context.Context, req ExchangeRequest) Result {
	switch {
	case req.Code == "":
		return rejected(errors.InvalidInput(MsgMissingCode))
	case req.State == "":
		return rejected(errors.InvalidInput(MsgMissingState))
	case req.CookieState == "":
		return rejected(errors.StateMissing(MsgMissingStateCookie))
	case subtle.ConstantTimeCompare([]byte(req.State), []byte(req.CookieState)) != 1:
		return rejected(errors.StateMismatch(MsgStateMismatch))
	}

	res := s.exchangeValidated(ctx, req)
	res.StateConsumed = true
	return res
}

func (s *Service) exchangeValidated(ctx context.Context, req ExchangeRequest) Result {
	if s.states != nil {
		first, err := s.states.Consume(ctx, req.State)
		if err != nil {
			s.log.WarnContext(ctx, "state store unavailable", "error", err)
			return upstreamFailure(errors.Wrap(errors.CodeUnavailable, MsgStateStoreDown, err))
		}
		if !first {
			return rejected(errors.StateReused(MsgStateReused))
		}
	}

	if s.breaker != nil {
		if err := s.breaker.Allow(); err != nil {
			return upstreamFailure(errors.Wrap(errors.CodeCircuitOpen, MsgProviderDown, err))
		}
	}

	token, err := s.provider.Exchange(ctx, req.Code)
	if err != nil {
		return s.classify(ctx, err)
	}

	if s.breaker != nil {
		s.breaker.RecordSuccess()
	}
	return success(token.AccessToken)
}

// classify maps an exchange error to a result and feeds the breaker. Only
// failures attributable to the provider count against it.
func (s *Service) classify(ctx context.Context, err error) Result {
	var (
		res     Result
		counted bool
	)

	switch {
	case stderrors.Is(ctx.Err(), context.Canceled):
		res = upstreamFailure(errors.Wrap(errors.CodeCanceled, "", err))
	case isTimeout(err):
		res = upstreamFailure(errors.Wrap(errors.CodeTimeout, MsgProviderTimeout, err))
		counted = true
	case oauth.ErrorCode(err) == oauth.ErrorBadVerificationCode:
		res = rejected(errors.Wrap(errors.CodeOAuthError, MsgInvalidCode, err))
	default:
		res = upstreamFailure(errors.Wrap(errors.CodeUpstreamError, MsgFetchFailed, err))
		counted = true
	}

	if s.breaker != nil {
		if counted {
			s.breaker.RecordFailure()
		} else {
			s.breaker.Release()
		}
	}

	s.log.WarnContext(ctx, "token exchange failed",
		"provider", s.provider.Name(),
		"code", string(res.Err.Code),
		"upstream_status", oauth.StatusCode(err),
		"oauth_error", oauth.ErrorCode(err),
		"error", err,
	)
	return res
}

func isTimeout(err error) bool {
	if stderrors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return stderrors.As(err, &netErr) && netErr.Timeout()
}

// ReadStoredToken returns the token previously stored in the cookie. An
// empty token yields a 400 with an empty body.
func (s *Service) ReadStoredToken(ctx context.Context, token string) Result {
	if token == "" {
		return s.finish(ctx, OpStored, rejected(errors.New(errors.CodeInvalidInput, "")))
	}
	return s.finish(ctx, OpStored, success(token))
}

func (s *Service) finish(ctx context.Context, op string, res Result) Result {
	s.record(op, res.Outcome)
	if res.Err != nil && res.Outcome == OutcomeRejected {
		s.log.DebugContext(ctx, "request rejected", "operation", op, "code", string(res.Err.Code))
	}
	return res
}

func (s *Service) record(op string, outcome Outcome) {
	if s.metrics != nil {
		s.metrics.RecordHandshake(op, outcome.String())
	}
}

func (s *Service) publish(ctx context.Context, eventType string, data map[string]any) {
	if s.events == nil {
		return
	}
	// Events still go out when the caller has already disconnected.
	if err := s.events.PublishAuthEvent(context.WithoutCancel(ctx), eventType, data); err != nil {
		s.log.WarnContext(ctx, "failed to publish event", "event", eventType, "error", err)
	}
}

var _ Breaker = (*circuitbreaker.CircuitBreaker)(nil)
