package service

import (
	"net/http"

	"github.com/carlossalguero/ghlogin/services/shared/errors"
)

// Outcome classifies how a handshake operation ended.
type Outcome int

const (
	// OutcomeSuccess means the operation produced its value.
	OutcomeSuccess Outcome = iota
	// OutcomeRejected means the request failed validation or CSRF checks.
	OutcomeRejected
	// OutcomeUpstreamFailure means a dependency could not complete the call.
	OutcomeUpstreamFailure
)

func (o Outcome) String() string {
	switch o {
	case OutcomeSuccess:
		return "success"
	case OutcomeRejected:
		return "rejected"
	case OutcomeUpstreamFailure:
		return "upstream_failure"
	default:
		return "unknown"
	}
}

// Result is the explicit outcome of a handshake operation. The HTTP layer
// maps it to a response without inspecting anything else.
type Result struct {
	Outcome Outcome
	// Value is the state or token on success.
	Value string
	// Err is set for every outcome but success.
	Err *errors.Error
	// StateConsumed is true once the callback state matched the cookie. The
	// state cookie must then be expired.
	StateConsumed bool
	// RedirectURL is set by Authorize.
	RedirectURL string
}

func success(value string) Result {
	return Result{Outcome: OutcomeSuccess, Value: value}
}

func rejected(err *errors.Error) Result {
	return Result{Outcome: OutcomeRejected, Err: err}
}

func upstreamFailure(err *errors.Error) Result {
	return Result{Outcome: OutcomeUpstreamFailure, Err: err}
}

// OK reports whether the operation succeeded.
func (r Result) OK() bool {
	return r.Outcome == OutcomeSuccess
}

// StatusCode returns the HTTP status for the result.
func (r Result) StatusCode() int {
	if r.OK() {
		return http.StatusOK
	}
	if r.Err == nil {
		return http.StatusInternalServerError
	}
	return r.Err.HTTPStatusCode()
}

// Body returns the plain-text response body for the result.
func (r Result) Body() string {
	if r.OK() {
		return r.Value
	}
	if r.Err == nil {
		return ""
	}
	return r.Err.Message
}
