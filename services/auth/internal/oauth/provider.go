// Package oauth talks to the identity provider's OAuth 2.0 endpoints.
package oauth

import (
	"context"
	"errors"
	"time"

	"golang.org/x/oauth2"
)

// Provider defines the interface for OAuth providers.
type Provider interface {
	// Name returns the provider name (e.g., "github").
	Name() string

	// AuthURL returns the URL to redirect users to for authorization.
	AuthURL(state string) string

	// Exchange trades an authorization code for an access token. Provider
	// rejections come back as *oauth2.RetrieveError.
	Exchange(ctx context.Context, code string) (*oauth2.Token, error)
}

// Recorder receives per-call upstream metrics.
type Recorder interface {
	RecordUpstreamRequest(upstream, method string, status int, duration time.Duration)
}

// ErrEmptyToken is returned when the provider answers 2xx without a token.
var ErrEmptyToken = errors.New("token response has no access_token")

// Error codes GitHub puts in a 2xx token response.
const (
	ErrorBadVerificationCode  = "bad_verification_code"
	ErrorIncorrectClientCreds = "incorrect_client_credentials"
	ErrorRedirectURIMismatch  = "redirect_uri_mismatch"
)

// ErrorCode returns the OAuth error code carried by err, if any.
func ErrorCode(err error) string {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return re.ErrorCode
	}
	return ""
}

// StatusCode returns the HTTP status of the provider response behind err, or
// 0 when no response was received.
func StatusCode(err error) int {
	var re *oauth2.RetrieveError
	if errors.As(err, &re) && re.Response != nil {
		return re.Response.StatusCode
	}
	return 0
}
