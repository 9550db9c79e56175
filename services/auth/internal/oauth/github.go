package oauth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/github"

	"github.com/carlossalguero/ghlogin/services/shared/tracing"
)

// maxTokenResponse caps how much of a token response is read.
const maxTokenResponse = 1 << 20

// GitHubConfig holds GitHub OAuth configuration.
type GitHubConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	Scopes       []string
	// AuthURL and TokenURL override github.Endpoint, for GitHub Enterprise
	// or tests.
	AuthURL  string
	TokenURL string
	// HTTPClient performs the token exchange. Its Timeout bounds the call.
	HTTPClient *http.Client
	Metrics    Recorder
}

// GitHubProvider implements OAuth for GitHub.
type GitHubProvider struct {
	config  *oauth2.Config
	client  *http.Client
	metrics Recorder
}

// tokenRequest is the JSON body GitHub accepts on the token endpoint.
type tokenRequest struct {
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	Code         string `json:"code"`
	RedirectURI  string `json:"redirect_uri,omitempty"`
}

// tokenResponse is GitHub's token endpoint answer. Failures are reported
// with a 200 status and the error fields set.
type tokenResponse struct {
	AccessToken      string `json:"access_token"`
	TokenType        string `json:"token_type"`
	Scope            string `json:"scope"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
	ErrorURI         string `json:"error_uri"`
}

// NewGitHubProvider creates a new GitHub OAuth provider.
func NewGitHubProvider(cfg GitHubConfig) *GitHubProvider {
	endpoint := github.Endpoint
	if cfg.AuthURL != "" {
		endpoint.AuthURL = cfg.AuthURL
	}
	if cfg.TokenURL != "" {
		endpoint.TokenURL = cfg.TokenURL
	}

	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}

	return &GitHubProvider{
		config: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Scopes:       cfg.Scopes,
			Endpoint:     endpoint,
		},
		client:  client,
		metrics: cfg.Metrics,
	}
}

// Name returns the provider name.
func (p *GitHubProvider) Name() string {
	return "github"
}

// AuthURL returns the GitHub OAuth authorization URL.
func (p *GitHubProvider) AuthURL(state string) string {
	return p.config.AuthCodeURL(state)
}

// Exchange posts the code to GitHub's token endpoint as JSON. It makes
// exactly one attempt.
func (p *GitHubProvider) Exchange(ctx context.Context, code string) (*oauth2.Token, error) {
	ctx, span := tracing.StartClientSpan(ctx, "github.token_exchange")
	defer span.End()

	start := time.Now()
	status := 0
	defer func() {
		if p.metrics != nil {
			p.metrics.RecordUpstreamRequest(p.Name(), http.MethodPost, status, time.Since(start))
		}
	}()

	body, err := json.Marshal(tokenRequest{
		ClientID:     p.config.ClientID,
		ClientSecret: p.config.ClientSecret,
		Code:         code,
		RedirectURI:  p.config.RedirectURL,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding token request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.config.Endpoint.TokenURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	tracing.InjectHTTP(ctx, req.Header)

	resp, err := p.client.Do(req)
	if err != nil {
		tracing.WithError(span, err)
		return nil, fmt.Errorf("requesting token: %w", err)
	}
	defer resp.Body.Close()
	status = resp.StatusCode
	tracing.WithHTTPAttributes(span, http.MethodPost, req.URL.Path, resp.StatusCode)

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxTokenResponse))
	if err != nil {
		tracing.WithError(span, err)
		return nil, fmt.Errorf("reading token response: %w", err)
	}

	var tr tokenResponse
	decodeErr := json.Unmarshal(raw, &tr)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		rerr := &oauth2.RetrieveError{
			Response:         resp,
			Body:             raw,
			ErrorCode:        tr.Error,
			ErrorDescription: tr.ErrorDescription,
			ErrorURI:         tr.ErrorURI,
		}
		tracing.WithError(span, rerr)
		return nil, rerr
	}

	if decodeErr != nil {
		tracing.WithError(span, decodeErr)
		return nil, fmt.Errorf("decoding token response: %w", decodeErr)
	}

	if tr.Error != "" {
		rerr := &oauth2.RetrieveError{
			Response:         resp,
			Body:             raw,
			ErrorCode:        tr.Error,
			ErrorDescription: tr.ErrorDescription,
			ErrorURI:         tr.ErrorURI,
		}
		tracing.WithError(span, rerr)
		return nil, rerr
	}

	if tr.AccessToken == "" {
		tracing.WithError(span, ErrEmptyToken)
		return nil, ErrEmptyToken
	}

	tracing.WithSuccess(span)
	token := &oauth2.Token{
		AccessToken: tr.AccessToken,
		TokenType:   tr.TokenType,
	}
	return token.WithExtra(map[string]any{"scope": tr.Scope}), nil
}
