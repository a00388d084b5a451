// Package identity talks to the store server's auth endpoints on behalf of
// the current user.
package identity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/rs/zerolog"

	"github.com/seckatie/marksync/internal/core/api"
)

// SignInOptions mirror the provider's OAuth sign-in parameters.
type SignInOptions struct {
	Provider    string
	RedirectTo  string
	QueryParams map[string]string
}

// Provider is the identity boundary the session controller depends on.
type Provider interface {
	// GetCurrentSession returns the signed-in user, or nil when signed out.
	GetCurrentSession(ctx context.Context) (*api.User, error)
	// SignInWithOAuth returns the URL the user must visit to sign in.
	SignInWithOAuth(ctx context.Context, opts SignInOptions) (string, error)
	SignOut(ctx context.Context) error
}

// HTTPProvider implements Provider against a marksync store server.
type HTTPProvider struct {
	baseURL string
	client  *http.Client
	tokens  TokenStore
	log     zerolog.Logger
}

func NewHTTPProvider(baseURL string, tokens TokenStore, client *http.Client, log zerolog.Logger) *HTTPProvider {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPProvider{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		tokens:  tokens,
		log:     log,
	}
}

// GetCurrentSession asks the server who the stored token belongs to. A token
// the server rejects is dropped and reported as signed out.
func (p *HTTPProvider) GetCurrentSession(ctx context.Context) (*api.User, error) {
	token, err := p.tokens.Load()
	if err != nil {
		return nil, err
	}
	if token == "" {
		return nil, nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+api.PathUser, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to check session: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusUnauthorized:
		p.log.Info().Msg("stored session is no longer valid")
		if err := p.tokens.Clear(); err != nil {
			p.log.Warn().Err(err).Msg("failed to clear stale session")
		}
		return nil, nil
	default:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("failed to check session: HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var u api.User
	if err := json.NewDecoder(resp.Body).Decode(&u); err != nil {
		return nil, fmt.Errorf("failed to decode user: %w", err)
	}
	return &u, nil
}

// SignInWithOAuth builds the authorize URL. Nothing is sent until the user
// opens it.
func (p *HTTPProvider) SignInWithOAuth(_ context.Context, opts SignInOptions) (string, error) {
	if opts.Provider == "" {
		return "", errors.New("provider is required")
	}

	q := url.Values{}
	for k, v := range opts.QueryParams {
		q.Set(k, v)
	}
	q.Set("provider", opts.Provider)
	if opts.RedirectTo != "" {
		q.Set("redirect_to", opts.RedirectTo)
	}
	return p.baseURL + api.PathAuthorize + "?" + q.Encode(), nil
}

// SignOut revokes the server session and forgets the token. The local token
// is cleared even when the server call fails.
func (p *HTTPProvider) SignOut(ctx context.Context) error {
	token, err := p.tokens.Load()
	if err != nil {
		return err
	}
	if token == "" {
		return nil
	}

	defer func() {
		if err := p.tokens.Clear(); err != nil {
			p.log.Warn().Err(err).Msg("failed to clear session")
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+api.PathLogout, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to sign out: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusNoContent, http.StatusOK:
		return nil
	case http.StatusUnauthorized:
		p.log.Debug().Msg("session was already revoked")
		return nil
	default:
		return fmt.Errorf("failed to sign out: HTTP %d", resp.StatusCode)
	}
}
