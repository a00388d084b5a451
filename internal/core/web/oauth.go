package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/endpoints"

	"github.com/seckatie/marksync/internal/core/db"
)

// IdentityProvider is an external OAuth identity source.
type IdentityProvider interface {
	// Name is the value clients pass as ?provider=.
	Name() string
	// AuthCodeURL is where the user is sent to sign in. Extra params are
	// forwarded to the provider (for example prompt=select_account).
	AuthCodeURL(state string, params map[string]string) string
	// Exchange turns an authorization code into the signed-in identity.
	Exchange(ctx context.Context, code string) (db.Identity, error)
}

const (
	ProviderGoogle = "google"

	defaultGoogleUserInfoURL = "https://www.googleapis.com/oauth2/v3/userinfo"
)

// GoogleConfig configures the Google provider. Endpoint and UserInfoURL
// default to Google's and are overridable for tests.
type GoogleConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string

	Endpoint    oauth2.Endpoint
	UserInfoURL string
	HTTPClient  *http.Client
}

type GoogleProvider struct {
	oauth       *oauth2.Config
	userInfoURL string
	client      *http.Client
}

func NewGoogleProvider(cfg GoogleConfig) *GoogleProvider {
	if cfg.Endpoint.AuthURL == "" {
		cfg.Endpoint = endpoints.Google
	}
	if cfg.UserInfoURL == "" {
		cfg.UserInfoURL = defaultGoogleUserInfoURL
	}
	return &GoogleProvider{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURL,
			Endpoint:     cfg.Endpoint,
			Scopes:       []string{"openid", "email", "profile"},
		},
		userInfoURL: cfg.UserInfoURL,
		client:      cfg.HTTPClient,
	}
}

func (p *GoogleProvider) Name() string { return ProviderGoogle }

func (p *GoogleProvider) AuthCodeURL(state string, params map[string]string) string {
	opts := make([]oauth2.AuthCodeOption, 0, len(params))
	for k, v := range params {
		opts = append(opts, oauth2.SetAuthURLParam(k, v))
	}
	return p.oauth.AuthCodeURL(state, opts...)
}

type googleUserInfo struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Name  string `json:"name"`
}

func (p *GoogleProvider) Exchange(ctx context.Context, code string) (db.Identity, error) {
	if code == "" {
		return db.Identity{}, errors.New("missing authorization code")
	}
	if p.client != nil {
		ctx = context.WithValue(ctx, oauth2.HTTPClient, p.client)
	}

	tok, err := p.oauth.Exchange(ctx, code)
	if err != nil {
		return db.Identity{}, fmt.Errorf("failed to exchange code: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.userInfoURL, nil)
	if err != nil {
		return db.Identity{}, fmt.Errorf("failed to build userinfo request: %w", err)
	}
	resp, err := p.oauth.Client(ctx, tok).Do(req)
	if err != nil {
		return db.Identity{}, fmt.Errorf("failed to fetch user info: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return db.Identity{}, fmt.Errorf("userinfo request failed with status %d: %s", resp.StatusCode, body)
	}

	var info googleUserInfo
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return db.Identity{}, fmt.Errorf("failed to decode user info: %w", err)
	}
	if info.Sub == "" {
		return db.Identity{}, errors.New("user info has no subject")
	}

	return db.Identity{
		Provider:       ProviderGoogle,
		ProviderUserID: info.Sub,
		Email:          info.Email,
		Name:           info.Name,
	}, nil
}
