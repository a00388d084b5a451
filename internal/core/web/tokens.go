package web

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/seckatie/marksync/internal/core/db"
)

// ErrInvalidToken is returned for any access or state token that fails verification.
var ErrInvalidToken = errors.New("invalid token")

const (
	tokenIssuer    = "marksync"
	accessAudience = "authenticated"
	stateAudience  = "oauth-state"
	stateTTL       = 10 * time.Minute
)

// AccessClaims are carried by the bearer tokens handed to clients. The
// session ID ties the token to a server-side session so logout revokes it.
type AccessClaims struct {
	SessionID string `json:"sid"`
	Email     string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// StateClaims travel through the OAuth round trip in the state parameter.
type StateClaims struct {
	Provider   string `json:"provider"`
	RedirectTo string `json:"redirect_to"`
	jwt.RegisteredClaims
}

// TokenIssuer signs and verifies HS256 tokens with a shared secret.
type TokenIssuer struct {
	secret []byte
	now    func() time.Time
}

func NewTokenIssuer(secret string) *TokenIssuer {
	return &TokenIssuer{secret: []byte(secret), now: time.Now}
}

// IssueAccessToken returns a token for the session that expires with it.
func (ti *TokenIssuer) IssueAccessToken(s db.Session, u db.User) (string, error) {
	claims := AccessClaims{
		SessionID: s.ID,
		Email:     u.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   u.ID,
			Audience:  jwt.ClaimStrings{accessAudience},
			IssuedAt:  jwt.NewNumericDate(ti.now()),
			ExpiresAt: jwt.NewNumericDate(s.ExpiresAt),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign access token: %w", err)
	}
	return signed, nil
}

// ParseAccessToken verifies signature, audience and expiry. It does not
// check whether the session still exists.
func (ti *TokenIssuer) ParseAccessToken(raw string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	if err := ti.parse(raw, claims, accessAudience); err != nil {
		return nil, err
	}
	if claims.Subject == "" || claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing subject or session", ErrInvalidToken)
	}
	return claims, nil
}

// IssueState returns a short-lived signed state value for an OAuth redirect.
func (ti *TokenIssuer) IssueState(provider, redirectTo string) (string, error) {
	now := ti.now()
	claims := StateClaims{
		Provider:   provider,
		RedirectTo: redirectTo,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    tokenIssuer,
			Audience:  jwt.ClaimStrings{stateAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(stateTTL)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ti.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign state: %w", err)
	}
	return signed, nil
}

func (ti *TokenIssuer) ParseState(raw string) (*StateClaims, error) {
	claims := &StateClaims{}
	if err := ti.parse(raw, claims, stateAudience); err != nil {
		return nil, err
	}
	return claims, nil
}

func (ti *TokenIssuer) parse(raw string, claims jwt.Claims, audience string) error {
	if raw == "" {
		return fmt.Errorf("%w: empty", ErrInvalidToken)
	}
	_, err := jwt.ParseWithClaims(raw, claims,
		func(*jwt.Token) (any, error) { return ti.secret, nil },
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithAudience(audience),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(ti.now),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	return nil
}
