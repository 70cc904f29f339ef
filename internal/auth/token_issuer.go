package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingSigningSecret = errors.New("token issuer: signing secret required")
	ErrMissingIssuer        = errors.New("token issuer: issuer required")
	ErrMissingAudience      = errors.New("token issuer: audience required")
	ErrInvalidTokenTTL      = errors.New("token issuer: token ttl must be positive")
	ErrMissingToken         = errors.New("token issuer: token required")
	ErrInvalidToken         = errors.New("token issuer: invalid token")
	ErrExpiredToken         = errors.New("token issuer: token expired")
	ErrMissingSubject       = errors.New("token issuer: subject required")
)

// SessionClaims is the JWT payload minted for signed-in accounts.
type SessionClaims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// Session identifies the account behind a validated token.
type Session struct {
	AccountID string
	Role      string
}

// TokenIssuerConfig configures the backend JWT issuer.
type TokenIssuerConfig struct {
	SigningSecret []byte
	Issuer        string
	Audience      string
	TokenTTL      time.Duration
	Clock         func() time.Time
}

// TokenIssuer mints and validates the HS256 session tokens used by the API.
type TokenIssuer struct {
	signingSecret []byte
	issuer        string
	audience      string
	tokenTTL      time.Duration
	clock         func() time.Time
}

// NewTokenIssuer constructs a TokenIssuer from the provided configuration.
func NewTokenIssuer(cfg TokenIssuerConfig) (*TokenIssuer, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, ErrMissingSigningSecret
	}
	issuer := strings.TrimSpace(cfg.Issuer)
	if issuer == "" {
		return nil, ErrMissingIssuer
	}
	audience := strings.TrimSpace(cfg.Audience)
	if audience == "" {
		return nil, ErrMissingAudience
	}
	if cfg.TokenTTL <= 0 {
		return nil, ErrInvalidTokenTTL
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &TokenIssuer{
		signingSecret: append([]byte(nil), cfg.SigningSecret...),
		issuer:        issuer,
		audience:      audience,
		tokenTTL:      cfg.TokenTTL,
		clock:         clock,
	}, nil
}

// IssueToken produces a signed JWT for the account and returns the token
// together with its lifetime in seconds.
func (i *TokenIssuer) IssueToken(_ context.Context, accountID string, role string) (string, int64, error) {
	if strings.TrimSpace(accountID) == "" {
		return "", 0, ErrMissingSubject
	}

	now := i.clock().UTC()
	expiresAt := now.Add(i.tokenTTL).UTC()

	claims := SessionClaims{
		Role: role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   accountID,
			Issuer:    i.issuer,
			Audience:  []string{i.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(i.signingSecret)
	if err != nil {
		return "", 0, err
	}

	return signed, int64(expiresAt.Sub(now).Seconds()), nil
}

// ValidateToken ensures the session token is well formed and returns the
// session it encodes.
func (i *TokenIssuer) ValidateToken(tokenString string) (Session, error) {
	token := strings.TrimSpace(tokenString)
	if token == "" {
		return Session{}, ErrMissingToken
	}

	claims := &SessionClaims{}
	parsed, err := jwt.ParseWithClaims(
		token,
		claims,
		func(t *jwt.Token) (interface{}, error) {
			if t.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("%w: unexpected signing algorithm %s", ErrInvalidToken, t.Method.Alg())
			}
			return i.signingSecret, nil
		},
		jwt.WithAudience(i.audience),
		jwt.WithIssuer(i.issuer),
		jwt.WithTimeFunc(i.clock),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Session{}, fmt.Errorf("%w: %v", ErrExpiredToken, err)
		}
		return Session{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if parsed == nil || !parsed.Valid {
		return Session{}, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return Session{}, ErrMissingSubject
	}
	return Session{AccountID: claims.Subject, Role: claims.Role}, nil
}
