// Package auth resolves bearer credentials to identities and issues the
// tokens clients present when they connect.
package auth

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/pkg/errors"

	"github.com/Tyrowin/roomchat/internal/domain"
)

var (
	// ErrUnauthenticated is returned when no credential was presented.
	ErrUnauthenticated = errors.New("unauthenticated")
	// ErrInvalidCredential is returned for malformed, expired or
	// unverifiable credentials, and for tokens naming unknown users.
	ErrInvalidCredential = errors.New("invalid credential")
)

// TokenConfig configures token signing.
type TokenConfig struct {
	Secret string
	TTL    time.Duration
	Issuer string
}

// Claims are the JWT claims carried by session tokens. Subject holds the
// user id.
type Claims struct {
	Name string `json:"name"`
	jwt.RegisteredClaims
}

// Tokens signs and verifies HS256 session tokens.
type Tokens struct {
	config TokenConfig
	now    func() time.Time
}

// NewTokens returns a token manager for config.
func NewTokens(config TokenConfig) *Tokens {
	return &Tokens{config: config, now: time.Now}
}

// Issue signs a token for identity.
func (t *Tokens) Issue(identity domain.Identity) (string, error) {
	now := t.now()
	claims := Claims{
		Name: identity.Name,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.config.Issuer,
			Subject:   identity.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.config.TTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(t.config.Secret))
}

// Verify checks signature, algorithm, issuer and expiry and returns the
// claims. Every failure maps to ErrInvalidCredential.
func (t *Tokens) Verify(token string) (*Claims, error) {
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (any, error) {
		if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidCredential
		}
		return []byte(t.config.Secret), nil
	},
		jwt.WithIssuer(t.config.Issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, ErrInvalidCredential
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, ErrInvalidCredential
	}
	return claims, nil
}
