package mockapi

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/gadgetcloud/portal/internal/identity"
)

const maxRevoked = 10000

// ErrTokenInvalid covers malformed, expired, badly signed and revoked tokens.
var ErrTokenInvalid = errors.New("mockapi: invalid token")

// Claims are carried by access tokens.
type Claims struct {
	Email string        `json:"email"`
	Role  identity.Role `json:"role"`
	jwt.RegisteredClaims
}

// Tokens issues and verifies HS256 access tokens. Revoked token ids are
// remembered until the token would have expired anyway.
type Tokens struct {
	secret  []byte
	ttl     time.Duration
	revoked *expirable.LRU[string, struct{}]
	now     func() time.Time
}

// NewTokens constructs a token authority.
func NewTokens(secret string, ttl time.Duration) *Tokens {
	return &Tokens{
		secret:  []byte(secret),
		ttl:     ttl,
		revoked: expirable.NewLRU[string, struct{}](maxRevoked, nil, ttl),
		now:     time.Now,
	}
}

// Issue signs a token for id.
func (t *Tokens) Issue(id identity.Identity) (string, error) {
	now := t.now()
	claims := Claims{
		Email: id.Email,
		Role:  id.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   id.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Verify parses raw and rejects revoked tokens.
func (t *Tokens) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return t.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(t.now),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if claims.Subject == "" {
		return nil, fmt.Errorf("%w: missing subject", ErrTokenInvalid)
	}
	if t.revoked.Contains(claims.ID) {
		return nil, fmt.Errorf("%w: revoked", ErrTokenInvalid)
	}
	return claims, nil
}

// Revoke invalidates the token with the given claims.
func (t *Tokens) Revoke(claims *Claims) {
	if claims == nil || claims.ID == "" {
		return
	}
	t.revoked.Add(claims.ID, struct{}{})
}
