// Package auth verifies the bearer tokens issued by the account service.
package auth

import (
	"fmt"
	"strings"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	lru "github.com/hashicorp/golang-lru"

	"github.com/dkeye/collab/internal/domain"
)

// Identity is what a verified token says about its bearer.
type Identity struct {
	UserID    domain.UserID
	Name      string
	ExpiresAt time.Time
}

// Claims are the token claims we read. The subject is the user id.
type Claims struct {
	Name string `json:"name,omitempty"`
	gojwt.RegisteredClaims
}

type Verifier struct {
	secret []byte
	cache  *lru.Cache
}

// NewVerifier returns a disabled verifier when secret is empty: every
// connection is then admitted as a guest.
func NewVerifier(secret string, cacheSize int) (*Verifier, error) {
	if cacheSize <= 0 {
		cacheSize = 1024
	}
	c, err := lru.New(cacheSize)
	if err != nil {
		return nil, err
	}
	return &Verifier{secret: []byte(secret), cache: c}, nil
}

func (v *Verifier) Enabled() bool { return len(v.secret) > 0 }

// Verify checks an HS256 token and returns its identity. Verified tokens are
// cached until they expire.
func (v *Verifier) Verify(token string) (Identity, error) {
	if token == "" {
		return Identity{}, fmt.Errorf("%w: missing token", domain.ErrUnauthorized)
	}
	if cached, ok := v.cache.Get(token); ok {
		id := cached.(Identity)
		if id.ExpiresAt.IsZero() || time.Now().Before(id.ExpiresAt) {
			return id, nil
		}
		v.cache.Remove(token)
	}

	claims := &Claims{}
	_, err := gojwt.ParseWithClaims(token, claims, func(t *gojwt.Token) (any, error) {
		return v.secret, nil
	}, gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", domain.ErrUnauthorized, err)
	}
	if claims.Subject == "" {
		return Identity{}, fmt.Errorf("%w: token has no subject", domain.ErrUnauthorized)
	}

	id := Identity{UserID: domain.UserID(claims.Subject), Name: claims.Name}
	if claims.ExpiresAt != nil {
		id.ExpiresAt = claims.ExpiresAt.Time
	}
	v.cache.Add(token, id)
	return id, nil
}

// Issue signs a token for subject. Used by tests and local tooling; real
// tokens come from the account service.
func (v *Verifier) Issue(subject domain.UserID, name string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := Claims{
		Name: name,
		RegisteredClaims: gojwt.RegisteredClaims{
			Subject:   string(subject),
			IssuedAt:  gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(v.secret)
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	const prefix = "bearer "
	if len(header) > len(prefix) && strings.EqualFold(header[:len(prefix)], prefix) {
		return strings.TrimSpace(header[len(prefix):])
	}
	return ""
}
