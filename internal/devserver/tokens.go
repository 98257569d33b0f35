package devserver

import (
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims are the JWT claims issued by the development server.
type Claims struct {
	Roles []string `json:"roles"`
	jwt.RegisteredClaims
}

// Tokens issues and validates HS256 access tokens and tracks revocations.
type Tokens struct {
	secret []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	revoked map[string]time.Time
}

// NewTokens returns a token service. secret must not be empty.
func NewTokens(secret, issuer string, ttl time.Duration) (*Tokens, error) {
	secret = strings.TrimSpace(secret)
	if secret == "" {
		return nil, fmt.Errorf("%w: token secret is required", ErrInvalidInput)
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("%w: ttl must be greater than zero", ErrInvalidInput)
	}
	return &Tokens{
		secret:  []byte(secret),
		issuer:  issuer,
		ttl:     ttl,
		now:     func() time.Time { return time.Now().UTC() },
		revoked: make(map[string]time.Time),
	}, nil
}

// Issue signs a token for userID.
func (t *Tokens) Issue(userID string, roles []string) (string, time.Time, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", time.Time{}, errors.New("userID is required")
	}
	now := t.now()
	expires := now.Add(t.ttl)
	claims := Claims{
		Roles: roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expires, nil
}

// Parse verifies signature, claims and revocation.
func (t *Tokens) Parse(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, func(tok *jwt.Token) (any, error) {
		if tok.Method != jwt.SigningMethodHS256 {
			return nil, ErrInvalidToken
		}
		return t.secret, nil
	}, jwt.WithTimeFunc(t.now))
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if err := t.validateClaims(claims); err != nil {
		return nil, ErrInvalidToken
	}
	if t.isRevoked(claims.ID) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

// Revoke invalidates the token with the given claims until it would have
// expired anyway.
func (t *Tokens) Revoke(claims *Claims) {
	if claims == nil || claims.ID == "" {
		return
	}
	until := t.now().Add(t.ttl)
	if claims.ExpiresAt != nil {
		until = claims.ExpiresAt.Time
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.revoked[claims.ID] = until
	t.sweepLocked()
}

func (t *Tokens) isRevoked(jti string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.revoked[jti]
	return ok
}

func (t *Tokens) sweepLocked() {
	now := t.now()
	for id, until := range t.revoked {
		if now.After(until) {
			delete(t.revoked, id)
		}
	}
}

func (t *Tokens) validateClaims(claims *Claims) error {
	if claims.Issuer != t.issuer {
		return fmt.Errorf("unexpected issuer: %s", claims.Issuer)
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return errors.New("subject missing")
	}
	if claims.ID == "" {
		return errors.New("token id missing")
	}
	if claims.ExpiresAt == nil || claims.IssuedAt == nil {
		return errors.New("timestamps missing")
	}
	now := t.now()
	if now.After(claims.ExpiresAt.Time) {
		return errors.New("token expired")
	}
	// Allow a small clock skew of 5 seconds when validating issued-at.
	if claims.IssuedAt.Time.After(now.Add(5 * time.Second)) {
		return errors.New("token issued in the future")
	}
	return nil
}
