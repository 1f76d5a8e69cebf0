// Package auth validates event-channel tokens. The active validator is
// rebuilt from the auth section of every configuration snapshot, so a hot
// reload re-arms credentials without dropping live connections.
package auth

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/omnirelay/omnirelay/pkg/config"
)

// Validator reports whether a presented token is currently acceptable.
type Validator interface {
	Validate(token string) bool
}

// FixedTokenValidator accepts tokens from a fixed set.
type FixedTokenValidator struct {
	mu     sync.RWMutex
	tokens map[string]struct{}
}

func NewFixedTokenValidator(tokens ...string) *FixedTokenValidator {
	v := &FixedTokenValidator{}
	v.SetTokens(tokens...)
	return v
}

func (v *FixedTokenValidator) SetTokens(tokens ...string) {
	set := make(map[string]struct{}, len(tokens))
	for _, t := range tokens {
		if t != "" {
			set[t] = struct{}{}
		}
	}
	v.mu.Lock()
	v.tokens = set
	v.mu.Unlock()
}

func (v *FixedTokenValidator) Validate(token string) bool {
	v.mu.RLock()
	defer v.mu.RUnlock()
	_, ok := v.tokens[token]
	return ok
}

// JWTValidator accepts well-formed, unexpired tokens signed with the
// configured HMAC secret.
type JWTValidator struct {
	secret    []byte
	algorithm string
}

func NewJWTValidator(secret, algorithm string) *JWTValidator {
	if algorithm == "" {
		algorithm = "HS256"
	}
	return &JWTValidator{secret: []byte(secret), algorithm: algorithm}
}

func (v *JWTValidator) Validate(token string) bool {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		if t.Method.Alg() != v.algorithm {
			return nil, fmt.Errorf("unexpected signing method %q", t.Method.Alg())
		}
		return v.secret, nil
	}, jwt.WithValidMethods([]string{v.algorithm}))
	if err != nil {
		return false
	}
	return parsed.Valid
}

// Issue mints a token for clients of the JWT auth mode.
func (v *JWTValidator) Issue(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   subject,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	return jwt.NewWithClaims(jwt.GetSigningMethod(v.algorithm), claims).SignedString(v.secret)
}

// FromConfig builds the validator matching the auth section of a snapshot.
func FromConfig(cfg config.AuthConfig) (Validator, error) {
	switch cfg.Type {
	case config.AuthFixedToken:
		return NewFixedTokenValidator(cfg.Token), nil
	case config.AuthJWT:
		return NewJWTValidator(cfg.JWTSecret, cfg.JWTAlgorithm), nil
	default:
		return nil, fmt.Errorf("auth: unknown auth type %q", cfg.Type)
	}
}
