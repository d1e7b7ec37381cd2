package auth

import (
	"context"
	"crypto/subtle"
	"sync"
	"time"
)

// BearerVerifier validates opaque bearer tokens against a locally managed
// set. Suitable for static deployments and tests; rotation is supported via
// Add/Revoke.
type BearerVerifier struct {
	mu     sync.RWMutex
	tokens map[string]*TokenInfo
}

// NewBearerVerifier creates an empty bearer token verifier.
func NewBearerVerifier() *BearerVerifier {
	return &BearerVerifier{
		tokens: make(map[string]*TokenInfo),
	}
}

// Add registers a token with its associated metadata.
func (v *BearerVerifier) Add(token string, info *TokenInfo) {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.tokens[token] = info
}

// Revoke removes a token, preventing further use.
func (v *BearerVerifier) Revoke(token string) {
	v.mu.Lock()
	defer v.mu.Unlock()
	delete(v.tokens, token)
}

// VerifyAccessToken checks the token against the registered set using
// constant-time comparison.
func (v *BearerVerifier) VerifyAccessToken(ctx context.Context, token string) (*TokenInfo, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	v.mu.RLock()
	defer v.mu.RUnlock()

	for candidate, info := range v.tokens {
		if subtle.ConstantTimeCompare([]byte(candidate), []byte(token)) == 1 {
			if !info.ExpiresAt.IsZero() && time.Now().After(info.ExpiresAt) {
				return nil, ErrExpiredToken
			}
			copied := *info
			return &copied, nil
		}
	}

	return nil, ErrInvalidToken
}

// Type returns the verifier type identifier.
func (v *BearerVerifier) Type() string {
	return "bearer"
}
