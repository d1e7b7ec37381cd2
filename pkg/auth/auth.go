// Package auth defines the token verification boundary consulted by the
// session engine before dispatching inbound requests. Token issuance
// (OAuth flows, client registration) is out of scope; implementations here
// only answer "is this access token valid, and for whom".
package auth

import (
	"context"
	"errors"
	"time"
)

// TokenInfo describes a successfully verified access token.
type TokenInfo struct {
	// Subject is the principal the token was issued to
	Subject string `json:"subject"`

	// Scopes granted to the token
	Scopes []string `json:"scopes,omitempty"`

	// ExpiresAt is the token expiry, zero when the token does not expire
	ExpiresAt time.Time `json:"expiresAt,omitempty"`

	// Extra carries verifier-specific claims
	Extra map[string]interface{} `json:"extra,omitempty"`
}

// TokenVerifier validates access tokens presented on inbound requests.
type TokenVerifier interface {
	// VerifyAccessToken checks the token and returns its metadata, or an
	// error when the token is missing, malformed, expired, or revoked.
	VerifyAccessToken(ctx context.Context, token string) (*TokenInfo, error)

	// Type returns the verifier type identifier (e.g. "bearer", "jwt").
	Type() string
}

// Verification errors
var (
	ErrMissingToken = errors.New("auth: missing access token")
	ErrInvalidToken = errors.New("auth: invalid access token")
	ErrExpiredToken = errors.New("auth: access token expired")
)

// HasScope reports whether the token was granted the given scope.
func (i *TokenInfo) HasScope(scope string) bool {
	for _, s := range i.Scopes {
		if s == scope {
			return true
		}
	}
	return false
}
