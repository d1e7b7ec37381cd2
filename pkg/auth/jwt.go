package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// JWTVerifierConfig configures a JWT access token verifier.
type JWTVerifierConfig struct {
	// Key is the verification key: the HMAC secret for HS* algorithms, or
	// a public key for asymmetric algorithms.
	Key interface{}

	// Methods lists the accepted signing algorithm names. Empty means HS256
	// only; tokens signed with anything else are rejected.
	Methods []string

	// Issuer, when set, must match the token's iss claim.
	Issuer string

	// Audience, when set, must appear in the token's aud claim.
	Audience string
}

// JWTVerifier validates signed JWT access tokens.
type JWTVerifier struct {
	config JWTVerifierConfig
	parser *jwt.Parser
}

// NewJWTVerifier creates a verifier from config.
func NewJWTVerifier(config JWTVerifierConfig) (*JWTVerifier, error) {
	if config.Key == nil {
		return nil, fmt.Errorf("auth: jwt verifier requires a key")
	}
	if len(config.Methods) == 0 {
		config.Methods = []string{"HS256"}
	}

	opts := []jwt.ParserOption{
		jwt.WithValidMethods(config.Methods),
		jwt.WithExpirationRequired(),
	}
	if config.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(config.Issuer))
	}
	if config.Audience != "" {
		opts = append(opts, jwt.WithAudience(config.Audience))
	}

	return &JWTVerifier{
		config: config,
		parser: jwt.NewParser(opts...),
	}, nil
}

// VerifyAccessToken parses and validates the JWT, returning its subject,
// scopes, and expiry.
func (v *JWTVerifier) VerifyAccessToken(ctx context.Context, token string) (*TokenInfo, error) {
	if token == "" {
		return nil, ErrMissingToken
	}

	claims := jwt.MapClaims{}
	parsed, err := v.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (interface{}, error) {
		return v.config.Key, nil
	})
	if err != nil {
		if strings.Contains(err.Error(), jwt.ErrTokenExpired.Error()) {
			return nil, ErrExpiredToken
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !parsed.Valid {
		return nil, ErrInvalidToken
	}

	info := &TokenInfo{Extra: map[string]interface{}{}}
	if sub, err := claims.GetSubject(); err == nil {
		info.Subject = sub
	}
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		info.ExpiresAt = exp.Time
	}
	if scope, ok := claims["scope"].(string); ok && scope != "" {
		info.Scopes = strings.Fields(scope)
	}
	for k, val := range claims {
		switch k {
		case "sub", "exp", "scope", "iat", "nbf":
		default:
			info.Extra[k] = val
		}
	}

	if !info.ExpiresAt.IsZero() && time.Now().After(info.ExpiresAt) {
		return nil, ErrExpiredToken
	}

	return info, nil
}

// Type returns the verifier type identifier.
func (v *JWTVerifier) Type() string {
	return "jwt"
}
