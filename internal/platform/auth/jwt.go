package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v4"
)

// JWTConfig configures HS256 shopper token verification.
type JWTConfig struct {
	Secret   string
	Issuer   string
	Audience string
}

// JWTVerifier validates HS256 tokens minted by the storefront's session service.
type JWTVerifier struct {
	secret   []byte
	issuer   string
	audience string
	parser   *jwt.Parser
}

var _ Verifier = (*JWTVerifier)(nil)

// NewJWTVerifier constructs a JWTVerifier.
func NewJWTVerifier(cfg JWTConfig) (*JWTVerifier, error) {
	if strings.TrimSpace(cfg.Secret) == "" {
		return nil, errors.New("auth: jwt secret is required")
	}
	return &JWTVerifier{
		secret:   []byte(cfg.Secret),
		issuer:   strings.TrimSpace(cfg.Issuer),
		audience: strings.TrimSpace(cfg.Audience),
		parser:   jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}, nil
}

type shopperClaims struct {
	jwt.RegisteredClaims
	Email  string `json:"email,omitempty"`
	Locale string `json:"locale,omitempty"`
	Role   any    `json:"role,omitempty"`
}

// Verify implements Verifier.
func (v *JWTVerifier) Verify(_ context.Context, raw string) (*Identity, error) {
	claims := &shopperClaims{}
	_, err := v.parser.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrTokenExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}
	if v.issuer != "" && !claims.VerifyIssuer(v.issuer, true) {
		return nil, fmt.Errorf("%w: unexpected issuer %q", ErrTokenInvalid, claims.Issuer)
	}
	if v.audience != "" && !claims.VerifyAudience(v.audience, true) {
		return nil, fmt.Errorf("%w: audience mismatch", ErrTokenInvalid)
	}
	uid := strings.TrimSpace(claims.Subject)
	if uid == "" {
		return nil, fmt.Errorf("%w: subject missing", ErrTokenInvalid)
	}
	return &Identity{
		UID:    uid,
		Email:  strings.TrimSpace(claims.Email),
		Locale: strings.TrimSpace(claims.Locale),
		Roles:  rolesFromClaim(claims.Role),
	}, nil
}
