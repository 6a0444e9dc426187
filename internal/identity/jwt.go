package identity

import (
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/hyperjump/docchat/internal/apperr"
)

// JWTVerifier validates HS256 bearer tokens issued by the session service. The token subject
// is the owner id.
type JWTVerifier struct {
	secret []byte
	issuer string
}

// NewJWTVerifier returns a verifier for tokens signed with secret. When issuer is non-empty the
// iss claim must match it.
func NewJWTVerifier(secret, issuer string) (*JWTVerifier, error) {
	if secret == "" {
		return nil, errors.New("jwt secret is required")
	}
	return &JWTVerifier{secret: []byte(secret), issuer: issuer}, nil
}

// Verify parses token and returns its subject. Any failure is an AuthError.
func (v *JWTVerifier) Verify(token string) (string, error) {
	token = strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
	if token == "" {
		return "", apperr.E(apperr.KindAuth, "identity", errors.New("missing bearer token"))
	}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}
	var claims jwt.RegisteredClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		return "", apperr.E(apperr.KindAuth, "identity", fmt.Errorf("invalid token: %w", err))
	}
	if !parsed.Valid || claims.Subject == "" {
		return "", apperr.E(apperr.KindAuth, "identity", errors.New("token has no subject"))
	}
	return claims.Subject, nil
}

// BearerToken extracts the token from an Authorization header value.
func BearerToken(header string) string {
	parts := strings.Fields(header)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return parts[1]
}
