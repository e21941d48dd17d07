package authn

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	procedure "github.com/hanpama/procroute/internal/procedure"
)

// HeaderAuthorization is the metadata key holding bearer tokens.
const HeaderAuthorization = "authorization"

var errInvalidToken = errors.New("invalid bearer token")

// JWTConfig configures HMAC-signed bearer token verification.
type JWTConfig struct {
	Secret   []byte
	Issuer   string
	Audience string
}

// JWT returns an authenticator that verifies the HS256 bearer token found in
// the authorization header and hands its claims to build.
func JWT[In, Out any](cfg JWTConfig, build func(rc In, claims *jwt.RegisteredClaims) (Out, error)) AuthenticateFunc[In, Out] {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if cfg.Issuer != "" {
		opts = append(opts, jwt.WithIssuer(cfg.Issuer))
	}
	if cfg.Audience != "" {
		opts = append(opts, jwt.WithAudience(cfg.Audience))
	}
	parser := jwt.NewParser(opts...)
	keyFunc := func(*jwt.Token) (any, error) { return cfg.Secret, nil }

	return func(ctx context.Context, rc In, md procedure.Metadata) (Out, error) {
		var zero Out
		raw, ok := bearer(md.HeaderValue(HeaderAuthorization))
		if !ok {
			return zero, ErrMissingCredentials
		}
		claims := &jwt.RegisteredClaims{}
		token, err := parser.ParseWithClaims(raw, claims, keyFunc)
		if err != nil {
			return zero, fmt.Errorf("%w: %w", errInvalidToken, err)
		}
		if !token.Valid {
			return zero, errInvalidToken
		}
		return build(rc, claims)
	}
}

// Sign issues an HS256 token for claims. It is meant for tests and tooling.
func Sign(secret []byte, claims jwt.RegisteredClaims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func bearer(header string) (string, bool) {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
