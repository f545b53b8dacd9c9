package api

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// OperatorClaims are the JWT claims for an operator session token. Operator
// tokens guard the mutating compliance endpoints (checkpoint builds,
// verification runs); event submission is authenticated by the surrounding
// application, not here.
type OperatorClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// OperatorTokenIssuer issues and verifies HS256 operator JWTs. Tokens are
// issued only in exchange for the static admin secret — there is no user
// account system in this service.
type OperatorTokenIssuer struct {
	secret []byte
	issuer string
	ttl    time.Duration
}

// NewOperatorTokenIssuer creates an OperatorTokenIssuer.
//
//	issuerURL — the "iss" claim value; matches the service's base URL.
//	ttl       — token lifetime (default: 8 hours).
func NewOperatorTokenIssuer(secret []byte, issuerURL string, ttl time.Duration) *OperatorTokenIssuer {
	if ttl == 0 {
		ttl = 8 * time.Hour
	}
	return &OperatorTokenIssuer{secret: secret, issuer: issuerURL, ttl: ttl}
}

// Issue creates a signed operator token.
func (o *OperatorTokenIssuer) Issue() (string, error) {
	now := time.Now().UTC()
	claims := OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    o.issuer,
			Subject:   "operator",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(o.ttl)),
			ID:        uuid.New().String(),
		},
		Role: "operator",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(o.secret)
	if err != nil {
		return "", fmt.Errorf("sign operator token: %w", err)
	}
	return signed, nil
}

// Verify parses and validates an operator token, returning its claims.
func (o *OperatorTokenIssuer) Verify(tokenStr string) (*OperatorClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&OperatorClaims{},
		func(tok *jwt.Token) (any, error) {
			if _, ok := tok.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unexpected signing method: %v", tok.Header["alg"])
			}
			return o.secret, nil
		},
		jwt.WithIssuer(o.issuer),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return nil, fmt.Errorf("verify operator token: %w", err)
	}
	claims, ok := token.Claims.(*OperatorClaims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("invalid operator token claims")
	}
	if claims.Role != "operator" {
		return nil, fmt.Errorf("not an operator token")
	}
	return claims, nil
}
