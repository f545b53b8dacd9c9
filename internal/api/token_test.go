package api_test

import (
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/veritas-audit/veritas/internal/api"
)

func TestOperatorToken_roundTrip(t *testing.T) {
	issuer := api.NewOperatorTokenIssuer([]byte("test-secret"), "https://ledger.test", time.Hour)

	token, err := issuer.Issue()
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	claims, err := issuer.Verify(token)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Role != "operator" {
		t.Errorf("role = %q, want operator", claims.Role)
	}
	if claims.Issuer != "https://ledger.test" {
		t.Errorf("issuer = %q, want https://ledger.test", claims.Issuer)
	}
	if claims.ID == "" {
		t.Error("token id (jti) missing")
	}
}

func TestOperatorToken_wrongKeyRejected(t *testing.T) {
	a := api.NewOperatorTokenIssuer([]byte("key-a"), "https://ledger.test", time.Hour)
	b := api.NewOperatorTokenIssuer([]byte("key-b"), "https://ledger.test", time.Hour)

	token, err := a.Issue()
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if _, err := b.Verify(token); err == nil {
		t.Error("token signed with a different key verified")
	}
}

func TestOperatorToken_wrongIssuerRejected(t *testing.T) {
	a := api.NewOperatorTokenIssuer([]byte("shared"), "https://a.test", time.Hour)
	b := api.NewOperatorTokenIssuer([]byte("shared"), "https://b.test", time.Hour)

	token, _ := a.Issue()
	if _, err := b.Verify(token); err == nil {
		t.Error("token from a different issuer verified")
	}
}

func TestOperatorToken_expiredRejected(t *testing.T) {
	issuer := api.NewOperatorTokenIssuer([]byte("test-secret"), "https://ledger.test", time.Hour)

	now := time.Now().UTC().Add(-2 * time.Hour)
	claims := api.OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://ledger.test",
			Subject:   "operator",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        uuid.New().String(),
		},
		Role: "operator",
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := issuer.Verify(signed); err == nil {
		t.Error("expired token verified")
	}
}

func TestOperatorToken_nonOperatorRoleRejected(t *testing.T) {
	issuer := api.NewOperatorTokenIssuer([]byte("test-secret"), "https://ledger.test", time.Hour)

	now := time.Now().UTC()
	claims := api.OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://ledger.test",
			Subject:   "reader",
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        uuid.New().String(),
		},
		Role: "reader",
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte("test-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := issuer.Verify(signed); err == nil {
		t.Error("non-operator role verified")
	}
}

func TestOperatorToken_unsignedAlgRejected(t *testing.T) {
	issuer := api.NewOperatorTokenIssuer([]byte("test-secret"), "https://ledger.test", time.Hour)

	// alg=none with a well-formed payload.
	unsigned := jwt.NewWithClaims(jwt.SigningMethodNone, api.OperatorClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "https://ledger.test",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		Role: "operator",
	})
	raw, err := unsigned.SignedString(jwt.UnsafeAllowNoneSignatureType)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if !strings.Contains(raw, ".") {
		t.Fatal("malformed test token")
	}
	if _, err := issuer.Verify(raw); err == nil {
		t.Error("alg=none token verified")
	}
}
