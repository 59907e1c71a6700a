package security

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/arklim/paid-storage/internal/core/domain"
)

func fixedClock(at time.Time) func() time.Time {
	return func() time.Time { return at }
}

func TestDIDTokenVerifierRoundTrip(t *testing.T) {
	now := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	verifier, err := NewDIDTokenVerifier("shared-secret", WithIssuer("did:ethr:rsk:issuer"), WithAudience("paid-storage"), WithClock(fixedClock(now)))
	if err != nil {
		t.Fatalf("NewDIDTokenVerifier returned error: %v", err)
	}

	token, err := verifier.IssueToken("did:ethr:rsk:0xABCdef", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}

	tenant, err := verifier.VerifyTenant(token)
	if err != nil {
		t.Fatalf("VerifyTenant returned error: %v", err)
	}
	if tenant != "0xabcdef" {
		t.Fatalf("unexpected tenant %q", tenant)
	}
}

func TestDIDTokenVerifierRejectsExpiredToken(t *testing.T) {
	issued := time.Date(2025, 10, 1, 12, 0, 0, 0, time.UTC)
	issuer, _ := NewDIDTokenVerifier("shared-secret", WithClock(fixedClock(issued)))
	token, err := issuer.IssueToken("did:ethr:rsk:0xabc", time.Minute)
	if err != nil {
		t.Fatalf("IssueToken returned error: %v", err)
	}

	verifier, _ := NewDIDTokenVerifier("shared-secret", WithClock(fixedClock(issued.Add(10*time.Minute))))
	if _, err := verifier.VerifyTenant(token); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
}

func TestDIDTokenVerifierRejectsWrongSecretAndAudience(t *testing.T) {
	now := time.Now()
	other, _ := NewDIDTokenVerifier("other-secret", WithClock(fixedClock(now)))
	token, _ := other.IssueToken("did:ethr:rsk:0xabc", time.Minute)

	verifier, _ := NewDIDTokenVerifier("shared-secret", WithClock(fixedClock(now)))
	if _, err := verifier.VerifyTenant(token); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected signature failure, got %v", err)
	}

	foreign, _ := NewDIDTokenVerifier("shared-secret", WithAudience("another-service"), WithClock(fixedClock(now)))
	token, _ = foreign.IssueToken("did:ethr:rsk:0xabc", time.Minute)

	strict, _ := NewDIDTokenVerifier("shared-secret", WithAudience("paid-storage"), WithClock(fixedClock(now)))
	if _, err := strict.VerifyTenant(token); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected audience failure, got %v", err)
	}
}

func TestDIDTokenVerifierRejectsUnexpectedAlgorithm(t *testing.T) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   "did:ethr:rsk:0xabc",
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Minute)),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS512, claims).SignedString([]byte("shared-secret"))
	if err != nil {
		t.Fatalf("sign: %v", err)
	}

	verifier, _ := NewDIDTokenVerifier("shared-secret", WithClock(fixedClock(now)))
	if _, err := verifier.VerifyTenant(token); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected algorithm rejection, got %v", err)
	}
}

func TestDIDTokenVerifierRejectsEmptyInputs(t *testing.T) {
	if _, err := NewDIDTokenVerifier(" "); !errors.Is(err, ErrSecretMissing) {
		t.Fatalf("expected ErrSecretMissing, got %v", err)
	}

	verifier, _ := NewDIDTokenVerifier("shared-secret")
	if _, err := verifier.VerifyTenant(""); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if _, err := verifier.IssueToken("", time.Minute); err == nil {
		t.Fatalf("expected subject error")
	}

	token, _ := verifier.IssueToken("did:ethr:rsk:", time.Minute)
	if _, err := verifier.VerifyTenant(token); !errors.Is(err, domain.ErrUnauthenticated) {
		t.Fatalf("expected empty tenant to be rejected, got %v", err)
	}
}
