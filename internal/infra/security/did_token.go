package security

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	uuid "github.com/google/uuid"

	"github.com/arklim/paid-storage/internal/core/domain"
)

// ErrSecretMissing indicates the verifier was built without a shared secret.
var ErrSecretMissing = errors.New("did token: missing secret")

const defaultLeeway = 30 * time.Second

// DIDTokenClaims carries the delegated identity. Subject is a DID such as did:ethr:rsk:0xabc.
type DIDTokenClaims struct {
	jwt.RegisteredClaims
}

// DIDTokenVerifier validates HS256 tokens minted by the identity layer and derives tenants from them.
type DIDTokenVerifier struct {
	secret   []byte
	issuer   string
	audience string
	leeway   time.Duration
	now      func() time.Time
}

// DIDTokenOption customises a verifier.
type DIDTokenOption func(*DIDTokenVerifier)

// WithIssuer requires the iss claim to match.
func WithIssuer(issuer string) DIDTokenOption {
	return func(v *DIDTokenVerifier) {
		v.issuer = strings.TrimSpace(issuer)
	}
}

// WithAudience requires the aud claim to contain audience.
func WithAudience(audience string) DIDTokenOption {
	return func(v *DIDTokenVerifier) {
		v.audience = strings.TrimSpace(audience)
	}
}

// WithClock overrides the verification clock.
func WithClock(now func() time.Time) DIDTokenOption {
	return func(v *DIDTokenVerifier) {
		if now != nil {
			v.now = now
		}
	}
}

// NewDIDTokenVerifier constructs a verifier for the shared secret.
func NewDIDTokenVerifier(secret string, opts ...DIDTokenOption) (*DIDTokenVerifier, error) {
	if strings.TrimSpace(secret) == "" {
		return nil, ErrSecretMissing
	}
	v := &DIDTokenVerifier{
		secret: []byte(secret),
		leeway: defaultLeeway,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(v)
	}
	return v, nil
}

// VerifyTenant parses the raw token and returns the tenant it authenticates.
// Any verification failure is reported as domain.ErrUnauthenticated.
func (v *DIDTokenVerifier) VerifyTenant(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", domain.ErrUnauthenticated
	}

	parserOpts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithLeeway(v.leeway),
		jwt.WithTimeFunc(v.now),
		jwt.WithExpirationRequired(),
	}
	if v.issuer != "" {
		parserOpts = append(parserOpts, jwt.WithIssuer(v.issuer))
	}
	if v.audience != "" {
		parserOpts = append(parserOpts, jwt.WithAudience(v.audience))
	}

	claims := &DIDTokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return v.secret, nil
	}, parserOpts...)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrUnauthenticated, err)
	}

	tenant, err := domain.TenantFromSubject(claims.Subject)
	if err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrUnauthenticated, err)
	}
	return tenant, nil
}

// IssueToken signs a token for subject valid for ttl. Used by local tooling and tests.
func (v *DIDTokenVerifier) IssueToken(subject string, ttl time.Duration) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", fmt.Errorf("did token: subject is required")
	}
	if ttl <= 0 {
		ttl = time.Hour
	}

	now := v.now().UTC()
	claims := DIDTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			ID:        uuid.NewString(),
		},
	}
	if v.audience != "" {
		claims.Audience = jwt.ClaimStrings{v.audience}
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
	if err != nil {
		return "", fmt.Errorf("did token: sign: %w", err)
	}
	return signed, nil
}
