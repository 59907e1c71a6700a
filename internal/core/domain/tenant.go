package domain

import "strings"

// NormalizeTenant canonicalises a tenant identifier (ledger addresses are case-insensitive).
func NormalizeTenant(tenant string) string {
	return strings.ToLower(strings.TrimSpace(tenant))
}

// TenantFromSubject extracts the tenant from an authenticated subject such as
// "did:ethr:sepolia:0xAbC...". The tenant is the final colon-separated segment.
func TenantFromSubject(subject string) (string, error) {
	subject = strings.TrimSpace(subject)
	if subject == "" {
		return "", ErrInvalidTenant
	}

	segment := subject
	if idx := strings.LastIndex(subject, ":"); idx >= 0 {
		segment = subject[idx+1:]
	}

	tenant := NormalizeTenant(segment)
	if tenant == "" {
		return "", ErrInvalidTenant
	}
	return tenant, nil
}
