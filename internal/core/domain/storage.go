package domain

// EntrySize returns the number of bytes an entry charges against its tenant's quota.
func EntrySize(key string, value []byte) int64 {
	return int64(len(key)) + int64(len(value))
}

// QuotaAccount reports a tenant's storage consumption against its limit.
type QuotaAccount struct {
	Tenant     string
	UsedBytes  int64
	LimitBytes int64
}

// Remaining returns the bytes still available to the tenant, never negative.
func (a QuotaAccount) Remaining() int64 {
	if a.UsedBytes >= a.LimitBytes {
		return 0
	}
	return a.LimitBytes - a.UsedBytes
}

// Admits reports whether applying delta keeps the account within its limit.
// Deltas that do not grow usage are always admitted.
func (a QuotaAccount) Admits(delta int64) bool {
	if delta <= 0 {
		return true
	}
	return a.UsedBytes+delta <= a.LimitBytes
}
