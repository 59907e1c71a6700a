package domain

import (
	"errors"
	"testing"
	"time"
)

func TestPeriodClockPeriodAt(t *testing.T) {
	clock := NewPeriodClock(time.Unix(0, 0), DefaultPeriodLength)

	cases := []struct {
		name string
		at   time.Time
		want Period
	}{
		{name: "epoch", at: time.Unix(0, 0), want: 0},
		{name: "last instant of first period", at: time.Unix(0, 0).Add(DefaultPeriodLength - time.Nanosecond), want: 0},
		{name: "start of second period", at: time.Unix(0, 0).Add(DefaultPeriodLength), want: 1},
		{name: "before epoch", at: time.Unix(-1, 0), want: -1},
		{name: "far future", at: time.Unix(0, 0).Add(700 * DefaultPeriodLength).Add(time.Hour), want: 700},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := clock.PeriodAt(tc.at); got != tc.want {
				t.Fatalf("expected period %d, got %d", tc.want, got)
			}
		})
	}
}

func TestPeriodClockStartRoundTrips(t *testing.T) {
	epoch := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := NewPeriodClock(epoch, time.Hour)

	start := clock.Start(5)
	if !start.Equal(epoch.Add(5 * time.Hour)) {
		t.Fatalf("unexpected period start %s", start)
	}
	if got := clock.PeriodAt(start); got != 5 {
		t.Fatalf("expected period 5 at its own start, got %d", got)
	}
	if got := clock.PeriodAt(start.Add(-time.Nanosecond)); got != 4 {
		t.Fatalf("expected period 4 just before start, got %d", got)
	}
}

func TestPeriodClockDefaultsLength(t *testing.T) {
	clock := NewPeriodClock(time.Unix(0, 0), 0)
	if clock.Length() != DefaultPeriodLength {
		t.Fatalf("expected default length, got %s", clock.Length())
	}
}

func TestTenantFromSubject(t *testing.T) {
	tenant, err := TenantFromSubject("did:ethr:sepolia:0xAbCDef0123")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tenant != "0xabcdef0123" {
		t.Fatalf("unexpected tenant %q", tenant)
	}

	tenant, err = TenantFromSubject("0xFEED")
	if err != nil || tenant != "0xfeed" {
		t.Fatalf("expected bare address to pass through, got %q (%v)", tenant, err)
	}

	for _, subject := range []string{"", "   ", "did:ethr:"} {
		if _, err := TenantFromSubject(subject); !errors.Is(err, ErrInvalidTenant) {
			t.Fatalf("expected ErrInvalidTenant for %q, got %v", subject, err)
		}
	}
}

func TestQuotaAccountAdmits(t *testing.T) {
	account := QuotaAccount{UsedBytes: 90, LimitBytes: 100}

	if !account.Admits(10) {
		t.Fatalf("expected write landing exactly on the limit to be admitted")
	}
	if account.Admits(11) {
		t.Fatalf("expected write past the limit to be rejected")
	}

	over := QuotaAccount{UsedBytes: 150, LimitBytes: 100}
	if !over.Admits(-5) {
		t.Fatalf("expected shrinking write to be admitted even above the limit")
	}
	if over.Remaining() != 0 {
		t.Fatalf("expected remaining to clamp at zero, got %d", over.Remaining())
	}
}

func TestDegradationPolicyAllowsFallback(t *testing.T) {
	if !NewDegradationPolicy(ParseDegradationPolicyMode("")).AllowsFallback(DegradationReasonLedgerTimeout) {
		t.Fatalf("expected lenient default to allow fallback")
	}
	if NewDegradationPolicy(ParseDegradationPolicyMode(" STRICT ")).AllowsFallback(DegradationReasonLedgerError) {
		t.Fatalf("expected strict policy to refuse fallback")
	}
}

func TestDegradationPolicyRefusesUnknownReasons(t *testing.T) {
	lenient := NewDegradationPolicy(DegradationPolicyModeLenient)
	if lenient.Mode() != DegradationPolicyModeLenient {
		t.Fatalf("expected lenient mode, got %s", lenient.Mode())
	}
	if !lenient.AllowsFallback(DegradationReasonLedgerError) {
		t.Fatalf("expected lenient policy to fall back on ledger errors")
	}
	if lenient.AllowsFallback(DegradationReason("cache_corrupt")) {
		t.Fatalf("expected unknown reasons never to fall back")
	}
	if mode := NewDegradationPolicy(DegradationPolicyMode("bogus")).Mode(); mode != DegradationPolicyModeLenient {
		t.Fatalf("expected unknown mode to default to lenient, got %s", mode)
	}
}
