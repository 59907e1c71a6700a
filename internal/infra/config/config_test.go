package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PAIDSTORE_AUTH_JWT_SECRET", "secret")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.Entitlement.FreshnessWindow != 30*time.Second {
		t.Fatalf("expected 30s freshness window, got %s", cfg.Entitlement.FreshnessWindow)
	}
	if cfg.Entitlement.PeriodLength != 720*time.Hour {
		t.Fatalf("expected 30-day periods, got %s", cfg.Entitlement.PeriodLength)
	}
	epoch, err := cfg.Entitlement.Epoch()
	if err != nil || !epoch.Equal(time.Unix(0, 0)) {
		t.Fatalf("expected unix epoch, got %s (%v)", epoch, err)
	}
	if cfg.Storage.LimitBytes != 500000 || cfg.Storage.Backend != StorageBackendMemory {
		t.Fatalf("unexpected storage defaults %+v", cfg.Storage)
	}
	if cfg.Ledger.QueryTimeout != 3*time.Second {
		t.Fatalf("expected 3s ledger timeout, got %s", cfg.Ledger.QueryTimeout)
	}
	if cfg.RateLimit.IPMaxRequests != 1200 || cfg.RateLimit.TenantMaxRequests != 600 {
		t.Fatalf("unexpected rate limit defaults %+v", cfg.RateLimit)
	}
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("PAIDSTORE_AUTH_JWT_SECRET", "secret")
	t.Setenv("PAIDSTORE_STORAGE_LIMIT_BYTES", "1024")
	t.Setenv("PAIDSTORE_ENTITLEMENT_FRESHNESS_WINDOW", "5s")
	t.Setenv("PAIDSTORE_ENTITLEMENT_DEGRADATION_POLICY", "strict")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Storage.LimitBytes != 1024 {
		t.Fatalf("expected limit override, got %d", cfg.Storage.LimitBytes)
	}
	if cfg.Entitlement.FreshnessWindow != 5*time.Second {
		t.Fatalf("expected freshness override, got %s", cfg.Entitlement.FreshnessWindow)
	}
	if cfg.Entitlement.DegradationPolicy != "strict" {
		t.Fatalf("expected strict policy, got %s", cfg.Entitlement.DegradationPolicy)
	}
}

func TestLoadRejectsInvalidBackend(t *testing.T) {
	t.Setenv("PAIDSTORE_AUTH_JWT_SECRET", "secret")
	t.Setenv("PAIDSTORE_STORAGE_BACKEND", "s3")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "storage.backend") {
		t.Fatalf("expected backend validation error, got %v", err)
	}
}

func TestLoadRequiresJWTSecret(t *testing.T) {
	t.Setenv("PAIDSTORE_AUTH_JWT_SECRET", "")

	if _, err := Load(); err == nil {
		t.Fatalf("expected missing secret to be rejected")
	}
}

func TestLoadRejectsMalformedEpoch(t *testing.T) {
	t.Setenv("PAIDSTORE_AUTH_JWT_SECRET", "secret")
	t.Setenv("PAIDSTORE_ENTITLEMENT_PERIOD_EPOCH", "yesterday")

	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "period_epoch") {
		t.Fatalf("expected epoch validation error, got %v", err)
	}
}
