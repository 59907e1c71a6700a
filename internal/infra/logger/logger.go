package logger

import (
	"context"
	"net/netip"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	lg   *zap.Logger
	once sync.Once
)

// New returns a singleton zap.Logger: JSON in production, colored console otherwise.
func New(env string) (*zap.Logger, error) {
	var err error
	once.Do(func() {
		cfg := zap.NewProductionConfig()
		if env != "production" {
			cfg = zap.NewDevelopmentConfig()
			cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}

		lg, err = cfg.Build()
	})

	return lg, err
}

// RequestIDKey is used to store a request identifier on the context.
type RequestIDKey struct{}

// TenantKey is used to store the authenticated tenant on the context.
type TenantKey struct{}

// WithContext returns the base logger enriched with request id and tenant when present.
func WithContext(ctx context.Context) *zap.Logger {
	base := lg
	if base == nil {
		base = zap.NewNop()
	}
	if ctx == nil {
		return base
	}

	fields := make([]zap.Field, 0, 2)
	if id, ok := ctx.Value(RequestIDKey{}).(string); ok && id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if tenant, ok := ctx.Value(TenantKey{}).(string); ok && tenant != "" {
		fields = append(fields, zap.String("tenant", tenant))
	}
	return base.With(fields...)
}

// MaskIP hides the host part of an address: 192.168.1.100 -> 192.168.*.*,
// IPv6 keeps the first four groups.
func MaskIP(ip string) string {
	addr, err := netip.ParseAddr(strings.TrimSpace(ip))
	if err != nil {
		return "***"
	}
	if addr.Is4() || addr.Is4In6() {
		octets := addr.Unmap().As4()
		return strconv.Itoa(int(octets[0])) + "." + strconv.Itoa(int(octets[1])) + ".*.*"
	}

	parts := strings.Split(addr.StringExpanded(), ":")
	return strings.Join(parts[:4], ":") + ":*:*:*:*"
}

// MaskString shows the first and last two characters of a secret.
func MaskString(s string) string {
	if len(s) <= 4 {
		if s == "" {
			return ""
		}
		return "***"
	}
	return s[:2] + "***" + s[len(s)-2:]
}
