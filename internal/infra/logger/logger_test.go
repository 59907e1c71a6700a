package logger

import (
	"context"
	"testing"
)

func TestMaskIP(t *testing.T) {
	cases := map[string]string{
		"192.168.1.100":                           "192.168.*.*",
		"::ffff:10.1.2.3":                         "10.1.*.*",
		"2001:0db8:85a3:0000:0000:8a2e:0370:7334": "2001:0db8:85a3:0000:*:*:*:*",
		"2001:db8::1":                             "2001:0db8:0000:0000:*:*:*:*",
		"not-an-ip":                               "***",
	}
	for in, want := range cases {
		if got := MaskIP(in); got != want {
			t.Fatalf("MaskIP(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestMaskString(t *testing.T) {
	if got := MaskString("secret123"); got != "se***23" {
		t.Fatalf("unexpected mask %q", got)
	}
	if got := MaskString("abc"); got != "***" {
		t.Fatalf("expected short values to be fully masked, got %q", got)
	}
	if got := MaskString(""); got != "" {
		t.Fatalf("expected empty input to stay empty, got %q", got)
	}
}

func TestWithContextWithoutBaseLogger(t *testing.T) {
	ctx := context.WithValue(context.Background(), RequestIDKey{}, "req-1")
	ctx = context.WithValue(ctx, TenantKey{}, "0xabc")
	if WithContext(ctx) == nil {
		t.Fatalf("expected a usable logger")
	}
}
