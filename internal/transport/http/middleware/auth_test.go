package middleware

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/arklim/paid-storage/internal/core/domain"
	"github.com/arklim/paid-storage/internal/infra/logger"
)

type stubVerifier struct {
	tenant string
	err    error
	raw    string
}

func (s *stubVerifier) VerifyTenant(raw string) (string, error) {
	s.raw = raw
	return s.tenant, s.err
}

func newAuthRouter(verifier TenantVerifier, seen *string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(EnrichContext(), RequireTenant(verifier))
	router.GET("/", func(c *gin.Context) {
		tenant, _ := GetTenant(c)
		ctxTenant, _ := c.Request.Context().Value(logger.TenantKey{}).(string)
		if tenant == ctxTenant {
			*seen = tenant
		}
		c.Status(http.StatusOK)
	})
	return router
}

func TestRequireTenantStoresTenant(t *testing.T) {
	verifier := &stubVerifier{tenant: "0xabc"}
	var seen string
	router := newAuthRouter(verifier, &seen)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "bearer token-value")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rr.Code)
	}
	if verifier.raw != "token-value" {
		t.Fatalf("unexpected raw token %q", verifier.raw)
	}
	if seen != "0xabc" {
		t.Fatalf("expected tenant on gin and request context, got %q", seen)
	}
}

func TestRequireTenantRejectsBadCredentials(t *testing.T) {
	cases := []struct {
		name   string
		header string
		err    error
		status int
	}{
		{name: "missing header", status: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", status: http.StatusUnauthorized},
		{name: "empty token", header: "Bearer   ", status: http.StatusUnauthorized},
		{name: "invalid token", header: "Bearer abc", err: domain.ErrUnauthenticated, status: http.StatusUnauthorized},
		{name: "verifier failure", header: "Bearer abc", err: errors.New("boom"), status: http.StatusInternalServerError},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var seen string
			router := newAuthRouter(&stubVerifier{tenant: "0xabc", err: tc.err}, &seen)

			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			if rr.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, rr.Code)
			}
			if seen != "" {
				t.Fatalf("handler should not run")
			}
		})
	}
}
