package handlers

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/arklim/paid-storage/internal/core/domain"
	"github.com/arklim/paid-storage/internal/transport/http/middleware"
	"github.com/arklim/paid-storage/internal/usecase"
)

// DegradedHeader is set to "true" when a decision was served from cached data.
const DegradedHeader = middleware.DegradedHeader

// StorageGate is the subset of usecase.AccessGate the HTTP layer calls.
type StorageGate interface {
	Read(ctx context.Context, tenant, key string) (usecase.ReadResult, error)
	Write(ctx context.Context, tenant, key string, value []byte) (usecase.WriteResult, error)
	Usage(ctx context.Context, tenant string) (usecase.UsageResult, error)
	Subscription(ctx context.Context, tenant string) (usecase.SubscriptionStatus, error)
}

// StorageHandler serves tenant key/value operations.
type StorageHandler struct {
	gate         StorageGate
	maxBodyBytes int64
}

// NewStorageHandler constructs the handler. Bodies larger than maxBodyBytes are
// rejected before reaching the store; maxBodyBytes <= 0 disables the bound.
func NewStorageHandler(gate StorageGate, maxBodyBytes int64) *StorageHandler {
	return &StorageHandler{gate: gate, maxBodyBytes: maxBodyBytes}
}

// RegisterRoutes wires the storage and account endpoints onto an authenticated group.
func (h *StorageHandler) RegisterRoutes(group *gin.RouterGroup) {
	group.GET("/kv/:key", h.Get)
	group.PUT("/kv/:key", h.Put)
	group.POST("/kv/:key", h.Put)
	group.GET("/usage", h.Usage)
	group.GET("/subscription", h.Subscription)
}

// Get returns the raw value stored under key. An absent key yields 200 with an empty body.
func (h *StorageHandler) Get(c *gin.Context) {
	tenant, _ := middleware.GetTenant(c)

	result, err := h.gate.Read(c.Request.Context(), tenant, c.Param("key"))
	markDegraded(c, result.Entitlement)
	if err != nil {
		respondGateError(c, err)
		return
	}

	if !result.Found {
		c.Status(http.StatusOK)
		return
	}
	c.Data(http.StatusOK, "application/octet-stream", result.Value)
}

// Put stores the raw request body under key.
func (h *StorageHandler) Put(c *gin.Context) {
	tenant, _ := middleware.GetTenant(c)
	key := c.Param("key")

	value, err := h.readBody(c)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.rejectOversized(c, tenant)
			return
		}
		c.JSON(http.StatusBadRequest, NewErrorResponse(c, "could not read request body"))
		return
	}

	result, err := h.gate.Write(c.Request.Context(), tenant, key, value)
	markDegraded(c, result.Entitlement)
	if err != nil {
		respondGateError(c, err)
		return
	}

	c.JSON(http.StatusOK, WriteResponse{
		Key:        key,
		Bytes:      domain.EntrySize(key, value),
		UsedBytes:  result.Account.UsedBytes,
		LimitBytes: result.Account.LimitBytes,
	})
}

// Usage reports the tenant's consumption.
func (h *StorageHandler) Usage(c *gin.Context) {
	tenant, _ := middleware.GetTenant(c)

	result, err := h.gate.Usage(c.Request.Context(), tenant)
	markDegraded(c, result.Entitlement)
	if err != nil {
		respondGateError(c, err)
		return
	}

	c.JSON(http.StatusOK, UsageResponse{
		Tenant:         result.Account.Tenant,
		UsedBytes:      result.Account.UsedBytes,
		LimitBytes:     result.Account.LimitBytes,
		RemainingBytes: result.Account.Remaining(),
	})
}

// Subscription reports settlement of the current and next period.
func (h *StorageHandler) Subscription(c *gin.Context) {
	tenant, _ := middleware.GetTenant(c)

	status, err := h.gate.Subscription(c.Request.Context(), tenant)
	if err != nil {
		respondGateError(c, err)
		return
	}
	markDegraded(c, status.Current)

	c.JSON(http.StatusOK, SubscriptionResponse{
		Tenant:        status.Tenant,
		PeriodSeconds: int64(status.PeriodLength.Seconds()),
		Current:       periodStatus(status.Current, status.CurrentStart, true),
		Next:          periodStatus(status.Next, status.NextStart, status.NextAvailable),
	})
}

func (h *StorageHandler) readBody(c *gin.Context) ([]byte, error) {
	body := c.Request.Body
	if body == nil {
		return nil, nil
	}
	if h.maxBodyBytes > 0 {
		body = http.MaxBytesReader(c.Writer, body, h.maxBodyBytes)
	}
	value, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("read body: %w", err)
	}
	return value, nil
}

// rejectOversized keeps the unauthenticated/unpaid outcomes ahead of the size check
// for bodies that could never fit the quota.
func (h *StorageHandler) rejectOversized(c *gin.Context, tenant string) {
	result, err := h.gate.Usage(c.Request.Context(), tenant)
	markDegraded(c, result.Entitlement)
	if err != nil {
		respondGateError(c, err)
		return
	}
	respondGateError(c, domain.ErrQuotaExceeded)
}

func markDegraded(c *gin.Context, decision domain.EntitlementDecision) {
	if decision.Degraded {
		c.Header(DegradedHeader, "true")
	}
}

func periodStatus(decision domain.EntitlementDecision, start time.Time, known bool) PeriodStatus {
	return PeriodStatus{
		Period:   int64(decision.Period),
		StartsAt: start,
		Settled:  decision.Entitled,
		Degraded: decision.Degraded,
		Source:   string(decision.Source),
		Known:    known,
	}
}
