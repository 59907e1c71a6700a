package handlers

import (
	"time"

	"github.com/gin-gonic/gin"
)

// ErrorResponse represents a generic error payload with trace ID for debugging.
type ErrorResponse struct {
	Error   string `json:"error"`
	TraceID string `json:"trace_id,omitempty"`
}

// NewErrorResponse creates an error response with trace ID from context
func NewErrorResponse(c *gin.Context, errorMsg string) ErrorResponse {
	return ErrorResponse{
		Error:   errorMsg,
		TraceID: c.GetString("trace_id"),
	}
}

// WriteResponse acknowledges a stored value.
type WriteResponse struct {
	Key        string `json:"key"`
	Bytes      int64  `json:"bytes"`
	UsedBytes  int64  `json:"used_bytes"`
	LimitBytes int64  `json:"limit_bytes"`
}

// UsageResponse reports a tenant's storage consumption.
type UsageResponse struct {
	Tenant         string `json:"tenant"`
	UsedBytes      int64  `json:"used_bytes"`
	LimitBytes     int64  `json:"limit_bytes"`
	RemainingBytes int64  `json:"remaining_bytes"`
}

// PeriodStatus describes settlement of one billing period.
type PeriodStatus struct {
	Period   int64     `json:"period"`
	StartsAt time.Time `json:"starts_at"`
	Settled  bool      `json:"settled"`
	Degraded bool      `json:"degraded,omitempty"`
	Source   string    `json:"source,omitempty"`
	Known    bool      `json:"known"`
}

// SubscriptionResponse reports settlement for the current and next period.
type SubscriptionResponse struct {
	Tenant        string       `json:"tenant"`
	PeriodSeconds int64        `json:"period_seconds"`
	Current       PeriodStatus `json:"current"`
	Next          PeriodStatus `json:"next"`
}

// HealthResponse describes the service health payload.
type HealthResponse struct {
	Status    string    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Timestamp time.Time `json:"timestamp"`
}

// ReadyResponse describes readiness probe results with dependency checks.
type ReadyResponse struct {
	Status    string            `json:"status"`
	Checks    map[string]string `json:"checks,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
}
