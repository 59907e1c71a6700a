package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/arklim/paid-storage/internal/core/domain"
)

// ErrorCase maps a sentinel error to an HTTP status code and response message.
type ErrorCase struct {
	Err     error
	Status  int
	Message string
}

var gateErrorCases = []ErrorCase{
	{Err: domain.ErrUnauthenticated, Status: http.StatusUnauthorized, Message: "authentication required"},
	{Err: domain.ErrPaymentRequired, Status: http.StatusPaymentRequired, Message: "subscription for the current period is not paid"},
	{Err: domain.ErrQuotaExceeded, Status: http.StatusRequestEntityTooLarge, Message: "size exceeded"},
	{Err: domain.ErrLedgerUnavailable, Status: http.StatusServiceUnavailable, Message: "subscription status could not be determined"},
	{Err: domain.ErrInvalidKey, Status: http.StatusBadRequest, Message: "invalid key"},
}

// RespondWithMappedError resolves the provided error against known cases or falls back to a generic response.
func RespondWithMappedError(c *gin.Context, err error, cases []ErrorCase, fallbackStatus int, fallbackMessage string) {
	if err == nil {
		c.Status(http.StatusOK)
		return
	}

	for _, cs := range cases {
		if cs.Err == nil {
			continue
		}
		if errors.Is(err, cs.Err) {
			c.JSON(cs.Status, NewErrorResponse(c, cs.Message))
			return
		}
	}

	c.JSON(fallbackStatus, NewErrorResponse(c, fallbackMessage))
}

func respondGateError(c *gin.Context, err error) {
	RespondWithMappedError(c, err, gateErrorCases, http.StatusInternalServerError, "internal error")
}
