package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/moradacoop/morada/internal/ciabra"
	memberdomain "github.com/moradacoop/morada/internal/member/domain"
	paymentdomain "github.com/moradacoop/morada/internal/payment/domain"
	"gorm.io/gorm"
)

type errorPayload struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorPayload `json:"error"`
}

// ErrorHandlingMiddleware turns errors attached to the gin context into one
// consistent JSON error body. Handlers that already wrote a response are left
// alone.
func ErrorHandlingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if c.Writer.Written() {
			return
		}
		lastErr := c.Errors.Last()
		if lastErr == nil {
			return
		}

		status, payload := mapError(lastErr.Err)
		c.AbortWithStatusJSON(status, errorResponse{Error: payload})
	}
}

func AbortWithError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)
	c.Abort()
}

func mapError(err error) (int, errorPayload) {
	switch {
	case errors.Is(err, paymentdomain.ErrPaymentNotFound),
		errors.Is(err, memberdomain.ErrMemberNotFound),
		errors.Is(err, gorm.ErrRecordNotFound):
		return http.StatusNotFound, errorPayload{Type: "not_found", Message: "resource not found"}

	case errors.Is(err, paymentdomain.ErrInvalidSignature):
		return http.StatusUnauthorized, errorPayload{Type: "unauthorized", Message: "invalid webhook signature"}

	case errors.Is(err, paymentdomain.ErrInvalidPayload),
		errors.Is(err, ciabra.ErrNoChargeReference),
		errors.Is(err, paymentdomain.ErrInvalidAmount):
		return http.StatusBadRequest, errorPayload{Type: "invalid_request", Message: err.Error()}

	case errors.Is(err, paymentdomain.ErrInvalidTransition):
		return http.StatusConflict, errorPayload{Type: "conflict", Message: err.Error()}

	case errors.Is(err, ciabra.ErrNotConfigured):
		return http.StatusServiceUnavailable, errorPayload{Type: "service_unavailable", Message: "billing provider not configured"}

	default:
		return http.StatusInternalServerError, errorPayload{Type: "internal_error", Message: "internal server error"}
	}
}
