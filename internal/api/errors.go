package api

import (
	"errors"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/neotix/rentald/pkg/types"
)

// ErrorResponse represents a standard API error response
type ErrorResponse struct {
	Error            string               `json:"error"`
	Message          string               `json:"message,omitempty"`
	Breakdown        *types.CostBreakdown `json:"cost_breakdown,omitempty"`
	RequiredAmount   string               `json:"required_amount,omitempty"`
	AvailableBalance string               `json:"available_balance,omitempty"`
}

// NewErrorResponse creates a new error response
func NewErrorResponse(error, message string) *ErrorResponse {
	return &ErrorResponse{
		Error:   error,
		Message: message,
	}
}

// ErrorBadRequest returns a 400 Bad Request error
func ErrorBadRequest(c echo.Context, message string) error {
	return c.JSON(http.StatusBadRequest, NewErrorResponse("bad_request", message))
}

// ErrorUnauthorized returns a 401 Unauthorized error
func ErrorUnauthorized(c echo.Context, message string) error {
	return c.JSON(http.StatusUnauthorized, NewErrorResponse("unauthorized", message))
}

// ErrorNotFound returns a 404 Not Found error
func ErrorNotFound(c echo.Context, message string) error {
	return c.JSON(http.StatusNotFound, NewErrorResponse("not_found", message))
}

// ErrorConflict returns a 409 Conflict error
func ErrorConflict(c echo.Context, message string) error {
	return c.JSON(http.StatusConflict, NewErrorResponse("conflict", message))
}

// ErrorValidation returns a 422 Unprocessable Entity error
func ErrorValidation(c echo.Context, message string) error {
	return c.JSON(http.StatusUnprocessableEntity, NewErrorResponse("validation_failed", message))
}

// ErrorInternal returns a 500 Internal Server Error
func ErrorInternal(c echo.Context, message string) error {
	return c.JSON(http.StatusInternalServerError, NewErrorResponse("internal_error", message))
}

// ErrorServiceUnavailable returns a 503 Service Unavailable error
func ErrorServiceUnavailable(c echo.Context, message string) error {
	return c.JSON(http.StatusServiceUnavailable, NewErrorResponse("service_unavailable", message))
}

// ErrorDomain maps a lifecycle error onto its HTTP response. Balance
// shortfalls carry the full cost breakdown so clients can render what
// the deploy would have cost.
func ErrorDomain(c echo.Context, err error) error {
	switch types.KindOf(err) {
	case types.ErrKindValidation:
		return ErrorValidation(c, err.Error())
	case types.ErrKindNotFound:
		return ErrorNotFound(c, err.Error())
	case types.ErrKindConflict:
		return ErrorConflict(c, err.Error())
	case types.ErrKindInsufficientBalance:
		resp := NewErrorResponse("insufficient_balance", err.Error())
		var de *types.DomainError
		if errors.As(err, &de) {
			resp.Breakdown = de.Breakdown
			resp.RequiredAmount = de.RequiredAmount.StringFixed(2)
			resp.AvailableBalance = de.AvailableBalance.StringFixed(2)
		}
		return c.JSON(http.StatusPaymentRequired, resp)
	case types.ErrKindProvisionQuota, types.ErrKindProvisionCapacity, types.ErrKindProvisionTransient:
		return c.JSON(http.StatusBadGateway, NewErrorResponse("provision_failed", err.Error()))
	case types.ErrKindProvisionTimeout:
		return c.JSON(http.StatusGatewayTimeout, NewErrorResponse("provision_timeout", err.Error()))
	default:
		log.Printf("ALERT: internal error on %s %s: %v", c.Request().Method, c.Request().URL.Path, err)
		return ErrorInternal(c, "internal error")
	}
}
