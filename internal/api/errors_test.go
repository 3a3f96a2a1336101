package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/neotix/rentald/pkg/types"
)

func newTestContext(t *testing.T) (echo.Context, *httptest.ResponseRecorder) {
	t.Helper()
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/clusters/clu_1/deploy", nil)
	rec := httptest.NewRecorder()
	return e.NewContext(req, rec), rec
}

func TestErrorDomain(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantError  string
	}{
		{"validation", types.NewDomainError(types.ErrKindValidation, "bad input"), http.StatusUnprocessableEntity, "validation_failed"},
		{"not found", types.NewDomainError(types.ErrKindNotFound, "gone"), http.StatusNotFound, "not_found"},
		{"conflict", types.NewDomainError(types.ErrKindConflict, "busy"), http.StatusConflict, "conflict"},
		{"provision capacity", types.NewDomainError(types.ErrKindProvisionCapacity, "no capacity"), http.StatusBadGateway, "provision_failed"},
		{"provision quota", types.NewDomainError(types.ErrKindProvisionQuota, "quota"), http.StatusBadGateway, "provision_failed"},
		{"provision timeout", types.NewDomainError(types.ErrKindProvisionTimeout, "slow"), http.StatusGatewayTimeout, "provision_timeout"},
		{"inconsistency", types.NewDomainError(types.ErrKindInternalInconsistency, "broken"), http.StatusInternalServerError, "internal_error"},
		{"untyped error", assert.AnError, http.StatusInternalServerError, "internal_error"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, rec := newTestContext(t)

			require.NoError(t, ErrorDomain(c, tt.err))
			assert.Equal(t, tt.wantStatus, rec.Code)

			var body ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantError, body.Error)
		})
	}
}

func TestErrorDomainInsufficientBalance(t *testing.T) {
	c, rec := newTestContext(t)

	de := types.NewInsufficientBalanceError(decimal.RequireFromString("1.13"), decimal.RequireFromString("0.50"))
	de.Breakdown = &types.CostBreakdown{
		BaseCost:  decimal.NewFromInt(1),
		TotalCost: decimal.RequireFromString("1.13"),
	}

	require.NoError(t, ErrorDomain(c, de))
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)

	var body ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "insufficient_balance", body.Error)
	assert.Equal(t, "1.13", body.RequiredAmount)
	assert.Equal(t, "0.50", body.AvailableBalance)
	require.NotNil(t, body.Breakdown)
	assert.Equal(t, "1.13", body.Breakdown.TotalCost.StringFixed(2))
}
