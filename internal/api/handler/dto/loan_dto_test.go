package dto

import (
	"encoding/json"
	"testing"
	"time"

	"loan-underwriting/internal/domain/loan"
	"loan-underwriting/internal/pkg/apperrors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyLoanRequestValidate(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		wantField string
		wantMsg   string
	}{
		{name: "valid", body: `{"amount":"15000000.50","tenorMonths":12}`},
		{name: "trailing zeros", body: `{"amount":"1500.500","tenorMonths":3}`},
		{name: "zero amount", body: `{"amount":"0","tenorMonths":12}`, wantField: "amount", wantMsg: "must be greater than zero"},
		{name: "fraction of a cent", body: `{"amount":"0.004","tenorMonths":12}`, wantField: "amount", wantMsg: "at most 2 decimal places"},
		{name: "numeric fraction of a cent", body: `{"amount":11999.996,"tenorMonths":12}`, wantField: "amount", wantMsg: "at most 2 decimal places"},
		{name: "zero tenor", body: `{"amount":"100","tenorMonths":0}`, wantField: "tenorMonths"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req ApplyLoanRequest
			require.NoError(t, json.Unmarshal([]byte(tt.body), &req))

			err := req.Validate()
			if tt.wantField == "" {
				assert.NoError(t, err)
				return
			}
			var vErr *apperrors.ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.wantField, vErr.Field)
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, vErr.Message)
			}
		})
	}
}

func TestNewLoanResponseKeepsCents(t *testing.T) {
	now := time.Date(2026, 5, 4, 8, 0, 0, 0, time.UTC)
	l, err := loan.NewApplication(uuid.New(), decimal.RequireFromString("11999.99"), 12, now)
	require.NoError(t, err)

	resp := NewLoanResponse(l)

	assert.Equal(t, "11999.99", resp.Amount)
	assert.Nil(t, resp.InterestRate)
	assert.Equal(t, "PENDING", resp.Status)
}
