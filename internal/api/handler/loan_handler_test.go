package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"loan-underwriting/internal/api/handler/dto"
	"loan-underwriting/internal/domain/identity"
	"loan-underwriting/internal/domain/loan"
	"loan-underwriting/internal/pkg/apperrors"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var (
	testLogger = slog.New(slog.NewTextHandler(io.Discard, nil))
	customer   = identity.Identity{UserID: uuid.New(), Role: identity.RoleCustomer}
	admin      = identity.Identity{UserID: uuid.New(), Role: identity.RoleAdmin}
)

func newTestRouter(svc loan.UnderwritingService, caller *identity.Identity) *chi.Mux {
	h := NewLoanHandler(svc, testLogger)
	r := chi.NewRouter()
	if caller != nil {
		c := *caller
		r.Use(func(next http.Handler) http.Handler {
			return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
				next.ServeHTTP(w, req.WithContext(identity.WithIdentity(req.Context(), c)))
			})
		})
	}
	r.Post("/api/loans", h.ApplyForLoan)
	r.Get("/api/loans", h.ListLoans)
	r.Get("/api/loans/my-loans", h.GetMyLoans)
	r.Get("/api/loans/{loanID}", h.GetLoan)
	return r
}

func approvedLoan() *loan.Loan {
	now := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	l, _ := loan.NewApplication(uuid.New(), decimal.NewFromInt(15000000), 12, now)
	_ = l.Approve(decimal.NewFromFloat(10.5), 710, now)
	return l
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) dto.ErrorDetail {
	t.Helper()
	var body dto.ErrorResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body))
	return body.Error
}

func doRequest(r http.Handler, method, target, body string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, reader)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestNewLoanHandlerPanics(t *testing.T) {
	assert.Panics(t, func() { NewLoanHandler(nil, testLogger) })
	assert.Panics(t, func() { NewLoanHandler(&MockUnderwritingService{}, nil) })
}

func TestApplyForLoan(t *testing.T) {
	t.Run("decided application returns 201", func(t *testing.T) {
		svc := &MockUnderwritingService{}
		l := approvedLoan()
		svc.On("ApplyForCaller", mock.Anything, customer, mock.MatchedBy(func(d decimal.Decimal) bool {
			return d.Equal(decimal.NewFromInt(15000000))
		}), 12).Return(l, nil)

		rec := doRequest(newTestRouter(svc, &customer), http.MethodPost, "/api/loans", `{"amount":"15000000","tenorMonths":12}`)

		assert.Equal(t, http.StatusCreated, rec.Code)
		var resp dto.LoanResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, l.ID.String(), resp.ID)
		assert.Equal(t, "APPROVED", resp.Status)
		assert.Equal(t, "15000000.00", resp.Amount)
		require.NotNil(t, resp.InterestRate)
		assert.Equal(t, "10.50", *resp.InterestRate)
		require.NotNil(t, resp.CreditScore)
		assert.Equal(t, 710, *resp.CreditScore)
		svc.AssertExpectations(t)
	})

	t.Run("numeric amount is accepted", func(t *testing.T) {
		svc := &MockUnderwritingService{}
		svc.On("ApplyForCaller", mock.Anything, customer, mock.Anything, 6).Return(approvedLoan(), nil)

		rec := doRequest(newTestRouter(svc, &customer), http.MethodPost, "/api/loans", `{"amount":5000000.50,"tenorMonths":6}`)

		assert.Equal(t, http.StatusCreated, rec.Code)
		svc.AssertExpectations(t)
	})

	t.Run("missing identity is 401", func(t *testing.T) {
		svc := &MockUnderwritingService{}
		rec := doRequest(newTestRouter(svc, nil), http.MethodPost, "/api/loans", `{"amount":"1","tenorMonths":1}`)

		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, apperrors.CodeUnauthorized, decodeError(t, rec).Code)
		svc.AssertNotCalled(t, "ApplyForCaller", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	})

	badBodies := []struct {
		name  string
		body  string
		field string
	}{
		{"malformed json", `{"amount":`, ""},
		{"unknown field", `{"amount":"1","tenorMonths":1,"rate":"5"}`, ""},
		{"zero amount", `{"amount":"0","tenorMonths":12}`, "amount"},
		{"negative amount", `{"amount":"-10","tenorMonths":12}`, "amount"},
		{"zero tenor", `{"amount":"1000","tenorMonths":0}`, "tenorMonths"},
		{"fraction of a cent", `{"amount":"0.004","tenorMonths":12}`, "amount"},
		{"numeric fraction of a cent", `{"amount":11999.996,"tenorMonths":12}`, "amount"},
	}
	for _, tc := range badBodies {
		t.Run(tc.name+" is 400", func(t *testing.T) {
			svc := &MockUnderwritingService{}
			rec := doRequest(newTestRouter(svc, &customer), http.MethodPost, "/api/loans", tc.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			detail := decodeError(t, rec)
			assert.Equal(t, apperrors.CodeValidation, detail.Code)
			assert.Equal(t, tc.field, detail.Field)
			svc.AssertNotCalled(t, "ApplyForCaller", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
		})
	}

	serviceErrors := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"missing KTP", loan.ErrMissingKTP, http.StatusUnprocessableEntity, apperrors.CodeBusinessRule},
		{"pending exists", loan.ErrPendingExists, http.StatusUnprocessableEntity, apperrors.CodeBusinessRule},
		{"profile missing", fmt.Errorf("%w: customer profile", apperrors.ErrNotFound), http.StatusNotFound, apperrors.CodeNotFound},
		{"not a customer", fmt.Errorf("%w: admins cannot apply", apperrors.ErrForbidden), http.StatusForbidden, apperrors.CodeForbidden},
		{"finalize race", fmt.Errorf("%w: version moved", apperrors.ErrConflict), http.StatusConflict, apperrors.CodeConflict},
		{"database down", fmt.Errorf("%w: pool closed", apperrors.ErrInternalServer), http.StatusInternalServerError, apperrors.CodeInternal},
	}
	for _, tc := range serviceErrors {
		t.Run(tc.name, func(t *testing.T) {
			svc := &MockUnderwritingService{}
			svc.On("ApplyForCaller", mock.Anything, customer, mock.Anything, 12).Return(nil, tc.err)

			rec := doRequest(newTestRouter(svc, &customer), http.MethodPost, "/api/loans", `{"amount":"1000","tenorMonths":12}`)

			assert.Equal(t, tc.status, rec.Code)
			detail := decodeError(t, rec)
			assert.Equal(t, tc.code, detail.Code)
			assert.Empty(t, detail.LoanID)
		})
	}

	t.Run("internal error message is not leaked", func(t *testing.T) {
		svc := &MockUnderwritingService{}
		svc.On("ApplyForCaller", mock.Anything, customer, mock.Anything, 12).
			Return(nil, fmt.Errorf("%w: dial tcp 10.0.0.5:5432", apperrors.ErrInternalServer))

		rec := doRequest(newTestRouter(svc, &customer), http.MethodPost, "/api/loans", `{"amount":"1000","tenorMonths":12}`)

		assert.Equal(t, http.StatusInternalServerError, rec.Code)
		assert.NotContains(t, rec.Body.String(), "10.0.0.5")
	})

	t.Run("scoring failure is 503 with pending loan id", func(t *testing.T) {
		svc := &MockUnderwritingService{}
		now := time.Now().UTC()
		pending, err := loan.NewApplication(uuid.New(), decimal.NewFromInt(1000), 12, now)
		require.NoError(t, err)
		svc.On("ApplyForCaller", mock.Anything, customer, mock.Anything, 12).
			Return(pending, fmt.Errorf("%w: credit score unavailable", apperrors.ErrExternalService))

		rec := doRequest(newTestRouter(svc, &customer), http.MethodPost, "/api/loans", `{"amount":"1000","tenorMonths":12}`)

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		detail := decodeError(t, rec)
		assert.Equal(t, apperrors.CodeExternalService, detail.Code)
		assert.Equal(t, pending.ID.String(), detail.LoanID)
	})
}

func TestGetLoan(t *testing.T) {
	t.Run("found", func(t *testing.T) {
		svc := &MockUnderwritingService{}
		l := approvedLoan()
		svc.On("GetByID", mock.Anything, l.ID, customer).Return(l, nil)

		rec := doRequest(newTestRouter(svc, &customer), http.MethodGet, "/api/loans/"+l.ID.String(), "")

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp dto.LoanResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, l.ID.String(), resp.ID)
	})

	t.Run("invalid id is 400", func(t *testing.T) {
		svc := &MockUnderwritingService{}
		rec := doRequest(newTestRouter(svc, &customer), http.MethodGet, "/api/loans/not-a-uuid", "")

		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, "loanID", decodeError(t, rec).Field)
	})

	t.Run("not found is 404", func(t *testing.T) {
		svc := &MockUnderwritingService{}
		id := uuid.New()
		svc.On("GetByID", mock.Anything, id, customer).Return(nil, fmt.Errorf("%w: loan %s", apperrors.ErrNotFound, id))

		rec := doRequest(newTestRouter(svc, &customer), http.MethodGet, "/api/loans/"+id.String(), "")

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("someone else's loan is 422", func(t *testing.T) {
		svc := &MockUnderwritingService{}
		id := uuid.New()
		svc.On("GetByID", mock.Anything, id, customer).Return(nil, loan.ErrNotOwner)

		rec := doRequest(newTestRouter(svc, &customer), http.MethodGet, "/api/loans/"+id.String(), "")

		assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
		assert.Equal(t, apperrors.CodeBusinessRule, decodeError(t, rec).Code)
	})
}

func TestGetMyLoans(t *testing.T) {
	t.Run("returns list", func(t *testing.T) {
		svc := &MockUnderwritingService{}
		svc.On("ListMine", mock.Anything, customer).Return([]*loan.Loan{approvedLoan(), approvedLoan()}, nil)

		rec := doRequest(newTestRouter(svc, &customer), http.MethodGet, "/api/loans/my-loans", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp []dto.LoanResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Len(t, resp, 2)
	})

	t.Run("empty list is an empty array", func(t *testing.T) {
		svc := &MockUnderwritingService{}
		svc.On("ListMine", mock.Anything, customer).Return(nil, nil)

		rec := doRequest(newTestRouter(svc, &customer), http.MethodGet, "/api/loans/my-loans", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `[]`, rec.Body.String())
	})

	t.Run("profile missing is 404", func(t *testing.T) {
		svc := &MockUnderwritingService{}
		svc.On("ListMine", mock.Anything, customer).Return(nil, fmt.Errorf("%w: no profile", apperrors.ErrNotFound))

		rec := doRequest(newTestRouter(svc, &customer), http.MethodGet, "/api/loans/my-loans", "")

		assert.Equal(t, http.StatusNotFound, rec.Code)
	})
}

func TestListLoans(t *testing.T) {
	t.Run("admin gets all", func(t *testing.T) {
		svc := &MockUnderwritingService{}
		svc.On("ListAll", mock.Anything, admin).Return([]*loan.Loan{approvedLoan()}, nil)

		rec := doRequest(newTestRouter(svc, &admin), http.MethodGet, "/api/loans", "")

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp []dto.LoanResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Len(t, resp, 1)
	})

	t.Run("customer is 403", func(t *testing.T) {
		svc := &MockUnderwritingService{}
		svc.On("ListAll", mock.Anything, customer).Return(nil, fmt.Errorf("%w: admin role required", apperrors.ErrForbidden))

		rec := doRequest(newTestRouter(svc, &customer), http.MethodGet, "/api/loans", "")

		assert.Equal(t, http.StatusForbidden, rec.Code)
	})
}

type stubPinger struct{ err error }

func (s stubPinger) Ping(context.Context) error { return s.err }

func TestHealth(t *testing.T) {
	t.Run("all healthy", func(t *testing.T) {
		h := NewHealthHandler(map[string]Pinger{
			"database": stubPinger{},
			"redis":    PingFunc(func(context.Context) error { return nil }),
		}, testLogger)
		rec := httptest.NewRecorder()
		h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp dto.HealthResponse
		require.NoError(t, json.NewDecoder(rec.Body).Decode(&resp))
		assert.Equal(t, "ok", resp.Status)
		assert.Equal(t, "ok", resp.Checks["database"])
		assert.Equal(t, "ok", resp.Checks["redis"])
	})

	t.Run("no checks", func(t *testing.T) {
		h := NewHealthHandler(nil, testLogger)
		rec := httptest.NewRecorder()
		h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("one dependency down", func(t *testing.T) {
		h := NewHealthHandler(map[string]Pinger{
			"database": stubPinger{},
			"redis":    stubPinger{err: errors.New("connection refused")},
		}, testLogger)
		rec := httptest.NewRecorder()
		h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		var resp dto.HealthResponse
		require.NoError(t, json.NewDecoder(bytes.NewReader(rec.Body.Bytes())).Decode(&resp))
		assert.Equal(t, "degraded", resp.Status)
		assert.Equal(t, "unavailable", resp.Checks["redis"])
		assert.NotContains(t, rec.Body.String(), "connection refused")
	})
}
