package handler

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"loan-underwriting/internal/api/handler/dto"
	"loan-underwriting/internal/domain/identity"
	"loan-underwriting/internal/domain/loan"
	"loan-underwriting/internal/pkg/apperrors"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

type LoanHandler struct {
	service loan.UnderwritingService
	logger  *slog.Logger
}

func NewLoanHandler(s loan.UnderwritingService, l *slog.Logger) *LoanHandler {
	if s == nil {
		panic("underwriting service cannot be nil")
	}
	if l == nil {
		panic("logger cannot be nil")
	}
	return &LoanHandler{
		service: s,
		logger:  l.With("component", "LoanHandler"),
	}
}

func callerFrom(r *http.Request) (identity.Identity, error) {
	caller, ok := identity.FromContext(r.Context())
	if !ok {
		return identity.Identity{}, fmt.Errorf("%w: no authenticated caller", apperrors.ErrUnauthorized)
	}
	return caller, nil
}

func getLoanIDFromURL(r *http.Request) (uuid.UUID, error) {
	idStr := chi.URLParam(r, "loanID")
	if idStr == "" {
		return uuid.Nil, apperrors.NewValidationError("loanID", "not found in URL path")
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, apperrors.NewValidationError("loanID", "must be a UUID")
	}
	return id, nil
}

// ApplyForLoan handles POST /api/loans
//
// @Summary Apply for a loan
// @Description Submits a loan application for the authenticated customer. The application is checked for documents, an existing pending application and the debt-to-income ceiling, then scored and decided synchronously.
// @Tags Loans
// @Accept json
// @Produce json
// @Param request body dto.ApplyLoanRequest true "Loan application"
// @Success 201 {object} dto.LoanResponse "Application decided (APPROVED or REJECTED)"
// @Failure 400 {object} dto.ErrorResponse "Invalid request payload"
// @Failure 401 {object} dto.ErrorResponse "Missing or invalid bearer token"
// @Failure 403 {object} dto.ErrorResponse "Caller is not a customer"
// @Failure 404 {object} dto.ErrorResponse "Customer profile not found"
// @Failure 409 {object} dto.ErrorResponse "Concurrent application detected"
// @Failure 422 {object} dto.ErrorResponse "Business rule violation"
// @Failure 503 {object} dto.ErrorResponse "Credit score service unavailable; loan left PENDING"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /api/loans [post]
// @Security BearerAuth
func (h *LoanHandler) ApplyForLoan(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}

	var req dto.ApplyLoanRequest
	if err := decodeJSON(r, &req); err != nil {
		h.logger.WarnContext(r.Context(), "Failed to decode request body", slog.Any("error", err))
		respondError(w, fmt.Errorf("%w: %v", apperrors.ErrInvalidArgument, err))
		return
	}
	if err := req.Validate(); err != nil {
		respondError(w, err)
		return
	}

	decided, err := h.service.ApplyForCaller(r.Context(), caller, req.Amount, req.TenorMonths)
	if err != nil {
		if errors.Is(err, apperrors.ErrExternalService) && decided != nil {
			h.logger.WarnContext(r.Context(), "Loan left pending after scoring failure", slog.String("loanID", decided.ID.String()))
			respondErrorDetail(w, err, decided.ID.String())
			return
		}
		respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, dto.NewLoanResponse(decided))
}

// GetMyLoans handles GET /api/loans/my-loans
//
// @Summary List the caller's loans
// @Tags Loans
// @Produce json
// @Success 200 {array} dto.LoanResponse "Loans of the authenticated customer, newest first"
// @Failure 401 {object} dto.ErrorResponse "Missing or invalid bearer token"
// @Failure 404 {object} dto.ErrorResponse "Customer profile not found"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /api/loans/my-loans [get]
// @Security BearerAuth
func (h *LoanHandler) GetMyLoans(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}

	loans, err := h.service.ListMine(r.Context(), caller)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.NewLoanListResponse(loans))
}

// GetLoan handles GET /api/loans/{loanID}
//
// @Summary Retrieve loan details
// @Description Admins may read any loan; customers only their own.
// @Tags Loans
// @Produce json
// @Param loanID path string true "Loan ID (UUID)"
// @Success 200 {object} dto.LoanResponse "Loan details"
// @Failure 400 {object} dto.ErrorResponse "Invalid loan ID"
// @Failure 401 {object} dto.ErrorResponse "Missing or invalid bearer token"
// @Failure 404 {object} dto.ErrorResponse "Loan not found"
// @Failure 422 {object} dto.ErrorResponse "Loan belongs to another customer"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /api/loans/{loanID} [get]
// @Security BearerAuth
func (h *LoanHandler) GetLoan(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}
	loanID, err := getLoanIDFromURL(r)
	if err != nil {
		respondError(w, err)
		return
	}

	l, err := h.service.GetByID(r.Context(), loanID, caller)
	if err != nil {
		level := slog.LevelWarn
		if apperrors.Category(err) == apperrors.CodeInternal {
			level = slog.LevelError
		}
		h.logger.Log(r.Context(), level, "Service failed to get loan", slog.Any("error", err))
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.NewLoanResponse(l))
}

// ListLoans handles GET /api/loans
//
// @Summary List all loans
// @Description Admin only. Served from the Redis cache when available.
// @Tags Loans
// @Produce json
// @Success 200 {array} dto.LoanResponse "All loans, newest first"
// @Failure 401 {object} dto.ErrorResponse "Missing or invalid bearer token"
// @Failure 403 {object} dto.ErrorResponse "Caller is not an admin"
// @Failure 500 {object} dto.ErrorResponse "Internal server error"
// @Router /api/loans [get]
// @Security BearerAuth
func (h *LoanHandler) ListLoans(w http.ResponseWriter, r *http.Request) {
	caller, err := callerFrom(r)
	if err != nil {
		respondError(w, err)
		return
	}

	loans, err := h.service.ListAll(r.Context(), caller)
	if err != nil {
		respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, dto.NewLoanListResponse(loans))
}
