package dto

import (
	"loan-underwriting/internal/domain/loan"
	"loan-underwriting/internal/pkg/apperrors"
	"time"

	"github.com/shopspring/decimal"
)

type ApplyLoanRequest struct {
	Amount      decimal.Decimal `json:"amount" swaggertype:"string" example:"50000000.00"`
	TenorMonths int             `json:"tenorMonths" example:"12"`
}

func (r *ApplyLoanRequest) Validate() error {
	if err := loan.ValidateAmount(r.Amount); err != nil {
		return err
	}
	if r.TenorMonths < 1 {
		return apperrors.NewValidationError("tenorMonths", "must be at least 1 month")
	}
	return nil
}

type LoanResponse struct {
	ID              string    `json:"id"`
	CustomerID      string    `json:"customerId"`
	Amount          string    `json:"amount"`
	TenorMonths     int       `json:"tenorMonths"`
	InterestRate    *string   `json:"interestRate"`
	Status          string    `json:"status"`
	CreditScore     *int      `json:"creditScore"`
	RejectionReason *string   `json:"rejectionReason"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

type ErrorDetail struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Field   string `json:"field,omitempty"`
	LoanID  string `json:"loanId,omitempty"`
}

type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type HealthResponse struct {
	Status string            `json:"status"`
	Checks map[string]string `json:"checks,omitempty"`
}

func NewLoanResponse(domainLoan *loan.Loan) LoanResponse {
	resp := LoanResponse{
		ID:              domainLoan.ID.String(),
		CustomerID:      domainLoan.CustomerID.String(),
		Amount:          domainLoan.Amount.StringFixed(2),
		TenorMonths:     domainLoan.TenorMonths,
		Status:          string(domainLoan.Status),
		CreditScore:     domainLoan.CreditScore,
		RejectionReason: domainLoan.RejectionReason,
		CreatedAt:       domainLoan.CreatedAt,
		UpdatedAt:       domainLoan.UpdatedAt,
	}
	if domainLoan.InterestRate.Valid {
		rate := domainLoan.InterestRate.Decimal.StringFixed(2)
		resp.InterestRate = &rate
	}
	return resp
}

func NewLoanListResponse(loans []*loan.Loan) []LoanResponse {
	out := make([]LoanResponse, 0, len(loans))
	for _, l := range loans {
		out = append(out, NewLoanResponse(l))
	}
	return out
}
