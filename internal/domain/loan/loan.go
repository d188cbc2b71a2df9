package loan

import (
	"errors"
	"fmt"
	"loan-underwriting/internal/pkg/apperrors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Status string

const (
	StatusPending  Status = "PENDING"
	StatusApproved Status = "APPROVED"
	StatusRejected Status = "REJECTED"
)

func (s Status) IsTerminal() bool {
	return s == StatusApproved || s == StatusRejected
}

var ErrInvalidTransition = errors.New("invalid loan status transition")

// AmountScale is the number of decimal places a loan amount is stored with.
const AmountScale = 2

// ValidateAmount accepts positive amounts that are representable in whole
// cents. Trailing zeros beyond the scale ("1.500") are fine.
func ValidateAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return apperrors.NewValidationError("amount", "must be greater than zero")
	}
	if !amount.Equal(amount.Truncate(AmountScale)) {
		return apperrors.NewValidationError("amount", "at most 2 decimal places")
	}
	return nil
}

type Loan struct {
	ID              uuid.UUID
	CustomerID      uuid.UUID
	Amount          decimal.Decimal
	TenorMonths     int
	Status          Status
	InterestRate    decimal.NullDecimal
	CreditScore     *int
	RejectionReason *string
	Version         int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewApplication builds a PENDING loan with a fresh identifier. Interest rate,
// credit score and rejection reason stay unset until the loan is finalized.
func NewApplication(customerID uuid.UUID, amount decimal.Decimal, tenorMonths int, now time.Time) (*Loan, error) {
	if customerID == uuid.Nil {
		return nil, apperrors.NewValidationError("customerId", "must be provided")
	}
	if err := ValidateAmount(amount); err != nil {
		return nil, err
	}
	if tenorMonths < 1 {
		return nil, apperrors.NewValidationError("tenorMonths", "must be at least 1 month")
	}

	return &Loan{
		ID:          uuid.New(),
		CustomerID:  customerID,
		Amount:      amount,
		TenorMonths: tenorMonths,
		Status:      StatusPending,
		Version:     1,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

func (l *Loan) IsPending() bool {
	return l.Status == StatusPending
}

func (l *Loan) Approve(interestRate decimal.Decimal, creditScore int, now time.Time) error {
	if !l.IsPending() {
		return fmt.Errorf("%w: cannot approve loan %s in status %s", ErrInvalidTransition, l.ID, l.Status)
	}
	l.Status = StatusApproved
	l.InterestRate = decimal.NewNullDecimal(interestRate)
	l.CreditScore = &creditScore
	l.UpdatedAt = now
	return nil
}

func (l *Loan) Reject(reason string, creditScore int, now time.Time) error {
	if !l.IsPending() {
		return fmt.Errorf("%w: cannot reject loan %s in status %s", ErrInvalidTransition, l.ID, l.Status)
	}
	l.Status = StatusRejected
	l.RejectionReason = &reason
	l.CreditScore = &creditScore
	l.UpdatedAt = now
	return nil
}

// Clone returns a deep copy so stored records cannot be mutated through a
// pointer handed to a caller.
func (l *Loan) Clone() *Loan {
	if l == nil {
		return nil
	}
	c := *l
	if l.CreditScore != nil {
		score := *l.CreditScore
		c.CreditScore = &score
	}
	if l.RejectionReason != nil {
		reason := *l.RejectionReason
		c.RejectionReason = &reason
	}
	return &c
}
