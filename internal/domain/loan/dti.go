package loan

import (
	"fmt"
	"loan-underwriting/internal/pkg/apperrors"

	"github.com/shopspring/decimal"
)

const incomeMonthsCeiling = 12

var incomeMultiplier = decimal.NewFromInt(incomeMonthsCeiling)

// MaxAllowed is the debt-to-income ceiling: twelve months of income.
func MaxAllowed(monthlyIncome decimal.Decimal) (decimal.Decimal, error) {
	if monthlyIncome.IsNegative() {
		return decimal.Zero, fmt.Errorf("%w: monthly income %s is negative", apperrors.ErrInvalidArgument, monthlyIncome)
	}
	return monthlyIncome.Mul(incomeMultiplier), nil
}

// DebtToIncomeError reports an application whose amount exceeds the ceiling.
type DebtToIncomeError struct {
	Amount        decimal.Decimal
	MaxAllowed    decimal.Decimal
	MonthlyIncome decimal.Decimal
}

func (e *DebtToIncomeError) Error() string {
	return fmt.Sprintf("%s: loan amount (%s) exceeds maximum allowed (%s) based on monthly income (%s)",
		apperrors.ErrBusinessRule, e.Amount, e.MaxAllowed, e.MonthlyIncome)
}

func (e *DebtToIncomeError) Unwrap() error {
	return apperrors.ErrBusinessRule
}

func checkDebtToIncome(amount, monthlyIncome decimal.Decimal) error {
	ceiling, err := MaxAllowed(monthlyIncome)
	if err != nil {
		return err
	}
	if amount.GreaterThan(ceiling) {
		return &DebtToIncomeError{Amount: amount, MaxAllowed: ceiling, MonthlyIncome: monthlyIncome}
	}
	return nil
}
