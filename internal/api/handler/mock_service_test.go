package handler

import (
	"context"

	"loan-underwriting/internal/domain/identity"
	"loan-underwriting/internal/domain/loan"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/mock"
)

type MockUnderwritingService struct {
	mock.Mock
}

func (m *MockUnderwritingService) loanResult(args mock.Arguments) (*loan.Loan, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*loan.Loan), args.Error(1)
}

func (m *MockUnderwritingService) loansResult(args mock.Arguments) ([]*loan.Loan, error) {
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*loan.Loan), args.Error(1)
}

func (m *MockUnderwritingService) Apply(ctx context.Context, customerID uuid.UUID, amount decimal.Decimal, tenorMonths int) (*loan.Loan, error) {
	return m.loanResult(m.Called(ctx, customerID, amount, tenorMonths))
}

func (m *MockUnderwritingService) ApplyForCaller(ctx context.Context, caller identity.Identity, amount decimal.Decimal, tenorMonths int) (*loan.Loan, error) {
	return m.loanResult(m.Called(ctx, caller, amount, tenorMonths))
}

func (m *MockUnderwritingService) GetByID(ctx context.Context, loanID uuid.UUID, caller identity.Identity) (*loan.Loan, error) {
	return m.loanResult(m.Called(ctx, loanID, caller))
}

func (m *MockUnderwritingService) ListMine(ctx context.Context, caller identity.Identity) ([]*loan.Loan, error) {
	return m.loansResult(m.Called(ctx, caller))
}

func (m *MockUnderwritingService) ListAll(ctx context.Context, caller identity.Identity) ([]*loan.Loan, error) {
	return m.loansResult(m.Called(ctx, caller))
}
