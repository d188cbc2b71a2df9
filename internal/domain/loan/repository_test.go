package loan

import (
	"context"
	"loan-underwriting/internal/domain/customer"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"
)

type MockRepository struct {
	mock.Mock
}

func (m *MockRepository) FindByID(ctx context.Context, loanID uuid.UUID) (*Loan, error) {
	args := m.Called(ctx, loanID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*Loan), args.Error(1)
}

func (m *MockRepository) FindByCustomerID(ctx context.Context, customerID uuid.UUID) ([]*Loan, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Loan), args.Error(1)
}

func (m *MockRepository) FindAll(ctx context.Context) ([]*Loan, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Loan), args.Error(1)
}

func (m *MockRepository) ExistsPendingForCustomer(ctx context.Context, customerID uuid.UUID) (bool, error) {
	args := m.Called(ctx, customerID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRepository) CreatePending(ctx context.Context, l *Loan) error {
	args := m.Called(ctx, l)
	return args.Error(0)
}

func (m *MockRepository) Finalize(ctx context.Context, l *Loan, expectedVersion int) error {
	args := m.Called(ctx, l, expectedVersion)
	if args.Error(0) == nil {
		l.Version = expectedVersion + 1
	}
	return args.Error(0)
}

func (m *MockRepository) FindStalePending(ctx context.Context, cutoff time.Time) ([]*Loan, error) {
	args := m.Called(ctx, cutoff)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]*Loan), args.Error(1)
}

type MockDirectory struct {
	mock.Mock
}

func (m *MockDirectory) FindByID(ctx context.Context, customerID uuid.UUID) (*customer.Customer, error) {
	args := m.Called(ctx, customerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*customer.Customer), args.Error(1)
}

func (m *MockDirectory) FindByUserID(ctx context.Context, userID uuid.UUID) (*customer.Customer, error) {
	args := m.Called(ctx, userID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*customer.Customer), args.Error(1)
}

type MockCreditScorer struct {
	mock.Mock
}

func (m *MockCreditScorer) Score(ctx context.Context, customerID uuid.UUID) (int, error) {
	args := m.Called(ctx, customerID)
	return args.Int(0), args.Error(1)
}

type MockListCache struct {
	mock.Mock
}

func (m *MockListCache) GetAll(ctx context.Context) ([]*Loan, bool, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Bool(1), args.Error(2)
	}
	return args.Get(0).([]*Loan), args.Bool(1), args.Error(2)
}

func (m *MockListCache) SetAll(ctx context.Context, loans []*Loan) error {
	args := m.Called(ctx, loans)
	return args.Error(0)
}

func (m *MockListCache) Invalidate(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

type MockDecisionPublisher struct {
	mock.Mock
}

func (m *MockDecisionPublisher) PublishDecision(ctx context.Context, l *Loan) error {
	args := m.Called(ctx, l)
	return args.Error(0)
}
