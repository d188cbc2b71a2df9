package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"loan-underwriting/internal/config"
	"loan-underwriting/internal/domain/customer"
	"loan-underwriting/internal/pkg/apperrors"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type CustomerStore struct {
	mu     sync.RWMutex
	byID   map[uuid.UUID]*customer.Customer
	byUser map[uuid.UUID]uuid.UUID
}

var _ customer.Directory = (*CustomerStore)(nil)

func NewCustomerStore() *CustomerStore {
	return &CustomerStore{
		byID:   make(map[uuid.UUID]*customer.Customer),
		byUser: make(map[uuid.UUID]uuid.UUID),
	}
}

// NewSeededCustomerStore builds a directory from configured seed profiles.
func NewSeededCustomerStore(seeds []config.SeedCustomer) (*CustomerStore, error) {
	s := NewCustomerStore()
	now := time.Now().UTC()
	for i, seed := range seeds {
		c, err := customerFromSeed(seed, now)
		if err != nil {
			return nil, fmt.Errorf("seed customer %d: %w", i, err)
		}
		if err := s.Put(c); err != nil {
			return nil, fmt.Errorf("seed customer %d: %w", i, err)
		}
	}
	return s, nil
}

func (s *CustomerStore) Put(c *customer.Customer) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if owner, ok := s.byUser[c.UserID]; ok && owner != c.ID {
		return fmt.Errorf("%w: user %s already has a customer profile", apperrors.ErrAlreadyExists, c.UserID)
	}
	stored := *c
	s.byID[c.ID] = &stored
	s.byUser[c.UserID] = c.ID
	return nil
}

func (s *CustomerStore) FindByID(_ context.Context, customerID uuid.UUID) (*customer.Customer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.byID[customerID]
	if !ok {
		return nil, customer.ErrNotFound
	}
	out := *c
	return &out, nil
}

func (s *CustomerStore) FindByUserID(ctx context.Context, userID uuid.UUID) (*customer.Customer, error) {
	s.mu.RLock()
	id, ok := s.byUser[userID]
	s.mu.RUnlock()
	if !ok {
		return nil, customer.ErrNotFound
	}
	return s.FindByID(ctx, id)
}

func customerFromSeed(seed config.SeedCustomer, now time.Time) (*customer.Customer, error) {
	id, err := uuid.Parse(seed.ID)
	if err != nil {
		return nil, apperrors.NewValidationError("id", err.Error())
	}
	userID, err := uuid.Parse(seed.UserID)
	if err != nil {
		return nil, apperrors.NewValidationError("userId", err.Error())
	}
	income, err := decimal.NewFromString(seed.MonthlyIncome)
	if err != nil {
		return nil, apperrors.NewValidationError("monthlyIncome", err.Error())
	}
	if income.IsNegative() {
		return nil, apperrors.NewValidationError("monthlyIncome", "must not be negative")
	}
	return &customer.Customer{
		ID:             id,
		UserID:         userID,
		Name:           seed.Name,
		Email:          seed.Email,
		MonthlyIncome:  income,
		KTPPath:        seed.KTPPath,
		SalarySlipPath: seed.SalarySlipPath,
		CreatedAt:      now,
		UpdatedAt:      now,
	}, nil
}
