// Package memory holds process-local stores used when database.driver is
// "memory". State is lost on restart.
package memory

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"loan-underwriting/internal/domain/loan"
	"loan-underwriting/internal/pkg/apperrors"

	"github.com/google/uuid"
)

type LoanStore struct {
	mu    sync.RWMutex
	loans map[uuid.UUID]*loan.Loan
}

var _ loan.Repository = (*LoanStore)(nil)

func NewLoanStore() *LoanStore {
	return &LoanStore{loans: make(map[uuid.UUID]*loan.Loan)}
}

func (s *LoanStore) FindByID(_ context.Context, loanID uuid.UUID) (*loan.Loan, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.loans[loanID]
	if !ok {
		return nil, apperrors.ErrNotFound
	}
	return l.Clone(), nil
}

func (s *LoanStore) FindByCustomerID(_ context.Context, customerID uuid.UUID) ([]*loan.Loan, error) {
	return s.collect(func(l *loan.Loan) bool { return l.CustomerID == customerID }), nil
}

func (s *LoanStore) FindAll(_ context.Context) ([]*loan.Loan, error) {
	return s.collect(func(*loan.Loan) bool { return true }), nil
}

func (s *LoanStore) FindStalePending(_ context.Context, cutoff time.Time) ([]*loan.Loan, error) {
	stale := s.collect(func(l *loan.Loan) bool {
		return l.IsPending() && l.CreditScore == nil && l.CreatedAt.Before(cutoff)
	})
	slices.Reverse(stale)
	return stale, nil
}

func (s *LoanStore) ExistsPendingForCustomer(_ context.Context, customerID uuid.UUID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.hasPendingLocked(customerID), nil
}

// CreatePending checks and inserts under one write lock, so two applications
// for the same customer can never both observe "no pending loan".
func (s *LoanStore) CreatePending(_ context.Context, l *loan.Loan) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.hasPendingLocked(l.CustomerID) {
		return loan.ErrPendingExists
	}
	if _, exists := s.loans[l.ID]; exists {
		return fmt.Errorf("%w: loan %s", apperrors.ErrAlreadyExists, l.ID)
	}
	s.loans[l.ID] = l.Clone()
	return nil
}

func (s *LoanStore) Finalize(_ context.Context, l *loan.Loan, expectedVersion int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.loans[l.ID]
	if !ok {
		return apperrors.ErrNotFound
	}
	if !stored.IsPending() || stored.Version != expectedVersion {
		return fmt.Errorf("%w: loan %s is no longer pending at version %d", apperrors.ErrConflict, l.ID, expectedVersion)
	}

	l.Version = expectedVersion + 1
	s.loans[l.ID] = l.Clone()
	return nil
}

func (s *LoanStore) hasPendingLocked(customerID uuid.UUID) bool {
	for _, l := range s.loans {
		if l.CustomerID == customerID && l.IsPending() {
			return true
		}
	}
	return false
}

// collect returns matching loans newest first.
func (s *LoanStore) collect(match func(*loan.Loan) bool) []*loan.Loan {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*loan.Loan, 0)
	for _, l := range s.loans {
		if match(l) {
			out = append(out, l.Clone())
		}
	}
	slices.SortFunc(out, func(a, b *loan.Loan) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return strings.Compare(a.ID.String(), b.ID.String())
	})
	return out
}
