package loan

import (
	"context"
	"time"

	"github.com/google/uuid"
)

type Repository interface {
	FindByID(ctx context.Context, loanID uuid.UUID) (*Loan, error)

	FindByCustomerID(ctx context.Context, customerID uuid.UUID) ([]*Loan, error)

	FindAll(ctx context.Context) ([]*Loan, error)

	ExistsPendingForCustomer(ctx context.Context, customerID uuid.UUID) (bool, error)

	// CreatePending re-checks pending exclusivity and inserts the loan as one
	// atomic unit scoped to the customer. It returns ErrPendingExists when a
	// PENDING loan is found and apperrors.ErrConflict when a concurrent insert
	// wins the race at commit time.
	CreatePending(ctx context.Context, l *Loan) error

	// Finalize persists a terminal status. The update only applies when the
	// stored row is still PENDING at expectedVersion; otherwise it returns
	// apperrors.ErrConflict. On success l.Version is advanced.
	Finalize(ctx context.Context, l *Loan, expectedVersion int) error

	// FindStalePending lists PENDING loans without a credit score created before cutoff.
	FindStalePending(ctx context.Context, cutoff time.Time) ([]*Loan, error)
}

// ListCache holds the admin-wide loan listing. Implementations must treat
// every error as a cache miss from the caller's point of view.
type ListCache interface {
	GetAll(ctx context.Context) ([]*Loan, bool, error)

	SetAll(ctx context.Context, loans []*Loan) error

	Invalidate(ctx context.Context) error
}

// DecisionPublisher announces finalized applications to downstream consumers.
type DecisionPublisher interface {
	PublishDecision(ctx context.Context, l *Loan) error
}

// CreditScorer is the external scoring dependency.
type CreditScorer interface {
	Score(ctx context.Context, customerID uuid.UUID) (int, error)
}
