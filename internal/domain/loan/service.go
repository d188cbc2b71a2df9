package loan

import (
	"context"
	"errors"
	"fmt"
	"loan-underwriting/internal/domain/customer"
	"loan-underwriting/internal/domain/identity"
	"loan-underwriting/internal/infrastructure/monitoring"
	"loan-underwriting/internal/pkg/apperrors"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/singleflight"
)

var (
	ErrMissingKTP = apperrors.NewBusinessRuleError("missing KTP")

	ErrMissingSalarySlip = apperrors.NewBusinessRuleError("missing salary slip")

	ErrPendingExists = apperrors.NewBusinessRuleError("pending application exists")

	ErrNotOwner = apperrors.NewBusinessRuleError("not your loan")
)

const (
	outcomeApproved      = "approved"
	outcomeRejected      = "rejected"
	outcomeInvalid       = "invalid"
	outcomeRuleViolation = "rule_violation"
	outcomeConflict      = "conflict"
	outcomeScoringFailed = "scoring_failed"
	outcomeError         = "error"

	listAllFlightKey = "loans:all"
)

type UnderwritingService interface {
	// Apply runs one application through the gates, persists it as PENDING,
	// scores it and persists the terminal state. On a scoring failure the
	// still-PENDING loan is returned together with an ErrExternalService error.
	Apply(ctx context.Context, customerID uuid.UUID, amount decimal.Decimal, tenorMonths int) (*Loan, error)

	ApplyForCaller(ctx context.Context, caller identity.Identity, amount decimal.Decimal, tenorMonths int) (*Loan, error)

	GetByID(ctx context.Context, loanID uuid.UUID, caller identity.Identity) (*Loan, error)

	ListMine(ctx context.Context, caller identity.Identity) ([]*Loan, error)

	ListAll(ctx context.Context, caller identity.Identity) ([]*Loan, error)
}

var _ UnderwritingService = (*underwritingService)(nil)

type underwritingService struct {
	repo      Repository
	directory customer.Directory
	scorer    CreditScorer
	cache     ListCache
	publisher DecisionPublisher
	group     singleflight.Group
	now       func() time.Time
	logger    *slog.Logger

	// cacheGen advances on every invalidation. A list load only populates
	// the cache when no invalidation happened while it was running.
	cacheGen atomic.Uint64
	cacheMu  sync.Mutex
}

type Option func(*underwritingService)

func WithListCache(c ListCache) Option {
	return func(s *underwritingService) {
		if c != nil {
			s.cache = c
		}
	}
}

func WithDecisionPublisher(p DecisionPublisher) Option {
	return func(s *underwritingService) {
		if p != nil {
			s.publisher = p
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *underwritingService) {
		if now != nil {
			s.now = now
		}
	}
}

func NewUnderwritingService(repo Repository, directory customer.Directory, scorer CreditScorer, logger *slog.Logger, opts ...Option) UnderwritingService {
	if repo == nil || directory == nil || scorer == nil {
		panic("underwriting service dependencies cannot be nil")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		logger.Warn("Warning: No logger provided to NewUnderwritingService, using default stderr handler")
	}

	s := &underwritingService{
		repo:      repo,
		directory: directory,
		scorer:    scorer,
		cache:     noopCache{},
		publisher: noopPublisher{},
		now:       func() time.Time { return time.Now().UTC() },
		logger:    logger.With(slog.String("component", "underwritingService")),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *underwritingService) Apply(ctx context.Context, customerID uuid.UUID, amount decimal.Decimal, tenorMonths int) (*Loan, error) {
	logger := s.logger.With(slog.String("customerID", customerID.String()))
	logger.InfoContext(ctx, "Processing loan application", slog.String("amount", amount.String()), slog.Int("tenorMonths", tenorMonths))

	if err := validateApplication(amount, tenorMonths); err != nil {
		logger.WarnContext(ctx, "Loan application rejected by input validation", slog.Any("error", err))
		monitoring.RecordApplication(outcomeInvalid)
		return nil, err
	}

	cust, err := s.directory.FindByID(ctx, customerID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			logger.WarnContext(ctx, "Customer not found for loan application")
			monitoring.RecordApplication(outcomeInvalid)
			return nil, fmt.Errorf("%w: customer %s not found", apperrors.ErrNotFound, customerID)
		}
		logger.ErrorContext(ctx, "Failed to look up customer", slog.Any("error", err))
		monitoring.RecordApplication(outcomeError)
		return nil, fmt.Errorf("%w: failed to look up customer %s: %v", apperrors.ErrInternalServer, customerID, err)
	}

	if err := checkDocuments(cust); err != nil {
		logger.WarnContext(ctx, "Document validation failed", slog.Any("error", err))
		monitoring.RecordApplication(outcomeRuleViolation)
		return nil, err
	}
	logger.DebugContext(ctx, "Document validation passed")

	pending, err := s.repo.ExistsPendingForCustomer(ctx, customerID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to check for pending loans", slog.Any("error", err))
		monitoring.RecordApplication(outcomeError)
		return nil, fmt.Errorf("%w: failed to check pending loans: %v", apperrors.ErrInternalServer, err)
	}
	if pending {
		logger.WarnContext(ctx, "Customer already has a pending loan application")
		monitoring.RecordApplication(outcomeRuleViolation)
		return nil, ErrPendingExists
	}
	logger.DebugContext(ctx, "No pending loan check passed")

	if err := checkDebtToIncome(amount, cust.MonthlyIncome); err != nil {
		logger.WarnContext(ctx, "Debt to income check failed", slog.Any("error", err))
		monitoring.RecordApplication(outcomeRuleViolation)
		return nil, err
	}
	logger.DebugContext(ctx, "Debt to income ratio check passed")

	l, err := NewApplication(customerID, amount, tenorMonths, s.now())
	if err != nil {
		monitoring.RecordApplication(outcomeInvalid)
		return nil, err
	}

	if err := s.repo.CreatePending(ctx, l); err != nil {
		switch {
		case errors.Is(err, ErrPendingExists):
			logger.WarnContext(ctx, "Pending loan detected while creating application")
			monitoring.RecordApplication(outcomeRuleViolation)
			return nil, ErrPendingExists
		case errors.Is(err, apperrors.ErrConflict):
			logger.WarnContext(ctx, "Concurrent application for customer detected at commit", slog.Any("error", err))
			monitoring.RecordApplication(outcomeConflict)
			return nil, err
		default:
			logger.ErrorContext(ctx, "Failed to persist pending loan", slog.Any("error", err))
			monitoring.RecordApplication(outcomeError)
			return nil, fmt.Errorf("%w: failed to save loan application: %v", apperrors.ErrInternalServer, err)
		}
	}
	logger = logger.With(slog.String("loanID", l.ID.String()))
	logger.InfoContext(ctx, "Pending loan application persisted")
	s.invalidateCache(ctx)

	score, err := s.scorer.Score(ctx, customerID)
	if err != nil {
		logger.ErrorContext(ctx, "Credit score service failed, loan left pending", slog.Any("error", err))
		monitoring.RecordApplication(outcomeScoringFailed)
		return l, fmt.Errorf("%w: credit score unavailable for loan %s: %v", apperrors.ErrExternalService, l.ID, err)
	}
	logger.InfoContext(ctx, "Credit score received", slog.Int("creditScore", score))

	finalized := l.Clone()
	decision := Classify(score)
	if decision.Approved {
		err = finalized.Approve(decision.InterestRate, score, s.now())
	} else {
		err = finalized.Reject(decision.Reason, score, s.now())
	}
	if err != nil {
		monitoring.RecordApplication(outcomeError)
		return nil, fmt.Errorf("%w: %v", apperrors.ErrInternalServer, err)
	}

	if err := s.repo.Finalize(ctx, finalized, l.Version); err != nil {
		if errors.Is(err, apperrors.ErrConflict) {
			logger.WarnContext(ctx, "Loan was modified concurrently, decision not applied", slog.Any("error", err))
			monitoring.RecordApplication(outcomeConflict)
			return nil, err
		}
		logger.ErrorContext(ctx, "Failed to persist loan decision", slog.Any("error", err))
		monitoring.RecordApplication(outcomeError)
		return nil, fmt.Errorf("%w: failed to finalize loan %s: %v", apperrors.ErrInternalServer, l.ID, err)
	}
	s.invalidateCache(ctx)

	outcome := outcomeRejected
	if finalized.Status == StatusApproved {
		outcome = outcomeApproved
	}
	monitoring.RecordApplication(outcome)
	logger.InfoContext(ctx, "Loan application decided",
		slog.String("status", string(finalized.Status)),
		slog.Int("creditScore", score),
		slog.String("interestRate", finalized.InterestRate.Decimal.String()),
	)

	if err := s.publisher.PublishDecision(ctx, finalized); err != nil {
		logger.ErrorContext(ctx, "Loan decided, but FAILED to publish decision event", slog.Any("error", err))
	}

	return finalized, nil
}

func (s *underwritingService) ApplyForCaller(ctx context.Context, caller identity.Identity, amount decimal.Decimal, tenorMonths int) (*Loan, error) {
	if !caller.IsCustomer() {
		s.logger.WarnContext(ctx, "Non-customer attempted to apply for a loan", slog.String("role", string(caller.Role)))
		return nil, fmt.Errorf("%w: only customers can apply for loans", apperrors.ErrForbidden)
	}

	cust, err := s.directory.FindByUserID(ctx, caller.UserID)
	if err != nil {
		return nil, s.profileLookupError(ctx, caller, err)
	}
	return s.Apply(ctx, cust.ID, amount, tenorMonths)
}

func (s *underwritingService) GetByID(ctx context.Context, loanID uuid.UUID, caller identity.Identity) (*Loan, error) {
	logger := s.logger.With(slog.String("loanID", loanID.String()))
	logger.DebugContext(ctx, "Getting loan details")

	l, err := s.repo.FindByID(ctx, loanID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			logger.WarnContext(ctx, "Loan not found")
			return nil, fmt.Errorf("%w: loan with ID %s not found", apperrors.ErrNotFound, loanID)
		}
		logger.ErrorContext(ctx, "Failed to get loan", slog.Any("error", err))
		return nil, fmt.Errorf("%w: failed to get loan %s: %v", apperrors.ErrInternalServer, loanID, err)
	}

	if caller.IsAdmin() {
		return l, nil
	}

	cust, err := s.directory.FindByUserID(ctx, caller.UserID)
	if err != nil {
		if errors.Is(err, apperrors.ErrNotFound) {
			logger.WarnContext(ctx, "Caller has no customer profile, denying loan access", slog.String("userID", caller.UserID.String()))
			return nil, ErrNotOwner
		}
		return nil, s.profileLookupError(ctx, caller, err)
	}
	if cust.ID != l.CustomerID {
		logger.WarnContext(ctx, "Caller attempted to view another customer's loan", slog.String("userID", caller.UserID.String()))
		return nil, ErrNotOwner
	}
	return l, nil
}

func (s *underwritingService) ListMine(ctx context.Context, caller identity.Identity) ([]*Loan, error) {
	cust, err := s.directory.FindByUserID(ctx, caller.UserID)
	if err != nil {
		return nil, s.profileLookupError(ctx, caller, err)
	}

	loans, err := s.repo.FindByCustomerID(ctx, cust.ID)
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list customer loans", slog.String("customerID", cust.ID.String()), slog.Any("error", err))
		return nil, fmt.Errorf("%w: failed to list loans: %v", apperrors.ErrInternalServer, err)
	}
	return loans, nil
}

func (s *underwritingService) ListAll(ctx context.Context, caller identity.Identity) ([]*Loan, error) {
	if !caller.IsAdmin() {
		s.logger.WarnContext(ctx, "Non-admin attempted to list all loans", slog.String("userID", caller.UserID.String()))
		return nil, fmt.Errorf("%w: listing all loans requires the admin role", apperrors.ErrForbidden)
	}

	if loans, ok, err := s.cache.GetAll(ctx); err != nil {
		s.logger.WarnContext(ctx, "Loan list cache read failed, falling back to repository", slog.Any("error", err))
	} else if ok {
		return loans, nil
	}

	// The shared load must not inherit one caller's cancellation: every
	// waiter on the flight gets its result.
	loadCtx := context.WithoutCancel(ctx)
	v, err, _ := s.group.Do(listAllFlightKey, func() (interface{}, error) {
		gen := s.cacheGen.Load()
		loans, err := s.repo.FindAll(loadCtx)
		if err != nil {
			return nil, err
		}
		s.populateCache(loadCtx, gen, loans)
		return loans, nil
	})
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to list all loans", slog.Any("error", err))
		return nil, fmt.Errorf("%w: failed to list loans: %v", apperrors.ErrInternalServer, err)
	}
	return v.([]*Loan), nil
}

func (s *underwritingService) invalidateCache(ctx context.Context) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	s.cacheGen.Add(1)
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.WarnContext(ctx, "Failed to invalidate loan list cache", slog.Any("error", err))
	}
}

// populateCache stores a loaded list unless the ledger was written after the
// load started, in which case the list may already be stale.
func (s *underwritingService) populateCache(ctx context.Context, loadedAt uint64, loans []*Loan) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	if s.cacheGen.Load() != loadedAt {
		s.logger.DebugContext(ctx, "Loan list changed during load, not caching it")
		return
	}
	if err := s.cache.SetAll(ctx, loans); err != nil {
		s.logger.WarnContext(ctx, "Failed to populate loan list cache", slog.Any("error", err))
	}
}

func (s *underwritingService) profileLookupError(ctx context.Context, caller identity.Identity, err error) error {
	if errors.Is(err, apperrors.ErrNotFound) {
		s.logger.WarnContext(ctx, "Customer profile not found for user", slog.String("userID", caller.UserID.String()))
		return fmt.Errorf("%w: customer profile not found for user %s", apperrors.ErrNotFound, caller.UserID)
	}
	s.logger.ErrorContext(ctx, "Failed to look up customer profile", slog.Any("error", err))
	return fmt.Errorf("%w: failed to look up customer profile: %v", apperrors.ErrInternalServer, err)
}

func validateApplication(amount decimal.Decimal, tenorMonths int) error {
	if err := ValidateAmount(amount); err != nil {
		return err
	}
	if tenorMonths < 1 {
		return apperrors.NewValidationError("tenorMonths", "must be at least 1 month")
	}
	return nil
}

func checkDocuments(c *customer.Customer) error {
	if !c.HasKTP() {
		return ErrMissingKTP
	}
	if !c.HasSalarySlip() {
		return ErrMissingSalarySlip
	}
	return nil
}

type noopCache struct{}

func (noopCache) GetAll(context.Context) ([]*Loan, bool, error) { return nil, false, nil }
func (noopCache) SetAll(context.Context, []*Loan) error         { return nil }
func (noopCache) Invalidate(context.Context) error              { return nil }

type noopPublisher struct{}

func (noopPublisher) PublishDecision(context.Context, *Loan) error { return nil }
