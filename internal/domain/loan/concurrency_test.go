package loan_test

import (
	"context"
	"errors"
	"io"
	"loan-underwriting/internal/domain/customer"
	"loan-underwriting/internal/domain/loan"
	"loan-underwriting/internal/infrastructure/database/memory"
	"loan-underwriting/internal/pkg/apperrors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type slowScorer struct {
	score int
	delay time.Duration
	calls atomic.Int32
}

func (s *slowScorer) Score(ctx context.Context, _ uuid.UUID) (int, error) {
	s.calls.Add(1)
	select {
	case <-time.After(s.delay):
		return s.score, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// gatedScorer holds every Score call until release is closed.
type gatedScorer struct {
	score   int
	release chan struct{}
	calls   atomic.Int32
}

func (g *gatedScorer) Score(ctx context.Context, _ uuid.UUID) (int, error) {
	g.calls.Add(1)
	select {
	case <-g.release:
		return g.score, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

type failingScorer struct{}

func (failingScorer) Score(context.Context, uuid.UUID) (int, error) {
	return 0, errors.New("score service unreachable")
}

func seededEngine(t *testing.T, scorer loan.CreditScorer) (loan.UnderwritingService, *memory.LoanStore, *customer.Customer) {
	t.Helper()
	directory := memory.NewCustomerStore()
	cust := &customer.Customer{
		ID:             uuid.New(),
		UserID:         uuid.New(),
		Name:           "Rina Kusuma",
		Email:          "rina@example.com",
		MonthlyIncome:  decimal.NewFromInt(9_000_000),
		KTPPath:        "/docs/rina-ktp.png",
		SalarySlipPath: "/docs/rina-slip.pdf",
	}
	require.NoError(t, directory.Put(cust))

	ledger := memory.NewLoanStore()
	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	return loan.NewUnderwritingService(ledger, directory, scorer, quiet), ledger, cust
}

func TestApply_ConcurrentApplicationsLeaveNoPendingLoan(t *testing.T) {
	scorer := &slowScorer{score: 720, delay: 20 * time.Millisecond}
	engine, ledger, cust := seededEngine(t, scorer)
	ctx := context.Background()

	const applicants = 16
	var (
		wg       sync.WaitGroup
		accepted atomic.Int32
		refused  atomic.Int32
	)
	start := make(chan struct{})
	for i := 0; i < applicants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := engine.Apply(ctx, cust.ID, decimal.NewFromInt(10_000_000), 12)
			switch {
			case err == nil:
				accepted.Add(1)
			case errors.Is(err, apperrors.ErrBusinessRule), errors.Is(err, apperrors.ErrConflict):
				refused.Add(1)
			}
		}()
	}
	close(start)
	wg.Wait()

	loans, err := ledger.FindByCustomerID(ctx, cust.ID)
	require.NoError(t, err)

	stillPending := 0
	for _, l := range loans {
		if l.IsPending() {
			stillPending++
		}
	}
	assert.Zero(t, stillPending, "no loan should be left pending after successful scoring")
	assert.GreaterOrEqual(t, int(accepted.Load()), 1)
	assert.Equal(t, int32(applicants), accepted.Load()+refused.Load())
	assert.Equal(t, int(accepted.Load()), len(loans))
	assert.Equal(t, accepted.Load(), scorer.calls.Load())
}

func TestApply_ConcurrentApplicationsAdmitExactlyOne(t *testing.T) {
	scorer := &gatedScorer{score: 720, release: make(chan struct{})}
	engine, ledger, cust := seededEngine(t, scorer)
	ctx := context.Background()

	const applicants = 16
	var (
		wg      sync.WaitGroup
		refused atomic.Int32
		other   atomic.Int32
	)
	results := make(chan *loan.Loan, applicants)
	start := make(chan struct{})
	for i := 0; i < applicants; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			l, err := engine.Apply(ctx, cust.ID, decimal.NewFromInt(10_000_000), 12)
			switch {
			case err == nil:
				results <- l
			case errors.Is(err, loan.ErrPendingExists), errors.Is(err, apperrors.ErrConflict):
				refused.Add(1)
			default:
				other.Add(1)
			}
		}()
	}
	close(start)

	// The admitted application is parked in scoring while it is PENDING, so
	// every other applicant has to be refused before it can finish.
	require.Eventually(t, func() bool {
		return refused.Load()+other.Load() == applicants-1
	}, 5*time.Second, 5*time.Millisecond)

	pending, err := ledger.FindByCustomerID(ctx, cust.ID)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, loan.StatusPending, pending[0].Status)

	close(scorer.release)
	wg.Wait()
	close(results)

	assert.Zero(t, other.Load())
	assert.Equal(t, int32(applicants-1), refused.Load())
	assert.Equal(t, int32(1), scorer.calls.Load())

	var admitted []*loan.Loan
	for l := range results {
		admitted = append(admitted, l)
	}
	require.Len(t, admitted, 1)
	assert.Equal(t, loan.StatusApproved, admitted[0].Status)

	loans, err := ledger.FindByCustomerID(ctx, cust.ID)
	require.NoError(t, err)
	require.Len(t, loans, 1)
	assert.Equal(t, admitted[0].ID, loans[0].ID)
	assert.Equal(t, loan.StatusApproved, loans[0].Status)
}

func TestApply_NewApplicationAllowedOnceEarlierOneIsDecided(t *testing.T) {
	scorer := &slowScorer{score: 720}
	engine, ledger, cust := seededEngine(t, scorer)
	ctx := context.Background()

	first, err := engine.Apply(ctx, cust.ID, decimal.NewFromInt(10_000_000), 12)
	require.NoError(t, err)
	assert.Equal(t, loan.StatusApproved, first.Status)

	scorer.score = 550
	second, err := engine.Apply(ctx, cust.ID, decimal.NewFromInt(5_000_000), 6)
	require.NoError(t, err)
	assert.Equal(t, loan.StatusRejected, second.Status)
	assert.NotEqual(t, first.ID, second.ID)

	loans, err := ledger.FindByCustomerID(ctx, cust.ID)
	require.NoError(t, err)
	require.Len(t, loans, 2)
	for _, l := range loans {
		assert.True(t, l.Status.IsTerminal(), "loan %s left in %s", l.ID, l.Status)
	}
}

func TestApply_OverlappingApplicationsRefusedWhilePending(t *testing.T) {
	engine, ledger, cust := seededEngine(t, failingScorer{})
	ctx := context.Background()

	first, err := engine.Apply(ctx, cust.ID, decimal.NewFromInt(10_000_000), 12)
	require.ErrorIs(t, err, apperrors.ErrExternalService)
	require.NotNil(t, first)
	assert.Equal(t, loan.StatusPending, first.Status)

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, errs[i] = engine.Apply(ctx, cust.ID, decimal.NewFromInt(1_000_000), 6)
		}()
	}
	wg.Wait()

	for _, err := range errs {
		assert.ErrorIs(t, err, loan.ErrPendingExists)
	}
	loans, _ := ledger.FindByCustomerID(ctx, cust.ID)
	assert.Len(t, loans, 1)
}
