package batch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"loan-underwriting/internal/domain/loan"
	"loan-underwriting/internal/infrastructure/monitoring"
)

// StalePendingJob reports applications whose credit scoring never completed.
// It only observes: it never scores or finalizes a loan, so a stuck
// application still blocks new ones for that customer until an operator acts.
type StalePendingJob struct {
	loanRepo loan.Repository
	after    time.Duration
	now      func() time.Time
	logger   *slog.Logger
}

func NewStalePendingJob(loanRepo loan.Repository, after time.Duration, logger *slog.Logger) *StalePendingJob {
	if loanRepo == nil || logger == nil {
		panic("StalePendingJob dependencies cannot be nil")
	}
	if after <= 0 {
		panic("StalePendingJob threshold must be positive")
	}
	return &StalePendingJob{
		loanRepo: loanRepo,
		after:    after,
		now:      func() time.Time { return time.Now().UTC() },
		logger:   logger.With("job", "StalePendingSweep"),
	}
}

func (j *StalePendingJob) Run(ctx context.Context) error {
	startTime := time.Now()
	cutoff := j.now().Add(-j.after)
	j.logger.InfoContext(ctx, "Starting stale pending application sweep.", slog.Time("cutoff", cutoff))

	stale, err := j.loanRepo.FindStalePending(ctx, cutoff)
	if err != nil {
		j.logger.ErrorContext(ctx, "Failed to list stale pending loans, aborting job.", slog.Any("error", err))
		return fmt.Errorf("cannot run job, failed to list stale pending loans: %w", err)
	}
	monitoring.SetStalePending(len(stale))

	for _, l := range stale {
		j.logger.WarnContext(ctx, "Loan application stuck in PENDING without a credit score.",
			slog.String("loanID", l.ID.String()),
			slog.String("customerID", l.CustomerID.String()),
			slog.Duration("age", j.now().Sub(l.CreatedAt)),
		)
	}

	summaryLog := j.logger.With(
		slog.Duration("duration", time.Since(startTime)),
		slog.Int("stale_pending_loans", len(stale)),
	)
	if len(stale) > 0 {
		summaryLog.WarnContext(ctx, "Stale pending application sweep finished with stuck applications.")
	} else {
		summaryLog.InfoContext(ctx, "Stale pending application sweep finished successfully.")
	}
	return nil
}
