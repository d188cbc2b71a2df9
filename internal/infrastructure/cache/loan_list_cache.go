package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"loan-underwriting/internal/domain/loan"
	"loan-underwriting/internal/infrastructure/monitoring"

	"github.com/redis/go-redis/v9"
)

const (
	allLoansKey     = "underwriting:loans:all"
	defaultCacheTTL = 5 * time.Minute
)

// LoanListCache keeps the admin-wide loan listing in Redis as one JSON blob.
// Writes that change any loan invalidate the whole key.
type LoanListCache struct {
	client redis.Cmdable
	ttl    time.Duration
	logger *slog.Logger
}

var _ loan.ListCache = (*LoanListCache)(nil)

func NewLoanListCache(client redis.Cmdable, ttl time.Duration, logger *slog.Logger) *LoanListCache {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &LoanListCache{client: client, ttl: ttl, logger: logger.With("component", "LoanListCache")}
}

func (c *LoanListCache) GetAll(ctx context.Context) ([]*loan.Loan, bool, error) {
	raw, err := c.client.Get(ctx, allLoansKey).Bytes()
	if errors.Is(err, redis.Nil) {
		monitoring.RecordListCacheLookup("miss")
		return nil, false, nil
	}
	if err != nil {
		monitoring.RecordListCacheLookup("error")
		return nil, false, fmt.Errorf("redis get %s: %w", allLoansKey, err)
	}

	var loans []*loan.Loan
	if err := json.Unmarshal(raw, &loans); err != nil {
		monitoring.RecordListCacheLookup("error")
		c.logger.WarnContext(ctx, "Dropping undecodable loan list cache entry", "error", err)
		_ = c.client.Del(ctx, allLoansKey).Err()
		return nil, false, fmt.Errorf("decode cached loans: %w", err)
	}
	monitoring.RecordListCacheLookup("hit")
	return loans, true, nil
}

func (c *LoanListCache) SetAll(ctx context.Context, loans []*loan.Loan) error {
	raw, err := json.Marshal(loans)
	if err != nil {
		return fmt.Errorf("encode loans for cache: %w", err)
	}
	if err := c.client.Set(ctx, allLoansKey, raw, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", allLoansKey, err)
	}
	return nil
}

func (c *LoanListCache) Invalidate(ctx context.Context) error {
	if err := c.client.Del(ctx, allLoansKey).Err(); err != nil {
		return fmt.Errorf("redis del %s: %w", allLoansKey, err)
	}
	return nil
}
