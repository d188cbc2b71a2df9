package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"loan-underwriting/internal/domain/customer"
	"loan-underwriting/internal/infrastructure/monitoring"
	"loan-underwriting/internal/pkg/apperrors"

	"github.com/google/uuid"
)

const customerColumns = `id, user_id, name, email, monthly_income, COALESCE(ktp_path, ''), COALESCE(salary_slip_path, ''), created_at, updated_at`

// CustomerRepository is a read-only view over customer_profiles. Profiles are
// written by the customer service that owns them.
type CustomerRepository struct {
	db     DBPool
	logger *slog.Logger
}

var _ customer.Directory = (*CustomerRepository)(nil)

func NewCustomerRepository(db DBPool, logger *slog.Logger) *CustomerRepository {
	if db == nil {
		panic("DBPool cannot be nil for CustomerRepository")
	}
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))
		logger.Warn("Warning: No logger provided to NewCustomerRepository, using default stderr handler")
	}
	return &CustomerRepository{
		db:     db,
		logger: logger.With("component", "CustomerRepository"),
	}
}

func (r *CustomerRepository) FindByID(ctx context.Context, customerID uuid.UUID) (*customer.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customer_profiles WHERE id = $1`
	return r.findOne(ctx, "FindCustomerByID", query, slog.String("customerID", customerID.String()), customerID)
}

func (r *CustomerRepository) FindByUserID(ctx context.Context, userID uuid.UUID) (*customer.Customer, error) {
	query := `SELECT ` + customerColumns + ` FROM customer_profiles WHERE user_id = $1`
	return r.findOne(ctx, "FindCustomerByUserID", query, slog.String("userID", userID.String()), userID)
}

func (r *CustomerRepository) findOne(ctx context.Context, queryName, query string, key slog.Attr, arg uuid.UUID) (*customer.Customer, error) {
	logCtx := r.logger.With(key)
	logCtx.DebugContext(ctx, "Attempting to find customer profile")
	status := "success"
	startTime := time.Now()

	var c customer.Customer
	err := r.db.QueryRow(ctx, query, arg).Scan(
		&c.ID, &c.UserID, &c.Name, &c.Email, &c.MonthlyIncome,
		&c.KTPPath, &c.SalarySlipPath, &c.CreatedAt, &c.UpdatedAt,
	)

	translated := translateDBError(err, logCtx)
	if translated != nil && !errors.Is(translated, apperrors.ErrNotFound) {
		status = "error"
	}
	monitoring.RecordDBQuery(queryName, status, time.Since(startTime))

	if translated != nil {
		if errors.Is(translated, apperrors.ErrNotFound) {
			logCtx.WarnContext(ctx, "Customer profile not found")
			return nil, customer.ErrNotFound
		}
		return nil, fmt.Errorf("failed to find customer profile: %w", translated)
	}
	return &c, nil
}
