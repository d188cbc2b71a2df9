package postgres

import (
	"context"
	"errors"
	"fmt"
	"loan-underwriting/internal/domain/loan"
	"loan-underwriting/internal/infrastructure/monitoring"
	"loan-underwriting/internal/pkg/apperrors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pashagolub/pgxmock/v4"
)

type DBPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
	Close()
}

type LoanRepository struct {
	db     DBPool
	logger *slog.Logger
}

var _ DBPool = (*pgxpool.Pool)(nil)

var _ DBPool = (pgxmock.PgxPoolIface)(nil)

var _ loan.Repository = (*LoanRepository)(nil)

var errMsgFormat = "%w: %w"

const loanColumns = `id, customer_id, amount, tenor_months, status, interest_rate, credit_score, rejection_reason, version, created_at, updated_at`

const pgUniqueViolation = "23505"

func NewLoanRepository(db DBPool, logger *slog.Logger) *LoanRepository {
	return &LoanRepository{db: db, logger: logger.With("component", "LoanRepository")}
}

func (r *LoanRepository) BeginTx(ctx context.Context) (pgx.Tx, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to begin transaction", "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return tx, nil
}

func (r *LoanRepository) CommitTx(ctx context.Context, tx pgx.Tx) error {
	err := tx.Commit(ctx)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to commit transaction", "error", err)
		return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return nil
}

func (r *LoanRepository) RollbackTx(ctx context.Context, tx pgx.Tx) error {
	err := tx.Rollback(ctx)
	if err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		r.logger.ErrorContext(ctx, "Failed to rollback transaction", "error", err)
		return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return nil
}

func (r *LoanRepository) Ping(ctx context.Context) error {
	return r.db.Ping(ctx)
}

func (r *LoanRepository) FindByID(ctx context.Context, loanID uuid.UUID) (*loan.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE id = $1`
	status := "success"
	startTime := time.Now()

	l, err := scanLoan(r.db.QueryRow(ctx, query, loanID))
	if err != nil && !errors.Is(err, pgx.ErrNoRows) {
		status = "error"
	}
	monitoring.RecordDBQuery("FindLoanByID", status, time.Since(startTime))

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			r.logger.WarnContext(ctx, "Loan not found", "loan_id", loanID)
			return nil, apperrors.ErrNotFound
		}
		r.logger.ErrorContext(ctx, "Failed to get loan by ID", "loan_id", loanID, "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return l, nil
}

func (r *LoanRepository) FindByCustomerID(ctx context.Context, customerID uuid.UUID) ([]*loan.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans WHERE customer_id = $1 ORDER BY created_at DESC`
	return r.queryLoans(ctx, "FindLoansByCustomerID", query, customerID)
}

func (r *LoanRepository) FindAll(ctx context.Context) ([]*loan.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans ORDER BY created_at DESC`
	return r.queryLoans(ctx, "FindAllLoans", query)
}

func (r *LoanRepository) FindStalePending(ctx context.Context, cutoff time.Time) ([]*loan.Loan, error) {
	query := `SELECT ` + loanColumns + ` FROM loans
        WHERE status = $1 AND credit_score IS NULL AND created_at < $2
        ORDER BY created_at ASC`
	return r.queryLoans(ctx, "FindStalePendingLoans", query, loan.StatusPending, cutoff)
}

func (r *LoanRepository) ExistsPendingForCustomer(ctx context.Context, customerID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM loans WHERE customer_id = $1 AND status = $2)`
	status := "success"
	startTime := time.Now()

	var exists bool
	err := r.db.QueryRow(ctx, query, customerID, loan.StatusPending).Scan(&exists)
	if err != nil {
		status = "error"
	}
	monitoring.RecordDBQuery("ExistsPendingLoan", status, time.Since(startTime))

	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to check pending loans", "customer_id", customerID, "error", err)
		return false, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return exists, nil
}

// CreatePending serialises applications per customer by locking the profile
// row, re-checks for a PENDING loan and inserts inside the same transaction.
// The partial unique index on loans(customer_id) WHERE status = 'PENDING'
// backs this up; a violation is reported as apperrors.ErrConflict.
func (r *LoanRepository) CreatePending(ctx context.Context, l *loan.Loan) error {
	logCtx := r.logger.With(slog.String("operation", "CreatePending"), slog.String("loanID", l.ID.String()))
	startTime := time.Now()
	status := "success"
	defer func() {
		monitoring.RecordDBQuery("CreatePendingLoan", status, time.Since(startTime))
	}()

	tx, err := r.BeginTx(ctx)
	if err != nil {
		status = "error"
		return err
	}
	defer r.RollbackTx(ctx, tx)

	var lockedID uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM customer_profiles WHERE id = $1 FOR UPDATE`, l.CustomerID).Scan(&lockedID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			status = "not_found"
			logCtx.WarnContext(ctx, "Customer profile vanished before loan insert", "customer_id", l.CustomerID)
			return fmt.Errorf("%w: customer %s", apperrors.ErrNotFound, l.CustomerID)
		}
		status = "error"
		logCtx.ErrorContext(ctx, "Failed to lock customer profile", "error", err)
		return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}

	var pending bool
	err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM loans WHERE customer_id = $1 AND status = $2)`,
		l.CustomerID, loan.StatusPending).Scan(&pending)
	if err != nil {
		status = "error"
		logCtx.ErrorContext(ctx, "Failed to re-check pending loans", "error", err)
		return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	if pending {
		status = "rejected"
		logCtx.WarnContext(ctx, "Pending loan found inside create transaction")
		return loan.ErrPendingExists
	}

	insertSQL := `
        INSERT INTO loans (` + loanColumns + `)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`

	_, err = tx.Exec(ctx, insertSQL,
		l.ID, l.CustomerID, l.Amount, l.TenorMonths, l.Status,
		l.InterestRate, l.CreditScore, l.RejectionReason, l.Version, l.CreatedAt, l.UpdatedAt,
	)
	if err != nil {
		status = "error"
		if isUniqueViolation(err) {
			logCtx.WarnContext(ctx, "Pending loan unique index violated", "customer_id", l.CustomerID)
			return fmt.Errorf("%w: pending application for customer %s was created concurrently", apperrors.ErrConflict, l.CustomerID)
		}
		logCtx.ErrorContext(ctx, "Failed to insert loan", "error", err)
		return fmt.Errorf("%w: failed to insert loan: %w", apperrors.ErrDatabase, err)
	}

	if err := r.CommitTx(ctx, tx); err != nil {
		status = "error"
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: pending application for customer %s was created concurrently", apperrors.ErrConflict, l.CustomerID)
		}
		return err
	}

	logCtx.InfoContext(ctx, "Pending loan created in DB", "customer_id", l.CustomerID)
	return nil
}

func (r *LoanRepository) Finalize(ctx context.Context, l *loan.Loan, expectedVersion int) error {
	query := `
        UPDATE loans
        SET status = $1, interest_rate = $2, credit_score = $3, rejection_reason = $4,
            version = version + 1, updated_at = $5
        WHERE id = $6 AND status = $7 AND version = $8`
	status := "success"
	startTime := time.Now()

	cmdTag, err := r.db.Exec(ctx, query,
		l.Status, l.InterestRate, l.CreditScore, l.RejectionReason, l.UpdatedAt,
		l.ID, loan.StatusPending, expectedVersion,
	)
	if err != nil {
		status = "error"
	}
	monitoring.RecordDBQuery("FinalizeLoan", status, time.Since(startTime))

	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to finalize loan", "loan_id", l.ID, "error", err)
		return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	if cmdTag.RowsAffected() == 0 {
		r.logger.WarnContext(ctx, "Finalize matched no pending row at expected version", "loan_id", l.ID, "expected_version", expectedVersion)
		return fmt.Errorf("%w: loan %s is no longer pending at version %d", apperrors.ErrConflict, l.ID, expectedVersion)
	}

	l.Version = expectedVersion + 1
	r.logger.InfoContext(ctx, "Loan finalized in DB", "loan_id", l.ID, "status", l.Status)
	return nil
}

func (r *LoanRepository) queryLoans(ctx context.Context, queryName, query string, args ...any) ([]*loan.Loan, error) {
	status := "success"
	startTime := time.Now()
	defer func() {
		monitoring.RecordDBQuery(queryName, status, time.Since(startTime))
	}()

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		status = "error"
		r.logger.ErrorContext(ctx, "Failed to query loans", "query", queryName, "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	defer rows.Close()

	loans := make([]*loan.Loan, 0)
	for rows.Next() {
		l, err := scanLoan(rows)
		if err != nil {
			status = "error"
			r.logger.ErrorContext(ctx, "Failed to scan loan row", "query", queryName, "error", err)
			return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
		}
		loans = append(loans, l)
	}
	if err := rows.Err(); err != nil {
		status = "error"
		r.logger.ErrorContext(ctx, "Error iterating loan rows", "query", queryName, "error", err)
		return nil, fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
	}
	return loans, nil
}

func scanLoan(row pgx.Row) (*loan.Loan, error) {
	var l loan.Loan
	err := row.Scan(
		&l.ID, &l.CustomerID, &l.Amount, &l.TenorMonths, &l.Status,
		&l.InterestRate, &l.CreditScore, &l.RejectionReason, &l.Version,
		&l.CreatedAt, &l.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}

func translateDBError(err error, contextLogger *slog.Logger) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return apperrors.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == pgUniqueViolation {
			contextLogger.Warn("Database unique constraint violation", "detail", pgErr.Detail, "constraint", pgErr.ConstraintName)
			return fmt.Errorf("%w: %s", apperrors.ErrAlreadyExists, pgErr.ConstraintName)
		}

		contextLogger.Error("PostgreSQL specific error", "code", pgErr.Code, "message", pgErr.Message, "detail", pgErr.Detail)
		return fmt.Errorf("%w: db error code %s", apperrors.ErrDatabase, pgErr.Code)
	}

	contextLogger.Error("Generic database error", "error", err)
	return fmt.Errorf(errMsgFormat, apperrors.ErrDatabase, err)
}
