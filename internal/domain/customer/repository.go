package customer

import (
	"context"
	"fmt"
	"loan-underwriting/internal/pkg/apperrors"

	"github.com/google/uuid"
)

var ErrNotFound = fmt.Errorf("customer %w", apperrors.ErrNotFound)

// Directory resolves customer profiles. Profiles are owned by the customer
// service; the underwriting engine only reads them.
type Directory interface {
	FindByID(ctx context.Context, customerID uuid.UUID) (*Customer, error)

	FindByUserID(ctx context.Context, userID uuid.UUID) (*Customer, error)
}
