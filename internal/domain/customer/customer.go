package customer

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

type Customer struct {
	ID             uuid.UUID       `json:"id"`
	UserID         uuid.UUID       `json:"userId"`
	Name           string          `json:"name"`
	Email          string          `json:"email"`
	MonthlyIncome  decimal.Decimal `json:"monthlyIncome"`
	KTPPath        string          `json:"-"`
	SalarySlipPath string          `json:"-"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

func (c *Customer) HasKTP() bool {
	return c.KTPPath != ""
}

func (c *Customer) HasSalarySlip() bool {
	return c.SalarySlipPath != ""
}

func (c *Customer) HasAllRequiredDocuments() bool {
	return c.HasKTP() && c.HasSalarySlip()
}
