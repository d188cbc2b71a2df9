package event

import (
	"context"
	"fmt"
	"time"

	"loan-underwriting/internal/domain/loan"
	"loan-underwriting/internal/infrastructure/monitoring"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

const (
	RoutingKeyLoanApproved = "loan.approved"
	RoutingKeyLoanRejected = "loan.rejected"
)

type LoanDecidedEvent struct {
	LoanID          uuid.UUID        `json:"loanId"`
	CustomerID      uuid.UUID        `json:"customerId"`
	Status          loan.Status      `json:"status"`
	Amount          decimal.Decimal  `json:"amount"`
	TenorMonths     int              `json:"tenorMonths"`
	InterestRate    *decimal.Decimal `json:"interestRate,omitempty"`
	CreditScore     int              `json:"creditScore"`
	RejectionReason *string          `json:"rejectionReason,omitempty"`
	DecidedAt       time.Time        `json:"decidedAt"`
}

var _ loan.DecisionPublisher = (*RabbitMQEventPublisher)(nil)

func NewLoanDecidedEvent(l *loan.Loan) (LoanDecidedEvent, error) {
	if !l.Status.IsTerminal() {
		return LoanDecidedEvent{}, fmt.Errorf("loan %s is not decided (status %s)", l.ID, l.Status)
	}
	ev := LoanDecidedEvent{
		LoanID:          l.ID,
		CustomerID:      l.CustomerID,
		Status:          l.Status,
		Amount:          l.Amount,
		TenorMonths:     l.TenorMonths,
		RejectionReason: l.RejectionReason,
		DecidedAt:       l.UpdatedAt,
	}
	if l.InterestRate.Valid {
		rate := l.InterestRate.Decimal
		ev.InterestRate = &rate
	}
	if l.CreditScore != nil {
		ev.CreditScore = *l.CreditScore
	}
	return ev, nil
}

func (p *RabbitMQEventPublisher) PublishDecision(ctx context.Context, l *loan.Loan) error {
	ev, err := NewLoanDecidedEvent(l)
	if err != nil {
		return err
	}

	routingKey := RoutingKeyLoanRejected
	if ev.Status == loan.StatusApproved {
		routingKey = RoutingKeyLoanApproved
	}

	if err := p.publish(ctx, routingKey, ev); err != nil {
		return err
	}
	monitoring.RecordDecisionEvent(string(ev.Status))
	return nil
}
