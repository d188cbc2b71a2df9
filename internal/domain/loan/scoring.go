package loan

import "github.com/shopspring/decimal"

const (
	excellentScoreThreshold = 700
	goodScoreThreshold      = 600

	RejectionReasonLowScore = "Credit score too low"
)

var (
	ExcellentInterestRate = decimal.RequireFromString("10.0")
	GoodInterestRate      = decimal.RequireFromString("15.0")
)

// Decision is the outcome of classifying a credit score.
type Decision struct {
	Approved     bool
	InterestRate decimal.Decimal
	Reason       string
}

// Classify maps a credit score onto a decision:
//
//	score >= 700       approved at 10%
//	600 <= score < 700 approved at 15%
//	score < 600        rejected
func Classify(score int) Decision {
	switch {
	case score >= excellentScoreThreshold:
		return Decision{Approved: true, InterestRate: ExcellentInterestRate, Reason: "Excellent credit score"}
	case score >= goodScoreThreshold:
		return Decision{Approved: true, InterestRate: GoodInterestRate, Reason: "Good credit score"}
	default:
		return Decision{Approved: false, Reason: RejectionReasonLowScore}
	}
}
