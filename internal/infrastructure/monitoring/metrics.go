package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type DBMetrics struct {
	QueryDuration *prometheus.HistogramVec
}

type UnderwritingMetrics struct {
	ApplicationsTotal     *prometheus.CounterVec
	CreditScoreDuration   *prometheus.HistogramVec
	StalePendingLoans     prometheus.Gauge
	DecisionEventsTotal   *prometheus.CounterVec
	ListCacheLookupsTotal *prometheus.CounterVec
	RateLimitedTotal      *prometheus.CounterVec
}

var (
	DB = DBMetrics{
		QueryDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "underwriting_db_query_duration_seconds",
				Help:    "Histogram of database query latencies.",
				Buckets: []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
			},
			[]string{"query_name", "status"},
		),
	}

	Underwriting = UnderwritingMetrics{
		ApplicationsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "underwriting_applications_total",
				Help: "Total number of loan applications processed, by outcome.",
			},
			[]string{"outcome"},
		),
		CreditScoreDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "underwriting_credit_score_request_duration_seconds",
				Help:    "Histogram of credit score service latencies.",
				Buckets: []float64{.05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"status"},
		),
		StalePendingLoans: promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "underwriting_stale_pending_applications",
				Help: "Number of PENDING applications left unscored past the staleness threshold.",
			},
		),
		DecisionEventsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "underwriting_decision_events_total",
				Help: "Total number of loan decision events published, by status.",
			},
			[]string{"status"},
		),
		ListCacheLookupsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "underwriting_list_cache_lookups_total",
				Help: "Loan list cache lookups, by result.",
			},
			[]string{"result"},
		),
		RateLimitedTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "underwriting_rate_limited_requests_total",
				Help: "Requests refused by a rate limiter, by limiter scope.",
			},
			[]string{"scope"},
		),
	}
)

func RecordDBQuery(queryName, status string, duration time.Duration) {
	DB.QueryDuration.WithLabelValues(queryName, status).Observe(duration.Seconds())
}

func RecordApplication(outcome string) {
	Underwriting.ApplicationsTotal.WithLabelValues(outcome).Inc()
}

func RecordCreditScoreRequest(status string, duration time.Duration) {
	Underwriting.CreditScoreDuration.WithLabelValues(status).Observe(duration.Seconds())
}

func SetStalePending(count int) {
	Underwriting.StalePendingLoans.Set(float64(count))
}

func RecordDecisionEvent(status string) {
	Underwriting.DecisionEventsTotal.WithLabelValues(status).Inc()
}

func RecordListCacheLookup(result string) {
	Underwriting.ListCacheLookupsTotal.WithLabelValues(result).Inc()
}

func RecordRateLimited(scope string) {
	Underwriting.RateLimitedTotal.WithLabelValues(scope).Inc()
}
