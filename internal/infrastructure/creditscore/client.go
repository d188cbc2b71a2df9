package creditscore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"loan-underwriting/internal/config"
	"loan-underwriting/internal/domain/loan"
	"loan-underwriting/internal/infrastructure/monitoring"
	"loan-underwriting/internal/pkg/apperrors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/google/uuid"
)

const (
	MinScore = 300
	MaxScore = 850

	defaultTimeout = 5 * time.Second
	maxBodyBytes   = 4 << 10
)

var ErrMalformedResponse = errors.New("malformed credit score response")

// Client fetches a score from a random-number style endpoint that answers
// GET ?min=300&max=850&count=1 with a JSON array holding one integer.
type Client struct {
	endpoint   string
	httpClient *http.Client
	logger     *slog.Logger
}

var _ loan.CreditScorer = (*Client)(nil)

func NewClient(cfg config.CreditScoreConfig, logger *slog.Logger) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("credit score URL is empty in configuration")
	}
	if _, err := url.ParseRequestURI(cfg.URL); err != nil {
		return nil, fmt.Errorf("invalid credit score URL: %w", err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &Client{
		endpoint:   cfg.URL,
		httpClient: &http.Client{Timeout: timeout},
		logger:     logger.With("component", "CreditScoreClient"),
	}, nil
}

func (c *Client) Score(ctx context.Context, customerID uuid.UUID) (int, error) {
	start := time.Now()
	score, err := c.fetch(ctx)
	status := "success"
	if err != nil {
		status = "error"
	}
	monitoring.RecordCreditScoreRequest(status, time.Since(start))

	if err != nil {
		c.logger.WarnContext(ctx, "Credit score request failed", "customer_id", customerID, "error", err)
		return 0, fmt.Errorf("%w: %w", apperrors.ErrExternalService, err)
	}
	c.logger.DebugContext(ctx, "Credit score fetched", "customer_id", customerID, "score", score)
	return score, nil
}

func (c *Client) fetch(ctx context.Context) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.requestURL(), nil)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("credit score request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, fmt.Errorf("credit score service returned status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return 0, fmt.Errorf("read credit score response: %w", err)
	}
	return parseScore(body)
}

func (c *Client) requestURL() string {
	u, err := url.Parse(c.endpoint)
	if err != nil {
		return c.endpoint
	}
	q := u.Query()
	q.Set("min", strconv.Itoa(MinScore))
	q.Set("max", strconv.Itoa(MaxScore))
	q.Set("count", "1")
	u.RawQuery = q.Encode()
	return u.String()
}

func parseScore(body []byte) (int, error) {
	var values []int
	if err := json.Unmarshal(body, &values); err != nil {
		return 0, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	if len(values) == 0 {
		return 0, fmt.Errorf("%w: empty array", ErrMalformedResponse)
	}
	score := values[0]
	if score < MinScore || score > MaxScore {
		return 0, fmt.Errorf("%w: score %d outside [%d, %d]", ErrMalformedResponse, score, MinScore, MaxScore)
	}
	return score, nil
}
