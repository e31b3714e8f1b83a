// Package source provides the Opinion.Trade market API client and the record
// parser that normalizes its responses.
package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/jpillora/backoff"
	"github.com/opinionwatch/opinionwatch/internal/models"
)

const userAgent = "opinionwatch/1.0"

// Client fetches recent markets from the Opinion.Trade API.
type Client struct {
	apiURL     string
	httpClient *http.Client
	limit      int
	maxRetries int
	retryBase  time.Duration
	retryMax   time.Duration
}

// ClientConfig tunes retry behavior of the HTTP client.
type ClientConfig struct {
	MaxRetries     int
	RetryDelayBase time.Duration
	RetryDelayMax  time.Duration
}

// NewClient creates a market source client. The timeout bounds every request
// including retries performed within a single FetchRecent call.
func NewClient(apiURL string, timeout time.Duration, limit int, cfg ClientConfig) *Client {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 3
	}
	if cfg.RetryDelayBase <= 0 {
		cfg.RetryDelayBase = time.Second
	}
	if cfg.RetryDelayMax <= 0 {
		cfg.RetryDelayMax = 8 * time.Second
	}
	return &Client{
		apiURL:     apiURL,
		httpClient: &http.Client{Timeout: timeout},
		limit:      limit,
		maxRetries: cfg.MaxRetries,
		retryBase:  cfg.RetryDelayBase,
		retryMax:   cfg.RetryDelayMax,
	}
}

type marketsResponse struct {
	Markets []RawMarket `json:"markets"`
}

// FetchRecent retrieves the newest open markets, up to the configured limit,
// and normalizes them into Market entities. Individual malformed records are
// skipped by the parser; a transport or status failure fails the whole fetch.
func (c *Client) FetchRecent(ctx context.Context) ([]models.Market, error) {
	u, err := url.Parse(c.apiURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse API URL: %w", err)
	}

	q := u.Query()
	q.Set("limit", fmt.Sprintf("%d", c.limit))
	q.Set("sort", "newest")
	q.Set("status", "open")
	u.RawQuery = q.Encode()

	resp, err := c.doRequest(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("failed to fetch markets: %w", err)
	}
	defer resp.Body.Close()

	var body marketsResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("failed to decode markets: %w", err)
	}

	return ParseRecords(body.Markets), nil
}

// doRequest performs a GET with backoff retry on transport errors and 5xx
// responses. Non-5xx error statuses are returned to the caller immediately.
func (c *Client) doRequest(ctx context.Context, urlStr string) (*http.Response, error) {
	b := &backoff.Backoff{
		Min:    c.retryBase,
		Max:    c.retryMax,
		Jitter: true,
	}

	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, urlStr, nil)
		if err != nil {
			return nil, err
		}
		req.Header.Set("Accept", "application/json")
		req.Header.Set("User-Agent", userAgent)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
		} else if resp.StatusCode >= 500 {
			resp.Body.Close()
			lastErr = fmt.Errorf("server error: %d", resp.StatusCode)
		} else if resp.StatusCode != http.StatusOK {
			resp.Body.Close()
			return nil, fmt.Errorf("unexpected status: %d", resp.StatusCode)
		} else {
			return resp, nil
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.Duration()):
		}
	}

	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}
