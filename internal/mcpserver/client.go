package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// Config holds the configuration for connecting to a GuardianShield API.
type Config struct {
	APIURL  string        // Base URL, e.g. "http://localhost:8000"
	Timeout time.Duration // Per-request timeout; 0 means 30s
}

// Client is a pure HTTP client for the GuardianShield API.
type Client struct {
	cfg        Config
	httpClient *http.Client
}

// NewClient creates a new client for the GuardianShield API.
func NewClient(cfg Config) *Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// TransactionInput is the body of POST /api/predict.
type TransactionInput struct {
	UserID        string  `json:"user_id"`
	Amount        float64 `json:"amount"`
	Merchant      string  `json:"merchant"`
	TimeHour      int     `json:"time_hour"`
	PhoneActivity bool    `json:"phone_activity"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *Client) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// Evaluate scores a transaction.
func (c *Client) Evaluate(ctx context.Context, in TransactionInput) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodPost, "/api/predict", nil, in)
}

// GetBaseline returns a user's spending baseline.
func (c *Client) GetBaseline(ctx context.Context, userID string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/user/"+url.PathEscape(userID)+"/baseline", nil, nil)
}

// GetMerchant returns the risk insight for a merchant name.
func (c *Client) GetMerchant(ctx context.Context, name string) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/merchants/"+url.PathEscape(name), nil, nil)
}

// ListTransactions returns recent evaluations, optionally for one user.
func (c *Client) ListTransactions(ctx context.Context, userID string, limit int) (json.RawMessage, error) {
	q := url.Values{}
	if userID != "" {
		q.Set("user_id", userID)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	return c.doRequest(ctx, http.MethodGet, "/api/transactions", q, nil)
}

// GetStats returns decision counts for today, yesterday and the week.
func (c *Client) GetStats(ctx context.Context) (json.RawMessage, error) {
	return c.doRequest(ctx, http.MethodGet, "/api/analytics/stats", nil, nil)
}
