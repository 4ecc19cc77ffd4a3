package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mbd888/guardianshield/internal/circuitbreaker"
)

const maxResponseSize = 64 << 10

// DefaultHTTPTimeout bounds a single remote inference call.
const DefaultHTTPTimeout = 500 * time.Millisecond

// HTTPOracle calls a remote inference service:
//
//	POST {baseURL}/predict  {"features": [...]}  ->  {"probability": 0.42, "version": "v3"}
//
// Consecutive failures trip a circuit breaker so a dead endpoint is not
// hammered on every evaluation.
type HTTPOracle struct {
	endpoint string
	client   *http.Client
	breaker  *circuitbreaker.Breaker
}

var (
	_ Oracle    = (*HTTPOracle)(nil)
	_ Describer = (*HTTPOracle)(nil)
)

type predictRequest struct {
	Features []float64 `json:"features"`
}

type predictResponse struct {
	Probability *float64 `json:"probability"`
	Version     string   `json:"version,omitempty"`
}

// NewHTTPOracle creates a remote oracle. Pass timeout=0 for DefaultHTTPTimeout
// and a nil breaker to use one that opens after 5 failures for 30s.
func NewHTTPOracle(baseURL string, timeout time.Duration, breaker *circuitbreaker.Breaker) *HTTPOracle {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	if breaker == nil {
		breaker = circuitbreaker.New(5, 30*time.Second)
	}
	return &HTTPOracle{
		endpoint: strings.TrimRight(baseURL, "/") + "/predict",
		client:   &http.Client{Timeout: timeout},
		breaker:  breaker,
	}
}

func (o *HTTPOracle) Predict(ctx context.Context, vector []float64) (float64, error) {
	var p float64
	err := o.breaker.Execute(o.endpoint, func() error {
		var err error
		p, err = o.call(ctx, vector)
		return err
	})
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return p, err
}

func (o *HTTPOracle) call(ctx context.Context, vector []float64) (float64, error) {
	body, err := json.Marshal(predictRequest{Features: vector})
	if err != nil {
		return 0, fmt.Errorf("marshal features: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.endpoint, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := o.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("inference request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseSize))
	if err != nil {
		return 0, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("inference service returned HTTP %d", resp.StatusCode)
	}

	var pr predictResponse
	if err := json.Unmarshal(respBody, &pr); err != nil {
		return 0, fmt.Errorf("decode response: %w", err)
	}
	if pr.Probability == nil {
		return 0, errors.New("inference response missing probability")
	}
	return *pr.Probability, nil
}

// State reports the breaker state for the endpoint.
func (o *HTTPOracle) State() circuitbreaker.State {
	return o.breaker.State(o.endpoint)
}

func (o *HTTPOracle) Metadata() Metadata {
	return Metadata{
		Version: "remote",
		Loaded:  o.State() != circuitbreaker.StateOpen,
		Source:  o.endpoint,
	}
}
