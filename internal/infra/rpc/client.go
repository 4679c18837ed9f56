package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/indexing/metrics"
)

// HealthStatus summarizes recent calls made by a client.
type HealthStatus struct {
	Available     bool          `json:"available"`
	Endpoint      string        `json:"endpoint"`
	Latency       time.Duration `json:"latency"`
	ErrorRate     float64       `json:"error_rate"`
	LastSuccessAt time.Time     `json:"last_success_at"`
	LastFailureAt time.Time     `json:"last_failure_at"`
}

// Client makes JSON-RPC 2.0 calls over HTTP against one or more endpoints.
// Rate-limited endpoints are rotated away from; unavailable ones are retried
// with backoff.
type Client struct {
	name       string
	endpoints  []string
	httpClient *http.Client
	retry      RetryConfig
	current    atomic.Uint32
	nextID     atomic.Uint64
	logger     *slog.Logger

	mu           sync.RWMutex
	health       HealthStatus
	totalLatency time.Duration
	successCount int
	failureCount int
	requestCount int
}

// NewClient creates a client. timeout bounds every HTTP request.
func NewClient(name string, endpoints []string, timeout time.Duration) *Client {
	c := &Client{
		name:      name,
		endpoints: endpoints,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		retry:  DefaultRetryConfig,
		logger: slog.Default().With("component", "rpc", "upstream", name),
		health: HealthStatus{
			Available:     true,
			LastSuccessAt: time.Now(),
		},
	}
	if len(endpoints) > 0 {
		c.health.Endpoint = endpoints[0]
	}
	return c
}

// WithRetry replaces the retry policy.
func (c *Client) WithRetry(cfg RetryConfig) *Client {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	c.retry = cfg
	return c
}

// Name returns the upstream label used in logs and metrics.
func (c *Client) Name() string {
	return c.name
}

// Call invokes method and decodes the result into out. A nil out discards
// the result. The returned error is already classified.
func (c *Client) Call(ctx context.Context, method string, params []any, out any) error {
	if len(c.endpoints) == 0 {
		return fmt.Errorf("%w: no endpoints configured for %s", domain.ErrUpstreamUnavailable, c.name)
	}
	if params == nil {
		params = []any{}
	}

	var lastErr error
	rotations := 0
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		endpoint := c.endpoint()
		start := time.Now()
		err := c.callOnce(ctx, endpoint, method, params, out)
		latency := time.Since(start)
		metrics.UpstreamLatency.WithLabelValues(c.name, method).Observe(latency.Seconds())

		if err == nil {
			metrics.UpstreamCalls.WithLabelValues(c.name, method, "ok").Inc()
			c.recordSuccess(latency)
			return nil
		}

		err = Classify(err)
		lastErr = err
		metrics.UpstreamCalls.WithLabelValues(c.name, method, outcome(err)).Inc()
		c.recordFailure()

		switch {
		case errors.Is(err, domain.ErrUpstreamRateLimited):
			if rotations >= len(c.endpoints)-1 {
				return err
			}
			rotations++
			c.rotate(endpoint, err)
			continue
		case Retryable(err):
			if attempt == c.retry.MaxAttempts-1 {
				break
			}
			if serr := sleep(ctx, calculateBackoff(attempt, c.retry)); serr != nil {
				return serr
			}
			continue
		}
		return err
	}
	return fmt.Errorf("failed after %d attempts: %w", c.retry.MaxAttempts, lastErr)
}

func (c *Client) callOnce(ctx context.Context, endpoint, method string, params []any, out any) error {
	reqBody := map[string]any{
		"jsonrpc": "2.0",
		"method":  method,
		"params":  params,
		"id":      c.nextID.Add(1),
	}

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("rpc call %s: %w", method, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %w", domain.ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode != http.StatusOK {
		return &HTTPStatusError{
			StatusCode: resp.StatusCode,
			Body:       string(body),
			RetryAfter: resp.Header.Get("Retry-After"),
		}
	}

	var rpcResp struct {
		Result json.RawMessage `json:"result"`
		Error  *Error          `json:"error"`
	}
	if err := json.Unmarshal(body, &rpcResp); err != nil {
		return fmt.Errorf("%w: parse response: %w", domain.ErrDecode, err)
	}
	if rpcResp.Error != nil {
		return rpcResp.Error
	}
	if out == nil || len(rpcResp.Result) == 0 {
		return nil
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("%w: decode %s result: %w", domain.ErrDecode, method, err)
	}
	return nil
}

// GetHealth returns the client's health status.
func (c *Client) GetHealth() HealthStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.health
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

func (c *Client) endpoint() string {
	return c.endpoints[int(c.current.Load())%len(c.endpoints)]
}

func (c *Client) rotate(from string, reason error) {
	next := c.current.Add(1)
	to := c.endpoints[int(next)%len(c.endpoints)]
	c.mu.Lock()
	c.health.Endpoint = to
	c.mu.Unlock()
	c.logger.Warn("rotating endpoint", "from", from, "to", to, "reason", reason)
}

func (c *Client) recordSuccess(latency time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.successCount++
	c.requestCount++
	c.totalLatency += latency
	c.health.LastSuccessAt = time.Now()
	c.health.Available = true
	c.health.ErrorRate = float64(c.failureCount) / float64(c.requestCount)
	c.health.Latency = c.totalLatency / time.Duration(c.successCount)
}

func (c *Client) recordFailure() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.failureCount++
	c.requestCount++
	c.health.LastFailureAt = time.Now()
	c.health.ErrorRate = float64(c.failureCount) / float64(c.requestCount)
	if c.health.ErrorRate > 0.5 {
		c.health.Available = false
	}
}

func outcome(err error) string {
	switch {
	case errors.Is(err, domain.ErrUpstreamRateLimited):
		return "rate_limited"
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return "unavailable"
	case errors.Is(err, domain.ErrDecode):
		return "decode"
	default:
		return "error"
	}
}
