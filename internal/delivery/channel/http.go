package channel

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/vietddude/govwatch/internal/core/domain"
)

// maxBody caps how much of a response is read.
const maxBody = 1 << 20

// PostJSON sends body as JSON to target and returns the status and response body.
// Transport failures are returned as transient delivery errors. Bot tokens and
// webhook secrets live in target, so errors never include it.
func PostJSON(ctx context.Context, client *http.Client, target string, body any) (int, []byte, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return 0, nil, Rejected(fmt.Errorf("failed to marshal payload: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		return 0, nil, Rejected(fmt.Errorf("failed to create request: %w", redactURL(err)))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, Transient(fmt.Errorf("failed to post: %w", redactURL(err)))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return resp.StatusCode, nil, Transient(fmt.Errorf("failed to read response: %w", err))
	}
	return resp.StatusCode, data, nil
}

// redactURL drops the request URL from a *url.Error, keeping the cause.
func redactURL(err error) error {
	var ue *url.Error
	if errors.As(err, &ue) {
		return fmt.Errorf("%s: %w", ue.Op, ue.Err)
	}
	return err
}

// StatusError maps a non-2xx HTTP status to the delivery taxonomy.
// 404 and 410 mean the target is gone, 408, 429 and 5xx are retryable and
// every other status is a permanent rejection.
func StatusError(status int, detail string) error {
	err := fmt.Errorf("http status %d: %s", status, detail)
	switch {
	case status == http.StatusNotFound || status == http.StatusGone:
		return domain.TargetGone(err)
	case status == http.StatusTooManyRequests || status == http.StatusRequestTimeout || status >= 500:
		return Transient(err)
	default:
		return Rejected(err)
	}
}
