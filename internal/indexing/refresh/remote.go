package refresh

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

	"github.com/vietddude/govwatch/internal/core/checkpoint"
	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/infra/rpc"
)

// Request is the body of a refresh endpoint call.
type Request struct {
	SourceID string   `json:"source_id"`
	Voters   []string `json:"voters,omitempty"`
}

// Status values of a refresh endpoint response.
const (
	StatusOK  = "ok"
	StatusNOK = "nok"
)

// Response is the body a refresh endpoint answers with.
type Response struct {
	SourceID string `json:"source_id"`
	Status   string `json:"status"`
	Error    string `json:"error,omitempty"`

	// Idle reports that the refresh issued no fetch, so the caller leaves
	// the rate alone.
	Idle bool `json:"idle,omitempty"`
}

// ErrRemoteRefresh is returned when the remote endpoint answered nok.
var ErrRemoteRefresh = errors.New("remote refresh failed")

// RemoteClient delegates refreshes to another process over HTTP. The remote
// side writes the checkpoint; the caller only feeds rate and status.
type RemoteClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewRemoteClient creates a client posting to <baseURL>/refresh/<kind>.
func NewRemoteClient(baseURL string, timeout time.Duration) *RemoteClient {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &RemoteClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Refresh posts the item and maps nok or transport errors to failure.
func (c *RemoteClient) Refresh(ctx context.Context, item domain.WorkItem) (checkpoint.Outcome, error) {
	body, err := json.Marshal(Request{SourceID: item.SourceID, Voters: item.Voters})
	if err != nil {
		return checkpoint.Outcome{}, fmt.Errorf("failed to marshal refresh request: %w", err)
	}

	url := fmt.Sprintf("%s/refresh/%s", c.baseURL, item.Kind)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return checkpoint.Outcome{}, fmt.Errorf("failed to create refresh request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return checkpoint.Outcome{}, rpc.Classify(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return checkpoint.Outcome{}, rpc.Classify(err)
	}

	var out Response
	if jsonErr := json.Unmarshal(raw, &out); jsonErr != nil {
		if resp.StatusCode != http.StatusOK {
			return checkpoint.Outcome{}, rpc.Classify(&rpc.HTTPStatusError{
				StatusCode: resp.StatusCode,
				Body:       string(raw),
				RetryAfter: resp.Header.Get("Retry-After"),
			})
		}
		return checkpoint.Outcome{}, rpc.Classify(jsonErr)
	}

	if out.Status != StatusOK {
		return checkpoint.Outcome{}, fmt.Errorf("%w: %s: %s", ErrRemoteRefresh, item.SourceID, out.Error)
	}
	return checkpoint.Outcome{Idle: out.Idle}, nil
}

var (
	_ Refresher = (*Service)(nil)
	_ Refresher = (*RemoteClient)(nil)
	_ Refresher = (*GRPCClient)(nil)
)
