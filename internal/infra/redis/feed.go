package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/govwatch/internal/core/domain"
)

// TriggerFeed is a FIFO of job creation requests stored in a Redis list.
// Producers RPUSH JSON requests; the intake BLPOPs them.
type TriggerFeed struct {
	client *Client
	key    string
	wait   time.Duration
	log    *slog.Logger
}

// NewTriggerFeed creates a feed over the list name. wait bounds each blocking pop.
func NewTriggerFeed(client *Client, name string, wait time.Duration) *TriggerFeed {
	if wait <= 0 {
		wait = 5 * time.Second
	}
	return &TriggerFeed{
		client: client,
		key:    client.triggerKey(name),
		wait:   wait,
		log:    slog.Default().With("component", "trigger-feed", "key", client.triggerKey(name)),
	}
}

// Push appends a request.
func (f *TriggerFeed) Push(ctx context.Context, req domain.JobRequest) error {
	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("failed to marshal job request: %w", err)
	}
	if err := f.client.rdb.RPush(ctx, f.key, data).Err(); err != nil {
		return fmt.Errorf("rpush failed: %w", err)
	}
	return nil
}

// Next blocks until a request is available, ctx is done or the wait elapses.
// ok is false when nothing arrived. Malformed entries are logged and skipped.
func (f *TriggerFeed) Next(ctx context.Context) (req domain.JobRequest, ok bool, err error) {
	res, err := f.client.rdb.BLPop(ctx, f.wait, f.key).Result()
	if errors.Is(err, redis.Nil) {
		return domain.JobRequest{}, false, nil
	}
	if err != nil {
		if ctx.Err() != nil {
			return domain.JobRequest{}, false, ctx.Err()
		}
		return domain.JobRequest{}, false, fmt.Errorf("blpop failed: %w", err)
	}

	// BLPOP returns [key, value]
	if len(res) != 2 {
		return domain.JobRequest{}, false, nil
	}
	if err := json.Unmarshal([]byte(res[1]), &req); err != nil {
		f.log.Warn("Dropping malformed job request", "error", err)
		return domain.JobRequest{}, false, nil
	}
	return req, true, nil
}

// Len returns the number of pending requests.
func (f *TriggerFeed) Len(ctx context.Context) (int64, error) {
	return f.client.rdb.LLen(ctx, f.key).Result()
}
