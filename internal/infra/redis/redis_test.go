package redis

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/govwatch/internal/core/domain"
)

// newTestClient connects to GOVWATCH_TEST_REDIS_URL. Tests are skipped when
// it is unset.
func newTestClient(t *testing.T) *Client {
	t.Helper()
	url := os.Getenv("GOVWATCH_TEST_REDIS_URL")
	if url == "" {
		t.Skip("GOVWATCH_TEST_REDIS_URL not set")
	}
	c, err := NewClient(Config{URL: url, Prefix: "govwatch-test-" + uuid.NewString()})
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestLocker_Exclusive(t *testing.T) {
	ctx := context.Background()
	l := NewLocker(newTestClient(t))

	release, ok, err := l.Acquire(ctx, "uni-p", time.Minute)
	if err != nil || !ok {
		t.Fatalf("first acquire: ok=%v err=%v", ok, err)
	}

	_, ok, err = l.Acquire(ctx, "uni-p", time.Minute)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatal("lock acquired twice")
	}

	release()
	release2, ok, err := l.Acquire(ctx, "uni-p", time.Minute)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
	release2()
}

func TestTriggerFeed_PushNext(t *testing.T) {
	ctx := context.Background()
	feed := NewTriggerFeed(newTestClient(t), "jobs", time.Second)

	req := domain.JobRequest{
		UserID:             "u1",
		DAOID:              "uniswap",
		ProposalExternalID: "42",
		Kind:               domain.NotifyNewProposal,
		Channel:            domain.ChannelDiscord,
		Target:             "chan",
	}
	if err := feed.Push(ctx, req); err != nil {
		t.Fatalf("push: %v", err)
	}

	got, ok, err := feed.Next(ctx)
	if err != nil || !ok {
		t.Fatalf("next: ok=%v err=%v", ok, err)
	}
	if got != req {
		t.Errorf("got %+v, want %+v", got, req)
	}

	_, ok, err = feed.Next(ctx)
	if err != nil {
		t.Fatalf("next on empty: %v", err)
	}
	if ok {
		t.Error("expected empty feed")
	}
}
