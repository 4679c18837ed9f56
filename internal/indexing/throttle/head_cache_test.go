package throttle

import (
	"context"
	"errors"
	"testing"
	"time"
)

// mockHead implements HeadFetcher for testing
type mockHead struct {
	latestBlock int64
	err         error
	callCount   int
}

func (m *mockHead) BlockNumber(ctx context.Context) (int64, error) {
	m.callCount++
	return m.latestBlock, m.err
}

func TestHeadCache_CachesResult(t *testing.T) {
	fetcher := &mockHead{latestBlock: 1000}
	cache := NewHeadCache(fetcher, 3*time.Second)

	ctx := context.Background()

	result1, err := cache.BlockNumber(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result1 != 1000 {
		t.Errorf("expected 1000, got %d", result1)
	}

	result2, err := cache.BlockNumber(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result2 != 1000 {
		t.Errorf("expected 1000, got %d", result2)
	}
	if fetcher.callCount != 1 {
		t.Errorf("expected 1 fetch (cached), got %d", fetcher.callCount)
	}
}

func TestHeadCache_ExpiresAfterTTL(t *testing.T) {
	fetcher := &mockHead{latestBlock: 1000}
	cache := NewHeadCache(fetcher, 50*time.Millisecond)

	ctx := context.Background()

	if _, err := cache.BlockNumber(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	time.Sleep(80 * time.Millisecond)
	fetcher.latestBlock = 1001

	result, err := cache.BlockNumber(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 1001 {
		t.Errorf("expected fresh value 1001, got %d", result)
	}
	if fetcher.callCount != 2 {
		t.Errorf("expected 2 fetches, got %d", fetcher.callCount)
	}
}

func TestHeadCache_Invalidate(t *testing.T) {
	fetcher := &mockHead{latestBlock: 1000}
	cache := NewHeadCache(fetcher, 3*time.Second)

	ctx := context.Background()

	if _, err := cache.BlockNumber(ctx); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cache.Invalidate()
	fetcher.latestBlock = 1001

	result, err := cache.BlockNumber(ctx)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 1001 {
		t.Errorf("expected fresh value 1001 after invalidate, got %d", result)
	}
}

func TestHeadCache_ErrorNotCached(t *testing.T) {
	fetcher := &mockHead{err: errors.New("node down")}
	cache := NewHeadCache(fetcher, 3*time.Second)

	if _, err := cache.BlockNumber(context.Background()); err == nil {
		t.Fatal("expected error")
	}

	fetcher.err = nil
	fetcher.latestBlock = 42

	result, err := cache.BlockNumber(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Errorf("expected 42, got %d", result)
	}
}
