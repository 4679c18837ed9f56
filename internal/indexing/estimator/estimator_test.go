package estimator

import (
	"context"
	"errors"
	"testing"
	"time"
)

type fakeResolver struct {
	mined map[int64]time.Time
	err   error
	calls int
}

func (f *fakeResolver) ResolveTimestamp(ctx context.Context, block int64) (time.Time, bool, error) {
	f.calls++
	if f.err != nil {
		return time.Time{}, false, f.err
	}
	ts, ok := f.mined[block]
	return ts, ok, nil
}

func TestResolve(t *testing.T) {
	refTime := time.Unix(1_700_000_000, 0).UTC()
	ref := Reference{Block: 1000, Time: refTime}
	minedTime := time.Unix(1_700_000_300, 0).UTC()

	resolver := &fakeResolver{mined: map[int64]time.Time{1020: minedTime}}
	est := New(resolver, 12*time.Second)

	tests := []struct {
		name          string
		target        int64
		wantTime      time.Time
		wantEstimated bool
	}{
		{"mined block returns real time", 1020, minedTime, false},
		{"future block extrapolated", 1100, refTime.Add(100 * 12 * time.Second), true},
		{"reference block itself", 1000, refTime, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := est.Resolve(context.Background(), tt.target, ref)
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if !got.Time.Equal(tt.wantTime) {
				t.Errorf("Resolve().Time = %v, want %v", got.Time, tt.wantTime)
			}
			if got.Estimated != tt.wantEstimated {
				t.Errorf("Resolve().Estimated = %v, want %v", got.Estimated, tt.wantEstimated)
			}
		})
	}
}

func TestResolve_PropagatesUpstreamError(t *testing.T) {
	boom := errors.New("node down")
	est := New(&fakeResolver{err: boom}, 0)

	_, err := est.Resolve(context.Background(), 5, Reference{Block: 1, Time: time.Now()})
	if !errors.Is(err, boom) {
		t.Fatalf("expected upstream error, got %v", err)
	}
}

func TestExtrapolate_DefaultBlockTime(t *testing.T) {
	est := New(&fakeResolver{}, 0)
	if est.blockTime != DefaultBlockTime {
		t.Fatalf("blockTime = %v, want %v", est.blockTime, DefaultBlockTime)
	}

	ref := Reference{Block: 10, Time: time.Unix(0, 0)}
	got := Extrapolate(ref, 15, DefaultBlockTime)
	if got.Unix() != 60 {
		t.Errorf("Extrapolate() = %d, want 60", got.Unix())
	}
}
