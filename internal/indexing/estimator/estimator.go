// Package estimator resolves block numbers to wall-clock times, extrapolating
// for blocks that are not mined yet.
package estimator

import (
	"context"
	"time"
)

// DefaultBlockTime is the Ethereum mainnet slot time.
const DefaultBlockTime = 12 * time.Second

// TimestampResolver returns the timestamp of a mined block. ok is false when
// the block does not exist yet.
type TimestampResolver interface {
	ResolveTimestamp(ctx context.Context, block int64) (ts time.Time, ok bool, err error)
}

// Reference is an already-mined block used as the extrapolation origin.
type Reference struct {
	Block int64
	Time  time.Time
}

// Estimate is a resolved time. Estimated is true when it was extrapolated and
// must not be treated as final.
type Estimate struct {
	Time      time.Time
	Estimated bool
}

// Estimator resolves block timestamps with a fallback extrapolation.
type Estimator struct {
	resolver  TimestampResolver
	blockTime time.Duration
}

// New creates an estimator. A non-positive blockTime selects DefaultBlockTime.
func New(resolver TimestampResolver, blockTime time.Duration) *Estimator {
	if blockTime <= 0 {
		blockTime = DefaultBlockTime
	}
	return &Estimator{resolver: resolver, blockTime: blockTime}
}

// Resolve returns the real timestamp of target when it is mined, otherwise
// ref.Time + (target - ref.Block) * blockTime.
func (e *Estimator) Resolve(ctx context.Context, target int64, ref Reference) (Estimate, error) {
	if target == ref.Block && !ref.Time.IsZero() {
		return Estimate{Time: ref.Time}, nil
	}

	ts, ok, err := e.resolver.ResolveTimestamp(ctx, target)
	if err != nil {
		return Estimate{}, err
	}
	if ok {
		return Estimate{Time: ts}, nil
	}

	return Estimate{Time: Extrapolate(ref, target, e.blockTime), Estimated: true}, nil
}

// Extrapolate projects the time of target from ref at a fixed block time.
func Extrapolate(ref Reference, target int64, blockTime time.Duration) time.Time {
	return ref.Time.Add(time.Duration(target-ref.Block) * blockTime)
}
