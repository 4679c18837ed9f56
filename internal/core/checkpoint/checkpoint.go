// Package checkpoint owns the per-source sync position and adaptive rate.
//
// # Purpose
//
// Every refresh stream (a DAO paired with a work kind) keeps a durable
// record of how far it has synced:
//   - Checkpoint: the block number (on-chain) or unix timestamp (off-chain)
//     below which the source is fully synced
//   - Rate: the adaptive window or page size, kept inside the kind's bounds
//   - Status: New while a refresh is queued or running, Done when idle
//
// # Key Features
//
// Monotone Advance - Complete never moves a checkpoint backwards. A failed
// refresh leaves the checkpoint untouched and only backs off the rate.
//
// Serialized Writers - writes to one source are serialized by a lock scoped to
// that source, so concurrent workers never race on checkpoint or rate.
//
// Status Machine - Done → New when queued, New → Done when the attempt
// finishes or the item is dropped.
//
// # Quick Start
//
//	manager := checkpoint.NewManager(sourceRepo, controllers)
//
//	// Producer marks the source queued
//	manager.MarkQueued(ctx, "uniswap-proposals")
//
//	// Worker reports the outcome of the fetch
//	manager.Complete(ctx, "uniswap-proposals", checkpoint.Outcome{
//	    Advance:    true,
//	    Checkpoint: 19_000_050,
//	})
//
// # Package Structure
//
//   - state.go   - refresh status transitions
//   - manager.go - Manager implementation
//   - metrics.go - per-source progress history
package checkpoint

import (
	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/indexing/throttle"
	"github.com/vietddude/govwatch/internal/infra/storage"
)

// NewManager creates a manager over repo. controllers supplies the rate
// policy per work kind; kinds without one use throttle.DefaultConfig.
func NewManager(
	repo storage.SourceRepository,
	controllers map[domain.WorkKind]*throttle.RateController,
) *DefaultManager {
	ctrls := make(map[domain.WorkKind]*throttle.RateController, len(domain.AllKinds))
	for _, kind := range domain.AllKinds {
		if c, ok := controllers[kind]; ok && c != nil {
			ctrls[kind] = c
			continue
		}
		ctrls[kind] = throttle.NewRateController(kind, throttle.DefaultConfig(kind))
	}
	return &DefaultManager{
		repo:        repo,
		controllers: ctrls,
		history:     make(map[string]*MetricsCollector),
	}
}

// NewMetricsCollector creates a new metrics collector with the given window size.
func NewMetricsCollector(windowSize int) *MetricsCollector {
	if windowSize <= 0 {
		windowSize = 100
	}
	return &MetricsCollector{
		windowSize:  windowSize,
		progress:    make([]progressRecord, 0, windowSize),
		transitions: make([]Transition, 0, 10),
	}
}
