package throttle

import "github.com/vietddude/govwatch/internal/core/domain"

// RateController adjusts a source's throughput parameter from fetch outcomes.
// For on-chain kinds the rate is the block-window size, for off-chain kinds the
// page size. It holds no per-source state: the current rate lives on the
// source record and is passed in.
type RateController struct {
	kind   domain.WorkKind
	config RateConfig
}

// NewRateController creates a controller for one work kind.
func NewRateController(kind domain.WorkKind, config RateConfig) *RateController {
	return &RateController{
		kind:   kind,
		config: config.WithDefaults(DefaultConfig(kind)),
	}
}

// OnSuccess ramps the rate up by SuccessPct, capped at Max.
//
// The step is at least one so that small rates can still grow.
func (c *RateController) OnSuccess(rate int64) int64 {
	rate = c.Clamp(rate)
	step := rate * c.config.SuccessPct / 100
	if step < 1 && c.config.SuccessPct > 0 {
		step = 1
	}
	return c.Clamp(rate + step)
}

// OnFailure backs the rate off by FailurePct, floored at Min.
func (c *RateController) OnFailure(rate int64) int64 {
	rate = c.Clamp(rate)
	step := rate * c.config.FailurePct / 100
	if step < 1 && c.config.FailurePct > 0 {
		step = 1
	}
	return c.Clamp(rate - step)
}

// Apply dispatches to OnSuccess or OnFailure.
func (c *RateController) Apply(rate int64, success bool) int64 {
	if success {
		return c.OnSuccess(rate)
	}
	return c.OnFailure(rate)
}

// Clamp forces rate into [Min, Max]. A zero rate (fresh source) starts at Initial.
func (c *RateController) Clamp(rate int64) int64 {
	if rate == 0 {
		rate = c.config.Initial
	}
	if rate < c.config.Min {
		return c.config.Min
	}
	if rate > c.config.Max {
		return c.config.Max
	}
	return rate
}

// AtFloor reports whether rate is pinned at Min.
func (c *RateController) AtFloor(rate int64) bool {
	return rate <= c.config.Min
}

// Config returns the effective configuration.
func (c *RateController) Config() RateConfig {
	return c.config
}

// Kind returns the work kind this controller serves.
func (c *RateController) Kind() domain.WorkKind {
	return c.kind
}
