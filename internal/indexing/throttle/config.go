package throttle

import (
	"fmt"

	"github.com/vietddude/govwatch/internal/core/domain"
)

// RateConfig holds the bounds and step sizes of one kind's adaptive rate.
type RateConfig struct {
	Min     int64 `yaml:"min"`
	Max     int64 `yaml:"max"`
	Initial int64 `yaml:"initial"`

	// Multiplicative steps in percent of the current rate.
	SuccessPct int64 `yaml:"success_pct"` // ramp-up (default: 10)
	FailurePct int64 `yaml:"failure_pct"` // back-off (default: 20-25)
}

// DefaultConfig returns the defaults for a work kind.
func DefaultConfig(kind domain.WorkKind) RateConfig {
	switch kind {
	case domain.KindChainProposals:
		return RateConfig{Min: 100, Max: 1_000_000, Initial: 1000, SuccessPct: 10, FailurePct: 25}
	case domain.KindChainVotes:
		return RateConfig{Min: 100, Max: 1_000_000_000, Initial: 1000, SuccessPct: 10, FailurePct: 25}
	case domain.KindSnapshotProposals, domain.KindSnapshotVotes:
		return RateConfig{Min: 10, Max: 1000, Initial: 100, SuccessPct: 10, FailurePct: 20}
	default:
		return RateConfig{Min: 1, Max: 1000, Initial: 100, SuccessPct: 10, FailurePct: 25}
	}
}

// WithDefaults fills zero fields from def.
func (c RateConfig) WithDefaults(def RateConfig) RateConfig {
	if c.Min == 0 {
		c.Min = def.Min
	}
	if c.Max == 0 {
		c.Max = def.Max
	}
	if c.Initial == 0 {
		c.Initial = def.Initial
	}
	if c.SuccessPct == 0 {
		c.SuccessPct = def.SuccessPct
	}
	if c.FailurePct == 0 {
		c.FailurePct = def.FailurePct
	}
	return c
}

// Validate checks that the bounds are usable.
func (c RateConfig) Validate() error {
	if c.Min < 1 {
		return fmt.Errorf("rate min must be positive, got %d", c.Min)
	}
	if c.Max < c.Min {
		return fmt.Errorf("rate max %d below min %d", c.Max, c.Min)
	}
	if c.SuccessPct < 0 || c.FailurePct < 0 || c.FailurePct >= 100 {
		return fmt.Errorf("rate percentages out of range: +%d%% / -%d%%", c.SuccessPct, c.FailurePct)
	}
	return nil
}
