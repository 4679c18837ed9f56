package throttle

import (
	"testing"

	"github.com/vietddude/govwatch/internal/core/domain"
)

func TestRateController_Steps(t *testing.T) {
	config := RateConfig{Min: 100, Max: 1_000_000, Initial: 1000, SuccessPct: 10, FailurePct: 25}
	controller := NewRateController(domain.KindChainProposals, config)

	tests := []struct {
		name     string
		rate     int64
		success  bool
		expected int64
	}{
		{name: "success ramps up 10%", rate: 1000, success: true, expected: 1100},
		{name: "failure backs off 25%", rate: 1000, success: false, expected: 750},
		{name: "success capped at max", rate: 999_999, success: true, expected: 1_000_000},
		{name: "failure floored at min", rate: 110, success: false, expected: 100},
		{name: "failure at min stays at min", rate: 100, success: false, expected: 100},
		{name: "small rate still grows", rate: 5, success: true, expected: 110},
		{name: "unset rate starts from initial", rate: 0, success: true, expected: 1100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := controller.Apply(tt.rate, tt.success)
			if result != tt.expected {
				t.Errorf("Apply(%d, %v) = %d, want %d", tt.rate, tt.success, result, tt.expected)
			}
		})
	}
}

func TestRateController_StaysInBounds(t *testing.T) {
	for _, kind := range domain.AllKinds {
		controller := NewRateController(kind, RateConfig{})
		cfg := controller.Config()

		rate := cfg.Initial
		// Alternate long success and failure streaks.
		for i := 0; i < 500; i++ {
			rate = controller.Apply(rate, (i/50)%2 == 0)
			if rate < cfg.Min || rate > cfg.Max {
				t.Fatalf("%s: rate %d escaped [%d, %d] at step %d", kind, rate, cfg.Min, cfg.Max, i)
			}
		}
	}
}

func TestRateController_AtFloor(t *testing.T) {
	controller := NewRateController(domain.KindSnapshotProposals, RateConfig{})
	if !controller.AtFloor(10) {
		t.Error("expected rate 10 to be at floor")
	}
	if controller.AtFloor(11) {
		t.Error("expected rate 11 to be above floor")
	}
}

func TestRateConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  RateConfig
		wantErr bool
	}{
		{"defaults", DefaultConfig(domain.KindChainVotes), false},
		{"zero min", RateConfig{Min: 0, Max: 10}, true},
		{"max below min", RateConfig{Min: 10, Max: 5}, true},
		{"failure pct too large", RateConfig{Min: 1, Max: 5, FailurePct: 100}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
