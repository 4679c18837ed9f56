// Package health provides system health monitoring and status reporting.
package health

import (
	"time"

	"github.com/vietddude/govwatch/internal/core/domain"
)

// SystemStatus represents the overall health state of the system or a component.
type SystemStatus string

const (
	StatusHealthy  SystemStatus = "healthy"
	StatusDegraded SystemStatus = "degraded"
	StatusCritical SystemStatus = "critical"
)

// SourceHealth contains health metrics for one source.
type SourceHealth struct {
	SourceID        string          `json:"source_id"`
	DAOID           string          `json:"dao_id"`
	Kind            domain.WorkKind `json:"kind"`
	Status          SystemStatus    `json:"status"`
	Checkpoint      int64           `json:"checkpoint"`
	Rate            int64           `json:"rate"`
	Uptodate        bool            `json:"uptodate"`
	FailureStreak   int             `json:"failure_streak"`
	AtFloor         bool            `json:"at_floor"`
	LastRefreshedAt time.Time       `json:"last_refreshed_at"`
}

// HealthReport contains the full system health report.
type HealthReport struct {
	SystemStatus SystemStatus                 `json:"system_status"`
	Sources      map[string]SourceHealth      `json:"sources"`
	Jobs         map[domain.DispatchState]int `json:"jobs"`
	Error        string                       `json:"error,omitempty"`
}
