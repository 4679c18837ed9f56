package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/indexing/throttle"
)

// =============================================================================
// Stubs
// =============================================================================

type stubSources struct {
	sources []*domain.Source
	err     error
}

func (s *stubSources) List(ctx context.Context) ([]*domain.Source, error) {
	return s.sources, s.err
}

func (s *stubSources) Controller(kind domain.WorkKind) *throttle.RateController {
	return throttle.NewRateController(kind, throttle.RateConfig{})
}

type stubJobs struct {
	counts map[domain.DispatchState]int
}

func (s *stubJobs) CountByState(ctx context.Context) (map[domain.DispatchState]int, error) {
	return s.counts, nil
}

func source(id string, uptodate bool, rate int64, streak int) *domain.Source {
	return &domain.Source{
		ID:            id,
		DAOID:         "dao",
		Kind:          domain.KindChainProposals,
		Checkpoint:    1000,
		Rate:          rate,
		Uptodate:      uptodate,
		FailureStreak: streak,
	}
}

// =============================================================================
// Tests
// =============================================================================

func TestMonitor_Healthy(t *testing.T) {
	monitor := NewMonitor(
		&stubSources{sources: []*domain.Source{source("a", true, 1000, 0)}},
		&stubJobs{counts: map[domain.DispatchState]int{domain.DispatchFailed: 3}},
		Thresholds{},
	)

	report := monitor.CheckHealth(context.Background())
	if report.SystemStatus != StatusHealthy {
		t.Errorf("expected healthy, got %s", report.SystemStatus)
	}
	if report.Sources["a"].Status != StatusHealthy {
		t.Errorf("expected source healthy, got %s", report.Sources["a"].Status)
	}
	if report.Jobs[domain.DispatchFailed] != 3 {
		t.Errorf("expected 3 failed jobs, got %d", report.Jobs[domain.DispatchFailed])
	}
}

func TestMonitor_DegradedWhenBehind(t *testing.T) {
	monitor := NewMonitor(
		&stubSources{sources: []*domain.Source{source("a", true, 1000, 0), source("b", false, 1000, 0)}},
		nil,
		Thresholds{},
	)

	report := monitor.CheckHealth(context.Background())
	if report.SystemStatus != StatusDegraded {
		t.Errorf("expected degraded, got %s", report.SystemStatus)
	}
	if report.Sources["b"].Status != StatusDegraded {
		t.Errorf("expected source b degraded, got %s", report.Sources["b"].Status)
	}
}

func TestMonitor_DegradedWhenPinnedAtFloor(t *testing.T) {
	tests := []struct {
		name   string
		rate   int64
		streak int
		want   SystemStatus
	}{
		{"at floor, long streak", 100, 10, StatusDegraded},
		{"at floor, short streak", 100, 9, StatusHealthy},
		{"above floor, long streak", 500, 20, StatusHealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			monitor := NewMonitor(
				&stubSources{sources: []*domain.Source{source("a", true, tt.rate, tt.streak)}},
				nil,
				Thresholds{},
			)
			h := monitor.CheckHealth(context.Background()).Sources["a"]
			if h.Status != tt.want {
				t.Errorf("expected %s, got %s", tt.want, h.Status)
			}
		})
	}
}

func TestMonitor_CriticalOnFailedJobs(t *testing.T) {
	monitor := NewMonitor(
		&stubSources{sources: []*domain.Source{source("a", true, 1000, 0)}},
		&stubJobs{counts: map[domain.DispatchState]int{domain.DispatchFailed: 6}},
		Thresholds{FailedJobs: 5},
	)

	if got := monitor.CheckHealth(context.Background()).SystemStatus; got != StatusCritical {
		t.Errorf("expected critical, got %s", got)
	}
}

func TestMonitor_CriticalWhenStoreFails(t *testing.T) {
	monitor := NewMonitor(&stubSources{err: errors.New("db down")}, nil, Thresholds{})

	report := monitor.CheckHealth(context.Background())
	if report.SystemStatus != StatusCritical || report.Error == "" {
		t.Errorf("expected critical with error, got %+v", report)
	}
}

func TestServer_Endpoints(t *testing.T) {
	monitor := NewMonitor(
		&stubSources{sources: []*domain.Source{source("a", false, 1000, 0)}},
		nil,
		Thresholds{},
	)
	srv := NewServer(monitor, 0)
	srv.MountRefresh(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["status"] != string(StatusDegraded) {
		t.Errorf("unexpected body %q", rec.Body.String())
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/detailed", nil))
	var report HealthReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("bad detailed body: %v", err)
	}
	if _, ok := report.Sources["a"]; !ok {
		t.Error("expected source a in detailed report")
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/refresh/chain_votes", nil))
	if rec.Code != http.StatusTeapot {
		t.Errorf("expected refresh handler to be mounted, got %d", rec.Code)
	}

	rec = httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("expected metrics endpoint, got %d", rec.Code)
	}
}

func TestServer_CriticalIs503(t *testing.T) {
	monitor := NewMonitor(&stubSources{err: errors.New("db down")}, nil, Thresholds{})
	srv := NewServer(monitor, 0)

	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", rec.Code)
	}
}
