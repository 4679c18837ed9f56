package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vietddude/govwatch/internal/core/checkpoint"
	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/infra/storage"
)

type stubCheckpointer struct {
	mu       sync.Mutex
	src      *domain.Source
	advanced []checkpoint.Outcome
}

func (s *stubCheckpointer) Get(_ context.Context, id string) (*domain.Source, error) {
	if s.src == nil || s.src.ID != id {
		return nil, storage.ErrSourceNotFound
	}
	c := *s.src
	return &c, nil
}

func (s *stubCheckpointer) Advance(_ context.Context, _ string, out checkpoint.Outcome) (*domain.Source, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.advanced = append(s.advanced, out)
	return s.src, nil
}

type stubRefresher struct {
	mu    sync.Mutex
	out   checkpoint.Outcome
	err   error
	items []domain.WorkItem
}

func (s *stubRefresher) Refresh(_ context.Context, item domain.WorkItem) (checkpoint.Outcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items = append(s.items, item)
	return s.out, s.err
}

func serve(t *testing.T, h *Handler, kind, body string) (int, Response) {
	t.Helper()
	r := chi.NewRouter()
	r.Method(http.MethodPost, "/refresh/{kind}", h)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/refresh/"+kind, strings.NewReader(body)))

	var resp Response
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body %q: %v", rec.Body.String(), err)
	}
	return rec.Code, resp
}

func TestHandler_OK(t *testing.T) {
	cp := &stubCheckpointer{src: &domain.Source{ID: "uni-votes", Kind: domain.KindChainVotes}}
	rf := &stubRefresher{out: checkpoint.Outcome{Advance: true, Checkpoint: 300}}
	h := NewHandler(rf, cp)

	code, resp := serve(t, h, "chain_votes", `{"source_id":"uni-votes","voters":["0xabc"]}`)
	if code != http.StatusOK || resp.Status != StatusOK || resp.SourceID != "uni-votes" {
		t.Fatalf("unexpected response %d %+v", code, resp)
	}
	if len(rf.items) != 1 || rf.items[0].Voters[0] != "0xabc" || rf.items[0].Kind != domain.KindChainVotes {
		t.Errorf("unexpected work item %+v", rf.items)
	}
	if len(cp.advanced) != 1 || cp.advanced[0].Checkpoint != 300 {
		t.Errorf("expected checkpoint 300 to be advanced, got %+v", cp.advanced)
	}
}

func TestHandler_RefreshFailureIsNOK(t *testing.T) {
	cp := &stubCheckpointer{src: &domain.Source{ID: "s", Kind: domain.KindSnapshotProposals}}
	rf := &stubRefresher{err: errors.New("hub down")}
	h := NewHandler(rf, cp)

	code, resp := serve(t, h, "snapshot_proposals", `{"source_id":"s"}`)
	if code != http.StatusOK || resp.Status != StatusNOK || !strings.Contains(resp.Error, "hub down") {
		t.Fatalf("unexpected response %d %+v", code, resp)
	}
	if len(cp.advanced) != 0 {
		t.Error("failed refresh must not advance the checkpoint")
	}
}

func TestHandler_BadRequests(t *testing.T) {
	cp := &stubCheckpointer{src: &domain.Source{ID: "s", Kind: domain.KindSnapshotProposals}}
	h := NewHandler(&stubRefresher{}, cp)

	tests := []struct {
		name string
		kind string
		body string
		code int
	}{
		{"unknown kind", "chain_blocks", `{"source_id":"s"}`, http.StatusNotFound},
		{"bad body", "snapshot_proposals", `nope`, http.StatusBadRequest},
		{"missing id", "snapshot_proposals", `{}`, http.StatusBadRequest},
		{"unknown source", "snapshot_proposals", `{"source_id":"x"}`, http.StatusNotFound},
		{"kind mismatch", "chain_votes", `{"source_id":"s"}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, resp := serve(t, h, tt.kind, tt.body)
			if code != tt.code || resp.Status != StatusNOK {
				t.Errorf("got %d %+v, want %d nok", code, resp, tt.code)
			}
		})
	}
}

func TestHandler_ReportsIdle(t *testing.T) {
	cp := &stubCheckpointer{src: &domain.Source{ID: "uni-votes", Kind: domain.KindChainVotes}}
	h := NewHandler(&stubRefresher{out: checkpoint.Outcome{Idle: true}}, cp)

	code, resp := serve(t, h, "chain_votes", `{"source_id":"uni-votes"}`)
	if code != http.StatusOK || resp.Status != StatusOK || !resp.Idle {
		t.Fatalf("expected idle ok, got %d %+v", code, resp)
	}
}

type denyLocker struct {
	mu    sync.Mutex
	names []string
}

func (d *denyLocker) Acquire(_ context.Context, name string, _ time.Duration) (func(), bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.names = append(d.names, name)
	return nil, false, nil
}

func TestHandler_LockedElsewhere(t *testing.T) {
	cp := &stubCheckpointer{src: &domain.Source{ID: "s", Kind: domain.KindSnapshotProposals}}
	rf := &stubRefresher{}
	locker := &denyLocker{}
	h := NewHandler(rf, cp).WithLocker(locker, time.Minute)

	code, resp := serve(t, h, "snapshot_proposals", `{"source_id":"s"}`)
	if code != http.StatusConflict || resp.Status != StatusNOK {
		t.Fatalf("expected 409 nok, got %d %+v", code, resp)
	}
	if len(rf.items) != 0 || len(cp.advanced) != 0 {
		t.Error("a locked source must not be refreshed")
	}
	if len(locker.names) != 1 || locker.names[0] != "refresh:s" {
		t.Errorf("unexpected lock names %v", locker.names)
	}

	// the local guard is released after a denied lock
	h.locker = nil
	if code, _ := serve(t, h, "snapshot_proposals", `{"source_id":"s"}`); code != http.StatusOK {
		t.Errorf("expected 200 once the lock is gone, got %d", code)
	}
}

type blockingRefresher struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingRefresher) Refresh(ctx context.Context, _ domain.WorkItem) (checkpoint.Outcome, error) {
	close(b.started)
	select {
	case <-b.release:
		return checkpoint.Outcome{}, nil
	case <-ctx.Done():
		return checkpoint.Outcome{}, ctx.Err()
	}
}

func TestHandler_OneRefreshPerSource(t *testing.T) {
	cp := &stubCheckpointer{src: &domain.Source{ID: "s", Kind: domain.KindSnapshotProposals}}
	rf := &blockingRefresher{started: make(chan struct{}), release: make(chan struct{})}
	h := NewHandler(rf, cp)

	first := make(chan int, 1)
	go func() {
		code, _ := h.handle(context.Background(), domain.KindSnapshotProposals, Request{SourceID: "s"})
		first <- code
	}()
	<-rf.started

	code, resp := serve(t, h, "snapshot_proposals", `{"source_id":"s"}`)
	if code != http.StatusConflict || !strings.Contains(resp.Error, "already refreshing") {
		t.Errorf("expected 409 while refreshing, got %d %+v", code, resp)
	}

	close(rf.release)
	if code := <-first; code != http.StatusOK {
		t.Errorf("first refresh got %d", code)
	}
}
