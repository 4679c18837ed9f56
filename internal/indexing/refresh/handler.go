package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vietddude/govwatch/internal/core/checkpoint"
	"github.com/vietddude/govwatch/internal/core/domain"
)

// maxRequestBody caps the size of a refresh request.
const maxRequestBody = 1 << 20

// Checkpointer persists the checkpoint part of a refresh outcome.
type Checkpointer interface {
	Get(ctx context.Context, id string) (*domain.Source, error)
	Advance(ctx context.Context, id string, out checkpoint.Outcome) (*domain.Source, error)
}

// Locker provides a lock shared by every replica serving refreshes.
type Locker interface {
	Acquire(ctx context.Context, name string, ttl time.Duration) (release func(), ok bool, err error)
}

// Handler serves POST /refresh/{kind}. It refreshes the source in process,
// stores the checkpoint and answers with ok or nok. Rate and status stay
// with the scheduler that called it.
//
// At most one refresh per source runs at a time; a concurrent request for
// the same source is answered nok with 409.
type Handler struct {
	refresher Refresher
	sources   Checkpointer
	locker    Locker
	lockTTL   time.Duration

	mu       sync.Mutex
	inflight map[string]struct{}

	log *slog.Logger
}

// NewHandler creates a refresh endpoint handler.
func NewHandler(refresher Refresher, sources Checkpointer) *Handler {
	return &Handler{
		refresher: refresher,
		sources:   sources,
		inflight:  make(map[string]struct{}),
		log:       slog.Default().With("component", "refresh-api"),
	}
}

// WithLocker extends the per-source guard across replicas.
func (h *Handler) WithLocker(l Locker, ttl time.Duration) *Handler {
	if ttl <= 0 {
		ttl = 2 * time.Minute
	}
	h.locker, h.lockTTL = l, ttl
	return h
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	kind, err := domain.ParseWorkKind(chi.URLParam(r, "kind"))
	if err != nil {
		writeResponse(w, http.StatusNotFound, Response{Status: StatusNOK, Error: err.Error()})
		return
	}

	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil || req.SourceID == "" {
		writeResponse(w, http.StatusBadRequest, Response{Status: StatusNOK, Error: "body must be {\"source_id\": ...}"})
		return
	}

	code, resp := h.handle(r.Context(), kind, req)
	writeResponse(w, code, resp)
}

// handle runs one refresh and returns the HTTP status it maps to.
func (h *Handler) handle(ctx context.Context, kind domain.WorkKind, req Request) (int, Response) {
	resp := Response{SourceID: req.SourceID, Status: StatusNOK}

	src, err := h.sources.Get(ctx, req.SourceID)
	if errors.Is(err, domain.ErrNotFound) {
		resp.Error = err.Error()
		return http.StatusNotFound, resp
	}
	if err != nil {
		resp.Error = err.Error()
		return http.StatusInternalServerError, resp
	}
	if src.Kind != kind {
		resp.Error = fmt.Sprintf("source %s is %s, not %s", src.ID, src.Kind, kind)
		return http.StatusBadRequest, resp
	}

	release, ok := h.acquire(ctx, src.ID)
	if !ok {
		resp.Error = fmt.Sprintf("source %s is already refreshing", src.ID)
		return http.StatusConflict, resp
	}
	defer release()

	out, err := h.refresher.Refresh(ctx, domain.WorkItem{SourceID: src.ID, Kind: kind, Voters: req.Voters})
	if err == nil {
		_, err = h.sources.Advance(ctx, src.ID, out)
	}
	if err != nil {
		h.log.Warn("Refresh failed", "source", src.ID, "kind", kind, "error", err)
		resp.Error = err.Error()
		return http.StatusOK, resp
	}

	resp.Status, resp.Idle = StatusOK, out.Idle
	return http.StatusOK, resp
}

func (h *Handler) acquire(ctx context.Context, id string) (func(), bool) {
	h.mu.Lock()
	if _, busy := h.inflight[id]; busy {
		h.mu.Unlock()
		return nil, false
	}
	h.inflight[id] = struct{}{}
	h.mu.Unlock()

	local := func() {
		h.mu.Lock()
		delete(h.inflight, id)
		h.mu.Unlock()
	}
	if h.locker == nil {
		return local, true
	}

	unlock, ok, err := h.locker.Acquire(ctx, "refresh:"+id, h.lockTTL)
	if err != nil || !ok {
		if err != nil {
			h.log.Warn("Failed to acquire refresh lock", "source", id, "error", err)
		}
		local()
		return nil, false
	}
	return func() {
		unlock()
		local()
	}, true
}

func writeResponse(w http.ResponseWriter, status int, resp Response) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(resp)
}
