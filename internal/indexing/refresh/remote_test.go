package refresh

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vietddude/govwatch/internal/core/domain"
)

func TestRemoteClient_OK(t *testing.T) {
	reqs := make(chan Request, 1)
	paths := make(chan string, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req Request
		_ = json.NewDecoder(r.Body).Decode(&req)
		reqs <- req
		paths <- r.URL.Path
		_ = json.NewEncoder(w).Encode(Response{SourceID: req.SourceID, Status: StatusOK})
	}))
	defer srv.Close()

	c := NewRemoteClient(srv.URL+"/", time.Second)
	_, err := c.Refresh(context.Background(), domain.WorkItem{
		SourceID: "uni", Kind: domain.KindChainVotes, Voters: []string{"0xa"},
	})
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	if p := <-paths; p != "/refresh/chain_votes" {
		t.Errorf("path = %s", p)
	}
	if req := <-reqs; req.SourceID != "uni" || len(req.Voters) != 1 {
		t.Errorf("request = %+v", req)
	}
}

func TestRemoteClient_NOK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Response{SourceID: "uni", Status: StatusNOK, Error: "boom"})
	}))
	defer srv.Close()

	c := NewRemoteClient(srv.URL, time.Second)
	_, err := c.Refresh(context.Background(), domain.WorkItem{SourceID: "uni", Kind: domain.KindChainProposals})
	if !errors.Is(err, ErrRemoteRefresh) {
		t.Fatalf("expected ErrRemoteRefresh, got %v", err)
	}
}

func TestRemoteClient_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("down"))
	}))
	defer srv.Close()

	c := NewRemoteClient(srv.URL, time.Second)
	_, err := c.Refresh(context.Background(), domain.WorkItem{SourceID: "uni", Kind: domain.KindChainProposals})
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestRemoteClient_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	c := NewRemoteClient(url, time.Second)
	_, err := c.Refresh(context.Background(), domain.WorkItem{SourceID: "uni", Kind: domain.KindChainProposals})
	if err == nil {
		t.Fatal("expected error")
	}
}

func TestRemoteClient_IdleIsPassedThrough(t *testing.T) {
	idle := true
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(Response{SourceID: "uni", Status: StatusOK, Idle: idle})
	}))
	defer srv.Close()

	c := NewRemoteClient(srv.URL, time.Second)
	item := domain.WorkItem{SourceID: "uni", Kind: domain.KindChainVotes}

	out, err := c.Refresh(context.Background(), item)
	if err != nil || !out.Idle {
		t.Fatalf("expected idle outcome, got %+v %v", out, err)
	}

	idle = false
	out, err = c.Refresh(context.Background(), item)
	if err != nil || out.Idle {
		t.Fatalf("expected busy outcome, got %+v %v", out, err)
	}
}
