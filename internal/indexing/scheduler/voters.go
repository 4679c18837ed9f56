package scheduler

import (
	"context"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/govwatch/internal/infra/storage"
)

// VoterIndex caches subscriber addresses per DAO for vote refreshes.
type VoterIndex struct {
	subs     storage.SubscriptionRepository
	interval time.Duration

	mu    sync.RWMutex
	byDAO map[string][]string
	log   *slog.Logger
}

// NewVoterIndex creates an index reloaded from subs every interval.
func NewVoterIndex(subs storage.SubscriptionRepository, interval time.Duration) *VoterIndex {
	if interval <= 0 {
		interval = time.Minute
	}
	return &VoterIndex{
		subs:     subs,
		interval: interval,
		byDAO:    make(map[string][]string),
		log:      slog.Default().With("component", "voter-index"),
	}
}

// Voters returns the addresses subscribed to daoID.
func (v *VoterIndex) Voters(daoID string) []string {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return slices.Clone(v.byDAO[daoID])
}

// Reload rebuilds the index from the store.
func (v *VoterIndex) Reload(ctx context.Context) error {
	subs, err := v.subs.List(ctx)
	if err != nil {
		return err
	}

	seen := make(map[string]map[string]struct{})
	byDAO := make(map[string][]string)
	for _, s := range subs {
		addr := strings.TrimSpace(s.Address)
		if addr == "" {
			continue
		}
		key := strings.ToLower(addr)
		if seen[s.DAOID] == nil {
			seen[s.DAOID] = make(map[string]struct{})
		}
		if _, dup := seen[s.DAOID][key]; dup {
			continue
		}
		seen[s.DAOID][key] = struct{}{}
		byDAO[s.DAOID] = append(byDAO[s.DAOID], addr)
	}
	for dao := range byDAO {
		slices.Sort(byDAO[dao])
	}

	v.mu.Lock()
	v.byDAO = byDAO
	v.mu.Unlock()
	return nil
}

// Run reloads the index until ctx is done.
func (v *VoterIndex) Run(ctx context.Context) {
	if err := v.Reload(ctx); err != nil {
		v.log.Warn("Failed to load voters", "error", err)
	}

	ticker := time.NewTicker(v.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := v.Reload(ctx); err != nil {
				v.log.Warn("Failed to reload voters", "error", err)
			}
		}
	}
}
