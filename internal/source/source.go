// Package source defines the fetcher contract shared by every proposal
// origin and the registry that selects one by contract family.
package source

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"sync"
	"time"

	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/indexing/window"
)

// Contract families.
const (
	FamilyGovernor      = "governor"
	FamilyGovernorBravo = "governor_bravo"
	FamilyAave          = "aave"
	FamilySnapshot      = "snapshot"
)

// ErrUnknownFamily is returned when no fetcher is registered for a family.
var ErrUnknownFamily = errors.New("unknown source family")

// Query selects what one refresh fetches.
// On-chain fetchers read Window; off-chain fetchers read Since and Limit.
type Query struct {
	Window window.Window
	Since  int64
	Limit  int
	// Voters restricts vote fetches to these addresses.
	Voters []string
}

// ProposalFetcher returns proposal records for a query. It must be safe to retry.
type ProposalFetcher interface {
	FetchProposals(ctx context.Context, src domain.Source, q Query) ([]domain.ProposalRecord, error)
}

// VoteFetcher returns vote records for a query. It must be safe to retry.
type VoteFetcher interface {
	FetchVotes(ctx context.Context, src domain.Source, q Query) ([]domain.VoteRecord, error)
}

// Fetcher is the capability set every family provides.
type Fetcher interface {
	ProposalFetcher
	VoteFetcher
}

// ChainFetcher is implemented by on-chain families.
type ChainFetcher interface {
	Fetcher
	ResolveTimestamp(ctx context.Context, block int64) (time.Time, bool, error)
	Tally(ctx context.Context, src domain.Source, proposalID string, atBlock int64) (domain.VoteTally, error)
}

// Registry maps a family to its fetcher.
type Registry struct {
	mu       sync.RWMutex
	fetchers map[string]Fetcher
}

func NewRegistry() *Registry {
	return &Registry{fetchers: make(map[string]Fetcher)}
}

// Register binds family to f, replacing any previous binding.
func (r *Registry) Register(family string, f Fetcher) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fetchers[family] = f
}

// Get returns the fetcher for family.
func (r *Registry) Get(family string) (Fetcher, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.fetchers[family]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFamily, family)
	}
	return f, nil
}

// Families lists registered families.
func (r *Registry) Families() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.fetchers))
	for f := range r.fetchers {
		out = append(out, f)
	}
	return out
}

// TokenAmount converts a raw token amount to whole tokens.
func TokenAmount(v *big.Int, decimals int) float64 {
	if v == nil {
		return 0
	}
	f := new(big.Float).SetInt(v)
	if decimals > 0 {
		scale := new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(decimals)), nil))
		f.Quo(f, scale)
	}
	out, _ := f.Float64()
	return out
}

const maxTitleLen = 120

// Title derives a proposal title from a free-form description: its first
// line, trimmed of markdown heading marks and capped in length.
func Title(description string) string {
	line, _, _ := strings.Cut(description, "\n")
	line = strings.TrimSpace(strings.TrimLeft(line, "# "))
	if r := []rune(line); len(r) > maxTitleLen {
		line = string(r[:maxTitleLen])
	}
	if line == "" {
		return "Unknown"
	}
	return line
}

// Sum adds scores.
func Sum(scores []float64) float64 {
	var total float64
	for _, s := range scores {
		total += s
	}
	return total
}
