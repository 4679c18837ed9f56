package source

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/vietddude/govwatch/internal/core/domain"
)

type nopFetcher struct{}

func (nopFetcher) FetchProposals(context.Context, domain.Source, Query) ([]domain.ProposalRecord, error) {
	return nil, nil
}

func (nopFetcher) FetchVotes(context.Context, domain.Source, Query) ([]domain.VoteRecord, error) {
	return nil, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	r.Register(FamilySnapshot, nopFetcher{})

	if _, err := r.Get(FamilySnapshot); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := r.Get("maker"); !errors.Is(err, ErrUnknownFamily) {
		t.Fatalf("expected ErrUnknownFamily, got %v", err)
	}
	if got := r.Families(); len(got) != 1 || got[0] != FamilySnapshot {
		t.Errorf("unexpected families %v", got)
	}
}

func TestTitle(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"# Increase quorum\n\nBody text", "Increase quorum"},
		{"Plain title", "Plain title"},
		{"", "Unknown"},
		{"\nsecond line only", "Unknown"},
		{strings.Repeat("a", 200), strings.Repeat("a", 120)},
	}
	for _, tt := range tests {
		if got := Title(tt.in); got != tt.want {
			t.Errorf("Title(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestTokenAmount(t *testing.T) {
	wei, _ := new(big.Int).SetString("2500000000000000000", 10)
	if got := TokenAmount(wei, 18); got != 2.5 {
		t.Errorf("TokenAmount() = %v, want 2.5", got)
	}
	if got := TokenAmount(nil, 18); got != 0 {
		t.Errorf("TokenAmount(nil) = %v, want 0", got)
	}
	if got := TokenAmount(big.NewInt(42), 0); got != 42 {
		t.Errorf("TokenAmount() = %v, want 42", got)
	}
}
