package governor

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/indexing/window"
	"github.com/vietddude/govwatch/internal/infra/chain"
	"github.com/vietddude/govwatch/internal/source"
)

var (
	govAddr = common.HexToAddress("0x323A76393544d5ecca80cd6ef2A560C6a395b7E3")
	voter   = common.HexToAddress("0x00000000000000000000000000000000000000aa")
	base    = time.Unix(1_700_000_000, 0).UTC()
)

func tokens(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))
}

// mockReader is a chain.Reader backed by canned logs and contract outputs.
type mockReader struct {
	logs    []types.Log
	mined   map[int64]time.Time
	outputs map[string][]any
	queries []chain.LogQuery
	err     error
}

func (m *mockReader) BlockNumber(ctx context.Context) (int64, error) { return 0, nil }

func (m *mockReader) BlockTime(ctx context.Context, n int64) (time.Time, error) {
	if ts, ok := m.mined[n]; ok {
		return ts, nil
	}
	return time.Time{}, domain.ErrNotYetMined
}

func (m *mockReader) ResolveTimestamp(ctx context.Context, n int64) (time.Time, bool, error) {
	ts, ok := m.mined[n]
	return ts, ok, nil
}

func (m *mockReader) Logs(ctx context.Context, q chain.LogQuery) ([]types.Log, error) {
	m.queries = append(m.queries, q)
	if m.err != nil {
		return nil, m.err
	}
	var out []types.Log
	for _, l := range m.logs {
		if len(q.Topics) > 0 && l.Topics[0] != q.Topics[0][0] {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (m *mockReader) CallContract(ctx context.Context, to common.Address, data []byte, block int64) ([]byte, error) {
	method, err := parsedABI.MethodById(data[:4])
	if err != nil {
		return nil, err
	}
	return method.Outputs.Pack(m.outputs[method.Name]...)
}

func proposalLog(t *testing.T, id int64, block uint64, start, end int64, description string) types.Log {
	t.Helper()
	data, err := parsedABI.Events["ProposalCreated"].Inputs.NonIndexed().Pack(
		big.NewInt(id),
		common.HexToAddress("0x01"),
		[]common.Address{},
		[]*big.Int{},
		[]string{},
		[][]byte{},
		big.NewInt(start),
		big.NewInt(end),
		description,
	)
	if err != nil {
		t.Fatalf("pack ProposalCreated: %v", err)
	}
	return types.Log{
		Address:     govAddr,
		Topics:      []common.Hash{proposalCreatedID},
		Data:        data,
		BlockNumber: block,
	}
}

func voteLog(t *testing.T, id int64, block uint64, support uint8, weight *big.Int) types.Log {
	t.Helper()
	data, err := parsedABI.Events["VoteCast"].Inputs.NonIndexed().Pack(big.NewInt(id), support, weight, "gm")
	if err != nil {
		t.Fatalf("pack VoteCast: %v", err)
	}
	return types.Log{
		Address:     govAddr,
		Topics:      []common.Hash{voteCastID, common.BytesToHash(voter.Bytes())},
		Data:        data,
		BlockNumber: block,
	}
}

func testSource(family string) domain.Source {
	return domain.Source{
		ID:          "ens-proposals",
		DAOID:       "ens",
		Kind:        domain.KindChainProposals,
		Family:      family,
		Address:     govAddr.Hex(),
		ProposalURL: "https://www.tally.xyz/gov/ens/proposal/",
	}
}

func TestFetchProposals_Governor(t *testing.T) {
	reader := &mockReader{
		logs: []types.Log{proposalLog(t, 42, 100, 101, 200, "# Fund the grants program\n\nDetails")},
		mined: map[int64]time.Time{
			100: base,
			101: base.Add(12 * time.Second),
		},
		outputs: map[string][]any{
			"proposalVotes": {tokens(1), tokens(3), tokens(0)},
			"quorum":        {tokens(10)},
			"state":         {uint8(1)},
		},
	}
	f, err := New(reader, source.FamilyGovernor, 12*time.Second)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	records, err := f.FetchProposals(context.Background(), testSource(source.FamilyGovernor), source.Query{
		Window: window.Window{From: 90, To: 150},
	})
	if err != nil {
		t.Fatalf("FetchProposals: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(records))
	}

	r := records[0]
	if r.ExternalID != "42" || r.DAOID != "ens" || r.SourceID != "ens-proposals" {
		t.Errorf("unexpected identity %+v", r)
	}
	if r.Title != "Fund the grants program" {
		t.Errorf("unexpected title %q", r.Title)
	}
	if r.Origin != 100 || !r.TimeCreated.Equal(base) {
		t.Errorf("unexpected origin %d / %v", r.Origin, r.TimeCreated)
	}
	if !r.TimeStart.Equal(base.Add(12 * time.Second)) {
		t.Errorf("expected real start time, got %v", r.TimeStart)
	}
	if want := base.Add(100 * 12 * time.Second); !r.TimeEnd.Equal(want) {
		t.Errorf("expected extrapolated end %v, got %v", want, r.TimeEnd)
	}
	if !r.Estimated {
		t.Error("expected record to be flagged estimated")
	}
	if r.State != domain.ProposalActive {
		t.Errorf("expected active, got %s", r.State)
	}
	if r.Scores[0] != 3 || r.Scores[1] != 1 || r.ScoresTotal != 4 || r.Quorum != 10 {
		t.Errorf("unexpected tally %v total=%v quorum=%v", r.Scores, r.ScoresTotal, r.Quorum)
	}
	if r.URL != "https://www.tally.xyz/gov/ens/proposal/42" {
		t.Errorf("unexpected url %q", r.URL)
	}

	q := reader.queries[0]
	if q.From != 90 || q.To != 150 || q.Addresses[0] != govAddr {
		t.Errorf("unexpected log query %+v", q)
	}
}

func TestFetchProposals_Bravo(t *testing.T) {
	reader := &mockReader{
		logs:  []types.Log{proposalLog(t, 7, 100, 110, 120, "Upgrade")},
		mined: map[int64]time.Time{100: base, 110: base.Add(time.Minute), 120: base.Add(2 * time.Minute)},
		outputs: map[string][]any{
			"proposals": {
				big.NewInt(7), common.HexToAddress("0x01"), big.NewInt(0),
				big.NewInt(110), big.NewInt(120),
				tokens(5), tokens(2), tokens(1),
				false, true,
			},
			"quorumVotes": {tokens(4)},
			"state":       {uint8(7)},
		},
	}
	f, err := New(reader, source.FamilyGovernorBravo, 0)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	records, err := f.FetchProposals(context.Background(), testSource(source.FamilyGovernorBravo), source.Query{
		Window: window.Window{From: 90, To: 150},
	})
	if err != nil {
		t.Fatalf("FetchProposals: %v", err)
	}
	r := records[0]
	if r.State != domain.ProposalExecuted {
		t.Errorf("expected executed, got %s", r.State)
	}
	if r.Estimated {
		t.Error("expected mined times not to be estimated")
	}
	if r.Scores[0] != 5 || r.Scores[1] != 2 || r.Scores[2] != 1 || r.Quorum != 4 {
		t.Errorf("unexpected bravo tally %v quorum=%v", r.Scores, r.Quorum)
	}
}

func TestFetchProposals_EmptyWindow(t *testing.T) {
	reader := &mockReader{}
	f, _ := New(reader, source.FamilyGovernor, 0)

	records, err := f.FetchProposals(context.Background(), testSource(source.FamilyGovernor), source.Query{
		Window: window.Window{From: 100, To: 95},
	})
	if err != nil || records != nil {
		t.Fatalf("expected no fetch, got %v %v", records, err)
	}
	if len(reader.queries) != 0 {
		t.Error("expected no log query for an empty window")
	}
}

func TestFetchProposals_UpstreamError(t *testing.T) {
	reader := &mockReader{err: domain.ErrUpstreamUnavailable}
	f, _ := New(reader, source.FamilyGovernor, 0)

	_, err := f.FetchProposals(context.Background(), testSource(source.FamilyGovernor), source.Query{
		Window: window.Window{From: 1, To: 10},
	})
	if !errors.Is(err, domain.ErrUpstreamUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestFetchVotes(t *testing.T) {
	reader := &mockReader{
		logs: []types.Log{voteLog(t, 42, 130, 1, tokens(250))},
	}
	f, _ := New(reader, source.FamilyGovernor, 0)

	src := testSource(source.FamilyGovernor)
	src.Kind = domain.KindChainVotes
	votes, err := f.FetchVotes(context.Background(), src, source.Query{
		Window: window.Window{From: 100, To: 150},
		Voters: []string{voter.Hex()},
	})
	if err != nil {
		t.Fatalf("FetchVotes: %v", err)
	}
	if len(votes) != 1 {
		t.Fatalf("expected 1 vote, got %d", len(votes))
	}
	v := votes[0]
	if v.ProposalExternalID != "42" || v.Choice != "For" || v.Weight != 250 || v.Origin != 130 {
		t.Errorf("unexpected vote %+v", v)
	}
	if v.Voter != "0x00000000000000000000000000000000000000aa" {
		t.Errorf("unexpected voter %q", v.Voter)
	}

	topics := reader.queries[0].Topics
	if len(topics) != 2 || topics[1][0] != common.BytesToHash(voter.Bytes()) {
		t.Errorf("expected voter topic filter, got %v", topics)
	}
}

func TestFetchVotes_NoVoters(t *testing.T) {
	reader := &mockReader{}
	f, _ := New(reader, source.FamilyGovernor, 0)

	votes, err := f.FetchVotes(context.Background(), testSource(source.FamilyGovernor), source.Query{
		Window: window.Window{From: 100, To: 150},
	})
	if err != nil || votes != nil || len(reader.queries) != 0 {
		t.Fatalf("expected no query without voters, got %v %v", votes, err)
	}
}

func TestNew_RejectsUnknownFamily(t *testing.T) {
	if _, err := New(&mockReader{}, source.FamilyAave, 0); !errors.Is(err, source.ErrUnknownFamily) {
		t.Fatalf("expected ErrUnknownFamily, got %v", err)
	}
}

func TestStateFromCode(t *testing.T) {
	if StateFromCode(3) != domain.ProposalDefeated || StateFromCode(99) != domain.ProposalUnknown {
		t.Error("unexpected state mapping")
	}
}
