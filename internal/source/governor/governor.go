// Package governor fetches proposals and votes from OpenZeppelin Governor
// and Compound Governor Bravo contracts.
package governor

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/indexing/estimator"
	"github.com/vietddude/govwatch/internal/infra/chain"
	"github.com/vietddude/govwatch/internal/source"
)

const (
	tokenDecimals = 18
	// per-window fan-out of proposal enrichment calls
	enrichConcurrency = 4
)

var (
	proposalCreatedID = parsedABI.Events["ProposalCreated"].ID
	voteCastID        = parsedABI.Events["VoteCast"].ID
)

// Fetcher implements source.ChainFetcher for governor contracts.
type Fetcher struct {
	reader    chain.Reader
	estimator *estimator.Estimator
	bravo     bool
	log       *slog.Logger
}

var _ source.ChainFetcher = (*Fetcher)(nil)

// New creates a fetcher. family selects the tally and quorum calls.
func New(reader chain.Reader, family string, blockTime time.Duration) (*Fetcher, error) {
	switch family {
	case source.FamilyGovernor, source.FamilyGovernorBravo:
	default:
		return nil, fmt.Errorf("%w: %q is not a governor family", source.ErrUnknownFamily, family)
	}
	return &Fetcher{
		reader:    reader,
		estimator: estimator.New(reader, blockTime),
		bravo:     family == source.FamilyGovernorBravo,
		log:       slog.Default().With("component", "governor", "family", family),
	}, nil
}

func (f *Fetcher) FetchProposals(ctx context.Context, src domain.Source, q source.Query) ([]domain.ProposalRecord, error) {
	if q.Window.Empty() {
		return nil, nil
	}
	addr := common.HexToAddress(src.Address)

	logs, err := f.reader.Logs(ctx, chain.LogQuery{
		From:      q.Window.From,
		To:        q.Window.To,
		Addresses: []common.Address{addr},
		Topics:    [][]common.Hash{{proposalCreatedID}},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get proposal logs: %w", err)
	}

	records := make([]domain.ProposalRecord, len(logs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(enrichConcurrency)
	for i, l := range logs {
		g.Go(func() error {
			rec, err := f.proposalFromLog(gctx, src, addr, l)
			if err != nil {
				return err
			}
			records[i] = rec
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return records, nil
}

func (f *Fetcher) proposalFromLog(ctx context.Context, src domain.Source, addr common.Address, l types.Log) (domain.ProposalRecord, error) {
	values, err := parsedABI.Unpack("ProposalCreated", l.Data)
	if err != nil || len(values) != 9 {
		return domain.ProposalRecord{}, fmt.Errorf("%w: ProposalCreated at block %d: %v", domain.ErrDecode, l.BlockNumber, err)
	}
	id, ok1 := values[0].(*big.Int)
	voteStart, ok2 := values[6].(*big.Int)
	voteEnd, ok3 := values[7].(*big.Int)
	description, ok4 := values[8].(string)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return domain.ProposalRecord{}, fmt.Errorf("%w: unexpected ProposalCreated field types", domain.ErrDecode)
	}

	created := int64(l.BlockNumber)
	createdAt, err := f.reader.BlockTime(ctx, created)
	if err != nil {
		return domain.ProposalRecord{}, fmt.Errorf("failed to get creation block time: %w", err)
	}
	ref := estimator.Reference{Block: created, Time: createdAt}

	start, err := f.estimator.Resolve(ctx, voteStart.Int64(), ref)
	if err != nil {
		return domain.ProposalRecord{}, fmt.Errorf("failed to resolve vote start: %w", err)
	}
	end, err := f.estimator.Resolve(ctx, voteEnd.Int64(), ref)
	if err != nil {
		return domain.ProposalRecord{}, fmt.Errorf("failed to resolve vote end: %w", err)
	}

	tally, err := f.tally(ctx, addr, id, created)
	if err != nil {
		return domain.ProposalRecord{}, err
	}
	state, err := f.state(ctx, addr, id)
	if err != nil {
		return domain.ProposalRecord{}, err
	}

	return domain.ProposalRecord{
		ExternalID:  id.String(),
		DAOID:       src.DAOID,
		SourceID:    src.ID,
		Title:       source.Title(description),
		TimeCreated: createdAt,
		TimeStart:   start.Time,
		TimeEnd:     end.Time,
		Origin:      created,
		Choices:     tally.Choices,
		Scores:      tally.Scores,
		ScoresTotal: tally.Total,
		Quorum:      tally.Quorum,
		URL:         src.ProposalURL + id.String(),
		State:       state,
		Visible:     true,
		Estimated:   start.Estimated || end.Estimated,
	}, nil
}

func (f *Fetcher) FetchVotes(ctx context.Context, src domain.Source, q source.Query) ([]domain.VoteRecord, error) {
	if q.Window.Empty() || len(q.Voters) == 0 {
		return nil, nil
	}

	voterTopics := make([]common.Hash, 0, len(q.Voters))
	for _, v := range q.Voters {
		voterTopics = append(voterTopics, common.BytesToHash(common.HexToAddress(v).Bytes()))
	}

	logs, err := f.reader.Logs(ctx, chain.LogQuery{
		From:      q.Window.From,
		To:        q.Window.To,
		Addresses: []common.Address{common.HexToAddress(src.Address)},
		Topics:    [][]common.Hash{{voteCastID}, voterTopics},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get vote logs: %w", err)
	}

	votes := make([]domain.VoteRecord, 0, len(logs))
	for _, l := range logs {
		if len(l.Topics) < 2 {
			return nil, fmt.Errorf("%w: VoteCast without voter topic", domain.ErrDecode)
		}
		values, err := parsedABI.Unpack("VoteCast", l.Data)
		if err != nil || len(values) != 4 {
			return nil, fmt.Errorf("%w: VoteCast at block %d: %v", domain.ErrDecode, l.BlockNumber, err)
		}
		id, _ := values[0].(*big.Int)
		support, _ := values[1].(uint8)
		weight, _ := values[2].(*big.Int)
		reason, _ := values[3].(string)
		if id == nil {
			return nil, fmt.Errorf("%w: VoteCast without proposal id", domain.ErrDecode)
		}

		votes = append(votes, domain.VoteRecord{
			ProposalExternalID: id.String(),
			DAOID:              src.DAOID,
			Voter:              strings.ToLower(common.BytesToAddress(l.Topics[1].Bytes()).Hex()),
			Choice:             supportLabel(support),
			Weight:             source.TokenAmount(weight, tokenDecimals),
			Reason:             reason,
			Origin:             int64(l.BlockNumber),
		})
	}
	return votes, nil
}

func (f *Fetcher) ResolveTimestamp(ctx context.Context, block int64) (time.Time, bool, error) {
	return f.reader.ResolveTimestamp(ctx, block)
}

func (f *Fetcher) Tally(ctx context.Context, src domain.Source, proposalID string, atBlock int64) (domain.VoteTally, error) {
	id, ok := new(big.Int).SetString(proposalID, 10)
	if !ok {
		return domain.VoteTally{}, fmt.Errorf("invalid proposal id %q", proposalID)
	}
	return f.tally(ctx, common.HexToAddress(src.Address), id, atBlock)
}

func (f *Fetcher) tally(ctx context.Context, addr common.Address, id *big.Int, atBlock int64) (domain.VoteTally, error) {
	var forVotes, againstVotes, abstainVotes *big.Int
	if f.bravo {
		out, err := f.call(ctx, addr, "proposals", id)
		if err != nil {
			return domain.VoteTally{}, err
		}
		forVotes, _ = out[5].(*big.Int)
		againstVotes, _ = out[6].(*big.Int)
		abstainVotes, _ = out[7].(*big.Int)
	} else {
		out, err := f.call(ctx, addr, "proposalVotes", id)
		if err != nil {
			return domain.VoteTally{}, err
		}
		againstVotes, _ = out[0].(*big.Int)
		forVotes, _ = out[1].(*big.Int)
		abstainVotes, _ = out[2].(*big.Int)
	}

	quorum, err := f.quorum(ctx, addr, atBlock)
	if err != nil {
		return domain.VoteTally{}, err
	}

	scores := []float64{
		source.TokenAmount(forVotes, tokenDecimals),
		source.TokenAmount(againstVotes, tokenDecimals),
		source.TokenAmount(abstainVotes, tokenDecimals),
	}
	return domain.VoteTally{
		Choices: []string{"For", "Against", "Abstain"},
		Scores:  scores,
		Total:   source.Sum(scores),
		Quorum:  quorum,
	}, nil
}

func (f *Fetcher) quorum(ctx context.Context, addr common.Address, atBlock int64) (float64, error) {
	var (
		out []any
		err error
	)
	if f.bravo {
		out, err = f.call(ctx, addr, "quorumVotes")
	} else {
		out, err = f.call(ctx, addr, "quorum", big.NewInt(atBlock))
	}
	if err != nil {
		return 0, err
	}
	q, _ := out[0].(*big.Int)
	return source.TokenAmount(q, tokenDecimals), nil
}

func (f *Fetcher) state(ctx context.Context, addr common.Address, id *big.Int) (domain.ProposalState, error) {
	out, err := f.call(ctx, addr, "state", id)
	if err != nil {
		return domain.ProposalUnknown, err
	}
	code, _ := out[0].(uint8)
	return StateFromCode(code), nil
}

func (f *Fetcher) call(ctx context.Context, addr common.Address, method string, args ...any) ([]any, error) {
	data, err := parsedABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	raw, err := f.reader.CallContract(ctx, addr, data, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	out, err := parsedABI.Unpack(method, raw)
	if err != nil || len(out) == 0 {
		return nil, fmt.Errorf("%w: %s result: %v", domain.ErrDecode, method, err)
	}
	return out, nil
}

// StateFromCode maps the shared Governor/Bravo ProposalState enum.
func StateFromCode(code uint8) domain.ProposalState {
	switch code {
	case 0:
		return domain.ProposalPending
	case 1:
		return domain.ProposalActive
	case 2:
		return domain.ProposalCanceled
	case 3:
		return domain.ProposalDefeated
	case 4:
		return domain.ProposalSucceeded
	case 5:
		return domain.ProposalQueued
	case 6:
		return domain.ProposalExpired
	case 7:
		return domain.ProposalExecuted
	default:
		return domain.ProposalUnknown
	}
}

func supportLabel(support uint8) string {
	switch support {
	case 0:
		return "Against"
	case 1:
		return "For"
	case 2:
		return "Abstain"
	default:
		return fmt.Sprintf("support_%d", support)
	}
}
