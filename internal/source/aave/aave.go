// Package aave fetches proposals and votes from the Aave v2 governance contract.
package aave

import (
	"context"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/indexing/estimator"
	"github.com/vietddude/govwatch/internal/infra/chain"
	"github.com/vietddude/govwatch/internal/source"
)

const (
	tokenDecimals     = 18
	enrichConcurrency = 4
)

var (
	proposalCreatedID = govABI.Events["ProposalCreated"].ID
	voteEmittedID     = govABI.Events["VoteEmitted"].ID
)

// Fetcher implements source.ChainFetcher for Aave v2.
type Fetcher struct {
	reader    chain.Reader
	estimator *estimator.Estimator
	log       *slog.Logger
}

var _ source.ChainFetcher = (*Fetcher)(nil)

func New(reader chain.Reader, blockTime time.Duration) *Fetcher {
	return &Fetcher{
		reader:    reader,
		estimator: estimator.New(reader, blockTime),
		log:       slog.Default().With("component", "aave"),
	}
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
	values, err := govABI.Unpack("ProposalCreated", l.Data)
	if err != nil || len(values) != 10 {
		return domain.ProposalRecord{}, fmt.Errorf("%w: ProposalCreated at block %d: %v", domain.ErrDecode, l.BlockNumber, err)
	}
	// non-indexed: id, targets, values, signatures, calldatas, withDelegatecalls,
	// startBlock, endBlock, strategy, ipfsHash
	id, ok1 := values[0].(*big.Int)
	startBlock, ok2 := values[6].(*big.Int)
	endBlock, ok3 := values[7].(*big.Int)
	strategy, ok4 := values[8].(common.Address)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return domain.ProposalRecord{}, fmt.Errorf("%w: unexpected ProposalCreated field types", domain.ErrDecode)
	}
	if len(l.Topics) < 3 {
		return domain.ProposalRecord{}, fmt.Errorf("%w: ProposalCreated without executor topic", domain.ErrDecode)
	}
	executor := common.BytesToAddress(l.Topics[2].Bytes())

	created := int64(l.BlockNumber)
	createdAt, err := f.reader.BlockTime(ctx, created)
	if err != nil {
		return domain.ProposalRecord{}, fmt.Errorf("failed to get creation block time: %w", err)
	}
	ref := estimator.Reference{Block: created, Time: createdAt}

	start, err := f.estimator.Resolve(ctx, startBlock.Int64(), ref)
	if err != nil {
		return domain.ProposalRecord{}, fmt.Errorf("failed to resolve vote start: %w", err)
	}
	end, err := f.estimator.Resolve(ctx, endBlock.Int64(), ref)
	if err != nil {
		return domain.ProposalRecord{}, fmt.Errorf("failed to resolve vote end: %w", err)
	}

	tally, err := f.tally(ctx, addr, id)
	if err != nil {
		return domain.ProposalRecord{}, err
	}
	quorum, err := f.quorum(ctx, strategy, executor, created)
	if err != nil {
		return domain.ProposalRecord{}, err
	}
	tally.Quorum = quorum

	state, err := f.state(ctx, addr, id)
	if err != nil {
		return domain.ProposalRecord{}, err
	}

	return domain.ProposalRecord{
		ExternalID:  id.String(),
		DAOID:       src.DAOID,
		SourceID:    src.ID,
		Title:       fmt.Sprintf("Aave proposal #%s", id.String()),
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
		Topics:    [][]common.Hash{{voteEmittedID}, voterTopics},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get vote logs: %w", err)
	}

	votes := make([]domain.VoteRecord, 0, len(logs))
	for _, l := range logs {
		if len(l.Topics) < 2 {
			return nil, fmt.Errorf("%w: VoteEmitted without voter topic", domain.ErrDecode)
		}
		values, err := govABI.Unpack("VoteEmitted", l.Data)
		if err != nil || len(values) != 3 {
			return nil, fmt.Errorf("%w: VoteEmitted at block %d: %v", domain.ErrDecode, l.BlockNumber, err)
		}
		id, _ := values[0].(*big.Int)
		support, _ := values[1].(bool)
		power, _ := values[2].(*big.Int)
		if id == nil {
			return nil, fmt.Errorf("%w: VoteEmitted without proposal id", domain.ErrDecode)
		}

		choice := "Against"
		if support {
			choice = "For"
		}
		votes = append(votes, domain.VoteRecord{
			ProposalExternalID: id.String(),
			DAOID:              src.DAOID,
			Voter:              strings.ToLower(common.BytesToAddress(l.Topics[1].Bytes()).Hex()),
			Choice:             choice,
			Weight:             source.TokenAmount(power, tokenDecimals),
			Origin:             int64(l.BlockNumber),
		})
	}
	return votes, nil
}

func (f *Fetcher) ResolveTimestamp(ctx context.Context, block int64) (time.Time, bool, error) {
	return f.reader.ResolveTimestamp(ctx, block)
}

// Tally reads the live for/against totals. Quorum needs the proposal's
// strategy and is left zero here; FetchProposals fills it.
func (f *Fetcher) Tally(ctx context.Context, src domain.Source, proposalID string, atBlock int64) (domain.VoteTally, error) {
	id, ok := new(big.Int).SetString(proposalID, 10)
	if !ok {
		return domain.VoteTally{}, fmt.Errorf("invalid proposal id %q", proposalID)
	}
	return f.tally(ctx, common.HexToAddress(src.Address), id)
}

func (f *Fetcher) tally(ctx context.Context, addr common.Address, id *big.Int) (domain.VoteTally, error) {
	out, err := call(ctx, f.reader, govABI, addr, "getProposalById", id)
	if err != nil {
		return domain.VoteTally{}, err
	}
	p, ok := abi.ConvertType(out[0], new(proposalWithoutVotes)).(*proposalWithoutVotes)
	if !ok {
		return domain.VoteTally{}, fmt.Errorf("%w: unexpected getProposalById result", domain.ErrDecode)
	}

	scores := []float64{
		source.TokenAmount(p.ForVotes, tokenDecimals),
		source.TokenAmount(p.AgainstVotes, tokenDecimals),
	}
	return domain.VoteTally{
		Choices: []string{"For", "Against"},
		Scores:  scores,
		Total:   source.Sum(scores),
	}, nil
}

func (f *Fetcher) quorum(ctx context.Context, strategy, executor common.Address, atBlock int64) (float64, error) {
	supplyOut, err := call(ctx, f.reader, helperABI, strategy, "getTotalVotingSupplyAt", big.NewInt(atBlock))
	if err != nil {
		return 0, err
	}
	minOut, err := call(ctx, f.reader, helperABI, executor, "MINIMUM_QUORUM")
	if err != nil {
		return 0, err
	}
	precisionOut, err := call(ctx, f.reader, helperABI, executor, "ONE_HUNDRED_WITH_PRECISION")
	if err != nil {
		return 0, err
	}

	supply, _ := supplyOut[0].(*big.Int)
	minQuorum, _ := minOut[0].(*big.Int)
	precision, _ := precisionOut[0].(*big.Int)
	if supply == nil || minQuorum == nil || precision == nil || precision.Sign() == 0 {
		return 0, fmt.Errorf("%w: invalid quorum inputs", domain.ErrDecode)
	}

	q := new(big.Int).Mul(supply, minQuorum)
	q.Quo(q, precision)
	return source.TokenAmount(q, tokenDecimals), nil
}

func (f *Fetcher) state(ctx context.Context, addr common.Address, id *big.Int) (domain.ProposalState, error) {
	out, err := call(ctx, f.reader, govABI, addr, "getProposalState", id)
	if err != nil {
		return domain.ProposalUnknown, err
	}
	code, _ := out[0].(uint8)
	return StateFromCode(code), nil
}

func call(ctx context.Context, reader chain.Reader, contract abi.ABI, addr common.Address, method string, args ...any) ([]any, error) {
	data, err := contract.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to pack %s: %w", method, err)
	}
	raw, err := reader.CallContract(ctx, addr, data, 0)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s: %w", method, err)
	}
	out, err := contract.Unpack(method, raw)
	if err != nil || len(out) == 0 {
		return nil, fmt.Errorf("%w: %s result: %v", domain.ErrDecode, method, err)
	}
	return out, nil
}

// StateFromCode maps IAaveGovernanceV2.ProposalState.
func StateFromCode(code uint8) domain.ProposalState {
	switch code {
	case 0:
		return domain.ProposalPending
	case 1:
		return domain.ProposalCanceled
	case 2:
		return domain.ProposalActive
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
