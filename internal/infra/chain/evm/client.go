// Package evm talks to EVM nodes over JSON-RPC.
package evm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/vietddude/govwatch/internal/core/domain"
	"github.com/vietddude/govwatch/internal/indexing/metrics"
	"github.com/vietddude/govwatch/internal/infra/chain"
)

// Caller performs one JSON-RPC call. *rpc.Client implements it.
type Caller interface {
	Call(ctx context.Context, method string, params []any, out any) error
}

// Client implements chain.Reader.
type Client struct {
	name   string
	caller Caller
	log    *slog.Logger
}

var _ chain.Reader = (*Client)(nil)

func NewClient(name string, caller Caller) *Client {
	return &Client{
		name:   name,
		caller: caller,
		log:    slog.Default().With("component", "evm", "upstream", name),
	}
}

func (c *Client) BlockNumber(ctx context.Context) (int64, error) {
	var head hexutil.Uint64
	if err := c.caller.Call(ctx, "eth_blockNumber", nil, &head); err != nil {
		return 0, fmt.Errorf("eth_blockNumber failed: %w", err)
	}
	metrics.ChainHead.WithLabelValues(c.name).Set(float64(head))
	return int64(head), nil
}

type blockHeader struct {
	Number    hexutil.Uint64 `json:"number"`
	Hash      common.Hash    `json:"hash"`
	Timestamp hexutil.Uint64 `json:"timestamp"`
}

func (c *Client) BlockTime(ctx context.Context, number int64) (time.Time, error) {
	var header *blockHeader
	err := c.caller.Call(ctx, "eth_getBlockByNumber", []any{hexutil.EncodeUint64(uint64(number)), false}, &header)
	if err != nil {
		return time.Time{}, fmt.Errorf("eth_getBlockByNumber %d failed: %w", number, err)
	}
	if header == nil {
		return time.Time{}, fmt.Errorf("block %d: %w", number, domain.ErrNotYetMined)
	}
	return time.Unix(int64(header.Timestamp), 0).UTC(), nil
}

func (c *Client) ResolveTimestamp(ctx context.Context, number int64) (time.Time, bool, error) {
	ts, err := c.BlockTime(ctx, number)
	if errors.Is(err, domain.ErrNotYetMined) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, err
	}
	return ts, true, nil
}

type logFilter struct {
	FromBlock string           `json:"fromBlock"`
	ToBlock   string           `json:"toBlock"`
	Address   []common.Address `json:"address,omitempty"`
	Topics    [][]common.Hash  `json:"topics,omitempty"`
}

func (c *Client) Logs(ctx context.Context, q chain.LogQuery) ([]types.Log, error) {
	if q.To < q.From {
		return nil, nil
	}
	filter := logFilter{
		FromBlock: hexutil.EncodeUint64(uint64(q.From)),
		ToBlock:   hexutil.EncodeUint64(uint64(q.To)),
		Address:   q.Addresses,
		Topics:    q.Topics,
	}

	var logs []types.Log
	if err := c.caller.Call(ctx, "eth_getLogs", []any{filter}, &logs); err != nil {
		return nil, fmt.Errorf("eth_getLogs [%d, %d] failed: %w", q.From, q.To, err)
	}

	kept := logs[:0]
	for _, l := range logs {
		if l.Removed {
			continue
		}
		kept = append(kept, l)
	}
	if dropped := len(logs) - len(kept); dropped > 0 {
		c.log.Debug("dropped removed logs", "count", dropped, "from", q.From, "to", q.To)
	}
	return kept, nil
}

func (c *Client) CallContract(ctx context.Context, to common.Address, data []byte, block int64) ([]byte, error) {
	tag := "latest"
	if block > 0 {
		tag = hexutil.EncodeUint64(uint64(block))
	}
	msg := map[string]any{
		"to":   to,
		"data": hexutil.Bytes(data),
	}

	var out hexutil.Bytes
	if err := c.caller.Call(ctx, "eth_call", []any{msg, tag}, &out); err != nil {
		return nil, fmt.Errorf("eth_call %s failed: %w", to.Hex(), err)
	}
	return out, nil
}
