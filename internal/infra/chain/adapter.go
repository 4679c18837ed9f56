package chain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Reader is the chain access the on-chain fetchers need.
// It is the boundary between the governance sources and the node transport.
type Reader interface {
	// BlockNumber returns the latest block number on the chain
	BlockNumber(ctx context.Context) (int64, error)

	// BlockTime returns the timestamp of a mined block, or an error wrapping
	// domain.ErrNotYetMined
	BlockTime(ctx context.Context, number int64) (time.Time, error)

	// ResolveTimestamp is BlockTime with "not mined" reported through ok
	ResolveTimestamp(ctx context.Context, number int64) (time.Time, bool, error)

	// Logs returns the logs matching q
	Logs(ctx context.Context, q LogQuery) ([]types.Log, error)

	// CallContract executes a read-only call at the given block (<= 0 means latest)
	CallContract(ctx context.Context, to common.Address, data []byte, block int64) ([]byte, error)
}

// LogQuery selects logs in an inclusive block range.
// Topics follows eth_getLogs positional matching: nil matches anything.
type LogQuery struct {
	From      int64
	To        int64
	Addresses []common.Address
	Topics    [][]common.Hash
}
