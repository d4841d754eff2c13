// Package evm holds the shared pieces of the EVM-backed event retrievers:
// the read-only client surface they need and the concurrent block-timestamp
// enrichment they all perform after filtering.
package evm

import (
	"context"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/pkg/errors"
)

// Backend is the read-only Ethereum client surface the retrievers depend
// on. *ethclient.Client satisfies it.
type Backend interface {
	FilterLogs(ctx context.Context, query ethereum.FilterQuery) ([]types.Log, error)
	HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error)
}

// SortLogs orders logs by block number then log index, so merged scans are
// reproducible regardless of which filter answered first.
func SortLogs(logs []types.Log) {
	sort.Slice(logs, func(i, j int) bool {
		if logs[i].BlockNumber != logs[j].BlockNumber {
			return logs[i].BlockNumber < logs[j].BlockNumber
		}
		return logs[i].Index < logs[j].Index
	})
}

// BlockTimestamps resolves the timestamps of the given block numbers with
// one concurrent header lookup per distinct block.
func BlockTimestamps(ctx context.Context, client Backend, blockNumbers []uint64) (map[uint64]int64, error) {
	distinct := make(map[uint64]struct{}, len(blockNumbers))
	for _, n := range blockNumbers {
		distinct[n] = struct{}{}
	}

	timestamps := make(map[uint64]int64, len(distinct))
	var mu sync.Mutex
	var wg sync.WaitGroup
	errCh := make(chan error, len(distinct))

	for n := range distinct {
		wg.Add(1)
		go func(n uint64) {
			defer wg.Done()
			header, err := client.HeaderByNumber(ctx, new(big.Int).SetUint64(n))
			if err != nil {
				errCh <- errors.Wrapf(err, "failed to get header of block %d", n)
				return
			}
			mu.Lock()
			timestamps[n] = int64(header.Time)
			mu.Unlock()
		}(n)
	}
	wg.Wait()
	close(errCh)

	if err := <-errCh; err != nil {
		return nil, err
	}
	return timestamps, nil
}
