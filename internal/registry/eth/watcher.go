package eth

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/spacedatabank/marketd/internal/domain"
)

// transferTopic is keccak256("Transfer(address,address,uint256)").
var transferTopic = common.Hash(ethcrypto.Keccak256Hash([]byte("Transfer(address,address,uint256)")))

// WatchTransfers subscribes to Transfer logs on the given contract and
// republishes them as ownership-change notifications. The returned channel is
// closed when the context is cancelled or the node subscription fails; the
// ledger never consumes this stream for validation, it re-checks the registry
// directly on every mutation.
func (r *Registry) WatchTransfers(ctx context.Context, contract common.Address) (<-chan domain.TransferEvent, error) {
	query := ethereum.FilterQuery{
		Addresses: []common.Address{contract},
		Topics:    [][]common.Hash{{transferTopic}},
	}

	logs := make(chan types.Log, 64)
	sub, err := r.client.SubscribeFilterLogs(ctx, query, logs)
	if err != nil {
		return nil, fmt.Errorf("eth: subscribe transfers %s: %w", contract.Hex(), err)
	}

	out := make(chan domain.TransferEvent, 64)
	go func() {
		defer close(out)
		defer sub.Unsubscribe()

		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.Err():
				return
			case lg := <-logs:
				ev, ok := decodeTransfer(lg)
				if !ok {
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}

// decodeTransfer unpacks an ERC-721 Transfer log, where all three arguments
// are indexed topics.
func decodeTransfer(lg types.Log) (domain.TransferEvent, bool) {
	if len(lg.Topics) != 4 || lg.Topics[0] != transferTopic {
		return domain.TransferEvent{}, false
	}
	return domain.TransferEvent{
		Contract: lg.Address,
		From:     common.BytesToAddress(lg.Topics[1].Bytes()),
		To:       common.BytesToAddress(lg.Topics[2].Bytes()),
		AssetID:  new(big.Int).SetBytes(lg.Topics[3].Bytes()),
		TxHash:   lg.TxHash,
		At:       time.Now().UTC(),
	}, true
}

// Compile-time interface check.
var _ domain.TransferWatcher = (*Registry)(nil)
