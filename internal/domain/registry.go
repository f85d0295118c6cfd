package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// TokenRegistry is the external system of record for asset ownership and
// transfer approval. The ledger depends on it but never implements it, and it
// must treat every call as potentially failing because of state that changed
// since any prior check: ownership and approval are re-validated at call
// time, never cached.
type TokenRegistry interface {
	// OwnerOf returns the current owner of the asset.
	OwnerOf(ctx context.Context, contract common.Address, assetID *big.Int) (common.Address, error)

	// IsApprovedForTransfer reports whether spender currently holds transfer
	// approval for the asset, either directly or via an operator approval.
	IsApprovedForTransfer(ctx context.Context, contract common.Address, assetID *big.Int, spender common.Address) (bool, error)

	// Transfer moves the asset from its current owner to the recipient. It
	// fails when from is no longer the owner or the caller's approval has
	// been revoked.
	Transfer(ctx context.Context, contract common.Address, assetID *big.Int, from, to common.Address) error
}

// TransferEvent is an ownership-change notification emitted by the registry.
// A transfer with a zero From address is a mint.
type TransferEvent struct {
	Contract common.Address
	AssetID  *big.Int
	From     common.Address
	To       common.Address
	TxHash   common.Hash
	At       time.Time
}

// TransferWatcher streams ownership-change notifications from a registry
// contract. The returned channel is closed when the context is cancelled or
// the underlying subscription fails.
type TransferWatcher interface {
	WatchTransfers(ctx context.Context, contract common.Address) (<-chan TransferEvent, error)
}
