package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ItemStore persists market items. Implementations must assign ids
// sequentially from 1 with no gaps, and must enforce the forward-only state
// machine: MarkSold and MarkInactive fail with ErrItemNotActive unless the
// item is currently active.
//
// All list methods return items ordered by ascending id.
type ItemStore interface {
	// Create inserts a new item in the active state and returns it with the
	// assigned id. It fails with ErrAssetAlreadyListed when another active
	// item exists for the same (asset contract, asset id) pair.
	Create(ctx context.Context, item MarketItem) (MarketItem, error)

	// GetByID returns the item with the given id, or ErrNotFound.
	GetByID(ctx context.Context, id int64) (MarketItem, error)

	// MarkSold transitions an active item to sold and records the buyer.
	MarkSold(ctx context.Context, id int64, buyer common.Address) error

	// MarkInactive transitions an active item to inactive.
	MarkInactive(ctx context.Context, id int64) error

	// ListActive returns every item still open for purchase.
	ListActive(ctx context.Context) ([]MarketItem, error)

	// ListByBuyer returns every item purchased by the given address.
	ListByBuyer(ctx context.Context, buyer common.Address) ([]MarketItem, error)

	// ListBySeller returns every item created by the given address,
	// regardless of state.
	ListBySeller(ctx context.Context, seller common.Address) ([]MarketItem, error)

	// ListSettled returns items that left the active state strictly before
	// the given cutoff time, for archival.
	ListSettled(ctx context.Context, before time.Time) ([]MarketItem, error)
}

// Treasury moves settlement funds between addresses. A transfer either
// applies in full or not at all; it fails with ErrInsufficientFunds when the
// source balance cannot cover the amount.
type Treasury interface {
	Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error
	Deposit(ctx context.Context, to common.Address, amount *big.Int) error
	Balance(ctx context.Context, addr common.Address) (*big.Int, error)
}

// ItemCache is an optional read-through cache for items keyed by id.
type ItemCache interface {
	Get(ctx context.Context, id int64) (MarketItem, error)
	Set(ctx context.Context, item MarketItem) error
	Invalidate(ctx context.Context, id int64) error
}
