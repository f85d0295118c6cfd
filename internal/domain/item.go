package domain

import (
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// ItemState is the lifecycle state of a market item. Transitions only move
// forward: Active -> Sold or Active -> Inactive, both terminal.
type ItemState string

const (
	ItemStateActive   ItemState = "active"
	ItemStateSold     ItemState = "sold"
	ItemStateInactive ItemState = "inactive"
)

// Valid reports whether s is one of the known item states.
func (s ItemState) Valid() bool {
	switch s {
	case ItemStateActive, ItemStateSold, ItemStateInactive:
		return true
	}
	return false
}

// MarketItem is a single listing on the marketplace ledger. Items are
// append-only historical records: they are created by listing, mutated once
// by purchase or delisting, and never deleted.
type MarketItem struct {
	// ID is assigned by the item store, sequentially from 1, never reused.
	ID int64

	// AssetContract identifies the token registry instance the asset
	// belongs to.
	AssetContract common.Address

	// AssetID is the token id within that registry.
	AssetID *big.Int

	// Price is the amount the buyer must pay, in wei. Immutable once set.
	Price *big.Int

	// Seller created the listing and receives the full sale proceeds.
	Seller common.Address

	// Buyer is the zero address until the item is sold.
	Buyer common.Address

	State     ItemState
	CreatedAt time.Time
	UpdatedAt time.Time
}

// IsActive reports whether the item is still open for purchase or delisting.
func (m MarketItem) IsActive() bool {
	return m.State == ItemStateActive
}

// HasBuyer reports whether the buyer field has been populated. It holds
// exactly when State == ItemStateSold.
func (m MarketItem) HasBuyer() bool {
	return m.Buyer != (common.Address{})
}
