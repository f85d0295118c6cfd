package domain

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

// FeePolicy holds the fixed listing fee and the operator payout address. Both
// are set once at construction and never change for the lifetime of the
// ledger; there is no runtime fee-change operation.
type FeePolicy struct {
	// ListingFee is charged in full, up front, on every successful listing.
	// It is not escrowed and not refunded if the item never sells.
	ListingFee *big.Int

	// PayoutAddress receives every captured listing fee.
	PayoutAddress common.Address
}

// Validate checks that the policy is usable: a non-nil, non-negative fee and
// a non-zero payout address.
func (p FeePolicy) Validate() bool {
	return p.ListingFee != nil &&
		p.ListingFee.Sign() >= 0 &&
		p.PayoutAddress != (common.Address{})
}
