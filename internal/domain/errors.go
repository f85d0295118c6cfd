package domain

import "errors"

var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidFee         = errors.New("listing fee does not match the configured fee")
	ErrInvalidPrice       = errors.New("price must be positive")
	ErrNotApproved        = errors.New("registry denies ownership or transfer approval")
	ErrTransferDenied     = errors.New("registry refused the asset transfer")
	ErrItemNotActive      = errors.New("item is not active")
	ErrPaymentMismatch    = errors.New("payment does not equal the item price")
	ErrNotSeller          = errors.New("caller is not the item seller")
	ErrAssetAlreadyListed = errors.New("asset already has an active listing")
	ErrInsufficientFunds  = errors.New("insufficient funds")
	ErrLockHeld           = errors.New("lock already held")
)
