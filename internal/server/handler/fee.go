package handler

import (
	"log/slog"
	"net/http"

	"github.com/spacedatabank/marketd/internal/domain"
)

// FeeSource exposes the fee policy. Satisfied by the ledger.
type FeeSource interface {
	ListingFee() domain.FeePolicy
}

// FeeHandler serves the listing-fee endpoint.
type FeeHandler struct {
	fees   FeeSource
	logger *slog.Logger
}

// NewFeeHandler creates a FeeHandler.
func NewFeeHandler(fees FeeSource, logger *slog.Logger) *FeeHandler {
	return &FeeHandler{fees: fees, logger: logger}
}

// GetFee returns the listing fee a seller must pay upfront.
// GET /api/fee
func (h *FeeHandler) GetFee(w http.ResponseWriter, r *http.Request) {
	policy := h.fees.ListingFee()
	writeJSON(w, http.StatusOK, map[string]string{
		"listing_fee": policy.ListingFee.String(),
		"payout":      policy.PayoutAddress.Hex(),
	})
}
