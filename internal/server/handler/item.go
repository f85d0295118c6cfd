package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"math/big"
	"net/http"

	"github.com/ethereum/go-ethereum/common"

	"github.com/spacedatabank/marketd/internal/domain"
	"github.com/spacedatabank/marketd/internal/ledger"
)

// LedgerService defines what the item handler needs from the ledger. It is
// declared locally so the handler package depends on behavior, not the
// concrete ledger type.
type LedgerService interface {
	List(ctx context.Context, req ledger.ListRequest) (domain.MarketItem, error)
	Buy(ctx context.Context, itemID int64, buyer common.Address, payment *big.Int) (domain.MarketItem, error)
	Delist(ctx context.Context, itemID int64, caller common.Address) error
	GetItem(ctx context.Context, id int64) (domain.MarketItem, error)
	ActiveItems(ctx context.Context) ([]domain.MarketItem, error)
	ItemsPurchasedBy(ctx context.Context, buyer common.Address) ([]domain.MarketItem, error)
	ItemsCreatedBy(ctx context.Context, seller common.Address) ([]domain.MarketItem, error)
}

// ItemHandler serves the market item endpoints.
type ItemHandler struct {
	ledger LedgerService
	logger *slog.Logger
}

// NewItemHandler creates an ItemHandler with the given ledger and logger.
func NewItemHandler(ledger LedgerService, logger *slog.Logger) *ItemHandler {
	return &ItemHandler{ledger: ledger, logger: logger}
}

// listItemsResponse wraps the list endpoints' output.
type listItemsResponse struct {
	Items []itemView `json:"items"`
}

// createListingRequest is the body of POST /api/items. Amounts are base-10
// wei strings.
type createListingRequest struct {
	AssetContract string `json:"asset_contract"`
	AssetID       string `json:"asset_id"`
	Price         string `json:"price"`
	Seller        string `json:"seller"`
	FeePaid       string `json:"fee_paid"`
}

// CreateListing lists an asset for sale.
// POST /api/items
func (h *ItemHandler) CreateListing(w http.ResponseWriter, r *http.Request) {
	var body createListingRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	contract, ok := parseAddress(body.AssetContract)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid asset_contract address")
		return
	}
	seller, ok := parseAddress(body.Seller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid seller address")
		return
	}
	assetID, ok := parseAmount(body.AssetID)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid asset_id")
		return
	}
	price, ok := parseAmount(body.Price)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid price")
		return
	}
	feePaid, ok := parseAmount(body.FeePaid)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid fee_paid")
		return
	}

	item, err := h.ledger.List(r.Context(), ledger.ListRequest{
		AssetContract: contract,
		AssetID:       assetID,
		Price:         price,
		Seller:        seller,
		FeePaid:       feePaid,
	})
	if err != nil {
		h.fail(w, r, "create listing", err)
		return
	}

	writeJSON(w, http.StatusCreated, viewOf(item))
}

// buyRequest is the body of POST /api/items/{id}/buy.
type buyRequest struct {
	Buyer   string `json:"buyer"`
	Payment string `json:"payment"`
}

// Buy purchases an active item.
// POST /api/items/{id}/buy
func (h *ItemHandler) Buy(w http.ResponseWriter, r *http.Request) {
	id, ok := parseItemID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	var body buyRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	buyer, ok := parseAddress(body.Buyer)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid buyer address")
		return
	}
	payment, ok := parseAmount(body.Payment)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid payment")
		return
	}

	item, err := h.ledger.Buy(r.Context(), id, buyer, payment)
	if err != nil {
		h.fail(w, r, "buy", err)
		return
	}

	writeJSON(w, http.StatusOK, viewOf(item))
}

// delistRequest is the body of POST /api/items/{id}/delist.
type delistRequest struct {
	Seller string `json:"seller"`
}

// Delist withdraws an active item. Only the seller may do this; the upfront
// listing fee is not returned.
// POST /api/items/{id}/delist
func (h *ItemHandler) Delist(w http.ResponseWriter, r *http.Request) {
	id, ok := parseItemID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	var body delistRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}

	caller, ok := parseAddress(body.Seller)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid seller address")
		return
	}

	if err := h.ledger.Delist(r.Context(), id, caller); err != nil {
		h.fail(w, r, "delist", err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "delisted",
		"item_id": id,
	})
}

// GetItem returns a single item by id.
// GET /api/items/{id}
func (h *ItemHandler) GetItem(w http.ResponseWriter, r *http.Request) {
	id, ok := parseItemID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}

	item, err := h.ledger.GetItem(r.Context(), id)
	if err != nil {
		h.fail(w, r, "get item", err)
		return
	}

	writeJSON(w, http.StatusOK, viewOf(item))
}

// ListActive returns all unsold, undelisted items ordered by id.
// GET /api/items/active
func (h *ItemHandler) ListActive(w http.ResponseWriter, r *http.Request) {
	items, err := h.ledger.ActiveItems(r.Context())
	if err != nil {
		h.fail(w, r, "list active", err)
		return
	}
	writeJSON(w, http.StatusOK, listItemsResponse{Items: viewsOf(items)})
}

// ListPurchased returns items bought by the given address, ordered by id.
// GET /api/items/purchased?address=0x...
func (h *ItemHandler) ListPurchased(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(r.URL.Query().Get("address"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid or missing address")
		return
	}

	items, err := h.ledger.ItemsPurchasedBy(r.Context(), addr)
	if err != nil {
		h.fail(w, r, "list purchased", err)
		return
	}
	writeJSON(w, http.StatusOK, listItemsResponse{Items: viewsOf(items)})
}

// ListCreated returns items listed by the given seller in any state, ordered
// by id.
// GET /api/items/created?address=0x...
func (h *ItemHandler) ListCreated(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(r.URL.Query().Get("address"))
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid or missing address")
		return
	}

	items, err := h.ledger.ItemsCreatedBy(r.Context(), addr)
	if err != nil {
		h.fail(w, r, "list created", err)
		return
	}
	writeJSON(w, http.StatusOK, listItemsResponse{Items: viewsOf(items)})
}

// fail maps ledger errors onto HTTP statuses. Domain errors surface their
// message; anything else is logged and hidden behind a 500.
func (h *ItemHandler) fail(w http.ResponseWriter, r *http.Request, op string, err error) {
	if status, ok := statusFor(err); ok {
		writeError(w, status, err.Error())
		return
	}
	h.logger.ErrorContext(r.Context(), "handler: "+op+" failed",
		slog.String("error", err.Error()),
	)
	writeError(w, http.StatusInternalServerError, "failed to "+op)
}

func statusFor(err error) (int, bool) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, true
	case errors.Is(err, domain.ErrInvalidFee),
		errors.Is(err, domain.ErrInvalidPrice),
		errors.Is(err, domain.ErrPaymentMismatch):
		return http.StatusBadRequest, true
	case errors.Is(err, domain.ErrNotApproved),
		errors.Is(err, domain.ErrNotSeller):
		return http.StatusForbidden, true
	case errors.Is(err, domain.ErrInsufficientFunds):
		return http.StatusPaymentRequired, true
	case errors.Is(err, domain.ErrItemNotActive),
		errors.Is(err, domain.ErrAssetAlreadyListed),
		errors.Is(err, domain.ErrTransferDenied),
		errors.Is(err, domain.ErrLockHeld):
		return http.StatusConflict, true
	}
	return 0, false
}
