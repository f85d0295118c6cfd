// Package handler implements the marketplace HTTP endpoints.
package handler

import (
	"encoding/json"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/spacedatabank/marketd/internal/domain"
)

// writeJSON marshals v and writes it with the given status code. A marshal
// failure degrades to a plain 500 body.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	w.Write(data)
}

// writeError sends a JSON-formatted error response.
func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// parseAddress validates and decodes a 0x-prefixed hex address.
func parseAddress(s string) (common.Address, bool) {
	if !common.IsHexAddress(s) {
		return common.Address{}, false
	}
	return common.HexToAddress(s), true
}

// parseAmount decodes a non-negative base-10 wei amount.
func parseAmount(s string) (*big.Int, bool) {
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, false
	}
	return n, true
}

// parseItemID decodes the {id} path parameter.
func parseItemID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id < 1 {
		return 0, false
	}
	return id, true
}

// itemView is the wire form of a market item: addresses as 0x hex, amounts as
// base-10 wei strings.
type itemView struct {
	ID            int64     `json:"id"`
	AssetContract string    `json:"asset_contract"`
	AssetID       string    `json:"asset_id"`
	Price         string    `json:"price"`
	Seller        string    `json:"seller"`
	Buyer         string    `json:"buyer,omitempty"`
	State         string    `json:"state"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
}

func viewOf(item domain.MarketItem) itemView {
	v := itemView{
		ID:            item.ID,
		AssetContract: item.AssetContract.Hex(),
		AssetID:       item.AssetID.String(),
		Price:         item.Price.String(),
		Seller:        item.Seller.Hex(),
		State:         string(item.State),
		CreatedAt:     item.CreatedAt,
		UpdatedAt:     item.UpdatedAt,
	}
	if item.HasBuyer() {
		v.Buyer = item.Buyer.Hex()
	}
	return v
}

func viewsOf(items []domain.MarketItem) []itemView {
	views := make([]itemView, 0, len(items))
	for _, item := range items {
		views = append(views, viewOf(item))
	}
	return views
}
