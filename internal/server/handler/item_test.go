package handler_test

import (
	"context"
	"encoding/json"
	"log/slog"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacedatabank/marketd/internal/domain"
	"github.com/spacedatabank/marketd/internal/ledger"
	"github.com/spacedatabank/marketd/internal/server/handler"
)

var (
	seller = common.HexToAddress("0x0000000000000000000000000000000000000001")
	buyer  = common.HexToAddress("0x0000000000000000000000000000000000000002")
	asset  = common.HexToAddress("0x00000000000000000000000000000000000000AA")
)

// stubLedger returns canned values per call; unset funcs fail the test if hit.
type stubLedger struct {
	t         *testing.T
	list      func(ledger.ListRequest) (domain.MarketItem, error)
	buy       func(int64, common.Address, *big.Int) (domain.MarketItem, error)
	delist    func(int64, common.Address) error
	get       func(int64) (domain.MarketItem, error)
	active    func() ([]domain.MarketItem, error)
	purchased func(common.Address) ([]domain.MarketItem, error)
	created   func(common.Address) ([]domain.MarketItem, error)
}

func (s *stubLedger) List(_ context.Context, req ledger.ListRequest) (domain.MarketItem, error) {
	if s.list == nil {
		s.t.Fatal("unexpected List call")
	}
	return s.list(req)
}

func (s *stubLedger) Buy(_ context.Context, id int64, b common.Address, p *big.Int) (domain.MarketItem, error) {
	if s.buy == nil {
		s.t.Fatal("unexpected Buy call")
	}
	return s.buy(id, b, p)
}

func (s *stubLedger) Delist(_ context.Context, id int64, caller common.Address) error {
	if s.delist == nil {
		s.t.Fatal("unexpected Delist call")
	}
	return s.delist(id, caller)
}

func (s *stubLedger) GetItem(_ context.Context, id int64) (domain.MarketItem, error) {
	if s.get == nil {
		s.t.Fatal("unexpected GetItem call")
	}
	return s.get(id)
}

func (s *stubLedger) ActiveItems(context.Context) ([]domain.MarketItem, error) {
	if s.active == nil {
		s.t.Fatal("unexpected ActiveItems call")
	}
	return s.active()
}

func (s *stubLedger) ItemsPurchasedBy(_ context.Context, addr common.Address) ([]domain.MarketItem, error) {
	if s.purchased == nil {
		s.t.Fatal("unexpected ItemsPurchasedBy call")
	}
	return s.purchased(addr)
}

func (s *stubLedger) ItemsCreatedBy(_ context.Context, addr common.Address) ([]domain.MarketItem, error) {
	if s.created == nil {
		s.t.Fatal("unexpected ItemsCreatedBy call")
	}
	return s.created(addr)
}

func sampleItem(id int64) domain.MarketItem {
	return domain.MarketItem{
		ID:            id,
		AssetContract: asset,
		AssetID:       big.NewInt(7),
		Price:         big.NewInt(1000),
		Seller:        seller,
		State:         domain.ItemStateActive,
		CreatedAt:     time.Now().UTC(),
		UpdatedAt:     time.Now().UTC(),
	}
}

func newMux(t *testing.T, stub *stubLedger) *http.ServeMux {
	t.Helper()
	h := handler.NewItemHandler(stub, slog.New(slog.DiscardHandler))

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/items/active", h.ListActive)
	mux.HandleFunc("GET /api/items/purchased", h.ListPurchased)
	mux.HandleFunc("GET /api/items/created", h.ListCreated)
	mux.HandleFunc("GET /api/items/{id}", h.GetItem)
	mux.HandleFunc("POST /api/items", h.CreateListing)
	mux.HandleFunc("POST /api/items/{id}/buy", h.Buy)
	mux.HandleFunc("POST /api/items/{id}/delist", h.Delist)
	return mux
}

func doJSON(t *testing.T, mux *http.ServeMux, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestCreateListing(t *testing.T) {
	stub := &stubLedger{t: t, list: func(req ledger.ListRequest) (domain.MarketItem, error) {
		assert.Equal(t, asset, req.AssetContract)
		assert.Equal(t, seller, req.Seller)
		assert.Equal(t, int64(1000), req.Price.Int64())
		assert.Equal(t, int64(25), req.FeePaid.Int64())
		return sampleItem(1), nil
	}}

	rec := doJSON(t, newMux(t, stub), http.MethodPost, "/api/items", `{
		"asset_contract": "0x00000000000000000000000000000000000000AA",
		"asset_id": "7",
		"price": "1000",
		"seller": "0x0000000000000000000000000000000000000001",
		"fee_paid": "25"
	}`)

	require.Equal(t, http.StatusCreated, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, float64(1), got["id"])
	assert.Equal(t, "active", got["state"])
	assert.Equal(t, "1000", got["price"])
	// The buyer field is omitted until sold.
	_, hasBuyer := got["buyer"]
	assert.False(t, hasBuyer)
}

func TestCreateListingRejectsBadInput(t *testing.T) {
	stub := &stubLedger{t: t}
	mux := newMux(t, stub)

	cases := []string{
		`not json`,
		`{"asset_contract":"bogus","asset_id":"7","price":"1000","seller":"0x0000000000000000000000000000000000000001","fee_paid":"25"}`,
		`{"asset_contract":"0x00000000000000000000000000000000000000AA","asset_id":"x","price":"1000","seller":"0x0000000000000000000000000000000000000001","fee_paid":"25"}`,
		`{"asset_contract":"0x00000000000000000000000000000000000000AA","asset_id":"7","price":"-1","seller":"0x0000000000000000000000000000000000000001","fee_paid":"25"}`,
	}
	for _, body := range cases {
		rec := doJSON(t, mux, http.MethodPost, "/api/items", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, "body: %s", body)
	}
}

func TestErrorStatusMapping(t *testing.T) {
	tests := []struct {
		err    error
		status int
	}{
		{domain.ErrInvalidFee, http.StatusBadRequest},
		{domain.ErrPaymentMismatch, http.StatusBadRequest},
		{domain.ErrNotApproved, http.StatusForbidden},
		{domain.ErrNotSeller, http.StatusForbidden},
		{domain.ErrItemNotActive, http.StatusConflict},
		{domain.ErrAssetAlreadyListed, http.StatusConflict},
		{domain.ErrTransferDenied, http.StatusConflict},
		{domain.ErrInsufficientFunds, http.StatusPaymentRequired},
	}

	for _, tt := range tests {
		stub := &stubLedger{t: t, list: func(ledger.ListRequest) (domain.MarketItem, error) {
			return domain.MarketItem{}, tt.err
		}}
		rec := doJSON(t, newMux(t, stub), http.MethodPost, "/api/items", `{
			"asset_contract": "0x00000000000000000000000000000000000000AA",
			"asset_id": "7",
			"price": "1000",
			"seller": "0x0000000000000000000000000000000000000001",
			"fee_paid": "25"
		}`)
		assert.Equal(t, tt.status, rec.Code, "error: %v", tt.err)
	}
}

func TestBuy(t *testing.T) {
	stub := &stubLedger{t: t, buy: func(id int64, b common.Address, payment *big.Int) (domain.MarketItem, error) {
		assert.Equal(t, int64(3), id)
		assert.Equal(t, buyer, b)
		assert.Equal(t, int64(1000), payment.Int64())
		item := sampleItem(3)
		item.State = domain.ItemStateSold
		item.Buyer = b
		return item, nil
	}}

	rec := doJSON(t, newMux(t, stub), http.MethodPost, "/api/items/3/buy", `{
		"buyer": "0x0000000000000000000000000000000000000002",
		"payment": "1000"
	}`)

	require.Equal(t, http.StatusOK, rec.Code)

	var got map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Equal(t, "sold", got["state"])
	assert.Equal(t, buyer.Hex(), got["buyer"])
}

func TestBuyUnknownItemIsConflict(t *testing.T) {
	// Purchasing an id that was never listed behaves as not-active, the same
	// as a settled listing.
	stub := &stubLedger{t: t, buy: func(int64, common.Address, *big.Int) (domain.MarketItem, error) {
		return domain.MarketItem{}, domain.ErrItemNotActive
	}}

	rec := doJSON(t, newMux(t, stub), http.MethodPost, "/api/items/99/buy", `{
		"buyer": "0x0000000000000000000000000000000000000002",
		"payment": "1000"
	}`)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestDelist(t *testing.T) {
	called := false
	stub := &stubLedger{t: t, delist: func(id int64, caller common.Address) error {
		called = true
		assert.Equal(t, int64(2), id)
		assert.Equal(t, seller, caller)
		return nil
	}}

	rec := doJSON(t, newMux(t, stub), http.MethodPost, "/api/items/2/delist", `{
		"seller": "0x0000000000000000000000000000000000000001"
	}`)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, called)
}

func TestDelistUnknownItemIsNotFound(t *testing.T) {
	stub := &stubLedger{t: t, delist: func(int64, common.Address) error {
		return domain.ErrNotFound
	}}

	rec := doJSON(t, newMux(t, stub), http.MethodPost, "/api/items/99/delist", `{
		"seller": "0x0000000000000000000000000000000000000001"
	}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetItem(t *testing.T) {
	stub := &stubLedger{t: t, get: func(id int64) (domain.MarketItem, error) {
		assert.Equal(t, int64(5), id)
		return sampleItem(5), nil
	}}

	rec := doJSON(t, newMux(t, stub), http.MethodGet, "/api/items/5", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = doJSON(t, newMux(t, &stubLedger{t: t, get: func(int64) (domain.MarketItem, error) {
		return domain.MarketItem{}, domain.ErrNotFound
	}}), http.MethodGet, "/api/items/6", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	// Non-numeric ids never reach the ledger.
	rec = doJSON(t, newMux(t, &stubLedger{t: t}), http.MethodGet, "/api/items/abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestListEndpoints(t *testing.T) {
	stub := &stubLedger{
		t: t,
		active: func() ([]domain.MarketItem, error) {
			return []domain.MarketItem{sampleItem(1), sampleItem(2)}, nil
		},
		purchased: func(addr common.Address) ([]domain.MarketItem, error) {
			assert.Equal(t, buyer, addr)
			return nil, nil
		},
		created: func(addr common.Address) ([]domain.MarketItem, error) {
			assert.Equal(t, seller, addr)
			return []domain.MarketItem{sampleItem(1)}, nil
		},
	}
	mux := newMux(t, stub)

	rec := doJSON(t, mux, http.MethodGet, "/api/items/active", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var got struct {
		Items []map[string]any `json:"items"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &got))
	assert.Len(t, got.Items, 2)

	// An empty result serializes as [], not null.
	rec = doJSON(t, mux, http.MethodGet, "/api/items/purchased?address="+buyer.Hex(), "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"items":[]}`, rec.Body.String())

	rec = doJSON(t, mux, http.MethodGet, "/api/items/created?address="+seller.Hex(), "")
	require.Equal(t, http.StatusOK, rec.Code)

	// Missing or malformed address is rejected client-side.
	rec = doJSON(t, mux, http.MethodGet, "/api/items/purchased", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
