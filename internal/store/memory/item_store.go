// Package memory implements the item store in process memory. It backs the
// test suite and redis/postgres-free deployments; the semantics (dense ids,
// one active listing per asset, terminal state transitions) match the
// postgres implementation exactly.
package memory

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/spacedatabank/marketd/internal/domain"
)

// ItemStore implements domain.ItemStore with a mutex-guarded map.
type ItemStore struct {
	mu     sync.RWMutex
	items  map[int64]domain.MarketItem
	nextID int64
}

// NewItemStore creates an empty ItemStore. The first assigned id is 1.
func NewItemStore() *ItemStore {
	return &ItemStore{
		items:  make(map[int64]domain.MarketItem),
		nextID: 1,
	}
}

func assetKey(contract common.Address, assetID *big.Int) string {
	return contract.Hex() + "/" + assetID.String()
}

// Create inserts item with the next sequential id and state active.
func (s *ItemStore) Create(ctx context.Context, item domain.MarketItem) (domain.MarketItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := assetKey(item.AssetContract, item.AssetID)
	for _, existing := range s.items {
		if existing.State == domain.ItemStateActive && assetKey(existing.AssetContract, existing.AssetID) == key {
			return domain.MarketItem{}, domain.ErrAssetAlreadyListed
		}
	}

	now := time.Now().UTC()
	item.ID = s.nextID
	item.State = domain.ItemStateActive
	item.Buyer = common.Address{}
	item.CreatedAt = now
	item.UpdatedAt = now

	s.items[item.ID] = item
	s.nextID++

	return item, nil
}

// GetByID returns the item with the given id.
func (s *ItemStore) GetByID(ctx context.Context, id int64) (domain.MarketItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.items[id]
	if !ok {
		return domain.MarketItem{}, domain.ErrNotFound
	}
	return item, nil
}

// MarkSold transitions an active item to sold and records the buyer.
func (s *ItemStore) MarkSold(ctx context.Context, id int64, buyer common.Address) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	if item.State != domain.ItemStateActive {
		return domain.ErrItemNotActive
	}

	item.State = domain.ItemStateSold
	item.Buyer = buyer
	item.UpdatedAt = time.Now().UTC()
	s.items[id] = item
	return nil
}

// MarkInactive transitions an active item to inactive.
func (s *ItemStore) MarkInactive(ctx context.Context, id int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[id]
	if !ok {
		return domain.ErrNotFound
	}
	if item.State != domain.ItemStateActive {
		return domain.ErrItemNotActive
	}

	item.State = domain.ItemStateInactive
	item.UpdatedAt = time.Now().UTC()
	s.items[id] = item
	return nil
}

// ListActive returns active items ordered by ascending id.
func (s *ItemStore) ListActive(ctx context.Context) ([]domain.MarketItem, error) {
	return s.list(func(item domain.MarketItem) bool {
		return item.State == domain.ItemStateActive
	})
}

// ListByBuyer returns items purchased by the given address, ascending by id.
func (s *ItemStore) ListByBuyer(ctx context.Context, buyer common.Address) ([]domain.MarketItem, error) {
	return s.list(func(item domain.MarketItem) bool {
		return item.Buyer == buyer
	})
}

// ListBySeller returns items created by the given address, ascending by id.
func (s *ItemStore) ListBySeller(ctx context.Context, seller common.Address) ([]domain.MarketItem, error) {
	return s.list(func(item domain.MarketItem) bool {
		return item.Seller == seller
	})
}

// ListSettled returns sold and inactive items last updated before the cutoff.
func (s *ItemStore) ListSettled(ctx context.Context, before time.Time) ([]domain.MarketItem, error) {
	return s.list(func(item domain.MarketItem) bool {
		return item.State != domain.ItemStateActive && item.UpdatedAt.Before(before)
	})
}

func (s *ItemStore) list(match func(domain.MarketItem) bool) ([]domain.MarketItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.MarketItem
	for _, item := range s.items {
		if match(item) {
			out = append(out, item)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// Compile-time interface check.
var _ domain.ItemStore = (*ItemStore)(nil)
