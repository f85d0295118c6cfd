package memory_test

import (
	"context"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacedatabank/marketd/internal/domain"
	"github.com/spacedatabank/marketd/internal/store/memory"
)

var (
	contract = common.HexToAddress("0x00000000000000000000000000000000000000AA")
	alice    = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob      = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

func newItem(assetID int64) domain.MarketItem {
	return domain.MarketItem{
		AssetContract: contract,
		AssetID:       big.NewInt(assetID),
		Price:         big.NewInt(100),
		Seller:        alice,
	}
}

func TestCreateAssignsDenseIDs(t *testing.T) {
	s := memory.NewItemStore()
	ctx := context.Background()

	for want := int64(1); want <= 4; want++ {
		item, err := s.Create(ctx, newItem(want))
		require.NoError(t, err)
		assert.Equal(t, want, item.ID)
		assert.Equal(t, domain.ItemStateActive, item.State)
	}
}

func TestCreateRejectsSecondActiveListingForAsset(t *testing.T) {
	s := memory.NewItemStore()
	ctx := context.Background()

	_, err := s.Create(ctx, newItem(7))
	require.NoError(t, err)

	_, err = s.Create(ctx, newItem(7))
	assert.ErrorIs(t, err, domain.ErrAssetAlreadyListed)

	// After the first item leaves active, the asset can be listed again.
	require.NoError(t, s.MarkInactive(ctx, 1))
	item, err := s.Create(ctx, newItem(7))
	require.NoError(t, err)
	assert.Equal(t, int64(2), item.ID)
}

func TestTransitionsAreTerminal(t *testing.T) {
	s := memory.NewItemStore()
	ctx := context.Background()

	_, err := s.Create(ctx, newItem(1))
	require.NoError(t, err)
	_, err = s.Create(ctx, newItem(2))
	require.NoError(t, err)

	require.NoError(t, s.MarkSold(ctx, 1, bob))
	require.NoError(t, s.MarkInactive(ctx, 2))

	assert.ErrorIs(t, s.MarkSold(ctx, 1, bob), domain.ErrItemNotActive)
	assert.ErrorIs(t, s.MarkInactive(ctx, 1), domain.ErrItemNotActive)
	assert.ErrorIs(t, s.MarkSold(ctx, 2, bob), domain.ErrItemNotActive)
	assert.ErrorIs(t, s.MarkInactive(ctx, 2), domain.ErrItemNotActive)

	assert.ErrorIs(t, s.MarkSold(ctx, 99, bob), domain.ErrNotFound)
	assert.ErrorIs(t, s.MarkInactive(ctx, 99), domain.ErrNotFound)
}

func TestMarkSoldRecordsBuyer(t *testing.T) {
	s := memory.NewItemStore()
	ctx := context.Background()

	_, err := s.Create(ctx, newItem(1))
	require.NoError(t, err)
	require.NoError(t, s.MarkSold(ctx, 1, bob))

	item, err := s.GetByID(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, domain.ItemStateSold, item.State)
	assert.Equal(t, bob, item.Buyer)
}

func TestListsAreOrderedAscending(t *testing.T) {
	s := memory.NewItemStore()
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		_, err := s.Create(ctx, newItem(i))
		require.NoError(t, err)
	}
	require.NoError(t, s.MarkSold(ctx, 2, bob))
	require.NoError(t, s.MarkSold(ctx, 4, bob))
	require.NoError(t, s.MarkInactive(ctx, 5))

	active, err := s.ListActive(ctx)
	require.NoError(t, err)
	require.Len(t, active, 2)
	assert.Equal(t, int64(1), active[0].ID)
	assert.Equal(t, int64(3), active[1].ID)

	bought, err := s.ListByBuyer(ctx, bob)
	require.NoError(t, err)
	require.Len(t, bought, 2)
	assert.Equal(t, int64(2), bought[0].ID)
	assert.Equal(t, int64(4), bought[1].ID)

	created, err := s.ListBySeller(ctx, alice)
	require.NoError(t, err)
	assert.Len(t, created, 5)
}

func TestListSettled(t *testing.T) {
	s := memory.NewItemStore()
	ctx := context.Background()

	_, err := s.Create(ctx, newItem(1))
	require.NoError(t, err)
	_, err = s.Create(ctx, newItem(2))
	require.NoError(t, err)

	require.NoError(t, s.MarkSold(ctx, 1, bob))

	settled, err := s.ListSettled(ctx, time.Now().Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, settled, 1)
	assert.Equal(t, int64(1), settled[0].ID)

	// Nothing settled before the epoch.
	settled, err = s.ListSettled(ctx, time.Unix(0, 0))
	require.NoError(t, err)
	assert.Empty(t, settled)
}

func TestGetByIDUnknown(t *testing.T) {
	s := memory.NewItemStore()

	_, err := s.GetByID(context.Background(), 1)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}
