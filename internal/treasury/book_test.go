package treasury_test

import (
	"context"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacedatabank/marketd/internal/domain"
	"github.com/spacedatabank/marketd/internal/treasury"
)

var (
	alice = common.HexToAddress("0x0000000000000000000000000000000000000001")
	bob   = common.HexToAddress("0x0000000000000000000000000000000000000002")
)

func TestDepositAndBalance(t *testing.T) {
	book := treasury.NewBook()
	ctx := context.Background()

	require.NoError(t, book.Deposit(ctx, alice, big.NewInt(500)))
	require.NoError(t, book.Deposit(ctx, alice, big.NewInt(250)))

	bal, err := book.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, big.NewInt(750), bal)

	bal, err = book.Balance(ctx, bob)
	require.NoError(t, err)
	assert.Equal(t, int64(0), bal.Int64())
}

func TestTransferMovesFunds(t *testing.T) {
	book := treasury.NewBook()
	ctx := context.Background()

	require.NoError(t, book.Deposit(ctx, alice, big.NewInt(1000)))
	require.NoError(t, book.Transfer(ctx, alice, bob, big.NewInt(300)))

	aliceBal, err := book.Balance(ctx, alice)
	require.NoError(t, err)
	bobBal, err := book.Balance(ctx, bob)
	require.NoError(t, err)

	assert.Equal(t, int64(700), aliceBal.Int64())
	assert.Equal(t, int64(300), bobBal.Int64())
}

func TestTransferInsufficientFunds(t *testing.T) {
	book := treasury.NewBook()
	ctx := context.Background()

	require.NoError(t, book.Deposit(ctx, alice, big.NewInt(100)))

	err := book.Transfer(ctx, alice, bob, big.NewInt(101))
	assert.ErrorIs(t, err, domain.ErrInsufficientFunds)

	// Balances are untouched on failure.
	aliceBal, _ := book.Balance(ctx, alice)
	bobBal, _ := book.Balance(ctx, bob)
	assert.Equal(t, int64(100), aliceBal.Int64())
	assert.Equal(t, int64(0), bobBal.Int64())
}

func TestBalanceReturnsCopy(t *testing.T) {
	book := treasury.NewBook()
	ctx := context.Background()

	require.NoError(t, book.Deposit(ctx, alice, big.NewInt(100)))

	bal, err := book.Balance(ctx, alice)
	require.NoError(t, err)
	bal.SetInt64(0)

	again, err := book.Balance(ctx, alice)
	require.NoError(t, err)
	assert.Equal(t, int64(100), again.Int64())
}
