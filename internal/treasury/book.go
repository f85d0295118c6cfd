// Package treasury provides an in-process settlement account book. It backs
// the test suite and single-node deployments that do not run PostgreSQL; the
// postgres AccountStore offers the same semantics with durable balances.
package treasury

import (
	"context"
	"fmt"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/spacedatabank/marketd/internal/domain"
)

// Book implements domain.Treasury with mutex-guarded in-memory balances.
type Book struct {
	mu       sync.Mutex
	balances map[common.Address]*big.Int
}

// NewBook creates an empty account book. All balances start at zero.
func NewBook() *Book {
	return &Book{balances: make(map[common.Address]*big.Int)}
}

func (b *Book) balance(addr common.Address) *big.Int {
	if bal, ok := b.balances[addr]; ok {
		return bal
	}
	bal := big.NewInt(0)
	b.balances[addr] = bal
	return bal
}

// Transfer moves amount from one account to another, or fails with
// domain.ErrInsufficientFunds leaving both balances untouched.
func (b *Book) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("treasury: negative amount %s", amount)
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	src := b.balance(from)
	if src.Cmp(amount) < 0 {
		return domain.ErrInsufficientFunds
	}

	src.Sub(src, amount)
	dst := b.balance(to)
	dst.Add(dst, amount)
	return nil
}

// Deposit credits amount to an account.
func (b *Book) Deposit(ctx context.Context, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("treasury: negative amount %s", amount)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	dst := b.balance(to)
	dst.Add(dst, amount)
	return nil
}

// Balance returns a copy of the account's current balance.
func (b *Book) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return new(big.Int).Set(b.balance(addr)), nil
}

// Compile-time interface check.
var _ domain.Treasury = (*Book)(nil)
