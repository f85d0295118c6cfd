package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spacedatabank/marketd/internal/domain"
)

// AccountStore implements domain.Treasury using PostgreSQL. Each transfer
// runs in a single transaction so the debit and credit commit together or
// not at all.
type AccountStore struct {
	pool *pgxpool.Pool
}

// NewAccountStore creates a new AccountStore backed by the given pool.
func NewAccountStore(pool *pgxpool.Pool) *AccountStore {
	return &AccountStore{pool: pool}
}

// Transfer moves amount from one account to another. It fails with
// domain.ErrInsufficientFunds when the source balance cannot cover the
// amount; the balance CHECK constraint backs the in-transaction test.
func (s *AccountStore) Transfer(ctx context.Context, from, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("postgres: transfer: negative amount %s", amount)
	}
	if amount.Sign() == 0 || from == to {
		return nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("postgres: transfer begin: %w", err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		UPDATE accounts
		SET balance = balance - $2::numeric, updated_at = NOW()
		WHERE address = $1 AND balance >= $2::numeric`,
		from.Hex(), amount.String(),
	)
	if err != nil {
		return fmt.Errorf("postgres: transfer debit %s: %w", from.Hex(), err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO accounts (address, balance) VALUES ($1, $2::numeric)
		ON CONFLICT (address) DO UPDATE
		SET balance = accounts.balance + EXCLUDED.balance, updated_at = NOW()`,
		to.Hex(), amount.String(),
	); err != nil {
		return fmt.Errorf("postgres: transfer credit %s: %w", to.Hex(), err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("postgres: transfer commit: %w", err)
	}
	return nil
}

// Deposit credits amount to an account, creating it if needed.
func (s *AccountStore) Deposit(ctx context.Context, to common.Address, amount *big.Int) error {
	if amount.Sign() < 0 {
		return fmt.Errorf("postgres: deposit: negative amount %s", amount)
	}

	if _, err := s.pool.Exec(ctx, `
		INSERT INTO accounts (address, balance) VALUES ($1, $2::numeric)
		ON CONFLICT (address) DO UPDATE
		SET balance = accounts.balance + EXCLUDED.balance, updated_at = NOW()`,
		to.Hex(), amount.String(),
	); err != nil {
		return fmt.Errorf("postgres: deposit %s: %w", to.Hex(), err)
	}
	return nil
}

// Balance returns the current balance of an account; unknown accounts have a
// zero balance.
func (s *AccountStore) Balance(ctx context.Context, addr common.Address) (*big.Int, error) {
	var balance string
	err := s.pool.QueryRow(ctx,
		"SELECT balance::text FROM accounts WHERE address = $1", addr.Hex(),
	).Scan(&balance)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return big.NewInt(0), nil
		}
		return nil, fmt.Errorf("postgres: balance %s: %w", addr.Hex(), err)
	}

	out, ok := new(big.Int).SetString(balance, 10)
	if !ok {
		return nil, fmt.Errorf("postgres: malformed balance for %s", addr.Hex())
	}
	return out, nil
}

// Compile-time interface check.
var _ domain.Treasury = (*AccountStore)(nil)
