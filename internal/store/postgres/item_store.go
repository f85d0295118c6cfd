package postgres

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/spacedatabank/marketd/internal/domain"
)

// uniqueViolation is the PostgreSQL error code raised by the partial unique
// index when a second active listing is attempted for the same asset.
const uniqueViolation = "23505"

// ItemStore implements domain.ItemStore using PostgreSQL.
type ItemStore struct {
	pool *pgxpool.Pool
}

// NewItemStore creates a new ItemStore backed by the given connection pool.
func NewItemStore(pool *pgxpool.Pool) *ItemStore {
	return &ItemStore{pool: pool}
}

const itemCols = `id, asset_contract, asset_id::text, price::text, seller,
	COALESCE(buyer, ''), state, created_at, updated_at`

// Create inserts a new active item. The id is computed inside the insert as
// max(id)+1 so that ids stay dense even when a prior attempt was rejected;
// the ledger serializes writers, so two inserts never race for the same id.
func (s *ItemStore) Create(ctx context.Context, item domain.MarketItem) (domain.MarketItem, error) {
	const query = `
		INSERT INTO market_items (id, asset_contract, asset_id, price, seller, state)
		SELECT COALESCE(MAX(id), 0) + 1, $1, $2::numeric, $3::numeric, $4, 'active'
		FROM market_items
		RETURNING id, created_at, updated_at`

	row := s.pool.QueryRow(ctx, query,
		item.AssetContract.Hex(),
		item.AssetID.String(),
		item.Price.String(),
		item.Seller.Hex(),
	)
	if err := row.Scan(&item.ID, &item.CreatedAt, &item.UpdatedAt); err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return domain.MarketItem{}, domain.ErrAssetAlreadyListed
		}
		return domain.MarketItem{}, fmt.Errorf("postgres: create item: %w", err)
	}

	item.State = domain.ItemStateActive
	item.Buyer = common.Address{}
	return item, nil
}

// GetByID retrieves an item by its primary key.
func (s *ItemStore) GetByID(ctx context.Context, id int64) (domain.MarketItem, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+itemCols+` FROM market_items WHERE id = $1`, id)
	item, err := scanItem(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.MarketItem{}, domain.ErrNotFound
		}
		return domain.MarketItem{}, fmt.Errorf("postgres: get item %d: %w", id, err)
	}
	return item, nil
}

// MarkSold transitions an active item to sold. The state predicate in the
// UPDATE is the second exactly-once guard behind the ledger's serialization:
// once one transition commits, every later attempt matches zero rows.
func (s *ItemStore) MarkSold(ctx context.Context, id int64, buyer common.Address) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE market_items
		SET state = 'sold', buyer = $2, updated_at = NOW()
		WHERE id = $1 AND state = 'active'`,
		id, buyer.Hex(),
	)
	if err != nil {
		return fmt.Errorf("postgres: mark item %d sold: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionFailure(ctx, id)
	}
	return nil
}

// MarkInactive transitions an active item to inactive.
func (s *ItemStore) MarkInactive(ctx context.Context, id int64) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE market_items
		SET state = 'inactive', updated_at = NOW()
		WHERE id = $1 AND state = 'active'`,
		id,
	)
	if err != nil {
		return fmt.Errorf("postgres: mark item %d inactive: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionFailure(ctx, id)
	}
	return nil
}

// transitionFailure distinguishes a missing item from one that already left
// the active state.
func (s *ItemStore) transitionFailure(ctx context.Context, id int64) error {
	var exists bool
	err := s.pool.QueryRow(ctx,
		"SELECT EXISTS(SELECT 1 FROM market_items WHERE id = $1)", id,
	).Scan(&exists)
	if err != nil {
		return fmt.Errorf("postgres: check item %d: %w", id, err)
	}
	if !exists {
		return domain.ErrNotFound
	}
	return domain.ErrItemNotActive
}

// ListActive returns active items ordered by ascending id.
func (s *ItemStore) ListActive(ctx context.Context) ([]domain.MarketItem, error) {
	return s.listWhere(ctx, "state = 'active'")
}

// ListByBuyer returns items purchased by the given address.
func (s *ItemStore) ListByBuyer(ctx context.Context, buyer common.Address) ([]domain.MarketItem, error) {
	return s.listWhere(ctx, "buyer = $1", buyer.Hex())
}

// ListBySeller returns items created by the given address.
func (s *ItemStore) ListBySeller(ctx context.Context, seller common.Address) ([]domain.MarketItem, error) {
	return s.listWhere(ctx, "seller = $1", seller.Hex())
}

// ListSettled returns sold and inactive items last updated before the cutoff.
func (s *ItemStore) ListSettled(ctx context.Context, before time.Time) ([]domain.MarketItem, error) {
	return s.listWhere(ctx, "state <> 'active' AND updated_at < $1", before)
}

func (s *ItemStore) listWhere(ctx context.Context, where string, args ...any) ([]domain.MarketItem, error) {
	query := `SELECT ` + itemCols + ` FROM market_items WHERE ` + where + ` ORDER BY id ASC`

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("postgres: list items: %w", err)
	}
	defer rows.Close()

	var items []domain.MarketItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan item: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list items rows: %w", err)
	}
	return items, nil
}

// scanItem scans a single item row into a domain.MarketItem.
func scanItem(row pgx.Row) (domain.MarketItem, error) {
	var (
		item     domain.MarketItem
		contract string
		assetID  string
		price    string
		seller   string
		buyer    string
		state    string
	)
	err := row.Scan(
		&item.ID, &contract, &assetID, &price, &seller, &buyer, &state,
		&item.CreatedAt, &item.UpdatedAt,
	)
	if err != nil {
		return domain.MarketItem{}, err
	}

	item.AssetContract = common.HexToAddress(contract)
	item.Seller = common.HexToAddress(seller)
	if buyer != "" {
		item.Buyer = common.HexToAddress(buyer)
	}
	item.State = domain.ItemState(state)

	item.AssetID, _ = new(big.Int).SetString(assetID, 10)
	item.Price, _ = new(big.Int).SetString(price, 10)
	if item.AssetID == nil || item.Price == nil {
		return domain.MarketItem{}, fmt.Errorf("malformed numeric column for item %d", item.ID)
	}

	return item, nil
}

// Compile-time interface check.
var _ domain.ItemStore = (*ItemStore)(nil)
