// Package ledger implements the marketplace ledger: listing, purchase, and
// delisting of market items, fee capture, settlement between seller, buyer,
// and operator, and the read-side item queries.
//
// Operations are serialized transactions. Each of List, Buy, and Delist runs
// to completion under the ledger mutex; registry state is re-validated at
// call time on every mutation, never trusted from an earlier check.
package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/spacedatabank/marketd/internal/domain"
)

// lockTTL bounds how long a per-item distributed lock may outlive a crashed
// holder.
const lockTTL = 30 * time.Second

// Notifier delivers operator alerts for marketplace events. Declared locally
// so the ledger does not depend on the concrete notify implementation.
type Notifier interface {
	Notify(ctx context.Context, event, title, message string) error
}

// Config holds the fixed construction-time parameters of the ledger.
type Config struct {
	// Fee is the listing fee policy; immutable for the ledger's lifetime.
	Fee domain.FeePolicy

	// Operator is the marketplace's registry-side identity: the address
	// sellers approve for transfer before listing.
	Operator common.Address

	// RequireApprovalOnDelist re-checks registry approval when a seller
	// delists, mirroring the listing precondition.
	RequireApprovalOnDelist bool
}

// Ledger orchestrates the item store, fee policy, token registry, and
// treasury. All writers hold the ledger mutex for the duration of a single
// operation, so concurrent buys of the same item serialize and only the
// first observes an active listing.
type Ledger struct {
	mu sync.Mutex

	cfg      Config
	store    domain.ItemStore
	registry domain.TokenRegistry
	treasury domain.Treasury
	bus      domain.EventBus
	logger   *slog.Logger

	// Optional collaborators, set via the Use* methods before serving.
	cache    domain.ItemCache
	locks    domain.LockManager
	notifier Notifier
}

// New creates a Ledger. All arguments are required; the fee policy must be
// valid and the operator address non-zero.
func New(
	cfg Config,
	store domain.ItemStore,
	registry domain.TokenRegistry,
	treasury domain.Treasury,
	bus domain.EventBus,
	logger *slog.Logger,
) (*Ledger, error) {
	if !cfg.Fee.Validate() {
		return nil, fmt.Errorf("ledger: invalid fee policy")
	}
	if cfg.Operator == (common.Address{}) {
		return nil, fmt.Errorf("ledger: operator address is required")
	}

	return &Ledger{
		cfg:      cfg,
		store:    store,
		registry: registry,
		treasury: treasury,
		bus:      bus,
		logger:   logger.With(slog.String("component", "ledger")),
	}, nil
}

// UseCache attaches an optional read-through cache for single-item lookups.
func (l *Ledger) UseCache(c domain.ItemCache) { l.cache = c }

// UseLockManager attaches an optional cross-instance lock manager. When set,
// Buy and Delist additionally take a per-item distributed lock.
func (l *Ledger) UseLockManager(lm domain.LockManager) { l.locks = lm }

// UseNotifier attaches an optional operator notifier.
func (l *Ledger) UseNotifier(n Notifier) { l.notifier = n }

// ListingFee returns the configured fee policy.
func (l *Ledger) ListingFee() domain.FeePolicy {
	return l.cfg.Fee
}

// ListRequest carries the parameters of a listing operation.
type ListRequest struct {
	AssetContract common.Address
	AssetID       *big.Int
	Price         *big.Int
	Seller        common.Address
	FeePaid       *big.Int
}

// List creates a new active market item for the request's asset.
//
// Preconditions: a positive price, a fee payment exactly equal to the
// configured listing fee, and a registry that confirms the seller owns the
// asset and the marketplace operator holds transfer approval. The fee moves
// to the operator payout address immediately and unconditionally; it is not
// escrowed and is not refunded if the item never sells.
func (l *Ledger) List(ctx context.Context, req ListRequest) (domain.MarketItem, error) {
	if req.Price == nil || req.Price.Sign() <= 0 {
		return domain.MarketItem{}, domain.ErrInvalidPrice
	}
	if req.FeePaid == nil || req.FeePaid.Cmp(l.cfg.Fee.ListingFee) != 0 {
		return domain.MarketItem{}, domain.ErrInvalidFee
	}
	if req.AssetID == nil {
		return domain.MarketItem{}, fmt.Errorf("ledger: asset id is required")
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if err := l.checkOwnerAndApproval(ctx, req.AssetContract, req.AssetID, req.Seller); err != nil {
		return domain.MarketItem{}, err
	}

	// Capture the fee before creating the item; if the insert is rejected
	// (most likely a duplicate active listing) the capture is reversed so
	// the whole operation has no effect.
	if err := l.treasury.Transfer(ctx, req.Seller, l.cfg.Fee.PayoutAddress, l.cfg.Fee.ListingFee); err != nil {
		return domain.MarketItem{}, fmt.Errorf("ledger: capture listing fee: %w", err)
	}

	item, err := l.store.Create(ctx, domain.MarketItem{
		AssetContract: req.AssetContract,
		AssetID:       req.AssetID,
		Price:         req.Price,
		Seller:        req.Seller,
	})
	if err != nil {
		if refundErr := l.treasury.Transfer(ctx, l.cfg.Fee.PayoutAddress, req.Seller, l.cfg.Fee.ListingFee); refundErr != nil {
			l.logger.ErrorContext(ctx, "fee refund after rejected listing failed",
				slog.String("seller", req.Seller.Hex()),
				slog.String("error", refundErr.Error()),
			)
		}
		return domain.MarketItem{}, fmt.Errorf("ledger: create item: %w", err)
	}

	l.logger.InfoContext(ctx, "item listed",
		slog.Int64("item_id", item.ID),
		slog.String("asset_contract", item.AssetContract.Hex()),
		slog.String("asset_id", item.AssetID.String()),
		slog.String("price", item.Price.String()),
		slog.String("seller", item.Seller.Hex()),
	)

	l.cacheSet(ctx, item)
	l.emit(ctx, domain.EventItemCreated, item)
	return item, nil
}

// Buy settles the purchase of an active item: it re-validates registry state,
// moves the payment from buyer to seller, transfers the asset, and marks the
// item sold with the buyer recorded. The marketplace takes no cut at sale
// time; its revenue is the upfront listing fee only.
func (l *Ledger) Buy(ctx context.Context, itemID int64, buyer common.Address, payment *big.Int) (domain.MarketItem, error) {
	unlock, err := l.lockItem(ctx, itemID)
	if err != nil {
		return domain.MarketItem{}, err
	}
	defer unlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	item, err := l.store.GetByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.MarketItem{}, domain.ErrItemNotActive
		}
		return domain.MarketItem{}, fmt.Errorf("ledger: load item %d: %w", itemID, err)
	}
	if !item.IsActive() {
		return domain.MarketItem{}, domain.ErrItemNotActive
	}
	if payment == nil || payment.Cmp(item.Price) != 0 {
		return domain.MarketItem{}, domain.ErrPaymentMismatch
	}

	// Re-validate at call time: the asset may have moved or approval may
	// have been revoked since listing, and either invalidates the sale.
	if err := l.checkOwnerAndApproval(ctx, item.AssetContract, item.AssetID, item.Seller); err != nil {
		return domain.MarketItem{}, err
	}

	// Payment first: it is internal to the treasury and exactly reversible,
	// unlike the registry transfer.
	if err := l.treasury.Transfer(ctx, buyer, item.Seller, payment); err != nil {
		return domain.MarketItem{}, fmt.Errorf("ledger: forward payment: %w", err)
	}

	if err := l.registry.Transfer(ctx, item.AssetContract, item.AssetID, item.Seller, buyer); err != nil {
		if refundErr := l.treasury.Transfer(ctx, item.Seller, buyer, payment); refundErr != nil {
			l.logger.ErrorContext(ctx, "payment refund after denied transfer failed",
				slog.Int64("item_id", itemID),
				slog.String("error", refundErr.Error()),
			)
		}
		if errors.Is(err, domain.ErrTransferDenied) || errors.Is(err, domain.ErrNotApproved) {
			return domain.MarketItem{}, err
		}
		return domain.MarketItem{}, fmt.Errorf("%w: %v", domain.ErrTransferDenied, err)
	}

	if err := l.store.MarkSold(ctx, itemID, buyer); err != nil {
		// Settlement has happened but the record could not transition; this
		// requires operator reconciliation and must not be silently dropped.
		l.logger.ErrorContext(ctx, "item sold but state transition failed",
			slog.Int64("item_id", itemID),
			slog.String("buyer", buyer.Hex()),
			slog.String("error", err.Error()),
		)
		return domain.MarketItem{}, fmt.Errorf("ledger: mark item %d sold: %w", itemID, err)
	}

	item.State = domain.ItemStateSold
	item.Buyer = buyer
	item.UpdatedAt = time.Now().UTC()

	l.logger.InfoContext(ctx, "item sold",
		slog.Int64("item_id", item.ID),
		slog.String("price", item.Price.String()),
		slog.String("seller", item.Seller.Hex()),
		slog.String("buyer", buyer.Hex()),
	)

	l.cacheSet(ctx, item)
	l.emit(ctx, domain.EventItemSold, item)
	return item, nil
}

// Delist marks an active item inactive. Only the original seller may delist,
// and only while the item is active; the listing fee is not refunded. When
// RequireApprovalOnDelist is set, the registry must still show the operator
// approved for the asset, mirroring the listing precondition.
func (l *Ledger) Delist(ctx context.Context, itemID int64, caller common.Address) error {
	unlock, err := l.lockItem(ctx, itemID)
	if err != nil {
		return err
	}
	defer unlock()

	l.mu.Lock()
	defer l.mu.Unlock()

	item, err := l.store.GetByID(ctx, itemID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.ErrNotFound
		}
		return fmt.Errorf("ledger: load item %d: %w", itemID, err)
	}
	if !item.IsActive() {
		return domain.ErrItemNotActive
	}
	if caller != item.Seller {
		return domain.ErrNotSeller
	}

	if l.cfg.RequireApprovalOnDelist {
		approved, err := l.registry.IsApprovedForTransfer(ctx, item.AssetContract, item.AssetID, l.cfg.Operator)
		if err != nil || !approved {
			return domain.ErrNotApproved
		}
	}

	if err := l.store.MarkInactive(ctx, itemID); err != nil {
		return fmt.Errorf("ledger: mark item %d inactive: %w", itemID, err)
	}

	l.logger.InfoContext(ctx, "item delisted",
		slog.Int64("item_id", itemID),
		slog.String("seller", caller.Hex()),
	)

	l.cacheInvalidate(ctx, itemID)
	return nil
}

// GetItem returns a single item by id, via the cache when one is attached.
func (l *Ledger) GetItem(ctx context.Context, id int64) (domain.MarketItem, error) {
	if l.cache != nil {
		if item, err := l.cache.Get(ctx, id); err == nil {
			return item, nil
		}
	}

	item, err := l.store.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return domain.MarketItem{}, domain.ErrNotFound
		}
		return domain.MarketItem{}, fmt.Errorf("ledger: get item %d: %w", id, err)
	}

	l.cacheSet(ctx, item)
	return item, nil
}

// ActiveItems returns all items open for purchase, ascending by id.
func (l *Ledger) ActiveItems(ctx context.Context) ([]domain.MarketItem, error) {
	items, err := l.store.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("ledger: list active: %w", err)
	}
	return items, nil
}

// ItemsPurchasedBy returns all items bought by the given address.
func (l *Ledger) ItemsPurchasedBy(ctx context.Context, buyer common.Address) ([]domain.MarketItem, error) {
	if buyer == (common.Address{}) {
		return nil, nil
	}
	items, err := l.store.ListByBuyer(ctx, buyer)
	if err != nil {
		return nil, fmt.Errorf("ledger: list purchased by %s: %w", buyer.Hex(), err)
	}
	return items, nil
}

// ItemsCreatedBy returns all items listed by the given address.
func (l *Ledger) ItemsCreatedBy(ctx context.Context, seller common.Address) ([]domain.MarketItem, error) {
	items, err := l.store.ListBySeller(ctx, seller)
	if err != nil {
		return nil, fmt.Errorf("ledger: list created by %s: %w", seller.Hex(), err)
	}
	return items, nil
}

// checkOwnerAndApproval verifies at call time that seller owns the asset and
// the operator holds transfer approval for it.
func (l *Ledger) checkOwnerAndApproval(ctx context.Context, contract common.Address, assetID *big.Int, seller common.Address) error {
	owner, err := l.registry.OwnerOf(ctx, contract, assetID)
	if err != nil || owner != seller {
		return domain.ErrNotApproved
	}

	approved, err := l.registry.IsApprovedForTransfer(ctx, contract, assetID, l.cfg.Operator)
	if err != nil || !approved {
		return domain.ErrNotApproved
	}
	return nil
}

// lockItem takes the per-item distributed lock when a lock manager is
// attached; otherwise it is a no-op.
func (l *Ledger) lockItem(ctx context.Context, itemID int64) (func(), error) {
	if l.locks == nil {
		return func() {}, nil
	}
	unlock, err := l.locks.Acquire(ctx, fmt.Sprintf("item:%d", itemID), lockTTL)
	if err != nil {
		if errors.Is(err, domain.ErrLockHeld) {
			return nil, domain.ErrLockHeld
		}
		return nil, fmt.Errorf("ledger: lock item %d: %w", itemID, err)
	}
	return unlock, nil
}

// emit publishes an item event on the bus and appends it to the durable
// stream. Emission happens only after the operation has committed; failures
// are logged, not propagated, so a flaky bus cannot undo a settled sale.
func (l *Ledger) emit(ctx context.Context, eventType string, item domain.MarketItem) {
	ev := domain.ItemEvent{
		Type:          eventType,
		ID:            item.ID,
		AssetContract: item.AssetContract,
		AssetID:       item.AssetID,
		Price:         item.Price,
		Seller:        item.Seller,
		Buyer:         item.Buyer,
		State:         item.State,
		At:            time.Now().UTC(),
	}

	payload, err := json.Marshal(ev)
	if err != nil {
		l.logger.ErrorContext(ctx, "marshal item event failed",
			slog.Int64("item_id", item.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	if err := l.bus.Publish(ctx, domain.ChannelItems, payload); err != nil {
		l.logger.WarnContext(ctx, "publish item event failed",
			slog.Int64("item_id", item.ID),
			slog.String("error", err.Error()),
		)
	}
	if err := l.bus.StreamAppend(ctx, domain.StreamItems, payload); err != nil {
		l.logger.WarnContext(ctx, "append item event to stream failed",
			slog.Int64("item_id", item.ID),
			slog.String("error", err.Error()),
		)
	}

	if l.notifier != nil {
		title := fmt.Sprintf("Item #%d %s", item.ID, item.State)
		msg := fmt.Sprintf("asset %s/%s at %s wei", item.AssetContract.Hex(), item.AssetID, item.Price)
		if err := l.notifier.Notify(ctx, eventType, title, msg); err != nil {
			l.logger.WarnContext(ctx, "notify failed",
				slog.String("event", eventType),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (l *Ledger) cacheSet(ctx context.Context, item domain.MarketItem) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Set(ctx, item); err != nil {
		l.logger.WarnContext(ctx, "item cache set failed",
			slog.Int64("item_id", item.ID),
			slog.String("error", err.Error()),
		)
	}
}

func (l *Ledger) cacheInvalidate(ctx context.Context, id int64) {
	if l.cache == nil {
		return
	}
	if err := l.cache.Invalidate(ctx, id); err != nil {
		l.logger.WarnContext(ctx, "item cache invalidate failed",
			slog.Int64("item_id", id),
			slog.String("error", err.Error()),
		)
	}
}
