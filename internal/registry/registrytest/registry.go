// Package registrytest provides an in-memory token registry double with
// mint, approve, and transfer semantics matching an ERC-721 contract. The
// ledger test suite uses it to exercise stale-listing paths (approval
// revoked, asset moved) without a chain connection.
package registrytest

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/spacedatabank/marketd/internal/domain"
)

type tokenKey struct {
	contract common.Address
	assetID  string
}

type token struct {
	owner    common.Address
	approved common.Address
}

// Registry implements domain.TokenRegistry and domain.TransferWatcher backed
// by an in-memory token table.
type Registry struct {
	mu       sync.Mutex
	tokens   map[tokenKey]*token
	nextID   map[common.Address]int64
	watchers []chan domain.TransferEvent
}

// New creates an empty Registry.
func New() *Registry {
	return &Registry{
		tokens: make(map[tokenKey]*token),
		nextID: make(map[common.Address]int64),
	}
}

func key(contract common.Address, assetID *big.Int) tokenKey {
	return tokenKey{contract: contract, assetID: assetID.String()}
}

// Mint creates the next sequential token under contract (ids start at 1,
// matching the ERC-721 collection the marketplace was built against) and
// assigns it to owner. It returns the new token id.
func (r *Registry) Mint(contract, owner common.Address) *big.Int {
	r.mu.Lock()
	r.nextID[contract]++
	assetID := big.NewInt(r.nextID[contract])
	r.tokens[key(contract, assetID)] = &token{owner: owner}
	r.mu.Unlock()

	r.notify(domain.TransferEvent{
		Contract: contract,
		AssetID:  assetID,
		To:       owner,
		At:       time.Now().UTC(),
	})
	return assetID
}

// Approve grants spender transfer approval for the token. Passing the zero
// address revokes any standing approval.
func (r *Registry) Approve(contract common.Address, assetID *big.Int, spender common.Address) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[key(contract, assetID)]
	if !ok {
		return fmt.Errorf("registrytest: unknown token %s/%s", contract.Hex(), assetID)
	}
	t.approved = spender
	return nil
}

// OwnerOf returns the current owner of the token.
func (r *Registry) OwnerOf(ctx context.Context, contract common.Address, assetID *big.Int) (common.Address, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[key(contract, assetID)]
	if !ok {
		return common.Address{}, fmt.Errorf("registrytest: unknown token %s/%s", contract.Hex(), assetID)
	}
	return t.owner, nil
}

// IsApprovedForTransfer reports whether spender is the owner or holds a
// standing approval for the token.
func (r *Registry) IsApprovedForTransfer(ctx context.Context, contract common.Address, assetID *big.Int, spender common.Address) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[key(contract, assetID)]
	if !ok {
		return false, fmt.Errorf("registrytest: unknown token %s/%s", contract.Hex(), assetID)
	}
	return t.owner == spender || (t.approved != (common.Address{}) && t.approved == spender), nil
}

// Transfer moves the token from its owner to the recipient, mirroring
// transferFrom: it fails when from is not the current owner. Approval is
// cleared by a successful transfer.
func (r *Registry) Transfer(ctx context.Context, contract common.Address, assetID *big.Int, from, to common.Address) error {
	r.mu.Lock()
	t, ok := r.tokens[key(contract, assetID)]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("registrytest: unknown token %s/%s", contract.Hex(), assetID)
	}
	if t.owner != from {
		r.mu.Unlock()
		return domain.ErrTransferDenied
	}
	t.owner = to
	t.approved = common.Address{}
	r.mu.Unlock()

	r.notify(domain.TransferEvent{
		Contract: contract,
		AssetID:  new(big.Int).Set(assetID),
		From:     from,
		To:       to,
		At:       time.Now().UTC(),
	})
	return nil
}

// WatchTransfers returns a channel receiving every subsequent transfer and
// mint notification. The channel is closed when ctx is cancelled.
func (r *Registry) WatchTransfers(ctx context.Context, contract common.Address) (<-chan domain.TransferEvent, error) {
	ch := make(chan domain.TransferEvent, 64)

	r.mu.Lock()
	r.watchers = append(r.watchers, ch)
	r.mu.Unlock()

	go func() {
		<-ctx.Done()
		r.mu.Lock()
		for i, w := range r.watchers {
			if w == ch {
				r.watchers = append(r.watchers[:i], r.watchers[i+1:]...)
				break
			}
		}
		r.mu.Unlock()
		close(ch)
	}()

	return ch, nil
}

func (r *Registry) notify(ev domain.TransferEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, w := range r.watchers {
		select {
		case w <- ev:
		default:
			// Slow watcher; drop rather than block a transfer.
		}
	}
}

// Compile-time interface checks.
var (
	_ domain.TokenRegistry   = (*Registry)(nil)
	_ domain.TransferWatcher = (*Registry)(nil)
)
