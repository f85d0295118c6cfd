// Package eth implements the token registry against an ERC-721 contract over
// JSON-RPC. Views (ownerOf, getApproved, isApprovedForAll) are read at call
// time so the ledger never acts on cached ownership or approval state;
// transfers are submitted as signed transactions from the marketplace
// operator key and confirmed by receipt status.
package eth

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/spacedatabank/marketd/internal/domain"
)

// erc721ABI is the subset of the ERC-721 interface the registry needs.
const erc721ABI = `[
	{"name":"ownerOf","type":"function","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"name":"getApproved","type":"function","stateMutability":"view","inputs":[{"name":"tokenId","type":"uint256"}],"outputs":[{"name":"","type":"address"}]},
	{"name":"isApprovedForAll","type":"function","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"operator","type":"address"}],"outputs":[{"name":"","type":"bool"}]},
	{"name":"transferFrom","type":"function","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"tokenId","type":"uint256"}],"outputs":[]},
	{"name":"Transfer","type":"event","anonymous":false,"inputs":[{"name":"from","type":"address","indexed":true},{"name":"to","type":"address","indexed":true},{"name":"tokenId","type":"uint256","indexed":true}]}
]`

// Config holds connection and signing parameters for the registry client.
type Config struct {
	// RPCURL is the JSON-RPC endpoint. A websocket endpoint is required for
	// the transfer watcher.
	RPCURL string

	// ChainID of the target network.
	ChainID int64

	// ReceiptTimeout bounds how long Transfer waits for a mined receipt.
	ReceiptTimeout time.Duration
}

// Registry implements domain.TokenRegistry over an Ethereum node.
type Registry struct {
	client  *ethclient.Client
	abi     abi.ABI
	key     *ecdsa.PrivateKey
	self    common.Address
	chainID *big.Int
	timeout time.Duration
}

// Dial connects to the configured node and builds a Registry signing with the
// given operator key. The operator address derived from the key is the
// "spender" that sellers approve before listing.
func Dial(ctx context.Context, cfg Config, key *ecdsa.PrivateKey) (*Registry, error) {
	client, err := ethclient.DialContext(ctx, cfg.RPCURL)
	if err != nil {
		return nil, fmt.Errorf("eth: dial %s: %w", cfg.RPCURL, err)
	}

	parsed, err := abi.JSON(strings.NewReader(erc721ABI))
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("eth: parse abi: %w", err)
	}

	timeout := cfg.ReceiptTimeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Registry{
		client:  client,
		abi:     parsed,
		key:     key,
		self:    ethcrypto.PubkeyToAddress(key.PublicKey),
		chainID: big.NewInt(cfg.ChainID),
		timeout: timeout,
	}, nil
}

// Close releases the underlying RPC connection.
func (r *Registry) Close() {
	r.client.Close()
}

// Self returns the operator address transactions are signed with.
func (r *Registry) Self() common.Address {
	return r.self
}

func (r *Registry) bound(contract common.Address) *bind.BoundContract {
	return bind.NewBoundContract(contract, r.abi, r.client, r.client, r.client)
}

// OwnerOf returns the current owner of the asset.
func (r *Registry) OwnerOf(ctx context.Context, contract common.Address, assetID *big.Int) (common.Address, error) {
	var out []any
	err := r.bound(contract).Call(&bind.CallOpts{Context: ctx}, &out, "ownerOf", assetID)
	if err != nil {
		return common.Address{}, fmt.Errorf("eth: ownerOf %s/%s: %w", contract.Hex(), assetID, err)
	}
	return *abi.ConvertType(out[0], new(common.Address)).(*common.Address), nil
}

// IsApprovedForTransfer reports whether spender may move the asset, either
// through a per-token approval or an operator approval from the owner.
func (r *Registry) IsApprovedForTransfer(ctx context.Context, contract common.Address, assetID *big.Int, spender common.Address) (bool, error) {
	bc := r.bound(contract)
	opts := &bind.CallOpts{Context: ctx}

	var out []any
	if err := bc.Call(opts, &out, "getApproved", assetID); err != nil {
		return false, fmt.Errorf("eth: getApproved %s/%s: %w", contract.Hex(), assetID, err)
	}
	approved := *abi.ConvertType(out[0], new(common.Address)).(*common.Address)
	if approved == spender {
		return true, nil
	}

	owner, err := r.OwnerOf(ctx, contract, assetID)
	if err != nil {
		return false, err
	}
	if owner == spender {
		return true, nil
	}

	out = out[:0]
	if err := bc.Call(opts, &out, "isApprovedForAll", owner, spender); err != nil {
		return false, fmt.Errorf("eth: isApprovedForAll %s: %w", contract.Hex(), err)
	}
	return *abi.ConvertType(out[0], new(bool)).(*bool), nil
}

// Transfer submits transferFrom(from, to, assetID) signed by the operator key
// and waits for the receipt. A reverted transaction surfaces as
// domain.ErrTransferDenied: the contract refuses exactly when from no longer
// owns the asset or the operator's approval has been revoked.
func (r *Registry) Transfer(ctx context.Context, contract common.Address, assetID *big.Int, from, to common.Address) error {
	auth, err := bind.NewKeyedTransactorWithChainID(r.key, r.chainID)
	if err != nil {
		return fmt.Errorf("eth: transactor: %w", err)
	}
	auth.Context = ctx

	tx, err := r.bound(contract).Transact(auth, "transferFrom", from, to, assetID)
	if err != nil {
		// Nodes that simulate before accepting reject the revert here.
		return fmt.Errorf("%w: %v", domain.ErrTransferDenied, err)
	}

	waitCtx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	receipt, err := bind.WaitMined(waitCtx, r.client, tx)
	if err != nil {
		return fmt.Errorf("eth: wait transfer %s: %w", tx.Hash().Hex(), err)
	}
	if receipt.Status == 0 {
		return fmt.Errorf("%w: tx %s reverted", domain.ErrTransferDenied, tx.Hash().Hex())
	}
	return nil
}

// Compile-time interface check.
var _ domain.TokenRegistry = (*Registry)(nil)
