package domain

import (
	"context"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Event types published on the item event channel.
const (
	EventItemCreated = "item_created"
	EventItemSold    = "item_sold"
)

// Bus channel and stream names for marketplace events.
const (
	ChannelItems     = "items"
	ChannelTransfers = "transfers"
	StreamItems      = "stream:items"
)

// ItemEvent is the canonical change notification for a market item. One is
// emitted per successful list (item_created) and per successful buy
// (item_sold); consumers refresh their read-side projections from it.
type ItemEvent struct {
	Type          string         `json:"type"`
	ID            int64          `json:"id"`
	AssetContract common.Address `json:"asset_contract"`
	AssetID       *big.Int       `json:"asset_id"`
	Price         *big.Int       `json:"price"`
	Seller        common.Address `json:"seller"`
	Buyer         common.Address `json:"buyer"`
	State         ItemState      `json:"state"`
	At            time.Time      `json:"at"`
}

// StreamMessage is a single entry read back from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// EventBus carries marketplace events to subscribers. Publish is ephemeral
// fan-out; StreamAppend/StreamRead provide a durable, ordered history of the
// same payloads.
type EventBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream, lastID string, count int) ([]StreamMessage, error)
}

// LockManager provides mutual exclusion across ledger instances. Acquire
// returns ErrLockHeld when another holder owns the key.
type LockManager interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error)
}

// RateLimiter provides distributed request rate limiting. Allow reports
// whether a request for key is permitted under limit per window, counting it
// when permitted.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
