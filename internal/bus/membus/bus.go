// Package membus is an in-process domain.EventBus for single-node
// deployments running without Redis. Subscribers get channel fan-out; the
// stream is a bounded in-memory log with Redis-style cursors.
package membus

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/spacedatabank/marketd/internal/domain"
)

// defaultMaxLen bounds the in-memory stream, mirroring the capped Redis
// stream the bus replaces.
const defaultMaxLen = 10_000

const subscriberBuffer = 64

type entry struct {
	id      int64
	payload []byte
}

// Bus implements domain.EventBus in memory.
type Bus struct {
	mu     sync.Mutex
	subs   map[string][]chan []byte
	stream map[string][]entry
	nextID map[string]int64
	maxLen int
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		subs:   make(map[string][]chan []byte),
		stream: make(map[string][]entry),
		nextID: make(map[string]int64),
		maxLen: defaultMaxLen,
	}
}

// Publish delivers the payload to every subscriber of the channel. Slow
// subscribers whose buffer is full miss the message.
func (b *Bus) Publish(ctx context.Context, channel string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs[channel] {
		select {
		case ch <- payload:
		default:
		}
	}
	return nil
}

// Subscribe returns a channel receiving future publishes on the given
// channel. The subscription lives until ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	ch := make(chan []byte, subscriberBuffer)

	b.mu.Lock()
	b.subs[channel] = append(b.subs[channel], ch)
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		defer b.mu.Unlock()
		subs := b.subs[channel]
		for i, c := range subs {
			if c == ch {
				b.subs[channel] = append(subs[:i], subs[i+1:]...)
				close(ch)
				break
			}
		}
	}()

	return ch, nil
}

// StreamAppend records the payload in the stream, trimming the oldest
// entries past the length cap.
func (b *Bus) StreamAppend(ctx context.Context, stream string, payload []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.nextID[stream]++
	b.stream[stream] = append(b.stream[stream], entry{
		id:      b.nextID[stream],
		payload: payload,
	})
	if len(b.stream[stream]) > b.maxLen {
		b.stream[stream] = b.stream[stream][len(b.stream[stream])-b.maxLen:]
	}
	return nil
}

// StreamRead returns up to count entries with ids after lastID, oldest
// first. Pass "0" to read from the beginning.
func (b *Bus) StreamRead(ctx context.Context, stream, lastID string, count int) ([]domain.StreamMessage, error) {
	after, err := parseCursor(lastID)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	var msgs []domain.StreamMessage
	for _, e := range b.stream[stream] {
		if e.id <= after {
			continue
		}
		msgs = append(msgs, domain.StreamMessage{
			ID:      strconv.FormatInt(e.id, 10),
			Payload: e.payload,
		})
		if len(msgs) == count {
			break
		}
	}
	return msgs, nil
}

// parseCursor accepts plain integers plus the Redis "id-seq" form so cursors
// from either bus flavor page correctly.
func parseCursor(lastID string) (int64, error) {
	if lastID == "" || lastID == "0" {
		return 0, nil
	}
	for i := 0; i < len(lastID); i++ {
		if lastID[i] == '-' {
			lastID = lastID[:i]
			break
		}
	}
	n, err := strconv.ParseInt(lastID, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("membus: bad stream cursor %q", lastID)
	}
	return n, nil
}

// Compile-time interface check.
var _ domain.EventBus = (*Bus)(nil)
