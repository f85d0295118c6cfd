package membus_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacedatabank/marketd/internal/bus/membus"
)

func TestPublishSubscribe(t *testing.T) {
	bus := membus.New()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := bus.Subscribe(ctx, "items")
	require.NoError(t, err)

	require.NoError(t, bus.Publish(context.Background(), "items", []byte(`{"n":1}`)))

	select {
	case got := <-ch:
		assert.Equal(t, `{"n":1}`, string(got))
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for message")
	}

	// Other channels do not leak in.
	require.NoError(t, bus.Publish(context.Background(), "transfers", []byte("x")))
	select {
	case got := <-ch:
		t.Fatalf("unexpected message %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestSubscribeClosesOnCancel(t *testing.T) {
	bus := membus.New()
	ctx, cancel := context.WithCancel(context.Background())

	ch, err := bus.Subscribe(ctx, "items")
	require.NoError(t, err)

	cancel()

	select {
	case _, open := <-ch:
		assert.False(t, open)
	case <-time.After(time.Second):
		t.Fatal("channel not closed after cancel")
	}
}

func TestStreamAppendAndRead(t *testing.T) {
	bus := membus.New()
	ctx := context.Background()

	for _, p := range []string{"a", "b", "c"} {
		require.NoError(t, bus.StreamAppend(ctx, "stream:items", []byte(p)))
	}

	msgs, err := bus.StreamRead(ctx, "stream:items", "0", 10)
	require.NoError(t, err)
	require.Len(t, msgs, 3)
	assert.Equal(t, "a", string(msgs[0].Payload))
	assert.Equal(t, "c", string(msgs[2].Payload))

	// Paging from the last cursor yields only newer entries.
	require.NoError(t, bus.StreamAppend(ctx, "stream:items", []byte("d")))
	msgs, err = bus.StreamRead(ctx, "stream:items", msgs[2].ID, 10)
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, "d", string(msgs[0].Payload))

	// count caps the page size.
	msgs, err = bus.StreamRead(ctx, "stream:items", "0", 2)
	require.NoError(t, err)
	assert.Len(t, msgs, 2)
}

func TestStreamReadBadCursor(t *testing.T) {
	bus := membus.New()

	_, err := bus.StreamRead(context.Background(), "stream:items", "not-a-cursor", 10)
	assert.Error(t, err)
}
