package notify_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spacedatabank/marketd/internal/notify"
)

type fakeSender struct {
	name  string
	err   error
	calls []string
}

func (f *fakeSender) Send(ctx context.Context, title, message string) error {
	f.calls = append(f.calls, title)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func TestNotifyDeliversToAllSenders(t *testing.T) {
	a := &fakeSender{name: "telegram"}
	b := &fakeSender{name: "discord"}
	n := notify.New([]notify.Sender{a, b}, nil, slog.New(slog.DiscardHandler))

	require.NoError(t, n.Notify(context.Background(), "item_sold", "Item #1 sold", "details"))
	assert.Equal(t, []string{"Item #1 sold"}, a.calls)
	assert.Equal(t, []string{"Item #1 sold"}, b.calls)
}

func TestNotifyFiltersByEventType(t *testing.T) {
	s := &fakeSender{name: "discord"}
	n := notify.New([]notify.Sender{s}, []string{"item_sold"}, slog.New(slog.DiscardHandler))

	require.NoError(t, n.Notify(context.Background(), "item_created", "Item #1 active", ""))
	assert.Empty(t, s.calls)

	require.NoError(t, n.Notify(context.Background(), "item_sold", "Item #1 sold", ""))
	assert.Len(t, s.calls, 1)
}

func TestNotifyOneFailureDoesNotBlockOthers(t *testing.T) {
	bad := &fakeSender{name: "telegram", err: errors.New("api down")}
	good := &fakeSender{name: "discord"}
	n := notify.New([]notify.Sender{bad, good}, nil, slog.New(slog.DiscardHandler))

	err := n.Notify(context.Background(), "item_sold", "Item #2 sold", "")
	assert.Error(t, err)
	assert.Len(t, good.calls, 1)
}

func TestNotifyNoSenders(t *testing.T) {
	n := notify.New(nil, nil, slog.New(slog.DiscardHandler))
	assert.NoError(t, n.Notify(context.Background(), "item_sold", "t", "m"))
}
