package app

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/sync/errgroup"

	"github.com/spacedatabank/marketd/internal/domain"
	"github.com/spacedatabank/marketd/internal/ledger"
	"github.com/spacedatabank/marketd/internal/server"
	"github.com/spacedatabank/marketd/internal/server/handler"
	"github.com/spacedatabank/marketd/internal/server/ws"
)

// shutdownGrace bounds how long in-flight HTTP requests may drain.
const shutdownGrace = 10 * time.Second

// buildLedger assembles the marketplace ledger from wired dependencies.
func (a *App) buildLedger(deps *Dependencies) (*ledger.Ledger, error) {
	fee, err := a.cfg.Ledger.ListingFeeWei()
	if err != nil {
		return nil, err
	}

	led, err := ledger.New(ledger.Config{
		Fee: domain.FeePolicy{
			ListingFee:    fee,
			PayoutAddress: common.HexToAddress(a.cfg.Ledger.PayoutAddress),
		},
		Operator:                deps.Operator,
		RequireApprovalOnDelist: a.cfg.Ledger.RequireApprovalOnDelist,
	}, deps.ItemStore, deps.Registry, deps.Treasury, deps.Bus, a.logger)
	if err != nil {
		return nil, err
	}

	if deps.ItemCache != nil {
		led.UseCache(deps.ItemCache)
	}
	if deps.LockManager != nil {
		led.UseLockManager(deps.LockManager)
	}
	led.UseNotifier(deps.Notifier)

	return led, nil
}

// ServeMode runs the ledger behind the HTTP + WebSocket API, plus the
// archival loop when configured.
func (a *App) ServeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting serve mode")

	led, err := a.buildLedger(deps)
	if err != nil {
		return fmt.Errorf("app: build ledger: %w", err)
	}

	g, ctx := errgroup.WithContext(ctx)

	hub := ws.NewHub(deps.Bus, a.logger)
	g.Go(func() error {
		return hub.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		handlers := server.Handlers{
			Health: handler.NewHealthHandler(deps.Pingers, a.logger),
			Items:  handler.NewItemHandler(led, a.logger),
			Fee:    handler.NewFeeHandler(led, a.logger),
			Events: handler.NewEventsHandler(deps.Bus, a.logger),
		}

		srv := server.New(server.Config{
			Port:            a.cfg.Server.Port,
			CORSOrigins:     a.cfg.Server.CORSOrigins,
			APIKey:          a.cfg.Server.APIKey,
			RateLimit:       a.cfg.Server.RateLimit,
			RateLimitWindow: a.cfg.Server.RateLimitWindow.Duration,
		}, handlers, hub, deps.RateLimiter, a.logger)

		g.Go(srv.Start)
		g.Go(func() error {
			<-ctx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
			defer cancel()
			return srv.Shutdown(shutdownCtx)
		})
	}

	if deps.Archiver != nil {
		g.Go(func() error {
			return a.archiveLoop(ctx, deps)
		})
	}

	return g.Wait()
}

// archiveLoop periodically snapshots settled items and the event stream to
// object storage.
func (a *App) archiveLoop(ctx context.Context, deps *Dependencies) error {
	interval := a.cfg.Archive.Interval.Duration
	minAge := a.cfg.Archive.MinAge.Duration

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		now := time.Now().UTC()

		count, err := deps.Archiver.ArchiveItems(ctx, now.Add(-minAge))
		if err != nil {
			a.logger.ErrorContext(ctx, "archive items failed", slog.String("error", err.Error()))
		} else if count > 0 {
			a.logger.InfoContext(ctx, "archived settled items", slog.Int64("count", count))
		}

		count, err = deps.Archiver.ArchiveEvents(ctx, now)
		if err != nil {
			a.logger.ErrorContext(ctx, "archive events failed", slog.String("error", err.Error()))
		} else if count > 0 {
			a.logger.InfoContext(ctx, "archived event stream", slog.Int64("count", count))
		}
	}
}

// WatchMode follows registry transfer events for the configured asset
// contracts and republishes them on the event bus, so operators can track
// listed assets moving outside the marketplace.
func (a *App) WatchMode(ctx context.Context, deps *Dependencies) error {
	if len(a.cfg.Registry.WatchContracts) == 0 {
		return fmt.Errorf("app: watch mode requires registry.watch_contracts")
	}

	a.logger.InfoContext(ctx, "starting watch mode",
		slog.Int("contracts", len(a.cfg.Registry.WatchContracts)),
	)

	g, ctx := errgroup.WithContext(ctx)
	for _, raw := range a.cfg.Registry.WatchContracts {
		contract := common.HexToAddress(raw)
		g.Go(func() error {
			return a.watchContract(ctx, deps, contract)
		})
	}
	return g.Wait()
}

// transferNotice is the bus payload for a registry transfer event.
type transferNotice struct {
	Type     string         `json:"type"`
	Contract common.Address `json:"contract"`
	AssetID  string         `json:"asset_id"`
	From     common.Address `json:"from"`
	To       common.Address `json:"to"`
	TxHash   common.Hash    `json:"tx_hash"`
	At       time.Time      `json:"at"`
}

func (a *App) watchContract(ctx context.Context, deps *Dependencies, contract common.Address) error {
	events, err := deps.Watcher.WatchTransfers(ctx, contract)
	if err != nil {
		return fmt.Errorf("app: watch %s: %w", contract.Hex(), err)
	}

	a.logger.InfoContext(ctx, "watching transfers", slog.String("contract", contract.Hex()))

	for ev := range events {
		a.logger.InfoContext(ctx, "transfer observed",
			slog.String("contract", ev.Contract.Hex()),
			slog.String("asset_id", ev.AssetID.String()),
			slog.String("from", ev.From.Hex()),
			slog.String("to", ev.To.Hex()),
		)

		payload, err := json.Marshal(transferNotice{
			Type:     "transfer",
			Contract: ev.Contract,
			AssetID:  ev.AssetID.String(),
			From:     ev.From,
			To:       ev.To,
			TxHash:   ev.TxHash,
			At:       ev.At,
		})
		if err != nil {
			continue
		}
		if err := deps.Bus.Publish(ctx, domain.ChannelTransfers, payload); err != nil {
			a.logger.WarnContext(ctx, "publish transfer failed",
				slog.String("error", err.Error()),
			)
		}
	}

	// The subscription closed; stop the mode so the supervisor can restart.
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return fmt.Errorf("app: transfer watch for %s ended", contract.Hex())
}
