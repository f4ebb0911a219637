package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"fundarb/internal/domain"
	"fundarb/internal/engine"
	"fundarb/internal/exchange"
	"fundarb/internal/executor"
	"fundarb/internal/notify"
	"fundarb/internal/reconcile"
	"fundarb/internal/risk"
	"fundarb/internal/scanner"
	"fundarb/internal/tracker"
)

// rateStreamer is implemented by gateways that push funding-rate updates
// over a websocket between scan cycles.
type rateStreamer interface {
	StreamFundingRates(ctx context.Context, handler exchange.RateUpdateHandler) error
}

// TradeMode runs the full lifecycle: reconcile, monitor, scan and trade.
func (a *App) TradeMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting trade mode")

	sel := scanner.NewSelector(a.cfg.Filter, a.cfg.Executor, a.logger)
	scan := scanner.New(deps.Gateway, sel, deps.RateCache, a.cfg.Filter, a.logger)
	exec := executor.New(deps.Gateway, deps.PositionStore, deps.Notifier, a.cfg.Executor, a.logger)
	riskMgr := risk.NewManager(a.cfg.Risk, a.cfg.Executor, a.logger)
	rec := reconcile.New(deps.Gateway, deps.PositionStore, deps.Notifier, a.logger)
	track := tracker.New(deps.FundingStore, a.logger)

	eng := engine.New(*a.cfg, engine.Deps{
		Gateway:      deps.Gateway,
		Scanner:      scan,
		Executor:     exec,
		Risk:         riskMgr,
		Reconciler:   rec,
		Tracker:      track,
		RateCache:    deps.RateCache,
		Cooldown:     deps.Cooldown,
		FundingStore: deps.FundingStore,
		Archiver:     deps.Archiver,
		Notifier:     deps.Notifier,
	}, a.logger)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return eng.Run(ctx)
	})

	if a.cfg.Engine.StreamRates {
		if streamer, ok := deps.Gateway.(rateStreamer); ok {
			g.Go(func() error {
				return streamer.StreamFundingRates(ctx, func(rates []domain.FundingRate) {
					if err := deps.RateCache.SetRates(ctx, rates); err != nil {
						a.logger.Warn("streamed rate cache write failed",
							slog.String("error", err.Error()))
					}
				})
			})
		} else {
			a.logger.Warn("rate streaming enabled but gateway does not support it")
		}
	}

	return g.Wait()
}

// ScanMode sweeps the market on the configured interval and reports the top
// candidates without trading. It needs no database.
func (a *App) ScanMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting scan mode")

	sel := scanner.NewSelector(a.cfg.Filter, a.cfg.Executor, a.logger)
	scan := scanner.New(deps.Gateway, sel, deps.RateCache, a.cfg.Filter, a.logger)

	interval := a.cfg.Engine.ScanInterval()
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		pools, err := scan.Scan(ctx)
		if err != nil {
			a.logger.Error("scan failed", slog.String("error", err.Error()))
		}
		for i, p := range pools {
			if i >= 10 {
				break
			}
			a.logger.Info("candidate",
				slog.Int("rank", i+1),
				slog.String("symbol", p.Symbol),
				slog.String("rate", p.FundingRate.String()),
				slog.String("score", p.Score.StringFixed(4)),
				slog.Int("breakeven_periods", p.BreakevenPeriods))
		}
		if len(pools) > 0 && deps.Notifier != nil {
			best := pools[0]
			_ = deps.Notifier.Notify(ctx, notify.EventOpportunityFound,
				"Opportunity found",
				fmt.Sprintf("%s rate %s score %s", best.Symbol, best.FundingRate, best.Score.StringFixed(4)))
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// ReportMode prints the funding-income summary and the open positions, then
// exits.
func (a *App) ReportMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting report mode")

	track := tracker.New(deps.FundingStore, a.logger)
	summary, err := track.Summary(ctx)
	if err != nil {
		return fmt.Errorf("app: report: %w", err)
	}
	a.logger.Info("funding income summary",
		slog.String("total", summary.TotalIncome.String()),
		slog.String("today", summary.TodayIncome.String()),
		slog.Int("records", summary.TotalRecords))
	for symbol, income := range summary.BySymbol {
		a.logger.Info("income by symbol",
			slog.String("symbol", symbol),
			slog.String("income", income.String()))
	}

	positions, err := deps.PositionStore.List(ctx)
	if err != nil {
		return fmt.Errorf("app: report positions: %w", err)
	}
	for _, p := range positions {
		a.logger.Info("open position",
			slog.String("symbol", p.Symbol),
			slog.String("notional", p.NotionalValue().String()),
			slog.String("delta", p.Delta().String()),
			slog.String("funding_earned", p.FundingEarned.String()),
			slog.Int("settlements", p.SettlementCount),
			slog.String("opened_at", p.OpenedAt.Format(time.RFC3339)))
	}

	recent, err := track.Recent(ctx, 10)
	if err != nil {
		return fmt.Errorf("app: report recent: %w", err)
	}
	for _, r := range recent {
		a.logger.Info("recent settlement",
			slog.String("symbol", r.Symbol),
			slog.String("income", r.Income.String()),
			slog.String("settled_at", r.SettledAt.Format(time.RFC3339)))
	}
	return nil
}
