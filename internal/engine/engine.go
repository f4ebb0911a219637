// Package engine drives the trading cycle: reconcile, sync funding income,
// monitor risk, scan the market, and deploy capital into the best candidates.
// One goroutine owns the cycle; a cycle is never cancelled mid-flight, and a
// crash between legs leaves exactly the drift the reconciler repairs.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"fundarb/internal/config"
	"fundarb/internal/domain"
	"fundarb/internal/exchange"
	"fundarb/internal/executor"
	"fundarb/internal/notify"
	"fundarb/internal/reconcile"
	"fundarb/internal/risk"
	"fundarb/internal/scanner"
	"fundarb/internal/tracker"
)

// Engine wires the subsystems together and owns cycle scheduling.
type Engine struct {
	cfg config.Config

	gateway      exchange.Gateway
	scanner      *scanner.Scanner
	executor     *executor.Executor
	risk         *risk.Manager
	reconciler   *reconcile.Reconciler
	tracker      *tracker.Tracker
	rateCache    domain.RateCache
	cooldown     domain.Cooldown
	fundingStore domain.FundingStore
	archiver     domain.LedgerArchiver
	notifier     *notify.Notifier
	logger       *slog.Logger

	lastFundingSync time.Time
	currentDay      time.Time
}

// Deps bundles the engine's collaborators. RateCache, Cooldown and Archiver
// are optional; nil disables the corresponding behavior.
type Deps struct {
	Gateway      exchange.Gateway
	Scanner      *scanner.Scanner
	Executor     *executor.Executor
	Risk         *risk.Manager
	Reconciler   *reconcile.Reconciler
	Tracker      *tracker.Tracker
	RateCache    domain.RateCache
	Cooldown     domain.Cooldown
	FundingStore domain.FundingStore
	Archiver     domain.LedgerArchiver
	Notifier     *notify.Notifier
}

// New creates an Engine.
func New(cfg config.Config, deps Deps, logger *slog.Logger) *Engine {
	return &Engine{
		cfg:          cfg,
		gateway:      deps.Gateway,
		scanner:      deps.Scanner,
		executor:     deps.Executor,
		risk:         deps.Risk,
		reconciler:   deps.Reconciler,
		tracker:      deps.Tracker,
		rateCache:    deps.RateCache,
		cooldown:     deps.Cooldown,
		fundingStore: deps.FundingStore,
		archiver:     deps.Archiver,
		notifier:     deps.Notifier,
		logger:       logger.With(slog.String("component", "engine")),
		currentDay:   time.Now().UTC().Truncate(24 * time.Hour),
	}
}

// Run reconciles once at startup, then cycles until the context is done.
func (e *Engine) Run(ctx context.Context) error {
	if err := e.startup(ctx); err != nil {
		return err
	}

	interval := e.cfg.Engine.ScanInterval()
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if err := e.Cycle(ctx); err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			e.logger.Error("cycle failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (e *Engine) startup(ctx context.Context) error {
	if err := e.reconciler.Run(ctx); err != nil {
		return fmt.Errorf("engine: startup reconcile: %w", err)
	}
	if err := e.executor.Sync(ctx); err != nil {
		return fmt.Errorf("engine: startup sync: %w", err)
	}
	e.logger.Info("engine started",
		slog.Int("positions", len(e.executor.Positions())),
		slog.String("mode", e.cfg.Mode))
	return nil
}

// Cycle runs one full pass. Step failures are logged and the cycle moves on;
// only a failed market sweep aborts the remainder, because deployment depends
// on fresh rates.
func (e *Engine) Cycle(ctx context.Context) error {
	e.rolloverDay(ctx)

	if err := e.reconciler.Run(ctx); err != nil {
		e.logger.Error("reconciliation failed", slog.String("error", err.Error()))
	}
	if err := e.executor.Sync(ctx); err != nil {
		return err
	}
	if err := e.syncFundingIncome(ctx); err != nil {
		e.logger.Error("funding sync failed", slog.String("error", err.Error()))
	}

	// Open positions are checked before the market sweep so a position in
	// trouble is not kept waiting behind a slow scan. Risk reads the previous
	// cycle's rate snapshot or falls back to a single fresh fetch.
	e.monitorRisk(ctx)

	pools, err := e.scanner.Scan(ctx)
	if err != nil {
		return err
	}
	if len(pools) > 0 && e.notifier != nil {
		best := pools[0]
		_ = e.notifier.Notify(ctx, notify.EventOpportunityFound,
			"Opportunity found",
			fmt.Sprintf("%s rate %s score %s breakeven %d periods",
				best.Symbol, best.FundingRate, best.Score.StringFixed(4), best.BreakevenPeriods))
	}

	e.deploy(ctx, pools)
	return ctx.Err()
}

// rolloverDay resets the daily loss counter and archives yesterday's ledger
// slice when the UTC day changes.
func (e *Engine) rolloverDay(ctx context.Context) {
	today := time.Now().UTC().Truncate(24 * time.Hour)
	if !today.After(e.currentDay) {
		return
	}
	previous := e.currentDay
	e.currentDay = today
	e.risk.ResetDaily()
	e.logger.Info("daily counters reset", slog.String("day", today.Format("2006-01-02")))

	if e.archiver == nil || !e.cfg.Engine.ArchiveLedger {
		return
	}
	records, err := e.fundingStore.ListForDay(ctx, previous)
	if err != nil {
		e.logger.Error("ledger export read failed", slog.String("error", err.Error()))
		return
	}
	key, err := e.archiver.ExportDay(ctx, previous, records)
	if err != nil {
		e.logger.Error("ledger export failed", slog.String("error", err.Error()))
		return
	}
	e.logger.Info("ledger day exported",
		slog.String("key", key),
		slog.Int("records", len(records)))
}

// syncFundingIncome merges the exchange's funding payment history into the
// ledger and credits new settlements to their tracked positions.
func (e *Engine) syncFundingIncome(ctx context.Context) error {
	since := e.lastFundingSync
	if since.IsZero() {
		days := e.cfg.Engine.FundingSyncDays
		if days <= 0 {
			days = 7
		}
		since = time.Now().UTC().AddDate(0, 0, -days)
	}

	payments, err := e.gateway.GetFundingHistory(ctx, since.UnixMilli(), 1000)
	if err != nil {
		return fmt.Errorf("engine: fetch funding history: %w", err)
	}
	added, err := e.tracker.SyncPayments(ctx, payments)
	if err != nil {
		return err
	}
	for _, record := range added {
		if _, tracked := e.executor.Position(record.Symbol); !tracked {
			continue
		}
		if err := e.executor.ApplyFunding(ctx, record.Symbol, record.Income); err != nil {
			e.logger.Error("funding credit failed",
				slog.String("symbol", record.Symbol),
				slog.String("error", err.Error()))
		}
	}
	e.lastFundingSync = time.Now().UTC()
	return nil
}

// monitorRisk evaluates every open position and applies the verdict.
func (e *Engine) monitorRisk(ctx context.Context) {
	exitAbs := decimal.NewFromFloat(e.cfg.Engine.ExitRateAbs)

	for _, position := range e.executor.Positions() {
		rate, rateKnown := e.currentRate(ctx, position.Symbol)
		if rateKnown {
			e.risk.Observe(position.Symbol, rate)
		}

		var perp *domain.PerpPosition
		if p, err := e.gateway.GetPosition(ctx, position.Symbol); err == nil {
			perp = &p
		} else {
			e.logger.Warn("perp state unavailable for risk check",
				slog.String("symbol", position.Symbol),
				slog.String("error", err.Error()))
		}

		result := e.risk.Evaluate(position, perp)
		if result.Action == domain.RiskActionHold && rateKnown && exitAbs.IsPositive() && rate.Abs().LessThan(exitAbs) {
			result = domain.RiskCheckResult{
				Action:   domain.RiskActionClose,
				Reason:   fmt.Sprintf("funding rate %s decayed below exit threshold %s", rate, exitAbs),
				Severity: 3,
			}
		}
		if result.Action == domain.RiskActionHold {
			continue
		}

		e.logger.Warn("risk action",
			slog.String("symbol", position.Symbol),
			slog.String("action", string(result.Action)),
			slog.Int("severity", result.Severity),
			slog.String("reason", result.Reason))
		if e.notifier != nil {
			_ = e.notifier.Notify(ctx, notify.EventRiskAlert,
				fmt.Sprintf("Risk: %s %s", position.Symbol, result.Action),
				result.Reason)
		}

		switch result.Action {
		case domain.RiskActionClose:
			e.closePosition(ctx, position.Symbol)
		case domain.RiskActionReduce:
			if err := e.executor.Reduce(ctx, position.Symbol, decimal.NewFromFloat(0.5)); err != nil {
				e.logger.Error("reduce failed",
					slog.String("symbol", position.Symbol),
					slog.String("error", err.Error()))
			}
		case domain.RiskActionRebalance:
			if err := e.executor.Rebalance(ctx, position.Symbol); err != nil {
				e.logger.Error("rebalance failed",
					slog.String("symbol", position.Symbol),
					slog.String("error", err.Error()))
			}
		}
	}
}

func (e *Engine) closePosition(ctx context.Context, symbol string) {
	realized, err := e.executor.CloseArbitrage(ctx, symbol)
	if err != nil {
		e.logger.Error("close failed",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()))
		return
	}
	if realized.IsNegative() {
		e.risk.RecordLoss(realized.Neg())
	}
	e.risk.Forget(symbol)
	if e.cooldown != nil {
		if err := e.cooldown.Mark(ctx, symbol, e.cfg.Engine.CooldownTTL()); err != nil {
			e.logger.Warn("cooldown mark failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()))
		}
	}
}

// currentRate prefers the cycle's cached snapshot over a fresh gateway call.
func (e *Engine) currentRate(ctx context.Context, symbol string) (decimal.Decimal, bool) {
	if e.rateCache != nil {
		if cached, err := e.rateCache.GetRate(ctx, symbol); err == nil {
			return cached.Rate, true
		}
	}
	fresh, err := e.gateway.GetFundingRate(ctx, symbol)
	if err != nil {
		e.logger.Warn("funding rate unavailable",
			slog.String("symbol", symbol),
			slog.String("error", err.Error()))
		return decimal.Zero, false
	}
	return fresh.Rate, true
}
