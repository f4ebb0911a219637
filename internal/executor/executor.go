// Package executor opens, closes and rebalances two-leg arbitrage positions.
// Leg placement is a best-effort two-phase commit: the two orders go out
// concurrently, and a single-leg failure triggers a compensating market order
// on the filled leg. After any call returns, the local store holds either a
// fully matched position or nothing for that symbol.
package executor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"fundarb/internal/config"
	"fundarb/internal/domain"
	"fundarb/internal/exchange"
	"fundarb/internal/notify"
)

// Executor is the per-symbol position state machine. It is driven by a single
// engine goroutine; the mutex only guards the in-memory position map against
// concurrent readers (reporting, risk checks).
type Executor struct {
	gateway  exchange.Gateway
	store    domain.PositionStore
	notifier *notify.Notifier
	logger   *slog.Logger

	leverage int
	deltaTol decimal.Decimal
	spotFee  decimal.Decimal
	perpFee  decimal.Decimal

	mu        sync.RWMutex
	positions map[string]domain.ArbitragePosition
}

// New creates an Executor. Call Sync before the first cycle to load persisted
// positions.
func New(
	gateway exchange.Gateway,
	store domain.PositionStore,
	notifier *notify.Notifier,
	cfg config.ExecutorConfig,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		gateway:   gateway,
		store:     store,
		notifier:  notifier,
		logger:    logger.With(slog.String("component", "executor")),
		leverage:  cfg.DefaultLeverage,
		deltaTol:  decimal.NewFromFloat(cfg.DeltaTolerance),
		spotFee:   decimal.NewFromFloat(cfg.SpotFeeRate),
		perpFee:   decimal.NewFromFloat(cfg.PerpFeeRate),
		positions: make(map[string]domain.ArbitragePosition),
	}
}

// Sync replaces the in-memory position map with the persisted set. The store
// is the restart-recovery source of truth.
func (e *Executor) Sync(ctx context.Context) error {
	positions, err := e.store.List(ctx)
	if err != nil {
		return fmt.Errorf("executor: load positions: %w", err)
	}
	fresh := make(map[string]domain.ArbitragePosition, len(positions))
	for _, p := range positions {
		fresh[p.Symbol] = p
	}
	e.mu.Lock()
	e.positions = fresh
	e.mu.Unlock()
	return nil
}

// Position returns the tracked position for the symbol.
func (e *Executor) Position(symbol string) (domain.ArbitragePosition, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	p, ok := e.positions[symbol]
	return p, ok
}

// Positions returns a snapshot of all tracked positions.
func (e *Executor) Positions() []domain.ArbitragePosition {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make([]domain.ArbitragePosition, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, p)
	}
	return out
}

// TotalExposure sums the notional value of every tracked position.
func (e *Executor) TotalExposure() decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	total := decimal.Zero
	for _, p := range e.positions {
		total = total.Add(p.NotionalValue())
	}
	return total
}

// legResult carries one leg's outcome out of the concurrent fan-out.
type legResult struct {
	order domain.Order
	err   error
}

// placeLegs issues both orders concurrently and waits for both. Relative
// ordering between the legs is intentionally unconstrained: sequencing them
// would only lengthen the exposure-asymmetry window.
func placeLegs(spot, perp func() (domain.Order, error)) (legResult, legResult) {
	var spotRes, perpRes legResult
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		spotRes.order, spotRes.err = spot()
	}()
	go func() {
		defer wg.Done()
		perpRes.order, perpRes.err = perp()
	}()
	wg.Wait()
	return spotRes, perpRes
}

// OpenArbitrage opens a matched spot-long/perp-short position sized in quote
// currency. Only positive funding rates are supported: collecting a negative
// rate would require shorting spot with borrowed assets.
func (e *Executor) OpenArbitrage(ctx context.Context, pool domain.Pool, sizeQuote decimal.Decimal) (domain.ArbitragePosition, error) {
	if !pool.IsPositiveRate() {
		return domain.ArbitragePosition{}, fmt.Errorf("executor: open %s: %w", pool.Symbol, domain.ErrNegativeRate)
	}
	if _, exists := e.Position(pool.Symbol); exists {
		return domain.ArbitragePosition{}, fmt.Errorf("executor: open %s: %w", pool.Symbol, domain.ErrAlreadyExists)
	}
	if pool.Price.IsZero() || !sizeQuote.IsPositive() {
		return domain.ArbitragePosition{}, fmt.Errorf("executor: open %s: invalid size %s at price %s", pool.Symbol, sizeQuote, pool.Price)
	}
	qty := sizeQuote.Div(pool.Price)

	// Leverage is set before any order goes out; a failure here has zero
	// side effects.
	if err := e.gateway.SetLeverage(ctx, pool.Symbol, e.leverage); err != nil {
		return domain.ArbitragePosition{}, fmt.Errorf("executor: set leverage %s: %w", pool.Symbol, err)
	}

	spotRes, perpRes := placeLegs(
		func() (domain.Order, error) {
			return e.gateway.PlaceSpotOrder(ctx, pool.Symbol, domain.OrderSideBuy, qty, domain.OrderTypeMarket)
		},
		func() (domain.Order, error) {
			return e.gateway.PlacePerpOrder(ctx, pool.Symbol, domain.OrderSideSell, qty, domain.OrderTypeMarket, false)
		},
	)

	switch {
	case spotRes.err != nil && perpRes.err != nil:
		return domain.ArbitragePosition{}, fmt.Errorf("executor: open %s: %w (spot: %v, perp: %v)",
			pool.Symbol, domain.ErrBothLegsFailed, spotRes.err, perpRes.err)

	case spotRes.err != nil:
		e.logger.Error("spot leg failed, unwinding perp",
			slog.String("symbol", pool.Symbol),
			slog.String("error", spotRes.err.Error()))
		e.compensatePerp(ctx, pool.Symbol, perpRes.order.Filled)
		return domain.ArbitragePosition{}, fmt.Errorf("executor: open %s: spot leg: %w", pool.Symbol, spotRes.err)

	case perpRes.err != nil:
		e.logger.Error("perp leg failed, unwinding spot",
			slog.String("symbol", pool.Symbol),
			slog.String("error", perpRes.err.Error()))
		e.compensateSpot(ctx, pool.Symbol, spotRes.order.Filled)
		return domain.ArbitragePosition{}, fmt.Errorf("executor: open %s: perp leg: %w", pool.Symbol, perpRes.err)
	}

	position := domain.ArbitragePosition{
		Symbol:        pool.Symbol,
		BaseCurrency:  pool.BaseCurrency(),
		SpotQty:       spotRes.order.Filled,
		SpotAvgPrice:  spotRes.order.Price,
		SpotValue:     spotRes.order.Filled.Mul(spotRes.order.Price),
		PerpQty:       perpRes.order.Filled.Neg(),
		PerpAvgPrice:  perpRes.order.Price,
		PerpValue:     perpRes.order.Filled.Mul(perpRes.order.Price).Neg(),
		FundingEarned: decimal.Zero,
		Leverage:      e.leverage,
		OpenedAt:      time.Now().UTC(),
		Orders:        []domain.Order{spotRes.order, perpRes.order},
	}

	if err := e.store.Save(ctx, position); err != nil {
		// Both legs are live at the exchange. Keep the position in memory so
		// the current process still manages it; reconciliation re-adopts it
		// after a restart.
		e.logger.Error("position persist failed",
			slog.String("symbol", pool.Symbol),
			slog.String("error", err.Error()))
	}

	e.mu.Lock()
	e.positions[position.Symbol] = position
	e.mu.Unlock()

	e.logger.Info("position opened",
		slog.String("symbol", position.Symbol),
		slog.String("spot_qty", position.SpotQty.String()),
		slog.String("perp_qty", position.PerpQty.String()),
		slog.String("notional", position.NotionalValue().String()))

	if e.notifier != nil {
		_ = e.notifier.Notify(ctx, notify.EventTradeOpened,
			"Position opened",
			fmt.Sprintf("%s spot %s @ %s, perp %s @ %s, funding %s",
				position.Symbol,
				position.SpotQty, position.SpotAvgPrice,
				position.PerpQty, position.PerpAvgPrice,
				pool.FundingRate))
	}
	return position, nil
}

// compensateSpot market-sells a filled spot quantity after the perp leg
// failed. A compensation failure leaves a real unmatched exchange position;
// it is logged loudly and left for reconciliation, never silently dropped.
func (e *Executor) compensateSpot(ctx context.Context, symbol string, qty decimal.Decimal) {
	if !qty.IsPositive() {
		return
	}
	if _, err := e.gateway.PlaceSpotOrder(ctx, symbol, domain.OrderSideSell, qty, domain.OrderTypeMarket); err != nil {
		e.logger.Error("COMPENSATION FAILED: unmatched spot position left at exchange",
			slog.String("symbol", symbol),
			slog.String("qty", qty.String()),
			slog.String("error", err.Error()))
		if e.notifier != nil {
			_ = e.notifier.NotifyAll(ctx, "Compensation failed",
				fmt.Sprintf("%s: unmatched spot qty %s left at exchange: %v", symbol, qty, err))
		}
	}
}

// compensatePerp market-covers a filled perp quantity after the spot leg
// failed. Same failure contract as compensateSpot.
func (e *Executor) compensatePerp(ctx context.Context, symbol string, qty decimal.Decimal) {
	if !qty.IsPositive() {
		return
	}
	if _, err := e.gateway.PlacePerpOrder(ctx, symbol, domain.OrderSideBuy, qty, domain.OrderTypeMarket, true); err != nil {
		e.logger.Error("COMPENSATION FAILED: unmatched perp position left at exchange",
			slog.String("symbol", symbol),
			slog.String("qty", qty.String()),
			slog.String("error", err.Error()))
		if e.notifier != nil {
			_ = e.notifier.NotifyAll(ctx, "Compensation failed",
				fmt.Sprintf("%s: unmatched perp qty %s left at exchange: %v", symbol, qty, err))
		}
	}
}

// CloseArbitrage unwinds both legs concurrently and returns the realized
// profit. The position is removed from the store only when both legs
// succeed; a half-closed position stays recorded for reconciliation.
func (e *Executor) CloseArbitrage(ctx context.Context, symbol string) (decimal.Decimal, error) {
	position, ok := e.Position(symbol)
	if !ok {
		return decimal.Zero, fmt.Errorf("executor: close %s: %w", symbol, domain.ErrNoPosition)
	}
	perpQty := position.PerpQty.Abs()

	spotRes, perpRes := placeLegs(
		func() (domain.Order, error) {
			return e.gateway.PlaceSpotOrder(ctx, symbol, domain.OrderSideSell, position.SpotQty, domain.OrderTypeMarket)
		},
		func() (domain.Order, error) {
			return e.gateway.PlacePerpOrder(ctx, symbol, domain.OrderSideBuy, perpQty, domain.OrderTypeMarket, true)
		},
	)

	if spotRes.err != nil || perpRes.err != nil {
		e.logger.Error("close failed, position kept for reconciliation",
			slog.String("symbol", symbol),
			slog.Any("spot_error", spotRes.err),
			slog.Any("perp_error", perpRes.err))
		if spotRes.err != nil {
			return decimal.Zero, fmt.Errorf("executor: close %s: spot leg: %w", symbol, spotRes.err)
		}
		return decimal.Zero, fmt.Errorf("executor: close %s: perp leg: %w", symbol, perpRes.err)
	}

	spotPnL := spotRes.order.Price.Sub(position.SpotAvgPrice).Mul(position.SpotQty)
	perpPnL := position.PerpAvgPrice.Sub(perpRes.order.Price).Mul(perpQty)
	fees := position.TotalFees().Add(spotRes.order.Fee).Add(perpRes.order.Fee)
	realized := spotPnL.Add(perpPnL).Add(position.FundingEarned).Sub(fees)

	if err := e.store.Delete(ctx, symbol); err != nil {
		return realized, fmt.Errorf("executor: close %s: delete record: %w", symbol, err)
	}
	e.mu.Lock()
	delete(e.positions, symbol)
	e.mu.Unlock()

	e.logger.Info("position closed",
		slog.String("symbol", symbol),
		slog.String("realized_pnl", realized.String()),
		slog.String("funding_earned", position.FundingEarned.String()))

	if e.notifier != nil {
		_ = e.notifier.Notify(ctx, notify.EventTradeClosed,
			"Position closed",
			fmt.Sprintf("%s realized %s (funding %s, fees %s)",
				symbol, realized, position.FundingEarned, fees))
	}
	return realized, nil
}

// Reduce shrinks both legs by the given fraction (0 < fraction < 1) with a
// concurrent pair of market orders, keeping the position delta-neutral at a
// smaller size. Both legs must succeed for the record to change; a single-leg
// failure is left to reconciliation like any other partial outcome.
func (e *Executor) Reduce(ctx context.Context, symbol string, fraction decimal.Decimal) error {
	if !fraction.IsPositive() || fraction.GreaterThanOrEqual(decimal.NewFromInt(1)) {
		return fmt.Errorf("executor: reduce %s: invalid fraction %s", symbol, fraction)
	}
	position, ok := e.Position(symbol)
	if !ok {
		return fmt.Errorf("executor: reduce %s: %w", symbol, domain.ErrNoPosition)
	}
	spotQty := position.SpotQty.Mul(fraction)
	perpQty := position.PerpQty.Abs().Mul(fraction)

	spotRes, perpRes := placeLegs(
		func() (domain.Order, error) {
			return e.gateway.PlaceSpotOrder(ctx, symbol, domain.OrderSideSell, spotQty, domain.OrderTypeMarket)
		},
		func() (domain.Order, error) {
			return e.gateway.PlacePerpOrder(ctx, symbol, domain.OrderSideBuy, perpQty, domain.OrderTypeMarket, true)
		},
	)
	if spotRes.err != nil || perpRes.err != nil {
		e.logger.Error("reduce failed, position left for reconciliation",
			slog.String("symbol", symbol),
			slog.Any("spot_error", spotRes.err),
			slog.Any("perp_error", perpRes.err))
		if spotRes.err != nil {
			return fmt.Errorf("executor: reduce %s: spot leg: %w", symbol, spotRes.err)
		}
		return fmt.Errorf("executor: reduce %s: perp leg: %w", symbol, perpRes.err)
	}

	position.SpotQty = position.SpotQty.Sub(spotRes.order.Filled)
	position.SpotValue = position.SpotQty.Mul(position.SpotAvgPrice)
	position.PerpQty = position.PerpQty.Add(perpRes.order.Filled)
	position.PerpValue = position.PerpQty.Mul(position.PerpAvgPrice)
	position.Orders = append(position.Orders, spotRes.order, perpRes.order)

	if err := e.store.Save(ctx, position); err != nil {
		return fmt.Errorf("executor: reduce %s: persist: %w", symbol, err)
	}
	e.mu.Lock()
	e.positions[symbol] = position
	e.mu.Unlock()

	e.logger.Info("position reduced",
		slog.String("symbol", symbol),
		slog.String("fraction", fraction.String()),
		slog.String("spot_qty", position.SpotQty.String()),
		slog.String("perp_qty", position.PerpQty.String()))
	return nil
}

// Rebalance re-aligns a drifted spot leg against the fixed perp leg by
// trading spot only. It is a no-op while |delta| stays within tolerance.
func (e *Executor) Rebalance(ctx context.Context, symbol string) error {
	position, ok := e.Position(symbol)
	if !ok {
		return fmt.Errorf("executor: rebalance %s: %w", symbol, domain.ErrNoPosition)
	}
	if position.IsDeltaNeutral(e.deltaTol) {
		return nil
	}

	target := position.PerpQty.Abs()
	diff := target.Sub(position.SpotQty)
	if diff.IsZero() {
		return nil
	}

	side := domain.OrderSideBuy
	if diff.IsNegative() {
		side = domain.OrderSideSell
	}
	order, err := e.gateway.PlaceSpotOrder(ctx, symbol, side, diff.Abs(), domain.OrderTypeMarket)
	if err != nil {
		return fmt.Errorf("executor: rebalance %s: %w", symbol, err)
	}

	newQty := position.SpotQty.Add(order.Filled)
	if side == domain.OrderSideSell {
		newQty = position.SpotQty.Sub(order.Filled)
	}
	newValue := newQty.Mul(order.Price)

	if err := e.store.UpdateSpotLeg(ctx, symbol, newQty, newValue); err != nil {
		return fmt.Errorf("executor: rebalance %s: persist: %w", symbol, err)
	}

	e.mu.Lock()
	position.SpotQty = newQty
	position.SpotValue = newValue
	position.Orders = append(position.Orders, order)
	e.positions[symbol] = position
	e.mu.Unlock()

	e.logger.Info("rebalanced spot leg",
		slog.String("symbol", symbol),
		slog.String("side", string(side)),
		slog.String("qty", order.Filled.String()),
		slog.String("delta", position.Delta().String()))
	return nil
}

// PnLEstimate is a read-only mark-to-market projection.
type PnLEstimate struct {
	Symbol        string
	SpotPnL       decimal.Decimal
	PerpPnL       decimal.Decimal
	FundingEarned decimal.Decimal
	Fees          decimal.Decimal
	Net           decimal.Decimal
}

// EstimatePnL marks the position to the latest traded price. Used by the
// rotation logic to judge whether closing now and redeploying is worth it.
func (e *Executor) EstimatePnL(ctx context.Context, symbol string) (PnLEstimate, error) {
	position, ok := e.Position(symbol)
	if !ok {
		return PnLEstimate{}, fmt.Errorf("executor: estimate %s: %w", symbol, domain.ErrNoPosition)
	}
	ticker, err := e.gateway.GetTicker(ctx, symbol)
	if err != nil {
		return PnLEstimate{}, fmt.Errorf("executor: estimate %s: %w", symbol, err)
	}

	mark := ticker.LastPrice
	est := PnLEstimate{
		Symbol:        symbol,
		SpotPnL:       mark.Sub(position.SpotAvgPrice).Mul(position.SpotQty),
		PerpPnL:       position.PerpAvgPrice.Sub(mark).Mul(position.PerpQty.Abs()),
		FundingEarned: position.FundingEarned,
		Fees:          position.TotalFees(),
	}
	est.Net = est.SpotPnL.Add(est.PerpPnL).Add(est.FundingEarned).Sub(est.Fees)
	return est, nil
}

// ApplyFunding credits a settlement to the tracked position, both persisted
// and in memory.
func (e *Executor) ApplyFunding(ctx context.Context, symbol string, income decimal.Decimal) error {
	if err := e.store.AddFunding(ctx, symbol, income); err != nil {
		return fmt.Errorf("executor: apply funding %s: %w", symbol, err)
	}
	e.mu.Lock()
	if p, ok := e.positions[symbol]; ok {
		p.FundingEarned = p.FundingEarned.Add(income)
		p.SettlementCount++
		e.positions[symbol] = p
	}
	e.mu.Unlock()
	return nil
}
