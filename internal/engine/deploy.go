package engine

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"fundarb/internal/domain"
)

// deploy opens positions in the best candidates while capacity, drawdown
// limits and cooldowns allow, then considers rotating a weak position into a
// stronger candidate when capacity is exhausted.
func (e *Engine) deploy(ctx context.Context, pools []domain.Pool) {
	if len(pools) == 0 {
		return
	}
	if e.cfg.Mode != "trade" {
		return
	}

	capital := e.capital(ctx)
	if !e.risk.AllowNewPositions(capital) {
		return
	}

	maxExposure := capital.Mul(decimal.NewFromFloat(e.cfg.Capital.MaxPositionRatio))
	maxSingle := capital.Mul(decimal.NewFromFloat(e.cfg.Capital.MaxSingleRatio))
	minNotional := decimal.NewFromFloat(e.cfg.Capital.MinOrderNotional)

	for _, pool := range pools {
		deployable := maxExposure.Sub(e.executor.TotalExposure())
		if deployable.LessThan(minNotional) {
			break
		}
		if !e.canEnter(ctx, pool.Symbol) {
			continue
		}

		size := maxSingle
		if size.GreaterThan(deployable) {
			size = deployable
		}
		if size.LessThan(minNotional) {
			continue
		}
		e.open(ctx, pool, size)
	}

	if e.cfg.Rotation.Enabled {
		e.rotate(ctx, pools, maxSingle, minNotional)
	}
}

// canEnter rejects symbols that are already held or still cooling down.
func (e *Engine) canEnter(ctx context.Context, symbol string) bool {
	if _, held := e.executor.Position(symbol); held {
		return false
	}
	if e.cooldown != nil {
		active, err := e.cooldown.Active(ctx, symbol)
		if err != nil {
			e.logger.Warn("cooldown check failed",
				slog.String("symbol", symbol),
				slog.String("error", err.Error()))
			return false
		}
		if active {
			return false
		}
	}
	return true
}

func (e *Engine) open(ctx context.Context, pool domain.Pool, size decimal.Decimal) {
	position, err := e.executor.OpenArbitrage(ctx, pool, size)
	if err != nil {
		e.logger.Error("open failed",
			slog.String("symbol", pool.Symbol),
			slog.String("error", err.Error()))
		return
	}
	e.risk.SetEntry(position.Symbol, pool.FundingRate)
}

// capital measures deployable equity from live balances, falling back to the
// configured initial capital when the exchange cannot be queried.
func (e *Engine) capital(ctx context.Context) decimal.Decimal {
	quote := e.cfg.Capital.QuoteAsset
	spotFree, spotErr := e.gateway.GetSpotBalance(ctx, quote)
	perpFree, perpErr := e.gateway.GetPerpBalance(ctx, quote)
	if spotErr != nil || perpErr != nil {
		e.logger.Warn("balance query failed, using configured capital",
			slog.Any("spot_error", spotErr),
			slog.Any("perp_error", perpErr))
		return decimal.NewFromFloat(e.cfg.Capital.Initial)
	}
	return spotFree.Add(perpFree).Add(e.executor.TotalExposure())
}

// rotate closes the weakest open position in favor of a clearly better
// candidate: the candidate's rate must beat the weakest position's current
// rate by the configured margin, and the position must already be profitable
// enough that realizing it does not burn the rotation's edge.
func (e *Engine) rotate(ctx context.Context, pools []domain.Pool, maxSingle, minNotional decimal.Decimal) {
	positions := e.executor.Positions()
	if len(positions) == 0 {
		return
	}

	var candidate *domain.Pool
	for i := range pools {
		if e.canEnter(ctx, pools[i].Symbol) {
			candidate = &pools[i]
			break
		}
	}
	if candidate == nil {
		return
	}

	var (
		weakest     *domain.ArbitragePosition
		weakestRate decimal.Decimal
	)
	for i := range positions {
		rate, known := e.currentRate(ctx, positions[i].Symbol)
		if !known {
			continue
		}
		if weakest == nil || rate.LessThan(weakestRate) {
			weakest = &positions[i]
			weakestRate = rate
		}
	}
	if weakest == nil {
		return
	}

	improvement := candidate.FundingRate.Sub(weakestRate)
	if improvement.LessThan(decimal.NewFromFloat(e.cfg.Rotation.MinRateImprovement)) {
		return
	}
	est, err := e.executor.EstimatePnL(ctx, weakest.Symbol)
	if err != nil {
		e.logger.Warn("rotation estimate failed",
			slog.String("symbol", weakest.Symbol),
			slog.String("error", err.Error()))
		return
	}
	if est.Net.LessThan(decimal.NewFromFloat(e.cfg.Rotation.MinProfitThreshold)) {
		return
	}

	e.logger.Info("rotating position",
		slog.String("from", weakest.Symbol),
		slog.String("to", candidate.Symbol),
		slog.String("rate_improvement", improvement.String()))

	freed := weakest.NotionalValue()
	e.closePosition(ctx, weakest.Symbol)
	if _, stillHeld := e.executor.Position(weakest.Symbol); stillHeld {
		return
	}

	size := freed
	if size.GreaterThan(maxSingle) {
		size = maxSingle
	}
	if size.LessThan(minNotional) {
		return
	}
	e.open(ctx, *candidate, size)
}
