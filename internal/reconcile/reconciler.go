// Package reconcile aligns the local position store with exchange-reported
// truth. It is the safety net behind the executor's best-effort two-phase
// commit: orphaned exchange positions get adopted, half-dead local records
// get unwound and removed.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fundarb/internal/domain"
	"fundarb/internal/exchange"
	"fundarb/internal/notify"
)

// adoptRatio is the minimum free spot balance, as a fraction of the perp
// quantity, for an untracked perp position to count as the hedged half of an
// adoptable pair.
var adoptRatio = decimal.NewFromFloat(0.9)

// legRatio is the minimum surviving fraction of a recorded leg before the
// leg counts as missing.
var legRatio = decimal.NewFromFloat(0.9)

// Reconciler runs at startup and periodically between cycles.
type Reconciler struct {
	gateway  exchange.Gateway
	store    domain.PositionStore
	notifier *notify.Notifier
	logger   *slog.Logger
}

// New creates a Reconciler.
func New(gateway exchange.Gateway, store domain.PositionStore, notifier *notify.Notifier, logger *slog.Logger) *Reconciler {
	return &Reconciler{
		gateway:  gateway,
		store:    store,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "reconciler")),
	}
}

// Run performs orphan adoption followed by consistency repair.
func (r *Reconciler) Run(ctx context.Context) error {
	if err := r.AdoptOrphans(ctx); err != nil {
		return err
	}
	return r.RepairInconsistencies(ctx)
}

// AdoptOrphans scans exchange-reported perp positions for shorts the store
// does not know about. When a matching free spot balance covers at least 90%
// of the perp quantity, the pair is adopted as a local position. The perp
// entry price doubles as the spot cost basis, which resets the displayed
// unrealized profit baseline for the adopted position.
func (r *Reconciler) AdoptOrphans(ctx context.Context) error {
	perps, err := r.gateway.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: fetch exchange positions: %w", err)
	}
	tracked, err := r.trackedSymbols(ctx)
	if err != nil {
		return err
	}
	balances, err := r.gateway.GetSpotBalances(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: fetch spot balances: %w", err)
	}

	for _, perp := range perps {
		if perp.Qty.IsZero() || !perp.Qty.IsNegative() {
			continue
		}
		if _, ok := tracked[perp.Symbol]; ok {
			continue
		}

		base := baseCurrency(perp.Symbol)
		free := balances[base].Free
		needed := perp.Qty.Abs().Mul(adoptRatio)
		if free.LessThan(needed) {
			r.logger.Warn("untracked perp without matching spot, not adopting",
				slog.String("symbol", perp.Symbol),
				slog.String("perp_qty", perp.Qty.String()),
				slog.String("spot_free", free.String()))
			continue
		}

		spotQty := free
		if spotQty.GreaterThan(perp.Qty.Abs()) {
			spotQty = perp.Qty.Abs()
		}
		position := domain.ArbitragePosition{
			Symbol:       perp.Symbol,
			BaseCurrency: base,
			SpotQty:      spotQty,
			SpotAvgPrice: perp.EntryPrice,
			SpotValue:    spotQty.Mul(perp.EntryPrice),
			PerpQty:      perp.Qty,
			PerpAvgPrice: perp.EntryPrice,
			PerpValue:    perp.Qty.Mul(perp.EntryPrice),
			Leverage:     perp.Leverage,
			OpenedAt:     time.Now().UTC(),
		}
		if err := r.store.Save(ctx, position); err != nil {
			return fmt.Errorf("reconcile: adopt %s: %w", perp.Symbol, err)
		}
		tracked[perp.Symbol] = struct{}{}

		r.logger.Info("adopted orphaned position",
			slog.String("symbol", perp.Symbol),
			slog.String("perp_qty", perp.Qty.String()),
			slog.String("spot_qty", spotQty.String()),
			slog.String("entry_price", perp.EntryPrice.String()))
		r.alert(ctx, "Orphan adopted",
			fmt.Sprintf("%s perp %s with spot %s adopted at entry %s",
				perp.Symbol, perp.Qty, spotQty, perp.EntryPrice))
	}
	return nil
}

// RepairInconsistencies verifies both legs of every tracked position still
// exist at the exchange. Exactly one missing leg means the other is an
// unhedged directional bet: the survivor is market-unwound and the record
// deleted. Every mismatch raises an alert even after a successful repair.
func (r *Reconciler) RepairInconsistencies(ctx context.Context) error {
	positions, err := r.store.List(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: list tracked positions: %w", err)
	}
	if len(positions) == 0 {
		return nil
	}

	perps, err := r.gateway.GetPositions(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: fetch exchange positions: %w", err)
	}
	perpBySymbol := make(map[string]domain.PerpPosition, len(perps))
	for _, p := range perps {
		perpBySymbol[p.Symbol] = p
	}
	balances, err := r.gateway.GetSpotBalances(ctx)
	if err != nil {
		return fmt.Errorf("reconcile: fetch spot balances: %w", err)
	}

	for _, pos := range positions {
		perp, perpExists := perpBySymbol[pos.Symbol]
		hasPerp := perpExists && perp.Qty.Abs().GreaterThanOrEqual(pos.PerpQty.Abs().Mul(legRatio))

		total := balances[pos.BaseCurrency].Total
		hasSpot := total.GreaterThanOrEqual(pos.SpotQty.Mul(legRatio))

		switch {
		case hasPerp && hasSpot:
			continue

		case hasPerp && !hasSpot:
			r.logger.Error("spot leg missing, unwinding perp survivor",
				slog.String("symbol", pos.Symbol),
				slog.String("perp_qty", perp.Qty.String()))
			if _, err := r.gateway.PlacePerpOrder(ctx, pos.Symbol, domain.OrderSideBuy, perp.Qty.Abs(), domain.OrderTypeMarket, true); err != nil {
				r.alert(ctx, "Repair failed",
					fmt.Sprintf("%s: spot leg gone and perp unwind failed: %v", pos.Symbol, err))
				return fmt.Errorf("reconcile: unwind perp %s: %w", pos.Symbol, err)
			}

		case !hasPerp && hasSpot:
			r.logger.Error("perp leg missing, unwinding spot survivor",
				slog.String("symbol", pos.Symbol),
				slog.String("spot_qty", pos.SpotQty.String()))
			if _, err := r.gateway.PlaceSpotOrder(ctx, pos.Symbol, domain.OrderSideSell, pos.SpotQty, domain.OrderTypeMarket); err != nil {
				r.alert(ctx, "Repair failed",
					fmt.Sprintf("%s: perp leg gone and spot unwind failed: %v", pos.Symbol, err))
				return fmt.Errorf("reconcile: unwind spot %s: %w", pos.Symbol, err)
			}

		default:
			r.logger.Error("both legs missing, dropping stale record",
				slog.String("symbol", pos.Symbol))
		}

		if err := r.store.Delete(ctx, pos.Symbol); err != nil {
			return fmt.Errorf("reconcile: delete %s: %w", pos.Symbol, err)
		}
		r.alert(ctx, "Inconsistent position repaired",
			fmt.Sprintf("%s: perp=%t spot=%t, record removed", pos.Symbol, hasPerp, hasSpot))
	}
	return nil
}

func (r *Reconciler) trackedSymbols(ctx context.Context) (map[string]struct{}, error) {
	positions, err := r.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("reconcile: list tracked positions: %w", err)
	}
	tracked := make(map[string]struct{}, len(positions))
	for _, p := range positions {
		tracked[p.Symbol] = struct{}{}
	}
	return tracked, nil
}

func (r *Reconciler) alert(ctx context.Context, title, message string) {
	if r.notifier == nil {
		return
	}
	_ = r.notifier.Notify(ctx, notify.EventReconciliationAlert, title, message)
}

func baseCurrency(symbol string) string {
	if i := strings.IndexByte(symbol, '/'); i > 0 {
		return symbol[:i]
	}
	return symbol
}
