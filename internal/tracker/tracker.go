// Package tracker maintains the append-only ledger of realized funding
// settlements and merges exchange-reported payment history into it.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"fundarb/internal/domain"
)

// Tracker records settlements and answers aggregate income queries. All
// dedup happens in the store on (symbol, settled_at, income), which makes
// every write path idempotent.
type Tracker struct {
	store  domain.FundingStore
	logger *slog.Logger
}

// New creates a Tracker.
func New(store domain.FundingStore, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:  store,
		logger: logger.With(slog.String("component", "tracker")),
	}
}

// Record computes and appends one settlement's income from the rate and the
// position's notional value. Returns the income and whether the record was
// new.
func (t *Tracker) Record(ctx context.Context, symbol string, rate, positionValue decimal.Decimal, settledAt time.Time) (decimal.Decimal, bool, error) {
	income := rate.Abs().Mul(positionValue)
	added, err := t.store.Append(ctx, domain.FundingRecord{
		Symbol:        symbol,
		Rate:          rate,
		PositionValue: positionValue,
		Income:        income,
		SettledAt:     settledAt.UTC(),
	})
	if err != nil {
		return decimal.Zero, false, fmt.Errorf("tracker: record %s: %w", symbol, err)
	}
	if added {
		t.logger.Info("funding settlement recorded",
			slog.String("symbol", symbol),
			slog.String("rate", rate.String()),
			slog.String("income", income.String()))
	}
	return income, added, nil
}

// SyncPayments merges exchange-reported funding payments into the ledger and
// returns only the records that were actually new. Replaying the same
// payment list is a no-op.
func (t *Tracker) SyncPayments(ctx context.Context, payments []domain.FundingPayment) ([]domain.FundingRecord, error) {
	var added []domain.FundingRecord
	for _, p := range payments {
		record := domain.FundingRecord{
			Symbol:        p.Symbol,
			Rate:          p.Rate,
			PositionValue: p.PositionValue,
			Income:        p.Income,
			SettledAt:     p.Timestamp.UTC(),
		}
		isNew, err := t.store.Append(ctx, record)
		if err != nil {
			return added, fmt.Errorf("tracker: sync %s: %w", p.Symbol, err)
		}
		if isNew {
			added = append(added, record)
		}
	}
	if len(added) > 0 {
		t.logger.Info("funding history synced",
			slog.Int("payments", len(payments)),
			slog.Int("new_records", len(added)))
	}
	return added, nil
}

// TotalIncome sums the whole ledger, or one symbol's slice of it when symbol
// is non-empty.
func (t *Tracker) TotalIncome(ctx context.Context, symbol string) (decimal.Decimal, error) {
	return t.store.TotalIncome(ctx, symbol)
}

// IncomeForDay sums income settled within the UTC day containing the given
// time.
func (t *Tracker) IncomeForDay(ctx context.Context, day time.Time) (decimal.Decimal, error) {
	return t.store.IncomeForDay(ctx, day)
}

// Recent returns the newest records, capped at limit.
func (t *Tracker) Recent(ctx context.Context, limit int) ([]domain.FundingRecord, error) {
	return t.store.Recent(ctx, limit)
}

// Summary aggregates the ledger for reporting.
func (t *Tracker) Summary(ctx context.Context) (domain.FundingSummary, error) {
	total, err := t.store.TotalIncome(ctx, "")
	if err != nil {
		return domain.FundingSummary{}, fmt.Errorf("tracker: summary: %w", err)
	}
	today, err := t.store.IncomeForDay(ctx, time.Now().UTC())
	if err != nil {
		return domain.FundingSummary{}, fmt.Errorf("tracker: summary: %w", err)
	}
	bySymbol, err := t.store.IncomeBySymbol(ctx)
	if err != nil {
		return domain.FundingSummary{}, fmt.Errorf("tracker: summary: %w", err)
	}
	count, err := t.store.Count(ctx)
	if err != nil {
		return domain.FundingSummary{}, fmt.Errorf("tracker: summary: %w", err)
	}
	return domain.FundingSummary{
		TotalIncome:  total,
		TodayIncome:  today,
		TotalRecords: count,
		BySymbol:     bySymbol,
	}, nil
}
