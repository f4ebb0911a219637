package domain

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// PositionStore persists arbitrage positions keyed by symbol. All mutations
// are written through immediately; the store is the restart-recovery source
// of truth and must tolerate being empty on first run.
type PositionStore interface {
	Save(ctx context.Context, p ArbitragePosition) error
	Get(ctx context.Context, symbol string) (ArbitragePosition, error)
	List(ctx context.Context) ([]ArbitragePosition, error)
	Delete(ctx context.Context, symbol string) error
	// AddFunding credits a settlement to the position and bumps its
	// settlement counter.
	AddFunding(ctx context.Context, symbol string, income decimal.Decimal) error
	// UpdateSpotLeg rewrites the spot quantity and value after a rebalance.
	UpdateSpotLeg(ctx context.Context, symbol string, qty, value decimal.Decimal) error
}

// FundingStore is the append-only ledger of realized funding settlements,
// deduplicated on (symbol, settled_at, income).
type FundingStore interface {
	// Append inserts a record, reporting whether it was new (false means the
	// ledger already held an identical record).
	Append(ctx context.Context, r FundingRecord) (bool, error)
	TotalIncome(ctx context.Context, symbol string) (decimal.Decimal, error)
	IncomeBySymbol(ctx context.Context) (map[string]decimal.Decimal, error)
	IncomeForDay(ctx context.Context, day time.Time) (decimal.Decimal, error)
	Recent(ctx context.Context, limit int) ([]FundingRecord, error)
	ListForDay(ctx context.Context, day time.Time) ([]FundingRecord, error)
	Count(ctx context.Context) (int, error)
}

// RateCache holds the current cycle's funding-rate snapshot so that risk
// checks and reporting do not refetch what the scanner just pulled.
type RateCache interface {
	SetRates(ctx context.Context, rates []FundingRate) error
	GetRate(ctx context.Context, symbol string) (FundingRate, error)
	GetRates(ctx context.Context, symbols []string) (map[string]FundingRate, error)
}

// Cooldown tracks symbols that were recently closed so the engine does not
// immediately re-enter them.
type Cooldown interface {
	Mark(ctx context.Context, symbol string, ttl time.Duration) error
	Active(ctx context.Context, symbol string) (bool, error)
}

// LedgerArchiver exports a day's funding records to offline storage.
type LedgerArchiver interface {
	ExportDay(ctx context.Context, day time.Time, records []FundingRecord) (string, error)
}
