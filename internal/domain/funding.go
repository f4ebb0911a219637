package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// FundingRate is one observation of a perpetual contract's funding rate.
type FundingRate struct {
	Symbol          string
	Rate            decimal.Decimal
	PredictedRate   decimal.Decimal
	NextFundingTime time.Time
	Timestamp       time.Time
}

// AbsRate returns the magnitude of the current rate.
func (f FundingRate) AbsRate() decimal.Decimal {
	return f.Rate.Abs()
}

// FundingRecord is one realized funding settlement credited to a position.
// Records are immutable once appended; the ledger deduplicates on
// (Symbol, SettledAt, Income).
type FundingRecord struct {
	Symbol        string
	Rate          decimal.Decimal
	PositionValue decimal.Decimal
	Income        decimal.Decimal
	SettledAt     time.Time
}

// DedupKey returns the identity under which the ledger deduplicates a record.
func (r FundingRecord) DedupKey() string {
	return r.Symbol + "|" + r.SettledAt.UTC().Format(time.RFC3339Nano) + "|" + r.Income.String()
}

// FundingSummary aggregates the ledger for reporting.
type FundingSummary struct {
	TotalIncome  decimal.Decimal
	TodayIncome  decimal.Decimal
	TotalRecords int
	BySymbol     map[string]decimal.Decimal
}
