package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Pool is an ephemeral arbitrage candidate built each scan cycle from a
// funding rate, a ticker, and an order-book snapshot. Pools are never
// persisted; the selector recomputes the derived metrics every cycle.
type Pool struct {
	Symbol        string
	FundingRate   decimal.Decimal
	PredictedRate decimal.Decimal
	Price         decimal.Decimal
	Volume24h     decimal.Decimal
	Depth         decimal.Decimal // quote depth within ±0.5% of mid
	Spread        decimal.Decimal

	// Derived by the selector.
	ExpectedProfit   decimal.Decimal
	BreakevenPeriods int // 0 means not yet computed, -1 means unreachable
	Score            decimal.Decimal
}

// NewPool assembles a candidate from its raw market-data inputs.
func NewPool(rate FundingRate, ticker Ticker, book OrderBook, depthBand decimal.Decimal) Pool {
	return Pool{
		Symbol:        rate.Symbol,
		FundingRate:   rate.Rate,
		PredictedRate: rate.PredictedRate,
		Price:         ticker.LastPrice,
		Volume24h:     ticker.Volume24h,
		Depth:         book.DepthWithin(depthBand),
		Spread:        book.Spread(),
	}
}

// BaseCurrency extracts the base asset from a "BTC/USDT:USDT" style symbol.
func (p Pool) BaseCurrency() string {
	if i := strings.IndexByte(p.Symbol, '/'); i > 0 {
		return p.Symbol[:i]
	}
	return p.Symbol
}

// IsPositiveRate reports whether a short-perp position collects the funding.
func (p Pool) IsPositiveRate() bool {
	return p.FundingRate.IsPositive()
}
