// Package exchange defines the capability interface the engine uses to talk
// to an exchange, and a factory that selects a concrete implementation by
// name. The core treats every gateway error uniformly as a propagated error;
// timeouts and throttling live inside the implementations.
package exchange

import (
	"context"

	"github.com/shopspring/decimal"

	"fundarb/internal/domain"
)

// Gateway is the uniform market-data and trading surface per exchange. All
// monetary and quantity values are arbitrary-precision decimals.
type Gateway interface {
	// Market data.
	GetFundingRate(ctx context.Context, symbol string) (domain.FundingRate, error)
	GetFundingRates(ctx context.Context) ([]domain.FundingRate, error)
	GetOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error)
	GetTicker(ctx context.Context, symbol string) (domain.Ticker, error)
	GetTickers(ctx context.Context) ([]domain.Ticker, error)

	// HasSpotMarket reports whether a tradable spot market exists for the
	// base asset of the given perp symbol.
	HasSpotMarket(ctx context.Context, spotSymbol string) (bool, error)

	// Account.
	GetSpotBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	GetPerpBalance(ctx context.Context, asset string) (decimal.Decimal, error)
	GetPosition(ctx context.Context, symbol string) (domain.PerpPosition, error)
	GetPositions(ctx context.Context) ([]domain.PerpPosition, error)
	GetSpotBalances(ctx context.Context) (map[string]SpotBalance, error)
	GetFundingHistory(ctx context.Context, since int64, limit int) ([]domain.FundingPayment, error)

	// Trading. Trade calls are never retried internally: a resubmitted
	// market order is a new irreversible action.
	PlaceSpotOrder(ctx context.Context, symbol string, side domain.OrderSide, qty decimal.Decimal, typ domain.OrderType) (domain.Order, error)
	PlacePerpOrder(ctx context.Context, symbol string, side domain.OrderSide, qty decimal.Decimal, typ domain.OrderType, reduceOnly bool) (domain.Order, error)
	SetLeverage(ctx context.Context, symbol string, leverage int) error

	Close() error
}

// SpotBalance is a free/total pair for one asset.
type SpotBalance struct {
	Free  decimal.Decimal
	Total decimal.Decimal
}

// RateUpdateHandler receives funding-rate updates pushed by a gateway's
// streaming feed between REST scans.
type RateUpdateHandler func([]domain.FundingRate)
