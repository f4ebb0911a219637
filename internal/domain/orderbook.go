package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// PriceLevel is one price/quantity pair in an order book.
type PriceLevel struct {
	Price decimal.Decimal
	Qty   decimal.Decimal
}

// OrderBook is a point-in-time snapshot of an order book. Bids are sorted by
// price descending, asks ascending.
type OrderBook struct {
	Symbol    string
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// BestBid returns the highest bid price, or zero when the book is empty.
func (b OrderBook) BestBid() decimal.Decimal {
	if len(b.Bids) == 0 {
		return decimal.Zero
	}
	return b.Bids[0].Price
}

// BestAsk returns the lowest ask price, or zero when the book is empty.
func (b OrderBook) BestAsk() decimal.Decimal {
	if len(b.Asks) == 0 {
		return decimal.Zero
	}
	return b.Asks[0].Price
}

// Spread returns (bestAsk - bestBid) / bestBid, or zero when either side of
// the book is empty.
func (b OrderBook) Spread() decimal.Decimal {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return decimal.Zero
	}
	return b.BestAsk().Sub(b.BestBid()).Div(b.BestBid())
}

// MidPrice returns the midpoint between the best bid and best ask.
func (b OrderBook) MidPrice() decimal.Decimal {
	if len(b.Bids) == 0 || len(b.Asks) == 0 {
		return decimal.Zero
	}
	return b.BestBid().Add(b.BestAsk()).Div(decimal.NewFromInt(2))
}

// DepthWithin sums the quote-denominated depth of all levels whose price lies
// within ±pct of the mid price, across both sides of the book.
func (b OrderBook) DepthWithin(pct decimal.Decimal) decimal.Decimal {
	mid := b.MidPrice()
	if mid.IsZero() {
		return decimal.Zero
	}
	lower := mid.Mul(decimal.NewFromInt(1).Sub(pct))
	upper := mid.Mul(decimal.NewFromInt(1).Add(pct))

	depth := decimal.Zero
	for _, lvl := range b.Bids {
		if lvl.Price.GreaterThanOrEqual(lower) {
			depth = depth.Add(lvl.Price.Mul(lvl.Qty))
		}
	}
	for _, lvl := range b.Asks {
		if lvl.Price.LessThanOrEqual(upper) {
			depth = depth.Add(lvl.Price.Mul(lvl.Qty))
		}
	}
	return depth
}
