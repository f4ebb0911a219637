package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ArbitragePosition is a matched two-leg funding-arbitrage position: a spot
// holding hedged by an opposing perpetual position on the same exchange.
// PerpQty is signed (negative for shorts, the usual positive-rate case).
type ArbitragePosition struct {
	Symbol       string
	BaseCurrency string

	SpotQty      decimal.Decimal
	SpotAvgPrice decimal.Decimal
	SpotValue    decimal.Decimal

	PerpQty      decimal.Decimal
	PerpAvgPrice decimal.Decimal
	PerpValue    decimal.Decimal

	FundingEarned decimal.Decimal

	Leverage        int
	OpenedAt        time.Time
	SettlementCount int

	Orders []Order
}

// NotionalValue is the larger of the two legs' absolute values.
func (p ArbitragePosition) NotionalValue() decimal.Decimal {
	spot := p.SpotValue.Abs()
	perp := p.PerpValue.Abs()
	if spot.GreaterThan(perp) {
		return spot
	}
	return perp
}

// Delta measures how far the two legs have drifted from neutrality. Zero is
// perfectly hedged. The denominator is the spot quantity when non-zero,
// otherwise the perp quantity, which makes the sensitivity asymmetric
// depending on which leg anchors the ratio.
func (p ArbitragePosition) Delta() decimal.Decimal {
	if p.NotionalValue().IsZero() {
		return decimal.Zero
	}
	denom := p.SpotQty
	if denom.IsZero() {
		denom = p.PerpQty
	}
	if denom.IsZero() {
		return decimal.Zero
	}
	return p.SpotQty.Add(p.PerpQty).Div(denom.Abs())
}

// IsDeltaNeutral reports whether |delta| is within the given tolerance.
func (p ArbitragePosition) IsDeltaNeutral(tolerance decimal.Decimal) bool {
	return p.Delta().Abs().LessThan(tolerance)
}

// TotalFees sums the fees of every order attached to this position.
func (p ArbitragePosition) TotalFees() decimal.Decimal {
	total := decimal.Zero
	for _, o := range p.Orders {
		total = total.Add(o.Fee)
	}
	return total
}
