package domain

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func matchedPosition(qty, price int64) ArbitragePosition {
	q := decimal.NewFromInt(qty)
	p := decimal.NewFromInt(price)
	return ArbitragePosition{
		Symbol:       "BTC/USDT:USDT",
		SpotQty:      q,
		SpotAvgPrice: p,
		SpotValue:    q.Mul(p),
		PerpQty:      q.Neg(),
		PerpAvgPrice: p,
		PerpValue:    q.Mul(p).Neg(),
	}
}

func TestDeltaZeroWhenMatched(t *testing.T) {
	pos := matchedPosition(2, 50)
	assert.True(t, pos.Delta().IsZero())
	assert.True(t, pos.IsDeltaNeutral(decimal.NewFromFloat(0.05)))
}

func TestDeltaAnchorsOnSpotQuantity(t *testing.T) {
	pos := matchedPosition(2, 50)
	pos.PerpQty = decimal.NewFromFloat(-1.8)

	// (2 - 1.8) / 2 = 0.1
	assert.True(t, pos.Delta().Equal(decimal.NewFromFloat(0.1)), "delta %s", pos.Delta())
	assert.False(t, pos.IsDeltaNeutral(decimal.NewFromFloat(0.05)))
}

func TestDeltaFallsBackToPerpAnchor(t *testing.T) {
	pos := matchedPosition(2, 50)
	pos.SpotQty = decimal.Zero

	// (0 - 2) / |-2| = -1: the whole perp leg is unhedged.
	assert.True(t, pos.Delta().Equal(decimal.NewFromInt(-1)), "delta %s", pos.Delta())
}

func TestDeltaZeroOnEmptyPosition(t *testing.T) {
	assert.True(t, ArbitragePosition{}.Delta().IsZero())
}

func TestNotionalValueIsLargerLeg(t *testing.T) {
	pos := matchedPosition(2, 50)
	assert.True(t, pos.NotionalValue().Equal(decimal.NewFromInt(100)))

	pos.SpotValue = decimal.NewFromInt(80)
	assert.True(t, pos.NotionalValue().Equal(decimal.NewFromInt(100)), "perp leg dominates")

	pos.SpotValue = decimal.NewFromInt(120)
	assert.True(t, pos.NotionalValue().Equal(decimal.NewFromInt(120)), "spot leg dominates")
}

func TestTotalFeesSumsOrders(t *testing.T) {
	pos := matchedPosition(2, 50)
	pos.Orders = []Order{
		{Fee: decimal.NewFromFloat(0.1)},
		{Fee: decimal.NewFromFloat(0.04)},
	}
	assert.True(t, pos.TotalFees().Equal(decimal.NewFromFloat(0.14)))
	assert.True(t, ArbitragePosition{}.TotalFees().IsZero())
}
