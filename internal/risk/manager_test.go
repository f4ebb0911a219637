package risk

import (
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundarb/internal/config"
	"fundarb/internal/domain"
)

func testManager(t *testing.T) *Manager {
	t.Helper()
	cfg := config.Defaults()
	return NewManager(cfg.Risk, cfg.Executor, slog.Default())
}

func neutralPosition(symbol string) domain.ArbitragePosition {
	return domain.ArbitragePosition{
		Symbol:       symbol,
		SpotQty:      decimal.NewFromInt(2),
		SpotAvgPrice: decimal.NewFromInt(50),
		SpotValue:    decimal.NewFromInt(100),
		PerpQty:      decimal.NewFromInt(-2),
		PerpAvgPrice: decimal.NewFromInt(50),
		PerpValue:    decimal.NewFromInt(-100),
	}
}

func perpWithMargin(ratio float64) *domain.PerpPosition {
	r := decimal.NewFromFloat(ratio)
	return &domain.PerpPosition{
		Symbol:      "BTC/USDT:USDT",
		Qty:         decimal.NewFromInt(-2),
		MarginRatio: &r,
	}
}

func TestEvaluateHoldsOnHealthyPosition(t *testing.T) {
	m := testManager(t)
	got := m.Evaluate(neutralPosition("BTC/USDT:USDT"), perpWithMargin(0.9))
	assert.Equal(t, domain.RiskActionHold, got.Action)
}

func TestMarginThresholds(t *testing.T) {
	cases := []struct {
		name     string
		ratio    float64
		action   domain.RiskAction
		severity int
	}{
		{"below close", 0.20, domain.RiskActionClose, 10},
		{"below danger", 0.30, domain.RiskActionReduce, 8},
		{"warning zone only logs", 0.45, domain.RiskActionHold, 0},
		{"healthy", 0.80, domain.RiskActionHold, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := testManager(t)
			got := m.Evaluate(neutralPosition("BTC/USDT:USDT"), perpWithMargin(tc.ratio))
			assert.Equal(t, tc.action, got.Action)
			assert.Equal(t, tc.severity, got.Severity)
		})
	}
}

func TestMarginRuleSkippedWithoutPerpState(t *testing.T) {
	m := testManager(t)
	got := m.Evaluate(neutralPosition("BTC/USDT:USDT"), nil)
	assert.Equal(t, domain.RiskActionHold, got.Action)

	got = m.Evaluate(neutralPosition("BTC/USDT:USDT"), &domain.PerpPosition{Symbol: "BTC/USDT:USDT"})
	assert.Equal(t, domain.RiskActionHold, got.Action)
}

func TestDeltaDriftTriggersRebalance(t *testing.T) {
	m := testManager(t)
	// Spot 2 against perp -1.7: delta 0.15, beyond twice the 0.05 tolerance.
	pos := neutralPosition("BTC/USDT:USDT")
	pos.PerpQty = decimal.NewFromFloat(-1.7)
	pos.PerpValue = pos.PerpQty.Mul(pos.PerpAvgPrice)

	got := m.Evaluate(pos, perpWithMargin(0.9))
	assert.Equal(t, domain.RiskActionRebalance, got.Action)
	assert.Equal(t, 6, got.Severity)
}

func TestDeltaWithinDoubleToleranceHolds(t *testing.T) {
	m := testManager(t)
	// Delta 0.08 sits between the tolerance and twice the tolerance.
	pos := neutralPosition("BTC/USDT:USDT")
	pos.PerpQty = decimal.NewFromFloat(-1.84)
	pos.PerpValue = pos.PerpQty.Mul(pos.PerpAvgPrice)

	got := m.Evaluate(pos, perpWithMargin(0.9))
	assert.Equal(t, domain.RiskActionHold, got.Action)
}

func TestMarginOutranksDelta(t *testing.T) {
	m := testManager(t)
	pos := neutralPosition("BTC/USDT:USDT")
	pos.PerpQty = decimal.NewFromFloat(-1.5)
	pos.PerpValue = pos.PerpQty.Mul(pos.PerpAvgPrice)

	got := m.Evaluate(pos, perpWithMargin(0.20))
	assert.Equal(t, domain.RiskActionClose, got.Action)
	assert.Equal(t, 10, got.Severity)
}

func TestReversalClosesAfterFullWindow(t *testing.T) {
	m := testManager(t)
	const symbol = "BTC/USDT:USDT"
	m.SetEntry(symbol, decimal.NewFromFloat(0.004))

	// Three consecutive rates below -threshold fill the window
	// (watch periods 2, so window size 3).
	for _, r := range []float64{-0.0005, -0.0007, -0.0006} {
		m.Observe(symbol, decimal.NewFromFloat(r))
	}

	got := m.Evaluate(neutralPosition(symbol), perpWithMargin(0.9))
	require.Equal(t, domain.RiskActionClose, got.Action)
	assert.Equal(t, 7, got.Severity)
}

func TestReversalHoldsOnPartialWindow(t *testing.T) {
	m := testManager(t)
	const symbol = "BTC/USDT:USDT"
	m.SetEntry(symbol, decimal.NewFromFloat(0.004))

	m.Observe(symbol, decimal.NewFromFloat(-0.0005))
	m.Observe(symbol, decimal.NewFromFloat(-0.0007))

	got := m.Evaluate(neutralPosition(symbol), perpWithMargin(0.9))
	assert.Equal(t, domain.RiskActionHold, got.Action)
}

func TestReversalHoldsWhenOneRateRecovers(t *testing.T) {
	m := testManager(t)
	const symbol = "BTC/USDT:USDT"
	m.SetEntry(symbol, decimal.NewFromFloat(0.004))

	// The middle observation bounces back above -threshold.
	for _, r := range []float64{-0.0005, 0.0002, -0.0006} {
		m.Observe(symbol, decimal.NewFromFloat(r))
	}

	got := m.Evaluate(neutralPosition(symbol), perpWithMargin(0.9))
	assert.Equal(t, domain.RiskActionHold, got.Action)
}

func TestReversalUsesRollingWindow(t *testing.T) {
	m := testManager(t)
	const symbol = "BTC/USDT:USDT"
	m.SetEntry(symbol, decimal.NewFromFloat(0.004))

	// An early healthy rate is pushed out by three reversed ones.
	for _, r := range []float64{0.004, -0.0005, -0.0007, -0.0006} {
		m.Observe(symbol, decimal.NewFromFloat(r))
	}

	got := m.Evaluate(neutralPosition(symbol), perpWithMargin(0.9))
	assert.Equal(t, domain.RiskActionClose, got.Action)
}

func TestReversalTreatsUnknownEntryAsPositive(t *testing.T) {
	m := testManager(t)
	const symbol = "ETH/USDT:USDT"
	// No SetEntry call: adopted or restored position.
	for _, r := range []float64{-0.0005, -0.0007, -0.0006} {
		m.Observe(symbol, decimal.NewFromFloat(r))
	}

	got := m.Evaluate(neutralPosition(symbol), perpWithMargin(0.9))
	assert.Equal(t, domain.RiskActionClose, got.Action)
}

func TestForgetDropsObservations(t *testing.T) {
	m := testManager(t)
	const symbol = "BTC/USDT:USDT"
	m.SetEntry(symbol, decimal.NewFromFloat(0.004))
	for _, r := range []float64{-0.0005, -0.0007, -0.0006} {
		m.Observe(symbol, decimal.NewFromFloat(r))
	}
	m.Forget(symbol)

	got := m.Evaluate(neutralPosition(symbol), perpWithMargin(0.9))
	assert.Equal(t, domain.RiskActionHold, got.Action)
}

func TestLossCountersGateNewEntries(t *testing.T) {
	m := testManager(t)
	capital := decimal.NewFromInt(10000)

	assert.True(t, m.AllowNewPositions(capital))

	// Daily limit is 5% of capital.
	m.RecordLoss(decimal.NewFromInt(500))
	assert.False(t, m.AllowNewPositions(capital))

	m.ResetDaily()
	assert.True(t, m.AllowNewPositions(capital))

	// Total limit is 10%; two reset days of 500 each reach it.
	m.RecordLoss(decimal.NewFromInt(500))
	m.ResetDaily()
	assert.False(t, m.AllowNewPositions(capital))
}

func TestRecordLossIgnoresNonPositive(t *testing.T) {
	m := testManager(t)
	m.RecordLoss(decimal.NewFromInt(-50))
	m.RecordLoss(decimal.Zero)
	daily, total := m.Losses()
	assert.True(t, daily.IsZero())
	assert.True(t, total.IsZero())
}

func TestAllowNewPositionsRejectsZeroCapital(t *testing.T) {
	m := testManager(t)
	assert.False(t, m.AllowNewPositions(decimal.Zero))
}
