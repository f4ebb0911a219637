package scanner

import (
	"log/slog"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"fundarb/internal/config"
	"fundarb/internal/domain"
)

func testSelector(t *testing.T) *Selector {
	t.Helper()
	cfg := config.Defaults()
	cfg.Filter.MinFundingRate = 0.0003
	cfg.Filter.MinDepth = 10_000
	cfg.Filter.MaxSpread = 0.005
	cfg.Filter.MinVolume24h = 500_000
	cfg.Filter.MaxVolume24h = 5_000_000
	return NewSelector(cfg.Filter, cfg.Executor, slog.Default())
}

func candidate() domain.Pool {
	return domain.Pool{
		Symbol:      "BTC/USDT:USDT",
		FundingRate: decimal.NewFromFloat(0.006),
		Price:       decimal.NewFromInt(50_000),
		Volume24h:   decimal.NewFromInt(1_000_000),
		Depth:       decimal.NewFromInt(20_000),
		Spread:      decimal.NewFromFloat(0.001),
	}
}

func TestFilterAcceptsStrongCandidate(t *testing.T) {
	sel := testSelector(t)

	out := sel.Filter([]domain.Pool{candidate()})
	require.Len(t, out, 1)
	assert.True(t, out[0].Score.IsPositive(), "score should be positive, got %s", out[0].Score)
	assert.True(t, out[0].ExpectedProfit.IsPositive())
	assert.Greater(t, out[0].BreakevenPeriods, 0)
}

func TestFilterRules(t *testing.T) {
	sel := testSelector(t)

	cases := []struct {
		name   string
		mutate func(*domain.Pool)
	}{
		{"rate below minimum", func(p *domain.Pool) { p.FundingRate = decimal.NewFromFloat(0.0001) }},
		{"negative rate", func(p *domain.Pool) { p.FundingRate = decimal.NewFromFloat(-0.006) }},
		{"volume too low", func(p *domain.Pool) { p.Volume24h = decimal.NewFromInt(100_000) }},
		{"volume too high", func(p *domain.Pool) { p.Volume24h = decimal.NewFromInt(50_000_000) }},
		{"depth too thin", func(p *domain.Pool) { p.Depth = decimal.NewFromInt(5_000) }},
		{"spread too wide", func(p *domain.Pool) { p.Spread = decimal.NewFromFloat(0.01) }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			p := candidate()
			tc.mutate(&p)
			assert.Empty(t, sel.Filter([]domain.Pool{p}))
		})
	}
}

func TestFilterBlacklist(t *testing.T) {
	cfg := config.Defaults()
	cfg.Filter.Blacklist = []string{"BTC/USDT:USDT"}
	sel := NewSelector(cfg.Filter, cfg.Executor, slog.Default())

	assert.Empty(t, sel.Filter([]domain.Pool{candidate()}))
}

func TestFilterAllowsNegativeWhenConfigured(t *testing.T) {
	cfg := config.Defaults()
	cfg.Filter.AllowNegativeRates = true
	sel := NewSelector(cfg.Filter, cfg.Executor, slog.Default())

	p := candidate()
	p.FundingRate = decimal.NewFromFloat(-0.006)
	out := sel.Filter([]domain.Pool{p})
	require.Len(t, out, 1)
}

func TestScoreMonotonicity(t *testing.T) {
	sel := testSelector(t)
	base := candidate()

	higherRate := base
	higherRate.FundingRate = decimal.NewFromFloat(0.008)
	assert.True(t, sel.Score(higherRate).GreaterThanOrEqual(sel.Score(base)),
		"score must not decrease with rate")

	deeper := base
	deeper.Depth = decimal.NewFromInt(40_000)
	assert.True(t, sel.Score(deeper).GreaterThanOrEqual(sel.Score(base)),
		"score must not decrease with depth")

	wider := base
	wider.Spread = decimal.NewFromFloat(0.004)
	assert.True(t, sel.Score(wider).LessThanOrEqual(sel.Score(base)),
		"score must not increase with spread")
}

func TestScoreLiquiditySaturates(t *testing.T) {
	sel := testSelector(t)

	deep := candidate()
	deep.Depth = decimal.NewFromInt(50_000) // exactly 5x min depth
	deeper := candidate()
	deeper.Depth = decimal.NewFromInt(500_000)

	assert.True(t, sel.Score(deep).Equal(sel.Score(deeper)),
		"depth beyond the cap should not raise the score")
}

func TestFilterSortsByScoreDescending(t *testing.T) {
	sel := testSelector(t)

	weak := candidate()
	weak.Symbol = "ETH/USDT:USDT"
	weak.FundingRate = decimal.NewFromFloat(0.0005)
	strong := candidate()

	out := sel.Filter([]domain.Pool{weak, strong})
	require.Len(t, out, 2)
	assert.Equal(t, "BTC/USDT:USDT", out[0].Symbol)
	assert.True(t, out[0].Score.GreaterThanOrEqual(out[1].Score))
}

func TestBreakevenCoversFees(t *testing.T) {
	sel := testSelector(t)

	for _, rate := range []float64{0.0003, 0.001, 0.006, 0.05} {
		p := candidate()
		p.FundingRate = decimal.NewFromFloat(rate)
		periods := sel.BreakevenPeriods(p)
		require.Greater(t, periods, 0)

		covered := decimal.NewFromInt(int64(periods)).Mul(p.FundingRate.Abs())
		assert.True(t, covered.GreaterThanOrEqual(sel.totalFeeRate),
			"rate %v: %d periods cover %s but fees are %s", rate, periods, covered, sel.totalFeeRate)
	}
}

func TestBreakevenUnreachableAtZeroRate(t *testing.T) {
	sel := testSelector(t)
	p := candidate()
	p.FundingRate = decimal.Zero
	assert.Equal(t, -1, sel.BreakevenPeriods(p))
}
