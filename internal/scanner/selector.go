package scanner

import (
	"log/slog"
	"sort"

	"github.com/shopspring/decimal"

	"fundarb/internal/config"
	"fundarb/internal/domain"
)

// Scoring constants. The rate multiplier scales raw funding rates into a
// readable score range; the liquidity cap saturates the depth bonus so one
// very deep book cannot dominate the ranking.
var (
	scoreRateMultiplier = decimal.NewFromInt(1000)
	liquidityCap        = decimal.NewFromInt(5)

	profitPeriods  = decimal.NewFromInt(3)
	profitNotional = decimal.NewFromInt(1000)
)

// Selector filters scan candidates against the configured thresholds and
// ranks survivors by a composite score.
type Selector struct {
	minRate      decimal.Decimal
	minVolume    decimal.Decimal
	maxVolume    decimal.Decimal
	minDepth     decimal.Decimal
	maxSpread    decimal.Decimal
	totalFeeRate decimal.Decimal // round-trip, both legs
	allowNeg     bool
	blacklist    map[string]struct{}
	logger       *slog.Logger
}

// NewSelector builds a Selector from the filter and executor config sections.
func NewSelector(filter config.FilterConfig, exec config.ExecutorConfig, logger *slog.Logger) *Selector {
	blacklist := make(map[string]struct{}, len(filter.Blacklist))
	for _, s := range filter.Blacklist {
		blacklist[s] = struct{}{}
	}
	feePerSide := decimal.NewFromFloat(exec.SpotFeeRate).Add(decimal.NewFromFloat(exec.PerpFeeRate))
	return &Selector{
		minRate:      decimal.NewFromFloat(filter.MinFundingRate),
		minVolume:    decimal.NewFromFloat(filter.MinVolume24h),
		maxVolume:    decimal.NewFromFloat(filter.MaxVolume24h),
		minDepth:     decimal.NewFromFloat(filter.MinDepth),
		maxSpread:    decimal.NewFromFloat(filter.MaxSpread),
		totalFeeRate: feePerSide.Mul(decimal.NewFromInt(2)),
		allowNeg:     filter.AllowNegativeRates,
		blacklist:    blacklist,
		logger:       logger.With(slog.String("component", "selector")),
	}
}

// Filter applies the selection rules in order and returns the survivors with
// derived metrics filled in, stably sorted by descending score.
func (s *Selector) Filter(pools []domain.Pool) []domain.Pool {
	selected := make([]domain.Pool, 0, len(pools))
	for _, p := range pools {
		if !s.passes(p) {
			continue
		}
		p.Score = s.Score(p)
		p.ExpectedProfit = s.ExpectedProfit(p)
		p.BreakevenPeriods = s.BreakevenPeriods(p)
		selected = append(selected, p)
	}

	sort.SliceStable(selected, func(i, j int) bool {
		return selected[i].Score.GreaterThan(selected[j].Score)
	})
	return selected
}

// passes applies the rules in their fixed order. The volume window is the
// central heuristic: too little volume means no fills, too much means the
// market is crowded with large capital and the rate will not persist.
func (s *Selector) passes(p domain.Pool) bool {
	if _, banned := s.blacklist[p.Symbol]; banned {
		return false
	}
	if p.FundingRate.IsNegative() && !s.allowNeg {
		return false
	}
	if p.Volume24h.LessThan(s.minVolume) || p.Volume24h.GreaterThan(s.maxVolume) {
		return false
	}
	if p.Depth.LessThan(s.minDepth) {
		return false
	}
	if p.FundingRate.Abs().LessThan(s.minRate) {
		return false
	}
	if p.Spread.GreaterThan(s.maxSpread) {
		return false
	}
	return true
}

// Score computes |rate|*K scaled by a saturating liquidity factor and a
// spread factor. The spread factor may go negative, which pushes wide-spread
// books to the bottom of the ranking.
func (s *Selector) Score(p domain.Pool) decimal.Decimal {
	base := p.FundingRate.Abs().Mul(scoreRateMultiplier)

	liquidity := liquidityCap
	if !s.minDepth.IsZero() {
		ratio := p.Depth.Div(s.minDepth)
		if ratio.LessThan(liquidityCap) {
			liquidity = ratio
		}
	}
	liquidityFactor := liquidity.Div(liquidityCap)

	spreadFactor := decimal.NewFromInt(1)
	if !s.maxSpread.IsZero() {
		spreadFactor = spreadFactor.Sub(p.Spread.Div(s.maxSpread))
	}

	return base.Mul(liquidityFactor).Mul(spreadFactor)
}

// ExpectedProfit estimates funding income over a few settlement periods minus
// the round-trip fee, per a fixed reference notional.
func (s *Selector) ExpectedProfit(p domain.Pool) decimal.Decimal {
	income := p.FundingRate.Abs().Mul(profitPeriods)
	return income.Sub(s.totalFeeRate).Mul(profitNotional)
}

// BreakevenPeriods returns how many settlements it takes for funding income
// to cover round-trip fees. Returns -1 for a zero rate, which never breaks
// even.
func (s *Selector) BreakevenPeriods(p domain.Pool) int {
	rate := p.FundingRate.Abs()
	if rate.IsZero() {
		return -1
	}
	periods := s.totalFeeRate.Div(rate).Ceil()
	return int(periods.IntPart())
}
