// Package risk evaluates open positions through a fixed-priority rule chain
// and tracks realized-loss counters used to gate new entries.
package risk

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/shopspring/decimal"

	"fundarb/internal/config"
	"fundarb/internal/domain"
)

// Severities attached to each rule's verdict. Higher means more urgent.
const (
	severityMarginClose  = 10
	severityMarginReduce = 8
	severityReversal     = 7
	severityRebalance    = 6
)

// Manager runs the rule chain. One instance serves the whole engine; the
// mutex guards the per-symbol rate windows and the loss counters.
type Manager struct {
	cfg    config.RiskConfig
	logger *slog.Logger

	marginWarning decimal.Decimal
	marginDanger  decimal.Decimal
	marginClose   decimal.Decimal
	deltaTol      decimal.Decimal
	reversalAbs   decimal.Decimal
	windowSize    int

	mu        sync.Mutex
	windows   map[string][]decimal.Decimal
	entries   map[string]decimal.Decimal
	dailyLoss decimal.Decimal
	totalLoss decimal.Decimal
}

// NewManager builds a Manager from the risk and executor config sections.
// The delta tolerance comes from the executor section so both components
// agree on what neutral means.
func NewManager(cfg config.RiskConfig, exec config.ExecutorConfig, logger *slog.Logger) *Manager {
	return &Manager{
		cfg:           cfg,
		logger:        logger.With(slog.String("component", "risk")),
		marginWarning: decimal.NewFromFloat(cfg.MarginWarning),
		marginDanger:  decimal.NewFromFloat(cfg.MarginDanger),
		marginClose:   decimal.NewFromFloat(cfg.MarginClose),
		deltaTol:      decimal.NewFromFloat(exec.DeltaTolerance),
		reversalAbs:   decimal.NewFromFloat(cfg.ReversalThreshold),
		windowSize:    cfg.ReversalPeriods + 1,
		windows:       make(map[string][]decimal.Decimal),
		entries:       make(map[string]decimal.Decimal),
	}
}

// SetEntry records the funding rate a position was opened at. The reversal
// rule compares subsequent observations against this rate's sign.
func (m *Manager) SetEntry(symbol string, rate decimal.Decimal) {
	m.mu.Lock()
	m.entries[symbol] = rate
	m.mu.Unlock()
}

// Observe appends a funding-rate observation to the symbol's rolling window,
// keeping only the most recent windowSize entries.
func (m *Manager) Observe(symbol string, rate decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	w := append(m.windows[symbol], rate)
	if len(w) > m.windowSize {
		w = w[len(w)-m.windowSize:]
	}
	m.windows[symbol] = w
}

// Forget drops the symbol's window and entry rate, called after a close.
func (m *Manager) Forget(symbol string) {
	m.mu.Lock()
	delete(m.windows, symbol)
	delete(m.entries, symbol)
	m.mu.Unlock()
}

// Evaluate runs the rule chain against one position and returns the first
// non-hold verdict. perp carries the exchange-reported derivative state and
// may be nil when the exchange query failed this cycle.
func (m *Manager) Evaluate(position domain.ArbitragePosition, perp *domain.PerpPosition) domain.RiskCheckResult {
	if r := m.checkMargin(position.Symbol, perp); r.Action != domain.RiskActionHold {
		return r
	}
	if r := m.checkDelta(position); r.Action != domain.RiskActionHold {
		return r
	}
	if r := m.checkReversal(position.Symbol); r.Action != domain.RiskActionHold {
		return r
	}
	// Per-position unrealized-loss rule. Intentionally a no-op: the original
	// operators never settled on a threshold that would not churn positions
	// during ordinary basis noise. Extension point.
	return domain.Hold()
}

func (m *Manager) checkMargin(symbol string, perp *domain.PerpPosition) domain.RiskCheckResult {
	if perp == nil || perp.MarginRatio == nil {
		return domain.Hold()
	}
	ratio := *perp.MarginRatio
	switch {
	case ratio.LessThan(m.marginClose):
		return domain.RiskCheckResult{
			Action:   domain.RiskActionClose,
			Reason:   fmt.Sprintf("margin ratio %s below close threshold %s", ratio, m.marginClose),
			Severity: severityMarginClose,
		}
	case ratio.LessThan(m.marginDanger):
		return domain.RiskCheckResult{
			Action:   domain.RiskActionReduce,
			Reason:   fmt.Sprintf("margin ratio %s below danger threshold %s", ratio, m.marginDanger),
			Severity: severityMarginReduce,
		}
	case ratio.LessThan(m.marginWarning):
		m.logger.Warn("margin ratio approaching danger zone",
			slog.String("symbol", symbol),
			slog.String("margin_ratio", ratio.String()))
	}
	return domain.Hold()
}

func (m *Manager) checkDelta(position domain.ArbitragePosition) domain.RiskCheckResult {
	delta := position.Delta().Abs()
	limit := m.deltaTol.Mul(decimal.NewFromInt(2))
	if delta.GreaterThan(limit) {
		return domain.RiskCheckResult{
			Action:   domain.RiskActionRebalance,
			Reason:   fmt.Sprintf("delta %s exceeds twice the tolerance %s", delta, m.deltaTol),
			Severity: severityRebalance,
		}
	}
	return domain.Hold()
}

// checkReversal fires when the funding-income source has inverted into a
// cost: every rate in a full window sits beyond the reversal threshold on
// the opposite side of the entry rate.
func (m *Manager) checkReversal(symbol string) domain.RiskCheckResult {
	m.mu.Lock()
	window := m.windows[symbol]
	entry, hasEntry := m.entries[symbol]
	m.mu.Unlock()

	if len(window) < m.windowSize {
		return domain.Hold()
	}
	// Positions are only ever opened on positive rates; an unknown entry
	// (restored or adopted position) is treated as positive.
	entryPositive := !hasEntry || entry.IsPositive()

	for _, rate := range window {
		if entryPositive {
			if rate.GreaterThanOrEqual(m.reversalAbs.Neg()) {
				return domain.Hold()
			}
		} else {
			if rate.LessThanOrEqual(m.reversalAbs) {
				return domain.Hold()
			}
		}
	}
	return domain.RiskCheckResult{
		Action:   domain.RiskActionClose,
		Reason:   fmt.Sprintf("funding rate reversed against entry for %d consecutive periods", len(window)),
		Severity: severityReversal,
	}
}

// RecordLoss adds a realized loss (a positive magnitude) to both counters.
func (m *Manager) RecordLoss(amount decimal.Decimal) {
	if !amount.IsPositive() {
		return
	}
	m.mu.Lock()
	m.dailyLoss = m.dailyLoss.Add(amount)
	m.totalLoss = m.totalLoss.Add(amount)
	m.mu.Unlock()
}

// ResetDaily zeroes the daily counter at the day boundary.
func (m *Manager) ResetDaily() {
	m.mu.Lock()
	m.dailyLoss = decimal.Zero
	m.mu.Unlock()
}

// Losses returns the current daily and total realized-loss counters.
func (m *Manager) Losses() (daily, total decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.dailyLoss, m.totalLoss
}

// AllowNewPositions reports whether the drawdown limits still permit opening
// positions. Limits never force-close existing positions, they only stop new
// entries.
func (m *Manager) AllowNewPositions(capital decimal.Decimal) bool {
	if !capital.IsPositive() {
		return false
	}
	m.mu.Lock()
	daily, total := m.dailyLoss, m.totalLoss
	m.mu.Unlock()

	dailyLimit := capital.Mul(decimal.NewFromFloat(m.cfg.MaxLossDaily))
	totalLimit := capital.Mul(decimal.NewFromFloat(m.cfg.MaxLossTotal))
	if daily.GreaterThanOrEqual(dailyLimit) {
		m.logger.Warn("daily loss limit reached, new entries suspended",
			slog.String("daily_loss", daily.String()),
			slog.String("limit", dailyLimit.String()))
		return false
	}
	if total.GreaterThanOrEqual(totalLimit) {
		m.logger.Warn("total loss limit reached, new entries suspended",
			slog.String("total_loss", total.String()),
			slog.String("limit", totalLimit.String()))
		return false
	}
	return true
}
