// Package scanner finds funding-arbitrage candidates: it pulls rates, tickers
// and order books through the exchange gateway, builds candidate pools, and
// ranks them with the selector.
package scanner

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"fundarb/internal/config"
	"fundarb/internal/domain"
	"fundarb/internal/exchange"
)

// Scanner drives one market sweep per engine cycle. A failed funding-rate
// fetch aborts the whole sweep; a single symbol's order-book failure only
// skips that symbol.
type Scanner struct {
	gateway   exchange.Gateway
	selector  *Selector
	rateCache domain.RateCache
	depthBand decimal.Decimal
	bookDepth int
	logger    *slog.Logger
}

// New creates a Scanner. rateCache may be nil, in which case the per-cycle
// snapshot is simply not shared.
func New(
	gateway exchange.Gateway,
	selector *Selector,
	rateCache domain.RateCache,
	filter config.FilterConfig,
	logger *slog.Logger,
) *Scanner {
	depth := filter.OrderBookLevels
	if depth <= 0 {
		depth = 20
	}
	return &Scanner{
		gateway:   gateway,
		selector:  selector,
		rateCache: rateCache,
		depthBand: decimal.NewFromFloat(filter.DepthBandPct),
		bookDepth: depth,
		logger:    logger.With(slog.String("component", "scanner")),
	}
}

// Scan sweeps the whole market and returns ranked candidates, best first.
func (s *Scanner) Scan(ctx context.Context) ([]domain.Pool, error) {
	rates, err := s.gateway.GetFundingRates(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanner: fetch funding rates: %w", err)
	}

	if s.rateCache != nil {
		if cacheErr := s.rateCache.SetRates(ctx, rates); cacheErr != nil {
			s.logger.Warn("rate cache write failed", slog.String("error", cacheErr.Error()))
		}
	}

	// Pre-filter on rate magnitude before touching tickers and books so the
	// expensive per-symbol calls only run for plausible candidates.
	minRate := s.selector.minRate
	candidates := make([]domain.FundingRate, 0, len(rates))
	for _, r := range rates {
		if r.AbsRate().GreaterThanOrEqual(minRate) {
			candidates = append(candidates, r)
		}
	}
	if len(candidates) == 0 {
		return nil, nil
	}

	tickers, err := s.gateway.GetTickers(ctx)
	if err != nil {
		return nil, fmt.Errorf("scanner: fetch tickers: %w", err)
	}
	tickerBySymbol := make(map[string]domain.Ticker, len(tickers))
	for _, t := range tickers {
		tickerBySymbol[t.Symbol] = t
	}

	pools := make([]domain.Pool, 0, len(candidates))
	for _, rate := range candidates {
		ticker, ok := tickerBySymbol[rate.Symbol]
		if !ok {
			continue
		}

		pool, err := s.buildPool(ctx, rate, ticker)
		if err != nil {
			s.logger.Warn("skipping symbol",
				slog.String("symbol", rate.Symbol),
				slog.String("error", err.Error()))
			continue
		}
		if pool == nil {
			continue
		}
		pools = append(pools, *pool)
	}

	ranked := s.selector.Filter(pools)
	s.logger.Info("scan complete",
		slog.Int("rates", len(rates)),
		slog.Int("candidates", len(candidates)),
		slog.Int("ranked", len(ranked)))
	return ranked, nil
}

// ScanSingle builds and scores one symbol's candidate without the market-wide
// sweep. Returns domain.ErrNotFound when the symbol fails the filter.
func (s *Scanner) ScanSingle(ctx context.Context, symbol string) (domain.Pool, error) {
	rate, err := s.gateway.GetFundingRate(ctx, symbol)
	if err != nil {
		return domain.Pool{}, fmt.Errorf("scanner: fetch funding rate %s: %w", symbol, err)
	}
	ticker, err := s.gateway.GetTicker(ctx, symbol)
	if err != nil {
		return domain.Pool{}, fmt.Errorf("scanner: fetch ticker %s: %w", symbol, err)
	}

	pool, err := s.buildPool(ctx, rate, ticker)
	if err != nil {
		return domain.Pool{}, err
	}
	if pool == nil {
		return domain.Pool{}, domain.ErrNotFound
	}

	ranked := s.selector.Filter([]domain.Pool{*pool})
	if len(ranked) == 0 {
		return domain.Pool{}, domain.ErrNotFound
	}
	return ranked[0], nil
}

// buildPool fetches the order book, verifies a spot market exists, and
// assembles the candidate. A nil pool with nil error means the symbol has no
// tradable spot market.
func (s *Scanner) buildPool(ctx context.Context, rate domain.FundingRate, ticker domain.Ticker) (*domain.Pool, error) {
	hasSpot, err := s.gateway.HasSpotMarket(ctx, rate.Symbol)
	if err != nil {
		return nil, fmt.Errorf("scanner: check spot market %s: %w", rate.Symbol, err)
	}
	if !hasSpot {
		return nil, nil
	}

	book, err := s.gateway.GetOrderBook(ctx, rate.Symbol, s.bookDepth)
	if err != nil {
		return nil, fmt.Errorf("scanner: fetch order book %s: %w", rate.Symbol, err)
	}

	pool := domain.NewPool(rate, ticker, book, s.depthBand)
	return &pool, nil
}
