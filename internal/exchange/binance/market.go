package binance

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"fundarb/internal/domain"
)

type premiumIndexResponse struct {
	Symbol          string `json:"symbol"`
	LastFundingRate string `json:"lastFundingRate"`
	// interestRate-adjusted estimate for the upcoming settlement
	EstimatedRate   string `json:"estimatedSettlePrice,omitempty"`
	PredictedRate   string `json:"predictedFundingRate,omitempty"`
	NextFundingTime int64  `json:"nextFundingTime"`
	Time            int64  `json:"time"`
}

// GetFundingRate returns the current funding rate for one perp symbol.
func (c *Client) GetFundingRate(ctx context.Context, symbol string) (domain.FundingRate, error) {
	params := url.Values{}
	params.Set("symbol", wireSymbol(symbol))

	var resp premiumIndexResponse
	if err := c.doPublic(ctx, c.futuresURL, "/fapi/v1/premiumIndex", params, &resp); err != nil {
		return domain.FundingRate{}, fmt.Errorf("binance: funding rate %s: %w", symbol, err)
	}
	return parseFundingRate(resp)
}

// GetFundingRates returns the funding rates of every USDT-margined perp.
func (c *Client) GetFundingRates(ctx context.Context) ([]domain.FundingRate, error) {
	var resp []premiumIndexResponse
	if err := c.doPublic(ctx, c.futuresURL, "/fapi/v1/premiumIndex", nil, &resp); err != nil {
		return nil, fmt.Errorf("binance: funding rates: %w", err)
	}

	rates := make([]domain.FundingRate, 0, len(resp))
	for _, r := range resp {
		rate, err := parseFundingRate(r)
		if err != nil {
			c.logger.Warn("skipping unparseable funding rate",
				slog.String("symbol", r.Symbol),
				slog.String("error", err.Error()),
			)
			continue
		}
		rates = append(rates, rate)
	}
	return rates, nil
}

func parseFundingRate(r premiumIndexResponse) (domain.FundingRate, error) {
	rate, err := decimal.NewFromString(orZero(r.LastFundingRate))
	if err != nil {
		return domain.FundingRate{}, fmt.Errorf("binance: parse lastFundingRate %q: %w", r.LastFundingRate, err)
	}
	predicted := rate
	if r.PredictedRate != "" {
		if p, err := decimal.NewFromString(r.PredictedRate); err == nil {
			predicted = p
		}
	}
	return domain.FundingRate{
		Symbol:          perpSymbol(r.Symbol),
		Rate:            rate,
		PredictedRate:   predicted,
		NextFundingTime: time.UnixMilli(r.NextFundingTime).UTC(),
		Timestamp:       time.UnixMilli(r.Time).UTC(),
	}, nil
}

type ticker24hResponse struct {
	Symbol      string `json:"symbol"`
	LastPrice   string `json:"lastPrice"`
	QuoteVolume string `json:"quoteVolume"`
	HighPrice   string `json:"highPrice"`
	LowPrice    string `json:"lowPrice"`
	CloseTime   int64  `json:"closeTime"`
}

// GetTicker returns the 24h ticker for one symbol (spot or perp form).
func (c *Client) GetTicker(ctx context.Context, symbol string) (domain.Ticker, error) {
	params := url.Values{}
	params.Set("symbol", wireSymbol(symbol))

	var resp ticker24hResponse
	if err := c.doPublic(ctx, c.futuresURL, "/fapi/v1/ticker/24hr", params, &resp); err != nil {
		return domain.Ticker{}, fmt.Errorf("binance: ticker %s: %w", symbol, err)
	}
	t, err := parseTicker(resp)
	if err != nil {
		return domain.Ticker{}, err
	}
	t.Symbol = symbol
	return t, nil
}

// GetTickers returns 24h tickers for all USDT-margined perps.
func (c *Client) GetTickers(ctx context.Context) ([]domain.Ticker, error) {
	var resp []ticker24hResponse
	if err := c.doPublic(ctx, c.futuresURL, "/fapi/v1/ticker/24hr", nil, &resp); err != nil {
		return nil, fmt.Errorf("binance: tickers: %w", err)
	}

	tickers := make([]domain.Ticker, 0, len(resp))
	for _, r := range resp {
		t, err := parseTicker(r)
		if err != nil {
			continue
		}
		t.Symbol = perpSymbol(r.Symbol)
		tickers = append(tickers, t)
	}
	return tickers, nil
}

func parseTicker(r ticker24hResponse) (domain.Ticker, error) {
	last, err := decimal.NewFromString(orZero(r.LastPrice))
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("binance: parse lastPrice %q: %w", r.LastPrice, err)
	}
	vol, err := decimal.NewFromString(orZero(r.QuoteVolume))
	if err != nil {
		return domain.Ticker{}, fmt.Errorf("binance: parse quoteVolume %q: %w", r.QuoteVolume, err)
	}
	high, _ := decimal.NewFromString(orZero(r.HighPrice))
	low, _ := decimal.NewFromString(orZero(r.LowPrice))
	return domain.Ticker{
		LastPrice: last,
		Volume24h: vol,
		High24h:   high,
		Low24h:    low,
		Timestamp: time.UnixMilli(r.CloseTime).UTC(),
	}, nil
}

type depthResponse struct {
	Bids [][2]string `json:"bids"`
	Asks [][2]string `json:"asks"`
	Time int64       `json:"T"`
}

// GetOrderBook returns an order-book snapshot for a perp symbol.
func (c *Client) GetOrderBook(ctx context.Context, symbol string, depth int) (domain.OrderBook, error) {
	if depth <= 0 {
		depth = 20
	}
	params := url.Values{}
	params.Set("symbol", wireSymbol(symbol))
	params.Set("limit", strconv.Itoa(depth))

	var resp depthResponse
	if err := c.doPublic(ctx, c.futuresURL, "/fapi/v1/depth", params, &resp); err != nil {
		return domain.OrderBook{}, fmt.Errorf("binance: order book %s: %w", symbol, err)
	}

	book := domain.OrderBook{
		Symbol:    symbol,
		Bids:      parseLevels(resp.Bids),
		Asks:      parseLevels(resp.Asks),
		Timestamp: time.UnixMilli(resp.Time).UTC(),
	}
	if book.Timestamp.IsZero() || resp.Time == 0 {
		book.Timestamp = time.Now().UTC()
	}
	return book, nil
}

func parseLevels(raw [][2]string) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		price, err := decimal.NewFromString(lvl[0])
		if err != nil {
			continue
		}
		qty, err := decimal.NewFromString(lvl[1])
		if err != nil {
			continue
		}
		levels = append(levels, domain.PriceLevel{Price: price, Qty: qty})
	}
	return levels
}

// HasSpotMarket reports whether the given spot symbol is listed and trading.
// The spot exchangeInfo symbol set is fetched once and cached.
func (c *Client) HasSpotMarket(ctx context.Context, spotSymbol string) (bool, error) {
	c.spotMarketsMu.Lock()
	defer c.spotMarketsMu.Unlock()

	if c.spotMarkets == nil {
		var resp struct {
			Symbols []struct {
				Symbol string `json:"symbol"`
				Status string `json:"status"`
			} `json:"symbols"`
		}
		if err := c.doPublic(ctx, c.spotURL, "/api/v3/exchangeInfo", nil, &resp); err != nil {
			return false, fmt.Errorf("binance: spot exchange info: %w", err)
		}
		c.spotMarkets = make(map[string]bool, len(resp.Symbols))
		for _, s := range resp.Symbols {
			if s.Status == "TRADING" {
				c.spotMarkets[s.Symbol] = true
			}
		}
	}
	return c.spotMarkets[wireSymbol(spotSymbol)], nil
}

func orZero(s string) string {
	if s == "" {
		return "0"
	}
	return s
}
