package binance

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"fundarb/internal/domain"
	"fundarb/internal/exchange"
)

// GetSpotBalance returns the free spot balance of one asset.
func (c *Client) GetSpotBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	balances, err := c.GetSpotBalances(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	return balances[strings.ToUpper(asset)].Free, nil
}

// GetSpotBalances returns free/total spot balances for every held asset.
func (c *Client) GetSpotBalances(ctx context.Context) (map[string]exchange.SpotBalance, error) {
	var resp struct {
		Balances []struct {
			Asset  string `json:"asset"`
			Free   string `json:"free"`
			Locked string `json:"locked"`
		} `json:"balances"`
	}
	if err := c.doSigned(ctx, http.MethodGet, c.spotURL, "/api/v3/account", nil, &resp); err != nil {
		return nil, fmt.Errorf("binance: spot account: %w", err)
	}

	out := make(map[string]exchange.SpotBalance, len(resp.Balances))
	for _, b := range resp.Balances {
		free, err := decimal.NewFromString(orZero(b.Free))
		if err != nil {
			continue
		}
		locked, _ := decimal.NewFromString(orZero(b.Locked))
		if free.IsZero() && locked.IsZero() {
			continue
		}
		out[b.Asset] = exchange.SpotBalance{Free: free, Total: free.Add(locked)}
	}
	return out, nil
}

// GetPerpBalance returns the available futures wallet balance of one asset.
func (c *Client) GetPerpBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	var resp []struct {
		Asset            string `json:"asset"`
		AvailableBalance string `json:"availableBalance"`
	}
	if err := c.doSigned(ctx, http.MethodGet, c.futuresURL, "/fapi/v2/balance", nil, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("binance: futures balance: %w", err)
	}
	for _, b := range resp {
		if strings.EqualFold(b.Asset, asset) {
			bal, err := decimal.NewFromString(orZero(b.AvailableBalance))
			if err != nil {
				return decimal.Zero, fmt.Errorf("binance: parse balance %q: %w", b.AvailableBalance, err)
			}
			return bal, nil
		}
	}
	return decimal.Zero, nil
}

type positionRiskResponse struct {
	Symbol           string `json:"symbol"`
	PositionAmt      string `json:"positionAmt"`
	EntryPrice       string `json:"entryPrice"`
	MarkPrice        string `json:"markPrice"`
	UnRealizedProfit string `json:"unRealizedProfit"`
	Leverage         string `json:"leverage"`
	MarginRatio      string `json:"marginRatio,omitempty"`
}

// GetPosition returns the exchange-reported perp position for one symbol.
// A flat symbol returns domain.ErrNotFound.
func (c *Client) GetPosition(ctx context.Context, symbol string) (domain.PerpPosition, error) {
	params := url.Values{}
	params.Set("symbol", wireSymbol(symbol))

	var resp []positionRiskResponse
	if err := c.doSigned(ctx, http.MethodGet, c.futuresURL, "/fapi/v2/positionRisk", params, &resp); err != nil {
		return domain.PerpPosition{}, fmt.Errorf("binance: position %s: %w", symbol, err)
	}
	for _, p := range resp {
		pos, err := parsePosition(p)
		if err != nil {
			return domain.PerpPosition{}, err
		}
		if !pos.Qty.IsZero() {
			return pos, nil
		}
	}
	return domain.PerpPosition{}, domain.ErrNotFound
}

// GetPositions returns every non-flat perp position on the account.
func (c *Client) GetPositions(ctx context.Context) ([]domain.PerpPosition, error) {
	var resp []positionRiskResponse
	if err := c.doSigned(ctx, http.MethodGet, c.futuresURL, "/fapi/v2/positionRisk", nil, &resp); err != nil {
		return nil, fmt.Errorf("binance: positions: %w", err)
	}

	positions := make([]domain.PerpPosition, 0, len(resp))
	for _, p := range resp {
		pos, err := parsePosition(p)
		if err != nil {
			continue
		}
		if pos.Qty.IsZero() {
			continue
		}
		positions = append(positions, pos)
	}
	return positions, nil
}

func parsePosition(p positionRiskResponse) (domain.PerpPosition, error) {
	qty, err := decimal.NewFromString(orZero(p.PositionAmt))
	if err != nil {
		return domain.PerpPosition{}, fmt.Errorf("binance: parse positionAmt %q: %w", p.PositionAmt, err)
	}
	entry, _ := decimal.NewFromString(orZero(p.EntryPrice))
	mark, _ := decimal.NewFromString(orZero(p.MarkPrice))
	upnl, _ := decimal.NewFromString(orZero(p.UnRealizedProfit))
	lev, _ := strconv.Atoi(orZero(p.Leverage))

	pos := domain.PerpPosition{
		Symbol:        perpSymbol(p.Symbol),
		Qty:           qty,
		EntryPrice:    entry,
		MarkPrice:     mark,
		Leverage:      lev,
		UnrealizedPnL: upnl,
	}
	if p.MarginRatio != "" {
		if mr, err := decimal.NewFromString(p.MarginRatio); err == nil {
			pos.MarginRatio = &mr
		}
	}
	return pos, nil
}

type orderResponse struct {
	OrderID       int64  `json:"orderId"`
	ClientOrderID string `json:"clientOrderId"`
	Symbol        string `json:"symbol"`
	Status        string `json:"status"`
	ExecutedQty   string `json:"executedQty"`
	OrigQty       string `json:"origQty"`
	// spot fills carry the average price in cummulativeQuoteQty / executedQty
	CumQuote string `json:"cummulativeQuoteQty,omitempty"`
	AvgPrice string `json:"avgPrice,omitempty"`
	Time     int64  `json:"transactTime"`
}

// PlaceSpotOrder submits a spot order and returns the acknowledged fill.
func (c *Client) PlaceSpotOrder(ctx context.Context, symbol string, side domain.OrderSide, qty decimal.Decimal, typ domain.OrderType) (domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", wireSymbol(symbol))
	params.Set("side", strings.ToUpper(string(side)))
	params.Set("type", strings.ToUpper(string(typ)))
	params.Set("quantity", qty.String())
	params.Set("newClientOrderId", uuid.New().String())
	params.Set("newOrderRespType", "FULL")

	var resp orderResponse
	if err := c.doSigned(ctx, http.MethodPost, c.spotURL, "/api/v3/order", params, &resp); err != nil {
		return domain.Order{}, fmt.Errorf("binance: spot %s %s: %w", side, symbol, err)
	}
	return parseOrder(resp, symbol, side, typ)
}

// PlacePerpOrder submits a USD-M futures order. reduceOnly orders can only
// shrink an existing position.
func (c *Client) PlacePerpOrder(ctx context.Context, symbol string, side domain.OrderSide, qty decimal.Decimal, typ domain.OrderType, reduceOnly bool) (domain.Order, error) {
	params := url.Values{}
	params.Set("symbol", wireSymbol(symbol))
	params.Set("side", strings.ToUpper(string(side)))
	params.Set("type", strings.ToUpper(string(typ)))
	params.Set("quantity", qty.Abs().String())
	params.Set("newClientOrderId", uuid.New().String())
	if reduceOnly {
		params.Set("reduceOnly", "true")
	}

	var resp orderResponse
	if err := c.doSigned(ctx, http.MethodPost, c.futuresURL, "/fapi/v1/order", params, &resp); err != nil {
		return domain.Order{}, fmt.Errorf("binance: perp %s %s: %w", side, symbol, err)
	}
	return parseOrder(resp, symbol, side, typ)
}

func parseOrder(r orderResponse, symbol string, side domain.OrderSide, typ domain.OrderType) (domain.Order, error) {
	filled, err := decimal.NewFromString(orZero(r.ExecutedQty))
	if err != nil {
		return domain.Order{}, fmt.Errorf("binance: parse executedQty %q: %w", r.ExecutedQty, err)
	}
	amount, _ := decimal.NewFromString(orZero(r.OrigQty))

	price := decimal.Zero
	if r.AvgPrice != "" {
		price, _ = decimal.NewFromString(r.AvgPrice)
	}
	if price.IsZero() && r.CumQuote != "" && !filled.IsZero() {
		if quote, err := decimal.NewFromString(r.CumQuote); err == nil {
			price = quote.Div(filled)
		}
	}

	status := domain.OrderStatusOpen
	switch r.Status {
	case "FILLED":
		status = domain.OrderStatusFilled
	case "CANCELED", "EXPIRED":
		status = domain.OrderStatusCanceled
	case "REJECTED":
		status = domain.OrderStatusRejected
	}

	return domain.Order{
		ID:        strconv.FormatInt(r.OrderID, 10),
		ClientID:  r.ClientOrderID,
		Symbol:    symbol,
		Side:      side,
		Type:      typ,
		Price:     price,
		Amount:    amount,
		Filled:    filled,
		Remaining: amount.Sub(filled),
		Status:    status,
		CreatedAt: time.UnixMilli(r.Time).UTC(),
	}, nil
}

// SetLeverage sets the futures leverage for a symbol.
func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	params := url.Values{}
	params.Set("symbol", wireSymbol(symbol))
	params.Set("leverage", strconv.Itoa(leverage))

	if err := c.doSigned(ctx, http.MethodPost, c.futuresURL, "/fapi/v1/leverage", params, nil); err != nil {
		return fmt.Errorf("binance: set leverage %s: %w", symbol, err)
	}
	return nil
}

// GetFundingHistory returns funding-fee cash flows from the futures income
// endpoint, oldest first. since is a millisecond timestamp; zero means the
// exchange default window.
func (c *Client) GetFundingHistory(ctx context.Context, since int64, limit int) ([]domain.FundingPayment, error) {
	params := url.Values{}
	params.Set("incomeType", "FUNDING_FEE")
	if since > 0 {
		params.Set("startTime", strconv.FormatInt(since, 10))
	}
	if limit > 0 {
		params.Set("limit", strconv.Itoa(limit))
	}

	var resp []struct {
		Symbol string `json:"symbol"`
		Income string `json:"income"`
		Time   int64  `json:"time"`
	}
	if err := c.doSigned(ctx, http.MethodGet, c.futuresURL, "/fapi/v1/income", params, &resp); err != nil {
		return nil, fmt.Errorf("binance: funding history: %w", err)
	}

	payments := make([]domain.FundingPayment, 0, len(resp))
	for _, p := range resp {
		income, err := decimal.NewFromString(orZero(p.Income))
		if err != nil {
			continue
		}
		payments = append(payments, domain.FundingPayment{
			Symbol:    perpSymbol(p.Symbol),
			Income:    income,
			Timestamp: time.UnixMilli(p.Time).UTC(),
		})
	}
	return payments, nil
}
