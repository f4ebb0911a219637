// Package binance implements the exchange.Gateway interface against the
// Binance spot and USD-M futures REST APIs.
package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"fundarb/internal/crypto"
	"fundarb/internal/exchange"
)

const (
	spotBaseURL    = "https://api.binance.com"
	futuresBaseURL = "https://fapi.binance.com"

	spotTestnetURL    = "https://testnet.binance.vision"
	futuresTestnetURL = "https://testnet.binancefuture.com"
)

func init() {
	exchange.Register("binance", func(creds exchange.Credentials, logger *slog.Logger) (exchange.Gateway, error) {
		return NewClient(creds, logger), nil
	})
}

// Client talks to the Binance spot and futures REST APIs. Engine-facing
// symbols use the "BTC/USDT:USDT" perp and "BTC/USDT" spot convention; the
// client converts to Binance's concatenated form at the wire.
type Client struct {
	spotURL    string
	futuresURL string
	apiKey     string
	signer     *crypto.HMACSigner
	httpClient *http.Client
	logger     *slog.Logger

	// spotMarkets caches the spot exchangeInfo symbol set.
	spotMarketsMu sync.Mutex
	spotMarkets   map[string]bool
}

// NewClient creates a Binance gateway. Public market-data endpoints work
// without credentials; trading and account endpoints require them.
func NewClient(creds exchange.Credentials, logger *slog.Logger) *Client {
	spotURL, futURL := spotBaseURL, futuresBaseURL
	if creds.Testnet {
		spotURL, futURL = spotTestnetURL, futuresTestnetURL
	}
	return &Client{
		spotURL:    spotURL,
		futuresURL: futURL,
		apiKey:     creds.APIKey,
		signer:     crypto.NewHMACSigner(creds.Secret),
		httpClient: &http.Client{Timeout: 15 * time.Second},
		logger:     logger.With(slog.String("component", "binance_gateway")),
	}
}

// Close releases idle connections.
func (c *Client) Close() error {
	c.httpClient.CloseIdleConnections()
	return nil
}

// wireSymbol converts "BTC/USDT:USDT" or "BTC/USDT" to "BTCUSDT".
func wireSymbol(symbol string) string {
	if i := strings.IndexByte(symbol, ':'); i >= 0 {
		symbol = symbol[:i]
	}
	return strings.ReplaceAll(symbol, "/", "")
}

// perpSymbol converts "BTCUSDT" back to the engine's "BTC/USDT:USDT" form.
func perpSymbol(wire string) string {
	base, ok := strings.CutSuffix(wire, "USDT")
	if !ok || base == "" {
		return wire
	}
	return base + "/USDT:USDT"
}

// doPublic performs an unauthenticated GET and decodes the JSON response.
func (c *Client) doPublic(ctx context.Context, baseURL, path string, params url.Values, out any) error {
	u := baseURL + path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	return c.do(ctx, http.MethodGet, u, nil, out)
}

// doSigned performs an authenticated request. Binance signs the query string
// (including a millisecond timestamp) with HMAC-SHA256.
func (c *Client) doSigned(ctx context.Context, method, baseURL, path string, params url.Values, out any) error {
	if params == nil {
		params = url.Values{}
	}
	params.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	params.Set("recvWindow", "5000")
	query := params.Encode()
	query += "&signature=" + c.signer.SignHex(query)

	u := baseURL + path + "?" + query
	headers := map[string]string{"X-MBX-APIKEY": c.apiKey}
	return c.doWithHeaders(ctx, method, u, headers, out)
}

func (c *Client) do(ctx context.Context, method, u string, headers map[string]string, out any) error {
	return c.doWithHeaders(ctx, method, u, headers, out)
}

func (c *Client) doWithHeaders(ctx context.Context, method, u string, headers map[string]string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, u, nil)
	if err != nil {
		return fmt.Errorf("binance: build request: %w", err)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("binance: %s %s: %w", method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16<<20))
	if err != nil {
		return fmt.Errorf("binance: read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Code int    `json:"code"`
			Msg  string `json:"msg"`
		}
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Msg != "" {
			return fmt.Errorf("binance: %s %s: status %d code %d: %s",
				method, req.URL.Path, resp.StatusCode, apiErr.Code, apiErr.Msg)
		}
		return fmt.Errorf("binance: %s %s: status %d", method, req.URL.Path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("binance: decode %s: %w", req.URL.Path, err)
	}
	return nil
}
