package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"

	"fundarb/internal/domain"
	"fundarb/internal/exchange"
)

const (
	markPriceStreamURL = "wss://fstream.binance.com/ws/!markPrice@arr"

	readLimit      = 16 << 20
	pongWait       = 3 * time.Minute
	reconnectDelay = 2 * time.Second
	maxReconnect   = 60 * time.Second

	// A session that lives this long resets the reconnect backoff.
	healthySession = time.Minute
)

// markPriceEvent is one element of the !markPrice@arr combined stream.
type markPriceEvent struct {
	Symbol          string `json:"s"`
	FundingRate     string `json:"r"`
	NextFundingTime int64  `json:"T"`
	EventTime       int64  `json:"E"`
}

// StreamFundingRates connects to the all-market mark-price stream and invokes
// handler for each batch of updates. It reconnects with capped backoff and
// returns when the context is cancelled.
func (c *Client) StreamFundingRates(ctx context.Context, handler exchange.RateUpdateHandler) error {
	delay := reconnectDelay
	for {
		started := time.Now()
		err := c.streamOnce(ctx, handler)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		delay = nextReconnectDelay(delay, time.Since(started))
		c.logger.Warn("mark price stream dropped, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
}

// nextReconnectDelay doubles the backoff up to the cap. A session that
// stayed up long enough to count as healthy starts the ladder over, so one
// bad burst does not leave every later reconnect waiting the full cap.
func nextReconnectDelay(current, sessionLife time.Duration) time.Duration {
	if sessionLife >= healthySession {
		return reconnectDelay
	}
	next := current * 2
	if next > maxReconnect {
		next = maxReconnect
	}
	return next
}

func (c *Client) streamOnce(ctx context.Context, handler exchange.RateUpdateHandler) error {
	dialer := websocket.Dialer{HandshakeTimeout: 15 * time.Second}
	conn, _, err := dialer.DialContext(ctx, markPriceStreamURL, nil)
	if err != nil {
		return fmt.Errorf("binance: dial mark price stream: %w", err)
	}
	defer conn.Close()

	conn.SetReadLimit(readLimit)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(10*time.Second))
	})

	// Close the connection when the context ends so ReadMessage unblocks.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			_ = conn.Close()
		case <-done:
		}
	}()

	c.logger.Info("mark price stream connected")
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("binance: read mark price stream: %w", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var events []markPriceEvent
		if err := json.Unmarshal(msg, &events); err != nil {
			c.logger.Debug("skipping non-array stream message")
			continue
		}

		rates := make([]domain.FundingRate, 0, len(events))
		for _, ev := range events {
			rate, err := decimal.NewFromString(orZero(ev.FundingRate))
			if err != nil {
				continue
			}
			rates = append(rates, domain.FundingRate{
				Symbol:          perpSymbol(ev.Symbol),
				Rate:            rate,
				PredictedRate:   rate,
				NextFundingTime: time.UnixMilli(ev.NextFundingTime).UTC(),
				Timestamp:       time.UnixMilli(ev.EventTime).UTC(),
			})
		}
		if len(rates) > 0 {
			handler(rates)
		}
	}
}
