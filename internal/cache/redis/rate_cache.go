package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"fundarb/internal/domain"
)

const rateKeyPrefix = "fundarb:rate:"

// RateCache stores the latest funding-rate snapshot per symbol with a TTL so
// stale rates age out between scan cycles.
type RateCache struct {
	client *Client
	ttl    time.Duration
}

// NewRateCache creates a RateCache with the given entry TTL.
func NewRateCache(client *Client, ttl time.Duration) *RateCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RateCache{client: client, ttl: ttl}
}

type rateEntry struct {
	Symbol          string    `json:"symbol"`
	Rate            string    `json:"rate"`
	PredictedRate   string    `json:"predicted_rate"`
	NextFundingTime time.Time `json:"next_funding_time"`
	Timestamp       time.Time `json:"timestamp"`
}

func rateKey(symbol string) string {
	return rateKeyPrefix + symbol
}

// SetRates writes the snapshot in a single pipeline round trip.
func (c *RateCache) SetRates(ctx context.Context, rates []domain.FundingRate) error {
	if len(rates) == 0 {
		return nil
	}
	pipe := c.client.rdb.Pipeline()
	for _, r := range rates {
		data, err := json.Marshal(rateEntry{
			Symbol:          r.Symbol,
			Rate:            r.Rate.String(),
			PredictedRate:   r.PredictedRate.String(),
			NextFundingTime: r.NextFundingTime,
			Timestamp:       r.Timestamp,
		})
		if err != nil {
			return fmt.Errorf("redis: marshal rate %s: %w", r.Symbol, err)
		}
		pipe.Set(ctx, rateKey(r.Symbol), data, c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis: set rates: %w", err)
	}
	return nil
}

// GetRate fetches one symbol's cached rate, or domain.ErrNotFound when the
// entry is absent or expired.
func (c *RateCache) GetRate(ctx context.Context, symbol string) (domain.FundingRate, error) {
	data, err := c.client.rdb.Get(ctx, rateKey(symbol)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.FundingRate{}, domain.ErrNotFound
		}
		return domain.FundingRate{}, fmt.Errorf("redis: get rate %s: %w", symbol, err)
	}
	return decodeRate(data)
}

// GetRates fetches cached rates for the given symbols in one MGET, skipping
// symbols with no live entry.
func (c *RateCache) GetRates(ctx context.Context, symbols []string) (map[string]domain.FundingRate, error) {
	if len(symbols) == 0 {
		return map[string]domain.FundingRate{}, nil
	}
	keys := make([]string, len(symbols))
	for i, s := range symbols {
		keys[i] = rateKey(s)
	}
	values, err := c.client.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("redis: mget rates: %w", err)
	}

	result := make(map[string]domain.FundingRate, len(symbols))
	for i, v := range values {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			continue
		}
		rate, err := decodeRate([]byte(s))
		if err != nil {
			return nil, err
		}
		result[symbols[i]] = rate
	}
	return result, nil
}

func decodeRate(data []byte) (domain.FundingRate, error) {
	var e rateEntry
	if err := json.Unmarshal(data, &e); err != nil {
		return domain.FundingRate{}, fmt.Errorf("redis: unmarshal rate: %w", err)
	}
	rate, err := decimal.NewFromString(e.Rate)
	if err != nil {
		return domain.FundingRate{}, fmt.Errorf("redis: parse rate %q: %w", e.Rate, err)
	}
	predicted, err := decimal.NewFromString(e.PredictedRate)
	if err != nil {
		return domain.FundingRate{}, fmt.Errorf("redis: parse predicted rate %q: %w", e.PredictedRate, err)
	}
	return domain.FundingRate{
		Symbol:          e.Symbol,
		Rate:            rate,
		PredictedRate:   predicted,
		NextFundingTime: e.NextFundingTime,
		Timestamp:       e.Timestamp,
	}, nil
}
