package redis

import (
	"context"
	"fmt"
	"time"
)

const cooldownKeyPrefix = "fundarb:cooldown:"

// Cooldown marks recently closed symbols so the engine does not re-enter them
// until the key expires.
type Cooldown struct {
	client *Client
}

// NewCooldown creates a Cooldown backed by the given client.
func NewCooldown(client *Client) *Cooldown {
	return &Cooldown{client: client}
}

// Mark flags the symbol for the given TTL.
func (c *Cooldown) Mark(ctx context.Context, symbol string, ttl time.Duration) error {
	if ttl <= 0 {
		return nil
	}
	if err := c.client.rdb.Set(ctx, cooldownKeyPrefix+symbol, "1", ttl).Err(); err != nil {
		return fmt.Errorf("redis: mark cooldown %s: %w", symbol, err)
	}
	return nil
}

// Active reports whether the symbol is still cooling down.
func (c *Cooldown) Active(ctx context.Context, symbol string) (bool, error) {
	n, err := c.client.rdb.Exists(ctx, cooldownKeyPrefix+symbol).Result()
	if err != nil {
		return false, fmt.Errorf("redis: check cooldown %s: %w", symbol, err)
	}
	return n > 0, nil
}
