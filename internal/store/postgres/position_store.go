package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"fundarb/internal/domain"
)

// PositionStore persists arbitrage positions in the positions table, one row
// per symbol. NUMERIC columns travel as strings to keep decimal precision.
type PositionStore struct {
	client *Client
}

// NewPositionStore creates a PositionStore backed by the given client.
func NewPositionStore(client *Client) *PositionStore {
	return &PositionStore{client: client}
}

type orderRow struct {
	ID        string    `json:"id"`
	ClientID  string    `json:"client_id"`
	Symbol    string    `json:"symbol"`
	Side      string    `json:"side"`
	Type      string    `json:"type"`
	Price     string    `json:"price"`
	Amount    string    `json:"amount"`
	Filled    string    `json:"filled"`
	Remaining string    `json:"remaining"`
	Status    string    `json:"status"`
	Fee       string    `json:"fee"`
	FeeAsset  string    `json:"fee_asset"`
	CreatedAt time.Time `json:"created_at"`
}

func encodeOrders(orders []domain.Order) ([]byte, error) {
	rows := make([]orderRow, 0, len(orders))
	for _, o := range orders {
		rows = append(rows, orderRow{
			ID:        o.ID,
			ClientID:  o.ClientID,
			Symbol:    o.Symbol,
			Side:      string(o.Side),
			Type:      string(o.Type),
			Price:     o.Price.String(),
			Amount:    o.Amount.String(),
			Filled:    o.Filled.String(),
			Remaining: o.Remaining.String(),
			Status:    string(o.Status),
			Fee:       o.Fee.String(),
			FeeAsset:  o.FeeAsset,
			CreatedAt: o.CreatedAt,
		})
	}
	return json.Marshal(rows)
}

func decodeOrders(data []byte) ([]domain.Order, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var rows []orderRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, err
	}
	orders := make([]domain.Order, 0, len(rows))
	for _, r := range rows {
		price, err := decimal.NewFromString(r.Price)
		if err != nil {
			return nil, fmt.Errorf("order %s price %q: %w", r.ID, r.Price, err)
		}
		amount, err := decimal.NewFromString(r.Amount)
		if err != nil {
			return nil, fmt.Errorf("order %s amount %q: %w", r.ID, r.Amount, err)
		}
		filled, err := decimal.NewFromString(r.Filled)
		if err != nil {
			return nil, fmt.Errorf("order %s filled %q: %w", r.ID, r.Filled, err)
		}
		remaining, err := decimal.NewFromString(r.Remaining)
		if err != nil {
			return nil, fmt.Errorf("order %s remaining %q: %w", r.ID, r.Remaining, err)
		}
		fee, err := decimal.NewFromString(r.Fee)
		if err != nil {
			return nil, fmt.Errorf("order %s fee %q: %w", r.ID, r.Fee, err)
		}
		orders = append(orders, domain.Order{
			ID:        r.ID,
			ClientID:  r.ClientID,
			Symbol:    r.Symbol,
			Side:      domain.OrderSide(r.Side),
			Type:      domain.OrderType(r.Type),
			Price:     price,
			Amount:    amount,
			Filled:    filled,
			Remaining: remaining,
			Status:    domain.OrderStatus(r.Status),
			Fee:       fee,
			FeeAsset:  r.FeeAsset,
			CreatedAt: r.CreatedAt,
		})
	}
	return orders, nil
}

const positionColumns = `symbol, base_currency,
	spot_qty::text, spot_avg_price::text, spot_value::text,
	perp_qty::text, perp_avg_price::text, perp_value::text,
	funding_earned::text, leverage, opened_at, settlement_count, orders`

func scanPosition(row pgx.Row) (domain.ArbitragePosition, error) {
	var (
		p           domain.ArbitragePosition
		spotQty     string
		spotAvg     string
		spotValue   string
		perpQty     string
		perpAvg     string
		perpValue   string
		fundingStr  string
		ordersBytes []byte
	)
	err := row.Scan(
		&p.Symbol, &p.BaseCurrency,
		&spotQty, &spotAvg, &spotValue,
		&perpQty, &perpAvg, &perpValue,
		&fundingStr, &p.Leverage, &p.OpenedAt, &p.SettlementCount, &ordersBytes,
	)
	if err != nil {
		return domain.ArbitragePosition{}, err
	}

	fields := []struct {
		dst *decimal.Decimal
		src string
	}{
		{&p.SpotQty, spotQty},
		{&p.SpotAvgPrice, spotAvg},
		{&p.SpotValue, spotValue},
		{&p.PerpQty, perpQty},
		{&p.PerpAvgPrice, perpAvg},
		{&p.PerpValue, perpValue},
		{&p.FundingEarned, fundingStr},
	}
	for _, f := range fields {
		d, err := decimal.NewFromString(f.src)
		if err != nil {
			return domain.ArbitragePosition{}, fmt.Errorf("parse numeric %q: %w", f.src, err)
		}
		*f.dst = d
	}

	p.Orders, err = decodeOrders(ordersBytes)
	if err != nil {
		return domain.ArbitragePosition{}, fmt.Errorf("decode orders: %w", err)
	}
	return p, nil
}

// Save upserts the position, replacing any existing row for the symbol.
func (s *PositionStore) Save(ctx context.Context, p domain.ArbitragePosition) error {
	orders, err := encodeOrders(p.Orders)
	if err != nil {
		return fmt.Errorf("postgres: encode orders for %s: %w", p.Symbol, err)
	}

	const query = `
		INSERT INTO positions (
			symbol, base_currency,
			spot_qty, spot_avg_price, spot_value,
			perp_qty, perp_avg_price, perp_value,
			funding_earned, leverage, opened_at, settlement_count, orders, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, NOW()
		)
		ON CONFLICT (symbol) DO UPDATE SET
			base_currency = EXCLUDED.base_currency,
			spot_qty = EXCLUDED.spot_qty,
			spot_avg_price = EXCLUDED.spot_avg_price,
			spot_value = EXCLUDED.spot_value,
			perp_qty = EXCLUDED.perp_qty,
			perp_avg_price = EXCLUDED.perp_avg_price,
			perp_value = EXCLUDED.perp_value,
			funding_earned = EXCLUDED.funding_earned,
			leverage = EXCLUDED.leverage,
			opened_at = EXCLUDED.opened_at,
			settlement_count = EXCLUDED.settlement_count,
			orders = EXCLUDED.orders,
			updated_at = NOW()`

	_, err = s.client.pool.Exec(ctx, query,
		p.Symbol, p.BaseCurrency,
		p.SpotQty.String(), p.SpotAvgPrice.String(), p.SpotValue.String(),
		p.PerpQty.String(), p.PerpAvgPrice.String(), p.PerpValue.String(),
		p.FundingEarned.String(), p.Leverage, p.OpenedAt, p.SettlementCount, orders,
	)
	if err != nil {
		return fmt.Errorf("postgres: save position %s: %w", p.Symbol, err)
	}
	return nil
}

// Get fetches the position for the symbol, or domain.ErrNotFound.
func (s *PositionStore) Get(ctx context.Context, symbol string) (domain.ArbitragePosition, error) {
	query := "SELECT " + positionColumns + " FROM positions WHERE symbol = $1"
	p, err := scanPosition(s.client.pool.QueryRow(ctx, query, symbol))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return domain.ArbitragePosition{}, domain.ErrNotFound
		}
		return domain.ArbitragePosition{}, fmt.Errorf("postgres: get position %s: %w", symbol, err)
	}
	return p, nil
}

// List returns all persisted positions ordered by open time.
func (s *PositionStore) List(ctx context.Context) ([]domain.ArbitragePosition, error) {
	query := "SELECT " + positionColumns + " FROM positions ORDER BY opened_at"
	rows, err := s.client.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	defer rows.Close()

	var positions []domain.ArbitragePosition
	for rows.Next() {
		p, err := scanPosition(rows)
		if err != nil {
			return nil, fmt.Errorf("postgres: scan position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: list positions: %w", err)
	}
	return positions, nil
}

// Delete removes the position row. Deleting an absent symbol is not an error.
func (s *PositionStore) Delete(ctx context.Context, symbol string) error {
	_, err := s.client.pool.Exec(ctx, "DELETE FROM positions WHERE symbol = $1", symbol)
	if err != nil {
		return fmt.Errorf("postgres: delete position %s: %w", symbol, err)
	}
	return nil
}

// AddFunding credits a settlement to the position and bumps its counter.
func (s *PositionStore) AddFunding(ctx context.Context, symbol string, income decimal.Decimal) error {
	const query = `
		UPDATE positions SET
			funding_earned = funding_earned + $2::numeric,
			settlement_count = settlement_count + 1,
			updated_at = NOW()
		WHERE symbol = $1`
	tag, err := s.client.pool.Exec(ctx, query, symbol, income.String())
	if err != nil {
		return fmt.Errorf("postgres: add funding for %s: %w", symbol, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}

// UpdateSpotLeg rewrites the spot quantity and value after a rebalance.
func (s *PositionStore) UpdateSpotLeg(ctx context.Context, symbol string, qty, value decimal.Decimal) error {
	const query = `
		UPDATE positions SET
			spot_qty = $2::numeric,
			spot_value = $3::numeric,
			updated_at = NOW()
		WHERE symbol = $1`
	tag, err := s.client.pool.Exec(ctx, query, symbol, qty.String(), value.String())
	if err != nil {
		return fmt.Errorf("postgres: update spot leg for %s: %w", symbol, err)
	}
	if tag.RowsAffected() == 0 {
		return domain.ErrNotFound
	}
	return nil
}
