package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"fundarb/internal/domain"
)

// FundingStore is the append-only funding settlement ledger. Duplicate
// settlements are dropped by the unique constraint on
// (symbol, settled_at, income).
type FundingStore struct {
	client *Client
}

// NewFundingStore creates a FundingStore backed by the given client.
func NewFundingStore(client *Client) *FundingStore {
	return &FundingStore{client: client}
}

// Append inserts a record, reporting whether it was new.
func (s *FundingStore) Append(ctx context.Context, r domain.FundingRecord) (bool, error) {
	const query = `
		INSERT INTO funding_records (symbol, rate, position_value, income, settled_at)
		VALUES ($1, $2::numeric, $3::numeric, $4::numeric, $5)
		ON CONFLICT ON CONSTRAINT funding_records_dedup DO NOTHING`
	tag, err := s.client.pool.Exec(ctx, query,
		r.Symbol, r.Rate.String(), r.PositionValue.String(), r.Income.String(), r.SettledAt,
	)
	if err != nil {
		return false, fmt.Errorf("postgres: append funding record %s: %w", r.Symbol, err)
	}
	return tag.RowsAffected() > 0, nil
}

// TotalIncome sums income, optionally restricted to one symbol. An empty
// symbol means the whole ledger.
func (s *FundingStore) TotalIncome(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var (
		total string
		err   error
	)
	if symbol == "" {
		err = s.client.pool.QueryRow(ctx,
			"SELECT COALESCE(SUM(income), 0)::text FROM funding_records",
		).Scan(&total)
	} else {
		err = s.client.pool.QueryRow(ctx,
			"SELECT COALESCE(SUM(income), 0)::text FROM funding_records WHERE symbol = $1",
			symbol,
		).Scan(&total)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: total income: %w", err)
	}
	return parseNumeric(total)
}

// IncomeBySymbol returns summed income grouped by symbol.
func (s *FundingStore) IncomeBySymbol(ctx context.Context) (map[string]decimal.Decimal, error) {
	rows, err := s.client.pool.Query(ctx,
		"SELECT symbol, SUM(income)::text FROM funding_records GROUP BY symbol",
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: income by symbol: %w", err)
	}
	defer rows.Close()

	result := make(map[string]decimal.Decimal)
	for rows.Next() {
		var symbol, sum string
		if err := rows.Scan(&symbol, &sum); err != nil {
			return nil, fmt.Errorf("postgres: scan income row: %w", err)
		}
		d, err := parseNumeric(sum)
		if err != nil {
			return nil, err
		}
		result[symbol] = d
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: income by symbol: %w", err)
	}
	return result, nil
}

// IncomeForDay sums income settled within the UTC day containing the given
// time.
func (s *FundingStore) IncomeForDay(ctx context.Context, day time.Time) (decimal.Decimal, error) {
	start, end := dayBounds(day)
	var total string
	err := s.client.pool.QueryRow(ctx,
		"SELECT COALESCE(SUM(income), 0)::text FROM funding_records WHERE settled_at >= $1 AND settled_at < $2",
		start, end,
	).Scan(&total)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: income for day: %w", err)
	}
	return parseNumeric(total)
}

const recordColumns = "symbol, rate::text, position_value::text, income::text, settled_at"

// Recent returns the newest records by settlement time, capped at limit.
func (s *FundingStore) Recent(ctx context.Context, limit int) ([]domain.FundingRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.client.pool.Query(ctx,
		"SELECT "+recordColumns+" FROM funding_records ORDER BY settled_at DESC LIMIT $1",
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: recent funding records: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// ListForDay returns every record settled within the UTC day, oldest first.
func (s *FundingStore) ListForDay(ctx context.Context, day time.Time) ([]domain.FundingRecord, error) {
	start, end := dayBounds(day)
	rows, err := s.client.pool.Query(ctx,
		"SELECT "+recordColumns+" FROM funding_records WHERE settled_at >= $1 AND settled_at < $2 ORDER BY settled_at",
		start, end,
	)
	if err != nil {
		return nil, fmt.Errorf("postgres: list funding records for day: %w", err)
	}
	defer rows.Close()
	return collectRecords(rows)
}

// Count returns the total number of ledger rows.
func (s *FundingStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.client.pool.QueryRow(ctx, "SELECT COUNT(*) FROM funding_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("postgres: count funding records: %w", err)
	}
	return n, nil
}

func collectRecords(rows pgx.Rows) ([]domain.FundingRecord, error) {
	var records []domain.FundingRecord
	for rows.Next() {
		var (
			r                      domain.FundingRecord
			rate, posValue, income string
		)
		if err := rows.Scan(&r.Symbol, &rate, &posValue, &income, &r.SettledAt); err != nil {
			return nil, fmt.Errorf("postgres: scan funding record: %w", err)
		}
		var err error
		if r.Rate, err = parseNumeric(rate); err != nil {
			return nil, err
		}
		if r.PositionValue, err = parseNumeric(posValue); err != nil {
			return nil, err
		}
		if r.Income, err = parseNumeric(income); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: collect funding records: %w", err)
	}
	return records, nil
}

func dayBounds(day time.Time) (time.Time, time.Time) {
	d := day.UTC()
	start := time.Date(d.Year(), d.Month(), d.Day(), 0, 0, 0, 0, time.UTC)
	return start, start.Add(24 * time.Hour)
}

func parseNumeric(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("postgres: parse numeric %q: %w", s, err)
	}
	return d, nil
}
