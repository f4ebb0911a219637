package s3blob

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"

	"fundarb/internal/domain"
)

// LedgerArchiver uploads one UTC day of funding records as a CSV object at
// ledger/YYYY-MM-DD.csv. Exports are overwrite-idempotent: re-exporting a
// day replaces the object with identical content.
type LedgerArchiver struct {
	client *Client
}

// NewLedgerArchiver creates a LedgerArchiver.
func NewLedgerArchiver(client *Client) *LedgerArchiver {
	return &LedgerArchiver{client: client}
}

// ExportDay serializes the records and uploads them, returning the object
// key. An empty record set still produces a header-only file so a day's
// export can be distinguished from a missing one.
func (a *LedgerArchiver) ExportDay(ctx context.Context, day time.Time, records []domain.FundingRecord) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write([]string{"symbol", "rate", "position_value", "income", "settled_at"}); err != nil {
		return "", fmt.Errorf("s3blob: write csv header: %w", err)
	}
	for _, r := range records {
		row := []string{
			r.Symbol,
			r.Rate.String(),
			r.PositionValue.String(),
			r.Income.String(),
			r.SettledAt.UTC().Format(time.RFC3339),
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("s3blob: write csv row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("s3blob: flush csv: %w", err)
	}

	key := "ledger/" + day.UTC().Format("2006-01-02") + ".csv"
	_, err := a.client.s3.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.client.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(buf.Bytes()),
		ContentType: aws.String("text/csv"),
	})
	if err != nil {
		return "", fmt.Errorf("s3blob: upload %s: %w", key, err)
	}
	return key, nil
}
