package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Ticker is a 24h market-data summary for one symbol.
type Ticker struct {
	Symbol    string
	LastPrice decimal.Decimal
	Volume24h decimal.Decimal // quote-denominated
	High24h   decimal.Decimal
	Low24h    decimal.Decimal
	Timestamp time.Time
}
