package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus tracks the order lifecycle as reported by the exchange.
type OrderStatus string

const (
	OrderStatusOpen     OrderStatus = "open"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusCanceled OrderStatus = "canceled"
	OrderStatusRejected OrderStatus = "rejected"
)

// Order is an exchange order as acknowledged by the gateway.
type Order struct {
	ID        string
	ClientID  string
	Symbol    string
	Side      OrderSide
	Type      OrderType
	Price     decimal.Decimal // average fill price for market orders
	Amount    decimal.Decimal
	Filled    decimal.Decimal
	Remaining decimal.Decimal
	Status    OrderStatus
	Fee       decimal.Decimal
	FeeAsset  string
	CreatedAt time.Time
}

// PerpPosition is a derivative position as reported by the exchange. Qty is
// signed: negative for shorts.
type PerpPosition struct {
	Symbol        string
	Qty           decimal.Decimal
	EntryPrice    decimal.Decimal
	MarkPrice     decimal.Decimal
	Leverage      int
	UnrealizedPnL decimal.Decimal
	// MarginRatio is nil when the exchange does not report it.
	MarginRatio *decimal.Decimal
}

// FundingPayment is one funding-fee cash flow reported by the exchange's
// income history endpoint.
type FundingPayment struct {
	Symbol        string
	Rate          decimal.Decimal
	PositionValue decimal.Decimal
	Income        decimal.Decimal
	Timestamp     time.Time
}
