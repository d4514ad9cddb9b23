// Package domain holds the shared order/trade/job types used across the
// ledger, book, intake, and matching packages — the single-instrument
// data model of spec.md §3.
package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Side is the order side.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// Type is the order type. Market orders never rest on the book.
type Type string

const (
	TypeLimit  Type = "limit"
	TypeMarket Type = "market"
)

// Status is the order lifecycle state. Filled, Cancelled, and Rejected are
// terminal and monotone: an order never leaves a terminal status.
type Status string

const (
	StatusOpen            Status = "open"
	StatusPartiallyFilled Status = "partially_filled"
	StatusFilled          Status = "filled"
	StatusCancelled       Status = "cancelled"
	StatusRejected        Status = "rejected"
)

// IsTerminal reports whether s is one of the terminal statuses.
func (s Status) IsTerminal() bool {
	switch s {
	case StatusFilled, StatusCancelled, StatusRejected:
		return true
	default:
		return false
	}
}

// Order is the ledger's row shape (spec.md §3). Price is the zero Decimal
// for market orders.
type Order struct {
	OrderID        uuid.UUID
	ClientID       string
	Instrument     string
	Side           Side
	Type           Type
	Price          decimal.Decimal
	Quantity       decimal.Decimal
	FilledQuantity decimal.Decimal
	Status         Status
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// Remaining returns Quantity - FilledQuantity.
func (o *Order) Remaining() decimal.Decimal {
	return o.Quantity.Sub(o.FilledQuantity)
}

// Trade is a single match between a buy order and a sell order.
type Trade struct {
	TradeID    uuid.UUID
	BuyOrderID uuid.UUID
	SellOrderID uuid.UUID
	Instrument string
	Price      decimal.Decimal
	Quantity   decimal.Decimal
	Timestamp  time.Time
}

// DetailedTrade adds the buyer/seller client ids for the detailed_trades
// query (spec.md §4.1).
type DetailedTrade struct {
	Trade
	BuyerClientID  string
	SellerClientID string
}
