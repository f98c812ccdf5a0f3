package domain

import (
	"time"

	"github.com/google/uuid"
)

// Order is a request to trade. Orders are immutable once resolved: a
// rejected order must be resubmitted as a new order, never retried in place.
type Order struct {
	ID             string
	AccountID      string
	Symbol         string
	Side           OrderSide
	Type           OrderType
	Quantity       float64 // Unsigned size; direction comes from Side
	RequestedPrice float64 // Limit price hint; ignored for market orders
	StrategyTag    string  // Strategy type or engine tag that placed the order
	Reasoning      string  // Free-text rationale surfaced to operators
	Status         OrderStatus
	RejectReason   string // Populated when Status is rejected
	SubmittedAt    time.Time
	ResolvedAt     time.Time // Zero until the order is filled or rejected
}

// NewOrder builds a pending order with a fresh ID and submission timestamp.
func NewOrder(accountID, symbol string, side OrderSide, orderType OrderType, quantity, requestedPrice float64, strategyTag, reasoning string) *Order {
	return &Order{
		ID:             uuid.NewString(),
		AccountID:      accountID,
		Symbol:         symbol,
		Side:           side,
		Type:           orderType,
		Quantity:       quantity,
		RequestedPrice: requestedPrice,
		StrategyTag:    strategyTag,
		Reasoning:      reasoning,
		Status:         OrderStatusPending,
		SubmittedAt:    time.Now().UTC(),
	}
}

// Fill is the result of executing an order against the simulated market.
// It carries everything the ledger needs to settle the trade.
type Fill struct {
	OrderID       string
	Symbol        string
	Side          OrderSide
	ExecutedPrice float64 // Tick price adjusted for slippage
	Quantity      float64 // Unsigned; full fill or nothing
	Fees          float64 // Commission charged on the executed notional
	ExecutedAt    time.Time
}

// SignedQuantity returns the fill quantity with the side's sign applied.
func (f *Fill) SignedQuantity() float64 {
	if f.Side == Sell {
		return -f.Quantity
	}
	return f.Quantity
}

// Notional returns the executed price times quantity.
func (f *Fill) Notional() float64 {
	return f.ExecutedPrice * f.Quantity
}
