package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// Opposite returns the closing side for this side.
func (s OrderSide) Opposite() OrderSide {
	if s == Buy {
		return Sell
	}
	return Buy
}

// OrderType represents the execution type of an order. Limit orders are
// accepted at the type level but fill like marketable orders at the current
// tick price; the simulation does not keep a resting book.
type OrderType string

const (
	OrderTypeMarket OrderType = "market"
	OrderTypeLimit  OrderType = "limit"
)

// OrderStatus represents the lifecycle state of an order.
// Orders move pending -> filled or pending -> rejected and never change again.
type OrderStatus string

const (
	OrderStatusPending  OrderStatus = "pending"
	OrderStatusFilled   OrderStatus = "filled"
	OrderStatusRejected OrderStatus = "rejected"
)

// Strategy tags attached to orders placed by the engine itself rather than
// by an agent decision.
const (
	TagManual     = "manual"
	TagStopLoss   = "stop_loss"
	TagTakeProfit = "take_profit"
)
