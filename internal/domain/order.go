package domain

import (
	"fmt"
	"time"
)

// OrderSide indicates whether this is a buy or sell.
type OrderSide string

const (
	OrderSideBuy  OrderSide = "buy"
	OrderSideSell OrderSide = "sell"
)

// Opposite returns the other side.
func (s OrderSide) Opposite() OrderSide {
	if s == OrderSideBuy {
		return OrderSideSell
	}
	return OrderSideBuy
}

// OrderType distinguishes resting limit orders from immediate market orders.
type OrderType string

const (
	OrderTypeLimit  OrderType = "limit"
	OrderTypeMarket OrderType = "market"
)

// OrderStatus tracks the order lifecycle as reported by the venue.
type OrderStatus string

const (
	OrderStatusOpen     OrderStatus = "open"
	OrderStatusClosed   OrderStatus = "closed"
	OrderStatusCanceled OrderStatus = "canceled"
)

// Order is the venue's view of one order. The execution core reads these
// fields and mutates Status/Filled/Remaining only when simulating a fill.
type Order struct {
	ID                 string
	Pair               string
	Side               OrderSide
	Type               OrderType
	Status             OrderStatus
	Price              float64 // limit price; reference price for market orders
	Average            float64 // average fill price, 0 until filled
	Amount             float64 // requested base quantity
	Filled             float64
	Remaining          float64
	Timestamp          int64 // unix milliseconds
	LastTradeTimestamp int64
}

func (o *Order) IsOpen() bool     { return o.Status == OrderStatusOpen }
func (o *Order) IsFilled() bool   { return o.Status == OrderStatusClosed }
func (o *Order) IsCanceled() bool { return o.Status == OrderStatusCanceled }

// Time returns the creation timestamp.
func (o *Order) Time() time.Time {
	return time.UnixMilli(o.Timestamp).UTC()
}

// String renders a compact human-readable form used in logs and notifications.
func (o *Order) String() string {
	return fmt.Sprintf("%s %s %s %v %s at %v (%s)",
		o.ID, o.Side, o.Type, o.Amount, o.Pair, o.Price, o.Status)
}
