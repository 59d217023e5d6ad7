// Package domain defines the core trading entities shared by the storage,
// broker, and backtesting layers: bars, trades, orders, positions, and
// signals.
package domain

import "time"

// Market identifies the exchange/region a symbol trades on.
type Market string

const (
	MarketUS Market = "us"
	MarketCN Market = "cn"
)

// Bar is a single OHLCV bar for one symbol at one timestamp.
type Bar struct {
	Symbol     string
	Timestamp  time.Time
	Open       float64
	High       float64
	Low        float64
	Close      float64
	AdjClose   float64
	Volume     int64
	TradeCount int64
	VWAP       float64
}

// Trade is a single executed trade tick.
type Trade struct {
	Symbol     string
	Timestamp  time.Time
	Price      float64
	Size       int64
	Exchange   string
	ID         string
	Conditions string
	Update     string
}

// OrderSide is the direction of an order.
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

// OrderStatus is the lifecycle state of an order.
type OrderStatus string

const (
	OrderStatusNew       OrderStatus = "new"
	OrderStatusFilled    OrderStatus = "filled"
	OrderStatusCancelled OrderStatus = "cancelled"
	OrderStatusRejected  OrderStatus = "rejected"
)

// Order is a single order record.
type Order struct {
	ID             string
	Symbol         string
	Side           OrderSide
	Type           OrderType
	Status         OrderStatus
	Qty            float64
	FilledQty      float64
	FilledAvgPrice float64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// PositionSide is the direction of an open position.
type PositionSide string

const (
	PositionSideLong  PositionSide = "long"
	PositionSideShort PositionSide = "short"
)

// Position is a single open position.
type Position struct {
	Symbol string
	Qty    float64
	Side   PositionSide
}

// SignalType classifies a trading signal.
type SignalType string

const (
	SignalTypeBuy  SignalType = "buy"
	SignalTypeSell SignalType = "sell"
	SignalTypeHold SignalType = "hold"
)

// Signal is a single strategy-generated trading signal.
type Signal struct {
	ID         int64
	StrategyID string
	Symbol     string
	Type       SignalType
	Strength   float64
	Metadata   map[string]string
	CreatedAt  time.Time
}

// AccountInfo is a snapshot of brokerage account financials.
type AccountInfo struct {
	Equity      float64
	Cash        float64
	BuyingPower float64
}
