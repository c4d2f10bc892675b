package models

import (
	"time"

	"github.com/google/uuid"
)

// OrderType tags a leg with its direction and whether it opens or retires
// a position.
type OrderType string

const (
	// Buy is a generic long-side leg: it covers an existing short first,
	// then opens long with any remainder.
	Buy OrderType = "BUY"
	// Sell is a generic short-side leg: it closes an existing long first,
	// then opens short with any remainder.
	Sell OrderType = "SELL"
	// BuyToOpen opens or adds to a long position.
	BuyToOpen OrderType = "BTO"
	// SellToOpen opens or adds to a short position.
	SellToOpen OrderType = "STO"
	// BuyToClose retires an existing short position.
	BuyToClose OrderType = "BTC"
	// SellToClose retires an existing long position.
	SellToClose OrderType = "STC"
)

// Valid reports whether the tag is one of the defined constants.
func (t OrderType) Valid() bool {
	switch t {
	case Buy, Sell, BuyToOpen, SellToOpen, BuyToClose, SellToClose:
		return true
	default:
		return false
	}
}

// IsBuySide reports whether the leg's quantity and price must be positive.
func (t OrderType) IsBuySide() bool {
	return t == Buy || t == BuyToOpen || t == BuyToClose
}

// IsClose reports whether the tag strictly retires an existing position.
func (t OrderType) IsClose() bool {
	return t == BuyToClose || t == SellToClose
}

// IsOpen reports whether the tag strictly opens a position.
func (t OrderType) IsOpen() bool {
	return t == BuyToOpen || t == SellToOpen
}

// Condition is the order's fill condition.
type Condition string

const (
	// Market orders always fill at the estimated price.
	Market Condition = "MARKET"
	// Limit orders fill only when the net limit threshold is met.
	Limit Condition = "LIMIT"
	// Stop orders are treated by the core as market at the stated stop
	// price; conversion-on-touch belongs to the order-book collaborator.
	Stop Condition = "STOP"
)

// Valid reports whether the condition is one of the defined constants.
func (c Condition) Valid() bool {
	switch c {
	case Market, Limit, Stop:
		return true
	default:
		return false
	}
}

// Leg is one component of an order: exactly one asset with a signed
// quantity. Positive quantity means long (open buy or close short);
// negative means short. LimitPrice, when set, carries the leg's sign
// convention: positive for buy-side legs, negative for sell-side.
type Leg struct {
	Symbol     string    `json:"symbol"`
	Quantity   int       `json:"quantity"`
	Type       OrderType `json:"type"`
	LimitPrice *float64  `json:"limit_price,omitempty"`
	StopPrice  *float64  `json:"stop_price,omitempty"`
}

// MultiLegOrder is a non-empty list of legs on distinct assets executed as
// one atomic unit. NetLimit, when set, is the per-unit net price threshold:
// positive for debit orders, negative for credit orders.
type MultiLegOrder struct {
	ID        string    `json:"id"`
	Legs      []Leg     `json:"legs"`
	Condition Condition `json:"condition"`
	NetLimit  *float64  `json:"net_limit,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// NewOrder builds a multi-leg order with a fresh ID.
func NewOrder(condition Condition, legs ...Leg) *MultiLegOrder {
	return &MultiLegOrder{
		ID:        uuid.New().String(),
		Legs:      legs,
		Condition: condition,
		CreatedAt: time.Now().UTC(),
	}
}

// NewSingleOrder builds the one-leg view: a single-leg Order is just a
// MultiLegOrder with one leg.
func NewSingleOrder(symbol string, quantity int, orderType OrderType, condition Condition) *MultiLegOrder {
	return NewOrder(condition, Leg{Symbol: symbol, Quantity: quantity, Type: orderType})
}

// WithNetLimit sets the order's net limit price and returns the order.
func (o *MultiLegOrder) WithNetLimit(limit float64) *MultiLegOrder {
	o.NetLimit = &limit
	return o
}
