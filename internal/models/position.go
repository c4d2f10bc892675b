// Package models holds the shared vocabulary of the paper-trading engine:
// orders, positions, accounts, and the structured error taxonomy.
package models

import (
	"fmt"
	"math"
	"time"

	"github.com/papertrade-io/paperbroker/internal/asset"
)

// GreeksSnapshot caches the most recently observed option Greeks on a
// position. It is display state, not an input to any cash calculation.
type GreeksSnapshot struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	Rho   float64 `json:"rho"`
	IV    float64 `json:"iv"`
}

// Position is one holding in an account: a signed quantity of a single
// asset at a non-negative average entry price. Quantity zero means closed;
// the account drops such positions at commit.
type Position struct {
	Symbol       string          `json:"symbol"`
	Quantity     int             `json:"quantity"`
	AvgPrice     float64         `json:"avg_price"`
	RealizedPnL  float64         `json:"realized_pnl"`
	OpenedAt     time.Time       `json:"opened_at"`
	CurrentPrice float64         `json:"current_price,omitempty"`
	Greeks       *GreeksSnapshot `json:"greeks,omitempty"`
}

// NewPosition opens a position with its FIFO timestamp stamped at creation.
func NewPosition(symbol string, quantity int, avgPrice float64, openedAt time.Time) *Position {
	return &Position{
		Symbol:   symbol,
		Quantity: quantity,
		AvgPrice: avgPrice,
		OpenedAt: openedAt.UTC(),
	}
}

// Asset re-parses the position's asset from its symbol.
func (p *Position) Asset() (asset.Asset, error) {
	return asset.ParseAsset(p.Symbol)
}

// Multiplier returns 100 for option positions and 1 for stock.
func (p *Position) Multiplier() int {
	a, err := asset.ParseAsset(p.Symbol)
	if err != nil {
		return 1
	}
	return a.Multiplier()
}

// IsShort reports whether the position quantity is negative.
func (p *Position) IsShort() bool { return p.Quantity < 0 }

// MarketValue returns quantity x current price x multiplier using the
// cached price, falling back to the average entry price when no quote has
// been seen yet.
func (p *Position) MarketValue() float64 {
	price := p.CurrentPrice
	if price == 0 {
		price = p.AvgPrice
	}
	return float64(p.Quantity) * price * float64(p.Multiplier())
}

// UnrealizedPnL is (current - avg) x quantity x multiplier for longs and
// sign-flipped for shorts; the signed quantity already carries the flip.
func (p *Position) UnrealizedPnL() float64 {
	if p.CurrentPrice == 0 {
		return 0
	}
	return (p.CurrentPrice - p.AvgPrice) * float64(p.Quantity) * float64(p.Multiplier())
}

// Merge folds an additional same-sign open into the position via weighted
// average entry price.
func (p *Position) Merge(quantity int, fillPrice float64) error {
	if quantity == 0 {
		return fmt.Errorf("merge quantity must be non-zero")
	}
	if sign(quantity) != sign(p.Quantity) {
		return fmt.Errorf("merge requires same-sign quantities: position %d, fill %d", p.Quantity, quantity)
	}
	oldQty := math.Abs(float64(p.Quantity))
	addQty := math.Abs(float64(quantity))
	p.AvgPrice = (oldQty*p.AvgPrice + addQty*fillPrice) / (oldQty + addQty)
	p.Quantity += quantity
	return nil
}

// Close reduces the position toward zero by up to closeQty units at the
// given fill price and returns (unitsClosed, realizedPnL). Realized P&L is
// (|fill| - avg) x closed x multiplier, sign-flipped for shorts.
func (p *Position) Close(closeQty int, fillPrice float64) (int, float64) {
	if closeQty <= 0 || p.Quantity == 0 {
		return 0, 0
	}
	avail := p.Quantity
	if avail < 0 {
		avail = -avail
	}
	closed := closeQty
	if closed > avail {
		closed = avail
	}

	pnl := (math.Abs(fillPrice) - p.AvgPrice) * float64(closed) * float64(p.Multiplier())
	if p.IsShort() {
		pnl = -pnl
	}

	if p.IsShort() {
		p.Quantity += closed
	} else {
		p.Quantity -= closed
	}
	p.RealizedPnL += pnl
	return closed, pnl
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	cp := *p
	if p.Greeks != nil {
		g := *p.Greeks
		cp.Greeks = &g
	}
	return &cp
}

func sign(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
