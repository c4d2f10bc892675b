package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var openTime = time.Date(2025, 1, 10, 15, 0, 0, 0, time.UTC)

func TestPositionMerge(t *testing.T) {
	tests := []struct {
		name     string
		startQty int
		startAvg float64
		addQty   int
		addPrice float64
		wantQty  int
		wantAvg  float64
		wantErr  bool
	}{
		{
			name:     "long add averages up",
			startQty: 100, startAvg: 50,
			addQty: 100, addPrice: 60,
			wantQty: 200, wantAvg: 55,
		},
		{
			name:     "long add weighted",
			startQty: 300, startAvg: 10,
			addQty: 100, addPrice: 14,
			wantQty: 400, wantAvg: 11,
		},
		{
			name:     "short add",
			startQty: -2, startAvg: 3.00,
			addQty: -2, addPrice: 4.00,
			wantQty: -4, wantAvg: 3.50,
		},
		{
			name:     "sign flip rejected",
			startQty: 100, startAvg: 50,
			addQty: -50, addPrice: 55,
			wantErr: true,
		},
		{
			name:     "zero quantity rejected",
			startQty: 100, startAvg: 50,
			addQty: 0, addPrice: 55,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPosition("AAPL", tt.startQty, tt.startAvg, openTime)
			err := p.Merge(tt.addQty, tt.addPrice)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantQty, p.Quantity)
			assert.InDelta(t, tt.wantAvg, p.AvgPrice, 1e-9)
		})
	}
}

func TestPositionClose(t *testing.T) {
	tests := []struct {
		name       string
		symbol     string
		startQty   int
		startAvg   float64
		closeQty   int
		fillPrice  float64
		wantClosed int
		wantPnL    float64
		wantQty    int
	}{
		{
			name:   "long stock full close at a gain",
			symbol: "AAPL", startQty: 100, startAvg: 50,
			closeQty: 100, fillPrice: 60,
			wantClosed: 100, wantPnL: 1000, wantQty: 0,
		},
		{
			name:   "long stock partial close at a loss",
			symbol: "AAPL", startQty: 100, startAvg: 50,
			closeQty: 40, fillPrice: 45,
			wantClosed: 40, wantPnL: -200, wantQty: 60,
		},
		{
			name:   "short stock close at a gain",
			symbol: "AAPL", startQty: -100, startAvg: 50,
			closeQty: 100, fillPrice: 40,
			wantClosed: 100, wantPnL: 1000, wantQty: 0,
		},
		{
			name:   "short option close applies the contract multiplier",
			symbol: "AAPL250221P00150000", startQty: -2, startAvg: 3.00,
			closeQty: 2, fillPrice: 1.00,
			wantClosed: 2, wantPnL: 400, wantQty: 0,
		},
		{
			name:   "close clamps at available quantity",
			symbol: "AAPL", startQty: 30, startAvg: 50,
			closeQty: 100, fillPrice: 55,
			wantClosed: 30, wantPnL: 150, wantQty: 0,
		},
		{
			name:   "negative fill price counts as magnitude",
			symbol: "AAPL", startQty: -100, startAvg: 50,
			closeQty: 100, fillPrice: -55,
			wantClosed: 100, wantPnL: -500, wantQty: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPosition(tt.symbol, tt.startQty, tt.startAvg, openTime)
			closed, pnl := p.Close(tt.closeQty, tt.fillPrice)
			assert.Equal(t, tt.wantClosed, closed)
			assert.InDelta(t, tt.wantPnL, pnl, 1e-9)
			assert.Equal(t, tt.wantQty, p.Quantity)
			assert.InDelta(t, tt.wantPnL, p.RealizedPnL, 1e-9)
		})
	}
}

func TestPositionMarketValue(t *testing.T) {
	p := NewPosition("AAPL", 100, 50, openTime)
	// No quote seen yet: value at entry.
	assert.InDelta(t, 5000, p.MarketValue(), 1e-9)
	assert.Zero(t, p.UnrealizedPnL())

	p.CurrentPrice = 55
	assert.InDelta(t, 5500, p.MarketValue(), 1e-9)
	assert.InDelta(t, 500, p.UnrealizedPnL(), 1e-9)

	short := NewPosition("AAPL250221C00150000", -2, 3.00, openTime)
	short.CurrentPrice = 2.00
	assert.InDelta(t, -400, short.MarketValue(), 1e-9)
	assert.InDelta(t, 200, short.UnrealizedPnL(), 1e-9)
	assert.True(t, short.IsShort())
}

func TestPositionClone(t *testing.T) {
	p := NewPosition("AAPL", 100, 50, openTime)
	p.Greeks = &GreeksSnapshot{Delta: 0.5}

	cp := p.Clone()
	cp.Quantity = 1
	cp.Greeks.Delta = 0.9

	assert.Equal(t, 100, p.Quantity)
	assert.InDelta(t, 0.5, p.Greeks.Delta, 1e-9)
}
