package estimator

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrade-io/paperbroker/internal/asset"
	"github.com/papertrade-io/paperbroker/internal/quote"
)

// 13:00 ET, away from the open/close uplift windows.
var midSession = time.Date(2025, 1, 15, 18, 0, 0, 0, time.UTC)

func stockQuote(t *testing.T, bid, ask, last float64) *quote.Quote {
	t.Helper()
	s, err := asset.NewStock("AAPL")
	require.NoError(t, err)
	return quote.New(s, midSession, bid, ask, last)
}

func optionQuote(t *testing.T, bid, ask float64) *quote.Quote {
	t.Helper()
	opt, err := asset.NewOption("AAPL", asset.Call, 150, midSession.AddDate(0, 0, 30))
	require.NoError(t, err)
	return quote.New(opt, midSession, bid, ask, math.NaN())
}

func TestMidpoint(t *testing.T) {
	nan := math.NaN()

	price, err := Midpoint{}.Estimate(stockQuote(t, 100, 101, nan), 10)
	require.NoError(t, err)
	assert.InDelta(t, 100.50, price, 1e-9)

	// Falls back to last when the book is one-sided.
	price, err = Midpoint{}.Estimate(stockQuote(t, 100, nan, 100.72), 10)
	require.NoError(t, err)
	assert.InDelta(t, 100.72, price, 1e-9)

	_, err = Midpoint{}.Estimate(stockQuote(t, nan, nan, nan), 10)
	assert.ErrorIs(t, err, ErrUnpriceable)
}

func TestMidpointOptionTick(t *testing.T) {
	// Mid 1.23 rounds to the nickel below three dollars.
	price, err := Midpoint{}.Estimate(optionQuote(t, 1.20, 1.26), 1)
	require.NoError(t, err)
	assert.InDelta(t, 1.25, price, 1e-9)

	// Mid 5.15 rounds to the dime at and above three dollars.
	price, err = Midpoint{}.Estimate(optionQuote(t, 5.00, 5.30), 1)
	require.NoError(t, err)
	assert.InDelta(t, 5.20, price, 1e-9)
}

func TestMarket(t *testing.T) {
	nan := math.NaN()
	q := stockQuote(t, 100, 101, nan)

	buy, err := Market{}.Estimate(q, 10)
	require.NoError(t, err)
	assert.InDelta(t, 101.0, buy, 1e-9)

	sell, err := Market{}.Estimate(q, -10)
	require.NoError(t, err)
	assert.InDelta(t, 100.0, sell, 1e-9)

	// One-sided book degrades to the midpoint path.
	price, err := Market{}.Estimate(stockQuote(t, nan, nan, 99.50), 10)
	require.NoError(t, err)
	assert.InDelta(t, 99.50, price, 1e-9)
}

func TestSlippage(t *testing.T) {
	nan := math.NaN()
	q := stockQuote(t, 100, 101, nan)

	tests := []struct {
		name     string
		factor   float64
		quantity int
		want     float64
	}{
		{name: "favourable buy", factor: 0.5, quantity: 10, want: 100.25},
		{name: "favourable sell", factor: 0.5, quantity: -10, want: 100.75},
		{name: "adverse buy", factor: -0.5, quantity: 10, want: 100.75},
		{name: "adverse sell", factor: -0.5, quantity: -10, want: 100.25},
		{name: "full spread buy fills at bid", factor: 1, quantity: 10, want: 100.00},
		{name: "neutral is the mid", factor: 0, quantity: 10, want: 100.50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			price, err := Slippage{Factor: tt.factor}.Estimate(q, tt.quantity)
			require.NoError(t, err)
			assert.InDelta(t, tt.want, price, 1e-9)
		})
	}

	// Buy and sell shifts mirror around the mid.
	buy, err := Slippage{Factor: 0.5}.Estimate(q, 10)
	require.NoError(t, err)
	sell, err := Slippage{Factor: 0.5}.Estimate(q, -10)
	require.NoError(t, err)
	assert.InDelta(t, 201.0, buy+sell, 1e-9)

	_, err = Slippage{Factor: 2}.Estimate(q, 10)
	assert.Error(t, err)
	_, err = Slippage{Factor: 0.5}.Estimate(q, 0)
	assert.Error(t, err)
	_, err = Slippage{Factor: 0.5}.Estimate(stockQuote(t, nan, nan, 100), 10)
	assert.ErrorIs(t, err, ErrUnpriceable)
}

func TestFixed(t *testing.T) {
	price, err := Fixed{Price: 12.3456}.Estimate(nil, 5)
	require.NoError(t, err)
	assert.InDelta(t, 12.35, price, 1e-9)

	// Zero backs worthless expiration fills.
	price, err = Fixed{}.Estimate(nil, -5)
	require.NoError(t, err)
	assert.Zero(t, price)
}

func TestVolumeWeighted(t *testing.T) {
	q := stockQuote(t, 100, 101, math.NaN()).WithSizes(100, 100)

	// Consuming half the visible size worsens half the impact-scaled spread.
	price, err := VolumeWeighted{Impact: 0.5}.Estimate(q, 50)
	require.NoError(t, err)
	assert.InDelta(t, 101.25, price, 1e-9)

	price, err = VolumeWeighted{Impact: 0.5}.Estimate(q, -100)
	require.NoError(t, err)
	assert.InDelta(t, 99.50, price, 1e-9)

	// Consumption saturates at the full visible size.
	price, err = VolumeWeighted{Impact: 1}.Estimate(q, 10_000)
	require.NoError(t, err)
	assert.InDelta(t, 102.00, price, 1e-9)

	// Unknown size degrades to plain market pricing.
	bare := stockQuote(t, 100, 101, math.NaN())
	price, err = VolumeWeighted{Impact: 0.5}.Estimate(bare, 50)
	require.NoError(t, err)
	assert.InDelta(t, 101.0, price, 1e-9)

	_, err = VolumeWeighted{Impact: 1.5}.Estimate(q, 10)
	assert.Error(t, err)
}

func TestRealistic(t *testing.T) {
	q := stockQuote(t, 100, 100.2, math.NaN())
	r := Realistic{BaseSlippage: 0.001, TypicalSize: 100}

	buy, err := r.Estimate(q, 100)
	require.NoError(t, err)
	sell, err := r.Estimate(q, -100)
	require.NoError(t, err)

	mid, _ := q.Mid()
	assert.GreaterOrEqual(t, buy, sell)
	assert.InDelta(t, mid, (buy+sell)/2, 0.02)

	// Larger orders pay more.
	small, err := r.Estimate(q, 10)
	require.NoError(t, err)
	big, err := Realistic{BaseSlippage: 0.001, TypicalSize: 100, VolImpact: 0.01}.Estimate(q, 10_000)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, big, small)

	_, err = r.Estimate(q, 0)
	assert.Error(t, err)
	_, err = r.Estimate(stockQuote(t, math.NaN(), math.NaN(), math.NaN()), 10)
	assert.ErrorIs(t, err, ErrUnpriceable)
}

func TestMulti(t *testing.T) {
	nan := math.NaN()
	q := stockQuote(t, 100, 101, nan)

	m, err := NewMulti(map[string]WeightedPart{
		"midpoint": {Estimator: Midpoint{}, Weight: 0.5},
		"market":   {Estimator: Market{}, Weight: 0.5},
	})
	require.NoError(t, err)

	price, err := m.Estimate(q, 10)
	require.NoError(t, err)
	assert.InDelta(t, 100.75, price, 1e-9)

	// A failed part drops out and the rest renormalise.
	m, err = NewMulti(map[string]WeightedPart{
		"fixed":    {Estimator: Fixed{Price: 50}, Weight: 0.5},
		"slippage": {Estimator: Slippage{Factor: 0.5}, Weight: 0.5},
	})
	require.NoError(t, err)
	lastOnly := stockQuote(t, nan, nan, 99)
	price, err = m.Estimate(lastOnly, 10)
	require.NoError(t, err)
	assert.InDelta(t, 50.0, price, 1e-9)

	// All parts failing is an error.
	m, err = NewMulti(map[string]WeightedPart{
		"slippage": {Estimator: Slippage{Factor: 0.5}, Weight: 1},
	})
	require.NoError(t, err)
	_, err = m.Estimate(lastOnly, 10)
	assert.Error(t, err)
}

func TestMultiValidation(t *testing.T) {
	_, err := NewMulti(nil)
	assert.Error(t, err)

	_, err = NewMulti(map[string]WeightedPart{
		"midpoint": {Estimator: Midpoint{}, Weight: 0.5},
	})
	assert.Error(t, err)

	_, err = NewMulti(map[string]WeightedPart{
		"midpoint": {Estimator: Midpoint{}, Weight: -1},
		"market":   {Estimator: Market{}, Weight: 2},
	})
	assert.Error(t, err)
}

func TestRandomWalk(t *testing.T) {
	q := stockQuote(t, 100, 101, math.NaN())
	base, _ := q.Price()

	// Every draw stays inside the clamp band.
	r := NewRandomWalk(5.0, 7)
	for i := 0; i < 200; i++ {
		price, err := r.Estimate(q, 10)
		require.NoError(t, err)
		assert.GreaterOrEqual(t, price, base*0.8-1e-9)
		assert.LessOrEqual(t, price, base*1.2+1e-9)
	}

	// Same seed, same sequence.
	a := NewRandomWalk(0.3, 42)
	b := NewRandomWalk(0.3, 42)
	for i := 0; i < 10; i++ {
		pa, err := a.Estimate(q, 10)
		require.NoError(t, err)
		pb, err := b.Estimate(q, 10)
		require.NoError(t, err)
		assert.Equal(t, pa, pb)
	}

	_, err := r.Estimate(stockQuote(t, math.NaN(), math.NaN(), math.NaN()), 10)
	assert.ErrorIs(t, err, ErrUnpriceable)
}
