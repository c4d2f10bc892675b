package asset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAssetStock(t *testing.T) {
	tests := []struct {
		name    string
		symbol  string
		wantErr bool
	}{
		{name: "single letter", symbol: "F"},
		{name: "typical ticker", symbol: "AAPL"},
		{name: "six letters", symbol: "GOOGLE"},
		{name: "lowercase accepted", symbol: "aapl"},
		{name: "too long", symbol: "ABCDEFG", wantErr: true},
		{name: "digits", symbol: "AAPL1", wantErr: true},
		{name: "empty", symbol: "", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			a, err := ParseAsset(tt.symbol)
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidSymbol)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, TypeStock, a.AssetType())
			assert.Equal(t, 1, a.Multiplier())
		})
	}
}

func TestParseOption(t *testing.T) {
	opt, err := ParseOption("AAPL250221C00160000")
	require.NoError(t, err)

	assert.Equal(t, "AAPL", opt.Underlying())
	assert.Equal(t, Call, opt.OptionType())
	assert.InDelta(t, 160.0, opt.Strike(), 1e-9)
	assert.Equal(t, time.Date(2025, 2, 21, 0, 0, 0, 0, time.UTC), opt.Expiration())
	assert.Equal(t, TypeOption, opt.AssetType())
	assert.Equal(t, SharesPerContract, opt.Multiplier())

	put, err := ParseOption("SPY240315P00500000")
	require.NoError(t, err)
	assert.Equal(t, Put, put.OptionType())
	assert.InDelta(t, 500.0, put.Strike(), 1e-9)
}

func TestParseOptionInvalid(t *testing.T) {
	tests := []struct {
		name   string
		symbol string
	}{
		{name: "too short", symbol: "AAPL250221C001600"},
		{name: "bad type letter", symbol: "AAPL250221X00160000"},
		{name: "bad month", symbol: "AAPL251321C00160000"},
		{name: "bad day", symbol: "AAPL250232C00160000"},
		{name: "strike not numeric", symbol: "AAPL250221C0016000X"},
		{name: "stock symbol", symbol: "AAPL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseOption(tt.symbol)
			assert.Error(t, err)
		})
	}
}

func TestFormatOptionSymbolRoundTrip(t *testing.T) {
	tests := []struct {
		underlying string
		optType    OptionType
		strike     float64
	}{
		{underlying: "AAPL", optType: Call, strike: 160},
		{underlying: "SPY", optType: Put, strike: 500},
		{underlying: "F", optType: Call, strike: 12.5},
		{underlying: "GOOGL", optType: Put, strike: 2502.5},
		{underlying: "XYZ", optType: Call, strike: 0.5},
	}
	exp := time.Date(2025, 2, 21, 0, 0, 0, 0, time.UTC)

	for _, tt := range tests {
		sym := FormatOptionSymbol(tt.underlying, tt.optType, tt.strike, exp)
		opt, err := ParseOption(sym)
		require.NoError(t, err, "symbol %s", sym)
		assert.Equal(t, sym, opt.Symbol())
		assert.Equal(t, tt.underlying, opt.Underlying())
		assert.Equal(t, tt.optType, opt.OptionType())
		assert.InDelta(t, tt.strike, opt.Strike(), 1e-9)
		assert.Equal(t, exp, opt.Expiration())
	}
}

func TestOptionExpiry(t *testing.T) {
	opt, err := NewOption("AAPL", Call, 160, time.Date(2025, 2, 21, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	before := time.Date(2025, 2, 14, 12, 0, 0, 0, time.UTC)
	assert.False(t, opt.Expired(before))
	assert.Equal(t, 7, opt.DaysToExpiration(before))

	after := time.Date(2025, 2, 22, 0, 0, 0, 0, time.UTC)
	assert.True(t, opt.Expired(after))
	assert.Equal(t, 0, opt.DaysToExpiration(after))
}

func TestIntrinsicAndExtrinsicValue(t *testing.T) {
	exp := time.Date(2025, 2, 21, 0, 0, 0, 0, time.UTC)
	call, err := NewOption("AAPL", Call, 150, exp)
	require.NoError(t, err)
	put, err := NewOption("AAPL", Put, 150, exp)
	require.NoError(t, err)

	assert.InDelta(t, 10.0, call.IntrinsicValue(160), 1e-9)
	assert.InDelta(t, 0.0, call.IntrinsicValue(140), 1e-9)
	assert.InDelta(t, 10.0, put.IntrinsicValue(140), 1e-9)
	assert.InDelta(t, 0.0, put.IntrinsicValue(160), 1e-9)

	// Option priced at 12 with 10 intrinsic carries 2 of time value.
	assert.InDelta(t, 2.0, call.ExtrinsicValue(160, 12), 1e-9)
}

func TestNewOptionValidation(t *testing.T) {
	exp := time.Date(2025, 2, 21, 0, 0, 0, 0, time.UTC)

	_, err := NewOption("AAPL", OptionType("straddle"), 150, exp)
	assert.Error(t, err)

	_, err = NewOption("TOOLONGSYM", Call, 150, exp)
	assert.Error(t, err)

	_, err = NewOption("AAPL", Call, -5, exp)
	assert.Error(t, err)
}
