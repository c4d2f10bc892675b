package quotes

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrade-io/paperbroker/internal/asset"
	"github.com/papertrade-io/paperbroker/internal/quote"
)

func TestStaticSource(t *testing.T) {
	ctx := context.Background()
	src := NewStaticSource().
		SetStock("AAPL", 150.00, 150.10, 150.05).
		SetOption("AAPL250221C00150000", 5.40, 5.60, 0, 150.05).
		SetOption("AAPL250321C00150000", 7.40, 7.60, 0, 150.05)

	t.Run("get quote", func(t *testing.T) {
		q, err := src.GetQuote(ctx, "AAPL")
		require.NoError(t, err)
		assert.Equal(t, "AAPL", q.Symbol)
		mid, ok := q.Mid()
		require.True(t, ok)
		assert.InDelta(t, 150.05, mid, 1e-9)

		// Lookups are case-insensitive.
		_, err = src.GetQuote(ctx, "aapl")
		assert.NoError(t, err)

		_, err = src.GetQuote(ctx, "MSFT")
		assert.ErrorIs(t, err, ErrNoQuote)
	})

	t.Run("option quotes carry greeks", func(t *testing.T) {
		q, err := src.GetQuote(ctx, "AAPL250221C00150000")
		require.NoError(t, err)
		require.NotNil(t, q.UnderlyingLast)
		assert.NotNil(t, q.Greeks)
	})

	t.Run("get quotes skips missing", func(t *testing.T) {
		out, err := src.GetQuotes(ctx, []string{"AAPL", "MSFT"})
		require.NoError(t, err)
		assert.Len(t, out, 1)
		assert.Contains(t, out, "AAPL")
	})

	t.Run("option chain by expiration", func(t *testing.T) {
		feb := time.Date(2025, 2, 21, 0, 0, 0, 0, time.UTC)
		chain, err := src.GetOptionChain(ctx, "AAPL", feb)
		require.NoError(t, err)
		require.Len(t, chain, 1)
		assert.Equal(t, "AAPL250221C00150000", chain[0].Symbol)
	})

	t.Run("expirations sorted", func(t *testing.T) {
		dates, err := src.GetExpirations(ctx, "AAPL")
		require.NoError(t, err)
		require.Len(t, dates, 2)
		assert.True(t, dates[0].Before(dates[1]))
	})

	t.Run("priceable", func(t *testing.T) {
		ok, err := src.IsPriceableOn(ctx, "AAPL", time.Now())
		require.NoError(t, err)
		assert.True(t, ok)
		ok, err = src.IsPriceableOn(ctx, "MSFT", time.Now())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("cancelled context", func(t *testing.T) {
		cancelled, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := src.GetQuote(cancelled, "AAPL")
		assert.ErrorIs(t, err, context.Canceled)
	})
}

func TestSimSource(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2025, 1, 15, 15, 0, 0, 0, time.UTC)

	src := NewSimSource(0.20, 1).WithClock(func() time.Time { return now })
	src.SetPrice("AAPL", 150)

	t.Run("stock quote walks around the pinned price", func(t *testing.T) {
		q, err := src.GetQuote(ctx, "AAPL")
		require.NoError(t, err)
		require.True(t, q.Priceable())
		price, _ := q.Price()
		assert.InDelta(t, 150, price, 5)
	})

	t.Run("option quote is priced and carries greeks", func(t *testing.T) {
		sym := asset.FormatOptionSymbol("AAPL", asset.Call, 150, now.AddDate(0, 0, 30))
		q, err := src.GetQuote(ctx, sym)
		require.NoError(t, err)
		require.True(t, q.Priceable())
		price, _ := q.Price()
		assert.Greater(t, price, 0.0)
		require.NotNil(t, q.UnderlyingLast)
	})

	t.Run("invalid symbol", func(t *testing.T) {
		_, err := src.GetQuote(ctx, "NOT_A_SYMBOL")
		assert.Error(t, err)
	})

	t.Run("chain straddles spot", func(t *testing.T) {
		exp := now.AddDate(0, 0, 30)
		chain, err := src.GetOptionChain(ctx, "AAPL", exp)
		require.NoError(t, err)
		assert.NotEmpty(t, chain)
		for _, q := range chain {
			opt := q.Asset.(asset.Option)
			assert.Equal(t, "AAPL", opt.Underlying())
			assert.True(t, q.Priceable())
		}
	})

	t.Run("expirations are future third fridays", func(t *testing.T) {
		dates, err := src.GetExpirations(ctx, "AAPL")
		require.NoError(t, err)
		require.Len(t, dates, 6)
		for _, d := range dates {
			assert.True(t, d.After(now))
			assert.Equal(t, time.Friday, d.Weekday())
		}
	})

	t.Run("weekends are not priceable", func(t *testing.T) {
		saturday := time.Date(2025, 1, 18, 12, 0, 0, 0, time.UTC)
		ok, err := src.IsPriceableOn(ctx, "AAPL", saturday)
		require.NoError(t, err)
		assert.False(t, ok)
		ok, err = src.IsPriceableOn(ctx, "AAPL", now)
		require.NoError(t, err)
		assert.True(t, ok)
	})

	t.Run("same seed same path", func(t *testing.T) {
		a := NewSimSource(0.20, 9).WithClock(func() time.Time { return now })
		b := NewSimSource(0.20, 9).WithClock(func() time.Time { return now })
		qa, err := a.GetQuote(ctx, "MSFT")
		require.NoError(t, err)
		qb, err := b.GetQuote(ctx, "MSFT")
		require.NoError(t, err)
		pa, _ := qa.Price()
		pb, _ := qb.Price()
		assert.Equal(t, pa, pb)
	})
}

func TestBatch(t *testing.T) {
	ctx := context.Background()
	src := NewStaticSource().
		SetStock("AAPL", 150.00, 150.10, 0).
		SetStock("MSFT", 400.00, 400.20, 0)

	out, err := Batch(ctx, src, []string{"AAPL", "MSFT", "TSLA"})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

// failingSource fails every call with a non-ErrNoQuote error.
type failingSource struct{ StaticSource }

func (f *failingSource) GetQuote(context.Context, string) (*quote.Quote, error) {
	return nil, fmt.Errorf("provider down")
}

func TestBatchPropagatesProviderFault(t *testing.T) {
	_, err := Batch(context.Background(), &failingSource{}, []string{"AAPL"})
	assert.Error(t, err)
}

func TestCircuitBreakerPassesThrough(t *testing.T) {
	ctx := context.Background()
	src := NewCircuitBreakerSource(NewStaticSource().SetStock("AAPL", 150.00, 150.10, 0))

	q, err := src.GetQuote(ctx, "AAPL")
	require.NoError(t, err)
	assert.Equal(t, "AAPL", q.Symbol)

	// A missing quote is an answer, not a fault: it never trips the breaker.
	for i := 0; i < 20; i++ {
		_, err = src.GetQuote(ctx, "MSFT")
		assert.ErrorIs(t, err, ErrNoQuote)
	}
}

func TestCircuitBreakerTrips(t *testing.T) {
	ctx := context.Background()
	src := NewCircuitBreakerSourceWithSettings(&failingSource{}, BreakerSettings{
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		MinRequests:  3,
		FailureRatio: 0.5,
	})

	for i := 0; i < 5; i++ {
		_, _ = src.GetQuote(ctx, "AAPL")
	}
	_, err := src.GetQuote(ctx, "AAPL")
	assert.ErrorIs(t, err, gobreaker.ErrOpenState)
}
