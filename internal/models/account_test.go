package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAccount(t *testing.T) {
	a := NewAccount("alice", 100_000)
	assert.NotEmpty(t, a.ID)
	assert.Equal(t, "alice", a.Owner)
	assert.InDelta(t, 100_000, a.StartingBalance, 1e-9)
	assert.InDelta(t, 100_000, a.CashBalance, 1e-9)
	assert.Empty(t, a.Positions)
	require.NoError(t, a.CheckInvariants())
}

func TestBookRealized(t *testing.T) {
	a := NewAccount("alice", 100_000)
	day1 := time.Date(2025, 1, 10, 15, 0, 0, 0, time.UTC)
	day2 := time.Date(2025, 1, 11, 15, 0, 0, 0, time.UTC)

	a.BookRealized(500, day1)
	a.BookRealized(-200, day1)
	a.BookRealized(300, day2)

	assert.InDelta(t, 600, a.RealizedPnL, 1e-9)
	assert.InDelta(t, 300, a.DayPnL(day1), 1e-9)
	assert.InDelta(t, 300, a.DayPnL(day2), 1e-9)
	assert.Zero(t, a.DayPnL(day2.AddDate(0, 0, 1)))
}

func TestAddPositionOrdering(t *testing.T) {
	a := NewAccount("alice", 100_000)
	t1 := time.Date(2025, 1, 10, 15, 0, 0, 0, time.UTC)
	t0 := t1.Add(-time.Hour)

	require.NoError(t, a.AddPosition(NewPosition("MSFT", 10, 400, t1)))
	require.NoError(t, a.AddPosition(NewPosition("AAPL", 100, 150, t0)))

	// FIFO ordering by open timestamp.
	require.Len(t, a.Positions, 2)
	assert.Equal(t, "AAPL", a.Positions[0].Symbol)
	assert.Equal(t, "MSFT", a.Positions[1].Symbol)

	// One position per symbol.
	err := a.AddPosition(NewPosition("AAPL", 5, 151, t1))
	assert.True(t, IsKind(err, ErrInternal))

	assert.Equal(t, 100, a.Position("AAPL").Quantity)
	assert.Nil(t, a.Position("TSLA"))
}

func TestDropClosed(t *testing.T) {
	a := NewAccount("alice", 100_000)
	now := time.Now().UTC()
	require.NoError(t, a.AddPosition(NewPosition("AAPL", 100, 150, now)))
	require.NoError(t, a.AddPosition(NewPosition("MSFT", 0, 400, now)))

	a.DropClosed()
	require.Len(t, a.Positions, 1)
	assert.Equal(t, "AAPL", a.Positions[0].Symbol)
	require.NoError(t, a.CheckInvariants())
}

func TestOptionSymbols(t *testing.T) {
	a := NewAccount("alice", 100_000)
	now := time.Now().UTC()
	require.NoError(t, a.AddPosition(NewPosition("AAPL", 100, 150, now)))
	require.NoError(t, a.AddPosition(NewPosition("AAPL250221C00160000", 2, 3.50, now.Add(time.Second))))

	assert.Equal(t, []string{"AAPL250221C00160000"}, a.OptionSymbols())
}

func TestAccountClone(t *testing.T) {
	a := NewAccount("alice", 100_000)
	now := time.Now().UTC()
	require.NoError(t, a.AddPosition(NewPosition("AAPL", 100, 150, now)))
	a.BookRealized(500, now)

	cp := a.Clone()
	cp.CashBalance = 1
	cp.Positions[0].Quantity = 1
	cp.BookRealized(-100, now)

	assert.InDelta(t, 100_000, a.CashBalance, 1e-9)
	assert.Equal(t, 100, a.Positions[0].Quantity)
	assert.InDelta(t, 500, a.DayPnL(now), 1e-9)
}

func TestCheckInvariants(t *testing.T) {
	now := time.Now().UTC()

	t.Run("zero quantity", func(t *testing.T) {
		a := NewAccount("alice", 100_000)
		a.Positions = []*Position{NewPosition("AAPL", 0, 150, now)}
		assert.True(t, IsKind(a.CheckInvariants(), ErrInternal))
	})

	t.Run("negative avg price", func(t *testing.T) {
		a := NewAccount("alice", 100_000)
		a.Positions = []*Position{NewPosition("AAPL", 100, -1, now)}
		assert.True(t, IsKind(a.CheckInvariants(), ErrInternal))
	})

	t.Run("duplicate symbol", func(t *testing.T) {
		a := NewAccount("alice", 100_000)
		a.Positions = []*Position{
			NewPosition("AAPL", 100, 150, now),
			NewPosition("AAPL", 50, 151, now),
		}
		assert.True(t, IsKind(a.CheckInvariants(), ErrInternal))
	})
}
