package strategies

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/papertrade-io/paperbroker/internal/models"
)

var openedAt = time.Date(2025, 1, 10, 15, 0, 0, 0, time.UTC)

func pos(symbol string, qty int, avg float64) *models.Position {
	return models.NewPosition(symbol, qty, avg, openedAt)
}

func kinds(strats []Strategy) []Kind {
	out := make([]Kind, len(strats))
	for i, s := range strats {
		out[i] = s.Kind
	}
	return out
}

func TestRecognizeCoveredCall(t *testing.T) {
	strats := Recognize([]*models.Position{
		pos("AAPL", 100, 145),
		pos("AAPL250221C00150000", -1, 2.00),
	}, map[string]float64{"AAPL": 148})

	require.Len(t, strats, 1)
	assert.Equal(t, CoveredCall, strats[0].Kind)
	assert.Equal(t, "AAPL", strats[0].Underlying)
	assert.Equal(t, 1, strats[0].Quantity)
	assert.Len(t, strats[0].Positions, 2)
}

func TestRecognizeCoveredCallNeedsStrikeAtOrAboveSpot(t *testing.T) {
	// The call struck below spot does not cover; the pair falls apart into
	// long stock and a bare short call.
	strats := Recognize([]*models.Position{
		pos("AAPL", 100, 145),
		pos("AAPL250221C00140000", -1, 9.00),
	}, map[string]float64{"AAPL": 148})

	assert.ElementsMatch(t, []Kind{LongStock, ShortCall}, kinds(strats))
}

func TestRecognizeCoveredCallWithoutSpot(t *testing.T) {
	// No spot known: the strike condition is waived.
	strats := Recognize([]*models.Position{
		pos("AAPL", 100, 145),
		pos("AAPL250221C00140000", -1, 9.00),
	}, nil)

	require.Len(t, strats, 1)
	assert.Equal(t, CoveredCall, strats[0].Kind)
}

func TestRecognizeProtectivePut(t *testing.T) {
	strats := Recognize([]*models.Position{
		pos("AAPL", 100, 145),
		pos("AAPL250221P00140000", 1, 2.50),
	}, map[string]float64{"AAPL": 148})

	require.Len(t, strats, 1)
	assert.Equal(t, ProtectivePut, strats[0].Kind)
}

func TestRecognizeCoveredPutAndProtectiveCall(t *testing.T) {
	strats := Recognize([]*models.Position{
		pos("AAPL", -100, 150),
		pos("AAPL250221P00145000", -1, 2.50),
	}, map[string]float64{"AAPL": 148})
	require.Len(t, strats, 1)
	assert.Equal(t, CoveredPut, strats[0].Kind)

	strats = Recognize([]*models.Position{
		pos("AAPL", -100, 150),
		pos("AAPL250221C00155000", 1, 2.00),
	}, map[string]float64{"AAPL": 148})
	require.Len(t, strats, 1)
	assert.Equal(t, ProtectiveCall, strats[0].Kind)
}

func TestRecognizeVerticals(t *testing.T) {
	tests := []struct {
		name string
		legs []*models.Position
		want Kind
	}{
		{
			name: "call debit spread",
			legs: []*models.Position{
				pos("AAPL250221C00150000", 1, 5.00),
				pos("AAPL250221C00160000", -1, 3.50),
			},
			want: CallDebitSpread,
		},
		{
			name: "call credit spread",
			legs: []*models.Position{
				pos("AAPL250221C00150000", -1, 5.00),
				pos("AAPL250221C00155000", 1, 3.00),
			},
			want: CallCreditSpread,
		},
		{
			name: "put debit spread",
			legs: []*models.Position{
				pos("AAPL250221P00150000", 1, 4.00),
				pos("AAPL250221P00140000", -1, 1.50),
			},
			want: PutDebitSpread,
		},
		{
			name: "put credit spread",
			legs: []*models.Position{
				pos("AAPL250221P00150000", -1, 4.00),
				pos("AAPL250221P00140000", 1, 1.50),
			},
			want: PutCreditSpread,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strats := Recognize(tt.legs, nil)
			require.Len(t, strats, 1)
			assert.Equal(t, tt.want, strats[0].Kind)
			assert.Equal(t, 1, strats[0].Quantity)
		})
	}
}

func TestRecognizeIronCondor(t *testing.T) {
	strats := Recognize([]*models.Position{
		pos("AAPL250221P00130000", 1, 0.80),
		pos("AAPL250221P00140000", -1, 2.00),
		pos("AAPL250221C00160000", -1, 2.10),
		pos("AAPL250221C00170000", 1, 0.90),
	}, nil)

	require.Len(t, strats, 1)
	assert.Equal(t, IronCondor, strats[0].Kind)
	assert.Len(t, strats[0].Positions, 4)
}

func TestRecognizeIronButterfly(t *testing.T) {
	strats := Recognize([]*models.Position{
		pos("AAPL250221P00140000", 1, 0.80),
		pos("AAPL250221P00150000", -1, 4.00),
		pos("AAPL250221C00150000", -1, 4.10),
		pos("AAPL250221C00160000", 1, 0.90),
	}, nil)

	require.Len(t, strats, 1)
	assert.Equal(t, IronButterfly, strats[0].Kind)
}

func TestRecognizeButterfly(t *testing.T) {
	strats := Recognize([]*models.Position{
		pos("AAPL250221C00140000", 1, 9.00),
		pos("AAPL250221C00150000", -2, 4.00),
		pos("AAPL250221C00160000", 1, 1.50),
	}, nil)

	require.Len(t, strats, 1)
	assert.Equal(t, LongButterfly, strats[0].Kind)
	assert.Equal(t, 1, strats[0].Quantity)
}

func TestRecognizeCalendarAndDiagonal(t *testing.T) {
	strats := Recognize([]*models.Position{
		pos("AAPL250221C00150000", -1, 3.00),
		pos("AAPL250321C00150000", 1, 5.00),
	}, nil)
	require.Len(t, strats, 1)
	assert.Equal(t, CalendarSpread, strats[0].Kind)

	strats = Recognize([]*models.Position{
		pos("AAPL250221C00150000", -1, 3.00),
		pos("AAPL250321C00155000", 1, 4.00),
	}, nil)
	require.Len(t, strats, 1)
	assert.Equal(t, DiagonalSpread, strats[0].Kind)
}

func TestRecognizeStraddlesAndStrangles(t *testing.T) {
	tests := []struct {
		name string
		qty  int
		putK string
		calK string
		want Kind
	}{
		{name: "long straddle", qty: 1, putK: "AAPL250221P00150000", calK: "AAPL250221C00150000", want: LongStraddle},
		{name: "short straddle", qty: -1, putK: "AAPL250221P00150000", calK: "AAPL250221C00150000", want: ShortStraddle},
		{name: "long strangle", qty: 1, putK: "AAPL250221P00140000", calK: "AAPL250221C00160000", want: LongStrangle},
		{name: "short strangle", qty: -2, putK: "AAPL250221P00140000", calK: "AAPL250221C00160000", want: ShortStrangle},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			strats := Recognize([]*models.Position{
				pos(tt.putK, tt.qty, 2.00),
				pos(tt.calK, tt.qty, 2.00),
			}, nil)
			require.Len(t, strats, 1)
			assert.Equal(t, tt.want, strats[0].Kind)
			assert.Equal(t, abs(tt.qty), strats[0].Quantity)
		})
	}
}

func TestRecognizeLeftovers(t *testing.T) {
	strats := Recognize([]*models.Position{
		pos("AAPL", 100, 150),
		pos("MSFT", -50, 400),
		pos("AAPL250221C00150000", 2, 3.00),
		pos("AAPL250221P00140000", -1, 2.00),
	}, map[string]float64{"AAPL": 135})

	// Spot far below both strikes: no covered call, no useful pairs except
	// none (call long and put short have different signs).
	assert.ElementsMatch(t, []Kind{LongStock, ShortStock, LongCall, ShortPut}, kinds(strats))
}

func TestRecognizeCustomForUnparseableSymbol(t *testing.T) {
	strats := Recognize([]*models.Position{
		pos("???", 1, 0),
	}, nil)
	require.Len(t, strats, 1)
	assert.Equal(t, Custom, strats[0].Kind)
}

func TestRecognizePartitionsWithoutOverlap(t *testing.T) {
	// A busy book: every position must appear in exactly one strategy.
	positions := []*models.Position{
		pos("AAPL", 200, 145),
		pos("AAPL250221C00150000", -2, 2.00),
		pos("AAPL250221P00130000", 1, 0.80),
		pos("AAPL250221P00140000", -1, 2.00),
		pos("AAPL250221C00160000", -1, 2.10),
		pos("AAPL250221C00170000", 1, 0.90),
		pos("MSFT250221C00400000", 1, 8.00),
	}
	strats := Recognize(positions, map[string]float64{"AAPL": 148})

	seen := make(map[*models.Position]int)
	for _, s := range strats {
		for _, p := range s.Positions {
			seen[p]++
		}
	}
	for _, p := range positions {
		assert.Equal(t, 1, seen[p], "position %s must be claimed exactly once", p.Symbol)
	}

	// Deterministic: a second run over the same book yields the same kinds.
	again := Recognize(positions, map[string]float64{"AAPL": 148})
	assert.Equal(t, kinds(strats), kinds(again))
}
