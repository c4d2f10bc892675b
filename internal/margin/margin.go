// Package margin computes per-strategy maintenance margin. It is a pure
// function over recognized strategies and current marks; nothing here
// touches the account.
package margin

import (
	"math"

	"github.com/papertrade-io/paperbroker/internal/asset"
	"github.com/papertrade-io/paperbroker/internal/models"
	"github.com/papertrade-io/paperbroker/internal/strategies"
)

const (
	shortStockRate    = 0.30
	shortStockPerUnit = 5.0
	nakedUnderRate    = 0.20
	nakedStrikeRate   = 0.10
)

// Requirement sums maintenance margin over the recognized strategies.
// marks maps symbols (stock and option) to their current price; missing
// option marks fall back to the position's average entry price, missing
// underlying marks to zero.
func Requirement(strats []strategies.Strategy, marks map[string]float64) float64 {
	total := 0.0
	for _, s := range strats {
		total += strategyMargin(s, marks)
	}
	return total
}

func strategyMargin(s strategies.Strategy, marks map[string]float64) float64 {
	switch s.Kind {
	case strategies.LongStock, strategies.LongCall, strategies.LongPut,
		strategies.CoveredCall, strategies.CoveredPut,
		strategies.ProtectivePut, strategies.ProtectiveCall,
		strategies.CallDebitSpread, strategies.PutDebitSpread:
		// Paid in full or secured by the stock leg.
		return 0

	case strategies.ShortStock:
		pos := s.Positions[0]
		mv := math.Abs(markValue(pos, marks))
		return math.Max(shortStockRate*mv, shortStockPerUnit*float64(abs(pos.Quantity)))

	case strategies.CallCreditSpread, strategies.PutCreditSpread:
		return creditSpreadMargin(s)

	case strategies.CalendarSpread, strategies.DiagonalSpread:
		// The long option's cost is the capital at risk.
		for _, p := range s.Positions {
			if p.Quantity > 0 {
				return p.AvgPrice * float64(p.Quantity) * float64(asset.SharesPerContract)
			}
		}
		return 0

	case strategies.ShortStraddle, strategies.ShortStrangle:
		return shortComboMargin(s, marks)

	case strategies.LongStraddle, strategies.LongStrangle:
		return 0

	case strategies.LongButterfly, strategies.ShortButterfly,
		strategies.IronCondor, strategies.IronButterfly:
		return maxLossMargin(s)

	case strategies.ShortCall, strategies.ShortPut:
		pos := s.Positions[0]
		opt, err := asset.ParseOption(pos.Symbol)
		if err != nil {
			return 0
		}
		return nakedMargin(pos, opt, marks)

	case strategies.Custom:
		total := 0.0
		for _, p := range s.Positions {
			if p.Quantity >= 0 {
				continue
			}
			if opt, err := asset.ParseOption(p.Symbol); err == nil {
				total += nakedMargin(p, opt, marks)
			}
		}
		return total
	}
	return 0
}

// creditSpreadMargin is strike width x 100 x n minus the net credit
// received at open.
func creditSpreadMargin(s strategies.Strategy) float64 {
	var long, short *models.Position
	for _, p := range s.Positions {
		if p.Quantity > 0 {
			long = p
		} else {
			short = p
		}
	}
	if long == nil || short == nil {
		return 0
	}
	lo, err1 := asset.ParseOption(long.Symbol)
	so, err2 := asset.ParseOption(short.Symbol)
	if err1 != nil || err2 != nil {
		return 0
	}
	n := float64(abs(short.Quantity))
	width := math.Abs(so.Strike() - lo.Strike())
	credit := (short.AvgPrice - long.AvgPrice) * float64(asset.SharesPerContract) * n
	return math.Max(0, width*float64(asset.SharesPerContract)*n-credit)
}

// nakedMargin applies the exchange-style naked short option formula per
// 100-share contract: the greater of 20% of the underlying less the
// out-of-the-money amount, or 10% of the strike, each plus the option's
// market value.
func nakedMargin(pos *models.Position, opt asset.Option, marks map[string]float64) float64 {
	n := float64(abs(pos.Quantity))
	optPrice := marks[pos.Symbol]
	if optPrice == 0 {
		optPrice = pos.AvgPrice
	}
	under := marks[opt.Underlying()]

	otm := 0.0
	if opt.OptionType() == asset.Call {
		otm = math.Max(0, opt.Strike()-under)
	} else if under > 0 {
		otm = math.Max(0, under-opt.Strike())
	}

	a := nakedUnderRate*under + optPrice - otm
	b := nakedStrikeRate*opt.Strike() + optPrice
	return math.Max(a, b) * float64(asset.SharesPerContract) * n
}

// shortComboMargin is the naked requirement of the greater side plus the
// premium of the other side.
func shortComboMargin(s strategies.Strategy, marks map[string]float64) float64 {
	type side struct {
		naked   float64
		premium float64
	}
	var sides []side
	for _, p := range s.Positions {
		opt, err := asset.ParseOption(p.Symbol)
		if err != nil {
			continue
		}
		optPrice := marks[p.Symbol]
		if optPrice == 0 {
			optPrice = p.AvgPrice
		}
		sides = append(sides, side{
			naked:   nakedMargin(p, opt, marks),
			premium: optPrice * float64(abs(p.Quantity)) * float64(asset.SharesPerContract),
		})
	}
	if len(sides) != 2 {
		total := 0.0
		for _, sd := range sides {
			total += sd.naked
		}
		return total
	}
	if sides[0].naked >= sides[1].naked {
		return sides[0].naked + sides[1].premium
	}
	return sides[1].naked + sides[0].premium
}

// maxLossMargin evaluates the expiration payoff of an option-only
// structure at every strike boundary and charges the worst loss. Wing
// structures have bounded loss so the strike set plus the far tails
// covers every extreme.
func maxLossMargin(s strategies.Strategy) float64 {
	type ol struct {
		opt asset.Option
		pos *models.Position
	}
	var legs []ol
	maxStrike := 0.0
	for _, p := range s.Positions {
		opt, err := asset.ParseOption(p.Symbol)
		if err != nil {
			return 0
		}
		legs = append(legs, ol{opt: opt, pos: p})
		if opt.Strike() > maxStrike {
			maxStrike = opt.Strike()
		}
	}

	pnlAt := func(under float64) float64 {
		total := 0.0
		for _, l := range legs {
			intrinsic := l.opt.IntrinsicValue(under)
			total += (intrinsic - l.pos.AvgPrice) * float64(l.pos.Quantity) * float64(asset.SharesPerContract)
		}
		return total
	}

	worst := 0.0
	points := []float64{0, 2 * maxStrike}
	for _, l := range legs {
		points = append(points, l.opt.Strike())
	}
	for _, pt := range points {
		if loss := -pnlAt(pt); loss > worst {
			worst = loss
		}
	}
	return worst
}

// markValue is quantity x mark x multiplier, falling back to the entry
// price when no mark is known.
func markValue(pos *models.Position, marks map[string]float64) float64 {
	price := marks[pos.Symbol]
	if price == 0 {
		price = pos.AvgPrice
	}
	return float64(pos.Quantity) * price * float64(pos.Multiplier())
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
