// Package strategies groups an account's positions into named option
// strategies. Recognition is a pure function over position references:
// it never mutates positions and always partitions them with no overlap.
package strategies

import (
	"sort"

	"github.com/papertrade-io/paperbroker/internal/asset"
	"github.com/papertrade-io/paperbroker/internal/models"
)

// Kind names a recognized strategy.
type Kind string

const (
	LongStock  Kind = "long_stock"
	ShortStock Kind = "short_stock"

	CoveredCall    Kind = "covered_call"
	CoveredPut     Kind = "covered_put"
	ProtectivePut  Kind = "protective_put"
	ProtectiveCall Kind = "protective_call"

	CallDebitSpread  Kind = "call_debit_spread"
	CallCreditSpread Kind = "call_credit_spread"
	PutDebitSpread   Kind = "put_debit_spread"
	PutCreditSpread  Kind = "put_credit_spread"

	CalendarSpread Kind = "calendar_spread"
	DiagonalSpread Kind = "diagonal_spread"

	LongStraddle  Kind = "long_straddle"
	ShortStraddle Kind = "short_straddle"
	LongStrangle  Kind = "long_strangle"
	ShortStrangle Kind = "short_strangle"

	LongButterfly  Kind = "long_butterfly"
	ShortButterfly Kind = "short_butterfly"
	IronCondor     Kind = "iron_condor"
	IronButterfly  Kind = "iron_butterfly"

	LongCall  Kind = "long_call"
	LongPut   Kind = "long_put"
	ShortCall Kind = "short_call"
	ShortPut  Kind = "short_put"

	// Custom covers positions the recognizer cannot classify, such as
	// symbols that no longer parse.
	Custom Kind = "custom"
)

// Strategy is one recognized grouping. Positions are references into
// the account snapshot; Quantity is the number of strategy units.
type Strategy struct {
	Kind       Kind               `json:"kind"`
	Underlying string             `json:"underlying"`
	Quantity   int                `json:"quantity"`
	Positions  []*models.Position `json:"positions"`
}

// leg pairs an option position with its parsed contract.
type leg struct {
	pos  *models.Position
	opt  asset.Option
	used bool
}

type group struct {
	underlying string
	stock      *models.Position
	stockUsed  bool
	legs       []*leg
}

// Recognize partitions positions into strategies. spot maps underlying
// symbols to their last price; strike-versus-spot conditions are only
// applied for underlyings present in the map. Detection is greedy and
// deterministic: within each underlying, legs are scanned in (strike,
// expiration, symbol) order, multi-leg structures before two-leg
// spreads so a condor is not split into verticals.
func Recognize(positions []*models.Position, spot map[string]float64) []Strategy {
	var out []Strategy
	groups := make(map[string]*group)
	var order []string

	for _, p := range positions {
		a, err := asset.ParseAsset(p.Symbol)
		if err != nil {
			out = append(out, Strategy{Kind: Custom, Underlying: p.Symbol, Quantity: 1, Positions: []*models.Position{p}})
			continue
		}
		under := a.Symbol()
		opt, isOpt := a.(asset.Option)
		if isOpt {
			under = opt.Underlying()
		}
		g, ok := groups[under]
		if !ok {
			g = &group{underlying: under}
			groups[under] = g
			order = append(order, under)
		}
		if isOpt {
			g.legs = append(g.legs, &leg{pos: p, opt: opt})
		} else {
			g.stock = p
		}
	}
	sort.Strings(order)

	for _, under := range order {
		g := groups[under]
		sort.Slice(g.legs, func(i, j int) bool {
			a, b := g.legs[i].opt, g.legs[j].opt
			if a.Strike() != b.Strike() {
				return a.Strike() < b.Strike()
			}
			if !a.Expiration().Equal(b.Expiration()) {
				return a.Expiration().Before(b.Expiration())
			}
			return a.Symbol() < b.Symbol()
		})
		out = append(out, g.recognize(spot[under])...)
	}
	return out
}

func (g *group) recognize(spot float64) []Strategy {
	var out []Strategy
	out = append(out, g.coveredAndProtective(spot)...)
	out = append(out, g.ironStructures()...)
	out = append(out, g.butterflies()...)
	out = append(out, g.verticals()...)
	out = append(out, g.horizontals()...)
	out = append(out, g.straddlesAndStrangles()...)
	out = append(out, g.leftovers()...)
	return out
}

// coveredAndProtective pairs the stock position with one option leg.
// Covered call needs 100 shares per short call at a strike at or above
// spot; protective put needs long stock plus a long put. The short-side
// mirrors apply to short stock.
func (g *group) coveredAndProtective(spot float64) []Strategy {
	if g.stock == nil || g.stockUsed {
		return nil
	}
	shares := g.stock.Quantity

	for _, l := range g.legs {
		if l.used {
			continue
		}
		n := abs(l.pos.Quantity)
		isCall := l.opt.OptionType() == asset.Call
		short := l.pos.Quantity < 0

		var kind Kind
		switch {
		case shares >= n*asset.SharesPerContract && short && isCall &&
			(spot == 0 || l.opt.Strike() >= spot):
			kind = CoveredCall
		case -shares >= n*asset.SharesPerContract && short && !isCall &&
			(spot == 0 || l.opt.Strike() <= spot):
			kind = CoveredPut
		case shares > 0 && !short && !isCall:
			kind = ProtectivePut
		case shares < 0 && !short && isCall:
			kind = ProtectiveCall
		default:
			continue
		}
		l.used = true
		g.stockUsed = true
		return []Strategy{{
			Kind:       kind,
			Underlying: g.underlying,
			Quantity:   n,
			Positions:  []*models.Position{g.stock, l.pos},
		}}
	}
	return nil
}

// ironStructures finds four-leg condors and butterflies: long low put,
// short higher put, short call at or above it, long highest call, all of
// one magnitude and one expiration. Coincident short strikes make it an
// iron butterfly.
func (g *group) ironStructures() []Strategy {
	var out []Strategy
	for _, lp := range g.legs {
		if lp.used || lp.pos.Quantity <= 0 || lp.opt.OptionType() != asset.Put {
			continue
		}
		n := lp.pos.Quantity
		sp := g.find(func(l *leg) bool {
			return l.opt.OptionType() == asset.Put && l.pos.Quantity == -n &&
				l.opt.Strike() > lp.opt.Strike() && l.opt.Expiration().Equal(lp.opt.Expiration())
		})
		if sp == nil {
			continue
		}
		sc := g.find(func(l *leg) bool {
			return l.opt.OptionType() == asset.Call && l.pos.Quantity == -n &&
				l.opt.Strike() >= sp.opt.Strike() && l.opt.Expiration().Equal(lp.opt.Expiration())
		})
		if sc == nil {
			continue
		}
		lc := g.find(func(l *leg) bool {
			return l.opt.OptionType() == asset.Call && l.pos.Quantity == n &&
				l.opt.Strike() > sc.opt.Strike() && l.opt.Expiration().Equal(lp.opt.Expiration())
		})
		if lc == nil {
			continue
		}

		kind := IronCondor
		if sp.opt.Strike() == sc.opt.Strike() {
			kind = IronButterfly
		}
		for _, l := range []*leg{lp, sp, sc, lc} {
			l.used = true
		}
		out = append(out, Strategy{
			Kind:       kind,
			Underlying: g.underlying,
			Quantity:   n,
			Positions:  []*models.Position{lp.pos, sp.pos, sc.pos, lc.pos},
		})
	}
	return out
}

// butterflies finds three-leg same-type structures with the +n/-2n/+n
// (long) or -n/+2n/-n (short) quantity pattern in ascending strikes.
func (g *group) butterflies() []Strategy {
	var out []Strategy
	for _, low := range g.legs {
		if low.used || low.pos.Quantity == 0 {
			continue
		}
		n := low.pos.Quantity
		mid := g.find(func(l *leg) bool {
			return l.opt.OptionType() == low.opt.OptionType() && l.pos.Quantity == -2*n &&
				l.opt.Strike() > low.opt.Strike() && l.opt.Expiration().Equal(low.opt.Expiration())
		})
		if mid == nil {
			continue
		}
		high := g.find(func(l *leg) bool {
			return l != low && l.opt.OptionType() == low.opt.OptionType() && l.pos.Quantity == n &&
				l.opt.Strike() > mid.opt.Strike() && l.opt.Expiration().Equal(low.opt.Expiration())
		})
		if high == nil {
			continue
		}

		kind := LongButterfly
		if n < 0 {
			kind = ShortButterfly
		}
		for _, l := range []*leg{low, mid, high} {
			l.used = true
		}
		out = append(out, Strategy{
			Kind:       kind,
			Underlying: g.underlying,
			Quantity:   abs(n),
			Positions:  []*models.Position{low.pos, mid.pos, high.pos},
		})
	}
	return out
}

// verticals finds same-type, same-expiration pairs with opposite
// quantities of equal magnitude. Direction and debit/credit follow from
// which strike is long.
func (g *group) verticals() []Strategy {
	var out []Strategy
	for _, a := range g.legs {
		if a.used || a.pos.Quantity <= 0 {
			continue
		}
		b := g.find(func(l *leg) bool {
			return l.opt.OptionType() == a.opt.OptionType() && l.pos.Quantity == -a.pos.Quantity &&
				l.opt.Strike() != a.opt.Strike() && l.opt.Expiration().Equal(a.opt.Expiration())
		})
		if b == nil {
			continue
		}

		longLower := a.opt.Strike() < b.opt.Strike()
		var kind Kind
		if a.opt.OptionType() == asset.Call {
			kind = CallCreditSpread
			if longLower {
				kind = CallDebitSpread
			}
		} else {
			kind = PutDebitSpread
			if longLower {
				kind = PutCreditSpread
			}
		}
		a.used, b.used = true, true
		out = append(out, Strategy{
			Kind:       kind,
			Underlying: g.underlying,
			Quantity:   a.pos.Quantity,
			Positions:  []*models.Position{a.pos, b.pos},
		})
	}
	return out
}

// horizontals finds same-type pairs across expirations: calendars at
// one strike, diagonals at two.
func (g *group) horizontals() []Strategy {
	var out []Strategy
	for _, a := range g.legs {
		if a.used || a.pos.Quantity <= 0 {
			continue
		}
		b := g.find(func(l *leg) bool {
			return l.opt.OptionType() == a.opt.OptionType() && l.pos.Quantity == -a.pos.Quantity &&
				!l.opt.Expiration().Equal(a.opt.Expiration())
		})
		if b == nil {
			continue
		}
		kind := DiagonalSpread
		if a.opt.Strike() == b.opt.Strike() {
			kind = CalendarSpread
		}
		a.used, b.used = true, true
		out = append(out, Strategy{
			Kind:       kind,
			Underlying: g.underlying,
			Quantity:   a.pos.Quantity,
			Positions:  []*models.Position{a.pos, b.pos},
		})
	}
	return out
}

// straddlesAndStrangles pairs a call and a put of the same sign and
// magnitude: same strike is a straddle, call strike above put strike a
// strangle.
func (g *group) straddlesAndStrangles() []Strategy {
	var out []Strategy
	for _, put := range g.legs {
		if put.used || put.opt.OptionType() != asset.Put || put.pos.Quantity == 0 {
			continue
		}
		call := g.find(func(l *leg) bool {
			return l.opt.OptionType() == asset.Call && l.pos.Quantity == put.pos.Quantity &&
				l.opt.Strike() >= put.opt.Strike() && l.opt.Expiration().Equal(put.opt.Expiration())
		})
		if call == nil {
			continue
		}

		long := put.pos.Quantity > 0
		var kind Kind
		if call.opt.Strike() == put.opt.Strike() {
			kind = ShortStraddle
			if long {
				kind = LongStraddle
			}
		} else {
			kind = ShortStrangle
			if long {
				kind = LongStrangle
			}
		}
		put.used, call.used = true, true
		out = append(out, Strategy{
			Kind:       kind,
			Underlying: g.underlying,
			Quantity:   abs(put.pos.Quantity),
			Positions:  []*models.Position{put.pos, call.pos},
		})
	}
	return out
}

// leftovers names whatever survived pairing: bare stock and standalone
// option legs.
func (g *group) leftovers() []Strategy {
	var out []Strategy
	if g.stock != nil && !g.stockUsed {
		kind := LongStock
		if g.stock.Quantity < 0 {
			kind = ShortStock
		}
		out = append(out, Strategy{
			Kind:       kind,
			Underlying: g.underlying,
			Quantity:   abs(g.stock.Quantity),
			Positions:  []*models.Position{g.stock},
		})
	}
	for _, l := range g.legs {
		if l.used {
			continue
		}
		var kind Kind
		switch {
		case l.pos.Quantity > 0 && l.opt.OptionType() == asset.Call:
			kind = LongCall
		case l.pos.Quantity > 0:
			kind = LongPut
		case l.opt.OptionType() == asset.Call:
			kind = ShortCall
		default:
			kind = ShortPut
		}
		l.used = true
		out = append(out, Strategy{
			Kind:       kind,
			Underlying: g.underlying,
			Quantity:   abs(l.pos.Quantity),
			Positions:  []*models.Position{l.pos},
		})
	}
	return out
}

// find returns the first unused leg in sorted order matching the
// predicate.
func (g *group) find(pred func(*leg) bool) *leg {
	for _, l := range g.legs {
		if !l.used && pred(l) {
			return l
		}
	}
	return nil
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
