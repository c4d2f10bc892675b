// Package quote models market quotes for stocks and options, including the
// derived price, spread math, and Greeks population for option quotes.
package quote

import (
	"math"
	"time"

	"github.com/papertrade-io/paperbroker/internal/asset"
	"github.com/papertrade-io/paperbroker/internal/pricing"
)

// Greeks holds the option sensitivities attached to a priceable option
// quote. A nil Greeks pointer means the values could not be derived; they
// are never reported as zero.
type Greeks struct {
	Delta float64 `json:"delta"`
	Gamma float64 `json:"gamma"`
	Theta float64 `json:"theta"`
	Vega  float64 `json:"vega"`
	Rho   float64 `json:"rho"`
	IV    float64 `json:"iv"`
}

// Quote is a point-in-time market observation for one asset. Bid, Ask and
// Last are optional; nil means the venue did not publish that side.
type Quote struct {
	Asset     asset.Asset `json:"-"`
	Symbol    string      `json:"symbol"`
	QuoteDate time.Time   `json:"quote_date"`

	Bid     *float64 `json:"bid,omitempty"`
	Ask     *float64 `json:"ask,omitempty"`
	Last    *float64 `json:"last,omitempty"`
	BidSize int      `json:"bid_size,omitempty"`
	AskSize int      `json:"ask_size,omitempty"`
	Volume  int64    `json:"volume,omitempty"`

	// Option-only fields.
	Greeks         *Greeks  `json:"greeks,omitempty"`
	UnderlyingLast *float64 `json:"underlying_last,omitempty"`
}

// New constructs a quote from raw bid/ask/last values. Pass NaN for any
// side that is unknown. Option quotes that are priceable and carry a known
// underlying price get their Greeks populated from the Black-Scholes
// evaluator; when the solver fails the Greeks stay nil.
func New(a asset.Asset, quoteDate time.Time, bid, ask, last float64) *Quote {
	q := &Quote{
		Asset:     a,
		Symbol:    a.Symbol(),
		QuoteDate: quoteDate,
		Bid:       optional(bid),
		Ask:       optional(ask),
		Last:      optional(last),
	}
	return q
}

// WithUnderlying records the underlying's concurrent last price on an
// option quote and derives Greeks if the quote is priceable.
func (q *Quote) WithUnderlying(underlyingLast float64) *Quote {
	q.UnderlyingLast = optional(underlyingLast)
	q.PopulateGreeks()
	return q
}

// WithSizes records the visible bid/ask sizes.
func (q *Quote) WithSizes(bidSize, askSize int) *Quote {
	q.BidSize = bidSize
	q.AskSize = askSize
	return q
}

// PopulateGreeks computes Greeks for an option quote. It is a no-op for
// stocks, for unpriceable quotes, and when the underlying price is unknown.
func (q *Quote) PopulateGreeks() {
	opt, ok := q.Asset.(asset.Option)
	if !ok {
		return
	}
	price, priceable := q.Price()
	if !priceable || q.UnderlyingLast == nil {
		return
	}

	g, err := pricing.Evaluate(pricing.Inputs{
		Call:       opt.OptionType() == asset.Call,
		Strike:     opt.Strike(),
		Underlying: *q.UnderlyingLast,
		Days:       float64(opt.DaysToExpiration(q.QuoteDate)),
	}, price)
	if err != nil {
		// Greeks are omitted, not guessed.
		q.Greeks = nil
		return
	}
	q.Greeks = &Greeks{
		Delta: g.Delta,
		Gamma: g.Gamma,
		Theta: g.Theta,
		Vega:  g.Vega,
		Rho:   g.Rho,
		IV:    g.IV,
	}
}

// Mid returns (bid+ask)/2 when both sides are present, positive, and not
// crossed beyond tolerance.
func (q *Quote) Mid() (float64, bool) {
	if q.Bid == nil || q.Ask == nil {
		return 0, false
	}
	bid, ask := *q.Bid, *q.Ask
	if bid <= 0 || ask <= 0 || bid > ask {
		return 0, false
	}
	return (bid + ask) / 2, true
}

// Spread returns ask-bid when both sides are valid.
func (q *Quote) Spread() (float64, bool) {
	if _, ok := q.Mid(); !ok {
		return 0, false
	}
	return *q.Ask - *q.Bid, true
}

// Price returns the last trade if known, else the midpoint of valid
// bid/ask, else reports false.
func (q *Quote) Price() (float64, bool) {
	if q.Last != nil && *q.Last > 0 {
		return *q.Last, true
	}
	return q.Mid()
}

// Priceable reports whether a usable mid or last price can be derived.
func (q *Quote) Priceable() bool {
	_, ok := q.Price()
	return ok
}

// IntrinsicValue returns the option's intrinsic value against the recorded
// underlying price. Stocks and quotes without an underlying report false.
func (q *Quote) IntrinsicValue() (float64, bool) {
	opt, ok := q.Asset.(asset.Option)
	if !ok || q.UnderlyingLast == nil {
		return 0, false
	}
	return opt.IntrinsicValue(*q.UnderlyingLast), true
}

// ExtrinsicValue returns the option price in excess of intrinsic value.
func (q *Quote) ExtrinsicValue() (float64, bool) {
	opt, ok := q.Asset.(asset.Option)
	if !ok || q.UnderlyingLast == nil {
		return 0, false
	}
	price, priced := q.Price()
	if !priced {
		return 0, false
	}
	return opt.ExtrinsicValue(*q.UnderlyingLast, price), true
}

func optional(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) || v <= 0 {
		return nil
	}
	return &v
}

// Float is a helper for building optional quote fields in tests and
// simulated data.
func Float(v float64) *float64 { return &v }
