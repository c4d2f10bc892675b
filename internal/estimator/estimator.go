// Package estimator turns a market quote and a signed order quantity into
// a simulated fill price. Estimators are pure with respect to their
// configuration; the execution engine applies direction and multipliers.
package estimator

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/papertrade-io/paperbroker/internal/asset"
	"github.com/papertrade-io/paperbroker/internal/quote"
	"github.com/papertrade-io/paperbroker/internal/util"
)

// Estimator produces a fill price for a signed quantity against a quote.
// Positive quantity is a buy, negative a sell. The returned price is
// always positive; the engine applies the sign for cash math.
type Estimator interface {
	// Name identifies the estimator in results and logs.
	Name() string
	// Estimate returns the fill price, rounded to two decimals for stock
	// and to the option tick for options.
	Estimate(q *quote.Quote, quantity int) (float64, error)
}

// ErrUnpriceable is wrapped by estimators when the quote carries no usable
// price for their model.
var ErrUnpriceable = fmt.Errorf("quote is not priceable")

/// finish applies the instrument tick rule: options round to their nickel /
// dime tick, everything else to cents.
func finish(q *quote.Quote, price float64) float64 {
	if _, ok := q.Asset.(asset.Option); ok {
		return util.RoundOptionPrice(price)
	}
	return util.Round2(price)
}

// Midpoint fills at the mid of bid/ask, falling back to the last trade.
type Midpoint struct{}

// Name implements Estimator.
func (Midpoint) Name() string { return "midpoint" }

// Estimate implements Estimator.
func (Midpoint) Estimate(q *quote.Quote, _ int) (float64, error) {
	if mid, ok := q.Mid(); ok {
		return finish(q, mid), nil
	}
	if q.Last != nil && *q.Last > 0 {
		return finish(q, *q.Last), nil
	}
	return 0, fmt.Errorf("midpoint %s: %w", q.Symbol, ErrUnpriceable)
}

// Market fills buys at the ask and sells at the bid, falling back to the
// mid (or last) when the quote is incomplete.
type Market struct{}

// Name implements Estimator.
func (Market) Name() string { return "market" }

// Estimate implements Estimator.
func (Market) Estimate(q *quote.Quote, quantity int) (float64, error) {
	if quantity >= 0 {
		if q.Ask != nil && *q.Ask > 0 {
			return finish(q, *q.Ask), nil
		}
	} else {
		if q.Bid != nil && *q.Bid > 0 {
			return finish(q, *q.Bid), nil
		}
	}
	return Midpoint{}.Estimate(q, quantity)
}

// Slippage fills at the mid shifted by a fraction of the half-spread.
// Factor is in [-1, 1]: positive is favourable to the trader (buys pay
// less, sells receive more), negative adverse.
type Slippage struct {
	Factor float64
}

// Name implements Estimator.
func (s Slippage) Name() string { return "slippage" }

// Estimate implements Estimator.
func (s Slippage) Estimate(q *quote.Quote, quantity int) (float64, error) {
	if s.Factor < -1 || s.Factor > 1 {
		return 0, fmt.Errorf("slippage factor %.3f outside [-1,1]", s.Factor)
	}
	if quantity == 0 {
		return 0, fmt.Errorf("slippage %s: signed quantity required", q.Symbol)
	}
	mid, ok := q.Mid()
	if !ok {
		return 0, fmt.Errorf("slippage %s: valid bid/ask required: %w", q.Symbol, ErrUnpriceable)
	}
	spread, _ := q.Spread()
	half := spread / 2

	var price float64
	if quantity > 0 {
		price = mid - s.Factor*half
	} else {
		price = mid + s.Factor*half
	}
	return finish(q, price), nil
}

// Fixed always returns the configured price. It backs worthless expiration
// and forced fills.
type Fixed struct {
	Price float64
}

// Name implements Estimator.
func (f Fixed) Name() string { return "fixed" }

// Estimate implements Estimator.
func (f Fixed) Estimate(_ *quote.Quote, _ int) (float64, error) {
	return util.Round2(f.Price), nil
}

// VolumeWeighted starts at the adverse side and worsens the price in
// proportion to how much of the visible size the order consumes.
// Impact is in [0, 1]; larger means crossing more of the spread.
type VolumeWeighted struct {
	Impact float64
}

// Name implements Estimator.
func (v VolumeWeighted) Name() string { return "volume_weighted" }

// Estimate implements Estimator.
func (v VolumeWeighted) Estimate(q *quote.Quote, quantity int) (float64, error) {
	if v.Impact < 0 || v.Impact > 1 {
		return 0, fmt.Errorf("volume impact %.3f outside [0,1]", v.Impact)
	}
	if _, ok := q.Mid(); !ok {
		return Market{}.Estimate(q, quantity)
	}
	spread, _ := q.Spread()

	visible := q.AskSize
	base := *q.Ask
	if quantity < 0 {
		visible = q.BidSize
		base = *q.Bid
	}
	if visible <= 0 {
		// Size unknown: degrade to plain market pricing.
		return Market{}.Estimate(q, quantity)
	}

	consumed := math.Min(math.Abs(float64(quantity))/float64(visible), 1)
	worsen := spread * consumed * v.Impact
	if quantity >= 0 {
		return finish(q, base+worsen), nil
	}
	return finish(q, base-worsen), nil
}

// Realistic combines base slippage, square-root size impact, a volatility
// uplift, and a time-of-day factor around the open and close.
type Realistic struct {
	BaseSlippage float64 // fraction of price lost to the spread, e.g. 0.0005
	TypicalSize  int     // order size with neutral impact
	VolImpact    float64 // scales the volatility uplift
}

// Name implements Estimator.
func (Realistic) Name() string { return "realistic" }

// Estimate implements Estimator.
func (r Realistic) Estimate(q *quote.Quote, quantity int) (float64, error) {
	mid, ok := q.Price()
	if !ok {
		return 0, fmt.Errorf("realistic %s: %w", q.Symbol, ErrUnpriceable)
	}
	if quantity == 0 {
		return 0, fmt.Errorf("realistic %s: signed quantity required", q.Symbol)
	}

	typical := r.TypicalSize
	if typical <= 0 {
		typical = 100
	}

	slip := r.BaseSlippage
	slip += r.VolImpact * math.Sqrt(math.Abs(float64(quantity))/float64(typical))

	// Volatility uplift: scale by IV when the quote carries it, otherwise
	// flag wide markets (spread/mid above 5%) with a flat 1.2x.
	if q.Greeks != nil && q.Greeks.IV > 0 {
		slip *= q.Greeks.IV
	} else if spread, sok := q.Spread(); sok && mid > 0 && spread/mid > 0.05 {
		slip *= 1.2
	}

	slip *= timeOfDayFactor(q.QuoteDate)

	var price float64
	if quantity > 0 {
		price = mid * (1 + slip)
	} else {
		price = mid * (1 - slip)
	}
	if price < 0 {
		price = 0
	}
	return finish(q, price), nil
}

// timeOfDayFactor is 1.3 in the first and last half-hour of the regular
// session (ET) and 1.0 otherwise.
func timeOfDayFactor(t time.Time) float64 {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.FixedZone("ET", -5*60*60)
	}
	et := t.In(loc)
	minutes := et.Hour()*60 + et.Minute()

	const (
		sessionOpen  = 9*60 + 30
		sessionClose = 16 * 60
	)
	if (minutes >= sessionOpen && minutes < sessionOpen+30) ||
		(minutes >= sessionClose-30 && minutes < sessionClose) {
		return 1.3
	}
	return 1.0
}

// Multi blends several estimators by weight, skipping failed sub-estimators
// and renormalising the remaining weights. It errors only when every
// sub-estimator fails.
type Multi struct {
	parts []weightedEstimator
}

type weightedEstimator struct {
	name   string
	est    Estimator
	weight float64
}

// NewMulti builds a weighted blend. Weights must be positive and sum to 1
// within tolerance.
func NewMulti(parts map[string]WeightedPart) (*Multi, error) {
	if len(parts) == 0 {
		return nil, fmt.Errorf("multi estimator requires at least one part")
	}
	total := 0.0
	m := &Multi{}
	for name, p := range parts {
		if p.Weight <= 0 {
			return nil, fmt.Errorf("multi estimator part %q has non-positive weight", name)
		}
		total += p.Weight
		m.parts = append(m.parts, weightedEstimator{name: name, est: p.Estimator, weight: p.Weight})
	}
	if math.Abs(total-1.0) > 1e-9 {
		return nil, fmt.Errorf("multi estimator weights sum to %.6f, want 1", total)
	}
	// Deterministic evaluation order.
	sort.Slice(m.parts, func(i, j int) bool { return m.parts[i].name < m.parts[j].name })
	return m, nil
}

// WeightedPart pairs an estimator with its blend weight.
type WeightedPart struct {
	Estimator Estimator
	Weight    float64
}

// Name implements Estimator.
func (*Multi) Name() string { return "multi" }

// Estimate implements Estimator.
func (m *Multi) Estimate(q *quote.Quote, quantity int) (float64, error) {
	var sum, weightUsed float64
	var lastErr error
	for _, p := range m.parts {
		price, err := p.est.Estimate(q, quantity)
		if err != nil {
			lastErr = err
			continue
		}
		sum += price * p.weight
		weightUsed += p.weight
	}
	if weightUsed == 0 {
		return 0, fmt.Errorf("multi %s: all sub-estimators failed: %w", q.Symbol, lastErr)
	}
	return finish(q, sum/weightUsed), nil
}
