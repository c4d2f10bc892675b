package quotes

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	randv2 "math/rand/v2"
	"sync"
	"time"

	"github.com/papertrade-io/paperbroker/internal/asset"
	"github.com/papertrade-io/paperbroker/internal/pricing"
	"github.com/papertrade-io/paperbroker/internal/quote"
)

// SimSource is a self-contained market-data provider for paper trading
// without a real feed. Underlying prices follow a small random walk from
// a per-symbol base; option quotes are priced with Black-Scholes around a
// configured volatility.
type SimSource struct {
	mu     sync.Mutex
	rng    *randv2.Rand
	prices map[string]float64
	vol    float64 // annualised volatility used for chain pricing
	clock  func() time.Time
}

// Ensure SimSource implements Source at compile time.
var _ Source = (*SimSource)(nil)

// NewSimSource creates a simulated provider. Vol is the annualised
// volatility for option pricing (e.g. 0.20); seed makes runs repeatable.
func NewSimSource(vol float64, seed uint64) *SimSource {
	if vol <= 0 {
		vol = 0.20
	}
	return &SimSource{
		rng:    randv2.New(randv2.NewPCG(seed, seed)),
		prices: make(map[string]float64),
		vol:    vol,
		clock:  func() time.Time { return time.Now().UTC() },
	}
}

// WithClock overrides the provider's notion of "now", for replay and tests.
func (s *SimSource) WithClock(clock func() time.Time) *SimSource {
	s.clock = clock
	return s
}

// SetPrice pins the underlying price for a symbol.
func (s *SimSource) SetPrice(symbol string, price float64) *SimSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[symbol] = price
	return s
}

// basePrice derives a stable starting price from the symbol so unrelated
// tickers do not all trade at the same level.
func basePrice(symbol string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(symbol))
	return 25 + float64(h.Sum32()%475)
}

func (s *SimSource) underlyingPrice(symbol string) float64 {
	price, ok := s.prices[symbol]
	if !ok {
		price = basePrice(symbol)
	}
	// Small drift each observation.
	price += (s.rng.Float64() - 0.5) * price * 0.002
	s.prices[symbol] = price
	return price
}

// GetQuote implements Source.
func (s *SimSource) GetQuote(ctx context.Context, symbol string) (*quote.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a, err := asset.ParseAsset(symbol)
	if err != nil {
		return nil, fmt.Errorf("sim source: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()

	if opt, ok := a.(asset.Option); ok {
		under := s.underlyingPrice(opt.Underlying())
		return s.optionQuote(opt, under, now), nil
	}

	price := s.underlyingPrice(symbol)
	spread := math.Max(0.02, price*0.0002)
	q := quote.New(a, now, price-spread/2, price+spread/2, price)
	q.Volume = int64(s.rng.IntN(100_000_000))
	return q.WithSizes(1+s.rng.IntN(50)*100, 1+s.rng.IntN(50)*100), nil
}

// optionQuote prices one contract with Black-Scholes around the sim vol.
func (s *SimSource) optionQuote(opt asset.Option, under float64, now time.Time) *quote.Quote {
	days := float64(opt.DaysToExpiration(now))
	theo := pricing.Price(pricing.Inputs{
		Call:       opt.OptionType() == asset.Call,
		Strike:     opt.Strike(),
		Underlying: under,
		Days:       days,
		Sigma:      s.vol,
	})
	theo = math.Max(theo, 0.05)
	spread := math.Max(0.05, theo*0.04)

	q := quote.New(opt, now, theo-spread/2, theo+spread/2, theo)
	q.Volume = int64(s.rng.IntN(10_000))
	q = q.WithSizes(1+s.rng.IntN(200), 1+s.rng.IntN(200))
	return q.WithUnderlying(under)
}

// GetQuotes implements Source.
func (s *SimSource) GetQuotes(ctx context.Context, symbols []string) (map[string]*quote.Quote, error) {
	out := make(map[string]*quote.Quote, len(symbols))
	for _, symbol := range symbols {
		q, err := s.GetQuote(ctx, symbol)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			continue
		}
		out[q.Symbol] = q
	}
	return out, nil
}

// chainStrikeInterval spaces simulated strikes.
const chainStrikeInterval = 5.0

// GetOptionChain implements Source: strikes within +/-10 intervals of spot.
func (s *SimSource) GetOptionChain(ctx context.Context, underlying string, expiration time.Time) ([]*quote.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.clock()
	under := s.underlyingPrice(underlying)

	start := math.Floor(under/chainStrikeInterval)*chainStrikeInterval - 10*chainStrikeInterval
	var chain []*quote.Quote
	for strike := start; strike <= start+20*chainStrikeInterval; strike += chainStrikeInterval {
		if strike <= 0 {
			continue
		}
		for _, ot := range []asset.OptionType{asset.Put, asset.Call} {
			opt, err := asset.NewOption(underlying, ot, strike, expiration)
			if err != nil {
				return nil, fmt.Errorf("sim source: %w", err)
			}
			chain = append(chain, s.optionQuote(opt, under, now))
		}
	}
	return chain, nil
}

// GetExpirations implements Source: the next six monthly expirations
// (third Friday).
func (s *SimSource) GetExpirations(ctx context.Context, _ string) ([]time.Time, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	now := s.clock()
	s.mu.Unlock()

	var out []time.Time
	month := time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
	for len(out) < 6 {
		exp := thirdFriday(month)
		if exp.After(now) {
			out = append(out, exp)
		}
		month = month.AddDate(0, 1, 0)
	}
	return out, nil
}

func thirdFriday(firstOfMonth time.Time) time.Time {
	d := firstOfMonth
	fridays := 0
	for {
		if d.Weekday() == time.Friday {
			fridays++
			if fridays == 3 {
				return d
			}
		}
		d = d.AddDate(0, 0, 1)
	}
}

// IsPriceableOn implements Source: the simulator prices everything on
// weekdays.
func (s *SimSource) IsPriceableOn(ctx context.Context, symbol string, date time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if _, err := asset.ParseAsset(symbol); err != nil {
		return false, nil
	}
	wd := date.Weekday()
	return wd != time.Saturday && wd != time.Sunday, nil
}
