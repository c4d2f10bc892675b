package estimator

import (
	"fmt"
	"math"
	randv2 "math/rand/v2"
	"sync"

	"gonum.org/v1/gonum/stat/distuv"

	"github.com/papertrade-io/paperbroker/internal/quote"
)

// RandomWalk perturbs the midpoint by a normal draw scaled to per-bar
// volatility (annual sigma over sqrt(252 x 6.5) trading hours), clamped to
// +/-20% of the base price. The RNG state is not reproducible under
// concurrent use; tests that need determinism construct their own
// instance per test.
type RandomWalk struct {
	mu   sync.Mutex
	dist distuv.Normal
}

// NewRandomWalk creates a seeded random-walk estimator with annualised
// volatility sigma.
func NewRandomWalk(sigma float64, seed uint64) *RandomWalk {
	return &RandomWalk{
		dist: distuv.Normal{
			Mu:    0,
			Sigma: sigma / math.Sqrt(252*6.5),
			Src:   randv2.NewPCG(seed, seed),
		},
	}
}

// Name implements Estimator.
func (*RandomWalk) Name() string { return "random_walk" }

// Estimate implements Estimator.
func (r *RandomWalk) Estimate(q *quote.Quote, _ int) (float64, error) {
	base, ok := q.Price()
	if !ok {
		return 0, fmt.Errorf("random_walk %s: %w", q.Symbol, ErrUnpriceable)
	}

	r.mu.Lock()
	shock := r.dist.Rand()
	r.mu.Unlock()

	price := base * (1 + shock)

	// Clamp to +/-20% of the base price.
	lo, hi := base*0.8, base*1.2
	if price < lo {
		price = lo
	}
	if price > hi {
		price = hi
	}
	return finish(q, price), nil
}
