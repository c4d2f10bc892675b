// Package quotes defines the market-data boundary consumed by the trading
// engine, plus the stock implementations: a static in-memory source, a
// simulated provider, and a circuit-breaker wrapper.
package quotes

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/papertrade-io/paperbroker/internal/quote"
)

// ErrNoQuote is returned when a source has no usable quote for a symbol.
// The engine surfaces it as QuoteUnavailable and never substitutes stale
// data.
var ErrNoQuote = errors.New("no quote available")

// Source is the quote provider consumed by the engine and the façade. All
// methods may suspend and may fail; failures propagate as typed errors and
// are not retried by the core.
type Source interface {
	// GetQuote returns the current quote for one symbol.
	GetQuote(ctx context.Context, symbol string) (*quote.Quote, error)
	// GetQuotes returns quotes for many symbols at once. Symbols without
	// a quote are absent from the map.
	GetQuotes(ctx context.Context, symbols []string) (map[string]*quote.Quote, error)
	// GetOptionChain returns option quotes for an underlying and
	// expiration date.
	GetOptionChain(ctx context.Context, underlying string, expiration time.Time) ([]*quote.Quote, error)
	// GetExpirations lists the available expiration dates for an
	// underlying.
	GetExpirations(ctx context.Context, underlying string) ([]time.Time, error)
	// IsPriceableOn reports whether the symbol can be priced on a date.
	IsPriceableOn(ctx context.Context, symbol string, date time.Time) (bool, error)
}

// batchLimit caps the quote fan-out so a large portfolio read cannot
// swamp the provider.
const batchLimit = 8

// Batch fetches quotes for many symbols concurrently through GetQuote,
// collecting whatever succeeded. A missing quote is not an error here;
// callers decide whether absence is fatal.
func Batch(ctx context.Context, src Source, symbols []string) (map[string]*quote.Quote, error) {
	out := make(map[string]*quote.Quote, len(symbols))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(batchLimit)
	for _, symbol := range symbols {
		g.Go(func() error {
			q, err := src.GetQuote(ctx, symbol)
			if err != nil {
				if errors.Is(err, ErrNoQuote) {
					return nil
				}
				return err
			}
			mu.Lock()
			out[symbol] = q
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
