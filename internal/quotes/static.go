package quotes

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/papertrade-io/paperbroker/internal/asset"
	"github.com/papertrade-io/paperbroker/internal/quote"
)

// StaticSource serves a fixed set of quotes from memory. It backs tests
// and canned demo data.
type StaticSource struct {
	mu     sync.RWMutex
	quotes map[string]*quote.Quote
}

// Ensure StaticSource implements Source at compile time.
var _ Source = (*StaticSource)(nil)

// NewStaticSource creates an empty static source.
func NewStaticSource() *StaticSource {
	return &StaticSource{quotes: make(map[string]*quote.Quote)}
}

// Set installs or replaces the quote for its symbol.
func (s *StaticSource) Set(q *quote.Quote) *StaticSource {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotes[q.Symbol] = q
	return s
}

// SetStock is a convenience for installing a stock quote.
func (s *StaticSource) SetStock(symbol string, bid, ask, last float64) *StaticSource {
	stk, err := asset.NewStock(symbol)
	if err != nil {
		panic(fmt.Sprintf("static source: %v", err))
	}
	return s.Set(quote.New(stk, time.Now().UTC(), bid, ask, last))
}

// SetOption is a convenience for installing an option quote with its
// underlying's last price attached.
func (s *StaticSource) SetOption(symbol string, bid, ask, last, underlyingLast float64) *StaticSource {
	opt, err := asset.ParseOption(symbol)
	if err != nil {
		panic(fmt.Sprintf("static source: %v", err))
	}
	q := quote.New(opt, time.Now().UTC(), bid, ask, last).WithUnderlying(underlyingLast)
	return s.Set(q)
}

// Remove drops the quote for a symbol.
func (s *StaticSource) Remove(symbol string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.quotes, symbol)
}

// GetQuote implements Source.
func (s *StaticSource) GetQuote(ctx context.Context, symbol string) (*quote.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	q, ok := s.quotes[strings.ToUpper(symbol)]
	if !ok {
		return nil, fmt.Errorf("static source %s: %w", symbol, ErrNoQuote)
	}
	return q, nil
}

// GetQuotes implements Source.
func (s *StaticSource) GetQuotes(ctx context.Context, symbols []string) (map[string]*quote.Quote, error) {
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

// GetOptionChain implements Source by filtering the stored option quotes.
func (s *StaticSource) GetOptionChain(ctx context.Context, underlying string, expiration time.Time) ([]*quote.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	underlying = strings.ToUpper(underlying)
	day := expiration.UTC().Truncate(24 * time.Hour)

	s.mu.RLock()
	defer s.mu.RUnlock()
	var chain []*quote.Quote
	for _, q := range s.quotes {
		opt, ok := q.Asset.(asset.Option)
		if !ok || opt.Underlying() != underlying {
			continue
		}
		if !expiration.IsZero() && !opt.Expiration().Equal(day) {
			continue
		}
		chain = append(chain, q)
	}
	sort.Slice(chain, func(i, j int) bool { return chain[i].Symbol < chain[j].Symbol })
	return chain, nil
}

// GetExpirations implements Source.
func (s *StaticSource) GetExpirations(ctx context.Context, underlying string) ([]time.Time, error) {
	chain, err := s.GetOptionChain(ctx, underlying, time.Time{})
	if err != nil {
		return nil, err
	}
	seen := make(map[time.Time]bool)
	var dates []time.Time
	for _, q := range chain {
		exp := q.Asset.(asset.Option).Expiration()
		if !seen[exp] {
			seen[exp] = true
			dates = append(dates, exp)
		}
	}
	sort.Slice(dates, func(i, j int) bool { return dates[i].Before(dates[j]) })
	return dates, nil
}

// IsPriceableOn implements Source: a static symbol is priceable whenever
// it holds a usable quote.
func (s *StaticSource) IsPriceableOn(ctx context.Context, symbol string, _ time.Time) (bool, error) {
	q, err := s.GetQuote(ctx, symbol)
	if err != nil {
		return false, nil
	}
	return q.Priceable(), nil
}
