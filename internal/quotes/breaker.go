package quotes

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/sony/gobreaker"

	"github.com/papertrade-io/paperbroker/internal/quote"
)

// BreakerSettings configures circuit breaker behavior for a quote source.
type BreakerSettings struct {
	MaxRequests  uint32        // Max requests when half-open
	Interval     time.Duration // Reset counts interval
	Timeout      time.Duration // Open circuit duration
	MinRequests  uint32        // Min requests before tripping
	FailureRatio float64       // Failure ratio threshold
}

// CircuitBreakerSource wraps a Source with circuit breaker functionality
// so a flapping provider fails fast instead of stalling every execution.
type CircuitBreakerSource struct {
	src     Source
	breaker *gobreaker.CircuitBreaker
}

// Ensure CircuitBreakerSource implements Source at compile time.
var _ Source = (*CircuitBreakerSource)(nil)

// NewCircuitBreakerSource wraps src with sensible defaults.
func NewCircuitBreakerSource(src Source) *CircuitBreakerSource {
	return NewCircuitBreakerSourceWithSettings(src, BreakerSettings{
		MaxRequests:  3,                // Allow 3 requests when half-open
		Interval:     60 * time.Second, // Reset counts every minute
		Timeout:      30 * time.Second, // Open circuit for 30 seconds
		MinRequests:  5,                // Minimum requests before tripping
		FailureRatio: 0.6,              // Trip if 60% failure rate
	})
}

// NewCircuitBreakerSourceWithSettings wraps src with custom settings.
func NewCircuitBreakerSourceWithSettings(src Source, settings BreakerSettings) *CircuitBreakerSource {
	gbSettings := gobreaker.Settings{
		Name:        "QuoteSourceCircuitBreaker",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			if counts.Requests == 0 || counts.Requests < settings.MinRequests {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= settings.FailureRatio
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			log.Printf("Circuit breaker %s state changed from %s to %s", name, from, to)
		},
		IsSuccessful: func(err error) bool {
			// A symbol with no quote is an answer, not a provider fault.
			return err == nil || errors.Is(err, ErrNoQuote)
		},
	}

	return &CircuitBreakerSource{
		src:     src,
		breaker: gobreaker.NewCircuitBreaker(gbSettings),
	}
}

// exec is a generic helper for circuit breaker wrapper methods.
func execBreaker[T any](breaker *gobreaker.CircuitBreaker, fn func() (T, error)) (T, error) {
	var zero T
	res, err := breaker.Execute(func() (interface{}, error) { return fn() })
	if err != nil {
		return zero, err
	}
	if res == nil {
		return zero, nil
	}
	v, ok := res.(T)
	if !ok {
		return zero, errors.New("circuit breaker: type assertion failed")
	}
	return v, nil
}

// GetQuote wraps the underlying source call with the circuit breaker.
func (c *CircuitBreakerSource) GetQuote(ctx context.Context, symbol string) (*quote.Quote, error) {
	return execBreaker(c.breaker, func() (*quote.Quote, error) { return c.src.GetQuote(ctx, symbol) })
}

// GetQuotes wraps the underlying source call with the circuit breaker.
func (c *CircuitBreakerSource) GetQuotes(ctx context.Context, symbols []string) (map[string]*quote.Quote, error) {
	return execBreaker(c.breaker, func() (map[string]*quote.Quote, error) { return c.src.GetQuotes(ctx, symbols) })
}

// GetOptionChain wraps the underlying source call with the circuit breaker.
func (c *CircuitBreakerSource) GetOptionChain(ctx context.Context, underlying string, expiration time.Time) ([]*quote.Quote, error) {
	return execBreaker(c.breaker, func() ([]*quote.Quote, error) {
		return c.src.GetOptionChain(ctx, underlying, expiration)
	})
}

// GetExpirations wraps the underlying source call with the circuit breaker.
func (c *CircuitBreakerSource) GetExpirations(ctx context.Context, underlying string) ([]time.Time, error) {
	return execBreaker(c.breaker, func() ([]time.Time, error) { return c.src.GetExpirations(ctx, underlying) })
}

// IsPriceableOn wraps the underlying source call with the circuit breaker.
func (c *CircuitBreakerSource) IsPriceableOn(ctx context.Context, symbol string, date time.Time) (bool, error) {
	return execBreaker(c.breaker, func() (bool, error) { return c.src.IsPriceableOn(ctx, symbol, date) })
}
