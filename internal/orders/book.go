// Package orders holds resting limit orders and periodically retries
// them against the broker until they fill, fail, or expire.
package orders

import (
	"context"
	"log"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/papertrade-io/paperbroker/internal/engine"
	"github.com/papertrade-io/paperbroker/internal/estimator"
	"github.com/papertrade-io/paperbroker/internal/models"
)

// Config contains configuration for the order book.
type Config struct {
	PollInterval time.Duration
	Timeout      time.Duration
	CallTimeout  time.Duration
}

// DefaultConfig is the default configuration for the order book.
var DefaultConfig = Config{
	PollInterval: 5 * time.Second,
	Timeout:      24 * time.Hour,
	CallTimeout:  5 * time.Second,
}

// Submitter is the slice of the broker façade the book needs.
type Submitter interface {
	SubmitOrder(ctx context.Context, accountID string, order *models.MultiLegOrder, est estimator.Estimator) (*engine.Result, error)
}

// Resting is one order waiting in the book.
type Resting struct {
	AccountID   string                `json:"account_id"`
	Order       *models.MultiLegOrder `json:"order"`
	SubmittedAt time.Time             `json:"submitted_at"`
	Attempts    int                   `json:"attempts"`
	LastReason  string                `json:"last_reason,omitempty"`
}

// Book retries resting orders on a polling loop.
type Book struct {
	broker Submitter
	logger *log.Logger
	config Config

	mu      sync.Mutex
	resting map[string]*Resting
}

// NewBook creates an order book over the broker.
func NewBook(broker Submitter, logger *log.Logger, config ...Config) *Book {
	cfg := DefaultConfig
	if len(config) > 0 {
		cfg = config[0]
	}
	if logger == nil {
		logger = log.New(os.Stderr, "orders: ", log.LstdFlags)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig.PollInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultConfig.Timeout
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = DefaultConfig.CallTimeout
	}
	if broker == nil {
		panic("orders.NewBook: broker must not be nil")
	}
	return &Book{
		broker:  broker,
		logger:  logger,
		config:  cfg,
		resting: make(map[string]*Resting),
	}
}

// Place parks an order in the book and returns its id. The order is not
// attempted until the next poll.
func (b *Book) Place(accountID string, order *models.MultiLegOrder) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.resting[order.ID] = &Resting{
		AccountID:   accountID,
		Order:       order,
		SubmittedAt: time.Now().UTC(),
	}
	b.logger.Printf("order %s resting for account %s (%d legs)", order.ID, accountID, len(order.Legs))
	return order.ID
}

// Cancel removes a resting order. Unknown ids return ValidationFailed.
func (b *Book) Cancel(orderID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.resting[orderID]; !ok {
		return models.NewError(models.ErrValidationFailed, "no resting order %s", orderID)
	}
	delete(b.resting, orderID)
	b.logger.Printf("order %s cancelled", orderID)
	return nil
}

// Pending returns a snapshot of resting orders sorted by submission time.
func (b *Book) Pending() []*Resting {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]*Resting, 0, len(b.resting))
	for _, r := range b.resting {
		cp := *r
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out
}

// Run polls until the context is cancelled.
func (b *Book) Run(ctx context.Context) {
	ticker := time.NewTicker(b.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Printf("order book stopping: %v", ctx.Err())
			return
		case <-ticker.C:
			b.TryFill(ctx)
		}
	}
}

// TryFill attempts every resting order once. Filled and failed orders
// leave the book; not-filled orders stay until their timeout.
func (b *Book) TryFill(ctx context.Context) {
	for _, r := range b.Pending() {
		if time.Since(r.SubmittedAt) > b.config.Timeout {
			b.logger.Printf("order %s expired after %s", r.Order.ID, b.config.Timeout)
			b.remove(r.Order.ID)
			continue
		}

		callCtx, cancel := context.WithTimeout(ctx, b.config.CallTimeout)
		res, err := b.broker.SubmitOrder(callCtx, r.AccountID, r.Order, nil)
		cancel()

		switch {
		case err != nil && models.IsKind(err, models.ErrQuoteUnavailable):
			// Transient; leave the order resting.
			b.note(r.Order.ID, err.Error())
		case err != nil:
			b.logger.Printf("order %s failed: %v", r.Order.ID, err)
			b.remove(r.Order.ID)
		case res.Status == engine.Filled:
			b.logger.Printf("order %s filled, cash delta %.2f", r.Order.ID, res.CashDelta)
			b.remove(r.Order.ID)
		default:
			b.note(r.Order.ID, res.Reason)
		}
	}
}

func (b *Book) remove(orderID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.resting, orderID)
}

func (b *Book) note(orderID, reason string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.resting[orderID]; ok {
		r.Attempts++
		r.LastReason = reason
	}
}
