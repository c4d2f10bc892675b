// Package broker is the façade over the paper-trading core. It owns the
// per-account locks, wires quotes, engine, recognizer, margin, and
// storage together, and is the only component that persists.
package broker

import (
	"context"
	"errors"
	"log"
	"os"
	"sync"
	"time"

	"github.com/papertrade-io/paperbroker/internal/asset"
	"github.com/papertrade-io/paperbroker/internal/engine"
	"github.com/papertrade-io/paperbroker/internal/estimator"
	"github.com/papertrade-io/paperbroker/internal/margin"
	"github.com/papertrade-io/paperbroker/internal/metrics"
	"github.com/papertrade-io/paperbroker/internal/models"
	"github.com/papertrade-io/paperbroker/internal/quotes"
	"github.com/papertrade-io/paperbroker/internal/storage"
	"github.com/papertrade-io/paperbroker/internal/strategies"
)

// Config tunes the façade.
type Config struct {
	// DefaultEstimator prices orders that do not bring their own.
	DefaultEstimator estimator.Estimator
	// Engine carries commission and policy-limit settings.
	Engine engine.Config
	// SweepExpirationsOnSubmit settles due options before executing an
	// order against the account.
	SweepExpirationsOnSubmit bool
	// Clock overrides time.Now for deterministic tests.
	Clock func() time.Time
}

// Broker is safe for concurrent use: every mutating operation on an
// account runs behind that account's lock, and within one account the
// commit order equals the lock acquisition order.
type Broker struct {
	logger *log.Logger
	store  storage.Interface
	src    quotes.Source
	engine *engine.Engine
	cfg    Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// New wires a broker from its collaborators.
func New(logger *log.Logger, store storage.Interface, src quotes.Source, cfg Config) *Broker {
	if logger == nil {
		logger = log.New(os.Stderr, "broker: ", log.LstdFlags)
	}
	if cfg.DefaultEstimator == nil {
		cfg.DefaultEstimator = estimator.Midpoint{}
	}
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	if cfg.Engine.Clock == nil {
		cfg.Engine.Clock = cfg.Clock
	}
	return &Broker{
		logger: logger,
		store:  store,
		src:    src,
		engine: engine.New(logger, src, cfg.Engine),
		cfg:    cfg,
		locks:  make(map[string]*sync.Mutex),
	}
}

// lock returns the mutex serializing mutations for one account.
func (b *Broker) lock(accountID string) *sync.Mutex {
	b.mu.Lock()
	defer b.mu.Unlock()
	l, ok := b.locks[accountID]
	if !ok {
		l = &sync.Mutex{}
		b.locks[accountID] = l
	}
	return l
}

// CreateAccount creates and persists a new account.
func (b *Broker) CreateAccount(ctx context.Context, owner string, startingBalance float64) (*models.Account, error) {
	if startingBalance < 0 {
		return nil, models.NewError(models.ErrValidationFailed, "starting balance must be non-negative")
	}
	acct := models.NewAccount(owner, startingBalance)
	if err := b.store.Save(ctx, acct); err != nil {
		return nil, models.WrapError(models.ErrPersistence, err, "creating account")
	}
	metrics.AccountsCreated.Inc()
	b.logger.Printf("created %s", acct)
	return acct, nil
}

// GetAccount loads a committed account snapshot.
func (b *Broker) GetAccount(ctx context.Context, accountID string) (*models.Account, error) {
	return b.loadAccount(ctx, accountID)
}

// SubmitOrder executes the order against the account and persists the
// result. The returned result's Account is the committed state.
func (b *Broker) SubmitOrder(ctx context.Context, accountID string, order *models.MultiLegOrder, est estimator.Estimator) (*engine.Result, error) {
	l := b.lock(accountID)
	l.Lock()
	defer l.Unlock()

	res, err := b.execute(ctx, accountID, order, est)
	if res != nil {
		metrics.OrdersTotal.WithLabelValues(string(res.Status)).Inc()
		metrics.OrderLegs.Observe(float64(len(order.Legs)))
	}
	return res, err
}

// SimulateOrder runs the full pricing and validation path but never
// persists; the caller sees the result an identical SubmitOrder would
// produce, margin acceptance included.
func (b *Broker) SimulateOrder(ctx context.Context, accountID string, order *models.MultiLegOrder, est estimator.Estimator) (*engine.Result, error) {
	acct, err := b.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	res, err := b.runEngine(ctx, acct, order, est)
	if err != nil || res.Status != engine.Filled {
		return res, err
	}
	if err := b.refreshMargin(ctx, res.Account); err != nil {
		res.Status = engine.Failed
		res.Reason = err.Error()
		return res, err
	}
	return res, nil
}

// execute runs the order end to end under the account lock.
func (b *Broker) execute(ctx context.Context, accountID string, order *models.MultiLegOrder, est estimator.Estimator) (*engine.Result, error) {
	acct, err := b.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}

	// Options past expiration must settle before the order sees the
	// account, otherwise a close could target a contract that no longer
	// exists.
	if b.cfg.SweepExpirationsOnSubmit {
		swept, err := b.engine.ProcessExpirations(ctx, acct, b.cfg.Clock())
		if err != nil {
			return nil, err
		}
		if len(swept.Events) > 0 {
			acct = swept.Account
		}
	}

	res, err := b.runEngine(ctx, acct, order, est)
	if err != nil || res.Status != engine.Filled {
		return res, err
	}

	if err := b.refreshMargin(ctx, res.Account); err != nil {
		res.Status = engine.Failed
		res.Reason = err.Error()
		res.Account = nil
		return res, err
	}

	if err := b.commit(ctx, res.Account); err != nil {
		res.Status = engine.Failed
		res.Reason = err.Error()
		res.Account = nil
		return res, err
	}
	return res, nil
}

func (b *Broker) runEngine(ctx context.Context, acct *models.Account, order *models.MultiLegOrder, est estimator.Estimator) (*engine.Result, error) {
	if est == nil {
		est = b.cfg.DefaultEstimator
	}
	return b.engine.Execute(ctx, acct, order, est)
}

// refreshMargin recomputes maintenance margin on the working copy and
// enforces that cash covers it.
func (b *Broker) refreshMargin(ctx context.Context, acct *models.Account) error {
	marks := b.marks(ctx, acct)
	strats := strategies.Recognize(acct.Positions, marks)
	acct.MaintenanceMargin = margin.Requirement(strats, marks)
	if acct.CashBalance < acct.MaintenanceMargin {
		return models.NewError(models.ErrInsufficientCash,
			"cash $%.2f below maintenance margin $%.2f", acct.CashBalance, acct.MaintenanceMargin)
	}
	return nil
}

// commit persists the mutated copy. A persistence failure discards the
// in-memory state; the caller must reload before acting again.
func (b *Broker) commit(ctx context.Context, acct *models.Account) error {
	if err := b.store.Save(ctx, acct); err != nil {
		return models.WrapError(models.ErrPersistence, err, "saving account "+acct.ID)
	}
	if err := ctx.Err(); err != nil {
		// The mutation is committed; the caller only learns it was
		// cancelled, never that it rolled back.
		return models.WrapError(models.ErrCancelled, err, "cancelled after commit")
	}
	return nil
}

// ProcessExpirations settles every due option on the account for the
// given date and persists the result.
func (b *Broker) ProcessExpirations(ctx context.Context, accountID string, date time.Time) (*engine.ExpirationResult, error) {
	l := b.lock(accountID)
	l.Lock()
	defer l.Unlock()

	acct, err := b.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	res, err := b.engine.ProcessExpirations(ctx, acct, date)
	if err != nil {
		return res, err
	}
	for _, ev := range res.Events {
		metrics.ExpirationEvents.WithLabelValues(string(ev.Action)).Inc()
	}
	for range res.Errors {
		metrics.ExpirationErrors.Inc()
	}
	if len(res.Events) == 0 {
		return res, nil
	}

	marks := b.marks(ctx, res.Account)
	strats := strategies.Recognize(res.Account.Positions, marks)
	res.Account.MaintenanceMargin = margin.Requirement(strats, marks)

	if err := b.commit(ctx, res.Account); err != nil {
		return res, err
	}
	return res, nil
}

// SweepExpirations runs expiration processing over every stored account.
// Per-account failures are logged and do not stop the sweep.
func (b *Broker) SweepExpirations(ctx context.Context, date time.Time) {
	ids, err := b.store.ListIDs(ctx)
	if err != nil {
		b.logger.Printf("expiration sweep: listing accounts: %v", err)
		return
	}
	for _, id := range ids {
		res, err := b.ProcessExpirations(ctx, id, date)
		if err != nil {
			b.logger.Printf("expiration sweep: account %s: %v", id, err)
			continue
		}
		if len(res.Events) > 0 {
			b.logger.Printf("expiration sweep: account %s settled %d options", id, len(res.Events))
		}
	}
}

// Positions returns the account's committed positions with current
// prices and Greeks filled in where quotes are available.
func (b *Broker) Positions(ctx context.Context, accountID string) ([]*models.Position, error) {
	acct, err := b.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	b.decorate(ctx, acct)
	return acct.Positions, nil
}

// PortfolioValue is cash plus the marked value of every position.
func (b *Broker) PortfolioValue(ctx context.Context, accountID string) (float64, error) {
	acct, err := b.loadAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	b.decorate(ctx, acct)
	total := acct.CashBalance
	for _, p := range acct.Positions {
		total += p.MarketValue()
	}
	return total, nil
}

// Strategies recognizes the account's positions.
func (b *Broker) Strategies(ctx context.Context, accountID string) ([]strategies.Strategy, error) {
	acct, err := b.loadAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	return strategies.Recognize(acct.Positions, b.marks(ctx, acct)), nil
}

// MarginRequirement recomputes maintenance margin from the committed
// snapshot and current marks.
func (b *Broker) MarginRequirement(ctx context.Context, accountID string) (float64, error) {
	acct, err := b.loadAccount(ctx, accountID)
	if err != nil {
		return 0, err
	}
	marks := b.marks(ctx, acct)
	return margin.Requirement(strategies.Recognize(acct.Positions, marks), marks), nil
}

func (b *Broker) loadAccount(ctx context.Context, accountID string) (*models.Account, error) {
	acct, err := b.store.Load(ctx, accountID)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrNotFound):
			return nil, models.WrapError(models.ErrValidationFailed, err, "unknown account "+accountID)
		case ctx.Err() != nil:
			return nil, models.WrapError(models.ErrCancelled, err, "loading account "+accountID)
		default:
			return nil, models.WrapError(models.ErrPersistence, err, "loading account "+accountID)
		}
	}
	return acct, nil
}

// marks fetches current prices for every position symbol plus the
// underlyings of option positions. Best effort: a quote failure leaves
// the symbol out and downstream math falls back to entry prices.
func (b *Broker) marks(ctx context.Context, acct *models.Account) map[string]float64 {
	symbols := make([]string, 0, len(acct.Positions))
	seen := make(map[string]bool)
	add := func(sym string) {
		if !seen[sym] {
			seen[sym] = true
			symbols = append(symbols, sym)
		}
	}
	for _, p := range acct.Positions {
		add(p.Symbol)
	}
	for _, sym := range acct.OptionSymbols() {
		if opt, err := asset.ParseOption(sym); err == nil {
			add(opt.Underlying())
		}
	}

	marks := make(map[string]float64, len(symbols))
	if len(symbols) == 0 {
		return marks
	}
	fetched, err := quotes.Batch(ctx, b.src, symbols)
	if err != nil {
		b.logger.Printf("marks: quote fetch failed: %v", err)
		return marks
	}
	for sym, q := range fetched {
		if price, ok := q.Price(); ok {
			marks[sym] = price
		}
	}
	return marks
}

// decorate stamps current prices and Greeks onto a snapshot's positions
// for display paths.
func (b *Broker) decorate(ctx context.Context, acct *models.Account) {
	symbols := make([]string, 0, len(acct.Positions))
	for _, p := range acct.Positions {
		symbols = append(symbols, p.Symbol)
	}
	if len(symbols) == 0 {
		return
	}
	fetched, err := quotes.Batch(ctx, b.src, symbols)
	if err != nil {
		return
	}
	for _, p := range acct.Positions {
		q, ok := fetched[p.Symbol]
		if !ok {
			continue
		}
		if price, ok := q.Price(); ok {
			p.CurrentPrice = price
		}
		if q.Greeks != nil {
			p.Greeks = &models.GreeksSnapshot{
				Delta: q.Greeks.Delta,
				Gamma: q.Greeks.Gamma,
				Theta: q.Greeks.Theta,
				Vega:  q.Greeks.Vega,
				Rho:   q.Greeks.Rho,
				IV:    q.Greeks.IV,
			}
		}
	}
}
