// Package engine executes multi-leg orders and settles expirations
// against an account working copy. The engine never persists: callers
// commit the returned copy through the account store.
package engine

import (
	"context"
	"errors"
	"log"
	"math"
	"time"

	"github.com/papertrade-io/paperbroker/internal/asset"
	"github.com/papertrade-io/paperbroker/internal/estimator"
	"github.com/papertrade-io/paperbroker/internal/models"
	"github.com/papertrade-io/paperbroker/internal/quote"
	"github.com/papertrade-io/paperbroker/internal/quotes"
	"github.com/papertrade-io/paperbroker/internal/validate"
)

// Status classifies the outcome of an execution attempt.
type Status string

const (
	// Filled means every leg executed and the account copy was mutated.
	Filled Status = "FILLED"
	// NotFilled means the order's condition was not met. The account is
	// untouched and no error is raised.
	NotFilled Status = "NOT_FILLED"
	// Failed means validation, pricing, or cash checks rejected the
	// order. The account is untouched and the error carries the kind.
	Failed Status = "FAILED"
)

// LegFill records the execution of a single leg.
type LegFill struct {
	Symbol      string  `json:"symbol"`
	Quantity    int     `json:"quantity"`
	Price       float64 `json:"price"`
	CashImpact  float64 `json:"cash_impact"`
	RealizedPnL float64 `json:"realized_pnl"`
}

// Result is the outcome of Execute. Account is the mutated working copy
// on Filled and nil otherwise.
type Result struct {
	OrderID    string          `json:"order_id"`
	Status     Status          `json:"status"`
	Reason     string          `json:"reason,omitempty"`
	Fills      []LegFill       `json:"fills,omitempty"`
	CashDelta  float64         `json:"cash_delta"`
	Commission float64         `json:"commission"`
	ExecutedAt time.Time       `json:"executed_at"`
	Account    *models.Account `json:"-"`
}

// Commission configures per-fill fees. Zero values mean free execution.
type Commission struct {
	PerShare    float64 `yaml:"per_share"`
	PerContract float64 `yaml:"per_contract"`
}

// Config carries the engine's tunables.
type Config struct {
	Commission Commission
	Limits     validate.Limits
	// Clock overrides time.Now for deterministic tests.
	Clock func() time.Time
}

// Engine prices, validates, and applies orders. It holds no account
// state; every call operates on the snapshot it is handed.
type Engine struct {
	logger *log.Logger
	src    quotes.Source
	cfg    Config
}

// New creates an execution engine over a quote source.
func New(logger *log.Logger, src quotes.Source, cfg Config) *Engine {
	if cfg.Clock == nil {
		cfg.Clock = func() time.Time { return time.Now().UTC() }
	}
	return &Engine{logger: logger, src: src, cfg: cfg}
}

// Execute runs the order against a deep copy of acct. On Filled the
// result carries the mutated copy; on NotFilled or Failed the caller's
// account is untouched. All failures before the returned result are
// atomic.
func (e *Engine) Execute(ctx context.Context, acct *models.Account, order *models.MultiLegOrder, est estimator.Estimator) (*Result, error) {
	now := e.cfg.Clock()
	res := &Result{OrderID: order.ID, ExecutedAt: now}

	if err := validate.Structural(order, now); err != nil {
		return fail(res, err)
	}

	work := acct.Clone()

	// Strict closing legs must find their positions before any pricing
	// happens; a doomed order should not touch the quote source.
	for i, leg := range order.Legs {
		if leg.Type.IsClose() {
			if err := validate.CheckClose(work, leg, i); err != nil {
				return fail(res, err)
			}
		}
	}

	prices, err := e.priceLegs(ctx, order, est)
	if err != nil {
		return fail(res, err)
	}

	if met, reason := conditionMet(order, prices); !met {
		res.Status = NotFilled
		res.Reason = reason
		e.logger.Printf("order %s not filled: %s", order.ID, reason)
		return res, nil
	}

	// Cash delta and commission over all legs, checked before any
	// position mutation so failure leaves nothing half-applied.
	var cashDelta, commission float64
	for i, leg := range order.Legs {
		mult := legMultiplier(leg.Symbol)
		qty := math.Abs(float64(leg.Quantity))
		cashDelta += -float64(signOf(leg.Quantity)) * prices[i] * qty * float64(mult)
		if mult > 1 {
			commission += e.cfg.Commission.PerContract * qty
		} else {
			commission += e.cfg.Commission.PerShare * qty
		}
	}
	if err := validate.CheckCash(work.CashBalance, cashDelta-commission); err != nil {
		return fail(res, err)
	}

	// Critical section: apply every leg to the working copy. No
	// suspension from here to the end of the function.
	for i, leg := range order.Legs {
		fill, err := applyLeg(work, leg, i, prices[i], now)
		if err != nil {
			return fail(res, err)
		}
		res.Fills = append(res.Fills, fill)
	}

	work.CashBalance += cashDelta - commission
	work.DropClosed()
	work.UpdatedAt = now

	if err := validate.CheckLimits(work, e.cfg.Limits, now); err != nil {
		return fail(res, err)
	}
	if err := work.CheckInvariants(); err != nil {
		return fail(res, err)
	}

	res.Status = Filled
	res.CashDelta = cashDelta - commission
	res.Commission = commission
	res.Account = work
	e.logger.Printf("order %s filled: %d legs, cash delta %.2f", order.ID, len(order.Legs), res.CashDelta)
	return res, nil
}

// priceLegs fetches quotes for every leg and resolves each leg's fill
// price: the leg's own limit or stop price when present, otherwise the
// estimator's output. Prices are absolute.
func (e *Engine) priceLegs(ctx context.Context, order *models.MultiLegOrder, est estimator.Estimator) ([]float64, error) {
	needQuote := false
	for _, leg := range order.Legs {
		if leg.LimitPrice == nil && leg.StopPrice == nil {
			needQuote = true
		}
	}

	var fetched map[string]*quote.Quote
	if needQuote {
		symbols := make([]string, 0, len(order.Legs))
		for _, leg := range order.Legs {
			symbols = append(symbols, leg.Symbol)
		}
		var err error
		fetched, err = quotes.Batch(ctx, e.src, symbols)
		if err != nil {
			if ctx.Err() != nil {
				return nil, models.WrapError(models.ErrCancelled, err, "quote fetch cancelled")
			}
			return nil, models.WrapError(models.ErrQuoteUnavailable, err, "quote fetch failed")
		}
	}

	prices := make([]float64, len(order.Legs))
	for i, leg := range order.Legs {
		switch {
		case order.Condition == models.Stop && leg.StopPrice != nil:
			prices[i] = math.Abs(*leg.StopPrice)
		case leg.LimitPrice != nil:
			prices[i] = math.Abs(*leg.LimitPrice)
		default:
			q, ok := fetched[leg.Symbol]
			if !ok {
				return nil, models.NewLegError(models.ErrQuoteUnavailable, i, "no quote for %s", leg.Symbol)
			}
			price, err := est.Estimate(q, leg.Quantity)
			if err != nil {
				if errors.Is(err, estimator.ErrUnpriceable) {
					return nil, models.NewLegError(models.ErrQuoteUnavailable, i, "%s: %v", est.Name(), err)
				}
				return nil, models.WrapError(models.ErrInternal, err, "estimator "+est.Name())
			}
			prices[i] = price
		}
	}
	return prices, nil
}

// conditionMet decides the fill for the order condition. Market and stop
// orders always fill (stop conversion-on-touch lives in the order book).
// Limit orders compare the per-unit net price against the signed net
// limit: positive limits cap a debit, negative limits floor a credit.
func conditionMet(order *models.MultiLegOrder, prices []float64) (bool, string) {
	if order.Condition != models.Limit || order.NetLimit == nil {
		return true, ""
	}

	baseQty := 0
	for _, leg := range order.Legs {
		q := leg.Quantity
		if q < 0 {
			q = -q
		}
		if baseQty == 0 || q < baseQty {
			baseQty = q
		}
	}

	// Net price in quote terms, per base unit. Multipliers cancel out of
	// the comparison because the limit is quoted the same way.
	net := 0.0
	for i, leg := range order.Legs {
		q := math.Abs(float64(leg.Quantity))
		net += float64(signOf(leg.Quantity)) * prices[i] * q / float64(baseQty)
	}

	if net <= *order.NetLimit {
		return true, ""
	}
	if *order.NetLimit >= 0 {
		return false, newReason("net debit %.2f above limit %.2f", net, *order.NetLimit)
	}
	return false, newReason("net credit %.2f below required %.2f", -net, -*order.NetLimit)
}

// applyLeg mutates the working copy for one leg and returns its fill.
// BTO/STO strictly open, BTC/STC strictly close, BUY/SELL close any
// offsetting position first and open with the remainder.
func applyLeg(work *models.Account, leg models.Leg, legIndex int, price float64, now time.Time) (LegFill, error) {
	fill := LegFill{Symbol: leg.Symbol, Quantity: leg.Quantity, Price: price}
	mult := legMultiplier(leg.Symbol)
	fill.CashImpact = -float64(signOf(leg.Quantity)) * price * math.Abs(float64(leg.Quantity)) * float64(mult)

	pos := work.Position(leg.Symbol)
	remaining := leg.Quantity

	// Closing portion first. Strict opens on an offsetting position are
	// rejected rather than silently netted.
	if pos != nil && signOf(pos.Quantity) != signOf(remaining) {
		if leg.Type.IsOpen() {
			return fill, models.NewLegError(models.ErrValidationFailed, legIndex,
				"%s leg on %s offsets an existing position; use a closing order type", leg.Type, leg.Symbol)
		}
		want := int(math.Abs(float64(remaining)))
		closed, pnl := pos.Close(want, price)
		work.BookRealized(pnl, now)
		fill.RealizedPnL += pnl
		remaining -= closed * signOf(remaining)
		if leg.Type.IsClose() && remaining != 0 {
			return fill, models.NewLegError(models.ErrInternal, legIndex,
				"close leg on %s left %d unmatched units after validation", leg.Symbol, remaining)
		}
	} else if leg.Type.IsClose() {
		return fill, models.NewLegError(models.ErrInsufficientPosition, legIndex, "no position in %s to close", leg.Symbol)
	}

	if remaining == 0 {
		return fill, nil
	}

	// Opening portion: merge into a same-sign position or create one.
	pos = work.Position(leg.Symbol)
	if pos != nil && pos.Quantity != 0 {
		if err := pos.Merge(remaining, price); err != nil {
			return fill, models.WrapError(models.ErrInternal, err, "merge "+leg.Symbol)
		}
		return fill, nil
	}
	work.DropClosed()
	if err := work.AddPosition(models.NewPosition(leg.Symbol, remaining, price, now)); err != nil {
		return fill, err
	}
	return fill, nil
}

func fail(res *Result, err error) (*Result, error) {
	res.Status = Failed
	res.Reason = err.Error()
	res.Fills = nil
	res.Account = nil
	return res, err
}

func newReason(format string, args ...interface{}) string {
	return models.NewError(models.ErrOrderConditionNotMet, format, args...).Message
}

// legMultiplier is 100 for option symbols and 1 otherwise.
func legMultiplier(symbol string) int {
	a, err := asset.ParseAsset(symbol)
	if err != nil {
		return 1
	}
	return a.Multiplier()
}

func signOf(v int) int {
	switch {
	case v > 0:
		return 1
	case v < 0:
		return -1
	default:
		return 0
	}
}
