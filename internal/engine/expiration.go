package engine

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/papertrade-io/paperbroker/internal/asset"
	"github.com/papertrade-io/paperbroker/internal/models"
)

// ExpirationAction classifies how one option position settled.
type ExpirationAction string

const (
	// ExpiredWorthless means intrinsic value was zero at expiration.
	ExpiredWorthless ExpirationAction = "EXPIRED_WORTHLESS"
	// Exercised means a long in-the-money option converted to shares.
	Exercised ExpirationAction = "EXERCISED"
	// Assigned means a short in-the-money option was assigned shares.
	Assigned ExpirationAction = "ASSIGNED"
)

// ExpirationEvent describes the settlement of one option position.
type ExpirationEvent struct {
	Symbol      string           `json:"symbol"`
	Underlying  string           `json:"underlying"`
	Action      ExpirationAction `json:"action"`
	Quantity    int              `json:"quantity"`
	Strike      float64          `json:"strike"`
	Intrinsic   float64          `json:"intrinsic"`
	ShareDelta  int              `json:"share_delta"`
	CashImpact  float64          `json:"cash_impact"`
	RealizedPnL float64          `json:"realized_pnl"`
}

// ExpirationResult is the outcome of one expiration sweep. Account is
// the mutated working copy; per-option failures are collected in Errors
// and leave their positions untouched.
type ExpirationResult struct {
	Date      time.Time         `json:"date"`
	Events    []ExpirationEvent `json:"events"`
	Errors    []error           `json:"-"`
	CashDelta float64           `json:"cash_delta"`
	Account   *models.Account   `json:"-"`
}

// ProcessExpirations settles every option position in the account whose
// expiration date is on or before date. Settlement operates on a deep
// copy; a failure settling one option rolls that option back and moves
// on, so the returned copy reflects every settlement that succeeded.
func (e *Engine) ProcessExpirations(ctx context.Context, acct *models.Account, date time.Time) (*ExpirationResult, error) {
	day := date.UTC()
	res := &ExpirationResult{Date: day}
	work := acct.Clone()

	// Deterministic sweep order: symbol sorts strikes and expirations
	// consistently within an underlying.
	expired := make([]asset.Option, 0)
	for _, sym := range work.OptionSymbols() {
		opt, err := asset.ParseOption(sym)
		if err != nil {
			res.Errors = append(res.Errors, models.WrapError(models.ErrInternal, err, "position symbol "+sym))
			continue
		}
		if !opt.Expiration().After(day) {
			expired = append(expired, opt)
		}
	}
	sort.Slice(expired, func(i, j int) bool { return expired[i].Symbol() < expired[j].Symbol() })

	for _, opt := range expired {
		if err := ctx.Err(); err != nil {
			res.Account = work
			return res, models.WrapError(models.ErrCancelled, err, "expiration sweep cancelled")
		}

		q, err := e.src.GetQuote(ctx, opt.Underlying())
		if err != nil {
			res.Errors = append(res.Errors, models.WrapError(models.ErrQuoteUnavailable, err, "underlying "+opt.Underlying()))
			continue
		}
		under, ok := q.Price()
		if !ok {
			res.Errors = append(res.Errors, models.NewError(models.ErrQuoteUnavailable, "no usable price for %s", opt.Underlying()))
			continue
		}

		// Settle on a scratch copy so one bad settlement cannot leave
		// the sweep half-applied.
		scratch := work.Clone()
		event, err := settleOption(scratch, opt, under, day)
		if err != nil {
			res.Errors = append(res.Errors, err)
			continue
		}
		work = scratch
		res.Events = append(res.Events, event)
		res.CashDelta += event.CashImpact
		e.logger.Printf("expiration %s: %s qty %d cash %.2f", event.Symbol, event.Action, event.Quantity, event.CashImpact)
	}

	work.DropClosed()
	work.UpdatedAt = e.cfg.Clock()
	if err := work.CheckInvariants(); err != nil {
		return res, err
	}
	res.Account = work
	return res, nil
}

// settleOption removes one expired option position from the account,
// booking the realized premium and converting in-the-money contracts to
// share movements at the strike.
func settleOption(work *models.Account, opt asset.Option, under float64, day time.Time) (ExpirationEvent, error) {
	pos := work.Position(opt.Symbol())
	if pos == nil {
		return ExpirationEvent{}, models.NewError(models.ErrInternal, "expired option %s has no position", opt.Symbol())
	}

	contracts := int(math.Abs(float64(pos.Quantity)))
	short := pos.IsShort()
	intrinsic := opt.IntrinsicValue(under)

	event := ExpirationEvent{
		Symbol:     opt.Symbol(),
		Underlying: opt.Underlying(),
		Quantity:   pos.Quantity,
		Strike:     opt.Strike(),
		Intrinsic:  intrinsic,
	}

	// The premium paid or received at open is realized now, whatever
	// the settlement path. Share-side P&L books separately below.
	premiumPnL := pos.AvgPrice * float64(contracts) * float64(asset.SharesPerContract)
	if !short {
		premiumPnL = -premiumPnL
	}
	work.BookRealized(premiumPnL, day)
	event.RealizedPnL = premiumPnL
	pos.Quantity = 0

	if intrinsic <= 0 {
		event.Action = ExpiredWorthless
		work.DropClosed()
		return event, nil
	}

	// In the money: shares move at the strike. Long calls and short puts
	// receive stock; long puts and short calls deliver it.
	shares := contracts * asset.SharesPerContract
	receiving := (opt.OptionType() == asset.Call) != short
	if !receiving {
		shares = -shares
	}

	event.Action = Exercised
	if short {
		event.Action = Assigned
	}
	event.ShareDelta = shares
	event.CashImpact = -float64(shares) * opt.Strike()

	pnl, err := applyShares(work, opt.Underlying(), shares, opt.Strike(), day)
	if err != nil {
		return event, err
	}
	event.RealizedPnL += pnl
	work.BookRealized(pnl, day)
	work.CashBalance += event.CashImpact
	if work.CashBalance < 0 {
		return event, models.NewError(models.ErrInsufficientCash,
			"settling %s requires $%.2f more cash than available", opt.Symbol(), -work.CashBalance)
	}
	work.DropClosed()
	return event, nil
}

// applyShares moves delta shares of the underlying at the given price,
// closing any offsetting stock position first and opening or merging the
// remainder. Returns the realized P&L from the closing portion; cash is
// the caller's concern.
func applyShares(work *models.Account, underlying string, delta int, price float64, now time.Time) (float64, error) {
	var realized float64
	remaining := delta

	pos := work.Position(underlying)
	if pos != nil && signOf(pos.Quantity) != signOf(remaining) {
		want := int(math.Abs(float64(remaining)))
		closed, pnl := pos.Close(want, price)
		realized += pnl
		remaining -= closed * signOf(remaining)
	}
	if remaining == 0 {
		return realized, nil
	}

	pos = work.Position(underlying)
	if pos != nil && pos.Quantity != 0 {
		if err := pos.Merge(remaining, price); err != nil {
			return realized, models.WrapError(models.ErrInternal, err, "merge "+underlying)
		}
		return realized, nil
	}
	work.DropClosed()
	if err := work.AddPosition(models.NewPosition(underlying, remaining, price, now)); err != nil {
		return realized, err
	}
	return realized, nil
}
