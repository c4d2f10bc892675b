// Package validate guards every account mutation with two layers of
// checks: structural validation of the order itself and contextual
// validation against the account's cash and positions. Nothing here
// mutates state.
package validate

import (
	"math"
	"time"

	"github.com/papertrade-io/paperbroker/internal/asset"
	"github.com/papertrade-io/paperbroker/internal/models"
)

// Limits is the optional policy layer. Each threshold is enforced only
// when positive; zero disables the check.
type Limits struct {
	// MaxPositionNotional caps the absolute market value of any single
	// post-trade position.
	MaxPositionNotional float64 `yaml:"max_position_notional"`
	// MaxGrossExposure caps the sum of absolute position market values.
	MaxGrossExposure float64 `yaml:"max_gross_exposure"`
	// MaxDailyLoss caps the realized loss booked on the processing date.
	MaxDailyLoss float64 `yaml:"max_daily_loss"`
	// MaxPortfolioDelta caps the absolute share-equivalent delta.
	MaxPortfolioDelta float64 `yaml:"max_portfolio_delta"`
}

// Structural performs the static checks on an order: non-empty leg list,
// unique assets, non-zero quantities, direction/price signs consistent
// with the order-type tag, and option legs referencing valid, unexpired
// contracts with positive strikes.
func Structural(order *models.MultiLegOrder, asOf time.Time) error {
	if order == nil || len(order.Legs) == 0 {
		return models.NewError(models.ErrValidationFailed, "order has no legs")
	}
	if !order.Condition.Valid() {
		return models.NewError(models.ErrValidationFailed, "unknown order condition %q", order.Condition)
	}
	if order.Condition == models.Stop && order.NetLimit == nil {
		hasStop := false
		for _, leg := range order.Legs {
			if leg.StopPrice != nil {
				hasStop = true
			}
		}
		if !hasStop {
			return models.NewError(models.ErrValidationFailed, "stop order carries no stop price")
		}
	}

	seen := make(map[string]bool, len(order.Legs))
	for i, leg := range order.Legs {
		if !leg.Type.Valid() {
			return models.NewLegError(models.ErrValidationFailed, i, "unknown order type %q", leg.Type)
		}
		if leg.Quantity == 0 {
			return models.NewLegError(models.ErrValidationFailed, i, "quantity must be non-zero")
		}

		a, err := asset.ParseAsset(leg.Symbol)
		if err != nil {
			return models.NewLegError(models.ErrInvalidSymbol, i, "%v", err)
		}
		if seen[a.Symbol()] {
			return models.NewLegError(models.ErrValidationFailed, i, "duplicate asset %s in order", a.Symbol())
		}
		seen[a.Symbol()] = true

		// Direction/sign consistency: buy-side legs are positive in both
		// quantity and price, sell-side negative quantity with negative
		// limit. Mismatches are errors, never silently corrected.
		if leg.Type.IsBuySide() {
			if leg.Quantity < 0 {
				return models.NewLegError(models.ErrValidationFailed, i, "%s leg quantity must be positive", leg.Type)
			}
			if leg.LimitPrice != nil && *leg.LimitPrice <= 0 {
				return models.NewLegError(models.ErrValidationFailed, i, "%s leg limit price must be positive", leg.Type)
			}
		} else {
			if leg.Quantity > 0 {
				return models.NewLegError(models.ErrValidationFailed, i, "%s leg quantity must be negative", leg.Type)
			}
			if leg.LimitPrice != nil && *leg.LimitPrice >= 0 {
				return models.NewLegError(models.ErrValidationFailed, i, "%s leg limit price must be negative", leg.Type)
			}
		}

		if opt, ok := a.(asset.Option); ok {
			if opt.Strike() <= 0 {
				return models.NewLegError(models.ErrValidationFailed, i, "option strike must be positive")
			}
			if opt.Expired(asOf) {
				return models.NewLegError(models.ErrValidationFailed, i, "option %s expired %s",
					opt.Symbol(), opt.Expiration().Format("2006-01-02"))
			}
		}
	}
	return nil
}

// CheckClose verifies that a closing leg finds an existing position of
// opposite sign with sufficient absolute quantity.
func CheckClose(acct *models.Account, leg models.Leg, legIndex int) error {
	pos := acct.Position(leg.Symbol)
	if pos == nil {
		return models.NewLegError(models.ErrInsufficientPosition, legIndex, "no position in %s to close", leg.Symbol)
	}
	// BTC retires shorts, STC retires longs.
	if leg.Type == models.BuyToClose && pos.Quantity >= 0 {
		return models.NewLegError(models.ErrInsufficientPosition, legIndex, "no short position in %s to buy to close", leg.Symbol)
	}
	if leg.Type == models.SellToClose && pos.Quantity <= 0 {
		return models.NewLegError(models.ErrInsufficientPosition, legIndex, "no long position in %s to sell to close", leg.Symbol)
	}
	need := leg.Quantity
	if need < 0 {
		need = -need
	}
	have := pos.Quantity
	if have < 0 {
		have = -have
	}
	if need > have {
		return models.NewLegError(models.ErrInsufficientPosition, legIndex,
			"close quantity %d exceeds position size %d in %s", need, have, leg.Symbol)
	}
	return nil
}

// CheckCash enforces that post-trade cash stays non-negative. Margin is
// checked separately; a failure here is always fatal.
func CheckCash(cash, cashDelta float64) error {
	if cash+cashDelta < 0 {
		return models.NewError(models.ErrInsufficientCash,
			"order requires $%.2f but only $%.2f available", -cashDelta, cash)
	}
	return nil
}

// CheckLimits enforces the optional policy limits against the post-trade
// account projection.
func CheckLimits(acct *models.Account, limits Limits, asOf time.Time) error {
	if limits.MaxPositionNotional > 0 {
		for _, p := range acct.Positions {
			if notional := math.Abs(p.MarketValue()); notional > limits.MaxPositionNotional {
				return models.NewError(models.ErrValidationFailed,
					"position %s notional $%.2f exceeds limit $%.2f", p.Symbol, notional, limits.MaxPositionNotional)
			}
		}
	}
	if limits.MaxGrossExposure > 0 {
		gross := 0.0
		for _, p := range acct.Positions {
			gross += math.Abs(p.MarketValue())
		}
		if gross > limits.MaxGrossExposure {
			return models.NewError(models.ErrValidationFailed,
				"gross exposure $%.2f exceeds limit $%.2f", gross, limits.MaxGrossExposure)
		}
	}
	if limits.MaxDailyLoss > 0 {
		if loss := -acct.DayPnL(asOf); loss > limits.MaxDailyLoss {
			return models.NewError(models.ErrValidationFailed,
				"daily realized loss $%.2f exceeds limit $%.2f", loss, limits.MaxDailyLoss)
		}
	}
	if limits.MaxPortfolioDelta > 0 {
		delta := 0.0
		for _, p := range acct.Positions {
			a, err := p.Asset()
			if err != nil {
				continue
			}
			if a.AssetType() == asset.TypeStock {
				delta += float64(p.Quantity)
			} else if p.Greeks != nil {
				delta += p.Greeks.Delta * float64(p.Quantity) * float64(p.Multiplier())
			}
		}
		if math.Abs(delta) > limits.MaxPortfolioDelta {
			return models.NewError(models.ErrValidationFailed,
				"portfolio delta %.1f exceeds limit %.1f", delta, limits.MaxPortfolioDelta)
		}
	}
	return nil
}
