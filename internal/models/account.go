package models

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/papertrade-io/paperbroker/internal/asset"
)

// Account is the book the execution and expiration engines mutate. It
// exclusively owns its positions: at most one per symbol, ordered by open
// timestamp so FIFO closes are well-defined.
type Account struct {
	ID              string      `json:"id"`
	Owner           string      `json:"owner"`
	StartingBalance float64     `json:"starting_balance"`
	CashBalance     float64     `json:"cash_balance"`
	RealizedPnL     float64     `json:"realized_pnl"`
	// DailyPnL buckets realized P&L by trade date (2006-01-02 keys) so
	// daily-loss policy limits have something to check.
	DailyPnL  map[string]float64 `json:"daily_pnl,omitempty"`
	Positions []*Position        `json:"positions"`
	// MaintenanceMargin is derived from the recognized strategies and
	// cached until the next mutation.
	MaintenanceMargin float64   `json:"maintenance_margin"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// NewAccount creates an account with a starting cash balance. The starting
// balance is immutable after creation; the store enforces that.
func NewAccount(owner string, startingBalance float64) *Account {
	now := time.Now().UTC()
	return &Account{
		ID:              uuid.New().String(),
		Owner:           owner,
		StartingBalance: startingBalance,
		CashBalance:     startingBalance,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
}

// BookRealized records realized P&L on the account total and the day
// bucket for asOf.
func (a *Account) BookRealized(pnl float64, asOf time.Time) {
	a.RealizedPnL += pnl
	if a.DailyPnL == nil {
		a.DailyPnL = make(map[string]float64)
	}
	a.DailyPnL[asOf.UTC().Format("2006-01-02")] += pnl
}

// DayPnL returns the realized P&L booked on a given date.
func (a *Account) DayPnL(asOf time.Time) float64 {
	return a.DailyPnL[asOf.UTC().Format("2006-01-02")]
}

// Position returns the account's position for a symbol, or nil.
func (a *Account) Position(symbol string) *Position {
	for _, p := range a.Positions {
		if p.Symbol == symbol {
			return p
		}
	}
	return nil
}

// AddPosition inserts a new position keeping the FIFO ordering by open
// timestamp. Adding a second position for an existing symbol is a
// programming error.
func (a *Account) AddPosition(p *Position) error {
	if a.Position(p.Symbol) != nil {
		return NewError(ErrInternal, "duplicate position for symbol %s", p.Symbol)
	}
	a.Positions = append(a.Positions, p)
	sort.SliceStable(a.Positions, func(i, j int) bool {
		return a.Positions[i].OpenedAt.Before(a.Positions[j].OpenedAt)
	})
	return nil
}

// DropClosed removes positions whose quantity reached zero.
func (a *Account) DropClosed() {
	kept := a.Positions[:0]
	for _, p := range a.Positions {
		if p.Quantity != 0 {
			kept = append(kept, p)
		}
	}
	a.Positions = kept
}

// OptionSymbols returns the symbols of all option positions.
func (a *Account) OptionSymbols() []string {
	var out []string
	for _, p := range a.Positions {
		if ast, err := p.Asset(); err == nil && ast.AssetType() == asset.TypeOption {
			out = append(out, p.Symbol)
		}
	}
	return out
}

// Clone returns a deep copy used as the engines' working copy.
func (a *Account) Clone() *Account {
	cp := *a
	cp.Positions = make([]*Position, len(a.Positions))
	for i, p := range a.Positions {
		cp.Positions[i] = p.Clone()
	}
	if a.DailyPnL != nil {
		cp.DailyPnL = make(map[string]float64, len(a.DailyPnL))
		for k, v := range a.DailyPnL {
			cp.DailyPnL[k] = v
		}
	}
	return &cp
}

// CheckInvariants verifies the account's internal consistency after a
// commit: no zero-quantity positions, no duplicate symbols, non-negative
// average prices. Violations are programming errors.
func (a *Account) CheckInvariants() error {
	seen := make(map[string]bool, len(a.Positions))
	for _, p := range a.Positions {
		if p.Quantity == 0 {
			return NewError(ErrInternal, "account %s holds zero-quantity position %s", a.ID, p.Symbol)
		}
		if p.AvgPrice < 0 {
			return NewError(ErrInternal, "account %s position %s has negative avg price %.4f", a.ID, p.Symbol, p.AvgPrice)
		}
		if seen[p.Symbol] {
			return NewError(ErrInternal, "account %s holds duplicate positions for %s", a.ID, p.Symbol)
		}
		seen[p.Symbol] = true
	}
	return nil
}

// String implements fmt.Stringer for log lines.
func (a *Account) String() string {
	return fmt.Sprintf("account %s (owner=%s cash=%.2f positions=%d)", a.ID, a.Owner, a.CashBalance, len(a.Positions))
}
