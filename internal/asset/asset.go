// Package asset models the tradeable instruments: common stock and
// standard US equity options identified by their OCC/OSI symbols.
package asset

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// SharesPerContract is the contract multiplier for standard equity options.
const SharesPerContract = 100

// Type identifies the kind of asset a symbol refers to.
type Type string

const (
	// TypeStock is common stock.
	TypeStock Type = "stock"
	// TypeOption is a standard equity option contract.
	TypeOption Type = "option"
)

// OptionType represents the type of option contract.
type OptionType string

const (
	// Call is a call option contract.
	Call OptionType = "call"
	// Put is a put option contract.
	Put OptionType = "put"
)

var (
	stockSymbolRe  = regexp.MustCompile(`^[A-Z]{1,6}$`)
	optionSymbolRe = regexp.MustCompile(`^[A-Z]{1,6}[0-9]{6}[CP][0-9]{8}$`)
)

// ErrInvalidSymbol is returned by ParseAsset when a symbol is neither a
// valid stock symbol nor a valid OCC option symbol.
var ErrInvalidSymbol = fmt.Errorf("invalid symbol")

// Asset is either a Stock or an Option. Two assets are equal iff their
// canonical symbols are equal.
type Asset interface {
	// Symbol returns the canonical upper-case symbol.
	Symbol() string
	// AssetType reports whether this is a stock or an option.
	AssetType() Type
	// Multiplier returns the number of shares one unit represents:
	// 100 for options, 1 for stock.
	Multiplier() int
}

// Stock is a share of common stock.
type Stock struct {
	symbol string
}

// NewStock creates a Stock from a 1-6 letter ticker symbol.
func NewStock(symbol string) (Stock, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if !stockSymbolRe.MatchString(symbol) {
		return Stock{}, fmt.Errorf("%w: %q is not a stock symbol", ErrInvalidSymbol, symbol)
	}
	return Stock{symbol: symbol}, nil
}

// Symbol returns the ticker symbol.
func (s Stock) Symbol() string { return s.symbol }

// AssetType returns TypeStock.
func (s Stock) AssetType() Type { return TypeStock }

// Multiplier returns 1: a stock unit is one share.
func (s Stock) Multiplier() int { return 1 }

func (s Stock) String() string { return s.symbol }

// Option is a standard US equity option contract.
type Option struct {
	symbol     string
	underlying string
	optionType OptionType
	strike     float64
	expiration time.Time
}

// NewOption builds an Option from its parts and derives the OCC symbol.
func NewOption(underlying string, optionType OptionType, strike float64, expiration time.Time) (Option, error) {
	underlying = strings.ToUpper(strings.TrimSpace(underlying))
	if !stockSymbolRe.MatchString(underlying) {
		return Option{}, fmt.Errorf("%w: underlying %q is not a stock symbol", ErrInvalidSymbol, underlying)
	}
	if optionType != Call && optionType != Put {
		return Option{}, fmt.Errorf("%w: option type must be call or put", ErrInvalidSymbol)
	}
	if strike <= 0 {
		return Option{}, fmt.Errorf("%w: strike must be positive, got %.4f", ErrInvalidSymbol, strike)
	}
	exp := expiration.UTC().Truncate(24 * time.Hour)
	return Option{
		symbol:     FormatOptionSymbol(underlying, optionType, strike, exp),
		underlying: underlying,
		optionType: optionType,
		strike:     strike,
		expiration: exp,
	}, nil
}

// FormatOptionSymbol encodes an option as SYMBOL + YYMMDD + C/P + 8-digit
// strike in thousandths of a dollar.
func FormatOptionSymbol(underlying string, optionType OptionType, strike float64, expiration time.Time) string {
	// Round strikes to the nearest 1/1000th dollar for OCC encoding.
	// The eps constant handles floating point precision issues
	// (e.g. 394.9999999 should encode as 00395000).
	const eps = 1e-9
	strikeInt := int(math.Round(strike*1000 + eps))
	cp := "C"
	if optionType == Put {
		cp = "P"
	}
	return fmt.Sprintf("%s%s%s%08d", underlying, expiration.Format("060102"), cp, strikeInt)
}

// ParseOption parses an OCC/OSI option symbol.
// Format: TICKER[YYMMDD][C/P][STRIKE*1000 padded to 8 digits],
// e.g. SPY240315C00610000 -> SPY call, 2024-03-15, strike 610.00.
func ParseOption(symbol string) (Option, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if !optionSymbolRe.MatchString(symbol) {
		return Option{}, fmt.Errorf("%w: %q is not an option symbol", ErrInvalidSymbol, symbol)
	}

	// The regexp guarantees the positional layout; slice from the end since
	// the underlying ticker is variable width.
	n := len(symbol)
	strikeStr := symbol[n-8:]
	cp := symbol[n-9 : n-8]
	dateStr := symbol[n-15 : n-9]
	underlying := symbol[:n-15]

	strikeInt, err := strconv.ParseInt(strikeStr, 10, 64)
	if err != nil {
		return Option{}, fmt.Errorf("%w: bad strike in %q: %v", ErrInvalidSymbol, symbol, err)
	}
	if strikeInt == 0 {
		return Option{}, fmt.Errorf("%w: zero strike in %q", ErrInvalidSymbol, symbol)
	}

	// YYMMDD is always interpreted as 20YY, regardless of Go's two-digit
	// year pivot.
	yy, _ := strconv.Atoi(dateStr[0:2])
	mm, _ := strconv.Atoi(dateStr[2:4])
	dd, _ := strconv.Atoi(dateStr[4:6])
	if mm < 1 || mm > 12 || dd < 1 || dd > 31 {
		return Option{}, fmt.Errorf("%w: bad expiration in %q", ErrInvalidSymbol, symbol)
	}
	expiration := time.Date(2000+yy, time.Month(mm), dd, 0, 0, 0, 0, time.UTC)
	if expiration.Day() != dd || expiration.Month() != time.Month(mm) {
		return Option{}, fmt.Errorf("%w: bad expiration in %q", ErrInvalidSymbol, symbol)
	}

	optionType := Call
	if cp == "P" {
		optionType = Put
	}

	return Option{
		symbol:     symbol,
		underlying: underlying,
		optionType: optionType,
		strike:     float64(strikeInt) / 1000.0,
		expiration: expiration.UTC(),
	}, nil
}

// ParseAsset maps any string to the correct asset variant, or reports
// ErrInvalidSymbol when the string is neither a stock nor an option symbol.
func ParseAsset(symbol string) (Asset, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if stockSymbolRe.MatchString(symbol) {
		return Stock{symbol: symbol}, nil
	}
	if optionSymbolRe.MatchString(symbol) {
		return ParseOption(symbol)
	}
	return nil, fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
}

// Symbol returns the canonical OCC symbol.
func (o Option) Symbol() string { return o.symbol }

// AssetType returns TypeOption.
func (o Option) AssetType() Type { return TypeOption }

// Multiplier returns the shares represented by one contract.
func (o Option) Multiplier() int { return SharesPerContract }

// Underlying returns the ticker of the underlying stock.
func (o Option) Underlying() string { return o.underlying }

// OptionType returns whether the contract is a call or a put.
func (o Option) OptionType() OptionType { return o.optionType }

// Strike returns the strike price in dollars.
func (o Option) Strike() float64 { return o.strike }

// Expiration returns the expiration date (UTC, midnight).
func (o Option) Expiration() time.Time { return o.expiration }

func (o Option) String() string { return o.symbol }

// DaysToExpiration returns the whole days from asOf to expiration,
// clamped at zero for expired contracts.
func (o Option) DaysToExpiration(asOf time.Time) int {
	from := asOf.UTC().Truncate(24 * time.Hour)
	days := int(o.expiration.Sub(from).Hours() / 24)
	if days < 0 {
		return 0
	}
	return days
}

// Expired reports whether the contract's expiration is on or before asOf.
func (o Option) Expired(asOf time.Time) bool {
	return !o.expiration.After(asOf.UTC().Truncate(24 * time.Hour))
}

// IntrinsicValue returns max(0, S-K) for calls and max(0, K-S) for puts.
func (o Option) IntrinsicValue(underlyingPrice float64) float64 {
	if o.optionType == Call {
		return math.Max(0, underlyingPrice-o.strike)
	}
	return math.Max(0, o.strike-underlyingPrice)
}

// ExtrinsicValue returns the portion of the option price that exceeds
// intrinsic value, floored at zero.
func (o Option) ExtrinsicValue(underlyingPrice, optionPrice float64) float64 {
	return math.Max(0, optionPrice-o.IntrinsicValue(underlyingPrice))
}
