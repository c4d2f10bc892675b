// Package pricing implements the Black-Scholes model used to derive option
// Greeks and implied volatility from observed prices. Dividends are assumed
// zero throughout.
package pricing

import (
	"fmt"
	"math"
)

const (
	sqrt2Pi     = 2.5066282746310002
	daysPerYear = 365.0
	// defaultRiskFree is the flat risk-free rate used when no curve is
	// supplied. Greeks are insensitive enough to this for paper fills.
	defaultRiskFree = 0.03
)

// Inputs describes one option for evaluation.
type Inputs struct {
	Call       bool    // true for call, false for put
	Strike     float64 // K
	Underlying float64 // S, spot price of the underlying
	Days       float64 // calendar days to expiration
	Rate       float64 // annual risk-free rate; 0 means defaultRiskFree
	Sigma      float64 // annual volatility as a decimal
}

// Greeks is the full sensitivity set for one contract.
type Greeks struct {
	Delta float64
	Gamma float64
	Theta float64 // per calendar day
	Vega  float64 // per 1.00 change in vol
	Rho   float64
	IV    float64
}

func (in Inputs) years() float64 { return in.Days / daysPerYear }

func (in Inputs) rate() float64 {
	if in.Rate == 0 {
		return defaultRiskFree
	}
	return in.Rate
}

// Price returns the Black-Scholes theoretical value. When time to expiry or
// volatility is non-positive it falls back to intrinsic value.
func Price(in Inputs) float64 {
	T := in.years()
	if T <= 0 || in.Sigma <= 0 {
		if in.Call {
			return math.Max(0, in.Underlying-in.Strike)
		}
		return math.Max(0, in.Strike-in.Underlying)
	}

	r := in.rate()
	d1 := (math.Log(in.Underlying/in.Strike) + (r+0.5*in.Sigma*in.Sigma)*T) / (in.Sigma * math.Sqrt(T))
	d2 := d1 - in.Sigma*math.Sqrt(T)

	if in.Call {
		return in.Underlying*normCDF(d1) - in.Strike*math.Exp(-r*T)*normCDF(d2)
	}
	return in.Strike*math.Exp(-r*T)*normCDF(-d2) - in.Underlying*normCDF(-d1)
}

// Vega returns the option vega, the price change per unit change in sigma.
// Returns 0 if time or volatility is non-positive.
func Vega(in Inputs) float64 {
	T := in.years()
	if T <= 0 || in.Sigma <= 0 {
		return 0
	}
	r := in.rate()
	d1 := (math.Log(in.Underlying/in.Strike) + (r+0.5*in.Sigma*in.Sigma)*T) / (in.Sigma * math.Sqrt(T))
	return in.Underlying * normPDF(d1) * math.Sqrt(T)
}

// Evaluate solves for implied volatility from the observed option price and
// returns the full Greeks set. It returns an error when the inputs cannot
// support a solution or the solver does not converge; callers must omit
// Greeks in that case rather than substitute zeros.
func Evaluate(in Inputs, optionPrice float64) (*Greeks, error) {
	if in.Underlying <= 0 || in.Strike <= 0 {
		return nil, fmt.Errorf("pricing: underlying and strike must be positive")
	}
	if optionPrice <= 0 {
		return nil, fmt.Errorf("pricing: option price must be positive")
	}
	T := in.years()
	if T <= 0 {
		return nil, fmt.Errorf("pricing: contract is expired")
	}

	iv, err := impliedVol(in, optionPrice)
	if err != nil {
		return nil, err
	}
	in.Sigma = iv

	g := greeksAt(in)
	g.IV = iv
	if anyNaN(g.Delta, g.Gamma, g.Theta, g.Vega, g.Rho, g.IV) {
		return nil, fmt.Errorf("pricing: greeks did not evaluate to finite values")
	}
	return &g, nil
}

// greeksAt computes analytic Greeks for a known sigma.
func greeksAt(in Inputs) Greeks {
	T := in.years()
	r := in.rate()
	sqrtT := math.Sqrt(T)
	d1 := (math.Log(in.Underlying/in.Strike) + (r+0.5*in.Sigma*in.Sigma)*T) / (in.Sigma * sqrtT)
	d2 := d1 - in.Sigma*sqrtT

	var g Greeks
	if in.Call {
		g.Delta = normCDF(d1)
		g.Rho = in.Strike * T * math.Exp(-r*T) * normCDF(d2)
		g.Theta = (-in.Underlying*normPDF(d1)*in.Sigma/(2*sqrtT) -
			r*in.Strike*math.Exp(-r*T)*normCDF(d2)) / daysPerYear
	} else {
		g.Delta = normCDF(d1) - 1
		g.Rho = -in.Strike * T * math.Exp(-r*T) * normCDF(-d2)
		g.Theta = (-in.Underlying*normPDF(d1)*in.Sigma/(2*sqrtT) +
			r*in.Strike*math.Exp(-r*T)*normCDF(-d2)) / daysPerYear
	}
	g.Gamma = normPDF(d1) / (in.Underlying * in.Sigma * sqrtT)
	g.Vega = in.Underlying * normPDF(d1) * sqrtT
	return g
}

// impliedVol solves for sigma via Newton-Raphson with guardrails.
func impliedVol(in Inputs, marketPrice float64) (float64, error) {
	const (
		maxIter = 100
		tol     = 1e-6
	)

	sigma := 0.20 // initial guess
	for i := 0; i < maxIter; i++ {
		in.Sigma = sigma
		diff := Price(in) - marketPrice
		if math.Abs(diff) < tol {
			return sigma, nil
		}

		vega := Vega(in)
		if vega < 1e-8 {
			break
		}
		sigma -= diff / vega

		// Guardrails
		if sigma <= 0 {
			sigma = 1e-4
		}
		if sigma > 5 {
			sigma = 5
		}
	}
	return 0, fmt.Errorf("pricing: implied vol did not converge")
}

func anyNaN(vs ...float64) bool {
	for _, v := range vs {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return true
		}
	}
	return false
}

// normPDF is the standard normal probability density at x.
func normPDF(x float64) float64 {
	return math.Exp(-0.5*x*x) / sqrt2Pi
}

// normCDF is the standard normal cumulative distribution at x, via erf.
func normCDF(x float64) float64 {
	return 0.5 * (1.0 + math.Erf(x/math.Sqrt2))
}
