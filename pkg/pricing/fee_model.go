package pricing

import "math"

// Curve parameterizes the mid-peaking fee schedule some venues charge on
// outcome tokens.
type Curve struct {
	Rate     float64 `json:"rate"`
	Exponent float64 `json:"exponent"`
}

// FeeModel is one venue's taker fee. A nil Curve means a flat linear fee.
type FeeModel struct {
	FeeBps float64 `json:"feeBps"`
	Curve  *Curve  `json:"curve,omitempty"`
}

// PerUnit returns the fee charged per share traded at price.
func (f FeeModel) PerUnit(price float64) float64 {
	return FeeCost(price, f.FeeBps, f.Curve)
}

// LinearFee is price × feeBps / 10000.
func LinearFee(price, feeBps float64) float64 {
	if !finite(price) || !finite(feeBps) || price <= 0 || feeBps <= 0 {
		return 0
	}
	return price * feeBps / 10000
}

// CurveFee is (feeBps/1000) × rate × (p(1-p))^exponent with p clamped to
// [0,1]. It peaks at 0.5 and vanishes at both edges.
func CurveFee(price, feeBps, rate, exponent float64) float64 {
	if !finite(price) || !finite(feeBps) || !finite(rate) || !finite(exponent) {
		return 0
	}
	if feeBps <= 0 || rate <= 0 || exponent <= 0 {
		return 0
	}
	p := math.Max(0, math.Min(1, price))
	return feeBps / 1000 * rate * math.Pow(p*(1-p), exponent)
}

// FeeCost picks the curve model when curve is set, the linear one otherwise.
func FeeCost(price, feeBps float64, curve *Curve) float64 {
	if curve != nil {
		return CurveFee(price, feeBps, curve.Rate, curve.Exponent)
	}
	return LinearFee(price, feeBps)
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
