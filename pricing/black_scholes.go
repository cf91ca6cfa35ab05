// Package pricing implements the generalized Black-Scholes-Merton
// option pricing kernel the scalper uses to turn a pair of quoted
// option prices into an implied volatility and a portfolio delta.
package pricing

import (
	"math"

	"github.com/HershyOrg/gammascalper/internal/logging"
)

// OptionKind distinguishes calls from puts. The values are the
// production FIX wire encoding: CALL=0, PUT=1. Do not flip these
// without also flipping the transport's decode.
type OptionKind int

const (
	Call OptionKind = 0
	Put  OptionKind = 1
)

// Hart's rational approximation coefficients for the standard normal CDF.
const (
	hartA1 = 0.0352624965998911
	hartA2 = 0.700383064443688
	hartA3 = 6.37396220353165
	hartA4 = 33.912866078383
	hartA5 = 112.079291497871
	hartA6 = 221.213596169931
	hartA7 = 220.206867912376

	hartB1 = 0.0883883476483184
	hartB2 = 1.75566716318264
	hartB3 = 16.064177579207
	hartB4 = 86.7807322029461
	hartB5 = 296.564248779674
	hartB6 = 637.333633378831
	hartB7 = 793.826512519948
	hartB8 = 440.413735824752

	hartTailThreshold = 7.07106781186547
	hartScale         = 2.506628274631
)

// CumulativeNormal returns the standard normal CDF, Phi(x), using Hart's
// rational approximation. It is accurate to roughly 15 significant
// digits over the whole real line and is cheap enough to call many
// times per evaluation tick.
func CumulativeNormal(x float64) float64 {
	y := math.Abs(x)

	var result float64
	if y > 37 {
		result = 0
	} else {
		exponential := math.Exp(-y * y / 2)
		if y < hartTailThreshold {
			numerator := (((((hartA1*y+hartA2)*y+hartA3)*y+hartA4)*y+hartA5)*y+hartA6)*y + hartA7
			denominator := ((((((hartB1*y+hartB2)*y+hartB3)*y+hartB4)*y+hartB5)*y+hartB6)*y+hartB7)*y + hartB8
			result = exponential * numerator / denominator
		} else {
			denominator := y + 1/(y+2/(y+3/(y+4/(y+0.65))))
			result = exponential / (hartScale * denominator)
		}
	}

	if x > 0 {
		result = 1 - result
	}
	return result
}

func d1(s, k, t, b, v float64) float64 {
	return (math.Log(s/k) + (b+v*v/2)*t) / (v * math.Sqrt(t))
}

func d2(d1Value, v, t float64) float64 {
	return d1Value - v*math.Sqrt(t)
}

// GeneralizedBlackScholesMerton prices a European option under the
// generalized Black-Scholes-Merton model with cost-of-carry b:
//
//	call = S*e^((b-r)T)*N(d1) - K*e^(-rT)*N(d2)
//	put  = K*e^(-rT)*N(-d2)   - S*e^((b-r)T)*N(-d1)
//
// s is the underlying price, k the strike, t time to expiry in years, r
// the risk-free rate, b the cost-of-carry rate, v the volatility.
func GeneralizedBlackScholesMerton(kind OptionKind, s, k, t, r, b, v float64) float64 {
	if t <= 0 || v <= 0 || s <= 0 || k <= 0 {
		logging.Default().Debugf("pricing.GeneralizedBlackScholesMerton: degenerate input s=%v k=%v t=%v v=%v", s, k, t, v)
		return 0
	}

	dOne := d1(s, k, t, b, v)
	dTwo := d2(dOne, v, t)

	if kind == Call {
		return s*math.Exp((b-r)*t)*CumulativeNormal(dOne) - k*math.Exp(-r*t)*CumulativeNormal(dTwo)
	}
	return k*math.Exp(-r*t)*CumulativeNormal(-dTwo) - s*math.Exp((b-r)*t)*CumulativeNormal(-dOne)
}

const (
	impliedVolLow      = 0.05
	impliedVolHigh     = 5.0
	impliedVolEpsilon  = 0.000008
	impliedVolMaxIters = 100
)

// ImpliedVolatility solves for the volatility that reproduces the
// observed option price under the generalized Black-Scholes-Merton
// model, using regula falsi (linear interpolation) bracketed between
// impliedVolLow and impliedVolHigh. It reports ok=false if the solver
// does not converge within impliedVolMaxIters iterations to within
// impliedVolEpsilon of price.
func ImpliedVolatility(kind OptionKind, price, s, k, t, r, b float64) (vol float64, ok bool) {
	if price <= 0 || t <= 0 || s <= 0 || k <= 0 {
		logging.Default().Debugf("pricing.ImpliedVolatility: degenerate input price=%v s=%v k=%v t=%v", price, s, k, t)
		return 0, false
	}

	volLow := impliedVolLow
	volHigh := impliedVolHigh
	priceLow := GeneralizedBlackScholesMerton(kind, s, k, t, r, b, volLow)
	priceHigh := GeneralizedBlackScholesMerton(kind, s, k, t, r, b, volHigh)

	for i := 0; i < impliedVolMaxIters; i++ {
		volMid := volLow + (price-priceLow)*(volHigh-volLow)/(priceHigh-priceLow)
		priceMid := GeneralizedBlackScholesMerton(kind, s, k, t, r, b, volMid)

		if math.Abs(priceMid-price) < impliedVolEpsilon {
			return volMid, true
		}

		if priceMid < price {
			volLow = volMid
			priceLow = priceMid
		} else {
			volHigh = volMid
			priceHigh = priceMid
		}
	}

	logging.Default().Warnf("pricing.ImpliedVolatility: failed to converge after %d iterations for price=%v", impliedVolMaxIters, price)
	return 0, false
}

// Delta returns e^{(b-r)T} * Phi(d1_signed), with d1_signed = d1 for a
// call and -d1 for a put. This is the raw quantity the kernel produces;
// it is *not* negated for puts here. By convention puts read as
// negative deltas; the controller applies that negation when it
// combines the legs.
func Delta(kind OptionKind, s, k, t, r, b, v float64) float64 {
	if t <= 0 || v <= 0 || s <= 0 || k <= 0 {
		logging.Default().Debugf("pricing.Delta: degenerate input s=%v k=%v t=%v v=%v", s, k, t, v)
		return 0
	}

	dOne := d1(s, k, t, b, v)
	if kind == Put {
		dOne = -dOne
	}
	return math.Exp((b-r)*t) * CumulativeNormal(dOne)
}

// PutCallParityPrice reconstructs the mid price of the missing leg of a
// call/put pair from the known leg's mid price and the underlying mid,
// using put-call parity under cost-of-carry b:
//
//	call - put = S*e^((b-r)T) - K*e^(-rT)
//
// knownKind identifies which of knownPrice is a call or a put price;
// the function returns the price of the *other* leg.
func PutCallParityPrice(knownKind OptionKind, knownPrice, s, k, t, r, b float64) float64 {
	forwardDiff := s*math.Exp((b-r)*t) - k*math.Exp(-r*t)
	if knownKind == Call {
		return knownPrice - forwardDiff
	}
	return knownPrice + forwardDiff
}
