package pricing

import (
	"math"
	"testing"
)

func approxEqual(t *testing.T, got, want, epsilon float64, msg string) {
	t.Helper()
	if math.Abs(got-want) > epsilon {
		t.Fatalf("%s: got %v, want %v (epsilon %v)", msg, got, want, epsilon)
	}
}

func TestCumulativeNormalKnownPoints(t *testing.T) {
	approxEqual(t, CumulativeNormal(0), 0.5, 1e-9, "Phi(0)")
	approxEqual(t, CumulativeNormal(1), 0.84134, 1e-5, "Phi(1)")
	approxEqual(t, CumulativeNormal(-3), 0.00135, 1e-5, "Phi(-3)")
	approxEqual(t, CumulativeNormal(1.959963985), 0.975, 1e-6, "Phi(1.96)")
	approxEqual(t, CumulativeNormal(-1.959963985), 0.025, 1e-6, "Phi(-1.96)")
}

func TestCumulativeNormalSymmetric(t *testing.T) {
	for _, x := range []float64{0.1, 0.5, 1.3, 2.7, 5.0, 8.5} {
		sum := CumulativeNormal(x) + CumulativeNormal(-x)
		approxEqual(t, sum, 1.0, 1e-9, "Phi(x)+Phi(-x)")
	}
}

func TestGeneralizedBlackScholesMertonPutCallParity(t *testing.T) {
	s, k, tt, r, b, v := 100.0, 100.0, 0.5, 0.05, 0.05, 0.2
	call := GeneralizedBlackScholesMerton(Call, s, k, tt, r, b, v)
	put := GeneralizedBlackScholesMerton(Put, s, k, tt, r, b, v)

	forward := s*math.Exp((b-r)*tt) - k*math.Exp(-r*tt)
	approxEqual(t, call-put, forward, 1e-9, "put-call parity")
}

func TestGeneralizedBlackScholesMertonDegenerateInputs(t *testing.T) {
	if price := GeneralizedBlackScholesMerton(Call, 100, 100, 0, 0.01, 0.01, 0.2); price != 0 {
		t.Fatalf("expected zero price for zero time to expiry, got %v", price)
	}
	if price := GeneralizedBlackScholesMerton(Call, 100, 100, 0.5, 0.01, 0.01, 0); price != 0 {
		t.Fatalf("expected zero price for zero volatility, got %v", price)
	}
}

func TestImpliedVolatilityRoundTrips(t *testing.T) {
	s, k, tt, r, b := 100.0, 105.0, 0.25, 0.03, 0.03
	wantVol := 0.35

	price := GeneralizedBlackScholesMerton(Call, s, k, tt, r, b, wantVol)
	gotVol, ok := ImpliedVolatility(Call, price, s, k, tt, r, b)
	if !ok {
		t.Fatalf("implied volatility solver did not converge")
	}
	approxEqual(t, gotVol, wantVol, 1e-4, "round-tripped implied vol")
}

func TestImpliedVolatilityDegenerateInputsSkip(t *testing.T) {
	if _, ok := ImpliedVolatility(Call, 0, 100, 100, 0.5, 0.01, 0.01); ok {
		t.Fatalf("expected skip for zero price")
	}
	if _, ok := ImpliedVolatility(Call, 5, 100, 100, 0, 0.01, 0.01); ok {
		t.Fatalf("expected skip for zero time to expiry")
	}
}

func TestDeltaRawValuesAreBothNonNegative(t *testing.T) {
	// Delta is the raw e^{(b-r)T}*Phi(d1_signed) quantity; negating the
	// put leg into the standard sign convention is the caller's job
	// (see controller.updateDeltas), not the kernel's.
	s, k, tt, r, b, v := 100.0, 100.0, 0.5, 0.02, 0.02, 0.25
	callDelta := Delta(Call, s, k, tt, r, b, v)
	putDelta := Delta(Put, s, k, tt, r, b, v)

	if callDelta < 0 || callDelta > math.Exp((b-r)*tt) {
		t.Fatalf("call delta out of bounds: %v", callDelta)
	}
	if putDelta < 0 || putDelta > math.Exp((b-r)*tt) {
		t.Fatalf("put delta out of bounds: %v", putDelta)
	}
	approxEqual(t, callDelta+putDelta, math.Exp((b-r)*tt), 1e-9, "call+put delta identity")
}

func TestPutCallParityPriceReconstructsMissingLeg(t *testing.T) {
	s, k, tt, r, b, v := 100.0, 95.0, 0.4, 0.01, 0.01, 0.3
	call := GeneralizedBlackScholesMerton(Call, s, k, tt, r, b, v)
	put := GeneralizedBlackScholesMerton(Put, s, k, tt, r, b, v)

	reconstructedPut := PutCallParityPrice(Call, call, s, k, tt, r, b)
	approxEqual(t, reconstructedPut, put, 1e-9, "parity-reconstructed put")

	reconstructedCall := PutCallParityPrice(Put, put, s, k, tt, r, b)
	approxEqual(t, reconstructedCall, call, 1e-9, "parity-reconstructed call")
}
