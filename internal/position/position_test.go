package position

import (
	"errors"
	"math"
	"testing"

	"hl-pairs-bot/internal/config"
)

func TestRiskParityWeightsInverseVol(t *testing.T) {
	w := RiskParityWeights(0.02, 0.01)
	// BTC has half the vol, so it takes two thirds of the capital.
	if math.Abs(w.Eth-1.0/3.0) > 1e-12 || math.Abs(w.Btc-2.0/3.0) > 1e-12 {
		t.Fatalf("unexpected weights: %+v", w)
	}
	if math.Abs(w.Eth+w.Btc-1) > 1e-12 {
		t.Fatalf("weights must sum to 1, got %v", w.Eth+w.Btc)
	}
}

func TestRiskParityWeightsEqualFallback(t *testing.T) {
	w := RiskParityWeights(0, 0.01)
	if w.Eth != 0.5 || w.Btc != 0.5 {
		t.Fatalf("expected equal split fallback, got %+v", w)
	}
}

func TestComputeCapitalFixedNotional(t *testing.T) {
	cfg := config.PositionConfig{CapitalMode: config.CapitalFixedNotional, FixedNotional: 50000}
	capital, err := ComputeCapital(cfg, 0)
	if err != nil {
		t.Fatalf("compute capital: %v", err)
	}
	if capital != 50000 {
		t.Fatalf("expected 50000, got %v", capital)
	}
}

func TestComputeCapitalEquityRatio(t *testing.T) {
	cfg := config.PositionConfig{CapitalMode: config.CapitalEquityRatio, EquityRatioK: 0.25}
	capital, err := ComputeCapital(cfg, 200000)
	if err != nil {
		t.Fatalf("compute capital: %v", err)
	}
	if capital != 50000 {
		t.Fatalf("expected 50000, got %v", capital)
	}
	if _, err := ComputeCapital(cfg, 0); err == nil {
		t.Fatalf("expected error for non-positive equity")
	}
}

func TestComputeCapitalCappedByMaxNotional(t *testing.T) {
	cfg := config.PositionConfig{
		CapitalMode:   config.CapitalEquityRatio,
		EquityRatioK:  0.5,
		MaxNotional:   10000,
		FixedNotional: 0,
	}
	capital, err := ComputeCapital(cfg, 100000)
	if err != nil {
		t.Fatalf("compute capital: %v", err)
	}
	if capital != 10000 {
		t.Fatalf("expected cap at 10000, got %v", capital)
	}
}

func ethConstraints() config.InstrumentConstraint {
	return config.InstrumentConstraint{
		MinQty:       0.01,
		MinNotional:  10,
		StepSize:     0.001,
		QtyPrecision: 3,
		RoundingMode: config.RoundFloor,
	}
}

func TestConvertNotionalFloorRounding(t *testing.T) {
	conv, err := NewSizeConverter(ethConstraints(), config.MinSizeSkip)
	if err != nil {
		t.Fatalf("new converter: %v", err)
	}
	size, err := conv.ConvertNotional(10000, 3000)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	// 10000/3000 = 3.3333 -> floored to 3.333
	if size.Qty != 3.333 {
		t.Fatalf("expected qty 3.333, got %v", size.Qty)
	}
	if math.Abs(size.Notional-3.333*3000) > 1e-9 {
		t.Fatalf("expected notional recomputed from rounded qty, got %v", size.Notional)
	}
}

func TestConvertNotionalCeilRounding(t *testing.T) {
	constraints := ethConstraints()
	constraints.RoundingMode = config.RoundCeil
	conv, _ := NewSizeConverter(constraints, config.MinSizeSkip)
	size, err := conv.ConvertNotional(10000, 3000)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if size.Qty != 3.334 {
		t.Fatalf("expected qty 3.334, got %v", size.Qty)
	}
}

func TestConvertNotionalSkipBelowMinimum(t *testing.T) {
	conv, _ := NewSizeConverter(ethConstraints(), config.MinSizeSkip)
	_, err := conv.ConvertNotional(5, 3000)
	if !errors.Is(err, ErrBelowMinimum) {
		t.Fatalf("expected ErrBelowMinimum, got %v", err)
	}
}

func TestConvertNotionalAdjustBumpsToMinimum(t *testing.T) {
	conv, _ := NewSizeConverter(ethConstraints(), config.MinSizeAdjust)
	size, err := conv.ConvertNotional(5, 3000)
	if err != nil {
		t.Fatalf("convert: %v", err)
	}
	if size.Qty < 0.01 {
		t.Fatalf("expected adjusted qty at or above min, got %v", size.Qty)
	}
	if size.Notional < 10 {
		t.Fatalf("expected adjusted notional at or above min, got %v", size.Notional)
	}
}

func TestConvertNotionalRejectsBadPrice(t *testing.T) {
	conv, _ := NewSizeConverter(ethConstraints(), config.MinSizeSkip)
	if _, err := conv.ConvertNotional(10000, 0); err == nil {
		t.Fatalf("expected error for zero price")
	}
}
