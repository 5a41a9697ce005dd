package position

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"hl-pairs-bot/internal/config"
)

// Weights splits capital across the two legs by inverse volatility.
type Weights struct {
	Eth float64
	Btc float64
}

// RiskParityWeights returns inverse-vol weights, or an equal split when
// either vol is missing or non-positive.
func RiskParityWeights(volEth, volBtc float64) Weights {
	if volEth <= 0 || volBtc <= 0 {
		return Weights{Eth: 0.5, Btc: 0.5}
	}
	invEth := 1 / volEth
	invBtc := 1 / volBtc
	wEth := invEth / (invEth + invBtc)
	return Weights{Eth: wEth, Btc: 1 - wEth}
}

// ComputeCapital resolves the per-trade capital for the configured mode.
func ComputeCapital(cfg config.PositionConfig, equity float64) (float64, error) {
	var capital float64
	switch cfg.CapitalMode {
	case config.CapitalFixedNotional:
		if cfg.FixedNotional <= 0 {
			return 0, errors.New("fixed_notional required for FIXED_NOTIONAL mode")
		}
		capital = cfg.FixedNotional
	case config.CapitalEquityRatio:
		if cfg.EquityRatioK <= 0 {
			return 0, errors.New("equity_ratio_k required for EQUITY_RATIO mode")
		}
		if equity <= 0 {
			return 0, errors.New("equity must be > 0 for EQUITY_RATIO mode")
		}
		capital = equity * cfg.EquityRatioK
	default:
		return 0, fmt.Errorf("unsupported capital mode %q", cfg.CapitalMode)
	}
	if cfg.MaxNotional > 0 && capital > cfg.MaxNotional {
		capital = cfg.MaxNotional
	}
	return capital, nil
}

// ErrBelowMinimum marks orders the venue would reject for size.
var ErrBelowMinimum = errors.New("order below minimum constraints")

type OrderSize struct {
	Qty      float64
	Notional float64
	Price    float64
}

// SizeConverter turns a target notional into a venue-legal quantity.
// Step rounding runs in decimal arithmetic so ties and tiny remainders
// never depend on float representation.
type SizeConverter struct {
	constraints config.InstrumentConstraint
	policy      config.MinSizePolicy
}

func NewSizeConverter(constraints config.InstrumentConstraint, policy config.MinSizePolicy) (*SizeConverter, error) {
	if constraints.StepSize <= 0 {
		return nil, errors.New("step_size must be > 0")
	}
	return &SizeConverter{constraints: constraints, policy: policy}, nil
}

func (c *SizeConverter) ConvertNotional(notional, price float64) (OrderSize, error) {
	if price <= 0 {
		return OrderSize{}, errors.New("price must be > 0")
	}
	priceDec := decimal.NewFromFloat(price)
	rawQty := decimal.NewFromFloat(notional).Div(priceDec)
	qty := c.roundQty(rawQty, c.constraints.RoundingMode)
	got := qty.Mul(priceDec)

	minQty := decimal.NewFromFloat(c.constraints.MinQty)
	minNotional := decimal.NewFromFloat(c.constraints.MinNotional)
	if qty.LessThan(minQty) || got.LessThan(minNotional) {
		if c.policy == config.MinSizeSkip {
			return OrderSize{}, fmt.Errorf("%w: qty=%s notional=%s", ErrBelowMinimum, qty, got)
		}
		target := minNotional.Div(priceDec)
		if target.LessThan(minQty) {
			target = minQty
		}
		qty = c.roundQty(target, config.RoundCeil)
		got = qty.Mul(priceDec)
	}

	qtyF, _ := qty.Float64()
	notionalF, _ := got.Float64()
	return OrderSize{Qty: qtyF, Notional: notionalF, Price: price}, nil
}

func (c *SizeConverter) roundQty(qty decimal.Decimal, mode config.RoundingMode) decimal.Decimal {
	step := decimal.NewFromFloat(c.constraints.StepSize)
	steps := qty.Div(step)
	switch mode {
	case config.RoundCeil:
		steps = steps.Ceil()
	case config.RoundNearest:
		steps = steps.Round(0)
	default:
		steps = steps.Floor()
	}
	return steps.Mul(step).Round(c.constraints.QtyPrecision)
}
