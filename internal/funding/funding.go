package funding

import (
	"errors"
	"fmt"
	"math"
	"time"

	"hl-pairs-bot/internal/config"
	"hl-pairs-bot/internal/state"
)

// Rate is one venue funding observation for a single leg.
type Rate struct {
	Symbol        config.Symbol
	Rate          float64
	Timestamp     time.Time
	IntervalHours int
}

func (r Rate) Validate() error {
	if r.IntervalHours <= 0 {
		return errors.New("funding interval_hours must be > 0")
	}
	return nil
}

// Snapshot pairs the two legs' rates at one timestamp.
type Snapshot struct {
	Eth           Rate
	Btc           Rate
	IntervalHours int
}

func NewSnapshot(eth, btc Rate) (Snapshot, error) {
	if err := eth.Validate(); err != nil {
		return Snapshot{}, err
	}
	if err := btc.Validate(); err != nil {
		return Snapshot{}, err
	}
	if eth.IntervalHours != btc.IntervalHours {
		return Snapshot{}, errors.New("funding intervals must match across legs")
	}
	return Snapshot{Eth: eth, Btc: btc, IntervalHours: eth.IntervalHours}, nil
}

// CostEstimate is the worst-case funding drag over the hold horizon.
// CostEst is in quote currency and never negative; Normalized divides
// by total pair notional.
type CostEstimate struct {
	CostEst       float64
	Normalized    float64
	IntervalHours int
}

// EstimateCost projects funding over max_hold_hours, charging intervals
// rounded up. Favorable funding clamps to zero rather than subsidizing
// an entry.
func EstimateCost(direction state.Direction, notionalEth, notionalBtc float64, snapshot Snapshot, maxHoldHours int) (CostEstimate, error) {
	if snapshot.IntervalHours <= 0 {
		return CostEstimate{}, errors.New("funding interval_hours must be > 0")
	}
	if maxHoldHours <= 0 {
		return CostEstimate{}, errors.New("max_hold_hours must be > 0")
	}
	intervals := (maxHoldHours + snapshot.IntervalHours - 1) / snapshot.IntervalHours

	var perInterval float64
	switch direction {
	case state.LongEthShortBtc:
		perInterval = snapshot.Eth.Rate*notionalEth - snapshot.Btc.Rate*notionalBtc
	case state.ShortEthLongBtc:
		perInterval = -snapshot.Eth.Rate*notionalEth + snapshot.Btc.Rate*notionalBtc
	default:
		return CostEstimate{}, fmt.Errorf("unknown direction %q", direction)
	}

	cost := math.Max(perInterval*float64(intervals), 0)
	totalNotional := notionalEth + notionalBtc
	normalized := 0.0
	if totalNotional > 0 {
		normalized = cost / totalNotional
	}
	return CostEstimate{
		CostEst:       cost,
		Normalized:    normalized,
		IntervalHours: snapshot.IntervalHours,
	}, nil
}

// AccruedCost is the realized funding over an actual holding period,
// used by the backtest on trade close. Unlike EstimateCost it keeps the
// sign: favorable funding reduces the trade's cost.
func AccruedCost(direction state.Direction, notionalEth, notionalBtc float64, snapshot Snapshot, heldHours int) float64 {
	if snapshot.IntervalHours <= 0 || heldHours <= 0 {
		return 0
	}
	intervals := heldHours / snapshot.IntervalHours
	var perInterval float64
	switch direction {
	case state.LongEthShortBtc:
		perInterval = snapshot.Eth.Rate*notionalEth - snapshot.Btc.Rate*notionalBtc
	case state.ShortEthLongBtc:
		perInterval = -snapshot.Eth.Rate*notionalEth + snapshot.Btc.Rate*notionalBtc
	}
	return perInterval * float64(intervals)
}

// Decision is the composed output of the configured funding controls.
type Decision struct {
	ShouldSkip      bool
	AdjustedEntryZ  float64
	AdjustedCapital float64
}

// ApplyControls composes the configured modes in order. FILTER vetoes
// on normalized cost, THRESHOLD raises the effective entry z, SIZE
// shrinks capital with a floor at c_min_ratio of base capital.
func ApplyControls(cfg config.FundingConfig, entryZ, capital float64, estimate CostEstimate) Decision {
	decision := Decision{
		AdjustedEntryZ:  entryZ,
		AdjustedCapital: capital,
	}
	if cfg.Disabled {
		return decision
	}
	for _, mode := range cfg.Modes {
		switch mode {
		case config.FundingFilter:
			if estimate.Normalized > cfg.CostThreshold {
				decision.ShouldSkip = true
			}
		case config.FundingThreshold:
			decision.AdjustedEntryZ += cfg.ThresholdK * estimate.Normalized
		case config.FundingSize:
			ratio := 1 - cfg.SizeAlpha*estimate.Normalized
			if ratio < cfg.CMinRatio {
				ratio = cfg.CMinRatio
			}
			if ratio > 1 {
				ratio = 1
			}
			decision.AdjustedCapital = capital * ratio
		}
	}
	return decision
}

// History keeps a bounded per-symbol trail of observed rates.
type History struct {
	capacity int
	entries  map[config.Symbol][]Rate
}

func NewHistory(capacity int) (*History, error) {
	if capacity <= 0 {
		return nil, errors.New("history capacity must be > 0")
	}
	return &History{capacity: capacity, entries: map[config.Symbol][]Rate{}}, nil
}

func (h *History) Push(rate Rate) {
	queue := h.entries[rate.Symbol]
	if len(queue) == h.capacity {
		queue = queue[1:]
	}
	h.entries[rate.Symbol] = append(queue, rate)
}

func (h *History) Window(symbol config.Symbol) []Rate {
	window := h.entries[symbol]
	out := make([]Rate, len(window))
	copy(out, window)
	return out
}
