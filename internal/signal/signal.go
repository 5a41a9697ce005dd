package signal

import (
	"math"
	"time"

	"hl-pairs-bot/internal/config"
	"hl-pairs-bot/internal/state"
)

type Entry struct {
	Direction state.Direction
	ZScore    float64
}

type Exit struct {
	Reason state.ExitReason
	ZScore float64
}

// EntryDetector fires when |z| crosses into the entry zone
// [entry_z, sl_z) from below. It needs a previous ready bar, so the
// first bar after warm-up can never fire.
type EntryDetector struct {
	entryZ  float64
	slZ     float64
	prevZ   float64
	hasPrev bool
}

func NewEntryDetector(cfg config.StrategyConfig) *EntryDetector {
	return &EntryDetector{entryZ: cfg.EntryZ, slZ: cfg.SlZ}
}

// Update consumes the bar's z-score. A not-ready bar clears the
// crossing memory so the next ready bar starts fresh.
func (d *EntryDetector) Update(zscore float64, ready bool, status state.Status) *Entry {
	if !ready {
		d.hasPrev = false
		return nil
	}

	absZ := math.Abs(zscore)
	crossed := d.hasPrev &&
		math.Abs(d.prevZ) < d.entryZ &&
		absZ >= d.entryZ && absZ < d.slZ

	d.prevZ = zscore
	d.hasPrev = true

	if !crossed || status != state.StatusFlat {
		return nil
	}

	direction := state.LongEthShortBtc
	if zscore >= d.entryZ {
		direction = state.ShortEthLongBtc
	}
	return &Entry{Direction: direction, ZScore: zscore}
}

// EntryZone reports whether |z| sits inside [entryZ, slZ), used when an
// adjusted entry threshold must be re-checked before trading.
func (d *EntryDetector) EntryZone(zscore, entryZ float64) bool {
	absZ := math.Abs(zscore)
	return absZ >= entryZ && absZ < d.slZ
}

// ExitDetector evaluates exits in severity order: stop-loss first, then
// take-profit (with optional confirmation bars), then time-stop.
type ExitDetector struct {
	tpZ           float64
	slZ           float64
	maxHoldHours  int
	confirmBarsTP int
	tpCount       int
}

func NewExitDetector(strategy config.StrategyConfig, risk config.RiskConfig) *ExitDetector {
	return &ExitDetector{
		tpZ:           strategy.TpZ,
		slZ:           strategy.SlZ,
		maxHoldHours:  risk.MaxHoldHours,
		confirmBarsTP: risk.ConfirmBarsTP,
	}
}

func (d *ExitDetector) Evaluate(zscore float64, ready bool, status state.Status, position *state.PositionSnapshot, now time.Time) *Exit {
	if status != state.StatusInPosition || position == nil {
		d.tpCount = 0
		return nil
	}
	if !ready {
		d.tpCount = 0
		return nil
	}
	absZ := math.Abs(zscore)

	if absZ >= d.slZ {
		d.tpCount = 0
		return &Exit{Reason: state.ExitStopLoss, ZScore: zscore}
	}

	if absZ <= d.tpZ {
		if d.confirmBarsTP == 0 {
			d.tpCount = 0
			return &Exit{Reason: state.ExitTakeProfit, ZScore: zscore}
		}
		d.tpCount++
		if d.tpCount >= d.confirmBarsTP {
			d.tpCount = 0
			return &Exit{Reason: state.ExitTakeProfit, ZScore: zscore}
		}
	} else {
		d.tpCount = 0
	}

	if position.HoldingHours(now) >= d.maxHoldHours {
		return &Exit{Reason: state.ExitTimeStop, ZScore: zscore}
	}

	return nil
}
