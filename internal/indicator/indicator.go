package indicator

import (
	"errors"
	"fmt"
	"math"

	"hl-pairs-bot/internal/config"
)

// sigmaEpsilon keeps the z-score denominator away from zero.
const sigmaEpsilon = 1e-12

// RelativePrice is ln(eth) - ln(btc), the series the z-score tracks.
func RelativePrice(eth, btc float64) (float64, error) {
	if eth <= 0 || btc <= 0 {
		return 0, fmt.Errorf("prices must be > 0: eth=%v btc=%v", eth, btc)
	}
	return math.Log(eth) - math.Log(btc), nil
}

func LogReturn(current, previous float64) (float64, error) {
	if current <= 0 || previous <= 0 {
		return 0, fmt.Errorf("prices must be > 0: current=%v previous=%v", current, previous)
	}
	return math.Log(current / previous), nil
}

// EwmaStd runs an exponentially weighted mean/variance pass over values
// with decay 0.5^(1/halfLife).
func EwmaStd(values []float64, halfLife int) (float64, bool) {
	if len(values) < 2 || halfLife <= 0 {
		return 0, false
	}
	decay := math.Pow(0.5, 1/float64(halfLife))
	alpha := 1 - decay
	mean := values[0]
	variance := 0.0
	for _, v := range values[1:] {
		mean += alpha * (v - mean)
		diff := v - mean
		variance = alpha*diff*diff + (1-alpha)*variance
	}
	return math.Sqrt(variance), true
}

// SigmaFloorCalculator produces the lower bound applied to the rolling
// sigma before the z-score division.
type SigmaFloorCalculator struct {
	mode         config.SigmaFloorMode
	floorConst   float64
	window       int
	quantileP    float64
	ewmaHalfLife int
	history      *RollingWindow
}

// NewSigmaFloorCalculator validates only the fields the configured mode
// reads, so a CONST config needs no quantile or EWMA settings.
func NewSigmaFloorCalculator(cfg config.SigmaFloorConfig) (*SigmaFloorCalculator, error) {
	switch cfg.Mode {
	case config.SigmaFloorConst:
		if cfg.Const <= 0 {
			return nil, errors.New("sigma floor const must be > 0")
		}
	case config.SigmaFloorQuantile:
		if cfg.QuantileP <= 0 || cfg.QuantileP > 1 {
			return nil, errors.New("sigma floor quantile_p must be in (0,1]")
		}
	case config.SigmaFloorEwmaMix:
		if cfg.QuantileP <= 0 || cfg.QuantileP > 1 {
			return nil, errors.New("sigma floor quantile_p must be in (0,1]")
		}
		if cfg.EwmaHalfLife <= 0 {
			return nil, errors.New("sigma floor ewma_half_life must be > 0")
		}
	default:
		return nil, fmt.Errorf("sigma floor mode %q is not supported", cfg.Mode)
	}
	windowSize := cfg.QuantileWindow
	if windowSize < 1 {
		windowSize = 1
	}
	history, err := NewRollingWindow(windowSize)
	if err != nil {
		return nil, err
	}
	return &SigmaFloorCalculator{
		mode:         cfg.Mode,
		floorConst:   cfg.Const,
		window:       windowSize,
		quantileP:    cfg.QuantileP,
		ewmaHalfLife: cfg.EwmaHalfLife,
		history:      history,
	}, nil
}

// Update records the latest sigma and returns the floor once enough
// history has accumulated for the configured mode.
func (c *SigmaFloorCalculator) Update(sigma float64, rValues []float64) (float64, bool) {
	c.history.Push(sigma)
	switch c.mode {
	case config.SigmaFloorConst:
		return c.floorConst, true
	case config.SigmaFloorQuantile:
		if c.history.Len() < c.window {
			return 0, false
		}
		return c.history.Quantile(c.quantileP)
	case config.SigmaFloorEwmaMix:
		if c.history.Len() < c.window {
			return 0, false
		}
		quantile, ok := c.history.Quantile(c.quantileP)
		if !ok {
			return 0, false
		}
		ewma, ok := EwmaStd(rValues, c.ewmaHalfLife)
		if !ok {
			return 0, false
		}
		return math.Max(ewma, quantile), true
	}
	return 0, false
}

// ZScoreSnapshot carries the per-bar indicator output. Mean and Sigma
// are valid once WindowFull, ZScore once Ready.
type ZScoreSnapshot struct {
	R          float64
	Mean       float64
	Sigma      float64
	SigmaFloor float64
	SigmaEff   float64
	ZScore     float64
	WindowFull bool
	Ready      bool
}

type ZScoreCalculator struct {
	nZ         int
	window     *RollingWindow
	sigmaFloor *SigmaFloorCalculator
}

func NewZScoreCalculator(nZ int, floorCfg config.SigmaFloorConfig) (*ZScoreCalculator, error) {
	if nZ <= 0 {
		return nil, errors.New("n_z must be > 0")
	}
	window, err := NewRollingWindow(nZ)
	if err != nil {
		return nil, err
	}
	sigmaFloor, err := NewSigmaFloorCalculator(floorCfg)
	if err != nil {
		return nil, err
	}
	return &ZScoreCalculator{nZ: nZ, window: window, sigmaFloor: sigmaFloor}, nil
}

func (c *ZScoreCalculator) Update(r float64) ZScoreSnapshot {
	c.window.Push(r)
	if c.window.Len() < c.nZ {
		return ZScoreSnapshot{R: r}
	}
	mean, _ := c.window.Mean()
	sigma, ok := c.window.Std()
	if !ok {
		sigma = 0
	}
	floor, ready := c.sigmaFloor.Update(sigma, c.window.Values())
	snapshot := ZScoreSnapshot{
		R:          r,
		Mean:       mean,
		Sigma:      sigma,
		WindowFull: true,
	}
	if !ready {
		return snapshot
	}
	sigmaEff := math.Max(math.Max(sigma, floor), sigmaEpsilon)
	snapshot.SigmaFloor = floor
	snapshot.SigmaEff = sigmaEff
	snapshot.ZScore = (r - mean) / sigmaEff
	snapshot.Ready = true
	return snapshot
}

// VolatilitySnapshot holds per-leg rolling vols over log returns.
type VolatilitySnapshot struct {
	VolEth float64
	VolBtc float64
	EthOK  bool
	BtcOK  bool
}

func (s VolatilitySnapshot) BothOK() bool {
	return s.EthOK && s.BtcOK
}

type VolatilityCalculator struct {
	nVol       int
	ethReturns *RollingWindow
	btcReturns *RollingWindow
	lastEth    float64
	lastBtc    float64
	seeded     bool
}

func NewVolatilityCalculator(nVol int) (*VolatilityCalculator, error) {
	if nVol <= 0 {
		return nil, errors.New("n_vol must be > 0")
	}
	ethReturns, err := NewRollingWindow(nVol)
	if err != nil {
		return nil, err
	}
	btcReturns, err := NewRollingWindow(nVol)
	if err != nil {
		return nil, err
	}
	return &VolatilityCalculator{nVol: nVol, ethReturns: ethReturns, btcReturns: btcReturns}, nil
}

func (c *VolatilityCalculator) Update(ethPrice, btcPrice float64) (VolatilitySnapshot, error) {
	if ethPrice <= 0 || btcPrice <= 0 {
		return VolatilitySnapshot{}, fmt.Errorf("prices must be > 0: eth=%v btc=%v", ethPrice, btcPrice)
	}
	if c.seeded {
		ethRet, err := LogReturn(ethPrice, c.lastEth)
		if err != nil {
			return VolatilitySnapshot{}, err
		}
		btcRet, err := LogReturn(btcPrice, c.lastBtc)
		if err != nil {
			return VolatilitySnapshot{}, err
		}
		c.ethReturns.Push(ethRet)
		c.btcReturns.Push(btcRet)
	}
	c.lastEth = ethPrice
	c.lastBtc = btcPrice
	c.seeded = true

	var snapshot VolatilitySnapshot
	if c.ethReturns.Len() >= c.nVol {
		snapshot.VolEth, snapshot.EthOK = c.ethReturns.Std()
	}
	if c.btcReturns.Len() >= c.nVol {
		snapshot.VolBtc, snapshot.BtcOK = c.btcReturns.Std()
	}
	return snapshot, nil
}
