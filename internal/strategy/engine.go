package strategy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"hl-pairs-bot/internal/config"
	"hl-pairs-bot/internal/exec"
	"hl-pairs-bot/internal/funding"
	"hl-pairs-bot/internal/indicator"
	"hl-pairs-bot/internal/metrics"
	"hl-pairs-bot/internal/position"
	"hl-pairs-bot/internal/signal"
	"hl-pairs-bot/internal/state"
)

// Alerter delivers operator notifications.
type Alerter interface {
	Send(ctx context.Context, message string) error
}

// EquityFunc reports current account equity in USD.
type EquityFunc func(ctx context.Context) (float64, error)

// Deps are the collaborators the engine drives each bar.
type Deps struct {
	Store       state.Store
	Coordinator *exec.Coordinator
	Funding     funding.Source
	Metrics     *metrics.Metrics
	Alerts      Alerter
	Equity      EquityFunc
	Log         *zap.Logger
}

// Engine runs one pass of the mean-reversion lifecycle per bar:
// cooldown bookkeeping, residual repair, indicator update, exit
// checks, then entry checks. All trading goes through the pair
// coordinator so a broken hedge is always visible in the state.
type Engine struct {
	cfg     *config.Config
	log     *zap.Logger
	machine *state.Machine
	store   state.Store
	coord   *exec.Coordinator
	zcalc   *indicator.ZScoreCalculator
	volcalc *indicator.VolatilityCalculator
	entries *signal.EntryDetector
	exits   *signal.ExitDetector
	funding *funding.Fetcher
	sizers  map[config.Symbol]*position.SizeConverter
	metrics *metrics.Metrics
	alerts  Alerter
	equity  EquityFunc

	paused atomic.Bool
	entryZ float64

	// per-bar journal notes, reset at the top of ProcessBar
	barEvents      []string
	barFundingCost float64
	barFundingSkip bool
}

func New(cfg *config.Config, deps Deps) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if deps.Coordinator == nil {
		return nil, errors.New("coordinator is required")
	}
	if cfg.Position.CapitalMode == config.CapitalEquityRatio && deps.Equity == nil {
		return nil, errors.New("equity source is required for equity-ratio capital")
	}
	zcalc, err := indicator.NewZScoreCalculator(cfg.Strategy.NZ, cfg.SigmaFloor)
	if err != nil {
		return nil, err
	}
	volcalc, err := indicator.NewVolatilityCalculator(cfg.Position.NVol)
	if err != nil {
		return nil, err
	}
	sizers := make(map[config.Symbol]*position.SizeConverter, len(cfg.Instruments))
	for symbol, constraint := range cfg.Instruments {
		sizer, err := position.NewSizeConverter(constraint, cfg.Position.MinSizePolicy)
		if err != nil {
			return nil, fmt.Errorf("sizer for %s: %w", symbol, err)
		}
		sizers[symbol] = sizer
	}
	for _, symbol := range []config.Symbol{config.SymbolETH, config.SymbolBTC} {
		if _, ok := sizers[symbol]; !ok {
			return nil, fmt.Errorf("missing instrument constraints for %s", symbol)
		}
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop()
	}
	m := deps.Metrics
	if m == nil {
		m = metrics.NewNoop()
	}
	fundingSource := deps.Funding
	if fundingSource == nil {
		fundingSource = funding.ZeroSource{}
	}
	return &Engine{
		cfg:     cfg,
		log:     log,
		machine: state.NewMachine(cfg.Risk.CooldownHours),
		store:   deps.Store,
		coord:   deps.Coordinator,
		zcalc:   zcalc,
		volcalc: volcalc,
		entries: signal.NewEntryDetector(cfg.Strategy),
		exits:   signal.NewExitDetector(cfg.Strategy, cfg.Risk),
		funding: funding.NewFetcher(fundingSource),
		sizers:  sizers,
		metrics: m,
		alerts:  deps.Alerts,
		equity:  deps.Equity,
	}, nil
}

func (e *Engine) Status() state.Status {
	return e.machine.Status()
}

func (e *Engine) Position() *state.PositionSnapshot {
	return e.machine.Position()
}

// SetPaused blocks new entries while leaving exits, cooldown
// bookkeeping, and residual repair active. Safe to flip from the
// operator goroutine while the bar loop runs.
func (e *Engine) SetPaused(paused bool) {
	e.paused.Store(paused)
}

func (e *Engine) Paused() bool {
	return e.paused.Load()
}

// Hydrate restores persisted state, normalizes it, and performs the
// repairs recovery flagged. It never opens or widens exposure.
func (e *Engine) Hydrate(ctx context.Context, now time.Time) error {
	loaded, found, err := state.LoadState(ctx, e.store)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}
	report := state.Recover(loaded, now)
	for _, msg := range report.Alerts {
		e.log.Warn("recovery", zap.String("detail", msg))
		e.notify(ctx, "Recovery: "+msg)
	}
	if err := e.machine.Hydrate(report.State); err != nil {
		return err
	}
	for _, action := range report.Actions {
		if action != state.RecoveryRepairResidual {
			continue
		}
		pos := e.machine.Position()
		if pos == nil {
			continue
		}
		if err := e.coord.RepairResidual(ctx, *pos); err != nil {
			e.log.Error("recovery repair failed", zap.Error(err))
			e.notify(ctx, fmt.Sprintf("Recovery repair failed: %v", err))
			continue
		}
		e.metrics.ResidualRepairs.Inc()
		e.machine.ForceFlat()
	}
	if found || len(report.Actions) > 0 {
		if err := e.persist(ctx); err != nil {
			return err
		}
	}
	e.log.Info("state hydrated", zap.String("status", string(e.machine.Status())))
	return nil
}

// Warmup replays historical bars through the indicators and the entry
// detector without trading, so the first live bar has full context.
func (e *Engine) Warmup(bars []Bar) error {
	for _, bar := range bars {
		r, err := indicator.RelativePrice(bar.EthPrice, bar.BtcPrice)
		if err != nil {
			return fmt.Errorf("warmup bar %s: %w", bar.Timestamp.Format(time.RFC3339), err)
		}
		snap := e.zcalc.Update(r)
		if _, err := e.volcalc.Update(bar.EthPrice, bar.BtcPrice); err != nil {
			return err
		}
		e.entries.Update(snap.ZScore, snap.Ready, state.StatusCooldown)
	}
	e.log.Info("warmup complete", zap.Int("bars", len(bars)))
	return nil
}

// ProcessBar runs the full lifecycle for one closed bar. The returned
// error is fatal for the bar only; the engine stays consistent and the
// next bar can proceed.
func (e *Engine) ProcessBar(ctx context.Context, bar Bar) (Result, error) {
	if bar.EthPrice <= 0 || bar.BtcPrice <= 0 {
		return Result{}, fmt.Errorf("non-positive bar prices eth=%v btc=%v", bar.EthPrice, bar.BtcPrice)
	}
	now := bar.Timestamp
	e.barEvents = nil
	e.barFundingCost = 0
	e.barFundingSkip = false

	prior := e.machine.State()
	e.machine.Update(now)
	if e.machine.Status() != prior.Status {
		e.log.Info("cooldown expired")
		if err := e.commit(ctx, prior); err != nil {
			return Result{}, err
		}
	}

	if pos := e.machine.Position(); pos != nil && pos.HasResidual() {
		prior := e.machine.State()
		if err := e.repairAndFlatten(ctx, *pos); err != nil {
			rec := e.observeOnly(bar)
			return Result{Record: rec}, nil
		}
		if err := e.commit(ctx, prior); err != nil {
			return Result{}, err
		}
	}

	// Exit and entry checks both read the status the bar settled with
	// here, so a close and a fresh entry can never share a bar.
	barStatus := e.machine.Status()

	r, err := indicator.RelativePrice(bar.EthPrice, bar.BtcPrice)
	if err != nil {
		return Result{}, err
	}
	zs := e.zcalc.Update(r)
	vols, err := e.volcalc.Update(bar.EthPrice, bar.BtcPrice)
	if err != nil {
		return Result{}, err
	}
	e.metrics.ZScore.Set(zs.ZScore)

	volEth, volBtc := 0.0, 0.0
	if vols.BothOK() {
		volEth, volBtc = vols.VolEth, vols.VolBtc
	}
	weights := position.RiskParityWeights(volEth, volBtc)

	res := Result{Record: BarRecord{
		Timestamp: now,
		EthPrice:  bar.EthPrice,
		BtcPrice:  bar.BtcPrice,
		R:         zs.R,
		Mean:      zs.Mean,
		Sigma:     zs.Sigma,
		SigmaEff:  zs.SigmaEff,
		ZScore:    zs.ZScore,
		Ready:     zs.Ready,
		VolEth:    volEth,
		VolBtc:    volBtc,
		WeightEth: weights.Eth,
		WeightBtc: weights.Btc,
	}}

	if barStatus == state.StatusInPosition {
		exit := e.exits.Evaluate(zs.ZScore, zs.Ready, barStatus, e.machine.Position(), now)
		if exit != nil {
			closed, err := e.closePosition(ctx, bar, *exit)
			if err != nil {
				return res, err
			}
			res.Closed = closed
		}
	}

	detectorStatus := barStatus
	if e.paused.Load() {
		// Keep crossing memory current without letting the detector fire.
		detectorStatus = state.StatusCooldown
	}
	entry := e.entries.Update(zs.ZScore, zs.Ready, detectorStatus)
	if entry != nil {
		opened, err := e.openPosition(ctx, bar, zs, weights, *entry)
		if err != nil {
			return res, err
		}
		res.Opened = opened
	}

	res.Record.Event = strings.Join(e.barEvents, ",")
	res.Record.FundingCostEst = e.barFundingCost
	res.Record.FundingSkip = e.barFundingSkip
	res.Record.Status = e.machine.Status()
	if pos := e.machine.Position(); pos != nil {
		res.Record.Direction = pos.Direction
		res.Record.EthNotional = pos.Eth.Notional
		res.Record.BtcNotional = pos.Btc.Notional
	}
	return res, nil
}

func (e *Engine) note(event string) {
	e.barEvents = append(e.barEvents, event)
}

// observeOnly records the bar through the indicators when trading is
// blocked, keeping rolling windows and crossing memory current.
func (e *Engine) observeOnly(bar Bar) BarRecord {
	r, err := indicator.RelativePrice(bar.EthPrice, bar.BtcPrice)
	if err != nil {
		return BarRecord{Timestamp: bar.Timestamp, EthPrice: bar.EthPrice, BtcPrice: bar.BtcPrice}
	}
	zs := e.zcalc.Update(r)
	_, _ = e.volcalc.Update(bar.EthPrice, bar.BtcPrice)
	e.entries.Update(zs.ZScore, zs.Ready, state.StatusCooldown)
	rec := BarRecord{
		Timestamp: bar.Timestamp,
		EthPrice:  bar.EthPrice,
		BtcPrice:  bar.BtcPrice,
		R:         zs.R,
		Mean:      zs.Mean,
		Sigma:     zs.Sigma,
		SigmaEff:  zs.SigmaEff,
		ZScore:    zs.ZScore,
		Ready:     zs.Ready,
		Event:     strings.Join(e.barEvents, ","),
		Status:    e.machine.Status(),
	}
	if pos := e.machine.Position(); pos != nil {
		rec.Direction = pos.Direction
		rec.EthNotional = pos.Eth.Notional
		rec.BtcNotional = pos.Btc.Notional
	}
	return rec
}

func (e *Engine) repairAndFlatten(ctx context.Context, pos state.PositionSnapshot) error {
	if err := e.coord.RepairResidual(ctx, pos); err != nil {
		e.note("RESIDUAL_REPAIR_FAILED")
		e.log.Error("residual repair failed", zap.Error(err))
		e.notify(ctx, fmt.Sprintf("Residual repair failed: %v", err))
		return err
	}
	e.metrics.ResidualRepairs.Inc()
	e.note("RESIDUAL_REPAIR")
	e.log.Info("residual leg repaired")
	e.machine.ForceFlat()
	return nil
}

func (e *Engine) closePosition(ctx context.Context, bar Bar, exit signal.Exit) (*TradeRecord, error) {
	prior := e.machine.State()
	pos := *e.machine.Position()
	ethOrder := e.closeOrder(config.SymbolETH, pos.Eth, bar.EthPrice)
	btcOrder := e.closeOrder(config.SymbolBTC, pos.Btc, bar.BtcPrice)

	if err := e.coord.ClosePair(ctx, ethOrder, btcOrder); err != nil {
		e.metrics.OrdersFailed.Inc()
		if exec.KindOf(err) != exec.KindPartialFill {
			e.log.Error("close pair failed", zap.Error(err))
			e.notify(ctx, fmt.Sprintf("Close failed (%s): %v", exit.Reason, err))
			return nil, nil
		}
		e.metrics.PartialFills.Inc()
		residual := pos
		residual.Eth = state.PositionLeg{}
		if repairErr := e.coord.RepairResidual(ctx, residual); repairErr != nil {
			e.log.Error("close left residual", zap.Error(repairErr))
			e.notify(ctx, fmt.Sprintf("Residual after close, repair failed: %v", repairErr))
			if setErr := e.machine.SetPosition(residual); setErr != nil {
				return nil, setErr
			}
			return nil, e.commit(ctx, prior)
		}
		e.metrics.ResidualRepairs.Inc()
	}

	if err := e.machine.Exit(exit.Reason, bar.Timestamp); err != nil {
		return nil, err
	}
	if err := e.commit(ctx, prior); err != nil {
		return nil, err
	}
	e.metrics.OrdersPlaced.Inc()
	e.metrics.OrdersPlaced.Inc()
	e.note("EXIT_" + string(exit.Reason))
	switch exit.Reason {
	case state.ExitTakeProfit:
		e.metrics.ExitsTakeProfit.Inc()
	case state.ExitStopLoss:
		e.metrics.ExitsStopLoss.Inc()
	case state.ExitTimeStop:
		e.metrics.ExitsTimeStop.Inc()
	}

	trade := e.tradeRecord(ctx, pos, bar, exit)
	e.log.Info("position closed",
		zap.String("reason", string(exit.Reason)),
		zap.Float64("z", exit.ZScore),
		zap.Float64("gross_pnl", trade.GrossPnL))
	e.notify(ctx, fmt.Sprintf("Closed %s (%s) pnl %.2f USD", pos.Direction, exit.Reason, trade.GrossPnL))
	return &trade, nil
}

func (e *Engine) tradeRecord(ctx context.Context, pos state.PositionSnapshot, bar Bar, exit signal.Exit) TradeRecord {
	gross := pos.Eth.Qty*(bar.EthPrice-pos.Eth.AvgPrice) + pos.Btc.Qty*(bar.BtcPrice-pos.Btc.AvgPrice)
	fundingCost := 0.0
	if !e.cfg.Funding.Disabled {
		if snap, err := e.funding.FetchPairRates(ctx, bar.Timestamp); err == nil {
			fundingCost = funding.AccruedCost(pos.Direction, pos.Eth.Notional, pos.Btc.Notional, snap, pos.HoldingHours(bar.Timestamp))
		}
	}
	return TradeRecord{
		Direction:     pos.Direction,
		EntryTime:     pos.EntryTime,
		ExitTime:      bar.Timestamp,
		EntryZ:        e.entryZ,
		ExitZ:         exit.ZScore,
		ExitReason:    exit.Reason,
		EthQty:        pos.Eth.Qty,
		BtcQty:        pos.Btc.Qty,
		EthEntryPrice: pos.Eth.AvgPrice,
		BtcEntryPrice: pos.Btc.AvgPrice,
		EthExitPrice:  bar.EthPrice,
		BtcExitPrice:  bar.BtcPrice,
		Notional:      pos.TotalNotional(),
		GrossPnL:      gross,
		FundingCost:   fundingCost,
	}
}

func (e *Engine) openPosition(ctx context.Context, bar Bar, zs indicator.ZScoreSnapshot, weights position.Weights, entry signal.Entry) (*state.PositionSnapshot, error) {
	prior := e.machine.State()
	equity := 0.0
	if e.cfg.Position.CapitalMode == config.CapitalEquityRatio {
		var err error
		equity, err = e.equity(ctx)
		if err != nil {
			e.log.Warn("equity fetch failed, skipping entry", zap.Error(err))
			return nil, nil
		}
		e.metrics.Equity.Set(equity)
	}
	capital, err := position.ComputeCapital(e.cfg.Position, equity)
	if err != nil {
		return nil, err
	}

	if !e.cfg.Funding.Disabled {
		snap, err := e.funding.FetchPairRates(ctx, bar.Timestamp)
		if err != nil {
			e.log.Warn("funding fetch failed, entering without funding controls", zap.Error(err))
		} else {
			estimate, err := funding.EstimateCost(entry.Direction, capital*weights.Eth, capital*weights.Btc, snap, e.cfg.Risk.MaxHoldHours)
			if err != nil {
				return nil, err
			}
			e.barFundingCost = estimate.CostEst
			decision := funding.ApplyControls(e.cfg.Funding, e.cfg.Strategy.EntryZ, capital, estimate)
			if decision.ShouldSkip {
				e.metrics.FundingSkips.Inc()
				e.barFundingSkip = true
				e.note("FUNDING_SKIP")
				e.log.Info("entry vetoed by funding filter",
					zap.Float64("normalized_cost", estimate.Normalized))
				return nil, nil
			}
			if !e.entries.EntryZone(zs.ZScore, decision.AdjustedEntryZ) {
				e.barFundingSkip = true
				e.note("FUNDING_SKIP")
				e.log.Info("entry below funding-adjusted threshold",
					zap.Float64("z", zs.ZScore),
					zap.Float64("adjusted_entry_z", decision.AdjustedEntryZ))
				return nil, nil
			}
			capital = decision.AdjustedCapital
		}
	}

	ethSize, err := e.sizers[config.SymbolETH].ConvertNotional(capital*weights.Eth, bar.EthPrice)
	if err != nil {
		return nil, e.skipOnSizeError(config.SymbolETH, err)
	}
	btcSize, err := e.sizers[config.SymbolBTC].ConvertNotional(capital*weights.Btc, bar.BtcPrice)
	if err != nil {
		return nil, e.skipOnSizeError(config.SymbolBTC, err)
	}

	ethSide, btcSide := exec.SideBuy, exec.SideSell
	if entry.Direction == state.ShortEthLongBtc {
		ethSide, btcSide = exec.SideSell, exec.SideBuy
	}
	ethOrder := exec.OrderRequest{
		Symbol:     config.SymbolETH,
		Side:       ethSide,
		Qty:        ethSize.Qty,
		LimitPrice: e.limitPrice(bar.EthPrice, ethSide),
	}
	btcOrder := exec.OrderRequest{
		Symbol:     config.SymbolBTC,
		Side:       btcSide,
		Qty:        btcSize.Qty,
		LimitPrice: e.limitPrice(bar.BtcPrice, btcSide),
	}

	fill, err := e.coord.OpenPair(ctx, ethOrder, btcOrder)
	if err != nil {
		e.metrics.OrdersFailed.Inc()
		switch exec.KindOf(err) {
		case exec.KindRollbackFailed:
			e.metrics.RollbackFailures.Inc()
			residual := state.PositionSnapshot{
				Direction: entry.Direction,
				EntryTime: bar.Timestamp,
				Eth: state.PositionLeg{
					Qty:      signedQty(fill.EthQty, ethSide),
					AvgPrice: bar.EthPrice,
					Notional: fill.EthQty * bar.EthPrice,
				},
			}
			if enterErr := e.machine.Enter(residual, bar.Timestamp); enterErr != nil {
				return nil, enterErr
			}
			e.note("ROLLBACK_FAILED")
			e.log.Error("rollback failed, tracking residual leg", zap.Error(err))
			e.notify(ctx, fmt.Sprintf("Rollback failed, residual ETH %.4f: %v", fill.EthQty, err))
			return nil, e.commit(ctx, prior)
		case exec.KindPartialFill:
			e.metrics.PartialFills.Inc()
			e.note("ENTRY_ROLLED_BACK")
			e.log.Warn("entry partial fill rolled back", zap.Error(err))
			e.notify(ctx, fmt.Sprintf("Entry rolled back: %v", err))
			return nil, nil
		default:
			e.log.Error("entry failed", zap.Error(err))
			return nil, nil
		}
	}

	pos := state.PositionSnapshot{
		Direction: entry.Direction,
		EntryTime: bar.Timestamp,
		Eth: state.PositionLeg{
			Qty:      signedQty(fill.EthQty, ethSide),
			AvgPrice: bar.EthPrice,
			Notional: fill.EthQty * bar.EthPrice,
		},
		Btc: state.PositionLeg{
			Qty:      signedQty(fill.BtcQty, btcSide),
			AvgPrice: bar.BtcPrice,
			Notional: fill.BtcQty * bar.BtcPrice,
		},
	}
	if err := e.machine.Enter(pos, bar.Timestamp); err != nil {
		return nil, err
	}
	if err := e.commit(ctx, prior); err != nil {
		return nil, err
	}
	e.entryZ = entry.ZScore
	e.note("ENTRY")
	e.metrics.EntriesOpened.Inc()
	e.metrics.OrdersPlaced.Inc()
	e.metrics.OrdersPlaced.Inc()
	e.log.Info("position opened",
		zap.String("direction", string(entry.Direction)),
		zap.Float64("z", entry.ZScore),
		zap.Float64("eth_qty", pos.Eth.Qty),
		zap.Float64("btc_qty", pos.Btc.Qty))
	e.notify(ctx, fmt.Sprintf("Opened %s at z=%.2f notional %.0f USD", entry.Direction, entry.ZScore, pos.TotalNotional()))
	return &pos, nil
}

func (e *Engine) skipOnSizeError(symbol config.Symbol, err error) error {
	if errors.Is(err, position.ErrBelowMinimum) {
		e.note("SIZE_SKIP")
		e.log.Info("entry skipped, order below minimum", zap.String("symbol", string(symbol)))
		return nil
	}
	return fmt.Errorf("sizing %s: %w", symbol, err)
}

func (e *Engine) closeOrder(symbol config.Symbol, leg state.PositionLeg, price float64) exec.OrderRequest {
	side := exec.CloseSideFor(leg.Qty)
	return exec.OrderRequest{
		Symbol:     symbol,
		Side:       side,
		Qty:        absQty(leg.Qty),
		LimitPrice: e.limitPrice(price, side),
	}
}

// limitPrice pads the bar price so an IOC order crosses the book.
func (e *Engine) limitPrice(price float64, side exec.OrderSide) float64 {
	pad := e.cfg.Execution.SlippageBps / 10000
	if side == exec.SideBuy {
		return price * (1 + pad)
	}
	return price * (1 - pad)
}

// commit persists the current machine state. On failure the in-memory
// machine reverts to prior, so memory never runs ahead of the durable
// record.
func (e *Engine) commit(ctx context.Context, prior state.StrategyState) error {
	err := e.persist(ctx)
	if err == nil {
		return nil
	}
	if revertErr := e.machine.Hydrate(prior); revertErr != nil {
		e.log.Error("state revert failed", zap.Error(revertErr))
	}
	return err
}

func (e *Engine) persist(ctx context.Context) error {
	if e.store == nil {
		return nil
	}
	if err := state.SaveState(ctx, e.store, e.machine.State()); err != nil {
		e.metrics.PersistFailures.Inc()
		return fmt.Errorf("persist state: %w", err)
	}
	return nil
}

func (e *Engine) notify(ctx context.Context, message string) {
	if e.alerts == nil {
		return
	}
	if err := e.alerts.Send(ctx, message); err != nil {
		e.log.Warn("alert send failed", zap.Error(err))
	}
}

func signedQty(qty float64, side exec.OrderSide) float64 {
	if side == exec.SideSell {
		return -qty
	}
	return qty
}

func absQty(qty float64) float64 {
	if qty < 0 {
		return -qty
	}
	return qty
}
