package strategy

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"hl-pairs-bot/internal/config"
	"hl-pairs-bot/internal/exec"
	"hl-pairs-bot/internal/funding"
	"hl-pairs-bot/internal/state"
)

const btcTestPrice = 100000.0

type scriptedResult struct {
	fill float64
	err  error
}

type fakeExecutor struct {
	submits      map[config.Symbol][]scriptedResult
	closes       map[config.Symbol][]scriptedResult
	submitOrders []exec.OrderRequest
	closeOrders  []exec.OrderRequest
}

func newFakeExecutor() *fakeExecutor {
	return &fakeExecutor{
		submits: make(map[config.Symbol][]scriptedResult),
		closes:  make(map[config.Symbol][]scriptedResult),
	}
}

func (f *fakeExecutor) scriptSubmit(symbol config.Symbol, results ...scriptedResult) {
	f.submits[symbol] = append(f.submits[symbol], results...)
}

func (f *fakeExecutor) scriptClose(symbol config.Symbol, results ...scriptedResult) {
	f.closes[symbol] = append(f.closes[symbol], results...)
}

func (f *fakeExecutor) Submit(_ context.Context, order exec.OrderRequest) (float64, error) {
	f.submitOrders = append(f.submitOrders, order)
	queue := f.submits[order.Symbol]
	if len(queue) == 0 {
		return order.Qty, nil
	}
	next := queue[0]
	f.submits[order.Symbol] = queue[1:]
	if next.err != nil {
		return 0, next.err
	}
	if next.fill == 0 {
		return order.Qty, nil
	}
	return next.fill, nil
}

func (f *fakeExecutor) Close(_ context.Context, order exec.OrderRequest) (float64, error) {
	f.closeOrders = append(f.closeOrders, order)
	queue := f.closes[order.Symbol]
	if len(queue) == 0 {
		return order.Qty, nil
	}
	next := queue[0]
	f.closes[order.Symbol] = queue[1:]
	if next.err != nil {
		return 0, next.err
	}
	if next.fill == 0 {
		return order.Qty, nil
	}
	return next.fill, nil
}

type memStore struct {
	data    map[string]string
	setErr  error
	setOnly bool
}

func newMemStore() *memStore {
	return &memStore{data: make(map[string]string)}
}

func (s *memStore) Get(_ context.Context, key string) (string, bool, error) {
	v, ok := s.data[key]
	return v, ok, nil
}

func (s *memStore) Set(_ context.Context, key, value string) error {
	if s.setErr != nil {
		return s.setErr
	}
	s.data[key] = value
	return nil
}

func (s *memStore) Delete(_ context.Context, key string) error {
	delete(s.data, key)
	return nil
}

func (s *memStore) Close() error { return nil }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Strategy.NZ = 8
	cfg.Strategy.EntryZ = 1.5
	cfg.Strategy.TpZ = 0.45
	cfg.Strategy.SlZ = 3.5
	cfg.SigmaFloor = config.SigmaFloorConfig{Mode: config.SigmaFloorConst, Const: 1e-9}
	cfg.Risk.ConfirmBarsTP = 0
	cfg.Funding.Disabled = true
	cfg.Execution.SlippageBps = 0
	return cfg
}

func newTestEngine(t *testing.T, cfg *config.Config, executor *fakeExecutor, store state.Store) *Engine {
	t.Helper()
	coord := exec.NewCoordinator(executor, exec.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}, nil)
	engine, err := New(cfg, Deps{Store: store, Coordinator: coord})
	if err != nil {
		t.Fatalf("engine init: %v", err)
	}
	return engine
}

// barsFromReturns builds a bar series with a fixed BTC price so the
// relative series r follows the given values exactly.
func barsFromReturns(start time.Time, rs ...float64) []Bar {
	bars := make([]Bar, len(rs))
	for i, r := range rs {
		bars[i] = Bar{
			Timestamp: start.Add(time.Duration(i) * 15 * time.Minute),
			EthPrice:  btcTestPrice * math.Exp(r),
			BtcPrice:  btcTestPrice,
		}
	}
	return bars
}

// warmupReturns fills the 8-bar window with alternating small values,
// leaving |z| below 1 on the last warmup bar.
func warmupReturns() []float64 {
	return []float64{0, 0.001, 0, 0.001, 0, 0.001, 0, 0.001}
}

func processAll(t *testing.T, engine *Engine, bars []Bar) Result {
	t.Helper()
	var last Result
	for _, bar := range bars {
		res, err := engine.ProcessBar(context.Background(), bar)
		if err != nil {
			t.Fatalf("process bar %s: %v", bar.Timestamp, err)
		}
		last = res
	}
	return last
}

func TestEngineEntersOnCrossing(t *testing.T) {
	executor := newFakeExecutor()
	engine := newTestEngine(t, testConfig(), executor, newMemStore())
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	rs := append(warmupReturns(), 0.004)
	res := processAll(t, engine, barsFromReturns(start, rs...))

	if res.Opened == nil {
		t.Fatalf("expected entry on crossing bar")
	}
	if engine.Status() != state.StatusInPosition {
		t.Fatalf("expected IN_POSITION, got %s", engine.Status())
	}
	pos := engine.Position()
	if pos.Direction != state.ShortEthLongBtc {
		t.Fatalf("expected short-eth direction for positive z, got %s", pos.Direction)
	}
	if pos.Eth.Qty >= 0 {
		t.Fatalf("expected negative eth qty, got %v", pos.Eth.Qty)
	}
	if pos.Btc.Qty <= 0 {
		t.Fatalf("expected positive btc qty, got %v", pos.Btc.Qty)
	}
	if len(executor.submitOrders) != 2 {
		t.Fatalf("expected 2 submits, got %d", len(executor.submitOrders))
	}
	if executor.submitOrders[0].Symbol != config.SymbolETH {
		t.Fatalf("expected eth leg first, got %s", executor.submitOrders[0].Symbol)
	}
}

func TestEngineFirstReadyBarNeverEnters(t *testing.T) {
	executor := newFakeExecutor()
	engine := newTestEngine(t, testConfig(), executor, newMemStore())
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	// The window fills on a bar already inside the entry zone: no
	// previous ready bar, so no crossing and no trade.
	rs := []float64{0, 0.0002, 0, 0.0002, 0, 0.0002, 0, 0.01}
	processAll(t, engine, barsFromReturns(start, rs...))

	if engine.Status() != state.StatusFlat {
		t.Fatalf("expected FLAT, got %s", engine.Status())
	}
	if len(executor.submitOrders) != 0 {
		t.Fatalf("expected no submits, got %d", len(executor.submitOrders))
	}
}

func TestEngineTakesProfitAndRecordsTrade(t *testing.T) {
	executor := newFakeExecutor()
	engine := newTestEngine(t, testConfig(), executor, newMemStore())
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	rs := append(warmupReturns(), 0.004)
	bars := barsFromReturns(start, rs...)
	processAll(t, engine, bars)
	if engine.Status() != state.StatusInPosition {
		t.Fatalf("expected IN_POSITION after entry, got %s", engine.Status())
	}

	// Mean reverts: |z| drops to zero, inside the take-profit band.
	tpBar := Bar{
		Timestamp: bars[len(bars)-1].Timestamp.Add(15 * time.Minute),
		EthPrice:  btcTestPrice * math.Exp(0.001),
		BtcPrice:  btcTestPrice,
	}
	res, err := engine.ProcessBar(context.Background(), tpBar)
	if err != nil {
		t.Fatalf("process tp bar: %v", err)
	}
	if res.Closed == nil {
		t.Fatalf("expected trade record on take-profit")
	}
	if res.Closed.ExitReason != state.ExitTakeProfit {
		t.Fatalf("expected take-profit, got %s", res.Closed.ExitReason)
	}
	if engine.Status() != state.StatusFlat {
		t.Fatalf("expected FLAT after take-profit, got %s", engine.Status())
	}
	if len(executor.closeOrders) != 2 {
		t.Fatalf("expected 2 close orders, got %d", len(executor.closeOrders))
	}
	// Short ETH entered near 100401 and closed near 100100.
	if res.Closed.GrossPnL <= 0 {
		t.Fatalf("expected positive pnl on reversion, got %v", res.Closed.GrossPnL)
	}
}

func TestEngineStopLossStartsCooldown(t *testing.T) {
	cfg := testConfig()
	cfg.Strategy.EntryZ = 1.5
	cfg.Strategy.SlZ = 2.2
	executor := newFakeExecutor()
	engine := newTestEngine(t, cfg, executor, newMemStore())
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	rs := append(warmupReturns(), 0.003)
	bars := barsFromReturns(start, rs...)
	processAll(t, engine, bars)
	if engine.Status() != state.StatusInPosition {
		t.Fatalf("expected IN_POSITION after entry, got %s", engine.Status())
	}

	slBar := Bar{
		Timestamp: bars[len(bars)-1].Timestamp.Add(15 * time.Minute),
		EthPrice:  btcTestPrice * math.Exp(0.009),
		BtcPrice:  btcTestPrice,
	}
	res, err := engine.ProcessBar(context.Background(), slBar)
	if err != nil {
		t.Fatalf("process sl bar: %v", err)
	}
	if res.Closed == nil || res.Closed.ExitReason != state.ExitStopLoss {
		t.Fatalf("expected stop-loss exit, got %+v", res.Closed)
	}
	if engine.Status() != state.StatusCooldown {
		t.Fatalf("expected COOLDOWN, got %s", engine.Status())
	}

	// Cooldown is inclusive at the boundary: a bar 24h later is FLAT.
	afterBar := Bar{
		Timestamp: slBar.Timestamp.Add(24 * time.Hour),
		EthPrice:  btcTestPrice * math.Exp(0.001),
		BtcPrice:  btcTestPrice,
	}
	if _, err := engine.ProcessBar(context.Background(), afterBar); err != nil {
		t.Fatalf("process post-cooldown bar: %v", err)
	}
	if engine.Status() != state.StatusFlat {
		t.Fatalf("expected FLAT after cooldown expiry, got %s", engine.Status())
	}
}

func TestEngineCloseSecondLegFailureRepairsResidual(t *testing.T) {
	executor := newFakeExecutor()
	engine := newTestEngine(t, testConfig(), executor, newMemStore())
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	rs := append(warmupReturns(), 0.004)
	bars := barsFromReturns(start, rs...)
	processAll(t, engine, bars)

	executor.scriptClose(config.SymbolBTC,
		scriptedResult{err: exec.Rejected("close", errors.New("venue refusal"))},
		scriptedResult{})
	tpBar := Bar{
		Timestamp: bars[len(bars)-1].Timestamp.Add(15 * time.Minute),
		EthPrice:  btcTestPrice * math.Exp(0.001),
		BtcPrice:  btcTestPrice,
	}
	res, err := engine.ProcessBar(context.Background(), tpBar)
	if err != nil {
		t.Fatalf("process tp bar: %v", err)
	}
	if res.Closed == nil {
		t.Fatalf("expected exit to complete after residual repair")
	}
	if engine.Status() != state.StatusFlat {
		t.Fatalf("expected FLAT after repair, got %s", engine.Status())
	}
	// eth close, failed btc close, then the repair close.
	if len(executor.closeOrders) != 3 {
		t.Fatalf("expected 3 close calls, got %d", len(executor.closeOrders))
	}
	repair := executor.closeOrders[2]
	if repair.Symbol != config.SymbolBTC || repair.Side != exec.SideSell {
		t.Fatalf("expected btc sell repair, got %+v", repair)
	}
}

func TestEngineRollbackFailureTracksResidual(t *testing.T) {
	executor := newFakeExecutor()
	store := newMemStore()
	engine := newTestEngine(t, testConfig(), executor, store)
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	executor.scriptSubmit(config.SymbolBTC,
		scriptedResult{err: exec.Rejected("submit", errors.New("btc leg refused"))})
	executor.scriptClose(config.SymbolETH,
		scriptedResult{err: exec.Rejected("close", errors.New("rollback refused"))},
		scriptedResult{})

	rs := append(warmupReturns(), 0.004)
	bars := barsFromReturns(start, rs...)
	processAll(t, engine, bars)

	if engine.Status() != state.StatusInPosition {
		t.Fatalf("expected residual tracked as IN_POSITION, got %s", engine.Status())
	}
	pos := engine.Position()
	if pos == nil || !pos.HasResidual() {
		t.Fatalf("expected residual position, got %+v", pos)
	}
	if pos.Eth.Qty >= 0 {
		t.Fatalf("expected residual short eth leg, got %v", pos.Eth.Qty)
	}

	// Next bar repairs the residual and returns to FLAT.
	next := Bar{
		Timestamp: bars[len(bars)-1].Timestamp.Add(15 * time.Minute),
		EthPrice:  btcTestPrice * math.Exp(0.004),
		BtcPrice:  btcTestPrice,
	}
	if _, err := engine.ProcessBar(context.Background(), next); err != nil {
		t.Fatalf("process repair bar: %v", err)
	}
	if engine.Status() != state.StatusFlat {
		t.Fatalf("expected FLAT after repair, got %s", engine.Status())
	}
}

func TestEngineFundingFilterVetoesEntry(t *testing.T) {
	cfg := testConfig()
	cfg.Funding.Disabled = false
	cfg.Funding.Modes = []config.FundingMode{config.FundingFilter}
	cfg.Funding.CostThreshold = 1e-9
	executor := newFakeExecutor()
	coord := exec.NewCoordinator(executor, exec.RetryPolicy{MaxAttempts: 1, BaseDelay: time.Millisecond}, nil)
	engine, err := New(cfg, Deps{
		Store:       newMemStore(),
		Coordinator: coord,
		Funding:     costlySource{},
	})
	if err != nil {
		t.Fatalf("engine init: %v", err)
	}
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	rs := append(warmupReturns(), 0.004)
	res := processAll(t, engine, barsFromReturns(start, rs...))

	if engine.Status() != state.StatusFlat {
		t.Fatalf("expected FLAT after funding veto, got %s", engine.Status())
	}
	if len(executor.submitOrders) != 0 {
		t.Fatalf("expected no submits after veto, got %d", len(executor.submitOrders))
	}
	if !res.Record.FundingSkip {
		t.Fatalf("expected funding skip flagged on the veto bar")
	}
	if res.Record.Event != "FUNDING_SKIP" {
		t.Fatalf("expected FUNDING_SKIP event, got %q", res.Record.Event)
	}
	if res.Record.FundingCostEst <= 0 {
		t.Fatalf("expected positive funding cost estimate, got %v", res.Record.FundingCostEst)
	}
}

// costlySource reports funding strongly against any short-eth entry.
type costlySource struct{}

func (costlySource) FetchRate(_ context.Context, symbol config.Symbol, now time.Time) (funding.Rate, error) {
	rate := -0.001
	if symbol == config.SymbolBTC {
		rate = 0.001
	}
	return funding.Rate{Symbol: symbol, Rate: rate, Timestamp: now, IntervalHours: 8}, nil
}

func TestEnginePersistsAcrossRestart(t *testing.T) {
	executor := newFakeExecutor()
	store := newMemStore()
	engine := newTestEngine(t, testConfig(), executor, store)
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	rs := append(warmupReturns(), 0.004)
	bars := barsFromReturns(start, rs...)
	processAll(t, engine, bars)
	if engine.Status() != state.StatusInPosition {
		t.Fatalf("expected IN_POSITION before restart, got %s", engine.Status())
	}

	restarted := newTestEngine(t, testConfig(), newFakeExecutor(), store)
	now := bars[len(bars)-1].Timestamp.Add(15 * time.Minute)
	if err := restarted.Hydrate(context.Background(), now); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if restarted.Status() != state.StatusInPosition {
		t.Fatalf("expected IN_POSITION after restart, got %s", restarted.Status())
	}
	pos := restarted.Position()
	if pos == nil || pos.Direction != state.ShortEthLongBtc {
		t.Fatalf("unexpected position after restart: %+v", pos)
	}
}

func TestEngineHydrateRepairsPersistedResidual(t *testing.T) {
	store := newMemStore()
	residual := state.StrategyState{
		Status: state.StatusInPosition,
		Position: &state.PositionSnapshot{
			Direction: state.ShortEthLongBtc,
			EntryTime: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
			Eth:       state.PositionLeg{Qty: -0.25, AvgPrice: 100000, Notional: 25000},
		},
	}
	if err := state.SaveState(context.Background(), store, residual); err != nil {
		t.Fatalf("seed state: %v", err)
	}

	executor := newFakeExecutor()
	engine := newTestEngine(t, testConfig(), executor, store)
	if err := engine.Hydrate(context.Background(), time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC)); err != nil {
		t.Fatalf("hydrate: %v", err)
	}
	if engine.Status() != state.StatusFlat {
		t.Fatalf("expected FLAT after recovery repair, got %s", engine.Status())
	}
	if len(executor.closeOrders) != 1 {
		t.Fatalf("expected 1 repair close, got %d", len(executor.closeOrders))
	}
	if executor.closeOrders[0].Side != exec.SideBuy {
		t.Fatalf("expected buy to close short eth residual, got %s", executor.closeOrders[0].Side)
	}
}

func TestEnginePausedNeverEnters(t *testing.T) {
	executor := newFakeExecutor()
	engine := newTestEngine(t, testConfig(), executor, newMemStore())
	engine.SetPaused(true)
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	rs := append(warmupReturns(), 0.004)
	processAll(t, engine, barsFromReturns(start, rs...))

	if engine.Status() != state.StatusFlat {
		t.Fatalf("expected FLAT while paused, got %s", engine.Status())
	}
	if len(executor.submitOrders) != 0 {
		t.Fatalf("expected no submits while paused, got %d", len(executor.submitOrders))
	}
}

func TestEnginePausedStillExits(t *testing.T) {
	executor := newFakeExecutor()
	engine := newTestEngine(t, testConfig(), executor, newMemStore())
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	rs := append(warmupReturns(), 0.004)
	bars := barsFromReturns(start, rs...)
	processAll(t, engine, bars)
	if engine.Status() != state.StatusInPosition {
		t.Fatalf("expected IN_POSITION before pause, got %s", engine.Status())
	}

	engine.SetPaused(true)
	tpBar := Bar{
		Timestamp: bars[len(bars)-1].Timestamp.Add(15 * time.Minute),
		EthPrice:  btcTestPrice * math.Exp(0.001),
		BtcPrice:  btcTestPrice,
	}
	res, err := engine.ProcessBar(context.Background(), tpBar)
	if err != nil {
		t.Fatalf("process tp bar: %v", err)
	}
	if res.Closed == nil {
		t.Fatalf("expected exit to proceed while paused")
	}
	if engine.Status() != state.StatusFlat {
		t.Fatalf("expected FLAT after paused exit, got %s", engine.Status())
	}
}

func TestEngineBarRecordCarriesDiagnostics(t *testing.T) {
	executor := newFakeExecutor()
	engine := newTestEngine(t, testConfig(), executor, newMemStore())
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	rs := append(warmupReturns(), 0.004)
	res := processAll(t, engine, barsFromReturns(start, rs...))

	rec := res.Record
	if rec.Event != "ENTRY" {
		t.Fatalf("expected ENTRY event on the entry bar, got %q", rec.Event)
	}
	if rec.WeightEth+rec.WeightBtc != 1 {
		t.Fatalf("expected weights summing to 1, got %v + %v", rec.WeightEth, rec.WeightBtc)
	}
	if rec.EthNotional <= 0 || rec.BtcNotional <= 0 {
		t.Fatalf("expected positive leg notionals, got eth=%v btc=%v", rec.EthNotional, rec.BtcNotional)
	}
	if rec.Direction != state.ShortEthLongBtc {
		t.Fatalf("expected short-eth direction, got %s", rec.Direction)
	}
	if rec.FundingSkip {
		t.Fatalf("expected no funding skip with funding disabled")
	}
}

func TestEngineTimeStopNeverReentersSameBar(t *testing.T) {
	cfg := testConfig()
	cfg.Risk.MaxHoldHours = 1
	executor := newFakeExecutor()
	engine := newTestEngine(t, cfg, executor, newMemStore())
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	rs := append(warmupReturns(), 0.004)
	bars := barsFromReturns(start, rs...)
	processAll(t, engine, bars)
	if engine.Status() != state.StatusInPosition {
		t.Fatalf("expected IN_POSITION after entry, got %s", engine.Status())
	}
	entryTime := bars[len(bars)-1].Timestamp

	// |z| dips below the entry zone while staying above take-profit.
	holdBar := Bar{
		Timestamp: entryTime.Add(15 * time.Minute),
		EthPrice:  btcTestPrice * math.Exp(0.002),
		BtcPrice:  btcTestPrice,
	}
	if _, err := engine.ProcessBar(context.Background(), holdBar); err != nil {
		t.Fatalf("process hold bar: %v", err)
	}
	if engine.Status() != state.StatusInPosition {
		t.Fatalf("expected position held, got %s", engine.Status())
	}

	// The max-hold bar re-crosses the entry threshold. The time stop
	// closes the position and the crossing must not open a new one on
	// the same bar.
	expiredBar := Bar{
		Timestamp: entryTime.Add(2 * time.Hour),
		EthPrice:  btcTestPrice * math.Exp(0.005),
		BtcPrice:  btcTestPrice,
	}
	res, err := engine.ProcessBar(context.Background(), expiredBar)
	if err != nil {
		t.Fatalf("process time-stop bar: %v", err)
	}
	if res.Closed == nil || res.Closed.ExitReason != state.ExitTimeStop {
		t.Fatalf("expected time-stop exit, got %+v", res.Closed)
	}
	if res.Opened != nil {
		t.Fatalf("expected no entry on the exit bar, got %+v", res.Opened)
	}
	if engine.Status() != state.StatusFlat {
		t.Fatalf("expected FLAT after time stop, got %s", engine.Status())
	}
	if len(executor.submitOrders) != 2 {
		t.Fatalf("expected only the original entry submits, got %d", len(executor.submitOrders))
	}
}

func TestEnginePersistFailureKeepsMemoryAndDiskAligned(t *testing.T) {
	executor := newFakeExecutor()
	store := newMemStore()
	engine := newTestEngine(t, testConfig(), executor, store)
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	rs := append(warmupReturns(), 0.004)
	bars := barsFromReturns(start, rs...)
	processAll(t, engine, bars)
	if engine.Status() != state.StatusInPosition {
		t.Fatalf("expected IN_POSITION after entry, got %s", engine.Status())
	}

	store.setErr = errors.New("disk full")
	tpBar := Bar{
		Timestamp: bars[len(bars)-1].Timestamp.Add(15 * time.Minute),
		EthPrice:  btcTestPrice * math.Exp(0.001),
		BtcPrice:  btcTestPrice,
	}
	if _, err := engine.ProcessBar(context.Background(), tpBar); err == nil {
		t.Fatalf("expected persistence error on exit")
	}
	if engine.Status() != state.StatusInPosition {
		t.Fatalf("expected memory reverted to IN_POSITION, got %s", engine.Status())
	}
	durable, found, err := state.LoadState(context.Background(), store)
	if err != nil || !found {
		t.Fatalf("load durable state: found=%v err=%v", found, err)
	}
	if durable.Status != engine.Status() {
		t.Fatalf("memory %s disagrees with durable %s", engine.Status(), durable.Status)
	}
	if durable.Position == nil || engine.Position() == nil {
		t.Fatalf("expected position on both sides, durable=%+v memory=%+v", durable.Position, engine.Position())
	}
}

func TestEnginePersistFailureIsFatalForBar(t *testing.T) {
	executor := newFakeExecutor()
	store := newMemStore()
	engine := newTestEngine(t, testConfig(), executor, store)
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	warm := barsFromReturns(start, warmupReturns()...)
	processAll(t, engine, warm)

	store.setErr = errors.New("disk full")
	entryBar := Bar{
		Timestamp: warm[len(warm)-1].Timestamp.Add(15 * time.Minute),
		EthPrice:  btcTestPrice * math.Exp(0.004),
		BtcPrice:  btcTestPrice,
	}
	if _, err := engine.ProcessBar(context.Background(), entryBar); err == nil {
		t.Fatalf("expected persistence error")
	}
}
