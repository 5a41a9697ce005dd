package backtest

import (
	"context"
	"math"
	"testing"
	"time"

	"hl-pairs-bot/internal/config"
	"hl-pairs-bot/internal/state"
	"hl-pairs-bot/internal/strategy"
)

const btcTestPrice = 100000.0

func btConfig() *config.Config {
	cfg := config.Default()
	cfg.Strategy.NZ = 8
	cfg.Strategy.EntryZ = 1.5
	cfg.Strategy.TpZ = 0.45
	cfg.Strategy.SlZ = 3.5
	cfg.Strategy.WarmupBars = 8
	cfg.SigmaFloor = config.SigmaFloorConfig{Mode: config.SigmaFloorConst, Const: 1e-9}
	cfg.Risk.ConfirmBarsTP = 0
	cfg.Funding.Disabled = true
	cfg.Execution.SlippageBps = 0
	cfg.Backtest.InitialCapital = 10000
	cfg.Backtest.IncludeFees = true
	cfg.Backtest.FeeBps = 2
	cfg.Backtest.IncludeSlippage = true
	cfg.Backtest.SlippageBps = 5
	return cfg
}

// barSeries keeps BTC fixed so the relative series follows rs exactly.
func barSeries(start time.Time, rs ...float64) []strategy.Bar {
	bars := make([]strategy.Bar, len(rs))
	for i, r := range rs {
		bars[i] = strategy.Bar{
			Timestamp: start.Add(time.Duration(i) * 15 * time.Minute),
			EthPrice:  btcTestPrice * math.Exp(r),
			BtcPrice:  btcTestPrice,
		}
	}
	return bars
}

// roundTripSeries warms the window, spikes into the entry zone, then
// reverts into the take-profit band.
func roundTripSeries(start time.Time) []strategy.Bar {
	rs := []float64{0, 0.001, 0, 0.001, 0, 0.001, 0, 0.001, 0.004, 0.001}
	return barSeries(start, rs...)
}

func TestRunProducesRoundTrip(t *testing.T) {
	cfg := btConfig()
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	report, err := Run(context.Background(), cfg, roundTripSeries(start), Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(report.Trades))
	}
	trade := report.Trades[0]
	if trade.ExitReason != state.ExitTakeProfit {
		t.Fatalf("expected take-profit exit, got %s", trade.ExitReason)
	}
	if trade.GrossPnL <= 0 {
		t.Fatalf("expected positive gross pnl on reversion, got %v", trade.GrossPnL)
	}
	if trade.Fees <= 0 || trade.Slippage <= 0 {
		t.Fatalf("expected fees and slippage charged, got %v / %v", trade.Fees, trade.Slippage)
	}
	wantNet := trade.GrossPnL - trade.Fees - trade.Slippage
	if math.Abs(trade.NetPnL-wantNet) > 1e-9 {
		t.Fatalf("net pnl mismatch: got %v want %v", trade.NetPnL, wantNet)
	}
	if trade.CumulativePnL != trade.NetPnL {
		t.Fatalf("first trade cumulative should equal net, got %v vs %v", trade.CumulativePnL, trade.NetPnL)
	}
	// Warm-up bars do not appear in the outputs.
	if len(report.Bars) != 2 || len(report.Equity) != 2 {
		t.Fatalf("expected 2 replayed bars, got %d bars %d equity points", len(report.Bars), len(report.Equity))
	}
	wantEquity := cfg.Backtest.InitialCapital + trade.NetPnL
	if math.Abs(report.Summary.FinalEquity-wantEquity) > 1e-9 {
		t.Fatalf("final equity mismatch: got %v want %v", report.Summary.FinalEquity, wantEquity)
	}
	if report.Summary.Trades != 1 {
		t.Fatalf("summary trade count: got %d", report.Summary.Trades)
	}
	if len(report.Monthly) != 1 || report.Monthly[0].Month != "2025-06" {
		t.Fatalf("unexpected monthly breakdown: %+v", report.Monthly)
	}
}

func TestRunCostsCanBeDisabled(t *testing.T) {
	cfg := btConfig()
	cfg.Backtest.IncludeFees = false
	cfg.Backtest.IncludeSlippage = false
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)

	report, err := Run(context.Background(), cfg, roundTripSeries(start), Options{})
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(report.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d", len(report.Trades))
	}
	trade := report.Trades[0]
	if trade.Fees != 0 || trade.Slippage != 0 || trade.Funding != 0 {
		t.Fatalf("expected zero costs, got %+v", trade)
	}
	if trade.NetPnL != trade.GrossPnL {
		t.Fatalf("net should equal gross without costs, got %v vs %v", trade.NetPnL, trade.GrossPnL)
	}
}

func TestRunIsDeterministic(t *testing.T) {
	cfg := btConfig()
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	bars := roundTripSeries(start)

	first, err := Run(context.Background(), cfg, bars, Options{})
	if err != nil {
		t.Fatalf("first run: %v", err)
	}
	second, err := Run(context.Background(), cfg, bars, Options{})
	if err != nil {
		t.Fatalf("second run: %v", err)
	}
	if first.Fingerprint() != second.Fingerprint() {
		t.Fatalf("identical runs diverged:\n%s\n%s", first.Fingerprint(), second.Fingerprint())
	}
}

func TestRunRejectsUnorderedBars(t *testing.T) {
	cfg := btConfig()
	start := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	bars := barSeries(start, 0, 0.001, 0)
	bars[2].Timestamp = bars[1].Timestamp

	if _, err := Run(context.Background(), cfg, bars, Options{}); err == nil {
		t.Fatalf("expected ordering error")
	}
}

func TestRunRequiresBars(t *testing.T) {
	if _, err := Run(context.Background(), btConfig(), nil, Options{}); err == nil {
		t.Fatalf("expected error on empty bar sequence")
	}
}
