package backtest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"hl-pairs-bot/internal/config"
	"hl-pairs-bot/internal/exec"
	"hl-pairs-bot/internal/funding"
	"hl-pairs-bot/internal/state"
	"hl-pairs-bot/internal/strategy"
)

// Trade is a closed round trip with simulated execution costs applied.
type Trade struct {
	strategy.TradeRecord
	Fees          float64
	Slippage      float64
	Funding       float64
	NetPnL        float64
	CumulativePnL float64
}

// EquityPoint marks account equity after one bar, open position included
// at that bar's prices.
type EquityPoint struct {
	Timestamp time.Time
	Equity    float64
}

// Report is the full output of one backtest run.
type Report struct {
	Config  config.BacktestConfig
	Start   time.Time
	End     time.Time
	Bars    []strategy.BarRecord
	Trades  []Trade
	Equity  []EquityPoint
	Summary Summary
	Monthly []MonthlyPnL
}

// Options tune the simulation beyond what the config carries.
type Options struct {
	// Funding supplies rates for funding controls and accrued-cost
	// bookkeeping. Defaults to zero rates.
	Funding funding.Source
	Log     *zap.Logger
}

// Run replays the strategy over an ordered bar sequence through an
// instant-fill executor. The decision pipeline is the live one; only
// the execution adapter and the costs model differ. The same config
// and bars always produce the same report.
func Run(ctx context.Context, cfg *config.Config, bars []strategy.Bar, opts Options) (*Report, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if len(bars) == 0 {
		return nil, errors.New("no bars to replay")
	}
	for i := 1; i < len(bars); i++ {
		if !bars[i].Timestamp.After(bars[i-1].Timestamp) {
			return nil, fmt.Errorf("bars out of order at index %d (%s)", i, bars[i].Timestamp.Format(time.RFC3339))
		}
	}
	log := opts.Log
	if log == nil {
		log = zap.NewNop()
	}

	initial := cfg.Backtest.InitialCapital
	if initial <= 0 {
		return nil, errors.New("initial capital must be positive")
	}
	realized := initial

	coord := exec.NewCoordinator(exec.PaperExecutor{}, exec.RetryPolicy{MaxAttempts: 1}, log)
	engine, err := strategy.New(cfg, strategy.Deps{
		Store:       state.NewMemoryStore(),
		Coordinator: coord,
		Funding:     opts.Funding,
		Log:         log,
		Equity: func(context.Context) (float64, error) {
			return realized, nil
		},
	})
	if err != nil {
		return nil, err
	}

	warmup := cfg.Strategy.WarmupBars
	if warmup > len(bars) {
		warmup = len(bars)
	}
	if err := engine.Warmup(bars[:warmup]); err != nil {
		return nil, err
	}

	report := &Report{
		Config: cfg.Backtest,
		Start:  bars[0].Timestamp,
		End:    bars[len(bars)-1].Timestamp,
	}
	for _, bar := range bars[warmup:] {
		res, err := engine.ProcessBar(ctx, bar)
		if err != nil {
			return nil, fmt.Errorf("bar %s: %w", bar.Timestamp.Format(time.RFC3339), err)
		}
		if res.Closed != nil {
			trade := applyCosts(cfg.Backtest, *res.Closed)
			realized += trade.NetPnL
			trade.CumulativePnL = realized - initial
			report.Trades = append(report.Trades, trade)
		}
		equity := realized
		if pos := engine.Position(); pos != nil && !pos.IsFlat() {
			equity += pos.Eth.Qty*(bar.EthPrice-pos.Eth.AvgPrice) +
				pos.Btc.Qty*(bar.BtcPrice-pos.Btc.AvgPrice)
		}
		rec := res.Record
		rec.Equity = equity
		report.Bars = append(report.Bars, rec)
		report.Equity = append(report.Equity, EquityPoint{Timestamp: bar.Timestamp, Equity: equity})
	}

	report.Summary = Summarize(cfg, report)
	report.Monthly = MonthlyBreakdown(report.Trades)
	return report, nil
}

// applyCosts charges fees and slippage on round-trip turnover and
// funding over the actual holding period, per the costs config.
func applyCosts(cfg config.BacktestConfig, tr strategy.TradeRecord) Trade {
	entryNotional := abs(tr.EthQty)*tr.EthEntryPrice + abs(tr.BtcQty)*tr.BtcEntryPrice
	exitNotional := abs(tr.EthQty)*tr.EthExitPrice + abs(tr.BtcQty)*tr.BtcExitPrice
	turnover := entryNotional + exitNotional

	trade := Trade{TradeRecord: tr}
	if cfg.IncludeFees {
		trade.Fees = turnover * cfg.FeeBps / 10000
	}
	if cfg.IncludeSlippage {
		trade.Slippage = turnover * cfg.SlippageBps / 10000
	}
	if cfg.IncludeFunding {
		trade.Funding = tr.FundingCost
	}
	trade.NetPnL = tr.GrossPnL - trade.Fees - trade.Slippage - trade.Funding
	return trade
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
