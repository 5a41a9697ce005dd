package backtest

import (
	"math"
	"sort"
	"time"

	"hl-pairs-bot/internal/config"
	"hl-pairs-bot/internal/state"
)

// Summary aggregates a run into the usual performance figures.
type Summary struct {
	Bars             int     `json:"bars"`
	Trades           int     `json:"trades"`
	Wins             int     `json:"wins"`
	Losses           int     `json:"losses"`
	WinRate          float64 `json:"win_rate"`
	ProfitFactor     float64 `json:"profit_factor"`
	StopLossRate     float64 `json:"stop_loss_rate"`
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	InitialCapital   float64 `json:"initial_capital"`
	FinalEquity      float64 `json:"final_equity"`
	TotalFees        float64 `json:"total_fees"`
	TotalSlippage    float64 `json:"total_slippage"`
	TotalFunding     float64 `json:"total_funding"`
}

// MonthlyPnL is net realized PnL grouped by exit month.
type MonthlyPnL struct {
	Month  string  `json:"month"`
	Trades int     `json:"trades"`
	NetPnL float64 `json:"net_pnl"`
}

const yearHours = 24 * 365.25

func Summarize(cfg *config.Config, report *Report) Summary {
	s := Summary{
		Bars:           len(report.Bars),
		Trades:         len(report.Trades),
		InitialCapital: cfg.Backtest.InitialCapital,
		FinalEquity:    cfg.Backtest.InitialCapital,
	}

	grossWins, grossLosses := 0.0, 0.0
	stops := 0
	for _, trade := range report.Trades {
		if trade.NetPnL > 0 {
			s.Wins++
			grossWins += trade.NetPnL
		} else {
			s.Losses++
			grossLosses += -trade.NetPnL
		}
		if trade.ExitReason == state.ExitStopLoss {
			stops++
		}
		s.TotalFees += trade.Fees
		s.TotalSlippage += trade.Slippage
		s.TotalFunding += trade.Funding
	}
	if s.Trades > 0 {
		s.WinRate = float64(s.Wins) / float64(s.Trades)
		s.StopLossRate = float64(stops) / float64(s.Trades)
	}
	if grossLosses > 0 {
		s.ProfitFactor = grossWins / grossLosses
	} else if grossWins > 0 {
		s.ProfitFactor = math.Inf(1)
	}

	if len(report.Equity) == 0 {
		return s
	}
	s.FinalEquity = report.Equity[len(report.Equity)-1].Equity
	if s.InitialCapital > 0 {
		s.TotalReturn = s.FinalEquity/s.InitialCapital - 1
	}
	s.MaxDrawdown = maxDrawdown(report.Equity)
	s.AnnualizedReturn = annualize(s.InitialCapital, s.FinalEquity, report.Start, report.End)
	s.SharpeRatio = sharpe(report.Equity, cfg.Strategy.BarInterval)
	return s
}

func maxDrawdown(curve []EquityPoint) float64 {
	peak, worst := 0.0, 0.0
	for _, point := range curve {
		if point.Equity > peak {
			peak = point.Equity
		}
		if peak <= 0 {
			continue
		}
		dd := (peak - point.Equity) / peak
		if dd > worst {
			worst = dd
		}
	}
	return worst
}

func annualize(initial, final float64, start, end time.Time) float64 {
	if initial <= 0 || final <= 0 {
		return 0
	}
	years := end.Sub(start).Hours() / yearHours
	if years <= 0 {
		return 0
	}
	return math.Pow(final/initial, 1/years) - 1
}

// sharpe annualizes the mean/stddev of per-bar simple returns on the
// equity curve. Zero-variance curves report zero rather than a blow-up.
func sharpe(curve []EquityPoint, barInterval time.Duration) float64 {
	if len(curve) < 3 || barInterval <= 0 {
		return 0
	}
	returns := make([]float64, 0, len(curve)-1)
	for i := 1; i < len(curve); i++ {
		prev := curve[i-1].Equity
		if prev <= 0 {
			return 0
		}
		returns = append(returns, curve[i].Equity/prev-1)
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		d := r - mean
		variance += d * d
	}
	variance /= float64(len(returns) - 1)
	if variance <= 0 {
		return 0
	}
	barsPerYear := yearHours * float64(time.Hour) / float64(barInterval)
	return mean / math.Sqrt(variance) * math.Sqrt(barsPerYear)
}

func MonthlyBreakdown(trades []Trade) []MonthlyPnL {
	byMonth := make(map[string]*MonthlyPnL)
	for _, trade := range trades {
		month := trade.ExitTime.UTC().Format("2006-01")
		entry, ok := byMonth[month]
		if !ok {
			entry = &MonthlyPnL{Month: month}
			byMonth[month] = entry
		}
		entry.Trades++
		entry.NetPnL += trade.NetPnL
	}
	months := make([]MonthlyPnL, 0, len(byMonth))
	for _, entry := range byMonth {
		months = append(months, *entry)
	}
	sort.Slice(months, func(i, j int) bool { return months[i].Month < months[j].Month })
	return months
}
