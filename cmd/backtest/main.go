package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"hl-pairs-bot/internal/backtest"
	"hl-pairs-bot/internal/config"
	"hl-pairs-bot/internal/logging"
)

func main() {
	configPath := flag.String("config", "internal/config/config.yaml", "path to config file")
	barsPath := flag.String("bars", "", "CSV price file (ts,eth_price,btc_price)")
	tradesOut := flag.String("trades-out", "", "write trades CSV to this path")
	equityOut := flag.String("equity-out", "", "write equity curve CSV to this path")
	summaryOut := flag.String("summary-out", "", "write summary JSON to this path (default stdout)")
	fingerprint := flag.Bool("fingerprint", false, "print the run fingerprint for reproducibility checks")
	flag.Parse()

	if *barsPath == "" {
		fatal(fmt.Errorf("-bars is required"))
	}
	cfg, err := config.Load(*configPath)
	if err != nil {
		fatal(err)
	}
	log := logging.New(cfg.Log)
	defer log.Sync()

	barsFile, err := os.Open(*barsPath)
	if err != nil {
		fatal(err)
	}
	bars, err := backtest.LoadBarsCSV(barsFile)
	barsFile.Close()
	if err != nil {
		fatal(err)
	}
	log.Info("bars loaded", zap.Int("count", len(bars)), zap.String("path", *barsPath))

	report, err := backtest.Run(context.Background(), cfg, bars, backtest.Options{Log: log})
	if err != nil {
		fatal(err)
	}
	log.Info("backtest complete",
		zap.Int("trades", report.Summary.Trades),
		zap.Float64("final_equity", report.Summary.FinalEquity),
		zap.Float64("max_drawdown", report.Summary.MaxDrawdown))

	if *tradesOut != "" {
		if err := writeFile(*tradesOut, func(f *os.File) error {
			return backtest.WriteTradesCSV(f, report.Trades)
		}); err != nil {
			fatal(err)
		}
	}
	if *equityOut != "" {
		if err := writeFile(*equityOut, func(f *os.File) error {
			return backtest.WriteEquityCSV(f, report.Equity)
		}); err != nil {
			fatal(err)
		}
	}
	if *summaryOut != "" {
		if err := writeFile(*summaryOut, func(f *os.File) error {
			return backtest.WriteSummaryJSON(f, report)
		}); err != nil {
			fatal(err)
		}
	} else {
		if err := backtest.WriteSummaryJSON(os.Stdout, report); err != nil {
			fatal(err)
		}
	}
	if *fingerprint {
		fmt.Println(report.Fingerprint())
	}
}

func writeFile(path string, write func(*os.File) error) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := write(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "backtest: %v\n", err)
	os.Exit(1)
}
