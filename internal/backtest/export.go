package backtest

import (
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	"hl-pairs-bot/internal/strategy"
)

// WriteTradesCSV exports one row per closed trade.
func WriteTradesCSV(w io.Writer, trades []Trade) error {
	out := csv.NewWriter(w)
	header := []string{
		"entry_ts", "exit_ts", "direction", "exit_reason",
		"entry_z", "exit_z", "eth_qty", "btc_qty",
		"eth_entry", "btc_entry", "eth_exit", "btc_exit",
		"notional", "gross_pnl", "fees", "slippage", "funding",
		"net_pnl", "cumulative_pnl",
	}
	if err := out.Write(header); err != nil {
		return err
	}
	for _, trade := range trades {
		row := []string{
			trade.EntryTime.UTC().Format(time.RFC3339),
			trade.ExitTime.UTC().Format(time.RFC3339),
			string(trade.Direction),
			string(trade.ExitReason),
			formatFloat(trade.EntryZ),
			formatFloat(trade.ExitZ),
			formatFloat(trade.EthQty),
			formatFloat(trade.BtcQty),
			formatFloat(trade.EthEntryPrice),
			formatFloat(trade.BtcEntryPrice),
			formatFloat(trade.EthExitPrice),
			formatFloat(trade.BtcExitPrice),
			formatFloat(trade.Notional),
			formatFloat(trade.GrossPnL),
			formatFloat(trade.Fees),
			formatFloat(trade.Slippage),
			formatFloat(trade.Funding),
			formatFloat(trade.NetPnL),
			formatFloat(trade.CumulativePnL),
		}
		if err := out.Write(row); err != nil {
			return err
		}
	}
	out.Flush()
	return out.Error()
}

// WriteEquityCSV exports the per-bar equity curve.
func WriteEquityCSV(w io.Writer, curve []EquityPoint) error {
	out := csv.NewWriter(w)
	if err := out.Write([]string{"ts", "equity"}); err != nil {
		return err
	}
	for _, point := range curve {
		row := []string{point.Timestamp.UTC().Format(time.RFC3339), formatFloat(point.Equity)}
		if err := out.Write(row); err != nil {
			return err
		}
	}
	out.Flush()
	return out.Error()
}

// WriteSummaryJSON exports the summary and the monthly breakdown.
func WriteSummaryJSON(w io.Writer, report *Report) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(struct {
		Start   time.Time    `json:"start"`
		End     time.Time    `json:"end"`
		Summary Summary      `json:"summary"`
		Monthly []MonthlyPnL `json:"monthly"`
	}{
		Start:   report.Start.UTC(),
		End:     report.End.UTC(),
		Summary: report.Summary,
		Monthly: report.Monthly,
	})
}

// Fingerprint digests the trade sequence and equity curve so two runs
// can be compared for reproducibility without diffing full exports.
func (r *Report) Fingerprint() string {
	h := sha256.New()
	for _, trade := range r.Trades {
		fmt.Fprintf(h, "%d|%d|%s|%s|%.10f|%.10f|%.10f\n",
			trade.EntryTime.UnixMilli(), trade.ExitTime.UnixMilli(),
			trade.Direction, trade.ExitReason,
			trade.EthQty, trade.BtcQty, trade.NetPnL)
	}
	for _, point := range r.Equity {
		fmt.Fprintf(h, "%d|%.10f\n", point.Timestamp.UnixMilli(), point.Equity)
	}
	return hex.EncodeToString(h.Sum(nil))
}

// LoadBarsCSV reads ts,eth_price,btc_price rows. Timestamps accept
// RFC3339 or unix seconds/milliseconds; a header row is skipped.
func LoadBarsCSV(r io.Reader) ([]strategy.Bar, error) {
	in := csv.NewReader(r)
	in.TrimLeadingSpace = true
	bars := make([]strategy.Bar, 0, 1024)
	line := 0
	for {
		record, err := in.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		line++
		if len(record) < 3 {
			return nil, fmt.Errorf("line %d: expected ts,eth_price,btc_price", line)
		}
		ts, err := parseTimestamp(record[0])
		if err != nil {
			if line == 1 {
				continue
			}
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		eth, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: eth price: %w", line, err)
		}
		btc, err := strconv.ParseFloat(record[2], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: btc price: %w", line, err)
		}
		bars = append(bars, strategy.Bar{Timestamp: ts, EthPrice: eth, BtcPrice: btc})
	}
	return bars, nil
}

func parseTimestamp(value string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts.UTC(), nil
	}
	raw, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return time.Time{}, fmt.Errorf("unrecognized timestamp %q", value)
	}
	if raw > 1e12 {
		return time.UnixMilli(raw).UTC(), nil
	}
	return time.Unix(raw, 0).UTC(), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
