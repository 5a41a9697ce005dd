package market

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"hl-pairs-bot/internal/config"
	"hl-pairs-bot/internal/hl/rest"
)

// Source supplies finished bars for a symbol.
type Source interface {
	FetchBar(ctx context.Context, symbol config.Symbol, ts time.Time) (PriceBar, error)
	FetchHistory(ctx context.Context, symbol config.Symbol, start, end time.Time) ([]PriceBar, error)
}

// PairFetcher fetches both legs at one aligned close and enforces the
// pairing invariants before the snapshot reaches the indicators.
type PairFetcher struct {
	source   Source
	field    config.PriceField
	interval time.Duration
}

func NewPairFetcher(source Source, field config.PriceField, interval time.Duration) *PairFetcher {
	return &PairFetcher{source: source, field: field, interval: interval}
}

func (f *PairFetcher) FetchPair(ctx context.Context, ts time.Time) (PairSnapshot, error) {
	aligned := AlignToBarClose(ts, f.interval)
	ethBar, err := f.source.FetchBar(ctx, config.SymbolETH, aligned)
	if err != nil {
		return PairSnapshot{}, fmt.Errorf("fetch ETH bar: %w", err)
	}
	btcBar, err := f.source.FetchBar(ctx, config.SymbolBTC, aligned)
	if err != nil {
		return PairSnapshot{}, fmt.Errorf("fetch BTC bar: %w", err)
	}
	if err := ethBar.Validate(); err != nil {
		return PairSnapshot{}, err
	}
	if err := btcBar.Validate(); err != nil {
		return PairSnapshot{}, err
	}
	if ethBar.Symbol != config.SymbolETH || btcBar.Symbol != config.SymbolBTC {
		return PairSnapshot{}, errors.New("unexpected symbols in price bars")
	}
	if !ethBar.Timestamp.Equal(btcBar.Timestamp) {
		return PairSnapshot{}, errors.New("timestamp mismatch between ETH and BTC bars")
	}
	if !ethBar.Timestamp.Equal(aligned) {
		return PairSnapshot{}, errors.New("bar timestamp does not match requested close")
	}
	ethPrice, ok := ethBar.EffectivePrice(f.field)
	if !ok {
		return PairSnapshot{}, errors.New("ETH price missing from bar")
	}
	btcPrice, ok := btcBar.EffectivePrice(f.field)
	if !ok {
		return PairSnapshot{}, errors.New("BTC price missing from bar")
	}
	return PairSnapshot{Timestamp: aligned, Eth: ethPrice, Btc: btcPrice, Field: f.field}, nil
}

// HyperliquidSource reads finished candles from the candleSnapshot
// info endpoint. Candles carry only closes, so MID and MARK preferences
// fall through to the close.
type HyperliquidSource struct {
	client   *rest.Client
	interval time.Duration
	log      *zap.Logger
}

func NewHyperliquidSource(client *rest.Client, interval time.Duration, log *zap.Logger) *HyperliquidSource {
	if log == nil {
		log = zap.NewNop()
	}
	return &HyperliquidSource{client: client, interval: interval, log: log}
}

func (s *HyperliquidSource) intervalString() string {
	if s.interval == time.Hour {
		return "1h"
	}
	return fmt.Sprintf("%dm", int(s.interval.Minutes()))
}

func (s *HyperliquidSource) FetchBar(ctx context.Context, symbol config.Symbol, ts time.Time) (PriceBar, error) {
	aligned := AlignToBarClose(ts, s.interval)
	bars, err := s.FetchHistory(ctx, symbol, aligned, aligned)
	if err != nil {
		return PriceBar{}, err
	}
	for _, bar := range bars {
		if bar.Timestamp.Equal(aligned) {
			return bar, nil
		}
	}
	return PriceBar{}, fmt.Errorf("bar not found for %s at %s", symbol, aligned.Format(time.RFC3339))
}

func (s *HyperliquidSource) FetchHistory(ctx context.Context, symbol config.Symbol, start, end time.Time) ([]PriceBar, error) {
	start = AlignToBarClose(start, s.interval)
	end = AlignToBarClose(end, s.interval)
	if end.Before(start) {
		return nil, errors.New("end must be >= start")
	}
	req := map[string]any{
		"type": "candleSnapshot",
		"req": map[string]any{
			"coin":     string(symbol),
			"interval": s.intervalString(),
			// The API keys candles by open time, so reach one
			// interval back from the requested closes.
			"startTime": start.Add(-s.interval).UnixMilli(),
			"endTime":   end.UnixMilli(),
		},
	}
	raw, err := s.client.InfoAny(ctx, req)
	if err != nil {
		return nil, err
	}
	candles, ok := raw.([]any)
	if !ok {
		return nil, errors.New("unexpected candleSnapshot response")
	}
	bars := make([]PriceBar, 0, len(candles))
	for _, entry := range candles {
		candle, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		bar, err := parseCandle(symbol, candle, s.interval)
		if err != nil {
			return nil, err
		}
		if bar.Timestamp.Before(start) || bar.Timestamp.After(end) {
			continue
		}
		if err := bar.Validate(); err != nil {
			return nil, err
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

// parseCandle maps a raw candle to a bar stamped at its close time.
func parseCandle(symbol config.Symbol, candle map[string]any, interval time.Duration) (PriceBar, error) {
	openMs, err := numericField(candle, "t")
	if err != nil {
		return PriceBar{}, err
	}
	closePx, err := numericField(candle, "c")
	if err != nil {
		return PriceBar{}, err
	}
	closeTime := time.UnixMilli(int64(openMs)).UTC().Add(interval)
	return PriceBar{
		Symbol:    symbol,
		Timestamp: closeTime,
		Close:     Float64Ptr(closePx),
	}, nil
}

func numericField(candle map[string]any, key string) (float64, error) {
	switch v := candle[key].(type) {
	case string:
		return strconv.ParseFloat(v, 64)
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("candle field %q missing or malformed", key)
	}
}
