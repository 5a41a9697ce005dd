package funding

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"hl-pairs-bot/internal/config"
	"hl-pairs-bot/internal/hl/rest"
)

// Source supplies current funding rates per leg.
type Source interface {
	FetchRate(ctx context.Context, symbol config.Symbol, now time.Time) (Rate, error)
}

// Fetcher retrieves both legs and validates them as a pair.
type Fetcher struct {
	source Source
}

func NewFetcher(source Source) *Fetcher {
	return &Fetcher{source: source}
}

func (f *Fetcher) FetchPairRates(ctx context.Context, now time.Time) (Snapshot, error) {
	eth, err := f.source.FetchRate(ctx, config.SymbolETH, now)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch ETH funding: %w", err)
	}
	btc, err := f.source.FetchRate(ctx, config.SymbolBTC, now)
	if err != nil {
		return Snapshot{}, fmt.Errorf("fetch BTC funding: %w", err)
	}
	return NewSnapshot(eth, btc)
}

// HyperliquidSource reads funding from the metaAndAssetCtxs info
// endpoint. Hyperliquid funding accrues hourly.
type HyperliquidSource struct {
	client        *rest.Client
	intervalHours int
}

func NewHyperliquidSource(client *rest.Client) *HyperliquidSource {
	return &HyperliquidSource{client: client, intervalHours: 1}
}

func (s *HyperliquidSource) FetchRate(ctx context.Context, symbol config.Symbol, now time.Time) (Rate, error) {
	raw, err := s.client.InfoAny(ctx, map[string]string{"type": "metaAndAssetCtxs"})
	if err != nil {
		return Rate{}, err
	}
	rate, ok, err := parseFundingRate(raw, string(symbol))
	if err != nil {
		return Rate{}, err
	}
	if !ok {
		return Rate{}, fmt.Errorf("funding rate not found for %s", symbol)
	}
	return Rate{
		Symbol:        symbol,
		Rate:          rate,
		Timestamp:     now,
		IntervalHours: s.intervalHours,
	}, nil
}

func parseFundingRate(raw any, name string) (float64, bool, error) {
	payload, ok := raw.([]any)
	if !ok || len(payload) < 2 {
		return 0, false, errors.New("unexpected metaAndAssetCtxs response")
	}
	meta, ok := payload[0].(map[string]any)
	if !ok {
		return 0, false, errors.New("meta section missing")
	}
	universe, ok := meta["universe"].([]any)
	if !ok {
		return 0, false, errors.New("universe missing")
	}
	ctxs, ok := payload[1].([]any)
	if !ok {
		return 0, false, errors.New("asset contexts missing")
	}
	for i, entry := range universe {
		asset, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		if asset["name"] != name {
			continue
		}
		if i >= len(ctxs) {
			return 0, false, errors.New("asset context index out of range")
		}
		ctx, ok := ctxs[i].(map[string]any)
		if !ok {
			return 0, false, errors.New("asset context malformed")
		}
		rate, err := parseNumeric(ctx["funding"])
		if err != nil {
			return 0, false, fmt.Errorf("funding for %s: %w", name, err)
		}
		return rate, true, nil
	}
	return 0, false, nil
}

func parseNumeric(value any) (float64, error) {
	switch v := value.(type) {
	case string:
		return strconv.ParseFloat(v, 64)
	case float64:
		return v, nil
	default:
		return 0, fmt.Errorf("unsupported numeric value %v", value)
	}
}

// ZeroSource feeds zero rates, used when funding controls are disabled
// and in backtests without funding data.
type ZeroSource struct {
	IntervalHours int
}

func (s ZeroSource) FetchRate(_ context.Context, symbol config.Symbol, now time.Time) (Rate, error) {
	interval := s.IntervalHours
	if interval <= 0 {
		interval = 8
	}
	return Rate{Symbol: symbol, Timestamp: now, IntervalHours: interval}, nil
}
