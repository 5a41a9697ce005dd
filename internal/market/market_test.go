package market

import (
	"context"
	"errors"
	"testing"
	"time"

	"hl-pairs-bot/internal/config"
)

func TestAlignToBarClose(t *testing.T) {
	ts := time.Date(2026, 5, 1, 10, 7, 33, 0, time.UTC)
	aligned := AlignToBarClose(ts, 15*time.Minute)
	want := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	if !aligned.Equal(want) {
		t.Fatalf("expected %v, got %v", want, aligned)
	}
	exact := time.Date(2026, 5, 1, 10, 15, 0, 0, time.UTC)
	if got := AlignToBarClose(exact, 15*time.Minute); !got.Equal(exact) {
		t.Fatalf("boundary must align to itself, got %v", got)
	}
}

func TestEffectivePriceFallback(t *testing.T) {
	bar := PriceBar{Symbol: config.SymbolETH, Timestamp: time.Now().UTC(), Close: Float64Ptr(3000)}
	price, ok := bar.EffectivePrice(config.PriceMid)
	if !ok || price != 3000 {
		t.Fatalf("expected mid preference to fall back to close, got %v (ok=%v)", price, ok)
	}
	bar.Mid = Float64Ptr(3001)
	price, _ = bar.EffectivePrice(config.PriceMid)
	if price != 3001 {
		t.Fatalf("expected mid preferred when present, got %v", price)
	}
	empty := PriceBar{Symbol: config.SymbolETH}
	if _, ok := empty.EffectivePrice(config.PriceClose); ok {
		t.Fatalf("expected no price from empty bar")
	}
}

func TestBarValidateRejectsNonPositive(t *testing.T) {
	bar := PriceBar{Symbol: config.SymbolETH, Mark: Float64Ptr(-1)}
	if err := bar.Validate(); err == nil {
		t.Fatalf("expected error for non-positive mark")
	}
}

type fakeSource struct {
	bars map[config.Symbol]PriceBar
	err  error
}

func (s *fakeSource) FetchBar(_ context.Context, symbol config.Symbol, _ time.Time) (PriceBar, error) {
	if s.err != nil {
		return PriceBar{}, s.err
	}
	return s.bars[symbol], nil
}

func (s *fakeSource) FetchHistory(context.Context, config.Symbol, time.Time, time.Time) ([]PriceBar, error) {
	return nil, errors.New("not implemented")
}

func TestPairFetcherAlignsAndPairs(t *testing.T) {
	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	src := &fakeSource{bars: map[config.Symbol]PriceBar{
		config.SymbolETH: {Symbol: config.SymbolETH, Timestamp: ts, Close: Float64Ptr(3000)},
		config.SymbolBTC: {Symbol: config.SymbolBTC, Timestamp: ts, Close: Float64Ptr(60000)},
	}}
	f := NewPairFetcher(src, config.PriceClose, 15*time.Minute)
	snap, err := f.FetchPair(context.Background(), ts.Add(7*time.Minute))
	if err != nil {
		t.Fatalf("fetch pair: %v", err)
	}
	if !snap.Timestamp.Equal(ts) {
		t.Fatalf("expected aligned timestamp %v, got %v", ts, snap.Timestamp)
	}
	if snap.Eth != 3000 || snap.Btc != 60000 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
}

func TestPairFetcherRejectsTimestampMismatch(t *testing.T) {
	ts := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	src := &fakeSource{bars: map[config.Symbol]PriceBar{
		config.SymbolETH: {Symbol: config.SymbolETH, Timestamp: ts, Close: Float64Ptr(3000)},
		config.SymbolBTC: {Symbol: config.SymbolBTC, Timestamp: ts.Add(15 * time.Minute), Close: Float64Ptr(60000)},
	}}
	f := NewPairFetcher(src, config.PriceClose, 15*time.Minute)
	if _, err := f.FetchPair(context.Background(), ts); err == nil {
		t.Fatalf("expected error for mismatched timestamps")
	}
}

func TestPairFetcherPropagatesSourceError(t *testing.T) {
	src := &fakeSource{err: errors.New("venue down")}
	f := NewPairFetcher(src, config.PriceClose, 15*time.Minute)
	if _, err := f.FetchPair(context.Background(), time.Now().UTC()); err == nil {
		t.Fatalf("expected source error")
	}
}

func TestParseCandleStampsCloseTime(t *testing.T) {
	open := time.Date(2026, 5, 1, 10, 0, 0, 0, time.UTC)
	candle := map[string]any{
		"t": float64(open.UnixMilli()),
		"c": "3005.5",
	}
	bar, err := parseCandle(config.SymbolETH, candle, 15*time.Minute)
	if err != nil {
		t.Fatalf("parse candle: %v", err)
	}
	if !bar.Timestamp.Equal(open.Add(15 * time.Minute)) {
		t.Fatalf("expected close-time stamp, got %v", bar.Timestamp)
	}
	if bar.Close == nil || *bar.Close != 3005.5 {
		t.Fatalf("unexpected close: %+v", bar.Close)
	}
}

func TestParseCandleRejectsMissingFields(t *testing.T) {
	if _, err := parseCandle(config.SymbolETH, map[string]any{"t": float64(0)}, 15*time.Minute); err == nil {
		t.Fatalf("expected error for missing close")
	}
}

func TestMidFeedUpdateFromWsPayload(t *testing.T) {
	feed := NewMidFeed(nil, nil, nil)
	feed.updateMids(map[string]any{
		"data": map[string]any{"mids": map[string]any{"ETH": "3002.5", "BTC": "60010"}},
	})
	price, err := feed.Mid(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("mid: %v", err)
	}
	if price != 3002.5 {
		t.Fatalf("expected 3002.5, got %v", price)
	}
	if _, err := feed.Mid(context.Background(), "SOL"); err == nil {
		t.Fatalf("expected error for unknown asset with no rest fallback")
	}
}
