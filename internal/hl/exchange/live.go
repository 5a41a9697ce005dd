package exchange

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"

	"go.uber.org/zap"

	"hl-pairs-bot/internal/config"
	"hl-pairs-bot/internal/exec"
	"hl-pairs-bot/internal/hl/rest"
)

// AssetInfo identifies a perp on the venue.
type AssetInfo struct {
	ID         int
	SzDecimals int
}

// FetchAssetInfo resolves asset ids and size decimals for the traded
// symbols from the venue meta endpoint.
func FetchAssetInfo(ctx context.Context, client *rest.Client, symbols []config.Symbol) (map[config.Symbol]AssetInfo, error) {
	raw, err := client.Info(ctx, map[string]any{"type": "meta"})
	if err != nil {
		return nil, err
	}
	universe, ok := raw["universe"].([]any)
	if !ok {
		return nil, errors.New("meta response missing universe")
	}
	wanted := make(map[string]config.Symbol, len(symbols))
	for _, s := range symbols {
		wanted[string(s)] = s
	}
	out := make(map[config.Symbol]AssetInfo, len(symbols))
	for idx, entry := range universe {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		name, _ := m["name"].(string)
		sym, ok := wanted[name]
		if !ok {
			continue
		}
		szDecimals := 0
		if v, ok := m["szDecimals"].(float64); ok {
			szDecimals = int(v)
		}
		out[sym] = AssetInfo{ID: idx, SzDecimals: szDecimals}
	}
	for _, s := range symbols {
		if _, ok := out[s]; !ok {
			return nil, fmt.Errorf("asset %s not found in meta universe", s)
		}
	}
	return out, nil
}

// LiveExecutor places IOC limit orders on the venue. Submit opens
// exposure; Close is reduce-only so a repair can never flip a leg.
type LiveExecutor struct {
	client  *Client
	limiter exec.Limiter
	assets  map[config.Symbol]AssetInfo
	log     *zap.Logger
}

func NewLiveExecutor(client *Client, limiter exec.Limiter, assets map[config.Symbol]AssetInfo, log *zap.Logger) (*LiveExecutor, error) {
	if client == nil {
		return nil, errors.New("exchange client is required")
	}
	if len(assets) == 0 {
		return nil, errors.New("asset info is required")
	}
	if limiter == nil {
		limiter = exec.NopLimiter{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &LiveExecutor{client: client, limiter: limiter, assets: assets, log: log}, nil
}

func (e *LiveExecutor) Submit(ctx context.Context, order exec.OrderRequest) (float64, error) {
	return e.place(ctx, "submit", order, false)
}

func (e *LiveExecutor) Close(ctx context.Context, order exec.OrderRequest) (float64, error) {
	return e.place(ctx, "close", order, true)
}

func (e *LiveExecutor) place(ctx context.Context, op string, order exec.OrderRequest, reduceOnly bool) (float64, error) {
	asset, ok := e.assets[order.Symbol]
	if !ok {
		return 0, exec.Rejected(op, fmt.Errorf("unknown asset %s", order.Symbol))
	}
	if err := e.limiter.Wait(ctx); err != nil {
		return 0, err
	}
	price := roundPrice(order.LimitPrice, asset.SzDecimals)
	wire, err := LimitOrderWire(asset.ID, order.Side == exec.SideBuy, order.Qty, price, reduceOnly, TifIoc, "")
	if err != nil {
		return 0, exec.Rejected(op, err)
	}
	resp, err := e.client.PlaceOrder(ctx, wire)
	if err != nil {
		return 0, classifyTransport(op, err)
	}
	fill, err := ParseFill(resp)
	if err != nil {
		return 0, exec.Rejected(op, err)
	}
	e.log.Info("order placed",
		zap.String("symbol", string(order.Symbol)),
		zap.String("side", string(order.Side)),
		zap.Bool("reduce_only", reduceOnly),
		zap.Float64("qty", order.Qty),
		zap.Float64("fill_qty", fill.Qty),
		zap.Float64("avg_px", fill.AvgPrice),
		zap.String("oid", fill.OrderID))
	return fill.Qty, nil
}

// classifyTransport maps venue overload and network failures to
// retryable errors and hard HTTP refusals to terminal ones.
func classifyTransport(op string, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var status *StatusError
	if errors.As(err, &status) {
		if status.Code == http.StatusTooManyRequests || status.Code >= 500 {
			return exec.Transient(op, err)
		}
		return exec.Rejected(op, err)
	}
	return exec.Transient(op, err)
}

// roundPrice conforms a price to the venue tick rules: at most five
// significant figures and no more than 6-szDecimals decimal places,
// with integer prices always allowed.
func roundPrice(px float64, szDecimals int) float64 {
	if px <= 0 {
		return px
	}
	maxDecimals := 6 - szDecimals
	if sigDecimals := 5 - (int(math.Floor(math.Log10(px))) + 1); sigDecimals < maxDecimals {
		maxDecimals = sigDecimals
	}
	if maxDecimals < 0 {
		maxDecimals = 0
	}
	scale := math.Pow(10, float64(maxDecimals))
	return math.Round(px*scale) / scale
}
