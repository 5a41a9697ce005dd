package market

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"

	"go.uber.org/zap"

	"hl-pairs-bot/internal/hl/rest"
	"hl-pairs-bot/internal/hl/ws"
)

// MidFeed keeps a live mid price cache from the allMids stream, with a
// REST fallback for cold reads. Execution limit prices come from here
// so they track the book rather than a possibly stale bar close.
type MidFeed struct {
	rest *rest.Client
	ws   *ws.Client
	log  *zap.Logger

	mu   sync.RWMutex
	mids map[string]float64
}

func NewMidFeed(restClient *rest.Client, wsClient *ws.Client, log *zap.Logger) *MidFeed {
	if log == nil {
		log = zap.NewNop()
	}
	return &MidFeed{
		rest: restClient,
		ws:   wsClient,
		log:  log,
		mids: make(map[string]float64),
	}
}

func (f *MidFeed) Start(ctx context.Context) error {
	if f.ws == nil {
		return nil
	}
	if err := f.ws.Connect(ctx); err != nil {
		return err
	}
	sub := map[string]any{"method": "subscribe", "subscription": map[string]any{"type": "allMids"}}
	if err := f.ws.Subscribe(ctx, sub); err != nil {
		return err
	}
	go func() {
		_ = f.ws.Run(ctx, f.handleMessage)
	}()
	return nil
}

func (f *MidFeed) Mid(ctx context.Context, asset string) (float64, error) {
	f.mu.RLock()
	price, ok := f.mids[asset]
	f.mu.RUnlock()
	if ok {
		return price, nil
	}
	if f.rest == nil {
		return 0, errors.New("mid price not available")
	}
	resp, err := f.rest.Info(ctx, rest.InfoRequest{Type: "allMids"})
	if err != nil {
		return 0, err
	}
	f.updateMids(map[string]any{"mids": resp})
	f.mu.RLock()
	price, ok = f.mids[asset]
	f.mu.RUnlock()
	if !ok {
		return 0, errors.New("mid price not found")
	}
	return price, nil
}

func (f *MidFeed) handleMessage(msg json.RawMessage) {
	var payload map[string]any
	if err := json.Unmarshal(msg, &payload); err != nil {
		f.log.Debug("ws decode error", zap.Error(err))
		return
	}
	f.updateMids(payload)
}

func (f *MidFeed) updateMids(payload map[string]any) {
	var mids map[string]any
	if data, ok := payload["data"].(map[string]any); ok {
		if raw, ok := data["mids"].(map[string]any); ok {
			mids = raw
		}
	}
	if mids == nil {
		if raw, ok := payload["mids"].(map[string]any); ok {
			mids = raw
		}
	}
	if mids == nil {
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	for asset, v := range mids {
		switch value := v.(type) {
		case string:
			if price, err := strconv.ParseFloat(value, 64); err == nil {
				f.mids[asset] = price
			}
		case float64:
			f.mids[asset] = value
		}
	}
}
