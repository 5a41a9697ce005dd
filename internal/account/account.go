package account

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"hl-pairs-bot/internal/hl/rest"
)

// Account reads perp account state over REST: equity for sizing and
// live positions for startup reconciliation.
type Account struct {
	rest *rest.Client
	log  *zap.Logger
	user string
}

func New(restClient *rest.Client, log *zap.Logger, user string) *Account {
	if log == nil {
		log = zap.NewNop()
	}
	return &Account{rest: restClient, log: log, user: strings.TrimSpace(user)}
}

// Equity returns the perp account value in USD.
func (a *Account) Equity(ctx context.Context) (float64, error) {
	payload, err := a.clearinghouseState(ctx)
	if err != nil {
		return 0, err
	}
	equity, err := parseEquity(payload)
	if err != nil {
		return 0, err
	}
	return equity, nil
}

// Positions returns signed perp sizes keyed by coin.
func (a *Account) Positions(ctx context.Context) (map[string]float64, error) {
	payload, err := a.clearinghouseState(ctx)
	if err != nil {
		return nil, err
	}
	return parsePositions(payload), nil
}

func (a *Account) clearinghouseState(ctx context.Context) (map[string]any, error) {
	if a.rest == nil {
		return nil, errors.New("rest client is required")
	}
	if a.user == "" {
		return nil, errors.New("account user is required")
	}
	return a.rest.Info(ctx, rest.InfoRequest{Type: "clearinghouseState", User: a.user})
}

func parseEquity(payload map[string]any) (float64, error) {
	summary, ok := payload["marginSummary"].(map[string]any)
	if !ok {
		return 0, errors.New("clearinghouse state missing marginSummary")
	}
	value, ok := floatFromAny(summary["accountValue"])
	if !ok {
		return 0, fmt.Errorf("unparseable accountValue %v", summary["accountValue"])
	}
	return value, nil
}

func parsePositions(payload map[string]any) map[string]float64 {
	positions := make(map[string]float64)
	raw, ok := payload["assetPositions"].([]any)
	if !ok {
		return positions
	}
	for _, item := range raw {
		entry, ok := item.(map[string]any)
		if !ok {
			continue
		}
		pos := entry
		if nested, ok := entry["position"].(map[string]any); ok {
			pos = nested
		}
		coin, _ := pos["coin"].(string)
		if coin == "" {
			continue
		}
		if size, ok := floatFromAny(pos["szi"]); ok && size != 0 {
			positions[coin] = size
		}
	}
	return positions
}

func floatFromAny(v any) (float64, bool) {
	switch val := v.(type) {
	case float64:
		return val, true
	case string:
		parsed, err := strconv.ParseFloat(strings.TrimSpace(val), 64)
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}
