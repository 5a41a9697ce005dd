package state

import (
	"context"
	"encoding/json"
	"strings"
)

const StrategyStateKey = "strategy:state"

// LoadState reads the persisted strategy state. A missing key is not an
// error; the caller starts flat.
func LoadState(ctx context.Context, store Store) (StrategyState, bool, error) {
	if store == nil {
		return NewState(), false, nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	raw, ok, err := store.Get(ctx, StrategyStateKey)
	if err != nil {
		return NewState(), false, err
	}
	if !ok || strings.TrimSpace(raw) == "" {
		return NewState(), false, nil
	}
	var st StrategyState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return NewState(), false, err
	}
	return st, true, nil
}

func SaveState(ctx context.Context, store Store, st StrategyState) error {
	if store == nil {
		return nil
	}
	if ctx == nil {
		ctx = context.Background()
	}
	payload, err := json.Marshal(st)
	if err != nil {
		return err
	}
	return store.Set(ctx, StrategyStateKey, string(payload))
}
