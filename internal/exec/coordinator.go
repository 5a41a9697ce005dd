package exec

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"hl-pairs-bot/internal/config"
	"hl-pairs-bot/internal/state"
)

type OrderSide string

const (
	SideBuy  OrderSide = "BUY"
	SideSell OrderSide = "SELL"
)

func (s OrderSide) Opposite() OrderSide {
	if s == SideBuy {
		return SideSell
	}
	return SideBuy
}

// CloseSideFor returns the side that nets a signed quantity to flat.
func CloseSideFor(qty float64) OrderSide {
	if qty > 0 {
		return SideSell
	}
	return SideBuy
}

type OrderRequest struct {
	Symbol     config.Symbol
	Side       OrderSide
	Qty        float64
	LimitPrice float64
}

// OrderExecutor submits orders to a venue and reports the filled
// quantity. Close orders are reduce-only.
type OrderExecutor interface {
	Submit(ctx context.Context, order OrderRequest) (float64, error)
	Close(ctx context.Context, order OrderRequest) (float64, error)
}

type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// PairFill reports the quantities filled per leg after OpenPair.
type PairFill struct {
	EthQty float64
	BtcQty float64
}

// Coordinator sequences two-leg orders so a broken hedge always
// surfaces as a classified error rather than silent exposure.
type Coordinator struct {
	executor OrderExecutor
	retry    RetryPolicy
	log      *zap.Logger
}

func NewCoordinator(executor OrderExecutor, retry RetryPolicy, log *zap.Logger) *Coordinator {
	if log == nil {
		log = zap.NewNop()
	}
	return &Coordinator{executor: executor, retry: retry, log: log}
}

// OpenPair submits the ETH leg, then the BTC leg. If the second leg
// fails terminally the first is rolled back before a PartialFill error
// is surfaced; a failed rollback escalates to RollbackFailed.
func (c *Coordinator) OpenPair(ctx context.Context, ethOrder, btcOrder OrderRequest) (PairFill, error) {
	ethFill, err := c.withRetry(ctx, "open_pair eth", func() (float64, error) {
		return c.executor.Submit(ctx, ethOrder)
	})
	if err != nil {
		return PairFill{}, err
	}

	btcFill, err := c.withRetry(ctx, "open_pair btc", func() (float64, error) {
		return c.executor.Submit(ctx, btcOrder)
	})
	if err == nil {
		return PairFill{EthQty: ethFill, BtcQty: btcFill}, nil
	}

	c.log.Warn("second leg failed, rolling back first leg",
		zap.String("symbol", string(btcOrder.Symbol)), zap.Error(err))
	signedEth := signQty(ethFill, ethOrder.Side)
	rollback := OrderRequest{
		Symbol:     ethOrder.Symbol,
		Side:       CloseSideFor(signedEth),
		Qty:        abs(ethFill),
		LimitPrice: ethOrder.LimitPrice,
	}
	if _, rbErr := c.withRetry(ctx, "open_pair rollback", func() (float64, error) {
		return c.executor.Close(ctx, rollback)
	}); rbErr != nil {
		return PairFill{EthQty: ethFill}, RollbackFailed("open_pair",
			fmt.Errorf("second leg: %w; rollback: %v", err, rbErr))
	}
	return PairFill{}, PartialFill("open_pair", fmt.Errorf("second leg failed, first leg rolled back: %w", err))
}

// ClosePair closes the ETH leg, then the BTC leg. A failed second close
// leaves residual exposure; the already-closed first leg is never
// reopened. Callers must repair the residual.
func (c *Coordinator) ClosePair(ctx context.Context, ethOrder, btcOrder OrderRequest) error {
	if _, err := c.withRetry(ctx, "close_pair eth", func() (float64, error) {
		return c.executor.Close(ctx, ethOrder)
	}); err != nil {
		return err
	}
	if _, err := c.withRetry(ctx, "close_pair btc", func() (float64, error) {
		return c.executor.Close(ctx, btcOrder)
	}); err != nil {
		return PartialFill("close_pair", fmt.Errorf("second leg close failed, residual remains: %w", err))
	}
	return nil
}

// RepairResidual nets any single live leg to flat. It is idempotent:
// a flat or fully-paired snapshot submits nothing.
func (c *Coordinator) RepairResidual(ctx context.Context, position state.PositionSnapshot) error {
	if !position.HasResidual() {
		return nil
	}
	symbol := config.SymbolETH
	leg := position.Eth
	if position.Eth.Qty == 0 {
		symbol = config.SymbolBTC
		leg = position.Btc
	}
	order := OrderRequest{
		Symbol:     symbol,
		Side:       CloseSideFor(leg.Qty),
		Qty:        abs(leg.Qty),
		LimitPrice: leg.AvgPrice,
	}
	c.log.Info("repairing residual leg",
		zap.String("symbol", string(symbol)), zap.Float64("qty", order.Qty))
	_, err := c.withRetry(ctx, "repair_residual", func() (float64, error) {
		return c.executor.Close(ctx, order)
	})
	return err
}

// withRetry runs fn under the bounded policy, retrying only transient
// classifications with doubling backoff.
func (c *Coordinator) withRetry(ctx context.Context, op string, fn func() (float64, error)) (float64, error) {
	if c.retry.MaxAttempts <= 0 {
		return 0, fmt.Errorf("%s: %w", op, ErrNoAttempts)
	}
	delay := c.retry.BaseDelay
	if delay <= 0 {
		delay = 200 * time.Millisecond
	}
	var lastErr error
	for attempt := 0; attempt < c.retry.MaxAttempts; attempt++ {
		fill, err := fn()
		if err == nil {
			return fill, nil
		}
		lastErr = err
		if !IsTransient(err) || attempt+1 == c.retry.MaxAttempts {
			return 0, err
		}
		c.log.Debug("retrying after transient error",
			zap.String("op", op), zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return 0, ctx.Err()
		case <-time.After(delay):
			delay *= 2
		}
	}
	return 0, lastErr
}

func signQty(qty float64, side OrderSide) float64 {
	if side == SideSell {
		return -qty
	}
	return qty
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
