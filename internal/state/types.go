package state

import (
	"fmt"
	"time"
)

// Status is the strategy lifecycle phase.
type Status string

const (
	StatusFlat       Status = "FLAT"
	StatusInPosition Status = "IN_POSITION"
	StatusCooldown   Status = "COOLDOWN"
)

// Direction names the hedged pair orientation.
type Direction string

const (
	LongEthShortBtc Direction = "LONG_ETH_SHORT_BTC"
	ShortEthLongBtc Direction = "SHORT_ETH_LONG_BTC"
)

func (d Direction) EthLong() bool {
	return d == LongEthShortBtc
}

func (d Direction) BtcLong() bool {
	return d == ShortEthLongBtc
}

// Opposite flips the pair orientation, used when closing legs.
func (d Direction) Opposite() Direction {
	if d == LongEthShortBtc {
		return ShortEthLongBtc
	}
	return LongEthShortBtc
}

type ExitReason string

const (
	ExitTakeProfit ExitReason = "TAKE_PROFIT"
	ExitStopLoss   ExitReason = "STOP_LOSS"
	ExitTimeStop   ExitReason = "TIME_STOP"
)

// PositionLeg is one side of the hedged pair.
type PositionLeg struct {
	Qty      float64 `json:"qty"`
	AvgPrice float64 `json:"avg_price"`
	Notional float64 `json:"notional"`
}

type PositionSnapshot struct {
	Direction Direction   `json:"direction"`
	EntryTime time.Time   `json:"entry_time"`
	Eth       PositionLeg `json:"eth"`
	Btc       PositionLeg `json:"btc"`
}

// HasResidual reports exactly one live leg, the broken-hedge case.
func (p PositionSnapshot) HasResidual() bool {
	ethZero := p.Eth.Qty == 0
	btcZero := p.Btc.Qty == 0
	return ethZero != btcZero
}

func (p PositionSnapshot) IsFlat() bool {
	return p.Eth.Qty == 0 && p.Btc.Qty == 0
}

func (p PositionSnapshot) HoldingHours(now time.Time) int {
	return int(now.Sub(p.EntryTime).Hours())
}

func (p PositionSnapshot) TotalNotional() float64 {
	return p.Eth.Notional + p.Btc.Notional
}

type StrategyState struct {
	Status        Status            `json:"status"`
	Position      *PositionSnapshot `json:"position,omitempty"`
	CooldownUntil *time.Time        `json:"cooldown_until,omitempty"`
}

func NewState() StrategyState {
	return StrategyState{Status: StatusFlat}
}

// Validate checks the structural invariants each status implies.
func (s StrategyState) Validate() error {
	switch s.Status {
	case StatusFlat:
		if s.Position != nil {
			return fmt.Errorf("flat state cannot contain a position")
		}
	case StatusInPosition:
		if s.Position == nil {
			return fmt.Errorf("in-position state missing position")
		}
	case StatusCooldown:
		if s.CooldownUntil == nil {
			return fmt.Errorf("cooldown state missing cooldown_until")
		}
	default:
		return fmt.Errorf("unknown status %q", s.Status)
	}
	return nil
}
