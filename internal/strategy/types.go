package strategy

import (
	"time"

	"hl-pairs-bot/internal/state"
)

// Bar is one aligned observation of both legs.
type Bar struct {
	Timestamp time.Time
	EthPrice  float64
	BtcPrice  float64
}

// BarRecord is the per-bar diagnostic row handed to the journal. Event
// carries the bar's lifecycle tags ("ENTRY", "EXIT_STOP_LOSS",
// "FUNDING_SKIP", ...) comma-joined when several fire on one bar.
type BarRecord struct {
	Timestamp      time.Time
	EthPrice       float64
	BtcPrice       float64
	R              float64
	Mean           float64
	Sigma          float64
	SigmaEff       float64
	ZScore         float64
	Ready          bool
	VolEth         float64
	VolBtc         float64
	WeightEth      float64
	WeightBtc      float64
	EthNotional    float64
	BtcNotional    float64
	FundingCostEst float64
	FundingSkip    bool
	Event          string
	Status         state.Status
	Direction      state.Direction
	Equity         float64
}

// TradeRecord describes a completed round trip.
type TradeRecord struct {
	Direction     state.Direction
	EntryTime     time.Time
	ExitTime      time.Time
	EntryZ        float64
	ExitZ         float64
	ExitReason    state.ExitReason
	EthQty        float64
	BtcQty        float64
	EthEntryPrice float64
	BtcEntryPrice float64
	EthExitPrice  float64
	BtcExitPrice  float64
	Notional      float64
	GrossPnL      float64
	FundingCost   float64
}

// Result is what ProcessBar reports back for journaling and metrics.
type Result struct {
	Record BarRecord
	Opened *state.PositionSnapshot
	Closed *TradeRecord
}
