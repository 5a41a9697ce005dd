package state

import (
	"fmt"
	"time"
)

// Machine enforces the FLAT -> IN_POSITION -> FLAT/COOLDOWN lifecycle.
// It holds only in-memory state; persistence is the caller's job.
type Machine struct {
	state         StrategyState
	cooldownHours int
}

func NewMachine(cooldownHours int) *Machine {
	return &Machine{
		state:         NewState(),
		cooldownHours: cooldownHours,
	}
}

func (m *Machine) State() StrategyState {
	return m.state
}

func (m *Machine) Status() Status {
	return m.state.Status
}

func (m *Machine) Position() *PositionSnapshot {
	return m.state.Position
}

// Hydrate replaces the in-memory state with a persisted one after
// re-validating its invariants.
func (m *Machine) Hydrate(state StrategyState) error {
	if err := state.Validate(); err != nil {
		return fmt.Errorf("hydrate: %w", err)
	}
	m.state = state
	return nil
}

func (m *Machine) ForceFlat() {
	m.state = NewState()
}

func (m *Machine) Enter(position PositionSnapshot, now time.Time) error {
	if m.state.Status != StatusFlat {
		return fmt.Errorf("cannot enter from %s", m.state.Status)
	}
	if m.state.CooldownUntil != nil && now.Before(*m.state.CooldownUntil) {
		return fmt.Errorf("cannot enter during cooldown")
	}
	m.state.Status = StatusInPosition
	m.state.Position = &position
	m.state.CooldownUntil = nil
	return nil
}

func (m *Machine) Exit(reason ExitReason, now time.Time) error {
	if m.state.Status != StatusInPosition {
		return fmt.Errorf("cannot exit from %s", m.state.Status)
	}
	switch reason {
	case ExitStopLoss:
		until := now.Add(time.Duration(m.cooldownHours) * time.Hour)
		m.state.Status = StatusCooldown
		m.state.CooldownUntil = &until
	case ExitTakeProfit, ExitTimeStop:
		m.state.Status = StatusFlat
		m.state.CooldownUntil = nil
	default:
		return fmt.Errorf("unknown exit reason %q", reason)
	}
	m.state.Position = nil
	return nil
}

// Update expires the cooldown. The boundary is inclusive: the first bar
// at or past cooldown_until returns to FLAT.
func (m *Machine) Update(now time.Time) {
	if m.state.Status != StatusCooldown || m.state.CooldownUntil == nil {
		return
	}
	if !now.Before(*m.state.CooldownUntil) {
		m.state.Status = StatusFlat
		m.state.CooldownUntil = nil
	}
}

// SetPosition overwrites the live position, used after partial repairs.
func (m *Machine) SetPosition(position PositionSnapshot) error {
	if m.state.Status != StatusInPosition {
		return fmt.Errorf("cannot set position from %s", m.state.Status)
	}
	m.state.Position = &position
	return nil
}

// RecoveryAction names a follow-up the orchestrator must perform after
// startup recovery.
type RecoveryAction string

const RecoveryRepairResidual RecoveryAction = "REPAIR_RESIDUAL"

type RecoveryReport struct {
	State   StrategyState
	Actions []RecoveryAction
	Alerts  []string
}

// Recover normalizes a persisted state at startup. It never trades: it
// only expires cooldowns, drops impossible states, and flags residuals.
func Recover(state StrategyState, now time.Time) RecoveryReport {
	var actions []RecoveryAction
	var alerts []string

	if state.Status == StatusCooldown && state.CooldownUntil != nil && !now.Before(*state.CooldownUntil) {
		state.Status = StatusFlat
		state.CooldownUntil = nil
	}

	if state.Status == StatusInPosition {
		switch {
		case state.Position == nil:
			alerts = append(alerts, "missing position while in-position")
			state.Status = StatusFlat
		case state.Position.HasResidual():
			actions = append(actions, RecoveryRepairResidual)
			alerts = append(alerts, "residual leg detected on recovery")
		}
	}

	return RecoveryReport{State: state, Actions: actions, Alerts: alerts}
}
