package app

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"hl-pairs-bot/internal/alerts"
)

const operatorOffsetKey = "telegram:operator:last_update_id"

// startOperator polls Telegram for /pause, /resume and /status
// commands. Pause blocks new entries only; exits and repairs keep
// running so an operator mistake cannot strand an open hedge.
func (a *App) startOperator(ctx context.Context) {
	if !a.cfg.Telegram.OperatorEnabled {
		return
	}
	chatID, err := strconv.ParseInt(strings.TrimSpace(a.cfg.Telegram.ChatID), 10, 64)
	if err != nil {
		a.log.Warn("telegram operator disabled: invalid chat_id", zap.Error(err))
		return
	}
	allowed := make(map[int64]struct{}, len(a.cfg.Telegram.OperatorAllowedUserIDs))
	for _, id := range a.cfg.Telegram.OperatorAllowedUserIDs {
		allowed[id] = struct{}{}
	}
	go a.operatorLoop(ctx, chatID, allowed, a.cfg.Telegram.OperatorPollInterval)
}

func (a *App) operatorLoop(ctx context.Context, chatID int64, allowed map[int64]struct{}, poll time.Duration) {
	offset := a.loadOperatorOffset(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		updates, err := a.alerts.GetUpdates(ctx, offset, poll)
		if err != nil {
			a.log.Warn("telegram poll failed", zap.Error(err))
			select {
			case <-ctx.Done():
				return
			case <-time.After(poll):
			}
			continue
		}
		for _, upd := range updates {
			if upd.UpdateID >= offset {
				offset = upd.UpdateID + 1
				a.saveOperatorOffset(ctx, offset)
			}
			a.handleOperatorUpdate(ctx, upd, chatID, allowed)
		}
	}
}

func (a *App) handleOperatorUpdate(ctx context.Context, upd alerts.Update, chatID int64, allowed map[int64]struct{}) {
	msg := upd.Message
	if msg == nil || msg.Chat == nil || msg.From == nil {
		return
	}
	if msg.Chat.ID != chatID {
		return
	}
	if len(allowed) > 0 {
		if _, ok := allowed[msg.From.ID]; !ok {
			return
		}
	}
	cmd, ok := parseOperatorCommand(msg.Text)
	if !ok {
		return
	}
	resp := a.handleOperatorCommand(cmd)
	if resp == "" {
		return
	}
	if err := a.alerts.Send(ctx, resp); err != nil {
		a.log.Warn("operator response failed", zap.Error(err))
	}
}

func parseOperatorCommand(text string) (string, bool) {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "/") {
		return "", false
	}
	fields := strings.Fields(trimmed)
	if len(fields) == 0 {
		return "", false
	}
	return strings.ToLower(strings.TrimPrefix(fields[0], "/")), true
}

func (a *App) handleOperatorCommand(cmd string) string {
	switch cmd {
	case "status":
		return a.operatorStatus()
	case "pause":
		if a.engine.Paused() {
			return "entries already paused"
		}
		a.engine.SetPaused(true)
		a.log.Info("entries paused by operator")
		return "entries paused"
	case "resume":
		if !a.engine.Paused() {
			return "entries already active"
		}
		a.engine.SetPaused(false)
		a.log.Info("entries resumed by operator")
		return "entries resumed"
	default:
		return operatorHelpText()
	}
}

func (a *App) operatorStatus() string {
	lines := []string{
		fmt.Sprintf("status: %s", a.engine.Status()),
		fmt.Sprintf("entries_paused: %t", a.engine.Paused()),
	}
	if pos := a.engine.Position(); pos != nil {
		lines = append(lines,
			fmt.Sprintf("direction: %s", pos.Direction),
			fmt.Sprintf("entered_at: %s", pos.EntryTime.UTC().Format(time.RFC3339)),
			fmt.Sprintf("eth_qty: %.4f", pos.Eth.Qty),
			fmt.Sprintf("btc_qty: %.4f", pos.Btc.Qty),
			fmt.Sprintf("notional_usd: %.0f", pos.TotalNotional()),
		)
	}
	return strings.Join(lines, "\n")
}

func operatorHelpText() string {
	return strings.Join([]string{
		"commands:",
		"/status - strategy state and open position",
		"/pause - block new entries",
		"/resume - allow new entries",
	}, "\n")
}

func (a *App) loadOperatorOffset(ctx context.Context) int64 {
	raw, ok, err := a.store.Get(ctx, operatorOffsetKey)
	if err != nil || !ok {
		return 0
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || val < 0 {
		return 0
	}
	return val
}

func (a *App) saveOperatorOffset(ctx context.Context, offset int64) {
	if err := a.store.Set(ctx, operatorOffsetKey, strconv.FormatInt(offset, 10)); err != nil {
		a.log.Warn("operator offset persist failed", zap.Error(err))
	}
}
