package exchange

import (
	"errors"
	"fmt"
	"strconv"
)

// FillResult is the immediate outcome of an IOC order.
type FillResult struct {
	OrderID  string
	Qty      float64
	AvgPrice float64
}

// ParseFill extracts the filled size from an /exchange order response.
// IOC orders either fill at once or are cancelled by the venue, so a
// resting status counts as a rejection.
func ParseFill(resp map[string]any) (FillResult, error) {
	if resp == nil {
		return FillResult{}, errors.New("empty response")
	}
	if status, _ := resp["status"].(string); status != "ok" {
		return FillResult{}, fmt.Errorf("exchange status %q", status)
	}
	statuses := orderStatuses(resp)
	if len(statuses) == 0 {
		return FillResult{}, errors.New("no order statuses in response")
	}
	entry, ok := statuses[0].(map[string]any)
	if !ok {
		return FillResult{}, fmt.Errorf("unexpected status entry %T", statuses[0])
	}
	if msg, ok := entry["error"].(string); ok {
		return FillResult{}, fmt.Errorf("order rejected: %s", msg)
	}
	if _, ok := entry["resting"]; ok {
		return FillResult{}, errors.New("order resting, expected immediate fill")
	}
	filled, ok := entry["filled"].(map[string]any)
	if !ok {
		return FillResult{}, errors.New("no fill in response")
	}
	qty, err := numericValue(filled["totalSz"])
	if err != nil {
		return FillResult{}, fmt.Errorf("fill size: %w", err)
	}
	px, err := numericValue(filled["avgPx"])
	if err != nil {
		return FillResult{}, fmt.Errorf("fill price: %w", err)
	}
	return FillResult{OrderID: stringFromAny(filled["oid"]), Qty: qty, AvgPrice: px}, nil
}

func orderStatuses(resp map[string]any) []any {
	response, ok := resp["response"].(map[string]any)
	if !ok {
		return nil
	}
	data, ok := response["data"].(map[string]any)
	if !ok {
		return nil
	}
	statuses, _ := data["statuses"].([]any)
	return statuses
}

func numericValue(v any) (float64, error) {
	switch val := v.(type) {
	case string:
		return strconv.ParseFloat(val, 64)
	case float64:
		return val, nil
	default:
		return 0, fmt.Errorf("unexpected numeric type %T", v)
	}
}

func stringFromAny(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatInt(int64(val), 10)
	case int:
		return strconv.Itoa(val)
	case int64:
		return strconv.FormatInt(val, 10)
	default:
		return ""
	}
}
