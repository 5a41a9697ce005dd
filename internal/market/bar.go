package market

import (
	"fmt"
	"time"

	"hl-pairs-bot/internal/config"
)

// PriceBar is one finished bar for a single symbol. Price fields are
// optional; EffectivePrice resolves the configured preference with
// fallbacks.
type PriceBar struct {
	Symbol    config.Symbol
	Timestamp time.Time
	Mid       *float64
	Mark      *float64
	Close     *float64
}

func (b PriceBar) Validate() error {
	for _, field := range []struct {
		label string
		value *float64
	}{
		{"mid", b.Mid},
		{"mark", b.Mark},
		{"close", b.Close},
	} {
		if field.value != nil && *field.value <= 0 {
			return fmt.Errorf("%s price must be > 0 for %s", field.label, b.Symbol)
		}
	}
	return nil
}

// EffectivePrice picks the preferred field, falling back to whichever
// of the others is present.
func (b PriceBar) EffectivePrice(preferred config.PriceField) (float64, bool) {
	var order []*float64
	switch preferred {
	case config.PriceMark:
		order = []*float64{b.Mark, b.Mid, b.Close}
	case config.PriceClose:
		order = []*float64{b.Close, b.Mid, b.Mark}
	default:
		order = []*float64{b.Mid, b.Mark, b.Close}
	}
	for _, v := range order {
		if v != nil {
			return *v, true
		}
	}
	return 0, false
}

// AlignToBarClose floors a timestamp to the previous bar boundary.
func AlignToBarClose(ts time.Time, interval time.Duration) time.Time {
	if interval <= 0 {
		return ts.UTC()
	}
	secs := int64(interval / time.Second)
	unix := ts.Unix()
	aligned := unix - ((unix%secs)+secs)%secs
	return time.Unix(aligned, 0).UTC()
}

// PairSnapshot is the validated, time-aligned input to one strategy
// cycle.
type PairSnapshot struct {
	Timestamp time.Time
	Eth       float64
	Btc       float64
	Field     config.PriceField
}

func Float64Ptr(v float64) *float64 {
	return &v
}
