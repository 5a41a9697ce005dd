package metrics

type Counter interface {
	Inc()
}

type Gauge interface {
	Set(v float64)
}

type Metrics struct {
	EntriesOpened    Counter
	ExitsTakeProfit  Counter
	ExitsStopLoss    Counter
	ExitsTimeStop    Counter
	OrdersPlaced     Counter
	OrdersFailed     Counter
	PartialFills     Counter
	RollbackFailures Counter
	ResidualRepairs  Counter
	FundingSkips     Counter
	PersistFailures  Counter
	ZScore           Gauge
	Equity           Gauge
}

type noopCounter struct{}

func (noopCounter) Inc() {}

type noopGauge struct{}

func (noopGauge) Set(float64) {}

func NewNoop() *Metrics {
	n := noopCounter{}
	g := noopGauge{}
	return &Metrics{
		EntriesOpened:    n,
		ExitsTakeProfit:  n,
		ExitsStopLoss:    n,
		ExitsTimeStop:    n,
		OrdersPlaced:     n,
		OrdersFailed:     n,
		PartialFills:     n,
		RollbackFailures: n,
		ResidualRepairs:  n,
		FundingSkips:     n,
		PersistFailures:  n,
		ZScore:           g,
		Equity:           g,
	}
}
