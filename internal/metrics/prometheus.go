package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const promNamespace = "hl_pairs_bot"

type promCounter struct {
	counter prometheus.Counter
}

func (p promCounter) Inc() {
	p.counter.Inc()
}

type promGauge struct {
	gauge prometheus.Gauge
}

func (p promGauge) Set(v float64) {
	p.gauge.Set(v)
}

type Prometheus struct {
	Metrics *Metrics

	registry *prometheus.Registry
	counters map[string]prometheus.Counter
	gauges   map[string]prometheus.Gauge
}

func NewPrometheus() *Prometheus {
	registry := prometheus.NewRegistry()
	counters := make(map[string]prometheus.Counter)
	newCounter := func(name, help string) Counter {
		c := prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(c)
		counters[name] = c
		return promCounter{c}
	}
	gauges := make(map[string]prometheus.Gauge)
	newGauge := func(name, help string) Gauge {
		g := prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: promNamespace,
			Name:      name,
			Help:      help,
		})
		registry.MustRegister(g)
		gauges[name] = g
		return promGauge{g}
	}

	m := &Metrics{
		EntriesOpened:    newCounter("entries_opened_total", "Total number of pair positions opened."),
		ExitsTakeProfit:  newCounter("exits_take_profit_total", "Total number of take-profit exits."),
		ExitsStopLoss:    newCounter("exits_stop_loss_total", "Total number of stop-loss exits."),
		ExitsTimeStop:    newCounter("exits_time_stop_total", "Total number of time-stop exits."),
		OrdersPlaced:     newCounter("orders_placed_total", "Total number of orders placed."),
		OrdersFailed:     newCounter("orders_failed_total", "Total number of order placement failures."),
		PartialFills:     newCounter("partial_fills_total", "Total number of partially filled pair operations."),
		RollbackFailures: newCounter("rollback_failures_total", "Total number of failed first-leg rollbacks."),
		ResidualRepairs:  newCounter("residual_repairs_total", "Total number of residual leg repairs."),
		FundingSkips:     newCounter("funding_skips_total", "Total number of entries vetoed by the funding filter."),
		PersistFailures:  newCounter("persist_failures_total", "Total number of state persistence failures."),
		ZScore:           newGauge("zscore", "Latest pair z-score."),
		Equity:           newGauge("equity_usd", "Latest account equity in USD."),
	}

	return &Prometheus{
		Metrics:  m,
		registry: registry,
		counters: counters,
		gauges:   gauges,
	}
}

func (p *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}
