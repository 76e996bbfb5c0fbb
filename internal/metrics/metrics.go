package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Registry holds all Prometheus metrics. A nil *Registry is valid and
// records nothing, so scans can run without metrics wiring.
type Registry struct {
	*prometheus.Registry

	// Sampling metrics
	barsTotal      *prometheus.CounterVec
	staleBarsTotal *prometheus.CounterVec

	// Filter metrics
	filterUpdates prometheus.Counter
	filterClamps  *prometheus.CounterVec

	// Labeling metrics
	labelsTotal   *prometheus.CounterVec
	eventsDropped *prometheus.CounterVec

	// Backtest metrics
	tradesTotal   *prometheus.CounterVec
	tradePnL      prometheus.Histogram
	cumulativePnL *prometheus.GaugeVec

	// Pipeline metrics
	runsTotal    *prometheus.CounterVec
	scanDuration *prometheus.HistogramVec
}

// NewRegistry creates a new metrics registry with all metrics registered.
func NewRegistry() *Registry {
	reg := prometheus.NewRegistry()

	// Register Go runtime metrics
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	r := &Registry{
		Registry: reg,

		barsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alpha_bars_total",
				Help: "Total number of bars sampled",
			},
			[]string{"clock"},
		),
		staleBarsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "alpha_stale_bars_total",
				Help: "Total number of bars flagged stale",
			},
			[]string{"clock"},
		),
	}

	reg.MustRegister(r.barsTotal)
	reg.MustRegister(r.staleBarsTotal)

	r.filterUpdates = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "alpha_filter_updates_total",
			Help: "Total number of Kalman filter updates",
		},
	)
	r.filterClamps = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alpha_filter_clamps_total",
			Help: "Filter variance clamps by reason",
		},
		[]string{"reason"},
	)
	r.labelsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alpha_labels_total",
			Help: "Total number of labeled events",
		},
		[]string{"outcome"},
	)
	r.eventsDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alpha_events_dropped_total",
			Help: "Events dropped during labeling",
		},
		[]string{"reason"},
	)
	r.tradesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alpha_trades_total",
			Help: "Total number of simulated trades",
		},
		[]string{"side", "outcome"},
	)
	r.tradePnL = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "alpha_trade_return",
			Help:    "Realized trade return",
			Buckets: []float64{-0.05, -0.02, -0.01, -0.005, 0, 0.005, 0.01, 0.02, 0.05},
		},
	)
	r.cumulativePnL = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "alpha_backtest_cumulative_pnl",
			Help: "Cumulative net PnL of the last backtest",
		},
		[]string{"symbol"},
	)
	r.runsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "alpha_runs_total",
			Help: "Total number of pipeline runs",
		},
		[]string{"status"},
	)
	r.scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "alpha_scan_duration_seconds",
			Help:    "Scan duration in seconds by stage",
			Buckets: []float64{0.001, 0.01, 0.1, 0.5, 1, 5, 30, 120},
		},
		[]string{"stage"},
	)

	reg.MustRegister(r.filterUpdates)
	reg.MustRegister(r.filterClamps)
	reg.MustRegister(r.labelsTotal)
	reg.MustRegister(r.eventsDropped)
	reg.MustRegister(r.tradesTotal)
	reg.MustRegister(r.tradePnL)
	reg.MustRegister(r.cumulativePnL)
	reg.MustRegister(r.runsTotal)
	reg.MustRegister(r.scanDuration)

	return r
}

// RecordBars records sampled bars.
func (r *Registry) RecordBars(clock string, total, stale int) {
	if r == nil {
		return
	}
	r.barsTotal.WithLabelValues(clock).Add(float64(total))
	r.staleBarsTotal.WithLabelValues(clock).Add(float64(stale))
}

// RecordFilterUpdate records one filter update.
func (r *Registry) RecordFilterUpdate() {
	if r == nil {
		return
	}
	r.filterUpdates.Inc()
}

// RecordFilterClamp records a variance clamp.
func (r *Registry) RecordFilterClamp(reason string) {
	if r == nil {
		return
	}
	r.filterClamps.WithLabelValues(reason).Inc()
}

// RecordLabel records a produced label.
func (r *Registry) RecordLabel(outcome string) {
	if r == nil {
		return
	}
	r.labelsTotal.WithLabelValues(outcome).Inc()
}

// RecordDroppedEvent records an event dropped during labeling.
func (r *Registry) RecordDroppedEvent(reason string) {
	if r == nil {
		return
	}
	r.eventsDropped.WithLabelValues(reason).Inc()
}

// RecordTrade records a closed trade.
func (r *Registry) RecordTrade(side, outcome string, ret float64) {
	if r == nil {
		return
	}
	r.tradesTotal.WithLabelValues(side, outcome).Inc()
	r.tradePnL.Observe(ret)
}

// SetCumulativePnL sets the cumulative PnL of a symbol's backtest.
func (r *Registry) SetCumulativePnL(symbol string, pnl float64) {
	if r == nil {
		return
	}
	r.cumulativePnL.WithLabelValues(symbol).Set(pnl)
}

// RecordRun records a pipeline run completion.
func (r *Registry) RecordRun(status string) {
	if r == nil {
		return
	}
	r.runsTotal.WithLabelValues(status).Inc()
}

// ObserveScan records the duration of a scan stage.
func (r *Registry) ObserveScan(stage string, seconds float64) {
	if r == nil {
		return
	}
	r.scanDuration.WithLabelValues(stage).Observe(seconds)
}

// WriteTextfile writes all metrics in the node-exporter textfile format.
func (r *Registry) WriteTextfile(path string) error {
	if r == nil {
		return nil
	}
	return prometheus.WriteToTextfile(path, r)
}
