package liquidator

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus collectors of the liquidation engine.
type Metrics struct {
	obligationsScanned   *prometheus.CounterVec
	unhealthyObligations *prometheus.CounterVec
	liquidationsTotal    *prometheus.CounterVec
	obligationErrors     *prometheus.CounterVec
	epochDuration        prometheus.Histogram
	lastEpoch            prometheus.Gauge
}

// NewMetrics creates the collectors and registers them with registry.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		obligationsScanned: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "liquidator_obligations_scanned_total",
				Help: "Total number of obligations evaluated by market",
			},
			[]string{"market"},
		),
		unhealthyObligations: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "liquidator_unhealthy_obligations_total",
				Help: "Total number of obligations found unhealthy by market",
			},
			[]string{"market"},
		),
		liquidationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "liquidator_liquidations_total",
				Help: "Total number of liquidation attempts by result",
			},
			[]string{"market", "result"},
		),
		obligationErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "liquidator_obligation_errors_total",
				Help: "Total number of obligations abandoned for a pass by error kind",
			},
			[]string{"kind"},
		),
		epochDuration: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "liquidator_epoch_duration_seconds",
				Help:    "Duration of one scan over every market",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		),
		lastEpoch: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "liquidator_last_epoch_timestamp_seconds",
				Help: "Unix time the last scan finished",
			},
		),
	}
}

func (m *Metrics) RecordScanned(market string) {
	if m == nil {
		return
	}
	m.obligationsScanned.WithLabelValues(market).Inc()
}

func (m *Metrics) RecordUnhealthy(market string) {
	if m == nil {
		return
	}
	m.unhealthyObligations.WithLabelValues(market).Inc()
}

// RecordLiquidation records one liquidation attempt; result is "success" or "failed"
func (m *Metrics) RecordLiquidation(market, result string) {
	if m == nil {
		return
	}
	m.liquidationsTotal.WithLabelValues(market, result).Inc()
}

func (m *Metrics) RecordError(kind string) {
	if m == nil {
		return
	}
	m.obligationErrors.WithLabelValues(kind).Inc()
}

// RecordEpoch records a finished scan
func (m *Metrics) RecordEpoch(duration time.Duration, finished time.Time) {
	if m == nil {
		return
	}
	m.epochDuration.Observe(duration.Seconds())
	m.lastEpoch.Set(float64(finished.Unix()))
}
