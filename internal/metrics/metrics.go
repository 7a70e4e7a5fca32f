// Package metrics holds the Prometheus metrics of the attendance service.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics provides observability for scans and the broadcast hub.
// All methods are safe to call on a nil receiver.
type Metrics struct {
	// Scan outcomes by outcome tag and source (probe, image, verdict)
	ScanOutcomes *prometheus.CounterVec

	// Duration of a full scan from match to publish
	ScanLatency prometheus.Histogram

	// Best distance seen per scan
	MatchDistance prometheus.Histogram

	// Scans that could not be recorded
	RecordFailures prometheus.Counter

	// Currently connected subscribers
	Subscribers prometheus.Gauge

	// Messages written to subscribers
	Deliveries prometheus.Counter

	// Subscribers dropped, by reason (overflow, write_error)
	Disconnects *prometheus.CounterVec

	// Decisions received from other instances through the relay
	RelayReceived prometheus.Counter
}

// New creates a new Metrics instance registered with the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers metrics with reg.
func NewWith(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		ScanOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_scans_total",
			Help: "Total scan attempts by outcome and source",
		}, []string{"outcome", "source"}),

		ScanLatency: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "attendance_scan_duration_seconds",
			Help:    "Duration of scan processing including recording and publishing",
			Buckets: []float64{0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
		}),

		MatchDistance: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "attendance_match_distance",
			Help:    "Euclidean distance to the nearest enrolled identity",
			Buckets: []float64{0.1, 0.2, 0.3, 0.35, 0.4, 0.45, 0.5, 0.6, 0.8, 1},
		}),

		RecordFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "attendance_record_failures_total",
			Help: "Scans that failed to be recorded",
		}),

		Subscribers: f.NewGauge(prometheus.GaugeOpts{
			Name: "attendance_hub_subscribers",
			Help: "Currently connected real-time subscribers",
		}),

		Deliveries: f.NewCounter(prometheus.CounterOpts{
			Name: "attendance_hub_deliveries_total",
			Help: "Messages written to real-time subscribers",
		}),

		Disconnects: f.NewCounterVec(prometheus.CounterOpts{
			Name: "attendance_hub_disconnects_total",
			Help: "Subscribers dropped by the hub by reason",
		}, []string{"reason"}),

		RelayReceived: f.NewCounter(prometheus.CounterOpts{
			Name: "attendance_relay_received_total",
			Help: "Decisions received from other instances",
		}),
	}
}

// IncrementScan records a scan outcome.
func (m *Metrics) IncrementScan(outcome, source string) {
	if m != nil {
		m.ScanOutcomes.WithLabelValues(outcome, source).Inc()
	}
}

// ObserveScanLatency records the duration of one scan.
func (m *Metrics) ObserveScanLatency(d time.Duration) {
	if m != nil {
		m.ScanLatency.Observe(d.Seconds())
	}
}

// ObserveDistance records the best match distance of a scan.
func (m *Metrics) ObserveDistance(d float64) {
	if m != nil {
		m.MatchDistance.Observe(d)
	}
}

// IncrementRecordFailures counts a scan that could not be recorded.
func (m *Metrics) IncrementRecordFailures() {
	if m != nil {
		m.RecordFailures.Inc()
	}
}

// SetSubscribers sets the connected subscriber gauge.
func (m *Metrics) SetSubscribers(n int) {
	if m != nil {
		m.Subscribers.Set(float64(n))
	}
}

// IncrementDeliveries counts a message written to a subscriber.
func (m *Metrics) IncrementDeliveries() {
	if m != nil {
		m.Deliveries.Inc()
	}
}

// IncrementDisconnects counts a dropped subscriber.
func (m *Metrics) IncrementDisconnects(reason string) {
	if m != nil {
		m.Disconnects.WithLabelValues(reason).Inc()
	}
}

// IncrementRelayReceived counts a decision received from another instance.
func (m *Metrics) IncrementRelayReceived() {
	if m != nil {
		m.RelayReceived.Inc()
	}
}
