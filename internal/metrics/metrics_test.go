package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.IncrementScan("matched", "probe")
	m.ObserveScanLatency(time.Millisecond)
	m.ObserveDistance(0.3)
	m.IncrementRecordFailures()
	m.SetSubscribers(3)
	m.IncrementDeliveries()
	m.IncrementDisconnects("overflow")
	m.IncrementRelayReceived()
}

func TestCounters(t *testing.T) {
	m := NewWith(prometheus.NewRegistry())

	m.IncrementScan("matched", "probe")
	m.IncrementScan("matched", "probe")
	m.IncrementScan("rejected", "image")
	m.SetSubscribers(4)
	m.IncrementDisconnects("overflow")

	if got := testutil.ToFloat64(m.ScanOutcomes.WithLabelValues("matched", "probe")); got != 2 {
		t.Errorf("expected 2 matched scans, got %v", got)
	}
	if got := testutil.ToFloat64(m.ScanOutcomes.WithLabelValues("rejected", "image")); got != 1 {
		t.Errorf("expected 1 rejected scan, got %v", got)
	}
	if got := testutil.ToFloat64(m.Subscribers); got != 4 {
		t.Errorf("expected 4 subscribers, got %v", got)
	}
	if got := testutil.ToFloat64(m.Disconnects.WithLabelValues("overflow")); got != 1 {
		t.Errorf("expected 1 overflow disconnect, got %v", got)
	}
}
