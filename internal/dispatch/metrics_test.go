package dispatch

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

var errDummy = errors.New("publish failed")

func gatherCounter(t *testing.T, reg *prometheus.Registry, name string, labels map[string]string) float64 {
	t.Helper()

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather() error = %v", err)
	}

	for _, mf := range families {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.GetMetric() {
			if !labelsMatch(m, labels) {
				continue
			}
			if c := m.GetCounter(); c != nil {
				return c.GetValue()
			}
			if g := m.GetGauge(); g != nil {
				return g.GetValue()
			}
		}
	}
	t.Fatalf("metric %s%v not found", name, labels)
	return 0
}

func labelsMatch(m *dto.Metric, want map[string]string) bool {
	got := make(map[string]string, len(m.GetLabel()))
	for _, lp := range m.GetLabel() {
		got[lp.GetName()] = lp.GetValue()
	}
	for k, v := range want {
		if got[k] != v {
			return false
		}
	}
	return true
}

func TestMetricsRecordedThroughDispatch(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics("test", reg)

	_, pub, ts, arch := newFakes()
	pub.eventErr = errDummy

	d := New(pub, ts, arch, 1, WithMetrics(m))
	d.SubmitTick(tick("AAA", 1))
	d.SubmitBar(bar("BBB")) // queue full, shed
	d.Start()
	if err := d.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	if got := gatherCounter(t, reg, "test_events_total", map[string]string{"kind": "tick"}); got != 1 {
		t.Errorf("test_events_total{kind=tick} = %v, want 1", got)
	}
	if got := gatherCounter(t, reg, "test_drops_total", nil); got != 1 {
		t.Errorf("test_drops_total = %v, want 1", got)
	}
	if got := gatherCounter(t, reg, "test_sink_errors_total", map[string]string{"sink": "publisher"}); got != 1 {
		t.Errorf("test_sink_errors_total{sink=publisher} = %v, want 1", got)
	}
}

func TestNilMetricsAreSafe(t *testing.T) {
	var m *Metrics
	m.RecordAccepted("tick")
	m.RecordDrop()
	m.RecordSinkError("publisher")
	m.SetQueueDepth(3)
	m.ObserveDelivery(0.001)
}
