package thunk

import (
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestPrometheusMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := NewPrometheusMetrics(PrometheusMetricsOptions{Registerer: reg})
	if err != nil {
		t.Fatalf("NewPrometheusMetrics: %v", err)
	}

	base := map[string]string{
		labelKind:   KindAllToAll.String(),
		labelOp:     "all-to-all.1",
		labelModule: "jit_module",
	}
	metrics.CollectiveStarted(base)
	metrics.CollectiveCompleted(base)

	failAttrs := map[string]string{
		labelKind:   KindAllToAll.String(),
		labelOp:     "all-to-all.1",
		labelModule: "jit_module",
		labelReason: "timeout",
	}
	metrics.CollectiveFailed(errors.New("boom"), failAttrs)
	metrics.BindFailed(errors.New("no clique"), failAttrs)

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	cases := map[string]float64{
		"collectives_thunk_started_total":     1,
		"collectives_thunk_completed_total":   1,
		"collectives_thunk_failed_total":      1,
		"collectives_thunk_bind_failed_total": 1,
	}

	for name, want := range cases {
		if got := findCounterValue(mfs, name); got != want {
			t.Fatalf("unexpected counter %s: got %v want %v", name, got, want)
		}
	}
}

func TestPrometheusMetricsReregister(t *testing.T) {
	reg := prometheus.NewRegistry()
	if _, err := NewPrometheusMetrics(PrometheusMetricsOptions{Registerer: reg}); err != nil {
		t.Fatalf("first registration: %v", err)
	}
	// Second construction against the same registerer reuses the collectors.
	if _, err := NewPrometheusMetrics(PrometheusMetricsOptions{Registerer: reg}); err != nil {
		t.Fatalf("second registration: %v", err)
	}
}

func findCounterValue(mfs []*dto.MetricFamily, name string) float64 {
	for _, mf := range mfs {
		if mf.GetName() != name {
			continue
		}
		var sum float64
		for _, m := range mf.Metric {
			sum += m.GetCounter().GetValue()
		}
		return sum
	}
	return 0
}
