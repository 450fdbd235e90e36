package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
)

func TestPolicyMetricsCounts(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPolicyMetrics(reg)

	m.ObserveTurn("prompt", 0.01)
	m.ObserveTurn("prompt", 0.02)
	m.ObserveSafety("blocked", "failsafe")
	m.ObserveTaskEmitted("medical-advice-block")
	m.ObserveTaskStoreFailure()
	m.ObserveTransition("open", "collecting")
	m.ObserveTransition("open", "open")

	if got := testutil.ToFloat64(m.turnsTotal.WithLabelValues("prompt")); got != 2 {
		t.Fatalf("expected 2 prompt turns, got %v", got)
	}
	if got := testutil.ToFloat64(m.safetyVerdicts.WithLabelValues("blocked", "failsafe")); got != 1 {
		t.Fatalf("expected 1 failsafe verdict, got %v", got)
	}
	if got := testutil.ToFloat64(m.taskStoreFailures); got != 1 {
		t.Fatalf("expected 1 store failure, got %v", got)
	}
	if got := testutil.CollectAndCount(m.transitionsTotal); got != 1 {
		t.Fatalf("expected self transitions to be skipped, got %d series", got)
	}
}

func TestPolicyMetricsHistogram(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewPolicyMetrics(reg)
	m.ObserveTurn("answer", 0.5)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	var hist *dto.Histogram
	for _, f := range families {
		if f.GetName() == "frontdesk_policy_turn_latency_seconds" {
			hist = f.GetMetric()[0].GetHistogram()
		}
	}
	if hist == nil || hist.GetSampleCount() != 1 {
		t.Fatalf("expected one latency sample, got %v", hist)
	}
}

func TestPolicyMetricsNilSafe(t *testing.T) {
	var m *PolicyMetrics
	m.ObserveTurn("answer", 0.1)
	m.ObserveSafety("safe", "classifier")
	m.ObserveTransition("open", "closed")
	m.ObserveTaskEmitted("unresolved-intent")
	m.ObserveTaskStoreFailure()
}
