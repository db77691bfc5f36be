package metrics

import (
	"fmt"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
)

func TestCronJobMetricsTracksOutcomesAndLastSuccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewCronJobMetrics(reg)
	finished := time.Date(2026, 5, 4, 3, 0, 0, 0, time.UTC)

	m.ObserveRun("subscription_resync", JobSucceeded, 2*time.Second, finished)
	m.ObserveRun("subscription_resync", JobFailed, time.Second, finished.Add(time.Hour))
	m.ObserveRun("checkout_expiry", JobPanicked, 0, finished)
	m.IncSkippedCycle()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	runs := findMetricFamily(mfs, "orgplans_cron_job_runs_total")
	if runs == nil {
		t.Fatalf("runs counter not exported")
	}
	if got := labelledValue(runs, map[string]string{"job": "subscription_resync", "outcome": JobFailed}); got != 1 {
		t.Fatalf("expected one failed resync, got %f", got)
	}
	if got := labelledValue(runs, map[string]string{"job": "checkout_expiry", "outcome": JobPanicked}); got != 1 {
		t.Fatalf("expected one panicked expiry run, got %f", got)
	}

	last := findMetricFamily(mfs, "orgplans_cron_job_last_success_timestamp_seconds")
	if got := labelledValue(last, map[string]string{"job": "subscription_resync"}); got != float64(finished.Unix()) {
		t.Fatalf("failed run must not move last success, got %f", got)
	}
	if got := labelledValue(last, map[string]string{"job": "checkout_expiry"}); got != 0 {
		t.Fatalf("panicked job must have no success timestamp, got %f", got)
	}

	skipped := findMetricFamily(mfs, "orgplans_cron_cycles_skipped_total")
	if skipped == nil || skipped.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Fatalf("expected one skipped cycle")
	}
}

func TestCronJobMetricsNilSafe(t *testing.T) {
	var m *CronJobMetrics
	m.ObserveRun("job", JobSucceeded, time.Second, time.Now())
	m.IncSkippedCycle()
	NewCronJobMetrics(nil).ObserveRun("job", JobFailed, time.Second, time.Now())
}

// labelledValue returns the counter or gauge value of the series matching
// every label in want, or 0 when there is none.
func labelledValue(mf *dto.MetricFamily, want map[string]string) float64 {
	if mf == nil {
		return 0
	}
	for _, metric := range mf.GetMetric() {
		if !hasLabels(metric.GetLabel(), want) {
			continue
		}
		if c := metric.GetCounter(); c != nil {
			return c.GetValue()
		}
		return metric.GetGauge().GetValue()
	}
	return 0
}

func hasLabels(pairs []*dto.LabelPair, want map[string]string) bool {
	matched := 0
	for _, pair := range pairs {
		if v, ok := want[pair.GetName()]; ok && v == pair.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}

func findMetricFamily(mfs []*dto.MetricFamily, name string) *dto.MetricFamily {
	for _, mf := range mfs {
		if mf.GetName() == name {
			return mf
		}
	}
	return nil
}

func fetchCounterValue(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	return labelledValue(mf, map[string]string{label: value}), nil
}

func fetchHistogramSum(mfs []*dto.MetricFamily, name, label, value string) (float64, error) {
	mf := findMetricFamily(mfs, name)
	if mf == nil {
		return 0, fmt.Errorf("metric %q not found", name)
	}
	for _, metric := range mf.GetMetric() {
		if hasLabels(metric.GetLabel(), map[string]string{label: value}) {
			return metric.GetHistogram().GetSampleSum(), nil
		}
	}
	return 0, fmt.Errorf("histogram %q missing %s=%s", name, label, value)
}
