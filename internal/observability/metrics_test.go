package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ProbeRecorded(true, 12*time.Millisecond)
	m.ProbeRecorded(true, 8*time.Millisecond)
	m.ProbeRecorded(false, 0)
	if got := testutil.ToFloat64(m.probes.WithLabelValues("success")); got != 2 {
		t.Fatalf("expected 2 successful probes, got %f", got)
	}
	if got := testutil.ToFloat64(m.probes.WithLabelValues("failure")); got != 1 {
		t.Fatalf("expected 1 failed probe, got %f", got)
	}
	if samples := testutil.CollectAndCount(m.rtt); samples != 1 {
		t.Fatalf("expected rtt histogram to be collected once, got %d", samples)
	}

	m.StoreError("append")
	m.StoreError("append")
	m.StoreError("trim")
	if got := testutil.ToFloat64(m.storeErrors.WithLabelValues("append")); got != 2 {
		t.Fatalf("expected 2 append errors, got %f", got)
	}

	m.SetTargets(7)
	if got := testutil.ToFloat64(m.targets); got != 7 {
		t.Fatalf("expected targets gauge 7, got %f", got)
	}

	m.ProbeStarted()
	m.ProbeStarted()
	m.ProbeFinished()
	if got := testutil.ToFloat64(m.inFlight); got != 1 {
		t.Fatalf("expected 1 probe in flight, got %f", got)
	}

	m.ResolveFailed()
	m.RegistrySyncFailed()
	m.AggregationDone(150 * time.Millisecond)
	if got := testutil.ToFloat64(m.resolveFailures); got != 1 {
		t.Fatalf("expected 1 resolve failure, got %f", got)
	}
	if got := testutil.ToFloat64(m.syncFailures); got != 1 {
		t.Fatalf("expected 1 sync failure, got %f", got)
	}

	m.ProviderFailed("file")
	if got := testutil.ToFloat64(m.providerErrors.WithLabelValues("file")); got != 1 {
		t.Fatalf("expected 1 file provider failure, got %f", got)
	}
}

func TestNilMetrics(t *testing.T) {
	var m *Metrics
	m.ProbeRecorded(true, time.Millisecond)
	m.ResolveFailed()
	m.StoreError("set")
	m.SetTargets(1)
	m.ProbeStarted()
	m.ProbeFinished()
	m.AggregationDone(time.Second)
	m.RegistrySyncFailed()
	m.ProviderFailed("store")
}
