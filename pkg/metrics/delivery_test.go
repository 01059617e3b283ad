package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestDeliveryMetricsCounters(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewDeliveryMetrics(reg)

	metrics.IncDelivery("local")
	metrics.IncDelivery("local")
	metrics.IncDelivery("offline")
	metrics.IncEscalation("sent")
	metrics.IncDispatchFailure("")
	metrics.IncHeartbeatEviction()
	metrics.IncRouted("ignored")

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}

	if got, err := fetchCounterValue(mfs, "notifyhub_deliveries_total", "path", "local"); err != nil || got != 2 {
		t.Fatalf("expected local=2, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "notifyhub_deliveries_total", "path", "offline"); err != nil || got != 1 {
		t.Fatalf("expected offline=1, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "notifyhub_escalations_total", "outcome", "sent"); err != nil || got != 1 {
		t.Fatalf("expected sent=1, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "notifyhub_dispatch_failures_total", "stage", "unknown"); err != nil || got != 1 {
		t.Fatalf("expected blank stage to normalize to unknown, got %f (%v)", got, err)
	}
	if got, err := fetchCounterValue(mfs, "notifyhub_routed_messages_total", "result", "ignored"); err != nil || got != 1 {
		t.Fatalf("expected ignored=1, got %f (%v)", got, err)
	}
	mf := findMetricFamily(mfs, "notifyhub_heartbeat_evictions_total")
	if mf == nil || mf.GetMetric()[0].GetCounter().GetValue() != 1 {
		t.Fatalf("expected one heartbeat eviction")
	}
}

func TestActiveConnectionsGauge(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewDeliveryMetrics(reg)

	metrics.ConnectionOpened()
	metrics.ConnectionOpened()
	metrics.ConnectionClosed()

	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	mf := findMetricFamily(mfs, "notifyhub_active_connections")
	if mf == nil {
		t.Fatalf("gauge not registered")
	}
	if got := mf.GetMetric()[0].GetGauge().GetValue(); got != 1 {
		t.Fatalf("expected 1 active connection, got %f", got)
	}
}

func TestNilDeliveryMetricsIsSafe(t *testing.T) {
	var metrics *DeliveryMetrics
	metrics.IncDelivery("local")
	metrics.ConnectionOpened()
	NewDeliveryMetrics(nil).IncHeartbeatEviction()
}
