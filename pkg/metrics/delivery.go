package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// DeliveryMetrics tracks how notifications leave this instance.
type DeliveryMetrics struct {
	deliveries         *prometheus.CounterVec
	escalations        *prometheus.CounterVec
	dispatchFailures   *prometheus.CounterVec
	activeConnections  prometheus.Gauge
	heartbeatEvictions prometheus.Counter
	routedReceived     *prometheus.CounterVec
}

// NewDeliveryMetrics registers the delivery metrics on the provided registerer.
func NewDeliveryMetrics(reg prometheus.Registerer) *DeliveryMetrics {
	if reg == nil {
		return &DeliveryMetrics{}
	}
	deliveries := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "deliveries_total",
		Help:      "Per-user dispatch outcomes by delivery path.",
	}, []string{"path"})
	escalations := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "escalations_total",
		Help:      "Escalation channel attempts by outcome.",
	}, []string{"outcome"})
	dispatchFailures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "dispatch_failures_total",
		Help:      "Per-user dispatch failures by stage.",
	}, []string{"stage"})
	activeConnections := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_connections",
		Help:      "Live connections held by this instance.",
	})
	heartbeatEvictions := prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "heartbeat_evictions_total",
		Help:      "Connections removed after a failed keep-alive.",
	})
	routedReceived := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "routed_messages_total",
		Help:      "Routed-delivery messages seen by this instance.",
	}, []string{"result"})
	reg.MustRegister(deliveries, escalations, dispatchFailures, activeConnections, heartbeatEvictions, routedReceived)
	return &DeliveryMetrics{
		deliveries:         deliveries,
		escalations:        escalations,
		dispatchFailures:   dispatchFailures,
		activeConnections:  activeConnections,
		heartbeatEvictions: heartbeatEvictions,
		routedReceived:     routedReceived,
	}
}

// IncDelivery counts one per-user dispatch on path.
func (d *DeliveryMetrics) IncDelivery(path string) {
	if d == nil || d.deliveries == nil {
		return
	}
	d.deliveries.WithLabelValues(normalizeLabel(path)).Inc()
}

// IncEscalation counts one escalation attempt by outcome (sent, skipped, failed).
func (d *DeliveryMetrics) IncEscalation(outcome string) {
	if d == nil || d.escalations == nil {
		return
	}
	d.escalations.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncDispatchFailure counts a failed per-user dispatch stage.
func (d *DeliveryMetrics) IncDispatchFailure(stage string) {
	if d == nil || d.dispatchFailures == nil {
		return
	}
	d.dispatchFailures.WithLabelValues(normalizeLabel(stage)).Inc()
}

func (d *DeliveryMetrics) ConnectionOpened() {
	if d == nil || d.activeConnections == nil {
		return
	}
	d.activeConnections.Inc()
}

func (d *DeliveryMetrics) ConnectionClosed() {
	if d == nil || d.activeConnections == nil {
		return
	}
	d.activeConnections.Dec()
}

func (d *DeliveryMetrics) IncHeartbeatEviction() {
	if d == nil || d.heartbeatEvictions == nil {
		return
	}
	d.heartbeatEvictions.Inc()
}

// IncRouted counts a routed message by result (handled, ignored, invalid, fallback).
func (d *DeliveryMetrics) IncRouted(result string) {
	if d == nil || d.routedReceived == nil {
		return
	}
	d.routedReceived.WithLabelValues(normalizeLabel(result)).Inc()
}
