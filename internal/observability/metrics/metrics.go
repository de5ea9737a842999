package metrics

import "github.com/prometheus/client_golang/prometheus"

// CallMetrics exposes counters/histograms for the voice webhook and tools.
type CallMetrics struct {
	webhookTotal   *prometheus.CounterVec
	webhookLatency *prometheus.HistogramVec
	toolTotal      *prometheus.CounterVec
	toolLatency    *prometheus.HistogramVec
}

func NewCallMetrics(reg prometheus.Registerer) *CallMetrics {
	m := &CallMetrics{
		webhookTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "calls",
			Name:      "webhook_total",
			Help:      "Total Vapi webhook events",
		}, []string{"event_type", "outcome"}),
		webhookLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "frontdesk",
			Subsystem: "calls",
			Name:      "webhook_latency_seconds",
			Help:      "Latency of Vapi webhook processing",
			Buckets:   prometheus.DefBuckets,
		}, []string{"event_type"}),
		toolTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "calls",
			Name:      "tool_invocations_total",
			Help:      "Total assistant tool invocations",
		}, []string{"tool", "outcome"}),
		toolLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "frontdesk",
			Subsystem: "calls",
			Name:      "tool_latency_seconds",
			Help:      "Latency of assistant tool invocations",
			Buckets:   prometheus.DefBuckets,
		}, []string{"tool"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.webhookTotal, m.webhookLatency, m.toolTotal, m.toolLatency)
	return m
}

func (m *CallMetrics) ObserveWebhook(eventType, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.webhookTotal.WithLabelValues(eventType, outcome).Inc()
	m.webhookLatency.WithLabelValues(eventType).Observe(seconds)
}

func (m *CallMetrics) ObserveTool(tool, outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.toolTotal.WithLabelValues(tool, outcome).Inc()
	m.toolLatency.WithLabelValues(tool).Observe(seconds)
}

// MessagingMetrics counts reminder and waitlist SMS outcomes.
type MessagingMetrics struct {
	remindersTotal *prometheus.CounterVec
	waitlistTotal  *prometheus.CounterVec
	inboundTotal   *prometheus.CounterVec
}

func NewMessagingMetrics(reg prometheus.Registerer) *MessagingMetrics {
	m := &MessagingMetrics{
		remindersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "messaging",
			Name:      "reminders_total",
			Help:      "Total reminder SMS attempts",
		}, []string{"stage", "status"}),
		waitlistTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "messaging",
			Name:      "waitlist_notifications_total",
			Help:      "Total waitlist notification SMS attempts",
		}, []string{"status"}),
		inboundTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "messaging",
			Name:      "inbound_sms_total",
			Help:      "Total inbound SMS webhooks by routed intent",
		}, []string{"intent"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.remindersTotal, m.waitlistTotal, m.inboundTotal)
	return m
}

func (m *MessagingMetrics) ObserveReminder(stage, status string) {
	if m == nil {
		return
	}
	m.remindersTotal.WithLabelValues(stage, status).Inc()
}

func (m *MessagingMetrics) ObserveWaitlistNotification(status string) {
	if m == nil {
		return
	}
	m.waitlistTotal.WithLabelValues(status).Inc()
}

func (m *MessagingMetrics) ObserveInboundSMS(intent string) {
	if m == nil {
		return
	}
	m.inboundTotal.WithLabelValues(intent).Inc()
}
