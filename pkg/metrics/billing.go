package metrics

import "github.com/prometheus/client_golang/prometheus"

// BillingEventMetrics counts webhook event processing outcomes by event type.
type BillingEventMetrics struct {
	processed  *prometheus.CounterVec
	failed     *prometheus.CounterVec
	duplicates *prometheus.CounterVec
	terminal   *prometheus.CounterVec
}

// NewBillingEventMetrics registers the billing event counters on the provided registerer.
func NewBillingEventMetrics(reg prometheus.Registerer) *BillingEventMetrics {
	if reg == nil {
		return &BillingEventMetrics{}
	}
	processed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_events_processed_total",
		Help: "Billing webhook events processed successfully.",
	}, []string{"event_type"})
	failed := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_events_failed_total",
		Help: "Billing webhook event processing failures (retryable and terminal).",
	}, []string{"event_type"})
	duplicates := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_events_duplicate_total",
		Help: "Billing webhook events short-circuited as already processed.",
	}, []string{"event_type"})
	terminal := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "billing_events_terminal_failure_total",
		Help: "Billing webhook events that exhausted their retry budget.",
	}, []string{"event_type"})
	reg.MustRegister(processed, failed, duplicates, terminal)
	return &BillingEventMetrics{
		processed:  processed,
		failed:     failed,
		duplicates: duplicates,
		terminal:   terminal,
	}
}

// IncProcessed increments the processed counter for the event type.
func (m *BillingEventMetrics) IncProcessed(eventType string) {
	if m == nil || m.processed == nil {
		return
	}
	m.processed.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncFailed increments the failure counter for the event type.
func (m *BillingEventMetrics) IncFailed(eventType string) {
	if m == nil || m.failed == nil {
		return
	}
	m.failed.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncDuplicate increments the duplicate counter for the event type.
func (m *BillingEventMetrics) IncDuplicate(eventType string) {
	if m == nil || m.duplicates == nil {
		return
	}
	m.duplicates.WithLabelValues(normalizeLabel(eventType)).Inc()
}

// IncTerminalFailure increments the terminal failure counter for the event type.
func (m *BillingEventMetrics) IncTerminalFailure(eventType string) {
	if m == nil || m.terminal == nil {
		return
	}
	m.terminal.WithLabelValues(normalizeLabel(eventType)).Inc()
}
