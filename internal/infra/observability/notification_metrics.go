package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// NotificationMetrics tracks delivery health of notification sinks.
type NotificationMetrics struct {
	delivered *prometheus.CounterVec
	failed    *prometheus.CounterVec
	dropped   prometheus.Counter
}

// NewNotificationMetrics registers the counters on reg. A nil registerer
// yields a no-op recorder.
func NewNotificationMetrics(reg prometheus.Registerer) *NotificationMetrics {
	if reg == nil {
		return nil
	}
	factory := promauto.With(reg)
	return &NotificationMetrics{
		delivered: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wanderlust",
			Subsystem: "notification",
			Name:      "delivered_total",
			Help:      "Notifications delivered per sink.",
		}, []string{"sink"}),
		failed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wanderlust",
			Subsystem: "notification",
			Name:      "failed_total",
			Help:      "Notifications a sink failed to deliver.",
		}, []string{"sink"}),
		dropped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "wanderlust",
			Subsystem: "notification",
			Name:      "dropped_total",
			Help:      "Notifications dropped because the queue was full.",
		}),
	}
}

// Delivered counts a successful delivery.
func (m *NotificationMetrics) Delivered(sink string) {
	if m == nil {
		return
	}
	m.delivered.WithLabelValues(sink).Inc()
}

// Failed counts a failed delivery.
func (m *NotificationMetrics) Failed(sink string) {
	if m == nil {
		return
	}
	m.failed.WithLabelValues(sink).Inc()
}

// Dropped counts an event rejected by a full queue.
func (m *NotificationMetrics) Dropped() {
	if m == nil {
		return
	}
	m.dropped.Inc()
}
