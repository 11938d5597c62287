package notifications

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mailloop"

var (
	outboxSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "outbox_size",
			Help:      "Number of emails in the outbox by status",
		},
		[]string{"status"},
	)

	emailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "sent_total",
			Help:      "Total emails processed",
		},
		[]string{"message_type", "status"},
	)

	emailSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "send_duration_seconds",
			Help:      "Time to send an email",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"message_type"},
	)

	outboxFetched = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "outbox_fetched_total",
			Help:      "Total emails fetched from the outbox (before send attempt). Sum of sent_total should match this.",
		},
	)
)

// recordEmailSent records a processed email metric.
func recordEmailSent(messageType MessageType, status string) {
	emailsSent.WithLabelValues(string(messageType), status).Inc()
}

// recordEmailDuration records email send duration.
func recordEmailDuration(messageType MessageType, duration time.Duration) {
	emailSendDuration.WithLabelValues(string(messageType)).Observe(duration.Seconds())
}

// recordOutboxFetched records the number of items claimed from the outbox.
func recordOutboxFetched(count int) {
	outboxFetched.Add(float64(count))
}

// RecordQueueStats updates outbox size metrics.
func RecordQueueStats(stats *QueueStats) {
	outboxSize.WithLabelValues("pending").Set(float64(stats.Pending))
	outboxSize.WithLabelValues("processing").Set(float64(stats.Processing))
	outboxSize.WithLabelValues("sent").Set(float64(stats.Sent))
	outboxSize.WithLabelValues("failed").Set(float64(stats.Failed))
}
