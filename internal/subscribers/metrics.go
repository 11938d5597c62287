package subscribers

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "mailloop"

var subscriptionEvents = promauto.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "subscribers",
		Name:      "lifecycle_events_total",
		Help:      "Subscriber lifecycle events by kind",
	},
	[]string{"kind"},
)

// recordSubscription records a lifecycle event metric.
func recordSubscription(kind string) {
	subscriptionEvents.WithLabelValues(kind).Inc()
}
