package notifications

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "newsletter"

var (
	notificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "sent_total",
			Help:      "Total notifications processed by provider and outcome",
		},
		[]string{"provider", "status"},
	)

	notificationSendDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "send_duration_seconds",
			Help:      "Time to send notification",
			Buckets:   []float64{.01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"provider"},
	)

	notificationQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "queue_depth",
			Help:      "Number of welcome emails waiting in the in-memory queue",
		},
	)

	notificationsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notifications",
			Name:      "queue_dropped_total",
			Help:      "Welcome emails dropped because the queue was full or stopped",
		},
	)
)

func recordNotificationSent(provider, status string) {
	notificationsSent.WithLabelValues(provider, status).Inc()
}

func recordNotificationDuration(provider string, duration time.Duration) {
	notificationSendDuration.WithLabelValues(provider).Observe(duration.Seconds())
}

func recordQueueDepth(depth int) {
	notificationQueueDepth.Set(float64(depth))
}

func recordDropped() {
	notificationsDropped.Inc()
}
