// Package metrics provides Prometheus counters for the alerting pipeline.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "monalert"

// Ingest metrics
var (
	// EventsConsumed counts bus messages handled per topic.
	EventsConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_consumed_total",
			Help:      "Total bus messages consumed",
		},
		[]string{"topic"},
	)

	// EventsDropped counts acknowledged-and-dropped messages per topic and reason.
	EventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_dropped_total",
			Help:      "Total bus messages dropped without processing",
		},
		[]string{"topic", "reason"},
	)

	// EventsRedelivered counts messages returned to the bus for redelivery.
	EventsRedelivered = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "events_redelivered_total",
			Help:      "Total bus messages released for redelivery",
		},
		[]string{"topic"},
	)
)

// Alert lifecycle metrics
var (
	// AlertsCreated counts newly raised alerts.
	AlertsCreated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "created_total",
			Help:      "Total alerts created",
		},
	)

	// AlertsDeduplicated counts events merged into an existing open alert.
	AlertsDeduplicated = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "deduplicated_total",
			Help:      "Total events suppressed by open-alert deduplication",
		},
	)

	// Transitions counts lifecycle transitions by target status.
	Transitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "transitions_total",
			Help:      "Total lifecycle transitions",
		},
		[]string{"to"},
	)

	// Escalations counts severity escalations.
	Escalations = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "escalations_total",
			Help:      "Total alert escalations",
		},
	)
)

// Notification metrics
var (
	// Notifications counts delivery attempts by channel and result.
	Notifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Total notification delivery attempts",
		},
		[]string{"channel", "result"},
	)

	// NotificationRetries counts retry deliveries by channel.
	NotificationRetries = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "notify",
			Name:      "retries_total",
			Help:      "Total failed-notification retry attempts",
		},
		[]string{"channel"},
	)
)
