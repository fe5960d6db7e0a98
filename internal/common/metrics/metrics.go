package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	NotificationsDispatched = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_dispatched_total",
			Help: "Total notifications handed to a channel adapter",
		},
		[]string{"channel", "provider", "outcome"},
	)

	NotificationsDenied = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_denied_total",
			Help: "Sends suppressed by the eligibility resolver",
		},
		[]string{"channel", "reason"},
	)

	DispatchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "notification_dispatch_duration_seconds",
			Help: "End-to-end dispatch duration per channel",
		},
		[]string{"channel"},
	)

	RetriesScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_retries_scheduled_total",
			Help: "Retry attempts queued by the backoff manager",
		},
		[]string{"channel"},
	)

	ProviderFailovers = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_provider_failover_total",
			Help: "Dispatches rerouted from primary to fallback provider",
		},
		[]string{"channel", "from", "to"},
	)

	SchedulerFires = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_scheduler_fires_total",
			Help: "Scheduled jobs promoted to the dispatch queue",
		},
		[]string{"kind", "late"},
	)

	WorkersActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "notification_dispatch_workers_active",
			Help: "Dispatch workers currently processing a notification",
		},
	)

	CallbacksReceived = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "notification_provider_callbacks_total",
			Help: "Asynchronous provider callbacks processed",
		},
		[]string{"provider", "status"},
	)
)
