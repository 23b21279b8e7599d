package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingest metrics
	ReadingsProcessedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "station_alerts_readings_processed_total",
			Help: "Total number of readings ingested successfully",
		},
	)

	ReadingsRejectedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "station_alerts_readings_rejected_total",
			Help: "Total number of readings rejected as caller input errors",
		},
		[]string{"reason"}, // reason: invalid, not_found, inactive
	)

	AlertsFiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "station_alerts_alerts_fired_total",
			Help: "Total number of alerts created by rule evaluation",
		},
		[]string{"severity"},
	)

	MessagesDeadLetteredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "station_alerts_messages_dead_lettered_total",
			Help: "Total number of ingest messages NACKed to the DLQ",
		},
	)

	EventPublishTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "station_alerts_event_publish_total",
			Help: "Total number of alert.fired events published",
		},
		[]string{"status"}, // status: success, failed
	)
)
