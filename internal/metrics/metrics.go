package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics - счетчики движка кластеризации и доставки уведомлений
type Metrics struct {
	ReportsIngested        prometheus.Counter
	IncidentsSeeded        prometheus.Counter
	ClusterJoins           prometheus.Counter
	VersionConflicts       prometheus.Counter
	NotificationsDelivered prometheus.Counter
	NotificationsFailed    prometheus.Counter
	ActiveIncidents        prometheus.Gauge
}

// New регистрирует метрики в переданном регистраторе
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ReportsIngested: factory.NewCounter(prometheus.CounterOpts{
			Name: "reports_ingested_total",
			Help: "Total normalized reports accepted by the clustering engine.",
		}),
		IncidentsSeeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "incidents_seeded_total",
			Help: "Total incidents created from reports with no nearby cluster.",
		}),
		ClusterJoins: factory.NewCounter(prometheus.CounterOpts{
			Name: "cluster_joins_total",
			Help: "Total reports joined to an existing incident.",
		}),
		VersionConflicts: factory.NewCounter(prometheus.CounterOpts{
			Name: "version_conflicts_total",
			Help: "Total optimistic concurrency conflicts retried internally.",
		}),
		NotificationsDelivered: factory.NewCounter(prometheus.CounterOpts{
			Name: "notifications_delivered_total",
			Help: "Total resolution notifications delivered to citizens.",
		}),
		NotificationsFailed: factory.NewCounter(prometheus.CounterOpts{
			Name: "notifications_failed_total",
			Help: "Total notifications that exhausted the retry budget.",
		}),
		ActiveIncidents: factory.NewGauge(prometheus.GaugeOpts{
			Name: "active_incidents",
			Help: "Incidents currently in OPEN or IN_PROGRESS status.",
		}),
	}
}
