package events

import (
	"github.com/prometheus/client_golang/prometheus"

	sharedMetrics "github.com/davicafu/usersync/internal/shared/infra/platform/metrics"
)

var (
	publishedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "usersync_events_published_total",
		Help: "Eventos enviados al broker por resultado",
	}, []string{"topic", "result"}) // result: ok|failed|dropped

	consumedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "usersync_events_consumed_total",
		Help: "Mensajes consumidos por resultado",
	}, []string{"topic", "result"}) // result: handled|skipped|malformed

	handlerDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "usersync_event_handler_duration_seconds",
		Help:    "Duración del handler por mensaje, reintentos incluidos",
		Buckets: prometheus.DefBuckets,
	}, []string{"topic"})
)

// RegisterMetrics expone las métricas de mensajería en reg.
func RegisterMetrics(reg prometheus.Registerer) error {
	return sharedMetrics.Register(reg, publishedTotal, consumedTotal, handlerDuration)
}
