package proxy

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/davicafu/usersync/internal/gateway/breaker"
	sharedMetrics "github.com/davicafu/usersync/internal/shared/infra/platform/metrics"
)

type metrics struct {
	requests      *prometheus.CounterVec
	latency       *prometheus.HistogramVec
	breakerState  *prometheus.GaugeVec
	breakerEvents *prometheus.CounterVec
}

func newMetrics(reg prometheus.Registerer) (*metrics, error) {
	m := &metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usersync_gateway_requests_total",
			Help: "Peticiones del gateway por ruta y resultado",
		}, []string{"route", "outcome"}), // forwarded|rate_limited|breaker_open|backend_failed|client_canceled
		latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "usersync_gateway_upstream_duration_seconds",
			Help:    "Latencia de las llamadas al backend",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		breakerState: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "usersync_gateway_breaker_state",
			Help: "Estado del breaker: 0 CLOSED, 1 OPEN, 2 HALF_OPEN",
		}, []string{"route"}),
		breakerEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "usersync_gateway_breaker_events_total",
			Help: "Eventos del breaker por tipo",
		}, []string{"route", "type"}),
	}
	if reg == nil {
		return m, nil
	}
	if err := sharedMetrics.Register(reg, m.requests, m.latency, m.breakerState, m.breakerEvents); err != nil {
		return nil, err
	}
	return m, nil
}

// observer traduce los eventos del breaker a métricas.
func (m *metrics) observer(route string) breaker.Observer {
	m.breakerState.WithLabelValues(route).Set(float64(breaker.Closed))
	return func(e breaker.Event) {
		m.breakerEvents.WithLabelValues(route, string(e.Type)).Inc()
		if e.Type == breaker.EventStateTransition {
			m.breakerState.WithLabelValues(route).Set(float64(e.To))
		}
	}
}
