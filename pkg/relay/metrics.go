package relay

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	dropNoTarget  = "no_target"
	dropQueueFull = "queue_full"
	dropInvalid   = "invalid"
)

var (
	metricsOnce    sync.Once
	endpointsGauge prometheus.Gauge
	relayedCounter *prometheus.CounterVec
	droppedCounter *prometheus.CounterVec
)

func ensureMetrics() {
	metricsOnce.Do(func() {
		endpointsGauge = promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "memedin",
			Subsystem: "relay",
			Name:      "endpoints",
			Help:      "Currently connected signaling endpoints",
		})
		relayedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memedin",
			Subsystem: "relay",
			Name:      "messages_total",
			Help:      "Inbound signaling messages handled, by type",
		}, []string{"type"})
		droppedCounter = promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "memedin",
			Subsystem: "relay",
			Name:      "dropped_total",
			Help:      "Signaling messages dropped, by reason",
		}, []string{"reason"})
	})
}
