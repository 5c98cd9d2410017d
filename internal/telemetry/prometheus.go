package telemetry

import "github.com/prometheus/client_golang/prometheus"

const peerpadNamespace string = "peerpad"

var (
	promConnectionsTotal prometheus.Gauge
	promEventsRelayed    *prometheus.CounterVec
	promJudgeRuns        *prometheus.CounterVec
)

func init() {
	promConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: peerpadNamespace,
		Subsystem: "relay",
		Name:      "connections_total",
	})

	promEventsRelayed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: peerpadNamespace,
			Subsystem: "relay",
			Name:      "events_relayed",
		},
		[]string{"event"},
	)

	promJudgeRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: peerpadNamespace,
			Subsystem: "judge",
			Name:      "runs",
		},
		[]string{"status"},
	)

	prometheus.MustRegister(promConnectionsTotal)
	prometheus.MustRegister(promEventsRelayed)
	prometheus.MustRegister(promJudgeRuns)
}

func ConnectionOpened() {
	promConnectionsTotal.Inc()
}

func ConnectionClosed() {
	promConnectionsTotal.Dec()
}

func EventRelayed(event string) {
	promEventsRelayed.WithLabelValues(event).Inc()
}

func JudgeRun(status string) {
	promJudgeRuns.WithLabelValues(status).Inc()
}
