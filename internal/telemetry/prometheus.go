package telemetry

import "github.com/prometheus/client_golang/prometheus"

const ptconnectNamespace string = "ptconnect"

var (
	promCallsActive         prometheus.Gauge
	promSignalingSessions   prometheus.Gauge
	promChatPolls           *prometheus.CounterVec
	ServiceOperationCounter *prometheus.CounterVec
)

func init() {
	promCallsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ptconnectNamespace,
		Subsystem: "call",
		Name:      "active",
	})

	promSignalingSessions = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ptconnectNamespace,
		Subsystem: "signaling",
		Name:      "sessions",
	})

	promChatPolls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ptconnectNamespace,
			Subsystem: "chat",
			Name:      "polls_total",
		},
		[]string{"status"},
	)

	ServiceOperationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: ptconnectNamespace,
			Subsystem: "node",
			Name:      "service_operation",
		},
		[]string{"type", "status", "error_type"},
	)

	prometheus.MustRegister(promCallsActive)
	prometheus.MustRegister(promSignalingSessions)
	prometheus.MustRegister(promChatPolls)
	prometheus.MustRegister(ServiceOperationCounter)
}

func CallStarted() {
	promCallsActive.Inc()
}

func CallEnded() {
	promCallsActive.Dec()
}

func SignalingSessionOpened() {
	promSignalingSessions.Inc()
}

func SignalingSessionClosed() {
	promSignalingSessions.Dec()
}

func ChatPolled(ok bool) {
	status := "success"
	if !ok {
		status = "error"
	}
	promChatPolls.WithLabelValues(status).Inc()
}

// Operation counts a service operation outcome, errorType is empty on success
func Operation(opType string, errorType string) {
	status := "success"
	if errorType != "" {
		status = "error"
	}
	ServiceOperationCounter.WithLabelValues(opType, status, errorType).Inc()
}
