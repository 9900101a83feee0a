package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds all Prometheus metrics for the lookout report service
type Metrics struct {
	ReportRequests    *prometheus.CounterVec
	ReportGenerations *prometheus.CounterVec
	GenerationTime    *prometheus.HistogramVec
	VizQueries        *prometheus.CounterVec
	QueryDuration     *prometheus.HistogramVec
	RealtimeClients   *prometheus.GaugeVec
}
