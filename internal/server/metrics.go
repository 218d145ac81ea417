package server

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the instrumentation for the ingest and fan-out path. All
// collectors are registered on the registry handed in by the caller so tests
// can use isolated registries.
type Metrics struct {
	ReadingsIngested   *prometheus.CounterVec
	ValidationFailures *prometheus.CounterVec
	StorageFailures    prometheus.Counter
	BroadcastFrames    prometheus.Counter
	BroadcastDrops     prometheus.Counter
	Subscribers        prometheus.Gauge
}

func NewMetrics(registry prometheus.Registerer) *Metrics {
	metrics := &Metrics{
		ReadingsIngested: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iot_readings_ingested_total",
			Help: "Readings accepted, persisted and broadcast, by stream.",
		}, []string{"stream"}),
		ValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iot_validation_failures_total",
			Help: "Submissions rejected before any side effect, by stream.",
		}, []string{"stream"}),
		StorageFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iot_storage_failures_total",
			Help: "Ingestions that failed at the retention store.",
		}),
		BroadcastFrames: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iot_broadcast_frames_total",
			Help: "Frames handed to subscriber buffers.",
		}),
		BroadcastDrops: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "iot_broadcast_dropped_total",
			Help: "Frames dropped because a subscriber buffer was full.",
		}),
		Subscribers: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iot_stream_subscribers",
			Help: "Currently registered push subscribers.",
		}),
	}

	registry.MustRegister(
		metrics.ReadingsIngested,
		metrics.ValidationFailures,
		metrics.StorageFailures,
		metrics.BroadcastFrames,
		metrics.BroadcastDrops,
		metrics.Subscribers,
	)

	return metrics
}
