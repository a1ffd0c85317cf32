package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

const metricPrefix = "cmregistry_"

var (
	registerOnce sync.Once

	responseBytes   *prometheus.HistogramVec
	responseLatency *prometheus.HistogramVec
	rowsFetched     *prometheus.CounterVec

	cacheOps       *prometheus.CounterVec
	cacheEvictions *prometheus.CounterVec
	cacheUsage     prometheus.Gauge

	rebuildLocations *prometheus.CounterVec
)

// Init registers the collectors on reg. Calling it more than once is a no-op.
func Init(reg prometheus.Registerer) {
	registerOnce.Do(func() {
		responseBytes = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "response_bytes",
				Help:    "Response body size in bytes by path",
				Buckets: prometheus.ExponentialBuckets(512, 2, 10),
			},
			[]string{"path"},
		)
		responseLatency = prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    metricPrefix + "response_latency_seconds",
				Help:    "Response latency in seconds by path",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		)
		rowsFetched = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "db_rows_fetched_total",
				Help: "Rows fetched from the database by path",
			},
			[]string{"path"},
		)
		cacheOps = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cache_operations_total",
				Help: "Cache operations by namespace and result",
			},
			[]string{"namespace", "result"},
		)
		cacheEvictions = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "cache_evictions_total",
				Help: "Keys evicted by the cache governor by namespace",
			},
			[]string{"namespace"},
		)
		cacheUsage = prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: metricPrefix + "cache_memory_usage_ratio",
				Help: "Last sampled Redis used_memory / max_memory",
			},
		)
		rebuildLocations = prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: metricPrefix + "rebuild_locations_total",
				Help: "Locations processed by the location group builder by result",
			},
			[]string{"result"},
		)

		reg.MustRegister(
			responseBytes,
			responseLatency,
			rowsFetched,
			cacheOps,
			cacheEvictions,
			cacheUsage,
			rebuildLocations,
		)
	})
}

func ObserveResponse(path string, bytes int64, seconds float64, rows int) {
	if responseBytes == nil {
		return
	}
	responseBytes.WithLabelValues(path).Observe(float64(bytes))
	responseLatency.WithLabelValues(path).Observe(seconds)
	rowsFetched.WithLabelValues(path).Add(float64(rows))
}

func IncCacheOp(namespace, result string) {
	if cacheOps == nil {
		return
	}
	cacheOps.WithLabelValues(namespace, result).Inc()
}

func AddCacheEvictions(namespace string, n int) {
	if cacheEvictions == nil || n <= 0 {
		return
	}
	cacheEvictions.WithLabelValues(namespace).Add(float64(n))
}

func SetCacheUsage(ratio float64) {
	if cacheUsage == nil {
		return
	}
	cacheUsage.Set(ratio)
}

func IncRebuildLocation(result string) {
	if rebuildLocations == nil {
		return
	}
	rebuildLocations.WithLabelValues(result).Inc()
}
