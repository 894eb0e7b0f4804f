package observability

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// MetricsClient defines the interface for metrics collection.
type MetricsClient interface {
	RecordCounter(name string, value float64, labels map[string]string)
	RecordGauge(name string, value float64, labels map[string]string)
	RecordHistogram(name string, value float64, labels map[string]string)

	IncrementCounter(name string, value float64)
	IncrementCounterWithLabels(name string, value float64, labels map[string]string)
	RecordDuration(name string, duration time.Duration)

	// StartTimer returns a stop function that records the elapsed time
	// as a histogram observation.
	StartTimer(name string, labels map[string]string) func()

	// Operation-specific helpers used across repositories and the cache.
	RecordCacheOperation(operation string, hit bool, durationSeconds float64)
	RecordDatabaseOperation(operation string, success bool, durationSeconds float64)

	Close() error
}

// PrometheusMetricsClient implements MetricsClient on a prometheus
// registry. Collectors are created lazily per metric name and keyed by a
// sorted label-name signature, matching how the server exposes them on
// /metrics.
type PrometheusMetricsClient struct {
	registry  *prometheus.Registry
	namespace string

	mu         sync.Mutex
	counters   map[string]*prometheus.CounterVec
	gauges     map[string]*prometheus.GaugeVec
	histograms map[string]*prometheus.HistogramVec
}

// NewPrometheusMetricsClient creates a metrics client backed by its own
// registry. The registry is exposed for the HTTP handler.
func NewPrometheusMetricsClient(namespace string) *PrometheusMetricsClient {
	return &PrometheusMetricsClient{
		registry:   prometheus.NewRegistry(),
		namespace:  namespace,
		counters:   make(map[string]*prometheus.CounterVec),
		gauges:     make(map[string]*prometheus.GaugeVec),
		histograms: make(map[string]*prometheus.HistogramVec),
	}
}

// Registry returns the underlying prometheus registry.
func (m *PrometheusMetricsClient) Registry() *prometheus.Registry {
	return m.registry
}

func labelNames(labels map[string]string) []string {
	names := make([]string, 0, len(labels))
	for k := range labels {
		names = append(names, k)
	}
	// prometheus requires a fixed label-name set per collector; the
	// first observation of a metric name fixes it.
	sortStrings(names)
	return names
}

func sortStrings(s []string) {
	for i := 1; i < len(s); i++ {
		for j := i; j > 0 && s[j] < s[j-1]; j-- {
			s[j], s[j-1] = s[j-1], s[j]
		}
	}
}

func (m *PrometheusMetricsClient) counter(name string, labels map[string]string) prometheus.Counter {
	m.mu.Lock()
	defer m.mu.Unlock()
	vec, ok := m.counters[name]
	if !ok {
		vec = prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: m.namespace,
			Name:      name,
		}, labelNames(labels))
		m.registry.MustRegister(vec)
		m.counters[name] = vec
	}
	return vec.With(labels)
}

func (m *PrometheusMetricsClient) gauge(name string, labels map[string]string) prometheus.Gauge {
	m.mu.Lock()
	defer m.mu.Unlock()
	vec, ok := m.gauges[name]
	if !ok {
		vec = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: m.namespace,
			Name:      name,
		}, labelNames(labels))
		m.registry.MustRegister(vec)
		m.gauges[name] = vec
	}
	return vec.With(labels)
}

func (m *PrometheusMetricsClient) histogram(name string, labels map[string]string) prometheus.Observer {
	m.mu.Lock()
	defer m.mu.Unlock()
	vec, ok := m.histograms[name]
	if !ok {
		vec = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: m.namespace,
			Name:      name,
			Buckets:   prometheus.DefBuckets,
		}, labelNames(labels))
		m.registry.MustRegister(vec)
		m.histograms[name] = vec
	}
	return vec.With(labels)
}

// RecordCounter adds value to the named counter.
func (m *PrometheusMetricsClient) RecordCounter(name string, value float64, labels map[string]string) {
	m.counter(name, labels).Add(value)
}

// RecordGauge sets the named gauge.
func (m *PrometheusMetricsClient) RecordGauge(name string, value float64, labels map[string]string) {
	m.gauge(name, labels).Set(value)
}

// RecordHistogram observes value on the named histogram.
func (m *PrometheusMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {
	m.histogram(name, labels).Observe(value)
}

// IncrementCounter increments a counter without labels.
func (m *PrometheusMetricsClient) IncrementCounter(name string, value float64) {
	m.RecordCounter(name, value, map[string]string{})
}

// IncrementCounterWithLabels increments a counter with labels.
func (m *PrometheusMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
	m.RecordCounter(name, value, labels)
}

// RecordDuration records a duration as a seconds histogram.
func (m *PrometheusMetricsClient) RecordDuration(name string, duration time.Duration) {
	m.RecordHistogram(name, duration.Seconds(), map[string]string{})
}

// StartTimer records elapsed seconds on stop.
func (m *PrometheusMetricsClient) StartTimer(name string, labels map[string]string) func() {
	start := time.Now()
	return func() {
		m.RecordHistogram(name, time.Since(start).Seconds(), labels)
	}
}

// RecordCacheOperation records a cache hit/miss with latency.
func (m *PrometheusMetricsClient) RecordCacheOperation(operation string, hit bool, durationSeconds float64) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.RecordCounter("cache_operations_total", 1, map[string]string{"operation": operation, "result": result})
	m.RecordHistogram("cache_operation_seconds", durationSeconds, map[string]string{"operation": operation})
}

// RecordDatabaseOperation records a database operation outcome with latency.
func (m *PrometheusMetricsClient) RecordDatabaseOperation(operation string, success bool, durationSeconds float64) {
	result := "error"
	if success {
		result = "success"
	}
	m.RecordCounter("database_operations_total", 1, map[string]string{"operation": operation, "result": result})
	m.RecordHistogram("database_operation_seconds", durationSeconds, map[string]string{"operation": operation})
}

// Close implements MetricsClient.
func (m *PrometheusMetricsClient) Close() error { return nil }

// NoOpMetricsClient discards everything; used in tests.
type NoOpMetricsClient struct{}

// NewNoOpMetricsClient creates a metrics client that records nothing.
func NewNoOpMetricsClient() MetricsClient { return &NoOpMetricsClient{} }

func (m *NoOpMetricsClient) RecordCounter(name string, value float64, labels map[string]string)   {}
func (m *NoOpMetricsClient) RecordGauge(name string, value float64, labels map[string]string)     {}
func (m *NoOpMetricsClient) RecordHistogram(name string, value float64, labels map[string]string) {}
func (m *NoOpMetricsClient) IncrementCounter(name string, value float64)                          {}
func (m *NoOpMetricsClient) IncrementCounterWithLabels(name string, value float64, labels map[string]string) {
}
func (m *NoOpMetricsClient) RecordDuration(name string, duration time.Duration)        {}
func (m *NoOpMetricsClient) StartTimer(name string, labels map[string]string) func()   { return func() {} }
func (m *NoOpMetricsClient) RecordCacheOperation(op string, hit bool, duration float64) {}
func (m *NoOpMetricsClient) RecordDatabaseOperation(op string, success bool, duration float64) {
}
func (m *NoOpMetricsClient) Close() error { return nil }
