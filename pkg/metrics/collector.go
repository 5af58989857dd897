// Package metrics instruments the exporter itself.
//
// The tweet statistics are served from the snapshot; this package covers
// how the exporter is doing: refresh cycles, their latency, failures per
// error class and HTTP traffic. Counters are kept twice: as atomics for
// the JSON status endpoints and as Prometheus collectors for scraping.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Stats holds a copy of the exporter counters.
// It is returned by GetStats and safe to read without synchronization.
type Stats struct {
	// CyclesSucceeded counts cycles that published live values.
	CyclesSucceeded int64

	// CyclesFailed counts cycles that published the fallback.
	CyclesFailed int64

	// LastCycleDuration is the duration of the most recent cycle.
	LastCycleDuration time.Duration

	// AverageCycleDuration is the mean over every cycle.
	AverageCycleDuration time.Duration

	// Failures maps an error class to its count.
	Failures map[string]int64

	// HTTPRequests maps "method:path:status" to request count.
	HTTPRequests map[string]int64
}

// Collector accumulates metrics about exporter behavior.
// All methods are safe for concurrent use.
type Collector struct {
	cyclesSucceeded atomic.Int64
	cyclesFailed    atomic.Int64
	lastCycle       atomic.Int64
	totalCycle      atomic.Int64

	// mu protects the maps below; counters are only added, never removed.
	mu           sync.RWMutex
	failures     map[string]*atomic.Int64
	httpRequests map[string]*atomic.Int64

	registry      *prometheus.Registry
	cycles        *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	entryFailures *prometheus.CounterVec
	published     prometheus.Gauge
	requests      *prometheus.CounterVec
	requestTime   *prometheus.HistogramVec
}

// NewCollector returns a collector with its own Prometheus registry.
// The registry also carries the Go runtime and process collectors.
func NewCollector() *Collector {
	c := &Collector{
		failures:     make(map[string]*atomic.Int64),
		httpRequests: make(map[string]*atomic.Int64),
		registry:     prometheus.NewRegistry(),

		cycles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "twitter_exporter_cycles_total",
				Help: "Refresh cycles by outcome",
			},
			[]string{"result"},
		),
		cycleDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "twitter_exporter_cycle_duration_seconds",
				Help:    "Refresh cycle latency",
				Buckets: prometheus.DefBuckets,
			},
		),
		entryFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "twitter_exporter_failures_total",
				Help: "Failed refresh cycles by error class",
			},
			[]string{"class"},
		),
		published: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "twitter_exporter_snapshot_metrics",
				Help: "Number of metrics in the published snapshot",
			},
		),
		requests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "twitter_exporter_http_requests_total",
				Help: "HTTP requests by method, path and status",
			},
			[]string{"method", "path", "status"},
		),
		requestTime: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "twitter_exporter_http_request_duration_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"path"},
		),
	}
	c.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		c.cycles,
		c.cycleDuration,
		c.entryFailures,
		c.published,
		c.requests,
		c.requestTime,
	)
	return c
}

// RecordCycle records a finished refresh cycle. class is empty for a
// successful cycle and names the error class otherwise.
func (c *Collector) RecordCycle(latency time.Duration, class string, metrics int) {
	c.lastCycle.Store(int64(latency))
	c.totalCycle.Add(int64(latency))
	c.cycleDuration.Observe(latency.Seconds())
	c.published.Set(float64(metrics))

	if class == "" {
		c.cyclesSucceeded.Add(1)
		c.cycles.WithLabelValues("success").Inc()
		return
	}
	c.cyclesFailed.Add(1)
	c.cycles.WithLabelValues("fallback").Inc()
	c.entryFailures.WithLabelValues(class).Inc()
	counter(&c.mu, c.failures, class).Add(1)
}

// RecordHTTPRequest records one served request.
func (c *Collector) RecordHTTPRequest(method, path string, status int, latency time.Duration) {
	code := strconv.Itoa(status)
	c.requests.WithLabelValues(method, path, code).Inc()
	c.requestTime.WithLabelValues(path).Observe(latency.Seconds())
	counter(&c.mu, c.httpRequests, method+":"+path+":"+code).Add(1)
}

// counter returns the counter for key, creating it on first use.
func counter(mu *sync.RWMutex, m map[string]*atomic.Int64, key string) *atomic.Int64 {
	mu.RLock()
	ctr, exists := m[key]
	mu.RUnlock()
	if exists {
		return ctr
	}

	mu.Lock()
	defer mu.Unlock()
	// another goroutine may have created it meanwhile
	if ctr, exists = m[key]; !exists {
		ctr = &atomic.Int64{}
		m[key] = ctr
	}
	return ctr
}

// GetStats returns a copy of the current counters.
func (c *Collector) GetStats() Stats {
	succeeded := c.cyclesSucceeded.Load()
	failed := c.cyclesFailed.Load()

	var avg time.Duration
	if n := succeeded + failed; n > 0 {
		avg = time.Duration(c.totalCycle.Load() / n)
	}

	c.mu.RLock()
	failures := make(map[string]int64, len(c.failures))
	for k, v := range c.failures {
		failures[k] = v.Load()
	}
	reqs := make(map[string]int64, len(c.httpRequests))
	for k, v := range c.httpRequests {
		reqs[k] = v.Load()
	}
	c.mu.RUnlock()

	return Stats{
		CyclesSucceeded:      succeeded,
		CyclesFailed:         failed,
		LastCycleDuration:    time.Duration(c.lastCycle.Load()),
		AverageCycleDuration: avg,
		Failures:             failures,
		HTTPRequests:         reqs,
	}
}

// Handler serves the Prometheus registry in the text exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }
