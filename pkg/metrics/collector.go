// Package metrics exposes Prometheus counters and gauges for the store, the
// garbage collector, the upsync queue, and the IPC connector (SPEC_FULL.md
// component S), grounded on the teacher's internal/metrics/collector.go.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config configures a Collector.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
	Subsystem string `yaml:"subsystem"`
}

// DefaultConfig returns the collector default: enabled, serving /metrics on
// :9090 under the xspcore namespace.
func DefaultConfig() *Config {
	return &Config{
		Enabled:   true,
		Port:      9090,
		Path:      "/metrics",
		Namespace: "xspcore",
	}
}

// Collector owns every metric the store, GC loop, upsync queue, and IPC
// connector report against, plus the HTTP server exposing them.
type Collector struct {
	mu       sync.RWMutex
	config   *Config
	registry *prometheus.Registry

	gcPassesTotal    *prometheus.CounterVec
	gcReclaimedBytes prometheus.Counter
	gcDuration       prometheus.Histogram

	upsyncQueueDepth   prometheus.Gauge
	upsyncFlushTotal   *prometheus.CounterVec
	upsyncFlushLatency prometheus.Histogram

	cacheRequestsTotal *prometheus.CounterVec
	cacheHitRatio      prometheus.Gauge
	cacheHits          int64
	cacheMisses        int64

	ipcCallsTotal   *prometheus.CounterVec
	ipcCallLatency  *prometheus.HistogramVec
	activeCapabilities prometheus.Gauge

	server *http.Server
}

// NewCollector builds a Collector and registers all metrics against a fresh
// registry.
func NewCollector(config *Config) (*Collector, error) {
	if config == nil {
		config = DefaultConfig()
	}

	c := &Collector{
		config:   config,
		registry: prometheus.NewRegistry(),
	}

	if err := c.initMetrics(); err != nil {
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	if err := c.registerMetrics(); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	return c, nil
}

func (c *Collector) initMetrics() error {
	ns, sub := c.config.Namespace, c.config.Subsystem

	c.gcPassesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "gc_passes_total",
		Help: "Total number of garbage collection passes, by outcome",
	}, []string{"outcome"})

	c.gcReclaimedBytes = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "gc_reclaimed_bytes_total",
		Help: "Total bytes reclaimed by garbage collection",
	})

	c.gcDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: sub,
		Name:    "gc_pass_duration_seconds",
		Help:    "Duration of a garbage collection pass",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 15),
	})

	c.upsyncQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub,
		Name: "upsync_queue_depth",
		Help: "Number of pending entries in the upsync task log",
	})

	c.upsyncFlushTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "upsync_flush_total",
		Help: "Total number of upsync flush attempts, by outcome",
	}, []string{"outcome"})

	c.upsyncFlushLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: sub,
		Name:    "upsync_flush_duration_seconds",
		Help:    "Duration of an upsync flush",
		Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
	})

	c.cacheRequestsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "cache_requests_total",
		Help: "Total number of object status cache lookups, by result",
	}, []string{"result"})

	c.cacheHitRatio = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub,
		Name: "cache_hit_ratio",
		Help: "Object status cache hit ratio since the collector was created",
	})

	c.ipcCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: ns, Subsystem: sub,
		Name: "ipc_calls_total",
		Help: "Total number of IPC calls served, by operation and status",
	}, []string{"operation", "status"})

	c.ipcCallLatency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: ns, Subsystem: sub,
		Name:    "ipc_call_duration_seconds",
		Help:    "Duration of an IPC call",
		Buckets: prometheus.ExponentialBuckets(0.0001, 2, 18),
	}, []string{"operation"})

	c.activeCapabilities = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: ns, Subsystem: sub,
		Name: "active_capabilities",
		Help: "Number of capabilities currently granted and unexpired",
	})

	return nil
}

func (c *Collector) registerMetrics() error {
	collectors := []prometheus.Collector{
		c.gcPassesTotal,
		c.gcReclaimedBytes,
		c.gcDuration,
		c.upsyncQueueDepth,
		c.upsyncFlushTotal,
		c.upsyncFlushLatency,
		c.cacheRequestsTotal,
		c.cacheHitRatio,
		c.ipcCallsTotal,
		c.ipcCallLatency,
		c.activeCapabilities,
	}
	for _, coll := range collectors {
		if err := c.registry.Register(coll); err != nil {
			return err
		}
	}
	return nil
}

// RecordGCPass records the outcome, duration, and bytes reclaimed by one
// garbage collection pass.
func (c *Collector) RecordGCPass(success bool, duration time.Duration, reclaimedBytes int64) {
	if !c.config.Enabled {
		return
	}
	c.gcPassesTotal.With(prometheus.Labels{"outcome": outcomeLabel(success)}).Inc()
	c.gcDuration.Observe(duration.Seconds())
	if reclaimedBytes > 0 {
		c.gcReclaimedBytes.Add(float64(reclaimedBytes))
	}
}

// SetUpsyncQueueDepth reports the current number of pending upsync entries.
func (c *Collector) SetUpsyncQueueDepth(depth int) {
	if !c.config.Enabled {
		return
	}
	c.upsyncQueueDepth.Set(float64(depth))
}

// RecordUpsyncFlush records one upsync flush attempt and its latency.
func (c *Collector) RecordUpsyncFlush(success bool, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.upsyncFlushTotal.With(prometheus.Labels{"outcome": outcomeLabel(success)}).Inc()
	c.upsyncFlushLatency.Observe(duration.Seconds())
}

// RecordCacheLookup records a cache hit or miss and updates the hit ratio
// gauge (hits over all lookups since the collector was created).
func (c *Collector) RecordCacheLookup(hit bool) {
	if !c.config.Enabled {
		return
	}

	c.mu.Lock()
	result := "miss"
	if hit {
		result = "hit"
		c.cacheHits++
	} else {
		c.cacheMisses++
	}
	total := c.cacheHits + c.cacheMisses
	ratio := float64(c.cacheHits) / float64(total)
	c.mu.Unlock()

	c.cacheRequestsTotal.With(prometheus.Labels{"result": result}).Inc()
	c.cacheHitRatio.Set(ratio)
}

// RecordIPCCall records one IPC call's outcome and latency.
func (c *Collector) RecordIPCCall(operation string, success bool, duration time.Duration) {
	if !c.config.Enabled {
		return
	}
	c.ipcCallsTotal.With(prometheus.Labels{
		"operation": operation,
		"status":    outcomeLabel(success),
	}).Inc()
	c.ipcCallLatency.With(prometheus.Labels{"operation": operation}).Observe(duration.Seconds())
}

// SetActiveCapabilities reports the current number of granted, unexpired
// capabilities.
func (c *Collector) SetActiveCapabilities(count int) {
	if !c.config.Enabled {
		return
	}
	c.activeCapabilities.Set(float64(count))
}

// Start serves the registered metrics (and a liveness probe) over HTTP until
// ctx is done.
func (c *Collector) Start(ctx context.Context) error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"healthy","service":"xspcore-metrics"}`))
	})

	c.mu.Lock()
	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	server := c.server
	c.mu.Unlock()

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// Stop gracefully shuts down the metrics HTTP server, if running.
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.RLock()
	server := c.server
	c.mu.RUnlock()
	if server == nil {
		return nil
	}
	return server.Shutdown(ctx)
}

func outcomeLabel(success bool) string {
	if success {
		return "success"
	}
	return "error"
}
