// Package metrics exposes prometheus collectors for the sync core.
package metrics

import (
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/julianstephens/habitgarden/internal/logger"
)

const (
	ResultOK    = "ok"
	ResultError = "error"
)

var (
	namespace = "habitgarden"

	queueOps = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "operations_total",
			Help:      "Queued operations attempted against the remote store, by kind and result",
		},
		[]string{"kind", "result"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "depth",
			Help:      "Operations currently held in the queue, by status",
		},
		[]string{"status"},
	)

	reconcileTime = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "reconcile_duration_seconds",
			Help:      "Time taken by a reconcile pass",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"result"},
	)

	cacheSaves = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "saves_total",
			Help:      "Envelope writes to the persistence substrate, by result",
		},
		[]string{"result"},
	)

	cacheMerges = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "merges_total",
			Help:      "Envelopes written by another process merged into this one",
		},
	)

	online = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "sync",
			Name:      "online",
			Help:      "1 when the remote store is reachable",
		},
	)
)

func result(err error) string {
	if err != nil {
		return ResultError
	}
	return ResultOK
}

// ObserveOperation counts one remote attempt of a queued operation
func ObserveOperation(kind string, err error) {
	queueOps.WithLabelValues(kind, result(err)).Inc()
}

// SetQueueDepth records how many operations sit in each status
func SetQueueDepth(byStatus map[string]int) {
	queueDepth.Reset()
	for status, n := range byStatus {
		queueDepth.WithLabelValues(status).Set(float64(n))
	}
}

func ObserveReconcile(duration time.Duration, err error) {
	reconcileTime.WithLabelValues(result(err)).Observe(duration.Seconds())
}

func ObserveCacheSave(err error) {
	cacheSaves.WithLabelValues(result(err)).Inc()
}

func IncCacheMerge() {
	cacheMerges.Inc()
}

func SetOnline(v bool) {
	if v {
		online.Set(1)
		return
	}
	online.Set(0)
}

// SetupMetricsEndpoint starts an HTTP server exposing /metrics on addr.
// The caller owns shutdown of the returned server.
func SetupMetricsEndpoint(addr string) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	server := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("Metrics endpoint failed", "addr", addr, "error", err)
		}
	}()

	return server
}
