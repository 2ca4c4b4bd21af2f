// Package metrics exposes a small set of Prometheus counters/gauges over an
// admin-only HTTP endpoint, separate from the binary frame protocol the
// node serves client traffic on.
package metrics

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the process-wide counters/gauges. All fields are safe for
// concurrent use (they wrap prometheus's own atomics).
type Metrics struct {
	RequestsTotal    *prometheus.CounterVec
	ReplicationTotal *prometheus.CounterVec
	StoreSize        prometheus.Gauge
	ActivePeers      prometheus.Gauge
}

// New registers and returns a fresh Metrics set against the default
// registry.
func New() *Metrics {
	return &Metrics{
		RequestsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvmesh",
			Name:      "requests_total",
			Help:      "Requests handled by tag and response status.",
		}, []string{"tag", "status"}),

		ReplicationTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvmesh",
			Name:      "replication_attempts_total",
			Help:      "Replication fan-out attempts by outcome.",
		}, []string{"outcome"}),

		StoreSize: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "kvmesh",
			Name:      "store_entries",
			Help:      "Number of live entries currently held by the store.",
		}),

		ActivePeers: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: "kvmesh",
			Name:      "active_peers",
			Help:      "Number of peers other than this node currently marked active in the membership table.",
		}),
	}
}

// Serve runs a minimal admin HTTP server exposing /metrics until ctx is
// cancelled. It is a separate listener from the node's client-facing TCP
// port, since the wire protocol itself is not HTTP.
func Serve(ctx context.Context, port int) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return srv.Close()
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("metrics: serve: %w", err)
		}
		return nil
	}
}
