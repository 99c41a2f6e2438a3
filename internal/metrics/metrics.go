package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	FetchAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harrier_fetch_attempts_total",
			Help: "Total fetch attempts by strategy and classification outcome",
		},
		[]string{"strategy", "outcome"},
	)

	SoftBlocksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harrier_soft_blocks_total",
			Help: "Total soft blocks by detection reason",
		},
		[]string{"reason"},
	)

	EscalationsTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harrier_escalations_total",
			Help: "Total strategy escalations after repeated soft blocks",
		},
	)

	ResultsAcceptedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "harrier_results_accepted_total",
			Help: "Total results accepted into result sets by producing strategy",
		},
		[]string{"strategy"},
	)

	FetchDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "harrier_fetch_duration_seconds",
			Help:    "Duration of fetch attempts in seconds",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
		},
		[]string{"strategy"},
	)
)

// RecordFetch updates the fetch counters for one classified attempt.
func RecordFetch(strategy, outcome, blockReason string, duration time.Duration) {
	FetchAttemptsTotal.WithLabelValues(strategy, outcome).Inc()
	FetchDuration.WithLabelValues(strategy).Observe(duration.Seconds())
	if blockReason != "" {
		SoftBlocksTotal.WithLabelValues(blockReason).Inc()
	}
}

// RecordAccepted updates the accepted-results counter.
func RecordAccepted(strategy string, n int) {
	if n > 0 {
		ResultsAcceptedTotal.WithLabelValues(strategy).Add(float64(n))
	}
}

// Server encapsulates an HTTP server for Prometheus metrics.
type Server struct {
	srv *http.Server
}

// Start begins listening on the specified port and exposes /metrics.
func Start(port int) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}

	go func() {
		// Suppress the error from intentional shutdown
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server failed: %v\n", err)
		}
	}()

	return &Server{srv: srv}
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return s.srv.Shutdown(ctx)
}
