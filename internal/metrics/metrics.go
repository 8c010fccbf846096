// Package metrics exports pipeline counters for Prometheus.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

const namespace = "bookforge"

type Metrics struct {
	registry        *prometheus.Registry
	Extractions     *prometheus.CounterVec
	TopicsProcessed *prometheus.CounterVec
	LLMTokens       *prometheus.CounterVec
	CycleDuration   prometheus.Histogram
}

// New registers every collector on a fresh registry, so separate instances
// never collide.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		Extractions: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "extractions_total",
			Help:      "Model replies run through JSON extraction, by call site and outcome.",
		}, []string{"call_site", "status"}),
		TopicsProcessed: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "topics_processed_total",
			Help:      "Selected topics handled by a cycle, by result.",
		}, []string{"result"}),
		LLMTokens: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "llm_tokens_total",
			Help:      "Tokens reported by the model provider.",
		}, []string{"direction"}),
		CycleDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one pipeline cycle.",
			Buckets:   []float64{30, 60, 120, 300, 600, 1200, 2400, 3600},
		}),
	}
}

func (m *Metrics) ObserveExtraction(callSite, status string) {
	m.Extractions.WithLabelValues(callSite, status).Inc()
}

func (m *Metrics) ObserveTopic(result string) {
	m.TopicsProcessed.WithLabelValues(result).Inc()
}

func (m *Metrics) ObserveTokens(input, output int64) {
	m.LLMTokens.WithLabelValues("input").Add(float64(input))
	m.LLMTokens.WithLabelValues("output").Add(float64(output))
}

func (m *Metrics) ObserveCycle(d time.Duration) {
	m.CycleDuration.Observe(d.Seconds())
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *Metrics) Serve(ctx context.Context, addr string, log *zap.SugaredLogger) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Infow("metrics listening", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
