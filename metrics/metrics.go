// Package metrics exposes Prometheus metrics for stage calls, job polling
// and workflow transitions.
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/c360studio/datafactory/workflow"
)

const namespace = "datafactory"

// Collector records metrics. It implements stage.Recorder and
// poller.Recorder, and Observe is a workflow.Observer.
type Collector struct {
	registry *prometheus.Registry

	stageCalls    *prometheus.CounterVec
	stageDuration *prometheus.HistogramVec
	pollOutcomes  *prometheus.CounterVec
	transitions   *prometheus.CounterVec
	events        *prometheus.CounterVec
	jobProgress   prometheus.Gauge
	qaScore       prometheus.Gauge
}

// NewCollector registers all metrics on a fresh registry.
func NewCollector() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		stageCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "stage_calls_total",
			Help:      "Remote stage invocations by stage and outcome.",
		}, []string{"stage", "outcome"}),
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "stage_duration_seconds",
			Help:      "Remote stage latency.",
			Buckets:   []float64{0.05, 0.25, 1, 5, 15, 30, 60, 120, 300, 600},
		}, []string{"stage"}),
		pollOutcomes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_polls_total",
			Help:      "Generation job status queries by outcome.",
		}, []string{"outcome"}),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_transitions_total",
			Help:      "Controller state transitions by target state.",
		}, []string{"to"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflow_events_total",
			Help:      "Controller events by type.",
		}, []string{"type"}),
		jobProgress: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "job_progress_percent",
			Help:      "Last reported generation progress.",
		}),
		qaScore: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "qa_score",
			Help:      "Overall QA score of the last completed job.",
		}),
	}

	c.registry.MustRegister(
		c.stageCalls, c.stageDuration, c.pollOutcomes,
		c.transitions, c.events, c.jobProgress, c.qaScore,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// ObserveStage records one stage call.
func (c *Collector) ObserveStage(stage, outcome string, elapsed time.Duration) {
	c.stageCalls.WithLabelValues(stage, outcome).Inc()
	c.stageDuration.WithLabelValues(stage).Observe(elapsed.Seconds())
}

// ObservePoll records one poll outcome.
func (c *Collector) ObservePoll(outcome string) {
	c.pollOutcomes.WithLabelValues(outcome).Inc()
}

// Observe records a controller event.
func (c *Collector) Observe(ev workflow.Event) {
	c.events.WithLabelValues(ev.Type.String()).Inc()
	switch ev.Type {
	case workflow.EventTransition:
		c.transitions.WithLabelValues(ev.To.String()).Inc()
	case workflow.EventProgress:
		if p := ev.Snapshot.Progress; p != nil {
			c.jobProgress.Set(p.Percent)
		}
	case workflow.EventCelebrate:
		c.jobProgress.Set(100)
		if qa := ev.Snapshot.Drafts.QA; qa != nil {
			c.qaScore.Set(qa.OverallScore)
		}
	case workflow.EventReset:
		c.jobProgress.Set(0)
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (c *Collector) Serve(ctx context.Context, addr string, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.Handle("GET /metrics", c.Handler())

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

	logger.Info("Metrics endpoint listening", slog.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
