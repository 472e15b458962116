package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Iron-Ham/ralphloop/internal/lock"
)

const namespace = "ralphloop"

// Outcome labels for iterations.
const (
	OutcomeContinue = "continue"
	OutcomeComplete = "complete"
	OutcomeError    = "error"
)

// Recorder implements the loop's metrics hooks and the lock and store
// callbacks using Prometheus collectors. A nil *Recorder discards everything.
type Recorder struct {
	reg *prom.Registry

	iterationDuration *prom.HistogramVec
	iterations        *prom.CounterVec
	runDuration       prom.Histogram
	runs              *prom.CounterVec
	runIterations     prom.Histogram
	lockWait          *prom.HistogramVec
	transitions       *prom.CounterVec
	stateRepairs      prom.Counter
	webhooks          *prom.CounterVec
}

// New registers the collectors on reg. A nil reg gets a fresh registry that
// also carries the Go and process collectors.
func New(reg *prom.Registry) *Recorder {
	if reg == nil {
		reg = prom.NewRegistry()
		reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	}
	r := &Recorder{
		reg: reg,
		iterationDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "iteration_duration_seconds",
			Help:      "Duration of backend invocations",
			Buckets:   []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200, 1800, 3600},
		}, []string{"backend"}),
		iterations: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "iterations_total",
			Help:      "Iterations by backend and outcome",
		}, []string{"backend", "outcome"}),
		runDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "run_duration_seconds",
			Help:      "Total duration of loop runs",
			Buckets:   prom.ExponentialBuckets(10, 3, 9),
		}),
		runs: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "runs_total",
			Help:      "Finished loop runs by final status",
		}, []string{"status"}),
		runIterations: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "run_iterations",
			Help:      "Iterations used per finished run",
			Buckets:   prom.LinearBuckets(1, 5, 10),
		}),
		lockWait: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "state_lock_wait_seconds",
			Help:      "Time spent waiting for the state lock",
			Buckets:   prom.DefBuckets,
		}, []string{"strategy"}),
		transitions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "session_transitions_total",
			Help:      "Recorded session status transitions",
		}, []string{"status"}),
		stateRepairs: prom.NewCounter(prom.CounterOpts{
			Namespace: namespace,
			Name:      "state_repairs_total",
			Help:      "Corrupt state files reset to empty",
		}),
		webhooks: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "webhook_deliveries_total",
			Help:      "Webhook deliveries by result",
		}, []string{"result"}),
	}
	reg.MustRegister(
		r.iterationDuration, r.iterations,
		r.runDuration, r.runs, r.runIterations,
		r.lockWait, r.transitions, r.stateRepairs, r.webhooks,
	)
	return r
}

// Registry returns the registry the collectors live on.
func (r *Recorder) Registry() *prom.Registry {
	if r == nil {
		return nil
	}
	return r.reg
}

// IterationFinished records one backend invocation.
func (r *Recorder) IterationFinished(backend string, d time.Duration, outcome string) {
	if r == nil {
		return
	}
	r.iterationDuration.WithLabelValues(backend).Observe(d.Seconds())
	r.iterations.WithLabelValues(backend, outcome).Inc()
}

// RunFinished records the end of a loop run.
func (r *Recorder) RunFinished(status string, iterations int, d time.Duration) {
	if r == nil {
		return
	}
	r.runs.WithLabelValues(status).Inc()
	r.runDuration.Observe(d.Seconds())
	r.runIterations.Observe(float64(iterations))
}

// LockAcquired matches lock.Options.OnAcquire.
func (r *Recorder) LockAcquired(strategy lock.Strategy, waited time.Duration) {
	if r == nil {
		return
	}
	r.lockWait.WithLabelValues(string(strategy)).Observe(waited.Seconds())
}

// StateRepaired matches state.Options.OnRepair.
func (r *Recorder) StateRepaired(string, error) {
	if r == nil {
		return
	}
	r.stateRepairs.Inc()
}

// TransitionRecorded counts a persisted status change.
func (r *Recorder) TransitionRecorded(status string) {
	if r == nil {
		return
	}
	r.transitions.WithLabelValues(status).Inc()
}

// WebhookDelivered counts a webhook attempt.
func (r *Recorder) WebhookDelivered(ok bool) {
	if r == nil {
		return
	}
	result := "failed"
	if ok {
		result = "success"
	}
	r.webhooks.WithLabelValues(result).Inc()
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	if r == nil {
		return promhttp.HandlerFor(prom.NewRegistry(), promhttp.HandlerOpts{})
	}
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
