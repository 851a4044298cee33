package scheduler

import (
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/railzwaylabs/waterbilling/internal/jobqueue"
	"go.uber.org/zap"
)

const (
	outcomeSuccess = "success"
	outcomeSkipped = "skipped"
	outcomeRetry   = "retry"
	outcomeFailed  = "failed"
)

// jobRun tracks one execution of a queued or periodic job.
type jobRun struct {
	name      string
	batchID   string
	attempt   int
	started   time.Time
	processed atomic.Int64
}

func (r *jobRun) AddProcessed(n int) {
	r.processed.Add(int64(n))
}

func (s *Scheduler) startRun(job jobqueue.Job) *jobRun {
	run := &jobRun{
		name:    job.Name,
		batchID: job.BatchID.String(),
		attempt: job.Attempts + 1,
		started: time.Now(),
	}
	s.logJobStart(run)
	return run
}

func (s *Scheduler) startPeriodicRun(name string) *jobRun {
	run := &jobRun{name: name, attempt: 1, started: time.Now()}
	s.logJobStart(run)
	return run
}

func (s *Scheduler) logJobStart(run *jobRun) {
	s.log.Debug("job started",
		zap.String("job", run.name),
		zap.String("batch_id", run.batchID),
		zap.Int("attempt", run.attempt),
	)
}

func (s *Scheduler) finishRun(run *jobRun, outcome string, err error) {
	elapsed := time.Since(run.started)
	s.metrics.jobs.WithLabelValues(run.name, outcome).Inc()
	s.metrics.duration.WithLabelValues(run.name).Observe(elapsed.Seconds())

	fields := []zap.Field{
		zap.String("job", run.name),
		zap.String("batch_id", run.batchID),
		zap.Int("attempt", run.attempt),
		zap.String("outcome", outcome),
		zap.Int64("processed", run.processed.Load()),
		zap.Duration("elapsed", elapsed),
	}
	switch outcome {
	case outcomeFailed:
		s.log.Error("job finished", append(fields, zap.Error(err))...)
	case outcomeRetry, outcomeSkipped:
		s.log.Info("job finished", append(fields, zap.Error(err))...)
	default:
		s.log.Info("job finished", fields...)
	}
}

type metrics struct {
	jobs     *prometheus.CounterVec
	duration *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		jobs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "waterbilling",
			Subsystem: "queue",
			Name:      "jobs_total",
			Help:      "Jobs run by name and outcome.",
		}, []string{"job", "outcome"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "waterbilling",
			Subsystem: "queue",
			Name:      "job_duration_seconds",
			Help:      "Job run time.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
	}
	if reg != nil {
		reg.MustRegister(m.jobs, m.duration)
	}
	return m
}
