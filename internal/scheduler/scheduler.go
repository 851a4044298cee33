// Package scheduler drains the batch job queue and runs periodic maintenance.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	auditdomain "github.com/railzwaylabs/waterbilling/internal/audit/domain"
	batchdomain "github.com/railzwaylabs/waterbilling/internal/batch/domain"
	"github.com/railzwaylabs/waterbilling/internal/chargemodule"
	"github.com/railzwaylabs/waterbilling/internal/config"
	ierr "github.com/railzwaylabs/waterbilling/internal/errors"
	"github.com/railzwaylabs/waterbilling/internal/jobqueue"
	"github.com/railzwaylabs/waterbilling/internal/population"
	transactiondomain "github.com/railzwaylabs/waterbilling/internal/transaction/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Handler runs one job and returns the follow-up jobs to enqueue.
type Handler func(ctx context.Context, job jobqueue.Job) ([]jobqueue.Job, error)

type registration struct {
	run Handler
	// onFailure is the error code recorded on the batch once the job gives up.
	onFailure *batchdomain.ErrorCode
}

type Param struct {
	fx.In

	DB           *gorm.DB
	Log          *zap.Logger
	Config       config.Config
	Queue        *jobqueue.Queue
	Batches      batchdomain.Service
	Transactions transactiondomain.Service
	Population   *population.Service
	ChargeModule chargemodule.Gateway
	AuditSvc     auditdomain.Service   `optional:"true"`
	Registry     prometheus.Registerer `optional:"true"`
}

type Scheduler struct {
	db           *gorm.DB
	log          *zap.Logger
	cfg          config.Config
	queue        *jobqueue.Queue
	batches      batchdomain.Service
	transactions transactiondomain.Service
	population   *population.Service
	chargeModule chargemodule.Gateway
	auditSvc     auditdomain.Service
	metrics      *metrics
	handlers     map[string]registration
}

func New(p Param) *Scheduler {
	s := &Scheduler{
		db:           p.DB,
		log:          p.Log.Named("scheduler"),
		cfg:          p.Config,
		queue:        p.Queue,
		batches:      p.Batches,
		transactions: p.Transactions,
		population:   p.Population,
		chargeModule: p.ChargeModule,
		auditSvc:     p.AuditSvc,
		metrics:      newMetrics(p.Registry),
	}
	s.handlers = map[string]registration{
		jobqueue.JobCreateBillRun:       {run: s.CreateBillRunJob, onFailure: code(batchdomain.ErrorCodeFailedToCreateBillRun)},
		jobqueue.JobPopulateBatch:       {run: s.PopulateBatchJob, onFailure: code(batchdomain.ErrorCodeFailedToPopulateChargeVersions)},
		jobqueue.JobCreateCharges:       {run: s.CreateChargesJob, onFailure: code(batchdomain.ErrorCodeFailedToCreateCharge)},
		jobqueue.JobRefreshTotals:       {run: s.RefreshTotalsJob, onFailure: code(batchdomain.ErrorCodeFailedToGetChargeModuleBillRunSummary)},
		jobqueue.JobApproveBatch:        {run: s.ApproveBatchJob},
		jobqueue.JobDeleteRemoteBillRun: {run: s.DeleteRemoteBillRunJob},
	}
	return s
}

func code(c batchdomain.ErrorCode) *batchdomain.ErrorCode { return &c }

// RetryError asks the worker to run the job again after a delay without
// counting a failed attempt.
type RetryError struct {
	After  time.Duration
	Reason string
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("retry in %s: %s", e.After, e.Reason)
}

// RunForever starts the queue workers and the maintenance loop and blocks
// until ctx is cancelled.
func (s *Scheduler) RunForever(ctx context.Context) {
	if err := s.queue.Heartbeat(ctx); err != nil {
		s.log.Error("failed to register queue consumer", zap.Error(err))
	}
	s.recover(ctx)

	workers := s.cfg.Queue.Workers
	if workers < 1 {
		workers = 1
	}
	s.log.Info("scheduler started",
		zap.Int("workers", workers),
		zap.Duration("poll_interval", s.cfg.Queue.PollInterval),
	)

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			s.work(ctx, worker)
		}(i)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		s.maintain(ctx)
	}()
	wg.Wait()

	releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if moved, err := s.queue.Release(releaseCtx); err != nil {
		s.log.Error("failed to release in-flight jobs", zap.Error(err))
	} else if moved > 0 {
		s.log.Info("released in-flight jobs", zap.Int("count", moved))
	}
	s.log.Info("scheduler stopped")
}

func (s *Scheduler) recover(ctx context.Context) {
	if moved, err := s.queue.Recover(ctx); err != nil {
		s.log.Error("failed to recover in-flight jobs", zap.Error(err))
	} else if moved > 0 {
		s.log.Info("recovered in-flight jobs", zap.Int("count", moved))
	}
}

func (s *Scheduler) work(ctx context.Context, worker int) {
	log := s.log.With(zap.Int("worker", worker))
	for {
		if ctx.Err() != nil {
			return
		}
		processed, err := s.RunOnce(ctx)
		if err != nil {
			log.Error("queue poll failed", zap.Error(err))
		}
		if processed {
			continue
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.Queue.PollInterval):
		}
	}
}

// maintain keeps the consumer lease alive, recovers jobs from expired
// consumers and purges old audit events.
func (s *Scheduler) maintain(ctx context.Context) {
	lease := time.NewTicker(max(s.cfg.Queue.LeaseTTL/3, time.Second))
	defer lease.Stop()

	var purge <-chan time.Time
	if interval := s.cfg.Audit.PurgeInterval; interval > 0 {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		purge = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-lease.C:
			if err := s.queue.Heartbeat(ctx); err != nil {
				s.log.Error("queue heartbeat failed", zap.Error(err))
			}
			s.recover(ctx)
		case <-purge:
			if err := s.PurgeAuditLogsJob(ctx); err != nil {
				s.log.Error("audit purge failed", zap.Error(err))
			}
		}
	}
}

// RunOnce claims and runs a single job. It reports whether a job was found.
func (s *Scheduler) RunOnce(ctx context.Context) (bool, error) {
	d, err := s.queue.Dequeue(ctx)
	if err != nil || d == nil {
		return false, err
	}
	s.process(ctx, d)
	return true, nil
}

func (s *Scheduler) process(ctx context.Context, d *jobqueue.Delivery) {
	job := d.Job
	run := s.startRun(job)

	reg, ok := s.handlers[job.Name]
	if !ok {
		s.log.Error("no handler for job", zap.String("job", job.Name))
		if err := s.queue.Park(ctx, d, errors.New("unknown job")); err != nil {
			s.log.Error("failed to park job", zap.String("job", job.Name), zap.Error(err))
		}
		return
	}

	intents, err := reg.run(ctx, job)
	intents = append(intents, jobqueue.IntentsFrom(err)...)
	s.enqueue(ctx, job, intents)

	var retry *RetryError
	switch {
	case err == nil:
		s.finishRun(run, outcomeSuccess, nil)
		s.ack(ctx, d)
	case ierr.Is(err, ierr.ErrBatchNotFound):
		// the batch was deleted while the job waited
		s.finishRun(run, outcomeSkipped, err)
		s.ack(ctx, d)
	case ierr.As(err, &retry):
		s.finishRun(run, outcomeRetry, err)
		if qErr := s.queue.Retry(ctx, d, retry.After); qErr != nil {
			s.log.Error("failed to reschedule job", zap.String("job", job.Name), zap.Error(qErr))
		}
	default:
		s.finishRun(run, outcomeFailed, err)
		parked, qErr := s.giveUp(ctx, d, err)
		if qErr != nil {
			s.log.Error("failed to record job failure", zap.String("job", job.Name), zap.Error(qErr))
		}
		if parked && reg.onFailure != nil {
			s.markBatchErrored(ctx, job.BatchID, *reg.onFailure)
		}
	}
}

// giveUp parks jobs that failed on a business rule and retries the rest.
func (s *Scheduler) giveUp(ctx context.Context, d *jobqueue.Delivery, err error) (bool, error) {
	if _, tagged := ierr.KindOf(err); tagged {
		return true, s.queue.Park(ctx, d, err)
	}
	return s.queue.Fail(ctx, d, err)
}

func (s *Scheduler) markBatchErrored(ctx context.Context, batchID snowflake.ID, c batchdomain.ErrorCode) {
	intents, err := s.batches.SetErrorStatus(ctx, batchID, c)
	if err != nil {
		s.log.Error("failed to set batch error status",
			zap.String("batch_id", batchID.String()),
			zap.Int("error_code", int(c)),
			zap.Error(err),
		)
	}
	if len(intents) > 0 {
		if err := s.queue.Enqueue(ctx, intents...); err != nil {
			s.log.Error("failed to enqueue error follow-up", zap.String("batch_id", batchID.String()), zap.Error(err))
		}
	}
}

func (s *Scheduler) enqueue(ctx context.Context, from jobqueue.Job, intents []jobqueue.Job) {
	if len(intents) == 0 {
		return
	}
	if err := s.queue.Enqueue(ctx, intents...); err != nil {
		s.log.Error("failed to enqueue follow-up jobs",
			zap.String("job", from.Name),
			zap.String("batch_id", from.BatchID.String()),
			zap.Error(err),
		)
	}
}

func (s *Scheduler) ack(ctx context.Context, d *jobqueue.Delivery) {
	if err := s.queue.Ack(ctx, d); err != nil {
		s.log.Error("failed to ack job", zap.String("job", d.Job.Name), zap.Error(err))
	}
}
