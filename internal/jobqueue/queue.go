// Package jobqueue is a durable Redis-backed queue of batch jobs.
package jobqueue

import (
	"context"
	"encoding/json"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/railzwaylabs/waterbilling/internal/clock"
	"github.com/railzwaylabs/waterbilling/internal/config"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Enqueuer accepts job intents.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobs ...Job) error
}

type QueueParam struct {
	fx.In

	Redis  *redis.Client
	Config config.Config
	Log    *zap.Logger
	Clock  clock.Clock
}

// Queue keeps pending jobs in a list, moves claimed jobs to a processing
// list owned by this consumer and parks retries in a sorted set scored by
// due time. A consumer holds a lease while it is alive; only processing
// lists of consumers whose lease expired are recovered.
type Queue struct {
	rdb         *redis.Client
	log         *zap.Logger
	clock       clock.Clock
	prefix      string
	consumer    string
	maxAttempts int
	dedupeTTL   time.Duration
	leaseTTL    time.Duration
}

func NewQueue(p QueueParam) *Queue {
	return &Queue{
		rdb:         p.Redis,
		log:         p.Log.Named("jobqueue"),
		clock:       p.Clock,
		prefix:      p.Config.Queue.KeyPrefix,
		consumer:    uuid.NewString(),
		maxAttempts: p.Config.Queue.MaxAttempts,
		dedupeTTL:   p.Config.Queue.DedupeTTL,
		leaseTTL:    p.Config.Queue.LeaseTTL,
	}
}

func (q *Queue) pendingKey() string    { return q.prefix + ":jobs:pending" }
func (q *Queue) processingKey() string { return q.processingKeyFor(q.consumer) }
func (q *Queue) delayedKey() string    { return q.prefix + ":jobs:delayed" }
func (q *Queue) failedKey() string     { return q.prefix + ":jobs:failed" }
func (q *Queue) consumersKey() string  { return q.prefix + ":jobs:consumers" }
func (q *Queue) processingKeyFor(consumer string) string {
	return q.prefix + ":jobs:processing:" + consumer
}
func (q *Queue) leaseKey(consumer string) string {
	return q.prefix + ":jobs:lease:" + consumer
}
func (q *Queue) dedupeKey(j Job) string {
	return q.prefix + ":jobs:dedupe:" + j.DedupeKey()
}

// Enqueue adds the jobs. A job whose name and batch match one already queued is dropped.
func (q *Queue) Enqueue(ctx context.Context, jobs ...Job) error {
	for _, job := range jobs {
		ok, err := q.rdb.SetNX(ctx, q.dedupeKey(job), "1", q.dedupeTTL).Result()
		if err != nil {
			return err
		}
		if !ok {
			q.log.Debug("duplicate job dropped", zap.String("job", job.Name), zap.String("batch_id", job.BatchID.String()))
			continue
		}
		job.ID = uuid.NewString()
		job.EnqueuedAt = q.clock.Now(ctx)
		raw, err := json.Marshal(job)
		if err != nil {
			return err
		}
		if err := q.rdb.LPush(ctx, q.pendingKey(), raw).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Delivery is a claimed job. Its raw form identifies it in the processing list.
type Delivery struct {
	Job Job
	raw string
}

// Consumer identifies this queue's processing list.
func (q *Queue) Consumer() string { return q.consumer }

// Heartbeat registers the consumer and extends its lease. Workers call it
// more often than the lease TTL while jobs are running.
func (q *Queue) Heartbeat(ctx context.Context) error {
	pipe := q.rdb.TxPipeline()
	pipe.SAdd(ctx, q.consumersKey(), q.consumer)
	pipe.Set(ctx, q.leaseKey(q.consumer), q.clock.Now(ctx).Format(time.RFC3339), q.leaseTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Dequeue claims the oldest pending job, or returns nil when there is none.
func (q *Queue) Dequeue(ctx context.Context) (*Delivery, error) {
	if err := q.Heartbeat(ctx); err != nil {
		return nil, err
	}
	if err := q.promoteDue(ctx); err != nil {
		return nil, err
	}
	raw, err := q.rdb.LMove(ctx, q.pendingKey(), q.processingKey(), "RIGHT", "LEFT").Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var job Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		q.log.Error("dropping undecodable job", zap.String("raw", raw), zap.Error(err))
		_ = q.rdb.LRem(ctx, q.processingKey(), 1, raw).Err()
		return nil, nil
	}
	return &Delivery{Job: job, raw: raw}, nil
}

// Ack removes a finished job and releases its dedupe key.
func (q *Queue) Ack(ctx context.Context, d *Delivery) error {
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.processingKey(), 1, d.raw)
	pipe.Del(ctx, q.dedupeKey(d.Job))
	_, err := pipe.Exec(ctx)
	return err
}

// Retry reschedules the job after delay without counting an attempt.
func (q *Queue) Retry(ctx context.Context, d *Delivery, delay time.Duration) error {
	return q.reschedule(ctx, d, d.Job, delay)
}

// Fail records a failed attempt. The job is retried with backoff until it
// reaches the attempt limit, then parked on the failed list. It reports
// whether the job was parked.
func (q *Queue) Fail(ctx context.Context, d *Delivery, cause error) (bool, error) {
	job := d.Job
	job.Attempts++
	if job.Attempts >= q.maxAttempts {
		return true, q.park(ctx, d, job, cause)
	}
	delay := time.Duration(1<<uint(job.Attempts)) * time.Second
	return false, q.reschedule(ctx, d, job, delay)
}

// Park moves the job straight to the failed list.
func (q *Queue) Park(ctx context.Context, d *Delivery, cause error) error {
	job := d.Job
	job.Attempts++
	return q.park(ctx, d, job, cause)
}

func (q *Queue) park(ctx context.Context, d *Delivery, job Job, cause error) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.processingKey(), 1, d.raw)
	pipe.LPush(ctx, q.failedKey(), raw)
	pipe.Del(ctx, q.dedupeKey(job))
	_, err = pipe.Exec(ctx)
	q.log.Error("job failed permanently",
		zap.String("job", job.Name),
		zap.String("batch_id", job.BatchID.String()),
		zap.Int("attempts", job.Attempts),
		zap.Error(cause),
	)
	return err
}

func (q *Queue) reschedule(ctx context.Context, d *Delivery, job Job, delay time.Duration) error {
	raw, err := json.Marshal(job)
	if err != nil {
		return err
	}
	due := q.clock.Now(ctx).Add(delay)
	pipe := q.rdb.TxPipeline()
	pipe.LRem(ctx, q.processingKey(), 1, d.raw)
	pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: float64(due.UnixMilli()), Member: raw})
	_, err = pipe.Exec(ctx)
	return err
}

func (q *Queue) promoteDue(ctx context.Context) error {
	now := q.clock.Now(ctx).UnixMilli()
	due, err := q.rdb.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now, 10),
	}).Result()
	if err != nil {
		return err
	}
	for _, raw := range due {
		removed, err := q.rdb.ZRem(ctx, q.delayedKey(), raw).Result()
		if err != nil {
			return err
		}
		if removed == 0 {
			// another worker promoted it
			continue
		}
		if err := q.rdb.LPush(ctx, q.pendingKey(), raw).Err(); err != nil {
			return err
		}
	}
	return nil
}

// Recover returns jobs held by consumers whose lease has expired to the
// pending list. Jobs of live consumers are left alone.
func (q *Queue) Recover(ctx context.Context) (int, error) {
	consumers, err := q.rdb.SMembers(ctx, q.consumersKey()).Result()
	if err != nil {
		return 0, err
	}
	moved := 0
	for _, consumer := range consumers {
		if consumer == q.consumer {
			continue
		}
		alive, err := q.rdb.Exists(ctx, q.leaseKey(consumer)).Result()
		if err != nil {
			return moved, err
		}
		if alive > 0 {
			continue
		}
		n, err := q.drain(ctx, consumer)
		moved += n
		if err != nil {
			return moved, err
		}
		if err := q.rdb.SRem(ctx, q.consumersKey(), consumer).Err(); err != nil {
			return moved, err
		}
		if n > 0 {
			q.log.Info("recovered jobs from expired consumer", zap.String("consumer", consumer), zap.Int("count", n))
		}
	}
	return moved, nil
}

func (q *Queue) drain(ctx context.Context, consumer string) (int, error) {
	moved := 0
	for {
		_, err := q.rdb.LMove(ctx, q.processingKeyFor(consumer), q.pendingKey(), "LEFT", "RIGHT").Result()
		if err == redis.Nil {
			return moved, nil
		}
		if err != nil {
			return moved, err
		}
		moved++
	}
}

// Release drops the lease and returns this consumer's in-flight jobs to the
// pending list. Call it on shutdown after workers have stopped.
func (q *Queue) Release(ctx context.Context) (int, error) {
	moved, err := q.drain(ctx, q.consumer)
	if err != nil {
		return moved, err
	}
	pipe := q.rdb.TxPipeline()
	pipe.SRem(ctx, q.consumersKey(), q.consumer)
	pipe.Del(ctx, q.leaseKey(q.consumer))
	_, err = pipe.Exec(ctx)
	return moved, err
}

// Failed lists jobs that exhausted their attempts.
func (q *Queue) Failed(ctx context.Context) ([]Job, error) {
	raws, err := q.rdb.LRange(ctx, q.failedKey(), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	jobs := make([]Job, 0, len(raws))
	for _, raw := range raws {
		var job Job
		if err := json.Unmarshal([]byte(raw), &job); err == nil {
			jobs = append(jobs, job)
		}
	}
	return jobs, nil
}

// Depth reports the number of pending jobs.
func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.rdb.LLen(ctx, q.pendingKey()).Result()
}
