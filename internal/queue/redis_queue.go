package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

const (
	// DefaultMaxAttempts is how many times a job is delivered before it is
	// parked on the dead list.
	DefaultMaxAttempts = 5

	// DefaultPollInterval is how often the promoter checks for due jobs.
	DefaultPollInterval = 250 * time.Millisecond

	// idempotencyTTL bounds how long a used idempotency key blocks
	// re-enqueueing. Long enough to outlive any sanely-delayed job.
	idempotencyTTL = 14 * 24 * time.Hour

	// promoteBatch is the max number of due jobs moved per promoter tick.
	promoteBatch = 200
)

// promoteScript atomically moves due jobs from the delayed set to the ready
// list so a crash between the two steps cannot drop or duplicate a job.
var promoteScript = redis.NewScript(`
	local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, ARGV[2])
	for _, job in ipairs(due) do
		redis.call('RPUSH', KEYS[2], job)
		redis.call('ZREM', KEYS[1], job)
	end
	return #due
`)

// consumerSpec is one registered job-type consumer.
type consumerSpec struct {
	jobType     string
	concurrency int
	handler     Handler
}

// RedisQueue is a delayed job queue over a single Redis instance.
type RedisQueue struct {
	client       *redis.Client
	pollInterval time.Duration
	maxAttempts  int

	consumers []consumerSpec

	// Stats
	totalProcessed int64
	totalFailed    int64
	totalDead      int64

	// Control
	ctx     context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	mu      sync.RWMutex
	running bool
}

// NewRedisQueue creates a queue client. Consumers are registered with
// Consume before Start; Enqueue works at any time.
func NewRedisQueue(client *redis.Client) *RedisQueue {
	return &RedisQueue{
		client:       client,
		pollInterval: DefaultPollInterval,
		maxAttempts:  DefaultMaxAttempts,
	}
}

// SetPollInterval overrides the promoter poll interval (mainly for tests).
func (q *RedisQueue) SetPollInterval(d time.Duration) { q.pollInterval = d }

// SetMaxAttempts overrides the delivery attempt limit.
func (q *RedisQueue) SetMaxAttempts(n int) { q.maxAttempts = n }

func delayedKey(jobType string) string { return "jobs:" + jobType + ":delayed" }
func readyKey(jobType string) string   { return "jobs:" + jobType + ":ready" }
func deadKey(jobType string) string    { return "jobs:" + jobType + ":dead" }
func idemKey(jobType, key string) string {
	return "jobs:" + jobType + ":idem:" + key
}

// Enqueue schedules a job for delivery after opts.Delay. With an idempotency
// key set, a second enqueue for the same (type, key) returns ErrDuplicate and
// schedules nothing.
func (q *RedisQueue) Enqueue(ctx context.Context, jobType string, payload interface{}, opts Options) (string, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}

	jobID := uuid.New().String()

	if opts.IdempotencyKey != "" {
		set, err := q.client.SetNX(ctx, idemKey(jobType, opts.IdempotencyKey), jobID, idempotencyTTL).Result()
		if err != nil {
			return "", fmt.Errorf("idempotency check: %w", err)
		}
		if !set {
			return "", ErrDuplicate
		}
	}

	now := time.Now().UTC()
	job := Job{
		ID:             jobID,
		Type:           jobType,
		Payload:        body,
		IdempotencyKey: opts.IdempotencyKey,
		EnqueuedAt:     now,
		ReadyAt:        now.Add(opts.Delay),
	}

	if err := q.push(ctx, &job); err != nil {
		return "", err
	}
	return jobID, nil
}

// push adds a job envelope to its type's delayed set.
func (q *RedisQueue) push(ctx context.Context, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("marshal job: %w", err)
	}
	err = q.client.ZAdd(ctx, delayedKey(job.Type), redis.Z{
		Score:  float64(job.ReadyAt.UnixMilli()),
		Member: string(data),
	}).Err()
	if err != nil {
		return fmt.Errorf("enqueue %s: %w", job.Type, err)
	}
	return nil
}

// Consume registers a handler for one job type with its own worker
// concurrency. Must be called before Start.
func (q *RedisQueue) Consume(jobType string, concurrency int, h Handler) {
	if concurrency <= 0 {
		concurrency = 1
	}
	q.consumers = append(q.consumers, consumerSpec{jobType: jobType, concurrency: concurrency, handler: h})
}

// Start launches the promoter and worker goroutines for every registered
// consumer.
func (q *RedisQueue) Start() error {
	q.mu.Lock()
	if q.running {
		q.mu.Unlock()
		return fmt.Errorf("queue already running")
	}
	q.running = true
	q.ctx, q.cancel = context.WithCancel(context.Background())
	q.mu.Unlock()

	for _, spec := range q.consumers {
		log.Printf("[Queue] Consuming %s with %d workers", spec.jobType, spec.concurrency)

		q.wg.Add(1)
		go q.promoterLoop(spec.jobType)

		for i := 0; i < spec.concurrency; i++ {
			q.wg.Add(1)
			go q.workerLoop(spec)
		}
	}
	return nil
}

// Stop drains the worker pool. Jobs already claimed run to completion.
func (q *RedisQueue) Stop() {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return
	}
	q.running = false
	q.cancel()
	q.mu.Unlock()

	q.wg.Wait()
	log.Printf("[Queue] Stopped. Processed: %d, failed: %d, dead: %d",
		atomic.LoadInt64(&q.totalProcessed),
		atomic.LoadInt64(&q.totalFailed),
		atomic.LoadInt64(&q.totalDead))
}

// Stats returns processing counters.
func (q *RedisQueue) Stats() map[string]int64 {
	return map[string]int64{
		"processed": atomic.LoadInt64(&q.totalProcessed),
		"failed":    atomic.LoadInt64(&q.totalFailed),
		"dead":      atomic.LoadInt64(&q.totalDead),
	}
}

// promoterLoop moves due jobs from the delayed set onto the ready list.
func (q *RedisQueue) promoterLoop(jobType string) {
	defer q.wg.Done()

	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-q.ctx.Done():
			return
		case <-ticker.C:
			now := time.Now().UTC().UnixMilli()
			_, err := promoteScript.Run(q.ctx, q.client,
				[]string{delayedKey(jobType), readyKey(jobType)},
				now, promoteBatch).Result()
			if err != nil && q.ctx.Err() == nil {
				log.Printf("[Queue] Promote error for %s: %v", jobType, err)
			}
		}
	}
}

// workerLoop pops ready jobs and runs the handler, applying retry policy on
// failure.
func (q *RedisQueue) workerLoop(spec consumerSpec) {
	defer q.wg.Done()

	for {
		select {
		case <-q.ctx.Done():
			return
		default:
		}

		res, err := q.client.BLPop(q.ctx, time.Second, readyKey(spec.jobType)).Result()
		if err != nil {
			if err == redis.Nil || q.ctx.Err() != nil {
				continue
			}
			log.Printf("[Queue] Pop error for %s: %v", spec.jobType, err)
			time.Sleep(time.Second)
			continue
		}
		if len(res) < 2 {
			continue
		}

		var job Job
		if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
			log.Printf("[Queue] Dropping undecodable %s job: %v", spec.jobType, err)
			continue
		}

		job.Attempts++
		if err := spec.handler(q.ctx, &job); err != nil {
			atomic.AddInt64(&q.totalFailed, 1)
			q.retry(&job, err)
			continue
		}
		atomic.AddInt64(&q.totalProcessed, 1)
	}
}

// retry re-schedules a failed job with exponential backoff, or parks it on
// the dead list once the attempt limit is reached.
func (q *RedisQueue) retry(job *Job, cause error) {
	// The parent context may already be cancelled during shutdown; retries
	// still need to land in Redis, so use a short independent timeout.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if job.Attempts >= q.maxAttempts {
		atomic.AddInt64(&q.totalDead, 1)
		data, _ := json.Marshal(job)
		if err := q.client.RPush(ctx, deadKey(job.Type), string(data)).Err(); err != nil {
			log.Printf("[Queue] Failed to park dead %s job %s: %v", job.Type, job.ID, err)
		}
		log.Printf("[Queue] Job %s (%s) dead after %d attempts: %v", job.ID, job.Type, job.Attempts, cause)
		return
	}

	backoff := time.Duration(1<<uint(job.Attempts-1)) * time.Second
	job.ReadyAt = time.Now().UTC().Add(backoff)
	if err := q.push(ctx, job); err != nil {
		log.Printf("[Queue] Failed to re-enqueue %s job %s: %v", job.Type, job.ID, err)
		return
	}
	log.Printf("[Queue] Job %s (%s) attempt %d failed, retrying in %v: %v",
		job.ID, job.Type, job.Attempts, backoff, cause)
}
