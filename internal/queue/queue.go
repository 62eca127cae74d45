// Package queue implements a Redis-backed delayed job queue.
//
// Jobs are enqueued into a per-type sorted set scored by their ready
// timestamp; a promoter goroutine atomically moves due jobs onto a ready list
// that a pool of worker goroutines consumes. Delivery is at-least-once with no
// ordering guarantee across jobs; an idempotency key makes re-enqueueing
// logically-equivalent work a rejected no-op at the queue layer.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// ErrDuplicate is returned by Enqueue when the idempotency key has already
// been used. Callers treat it as "this work is already scheduled".
var ErrDuplicate = errors.New("queue: duplicate idempotency key")

// Job is the envelope carried through Redis for one unit of work.
type Job struct {
	ID             string          `json:"id"`
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload"`
	IdempotencyKey string          `json:"idempotency_key,omitempty"`
	Attempts       int             `json:"attempts"`
	EnqueuedAt     time.Time       `json:"enqueued_at"`
	ReadyAt        time.Time       `json:"ready_at"`
}

// Decode unmarshals the job payload into v.
func (j *Job) Decode(v interface{}) error {
	return json.Unmarshal(j.Payload, v)
}

// Options controls how a job is enqueued.
type Options struct {
	// Delay defers delivery; zero means deliver as soon as a worker is free.
	Delay time.Duration
	// IdempotencyKey, when set, dedupes logically-equivalent jobs. A second
	// Enqueue with the same (type, key) fails with ErrDuplicate.
	IdempotencyKey string
}

// Enqueuer is the producer side of the queue. Workers depend on this
// interface so tests can capture enqueued jobs without Redis.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, payload interface{}, opts Options) (string, error)
}

// Handler processes one job to completion. A returned error triggers the
// queue's retry policy (backoff re-enqueue up to a max attempt count, then the
// dead list).
type Handler func(ctx context.Context, job *Job) error
