// Package debounce schedules per-group cluster recomputations.
//
// Bursts of uploads must yield one reconciliation per group, run after the
// burst quiesces, never concurrently with itself. The protocol keeps three KV
// entries per group:
//
//	cluster:pending:<g>  burst in progress; refreshed on every upload (TTL = quiet window)
//	cluster:job:<g>      a delayed cluster job is scheduled (opaque job id)
//	cluster:count:<g>    uploads seen in the current burst (diagnostic)
//
// Every upload refreshes pending and races SETNX on the job key; the single
// winner enqueues one delayed job. When the job starts it checks pending: if
// the burst is still hot it reschedules itself, bounded by MaxRetries, after
// which it runs anyway so progress is guaranteed. The job key's TTL is the
// safety net: a worker that dies mid-flight leaves a key that self-clears, and
// the next upload schedules a fresh job.
package debounce

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/phototimeline/server/internal/monitoring"
)

// jobKeySlack widens the job key TTL beyond the worst-case schedule so the key
// outlives a healthy job but still self-clears after a crash.
const jobKeySlack = 10 * time.Second

// KV is the key-value store the coordinator runs on. Any store with SET NX EX
// semantics suffices; RedisKV is the production implementation and MemoryKV
// backs tests.
type KV interface {
	// Set stores value under key with the given TTL, overwriting any holder.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX stores value only if key is absent. Returns true if this call won.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// Incr atomically increments the integer at key, creating it at 1.
	Incr(ctx context.Context, key string) (int64, error)

	// Expire resets the TTL of an existing key.
	Expire(ctx context.Context, key string, ttl time.Duration) error

	// Del removes the given keys.
	Del(ctx context.Context, keys ...string) error
}

// Enqueuer hands a cluster job to the delayed-job queue. Implemented by the
// asynq-backed queue in internal/jobs.
type Enqueuer interface {
	EnqueueClusterJob(ctx context.Context, groupID uuid.UUID, jobID string, attempt int, delay time.Duration) error
}

// Decision tells a starting cluster job how to proceed.
type Decision int

const (
	// DecisionRun means the burst is quiet: reconcile now.
	DecisionRun Decision = iota

	// DecisionReschedule means uploads are still arriving: re-enqueue the same
	// job id with a fresh delay.
	DecisionReschedule

	// DecisionRunForced means the burst is still hot but the retry budget is
	// spent: reconcile anyway (bounded staleness beats starvation).
	DecisionRunForced
)

func (d Decision) String() string {
	switch d {
	case DecisionRun:
		return "run"
	case DecisionReschedule:
		return "reschedule"
	case DecisionRunForced:
		return "run-forced"
	default:
		return fmt.Sprintf("Decision(%d)", int(d))
	}
}

// Options tunes the coordinator. Zero values fall back to the documented
// defaults (5s quiet window, 3s job delay, 2 reschedules).
type Options struct {
	DebounceTTL time.Duration
	RetryDelay  time.Duration
	MaxRetries  int
}

// Coordinator implements the per-group single-flight debounce protocol.
type Coordinator struct {
	kv   KV
	enq  Enqueuer
	opts Options
	logf func(format string, v ...interface{})
}

// NewCoordinator builds a Coordinator over the given KV store and queue.
func NewCoordinator(kv KV, enq Enqueuer, opts Options) *Coordinator {
	if opts.DebounceTTL <= 0 {
		opts.DebounceTTL = 5 * time.Second
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = 3 * time.Second
	}
	return &Coordinator{
		kv:   kv,
		enq:  enq,
		opts: opts,
		logf: monitoring.Scoped("debounce"),
	}
}

func pendingKey(g uuid.UUID) string { return "cluster:pending:" + g.String() }
func jobKey(g uuid.UUID) string     { return "cluster:job:" + g.String() }
func countKey(g uuid.UUID) string   { return "cluster:count:" + g.String() }

func (c *Coordinator) jobKeyTTL() time.Duration {
	return c.opts.RetryDelay + c.opts.DebounceTTL + jobKeySlack
}

// Notify records one upload for the group. It refreshes the quiet window,
// bumps the burst counter, and schedules exactly one delayed cluster job per
// burst: the SETNX winner enqueues, all other callers are no-ops. Side effects
// are three KV commands and at most one enqueue; reconciliation itself always
// happens on a worker.
func (c *Coordinator) Notify(ctx context.Context, groupID uuid.UUID) error {
	if err := c.kv.Set(ctx, pendingKey(groupID), "1", c.opts.DebounceTTL); err != nil {
		return fmt.Errorf("refresh pending key: %w", err)
	}

	if _, err := c.kv.Incr(ctx, countKey(groupID)); err != nil {
		return fmt.Errorf("bump burst counter: %w", err)
	}
	if err := c.kv.Expire(ctx, countKey(groupID), c.opts.DebounceTTL); err != nil {
		return fmt.Errorf("expire burst counter: %w", err)
	}

	jobID := uuid.NewString()
	won, err := c.kv.SetNX(ctx, jobKey(groupID), jobID, c.jobKeyTTL())
	if err != nil {
		return fmt.Errorf("claim job key: %w", err)
	}
	if !won {
		// An earlier upload in this burst already scheduled the job.
		return nil
	}

	if err := c.enq.EnqueueClusterJob(ctx, groupID, jobID, 0, c.opts.RetryDelay); err != nil {
		// Release the claim so the next upload can schedule a fresh job
		// instead of waiting out the TTL.
		if delErr := c.kv.Del(ctx, jobKey(groupID)); delErr != nil {
			c.logf("failed to release job key for group %s: %v", groupID, delErr)
		}
		return fmt.Errorf("enqueue cluster job: %w", err)
	}

	c.logf("scheduled cluster job %s for group %s (delay %s)", jobID, groupID, c.opts.RetryDelay)
	return nil
}

// JobDecision is consulted by the cluster worker when its job starts. attempt
// counts previous reschedules of this job.
func (c *Coordinator) JobDecision(ctx context.Context, groupID uuid.UUID, attempt int) (Decision, error) {
	_, hot, err := c.kv.Get(ctx, pendingKey(groupID))
	if err != nil {
		return DecisionRun, fmt.Errorf("read pending key: %w", err)
	}
	if !hot {
		return DecisionRun, nil
	}
	if attempt < c.opts.MaxRetries {
		return DecisionReschedule, nil
	}
	return DecisionRunForced, nil
}

// Reschedule re-enqueues the same job id with a fresh delay and refreshes the
// job key TTL so it covers the extended schedule.
func (c *Coordinator) Reschedule(ctx context.Context, groupID uuid.UUID, jobID string, attempt int) error {
	if err := c.kv.Expire(ctx, jobKey(groupID), c.jobKeyTTL()); err != nil {
		c.logf("failed to refresh job key TTL for group %s: %v", groupID, err)
	}
	if err := c.enq.EnqueueClusterJob(ctx, groupID, jobID, attempt+1, c.opts.RetryDelay); err != nil {
		return fmt.Errorf("reschedule cluster job: %w", err)
	}
	c.logf("rescheduled cluster job %s for group %s (attempt %d)", jobID, groupID, attempt+1)
	return nil
}

// Finish clears the job and counter keys after a successful reconciliation.
// It is deliberately NOT called on failure: the job key's TTL then provides
// eventual self-healing, so the scheduler cannot wedge.
func (c *Coordinator) Finish(ctx context.Context, groupID uuid.UUID) error {
	if err := c.kv.Del(ctx, jobKey(groupID), countKey(groupID)); err != nil {
		return fmt.Errorf("clear debounce keys: %w", err)
	}
	return nil
}

// BurstCount reports how many uploads the current burst has seen. Diagnostic.
func (c *Coordinator) BurstCount(ctx context.Context, groupID uuid.UUID) (int64, error) {
	v, ok, err := c.kv.Get(ctx, countKey(groupID))
	if err != nil || !ok {
		return 0, err
	}
	var n int64
	if _, err := fmt.Sscan(v, &n); err != nil {
		return 0, fmt.Errorf("parse burst counter %q: %w", v, err)
	}
	return n, nil
}
