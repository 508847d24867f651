// Package queue implements the nine-queue job bus and bounded worker pool of
// spec §4.1: durable job state, a dedupe-aware enqueue, cooperative
// back-pressure on reservation, a global LLM-concurrency semaphore, and a
// leaked-reservation sweeper. Grounded on the teacher's
// internal/core/spawn_queue.go (priority queues, backpressure, worker loop,
// sendResult-style result delivery) and shard_manager_core.go (dependency
// injection, active-count tracking).
package queue

import (
	"container/list"
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/logging"
)

// Errors returned by Bus operations.
var (
	ErrBusStopped   = errors.New("queue: bus is stopped")
	ErrUnknownQueue = errors.New("queue: unknown queue name")
)

type queueState struct {
	mu       sync.Mutex
	cond     *sync.Cond
	waiting  *list.List        // *Job, FIFO
	active   map[string]*Job   // jobID -> job
	dedupe   map[string]string // dedupeKey -> jobID (waiting or active)
	slots    int               // current granted concurrency
	minSlots int
	maxSlots int
	completed int64
	failed    int64
}

func newQueueState(min, max int) *queueState {
	qs := &queueState{
		waiting:  list.New(),
		active:   make(map[string]*Job),
		dedupe:   make(map[string]string),
		slots:    min,
		minSlots: min,
		maxSlots: max,
	}
	qs.cond = sync.NewCond(&qs.mu)
	return qs
}

// Bus is the multi-queue job bus.
type Bus struct {
	mu         sync.RWMutex
	queues     map[Name]*queueState
	jobIndex   map[string]*Job // jobID -> job, for ack/fail lookup
	llmSem     *semaphore.Weighted
	llmInUse   int64
	globalCap  int64
	stopCh     chan struct{}
	stopped    bool
	retryPolicy RetryPolicy
}

// New creates a bus with all nine named queues provisioned, each bounded by
// [minPerQueue, maxPerQueue] concurrency (spec §4.1: "min (2-5) and max per-
// queue concurrency"), and a global LLM-call semaphore sized globalLLMCap.
func New(minPerQueue, maxPerQueue int, globalLLMCap int, retry RetryPolicy) *Bus {
	b := &Bus{
		queues:      make(map[Name]*queueState, len(AllQueues)),
		jobIndex:    make(map[string]*Job),
		llmSem:      semaphore.NewWeighted(int64(globalLLMCap)),
		globalCap:   int64(globalLLMCap),
		stopCh:      make(chan struct{}),
		retryPolicy: retry,
	}
	for _, n := range AllQueues {
		b.queues[n] = newQueueState(minPerQueue, maxPerQueue)
	}
	return b
}

func (b *Bus) state(name Name) (*queueState, error) {
	b.mu.RLock()
	qs, ok := b.queues[name]
	b.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownQueue, name)
	}
	return qs, nil
}

// Enqueue adds payload to queue, returning a job id. If dedupeKey matches an
// already-waiting-or-active job on the same queue, the existing job id is
// returned instead (idempotent enqueue, spec §4.1 contract).
func (b *Bus) Enqueue(runID string, name Name, payload []byte, dedupeKey string) (string, error) {
	qs, err := b.state(name)
	if err != nil {
		return "", err
	}

	qs.mu.Lock()
	defer qs.mu.Unlock()

	if dedupeKey != "" {
		if existing, ok := qs.dedupe[dedupeKey]; ok {
			return existing, nil
		}
	}

	job := &Job{
		ID:         uuid.NewString(),
		Queue:      name,
		RunID:      runID,
		DedupeKey:  dedupeKey,
		Payload:    payload,
		Status:     StatusWaiting,
		Retry:      b.retryPolicy,
		EnqueuedAt: time.Now(),
	}

	qs.waiting.PushBack(job)
	if dedupeKey != "" {
		qs.dedupe[dedupeKey] = job.ID
	}

	b.mu.Lock()
	b.jobIndex[job.ID] = job
	b.mu.Unlock()

	qs.cond.Broadcast()

	logging.For(logging.ComponentQueue).Debug("enqueued job",
		logging.RunField(runID), logging.JobField(job.ID), logging.QueueField(string(name)))

	return job.ID, nil
}

// Reserve blocks (cooperatively) until a job is available on name and a
// concurrency slot is free, returning the job with Status=active. If the
// queue is LLM-bound, Reserve first blocks on the global LLM semaphore
// (spec §4.1 suspension point (d)); the semaphore is released on Ack/Fail.
func (b *Bus) Reserve(ctx context.Context, name Name, workerID string, maxJobTime time.Duration) (*Job, error) {
	qs, err := b.state(name)
	if err != nil {
		return nil, err
	}

	llmBound := IsLLMBound(name)
	if llmBound {
		if err := b.llmSem.Acquire(ctx, 1); err != nil {
			return nil, err
		}
		atomic.AddInt64(&b.llmInUse, 1)
	}

	job, err := b.waitAndPop(ctx, qs)
	if err != nil {
		if llmBound {
			b.llmSem.Release(1)
			atomic.AddInt64(&b.llmInUse, -1)
		}
		return nil, err
	}

	job.Status = StatusActive
	job.WorkerID = workerID
	job.ReservedAt = time.Now()
	job.Deadline = job.ReservedAt.Add(maxJobTime)

	logging.For(logging.ComponentQueue).Debug("reserved job",
		logging.JobField(job.ID), logging.QueueField(string(name)))

	return job, nil
}

// waitAndPop waits until qs has both a waiting job and a free slot, then
// pops and returns it. Wakes on Enqueue/Ack/Fail/scale broadcasts, or on
// ctx cancellation / bus stop.
func (b *Bus) waitAndPop(ctx context.Context, qs *queueState) (*Job, error) {
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			qs.cond.Broadcast()
		case <-b.stopCh:
			qs.cond.Broadcast()
		case <-done:
		}
	}()

	qs.mu.Lock()
	defer qs.mu.Unlock()

	for {
		if b.isStopped() {
			return nil, ErrBusStopped
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if qs.waiting.Len() > 0 && len(qs.active) < qs.slots {
			front := qs.waiting.Front()
			job := front.Value.(*Job)
			qs.waiting.Remove(front)
			qs.active[job.ID] = job
			return job, nil
		}
		qs.cond.Wait()
	}
}

func (b *Bus) isStopped() bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.stopped
}

// Ack marks a job completed, removing it from the active set and releasing
// its LLM-semaphore slot (if any).
func (b *Bus) Ack(jobID string) error {
	job, qs, err := b.lookup(jobID)
	if err != nil {
		return err
	}

	qs.mu.Lock()
	delete(qs.active, job.ID)
	delete(qs.dedupe, job.DedupeKey)
	qs.completed++
	qs.cond.Broadcast()
	qs.mu.Unlock()

	job.Status = StatusCompleted
	if IsLLMBound(job.Queue) {
		b.llmSem.Release(1)
		atomic.AddInt64(&b.llmInUse, -1)
	}

	logging.For(logging.ComponentQueue).Debug("acked job", logging.JobField(jobID))
	return nil
}

// Fail marks a job failed. If retries remain, it is pushed straight back
// onto the end of its queue; RetryPolicy.Backoff is not applied, so a retry
// waits only for its turn in the queue. Otherwise it is moved to the
// failed-jobs queue terminal state, after which Ack and Fail address it as a
// failed-jobs job.
func (b *Bus) Fail(jobID string, reason string) error {
	job, qs, err := b.lookup(jobID)
	if err != nil {
		return err
	}

	qs.mu.Lock()
	delete(qs.active, job.ID)
	job.Attempts++
	job.FailReason = reason

	retry := job.Attempts <= job.Retry.MaxRetries
	if retry {
		job.Status = StatusWaiting
		qs.waiting.PushBack(job)
	} else {
		delete(qs.dedupe, job.DedupeKey)
		qs.failed++
		job.Status = StatusFailed
	}
	qs.cond.Broadcast()
	qs.mu.Unlock()

	if IsLLMBound(job.Queue) {
		b.llmSem.Release(1)
		atomic.AddInt64(&b.llmInUse, -1)
	}

	failedFrom := job.Queue
	if !retry {
		failedQS, _ := b.state(FailedJobs)
		if failedQS != nil && job.Queue != FailedJobs {
			failedQS.mu.Lock()
			job.Queue = FailedJobs
			failedQS.waiting.PushBack(job)
			failedQS.cond.Broadcast()
			failedQS.mu.Unlock()
		}
	}

	logging.For(logging.ComponentQueue).Warn("failed job",
		logging.JobField(jobID), logging.QueueField(string(failedFrom)))
	return nil
}

func (b *Bus) lookup(jobID string) (*Job, *queueState, error) {
	b.mu.RLock()
	job, ok := b.jobIndex[jobID]
	b.mu.RUnlock()
	if !ok {
		return nil, nil, fmt.Errorf("queue: unknown job %s", jobID)
	}
	qs, err := b.state(job.Queue)
	if err != nil {
		return nil, nil, err
	}
	return job, qs, nil
}

// Stats returns the current {waiting, active, completed, failed} snapshot
// for a queue.
func (b *Bus) Stats(name Name) (Stats, error) {
	qs, err := b.state(name)
	if err != nil {
		return Stats{}, err
	}
	qs.mu.Lock()
	defer qs.mu.Unlock()
	return Stats{
		Queue:     name,
		Waiting:   qs.waiting.Len(),
		Active:    len(qs.active),
		Completed: int(qs.completed),
		Failed:    int(qs.failed),
	}, nil
}

// AllStats returns Stats for every queue.
func (b *Bus) AllStats() map[Name]Stats {
	out := make(map[Name]Stats, len(AllQueues))
	for _, n := range AllQueues {
		s, _ := b.Stats(n)
		out[n] = s
	}
	return out
}

// GlobalLLMCap returns the configured ceiling on concurrent LLM calls
// (spec §8: "active LLM calls <= GLOBAL_LLM_CONCURRENCY").
func (b *Bus) GlobalLLMCap() int64 {
	return b.globalCap
}

// GlobalLLMInUse returns the number of currently-held global LLM semaphore
// slots.
func (b *Bus) GlobalLLMInUse() int64 {
	return atomic.LoadInt64(&b.llmInUse)
}

// Stop halts the bus: no further Reserve calls are granted, and blocked
// Reserve calls unblock with ErrBusStopped.
func (b *Bus) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	b.mu.Unlock()
	close(b.stopCh)

	for _, qs := range b.queues {
		qs.mu.Lock()
		qs.cond.Broadcast()
		qs.mu.Unlock()
	}
}

// SetSlots sets the granted concurrency for a queue, clamped to
// [minSlots, maxSlots]. Used by the scaling loop (spec §4.1 rules 2-3).
func (b *Bus) SetSlots(name Name, slots int) error {
	qs, err := b.state(name)
	if err != nil {
		return err
	}
	qs.mu.Lock()
	if slots < qs.minSlots {
		slots = qs.minSlots
	}
	if slots > qs.maxSlots {
		slots = qs.maxSlots
	}
	qs.slots = slots
	qs.cond.Broadcast()
	qs.mu.Unlock()
	return nil
}

// Slots returns the currently granted concurrency for a queue.
func (b *Bus) Slots(name Name) int {
	qs, err := b.state(name)
	if err != nil {
		return 0
	}
	qs.mu.Lock()
	defer qs.mu.Unlock()
	return qs.slots
}

// SweepLeaked scans every queue's active set for jobs whose Deadline has
// passed without Ack/Fail (a reservation without a completion — spec §4.1
// "Leaked slots... are reclaimed by a sweeper every 60s") and fails them,
// releasing their slot and LLM-semaphore hold.
func (b *Bus) SweepLeaked(now time.Time) int {
	reclaimed := 0
	for _, n := range AllQueues {
		qs, _ := b.state(n)
		qs.mu.Lock()
		var leaked []*Job
		for id, job := range qs.active {
			if !job.Deadline.IsZero() && now.After(job.Deadline) {
				leaked = append(leaked, job)
				delete(qs.active, id)
			}
		}
		qs.mu.Unlock()

		for _, job := range leaked {
			reclaimed++
			// Fail itself releases the LLM semaphore slot for LLM-bound
			// queues; releasing it here too would double-release a single
			// Acquire(1) from Reserve.
			logging.For(logging.ComponentQueue).Warn("sweeper reclaimed leaked job",
				logging.JobField(job.ID), logging.QueueField(string(job.Queue)))
			_ = b.Fail(job.ID, "max_job_time exceeded, reclaimed by sweeper")
		}
	}
	return reclaimed
}
