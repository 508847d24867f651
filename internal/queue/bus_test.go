package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testBus() *Bus {
	return New(2, 5, 4, DefaultRetryPolicy(2))
}

func TestEnqueueReserveAck_HappyPath(t *testing.T) {
	b := testBus()
	id, err := b.Enqueue("run-1", FileAnalysis, []byte("payload"), "dedupe-1")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	job, err := b.Reserve(ctx, FileAnalysis, "worker-1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, id, job.ID)
	assert.Equal(t, StatusActive, job.Status)

	require.NoError(t, b.Ack(job.ID))

	stats, err := b.Stats(FileAnalysis)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Active)
	assert.Equal(t, 0, stats.Waiting)
	assert.Equal(t, 1, stats.Completed)
}

func TestEnqueue_DedupeReturnsSameJobID(t *testing.T) {
	b := testBus()
	id1, err := b.Enqueue("run-1", FileAnalysis, []byte("a"), "dup")
	require.NoError(t, err)
	id2, err := b.Enqueue("run-1", FileAnalysis, []byte("b"), "dup")
	require.NoError(t, err)
	assert.Equal(t, id1, id2)

	stats, err := b.Stats(FileAnalysis)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Waiting)
}

func TestFail_RetriesThenMovesToFailedJobs(t *testing.T) {
	b := testBus()
	id, err := b.Enqueue("run-1", DirectoryAggregation, []byte("x"), "")
	require.NoError(t, err)

	ctx := context.Background()
	for i := 0; i < 3; i++ { // policy allows 2 retries => 3 total attempts
		job, err := b.Reserve(ctx, DirectoryAggregation, "w", time.Minute)
		require.NoError(t, err)
		require.Equal(t, id, job.ID)
		require.NoError(t, b.Fail(job.ID, "boom"))
	}

	stats, err := b.Stats(DirectoryAggregation)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Waiting)
	assert.Equal(t, 1, stats.Failed)

	failedStats, err := b.Stats(FailedJobs)
	require.NoError(t, err)
	assert.Equal(t, 1, failedStats.Waiting)
}

func TestReserve_BlocksUntilEnqueue(t *testing.T) {
	b := testBus()
	var wg sync.WaitGroup
	wg.Add(1)

	var gotID string
	go func() {
		defer wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		job, err := b.Reserve(ctx, RelationshipResolution, "worker-1", time.Minute)
		if err == nil {
			gotID = job.ID
		}
	}()

	time.Sleep(50 * time.Millisecond)
	id, err := b.Enqueue("run-1", RelationshipResolution, []byte("x"), "")
	require.NoError(t, err)

	wg.Wait()
	assert.Equal(t, id, gotID)
}

func TestReserve_RespectsGlobalLLMSemaphore(t *testing.T) {
	b := New(5, 5, 1, DefaultRetryPolicy(1)) // global cap of 1

	_, err := b.Enqueue("run-1", FileAnalysis, []byte("a"), "")
	require.NoError(t, err)
	_, err = b.Enqueue("run-1", DirectoryResolution, []byte("b"), "")
	require.NoError(t, err)

	ctx := context.Background()
	job1, err := b.Reserve(ctx, FileAnalysis, "w1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.GlobalLLMInUse())

	reserved := make(chan struct{})
	go func() {
		ctx2, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
		defer cancel()
		_, err := b.Reserve(ctx2, DirectoryResolution, "w2", time.Minute)
		if err == nil {
			close(reserved)
		}
	}()

	select {
	case <-reserved:
		t.Fatal("second LLM-bound reserve should not succeed while cap is exhausted")
	case <-time.After(150 * time.Millisecond):
	}

	require.NoError(t, b.Ack(job1.ID))
	select {
	case <-reserved:
	case <-time.After(time.Second):
		t.Fatal("second reserve should succeed after first job acked")
	}
}

func TestSweepLeaked_ReclaimsPastDeadline(t *testing.T) {
	b := testBus()
	_, err := b.Enqueue("run-1", Reconciliation, []byte("x"), "")
	require.NoError(t, err)

	ctx := context.Background()
	job, err := b.Reserve(ctx, Reconciliation, "w", time.Millisecond)
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)
	n := b.SweepLeaked(time.Now())
	assert.Equal(t, 1, n)

	stats, err := b.Stats(Reconciliation)
	require.NoError(t, err)
	assert.Equal(t, 0, stats.Active)
	_ = job
}

func TestSweepLeaked_LLMBoundJobReleasesSemaphoreOnlyOnce(t *testing.T) {
	b := New(2, 5, 1, DefaultRetryPolicy(2)) // global LLM cap of 1

	_, err := b.Enqueue("run-1", Reconciliation, []byte("x"), "")
	require.NoError(t, err)

	ctx := context.Background()
	job, err := b.Reserve(ctx, Reconciliation, "w", time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.GlobalLLMInUse())

	time.Sleep(5 * time.Millisecond)
	// SweepLeaked releases the LLM slot via Fail; it must not also release it
	// directly, or a single Acquire(1) in Reserve would be paired with two
	// Release(1) calls, eventually over-releasing the semaphore.
	require.NotPanics(t, func() {
		n := b.SweepLeaked(time.Now())
		assert.Equal(t, 1, n)
	})
	assert.Equal(t, int64(0), b.GlobalLLMInUse())

	// A fresh reservation must be able to acquire the single global slot,
	// proving it was released exactly once (not zero, not twice).
	ctx2, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err = b.Enqueue("run-1", Reconciliation, []byte("y"), "")
	require.NoError(t, err)
	job2, err := b.Reserve(ctx2, Reconciliation, "w2", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), b.GlobalLLMInUse())
	require.NoError(t, b.Ack(job2.ID))
	_ = job
}

func TestStop_UnblocksReserve(t *testing.T) {
	b := testBus()
	errCh := make(chan error, 1)
	go func() {
		_, err := b.Reserve(context.Background(), GlobalResolution, "w", time.Minute)
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	b.Stop()

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, ErrBusStopped)
	case <-time.After(time.Second):
		t.Fatal("Reserve did not unblock after Stop")
	}
}

func TestSetSlots_ClampsToConfiguredRange(t *testing.T) {
	b := testBus()
	require.NoError(t, b.SetSlots(FileAnalysis, 100))
	assert.Equal(t, 5, b.Slots(FileAnalysis))

	require.NoError(t, b.SetSlots(FileAnalysis, 0))
	assert.Equal(t, 2, b.Slots(FileAnalysis))
}
