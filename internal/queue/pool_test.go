package queue

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ctp/cognitive-triangulation-pipeline/internal/breaker"
)

type fakeMonitor struct {
	cpu, mem float64
}

func (f fakeMonitor) CPUUtilization() float64 { return f.cpu }
func (f fakeMonitor) MemUtilization() float64 { return f.mem }

func TestTick_ScalesUpOnBacklogUnderBudget(t *testing.T) {
	b := New(2, 10, 100, DefaultRetryPolicy(1))
	for i := 0; i < 5; i++ {
		_, err := b.Enqueue("run-1", FileAnalysis, []byte("x"), "")
		require.NoError(t, err)
	}
	ctx := context.Background()
	for i := 0; i < 2; i++ { // fill both min slots so utilization = 1.0
		_, err := b.Reserve(ctx, FileAnalysis, "w", time.Minute)
		require.NoError(t, err)
	}

	p := NewPool(b, breaker.NewManager(), fakeMonitor{cpu: 0.1, mem: 0.1}, DefaultPoolConfig())
	before := b.Slots(FileAnalysis)
	p.tick()
	after := b.Slots(FileAnalysis)
	assert.Greater(t, after, before)
}

func TestTick_ScalesDownUnderResourcePressureWhenIdle(t *testing.T) {
	b := New(2, 10, 100, DefaultRetryPolicy(1))
	require.NoError(t, b.SetSlots(FileAnalysis, 8))

	p := NewPool(b, breaker.NewManager(), fakeMonitor{cpu: 0.95, mem: 0.5}, DefaultPoolConfig())
	p.tick()
	assert.Equal(t, 7, b.Slots(FileAnalysis))
}

func TestTick_NeverScalesBelowMin(t *testing.T) {
	b := New(2, 10, 100, DefaultRetryPolicy(1))
	p := NewPool(b, breaker.NewManager(), fakeMonitor{cpu: 0.99, mem: 0.99}, DefaultPoolConfig())
	for i := 0; i < 10; i++ {
		p.tick()
	}
	assert.GreaterOrEqual(t, b.Slots(FileAnalysis), 2)
}

func TestAllowReservation_ReflectsBreakerState(t *testing.T) {
	bm := breaker.NewManager()
	bm.Register("file-analysis-worker", breaker.Config{FailLimit: 1, Cooldown: time.Hour})
	p := NewPool(New(2, 5, 10, DefaultRetryPolicy(1)), bm, fakeMonitor{}, DefaultPoolConfig())

	assert.True(t, p.AllowReservation("file-analysis-worker"))
	_ = bm.Execute(context.Background(), "file-analysis-worker", func(context.Context) error {
		return assert.AnError
	})
	assert.False(t, p.AllowReservation("file-analysis-worker"))
}

func TestRuntimeMemMonitor_ReportsBoundedUtilization(t *testing.T) {
	m := RuntimeMemMonitor{MaxMemoryMB: 1}
	util := m.MemUtilization()
	assert.GreaterOrEqual(t, util, 0.0)
	assert.LessOrEqual(t, util, 1.0)
}
