package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecute_OpensAfterConsecutiveFailures(t *testing.T) {
	m := NewManager()
	m.Register("llm", Config{FailLimit: 3, Cooldown: 50 * time.Millisecond})

	boom := errors.New("boom")
	for i := 0; i < 3; i++ {
		err := m.Execute(context.Background(), "llm", func(context.Context) error { return boom })
		require.ErrorIs(t, err, boom)
	}

	assert.Equal(t, Open, m.State("llm"))

	err := m.Execute(context.Background(), "llm", func(context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrOpen)
}

func TestExecute_HalfOpenProbeRecovers(t *testing.T) {
	m := NewManager()
	m.Register("graph", Config{FailLimit: 1, Cooldown: 10 * time.Millisecond})

	_ = m.Execute(context.Background(), "graph", func(context.Context) error { return errors.New("x") })
	require.Equal(t, Open, m.State("graph"))

	time.Sleep(20 * time.Millisecond)

	err := m.Execute(context.Background(), "graph", func(context.Context) error { return nil })
	require.NoError(t, err)
	assert.Equal(t, Closed, m.State("graph"))
}

func TestReset_ForcesClosed(t *testing.T) {
	m := NewManager()
	m.Register("store", Config{FailLimit: 1, Cooldown: time.Hour})

	_ = m.Execute(context.Background(), "store", func(context.Context) error { return errors.New("x") })
	require.Equal(t, Open, m.State("store"))

	m.Reset("store")
	assert.Equal(t, Closed, m.State("store"))
}

func TestAllow_ReflectsState(t *testing.T) {
	m := NewManager()
	m.Register("worker-reconciliation", Config{FailLimit: 1, Cooldown: time.Hour})
	assert.True(t, m.Allow("worker-reconciliation"))

	_ = m.Execute(context.Background(), "worker-reconciliation", func(context.Context) error { return errors.New("x") })
	assert.False(t, m.Allow("worker-reconciliation"))
}

func TestSnapshot_ListsAllRegistered(t *testing.T) {
	m := NewManager()
	m.Register("a", Config{})
	m.Register("b", Config{})

	snap := m.Snapshot()
	assert.Len(t, snap, 2)
	assert.Equal(t, Closed, snap["a"])
	assert.Equal(t, Closed, snap["b"])
}
