package membank

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSchedulerStartStop(t *testing.T) {
	mgr := newTestManager(t, nil)
	s := NewScheduler(mgr, zap.NewNop())

	require.NoError(t, s.Start())
	assert.ErrorIs(t, s.Start(), ErrSchedulerRunning)

	require.NoError(t, s.Stop())
	assert.ErrorIs(t, s.Stop(), ErrSchedulerStopped)

	// A stopped scheduler can start again.
	require.NoError(t, s.Start())
	require.NoError(t, s.Stop())
}

func TestSchedulerRunNow(t *testing.T) {
	mgr := newTestManager(t, nil)
	ctx := context.Background()

	_, err := mgr.Save(ctx, Turn{UserMessage: "We use PostgreSQL for our database"}, "proj-1")
	require.NoError(t, err)

	s := NewScheduler(mgr, zap.NewNop())
	s.Register("proj-1")

	require.NoError(t, s.RunNow(ctx, TaskDecay))
	require.NoError(t, s.RunNow(ctx, TaskTier))
	require.NoError(t, s.RunNow(ctx, TaskFull))
	require.NoError(t, s.RunNow(ctx, TaskHealth))
	require.NoError(t, s.RunNow(ctx, TaskCleanup))

	assert.ErrorIs(t, s.RunNow(ctx, MaintenanceTask("defrag")), ErrUnknownTask)
}

func TestSchedulerRegisterUnregister(t *testing.T) {
	mgr := newTestManager(t, nil)
	s := NewScheduler(mgr, zap.NewNop())

	s.Register("proj-1")
	s.Register("proj-2")
	s.Register("")
	assert.Len(t, s.registered(), 2, "empty project ids are ignored")

	s.Unregister("proj-1")
	assert.Equal(t, []string{"proj-2"}, s.registered())
}

func TestSchedulerTickerSweep(t *testing.T) {
	mgr := newTestManager(t, nil)
	ctx := context.Background()

	_, err := mgr.Save(ctx, Turn{UserMessage: "We use PostgreSQL for our database"}, "proj-1")
	require.NoError(t, err)

	s := NewScheduler(mgr, zap.NewNop(),
		WithInterval(TaskDecay, 10*time.Millisecond),
		WithInterval(TaskTier, time.Hour),
		WithInterval(TaskHealth, time.Hour),
		WithInterval(TaskCleanup, time.Hour),
		WithInterval(TaskFull, time.Hour),
	)
	s.Register("proj-1")

	require.NoError(t, s.Start())
	time.Sleep(60 * time.Millisecond)
	require.NoError(t, s.Stop())

	stats, err := mgr.Stats(ctx, "proj-1")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Total, "sweeps must not corrupt the store")
}
