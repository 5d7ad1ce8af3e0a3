package api

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/allocation-engine/allocation"
)

type countingRefresher struct {
	calls atomic.Int64
	err   error
}

func (c *countingRefresher) RefreshAggregates(ctx context.Context) (int64, error) {
	c.calls.Add(1)
	return 1, c.err
}

func TestAggregateRefresher_RunsOnInterval(t *testing.T) {
	store := &countingRefresher{}
	ar := NewAggregateRefresher(store, quietLogger(), 5*time.Millisecond)

	ar.Start()
	require.Eventually(t, func() bool { return ar.Runs() >= 2 }, time.Second, time.Millisecond)
	ar.Stop()

	stopped := store.calls.Load()
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, stopped, store.calls.Load(), "no runs after Stop")
}

func TestAggregateRefresher_ZeroIntervalDisabled(t *testing.T) {
	store := &countingRefresher{}
	ar := NewAggregateRefresher(store, quietLogger(), 0)

	ar.Start()
	ar.Stop()

	assert.False(t, ar.Enabled)
	assert.Zero(t, store.calls.Load())
}

func TestAggregateRefresher_RunNow_ErrorNotCounted(t *testing.T) {
	store := &countingRefresher{err: errors.New("locked")}
	ar := NewAggregateRefresher(store, quietLogger(), time.Hour)

	assert.Zero(t, ar.RunNow(context.Background()))
	assert.Zero(t, ar.Runs())
}

func TestAggregateRefresher_ReconcilesSQLiteStore(t *testing.T) {
	// GIVEN: A committed allocation with stale aggregates
	// WHEN: The refresher runs
	// THEN: The engine's snapshot reader sees the new load

	router, store := newTestRouter(t)
	demandID := seedProject(t, router, 0, 0)
	ctx := context.Background()

	_, err := store.CreateBatch(ctx, "g-1", []allocation.Record{{
		ID:                   "a-1",
		EmployeeID:           "E-1",
		ProjectID:            "P-1",
		DemandID:             allocation.DemandID(demandID),
		AllocationPercentage: 30,
		Status:               allocation.StatusActive,
	}})
	require.NoError(t, err)

	ar := NewAggregateRefresher(store, quietLogger(), time.Hour)
	assert.Equal(t, int64(3), ar.RunNow(ctx))

	load, found, err := allocation.NewSnapshotReader(store).ReadEmployeeLoad(ctx, "E-1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 30, load.Percentage)
}
