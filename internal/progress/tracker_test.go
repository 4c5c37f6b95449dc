package progress

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestTracker_CountersStayConsistentUnderConcurrency(t *testing.T) {
	t.Parallel()

	const (
		writers = 16
		perW    = 250
	)
	tracker := NewTracker(writers * perW)

	stop := make(chan struct{})
	readerDone := make(chan struct{})
	var violations int
	go func() {
		defer close(readerDone)
		for {
			select {
			case <-stop:
				return
			default:
			}
			snap := tracker.Snapshot()
			if snap.Successful+snap.Failed != snap.Processed || snap.Processed > snap.Total {
				violations++
			}
		}
	}()

	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perW; i++ {
				tracker.Record((i+w)%3 != 0)
			}
		}(w)
	}
	wg.Wait()
	close(stop)
	<-readerDone

	require.Zero(t, violations)
	snap := tracker.Snapshot()
	require.Equal(t, int64(writers*perW), snap.Processed)
	require.Equal(t, snap.Processed, snap.Successful+snap.Failed)
	require.InDelta(t, 100.0, snap.Percentage, 0.001)
	require.Zero(t, snap.Remaining())
}

func TestTracker_ProcessedNeverExceedsTotal(t *testing.T) {
	t.Parallel()

	tracker := NewTracker(2)
	tracker.Record(true)
	tracker.Record(false)
	tracker.Record(true)

	snap := tracker.Snapshot()
	require.Equal(t, int64(2), snap.Processed)
	require.Equal(t, int64(1), snap.Successful)
	require.Equal(t, int64(1), snap.Failed)
}

func TestTracker_DerivedRates(t *testing.T) {
	t.Parallel()

	start := time.Unix(1_700_000_000, 0)
	now := start
	tracker := newTrackerWithClock(100, func() time.Time { return now })
	for i := 0; i < 20; i++ {
		tracker.Record(true)
	}
	now = start.Add(2 * time.Minute)

	snap := tracker.Snapshot()
	require.InDelta(t, 20.0, snap.Percentage, 0.001)
	require.InDelta(t, 10.0, snap.PerMinute, 0.001)
	require.Equal(t, 8*time.Minute, snap.ETA)
	require.Equal(t, 2*time.Minute, snap.Elapsed)
}

func TestTracker_EmptyScope(t *testing.T) {
	t.Parallel()

	snap := NewTracker(0).Snapshot()
	require.Zero(t, snap.Percentage)
	require.Zero(t, snap.ETA)
}

func TestMonitor_EmitsHeartbeats(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	hub := NewHub(Config{MaxBatchEvents: 1, MaxBatchWait: time.Minute}, sink)
	tracker := NewTracker(4)
	tracker.Record(true)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		Monitor(ctx, UUIDToBytes(uuid.New()), tracker, hub, 10*time.Millisecond, zap.NewNop())
	}()

	require.Eventually(t, func() bool {
		return len(sink.Batches()) > 0
	}, time.Second, 5*time.Millisecond)
	cancel()
	<-done
	require.NoError(t, hub.Close(context.Background()))

	first := sink.Batches()[0][0]
	require.Equal(t, StageRunHB, first.Stage)
	require.Equal(t, int64(1), first.Total)
}
