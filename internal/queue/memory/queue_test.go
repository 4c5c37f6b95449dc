package memory

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/landrecord-scraper/internal/scraper"
)

func makeUnits(n int) []scraper.WorkUnit {
	units := make([]scraper.WorkUnit, n)
	for i := range units {
		units[i] = scraper.WorkUnit{DistrictCode: "02", TalukaCode: "04", VillageCode: fmt.Sprintf("%03d", i)}
	}
	return units
}

func TestQueue_PreservesOrder(t *testing.T) {
	t.Parallel()

	q := NewQueue(makeUnits(3))
	require.Equal(t, 3, q.Remaining())
	require.Equal(t, 3, q.Total())

	for i := 0; i < 3; i++ {
		unit, ok := q.Next()
		require.True(t, ok)
		require.Equal(t, fmt.Sprintf("%03d", i), unit.VillageCode)
	}
	_, ok := q.Next()
	require.False(t, ok)
	require.Zero(t, q.Remaining())
}

func TestQueue_ExactlyOnceUnderConcurrency(t *testing.T) {
	t.Parallel()

	const units = 1000
	q := NewQueue(makeUnits(units))

	var (
		mu   sync.Mutex
		seen = make(map[string]int)
		wg   sync.WaitGroup
	)
	for w := 0; w < 16; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				unit, ok := q.Next()
				if !ok {
					return
				}
				mu.Lock()
				seen[unit.ID()]++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, seen, units)
	for id, count := range seen {
		require.Equalf(t, 1, count, "unit %s handed out %d times", id, count)
	}
	require.Zero(t, q.Remaining())
}

func TestQueue_EmptyNeverBlocks(t *testing.T) {
	t.Parallel()

	q := NewQueue(nil)
	_, ok := q.Next()
	require.False(t, ok)
	require.Empty(t, q.Drain())
}

func TestQueue_DrainTakesRemaining(t *testing.T) {
	t.Parallel()

	q := NewQueue(makeUnits(5))
	_, ok := q.Next()
	require.True(t, ok)

	rest := q.Drain()
	require.Len(t, rest, 4)
	require.Zero(t, q.Remaining())
	_, ok = q.Next()
	require.False(t, ok)
}
