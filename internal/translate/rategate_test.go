package translate

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const clockSlack = 15 * time.Millisecond

func TestRateGate_AdmitsUpToLimitImmediately(t *testing.T) {
	gate := NewRateGate(3, time.Minute)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		_, err := gate.Acquire(ctx)
		require.NoError(t, err)
	}
	assert.Less(t, time.Since(start), 100*time.Millisecond)
	assert.Equal(t, 3, gate.InWindow())
}

func TestRateGate_BlocksUntilWindowSlides(t *testing.T) {
	window := 150 * time.Millisecond
	gate := NewRateGate(2, window)
	ctx := context.Background()

	first := time.Now()
	_, err := gate.Acquire(ctx)
	require.NoError(t, err)
	_, err = gate.Acquire(ctx)
	require.NoError(t, err)

	waited, err := gate.Acquire(ctx)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(first), window-clockSlack)
	assert.Greater(t, waited, time.Duration(0))
}

func TestRateGate_SlidingWindowNeverExceedsLimit(t *testing.T) {
	const (
		limit   = 4
		callers = 14
	)
	window := 120 * time.Millisecond
	gate := NewRateGate(limit, window)

	var (
		mu    sync.Mutex
		times []time.Time
		wg    sync.WaitGroup
	)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := gate.Acquire(context.Background())
			assert.NoError(t, err)
			mu.Lock()
			times = append(times, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	require.Len(t, times, callers)
	sort.Slice(times, func(i, j int) bool { return times[i].Before(times[j]) })

	// any limit+1 consecutive acquisitions must span at least one window
	for i := limit; i < len(times); i++ {
		span := times[i].Sub(times[i-limit])
		assert.GreaterOrEqual(t, span, window-clockSlack, "acquisitions %d..%d", i-limit, i)
	}
}

func TestRateGate_WaiterHonoursContext(t *testing.T) {
	gate := NewRateGate(1, time.Minute)
	_, err := gate.Acquire(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = gate.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), time.Second)
}

func TestRateGate_QueuedWaiterHonoursContext(t *testing.T) {
	gate := NewRateGate(1, time.Minute)
	_, err := gate.Acquire(context.Background())
	require.NoError(t, err)

	// holder of the lock sleeps for a slot
	holderCtx, stopHolder := context.WithCancel(context.Background())
	defer stopHolder()
	go func() { _, _ = gate.Acquire(holderCtx) }()
	time.Sleep(20 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = gate.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestNewRateGate_Defaults(t *testing.T) {
	gate := NewRateGate(0, 0)
	assert.Equal(t, 1, gate.Limit())
	assert.Equal(t, time.Minute, gate.window)
}
