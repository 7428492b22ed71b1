package calendar

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDay_UsesLocation(t *testing.T) {
	shanghai, err := time.LoadLocation("Asia/Shanghai")
	require.NoError(t, err)

	ts := time.Date(2024, 1, 6, 20, 30, 0, 0, time.UTC)

	assert.Equal(t, "2024-01-06", Day(ts, time.UTC))
	assert.Equal(t, "2024-01-07", Day(ts, shanghai))
	assert.Equal(t, "2024-01-06", Day(ts, nil))
}

func TestWeek(t *testing.T) {
	assert.Equal(t, "2024-W01", Week(time.Date(2024, 1, 7, 12, 0, 0, 0, time.UTC), time.UTC))
	assert.Equal(t, "2024-W02", Week(time.Date(2024, 1, 8, 12, 0, 0, 0, time.UTC), time.UTC))
}

func TestNextMidnight(t *testing.T) {
	ts := time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC), NextMidnight(ts, time.UTC))

	midnight := time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 2, 2, 0, 0, 0, 0, time.UTC), NextMidnight(midnight, time.UTC))
}

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func TestScheduler_RearmsAfterEachMidnight(t *testing.T) {
	clock := &fakeClock{now: time.Date(2024, 1, 6, 22, 0, 0, 0, time.UTC)}

	ticks := make(chan string, 4)
	s := NewScheduler(time.UTC, clock, func(day string) { ticks <- day })

	waits := make(chan time.Duration, 4)
	fire := make(chan time.Time)
	s.after = func(d time.Duration) (<-chan time.Time, func() bool) {
		waits <- d
		return fire, func() bool { return true }
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	assert.Equal(t, 2*time.Hour, <-waits)
	clock.set(time.Date(2024, 1, 7, 0, 0, 0, 0, time.UTC))
	fire <- time.Time{}
	assert.Equal(t, "2024-01-07", <-ticks)

	assert.Equal(t, 24*time.Hour, <-waits)
	clock.set(time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC))
	fire <- time.Time{}
	assert.Equal(t, "2024-01-08", <-ticks)

	<-waits
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("scheduler did not stop after cancel")
	}
}
