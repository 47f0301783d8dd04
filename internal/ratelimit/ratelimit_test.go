package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/newthinker/quoted/internal/settings"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

func newTestLimiter(limits settings.Limits) (*Limiter, *fakeClock) {
	s := settings.New("test")
	s.SetRequestsPerMinute(limits.PerMinute)
	s.SetRequestsPerDay(limits.PerDay)
	s.SetRequestsPerMonth(limits.PerMonth)

	clock := &fakeClock{t: time.Date(2024, 1, 1, 9, 30, 0, 0, time.UTC)}
	l := New(s, DefaultWindows())
	l.now = clock.Now
	return l, clock
}

func TestReserve_Unlimited(t *testing.T) {
	l, _ := newTestLimiter(settings.Limits{})
	for i := 0; i < 1000; i++ {
		ok, _ := l.Reserve()
		require.True(t, ok)
	}
}

func TestReserve_NilSource(t *testing.T) {
	l := New(nil, Windows{})
	ok, wait := l.Reserve()
	assert.True(t, ok)
	assert.Zero(t, wait)
}

func TestReserve_PerMinute(t *testing.T) {
	l, clock := newTestLimiter(settings.Limits{PerMinute: 3})

	for i := 0; i < 3; i++ {
		ok, _ := l.Reserve()
		require.True(t, ok)
		clock.Advance(10 * time.Second)
	}

	ok, wait := l.Reserve()
	assert.False(t, ok)
	assert.Equal(t, 30*time.Second, wait, "first request leaves the window 60s after it was made")

	clock.Advance(wait)
	ok, _ = l.Reserve()
	assert.True(t, ok)
}

func TestReserve_PerDayDominates(t *testing.T) {
	l, clock := newTestLimiter(settings.Limits{PerMinute: 10, PerDay: 2})

	l.Reserve()
	clock.Advance(time.Hour)
	l.Reserve()
	clock.Advance(time.Hour)

	ok, wait := l.Reserve()
	assert.False(t, ok)
	assert.Equal(t, 22*time.Hour, wait)
}

func TestReserve_PerMonth(t *testing.T) {
	l, clock := newTestLimiter(settings.Limits{PerMonth: 1})

	ok, _ := l.Reserve()
	require.True(t, ok)

	clock.Advance(29 * 24 * time.Hour)
	ok, wait := l.Reserve()
	assert.False(t, ok)
	assert.Equal(t, 24*time.Hour, wait)
}

func TestReserve_ReadsLimitsEachTime(t *testing.T) {
	s := settings.New("test")
	s.SetRequestsPerMinute(1)
	l := New(s, DefaultWindows())

	ok, _ := l.Reserve()
	require.True(t, ok)
	ok, _ = l.Reserve()
	require.False(t, ok)

	s.SetRequestsPerMinute(5)
	ok, _ = l.Reserve()
	assert.True(t, ok, "raised limit applies immediately")
}

func TestCounts(t *testing.T) {
	l, clock := newTestLimiter(settings.Limits{})

	l.Reserve()
	clock.Advance(2 * time.Minute)
	l.Reserve()
	l.Reserve()

	minute, day, month := l.Counts()
	assert.Equal(t, 2, minute)
	assert.Equal(t, 3, day)
	assert.Equal(t, 3, month)

	clock.Advance(31 * 24 * time.Hour)
	minute, day, month = l.Counts()
	assert.Zero(t, minute)
	assert.Zero(t, day)
	assert.Zero(t, month)
}

func TestRelease_ReturnsPermit(t *testing.T) {
	l, _ := newTestLimiter(settings.Limits{PerMinute: 2})

	ok, _ := l.Reserve()
	require.True(t, ok)
	ok, _ = l.Reserve()
	require.True(t, ok)
	ok, _ = l.Reserve()
	require.False(t, ok)

	l.Release()
	minute, _, _ := l.Counts()
	assert.Equal(t, 1, minute)
	ok, _ = l.Reserve()
	assert.True(t, ok)

	empty, _ := newTestLimiter(settings.Limits{})
	empty.Release()
	minute, _, _ = empty.Counts()
	assert.Zero(t, minute)
}

func TestWait_SuspendsAndResumes(t *testing.T) {
	s := settings.New("test")
	s.SetRequestsPerMinute(2)
	l := New(s, Windows{Minute: 50 * time.Millisecond, Day: time.Hour, Month: 2 * time.Hour})

	var events []bool
	onSuspend := func(v bool) { events = append(events, v) }

	ctx := context.Background()
	require.NoError(t, l.Wait(ctx, onSuspend))
	require.NoError(t, l.Wait(ctx, onSuspend))
	assert.Empty(t, events)

	start := time.Now()
	require.NoError(t, l.Wait(ctx, onSuspend))
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, []bool{true, false}, events)
}

func TestWait_ContextCancelled(t *testing.T) {
	s := settings.New("test")
	s.SetRequestsPerDay(1)
	l := New(s, DefaultWindows())

	require.NoError(t, l.Wait(context.Background(), nil))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var events []bool
	err := l.Wait(ctx, func(v bool) { events = append(events, v) })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []bool{true, false}, events)
}
