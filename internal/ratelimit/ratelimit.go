// Package ratelimit counts provider requests over rolling minute, day and
// month windows and decides when dispatch has to pause.
package ratelimit

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/newthinker/quoted/internal/settings"
)

// Windows are the lengths of the three rolling windows.
type Windows struct {
	Minute time.Duration
	Day    time.Duration
	Month  time.Duration
}

// DefaultWindows uses a 30 day month.
func DefaultWindows() Windows {
	return Windows{
		Minute: time.Minute,
		Day:    24 * time.Hour,
		Month:  30 * 24 * time.Hour,
	}
}

// LimitSource supplies the current quotas. It is read before every decision
// so edits take effect on the next request.
type LimitSource interface {
	Limits() settings.Limits
}

// Limiter grants one permit per provider request.
type Limiter struct {
	source  LimitSource
	windows Windows
	now     func() time.Time

	mu      sync.Mutex
	granted []time.Time // ascending
}

// New creates a limiter reading quotas from source. A nil source means
// unlimited.
func New(source LimitSource, windows Windows) *Limiter {
	if windows.Minute <= 0 || windows.Day <= 0 || windows.Month <= 0 {
		windows = DefaultWindows()
	}
	return &Limiter{
		source:  source,
		windows: windows,
		now:     time.Now,
	}
}

// Reserve takes a permit if every quota allows one more request. Otherwise
// it returns false and how long until the most constraining window frees a
// slot.
func (l *Limiter) Reserve() (bool, time.Duration) {
	var limits settings.Limits
	if l.source != nil {
		limits = l.source.Limits()
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)

	var wait time.Duration
	for _, c := range []struct {
		limit  int
		window time.Duration
	}{
		{limits.PerMinute, l.windows.Minute},
		{limits.PerDay, l.windows.Day},
		{limits.PerMonth, l.windows.Month},
	} {
		if c.limit <= 0 {
			continue
		}
		inWindow := l.since(now.Add(-c.window))
		if len(inWindow) < c.limit {
			continue
		}
		// The slot frees when the oldest request that keeps the count at
		// the limit leaves the window.
		oldest := inWindow[len(inWindow)-c.limit]
		if d := oldest.Add(c.window).Sub(now); d > wait {
			wait = d
		}
	}

	if wait > 0 {
		return false, wait
	}
	l.granted = append(l.granted, now)
	return true, 0
}

// Release hands back the most recent permit, for a reservation that ended
// up sending no request.
func (l *Limiter) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if n := len(l.granted); n > 0 {
		l.granted = l.granted[:n-1]
	}
}

// Wait blocks until a permit is granted or ctx is done. onSuspend, when not
// nil, is called with true before the first pause and with false once a
// permit has been granted after pausing.
func (l *Limiter) Wait(ctx context.Context, onSuspend func(bool)) error {
	suspended := false
	for {
		ok, wait := l.Reserve()
		if ok {
			if suspended && onSuspend != nil {
				onSuspend(false)
			}
			return nil
		}
		if !suspended {
			suspended = true
			if onSuspend != nil {
				onSuspend(true)
			}
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			if onSuspend != nil {
				onSuspend(false)
			}
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Counts reports the requests inside each window.
func (l *Limiter) Counts() (minute, day, month int) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.prune(now)
	return len(l.since(now.Add(-l.windows.Minute))),
		len(l.since(now.Add(-l.windows.Day))),
		len(l.since(now.Add(-l.windows.Month)))
}

// since returns the granted requests strictly after t. Caller holds mu.
func (l *Limiter) since(t time.Time) []time.Time {
	i := sort.Search(len(l.granted), func(i int) bool {
		return l.granted[i].After(t)
	})
	return l.granted[i:]
}

// prune drops requests older than every window. Caller holds mu.
func (l *Limiter) prune(now time.Time) {
	longest := l.windows.Month
	if l.windows.Day > longest {
		longest = l.windows.Day
	}
	if l.windows.Minute > longest {
		longest = l.windows.Minute
	}
	keep := l.since(now.Add(-longest))
	if len(keep) == len(l.granted) {
		return
	}
	l.granted = append(l.granted[:0:0], keep...)
}
