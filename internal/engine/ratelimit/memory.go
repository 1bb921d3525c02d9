package ratelimit

import (
	"context"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"eventhub/internal/pkg/clock"
)

// window holds call timestamps (unix nanos) in ascending order. The slice
// behind the pointer is never mutated; writers publish a new one with CAS.
type window struct {
	calls atomic.Pointer[[]int64]
}

// retired marks a window that compaction has removed from the map. Writers
// that still hold it must start over on a fresh window.
var retired = &[]int64{}

// MemoryLimiter is a single-process sliding window limiter. Allow never
// takes a lock.
type MemoryLimiter struct {
	windows               sync.Map // map[string]*window
	clock                 clock.Clock
	size                  time.Duration
	compactionProbability float64
	randFloat             func() float64
}

func NewMemoryLimiter(clk clock.Clock, size time.Duration, compactionProbability float64) *MemoryLimiter {
	if size <= 0 {
		size = time.Minute
	}
	return &MemoryLimiter{
		clock:                 clk,
		size:                  size,
		compactionProbability: compactionProbability,
		randFloat:             rand.Float64,
	}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string, limit int) (Result, error) {
	now := l.clock.Now().UnixNano()
	cutoff := now - int64(l.size)

	var result Result
	for {
		value, _ := l.windows.LoadOrStore(key, &window{})
		w := value.(*window)

		var ok bool
		if result, ok = l.record(w, now, cutoff, limit); ok {
			break
		}
		l.windows.CompareAndDelete(key, w)
	}

	if l.compactionProbability > 0 && l.randFloat() < l.compactionProbability {
		l.compact(cutoff)
	}
	return result, nil
}

// record applies one call to w. It reports false when w was retired
// before the call could be stored.
func (l *MemoryLimiter) record(w *window, now, cutoff int64, limit int) (Result, bool) {
	for {
		current := w.calls.Load()
		if current == retired {
			return Result{}, false
		}
		live := liveCalls(current, cutoff)

		if len(live) >= limit {
			oldest := live[0]
			return Result{
				Allowed:    false,
				Limit:      limit,
				Remaining:  0,
				RetryAfter: time.Duration(oldest + int64(l.size) - now),
			}, true
		}

		next := make([]int64, len(live), len(live)+1)
		copy(next, live)
		next = append(next, now)
		if w.calls.CompareAndSwap(current, &next) {
			return Result{Allowed: true, Limit: limit, Remaining: limit - len(next)}, true
		}
	}
}

// compact drops keys whose windows hold no live calls. A window is retired
// with CAS before it leaves the map, so a call appended concurrently either
// lands first and keeps the window or sees it retired and retries.
func (l *MemoryLimiter) compact(cutoff int64) {
	l.windows.Range(func(key, value interface{}) bool {
		w := value.(*window)
		current := w.calls.Load()
		if current == retired {
			l.windows.CompareAndDelete(key, w)
			return true
		}
		if len(liveCalls(current, cutoff)) == 0 && w.calls.CompareAndSwap(current, retired) {
			l.windows.CompareAndDelete(key, w)
		}
		return true
	})
}

// Len reports how many keys are tracked.
func (l *MemoryLimiter) Len() int {
	n := 0
	l.windows.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

func liveCalls(calls *[]int64, cutoff int64) []int64 {
	if calls == nil {
		return nil
	}
	s := *calls
	i := 0
	for i < len(s) && s[i] <= cutoff {
		i++
	}
	return s[i:]
}
