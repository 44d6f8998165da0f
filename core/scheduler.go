// core/scheduler.go
package core

import (
	"math/rand"
	"time"

	"firmcore-go/x/mathx"
)

// -----------------------------------------------------------------------------
// Item keys and kinds
// -----------------------------------------------------------------------------

type itemKind uint8

const (
	kindTimeout itemKind = iota
	kindInterval
	kindRetry
	kindDefer
)

func (k itemKind) String() string {
	switch k {
	case kindTimeout:
		return "timeout"
	case kindInterval:
		return "interval"
	case kindRetry:
		return "retry"
	case kindDefer:
		return "defer"
	}
	return "unknown"
}

// schedKey identifies an item within its (owner, kind) scope. Either a name
// or a numeric id; arming a second item with the same key replaces the first.
type schedKey struct {
	name    string
	id      uint32
	numeric bool
}

func nameKey(name string) schedKey   { return schedKey{name: name} }
func numericKey(id uint32) schedKey  { return schedKey{id: id, numeric: true} }

// RetryFunc is the callback for SetRetry. remaining is the number of
// attempts left after the current one; 0 means this is the last attempt.
type RetryFunc func(remaining uint8) RetryResult

// RetryResult tells the scheduler whether a retry callback is finished.
type RetryResult uint8

const (
	// RetryDone cancels all future firings.
	RetryDone RetryResult = iota
	// Retry reschedules after the current interval, scaled by the backoff
	// factor for the firing after that.
	Retry
)

// Backoff intervals are saturated into this range rather than left to
// overflow for large attempt counts.
const (
	minRetryInterval = time.Millisecond
	maxRetryInterval = time.Hour
)

// -----------------------------------------------------------------------------
// Items
// -----------------------------------------------------------------------------

type schedItem struct {
	owner *Base
	key   schedKey
	kind  itemKind

	// target is the absolute monotonic time at which the item becomes
	// eligible; items never fire early.
	target time.Time

	// period is the interval spacing, or the current retry wait.
	period    time.Duration
	backoff   float32
	remaining uint8

	fn      func()
	retryFn RetryFunc

	removed bool
}

// -----------------------------------------------------------------------------
// Scheduler
// -----------------------------------------------------------------------------

// Scheduler owns all pending work items, in insertion order. It is driven by
// the Application once per frame and is main-loop-context only.
type Scheduler struct {
	items   []*schedItem
	removed int
}

// PendingCount reports the number of live items (diagnostics and tests).
func (s *Scheduler) PendingCount() int { return len(s.items) - s.removed }

// arm inserts a one-shot item (timeout or defer), replacing any live item
// with the same (owner, key, kind).
func (s *Scheduler) arm(owner *Base, key schedKey, kind itemKind, delay time.Duration, fn func()) {
	s.cancel(owner, key, kind)
	s.items = append(s.items, &schedItem{
		owner:  owner,
		key:    key,
		kind:   kind,
		target: owner.app.now().Add(delay),
		fn:     fn,
	})
}

// armAnon inserts a keyless deferral; every call is an independent item.
func (s *Scheduler) armAnon(owner *Base, fn func()) {
	s.items = append(s.items, &schedItem{
		owner:  owner,
		kind:   kindDefer,
		target: owner.app.now(),
		fn:     fn,
	})
}

// armInterval inserts a repeating item. The first firing lands at a
// pseudo-random offset within [0, period) so that many components sharing a
// period do not all fire in the same frame.
func (s *Scheduler) armInterval(owner *Base, key schedKey, period time.Duration, fn func()) {
	s.cancel(owner, key, kindInterval)
	jitter := time.Duration(0)
	if period > 0 {
		jitter = time.Duration(rand.Int63n(int64(period)))
	}
	s.items = append(s.items, &schedItem{
		owner:  owner,
		key:    key,
		kind:   kindInterval,
		target: owner.app.now().Add(jitter),
		period: period,
		fn:     fn,
	})
}

func (s *Scheduler) armRetry(owner *Base, key schedKey, initialWait time.Duration, maxAttempts uint8, fn RetryFunc, backoffFactor float32) {
	s.cancel(owner, key, kindRetry)
	if maxAttempts == 0 {
		return
	}
	if backoffFactor <= 0 {
		println("Warning:", owner.name, "retry backoff factor must be positive, using 1.0")
		backoffFactor = 1.0
	}
	s.items = append(s.items, &schedItem{
		owner:     owner,
		key:       key,
		kind:      kindRetry,
		target:    owner.app.now().Add(initialWait),
		period:    mathx.Clamp(initialWait, minRetryInterval, maxRetryInterval),
		backoff:   backoffFactor,
		remaining: maxAttempts,
		retryFn:   fn,
	})
}

// cancel removes the live item matching (owner, key, kind). Cancellation is
// synchronous: once it returns true the item can no longer fire.
func (s *Scheduler) cancel(owner *Base, key schedKey, kind itemKind) bool {
	if !key.numeric && key.name == "" {
		// Anonymous items are fire-and-forget.
		return false
	}
	for _, it := range s.items {
		if !it.removed && it.owner == owner && it.kind == kind && it.key == key {
			it.removed = true
			s.removed++
			return true
		}
	}
	return false
}

// cancelAllFor drops every item owned by a component (failure, reset).
func (s *Scheduler) cancelAllFor(owner *Base) {
	for _, it := range s.items {
		if !it.removed && it.owner == owner {
			it.removed = true
			s.removed++
		}
	}
}

// tick fires every eligible item in insertion order. Items armed while a
// callback runs are only eligible from the next tick, which bounds
// re-entrant firing within one frame.
func (s *Scheduler) tick(now time.Time) {
	n := len(s.items)
	for i := 0; i < n; i++ {
		it := s.items[i]
		if it.removed {
			continue
		}
		if it.owner.IsFailed() {
			it.removed = true
			s.removed++
			continue
		}
		if it.target.After(now) {
			continue
		}
		switch it.kind {
		case kindTimeout, kindDefer:
			// Remove before running so the callback may re-arm the same key.
			it.removed = true
			s.removed++
			it.fn()
		case kindInterval:
			// Space from the previous scheduled time, not from now: a
			// delayed frame makes the next firing late, never doubled.
			it.target = it.target.Add(it.period)
			it.fn()
		case kindRetry:
			it.remaining--
			res := it.retryFn(it.remaining)
			if res == RetryDone || it.remaining == 0 {
				if !it.removed { // the callback may have cancelled itself
					it.removed = true
					s.removed++
				}
			} else if !it.removed {
				// Wait the current interval once more, then grow it for the
				// attempt after that.
				it.target = now.Add(it.period)
				it.period = mathx.Clamp(
					time.Duration(float64(it.period)*float64(it.backoff)),
					minRetryInterval, maxRetryInterval)
			}
		}
	}
	s.compact()
}

func (s *Scheduler) compact() {
	if s.removed == 0 {
		return
	}
	kept := s.items[:0]
	for _, it := range s.items {
		if !it.removed {
			kept = append(kept, it)
		}
	}
	for i := len(kept); i < len(s.items); i++ {
		s.items[i] = nil
	}
	s.items = kept
	s.removed = 0
}
