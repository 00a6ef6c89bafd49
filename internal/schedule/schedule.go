// Package schedule coalesces rapid save requests into bounded-frequency
// writes. It provides a trailing-edge Debouncer, a leading+trailing
// Throttler, and a Controller that composes the two for the save path.
// All three are goroutine-safe; their callbacks run on timer goroutines.
package schedule

import (
	"sync"
	"time"
)

// Debouncer collapses a burst of calls into one, firing wait after the
// last call with the latest captured argument.
type Debouncer struct {
	mu      sync.Mutex
	wait    time.Duration
	fn      func(any)
	timer   *time.Timer
	latest  any
	pending bool
}

// NewDebouncer creates a debouncer that invokes fn.
func NewDebouncer(wait time.Duration, fn func(any)) *Debouncer {
	return &Debouncer{wait: wait, fn: fn}
}

// Call schedules fn to run wait from now, replacing any pending run and
// its argument.
func (d *Debouncer) Call(arg any) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.latest = arg
	d.pending = true
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.wait, d.fire)
}

func (d *Debouncer) fire() {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	arg := d.latest
	d.mu.Unlock()

	d.fn(arg)
}

// Cancel discards any pending run. Safe to call when idle.
func (d *Debouncer) Cancel() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
	}
}

// Flush executes a pending run immediately with the latest captured
// argument. No-op when nothing is pending.
func (d *Debouncer) Flush() {
	d.mu.Lock()
	if !d.pending {
		d.mu.Unlock()
		return
	}
	d.pending = false
	if d.timer != nil {
		d.timer.Stop()
	}
	arg := d.latest
	d.mu.Unlock()

	d.fn(arg)
}

// Pending reports whether a run is outstanding.
func (d *Debouncer) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.pending
}

// Throttler guarantees at most one execution per interval. The first call
// in a quiescent window executes immediately; later calls within the
// window coalesce into exactly one trailing run with the latest argument.
type Throttler struct {
	mu       sync.Mutex
	interval time.Duration
	fn       func(any)
	last     time.Time
	timer    *time.Timer
	latest   any
	trailing bool
}

// NewThrottler creates a throttler that invokes fn.
func NewThrottler(interval time.Duration, fn func(any)) *Throttler {
	return &Throttler{interval: interval, fn: fn}
}

// Call either runs fn immediately (leading edge) or schedules/updates the
// trailing run for the end of the current window.
func (t *Throttler) Call(arg any) {
	t.mu.Lock()

	now := time.Now()
	if !t.trailing && now.Sub(t.last) >= t.interval {
		t.last = now
		t.mu.Unlock()
		t.fn(arg)
		return
	}

	t.latest = arg
	if !t.trailing {
		t.trailing = true
		delay := t.interval - now.Sub(t.last)
		t.timer = time.AfterFunc(delay, t.fire)
	}
	t.mu.Unlock()
}

func (t *Throttler) fire() {
	t.mu.Lock()
	if !t.trailing {
		t.mu.Unlock()
		return
	}
	t.trailing = false
	t.last = time.Now()
	arg := t.latest
	t.mu.Unlock()

	t.fn(arg)
}

// Cancel discards any scheduled trailing run. Safe to call when idle.
func (t *Throttler) Cancel() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.trailing = false
	if t.timer != nil {
		t.timer.Stop()
	}
}

// Pending reports whether a trailing run is scheduled.
func (t *Throttler) Pending() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.trailing
}

// Controller routes saves through the configured timing primitives. With
// both a debounce wait and a throttle interval set, every Save feeds both:
// bursts coalesce on the debounce side while the throttle guarantees a
// write at least every interval under continuous input. With only one
// configured, that one is used alone; with neither, Save runs fn inline.
type Controller struct {
	deb *Debouncer
	thr *Throttler
	fn  func(any)
}

// NewController builds a controller for fn. Zero durations disable the
// corresponding primitive.
//
// In combined mode an execution on either half cancels the other half's
// pending run: both halves capture the same latest argument, so letting
// both fire would persist the identical state twice. A burst therefore
// produces at most two writes - the throttle's leading edge and the
// debounce's trailing edge.
func NewController(debounceWait, throttleInterval time.Duration, fn func(any)) *Controller {
	c := &Controller{fn: fn}
	switch {
	case debounceWait > 0 && throttleInterval > 0:
		c.deb = NewDebouncer(debounceWait, func(arg any) {
			c.thr.Cancel()
			fn(arg)
		})
		c.thr = NewThrottler(throttleInterval, func(arg any) {
			c.deb.Cancel()
			fn(arg)
		})
	case debounceWait > 0:
		c.deb = NewDebouncer(debounceWait, fn)
	case throttleInterval > 0:
		c.thr = NewThrottler(throttleInterval, fn)
	}
	return c
}

// Save submits the latest state for persistence.
func (c *Controller) Save(arg any) {
	switch {
	case c.deb != nil && c.thr != nil:
		c.deb.Call(arg)
		c.thr.Call(arg)
	case c.deb != nil:
		c.deb.Call(arg)
	case c.thr != nil:
		c.thr.Call(arg)
	default:
		c.fn(arg)
	}
}

// Cancel discards pending runs on both halves.
func (c *Controller) Cancel() {
	if c.deb != nil {
		c.deb.Cancel()
	}
	if c.thr != nil {
		c.thr.Cancel()
	}
}

// Flush executes the debounce half's pending write, if any, and cancels
// the throttle's trailing run so the same state is not written twice.
// Only the debounce portion is guaranteed to execute; this matches the
// save path's historical behavior and callers rely on exactly that.
func (c *Controller) Flush() {
	if c.thr != nil {
		c.thr.Cancel()
	}
	if c.deb != nil {
		c.deb.Flush()
	}
}

// Pending reports whether either half has an outstanding run.
func (c *Controller) Pending() bool {
	if c.deb != nil && c.deb.Pending() {
		return true
	}
	return c.thr != nil && c.thr.Pending()
}
