package schedule

import (
	"sync"
	"time"
)

// Debouncer coalesces bursts of calls per key. A call arriving when the key
// has been quiet for the whole quiet period runs immediately; calls inside
// the window replace each other and only the latest runs, once, after the
// window has passed with no further calls.
type Debouncer struct {
	sched Scheduler
	quiet time.Duration

	mu      sync.Mutex
	entries map[string]*debounceEntry
}

type debounceEntry struct {
	last  time.Time
	fn    func()
	timer Timer
	gen   uint64
}

// NewDebouncer returns a Debouncer with the given quiet period.
func NewDebouncer(s Scheduler, quiet time.Duration) *Debouncer {
	return &Debouncer{sched: s, quiet: quiet, entries: make(map[string]*debounceEntry)}
}

// Call runs fn now or coalesces it with the pending call for key.
// The returned CancelFunc drops fn if it has not run yet.
func (d *Debouncer) Call(key string, fn func()) CancelFunc {
	now := d.sched.Now()

	d.mu.Lock()
	e, ok := d.entries[key]
	if !ok || (e.timer == nil && now.Sub(e.last) >= d.quiet) {
		if !ok {
			e = &debounceEntry{}
			d.entries[key] = e
		}
		e.last = now
		e.gen++
		d.mu.Unlock()
		fn()
		return func() {}
	}

	if e.timer != nil {
		e.timer.Stop()
	}
	e.last = now
	e.fn = fn
	e.gen++
	gen := e.gen
	e.timer = d.sched.AfterFunc(d.quiet, func() { d.fire(key, gen) })
	d.mu.Unlock()

	return func() { d.cancel(key, gen) }
}

// Pending reports whether a coalesced call is waiting for key.
func (d *Debouncer) Pending(key string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	e, ok := d.entries[key]
	return ok && e.timer != nil
}

// Cancel drops the pending call for key, if any.
func (d *Debouncer) Cancel(key string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[key]; ok && e.timer != nil {
		e.timer.Stop()
		e.timer = nil
		e.fn = nil
	}
}

// CancelAll drops every pending call.
func (d *Debouncer) CancelAll() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, e := range d.entries {
		if e.timer != nil {
			e.timer.Stop()
			e.timer = nil
			e.fn = nil
		}
	}
}

func (d *Debouncer) cancel(key string, gen uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if e, ok := d.entries[key]; ok && e.gen == gen && e.timer != nil {
		e.timer.Stop()
		e.timer = nil
		e.fn = nil
	}
}

func (d *Debouncer) fire(key string, gen uint64) {
	d.mu.Lock()
	e, ok := d.entries[key]
	if !ok || e.gen != gen || e.fn == nil {
		d.mu.Unlock()
		return
	}
	fn := e.fn
	e.fn = nil
	e.timer = nil
	e.last = d.sched.Now()
	d.mu.Unlock()
	fn()
}
