package schedule

import (
	"sync"
	"time"
)

// RetryState is the lifecycle of one bounded retry tracker.
type RetryState int

const (
	// Idle means no tracker exists for the key.
	Idle RetryState = iota
	// Waiting means the last attempt failed and another is scheduled.
	Waiting
	// Applied means an attempt succeeded.
	Applied
	// GaveUp means every attempt failed.
	GaveUp
)

func (s RetryState) String() string {
	switch s {
	case Waiting:
		return "waiting"
	case Applied:
		return "applied"
	case GaveUp:
		return "gave-up"
	default:
		return "idle"
	}
}

// Retrier runs an operation until it reports success or a fixed number of
// attempts is spent. There is at most one tracker per key: starting a key
// again replaces the previous tracker and its timer.
type Retrier struct {
	sched Scheduler

	mu       sync.Mutex
	trackers map[string]*tracker
	gen      uint64

	// OnGiveUp, when set, is called with the key of every tracker that
	// runs out of attempts.
	OnGiveUp func(key string)
}

type tracker struct {
	gen          uint64
	attemptsLeft int
	interval     time.Duration
	try          func() bool
	timer        Timer
	state        RetryState
	running      bool
}

// NewRetrier returns an empty Retrier.
func NewRetrier(s Scheduler) *Retrier {
	return &Retrier{sched: s, trackers: make(map[string]*tracker)}
}

// Start makes the first attempt immediately and, on failure, schedules up
// to attempts-1 more, interval apart. It returns the state after the first
// attempt.
func (r *Retrier) Start(key string, attempts int, interval time.Duration, try func() bool) RetryState {
	if attempts < 1 {
		attempts = 1
	}
	r.mu.Lock()
	if old, ok := r.trackers[key]; ok && old.timer != nil {
		old.timer.Stop()
	}
	r.gen++
	t := &tracker{gen: r.gen, attemptsLeft: attempts, interval: interval, try: try, state: Waiting}
	r.trackers[key] = t
	r.mu.Unlock()

	return r.attempt(key, t.gen)
}

// Poke runs an attempt right away for a waiting tracker. Readiness events
// use it so a retry does not have to wait for its next tick.
func (r *Retrier) Poke(key string) RetryState {
	r.mu.Lock()
	t, ok := r.trackers[key]
	if !ok || t.state != Waiting || t.running {
		st := Idle
		if ok {
			st = t.state
		}
		r.mu.Unlock()
		return st
	}
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	gen := t.gen
	r.mu.Unlock()
	return r.attempt(key, gen)
}

// State returns the tracker state and remaining attempts for key.
func (r *Retrier) State(key string) (RetryState, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.trackers[key]
	if !ok {
		return Idle, 0
	}
	return t.state, t.attemptsLeft
}

// Cancel stops and forgets the tracker for key.
func (r *Retrier) Cancel(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.trackers[key]; ok {
		if t.timer != nil {
			t.timer.Stop()
		}
		delete(r.trackers, key)
	}
}

// CancelAll stops and forgets every tracker.
func (r *Retrier) CancelAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for key, t := range r.trackers {
		if t.timer != nil {
			t.timer.Stop()
		}
		delete(r.trackers, key)
	}
}

func (r *Retrier) attempt(key string, gen uint64) RetryState {
	r.mu.Lock()
	t, ok := r.trackers[key]
	if !ok || t.gen != gen || t.state != Waiting {
		r.mu.Unlock()
		return Idle
	}
	t.running = true
	t.attemptsLeft--
	try := t.try
	r.mu.Unlock()

	done := try()

	r.mu.Lock()
	t.running = false
	if cur, ok := r.trackers[key]; !ok || cur != t {
		// Superseded or cancelled while the attempt ran.
		r.mu.Unlock()
		return Idle
	}
	switch {
	case done:
		t.state = Applied
	case t.attemptsLeft <= 0:
		t.state = GaveUp
	default:
		t.timer = r.sched.AfterFunc(t.interval, func() { r.attempt(key, gen) })
	}
	st := t.state
	onGiveUp := r.OnGiveUp
	r.mu.Unlock()

	if st == GaveUp && onGiveUp != nil {
		onGiveUp(key)
	}
	return st
}
