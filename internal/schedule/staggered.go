package schedule

import (
	"sync"
	"time"
)

// Staggered runs fn once per delay. A zero delay runs synchronously. Once
// fn returns true the remaining runs are skipped. The returned CancelFunc
// stops every run that has not happened yet.
func Staggered(s Scheduler, delays []time.Duration, fn func(attempt int) bool) CancelFunc {
	var (
		mu     sync.Mutex
		done   bool
		timers []Timer
	)

	run := func(i int) {
		mu.Lock()
		if done {
			mu.Unlock()
			return
		}
		mu.Unlock()
		if fn(i) {
			mu.Lock()
			done = true
			mu.Unlock()
		}
	}

	for i, d := range delays {
		if d <= 0 {
			run(i)
			continue
		}
		i := i
		t := s.AfterFunc(d, func() { run(i) })
		mu.Lock()
		timers = append(timers, t)
		mu.Unlock()
	}

	return func() {
		mu.Lock()
		defer mu.Unlock()
		done = true
		for _, t := range timers {
			t.Stop()
		}
	}
}
