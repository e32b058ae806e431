package mapengine

import (
	"fmt"
	"log/slog"
	"sync"
)

// ErrorRecorder keeps the last error swallowed at the engine boundary.
// It is diagnostics only.
type ErrorRecorder struct {
	mu   sync.Mutex
	last error
}

func (r *ErrorRecorder) Record(err error) {
	if r == nil || err == nil {
		return
	}
	r.mu.Lock()
	r.last = err
	r.mu.Unlock()
}

// Last returns the most recently recorded error, or nil.
func (r *ErrorRecorder) Last() error {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

// BestEffort runs a renderer call whose failure is an expected setup or
// teardown race. Errors and panics are recorded on rec and reported as
// false; they never propagate.
func BestEffort(rec *ErrorRecorder, op string, fn func() error) (ok bool) {
	defer func() {
		if p := recover(); p != nil {
			rec.Record(fmt.Errorf("%s: panic: %v", op, p))
			ok = false
		}
	}()
	if err := fn(); err != nil {
		rec.Record(fmt.Errorf("%s: %w", op, err))
		return false
	}
	return true
}

// Guard wraps an event handler so a panic inside it is logged instead of
// unwinding into the renderer's event loop.
func Guard(log *slog.Logger, name string, h Handler) Handler {
	return func(ev Event) {
		defer func() {
			if p := recover(); p != nil && log != nil {
				log.Debug("map handler failed", "handler", name, "event", ev.Type, "panic", p)
			}
		}()
		h(ev)
	}
}
