package layers

import (
	"math"
	"sync"
	"time"

	"github.com/joeblew999/plat-incidents/internal/mapengine"
)

// ClickGuard tells a click from a drag that ended on a layer. A click
// counts only when the pointer moved at most MaxMove pixels and was held
// at most MaxHold since the last Down.
type ClickGuard struct {
	MaxMove float64
	MaxHold time.Duration

	mu   sync.Mutex
	down *pointerDown
}

type pointerDown struct {
	at   mapengine.ScreenPoint
	when time.Time
}

// NewClickGuard returns a guard with a 5px / 200ms threshold.
func NewClickGuard() *ClickGuard {
	return &ClickGuard{MaxMove: 5, MaxHold: 200 * time.Millisecond}
}

// Down records a pointer press.
func (g *ClickGuard) Down(at mapengine.ScreenPoint, when time.Time) {
	g.mu.Lock()
	g.down = &pointerDown{at: at, when: when}
	g.mu.Unlock()
}

// IsClick consumes the recorded press and reports whether the release at
// (at, when) is a click. With no recorded press it is a click.
func (g *ClickGuard) IsClick(at mapengine.ScreenPoint, when time.Time) bool {
	g.mu.Lock()
	d := g.down
	g.down = nil
	g.mu.Unlock()
	if d == nil {
		return true
	}
	if math.Hypot(at.X-d.at.X, at.Y-d.at.Y) > g.MaxMove {
		return false
	}
	if !when.IsZero() && !d.when.IsZero() && when.Sub(d.when) > g.MaxHold {
		return false
	}
	return true
}
