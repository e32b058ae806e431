package memengine

import (
	"sync"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-incidents/internal/mapengine"
)

// Marker is a DOM marker. Attaching it appends its element to the map
// container; removing detaches both.
type Marker struct {
	mu sync.Mutex
	at orb.Point
	el *Element
	on *Map
}

// NewMarker returns a detached marker at p. A nil el gets a fresh div.
func NewMarker(p orb.Point, el *Element) *Marker {
	if el == nil {
		el = NewElement("div")
	}
	return &Marker{at: p, el: el}
}

func (mk *Marker) LngLat() orb.Point { return mk.at }

func (mk *Marker) Element() mapengine.Element { return mk.el }

// AddTo attaches the marker. Only memengine maps can host it.
func (mk *Marker) AddTo(m mapengine.Map) {
	mm, ok := m.(*Map)
	if !ok {
		return
	}
	mk.mu.Lock()
	if mk.on != nil {
		mk.mu.Unlock()
		return
	}
	mk.on = mm
	mk.mu.Unlock()
	if mm.attachMarker(mk) {
		mm.container.Append(mk.el)
	}
}

func (mk *Marker) Remove() {
	mk.mu.Lock()
	mm := mk.on
	mk.on = nil
	mk.mu.Unlock()
	if mm == nil {
		return
	}
	mm.detachMarker(mk)
	mm.container.removeChild(mk.el)
}

// Attached reports whether the marker is on a map.
func (mk *Marker) Attached() bool {
	mk.mu.Lock()
	defer mk.mu.Unlock()
	return mk.on != nil
}

var _ mapengine.Marker = (*Marker)(nil)
