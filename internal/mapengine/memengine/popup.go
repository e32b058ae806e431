package memengine

import (
	"sync"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-incidents/internal/mapengine"
)

// ContentClass marks the element holding a popup's HTML.
const ContentClass = mapengine.PopupContentClass

// Popup is an in-memory popup. Its element has one child carrying
// ContentClass, mirroring the renderer's content wrapper.
type Popup struct {
	mu      sync.Mutex
	opts    mapengine.PopupOptions
	at      orb.Point
	html    string
	el      *Element
	content *Element
	on      *Map
	onClose []func()
}

func (m *Map) NewPopup(opts mapengine.PopupOptions) mapengine.Popup {
	el := NewElement("div", "popup")
	if opts.ClassName != "" {
		el.SetClass(opts.ClassName, true)
	}
	return &Popup{opts: opts, el: el, content: el.Append(NewElement("div", ContentClass))}
}

func (p *Popup) SetLngLat(at orb.Point) mapengine.Popup {
	p.mu.Lock()
	p.at = at
	p.mu.Unlock()
	return p
}

func (p *Popup) SetHTML(html string) mapengine.Popup {
	p.mu.Lock()
	p.html = html
	p.mu.Unlock()
	return p
}

// HTML returns the popup's current content.
func (p *Popup) HTML() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.html
}

// LngLat returns the popup's anchor.
func (p *Popup) LngLat() orb.Point {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.at
}

// Options returns the options the popup was built with.
func (p *Popup) Options() mapengine.PopupOptions { return p.opts }

// Content returns the content wrapper element.
func (p *Popup) Content() *Element { return p.content }

func (p *Popup) AddTo(m mapengine.Map) mapengine.Popup {
	mm, ok := m.(*Map)
	if !ok {
		return p
	}
	p.mu.Lock()
	already := p.on != nil
	p.on = mm
	p.mu.Unlock()
	if !already {
		mm.mu.Lock()
		mm.popups = append(mm.popups, p)
		mm.mu.Unlock()
		mm.container.Append(p.el)
	}
	return p
}

// Remove closes the popup and runs its close callbacks once.
func (p *Popup) Remove() {
	p.mu.Lock()
	mm := p.on
	p.on = nil
	fns := p.onClose
	p.mu.Unlock()
	if mm == nil {
		return
	}
	mm.mu.Lock()
	for i, other := range mm.popups {
		if other == p {
			mm.popups = append(mm.popups[:i], mm.popups[i+1:]...)
			break
		}
	}
	mm.mu.Unlock()
	mm.container.removeChild(p.el)
	for _, fn := range fns {
		fn()
	}
}

func (p *Popup) OnClose(fn func()) {
	p.mu.Lock()
	p.onClose = append(p.onClose, fn)
	p.mu.Unlock()
}

func (p *Popup) IsOpen() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.on != nil
}

func (p *Popup) Element() mapengine.Element { return p.el }

var _ mapengine.Popup = (*Popup)(nil)
