package memengine

import (
	"sync"

	"github.com/joeblew999/plat-incidents/internal/mapengine"
)

// Element is an in-memory DOM node.
type Element struct {
	mu       sync.Mutex
	tag      string
	id       string
	classes  map[string]bool
	data     map[string]string
	style    map[string]string
	computed map[string]string
	parent   *Element
	children []*Element
	scroll   mapengine.ScrollMetrics
	handle   mapengine.Map
}

// NewElement returns a detached element with the given classes.
func NewElement(tag string, classes ...string) *Element {
	e := &Element{
		tag:      tag,
		classes:  make(map[string]bool),
		data:     make(map[string]string),
		style:    make(map[string]string),
		computed: make(map[string]string),
	}
	for _, c := range classes {
		e.classes[c] = true
	}
	return e
}

// Append attaches child under e and returns child.
func (e *Element) Append(child *Element) *Element {
	child.mu.Lock()
	child.parent = e
	child.mu.Unlock()
	e.mu.Lock()
	e.children = append(e.children, child)
	e.mu.Unlock()
	return child
}

func (e *Element) Tag() string { return e.tag }

func (e *Element) ID() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.id
}

func (e *Element) SetID(id string) {
	e.mu.Lock()
	e.id = id
	e.mu.Unlock()
}

func (e *Element) Data(key string) (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	v, ok := e.data[key]
	return v, ok
}

func (e *Element) SetData(key, value string) {
	e.mu.Lock()
	e.data[key] = value
	e.mu.Unlock()
}

func (e *Element) Style(prop string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.style[prop]
}

// SetStyle sets an inline style; an empty value removes it.
func (e *Element) SetStyle(prop, value string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if value == "" {
		delete(e.style, prop)
		return
	}
	e.style[prop] = value
}

// SetComputed sets the stylesheet value used when no inline style is set.
func (e *Element) SetComputed(prop, value string) {
	e.mu.Lock()
	e.computed[prop] = value
	e.mu.Unlock()
}

func (e *Element) ComputedStyle(prop string) string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if v, ok := e.style[prop]; ok {
		return v
	}
	if v, ok := e.computed[prop]; ok {
		return v
	}
	if prop == "display" {
		return "block"
	}
	return ""
}

func (e *Element) HasClass(name string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.classes[name]
}

func (e *Element) SetClass(name string, on bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if on {
		e.classes[name] = true
	} else {
		delete(e.classes, name)
	}
}

func (e *Element) Parent() mapengine.Element {
	e.mu.Lock()
	p := e.parent
	e.mu.Unlock()
	if p == nil {
		return nil
	}
	return p
}

func (e *Element) Children() []mapengine.Element {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]mapengine.Element, len(e.children))
	for i, c := range e.children {
		out[i] = c
	}
	return out
}

func (e *Element) Scroll() mapengine.ScrollMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.scroll
}

// SetScroll sets the element's scroll box.
func (e *Element) SetScroll(s mapengine.ScrollMetrics) {
	e.mu.Lock()
	e.scroll = s
	e.mu.Unlock()
}

// MapHandle returns the map whose container this element is, if any.
func (e *Element) MapHandle() mapengine.Map {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.handle == nil {
		return nil
	}
	return e.handle
}

// Document is an in-memory page rooted at Root.
type Document struct {
	Root *Element
}

// NewDocument returns a document with an empty body.
func NewDocument() *Document {
	return &Document{Root: NewElement("body")}
}

func (d *Document) QueryAllByClass(class string) []mapengine.Element {
	return mapengine.FindByClass(d.Root, class)
}

func (d *Document) ElementByID(id string) mapengine.Element {
	if id == "" {
		return nil
	}
	var match mapengine.Element
	var walk func(mapengine.Element)
	walk = func(e mapengine.Element) {
		if match != nil {
			return
		}
		if e.ID() == id {
			match = e
			return
		}
		for _, c := range e.Children() {
			walk(c)
		}
	}
	walk(d.Root)
	return match
}

func (e *Element) removeChild(child *Element) {
	e.mu.Lock()
	for i, c := range e.children {
		if c == child {
			e.children = append(e.children[:i], e.children[i+1:]...)
			break
		}
	}
	e.mu.Unlock()
	child.mu.Lock()
	if child.parent == e {
		child.parent = nil
	}
	child.mu.Unlock()
}
