// Package memengine is an in-memory implementation of the mapengine
// interfaces. It keeps real source, layer and property state, dispatches
// events, clusters point sources per zoom and answers rendered-feature
// queries from that state, so the visibility layer can be driven end to
// end without a browser.
package memengine

import (
	"fmt"
	"math"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-incidents/internal/mapengine"
)

// Camera records one camera move.
type Camera struct {
	Kind   string // "fit", "fly", "ease"
	Center orb.Point
	Zoom   float64
	Bound  orb.Bound
}

type source struct {
	spec     mapengine.SourceSpec
	clusters map[int][]clusterNode
}

type layer struct {
	def    mapengine.Layer
	paint  map[string]any
	layout map[string]any
}

type subscription struct {
	m     *Map
	id    int
	event string
	layer string
	h     mapengine.Handler
	once  bool
}

func (s *subscription) Off() { s.m.removeSub(s.id) }

// Map is an in-memory map instance.
type Map struct {
	mu          sync.Mutex
	container   *Element
	sources     map[string]*source
	layers      map[string]*layer
	order       []string
	subs        []*subscription
	nextSub     int
	center      orb.Point
	zoom        float64
	viewport    *orb.Bound
	loaded      bool
	styleLoaded bool
	scroll      *scrollZoom
	markers     []*Marker
	popups      []*Popup
	cameras     []Camera
}

// New returns a map attached to container. A nil container gets a fresh
// div. The container carries the handle so mapengine.Resolve can recover it.
func New(container *Element) *Map {
	if container == nil {
		container = NewElement("div", "map-container")
	}
	m := &Map{
		container: container,
		sources:   make(map[string]*source),
		layers:    make(map[string]*layer),
		zoom:      2,
		scroll:    &scrollZoom{enabled: true},
	}
	container.mu.Lock()
	container.handle = m
	container.mu.Unlock()
	return m
}

// SetLoaded marks the map and its style loaded and fires load then style.load.
func (m *Map) SetLoaded() {
	m.mu.Lock()
	m.loaded = true
	m.styleLoaded = true
	m.mu.Unlock()
	m.Fire(mapengine.Event{Type: mapengine.EventLoad})
	m.Fire(mapengine.Event{Type: mapengine.EventStyleLoad})
}

// ReloadStyle drops every source and layer, as a style switch does, and
// fires style.load.
func (m *Map) ReloadStyle() {
	m.mu.Lock()
	m.sources = make(map[string]*source)
	m.layers = make(map[string]*layer)
	m.order = nil
	m.styleLoaded = true
	m.mu.Unlock()
	m.Fire(mapengine.Event{Type: mapengine.EventStyleLoad})
}

// Idle fires the idle event.
func (m *Map) Idle() {
	m.Fire(mapengine.Event{Type: mapengine.EventIdle})
}

// SetView moves the camera without recording a camera animation.
func (m *Map) SetView(center orb.Point, zoom float64) {
	m.mu.Lock()
	m.center = center
	m.zoom = zoom
	m.mu.Unlock()
}

// SetViewport limits rendered point features to b. A nil bound renders all.
func (m *Map) SetViewport(b *orb.Bound) {
	m.mu.Lock()
	m.viewport = b
	m.mu.Unlock()
}

// Fire dispatches ev to map-wide handlers and to handlers scoped to ev.Layer.
func (m *Map) Fire(ev mapengine.Event) {
	if ev.Target == nil {
		ev.Target = m
	}
	m.mu.Lock()
	var hs []mapengine.Handler
	keep := m.subs[:0]
	for _, s := range m.subs {
		match := s.event == ev.Type && (s.layer == "" || s.layer == ev.Layer)
		if match {
			hs = append(hs, s.h)
		}
		if !(match && s.once) {
			keep = append(keep, s)
		}
	}
	m.subs = keep
	m.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
}

// Handlers counts live subscriptions for event on layerID.
func (m *Map) Handlers(event, layerID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, s := range m.subs {
		if s.event == event && s.layer == layerID {
			n++
		}
	}
	return n
}

func (m *Map) removeSub(id int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, s := range m.subs {
		if s.id == id {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return
		}
	}
}

func (m *Map) On(event, layerID string, h mapengine.Handler) mapengine.Subscription {
	return m.subscribe(event, layerID, h, false)
}

func (m *Map) Once(event string, h mapengine.Handler) mapengine.Subscription {
	return m.subscribe(event, "", h, true)
}

func (m *Map) subscribe(event, layerID string, h mapengine.Handler, once bool) mapengine.Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextSub++
	s := &subscription{m: m, id: m.nextSub, event: event, layer: layerID, h: h, once: once}
	m.subs = append(m.subs, s)
	return s
}

func (m *Map) AddSource(id string, spec mapengine.SourceSpec) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[id]; ok {
		return fmt.Errorf("source %q already exists", id)
	}
	if spec.Data == nil {
		spec.Data = geojson.NewFeatureCollection()
	}
	m.sources[id] = &source{spec: spec}
	return nil
}

func (m *Map) HasSource(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.sources[id]
	return ok
}

func (m *Map) SetSourceData(id string, data *geojson.FeatureCollection) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sources[id]
	if !ok {
		return fmt.Errorf("source %q not found", id)
	}
	if data == nil {
		data = geojson.NewFeatureCollection()
	}
	s.spec.Data = data
	s.clusters = nil
	return nil
}

// SourceData returns the data currently bound to a source.
func (m *Map) SourceData(id string) *geojson.FeatureCollection {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sources[id]; ok {
		return s.spec.Data
	}
	return nil
}

func (m *Map) RemoveSource(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sources[id]; !ok {
		return fmt.Errorf("source %q not found", id)
	}
	for _, l := range m.layers {
		if l.def.Source == id {
			return fmt.Errorf("source %q is in use by layer %q", id, l.def.ID)
		}
	}
	delete(m.sources, id)
	return nil
}

func (m *Map) AddLayer(l mapengine.Layer) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.layers[l.ID]; ok {
		return fmt.Errorf("layer %q already exists", l.ID)
	}
	if l.Source != "" {
		if _, ok := m.sources[l.Source]; !ok {
			return fmt.Errorf("layer %q: source %q not found", l.ID, l.Source)
		}
	}
	nl := &layer{def: l, paint: make(map[string]any), layout: make(map[string]any)}
	for k, v := range l.Paint {
		nl.paint[k] = v
	}
	for k, v := range l.Layout {
		nl.layout[k] = v
	}
	m.layers[l.ID] = nl
	m.order = append(m.order, l.ID)
	return nil
}

func (m *Map) HasLayer(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.layers[id]
	return ok
}

func (m *Map) RemoveLayer(id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.layers[id]; !ok {
		return fmt.Errorf("layer %q not found", id)
	}
	delete(m.layers, id)
	m.order = removeString(m.order, id)
	return nil
}

func (m *Map) MoveLayer(id, beforeID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.layers[id]; !ok {
		return fmt.Errorf("layer %q not found", id)
	}
	order := removeString(m.order, id)
	if beforeID == "" {
		m.order = append(order, id)
		return nil
	}
	for i, other := range order {
		if other == beforeID {
			out := append([]string{}, order[:i]...)
			out = append(out, id)
			m.order = append(out, order[i:]...)
			return nil
		}
	}
	return fmt.Errorf("layer %q not found", beforeID)
}

func (m *Map) StyleLayers() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.order...)
}

// LayerDef returns the layer as it was added.
func (m *Map) LayerDef(id string) (mapengine.Layer, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.layers[id]
	if !ok {
		return mapengine.Layer{}, false
	}
	return l.def, true
}

func (m *Map) SetPaintProperty(layerID, name string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.layers[layerID]
	if !ok {
		return fmt.Errorf("layer %q not found", layerID)
	}
	l.paint[name] = value
	return nil
}

func (m *Map) SetLayoutProperty(layerID, name string, value any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.layers[layerID]
	if !ok {
		return fmt.Errorf("layer %q not found", layerID)
	}
	l.layout[name] = value
	return nil
}

func (m *Map) PaintProperty(layerID, name string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.layers[layerID]
	if !ok {
		return nil, false
	}
	v, ok := l.paint[name]
	return v, ok
}

func (m *Map) LayoutProperty(layerID, name string) (any, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.layers[layerID]
	if !ok {
		return nil, false
	}
	v, ok := l.layout[name]
	return v, ok
}

// IsVisible reports whether a layer exists and is not hidden.
func (m *Map) IsVisible(layerID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.layers[layerID]
	return ok && l.layout[mapengine.Visibility] != mapengine.Hidden
}

func (m *Map) QueryRenderedFeatures(layerIDs ...string) []*geojson.Feature {
	m.mu.Lock()
	defer m.mu.Unlock()

	want := make(map[string]bool, len(layerIDs))
	for _, id := range layerIDs {
		want[id] = true
	}

	var out []*geojson.Feature
	for _, id := range m.order {
		if len(want) > 0 && !want[id] {
			continue
		}
		l := m.layers[id]
		if l.layout[mapengine.Visibility] == mapengine.Hidden {
			continue
		}
		src, ok := m.sources[l.def.Source]
		if !ok {
			continue
		}
		for _, f := range m.renderedLocked(src) {
			if !mapengine.EvalFilter(l.def.Filter, f.Properties) {
				continue
			}
			if m.viewport != nil {
				if p, ok := f.Geometry.(orb.Point); ok && !m.viewport.Contains(p) {
					continue
				}
			}
			out = append(out, f)
		}
	}
	return out
}

func (m *Map) renderedLocked(src *source) []*geojson.Feature {
	if src.spec.Data == nil {
		return nil
	}
	if !src.spec.Cluster {
		return src.spec.Data.Features
	}
	z := int(math.Floor(m.zoom))
	nodes := src.clustersAt(z)
	out := make([]*geojson.Feature, 0, len(nodes))
	for _, n := range nodes {
		out = append(out, n.feature(src.spec.Data))
	}
	return out
}

func (m *Map) ClusterExpansionZoom(sourceID string, clusterID int) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[sourceID]
	if !ok {
		return 0, fmt.Errorf("source %q not found", sourceID)
	}
	if !src.spec.Cluster {
		return 0, fmt.Errorf("source %q is not clustered", sourceID)
	}
	return src.expansionZoom(clusterID)
}

func (m *Map) FitBounds(b orb.Bound, opts mapengine.CameraOptions) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.center = b.Center()
	if opts.MaxZoom > 0 && m.zoom > opts.MaxZoom {
		m.zoom = opts.MaxZoom
	}
	m.cameras = append(m.cameras, Camera{Kind: "fit", Center: m.center, Zoom: m.zoom, Bound: b})
}

func (m *Map) FlyTo(center orb.Point, zoom float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.center, m.zoom = center, zoom
	m.cameras = append(m.cameras, Camera{Kind: "fly", Center: center, Zoom: zoom})
}

func (m *Map) EaseTo(center orb.Point, zoom float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.center, m.zoom = center, zoom
	m.cameras = append(m.cameras, Camera{Kind: "ease", Center: center, Zoom: zoom})
}

// Cameras returns every recorded camera move.
func (m *Map) Cameras() []Camera {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Camera(nil), m.cameras...)
}

func (m *Map) Center() orb.Point {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.center
}

func (m *Map) Zoom() float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.zoom
}

func (m *Map) Container() mapengine.Element { return m.container }

// ContainerElement returns the concrete container.
func (m *Map) ContainerElement() *Element { return m.container }

func (m *Map) ScrollZoom() mapengine.ScrollZoom { return m.scroll }

func (m *Map) Loaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.loaded
}

func (m *Map) StyleLoaded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.styleLoaded
}

// Markers returns the markers currently attached.
func (m *Map) Markers() []*Marker {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Marker(nil), m.markers...)
}

func (m *Map) attachMarker(mk *Marker) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.markers {
		if existing == mk {
			return false
		}
	}
	m.markers = append(m.markers, mk)
	return true
}

func (m *Map) detachMarker(mk *Marker) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, existing := range m.markers {
		if existing == mk {
			m.markers = append(m.markers[:i], m.markers[i+1:]...)
			return
		}
	}
}

// Popups returns the popups currently open.
func (m *Map) Popups() []*Popup {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*Popup(nil), m.popups...)
}

func removeString(in []string, s string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v != s {
			out = append(out, v)
		}
	}
	return out
}

type scrollZoom struct {
	mu       sync.Mutex
	enabled  bool
	enables  int
	disables int
}

func (s *scrollZoom) Enable() {
	s.mu.Lock()
	s.enabled = true
	s.enables++
	s.mu.Unlock()
}

func (s *scrollZoom) Disable() {
	s.mu.Lock()
	s.enabled = false
	s.disables++
	s.mu.Unlock()
}

func (s *scrollZoom) IsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.enabled
}

// ScrollZoomCalls reports how many times scroll zoom was enabled and disabled.
func (m *Map) ScrollZoomCalls() (enables, disables int) {
	m.scroll.mu.Lock()
	defer m.scroll.mu.Unlock()
	return m.scroll.enables, m.scroll.disables
}

var _ mapengine.Map = (*Map)(nil)
