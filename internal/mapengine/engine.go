// Package mapengine defines the boundary between the visibility layer and
// the host vector-map renderer: sources, layers, paint/layout properties,
// events, camera, popups, markers and the DOM-like elements around them.
//
// Nothing in this package renders. Production code binds a real engine
// behind these interfaces; tests and the simulate command use memengine.
package mapengine

import (
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

// Event types understood by Map.On.
const (
	EventLoad       = "load"
	EventStyleLoad  = "style.load"
	EventIdle       = "idle"
	EventMouseEnter = "mouseenter"
	EventMouseLeave = "mouseleave"
	EventMouseDown  = "mousedown"
	EventClick      = "click"
)

// Layout/paint values shared by every caller.
const (
	Visible    = "visible"
	Hidden     = "none"
	Visibility = "visibility"
)

// ScreenPoint is a position in container pixels.
type ScreenPoint struct {
	X, Y float64
}

// Event is delivered to handlers registered with Map.On.
type Event struct {
	// Target is the map the event fired on.
	Target   Map
	Type     string
	Layer    string
	Point    ScreenPoint
	LngLat   orb.Point
	Features []*geojson.Feature
	Time     time.Time
}

// Handler receives map events.
type Handler func(Event)

// Subscription removes a handler registered with On or Once.
type Subscription interface {
	Off()
}

// SourceSpec describes a GeoJSON source.
type SourceSpec struct {
	Type           string
	Data           *geojson.FeatureCollection
	Cluster        bool
	ClusterMaxZoom int
	ClusterRadius  int
}

// Layer describes a style layer. Filter and expression-valued properties
// use the array expression syntax built by the helpers in expr.go.
type Layer struct {
	ID     string
	Type   string
	Source string
	Filter []any
	Paint  map[string]any
	Layout map[string]any
}

// CameraOptions tunes FitBounds.
type CameraOptions struct {
	Padding  float64
	MaxZoom  float64
	Duration time.Duration
}

// Map is the renderer handle for one map instance.
type Map interface {
	AddSource(id string, spec SourceSpec) error
	HasSource(id string) bool
	SetSourceData(id string, data *geojson.FeatureCollection) error
	RemoveSource(id string) error

	AddLayer(layer Layer) error
	HasLayer(id string) bool
	RemoveLayer(id string) error
	// MoveLayer moves id before beforeID, or to the top when beforeID is empty.
	MoveLayer(id, beforeID string) error
	// StyleLayers lists layer ids in paint order.
	StyleLayers() []string

	SetPaintProperty(layerID, name string, value any) error
	SetLayoutProperty(layerID, name string, value any) error
	PaintProperty(layerID, name string) (any, bool)
	LayoutProperty(layerID, name string) (any, bool)

	// On registers h for event. An empty layerID subscribes map-wide.
	On(event, layerID string, h Handler) Subscription
	Once(event string, h Handler) Subscription

	QueryRenderedFeatures(layerIDs ...string) []*geojson.Feature
	ClusterExpansionZoom(sourceID string, clusterID int) (float64, error)

	FitBounds(b orb.Bound, opts CameraOptions)
	FlyTo(center orb.Point, zoom float64)
	EaseTo(center orb.Point, zoom float64)
	Center() orb.Point
	Zoom() float64

	Container() Element
	NewPopup(opts PopupOptions) Popup
	ScrollZoom() ScrollZoom

	Loaded() bool
	StyleLoaded() bool
}

// ScrollZoom is the map's wheel-zoom interaction handler.
type ScrollZoom interface {
	Enable()
	Disable()
	IsEnabled() bool
}

// PopupContentClass marks the element wrapping a popup's HTML.
const PopupContentClass = "popup-content"

// PopupOptions configures NewPopup.
type PopupOptions struct {
	CloseButton  bool
	CloseOnClick bool
	MaxWidth     string
	ClassName    string
}

// Popup is an overlay anchored at a coordinate.
type Popup interface {
	SetLngLat(p orb.Point) Popup
	SetHTML(html string) Popup
	AddTo(m Map) Popup
	Remove()
	OnClose(fn func())
	IsOpen() bool
	Element() Element
}

// Marker is a DOM marker positioned at a coordinate.
type Marker interface {
	LngLat() orb.Point
	AddTo(m Map)
	Remove()
	Element() Element
}

// ScrollMetrics mirrors an element's scroll box.
type ScrollMetrics struct {
	ScrollTop    float64
	ScrollHeight float64
	ClientHeight float64
}

// Element is the subset of a DOM element the map layers touch.
type Element interface {
	ID() string
	SetID(id string)
	Data(key string) (string, bool)
	SetData(key, value string)
	Style(prop string) string
	SetStyle(prop, value string)
	ComputedStyle(prop string) string
	HasClass(name string) bool
	SetClass(name string, on bool)
	Parent() Element
	Children() []Element
	Scroll() ScrollMetrics
}

// Document finds elements across the page.
type Document interface {
	QueryAllByClass(class string) []Element
	ElementByID(id string) Element
}
