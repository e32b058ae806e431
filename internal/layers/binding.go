// Package layers owns the country choropleth and selected-country overlay
// of one map: source lifecycle, data-driven paint, hover and click.
package layers

import (
	"log/slog"
	"sync"

	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-incidents/internal/logger"
	"github.com/joeblew999/plat-incidents/internal/mapengine"
)

// Names derived from a map id.
func SourceName(mapID string) string          { return "countries-" + mapID }
func FillLayerName(mapID string) string       { return "countries-fill-" + mapID }
func OutlineLayerName(mapID string) string    { return "countries-outline-" + mapID }
func SelectedSourceName(mapID string) string  { return "selected-country-" + mapID }
func SelectedFillName(mapID string) string    { return "selected-country-fill-" + mapID }
func SelectedOutlineName(mapID string) string { return "selected-country-outline-" + mapID }

// CountryClickFunc receives a genuine click on a country, with the full
// feature when the resolver knows it.
type CountryClickFunc func(ev mapengine.Event, f *geojson.Feature)

// Options configures a Binding.
type Options struct {
	Style *StyleOptions
	// Resolve maps a rendered feature back to the dataset feature.
	Resolve func(key any) *geojson.Feature
	OnClick CountryClickFunc
	Logger  *slog.Logger
}

// Binding is the choropleth adapter for one map.
type Binding struct {
	mapID string
	m     mapengine.Map
	style StyleOptions
	opts  Options
	log   *slog.Logger
	guard *ClickGuard
	rec   mapengine.ErrorRecorder

	mu       sync.Mutex
	handlers []mapengine.Subscription
}

// New returns a Binding for m. Style options are resolved once, from the
// map container's data attributes over opts.Style.
func New(mapID string, m mapengine.Map, opts Options) *Binding {
	return &Binding{
		mapID: mapID,
		m:     m,
		style: ResolveStyle(m.Container(), opts.Style),
		opts:  opts,
		log:   logger.Or(opts.Logger),
		guard: NewClickGuard(),
	}
}

func (b *Binding) MapID() string { return b.mapID }

func (b *Binding) Map() mapengine.Map { return b.m }

// Style returns the resolved options.
func (b *Binding) Style() StyleOptions { return b.style }

// LastError returns the last renderer error swallowed by the Binding.
func (b *Binding) LastError() error { return b.rec.Last() }

// HasCountrySource reports whether the country source is attached.
func (b *Binding) HasCountrySource() bool {
	return b.m.HasSource(SourceName(b.mapID))
}

// SetupSource adds the country source, or swaps its data in place when it
// already exists. It reports false when there is nothing to attach or the
// renderer refused.
func (b *Binding) SetupSource(fc *geojson.FeatureCollection) bool {
	if fc == nil {
		return false
	}
	src := SourceName(b.mapID)
	if b.m.HasSource(src) {
		return mapengine.BestEffort(&b.rec, "set data "+src, func() error {
			return b.m.SetSourceData(src, fc)
		})
	}
	return mapengine.BestEffort(&b.rec, "add source "+src, func() error {
		return b.m.AddSource(src, mapengine.SourceSpec{Type: "geojson", Data: fc})
	})
}

// LayersExist reports whether the fill layer has been created.
func (b *Binding) LayersExist() bool {
	return b.m.HasLayer(FillLayerName(b.mapID))
}

// LayersVisible reports whether the fill layer exists and is visible.
func (b *Binding) LayersVisible() bool {
	v, ok := b.m.LayoutProperty(FillLayerName(b.mapID), mapengine.Visibility)
	return b.LayersExist() && (!ok || v != mapengine.Hidden)
}

// ShowCountryLayers makes the choropleth visible, creating the fill and
// outline layers on first use. It reports false when the source is missing.
func (b *Binding) ShowCountryLayers() bool {
	fill, outline := FillLayerName(b.mapID), OutlineLayerName(b.mapID)
	if b.m.HasLayer(fill) {
		b.setVisibility(mapengine.Visible, fill, outline)
		return true
	}
	if !b.HasCountrySource() {
		return false
	}

	src := SourceName(b.mapID)
	ok := mapengine.BestEffort(&b.rec, "add layer "+fill, func() error {
		return b.m.AddLayer(mapengine.Layer{
			ID:     fill,
			Type:   "fill",
			Source: src,
			Layout: map[string]any{mapengine.Visibility: mapengine.Visible},
			Paint: map[string]any{
				"fill-color":   b.style.FillColorExpr(),
				"fill-opacity": b.style.FillOpacityExpr(),
			},
		})
	})
	if !ok {
		return false
	}
	if !b.m.HasLayer(outline) {
		mapengine.BestEffort(&b.rec, "add layer "+outline, func() error {
			return b.m.AddLayer(mapengine.Layer{
				ID:     outline,
				Type:   "line",
				Source: src,
				Layout: map[string]any{mapengine.Visibility: mapengine.Visible},
				Paint: map[string]any{
					"line-color": b.style.OutlineColorExpr(),
					"line-width": b.style.OutlineWidthExpr(),
				},
			})
		})
	}
	for _, id := range []string{fill, outline} {
		id := id
		mapengine.BestEffort(&b.rec, "move layer "+id, func() error { return b.m.MoveLayer(id, "") })
	}
	b.bindHandlers()
	return true
}

// HideCountryLayers hides the choropleth. Layers and source stay.
func (b *Binding) HideCountryLayers() {
	b.setVisibility(mapengine.Hidden, FillLayerName(b.mapID), OutlineLayerName(b.mapID))
}

func (b *Binding) setVisibility(v string, ids ...string) {
	for _, id := range ids {
		if !b.m.HasLayer(id) {
			continue
		}
		id := id
		mapengine.BestEffort(&b.rec, "visibility "+id, func() error {
			return b.m.SetLayoutProperty(id, mapengine.Visibility, v)
		})
	}
}

func (b *Binding) bindHandlers() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.handlers) > 0 {
		return
	}
	fill := FillLayerName(b.mapID)
	container := b.m.Container()
	b.handlers = []mapengine.Subscription{
		b.m.On(mapengine.EventMouseEnter, fill, mapengine.Guard(b.log, "country hover", func(mapengine.Event) {
			if container != nil {
				container.SetStyle("cursor", "pointer")
			}
		})),
		b.m.On(mapengine.EventMouseLeave, fill, mapengine.Guard(b.log, "country leave", func(mapengine.Event) {
			if container != nil {
				container.SetStyle("cursor", "")
			}
		})),
		b.m.On(mapengine.EventMouseDown, fill, mapengine.Guard(b.log, "country press", func(ev mapengine.Event) {
			b.guard.Down(ev.Point, ev.Time)
		})),
		b.m.On(mapengine.EventClick, fill, mapengine.Guard(b.log, "country click", b.handleClick)),
	}
}

func (b *Binding) handleClick(ev mapengine.Event) {
	if !b.guard.IsClick(ev.Point, ev.Time) {
		b.log.Debug("country_click_ignored", "map", b.mapID, "reason", "drag")
		return
	}
	if len(ev.Features) == 0 || b.opts.OnClick == nil {
		return
	}
	f := ev.Features[0]
	if b.opts.Resolve != nil {
		if full := b.opts.Resolve(f); full != nil {
			f = full
		}
	}
	b.opts.OnClick(ev, f)
}

// EnsureSelectedCountryLayers renders f on the highlight overlay, creating
// its source and layers when missing, and fits the camera to f when
// configured. Geometry with no coordinates moves nothing.
func (b *Binding) EnsureSelectedCountryLayers(f *geojson.Feature) {
	if f == nil {
		return
	}
	h := b.style.Highlight
	src := SelectedSourceName(b.mapID)
	fillID, outlineID := SelectedFillName(b.mapID), SelectedOutlineName(b.mapID)

	fc := geojson.NewFeatureCollection().Append(f)
	if b.m.HasSource(src) {
		mapengine.BestEffort(&b.rec, "set data "+src, func() error { return b.m.SetSourceData(src, fc) })
	} else {
		mapengine.BestEffort(&b.rec, "add source "+src, func() error {
			return b.m.AddSource(src, mapengine.SourceSpec{Type: "geojson", Data: fc})
		})
	}

	if !b.m.HasLayer(fillID) {
		mapengine.BestEffort(&b.rec, "add layer "+fillID, func() error {
			return b.m.AddLayer(mapengine.Layer{
				ID:     fillID,
				Type:   "fill",
				Source: src,
				Paint: map[string]any{
					"fill-color":   NormalizeColor(h.FillColor),
					"fill-opacity": h.FillOpacity,
				},
			})
		})
	}
	if h.ShowOutline && !b.m.HasLayer(outlineID) {
		mapengine.BestEffort(&b.rec, "add layer "+outlineID, func() error {
			return b.m.AddLayer(mapengine.Layer{
				ID:     outlineID,
				Type:   "line",
				Source: src,
				Paint: map[string]any{
					"line-color": NormalizeColor(h.OutlineColor),
					"line-width": h.OutlineWidth,
				},
			})
		})
	}
	b.setVisibility(mapengine.Visible, fillID, outlineID)
	for _, id := range []string{fillID, outlineID} {
		if b.m.HasLayer(id) {
			id := id
			mapengine.BestEffort(&b.rec, "move layer "+id, func() error { return b.m.MoveLayer(id, "") })
		}
	}

	if !h.FitBounds {
		return
	}
	if bound, ok := GeometryBounds(f.Geometry); ok {
		b.m.FitBounds(bound, mapengine.CameraOptions{Padding: h.Padding, MaxZoom: h.MaxZoom})
	}
}

// ClearSelectedCountry empties the highlight overlay and hides it.
func (b *Binding) ClearSelectedCountry() {
	src := SelectedSourceName(b.mapID)
	if b.m.HasSource(src) {
		mapengine.BestEffort(&b.rec, "clear "+src, func() error {
			return b.m.SetSourceData(src, geojson.NewFeatureCollection())
		})
	}
	b.setVisibility(mapengine.Hidden, SelectedFillName(b.mapID), SelectedOutlineName(b.mapID))
}
