package visibility

import (
	"strings"

	"github.com/joeblew999/plat-incidents/internal/cluster"
	"github.com/joeblew999/plat-incidents/internal/mapengine"
	"github.com/joeblew999/plat-incidents/internal/schedule"
)

// Marker element conventions.
const (
	MarkerClass         = "incident-marker"
	GeometryTypeData    = "geometry-type"
	OriginalDisplayData = "original-display"
)

// Per-post incident layer id prefixes.
var incidentLayerPrefixes = []string{"incident-line-", "incident-polygon-", "incident-outline-"}

// IsIncidentLayer reports whether a style layer id belongs to the incident
// display.
func IsIncidentLayer(id string) bool {
	switch id {
	case cluster.LayerClusters, cluster.LayerClusterCount, cluster.LayerUnclustered:
		return true
	}
	for _, p := range incidentLayerPrefixes {
		if strings.HasPrefix(id, p) {
			return true
		}
	}
	return false
}

// ToggleIncidentLayers sets the visibility of every incident layer on m.
// When none exist yet it keeps retrying, LayerRetryAttempts times
// RetryInterval apart, on one tracker per map; the map's idle event
// triggers an attempt early. It reports whether the layers were found now.
func (c *Controller) ToggleIncidentLayers(show bool, mapID string, v any) bool {
	m, ok := mapengine.Resolve(v)
	if !ok {
		return false
	}
	st := c.retry.Start(layerRetryPrefix+mapID, LayerRetryAttempts, RetryInterval, func() bool {
		return c.applyIncidentLayers(show, mapID, m)
	})
	return st == schedule.Applied
}

func (c *Controller) applyIncidentLayers(show bool, mapID string, m mapengine.Map) bool {
	vis := mapengine.Hidden
	if show {
		vis = mapengine.Visible
	}
	var rec mapengine.ErrorRecorder
	found := 0
	for _, id := range m.StyleLayers() {
		if !IsIncidentLayer(id) {
			continue
		}
		found++
		id := id
		mapengine.BestEffort(&rec, "visibility "+id, func() error {
			return m.SetLayoutProperty(id, mapengine.Visibility, vis)
		})
		if id == cluster.LayerUnclustered {
			// Hit-test only: never painted, whatever its visibility.
			mapengine.BestEffort(&rec, "opacity "+id, func() error {
				return m.SetPaintProperty(id, "circle-opacity", 0)
			})
		}
	}
	if err := rec.Last(); err != nil {
		c.log.Debug("visibility_incident_layers_partial", "map", mapID, "err", err)
	}
	if found == 0 {
		return false
	}
	c.emit(EventIncidentLayers, map[string]any{"mapId": mapID, "visible": show})
	return true
}

// ToggleIncidentLayersDebounced coalesces calls per map inside DebounceWindow;
// the latest show wins.
func (c *Controller) ToggleIncidentLayersDebounced(show bool, mapID string, v any) schedule.CancelFunc {
	return c.deb.Call(mapID, func() { c.ToggleIncidentLayers(show, mapID, v) })
}

// ToggleMarkerElements shows or hides every point marker element, from the
// registered surfaces and the page. Hiding records each element's display
// once so showing restores it. Line and polygon overlays are skipped. With
// no markers yet it retries MarkerRetryAttempts times RetryInterval apart.
func (c *Controller) ToggleMarkerElements(show bool) bool {
	st := c.retry.Start(markerKey, MarkerRetryAttempts, RetryInterval, func() bool {
		return c.applyMarkerElements(show)
	})
	return st == schedule.Applied
}

// ToggleMarkerElementsDebounced coalesces marker toggles inside DebounceWindow.
func (c *Controller) ToggleMarkerElementsDebounced(show bool) schedule.CancelFunc {
	return c.deb.Call(markerKey, func() { c.ToggleMarkerElements(show) })
}

// MarkerElements returns every known point marker element, deduplicated.
func (c *Controller) MarkerElements() []mapengine.Element {
	c.mu.Lock()
	surfaces := append([]MarkerRegistry(nil), c.surfaces...)
	c.mu.Unlock()

	seen := make(map[mapengine.Element]bool)
	var out []mapengine.Element
	add := func(el mapengine.Element) {
		if el == nil || seen[el] || isGeometryOverlay(el) {
			return
		}
		seen[el] = true
		out = append(out, el)
	}
	for _, s := range surfaces {
		for _, el := range s.MarkerElements() {
			add(el)
		}
	}
	if c.opts.Document != nil {
		for _, el := range c.opts.Document.QueryAllByClass(MarkerClass) {
			add(el)
		}
	}
	return out
}

func isGeometryOverlay(el mapengine.Element) bool {
	t, ok := el.Data(GeometryTypeData)
	if !ok {
		return false
	}
	t = strings.ToLower(t)
	return strings.Contains(t, "line") || strings.Contains(t, "polygon")
}

func (c *Controller) applyMarkerElements(show bool) bool {
	els := c.MarkerElements()
	if len(els) == 0 {
		return false
	}
	for _, el := range els {
		if show {
			if orig, ok := el.Data(OriginalDisplayData); ok {
				el.SetStyle("display", orig)
			} else if el.Style("display") == "none" {
				el.SetStyle("display", "")
			}
			continue
		}
		if _, ok := el.Data(OriginalDisplayData); !ok {
			d := el.ComputedStyle("display")
			if d == "none" {
				d = ""
			}
			el.SetData(OriginalDisplayData, d)
		}
		el.SetStyle("display", "none")
	}
	c.log.Debug("visibility_markers", "visible", show, "count", len(els))
	return true
}

// forceShowIncidents shows incident layers and markers now and again at
// ForceShowDelays, stopping at the first attempt that finds markers.
func (c *Controller) forceShowIncidents(mapID string, m mapengine.Map) {
	c.stopForceShow(mapID)

	stop := schedule.Staggered(c.sched, ForceShowDelays, func(int) bool {
		layersOK := c.ToggleIncidentLayers(true, mapID, m)
		markersOK := c.ToggleMarkerElements(true)
		return layersOK && markersOK
	})

	c.mu.Lock()
	c.staggers[mapID] = stop
	c.mu.Unlock()
}

// stopForceShow cancels the force-show runs and the incident retries of
// mapID, so a later show of country layers is not undone by them.
func (c *Controller) stopForceShow(mapID string) {
	c.mu.Lock()
	stop, ok := c.staggers[mapID]
	delete(c.staggers, mapID)
	c.mu.Unlock()
	if ok {
		stop()
	}
	c.retry.Cancel(layerRetryPrefix + mapID)
	c.retry.Cancel(markerKey)
}
