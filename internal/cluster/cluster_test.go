package cluster

import (
	"testing"

	"github.com/paulmach/orb"

	"github.com/joeblew999/plat-incidents/internal/mapengine"
	"github.com/joeblew999/plat-incidents/internal/mapengine/memengine"
)

func marker(lng, lat float64) *memengine.Marker {
	return memengine.NewMarker(orb.Point{lng, lat}, memengine.NewElement("div", "incident-marker"))
}

func markers(ms ...*memengine.Marker) []mapengine.Marker {
	out := make([]mapengine.Marker, len(ms))
	for i, m := range ms {
		out[i] = m
	}
	return out
}

func newMap() *memengine.Map {
	m := memengine.New(nil)
	m.SetLoaded()
	m.SetView(orb.Point{0, 0}, 16)
	return m
}

func TestMarkerKeyExact(t *testing.T) {
	if got := MarkerKey(orb.Point{2.35, 48.8566}); got != "2.3548.8566" {
		t.Fatalf("key=%q", got)
	}
	if MarkerKey(orb.Point{1, 2}) == MarkerKey(orb.Point{1.0000001, 2}) {
		t.Fatal("keys must not use a tolerance")
	}
}

func TestReconcileExactAndIdempotent(t *testing.T) {
	m := newMap()
	a, b, c := marker(10, 10), marker(20, 20), marker(30, 30)
	ix := New(m, Options{})
	ix.SetMarkers(markers(a, b, c))
	ix.SetMapData()

	m.Idle()
	if got := ix.Active(); len(got) != 3 {
		t.Fatalf("active=%v, want 3", got)
	}

	// Only A and B remain in view.
	m.SetViewport(&orb.Bound{Min: orb.Point{0, 0}, Max: orb.Point{25, 25}})
	m.Idle()
	if got := ix.Active(); len(got) != 2 || got[0] != MarkerKey(a.LngLat()) || got[1] != MarkerKey(b.LngLat()) {
		t.Fatalf("active=%v, want A and B", got)
	}
	if c.Attached() || !a.Attached() || !b.Attached() {
		t.Fatalf("attached a=%v b=%v c=%v", a.Attached(), b.Attached(), c.Attached())
	}
	if n := len(m.Markers()); n != 2 {
		t.Fatalf("map markers=%d, want 2", n)
	}

	m.Idle()
	if n := len(m.Markers()); n != 2 {
		t.Fatalf("second pass changed markers: %d", n)
	}
}

func TestReconcileDropsStaleMarkers(t *testing.T) {
	m := newMap()
	a, b := marker(10, 10), marker(20, 20)
	ix := New(m, Options{})
	ix.SetMarkers(markers(a, b))
	ix.SetMapData()
	m.Idle()

	a2 := marker(10, 10)
	ix.SetMarkers(markers(a2))
	ix.SetMapData()
	m.Idle()

	if a.Attached() || b.Attached() {
		t.Fatalf("stale markers attached: a=%v b=%v", a.Attached(), b.Attached())
	}
	if !a2.Attached() {
		t.Fatal("replacement marker not attached")
	}
	if got := ix.Active(); len(got) != 1 {
		t.Fatalf("active=%v", got)
	}
}

func TestLaterMarkerWinsForSameKey(t *testing.T) {
	m := newMap()
	first, second := marker(5, 5), marker(5, 5)
	ix := New(m, Options{})
	ix.SetMarkers(markers(first, second))
	if got := len(ix.Points().Features); got != 1 {
		t.Fatalf("points=%d, want 1", got)
	}
	ix.SetMapData()
	m.Idle()
	if first.Attached() || !second.Attached() {
		t.Fatal("most recent marker for the key should be attached")
	}
}

func TestClusteredMarkersStayDetached(t *testing.T) {
	m := newMap()
	a, b := marker(10, 10), marker(10.001, 10.001)
	ix := New(m, Options{})
	ix.SetMarkers(markers(a, b))
	ix.SetMapData()

	m.SetView(orb.Point{10, 10}, 4)
	m.Idle()
	if len(ix.Active()) != 0 {
		t.Fatalf("clustered markers attached: %v", ix.Active())
	}

	m.SetView(orb.Point{10, 10}, 16)
	m.Idle()
	if len(ix.Active()) != 2 {
		t.Fatalf("active after zoom in=%v", ix.Active())
	}
}

func TestSetMapDataIsRepeatable(t *testing.T) {
	container := memengine.NewElement("div", "map-widget")
	container.SetData(ColorData, "#123456")
	m := memengine.New(container)
	ix := New(m, Options{})
	ix.SetMarkers(markers(marker(1, 1)))
	ix.SetMapData()
	ix.SetMapData()

	if err := ix.LastError(); err != nil {
		t.Fatalf("LastError=%v", err)
	}
	if n := m.Handlers(mapengine.EventIdle, ""); n != 1 {
		t.Fatalf("idle handlers=%d, want 1", n)
	}
	if v, _ := m.PaintProperty(LayerClusters, "circle-color"); v != "#123456" {
		t.Fatalf("cluster color=%v", v)
	}
	if v, _ := m.PaintProperty(LayerUnclustered, "circle-opacity"); v != 0 {
		t.Fatalf("unclustered opacity=%v, want 0", v)
	}
}

func TestClusterClickEasesToExpansionZoom(t *testing.T) {
	m := newMap()
	ix := New(m, Options{})
	ix.SetMarkers(markers(marker(10, 10), marker(10.01, 10.01)))
	ix.SetMapData()
	m.SetView(orb.Point{0, 0}, 3)

	feats := m.QueryRenderedFeatures(LayerClusters)
	if len(feats) != 1 {
		t.Fatalf("clusters=%d, want 1", len(feats))
	}
	m.Fire(mapengine.Event{Type: mapengine.EventClick, Layer: LayerClusters, Features: feats})

	cams := m.Cameras()
	if len(cams) != 1 || cams[0].Kind != "ease" || cams[0].Zoom <= 3 {
		t.Fatalf("cameras=%+v", cams)
	}
}

func TestMarkerElementsIncludeDetached(t *testing.T) {
	m := newMap()
	a, b := marker(10, 10), marker(20, 20)
	ix := New(m, Options{})
	ix.SetMarkers(markers(a, b))
	if got := len(ix.MarkerElements()); got != 2 {
		t.Fatalf("elements=%d, want 2 before any reconcile", got)
	}
}
