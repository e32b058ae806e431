// Package cluster binds a set of DOM point markers to a clustered map
// source and keeps the attached markers in step with what the renderer
// draws as individual points.
package cluster

import (
	"log/slog"
	"sort"
	"strconv"
	"sync"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-incidents/internal/logger"
	"github.com/joeblew999/plat-incidents/internal/mapengine"
	"github.com/joeblew999/plat-incidents/internal/metrics"
)

// Layer ids owned by an Index.
const (
	LayerClusters     = "clusters"
	LayerClusterCount = "cluster-count"
	LayerUnclustered  = "unclustered-point"
)

// KeyProperty is the only property carried by each point feature.
const KeyProperty = "marker_key"

// ColorData is the container data attribute overriding the cluster color.
const ColorData = "cluster-color"

// Options configures an Index.
type Options struct {
	SourceID       string
	ClusterMaxZoom int
	ClusterRadius  int
	ClusterColor   string
	Logger         *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.SourceID == "" {
		o.SourceID = "incidents"
	}
	if o.ClusterMaxZoom <= 0 {
		o.ClusterMaxZoom = 14
	}
	if o.ClusterRadius <= 0 {
		o.ClusterRadius = 50
	}
	if o.ClusterColor == "" {
		o.ClusterColor = "#51bbd6"
	}
	return o
}

// Index is the clustering binding for one map.
type Index struct {
	m    mapengine.Map
	opts Options
	log  *slog.Logger
	rec  mapengine.ErrorRecorder

	mu      sync.Mutex
	markers map[string]mapengine.Marker
	order   []string
	points  *geojson.FeatureCollection
	active  map[string]mapengine.Marker
	subs    []mapengine.Subscription
}

// New returns an Index for m with no markers.
func New(m mapengine.Map, opts Options) *Index {
	opts = opts.withDefaults()
	return &Index{
		m:       m,
		opts:    opts,
		log:     logger.Or(opts.Logger),
		markers: make(map[string]mapengine.Marker),
		points:  geojson.NewFeatureCollection(),
		active:  make(map[string]mapengine.Marker),
	}
}

// MarkerKey is the exact identity of a marker position.
func MarkerKey(p orb.Point) string {
	return strconv.FormatFloat(p.Lon(), 'f', -1, 64) + strconv.FormatFloat(p.Lat(), 'f', -1, 64)
}

// SetMarkers replaces the marker set. A later marker wins over an earlier
// one with the same key. Markers from the previous set are detached by the
// next Reconcile.
func (ix *Index) SetMarkers(markers []mapengine.Marker) {
	byKey := make(map[string]mapengine.Marker, len(markers))
	var order []string
	for _, mk := range markers {
		if mk == nil {
			continue
		}
		k := MarkerKey(mk.LngLat())
		if _, seen := byKey[k]; !seen {
			order = append(order, k)
		}
		byKey[k] = mk
	}

	fc := geojson.NewFeatureCollection()
	for _, k := range order {
		f := geojson.NewFeature(byKey[k].LngLat())
		f.Properties[KeyProperty] = k
		fc.Append(f)
	}

	ix.mu.Lock()
	ix.markers = byKey
	ix.order = order
	ix.points = fc
	ix.mu.Unlock()
}

// Markers returns the current marker set in first-seen key order.
func (ix *Index) Markers() []mapengine.Marker {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make([]mapengine.Marker, 0, len(ix.order))
	for _, k := range ix.order {
		out = append(out, ix.markers[k])
	}
	return out
}

// MarkerElements returns the element of every known marker, attached or
// not, so visibility toggling reaches markers clustering has detached.
func (ix *Index) MarkerElements() []mapengine.Element {
	markers := ix.Markers()
	out := make([]mapengine.Element, 0, len(markers))
	for _, mk := range markers {
		if el := mk.Element(); el != nil {
			out = append(out, el)
		}
	}
	return out
}

// Points returns the point collection built by the last SetMarkers.
func (ix *Index) Points() *geojson.FeatureCollection {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	return ix.points
}

// SetMapData tears down and re-adds the clustered source and its three
// layers, then subscribes reconciliation to idle and zoom-in to cluster
// clicks.
func (ix *Index) SetMapData() {
	ix.mu.Lock()
	points := ix.points
	subs := ix.subs
	ix.subs = nil
	ix.mu.Unlock()

	for _, s := range subs {
		s.Off()
	}
	ix.teardown()

	src := ix.opts.SourceID
	color := ix.clusterColor()
	mapengine.BestEffort(&ix.rec, "add source "+src, func() error {
		return ix.m.AddSource(src, mapengine.SourceSpec{
			Type:           "geojson",
			Data:           points,
			Cluster:        true,
			ClusterMaxZoom: ix.opts.ClusterMaxZoom,
			ClusterRadius:  ix.opts.ClusterRadius,
		})
	})
	for _, l := range []mapengine.Layer{
		{
			ID:     LayerClusters,
			Type:   "circle",
			Source: src,
			Filter: mapengine.Has("point_count"),
			Paint: map[string]any{
				"circle-color":        color,
				"circle-radius":       mapengine.Step(mapengine.Get("point_count"), 15, 10, 20, 50, 25),
				"circle-stroke-width": 1,
				"circle-stroke-color": "#fff",
			},
		},
		{
			ID:     LayerClusterCount,
			Type:   "symbol",
			Source: src,
			Filter: mapengine.Has("point_count"),
			Layout: map[string]any{
				"text-field": mapengine.Get("point_count_abbreviated"),
				"text-size":  12,
			},
		},
		{
			ID:     LayerUnclustered,
			Type:   "circle",
			Source: src,
			Filter: mapengine.Not(mapengine.Has("point_count")),
			Paint: map[string]any{
				"circle-radius":  1,
				"circle-opacity": 0,
			},
		},
	} {
		l := l
		mapengine.BestEffort(&ix.rec, "add layer "+l.ID, func() error { return ix.m.AddLayer(l) })
	}

	idle := ix.m.On(mapengine.EventIdle, "", mapengine.Guard(ix.log, "cluster reconcile", func(mapengine.Event) {
		ix.Reconcile()
	}))
	click := ix.m.On(mapengine.EventClick, LayerClusters, mapengine.Guard(ix.log, "cluster click", ix.ClusterClick))

	ix.mu.Lock()
	ix.subs = []mapengine.Subscription{idle, click}
	ix.mu.Unlock()
}

func (ix *Index) teardown() {
	for _, id := range []string{LayerClusterCount, LayerClusters, LayerUnclustered} {
		if ix.m.HasLayer(id) {
			id := id
			mapengine.BestEffort(&ix.rec, "remove layer "+id, func() error { return ix.m.RemoveLayer(id) })
		}
	}
	if ix.m.HasSource(ix.opts.SourceID) {
		mapengine.BestEffort(&ix.rec, "remove source", func() error { return ix.m.RemoveSource(ix.opts.SourceID) })
	}
}

func (ix *Index) clusterColor() string {
	if c, ok := mapengine.ClosestData(ix.m.Container(), ColorData); ok && c != "" {
		return c
	}
	return ix.opts.ClusterColor
}

// Reconcile detaches every active marker no longer rendered as an
// individual point, or replaced by a newer marker with the same key, and
// attaches every rendered marker not yet active. It is idempotent.
func (ix *Index) Reconcile() {
	rendered := make(map[string]bool)
	for _, f := range ix.m.QueryRenderedFeatures(LayerUnclustered) {
		if k, ok := f.Properties[KeyProperty].(string); ok {
			rendered[k] = true
		}
	}

	var detach, attach []mapengine.Marker
	ix.mu.Lock()
	for k, mk := range ix.active {
		if !rendered[k] || ix.markers[k] != mk {
			detach = append(detach, mk)
			delete(ix.active, k)
		}
	}
	for k := range rendered {
		if _, ok := ix.active[k]; ok {
			continue
		}
		if mk, ok := ix.markers[k]; ok {
			attach = append(attach, mk)
			ix.active[k] = mk
		}
	}
	ix.mu.Unlock()

	for _, mk := range detach {
		mk.Remove()
	}
	for _, mk := range attach {
		mk.AddTo(ix.m)
	}
	if len(detach) > 0 {
		metrics.ReconcileOpsTotal.WithLabelValues("detach").Add(float64(len(detach)))
	}
	if len(attach) > 0 {
		metrics.ReconcileOpsTotal.WithLabelValues("attach").Add(float64(len(attach)))
		ix.log.Debug("cluster_reconcile", "attached", len(attach), "detached", len(detach))
	}
}

// ClusterClick eases the camera to the clicked cluster at its expansion zoom.
func (ix *Index) ClusterClick(ev mapengine.Event) {
	feats := ev.Features
	if len(feats) == 0 {
		feats = ix.m.QueryRenderedFeatures(LayerClusters)
	}
	for _, f := range feats {
		id, ok := mapengine.ToFloat(f.Properties["cluster_id"])
		if !ok {
			continue
		}
		center, ok := f.Geometry.(orb.Point)
		if !ok {
			continue
		}
		var zoom float64
		if !mapengine.BestEffort(&ix.rec, "cluster expansion zoom", func() error {
			z, err := ix.m.ClusterExpansionZoom(ix.opts.SourceID, int(id))
			zoom = z
			return err
		}) {
			return
		}
		ix.m.EaseTo(center, zoom)
		return
	}
}

// Active returns the keys of attached markers, sorted.
func (ix *Index) Active() []string {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	out := make([]string, 0, len(ix.active))
	for k := range ix.active {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// LastError returns the last renderer error swallowed by the Index.
func (ix *Index) LastError() error { return ix.rec.Last() }
