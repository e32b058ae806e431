package session

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-incidents/internal/cluster"
	"github.com/joeblew999/plat-incidents/internal/geodata"
	"github.com/joeblew999/plat-incidents/internal/layers"
	"github.com/joeblew999/plat-incidents/internal/mapengine"
	"github.com/joeblew999/plat-incidents/internal/mapengine/memengine"
	"github.com/joeblew999/plat-incidents/internal/popup"
	"github.com/joeblew999/plat-incidents/internal/prefs"
	"github.com/joeblew999/plat-incidents/internal/schedule"
	"github.com/joeblew999/plat-incidents/internal/visibility"
)

type countriesSource struct{}

func (countriesSource) Name() string { return "test" }

func (countriesSource) Fetch(context.Context) (*geojson.FeatureCollection, error) {
	fc := geojson.NewFeatureCollection()
	f := geojson.NewFeature(orb.Polygon{{{0, 40}, {5, 40}, {5, 50}, {0, 50}, {0, 40}}})
	f.Properties[geodata.PropID] = 1
	f.Properties[geodata.PropName] = "France"
	f.Properties[geodata.PropSlug] = "france"
	f.Properties[geodata.PropISO] = "FR"
	fc.Append(f)
	return fc, nil
}

type page struct {
	s     *Session
	sched *schedule.Manual
	prefs *prefs.Memory
	m     *memengine.Map
	id    string
}

func newPage(t *testing.T, markers ...*memengine.Marker) *page {
	t.Helper()
	doc := memengine.NewDocument()
	p := &page{sched: schedule.NewManual(time.Unix(1_700_000_000, 0)), prefs: prefs.NewMemory()}
	p.s = New(Config{
		Sources: []geodata.Source{countriesSource{}},
		Counts: geodata.CountsFunc(func(context.Context) (geodata.Counts, error) {
			return geodata.Counts{ByID: map[string]int{"1": 12}}, nil
		}),
		Summaries: popup.SummaryFunc(func(_ context.Context, id string, _ int) (*popup.Summary, error) {
			return &popup.Summary{Total: 2, Types: []popup.TypeCount{{Name: "Protest", Slug: "protest", Count: 2}}}, nil
		}),
		Prefs:    p.prefs,
		Document: doc,
		Sched:    p.sched,
	})
	t.Cleanup(p.s.Close)

	container := doc.Root.Append(memengine.NewElement("div", "map-container"))
	container.SetID("incident-map")
	p.m = memengine.New(container)
	p.m.SetLoaded()
	p.m.SetView(orb.Point{2, 46}, 16)

	ms := make([]mapengine.Marker, len(markers))
	for i, mk := range markers {
		ms[i] = mk
	}
	id, err := p.s.AddMap(p.m, ms)
	if err != nil {
		t.Fatal(err)
	}
	p.id = id
	return p
}

func newMarker(lng, lat float64) *memengine.Marker {
	return memengine.NewMarker(orb.Point{lng, lat}, memengine.NewElement("div", visibility.MarkerClass))
}

func TestPageLifecycle(t *testing.T) {
	ctx := context.Background()
	mk := newMarker(2.35, 48.85)
	p := newPage(t, mk)

	if p.s.Start(ctx) {
		t.Fatal("country layers should start hidden")
	}
	p.s.Wait()

	if !p.m.HasSource(layers.SourceName(p.id)) {
		t.Fatal("country source not attached after load")
	}
	if f := p.s.Data.FindCountryFeature("fr"); geodata.IncidentCount(f) != 12 {
		t.Fatalf("merged count=%d, want 12", geodata.IncidentCount(f))
	}
	p.m.Idle()
	if !mk.Attached() {
		t.Fatal("unclustered marker not attached on idle")
	}
	if !p.m.IsVisible(cluster.LayerClusters) {
		t.Fatal("clusters hidden while country layers are off")
	}

	if err := p.s.Visibility.ToggleCountryLayers(ctx, true); err != nil {
		t.Fatal(err)
	}
	if !p.m.IsVisible(layers.FillLayerName(p.id)) || p.m.IsVisible(cluster.LayerClusters) {
		t.Fatal("toggle did not swap layers")
	}
	if got := mk.Element().ComputedStyle("display"); got != "none" {
		t.Fatalf("marker display=%q, want none", got)
	}
	if v, _, _ := p.prefs.Get(ctx, prefs.ToggleKey); v != prefs.On {
		t.Fatalf("stored=%q", v)
	}

	p.m.Fire(mapengine.Event{
		Type:     mapengine.EventClick,
		Layer:    layers.FillLayerName(p.id),
		Features: []*geojson.Feature{{Type: "Feature", Properties: geojson.Properties{geodata.PropID: 1}}},
	})
	p.s.Wait()
	pops := p.m.Popups()
	if len(pops) != 1 {
		t.Fatalf("popups=%d, want 1", len(pops))
	}
	if html := pops[0].HTML(); !strings.Contains(html, "France") || !strings.Contains(html, "2 incidents") {
		t.Fatalf("popup html=%s", html)
	}
	if p.m.ScrollZoom().IsEnabled() {
		t.Fatal("scroll zoom enabled with popup open")
	}
	p.s.Popups.Close()
	if !p.m.ScrollZoom().IsEnabled() {
		t.Fatal("scroll zoom not restored")
	}
}

func TestMarkersAddedWhileCountriesShown(t *testing.T) {
	ctx := context.Background()
	p := newPage(t, newMarker(1, 1))
	p.s.Start(ctx)
	p.s.Wait()
	p.s.Visibility.ToggleCountryLayers(ctx, true)

	late := newMarker(3, 3)
	if err := p.s.AddMarkers(p.id, late); err != nil {
		t.Fatal(err)
	}
	p.sched.Advance(visibility.DebounceWindow)

	if got := late.Element().ComputedStyle("display"); got != "none" {
		t.Fatalf("late marker display=%q, want none", got)
	}
	if p.m.IsVisible(cluster.LayerClusters) {
		t.Fatal("rebuilt cluster layer visible while country layers shown")
	}
	ix, _ := p.s.Cluster(p.id)
	if got := len(ix.Markers()); got != 2 {
		t.Fatalf("markers=%d, want 2", got)
	}
}

func TestAddMapTwiceAndUnknownMap(t *testing.T) {
	p := newPage(t)
	again, err := p.s.AddMap(p.m.ContainerElement(), nil)
	if err != nil || again != p.id {
		t.Fatalf("id=%q err=%v, want %q", again, err, p.id)
	}
	if _, err := p.s.AddMap(42, nil); err == nil {
		t.Fatal("expected error for non-map")
	}
	if err := p.s.AddMarkers("nope", newMarker(0, 0)); err == nil {
		t.Fatal("expected error for unknown map")
	}
}
