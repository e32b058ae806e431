package visibility

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-incidents/internal/geodata"
	"github.com/joeblew999/plat-incidents/internal/layers"
	"github.com/joeblew999/plat-incidents/internal/mapengine"
	"github.com/joeblew999/plat-incidents/internal/mapengine/memengine"
	"github.com/joeblew999/plat-incidents/internal/prefs"
	"github.com/joeblew999/plat-incidents/internal/schedule"
)

type fixedSource struct {
	fc   *geojson.FeatureCollection
	err  error
	gate chan struct{}
}

func (s fixedSource) Name() string { return "fixed" }

func (s fixedSource) Fetch(ctx context.Context) (*geojson.FeatureCollection, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return s.fc, s.err
}

func countries() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()
	f := geojson.NewFeature(orb.Polygon{{{0, 40}, {5, 40}, {5, 50}, {0, 50}, {0, 40}}})
	f.Properties[geodata.PropID] = 1
	f.Properties[geodata.PropSlug] = "france"
	f.Properties[geodata.PropISO] = "FR"
	fc.Append(f)
	return fc
}

type recorder struct {
	mu     sync.Mutex
	events []string
	data   []map[string]any
}

func (r *recorder) Emit(event string, data map[string]any) {
	r.mu.Lock()
	r.events = append(r.events, event)
	r.data = append(r.data, data)
	r.mu.Unlock()
}

func (r *recorder) count(event string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if e == event {
			n++
		}
	}
	return n
}

type rig struct {
	c      *Controller
	store  *geodata.Store
	sched  *schedule.Manual
	prefs  *prefs.Memory
	doc    *memengine.Document
	events *recorder
	ctrl   ElementControl
}

func newRig(t *testing.T, src geodata.Source, tweak func(*Options)) *rig {
	t.Helper()
	r := &rig{
		store:  geodata.New(geodata.Options{Sources: []geodata.Source{src}, MaxAttempts: 1, RetryDelay: time.Millisecond}),
		sched:  schedule.NewManual(time.Unix(1_700_000_000, 0)),
		prefs:  prefs.NewMemory(),
		doc:    memengine.NewDocument(),
		events: &recorder{},
	}
	r.ctrl = ElementControl{El: r.doc.Root.Append(memengine.NewElement("input", "country-toggle"))}
	opts := Options{
		Data:     r.store,
		Prefs:    r.prefs,
		Document: r.doc,
		Control:  r.ctrl,
		Emitter:  r.events,
		Sched:    r.sched,
	}
	if tweak != nil {
		tweak(&opts)
	}
	r.c = New(opts)
	t.Cleanup(r.c.Close)
	return r
}

func loadedRig(t *testing.T, tweak func(*Options)) *rig {
	t.Helper()
	r := newRig(t, fixedSource{fc: countries()}, tweak)
	if _, err := r.store.Load(context.Background(), false); err != nil {
		t.Fatal(err)
	}
	return r
}

func (r *rig) newMap(t *testing.T, id string, loaded bool) (*memengine.Map, string) {
	t.Helper()
	container := r.doc.Root.Append(memengine.NewElement("div", "map-container"))
	container.SetID(id)
	m := memengine.New(container)
	if loaded {
		m.SetLoaded()
	}
	mapID, err := r.c.RegisterMap(m, nil)
	if err != nil {
		t.Fatal(err)
	}
	return m, mapID
}

func (r *rig) stored(t *testing.T) (string, bool) {
	t.Helper()
	v, ok, err := r.prefs.Get(context.Background(), prefs.ToggleKey)
	if err != nil {
		t.Fatal(err)
	}
	return v, ok
}

func addIncidentLayers(t *testing.T, m *memengine.Map) {
	t.Helper()
	if err := m.AddSource("incidents", mapengine.SourceSpec{Type: "geojson", Cluster: true}); err != nil {
		t.Fatal(err)
	}
	for _, id := range []string{"clusters", "cluster-count", "unclustered-point", "incident-line-5", "basemap-roads"} {
		if err := m.AddLayer(mapengine.Layer{ID: id, Source: "incidents"}); err != nil {
			t.Fatal(err)
		}
	}
}

func (r *rig) addMarker(display string, data map[string]string) *memengine.Element {
	el := r.doc.Root.Append(memengine.NewElement("div", MarkerClass))
	if display != "" {
		el.SetComputed("display", display)
	}
	for k, v := range data {
		el.SetData(k, v)
	}
	return el
}

func TestTogglePersistenceRoundTrip(t *testing.T) {
	r := loadedRig(t, nil)
	ctx := context.Background()
	r.newMap(t, "map-a", true)

	if err := r.c.Toggle(ctx, true, ToggleOptions{Persist: true}); err != nil {
		t.Fatal(err)
	}
	if v, _ := r.stored(t); v != prefs.On {
		t.Fatalf("stored=%q, want on", v)
	}
	if err := r.c.Toggle(ctx, false, ToggleOptions{Persist: true}); err != nil {
		t.Fatal(err)
	}
	if v, _ := r.stored(t); v != prefs.Off {
		t.Fatalf("stored=%q, want off", v)
	}
	r.c.Toggle(ctx, true, ToggleOptions{})
	if v, _ := r.stored(t); v != prefs.Off {
		t.Fatalf("non-persisting toggle wrote %q", v)
	}
	if !r.c.State() || !r.ctrl.Checked() || r.ctrl.Label() != DefaultLabels().Visible {
		t.Fatalf("state=%v checked=%v label=%q", r.c.State(), r.ctrl.Checked(), r.ctrl.Label())
	}
	if n := r.events.count(EventToggled); n != 3 {
		t.Fatalf("toggle events=%d, want 3", n)
	}
}

func TestToggleCountryLayersPersists(t *testing.T) {
	r := loadedRig(t, nil)
	r.c.ToggleCountryLayers(context.Background(), true)
	if v, _ := r.stored(t); v != prefs.On {
		t.Fatalf("stored=%q", v)
	}
}

func TestForceVisibleOverride(t *testing.T) {
	r := loadedRig(t, func(o *Options) { o.ForceVisible = true })
	r.c.Toggle(context.Background(), false, ToggleOptions{Persist: true})
	if !r.c.State() {
		t.Fatal("force visible did not coerce show")
	}
	if _, ok := r.stored(t); ok {
		t.Fatal("force visible persisted state")
	}
}

func TestPendingStateAppliedOnSourceAttach(t *testing.T) {
	r := loadedRig(t, nil)
	m, id := r.newMap(t, "map-a", false)

	r.c.Toggle(context.Background(), true, ToggleOptions{})
	if got := r.c.PendingStates(); len(got) != 1 || !got[id] {
		t.Fatalf("pending=%v", got)
	}
	if m.HasLayer(layers.FillLayerName(id)) {
		t.Fatal("layers created before the source")
	}

	m.SetLoaded()

	if got := r.c.PendingStates(); len(got) != 0 {
		t.Fatalf("pending after attach=%v", got)
	}
	count := 0
	for _, l := range m.StyleLayers() {
		if l == layers.FillLayerName(id) {
			count++
		}
	}
	if count != 1 || !m.IsVisible(layers.FillLayerName(id)) {
		t.Fatalf("fill layers=%d visible=%v", count, m.IsVisible(layers.FillLayerName(id)))
	}
}

func TestApplyToggleStateParksWithoutSource(t *testing.T) {
	r := loadedRig(t, nil)
	m, id := r.newMap(t, "map-a", false)
	r.c.ApplyToggleState(id, m, true)
	if got := r.c.PendingStates(); !got[id] {
		t.Fatalf("pending=%v", got)
	}
	if !r.c.SetupCountrySource(id) {
		t.Fatal("SetupCountrySource failed")
	}
	if _, ok := r.c.PendingStates()[id]; ok {
		t.Fatal("pending entry not removed")
	}
	if !m.IsVisible(layers.FillLayerName(id)) {
		t.Fatal("queued state not applied")
	}
}

func TestToggleBeforeDataIsReplayed(t *testing.T) {
	r := newRig(t, fixedSource{fc: countries()}, nil)
	m, id := r.newMap(t, "map-a", true)

	r.c.Toggle(context.Background(), true, ToggleOptions{Persist: true})
	r.c.Wait()

	if _, ok := r.c.PendingToggle(); ok {
		t.Fatal("pending toggle not consumed")
	}
	if !r.c.State() {
		t.Fatal("replayed toggle not applied")
	}
	if v, _ := r.stored(t); v != prefs.On {
		t.Fatalf("stored=%q, want on", v)
	}
	if !m.IsVisible(layers.FillLayerName(id)) {
		t.Fatal("country layers not shown after load")
	}
}

func TestToggleBeforeFailedLoadIsDropped(t *testing.T) {
	r := newRig(t, fixedSource{err: errors.New("offline")}, nil)
	r.newMap(t, "map-a", true)

	r.c.Toggle(context.Background(), true, ToggleOptions{Persist: true})
	r.c.Wait()

	if _, ok := r.c.PendingToggle(); ok {
		t.Fatal("pending toggle kept after failed load")
	}
	if r.c.State() {
		t.Fatal("state changed without data")
	}
	if _, ok := r.stored(t); ok {
		t.Fatal("state persisted without data")
	}
}

func TestInitResolutionOrder(t *testing.T) {
	ctx := context.Background()

	r := loadedRig(t, nil)
	r.prefs.Set(ctx, prefs.ToggleKey, prefs.On)
	r.ctrl.SetChecked(false)
	if !r.c.Init(ctx) {
		t.Fatal("stored value should win")
	}

	r = loadedRig(t, nil)
	r.prefs.Set(ctx, prefs.ToggleKey, "maybe")
	r.ctrl.SetChecked(true)
	if !r.c.Init(ctx) {
		t.Fatal("malformed stored value should fall through to the control")
	}
	if _, ok := r.stored(t); !ok {
		t.Fatal("init must not clear storage")
	}
	if v, _ := r.stored(t); v != "maybe" {
		t.Fatal("init must not persist")
	}

	r = loadedRig(t, func(o *Options) { o.Control = nil })
	if r.c.Init(ctx) {
		t.Fatal("default should be country layers off")
	}
}

func TestIncidentLayersFollowToggle(t *testing.T) {
	r := loadedRig(t, nil)
	ctx := context.Background()
	container := r.doc.Root.Append(memengine.NewElement("div"))
	m := memengine.New(container)
	addIncidentLayers(t, m)
	m.SetLoaded()
	id, _ := r.c.RegisterMap(container, nil)

	// Registered while hidden: incidents forced visible.
	for _, l := range []string{"clusters", "cluster-count", "unclustered-point", "incident-line-5"} {
		if !m.IsVisible(l) {
			t.Fatalf("%s hidden while country layers are off", l)
		}
	}

	r.c.Toggle(ctx, true, ToggleOptions{})
	for _, l := range []string{"clusters", "cluster-count", "unclustered-point", "incident-line-5"} {
		if m.IsVisible(l) {
			t.Fatalf("%s visible while country layers are on", l)
		}
	}
	if !m.IsVisible("basemap-roads") {
		t.Fatal("unrelated layer touched")
	}
	if v, _ := m.PaintProperty("unclustered-point", "circle-opacity"); v != 0 {
		t.Fatalf("unclustered opacity=%v, want 0", v)
	}

	r.c.Toggle(ctx, false, ToggleOptions{})
	if !m.IsVisible("clusters") || m.IsVisible(layers.FillLayerName(id)) {
		t.Fatal("toggle off did not swap layers back")
	}
	if v, _ := m.PaintProperty("unclustered-point", "circle-opacity"); v != 0 {
		t.Fatalf("unclustered opacity=%v after show, want 0", v)
	}
	if r.events.count(EventIncidentLayers) == 0 {
		t.Fatal("no incident visibility events")
	}
}

func TestIncidentLayerRetryBounded(t *testing.T) {
	r := loadedRig(t, nil)
	m := memengine.New(nil)
	id, _ := r.c.RegisterMap(m, nil)

	if r.c.ToggleIncidentLayers(true, id, m) {
		t.Fatal("reported success with no layers")
	}
	if st, left := r.c.retry.State(layerRetryPrefix + id); st != schedule.Waiting || left != LayerRetryAttempts-1 {
		t.Fatalf("state=%v left=%d", st, left)
	}
	r.sched.Advance(time.Duration(LayerRetryAttempts) * RetryInterval)
	if st, _ := r.c.retry.State(layerRetryPrefix + id); st != schedule.GaveUp {
		t.Fatalf("state=%v, want gave-up", st)
	}
}

func TestIncidentLayerRetryAppliesWhenLayersAppear(t *testing.T) {
	r := loadedRig(t, nil)
	m := memengine.New(nil)
	id, _ := r.c.RegisterMap(m, nil)

	r.c.ToggleIncidentLayers(false, id, m)
	r.sched.Advance(2 * RetryInterval)
	addIncidentLayers(t, m)
	r.sched.Advance(RetryInterval)

	if st, _ := r.c.retry.State(layerRetryPrefix + id); st != schedule.Applied {
		t.Fatalf("state=%v, want applied", st)
	}
	if m.IsVisible("clusters") {
		t.Fatal("clusters not hidden by retry")
	}
}

func TestIdlePokesRetry(t *testing.T) {
	r := loadedRig(t, nil)
	m := memengine.New(nil)
	id, _ := r.c.RegisterMap(m, nil)

	r.c.ToggleIncidentLayers(false, id, m)
	addIncidentLayers(t, m)
	m.Idle()
	if st, _ := r.c.retry.State(layerRetryPrefix + id); st != schedule.Applied {
		t.Fatalf("state=%v, want applied on idle", st)
	}
}

func TestRetryTrackerReplacedNotStacked(t *testing.T) {
	r := loadedRig(t, nil)
	m := memengine.New(nil)
	id, _ := r.c.RegisterMap(m, nil)
	before := r.sched.Pending()

	r.c.ToggleIncidentLayers(true, id, m)
	r.c.ToggleIncidentLayers(true, id, m)
	r.c.ToggleIncidentLayers(false, id, m)
	if got := r.sched.Pending() - before; got != 1 {
		t.Fatalf("pending timers=%d, want 1", got)
	}
}

func TestMarkerElementsRestoreOriginalDisplay(t *testing.T) {
	r := loadedRig(t, nil)
	point := r.addMarker("inline-block", nil)
	line := r.addMarker("", map[string]string{GeometryTypeData: "line"})

	if !r.c.ToggleMarkerElements(false) {
		t.Fatal("no markers found")
	}
	if point.ComputedStyle("display") != "none" {
		t.Fatal("marker not hidden")
	}
	if v, _ := point.Data(OriginalDisplayData); v != "inline-block" {
		t.Fatalf("original display=%q", v)
	}
	if line.Style("display") != "" {
		t.Fatal("geometry overlay toggled")
	}

	r.c.ToggleMarkerElements(false)
	if v, _ := point.Data(OriginalDisplayData); v != "inline-block" {
		t.Fatal("original display overwritten on second hide")
	}

	r.c.ToggleMarkerElements(true)
	if got := point.ComputedStyle("display"); got != "inline-block" {
		t.Fatalf("display=%q, want inline-block", got)
	}
}

func TestMarkerRetryUntilMarkersExist(t *testing.T) {
	r := loadedRig(t, nil)
	if r.c.ToggleMarkerElements(false) {
		t.Fatal("reported success with no markers")
	}
	r.sched.Advance(4 * RetryInterval)
	el := r.addMarker("block", nil)
	r.sched.Advance(RetryInterval)
	if el.ComputedStyle("display") != "none" {
		t.Fatal("late marker not hidden by retry")
	}
	if st, _ := r.c.retry.State(markerKey); st != schedule.Applied {
		t.Fatalf("state=%v", st)
	}

	r2 := loadedRig(t, nil)
	r2.c.ToggleMarkerElements(false)
	r2.sched.Advance(time.Duration(MarkerRetryAttempts) * RetryInterval)
	if st, _ := r2.c.retry.State(markerKey); st != schedule.GaveUp {
		t.Fatalf("state=%v, want gave-up", st)
	}
}

func TestMarkerSurfaceRegistry(t *testing.T) {
	r := loadedRig(t, nil)
	detached := memengine.NewElement("div")
	r.c.RegisterMarkerSurface(MarkerRegistryFunc(func() []mapengine.Element {
		return []mapengine.Element{detached}
	}))
	inDoc := r.addMarker("", nil)
	r.c.RegisterMarkerSurface(MarkerRegistryFunc(func() []mapengine.Element {
		return []mapengine.Element{inDoc}
	}))
	if got := len(r.c.MarkerElements()); got != 2 {
		t.Fatalf("marker elements=%d, want 2 (deduplicated)", got)
	}
	r.c.ToggleMarkerElements(false)
	if detached.Style("display") != "none" {
		t.Fatal("registry marker not toggled")
	}
}

func TestDebouncedMarkerToggleLatestWins(t *testing.T) {
	r := loadedRig(t, nil)
	el := r.addMarker("block", nil)

	r.c.ToggleMarkerElementsDebounced(false)
	if el.ComputedStyle("display") != "none" {
		t.Fatal("leading call not applied immediately")
	}
	r.sched.Advance(100 * time.Millisecond)
	r.c.ToggleMarkerElementsDebounced(false)
	r.c.ToggleMarkerElementsDebounced(true)
	r.sched.Advance(299 * time.Millisecond)
	if el.ComputedStyle("display") != "none" {
		t.Fatal("coalesced call ran before the quiet period")
	}
	r.sched.Advance(time.Millisecond)
	if el.ComputedStyle("display") != "block" {
		t.Fatalf("display=%q, want latest (show) applied", el.ComputedStyle("display"))
	}
}

func TestForceShowRetriesStaggered(t *testing.T) {
	r := loadedRig(t, nil)
	m, id := r.newMap(t, "map-a", true)

	r.c.Toggle(context.Background(), true, ToggleOptions{})
	r.sched.Advance(time.Second)

	r.c.Toggle(context.Background(), false, ToggleOptions{})
	el := r.addMarker("block", nil)
	el.SetStyle("display", "none")
	el.SetData(OriginalDisplayData, "flex")

	r.sched.Advance(200 * time.Millisecond)
	if got := el.ComputedStyle("display"); got != "flex" {
		t.Fatalf("display=%q after staggered attempt, want flex", got)
	}
	if m.IsVisible(layers.FillLayerName(id)) {
		t.Fatal("country layers visible while incidents shown")
	}
}

func TestApplyShowStopsForceShow(t *testing.T) {
	r := loadedRig(t, nil)
	m, id := r.newMap(t, "map-a", true)
	addIncidentLayers(t, m)
	el := r.addMarker("block", nil)

	// Registered while off, so force-show attempts are still scheduled.
	r.c.ApplyToggleState(id, m, true)
	r.sched.Advance(1100 * time.Millisecond)

	if m.IsVisible("clusters") {
		t.Fatal("clusters visible after country layers were shown")
	}
	if got := el.Style("display"); got != "none" {
		t.Fatalf("marker display=%q, want none", got)
	}
	if !m.IsVisible(layers.FillLayerName(id)) {
		t.Fatal("country fill hidden")
	}
}

func TestEmitterMayToggle(t *testing.T) {
	var c *Controller
	toggled := make(chan bool, 1)
	emitter := EmitterFunc(func(event string, data map[string]any) {
		if event != EventIncidentLayers {
			return
		}
		select {
		case toggled <- true:
			c.Toggle(context.Background(), false, ToggleOptions{})
		default:
		}
	})
	r := loadedRig(t, func(o *Options) { o.Emitter = emitter })
	c = r.c
	m, _ := r.newMap(t, "map-a", true)
	addIncidentLayers(t, m)

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.c.Toggle(context.Background(), false, ToggleOptions{})
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("toggle deadlocked on a re-entrant listener")
	}
	if len(toggled) != 1 {
		t.Fatal("listener never saw incident layers")
	}
}

func TestToggleCancelsRetries(t *testing.T) {
	r := loadedRig(t, nil)
	m := memengine.New(nil)
	id, _ := r.c.RegisterMap(m, nil)
	r.c.ToggleIncidentLayers(false, id, m)

	// The map has no source yet, so the toggle only parks its state.
	r.c.Toggle(context.Background(), true, ToggleOptions{})
	if st, _ := r.c.retry.State(layerRetryPrefix + id); st != schedule.Idle {
		t.Fatalf("state=%v, want idle after toggle", st)
	}
	addIncidentLayers(t, m)
	r.sched.Advance(time.Duration(LayerRetryAttempts) * RetryInterval)
	if !m.IsVisible("clusters") {
		t.Fatal("stale retry applied after toggle")
	}
}

func TestRegisterMapIDs(t *testing.T) {
	r := loadedRig(t, nil)
	_, a := r.newMap(t, "map-a", false)
	if a != "map-a" {
		t.Fatalf("id=%q, want container id", a)
	}
	_, dup := r.newMap(t, "map-a", false)
	if dup == "map-a" || dup == "" {
		t.Fatalf("duplicate container id reused: %q", dup)
	}

	bare := memengine.New(nil)
	id, err := r.c.RegisterMap(bare, nil)
	if err != nil || id == "" || bare.ContainerElement().ID() != id {
		t.Fatalf("generated id=%q container=%q err=%v", id, bare.ContainerElement().ID(), err)
	}
	again, _ := r.c.RegisterMap(bare.ContainerElement(), nil)
	if again != id {
		t.Fatalf("re-register id=%q, want %q", again, id)
	}
	if _, err := r.c.RegisterMap("not a map", nil); err == nil {
		t.Fatal("expected error for unresolvable handle")
	}
	if got := r.c.MapIDs(); len(got) != 3 || got[0] != "map-a" {
		t.Fatalf("ids=%v", got)
	}
}

func TestSelectionParkedUntilData(t *testing.T) {
	gate := make(chan struct{})
	r := newRig(t, fixedSource{fc: countries(), gate: gate}, nil)
	m, id := r.newMap(t, "map-a", true)

	if r.c.SetSelectedCountry("fr") {
		t.Fatal("selection resolved before data")
	}
	if key, ok := r.c.PendingSelection(); !ok || key != "fr" {
		t.Fatalf("pending selection=%v,%v", key, ok)
	}
	close(gate)
	r.c.Wait()

	if _, ok := r.c.PendingSelection(); ok {
		t.Fatal("pending selection not consumed")
	}
	if _, f := r.c.SelectedCountry(); f == nil || f.Properties[geodata.PropSlug] != "france" {
		t.Fatalf("selected=%v", f)
	}
	if !m.HasLayer(layers.SelectedFillName(id)) {
		t.Fatal("highlight layer missing")
	}

	r.c.ClearSelectedCountry()
	if m.IsVisible(layers.SelectedFillName(id)) {
		t.Fatal("highlight visible after clear")
	}
	if key, f := r.c.SelectedCountry(); key != nil || f != nil {
		t.Fatal("selection not cleared")
	}
}

func TestSelectionByAnyKey(t *testing.T) {
	r := loadedRig(t, nil)
	r.newMap(t, "map-a", true)
	for _, key := range []any{1, "1", "FRANCE", "fr", map[string]any{"slug": "france"}, geodata.CountryRef{ISO: "Fr"}} {
		if !r.c.SetSelectedCountry(key) {
			t.Fatalf("SetSelectedCountry(%#v) failed", key)
		}
	}
	if r.c.SetSelectedCountry("atlantis") {
		t.Fatal("unknown country selected")
	}
	if _, ok := r.c.PendingSelection(); ok {
		t.Fatal("unknown key parked although data is loaded")
	}
}

func TestUnknownSelectionClearsHighlight(t *testing.T) {
	r := loadedRig(t, nil)
	m, id := r.newMap(t, "map-a", true)
	if !r.c.SetSelectedCountry("fr") || !m.IsVisible(layers.SelectedFillName(id)) {
		t.Fatal("france not highlighted")
	}
	if r.c.SetSelectedCountry("atlantis") {
		t.Fatal("unknown country selected")
	}
	if m.IsVisible(layers.SelectedFillName(id)) {
		t.Fatal("previous highlight still drawn")
	}
}

func TestStyleReloadReattaches(t *testing.T) {
	r := loadedRig(t, nil)
	m, id := r.newMap(t, "map-a", true)
	r.c.Toggle(context.Background(), true, ToggleOptions{})

	m.ReloadStyle()
	if !m.HasSource(layers.SourceName(id)) || !m.IsVisible(layers.FillLayerName(id)) {
		t.Fatal("country layers not restored after style reload")
	}
}
