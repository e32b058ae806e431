// Package visibility is the toggle state machine that keeps every map on a
// page consistent with the "show country layers" choice: country
// choropleth on one side, incident layers and DOM markers on the other.
//
// Maps, sources and markers become ready in any order. Requests that
// arrive early are parked (per-map pending state, a pending toggle while
// the dataset loads, a pending selection) and replayed on readiness;
// lookups that can only be polled use bounded retries that idle events
// can short-circuit.
package visibility

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-incidents/internal/geodata"
	"github.com/joeblew999/plat-incidents/internal/layers"
	"github.com/joeblew999/plat-incidents/internal/logger"
	"github.com/joeblew999/plat-incidents/internal/mapengine"
	"github.com/joeblew999/plat-incidents/internal/metrics"
	"github.com/joeblew999/plat-incidents/internal/prefs"
	"github.com/joeblew999/plat-incidents/internal/schedule"
)

// Events published through the Emitter.
const (
	EventToggled        = "country-layers-toggled"
	EventIncidentLayers = "incident-layers-visibility"
)

// Timing of debounced and retried toggling.
const (
	DebounceWindow      = 300 * time.Millisecond
	LayerRetryAttempts  = 15
	MarkerRetryAttempts = 20
	RetryInterval       = 250 * time.Millisecond
)

const (
	markerKey        = "markers"
	layerRetryPrefix = "layers:"
)

// ForceShowDelays are the compensating attempts made when incidents are
// shown, since markers may only appear after the next idle.
var ForceShowDelays = []time.Duration{0, 200 * time.Millisecond, 1000 * time.Millisecond}

// DataStore is the country dataset as the controller uses it.
type DataStore interface {
	Data() *geojson.FeatureCollection
	Load(ctx context.Context, force bool) (*geojson.FeatureCollection, error)
	OnLoad(fn geodata.LoadFunc) func()
	FindCountryFeature(key any) *geojson.Feature
}

// Options configures a Controller.
type Options struct {
	Data     DataStore
	Prefs    prefs.Store
	Document mapengine.Document
	Control  Control
	Labels   *Labels
	Emitter  Emitter
	Sched    schedule.Scheduler
	Style    *layers.StyleOptions
	// ForceVisible pins country layers on and disables persistence, as in
	// an editor preview.
	ForceVisible   bool
	OnCountryClick layers.CountryClickFunc
	Logger         *slog.Logger
}

// ToggleOptions tunes Toggle.
type ToggleOptions struct {
	Persist bool
}

type mapEntry struct {
	id        string
	m         mapengine.Map
	container mapengine.Element
	binding   *layers.Binding
	subs      []mapengine.Subscription
}

type pendingToggle struct {
	show    bool
	persist bool
}

// Controller orchestrates every registered map. Construct one per page.
type Controller struct {
	opts   Options
	log    *slog.Logger
	sched  schedule.Scheduler
	labels Labels
	deb    *schedule.Debouncer
	retry  *schedule.Retrier
	ctx    context.Context
	cancel context.CancelFunc
	unsub  func()
	wg     sync.WaitGroup

	toggleMu sync.Mutex

	emitMu  sync.Mutex
	holding bool
	held    []heldEvent

	mu              sync.Mutex
	maps            []*mapEntry
	byID            map[string]*mapEntry
	visible         bool
	pending         map[string]bool
	pendingToggle   *pendingToggle
	loading         bool
	surfaces        []MarkerRegistry
	staggers        map[string]schedule.CancelFunc
	selectedKey     any
	selected        *geojson.Feature
	pendingSelected any
}

// New returns a Controller subscribed to the dataset's load notifications.
func New(opts Options) *Controller {
	if opts.Sched == nil {
		opts.Sched = schedule.Real{}
	}
	labels := DefaultLabels()
	if opts.Labels != nil {
		labels = *opts.Labels
	}
	ctx, cancel := context.WithCancel(context.Background())
	c := &Controller{
		opts:     opts,
		log:      logger.Or(opts.Logger),
		sched:    opts.Sched,
		labels:   labels,
		deb:      schedule.NewDebouncer(opts.Sched, DebounceWindow),
		retry:    schedule.NewRetrier(opts.Sched),
		ctx:      ctx,
		cancel:   cancel,
		byID:     make(map[string]*mapEntry),
		pending:  make(map[string]bool),
		staggers: make(map[string]schedule.CancelFunc),
	}
	c.retry.OnGiveUp = func(key string) {
		kind := "layers"
		if key == markerKey {
			kind = "markers"
		}
		metrics.RetriesGaveUpTotal.WithLabelValues(kind).Inc()
		c.log.Debug("visibility_retry_gave_up", "key", key)
	}
	if opts.Data != nil {
		c.unsub = opts.Data.OnLoad(c.onDataLoaded)
	}
	return c
}

// Close cancels background loads and every timer, then waits for loads to
// return.
func (c *Controller) Close() {
	c.cancel()
	if c.unsub != nil {
		c.unsub()
	}
	c.deb.CancelAll()
	c.retry.CancelAll()
	c.mu.Lock()
	staggers := c.staggers
	c.staggers = make(map[string]schedule.CancelFunc)
	c.mu.Unlock()
	for _, stop := range staggers {
		stop()
	}
	c.wg.Wait()
}

// Wait blocks until background dataset loads started so far have returned.
func (c *Controller) Wait() { c.wg.Wait() }

// RegisterMap adds a map, given as a handle, a wrapper or its container
// element, and returns its id. The id is the container's DOM id when it
// has a free one, otherwise a generated token. Registering the same map
// again returns the existing id.
func (c *Controller) RegisterMap(v any, container mapengine.Element) (string, error) {
	m, ok := mapengine.Resolve(v)
	if !ok {
		return "", fmt.Errorf("register map: cannot resolve %T to a map", v)
	}
	if container == nil {
		container = m.Container()
	}

	c.mu.Lock()
	for _, e := range c.maps {
		if e.m == m {
			c.mu.Unlock()
			return e.id, nil
		}
	}
	id := ""
	if container != nil {
		id = container.ID()
	}
	if _, taken := c.byID[id]; id == "" || taken {
		id = uuid.NewString()
	}
	e := &mapEntry{id: id, m: m, container: container}
	c.maps = append(c.maps, e)
	c.byID[id] = e
	c.mu.Unlock()

	if container != nil && container.ID() == "" {
		container.SetID(id)
	}

	var resolve func(any) *geojson.Feature
	if c.opts.Data != nil {
		resolve = c.opts.Data.FindCountryFeature
	}
	b := layers.New(id, m, layers.Options{
		Style:   c.opts.Style,
		Resolve: resolve,
		OnClick: c.opts.OnCountryClick,
		Logger:  c.log,
	})

	setup := mapengine.Guard(c.log, "setup country source", func(mapengine.Event) {
		c.SetupCountrySource(id)
	})
	subs := []mapengine.Subscription{
		m.On(mapengine.EventLoad, "", setup),
		m.On(mapengine.EventStyleLoad, "", setup),
		m.On(mapengine.EventIdle, "", mapengine.Guard(c.log, "visibility idle", func(mapengine.Event) {
			c.retry.Poke(layerRetryPrefix + id)
			c.retry.Poke(markerKey)
		})),
	}

	c.mu.Lock()
	e.binding = b
	e.subs = subs
	c.mu.Unlock()

	c.log.Debug("visibility_map_registered", "map", id)
	if m.Loaded() || m.StyleLoaded() {
		c.SetupCountrySource(id)
	}
	return id, nil
}

// RegisterMarkerSurface adds a source of marker elements for ToggleMarkerElements.
func (c *Controller) RegisterMarkerSurface(r MarkerRegistry) {
	c.mu.Lock()
	c.surfaces = append(c.surfaces, r)
	c.mu.Unlock()
}

// MapIDs returns registered map ids in registration order.
func (c *Controller) MapIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.maps))
	for i, e := range c.maps {
		out[i] = e.id
	}
	return out
}

// Binding returns the layer binding for a map id.
func (c *Controller) Binding(mapID string) (*layers.Binding, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.byID[mapID]
	if !ok || e.binding == nil {
		return nil, false
	}
	return e.binding, true
}

func (c *Controller) entry(mapID string) *mapEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	e := c.byID[mapID]
	if e == nil || e.binding == nil {
		return nil
	}
	return e
}

func (c *Controller) entries() []*mapEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]*mapEntry, 0, len(c.maps))
	for _, e := range c.maps {
		if e.binding != nil {
			out = append(out, e)
		}
	}
	return out
}

// Init resolves the starting state from storage, then the control, then
// the default (country layers off), and applies it without persisting.
func (c *Controller) Init(ctx context.Context) bool {
	show, source := false, "default"
	if c.opts.Prefs != nil {
		v, ok, err := c.opts.Prefs.Get(ctx, prefs.ToggleKey)
		if err != nil {
			c.log.Warn("visibility_prefs_read_failed", "err", err)
		}
		if on, valid := prefs.ParseToggle(v); ok && valid {
			show, source = on, "stored"
		} else if c.opts.Control != nil {
			show, source = c.opts.Control.Checked(), "control"
		}
	} else if c.opts.Control != nil {
		show, source = c.opts.Control.Checked(), "control"
	}
	c.log.Info("visibility_init", "visible", show, "source", source, "force_visible", c.opts.ForceVisible)
	c.Toggle(ctx, show, ToggleOptions{})
	return c.State()
}

// Toggle switches every map to show (country layers) or hide them (and
// show incidents). It never blocks on the network: with no dataset yet the
// request is parked and replayed when the load finishes. The returned error
// only reports a failed persist; the state is applied regardless.
func (c *Controller) Toggle(ctx context.Context, show bool, opts ToggleOptions) error {
	if c.opts.ForceVisible {
		show, opts.Persist = true, false
	}

	c.toggleMu.Lock()
	c.holdEmits()

	c.deb.CancelAll()
	c.retry.CancelAll()
	c.mu.Lock()
	staggers := c.staggers
	c.staggers = make(map[string]schedule.CancelFunc)
	c.pending = make(map[string]bool)
	c.pendingToggle = nil
	c.mu.Unlock()
	for _, stop := range staggers {
		stop()
	}

	if c.opts.Data != nil && c.opts.Data.Data() == nil {
		c.mu.Lock()
		c.pendingToggle = &pendingToggle{show: show, persist: opts.Persist}
		c.mu.Unlock()
		c.toggleMu.Unlock()
		c.releaseEmits()
		c.log.Debug("visibility_toggle_parked", "visible", show)
		c.requestLoad(true)
		return nil
	}

	for _, e := range c.entries() {
		c.ApplyToggleState(e.id, e.m, show)
	}

	c.mu.Lock()
	c.visible = show
	c.mu.Unlock()
	if c.opts.Control != nil {
		c.opts.Control.SetChecked(show)
		c.opts.Control.SetLabel(c.labels.For(show))
	}

	var err error
	if opts.Persist && c.opts.Prefs != nil {
		if err = c.opts.Prefs.Set(ctx, prefs.ToggleKey, prefs.FormatToggle(show)); err != nil {
			c.log.Warn("visibility_persist_failed", "err", err)
			err = fmt.Errorf("persist toggle: %w", err)
		}
	}
	c.toggleMu.Unlock()
	c.releaseEmits()

	metrics.TogglesTotal.WithLabelValues(prefs.FormatToggle(show)).Inc()
	c.emit(EventToggled, map[string]any{"visible": show})
	return err
}

// ToggleCountryLayers is the entry point for external controls. It persists.
func (c *Controller) ToggleCountryLayers(ctx context.Context, show bool) error {
	return c.Toggle(ctx, show, ToggleOptions{Persist: true})
}

// State reports whether country layers are the visible primary state.
func (c *Controller) State() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.visible
}

// PendingStates returns a copy of the per-map states waiting for a source.
func (c *Controller) PendingStates() map[string]bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]bool, len(c.pending))
	for k, v := range c.pending {
		out[k] = v
	}
	return out
}

// PendingToggle returns the toggle parked while the dataset loads.
func (c *Controller) PendingToggle() (show, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.pendingToggle == nil {
		return false, false
	}
	return c.pendingToggle.show, true
}

// ApplyToggleState applies show to one map, or parks it when the map has
// no country source yet.
func (c *Controller) ApplyToggleState(mapID string, v any, show bool) {
	m, ok := mapengine.Resolve(v)
	if !ok {
		return
	}
	e := c.entry(mapID)
	if e == nil {
		return
	}
	if !e.binding.HasCountrySource() {
		c.mu.Lock()
		c.pending[mapID] = show
		c.mu.Unlock()
		metrics.PendingTogglesTotal.Inc()
		c.log.Debug("visibility_state_pending", "map", mapID, "visible", show)
		return
	}

	c.mu.Lock()
	delete(c.pending, mapID)
	c.mu.Unlock()

	if show {
		c.stopForceShow(mapID)
		e.binding.ShowCountryLayers()
		c.ToggleIncidentLayersDebounced(false, mapID, m)
		c.ToggleMarkerElementsDebounced(false)
		return
	}
	e.binding.HideCountryLayers()
	c.forceShowIncidents(mapID, m)
}

// SetupCountrySource attaches the dataset to a map and reapplies the state
// wanted for it: its pending state if one is parked, else the global one.
// Without a dataset it starts a load and reports false.
func (c *Controller) SetupCountrySource(mapID string) bool {
	e := c.entry(mapID)
	if e == nil {
		return false
	}
	var fc *geojson.FeatureCollection
	if c.opts.Data != nil {
		fc = c.opts.Data.Data()
	}
	if fc == nil {
		c.requestLoad(false)
		return false
	}
	if !e.binding.SetupSource(fc) {
		return false
	}

	c.mu.Lock()
	show, pending := c.pending[mapID]
	if !pending {
		show = c.visible
	}
	selected := c.selected
	c.mu.Unlock()

	c.ApplyToggleState(mapID, e.m, show)
	if selected != nil {
		e.binding.EnsureSelectedCountryLayers(selected)
	}
	return true
}

func (c *Controller) requestLoad(force bool) {
	if c.opts.Data == nil {
		return
	}
	c.mu.Lock()
	if c.loading && !force {
		c.mu.Unlock()
		return
	}
	c.loading = true
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		if _, err := c.opts.Data.Load(c.ctx, force); err != nil {
			c.log.Debug("visibility_load_returned", "force", force, "err", err)
		}
	}()
}

func (c *Controller) onDataLoaded(fc *geojson.FeatureCollection, err error) {
	c.mu.Lock()
	c.loading = false
	pt := c.pendingToggle
	c.pendingToggle = nil
	sel := c.pendingSelected
	c.pendingSelected = nil
	c.mu.Unlock()

	if err != nil || fc == nil {
		if pt != nil {
			c.log.Warn("visibility_pending_toggle_dropped", "visible", pt.show, "err", err)
		}
		if sel != nil {
			c.mu.Lock()
			if c.pendingSelected == nil {
				c.pendingSelected = sel
			}
			c.mu.Unlock()
		}
		return
	}

	for _, e := range c.entries() {
		c.SetupCountrySource(e.id)
	}
	if pt != nil {
		c.Toggle(c.ctx, pt.show, ToggleOptions{Persist: pt.persist})
	}
	if sel != nil {
		c.SetSelectedCountry(sel)
	}
}

// heldEvent is an emit queued while a toggle holds toggleMu, so listeners
// may call Toggle again.
type heldEvent struct {
	event string
	data  map[string]any
}

func (c *Controller) holdEmits() {
	c.emitMu.Lock()
	c.holding = true
	c.emitMu.Unlock()
}

// releaseEmits sends the events queued since holdEmits. Call it after
// toggleMu is released.
func (c *Controller) releaseEmits() {
	c.emitMu.Lock()
	held := c.held
	c.held, c.holding = nil, false
	c.emitMu.Unlock()
	for _, h := range held {
		c.emit(h.event, h.data)
	}
}

func (c *Controller) emit(event string, data map[string]any) {
	if c.opts.Emitter == nil {
		return
	}
	c.emitMu.Lock()
	if c.holding {
		c.held = append(c.held, heldEvent{event, data})
		c.emitMu.Unlock()
		return
	}
	c.emitMu.Unlock()
	defer func() {
		if p := recover(); p != nil {
			c.log.Debug("visibility_emit_failed", "event", event, "panic", p)
		}
	}()
	c.opts.Emitter.Emit(event, data)
}
