// Package session wires one page's components together: the country
// dataset, the visibility controller, a cluster index per map and the
// country popup.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/joeblew999/plat-incidents/internal/cluster"
	"github.com/joeblew999/plat-incidents/internal/geodata"
	"github.com/joeblew999/plat-incidents/internal/layers"
	"github.com/joeblew999/plat-incidents/internal/logger"
	"github.com/joeblew999/plat-incidents/internal/mapengine"
	"github.com/joeblew999/plat-incidents/internal/popup"
	"github.com/joeblew999/plat-incidents/internal/prefs"
	"github.com/joeblew999/plat-incidents/internal/schedule"
	"github.com/joeblew999/plat-incidents/internal/visibility"
)

// Config describes the page. BaseURL is the backend serving the REST API;
// StaticURL, when set, serves countries.json and is tried first.
type Config struct {
	BaseURL      string
	StaticURL    string
	LastUpdated  string
	Nonce        string
	Simplified   bool
	ForceVisible bool
	PopupLimit   int
	Style        *layers.StyleOptions
	Cluster      cluster.Options
	Prefs        prefs.Store
	Document     mapengine.Document
	Control      visibility.Control
	Emitter      visibility.Emitter
	Sched        schedule.Scheduler
	HTTPClient   *http.Client
	Logger       *slog.Logger

	// Overrides for the HTTP-backed collaborators.
	Sources   []geodata.Source
	Counts    geodata.CountsProvider
	Summaries popup.SummaryClient
}

// Session is one page's worth of state.
type Session struct {
	Data       *geodata.Store
	Visibility *visibility.Controller
	Popups     *popup.Presenter

	cfg Config
	log *slog.Logger

	mu       sync.Mutex
	clusters map[string]*cluster.Index
	subs     []mapengine.Subscription
}

func New(cfg Config) *Session {
	log := logger.Or(cfg.Logger)

	sources := cfg.Sources
	if len(sources) == 0 {
		if cfg.StaticURL != "" {
			sources = append(sources, &geodata.StaticSource{BaseURL: cfg.StaticURL, LastUpdated: cfg.LastUpdated, Client: cfg.HTTPClient})
		}
		if cfg.BaseURL != "" {
			sources = append(sources, &geodata.RESTSource{BaseURL: cfg.BaseURL, Nonce: cfg.Nonce, Simplified: cfg.Simplified, Client: cfg.HTTPClient})
		}
	}
	counts := cfg.Counts
	if counts == nil && cfg.BaseURL != "" {
		counts = &geodata.RESTCounts{BaseURL: cfg.BaseURL, Nonce: cfg.Nonce, Client: cfg.HTTPClient}
	}
	summaries := cfg.Summaries
	if summaries == nil && cfg.BaseURL != "" {
		summaries = &popup.HTTPClient{BaseURL: cfg.BaseURL, Nonce: cfg.Nonce, Client: cfg.HTTPClient}
	}

	store := geodata.New(geodata.Options{Sources: sources, Counts: counts, Logger: log})
	pres := popup.New(popup.Options{Client: summaries, Limit: cfg.PopupLimit, Logger: log})
	ctrl := visibility.New(visibility.Options{
		Data:           store,
		Prefs:          cfg.Prefs,
		Document:       cfg.Document,
		Control:        cfg.Control,
		Emitter:        cfg.Emitter,
		Sched:          cfg.Sched,
		Style:          cfg.Style,
		ForceVisible:   cfg.ForceVisible,
		OnCountryClick: pres.HandleCountryClick,
		Logger:         log,
	})

	return &Session{
		Data:       store,
		Visibility: ctrl,
		Popups:     pres,
		cfg:        cfg,
		log:        log,
		clusters:   make(map[string]*cluster.Index),
	}
}

// Start resolves the initial toggle state, which also starts the dataset
// load, and reports it.
func (s *Session) Start(ctx context.Context) bool {
	return s.Visibility.Init(ctx)
}

// AddMap handles a map becoming ready: it registers the map and clusters
// its markers. Adding the same map again only returns its id.
func (s *Session) AddMap(v any, markers []mapengine.Marker) (string, error) {
	m, ok := mapengine.Resolve(v)
	if !ok {
		return "", fmt.Errorf("add map: cannot resolve %T to a map", v)
	}
	id, err := s.Visibility.RegisterMap(m, nil)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	if _, exists := s.clusters[id]; exists {
		s.mu.Unlock()
		return id, nil
	}
	ix := cluster.New(m, s.cfg.Cluster)
	s.clusters[id] = ix
	s.mu.Unlock()

	ix.SetMarkers(markers)
	s.Visibility.RegisterMarkerSurface(ix)

	sub := m.On(mapengine.EventStyleLoad, "", mapengine.Guard(s.log, "cluster style load", func(mapengine.Event) {
		s.refresh(id, m, ix)
	}))
	s.mu.Lock()
	s.subs = append(s.subs, sub)
	s.mu.Unlock()

	if m.StyleLoaded() {
		s.refresh(id, m, ix)
	}
	s.log.Info("session_map_added", "map", id, "markers", len(markers))
	return id, nil
}

// AddMarkers handles markers being added to a map after it was set up.
func (s *Session) AddMarkers(mapID string, markers ...mapengine.Marker) error {
	ix, ok := s.Cluster(mapID)
	if !ok {
		return fmt.Errorf("add markers: unknown map %q", mapID)
	}
	ix.SetMarkers(append(ix.Markers(), markers...))
	b, ok := s.Visibility.Binding(mapID)
	if !ok {
		return nil
	}
	if m := b.Map(); m.StyleLoaded() {
		s.refresh(mapID, m, ix)
	}
	return nil
}

// Cluster returns the cluster index of a map.
func (s *Session) Cluster(mapID string) (*cluster.Index, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ix, ok := s.clusters[mapID]
	return ix, ok
}

// refresh rebuilds the clustered source and brings the new incident layers
// and markers in line with the current toggle state.
func (s *Session) refresh(mapID string, m mapengine.Map, ix *cluster.Index) {
	ix.SetMapData()
	if s.Visibility.State() {
		s.Visibility.ToggleIncidentLayersDebounced(false, mapID, m)
		s.Visibility.ToggleMarkerElementsDebounced(false)
	}
}

// Wait blocks until dataset loads and popup fetches started so far finish.
func (s *Session) Wait() {
	s.Visibility.Wait()
	s.Popups.Wait()
}

// Close stops timers and background work and detaches event handlers.
func (s *Session) Close() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()
	for _, sub := range subs {
		sub.Off()
	}
	s.Popups.Close()
	s.Visibility.Close()
	s.Popups.Wait()
}
