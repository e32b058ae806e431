package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-incidents/internal/geodata"
	"github.com/joeblew999/plat-incidents/internal/layers"
	"github.com/joeblew999/plat-incidents/internal/logger"
	"github.com/joeblew999/plat-incidents/internal/mapengine"
	"github.com/joeblew999/plat-incidents/internal/mapengine/memengine"
	"github.com/joeblew999/plat-incidents/internal/prefs"
	"github.com/joeblew999/plat-incidents/internal/schedule"
	"github.com/joeblew999/plat-incidents/internal/session"
	"github.com/joeblew999/plat-incidents/internal/visibility"
)

type simulateOptions struct {
	BaseURL   string
	Nonce     string
	StyleFile string
	Show      string // "on", "off" or empty to keep the initial state
	Click     string // country key to click after toggling
	Timeout   time.Duration
	Prefs     prefs.Store // defaults to the server's preferences API
}

// simulate loads one headless page against a server, applies the requested
// toggle and click, and reports what the page ends up showing.
func simulate(ctx context.Context, o simulateOptions, w io.Writer) error {
	style, err := layers.LoadStyleFile(o.StyleFile)
	if err != nil {
		return err
	}
	store := o.Prefs
	if store == nil {
		store = &prefs.HTTP{BaseURL: o.BaseURL}
	}

	var mu sync.Mutex
	printf := func(format string, args ...any) {
		mu.Lock()
		defer mu.Unlock()
		fmt.Fprintf(w, format, args...)
	}

	doc := memengine.NewDocument()
	toggle := doc.Root.Append(memengine.NewElement("input", "country-layers-toggle"))
	container := doc.Root.Append(memengine.NewElement("div", "map-container"))
	container.SetID("incident-map-" + uuid.NewString()[:8])

	s := session.New(session.Config{
		BaseURL:   o.BaseURL,
		StaticURL: strings.TrimRight(o.BaseURL, "/") + "/static",
		Nonce:     o.Nonce,
		Style:     &style,
		Prefs:     store,
		Document:  doc,
		Control:   visibility.ElementControl{El: toggle},
		Emitter: visibility.EmitterFunc(func(event string, data map[string]any) {
			printf("event  %s %v\n", event, data)
		}),
		Sched:  schedule.Real{},
		Logger: logger.L(),
	})
	defer s.Close()

	m := memengine.New(container)
	m.SetLoaded()
	m.SetView(orb.Point{0, 20}, 2)
	mapID, err := s.AddMap(m, nil)
	if err != nil {
		return err
	}

	shown := s.Start(ctx)
	s.Wait()
	printf("start  map=%s country_layers=%v\n", mapID, shown)

	if o.Show != "" {
		on, ok := prefs.ParseToggle(o.Show)
		if !ok {
			return fmt.Errorf("--show must be %q or %q, got %q", prefs.On, prefs.Off, o.Show)
		}
		if err := s.Visibility.ToggleCountryLayers(ctx, on); err != nil {
			printf("warn   toggle not persisted: %v\n", err)
		}
		s.Wait()
	}

	if o.Click != "" {
		f := s.Data.FindCountryFeature(o.Click)
		if f == nil {
			return fmt.Errorf("country %q not found", o.Click)
		}
		m.Fire(mapengine.Event{
			Type:     mapengine.EventClick,
			Layer:    layers.FillLayerName(mapID),
			LngLat:   f.Geometry.Bound().Center(),
			Features: []*geojson.Feature{f},
		})
		s.Wait()
		pops := m.Popups()
		if len(pops) == 0 {
			printf("popup  none (country layers hidden?)\n")
		}
		for _, p := range pops {
			printf("popup  %s\n", p.HTML())
		}
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	report(s, m, mapID, printf)
	return nil
}

func report(s *session.Session, m *memengine.Map, mapID string, printf func(string, ...any)) {
	countries := 0
	withIncidents := 0
	if fc := s.Data.Data(); fc != nil {
		countries = len(fc.Features)
		for _, f := range fc.Features {
			if geodata.IncidentCount(f) > 0 {
				withIncidents++
			}
		}
	}
	printf("state  country_layers=%v countries=%d with_incidents=%d\n",
		s.Visibility.State(), countries, withIncidents)
	for _, id := range m.StyleLayers() {
		printf("layer  %-32s visible=%v\n", id, m.IsVisible(id))
	}
	if key, _ := s.Visibility.SelectedCountry(); key != nil {
		printf("select %v\n", key)
	}
}
