// Package popup shows the incident summary for a clicked country in a map
// popup: loading state first, then the ranked type table, an empty note
// or a failure note.
package popup

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-incidents/internal/geodata"
	"github.com/joeblew999/plat-incidents/internal/logger"
	"github.com/joeblew999/plat-incidents/internal/mapengine"
	"github.com/joeblew999/plat-incidents/internal/metrics"
	"github.com/joeblew999/plat-incidents/internal/templates"
)

// Defaults for Options.
const (
	DefaultLimit         = 10
	DefaultContentHeight = "260px"
	DefaultClassName     = "country-incidents-popup"
	DefaultMaxWidth      = "340px"
)

var errNoClient = errors.New("popup: no summary client")

// Options configures a Presenter.
type Options struct {
	Client        SummaryClient
	Renderer      *templates.Renderer
	Limit         int
	ClassName     string
	MaxWidth      string
	ContentHeight string
	Logger        *slog.Logger
}

// Presenter keeps at most one popup open across all maps. Scroll zoom is
// disabled on the map while its popup is open and enabled again exactly
// once when it closes, however it closes.
type Presenter struct {
	opts Options
	log  *slog.Logger
	wg   sync.WaitGroup

	mu  sync.Mutex
	cur *openPopup
}

type openPopup struct {
	m      mapengine.Map
	p      mapengine.Popup
	cancel context.CancelFunc
	once   sync.Once
}

// View is the data the popup fragments render.
type View struct {
	Name      string
	Total     int
	Types     []TypeCount
	Incidents []IncidentEntry
}

// ViewOf picks the fragment for a summary fetch result and builds its data.
func ViewOf(name string, s *Summary, err error) (tmpl string, v View) {
	v = View{Name: name}
	switch {
	case err != nil:
		return templates.PopupError, v
	case s == nil || (s.Total == 0 && len(s.Incidents) == 0):
		return templates.PopupEmpty, v
	}
	v.Total = s.Total
	v.Types = RankTypes(s.Types)
	v.Incidents = s.Incidents
	return templates.PopupSummary, v
}

func New(opts Options) *Presenter {
	if opts.Renderer == nil {
		opts.Renderer = templates.Default()
	}
	if opts.Limit <= 0 {
		opts.Limit = DefaultLimit
	}
	if opts.ClassName == "" {
		opts.ClassName = DefaultClassName
	}
	if opts.MaxWidth == "" {
		opts.MaxWidth = DefaultMaxWidth
	}
	if opts.ContentHeight == "" {
		opts.ContentHeight = DefaultContentHeight
	}
	return &Presenter{opts: opts, log: logger.Or(opts.Logger)}
}

// HandleCountryClick opens the popup for f on the map the click fired on.
// It has the shape of layers.CountryClickFunc.
func (p *Presenter) HandleCountryClick(ev mapengine.Event, f *geojson.Feature) {
	if ev.Target == nil {
		return
	}
	if _, err := p.Open(context.Background(), ev.Target, f); err != nil {
		p.log.Debug("popup_open_failed", "err", err)
	}
}

// Open closes any open popup, then shows a loading popup for f at the
// map's current center and fetches its summary in the background.
func (p *Presenter) Open(ctx context.Context, m mapengine.Map, f *geojson.Feature) (mapengine.Popup, error) {
	if m == nil || f == nil {
		return nil, errors.New("popup: map and feature are required")
	}
	id, ok := geodata.IDOf(f)
	if !ok {
		return nil, fmt.Errorf("popup: feature has no %s", geodata.PropID)
	}
	name := countryName(f)
	html, err := p.opts.Renderer.Render(templates.PopupLoading, View{Name: name})
	if err != nil {
		return nil, fmt.Errorf("render loading: %w", err)
	}

	p.Close()

	m.ScrollZoom().Disable()
	pop := m.NewPopup(mapengine.PopupOptions{
		CloseButton: true,
		MaxWidth:    p.opts.MaxWidth,
		ClassName:   p.opts.ClassName,
	})
	pop.SetLngLat(m.Center()).SetHTML(html)

	fctx, cancel := context.WithCancel(ctx)
	o := &openPopup{m: m, p: pop, cancel: cancel}
	p.mu.Lock()
	p.cur = o
	p.mu.Unlock()

	pop.OnClose(func() { p.closed(o) })
	pop.AddTo(m)
	p.fixHeight(pop)

	p.wg.Add(1)
	go p.fetch(fctx, o, id, name)
	return pop, nil
}

// Close closes the open popup, if any.
func (p *Presenter) Close() {
	p.mu.Lock()
	o := p.cur
	p.cur = nil
	p.mu.Unlock()
	if o == nil {
		return
	}
	o.p.Remove()
	p.closed(o)
}

// Current returns the open popup.
func (p *Presenter) Current() (mapengine.Popup, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		return nil, false
	}
	return p.cur.p, true
}

// Wait blocks until every summary fetch started so far has finished.
func (p *Presenter) Wait() { p.wg.Wait() }

// UpdateScroll refreshes the scroll indicators of the open popup. Call it
// from the content's scroll handler.
func (p *Presenter) UpdateScroll() ScrollState {
	pop, ok := p.Current()
	if !ok {
		return ScrollState{}
	}
	st := ScrollStateOf(contentOf(pop))
	st.Apply(pop.Element())
	return st
}

func (p *Presenter) closed(o *openPopup) {
	o.once.Do(func() {
		o.cancel()
		o.m.ScrollZoom().Enable()
		p.mu.Lock()
		if p.cur == o {
			p.cur = nil
		}
		p.mu.Unlock()
	})
}

func (p *Presenter) isCurrent(o *openPopup) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cur == o
}

func (p *Presenter) fetch(ctx context.Context, o *openPopup, id, name string) {
	defer p.wg.Done()

	var (
		s   *Summary
		err = errNoClient
	)
	if p.opts.Client != nil {
		s, err = p.opts.Client.Summary(ctx, id, p.opts.Limit)
	}
	if ctx.Err() != nil {
		metrics.PopupFetchTotal.WithLabelValues("cancelled").Inc()
		return
	}

	tmpl, v := ViewOf(name, s, err)
	outcome := "ok"
	switch tmpl {
	case templates.PopupError:
		outcome = "error"
		p.log.Warn("popup_fetch_failed", "country", id, "err", err)
	case templates.PopupEmpty:
		outcome = "empty"
	}
	metrics.PopupFetchTotal.WithLabelValues(outcome).Inc()

	html, rerr := p.opts.Renderer.Render(tmpl, v)
	if rerr != nil {
		p.log.Warn("popup_render_failed", "template", tmpl, "err", rerr)
		return
	}
	if !p.isCurrent(o) || !o.p.IsOpen() {
		return
	}
	o.p.SetHTML(html)
	p.UpdateScroll()
}

// fixHeight pins the content box so long tables scroll inside the popup.
func (p *Presenter) fixHeight(pop mapengine.Popup) {
	el := contentOf(pop)
	if el == nil {
		return
	}
	el.SetStyle("height", p.opts.ContentHeight)
	el.SetStyle("max-height", p.opts.ContentHeight)
	el.SetStyle("overflow-y", "auto")
}

func contentOf(pop mapengine.Popup) mapengine.Element {
	root := pop.Element()
	if root == nil {
		return nil
	}
	if found := mapengine.FindByClass(root, mapengine.PopupContentClass); len(found) > 0 {
		return found[0]
	}
	return root
}

func countryName(f *geojson.Feature) string {
	if n := f.Properties.MustString(geodata.PropName, ""); n != "" {
		return n
	}
	return f.Properties.MustString(geodata.PropSlug, "")
}
