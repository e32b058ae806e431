package layers

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"sort"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/joeblew999/plat-incidents/internal/geodata"
	"github.com/joeblew999/plat-incidents/internal/mapengine"
)

// StyleData is the container data attribute carrying per-widget options
// as JSON.
const StyleData = "country-style"

// HighlightOptions styles the selected-country overlay.
type HighlightOptions struct {
	FillColor    string  `json:"fill_color" yaml:"fill_color"`
	FillOpacity  float64 `json:"fill_opacity" yaml:"fill_opacity"`
	ShowOutline  bool    `json:"show_outline" yaml:"show_outline"`
	OutlineColor string  `json:"outline_color" yaml:"outline_color"`
	OutlineWidth float64 `json:"outline_width" yaml:"outline_width"`
	FitBounds    bool    `json:"fit_bounds" yaml:"fit_bounds"`
	Padding      float64 `json:"padding" yaml:"padding"`
	MaxZoom      float64 `json:"max_zoom" yaml:"max_zoom"`
}

// StyleOptions styles the country choropleth and its highlight.
type StyleOptions struct {
	HasIncidentsColor        string    `json:"has_incidents_color" yaml:"has_incidents_color"`
	NoIncidentsColor         string    `json:"no_incidents_color" yaml:"no_incidents_color"`
	OutlineHasIncidentsColor string    `json:"outline_has_incidents_color" yaml:"outline_has_incidents_color"`
	OutlineNoIncidentsColor  string    `json:"outline_no_incidents_color" yaml:"outline_no_incidents_color"`
	OutlineWidthHasIncidents float64   `json:"outline_width_has_incidents" yaml:"outline_width_has_incidents"`
	OutlineWidthNoIncidents  float64   `json:"outline_width_no_incidents" yaml:"outline_width_no_incidents"`
	MinOpacity               float64   `json:"min_opacity" yaml:"min_opacity"`
	MaxOpacity               float64   `json:"max_opacity" yaml:"max_opacity"`
	Breakpoints              []float64 `json:"breakpoints" yaml:"breakpoints"`
	MaxIncidents             float64   `json:"max_incidents" yaml:"max_incidents"`

	Highlight HighlightOptions `json:"highlight" yaml:"highlight"`
}

// DefaultStyle returns the built-in options.
func DefaultStyle() StyleOptions {
	return StyleOptions{
		HasIncidentsColor:        "#dc3545",
		NoIncidentsColor:         "#6c757d",
		OutlineHasIncidentsColor: "#dc3545",
		OutlineNoIncidentsColor:  "#6c757d",
		OutlineWidthHasIncidents: 1.5,
		OutlineWidthNoIncidents:  0.5,
		MinOpacity:               0.15,
		MaxOpacity:               0.75,
		Breakpoints:              []float64{0, 1, 5, 10, 20},
		MaxIncidents:             50,
		Highlight: HighlightOptions{
			FillColor:    "#ffc107",
			FillOpacity:  0.35,
			ShowOutline:  true,
			OutlineColor: "#ff9800",
			OutlineWidth: 2,
			FitBounds:    true,
			Padding:      40,
			MaxZoom:      6,
		},
	}
}

// LoadStyleFile reads page-global options from a YAML file over the
// defaults. An empty path returns the defaults.
func LoadStyleFile(path string) (StyleOptions, error) {
	opts := DefaultStyle()
	if path == "" {
		return opts, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return opts, fmt.Errorf("read style file: %w", err)
	}
	if err := yaml.Unmarshal(data, &opts); err != nil {
		return DefaultStyle(), fmt.Errorf("parse style file %s: %w", path, err)
	}
	return opts.normalized(), nil
}

// ResolveStyle layers per-widget JSON found on container or an ancestor
// over global. A nil global means the defaults. Malformed widget JSON is
// ignored.
func ResolveStyle(container mapengine.Element, global *StyleOptions) StyleOptions {
	opts := DefaultStyle()
	if global != nil {
		opts = global.clone()
	}
	if container != nil {
		if raw, ok := mapengine.ClosestData(container, StyleData); ok && strings.TrimSpace(raw) != "" {
			widget := opts.clone()
			if err := json.Unmarshal([]byte(raw), &widget); err == nil {
				opts = widget
			}
		}
	}
	return opts.normalized()
}

func (o StyleOptions) clone() StyleOptions {
	o.Breakpoints = append([]float64(nil), o.Breakpoints...)
	return o
}

func (o StyleOptions) normalized() StyleOptions {
	o.MinOpacity = NormalizeOpacity(o.MinOpacity)
	o.MaxOpacity = NormalizeOpacity(o.MaxOpacity)
	if o.MaxOpacity < o.MinOpacity {
		o.MaxOpacity = o.MinOpacity
	}
	o.Highlight.FillOpacity = NormalizeOpacity(o.Highlight.FillOpacity)
	if o.MaxIncidents <= 0 {
		o.MaxIncidents = 50
	}
	return o
}

// NormalizeOpacity reads values above 1 as percentages and clamps to [0,1].
func NormalizeOpacity(v float64) float64 {
	if v > 1 {
		v /= 100
	}
	return math.Max(0, math.Min(1, v))
}

// NormalizeColor converts #RRGGBBAA to an rgba() string. Anything else is
// returned unchanged.
func NormalizeColor(c string) string {
	if len(c) != 9 || c[0] != '#' {
		return c
	}
	v, err := strconv.ParseUint(c[1:], 16, 32)
	if err != nil {
		return c
	}
	r, g, b, a := v>>24&0xff, v>>16&0xff, v>>8&0xff, v&0xff
	alpha := math.Round(float64(a)/255*1000) / 1000
	return fmt.Sprintf("rgba(%d, %d, %d, %s)", r, g, b, strconv.FormatFloat(alpha, 'f', -1, 64))
}

// OpacityStops maps the breakpoints, capped by MaxIncidents, evenly onto
// MinOpacity..MaxOpacity. The first stop is always 0 -> MinOpacity.
func (o StyleOptions) OpacityStops() []mapengine.Stop {
	bps := []float64{0}
	sorted := append([]float64(nil), o.Breakpoints...)
	sort.Float64s(sorted)
	for _, bp := range sorted {
		if bp > bps[len(bps)-1] && bp < o.MaxIncidents {
			bps = append(bps, bp)
		}
	}
	bps = append(bps, o.MaxIncidents)

	stops := make([]mapengine.Stop, len(bps))
	n := float64(len(bps) - 1)
	for i, bp := range bps {
		stops[i] = mapengine.Stop{In: bp, Out: o.MinOpacity + (o.MaxOpacity-o.MinOpacity)*float64(i)/n}
	}
	stops[len(stops)-1].Out = o.MaxOpacity
	return stops
}

func incidentCount() []any {
	return mapengine.Coalesce(mapengine.Get(geodata.PropIncidentCount), 0)
}

func hasIncidents() []any {
	return mapengine.Gt(incidentCount(), 0)
}

// FillColorExpr switches the fill color on incident presence.
func (o StyleOptions) FillColorExpr() []any {
	return mapengine.Case(hasIncidents(), NormalizeColor(o.HasIncidentsColor), NormalizeColor(o.NoIncidentsColor))
}

// FillOpacityExpr interpolates opacity linearly over incident_count.
func (o StyleOptions) FillOpacityExpr() []any {
	return mapengine.Interpolate(incidentCount(), o.OpacityStops()...)
}

// OutlineColorExpr switches the outline color on incident presence.
func (o StyleOptions) OutlineColorExpr() []any {
	return mapengine.Case(hasIncidents(), NormalizeColor(o.OutlineHasIncidentsColor), NormalizeColor(o.OutlineNoIncidentsColor))
}

// OutlineWidthExpr switches the outline width on incident presence.
func (o StyleOptions) OutlineWidthExpr() []any {
	return mapengine.Case(hasIncidents(), o.OutlineWidthHasIncidents, o.OutlineWidthNoIncidents)
}

// OpacityAt evaluates FillOpacityExpr for count.
func (o StyleOptions) OpacityAt(count int) float64 {
	v, err := mapengine.Evaluate(o.FillOpacityExpr(), map[string]any{geodata.PropIncidentCount: count})
	if err != nil {
		return o.MinOpacity
	}
	f, _ := mapengine.ToFloat(v)
	return f
}
