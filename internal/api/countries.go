package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-incidents/internal/humastar"
	"github.com/joeblew999/plat-incidents/internal/popup"
	"github.com/joeblew999/plat-incidents/internal/service"
)

type CountriesInput struct {
	Simplified bool `query:"simplified" doc:"Serve simplified geometry" example:"true"`
}

type CountriesOutput struct {
	LastUpdated string `header:"X-Last-Updated" doc:"Stamp of the boundary data"`
	Body        *geojson.FeatureCollection
}

type CountryInput struct {
	ID string `path:"id" doc:"term_id, slug or ISO code" example:"france"`
}

// CountryBody is one country with its boundary feature.
type CountryBody struct {
	service.CountryInfo
	Feature *geojson.Feature `json:"feature" doc:"Boundary feature"`

	caps []string
}

// capIncidents is offered when an incident database is connected.
const capIncidents = "incidents"

var countryActions = []humastar.ActionDef{
	{Rel: "incidents", Path: "/api/v1/countries/{id}/incidents", Method: "GET", Title: "Incident summary", Requires: capIncidents},
	{Rel: "popup", Path: "/api/v1/countries/{id}/popup", Method: "GET", Title: "Popup fragment"},
}

// Actions implements humastar.Actor.
func (b CountryBody) Actions() []humastar.Action {
	return humastar.ActionsFor(b.Slug, countryActions, b.caps...)
}

type SummaryInput struct {
	CountryInput
	Limit int `query:"limit" minimum:"0" maximum:"100" default:"10" doc:"Number of latest incidents to list"`
}

// RegisterCountries registers country boundary and summary routes.
func (h *APIHandler) RegisterCountries(api huma.API) {
	huma.Get(api, "/api/v1/countries", h.GetCountries, huma.OperationTags(TagCountries))
	huma.Get(api, "/api/v1/countries/{id}", h.GetCountry, huma.OperationTags(TagCountries))
	huma.Get(api, "/api/v1/countries/{id}/incidents", h.GetCountrySummary, huma.OperationTags(TagCountries))
}

func (h *APIHandler) GetCountries(ctx context.Context, input *CountriesInput) (*CountriesOutput, error) {
	fc, err := h.svc.Countries.Collection(input.Simplified)
	if err != nil {
		return nil, httpError(err)
	}
	return &CountriesOutput{LastUpdated: h.svc.Countries.LastUpdated(), Body: fc}, nil
}

func (h *APIHandler) GetCountry(ctx context.Context, input *CountryInput) (*struct{ Body CountryBody }, error) {
	f, err := h.svc.Countries.Get(input.ID)
	if err != nil {
		return nil, httpError(err)
	}
	body := CountryBody{CountryInfo: service.InfoOf(f), Feature: f}
	if h.svc.Incidents != nil {
		body.caps = append(body.caps, capIncidents)
	}
	return &struct{ Body CountryBody }{Body: body}, nil
}

func (h *APIHandler) GetCountrySummary(ctx context.Context, input *SummaryInput) (*struct{ Body *popup.Summary }, error) {
	s, _, err := h.summary(ctx, input.ID, input.Limit)
	if err != nil {
		return nil, err
	}
	return &struct{ Body *popup.Summary }{Body: s}, nil
}

// summary resolves key to a country and reads its incident summary.
func (h *APIHandler) summary(ctx context.Context, key string, limit int) (*popup.Summary, service.CountryInfo, error) {
	f, err := h.svc.Countries.Get(key)
	if err != nil {
		return nil, service.CountryInfo{}, httpError(err)
	}
	info := service.InfoOf(f)
	if h.svc.Incidents == nil {
		return nil, info, errNoDatabase
	}
	s, err := h.svc.Incidents.Summary(ctx, info.ID, limit)
	if err != nil {
		return nil, info, httpError(err)
	}
	s.Types = popup.RankTypes(s.Types)
	return s, info, nil
}
