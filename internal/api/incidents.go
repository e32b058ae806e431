package api

import (
	"context"
	"net/http"
	"strconv"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-incidents/internal/geodata"
	"github.com/joeblew999/plat-incidents/internal/humastar"
	"github.com/joeblew999/plat-incidents/internal/service"
)

type IncidentInput struct {
	ID int64 `path:"id" minimum:"1" doc:"Incident ID" example:"42"`
}

type IncidentOutput struct {
	Body service.Incident
}

// RegisterIncidents registers incident routes.
func (h *APIHandler) RegisterIncidents(api huma.API) {
	huma.Get(api, "/api/v1/incidents", h.ListIncidents, huma.OperationTags(TagIncidents))
	huma.Post(api, "/api/v1/incidents", h.CreateIncident, huma.OperationTags(TagIncidents),
		func(o *huma.Operation) { o.DefaultStatus = http.StatusCreated })
	huma.Get(api, "/api/v1/incidents/counts", h.GetCounts, huma.OperationTags(TagIncidents))
	huma.Get(api, "/api/v1/incidents/{id}", h.GetIncident, huma.OperationTags(TagIncidents))
}

func (h *APIHandler) ListIncidents(ctx context.Context, input *humastar.PageInput) (*struct {
	Body humastar.PageBody[service.Incident]
}, error) {
	if h.svc.Incidents == nil {
		return nil, errNoDatabase
	}
	items, total, err := h.svc.Incidents.List(ctx, input.Offset, input.Limit)
	if err != nil {
		return nil, httpError(err)
	}
	return &struct {
		Body humastar.PageBody[service.Incident]
	}{Body: humastar.PageBody[service.Incident]{
		Total: total, Offset: input.Offset, Limit: input.Limit, Data: items,
	}}, nil
}

func (h *APIHandler) GetIncident(ctx context.Context, input *IncidentInput) (*IncidentOutput, error) {
	if h.svc.Incidents == nil {
		return nil, errNoDatabase
	}
	in, err := h.svc.Incidents.Get(ctx, input.ID)
	if err != nil {
		return nil, httpError(err)
	}
	return &IncidentOutput{Body: in}, nil
}

// CreateIncident stores an incident. A known country fills in the slug.
func (h *APIHandler) CreateIncident(ctx context.Context, input *struct{ Body service.Incident }) (*IncidentOutput, error) {
	if h.svc.Incidents == nil {
		return nil, errNoDatabase
	}
	in := input.Body
	if f, err := h.svc.Countries.Get(strconv.FormatInt(in.CountryID, 10)); err == nil && in.CountrySlug == "" {
		in.CountrySlug = service.InfoOf(f).Slug
	}
	created, err := h.svc.Incidents.Insert(ctx, in)
	if err != nil {
		return nil, httpError(err)
	}
	h.svc.Bus.Publish(service.Event{
		Resource: service.ResourceIncidents,
		Action:   "created",
		ID:       strconv.FormatInt(created.ID, 10),
		Data:     map[string]any{"country_id": created.CountryID},
	})
	return &IncidentOutput{Body: created}, nil
}

func (h *APIHandler) GetCounts(ctx context.Context, input *struct{}) (*struct{ Body geodata.Counts }, error) {
	if h.svc.Incidents == nil {
		return nil, errNoDatabase
	}
	c, err := h.svc.Incidents.Counts(ctx)
	if err != nil {
		return nil, httpError(err)
	}
	return &struct{ Body geodata.Counts }{Body: c}, nil
}
