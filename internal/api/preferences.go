package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-incidents/internal/prefs"
)

type PreferenceInput struct {
	Key string `path:"key" doc:"Preference key" example:"plat_incidents_country_layers"`
}

type PreferenceOutput struct {
	Body prefs.Value
}

// RegisterPreferences registers preference routes.
func (h *APIHandler) RegisterPreferences(api huma.API) {
	huma.Get(api, "/api/v1/preferences/{key}", h.GetPreference, huma.OperationTags(TagPreferences))
	huma.Put(api, "/api/v1/preferences/{key}", h.PutPreference, huma.OperationTags(TagPreferences))
}

func (h *APIHandler) GetPreference(ctx context.Context, input *PreferenceInput) (*PreferenceOutput, error) {
	v, err := h.svc.Preferences.Get(ctx, input.Key)
	if err != nil {
		return nil, httpError(err)
	}
	return &PreferenceOutput{Body: v}, nil
}

func (h *APIHandler) PutPreference(ctx context.Context, input *struct {
	PreferenceInput
	Body struct {
		Value string `json:"value" maxLength:"1024" doc:"Value to store"`
	}
}) (*PreferenceOutput, error) {
	v, err := h.svc.Preferences.Set(ctx, input.Key, input.Body.Value)
	if err != nil {
		return nil, httpError(err)
	}
	return &PreferenceOutput{Body: v}, nil
}
