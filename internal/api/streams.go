package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-incidents/internal/humastar"
	"github.com/joeblew999/plat-incidents/internal/popup"
	"github.com/joeblew999/plat-incidents/internal/prefs"
	"github.com/joeblew999/plat-incidents/internal/service"
)

// Signal names shared with the Datastar page.
const (
	SignalCountryLayers = "countryLayers"
	SignalIncidents     = "incidentsVersion"
)

// StreamHandler serves the Datastar SSE endpoints.
type StreamHandler struct {
	humastar.Handler
	svc *Services
	api *APIHandler
}

func NewStreamHandler(svc *Services) *StreamHandler {
	return &StreamHandler{
		Handler: humastar.Handler{Renderer: svc.Renderer},
		svc:     svc,
		api:     NewAPIHandler(svc),
	}
}

// RegisterEvents registers the change-event stream.
func (h *StreamHandler) RegisterEvents(api huma.API) {
	huma.Get(api, "/api/v1/events", h.Events, huma.OperationTags(humastar.TagStream))
}

type EventsInput struct {
	Resource []string `query:"resource" enum:"incidents,preferences,countries,map" doc:"Only stream these resources (all when empty)"`
}

// Events streams bus events to the page as Datastar custom events. Toggle
// preference changes also patch the countryLayers signal.
func (h *StreamHandler) Events(ctx context.Context, input *EventsInput) (*huma.StreamResponse, error) {
	return h.Stream(func(sse humastar.SSE) {
		bus := h.svc.Bus
		ch := bus.Subscribe(input.Resource...)
		defer bus.Unsubscribe(ch)
		humastar.Forward[service.Event](ctx, sse, ch, forwardEvent)
	}), nil
}

func forwardEvent(sse humastar.SSE, ev service.Event) {
	switch {
	case ev.Resource == service.ResourcePreferences && ev.ID == prefs.ToggleKey:
		if v, ok := ev.Data["value"].(string); ok {
			if on, ok := prefs.ParseToggle(v); ok {
				sse.Signals(map[string]any{SignalCountryLayers: on})
			}
		}
	case ev.Resource == service.ResourceIncidents:
		sse.Signals(map[string]any{SignalIncidents: ev.ID})
	}
	sse.DispatchCustomEvent("resource-changed", ev)
}

type PopupInput struct {
	SummaryInput
	Selector string `query:"selector" default:"#country-popup" doc:"Element to patch"`
}

// RegisterPopup registers the server-rendered popup fragment.
func (h *StreamHandler) RegisterPopup(api huma.API) {
	huma.Get(api, "/api/v1/countries/{id}/popup", h.Popup,
		huma.OperationTags(humastar.TagStream, TagCountries))
}

// Popup patches the rendered incident summary fragment into Selector.
func (h *StreamHandler) Popup(ctx context.Context, input *PopupInput) (*huma.StreamResponse, error) {
	s, info, err := h.api.summary(ctx, input.ID, input.Limit)
	var se huma.StatusError
	if errors.As(err, &se) && se.GetStatus() == http.StatusNotFound {
		return nil, err
	}
	tmpl, view := popup.ViewOf(info.Name, s, err)
	html := h.Fragment(tmpl, view)
	return h.Stream(func(sse humastar.SSE) {
		sse.Patch(html, input.Selector)
	}), nil
}

// RegisterToggle registers the Datastar toggle action.
func (h *StreamHandler) RegisterToggle(api huma.API) {
	huma.Post(api, "/api/v1/preferences/toggle", h.Toggle,
		huma.OperationTags(humastar.TagStream, TagPreferences))
}

// Toggle persists the countryLayers signal and echoes it back.
func (h *StreamHandler) Toggle(ctx context.Context, input *humastar.SignalsInput) (*huma.StreamResponse, error) {
	signals, err := input.Parse()
	if err != nil {
		return nil, err
	}
	on, ok := signals.Toggle(SignalCountryLayers)
	if !ok {
		return nil, huma.Error422UnprocessableEntity("missing or invalid signal " + SignalCountryLayers)
	}
	_, err = h.svc.Preferences.Set(ctx, prefs.ToggleKey, prefs.FormatToggle(on))
	return h.Stream(func(sse humastar.SSE) {
		if err != nil {
			sse.Flash(humastar.FlashError, "Could not save preference")
			return
		}
		sse.Signals(map[string]any{SignalCountryLayers: on})
		sse.Flash(humastar.FlashSuccess, "Saved")
	}), nil
}
