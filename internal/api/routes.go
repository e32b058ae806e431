// Package api defines the Huma API routes and handlers.
package api

import (
	"context"
	"errors"

	"github.com/danielgtaylor/huma/v2"

	"github.com/joeblew999/plat-incidents/internal/humastar"
	"github.com/joeblew999/plat-incidents/internal/logger"
	"github.com/joeblew999/plat-incidents/internal/service"
	"github.com/joeblew999/plat-incidents/internal/templates"
)

// Operation tags. Country and incident operations sit behind the nonce check.
const (
	TagHealth      = "health"
	TagCountries   = "countries"
	TagIncidents   = "incidents"
	TagPreferences = "preferences"
)

// Version is reported by /health and /api/v1/info.
const Version = "0.1.0"

// Services holds the service dependencies for API handlers.
type Services struct {
	Countries   *service.CountryService
	Incidents   service.IncidentStore // nil when no database is available
	Preferences *service.PreferenceService
	Bus         *service.EventBus
	Renderer    *templates.Renderer
}

// Options tunes the routes.
type Options struct {
	Nonce   string          // required in X-WP-Nonce on country and incident routes when set
	DataDir string
	Links   *humastar.Links // generated after registration when set
}

// DefaultConfig is the Huma config shared by the server and tests. A
// non-nil links table adds its Link header transformer.
func DefaultConfig(links *humastar.Links) huma.Config {
	cfg := huma.DefaultConfig("plat-incidents API", Version)
	cfg.Info.Description = "Country boundaries, incident summaries and map preferences for the incident map."
	// Disable $schema property in responses (cleaner JSON, GeoJSON stays GeoJSON)
	cfg.CreateHooks = []func(huma.Config) huma.Config{}
	if links != nil {
		cfg.Transformers = append(cfg.Transformers, links.Transformer())
	}
	return cfg
}

// RegisterRoutes installs the nonce check and every handler on api.
func RegisterRoutes(api huma.API, svc *Services, opts Options) {
	if svc.Bus == nil {
		svc.Bus = service.DefaultBus
	}
	if svc.Renderer == nil {
		svc.Renderer = templates.Default()
	}
	if opts.Nonce != "" {
		api.UseMiddleware(NonceMiddleware(api, opts.Nonce))
	}
	huma.AutoRegister(api, NewAPIHandler(svc))
	huma.AutoRegister(api, NewStreamHandler(svc))
	NewInfoHandler(svc, opts.DataDir).RegisterRoutes(api)
	if opts.Links != nil {
		opts.Links.Generate(api)
	}
}

// Types

type HealthBody struct {
	Status  string `json:"status" doc:"Health status" example:"ok"`
	Version string `json:"version" doc:"API version" example:"0.1.0"`
}

type MessageBody struct {
	Message string `json:"message" doc:"Result message"`
}

// APIHandler holds all JSON REST handlers. Methods named Register* are
// auto-discovered by huma.AutoRegister.
type APIHandler struct {
	svc *Services
}

func NewAPIHandler(svc *Services) *APIHandler {
	return &APIHandler{svc: svc}
}

// RegisterHealth registers health check routes.
func (h *APIHandler) RegisterHealth(api huma.API) {
	huma.Get(api, "/health", h.GetHealth, huma.OperationTags(TagHealth))
}

func (h *APIHandler) GetHealth(ctx context.Context, input *struct{}) (*struct{ Body HealthBody }, error) {
	return &struct{ Body HealthBody }{Body: HealthBody{Status: "ok", Version: Version}}, nil
}

// httpError maps service errors onto Huma status errors.
func httpError(err error) error {
	switch {
	case errors.Is(err, service.ErrNotFound):
		return huma.Error404NotFound(err.Error())
	case errors.Is(err, service.ErrInvalidKey):
		return huma.Error422UnprocessableEntity(err.Error())
	}
	logger.L().Debug("api_error", "err", err)
	return huma.Error500InternalServerError("internal error")
}

var errNoDatabase = huma.Error503ServiceUnavailable("incident database not available")
