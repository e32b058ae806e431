package api

import (
	"context"

	"github.com/danielgtaylor/huma/v2"
)

type InfoHandler struct {
	svc     *Services
	dataDir string
}

func NewInfoHandler(svc *Services, dataDir string) *InfoHandler {
	return &InfoHandler{svc: svc, dataDir: dataDir}
}

func (h *InfoHandler) RegisterRoutes(api huma.API) {
	huma.Get(api, "/api/v1/info", h.GetInfo, huma.OperationTags(TagHealth))
}

type InfoBody struct {
	Name        string   `json:"name" doc:"Service name"`
	Version     string   `json:"version" doc:"Service version"`
	DataDir     string   `json:"data_dir" doc:"Data directory path"`
	DB          bool     `json:"db" doc:"Whether the incident database is available"`
	Countries   int      `json:"countries" doc:"Number of loaded country boundaries"`
	LastUpdated string   `json:"last_updated,omitempty" doc:"Stamp of the boundary data"`
	Features    []string `json:"features" doc:"Available features"`
}

func (h *InfoHandler) GetInfo(ctx context.Context, input *struct{}) (*struct{ Body InfoBody }, error) {
	body := InfoBody{
		Name:     "plat-incidents",
		Version:  Version,
		DataDir:  h.dataDir,
		DB:       h.svc.Incidents != nil,
		Features: []string{"countries", "simplify", "preferences", "events"},
	}
	if c := h.svc.Countries; c != nil {
		body.Countries = len(c.List())
		body.LastUpdated = c.LastUpdated()
	}
	if body.DB {
		body.Features = append(body.Features, "incidents")
	}
	return &struct{ Body InfoBody }{Body: body}, nil
}
