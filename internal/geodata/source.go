package geodata

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-incidents/internal/logger"
)

// NonceHeader carries the auth nonce on same-origin API calls.
const NonceHeader = "X-WP-Nonce"

const maxBody = 64 << 20

var defaultClient = &http.Client{Timeout: 15 * time.Second}

// Source is one transport for the country FeatureCollection.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (*geojson.FeatureCollection, error)
}

// StaticSource fetches the pre-generated countries.json snapshot.
type StaticSource struct {
	BaseURL     string
	LastUpdated string
	Client      *http.Client
}

func (s *StaticSource) Name() string { return "static" }

// URL returns the snapshot URL with the last-updated cache buster.
func (s *StaticSource) URL() string {
	u := strings.TrimRight(s.BaseURL, "/") + "/countries.json"
	if s.LastUpdated != "" {
		u += "?v=" + url.QueryEscape(s.LastUpdated)
	}
	return u
}

func (s *StaticSource) Fetch(ctx context.Context) (*geojson.FeatureCollection, error) {
	h := http.Header{}
	h.Set("Cache-Control", "no-cache")
	h.Set("Pragma", "no-cache")
	return getCollection(ctx, s.Client, s.URL(), h)
}

// RESTSource queries the backend countries endpoint.
type RESTSource struct {
	BaseURL    string
	Nonce      string
	Simplified bool
	Client     *http.Client
}

func (s *RESTSource) Name() string { return "rest" }

func (s *RESTSource) URL() string {
	u := strings.TrimRight(s.BaseURL, "/") + "/api/v1/countries"
	if s.Simplified {
		u += "?simplified=1"
	}
	return u
}

func (s *RESTSource) Fetch(ctx context.Context) (*geojson.FeatureCollection, error) {
	h := http.Header{}
	if s.Nonce != "" {
		h.Set(NonceHeader, s.Nonce)
	}
	return getCollection(ctx, s.Client, s.URL(), h)
}

func getCollection(ctx context.Context, client *http.Client, u string, h http.Header) (*geojson.FeatureCollection, error) {
	body, err := get(ctx, client, u, h)
	if err != nil {
		return nil, err
	}
	fc, err := geojson.UnmarshalFeatureCollection(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", u, err)
	}
	if fc.Type != "FeatureCollection" {
		return nil, fmt.Errorf("decode %s: unexpected type %q", u, fc.Type)
	}
	return fc, nil
}

func get(ctx context.Context, client *http.Client, u string, h http.Header) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	for k, vs := range h {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")
	if client == nil {
		client = defaultClient
	}

	t0 := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		logger.L().Debug("geodata_http_error", "url", u, "err", err)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("GET %s: status %d", u, resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", u, err)
	}
	logger.L().Debug("geodata_http_ok", "url", u, "bytes", len(body), "duration_ms", time.Since(t0).Milliseconds())
	return body, nil
}

// Counts maps country identity to incident count.
type Counts struct {
	ByID   map[string]int `json:"byId"`
	BySlug map[string]int `json:"bySlug"`
}

// CountsProvider supplies the counts merged after each load.
type CountsProvider interface {
	Counts(ctx context.Context) (Counts, error)
}

// CountsFunc adapts a function to CountsProvider.
type CountsFunc func(ctx context.Context) (Counts, error)

func (f CountsFunc) Counts(ctx context.Context) (Counts, error) { return f(ctx) }

// RESTCounts fetches counts from /api/v1/incidents/counts.
type RESTCounts struct {
	BaseURL string
	Nonce   string
	Client  *http.Client
}

func (c *RESTCounts) Counts(ctx context.Context) (Counts, error) {
	h := http.Header{}
	if c.Nonce != "" {
		h.Set(NonceHeader, c.Nonce)
	}
	body, err := get(ctx, c.Client, strings.TrimRight(c.BaseURL, "/")+"/api/v1/incidents/counts", h)
	if err != nil {
		return Counts{}, err
	}
	var out Counts
	if err := json.Unmarshal(body, &out); err != nil {
		return Counts{}, fmt.Errorf("decode counts: %w", err)
	}
	return out, nil
}
