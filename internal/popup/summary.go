package popup

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"

	"github.com/joeblew999/plat-incidents/internal/geodata"
)

// TypeCount is one row of the type breakdown.
type TypeCount struct {
	Name  string `json:"name"`
	Slug  string `json:"slug"`
	Count int    `json:"count"`
}

// IncidentEntry is one entry of the limited incident list.
type IncidentEntry struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url,omitempty"`
	Date  string `json:"date,omitempty"`
	Type  string `json:"type,omitempty"`
}

// Summary is the per-country incident summary served by
// /api/v1/countries/{id}/incidents.
type Summary struct {
	Incidents  []IncidentEntry `json:"incidents"`
	Total      int             `json:"total"`
	Types      []TypeCount     `json:"types"`
	TypesTotal int             `json:"types_total"`
}

// SummaryClient fetches the summary for a country id.
type SummaryClient interface {
	Summary(ctx context.Context, countryID string, limit int) (*Summary, error)
}

// SummaryFunc adapts a function to SummaryClient.
type SummaryFunc func(ctx context.Context, countryID string, limit int) (*Summary, error)

func (f SummaryFunc) Summary(ctx context.Context, countryID string, limit int) (*Summary, error) {
	return f(ctx, countryID, limit)
}

// HTTPClient reads summaries from the backend REST API.
type HTTPClient struct {
	BaseURL string
	Nonce   string
	Client  *http.Client
}

var defaultClient = &http.Client{Timeout: 10 * time.Second}

func (c *HTTPClient) Summary(ctx context.Context, countryID string, limit int) (*Summary, error) {
	u := fmt.Sprintf("%s/api/v1/countries/%s/incidents?limit=%d",
		strings.TrimRight(c.BaseURL, "/"), url.PathEscape(countryID), limit)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if c.Nonce != "" {
		req.Header.Set(geodata.NonceHeader, c.Nonce)
	}
	client := c.Client
	if client == nil {
		client = defaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("GET %s: status %d", u, resp.StatusCode)
	}
	var s Summary
	if err := json.NewDecoder(io.LimitReader(resp.Body, 8<<20)).Decode(&s); err != nil {
		return nil, fmt.Errorf("decode summary: %w", err)
	}
	return &s, nil
}

// RankTypes returns types ordered by descending count, ties by name.
func RankTypes(types []TypeCount) []TypeCount {
	out := append([]TypeCount(nil), types...)
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Count != out[j].Count {
			return out[i].Count > out[j].Count
		}
		return out[i].Name < out[j].Name
	})
	return out
}
