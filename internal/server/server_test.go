package server

import (
	"context"
	"encoding/json"
	"bytes"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-incidents/internal/geodata"
	"github.com/joeblew999/plat-incidents/internal/popup"
	"github.com/joeblew999/plat-incidents/internal/prefs"
)

const testNonce = "n0nce"

func writeBoundaries(t *testing.T, dir string) {
	t.Helper()
	fc := geojson.NewFeatureCollection()
	fr := geojson.NewFeature(orb.Polygon{{{0, 0}, {2, 0}, {2, 2}, {0, 2}, {0, 0}}})
	fr.Properties = geojson.Properties{"NAME": "France", "ISO_A2": "FR"}
	de := geojson.NewFeature(orb.Polygon{{{5, 5}, {6, 5}, {6, 6}, {5, 5}}})
	de.Properties = geojson.Properties{"NAME": "Germany", "ISO_A2": "DE"}
	fc.Append(fr)
	fc.Append(de)
	data, _ := json.Marshal(fc)
	os.MkdirAll(filepath.Join(dir, "sources"), 0755)
	if err := os.WriteFile(filepath.Join(dir, "sources", "countries.geojson"), data, 0644); err != nil {
		t.Fatal(err)
	}
}

func newTestServer(t *testing.T) (*Server, *httptest.Server) {
	t.Helper()
	dir := t.TempDir()
	writeBoundaries(t, dir)
	s := New(Config{Host: "127.0.0.1", Port: "0", DataDir: dir, Nonce: testNonce})
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return s, ts
}

func TestStaticSnapshot(t *testing.T) {
	s, ts := newTestServer(t)

	src := &geodata.StaticSource{BaseURL: ts.URL + "/static", LastUpdated: s.Services().Countries.LastUpdated()}
	fc, err := src.Fetch(context.Background())
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(fc.Features) != 2 {
		t.Fatalf("features=%d, want 2", len(fc.Features))
	}
	if got := fc.Features[0].Properties.MustString(geodata.PropSlug, ""); got != "france" {
		t.Fatalf("slug=%q, want france", got)
	}
	if _, ok := geodata.IDOf(fc.Features[1]); !ok {
		t.Fatal("exported feature has no term_id")
	}
}

func TestRESTTransportsWithNonce(t *testing.T) {
	_, ts := newTestServer(t)
	ctx := context.Background()

	if _, err := (&geodata.RESTSource{BaseURL: ts.URL}).Fetch(ctx); err == nil {
		t.Fatal("expected 403 without nonce")
	}
	fc, err := (&geodata.RESTSource{BaseURL: ts.URL, Nonce: testNonce, Simplified: true}).Fetch(ctx)
	if err != nil || len(fc.Features) != 2 {
		t.Fatalf("REST fetch: %v", err)
	}

	body := `{"title":"Strike at port","country_id":1,"type_name":"Strike","type_slug":"strike"}`
	req, _ := http.NewRequest(http.MethodPost, ts.URL+"/api/v1/incidents", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(geodata.NonceHeader, testNonce)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create: status=%d", resp.StatusCode)
	}

	counts, err := (&geodata.RESTCounts{BaseURL: ts.URL, Nonce: testNonce}).Counts(ctx)
	if err != nil {
		t.Fatalf("counts: %v", err)
	}
	if counts.ByID["1"] < 1 || counts.BySlug["france"] < 1 {
		t.Fatalf("counts=%+v", counts)
	}

	sum, err := (&popup.HTTPClient{BaseURL: ts.URL, Nonce: testNonce}).Summary(ctx, "1", 5)
	if err != nil {
		t.Fatalf("summary: %v", err)
	}
	if sum.Total < 1 || len(sum.Types) == 0 || sum.Types[0].Slug != "strike" {
		t.Fatalf("summary=%+v", sum)
	}
}

func TestHTTPPreferenceStore(t *testing.T) {
	_, ts := newTestServer(t)
	ctx := context.Background()
	store := &prefs.HTTP{BaseURL: ts.URL}

	if _, ok, err := store.Get(ctx, prefs.ToggleKey); err != nil || ok {
		t.Fatalf("absent: ok=%v err=%v", ok, err)
	}
	if err := store.Set(ctx, prefs.ToggleKey, prefs.On); err != nil {
		t.Fatalf("Set: %v", err)
	}
	v, ok, err := store.Get(ctx, prefs.ToggleKey)
	if err != nil || !ok || v != prefs.On {
		t.Fatalf("got=%q,%v,%v", v, ok, err)
	}
}

func TestRootLinksAndMetrics(t *testing.T) {
	_, ts := newTestServer(t)

	resp, err := http.Get(ts.URL + "/")
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	links := strings.Join(resp.Header.Values("Link"), ",")
	if !strings.Contains(links, `</api/v1/incidents>; rel="incidents"`) || !strings.Contains(links, `rel="service-desc"`) {
		t.Fatalf("links=%s", links)
	}

	resp, err = http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(b), "platincidents_http_requests_total") {
		t.Fatal("http request counter not exported")
	}
}

func TestOpenAPIDocumentsRoutes(t *testing.T) {
	s, _ := newTestServer(t)
	oapi := s.OpenAPI()
	for _, p := range []string{
		"/health",
		"/api/v1/countries",
		"/api/v1/countries/{id}/incidents",
		"/api/v1/incidents/counts",
		"/api/v1/preferences/{key}",
		"/api/v1/events",
	} {
		if oapi.Paths[p] == nil {
			t.Fatalf("missing path %s", p)
		}
	}
}

func uploadRequest(t *testing.T, url, filename, body, nonce string) *http.Request {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	io.WriteString(fw, body)
	mw.Close()
	req, _ := http.NewRequest(http.MethodPost, url+"/api/v1/countries/source", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if nonce != "" {
		req.Header.Set(geodata.NonceHeader, nonce)
	}
	return req
}

func TestSourceUpload(t *testing.T) {
	s, ts := newTestServer(t)
	boundaries := `{"type":"FeatureCollection","features":[
{"type":"Feature","properties":{"name":"Chad","iso_code":"td"},"geometry":{"type":"Point","coordinates":[18,15]}}]}`

	for _, tc := range []struct {
		name, filename, nonce string
		status                int
	}{
		{"no nonce", "countries.geojson", "", http.StatusForbidden},
		{"bad extension", "countries.txt", testNonce, http.StatusBadRequest},
	} {
		resp, err := http.DefaultClient.Do(uploadRequest(t, ts.URL, tc.filename, boundaries, tc.nonce))
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != tc.status {
			t.Fatalf("%s: status=%d, want %d", tc.name, resp.StatusCode, tc.status)
		}
	}

	resp, err := http.DefaultClient.Do(uploadRequest(t, ts.URL, "countries.geojson", boundaries, testNonce))
	if err != nil {
		t.Fatal(err)
	}
	b, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	if !strings.Contains(string(b), "Boundaries updated: countries.geojson") {
		t.Fatalf("body=%s", b)
	}

	list := s.Services().Countries.List()
	if len(list) != 1 || list[0].Slug != "chad" || list[0].ISO != "TD" {
		t.Fatalf("countries=%+v", list)
	}
	fc, err := (&geodata.StaticSource{BaseURL: ts.URL + "/static"}).Fetch(context.Background())
	if err != nil || len(fc.Features) != 1 {
		t.Fatalf("snapshot after upload: %v", err)
	}
}
