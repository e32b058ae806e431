package humastar

import (
	"context"
	"strings"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/humatest"
)

type itemBody struct {
	ID string `json:"id"`
}

func (b itemBody) Actions() []Action {
	return ActionsFor(b.ID, []ActionDef{{Rel: "popup", Path: "/items/{id}/popup"}})
}

func TestLinksGenerate(t *testing.T) {
	links := NewLinks()
	config := huma.DefaultConfig("links", "1.0.0")
	config.Transformers = append(config.Transformers, links.Transformer())
	_, api := humatest.New(t, config)

	huma.Get(api, "/health", func(ctx context.Context, _ *struct{}) (*struct{ Body itemBody }, error) {
		return &struct{ Body itemBody }{}, nil
	})
	huma.Get(api, "/items", func(ctx context.Context, _ *struct{}) (*struct{ Body []itemBody }, error) {
		return &struct{ Body []itemBody }{}, nil
	}, huma.OperationTags("items"))
	huma.Post(api, "/items", func(ctx context.Context, in *struct{ Body itemBody }) (*struct{ Body itemBody }, error) {
		return &struct{ Body itemBody }{Body: in.Body}, nil
	}, huma.OperationTags("items"))
	huma.Get(api, "/items/{id}", func(ctx context.Context, in *struct {
		ID string `path:"id"`
	}) (*struct{ Body itemBody }, error) {
		return &struct{ Body itemBody }{Body: itemBody{ID: in.ID}}, nil
	}, huma.OperationTags("items"))
	huma.Get(api, "/items/{id}/events", func(ctx context.Context, _ *struct {
		ID string `path:"id"`
	}) (*struct{ Body string }, error) {
		return &struct{ Body string }{}, nil
	}, huma.OperationTags(TagStream))
	links.Generate(api)

	root := strings.Join(links.Root(), ",")
	for _, want := range []string{`</items>; rel="items"`, `</openapi.json>; rel="service-desc"`} {
		if !strings.Contains(root, want) {
			t.Fatalf("root missing %s: %s", want, root)
		}
	}
	coll := strings.Join(links.For("/items"), ",")
	for _, want := range []string{`</items/{id}>; rel="item"`, `</items>; rel="create-form"`, `</health>; rel="up"`} {
		if !strings.Contains(coll, want) {
			t.Fatalf("collection missing %s: %s", want, coll)
		}
	}
	if got := links.For("/items/{id}/events"); len(got) != 0 {
		t.Fatalf("stream route got links %v", got)
	}

	resp := api.Get("/items/a%20b")
	got := strings.Join(resp.Header().Values("Link"), ",")
	for _, want := range []string{`</items>; rel="collection"`, `rel="self"`, `</items/a%20b/popup>; rel="popup"`} {
		if !strings.Contains(got, want) {
			t.Fatalf("item response missing %s: %s", want, got)
		}
	}

	op := api.OpenAPI().Paths["/items/{id}"].Get
	if op.Responses["200"].Links["collection"] == nil {
		t.Fatal("collection link not documented on the operation")
	}
}

func TestSplitLink(t *testing.T) {
	href, rel, ok := splitLink(`</a/b>; rel="up"`)
	if !ok || href != "/a/b" || rel != "up" {
		t.Fatalf("got=%s %s %v", href, rel, ok)
	}
	if _, _, ok := splitLink(`</a/b>`); ok {
		t.Fatal("link without params accepted")
	}
}
