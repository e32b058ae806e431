package humastar

import (
	"fmt"
	"path"
	"slices"
	"sort"
	"strings"

	"github.com/danielgtaylor/huma/v2"
)

// TagStream marks SSE operations; they get no hypermedia links.
const TagStream = "stream"

// entryPoint is the path every collection links "up" to.
const entryPoint = "/health"

// Links holds RFC 8288 link headers derived from the OpenAPI document,
// keyed by operation path.
type Links struct {
	byPath map[string][]string
}

// NewLinks returns an empty link table. Its Transformer can be installed
// before the routes exist; Generate fills it in afterwards.
func NewLinks() *Links {
	return &Links{byPath: map[string][]string{}}
}

type route struct {
	path string
	tags []string
	item *huma.PathItem
}

// Generate derives the link table from the registered operations and
// documents each path's links on its 2xx responses. Call it once after
// all routes are registered.
func (l *Links) Generate(api huma.API) {
	paths := api.OpenAPI().Paths

	var collections, items []route
	for _, p := range sortedPaths(paths) {
		r := route{path: p, tags: firstTags(paths[p]), item: paths[p]}
		switch {
		case slices.Contains(r.tags, TagStream):
		case strings.Contains(p, "{"):
			items = append(items, r)
		default:
			collections = append(collections, r)
		}
	}

	for _, it := range items {
		parent := path.Dir(it.path)
		if _, ok := paths[parent]; ok {
			l.add(it.path, parent, "collection")
			l.add(it.path, parent, "up")
		}
		if it.item.Put != nil || it.item.Patch != nil {
			l.add(it.path, it.path, "edit")
		}
	}

	for _, c := range collections {
		for _, it := range items {
			if path.Dir(it.path) == c.path {
				l.add(c.path, it.path, "item")
			}
		}
		if c.item.Post != nil {
			l.add(c.path, c.path, "create-form")
		}
		for _, other := range collections {
			if other.path != c.path && overlaps(c.tags, other.tags) {
				l.add(c.path, other.path, lastSegment(other.path))
			}
		}
		if c.path != entryPoint {
			l.add(c.path, entryPoint, "up")
			l.add(entryPoint, c.path, lastSegment(c.path))
		}
	}

	l.add(entryPoint, "/openapi.json", "describedby")
	l.add(entryPoint, "/openapi.json", "service-desc")
	l.add(entryPoint, "/docs", "service-doc")

	for _, r := range append(collections, items...) {
		if name := schemaName(r.item.Get); name != "" {
			l.add(r.path, "/openapi.json#/components/schemas/"+name, "describedby")
		}
	}

	for p, headers := range l.byPath {
		if pi, ok := paths[p]; ok {
			for _, op := range operations(pi) {
				documentLinks(op, headers)
			}
		}
	}
}

// For returns the link headers generated for an operation path.
func (l *Links) For(opPath string) []string {
	if l == nil {
		return nil
	}
	return l.byPath[opPath]
}

// Root returns the entry point links, for handlers outside Huma.
func (l *Links) Root() []string {
	return l.For(entryPoint)
}

// Transformer sets the Link headers on every non-stream response: the
// generated table, a self link for items, then pagination and actions
// offered by the body.
func (l *Links) Transformer() huma.Transformer {
	return func(ctx huma.Context, status string, v any) (any, error) {
		op := ctx.Operation()
		if op == nil || slices.Contains(op.Tags, TagStream) {
			return v, nil
		}
		var links []string
		links = append(links, l.For(op.Path)...)
		if strings.Contains(op.Path, "{") {
			links = append(links, fmt.Sprintf(`<%s>; rel="self"`, ctx.URL().Path))
		}
		if p, ok := v.(Pager); ok {
			links = append(links, p.PaginationLinks(ctx.URL().Path)...)
		}
		if a, ok := v.(Actor); ok {
			for _, action := range a.Actions() {
				links = append(links, action.LinkHeader())
			}
		}
		for _, link := range links {
			ctx.AppendHeader("Link", link)
		}
		return v, nil
	}
}

func (l *Links) add(from, to, rel string) {
	val := fmt.Sprintf(`<%s>; rel=%q`, to, rel)
	if !slices.Contains(l.byPath[from], val) {
		l.byPath[from] = append(l.byPath[from], val)
	}
}

func sortedPaths(paths map[string]*huma.PathItem) []string {
	out := make([]string, 0, len(paths))
	for p := range paths {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func operations(pi *huma.PathItem) []*huma.Operation {
	var ops []*huma.Operation
	for _, op := range []*huma.Operation{pi.Get, pi.Post, pi.Put, pi.Patch, pi.Delete} {
		if op != nil {
			ops = append(ops, op)
		}
	}
	return ops
}

func firstTags(pi *huma.PathItem) []string {
	for _, op := range operations(pi) {
		if len(op.Tags) > 0 {
			return op.Tags
		}
	}
	return nil
}

func overlaps(a, b []string) bool {
	for _, t := range a {
		if slices.Contains(b, t) {
			return true
		}
	}
	return false
}

func lastSegment(p string) string {
	return path.Base(strings.TrimRight(p, "/"))
}

// successResponse returns the first 2xx response of op, by status code.
func successResponse(op *huma.Operation) *huma.Response {
	if op == nil {
		return nil
	}
	codes := make([]string, 0, len(op.Responses))
	for code := range op.Responses {
		codes = append(codes, code)
	}
	sort.Strings(codes)
	for _, code := range codes {
		if strings.HasPrefix(code, "2") {
			return op.Responses[code]
		}
	}
	return nil
}

// documentLinks records headers as OpenAPI Link objects on op.
func documentLinks(op *huma.Operation, headers []string) {
	resp := successResponse(op)
	if resp == nil {
		return
	}
	if resp.Links == nil {
		resp.Links = map[string]*huma.Link{}
	}
	for _, h := range headers {
		href, rel, ok := splitLink(h)
		if !ok {
			continue
		}
		resp.Links[rel] = &huma.Link{OperationRef: href, Description: "Related: " + rel}
	}
}

// schemaName is the component name of op's 2xx response body, if any.
func schemaName(op *huma.Operation) string {
	resp := successResponse(op)
	if resp == nil {
		return ""
	}
	for _, mt := range resp.Content {
		if mt.Schema != nil && mt.Schema.Ref != "" {
			return path.Base(mt.Schema.Ref)
		}
	}
	return ""
}

// splitLink parses `<href>; rel="name"`.
func splitLink(h string) (href, rel string, ok bool) {
	target, params, found := strings.Cut(h, ";")
	if !found {
		return "", "", false
	}
	params = strings.TrimSpace(params)
	if !strings.HasPrefix(params, "rel=") {
		return "", "", false
	}
	href = strings.Trim(strings.TrimSpace(target), "<>")
	rel = strings.Trim(strings.TrimPrefix(params, "rel="), `"`)
	return href, rel, rel != ""
}
