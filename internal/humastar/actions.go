package humastar

import (
	"fmt"
	"net/url"
	"slices"
	"strings"
)

// Action is one state-dependent link on a response, emitted as
//
//	<url>; rel="incidents"; method="GET"; title="Incident summary"
type Action struct {
	Rel    string
	Href   string
	Method string
	Title  string
}

// Actor is implemented by response bodies that carry actions.
type Actor interface {
	Actions() []Action
}

// LinkHeader formats the action as an RFC 8288 Link header value.
func (a Action) LinkHeader() string {
	var b strings.Builder
	fmt.Fprintf(&b, `<%s>; rel=%q`, a.Href, a.Rel)
	if a.Method != "" {
		fmt.Fprintf(&b, `; method=%q`, a.Method)
	}
	if a.Title != "" {
		fmt.Fprintf(&b, `; title=%q`, a.Title)
	}
	return b.String()
}

// ActionDef is an action template. "{id}" in Path is replaced by the
// escaped resource key. A def with Requires is only offered when that
// capability is available.
type ActionDef struct {
	Rel      string
	Path     string
	Method   string
	Title    string
	Requires string
}

// ActionsFor expands defs for key, skipping defs whose capability is not
// in caps.
func ActionsFor(key string, defs []ActionDef, caps ...string) []Action {
	actions := make([]Action, 0, len(defs))
	for _, d := range defs {
		if d.Requires != "" && !slices.Contains(caps, d.Requires) {
			continue
		}
		actions = append(actions, Action{
			Rel:    d.Rel,
			Href:   strings.ReplaceAll(d.Path, "{id}", url.PathEscape(key)),
			Method: d.Method,
			Title:  d.Title,
		})
	}
	return actions
}
