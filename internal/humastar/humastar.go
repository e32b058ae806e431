// Package humastar bridges Huma operations and Datastar SSE responses for
// the incident map page: popup fragments, toggle signals and the change
// event stream all go through it. Link headers for the JSON routes are
// generated here too, see [Links].
//
//	func (h *StreamHandler) Popup(ctx context.Context, in *PopupInput) (*huma.StreamResponse, error) {
//	    html := h.Fragment(templates.PopupSummary, view)
//	    return h.Stream(func(sse humastar.SSE) {
//	        sse.Patch(html, in.Selector)
//	    }), nil
//	}
package humastar

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humago"
	"github.com/starfederation/datastar-go/datastar"

	"github.com/joeblew999/plat-incidents/internal/logger"
	"github.com/joeblew999/plat-incidents/internal/templates"
)

// Flash levels, patched as signals of the same name.
const (
	FlashError   = "error"
	FlashSuccess = "success"
)

// Handler is embedded by handlers that answer with Datastar SSE.
type Handler struct {
	Renderer *templates.Renderer
}

// Stream wraps fn in a Huma StreamResponse. fn runs once the response
// headers are out and owns the connection until it returns.
func (h *Handler) Stream(fn func(sse SSE)) *huma.StreamResponse {
	return &huma.StreamResponse{
		Body: func(humaCtx huma.Context) {
			fn(NewSSE(humaCtx))
		},
	}
}

// Fragment renders a popup fragment. Failures are logged and render as
// the error fragment, or "" when even that fails.
func (h *Handler) Fragment(name string, data any) string {
	r := h.Renderer
	if r == nil {
		r = templates.Default()
	}
	html, err := r.Render(name, data)
	if err == nil {
		return html
	}
	logger.L().Warn("fragment_render_failed", "template", name, "err", err)
	if name == templates.PopupError {
		return ""
	}
	html, _ = r.Render(templates.PopupError, data)
	return html
}

// SSE is a Datastar event writer bound to one streaming response.
type SSE struct {
	*datastar.ServerSentEventGenerator
}

// NewSSE unwraps the humago context. Routes must be served by the humago
// adapter.
func NewSSE(ctx huma.Context) SSE {
	r, w := humago.Unwrap(ctx)
	return SSE{datastar.NewSSE(w, r)}
}

// Patch replaces the children of selector with html.
func (s SSE) Patch(html, selector string) {
	s.PatchElements(html,
		datastar.WithSelector(selector),
		datastar.WithModeInner(),
	)
}

// Flash patches a one-shot message signal such as FlashError.
func (s SSE) Flash(level, msg string) {
	s.MarshalAndPatchSignals(map[string]any{level: msg})
}

// Signals patches signals on the page.
func (s SSE) Signals(signals map[string]any) {
	s.MarshalAndPatchSignals(signals)
}

// Forward writes every value received on ch with fn until ctx is done or
// ch is closed.
func Forward[T any](ctx context.Context, sse SSE, ch <-chan T, fn func(SSE, T)) {
	for {
		select {
		case <-ctx.Done():
			return
		case v, ok := <-ch:
			if !ok {
				return
			}
			fn(sse, v)
		}
	}
}

// Signals is the flat JSON object Datastar posts with an action.
type Signals map[string]any

// ParseSignals decodes a request body. An empty body is no signals.
func ParseSignals(body []byte) (Signals, error) {
	signals := Signals{}
	if len(bytes.TrimSpace(body)) == 0 {
		return signals, nil
	}
	if err := json.Unmarshal(body, &signals); err != nil {
		return nil, err
	}
	return signals, nil
}

// String returns a string signal, or "".
func (s Signals) String(key string) string {
	str, _ := s[key].(string)
	return str
}

// Toggle reads a checkbox-like signal. Booleans and the strings
// "true"/"false"/"on"/"off" are accepted; ok is false for anything else,
// including a missing key.
func (s Signals) Toggle(key string) (on, ok bool) {
	switch v := s[key].(type) {
	case bool:
		return v, true
	case string:
		switch strings.ToLower(v) {
		case "true", "on":
			return true, true
		case "false", "off":
			return false, true
		}
	}
	return false, false
}

// SignalsInput receives the raw Datastar signal body.
type SignalsInput struct {
	RawBody []byte
}

// Parse decodes the body, answering 400 on malformed JSON.
func (i *SignalsInput) Parse() (Signals, error) {
	signals, err := ParseSignals(i.RawBody)
	if err != nil {
		return nil, huma.Error400BadRequest("invalid signals: " + err.Error())
	}
	return signals, nil
}
