// Package templates renders the HTML fragments shown inside map popups.
package templates

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"os"
	"path/filepath"
	"sync"
)

//go:embed fragments/*.html
var embedded embed.FS

// Fragment names.
const (
	PopupLoading = "popup-loading"
	PopupSummary = "popup-summary"
	PopupEmpty   = "popup-empty"
	PopupError   = "popup-error"
)

// Fragments lists every fragment a renderer must define.
var Fragments = []string{PopupLoading, PopupSummary, PopupEmpty, PopupError}

var funcMap = template.FuncMap{
	"plural": func(n int, one, many string) string {
		if n == 1 {
			return one
		}
		return many
	},
}

// Renderer manages HTML fragment templates.
type Renderer struct {
	templates *template.Template
	dir       string
	mu        sync.RWMutex
}

// Default returns a renderer over the built-in fragments.
func Default() *Renderer {
	return &Renderer{templates: template.Must(build(""))}
}

// New creates a renderer whose fragments in dir override the built-in
// ones by name, so a deployment can restyle one popup state and keep the
// rest. An empty dir uses the built-in fragments.
func New(dir string) (*Renderer, error) {
	tmpl, err := build(dir)
	if err != nil {
		return nil, err
	}
	return &Renderer{templates: tmpl, dir: dir}, nil
}

func build(dir string) (*template.Template, error) {
	tmpl, err := template.New("").Funcs(funcMap).ParseFS(embedded, "fragments/*.html")
	if err != nil {
		return nil, err
	}
	if dir == "" {
		return tmpl, nil
	}
	if tmpl, err = tmpl.ParseFS(os.DirFS(filepath.Clean(dir)), "*.html"); err != nil {
		return nil, fmt.Errorf("fragments %s: %w", dir, err)
	}
	for _, name := range Fragments {
		if tmpl.Lookup(name) == nil {
			return nil, fmt.Errorf("fragments %s: %s undefined", dir, name)
		}
	}
	return tmpl, nil
}

// Render renders a named template to a string.
func (r *Renderer) Render(name string, data any) (string, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var buf bytes.Buffer
	if err := r.templates.ExecuteTemplate(&buf, name, data); err != nil {
		return "", err
	}
	return buf.String(), nil
}

// MustRender renders a template and panics on error.
func (r *Renderer) MustRender(name string, data any) string {
	s, err := r.Render(name, data)
	if err != nil {
		panic(err)
	}
	return s
}

// Reload re-reads the override directory the renderer was created with.
// A failed reload keeps the current fragments.
func (r *Renderer) Reload() error {
	r.mu.RLock()
	dir := r.dir
	r.mu.RUnlock()

	tmpl, err := build(dir)
	if err != nil {
		return err
	}

	r.mu.Lock()
	r.templates = tmpl
	r.mu.Unlock()

	return nil
}
