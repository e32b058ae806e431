package visibility

import "github.com/joeblew999/plat-incidents/internal/mapengine"

// Control is the toggle UI: a checkbox and its label.
type Control interface {
	Checked() bool
	SetChecked(on bool)
	SetLabel(text string)
}

// Labels are the control texts for each state.
type Labels struct {
	Visible string
	Hidden  string
}

// DefaultLabels returns the built-in control texts.
func DefaultLabels() Labels {
	return Labels{Visible: "Hide country layers", Hidden: "Show country layers"}
}

func (l Labels) For(visible bool) string {
	if visible {
		return l.Visible
	}
	return l.Hidden
}

// ElementControl keeps checkbox state in data-checked and the label text
// in data-label of an element.
type ElementControl struct {
	El mapengine.Element
}

func (c ElementControl) Checked() bool {
	v, _ := c.El.Data("checked")
	return v == "true"
}

func (c ElementControl) SetChecked(on bool) {
	if on {
		c.El.SetData("checked", "true")
	} else {
		c.El.SetData("checked", "false")
	}
}

func (c ElementControl) SetLabel(text string) { c.El.SetData("label", text) }

// Label returns the current label text.
func (c ElementControl) Label() string {
	v, _ := c.El.Data("label")
	return v
}

// Emitter publishes state-change notifications to external listeners.
type Emitter interface {
	Emit(event string, data map[string]any)
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(event string, data map[string]any)

func (f EmitterFunc) Emit(event string, data map[string]any) { f(event, data) }

// MarkerRegistry exposes marker elements maintained outside the page DOM
// query, such as every marker a cluster index knows, attached or not.
type MarkerRegistry interface {
	MarkerElements() []mapengine.Element
}

// MarkerRegistryFunc adapts a function to MarkerRegistry.
type MarkerRegistryFunc func() []mapengine.Element

func (f MarkerRegistryFunc) MarkerElements() []mapengine.Element { return f() }
