package popup

import "github.com/joeblew999/plat-incidents/internal/mapengine"

// Scroll indicator classes set on the popup element.
const (
	ClassScrollable = "is-scrollable"
	ClassAtTop      = "at-top"
	ClassAtBottom   = "at-bottom"
)

// ScrollState describes a content box for the scroll indicators.
type ScrollState struct {
	Scrollable bool
	AtTop      bool
	AtBottom   bool
}

// ScrollStateOf measures el. A one pixel slack absorbs fractional layout.
func ScrollStateOf(el mapengine.Element) ScrollState {
	if el == nil {
		return ScrollState{}
	}
	s := el.Scroll()
	st := ScrollState{Scrollable: s.ScrollHeight > s.ClientHeight+1}
	if !st.Scrollable {
		return st
	}
	st.AtTop = s.ScrollTop <= 1
	st.AtBottom = s.ScrollTop+s.ClientHeight >= s.ScrollHeight-1
	return st
}

// Apply sets the indicator classes on el. Indicators at a boundary are
// dimmed by the at-top/at-bottom classes, never removed, once scrollable.
func (st ScrollState) Apply(el mapengine.Element) {
	if el == nil {
		return
	}
	el.SetClass(ClassScrollable, st.Scrollable)
	el.SetClass(ClassAtTop, st.AtTop)
	el.SetClass(ClassAtBottom, st.AtBottom)
}
