package visibility

import "github.com/paulmach/orb/geojson"

// SetSelectedCountry highlights the country identified by key (an id,
// slug, ISO code, or a value carrying one) on every map. Before the
// dataset is loaded the key is parked and resolved when it arrives. It
// reports whether a feature was highlighted now.
func (c *Controller) SetSelectedCountry(key any) bool {
	if key == nil {
		c.ClearSelectedCountry()
		return false
	}

	var f *geojson.Feature
	loaded := false
	if c.opts.Data != nil {
		f = c.opts.Data.FindCountryFeature(key)
		loaded = c.opts.Data.Data() != nil
	}

	c.mu.Lock()
	c.selectedKey = key
	if f == nil {
		c.selected = nil
		if !loaded {
			c.pendingSelected = key
		}
		c.mu.Unlock()
		if loaded {
			c.log.Debug("visibility_selection_unknown", "key", key)
			for _, e := range c.entries() {
				e.binding.ClearSelectedCountry()
			}
		} else {
			c.requestLoad(false)
		}
		return false
	}
	c.selected = f
	c.pendingSelected = nil
	c.mu.Unlock()

	for _, e := range c.entries() {
		e.binding.EnsureSelectedCountryLayers(f)
	}
	return true
}

// ClearSelectedCountry removes the highlight from every map.
func (c *Controller) ClearSelectedCountry() {
	c.mu.Lock()
	c.selectedKey = nil
	c.selected = nil
	c.pendingSelected = nil
	c.mu.Unlock()
	for _, e := range c.entries() {
		e.binding.ClearSelectedCountry()
	}
}

// SelectedCountry returns the selected key and, once resolved, its feature.
func (c *Controller) SelectedCountry() (key any, f *geojson.Feature) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selectedKey, c.selected
}

// PendingSelection returns the key waiting for the dataset, if any.
func (c *Controller) PendingSelection() (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pendingSelected, c.pendingSelected != nil
}
