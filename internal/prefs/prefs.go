// Package prefs is the durable key-value storage behind persisted UI
// state such as the country layer toggle.
package prefs

import (
	"context"
	"sync"
)

// ToggleKey holds the persisted country-layer toggle.
const ToggleKey = "plat_incidents_country_layers"

// Toggle sentinels. Any other stored value reads as absent.
const (
	On  = "on"
	Off = "off"
)

// Store gets and sets string values. Get reports ok=false for absent keys.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
}

// ParseToggle reads a stored toggle. ok is false for anything but the two
// sentinels.
func ParseToggle(s string) (on, ok bool) {
	switch s {
	case On:
		return true, true
	case Off:
		return false, true
	}
	return false, false
}

// FormatToggle returns the sentinel for on.
func FormatToggle(on bool) string {
	if on {
		return On
	}
	return Off
}

// Memory is an in-process Store.
type Memory struct {
	mu   sync.RWMutex
	vals map[string]string
}

// NewMemory returns an empty Memory store.
func NewMemory() *Memory {
	return &Memory{vals: make(map[string]string)}
}

func (m *Memory) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	v, ok := m.vals[key]
	return v, ok, nil
}

func (m *Memory) Set(_ context.Context, key, value string) error {
	m.mu.Lock()
	m.vals[key] = value
	m.mu.Unlock()
	return nil
}
