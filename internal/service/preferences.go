package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/joeblew999/plat-incidents/internal/prefs"
)

// ErrInvalidKey is returned for keys outside [a-z0-9_-], 1 to 64 long.
var ErrInvalidKey = errors.New("invalid preference key")

var keyPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]{0,63}$`)

// PreferenceService stores small per-installation values such as the
// persisted country-layer toggle.
type PreferenceService struct {
	store prefs.Store
	bus   *EventBus
}

// NewPreferenceService wraps store. A nil bus uses DefaultBus.
func NewPreferenceService(store prefs.Store, bus *EventBus) *PreferenceService {
	if bus == nil {
		bus = DefaultBus
	}
	return &PreferenceService{store: store, bus: bus}
}

// Get returns the stored value or ErrNotFound.
func (s *PreferenceService) Get(ctx context.Context, key string) (prefs.Value, error) {
	if !keyPattern.MatchString(key) {
		return prefs.Value{}, ErrInvalidKey
	}
	v, ok, err := s.store.Get(ctx, key)
	if err != nil {
		return prefs.Value{}, fmt.Errorf("get preference %s: %w", key, err)
	}
	if !ok {
		return prefs.Value{}, fmt.Errorf("preference %s: %w", key, ErrNotFound)
	}
	return prefs.Value{Key: key, Value: v}, nil
}

// Set stores value and publishes a preferences/updated event.
func (s *PreferenceService) Set(ctx context.Context, key, value string) (prefs.Value, error) {
	if !keyPattern.MatchString(key) {
		return prefs.Value{}, ErrInvalidKey
	}
	if err := s.store.Set(ctx, key, value); err != nil {
		return prefs.Value{}, fmt.Errorf("set preference %s: %w", key, err)
	}
	s.bus.Publish(Event{
		Resource: ResourcePreferences,
		Action:   "updated",
		ID:       key,
		Data:     map[string]any{"value": value},
	})
	return prefs.Value{Key: key, Value: value}, nil
}
