package prefs

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// File is a Store persisted as one JSON object in dir/preferences.json.
type File struct {
	dir  string
	vals map[string]string
	mu   sync.RWMutex
}

// NewFile loads dir/preferences.json if present. A missing or malformed
// file starts empty.
func NewFile(dir string) *File {
	f := &File{
		dir:  dir,
		vals: make(map[string]string),
	}
	f.loadFromDisk()
	return f
}

func (f *File) Get(_ context.Context, key string) (string, bool, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	v, ok := f.vals[key]
	return v, ok, nil
}

func (f *File) Set(_ context.Context, key, value string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	prev, had := f.vals[key]
	f.vals[key] = value
	if err := f.saveToDisk(); err != nil {
		if had {
			f.vals[key] = prev
		} else {
			delete(f.vals, key)
		}
		return fmt.Errorf("save preferences: %w", err)
	}
	return nil
}

// All returns a copy of every stored value.
func (f *File) All() map[string]string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]string, len(f.vals))
	for k, v := range f.vals {
		out[k] = v
	}
	return out
}

func (f *File) path() string {
	return filepath.Join(f.dir, "preferences.json")
}

func (f *File) loadFromDisk() {
	data, err := os.ReadFile(f.path())
	if err != nil {
		return // not written yet
	}
	var vals map[string]string
	if err := json.Unmarshal(data, &vals); err != nil || vals == nil {
		return
	}
	f.vals = vals
}

func (f *File) saveToDisk() error {
	if err := os.MkdirAll(f.dir, 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(f.vals, "", "  ")
	if err != nil {
		return err
	}
	tmp := f.path() + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return err
	}
	return os.Rename(tmp, f.path())
}
