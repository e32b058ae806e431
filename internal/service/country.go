package service

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
	"github.com/paulmach/orb/simplify"

	"github.com/joeblew999/plat-incidents/internal/geodata"
)

// Default simplification tolerance in degrees.
const DefaultTolerance = 0.05

// Property names read from third-party boundary files when the canonical
// ones are missing.
var (
	nameProps = []string{geodata.PropName, "NAME", "ADMIN", "name_en"}
	isoProps  = []string{geodata.PropISO, "ISO_A2", "iso_a2", "ISO2", "iso"}
)

// CountryService serves the country boundary collection.
type CountryService struct {
	dataDir   string
	tolerance float64

	mu          sync.RWMutex
	full        *geojson.FeatureCollection
	simple      *geojson.FeatureCollection
	index       *geodata.Index
	lastUpdated string
}

// NewCountryService creates a service reading from dataDir. A zero
// tolerance uses DefaultTolerance.
func NewCountryService(dataDir string, tolerance float64) *CountryService {
	if tolerance <= 0 {
		tolerance = DefaultTolerance
	}
	return &CountryService{
		dataDir:   dataDir,
		tolerance: tolerance,
		index:     geodata.BuildIndexes(nil),
	}
}

// SourcePath returns the boundary file path.
func (s *CountryService) SourcePath() string {
	return filepath.Join(s.dataDir, "sources", "countries.geojson")
}

// StaticPath returns the exported snapshot path.
func (s *CountryService) StaticPath() string {
	return filepath.Join(s.dataDir, "static", "countries.json")
}

// Load reads and normalises the boundary file.
func (s *CountryService) Load() error {
	data, err := os.ReadFile(s.SourcePath())
	if err != nil {
		return fmt.Errorf("read countries: %w", err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(data)
	if err != nil {
		return fmt.Errorf("parse countries: %w", err)
	}
	s.Set(fc)
	return nil
}

// Set replaces the collection. Features gain term_id, slug and iso_code
// when they lack them.
func (s *CountryService) Set(fc *geojson.FeatureCollection) {
	Normalize(fc)
	simple := simplifyCollection(fc, s.tolerance)

	s.mu.Lock()
	defer s.mu.Unlock()
	s.full = fc
	s.simple = simple
	s.index = geodata.BuildIndexes(fc)
	if s.lastUpdated == "" {
		s.lastUpdated = time.Now().UTC().Format(time.RFC3339)
	}
}

// Collection returns the loaded collection, or ErrNotFound before Load.
// The result is shared and must not be modified.
func (s *CountryService) Collection(simplified bool) (*geojson.FeatureCollection, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.full == nil {
		return nil, ErrNotFound
	}
	if simplified {
		return s.simple, nil
	}
	return s.full, nil
}

// Get resolves a country by term_id, slug or ISO code.
func (s *CountryService) Get(key string) (*geojson.Feature, error) {
	s.mu.RLock()
	idx := s.index
	s.mu.RUnlock()
	f := idx.Find(key)
	if f == nil {
		return nil, fmt.Errorf("country %q: %w", key, ErrNotFound)
	}
	return f, nil
}

// List returns every country ordered by name.
func (s *CountryService) List() []CountryInfo {
	s.mu.RLock()
	fc := s.full
	s.mu.RUnlock()
	if fc == nil {
		return nil
	}
	out := make([]CountryInfo, 0, len(fc.Features))
	for _, f := range fc.Features {
		out = append(out, InfoOf(f))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// LastUpdated returns the stamp of the current collection.
func (s *CountryService) LastUpdated() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastUpdated
}

// Export writes the simplified collection to StaticPath with a fresh
// last_updated member and returns the stamp.
func (s *CountryService) Export() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.full == nil {
		return "", ErrNotFound
	}
	stamp := time.Now().UTC().Format(time.RFC3339)

	out := geojson.NewFeatureCollection()
	out.Features = s.simple.Features
	out.ExtraMembers = geojson.Properties{"last_updated": stamp}
	data, err := json.Marshal(out)
	if err != nil {
		return "", err
	}

	path := filepath.Join(s.dataDir, "static", "countries.json")
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		return "", err
	}
	s.lastUpdated = stamp
	return stamp, nil
}

// InfoOf extracts the listing fields of a normalised feature.
func InfoOf(f *geojson.Feature) CountryInfo {
	id, _ := geodata.IDOf(f)
	n, _ := strconv.ParseInt(id, 10, 64)
	return CountryInfo{
		ID:   n,
		Name: f.Properties.MustString(geodata.PropName, ""),
		Slug: f.Properties.MustString(geodata.PropSlug, ""),
		ISO:  f.Properties.MustString(geodata.PropISO, ""),
	}
}

// Normalize fills in name, term_id, slug and iso_code. New ids continue
// after the largest existing one, in feature order.
func Normalize(fc *geojson.FeatureCollection) {
	if fc == nil {
		return
	}
	var next int64
	for _, f := range fc.Features {
		if id, ok := geodata.IDOf(f); ok {
			if n, err := strconv.ParseInt(id, 10, 64); err == nil && n > next {
				next = n
			}
		}
	}
	for _, f := range fc.Features {
		if f.Properties == nil {
			f.Properties = geojson.Properties{}
		}
		p := f.Properties
		name := firstString(p, nameProps)
		if name != "" {
			p[geodata.PropName] = name
		}
		if id, ok := geodata.IDOf(f); !ok {
			next++
			p[geodata.PropID] = next
		} else if _, has := p[geodata.PropID]; !has {
			n, _ := strconv.ParseInt(id, 10, 64)
			p[geodata.PropID] = n
		}
		if p.MustString(geodata.PropSlug, "") == "" && name != "" {
			p[geodata.PropSlug] = slugify(name)
		}
		if iso := strings.ToUpper(firstString(p, isoProps)); len(iso) == 2 {
			p[geodata.PropISO] = iso
		} else {
			delete(p, geodata.PropISO)
		}
	}
}

func firstString(p geojson.Properties, keys []string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(p.MustString(k, "")); s != "" {
			return s
		}
	}
	return ""
}

// slugify creates a URL-safe slug from a name.
func slugify(name string) string {
	var b strings.Builder
	dash := false
	for _, r := range strings.ToLower(name) {
		switch {
		case (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
			dash = false
		case !dash && b.Len() > 0:
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.TrimSuffix(b.String(), "-")
}

func simplifyCollection(fc *geojson.FeatureCollection, tolerance float64) *geojson.FeatureCollection {
	out := geojson.NewFeatureCollection()
	if fc == nil {
		return out
	}
	s := simplify.DouglasPeucker(tolerance)
	for _, f := range fc.Features {
		nf := &geojson.Feature{
			ID:         f.ID,
			Type:       f.Type,
			Properties: f.Properties.Clone(),
		}
		if f.Geometry != nil {
			nf.Geometry = s.Simplify(orb.Clone(f.Geometry))
		}
		out.Append(nf)
	}
	return out
}
