package service

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"

	"github.com/joeblew999/plat-incidents/internal/geodata"
)

func boundaries() *geojson.FeatureCollection {
	fc := geojson.NewFeatureCollection()

	// Dense square; the midpoints vanish under simplification.
	ring := orb.Ring{{0, 0}, {0.5, 0.001}, {1, 0}, {1, 1}, {0, 1}, {0, 0}}
	fr := geojson.NewFeature(orb.Polygon{ring})
	fr.Properties["NAME"] = "Côte d'Ivoire"
	fr.Properties["ISO_A2"] = "ci"
	fc.Append(fr)

	de := geojson.NewFeature(orb.Polygon{{{10, 10}, {11, 10}, {11, 11}, {10, 10}}})
	de.Properties[geodata.PropName] = "Germany"
	de.Properties[geodata.PropID] = 7.0
	de.Properties[geodata.PropSlug] = "germany"
	de.Properties["ISO_A2"] = "-99"
	fc.Append(de)
	return fc
}

func TestNormalize(t *testing.T) {
	fc := boundaries()
	Normalize(fc)

	ci := fc.Features[0].Properties
	if got := ci[geodata.PropID]; got != int64(8) {
		t.Fatalf("term_id=%v, want 8", got)
	}
	if got := ci.MustString(geodata.PropSlug, ""); got != "c-te-d-ivoire" {
		t.Fatalf("slug=%q", got)
	}
	if got := ci.MustString(geodata.PropISO, ""); got != "CI" {
		t.Fatalf("iso=%q", got)
	}
	if got := ci.MustString(geodata.PropName, ""); got != "Côte d'Ivoire" {
		t.Fatalf("name=%q", got)
	}
	if _, ok := fc.Features[1].Properties[geodata.PropISO]; ok {
		t.Fatal("placeholder ISO code kept")
	}
}

func TestSlugify(t *testing.T) {
	cases := map[string]string{
		"United Kingdom":  "united-kingdom",
		"  Bosnia & Herz": "bosnia-herz",
		"Timor-Leste!":    "timor-leste",
	}
	for in, want := range cases {
		if got := slugify(in); got != want {
			t.Fatalf("slugify(%q)=%q, want %q", in, got, want)
		}
	}
}

func TestCountryServiceLookup(t *testing.T) {
	s := NewCountryService(t.TempDir(), 0)
	if _, err := s.Collection(false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound before load", err)
	}
	s.Set(boundaries())

	for _, key := range []string{"7", "germany", "GERMANY"} {
		f, err := s.Get(key)
		if err != nil || InfoOf(f).ID != 7 {
			t.Fatalf("Get(%q)=%v,%v", key, f, err)
		}
	}
	if _, err := s.Get("atlantis"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err=%v, want ErrNotFound", err)
	}

	list := s.List()
	if len(list) != 2 || list[0].Name != "Côte d'Ivoire" || list[1].Slug != "germany" {
		t.Fatalf("list=%+v", list)
	}
}

func TestSimplifiedCollection(t *testing.T) {
	s := NewCountryService(t.TempDir(), 0.01)
	s.Set(boundaries())

	full, _ := s.Collection(false)
	simple, _ := s.Collection(true)
	fr := len(full.Features[0].Geometry.(orb.Polygon)[0])
	sr := len(simple.Features[0].Geometry.(orb.Polygon)[0])
	if fr != 6 || sr >= fr {
		t.Fatalf("ring points full=%d simplified=%d", fr, sr)
	}
	if simple.Features[0].Properties.MustString(geodata.PropSlug, "") == "" {
		t.Fatal("simplified features lost their properties")
	}
}

func TestLoadAndExport(t *testing.T) {
	dir := t.TempDir()
	s := NewCountryService(dir, 0)
	if err := s.Load(); err == nil {
		t.Fatal("expected error for missing source file")
	}

	data, _ := json.Marshal(boundaries())
	os.MkdirAll(filepath.Join(dir, "sources"), 0755)
	if err := os.WriteFile(s.SourcePath(), data, 0644); err != nil {
		t.Fatal(err)
	}
	if err := s.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	stamp, err := s.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}
	if s.LastUpdated() != stamp {
		t.Fatalf("LastUpdated=%q, want %q", s.LastUpdated(), stamp)
	}
	raw, err := os.ReadFile(s.StaticPath())
	if err != nil {
		t.Fatal(err)
	}
	fc, err := geojson.UnmarshalFeatureCollection(raw)
	if err != nil {
		t.Fatalf("exported snapshot: %v", err)
	}
	if len(fc.Features) != 2 || fc.ExtraMembers.MustString("last_updated", "") != stamp {
		t.Fatalf("features=%d last_updated=%v", len(fc.Features), fc.ExtraMembers["last_updated"])
	}
}
