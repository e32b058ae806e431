package geodata

import (
	"math"
	"strconv"
	"strings"

	"github.com/paulmach/orb/geojson"
)

// Feature property names.
const (
	PropID            = "term_id"
	PropName          = "name"
	PropSlug          = "slug"
	PropISO           = "iso_code"
	PropIncidentCount = "incident_count"
)

// CountryRef identifies a country by any of its keys. The first non-empty
// field wins, in ID, Slug, ISO order.
type CountryRef struct {
	ID   string `json:"id,omitempty"`
	Slug string `json:"slug,omitempty"`
	ISO  string `json:"iso_code,omitempty"`
}

// Index resolves features by numeric id, lowercased slug and uppercased
// ISO code. It is rebuilt wholesale; it never tracks partial edits.
type Index struct {
	byID   map[string]*geojson.Feature
	bySlug map[string]*geojson.Feature
	byISO  map[string]*geojson.Feature
}

// BuildIndexes indexes every feature of fc. A nil fc yields an empty index.
func BuildIndexes(fc *geojson.FeatureCollection) *Index {
	idx := &Index{
		byID:   make(map[string]*geojson.Feature),
		bySlug: make(map[string]*geojson.Feature),
		byISO:  make(map[string]*geojson.Feature),
	}
	if fc == nil {
		return idx
	}
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		if id, ok := IDOf(f); ok {
			idx.byID[id] = f
		}
		if s := f.Properties.MustString(PropSlug, ""); s != "" {
			idx.bySlug[strings.ToLower(s)] = f
		}
		if s := f.Properties.MustString(PropISO, ""); s != "" {
			idx.byISO[strings.ToUpper(s)] = f
		}
	}
	return idx
}

// Len returns the number of features indexed by id.
func (idx *Index) Len() int { return len(idx.byID) }

// Find resolves key, which may be a number, a numeric string, a slug or ISO
// code in any case, a CountryRef, a map carrying term_id/id/slug/iso_code, or
// a feature. It returns nil when nothing matches.
func (idx *Index) Find(key any) *geojson.Feature {
	if idx == nil {
		return nil
	}
	switch k := key.(type) {
	case nil:
		return nil
	case *geojson.Feature:
		if k == nil {
			return nil
		}
		return idx.Find(map[string]any(k.Properties))
	case CountryRef:
		return idx.findRef(k)
	case *CountryRef:
		if k == nil {
			return nil
		}
		return idx.findRef(*k)
	case map[string]any:
		for _, p := range []string{PropID, "id"} {
			if v, ok := k[p]; ok {
				if id, ok := numericKey(v); ok {
					if f := idx.byID[id]; f != nil {
						return f
					}
				}
			}
		}
		if s, ok := k[PropSlug].(string); ok {
			if f := idx.bySlug[strings.ToLower(s)]; f != nil {
				return f
			}
		}
		if s, ok := k[PropISO].(string); ok {
			if f := idx.byISO[strings.ToUpper(s)]; f != nil {
				return f
			}
		}
		return nil
	case string:
		s := strings.TrimSpace(k)
		if s == "" {
			return nil
		}
		if id, ok := numericKey(s); ok {
			if f := idx.byID[id]; f != nil {
				return f
			}
		}
		if f := idx.bySlug[strings.ToLower(s)]; f != nil {
			return f
		}
		return idx.byISO[strings.ToUpper(s)]
	default:
		if id, ok := numericKey(k); ok {
			return idx.byID[id]
		}
		return nil
	}
}

func (idx *Index) findRef(r CountryRef) *geojson.Feature {
	switch {
	case r.ID != "":
		return idx.Find(r.ID)
	case r.Slug != "":
		return idx.bySlug[strings.ToLower(r.Slug)]
	case r.ISO != "":
		return idx.byISO[strings.ToUpper(r.ISO)]
	}
	return nil
}

// IDOf returns the feature's numeric id as a canonical decimal string.
func IDOf(f *geojson.Feature) (string, bool) {
	if f == nil {
		return "", false
	}
	if v, ok := f.Properties[PropID]; ok {
		return numericKey(v)
	}
	return numericKey(f.ID)
}

func numericKey(v any) (string, bool) {
	switch n := v.(type) {
	case int:
		return strconv.Itoa(n), true
	case int64:
		return strconv.FormatInt(n, 10), true
	case int32:
		return strconv.FormatInt(int64(n), 10), true
	case uint:
		return strconv.FormatUint(uint64(n), 10), true
	case uint64:
		return strconv.FormatUint(n, 10), true
	case float64:
		if n != math.Trunc(n) || math.IsInf(n, 0) {
			return "", false
		}
		return strconv.FormatInt(int64(n), 10), true
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return "", false
		}
		return strconv.FormatInt(i, 10), true
	default:
		return "", false
	}
}

// MergeCounts returns a copy of fc whose features each carry a non-negative
// integer incident_count, looked up by id then by slug and defaulting to 0.
// Geometry is shared with fc; properties are copied.
func MergeCounts(fc *geojson.FeatureCollection, c Counts) *geojson.FeatureCollection {
	if fc == nil {
		return nil
	}
	out := geojson.NewFeatureCollection()
	out.BBox = fc.BBox
	out.ExtraMembers = fc.ExtraMembers
	for _, f := range fc.Features {
		if f == nil {
			continue
		}
		nf := &geojson.Feature{
			ID:         f.ID,
			Type:       f.Type,
			BBox:       f.BBox,
			Geometry:   f.Geometry,
			Properties: f.Properties.Clone(),
		}
		if nf.Properties == nil {
			nf.Properties = geojson.Properties{}
		}
		n := 0
		found := false
		if id, ok := IDOf(f); ok {
			n, found = c.ByID[id]
		}
		if !found {
			if s := strings.ToLower(f.Properties.MustString(PropSlug, "")); s != "" {
				n, found = c.BySlug[s]
			}
		}
		if n < 0 {
			n = 0
		}
		nf.Properties[PropIncidentCount] = n
		out.Append(nf)
	}
	return out
}

// IncidentCount reads incident_count as an int, 0 when absent.
func IncidentCount(f *geojson.Feature) int {
	if f == nil {
		return 0
	}
	switch n := f.Properties[PropIncidentCount].(type) {
	case int:
		return n
	case float64:
		return int(n)
	}
	return 0
}
