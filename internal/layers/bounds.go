package layers

import (
	"github.com/paulmach/orb"
)

// GeometryBounds walks every coordinate of g and returns the min/max
// lng/lat box. Empty or nil geometries report false.
func GeometryBounds(g orb.Geometry) (orb.Bound, bool) {
	var (
		b     orb.Bound
		found bool
	)
	var walk func(orb.Geometry)
	walk = func(g orb.Geometry) {
		switch v := g.(type) {
		case orb.Point:
			if !found {
				b = v.Bound()
				found = true
			} else {
				b = b.Extend(v)
			}
		case orb.MultiPoint:
			for _, p := range v {
				walk(p)
			}
		case orb.LineString:
			for _, p := range v {
				walk(p)
			}
		case orb.Ring:
			for _, p := range v {
				walk(p)
			}
		case orb.Polygon:
			for _, r := range v {
				walk(r)
			}
		case orb.MultiLineString:
			for _, ls := range v {
				walk(ls)
			}
		case orb.MultiPolygon:
			for _, p := range v {
				walk(p)
			}
		case orb.Collection:
			for _, c := range v {
				walk(c)
			}
		case orb.Bound:
			walk(v.ToPolygon())
		}
	}
	walk(g)
	return b, found
}
