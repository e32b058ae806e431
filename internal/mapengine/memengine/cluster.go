package memengine

import (
	"fmt"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/geojson"
)

const (
	tileExtent      = 512
	defaultMaxZoom  = 14
	defaultRadiusPx = 50
	clusterZoomBits = 5
	clusterZoomMask = 1<<clusterZoomBits - 1
)

// clusterNode is one rendered item of a clustered source at a given zoom:
// either a lone feature (members has one index) or a cluster.
type clusterNode struct {
	id      int
	members []int
	center  orb.Point
}

func (n clusterNode) feature(fc *geojson.FeatureCollection) *geojson.Feature {
	if len(n.members) == 1 {
		return fc.Features[n.members[0]]
	}
	f := geojson.NewFeature(n.center)
	f.Properties["cluster"] = true
	f.Properties["cluster_id"] = n.id
	f.Properties["point_count"] = len(n.members)
	f.Properties["point_count_abbreviated"] = abbreviate(len(n.members))
	return f
}

func (n clusterNode) contains(i int) bool {
	for _, m := range n.members {
		if m == i {
			return true
		}
	}
	return false
}

func abbreviate(n int) string {
	switch {
	case n >= 1_000_000:
		return fmt.Sprintf("%dM", n/1_000_000)
	case n >= 10_000:
		return fmt.Sprintf("%dk", n/1000)
	case n >= 1000:
		return fmt.Sprintf("%.1fk", float64(n)/1000)
	default:
		return fmt.Sprint(n)
	}
}

func (s *source) maxZoom() int {
	if s.spec.ClusterMaxZoom > 0 {
		return s.spec.ClusterMaxZoom
	}
	return defaultMaxZoom
}

func (s *source) radius() int {
	if s.spec.ClusterRadius > 0 {
		return s.spec.ClusterRadius
	}
	return defaultRadiusPx
}

// clustersAt groups the source's point features greedily: each unassigned
// point in input order absorbs every unassigned point within the pixel
// radius at zoom z. Above the max cluster zoom every point stands alone.
func (s *source) clustersAt(z int) []clusterNode {
	if s.clusters == nil {
		s.clusters = make(map[int][]clusterNode)
	}
	if nodes, ok := s.clusters[z]; ok {
		return nodes
	}

	feats := s.spec.Data.Features
	proj := make([]orb.Point, len(feats))
	isPoint := make([]bool, len(feats))
	for i, f := range feats {
		if p, ok := f.Geometry.(orb.Point); ok {
			proj[i] = project(p)
			isPoint[i] = true
		}
	}

	r := float64(s.radius()) / (tileExtent * math.Pow(2, float64(z)))
	taken := make([]bool, len(feats))
	var nodes []clusterNode
	for i := range feats {
		if taken[i] {
			continue
		}
		taken[i] = true
		members := []int{i}
		if isPoint[i] && z <= s.maxZoom() {
			for j := i + 1; j < len(feats); j++ {
				if taken[j] || !isPoint[j] {
					continue
				}
				dx, dy := proj[j][0]-proj[i][0], proj[j][1]-proj[i][1]
				if dx*dx+dy*dy <= r*r {
					taken[j] = true
					members = append(members, j)
				}
			}
		}
		n := clusterNode{id: i<<clusterZoomBits + z + 1, members: members}
		if len(members) > 1 {
			var sx, sy float64
			for _, m := range members {
				p := feats[m].Geometry.(orb.Point)
				sx += p[0]
				sy += p[1]
			}
			n.center = orb.Point{sx / float64(len(members)), sy / float64(len(members))}
		}
		nodes = append(nodes, n)
	}
	s.clusters[z] = nodes
	return nodes
}

// expansionZoom returns the first zoom at which the cluster's seed point no
// longer carries all of the cluster's members.
func (s *source) expansionZoom(clusterID int) (float64, error) {
	z := clusterID&clusterZoomMask - 1
	seed := clusterID >> clusterZoomBits
	if z < 0 || s.spec.Data == nil || seed >= len(s.spec.Data.Features) {
		return 0, fmt.Errorf("cluster %d not found", clusterID)
	}

	size := 0
	for _, n := range s.clustersAt(z) {
		if n.id == clusterID {
			size = len(n.members)
		}
	}
	if size < 2 {
		return 0, fmt.Errorf("cluster %d not found", clusterID)
	}

	for next := z + 1; next <= s.maxZoom(); next++ {
		for _, n := range s.clustersAt(next) {
			if n.contains(seed) && len(n.members) < size {
				return float64(next), nil
			}
		}
	}
	return float64(s.maxZoom() + 1), nil
}

// project maps lng/lat to web mercator unit coordinates in [0,1].
func project(p orb.Point) orb.Point {
	lat := math.Max(-85.0511, math.Min(85.0511, p[1]))
	sin := math.Sin(lat * math.Pi / 180)
	x := p[0]/360 + 0.5
	y := 0.5 - 0.25*math.Log((1+sin)/(1-sin))/math.Pi
	return orb.Point{x, y}
}
