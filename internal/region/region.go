// Package region loads administrative boundaries and answers point membership
// questions against their union.
package region

import (
	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/location"

	"github.com/sells-group/geosweep/internal/projection"
)

// ErrInvalidGeometry is returned when a boundary feature is not a polygon or
// multi-polygon, or cannot be decoded at all.
var ErrInvalidGeometry = eris.New("region: invalid geometry")

// Region is an immutable union of polygons. A point belongs to the region
// when it lies inside or on the boundary of at least one polygon and not
// strictly inside one of that polygon's holes.
type Region struct {
	mp     *geom.MultiPolygon
	parts  []part
	bounds *geom.Bounds
}

// part caches one polygon's rings and extent for membership tests.
type part struct {
	minX, minY, maxX, maxY float64
	shell                  []float64
	holes                  [][]float64
}

// New unions the given geometries into a Region. Only *geom.Polygon and
// *geom.MultiPolygon are accepted; Z and M ordinates are dropped.
func New(geoms ...geom.T) (*Region, error) {
	mp := geom.NewMultiPolygon(geom.XY)
	for i, g := range geoms {
		switch t := g.(type) {
		case *geom.Polygon:
			if err := pushPolygon(mp, t); err != nil {
				return nil, eris.Wrapf(err, "region: geometry %d", i)
			}
		case *geom.MultiPolygon:
			for j := 0; j < t.NumPolygons(); j++ {
				if err := pushPolygon(mp, t.Polygon(j)); err != nil {
					return nil, eris.Wrapf(err, "region: geometry %d part %d", i, j)
				}
			}
		case nil:
			return nil, eris.Wrapf(ErrInvalidGeometry, "geometry %d is null", i)
		default:
			return nil, eris.Wrapf(ErrInvalidGeometry, "geometry %d is %T, want polygon or multipolygon", i, g)
		}
	}
	return fromMultiPolygon(mp), nil
}

// pushPolygon normalizes p to XY and appends it to mp.
func pushPolygon(mp *geom.MultiPolygon, p *geom.Polygon) error {
	if p == nil || p.Empty() {
		return nil
	}
	rings := p.Coords()
	flat := make([][]geom.Coord, 0, len(rings))
	for i, ring := range rings {
		if len(ring) < 3 {
			return eris.Wrapf(ErrInvalidGeometry, "ring %d has %d coordinates", i, len(ring))
		}
		coords := make([]geom.Coord, len(ring))
		for j, c := range ring {
			coords[j] = geom.Coord{c[0], c[1]}
		}
		flat = append(flat, coords)
	}
	poly, err := geom.NewPolygon(geom.XY).SetCoords(flat)
	if err != nil {
		return eris.Wrap(ErrInvalidGeometry, err.Error())
	}
	if err := mp.Push(poly); err != nil {
		return eris.Wrap(ErrInvalidGeometry, err.Error())
	}
	return nil
}

func fromMultiPolygon(mp *geom.MultiPolygon) *Region {
	r := &Region{mp: mp, bounds: geom.NewBounds(geom.XY)}
	for i := 0; i < mp.NumPolygons(); i++ {
		p := mp.Polygon(i)
		if p.NumLinearRings() == 0 {
			continue
		}
		shell := p.LinearRing(0).FlatCoords()
		pt := part{shell: shell}
		pt.minX, pt.minY, pt.maxX, pt.maxY = extent(shell)
		for j := 1; j < p.NumLinearRings(); j++ {
			pt.holes = append(pt.holes, p.LinearRing(j).FlatCoords())
		}
		r.parts = append(r.parts, pt)
		r.bounds.Extend(p)
	}
	return r
}

func extent(flat []float64) (minX, minY, maxX, maxY float64) {
	minX, minY = flat[0], flat[1]
	maxX, maxY = flat[0], flat[1]
	for i := 2; i+1 < len(flat); i += 2 {
		minX = min(minX, flat[i])
		maxX = max(maxX, flat[i])
		minY = min(minY, flat[i+1])
		maxY = max(maxY, flat[i+1])
	}
	return minX, minY, maxX, maxY
}

// Contains reports whether (x, y) lies in the region, boundary included.
// For a geographic region x is longitude and y is latitude.
func (r *Region) Contains(x, y float64) bool {
	c := geom.Coord{x, y}
	for _, pt := range r.parts {
		if x < pt.minX || x > pt.maxX || y < pt.minY || y > pt.maxY {
			continue
		}
		if xy.LocatePointInRing(geom.XY, c, pt.shell) == location.Exterior {
			continue
		}
		inHole := false
		for _, h := range pt.holes {
			if xy.LocatePointInRing(geom.XY, c, h) == location.Interior {
				inHole = true
				break
			}
		}
		if !inHole {
			return true
		}
	}
	return false
}

// Empty reports whether the region has no polygons.
func (r *Region) Empty() bool {
	return len(r.parts) == 0
}

// NumPolygons returns the number of polygons in the union.
func (r *Region) NumPolygons() int {
	return len(r.parts)
}

// Bounds returns a copy of the region's bounding box.
func (r *Region) Bounds() *geom.Bounds {
	return r.bounds.Clone()
}

// MultiPolygon returns a copy of the underlying geometry.
func (r *Region) MultiPolygon() *geom.MultiPolygon {
	return r.mp.Clone()
}

// Shells returns the flat XY exterior ring of every polygon, in input order.
// The slices are shared with the region and must not be modified.
func (r *Region) Shells() [][]float64 {
	out := make([][]float64, len(r.parts))
	for i, pt := range r.parts {
		out[i] = pt.shell
	}
	return out
}

// Project returns the region with every vertex passed through p.Forward.
// Edges stay straight in the target space.
func (r *Region) Project(p projection.Projector) *Region {
	mp := geom.NewMultiPolygon(geom.XY)
	for i := 0; i < r.mp.NumPolygons(); i++ {
		src := r.mp.Polygon(i)
		coords := src.FlatCoords()
		flat := make([]float64, 0, len(coords))
		for j := 0; j+1 < len(coords); j += 2 {
			x, y := p.Forward(coords[j], coords[j+1])
			flat = append(flat, x, y)
		}
		ends := append([]int(nil), src.Ends()...)
		// Push only fails on layout mismatch, which cannot happen here.
		_ = mp.Push(geom.NewPolygonFlat(geom.XY, flat, ends))
	}
	return fromMultiPolygon(mp)
}
