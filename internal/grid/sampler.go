// Package grid lays a uniform metric grid over a region and returns the grid
// points that fall inside it.
package grid

import (
	"math"
	"sort"

	"github.com/mmcloughlin/geohash"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/geosweep/internal/model"
	"github.com/sells-group/geosweep/internal/projection"
	"github.com/sells-group/geosweep/internal/region"
)

// ErrEmptySample is returned when a region yields no sample points at all.
var ErrEmptySample = eris.New("grid: no sample points")

const (
	// coordScale rounds output coordinates to six decimal places.
	coordScale = 1e6

	// GeohashPrecision is the length of SamplePoint.Geohash (~5 m cells).
	GeohashPrecision = 9

	// maxCandidates bounds the grid size so a step typed in the wrong unit
	// fails fast instead of allocating billions of candidates.
	maxCandidates = 25_000_000
)

// Sample returns the grid points of r for the given step in meters. The region
// is projected with proj, a grid is stepped from the projected bounding box
// minimum (half-open on both axes, x outer, y inner), and every grid point
// inside the projected region is projected back and rounded to six decimals.
//
// Every returned point satisfies r.Contains. A non-empty region that no grid
// point falls in still yields one point (its bounding box center or a point on
// its surface); ErrEmptySample is returned only if that also fails.
func Sample(r *region.Region, stepM float64, proj projection.Projector) ([]model.SamplePoint, error) {
	if !(stepM > 0) || math.IsInf(stepM, 1) {
		return nil, eris.Errorf("grid: step must be positive, got %v", stepM)
	}
	if proj == nil {
		return nil, eris.New("grid: projector is required")
	}
	if r == nil || r.Empty() {
		return nil, eris.Wrap(ErrEmptySample, "grid: region is empty")
	}

	log := zap.L().With(
		zap.String("component", "grid"),
		zap.String("projection", proj.Name()),
		zap.Float64("step_m", stepM),
	)

	projected := r.Project(proj)
	b := projected.Bounds()
	minX, minY := b.Min(0), b.Min(1)
	nx := steps(b.Max(0)-minX, stepM)
	ny := steps(b.Max(1)-minY, stepM)
	if float64(nx)*float64(ny) > maxCandidates {
		return nil, eris.Errorf("grid: %d x %d candidates exceeds limit %d, step %v m is too small",
			nx, ny, maxCandidates, stepM)
	}

	var (
		points    []model.SamplePoint
		seen      = make(map[[2]float64]struct{})
		candidate int
		dropped   int
	)
	for i := 0; i < nx; i++ {
		x := minX + float64(i)*stepM
		for j := 0; j < ny; j++ {
			y := minY + float64(j)*stepM
			candidate++
			if !projected.Contains(x, y) {
				continue
			}
			lon, lat := proj.Inverse(x, y)
			p, ok := accept(r, lon, lat, seen)
			if !ok {
				dropped++
				continue
			}
			points = append(points, p)
		}
	}

	if len(points) == 0 {
		p, ok := fallback(r, seen)
		if !ok {
			return nil, eris.Wrapf(ErrEmptySample, "grid: %d candidates, none inside region", candidate)
		}
		log.Warn("grid: region smaller than one cell, using single fallback point",
			zap.Float64("lon", p.Lon),
			zap.Float64("lat", p.Lat),
		)
		points = append(points, p)
	}

	log.Debug("grid: sampled region",
		zap.Int("candidates", candidate),
		zap.Int("points", len(points)),
		zap.Int("dropped_after_rounding", dropped),
	)
	return points, nil
}

// steps is ceil(extent/step), the number of half-open grid coordinates.
func steps(extent, step float64) int {
	if extent <= 0 {
		return 0
	}
	return int(math.Ceil(extent / step))
}

// Round rounds a coordinate to six decimal places.
func Round(v float64) float64 {
	return math.Round(v*coordScale) / coordScale
}

// NewPoint builds a rounded SamplePoint with its geohash.
func NewPoint(lon, lat float64) model.SamplePoint {
	lon, lat = Round(lon), Round(lat)
	return model.SamplePoint{
		Lon:     lon,
		Lat:     lat,
		Geohash: geohash.EncodeWithPrecision(lat, lon, GeohashPrecision),
	}
}

// accept rounds (lon, lat) and keeps it if the rounded point is still inside
// r and has not been produced before. Rounding can push a point that sat on
// the boundary in projected space just outside the geographic region.
func accept(r *region.Region, lon, lat float64, seen map[[2]float64]struct{}) (model.SamplePoint, bool) {
	p := NewPoint(lon, lat)
	if !r.Contains(p.Lon, p.Lat) {
		return model.SamplePoint{}, false
	}
	k := [2]float64{p.Lon, p.Lat}
	if _, dup := seen[k]; dup {
		return model.SamplePoint{}, false
	}
	seen[k] = struct{}{}
	return p, true
}

// fallback picks one point inside a region that the grid missed: the bounding
// box center, then a point on the surface of each polygon, then each polygon's
// first vertex.
func fallback(r *region.Region, seen map[[2]float64]struct{}) (model.SamplePoint, bool) {
	b := r.Bounds()
	cx := (b.Min(0) + b.Max(0)) / 2
	cy := (b.Min(1) + b.Max(1)) / 2
	if p, ok := accept(r, cx, cy, seen); ok {
		return p, true
	}

	shells := r.Shells()
	for _, shell := range shells {
		for _, c := range surfacePoints(shell) {
			if p, ok := accept(r, c[0], c[1], seen); ok {
				return p, true
			}
		}
	}
	for _, shell := range shells {
		if len(shell) < 2 {
			continue
		}
		if p, ok := accept(r, shell[0], shell[1], seen); ok {
			return p, true
		}
	}
	return model.SamplePoint{}, false
}

// surfacePoints returns the midpoints of the interior intervals where a
// horizontal line through the middle of the ring crosses it.
func surfacePoints(ring []float64) [][2]float64 {
	n := len(ring) / 2
	if n < 3 {
		return nil
	}
	minY, maxY := ring[1], ring[1]
	for i := 1; i < n; i++ {
		minY = min(minY, ring[2*i+1])
		maxY = max(maxY, ring[2*i+1])
	}
	y := (minY + maxY) / 2

	var xs []float64
	for i := 0; i < n; i++ {
		j := (i + 1) % n
		x1, y1 := ring[2*i], ring[2*i+1]
		x2, y2 := ring[2*j], ring[2*j+1]
		if (y1 <= y) == (y2 <= y) {
			continue
		}
		xs = append(xs, x1+(y-y1)*(x2-x1)/(y2-y1))
	}
	sort.Float64s(xs)

	out := make([][2]float64, 0, len(xs)/2)
	for i := 0; i+1 < len(xs); i += 2 {
		out = append(out, [2]float64{(xs[i] + xs[i+1]) / 2, y})
	}
	return out
}
