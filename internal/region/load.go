package region

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/jonas-p/go-shp"
	"github.com/rotisserie/eris"
	"github.com/tidwall/gjson"
	"github.com/twpayne/go-geom"
	"github.com/twpayne/go-geom/encoding/geojson"
	"github.com/twpayne/go-geom/xy"
	"github.com/twpayne/go-geom/xy/location"
	"go.uber.org/zap"
)

// LoadFiles reads every boundary file and unions them into one Region.
// Files ending in .shp are read as ESRI shapefiles, anything else as GeoJSON.
func LoadFiles(paths ...string) (*Region, error) {
	if len(paths) == 0 {
		return nil, eris.Wrap(ErrInvalidGeometry, "no boundary files")
	}

	var geoms []geom.T
	for _, path := range paths {
		var (
			gs  []geom.T
			err error
		)
		if strings.EqualFold(filepath.Ext(path), ".shp") {
			gs, err = readShapefile(path)
		} else {
			gs, err = readGeoJSONFile(path)
		}
		if err != nil {
			return nil, err
		}
		geoms = append(geoms, gs...)
	}

	zap.L().Debug("region: loaded boundaries",
		zap.Strings("paths", paths),
		zap.Int("geometries", len(geoms)),
	)
	return New(geoms...)
}

// LoadGeoJSON reads a FeatureCollection, a single Feature or a bare geometry
// and unions its polygons into a Region.
func LoadGeoJSON(r io.Reader) (*Region, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, eris.Wrap(err, "region: read geojson")
	}
	geoms, err := decodeGeoJSON(data)
	if err != nil {
		return nil, err
	}
	return New(geoms...)
}

func readGeoJSONFile(path string) ([]geom.T, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "region: read %s", path)
	}
	geoms, err := decodeGeoJSON(data)
	if err != nil {
		return nil, eris.Wrapf(err, "region: %s", path)
	}
	return geoms, nil
}

// decodeGeoJSON decodes each feature geometry on its own so feature ids and
// properties of any shape are ignored.
func decodeGeoJSON(data []byte) ([]geom.T, error) {
	if !gjson.ValidBytes(data) {
		return nil, eris.Wrap(ErrInvalidGeometry, "malformed geojson")
	}
	doc := gjson.ParseBytes(data)

	var raws []gjson.Result
	switch doc.Get("type").String() {
	case "FeatureCollection":
		doc.Get("features").ForEach(func(_, f gjson.Result) bool {
			raws = append(raws, f.Get("geometry"))
			return true
		})
		if len(raws) == 0 {
			return nil, eris.Wrap(ErrInvalidGeometry, "feature collection has no features")
		}
	case "Feature":
		raws = []gjson.Result{doc.Get("geometry")}
	default:
		raws = []gjson.Result{doc}
	}

	geoms := make([]geom.T, 0, len(raws))
	for i, raw := range raws {
		if !raw.Exists() || raw.Type == gjson.Null {
			return nil, eris.Wrapf(ErrInvalidGeometry, "feature %d has no geometry", i)
		}
		var g geom.T
		if err := geojson.Unmarshal([]byte(raw.Raw), &g); err != nil {
			return nil, eris.Wrapf(ErrInvalidGeometry, "feature %d: %v", i, err)
		}
		switch g.(type) {
		case *geom.Polygon, *geom.MultiPolygon:
			geoms = append(geoms, g)
		default:
			return nil, eris.Wrapf(ErrInvalidGeometry, "feature %d is %T, want polygon or multipolygon", i, g)
		}
	}
	return geoms, nil
}

// LoadShapefile reads every polygon record of a shapefile into a Region.
func LoadShapefile(path string) (*Region, error) {
	geoms, err := readShapefile(path)
	if err != nil {
		return nil, err
	}
	return New(geoms...)
}

func readShapefile(path string) ([]geom.T, error) {
	reader, err := shp.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "region: open shapefile %s", path)
	}
	defer func() { _ = reader.Close() }()

	var (
		geoms   []geom.T
		skipped int
	)
	for reader.Next() {
		n, shape := reader.Shape()

		var parts []int32
		var points []shp.Point
		switch s := shape.(type) {
		case *shp.Polygon:
			parts, points = s.Parts, s.Points
		case *shp.PolygonZ:
			parts, points = s.Parts, s.Points
		case nil, *shp.Null:
			skipped++
			continue
		default:
			return nil, eris.Wrapf(ErrInvalidGeometry, "%s record %d is %T, want polygon", path, n, shape)
		}

		mp, err := shapeToMultiPolygon(parts, points)
		if err != nil {
			return nil, eris.Wrapf(err, "%s record %d", path, n)
		}
		if mp != nil {
			geoms = append(geoms, mp)
		}
	}

	if skipped > 0 {
		zap.L().Debug("region: skipped null shapefile records",
			zap.String("path", path),
			zap.Int("skipped", skipped),
		)
	}
	if len(geoms) == 0 {
		return nil, eris.Wrapf(ErrInvalidGeometry, "%s has no polygon records", path)
	}
	return geoms, nil
}

// shapeToMultiPolygon splits shapefile parts into rings. Shapefiles store
// outer rings clockwise and holes counter-clockwise; each hole is attached to
// the first shell containing its first vertex.
func shapeToMultiPolygon(parts []int32, points []shp.Point) (*geom.MultiPolygon, error) {
	if len(parts) == 0 || len(points) == 0 {
		return nil, nil
	}

	var shells, holes [][]float64
	for i := range parts {
		start := int(parts[i])
		end := len(points)
		if i+1 < len(parts) {
			end = int(parts[i+1])
		}
		if start < 0 || end > len(points) || end-start < 4 {
			return nil, eris.Wrapf(ErrInvalidGeometry, "part %d has %d points", i, end-start)
		}
		ring := make([]float64, 0, (end-start)*2)
		for _, p := range points[start:end] {
			ring = append(ring, p.X, p.Y)
		}
		if xy.IsRingCounterClockwise(geom.XY, ring) {
			holes = append(holes, ring)
		} else {
			shells = append(shells, ring)
		}
	}

	// A file with only counter-clockwise rings was written without the
	// orientation convention; treat every ring as a shell.
	if len(shells) == 0 {
		shells, holes = holes, nil
	}

	polys := make([]*geom.Polygon, len(shells))
	for i, s := range shells {
		polys[i] = geom.NewPolygonFlat(geom.XY, s, []int{len(s)})
	}
	for _, h := range holes {
		owner := -1
		for i, p := range polys {
			shell := p.FlatCoords()[:p.Ends()[0]]
			if xy.LocatePointInRing(geom.XY, geom.Coord{h[0], h[1]}, shell) != location.Exterior {
				owner = i
				break
			}
		}
		if owner < 0 {
			zap.L().Debug("region: dropping hole outside every shell")
			continue
		}
		flat := append(append([]float64(nil), polys[owner].FlatCoords()...), h...)
		ends := append(append([]int(nil), polys[owner].Ends()...), len(flat))
		polys[owner] = geom.NewPolygonFlat(geom.XY, flat, ends)
	}

	mp := geom.NewMultiPolygon(geom.XY)
	for _, p := range polys {
		if err := mp.Push(p); err != nil {
			return nil, eris.Wrap(ErrInvalidGeometry, err.Error())
		}
	}
	return mp, nil
}
