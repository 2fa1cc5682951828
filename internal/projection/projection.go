// Package projection converts between geographic coordinates (WGS84 degrees)
// and planar coordinates in meters.
package projection

import (
	"math"

	"github.com/rotisserie/eris"
	"github.com/twpayne/go-geom"
)

// Supported projection kinds.
const (
	KindUTM         = "utm"
	KindWebMercator = "web_mercator"
)

// WGS84 ellipsoid.
const (
	semiMajor  = 6378137.0
	flattening = 1 / 298.257223563
)

// Projector maps longitude/latitude to planar meters and back.
type Projector interface {
	Forward(lon, lat float64) (x, y float64)
	Inverse(x, y float64) (lon, lat float64)
	Name() string
}

// ForBounds returns a projector of the given kind suited to a region with the
// given geographic bounds. UTM uses the zone of the bounds center.
func ForBounds(kind string, b *geom.Bounds) (Projector, error) {
	switch kind {
	case "", KindUTM:
		if b == nil || b.IsEmpty() {
			return nil, eris.New("projection: utm needs non-empty bounds")
		}
		lon := (b.Min(0) + b.Max(0)) / 2
		lat := (b.Min(1) + b.Max(1)) / 2
		return UTM(lon, lat), nil
	case KindWebMercator:
		return WebMercator{}, nil
	default:
		return nil, eris.Errorf("projection: unknown kind %q (valid: utm, web_mercator)", kind)
	}
}

// Valid reports whether kind names a supported projection.
func Valid(kind string) bool {
	return kind == "" || kind == KindUTM || kind == KindWebMercator
}

// WebMercator is EPSG:3857 on a sphere of the WGS84 semi-major axis. Distances
// are stretched by 1/cos(lat), so step sizes are only nominal meters away
// from the equator.
type WebMercator struct{}

// maxMercatorLat keeps tan() finite at the poles.
const maxMercatorLat = 85.05112878

// Forward projects lon/lat degrees to EPSG:3857 meters.
func (WebMercator) Forward(lon, lat float64) (float64, float64) {
	lat = math.Max(-maxMercatorLat, math.Min(maxMercatorLat, lat))
	x := semiMajor * lon * math.Pi / 180
	y := semiMajor * math.Log(math.Tan(math.Pi/4+lat*math.Pi/360))
	return x, y
}

// Inverse converts EPSG:3857 meters to lon/lat degrees.
func (WebMercator) Inverse(x, y float64) (float64, float64) {
	lon := x / semiMajor * 180 / math.Pi
	lat := (2*math.Atan(math.Exp(y/semiMajor)) - math.Pi/2) * 180 / math.Pi
	return lon, lat
}

// Name returns the projection kind.
func (WebMercator) Name() string { return KindWebMercator }

// TransverseMercator is a transverse Mercator projection on the WGS84
// ellipsoid (Snyder, USGS PP 1395, eq. 8-9 to 8-25). Accurate to well under a
// meter within a few degrees of the central meridian.
type TransverseMercator struct {
	CentralMeridian float64 // degrees
	ScaleFactor     float64
	FalseEasting    float64
	FalseNorthing   float64
	Zone            int // informational; 0 for custom projections
}

// UTM returns the UTM zone projection covering the given location.
func UTM(lon, lat float64) TransverseMercator {
	zone := int(math.Floor((lon+180)/6)) + 1
	if zone < 1 {
		zone = 1
	}
	if zone > 60 {
		zone = 60
	}
	tm := TransverseMercator{
		CentralMeridian: float64(zone*6 - 183),
		ScaleFactor:     0.9996,
		FalseEasting:    500000,
		Zone:            zone,
	}
	if lat < 0 {
		tm.FalseNorthing = 10000000
	}
	return tm
}

// Name returns the projection kind.
func (TransverseMercator) Name() string { return KindUTM }

func ellipsoid() (e2, ep2 float64) {
	e2 = flattening * (2 - flattening)
	ep2 = e2 / (1 - e2)
	return e2, ep2
}

// meridianArc is the distance along the meridian from the equator to phi.
func meridianArc(phi, e2 float64) float64 {
	e4 := e2 * e2
	e6 := e4 * e2
	return semiMajor * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))
}

// Forward projects lon/lat degrees to easting/northing meters.
func (tm TransverseMercator) Forward(lon, lat float64) (float64, float64) {
	e2, ep2 := ellipsoid()
	k0 := tm.ScaleFactor
	phi := lat * math.Pi / 180
	dLambda := (lon - tm.CentralMeridian) * math.Pi / 180

	sinPhi, cosPhi := math.Sincos(phi)
	tanPhi := math.Tan(phi)
	n := semiMajor / math.Sqrt(1-e2*sinPhi*sinPhi)
	t := tanPhi * tanPhi
	c := ep2 * cosPhi * cosPhi
	a := dLambda * cosPhi
	m := meridianArc(phi, e2)

	a2 := a * a
	a3 := a2 * a
	a4 := a3 * a
	a5 := a4 * a
	a6 := a5 * a

	x := k0 * n * (a + (1-t+c)*a3/6 + (5-18*t+t*t+72*c-58*ep2)*a5/120)
	y := k0 * (m + n*tanPhi*(a2/2+(5-t+9*c+4*c*c)*a4/24+(61-58*t+t*t+600*c-330*ep2)*a6/720))
	return x + tm.FalseEasting, y + tm.FalseNorthing
}

// Inverse converts easting/northing meters back to lon/lat degrees.
func (tm TransverseMercator) Inverse(x, y float64) (float64, float64) {
	e2, ep2 := ellipsoid()
	k0 := tm.ScaleFactor
	x -= tm.FalseEasting
	y -= tm.FalseNorthing

	e4 := e2 * e2
	e6 := e4 * e2
	m := y / k0
	mu := m / (semiMajor * (1 - e2/4 - 3*e4/64 - 5*e6/256))
	sq := math.Sqrt(1 - e2)
	e1 := (1 - sq) / (1 + sq)
	e12 := e1 * e1
	e13 := e12 * e1
	e14 := e13 * e1

	phi1 := mu + (3*e1/2-27*e13/32)*math.Sin(2*mu) +
		(21*e12/16-55*e14/32)*math.Sin(4*mu) +
		(151*e13/96)*math.Sin(6*mu) +
		(1097*e14/512)*math.Sin(8*mu)

	sinPhi1, cosPhi1 := math.Sincos(phi1)
	tanPhi1 := math.Tan(phi1)
	c1 := ep2 * cosPhi1 * cosPhi1
	t1 := tanPhi1 * tanPhi1
	w := 1 - e2*sinPhi1*sinPhi1
	n1 := semiMajor / math.Sqrt(w)
	r1 := semiMajor * (1 - e2) / (w * math.Sqrt(w))
	d := x / (n1 * k0)

	d2 := d * d
	d3 := d2 * d
	d4 := d3 * d
	d5 := d4 * d
	d6 := d5 * d

	phi := phi1 - (n1*tanPhi1/r1)*(d2/2-
		(5+3*t1+10*c1-4*c1*c1-9*ep2)*d4/24+
		(61+90*t1+298*c1+45*t1*t1-252*ep2-3*c1*c1)*d6/720)
	lambda := (d - (1+2*t1+c1)*d3/6 +
		(5-2*c1+28*t1-3*c1*c1+8*ep2+24*t1*t1)*d5/120) / cosPhi1

	return tm.CentralMeridian + lambda*180/math.Pi, phi * 180 / math.Pi
}
