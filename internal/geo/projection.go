package geo

import "math"

// TransverseMercator describes a transverse Mercator grid on an ellipsoid.
type TransverseMercator struct {
	SemiMajorAxis   float64 // meters
	InvFlattening   float64
	OriginLat       float64 // degrees
	CentralMeridian float64 // degrees
	ScaleFactor     float64
	FalseEasting    float64
	FalseNorthing   float64
}

// KoreaCentralBelt is the Korea 2000 central belt grid (EPSG:5186) on GRS80,
// used by the Seoul traffic incident feed for grs80tm_x/grs80tm_y.
var KoreaCentralBelt = TransverseMercator{
	SemiMajorAxis:   6378137,
	InvFlattening:   298.257222101,
	OriginLat:       38,
	CentralMeridian: 127,
	ScaleFactor:     1,
	FalseEasting:    200000,
	FalseNorthing:   500000,
}

// FromKoreaCentralBelt converts EPSG:5186 easting/northing to WGS84.
func FromKoreaCentralBelt(x, y float64) Coordinate {
	return KoreaCentralBelt.Inverse(x, y)
}

// Inverse converts grid easting/northing (meters) to a WGS84 coordinate.
// Series expansion after Snyder, "Map Projections: A Working Manual" (1987).
func (tm TransverseMercator) Inverse(x, y float64) Coordinate {
	a := tm.SemiMajorAxis
	f := 1 / tm.InvFlattening
	e2 := f * (2 - f)
	ep2 := e2 / (1 - e2)
	k0 := tm.ScaleFactor
	lat0 := radians(tm.OriginLat)
	lng0 := radians(tm.CentralMeridian)

	m := meridianArc(a, e2, lat0) + (y-tm.FalseNorthing)/k0
	mu := m / (a * (1 - e2/4 - 3*e2*e2/64 - 5*e2*e2*e2/256))

	sq := math.Sqrt(1 - e2)
	e1 := (1 - sq) / (1 + sq)
	phi1 := mu +
		(3*e1/2-27*math.Pow(e1, 3)/32)*math.Sin(2*mu) +
		(21*e1*e1/16-55*math.Pow(e1, 4)/32)*math.Sin(4*mu) +
		(151*math.Pow(e1, 3)/96)*math.Sin(6*mu) +
		(1097*math.Pow(e1, 4)/512)*math.Sin(8*mu)

	sinPhi1 := math.Sin(phi1)
	cosPhi1 := math.Cos(phi1)
	tanPhi1 := math.Tan(phi1)

	c1 := ep2 * cosPhi1 * cosPhi1
	t1 := tanPhi1 * tanPhi1
	w := 1 - e2*sinPhi1*sinPhi1
	n1 := a / math.Sqrt(w)
	r1 := a * (1 - e2) / math.Pow(w, 1.5)
	d := (x - tm.FalseEasting) / (n1 * k0)

	d2 := d * d
	d3 := d2 * d
	d4 := d3 * d
	d5 := d4 * d
	d6 := d5 * d

	lat := phi1 - (n1*tanPhi1/r1)*(d2/2-
		(5+3*t1+10*c1-4*c1*c1-9*ep2)*d4/24+
		(61+90*t1+298*c1+45*t1*t1-252*ep2-3*c1*c1)*d6/720)

	lng := lng0 + (d-
		(1+2*t1+c1)*d3/6+
		(5-2*c1+28*t1-3*c1*c1+8*ep2+24*t1*t1)*d5/120)/cosPhi1

	return Coordinate{Lat: degrees(lat), Lng: degrees(lng)}
}

func meridianArc(a, e2, phi float64) float64 {
	e4 := e2 * e2
	e6 := e4 * e2
	return a * ((1-e2/4-3*e4/64-5*e6/256)*phi -
		(3*e2/8+3*e4/32+45*e6/1024)*math.Sin(2*phi) +
		(15*e4/256+45*e6/1024)*math.Sin(4*phi) -
		(35*e6/3072)*math.Sin(6*phi))
}

func radians(deg float64) float64 { return deg * math.Pi / 180 }

func degrees(rad float64) float64 { return rad * 180 / math.Pi }
