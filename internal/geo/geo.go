// Package geo holds the spherical distance math behind proximity queries.
package geo

import (
	"math"

	"github.com/mr1hm/go-grievance-risk/internal/models"
)

const earthRadiusMeters = 6371008.8

// metersPerDegreeLat is the length of one degree of latitude on the mean sphere.
const metersPerDegreeLat = earthRadiusMeters * math.Pi / 180

// Distance returns the great-circle distance between a and b in meters.
func Distance(a, b models.Point) float64 {
	lat1 := a.Latitude * math.Pi / 180
	lat2 := b.Latitude * math.Pi / 180
	dLat := lat2 - lat1
	dLon := (b.Longitude - a.Longitude) * math.Pi / 180

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusMeters * math.Asin(math.Min(1, math.Sqrt(h)))
}

// BBox is a lat/lon rectangle used to prefilter candidates before exact distance checks.
type BBox struct {
	MinLat, MaxLat float64
	MinLon, MaxLon float64
	// WrapsLon is set when the box is too wide or too close to a pole for a
	// longitude range to be meaningful; callers should skip the longitude filter.
	WrapsLon bool
}

// BoundingBox returns a box that contains every point within radius meters of center.
func BoundingBox(center models.Point, radius float64) BBox {
	dLat := radius / metersPerDegreeLat
	box := BBox{
		MinLat: math.Max(-90, center.Latitude-dLat),
		MaxLat: math.Min(90, center.Latitude+dLat),
	}

	cosLat := math.Cos(center.Latitude * math.Pi / 180)
	if cosLat < 1e-6 || box.MinLat <= -90 || box.MaxLat >= 90 {
		box.WrapsLon = true
		return box
	}
	// widen by the latitude extreme closest to the pole
	maxAbsLat := math.Max(math.Abs(box.MinLat), math.Abs(box.MaxLat))
	cosLat = math.Cos(maxAbsLat * math.Pi / 180)
	dLon := radius / (metersPerDegreeLat * cosLat)
	if dLon >= 180 || center.Longitude-dLon < -180 || center.Longitude+dLon > 180 {
		box.WrapsLon = true
		return box
	}
	box.MinLon = center.Longitude - dLon
	box.MaxLon = center.Longitude + dLon
	return box
}

// Offset returns the point reached by moving north and east by the given meters.
// It is a flat-earth approximation meant for short distances.
func Offset(p models.Point, northMeters, eastMeters float64) models.Point {
	lat := p.Latitude + northMeters/metersPerDegreeLat
	lon := p.Longitude + eastMeters/(metersPerDegreeLat*math.Cos(p.Latitude*math.Pi/180))
	return models.Point{Longitude: lon, Latitude: lat}
}
