// Package geo holds great-circle helpers shared by matching and tracking.
package geo

import (
	"fmt"
	"math"
)

// EarthRadiusKm is the mean earth radius used by Haversine.
const EarthRadiusKm = 6371.0

// Point is a WGS84 latitude/longitude pair in degrees.
type Point struct {
	Lat float64 `json:"lat"`
	Lng float64 `json:"lng"`
}

// Validate reports out-of-range coordinates.
func (p Point) Validate() error {
	if math.IsNaN(p.Lat) || p.Lat < -90 || p.Lat > 90 {
		return fmt.Errorf("latitude %v out of range", p.Lat)
	}
	if math.IsNaN(p.Lng) || p.Lng < -180 || p.Lng > 180 {
		return fmt.Errorf("longitude %v out of range", p.Lng)
	}
	return nil
}

// PointFrom builds a Point from nullable columns.
func PointFrom(lat, lng *float64) (Point, bool) {
	if lat == nil || lng == nil {
		return Point{}, false
	}
	return Point{Lat: *lat, Lng: *lng}, true
}

// DistanceKm returns the haversine distance between two points.
func DistanceKm(a, b Point) float64 {
	dLat := radians(b.Lat - a.Lat)
	dLng := radians(b.Lng - a.Lng)
	lat1 := radians(a.Lat)
	lat2 := radians(b.Lat)

	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	return EarthRadiusKm * 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
}

// BoundingBox returns the lat/lng window that contains every point within
// radiusKm of center. It is a coarse prefilter; callers still apply
// DistanceKm.
func BoundingBox(center Point, radiusKm float64) (minLat, maxLat, minLng, maxLng float64) {
	dLat := radiusKm / EarthRadiusKm * 180 / math.Pi
	minLat = math.Max(center.Lat-dLat, -90)
	maxLat = math.Min(center.Lat+dLat, 90)

	cosLat := math.Cos(radians(center.Lat))
	if cosLat < 1e-9 || maxLat >= 90 || minLat <= -90 {
		return minLat, maxLat, -180, 180
	}
	dLng := dLat / cosLat
	minLng = center.Lng - dLng
	maxLng = center.Lng + dLng
	if minLng < -180 || maxLng > 180 {
		return minLat, maxLat, -180, 180
	}
	return minLat, maxLat, minLng, maxLng
}

// Offset moves a point north and east by the given kilometers. Accurate for
// the short distances used in tests and fixtures.
func Offset(p Point, northKm, eastKm float64) Point {
	lat := p.Lat + northKm/EarthRadiusKm*180/math.Pi
	lng := p.Lng + eastKm/(EarthRadiusKm*math.Cos(radians(p.Lat)))*180/math.Pi
	return Point{Lat: lat, Lng: lng}
}

func radians(deg float64) float64 {
	return deg * math.Pi / 180
}
