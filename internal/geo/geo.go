// Package geo provides the geodesic distance check used by position
// challenges. Coordinates arrive as WGS84 (EPSG:4326) latitude/longitude
// from client GPS fixes.
package geo

import (
	"math"

	"github.com/wroge/wgs84"
)

// Distance returns the distance in meters between two WGS84 coordinates.
//
// Both points are projected to Web Mercator (EPSG:3857) and the planar
// distance is scaled by the cosine of the midpoint latitude. Mercator
// meters stretch by 1/cos(lat), so the correction makes the result
// accurate to well under a meter at control-point scale (tens to a few
// hundred meters), which is far below GPS accuracy anyway.
func Distance(lat1, lon1, lat2, lon2 float64) float64 {
	epsg := wgs84.EPSG()
	f := epsg.Transform(4326, 3857)
	x1, y1, _ := f(lon1, lat1, 0)
	x2, y2, _ := f(lon2, lat2, 0)

	scale := math.Cos((lat1 + lat2) / 2 * math.Pi / 180)
	return math.Hypot((x2-x1)*scale, (y2-y1)*scale)
}

// Within reports whether the two coordinates are within max meters.
func Within(lat1, lon1, lat2, lon2, max float64) bool {
	return Distance(lat1, lon1, lat2, lon2) <= max
}
