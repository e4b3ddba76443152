// Package geo provides the campus boundary polygon and point-in-polygon
// classification used to decide whether a reading falls inside the geofence.
package geo

import "errors"

// ErrDegeneratePolygon is returned when a polygon has fewer than three vertices.
var ErrDegeneratePolygon = errors.New("polygon must have at least 3 vertices")

// Vertex is one corner of the boundary polygon in decimal degrees.
type Vertex struct {
	Lat float64
	Lng float64
}

// Polygon is an ordered sequence of vertices forming a simple closed boundary.
// The last vertex connects implicitly back to the first. The polygon is
// assumed to be non-self-intersecting; this is not validated.
type Polygon []Vertex

// Validate checks that the polygon can be used for classification.
func (p Polygon) Validate() error {
	if len(p) < 3 {
		return ErrDegeneratePolygon
	}
	return nil
}

// Contains reports whether the point (lat, lng) lies inside the polygon,
// using the even-odd ray-casting rule over the implicitly closed edge list.
//
// Points exactly on an edge may classify as either inside or outside
// depending on floating-point rounding. That is an inherent property of
// ray-casting and callers must not rely on edge-exact results.
func (p Polygon) Contains(lat, lng float64) bool {
	x, y := lng, lat
	inside := false
	for i, j := 0, len(p)-1; i < len(p); j, i = i, i+1 {
		xi, yi := p[i].Lng, p[i].Lat
		xj, yj := p[j].Lng, p[j].Lat

		intersects := (yi > y) != (yj > y) &&
			x < (xj-xi)*(y-yi)/(yj-yi)+xi
		if intersects {
			inside = !inside
		}
	}
	return inside
}
