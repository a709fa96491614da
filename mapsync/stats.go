package mapsync

import (
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// display unit conversion from the planar base unit
const areaScale = 1e-6
const lengthScale = 1e-3

// Stats are read-only display metrics projected from one feature.
// Only the fields meaningful for the geometry type are set.
type Stats struct {
	Area      float64
	Perimeter float64
	Length    float64
	Position  *Coord
}

// ProjectStats derives stats from a cleaned feature. Pure, called on
// demand for display.
func ProjectStats(feature *Feature) *Stats {
	stats := &Stats{}
	switch feature.Geometry.Type {
	case GeometryPoint:
		if coord, ok := feature.Geometry.PointCoord(); ok {
			stats.Position = &coord
		}
	case GeometryCircle:
		if coord, ok := feature.Geometry.PointCoord(); ok {
			stats.Position = &coord
		}
		radius := feature.Radius()
		stats.Area = math.Pi * radius * radius
		stats.Perimeter = 2 * math.Pi * radius
	case GeometryLineString:
		if path, ok := feature.Geometry.Path(); ok {
			stats.Length = planar.Length(orbLineString(path)) * lengthScale
		}
	case GeometryPolygon:
		if rings, ok := feature.Geometry.Rings(); ok {
			polygon := orbPolygon(rings)
			// shoelace magnitude
			stats.Area = math.Abs(planar.Area(polygon)) * areaScale
			stats.Perimeter = planar.Length(polygon) * lengthScale
		}
	}
	return stats
}

func orbLineString(path []Coord) orb.LineString {
	lineString := make(orb.LineString, len(path))
	for i, coord := range path {
		lineString[i] = orb.Point(coord)
	}
	return lineString
}

func orbPolygon(rings [][]Coord) orb.Polygon {
	polygon := make(orb.Polygon, len(rings))
	for i, ring := range rings {
		orbRing := make(orb.Ring, len(ring))
		for j, coord := range ring {
			orbRing[j] = orb.Point(coord)
		}
		polygon[i] = orbRing
	}
	return polygon
}
