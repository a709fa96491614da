package mapsync

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/golang/glog"
)

type GeometryType string

const (
	GeometryPoint      GeometryType = "Point"
	GeometryLineString GeometryType = "LineString"
	GeometryPolygon    GeometryType = "Polygon"
	GeometryCircle     GeometryType = "Circle"
)

// Coord is one coordinate pair in a planar lon/lat-like system.
// After cleaning both elements are always finite.
type Coord [2]float64

// Geometry is a tagged union keyed by Type. Before cleaning,
// Coordinates holds whatever the decoder produced. After cleaning it
// holds the canonical tree for the type:
// Point/Circle Coord, LineString []Coord, Polygon [][]Coord.
type Geometry struct {
	Type        GeometryType `json:"type"`
	Coordinates any          `json:"coordinates"`
}

// Key is the geometry identity used by the recreate decision:
// two geometries with the same key render the same layer.
// Only meaningful on cleaned geometries.
func (self Geometry) Key() string {
	coordinateBytes, err := json.Marshal(self.Coordinates)
	if err != nil {
		// cleaned coordinates always marshal. Raw trees may not.
		return fmt.Sprintf("%s|%v", self.Type, self.Coordinates)
	}
	return fmt.Sprintf("%s|%s", self.Type, string(coordinateBytes))
}

// PointCoord returns the coordinate of a cleaned Point or Circle.
func (self Geometry) PointCoord() (Coord, bool) {
	coord, ok := self.Coordinates.(Coord)
	return coord, ok
}

// Path returns the vertices of a cleaned LineString.
func (self Geometry) Path() ([]Coord, bool) {
	path, ok := self.Coordinates.([]Coord)
	return path, ok
}

// Rings returns the closed rings of a cleaned Polygon.
func (self Geometry) Rings() ([][]Coord, bool) {
	rings, ok := self.Coordinates.([][]Coord)
	return rings, ok
}

// Feature is one shared spatial object.
type Feature struct {
	Id         Id             `json:"id"`
	Geometry   Geometry       `json:"geometry"`
	Properties map[string]any `json:"properties"`
}

// property keys shared with peers
const (
	PropertyShapeKind = "type"
	PropertyColor     = "color"
	PropertyName      = "name"
	PropertyRadius    = "radius"
)

func (self *Feature) ShapeKind() string {
	if kind, ok := self.Properties[PropertyShapeKind].(string); ok {
		return kind
	}
	return ""
}

func (self *Feature) Color() string {
	if color, ok := self.Properties[PropertyColor].(string); ok {
		return color
	}
	return ""
}

func (self *Feature) Name() string {
	if name, ok := self.Properties[PropertyName].(string); ok {
		return name
	}
	return ""
}

// Radius returns the circle radius property, 0 when absent or
// malformed.
func (self *Feature) Radius() float64 {
	radius, ok := finiteNumber(self.Properties[PropertyRadius])
	if !ok {
		return 0
	}
	return radius
}

// CleanFeature deep-copies and normalizes a raw feature so that the
// result is always structurally valid and renderable:
// - every coordinate pair is two finite numbers, malformed pairs
//   become (0,0)
// - every polygon ring is a closed array of pairs, malformed rings
//   become empty
// It never fails. Fidelity is traded for store stability.
func CleanFeature(raw *Feature) *Feature {
	if raw == nil {
		return &Feature{
			Properties: map[string]any{},
		}
	}
	feature := &Feature{
		Id: raw.Id,
		Geometry: Geometry{
			Type: raw.Geometry.Type,
		},
		Properties: map[string]any{},
	}
	for key, value := range raw.Properties {
		feature.Properties[key] = deepCopyValue(value)
	}
	switch raw.Geometry.Type {
	case GeometryPoint, GeometryCircle:
		feature.Geometry.Coordinates = cleanPair(raw.Geometry.Coordinates, raw.Id)
	case GeometryLineString:
		feature.Geometry.Coordinates = cleanPath(raw.Geometry.Coordinates, raw.Id)
	case GeometryPolygon:
		feature.Geometry.Coordinates = cleanRings(raw.Geometry.Coordinates, raw.Id)
	default:
		// unknown types still get a sane pair tree so the feature
		// stays marshalable
		feature.Geometry.Coordinates = cleanPair(raw.Geometry.Coordinates, raw.Id)
	}
	return feature
}

func cleanPair(value any, id Id) Coord {
	elements, ok := asList(value)
	if !ok || len(elements) != 2 {
		glog.Infof("[g]%s malformed coordinate pair %v\n", id, value)
		return Coord{0, 0}
	}
	x, xOk := finiteNumber(elements[0])
	y, yOk := finiteNumber(elements[1])
	if !xOk || !yOk {
		glog.Infof("[g]%s non-finite coordinate pair %v\n", id, value)
		return Coord{0, 0}
	}
	return Coord{x, y}
}

func cleanPath(value any, id Id) []Coord {
	elements, ok := asList(value)
	if !ok {
		glog.Infof("[g]%s malformed path %v\n", id, value)
		return []Coord{}
	}
	path := make([]Coord, 0, len(elements))
	for _, element := range elements {
		path = append(path, cleanPair(element, id))
	}
	return path
}

func cleanRings(value any, id Id) [][]Coord {
	elements, ok := asList(value)
	if !ok {
		glog.Infof("[g]%s malformed polygon %v\n", id, value)
		return [][]Coord{}
	}
	rings := make([][]Coord, 0, len(elements))
	for _, element := range elements {
		ringElements, ok := asList(element)
		if !ok || len(ringElements) == 0 {
			glog.Infof("[g]%s malformed ring %v\n", id, element)
			rings = append(rings, []Coord{})
			continue
		}
		ring := make([]Coord, 0, len(ringElements)+1)
		for _, ringElement := range ringElements {
			ring = append(ring, cleanPair(ringElement, id))
		}
		// closed ring invariant
		if ring[0] != ring[len(ring)-1] {
			ring = append(ring, ring[0])
		}
		rings = append(rings, ring)
	}
	return rings
}

// asList views any of the list shapes the decoder or local callers
// produce as a uniform []any.
func asList(value any) ([]any, bool) {
	switch v := value.(type) {
	case []any:
		return v, true
	case Coord:
		return []any{v[0], v[1]}, true
	case [2]float64:
		return []any{v[0], v[1]}, true
	case []float64:
		elements := make([]any, len(v))
		for i, e := range v {
			elements[i] = e
		}
		return elements, true
	case []Coord:
		elements := make([]any, len(v))
		for i, e := range v {
			elements[i] = e
		}
		return elements, true
	case [][]Coord:
		elements := make([]any, len(v))
		for i, e := range v {
			elements[i] = e
		}
		return elements, true
	default:
		return nil, false
	}
}

func finiteNumber(value any) (float64, bool) {
	switch v := value.(type) {
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return 0, false
		}
		return v, true
	case float32:
		return finiteNumber(float64(v))
	case int:
		return float64(v), true
	case int64:
		return float64(v), true
	case json.Number:
		number, err := v.Float64()
		if err != nil {
			return 0, false
		}
		return finiteNumber(number)
	case string:
		number, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, false
		}
		return finiteNumber(number)
	default:
		return 0, false
	}
}

func deepCopyValue(value any) any {
	switch v := value.(type) {
	case map[string]any:
		next := make(map[string]any, len(v))
		for key, element := range v {
			next[key] = deepCopyValue(element)
		}
		return next
	case []any:
		next := make([]any, len(v))
		for i, element := range v {
			next[i] = deepCopyValue(element)
		}
		return next
	default:
		return v
	}
}
