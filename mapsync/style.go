package mapsync

// shape kinds carried in the feature "type" property
const (
	ShapeKindMarker    = "marker"
	ShapeKindLine      = "line"
	ShapeKindPolygon   = "polygon"
	ShapeKindRectangle = "rectangle"
	ShapeKindCircle    = "circle"
)

const defaultColor = "#3388ff"
const highlightColor = "#ff7800"

// Style is the renderer-facing descriptor derived from a feature's
// properties. The resolver is pure: same feature and flags, same
// style.
type Style struct {
	Kind        string
	Color       string
	Weight      float64
	FillColor   string
	FillOpacity float64
	// icon render path for marker-kind points
	Icon string
	// circle render path
	Radius float64
	// selection highlight, only while an edit session is active
	Highlight bool
}

func ResolveStyle(feature *Feature, selected bool, editing bool) *Style {
	color := feature.Color()
	if color == "" {
		color = defaultColor
	}
	style := &Style{
		Kind:        feature.ShapeKind(),
		Color:       color,
		Weight:      3,
		FillColor:   color,
		FillOpacity: 0.2,
	}
	if feature.Geometry.Type == GeometryCircle {
		style.Radius = feature.Radius()
	}
	if feature.Geometry.Type == GeometryPoint && feature.ShapeKind() == ShapeKindMarker {
		style.Icon = ShapeKindMarker
	}
	if selected && editing {
		style.Highlight = true
		style.Color = highlightColor
		style.Weight = 4
	}
	return style
}

// DefaultProperties is the property set written onto a feature
// created by a local gesture.
func DefaultProperties(kind string) map[string]any {
	return map[string]any{
		PropertyShapeKind: kind,
		PropertyColor:     defaultColor,
		PropertyName:      "",
	}
}
