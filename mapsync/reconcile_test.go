package mapsync

import (
	"testing"

	"github.com/go-playground/assert/v2"
)

type fakeLayer struct {
	geometry Geometry
	style    *Style
	editable bool
	onSelect func()
	radius   float64
}

func (self *fakeLayer) ApplyStyle(style *Style) {
	self.style = style
}

func (self *fakeLayer) SetEditable(editable bool) {
	self.editable = editable
}

func (self *fakeLayer) Geometry() Geometry {
	return self.geometry
}

func (self *fakeLayer) OnSelect(callback func()) {
	self.onSelect = callback
}

func (self *fakeLayer) Radius() float64 {
	return self.radius
}

type fakeRenderer struct {
	live map[*fakeLayer]bool
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{
		live: map[*fakeLayer]bool{},
	}
}

func (self *fakeRenderer) CreateLayer(geometry Geometry, style *Style) (RenderedLayer, error) {
	layer := &fakeLayer{
		geometry: geometry,
		style:    style,
	}
	self.live[layer] = true
	return layer, nil
}

func (self *fakeRenderer) RemoveLayer(layer RenderedLayer) {
	delete(self.live, layer.(*fakeLayer))
}

type sentMessage struct {
	messageType MessageType
	data        any
	id          Id
}

type fakePublisher struct {
	sent []sentMessage
}

func (self *fakePublisher) Send(messageType MessageType, data any, id Id) error {
	self.sent = append(self.sent, sentMessage{
		messageType: messageType,
		data:        data,
		id:          id,
	})
	return nil
}

func newTestEngine() (*ReconciliationEngine, *fakeRenderer, *fakePublisher, *FeatureStore) {
	renderer := newFakeRenderer()
	publisher := &fakePublisher{}
	store := NewFeatureStore()
	engine := NewReconciliationEngine(renderer, store, publisher)
	return engine, renderer, publisher, store
}

func TestApplyCreatesAndRemoves(t *testing.T) {
	engine, renderer, _, store := newTestEngine()
	store.Add(testFeature("f1"))
	store.Add(testFeature("f2"))

	stats := engine.Apply(store.Snapshot())
	assert.Equal(t, 2, stats.Created)
	assert.Equal(t, 0, stats.Removed)
	assert.Equal(t, 2, len(renderer.live))

	store.Remove("f1")
	stats = engine.Apply(store.Snapshot())
	assert.Equal(t, 0, stats.Created)
	assert.Equal(t, 1, stats.Removed)
	assert.Equal(t, 1, len(renderer.live))
}

func TestApplyIsStable(t *testing.T) {
	engine, _, _, store := newTestEngine()
	store.Add(testFeature("f1"))
	store.Add(testFeature("f2"))

	engine.Apply(store.Snapshot())
	// a second pass over an unchanged snapshot performs zero
	// create/recreate/delete operations
	stats := engine.Apply(store.Snapshot())
	assert.Equal(t, 0, stats.Created)
	assert.Equal(t, 0, stats.Recreated)
	assert.Equal(t, 0, stats.Removed)
	assert.Equal(t, 2, stats.Styled)
}

func TestApplyRecreatesOnGeometryChange(t *testing.T) {
	engine, renderer, _, store := newTestEngine()
	store.Add(testFeature("f1"))
	engine.Apply(store.Snapshot())

	moved := testFeature("f1")
	moved.Geometry.Coordinates = Coord{9, 9}
	store.Modify("f1", moved)

	stats := engine.Apply(store.Snapshot())
	assert.Equal(t, 1, stats.Recreated)
	assert.Equal(t, 0, stats.Created)
	assert.Equal(t, 1, len(renderer.live))
	for layer := range renderer.live {
		coord, _ := layer.geometry.PointCoord()
		assert.Equal(t, Coord{9, 9}, coord)
	}
}

func TestApplyStyleOnlyChangeNeverRecreates(t *testing.T) {
	engine, renderer, _, store := newTestEngine()
	store.Add(testFeature("f1"))
	engine.Apply(store.Snapshot())

	var before *fakeLayer
	for layer := range renderer.live {
		before = layer
	}

	recolored := testFeature("f1")
	recolored.Properties[PropertyColor] = "#0f0"
	store.Modify("f1", recolored)

	stats := engine.Apply(store.Snapshot())
	assert.Equal(t, 0, stats.Recreated)
	assert.Equal(t, 1, stats.Styled)
	// same layer, restyled in place
	assert.Equal(t, true, renderer.live[before])
	assert.Equal(t, "#0f0", before.style.Color)
}

func TestApplySkipsMalformedGeometryGracefully(t *testing.T) {
	engine, renderer, _, store := newTestEngine()
	store.Add(&Feature{
		Id: "f1",
		Geometry: Geometry{
			Type:        GeometryPoint,
			Coordinates: "garbage",
		},
		Properties: map[string]any{},
	})

	stats := engine.Apply(store.Snapshot())
	// malformed coordinates render at (0,0) instead of failing
	assert.Equal(t, 1, stats.Created)
	for layer := range renderer.live {
		coord, _ := layer.geometry.PointCoord()
		assert.Equal(t, Coord{0, 0}, coord)
	}
}

func TestGestureCreate(t *testing.T) {
	engine, _, publisher, store := newTestEngine()

	drawn := &fakeLayer{
		geometry: Geometry{
			Type:        GeometryPoint,
			Coordinates: []any{3.0, 4.0},
		},
	}
	feature := engine.GestureCreate(drawn, ShapeKindMarker)

	assert.NotEqual(t, Id(""), feature.Id)
	assert.Equal(t, ShapeKindMarker, feature.ShapeKind())
	assert.Equal(t, 1, store.Len())

	assert.Equal(t, 1, len(publisher.sent))
	assert.Equal(t, MessageTypeAdd, publisher.sent[0].messageType)

	// the drawn layer was adopted, not recreated
	stats := engine.Apply(store.Snapshot())
	assert.Equal(t, 0, stats.Created)
	assert.Equal(t, 0, stats.Recreated)
}

func TestGestureCreateCircle(t *testing.T) {
	engine, _, publisher, _ := newTestEngine()

	drawn := &fakeLayer{
		geometry: Geometry{
			Type:        GeometryCircle,
			Coordinates: []any{1.0, 1.0},
		},
		radius: 25,
	}
	feature := engine.GestureCreate(drawn, ShapeKindCircle)

	assert.Equal(t, 25.0, feature.Radius())
	assert.Equal(t, 1, len(publisher.sent))
}

func TestGestureEdit(t *testing.T) {
	engine, renderer, publisher, store := newTestEngine()
	store.Add(testFeature("f1"))
	engine.Apply(store.Snapshot())

	var layer *fakeLayer
	for live := range renderer.live {
		layer = live
	}
	layer.geometry = Geometry{
		Type:        GeometryPoint,
		Coordinates: []any{7.0, 8.0},
	}
	engine.GestureEdit([]RenderedLayer{layer})

	feature, _ := store.Get("f1")
	coord, _ := feature.Geometry.PointCoord()
	assert.Equal(t, Coord{7, 8}, coord)
	// non-geometry fields preserved
	assert.Equal(t, "A", feature.Name())

	assert.Equal(t, 1, len(publisher.sent))
	assert.Equal(t, MessageTypeModify, publisher.sent[0].messageType)
	assert.Equal(t, Id("f1"), publisher.sent[0].id)

	// the live layer already shows the edit, nothing to recreate
	stats := engine.Apply(store.Snapshot())
	assert.Equal(t, 0, stats.Recreated)
}

func TestGestureEditUntrackedIsSkipped(t *testing.T) {
	engine, _, publisher, store := newTestEngine()

	engine.GestureEdit([]RenderedLayer{&fakeLayer{}})

	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 0, len(publisher.sent))
}

func TestGestureDelete(t *testing.T) {
	engine, renderer, publisher, store := newTestEngine()
	store.Add(testFeature("f1"))
	engine.Apply(store.Snapshot())

	var layer *fakeLayer
	for live := range renderer.live {
		layer = live
	}
	engine.GestureDelete([]RenderedLayer{layer})

	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 1, len(publisher.sent))
	assert.Equal(t, MessageTypeRemove, publisher.sent[0].messageType)
	assert.Equal(t, Id("f1"), publisher.sent[0].id)
	assert.Equal(t, nil, publisher.sent[0].data)
}

func TestEditabilityFollowsSelection(t *testing.T) {
	engine, renderer, _, store := newTestEngine()
	store.Add(testFeature("f1"))
	store.Add(testFeature("f2"))
	engine.Apply(store.Snapshot())

	layersById := map[Id]*fakeLayer{}
	for layer := range renderer.live {
		id := engine.layerIds[layer]
		layersById[id] = layer
	}

	// nothing editable while no edit session is active
	engine.Select("f1")
	assert.Equal(t, false, layersById["f1"].editable)
	assert.Equal(t, false, layersById["f2"].editable)

	engine.SetEditing(true)
	assert.Equal(t, true, layersById["f1"].editable)
	assert.Equal(t, false, layersById["f2"].editable)
	assert.Equal(t, true, layersById["f1"].style.Highlight)

	engine.Select("f2")
	assert.Equal(t, false, layersById["f1"].editable)
	assert.Equal(t, true, layersById["f2"].editable)

	engine.SetEditing(false)
	assert.Equal(t, false, layersById["f1"].editable)
	assert.Equal(t, false, layersById["f2"].editable)
	assert.Equal(t, false, layersById["f2"].style.Highlight)
}

func TestSelectionCallbackReportsById(t *testing.T) {
	engine, renderer, _, store := newTestEngine()
	store.Add(testFeature("f1"))
	engine.Apply(store.Snapshot())

	selected := Id("")
	engine.SetSelectionListener(func(id Id) {
		selected = id
	})

	// user clicks the layer
	for layer := range renderer.live {
		layer.onSelect()
	}
	assert.Equal(t, Id("f1"), selected)
	assert.Equal(t, Id("f1"), engine.SelectedId())
}

func TestRemovalDisablesEditingFirst(t *testing.T) {
	engine, _, _, store := newTestEngine()
	store.Add(testFeature("f1"))
	engine.Apply(store.Snapshot())
	engine.SetEditing(true)
	engine.Select("f1")

	var layer *fakeLayer
	for live, id := range engine.layerIds {
		if id == "f1" {
			layer = live.(*fakeLayer)
		}
	}
	assert.Equal(t, true, layer.editable)

	store.Remove("f1")
	stats := engine.Apply(store.Snapshot())
	assert.Equal(t, 1, stats.Removed)
	assert.Equal(t, false, layer.editable)
	assert.Equal(t, 0, len(engine.layers))
}
