package mapsync

import (
	"github.com/golang/glog"

	"golang.org/x/exp/maps"
)

// RenderedLayer is one renderer-owned visual object mirroring one
// feature. The engine never reaches into the renderer beyond this
// surface.
type RenderedLayer interface {
	ApplyStyle(style *Style)
	SetEditable(editable bool)
	// the layer's current geometry, used to build features from
	// local edit gestures
	Geometry() Geometry
	// callback invoked when the user clicks the layer
	OnSelect(callback func())
}

// CircleLayer is implemented by circle layers, whose radius is not
// part of the coordinate payload.
type CircleLayer interface {
	RenderedLayer
	Radius() float64
}

type Renderer interface {
	CreateLayer(geometry Geometry, style *Style) (RenderedLayer, error)
	RemoveLayer(layer RenderedLayer)
}

// Publisher sends outbound envelopes. Implemented by MessageChannel.
type Publisher interface {
	Send(messageType MessageType, data any, id Id) error
}

// ReconcileStats counts the render operations of one Apply pass.
type ReconcileStats struct {
	Created   int
	Recreated int
	Removed   int
	Styled    int
}

type trackedLayer struct {
	layer RenderedLayer
	// geometry identity at last render, see Geometry.Key
	geometryKey string
}

// ReconciliationEngine keeps the renderer's layer set consistent with
// the feature store, and converts local gestures into store mutations
// plus outbound envelopes.
//
// All methods must be called from the single dispatch goroutine, see
// Client. The engine holds no locks.
type ReconciliationEngine struct {
	renderer  Renderer
	store     *FeatureStore
	publisher Publisher

	layers   map[Id]*trackedLayer
	layerIds map[RenderedLayer]Id

	selectedId Id
	editing    bool

	selectionListener func(Id)

	// click callbacks are the one engine entry point the renderer
	// invokes on its own, so they are routed through dispatch to
	// reach the dispatch goroutine. See Client.
	dispatch func(event func())
}

func NewReconciliationEngine(renderer Renderer, store *FeatureStore, publisher Publisher) *ReconciliationEngine {
	return &ReconciliationEngine{
		renderer:  renderer,
		store:     store,
		publisher: publisher,
		layers:    map[Id]*trackedLayer{},
		layerIds:  map[RenderedLayer]Id{},
		dispatch: func(event func()) {
			event()
		},
	}
}

// SetDispatch replaces the callback used to hand renderer click events
// to the dispatch goroutine. The default runs them inline.
func (self *ReconciliationEngine) SetDispatch(dispatch func(event func())) {
	self.dispatch = dispatch
}

// SetSelectionListener registers the callback that reports
// user-initiated selection by id. One listener at a time.
func (self *ReconciliationEngine) SetSelectionListener(selectionListener func(Id)) {
	self.selectionListener = selectionListener
}

// Apply diffs the snapshot against the tracked layer set:
// 1. layers whose id left the snapshot are destroyed
// 2. snapshot features are created, recreated on geometry change, or
//    kept; style is always reapplied so property-only edits take
//    visual effect
// Applying the same snapshot twice is a no-op apart from restyling.
func (self *ReconciliationEngine) Apply(snapshot []*Feature) ReconcileStats {
	stats := ReconcileStats{}

	present := map[Id]bool{}
	for _, feature := range snapshot {
		present[feature.Id] = true
	}

	// removal pass
	for _, id := range maps.Keys(self.layers) {
		if present[id] {
			continue
		}
		tracked := self.layers[id]
		tracked.layer.SetEditable(false)
		self.renderer.RemoveLayer(tracked.layer)
		delete(self.layerIds, tracked.layer)
		delete(self.layers, id)
		stats.Removed += 1
	}

	// upsert pass
	for _, raw := range snapshot {
		feature := CleanFeature(raw)
		geometryKey := feature.Geometry.Key()
		style := ResolveStyle(feature, feature.Id == self.selectedId, self.editing)

		tracked := self.layers[feature.Id]
		if tracked == nil {
			tracked = self.createLayer(feature, style, geometryKey)
			if tracked == nil {
				continue
			}
			stats.Created += 1
		} else if tracked.geometryKey != geometryKey {
			// geometry changes are never patched in place
			tracked.layer.SetEditable(false)
			self.renderer.RemoveLayer(tracked.layer)
			delete(self.layerIds, tracked.layer)
			delete(self.layers, feature.Id)
			tracked = self.createLayer(feature, style, geometryKey)
			if tracked == nil {
				continue
			}
			stats.Recreated += 1
		}
		tracked.layer.ApplyStyle(style)
		stats.Styled += 1
	}

	self.applyEditability()
	return stats
}

func (self *ReconciliationEngine) createLayer(feature *Feature, style *Style, geometryKey string) *trackedLayer {
	layer, err := self.renderer.CreateLayer(feature.Geometry, style)
	if err != nil {
		glog.Infof("[r]create layer %s error = %s\n", feature.Id, err)
		return nil
	}
	self.track(feature.Id, layer, geometryKey)
	return self.layers[feature.Id]
}

func (self *ReconciliationEngine) track(id Id, layer RenderedLayer, geometryKey string) {
	layer.OnSelect(func() {
		self.dispatch(func() {
			self.Select(id)
		})
	})
	// editing capability present but disabled until selected
	layer.SetEditable(false)
	self.layers[id] = &trackedLayer{
		layer:       layer,
		geometryKey: geometryKey,
	}
	self.layerIds[layer] = id
}

// only the selected layer is editable, and only while an edit session
// is active. Everything else is explicitly disabled.
func (self *ReconciliationEngine) applyEditability() {
	for id, tracked := range self.layers {
		tracked.layer.SetEditable(self.editing && id == self.selectedId)
	}
}

// GestureCreate handles a user-drawn layer reported by the renderer:
// allocate an id, write default properties and style, adopt the layer,
// insert the feature optimistically, publish add.
func (self *ReconciliationEngine) GestureCreate(layer RenderedLayer, kind string) *Feature {
	feature := CleanFeature(&Feature{
		Id:         NewId(),
		Geometry:   layer.Geometry(),
		Properties: DefaultProperties(kind),
	})
	if circleLayer, ok := layer.(CircleLayer); ok && feature.Geometry.Type == GeometryCircle {
		feature.Properties[PropertyRadius] = circleLayer.Radius()
	}
	layer.ApplyStyle(ResolveStyle(feature, false, self.editing))
	// the layer already renders this geometry, adopt it as-is
	self.track(feature.Id, layer, feature.Geometry.Key())
	self.store.Add(feature)
	if err := self.publisher.Send(MessageTypeAdd, feature, ""); err != nil {
		glog.Infof("[r]publish add %s error = %s\n", feature.Id, err)
	}
	return feature
}

// GestureEdit handles layers whose geometry the user finished
// editing. An edited layer must already be tracked; unknown layers
// are logged and skipped.
func (self *ReconciliationEngine) GestureEdit(layers []RenderedLayer) {
	for _, layer := range layers {
		id, ok := self.layerIds[layer]
		if !ok {
			glog.Infof("[r]edit gesture for untracked layer\n")
			continue
		}
		previous, ok := self.store.Get(id)
		if !ok {
			glog.Infof("[r]edit gesture for unknown feature %s\n", id)
			continue
		}
		feature := CleanFeature(&Feature{
			Id:         id,
			Geometry:   layer.Geometry(),
			Properties: previous.Properties,
		})
		if circleLayer, ok := layer.(CircleLayer); ok && feature.Geometry.Type == GeometryCircle {
			feature.Properties[PropertyRadius] = circleLayer.Radius()
		}
		// the live layer already shows the new geometry
		self.layers[id].geometryKey = feature.Geometry.Key()
		self.store.Modify(id, feature)
		if err := self.publisher.Send(MessageTypeModify, feature, id); err != nil {
			glog.Infof("[r]publish modify %s error = %s\n", id, err)
		}
	}
}

// GestureDelete handles layers the user removed.
func (self *ReconciliationEngine) GestureDelete(layers []RenderedLayer) {
	for _, layer := range layers {
		id, ok := self.layerIds[layer]
		if !ok {
			glog.Infof("[r]delete gesture for untracked layer\n")
			continue
		}
		delete(self.layers, id)
		delete(self.layerIds, layer)
		self.store.Remove(id)
		if err := self.publisher.Send(MessageTypeRemove, nil, id); err != nil {
			glog.Infof("[r]publish remove %s error = %s\n", id, err)
		}
	}
}

// SetEditing toggles the global edit session flag and reapplies
// styling so selection highlighting stays correct.
func (self *ReconciliationEngine) SetEditing(editing bool) {
	self.editing = editing
	self.Apply(self.store.Snapshot())
}

// Select marks one feature as selected and reports it to the
// selection listener. Always reads the latest snapshot.
func (self *ReconciliationEngine) Select(id Id) {
	self.selectedId = id
	self.Apply(self.store.Snapshot())
	if self.selectionListener != nil {
		self.selectionListener(id)
	}
}

func (self *ReconciliationEngine) SelectedId() Id {
	return self.selectedId
}

func (self *ReconciliationEngine) Editing() bool {
	return self.editing
}
