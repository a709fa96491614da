package mapsync

import (
	"sync"

	"golang.org/x/exp/slices"
)

// FeatureStore is the authoritative ordered feature collection for one
// client. All mutations are copy-on-write: a snapshot handed out is
// never mutated afterward. Ids are unique at all times and iteration
// order is insertion order, preserved across Modify.
type FeatureStore struct {
	mutex    sync.Mutex
	features []*Feature
}

func NewFeatureStore() *FeatureStore {
	return &FeatureStore{
		features: []*Feature{},
	}
}

// Add inserts the feature unless its id is already present.
// Returns false on the idempotent no-op case.
func (self *FeatureStore) Add(feature *Feature) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if 0 <= self.indexOf(feature.Id) {
		// already present
		return false
	}
	next := slices.Clone(self.features)
	next = append(next, feature)
	self.features = next
	return true
}

// Modify replaces the feature with matching id, preserving its
// position. A modify for an unknown id degrades to an add, which
// keeps out-of-order peers converging.
func (self *FeatureStore) Modify(id Id, feature *Feature) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	feature.Id = id
	next := slices.Clone(self.features)
	i := self.indexOf(id)
	if 0 <= i {
		next[i] = feature
	} else {
		next = append(next, feature)
	}
	self.features = next
}

// Remove deletes by id. No-op when absent.
func (self *FeatureStore) Remove(id Id) bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	i := self.indexOf(id)
	if i < 0 {
		return false
	}
	next := slices.Clone(self.features)
	next = slices.Delete(next, i, i+1)
	self.features = next
	return true
}

// ReplaceAll swaps in a wholesale new collection, deduplicating ids
// last-write-wins at first position.
func (self *FeatureStore) ReplaceAll(features []*Feature) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	next := make([]*Feature, 0, len(features))
	indexes := map[Id]int{}
	for _, feature := range features {
		if i, ok := indexes[feature.Id]; ok {
			next[i] = feature
			continue
		}
		indexes[feature.Id] = len(next)
		next = append(next, feature)
	}
	self.features = next
}

// UpdateProperty merges one property into the matching feature and
// returns the updated feature. Publishing the change is the caller's
// job; the store has no transport dependency.
func (self *FeatureStore) UpdateProperty(id Id, key string, value any) (*Feature, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	i := self.indexOf(id)
	if i < 0 {
		return nil, false
	}
	feature := self.features[i]
	updated := &Feature{
		Id:         feature.Id,
		Geometry:   feature.Geometry,
		Properties: map[string]any{},
	}
	for propertyKey, propertyValue := range feature.Properties {
		updated.Properties[propertyKey] = deepCopyValue(propertyValue)
	}
	updated.Properties[key] = value
	next := slices.Clone(self.features)
	next[i] = updated
	self.features = next
	return updated, true
}

func (self *FeatureStore) Get(id Id) (*Feature, bool) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	i := self.indexOf(id)
	if i < 0 {
		return nil, false
	}
	return self.features[i], true
}

// Snapshot returns the current collection in insertion order.
// The returned slice is immutable.
func (self *FeatureStore) Snapshot() []*Feature {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return self.features
}

func (self *FeatureStore) Len() int {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return len(self.features)
}

// callers must hold the mutex
func (self *FeatureStore) indexOf(id Id) int {
	return slices.IndexFunc(self.features, func(feature *Feature) bool {
		return feature.Id == id
	})
}
