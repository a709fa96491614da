package main

import (
	"log"

	"github.com/mapshare/mapsync/mapsync"
)

// logRenderer is a headless renderer: every layer operation becomes a
// log line. Useful for watching a shared board from a terminal.
type logRenderer struct {
	out *log.Logger
}

func newLogRenderer(out *log.Logger) *logRenderer {
	return &logRenderer{
		out: out,
	}
}

func (self *logRenderer) CreateLayer(geometry mapsync.Geometry, style *mapsync.Style) (mapsync.RenderedLayer, error) {
	self.out.Printf("+ %s %s %s", geometry.Type, style.Kind, geometry.Key())
	return &logLayer{
		out:      self.out,
		geometry: geometry,
	}, nil
}

func (self *logRenderer) RemoveLayer(layer mapsync.RenderedLayer) {
	self.out.Printf("- %s", layer.Geometry().Type)
}

type logLayer struct {
	out      *log.Logger
	geometry mapsync.Geometry
	editable bool
	onSelect func()
}

func (self *logLayer) ApplyStyle(style *mapsync.Style) {
	// style churn is noisy, only worth seeing at high verbosity
}

func (self *logLayer) SetEditable(editable bool) {
	self.editable = editable
}

func (self *logLayer) Geometry() mapsync.Geometry {
	return self.geometry
}

func (self *logLayer) OnSelect(callback func()) {
	self.onSelect = callback
}
