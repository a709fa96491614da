package mapsync

import (
	"context"

	"github.com/golang/glog"
)

const clientEventBufferSize = 32

// Client wires channel, store, and engine together and owns the
// single dispatch goroutine: inbound envelopes and local gestures are
// queued onto one event loop, and each is fully reconciled before the
// next runs. Nothing here needs locks beyond the store's own.
type Client struct {
	ctx    context.Context
	cancel context.CancelFunc

	store   *FeatureStore
	engine  *ReconciliationEngine
	channel *MessageChannel

	events chan func()
}

func NewClient(ctx context.Context, renderer Renderer, channel *MessageChannel) *Client {
	cancelCtx, cancel := context.WithCancel(ctx)
	store := NewFeatureStore()
	client := &Client{
		ctx:     cancelCtx,
		cancel:  cancel,
		store:   store,
		engine:  NewReconciliationEngine(renderer, store, channel),
		channel: channel,
		events:  make(chan func(), clientEventBufferSize),
	}
	// layer clicks originate on the renderer's thread, queue them
	// like every other event
	client.engine.SetDispatch(client.queue)
	channel.RegisterHandler(client.receive)
	go client.run()
	return client
}

func (self *Client) Store() *FeatureStore {
	return self.store
}

func (self *Client) Engine() *ReconciliationEngine {
	return self.engine
}

// Connect opens the channel. onReady runs on the dispatch goroutine.
func (self *Client) Connect(onReady func()) {
	self.channel.Connect(func() {
		self.queue(func() {
			if onReady != nil {
				onReady()
			}
		})
	})
}

func (self *Client) Close() {
	self.channel.Disconnect()
	self.cancel()
}

// Load replaces the visible set with the bulk payload from url.
// Failure means empty initial state, no retry. The fetch runs off the
// dispatch goroutine so message processing is never blocked on it.
func (self *Client) Load(loadUrl string) {
	go func() {
		features := LoadFeatures(self.ctx, loadUrl)
		self.queue(func() {
			self.replaceAll(features)
		})
	}()
}

// local gesture entry points. Each runs on the dispatch goroutine in
// arrival order.

func (self *Client) GestureCreate(layer RenderedLayer, kind string) {
	self.queue(func() {
		self.engine.GestureCreate(layer, kind)
	})
}

func (self *Client) GestureEdit(layers []RenderedLayer) {
	self.queue(func() {
		self.engine.GestureEdit(layers)
	})
}

func (self *Client) GestureDelete(layers []RenderedLayer) {
	self.queue(func() {
		self.engine.GestureDelete(layers)
	})
}

func (self *Client) SetEditing(editing bool) {
	self.queue(func() {
		self.engine.SetEditing(editing)
	})
}

func (self *Client) Select(id Id) {
	self.queue(func() {
		self.engine.Select(id)
	})
}

// UpdateProperty merges one property into the feature and publishes
// the modified feature.
func (self *Client) UpdateProperty(id Id, key string, value any) {
	self.queue(func() {
		updated, ok := self.store.UpdateProperty(id, key, value)
		if !ok {
			glog.Infof("[c]update property for unknown feature %s\n", id)
			return
		}
		self.engine.Apply(self.store.Snapshot())
		if err := self.channel.Send(MessageTypeModify, updated, id); err != nil {
			glog.Infof("[c]publish modify %s error = %s\n", id, err)
		}
	})
}

func (self *Client) run() {
	for {
		select {
		case <-self.ctx.Done():
			return
		case event := <-self.events:
			event()
		}
	}
}

func (self *Client) queue(event func()) {
	select {
	case <-self.ctx.Done():
	case self.events <- event:
	}
}

func (self *Client) receive(envelope *Envelope) {
	self.queue(func() {
		self.applyEnvelope(envelope)
	})
}

// applyEnvelope is the inbound path: validate, mutate the store,
// reconcile. Unknown types and bad payloads are logged and discarded,
// the worst outcome is a stale feature, never a crash.
func (self *Client) applyEnvelope(envelope *Envelope) {
	switch envelope.Type {
	case MessageTypeAdd:
		feature, err := envelope.Feature()
		if err != nil {
			glog.Infof("[c]add decode error = %s\n", err)
			return
		}
		self.store.Add(CleanFeature(feature))
	case MessageTypeModify:
		feature, err := envelope.Feature()
		if err != nil {
			glog.Infof("[c]modify decode error = %s\n", err)
			return
		}
		id := envelope.Id
		if id == "" {
			id = feature.Id
		}
		self.store.Modify(id, CleanFeature(feature))
	case MessageTypeRemove:
		if envelope.Id == "" {
			glog.Infof("[c]remove without id\n")
			return
		}
		self.store.Remove(envelope.Id)
	case MessageTypeBulkAdd:
		features, err := envelope.Features()
		if err != nil {
			glog.Infof("[c]bulkAdd decode error = %s\n", err)
			return
		}
		self.replaceAll(features)
		return
	default:
		glog.Infof("[c]unknown message type %s\n", envelope.Type)
		return
	}
	self.engine.Apply(self.store.Snapshot())
}

func (self *Client) replaceAll(features []*Feature) {
	cleaned := make([]*Feature, 0, len(features))
	for _, feature := range features {
		cleaned = append(cleaned, CleanFeature(feature))
	}
	self.store.ReplaceAll(cleaned)
	self.engine.Apply(self.store.Snapshot())
}
