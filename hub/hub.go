// Package hub is the broadcast counterpart of the mapsync client: a
// websocket fan-out with a server-side feature store, so late joiners
// can bulk load the current state. Every envelope is applied
// last-write-wins and rebroadcast to all subscribers of the routed
// topic.
package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/gorilla/websocket"

	"github.com/mapshare/mapsync/mapsync"
)

type Settings struct {
	PingTimeout  time.Duration
	WriteTimeout time.Duration
	ReadTimeout  time.Duration
	// per-subscriber send buffer. A subscriber that falls this far
	// behind is dropped, not blocked on.
	SendBufferSize int
	// publish destination -> broadcast topic
	Routes map[string]string
}

func DefaultSettings() *Settings {
	return &Settings{
		PingTimeout:    1 * time.Second,
		WriteTimeout:   5 * time.Second,
		ReadTimeout:    15 * time.Second,
		SendBufferSize: 32,
		Routes: map[string]string{
			"/app/features": "/topic/features",
		},
	}
}

type subscriber struct {
	send   chan []byte
	cancel context.CancelFunc
}

type Hub struct {
	ctx      context.Context
	settings *Settings

	store *mapsync.FeatureStore

	mutex       sync.Mutex
	subscribers map[string]map[*subscriber]bool

	upgrader websocket.Upgrader
}

func NewHubWithDefaults(ctx context.Context) *Hub {
	return NewHub(ctx, DefaultSettings())
}

func NewHub(ctx context.Context, settings *Settings) *Hub {
	return &Hub{
		ctx:         ctx,
		settings:    settings,
		store:       mapsync.NewFeatureStore(),
		subscribers: map[string]map[*subscriber]bool{},
	}
}

func (self *Hub) Store() *mapsync.FeatureStore {
	return self.store
}

// ServeWs upgrades one client connection and pumps frames until it
// closes.
func (self *Hub) ServeWs(w http.ResponseWriter, r *http.Request) {
	ws, err := self.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Infof("[h]upgrade error = %s\n", err)
		return
	}
	defer ws.Close()

	handleCtx, handleCancel := context.WithCancel(self.ctx)
	defer handleCancel()

	sub := &subscriber{
		send:   make(chan []byte, self.settings.SendBufferSize),
		cancel: handleCancel,
	}
	defer self.unsubscribeAll(sub)

	go func() {
		defer handleCancel()

		for {
			select {
			case <-handleCtx.Done():
				return
			case frameBytes, ok := <-sub.send:
				if !ok {
					return
				}
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, frameBytes); err != nil {
					glog.Infof("[h]-> error = %s\n", err)
					return
				}
			case <-time.After(self.settings.PingTimeout):
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, make([]byte, 0)); err != nil {
					return
				}
			}
		}
	}()

	for {
		select {
		case <-handleCtx.Done():
			return
		default:
		}

		ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
		_, message, err := ws.ReadMessage()
		if err != nil {
			glog.V(2).Infof("[h]<- closed = %s\n", err)
			return
		}
		if len(message) == 0 {
			// ping
			continue
		}

		frame := &mapsync.Frame{}
		if err := json.Unmarshal(message, frame); err != nil {
			glog.Infof("[h]decode error = %s\n", err)
			continue
		}
		switch frame.Command {
		case mapsync.FrameCommandSubscribe:
			self.subscribe(frame.Topic, sub)
		case mapsync.FrameCommandSend:
			self.handleSend(frame.Destination, frame.Body)
		default:
			glog.Infof("[h]unexpected command %s\n", frame.Command)
		}
	}
}

// ServeFeatures is the bulk load endpoint: the current store as one
// bulkAdd envelope.
func (self *Hub) ServeFeatures(w http.ResponseWriter, r *http.Request) {
	envelopeBytes, err := mapsync.EncodeEnvelope(mapsync.MessageTypeBulkAdd, self.store.Snapshot(), "")
	if err != nil {
		glog.Errorf("[h]bulk encode error = %s\n", err)
		http.Error(w, "encode error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Write(envelopeBytes)
}

func (self *Hub) subscribe(topic string, sub *subscriber) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	subs := self.subscribers[topic]
	if subs == nil {
		subs = map[*subscriber]bool{}
		self.subscribers[topic] = subs
	}
	subs[sub] = true
}

func (self *Hub) unsubscribeAll(sub *subscriber) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	for _, subs := range self.subscribers {
		delete(subs, sub)
	}
}

func (self *Hub) handleSend(destination string, body []byte) {
	envelope, err := mapsync.DecodeEnvelope(body)
	if err != nil {
		glog.Infof("[h]envelope decode error = %s\n", err)
		return
	}
	if !self.apply(envelope) {
		return
	}

	topic := self.settings.Routes[destination]
	if topic == "" {
		glog.Infof("[h]no route for destination %s\n", destination)
		return
	}
	frameBytes, err := json.Marshal(&mapsync.Frame{
		Command: mapsync.FrameCommandMessage,
		Topic:   topic,
		Body:    body,
	})
	if err != nil {
		glog.Errorf("[h]frame encode error = %s\n", err)
		return
	}

	self.mutex.Lock()
	subs := make([]*subscriber, 0, len(self.subscribers[topic]))
	for sub := range self.subscribers[topic] {
		subs = append(subs, sub)
	}
	self.mutex.Unlock()

	for _, sub := range subs {
		select {
		case sub.send <- frameBytes:
		default:
			// too far behind
			glog.Infof("[h]drop slow subscriber\n")
			sub.cancel()
		}
	}
}

// apply mutates the server-side store, last-write-wins. Returns false
// when the envelope must not be rebroadcast.
func (self *Hub) apply(envelope *mapsync.Envelope) bool {
	switch envelope.Type {
	case mapsync.MessageTypeAdd:
		feature, err := envelope.Feature()
		if err != nil {
			glog.Infof("[h]add decode error = %s\n", err)
			return false
		}
		self.store.Add(mapsync.CleanFeature(feature))
	case mapsync.MessageTypeModify:
		feature, err := envelope.Feature()
		if err != nil {
			glog.Infof("[h]modify decode error = %s\n", err)
			return false
		}
		id := envelope.Id
		if id == "" {
			id = feature.Id
		}
		self.store.Modify(id, mapsync.CleanFeature(feature))
	case mapsync.MessageTypeRemove:
		if envelope.Id == "" {
			glog.Infof("[h]remove without id\n")
			return false
		}
		self.store.Remove(envelope.Id)
	case mapsync.MessageTypeBulkAdd:
		features, err := envelope.Features()
		if err != nil {
			glog.Infof("[h]bulkAdd decode error = %s\n", err)
			return false
		}
		cleaned := make([]*mapsync.Feature, 0, len(features))
		for _, feature := range features {
			cleaned = append(cleaned, mapsync.CleanFeature(feature))
		}
		self.store.ReplaceAll(cleaned)
	default:
		glog.Infof("[h]unknown message type %s\n", envelope.Type)
		return false
	}
	return true
}
