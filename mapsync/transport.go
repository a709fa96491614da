package mapsync

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/gorilla/websocket"
)

const transportSendBufferSize = 32

// Transport is the minimal surface the message channel needs from the
// wire: connect/reconnect, subscribe, publish. The concrete
// implementation below speaks the hub's websocket sub-protocol.
type Transport interface {
	// Connect starts the connection loop. Idempotent while running.
	// onReady is invoked once, on the first successful connection.
	Connect(onReady func())
	// Subscribe registers the handler for a topic. One handler per
	// topic; re-subscribing replaces it. Subscriptions survive
	// reconnects.
	Subscribe(topic string, handler func(body []byte))
	// Publish sends one payload to a destination, fire-and-forget.
	Publish(destination string, payload []byte) error
	// Close tears the session down. Connect may be called again.
	Close()
	Connected() bool
}

// Frame is the websocket sub-protocol between transport and hub.
// Envelope bodies ride opaque inside it, so topics exist without a
// broker.
type Frame struct {
	Command     string          `json:"command"`
	Topic       string          `json:"topic,omitempty"`
	Destination string          `json:"destination,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

const (
	FrameCommandSubscribe = "subscribe"
	FrameCommandSend      = "send"
	FrameCommandMessage   = "message"
)

type WebsocketTransportSettings struct {
	WsHandshakeTimeout time.Duration
	ReconnectTimeout   time.Duration
	PingTimeout        time.Duration
	WriteTimeout       time.Duration
	ReadTimeout        time.Duration
}

func DefaultWebsocketTransportSettings() *WebsocketTransportSettings {
	return &WebsocketTransportSettings{
		WsHandshakeTimeout: 2 * time.Second,
		// fixed delay, no backoff, retry forever. Appropriate for a
		// LAN/trusted deployment.
		ReconnectTimeout: 5 * time.Second,
		PingTimeout:      1 * time.Second,
		WriteTimeout:     5 * time.Second,
		ReadTimeout:      15 * time.Second,
	}
}

// WebsocketTransport maintains one websocket session to the hub with
// automatic reconnect. Publishes while disconnected fail immediately,
// they are never queued.
type WebsocketTransport struct {
	ctx context.Context

	url      string
	settings *WebsocketTransportSettings

	mutex sync.Mutex
	// nil when not running
	runCancel context.CancelFunc
	// non-nil only while a connection is live
	send   chan []byte
	topics map[string]func(body []byte)
}

func NewWebsocketTransportWithDefaults(ctx context.Context, url string) *WebsocketTransport {
	return NewWebsocketTransport(ctx, url, DefaultWebsocketTransportSettings())
}

func NewWebsocketTransport(ctx context.Context, url string, settings *WebsocketTransportSettings) *WebsocketTransport {
	return &WebsocketTransport{
		ctx:      ctx,
		url:      url,
		settings: settings,
		topics:   map[string]func(body []byte){},
	}
}

func (self *WebsocketTransport) Connect(onReady func()) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if self.runCancel != nil {
		// already connecting or connected
		return
	}
	runCtx, runCancel := context.WithCancel(self.ctx)
	self.runCancel = runCancel
	go self.run(runCtx, onReady)
}

func (self *WebsocketTransport) Close() {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if self.runCancel != nil {
		self.runCancel()
		self.runCancel = nil
	}
	self.send = nil
}

func (self *WebsocketTransport) Connected() bool {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	return self.send != nil
}

func (self *WebsocketTransport) Subscribe(topic string, handler func(body []byte)) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.topics[topic] = handler
	if self.send != nil {
		self.enqueue(subscribeFrameBytes(topic))
	}
}

func (self *WebsocketTransport) Publish(destination string, payload []byte) error {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if self.send == nil {
		return ErrNotConnected
	}
	frameBytes, err := json.Marshal(&Frame{
		Command:     FrameCommandSend,
		Destination: destination,
		Body:        payload,
	})
	if err != nil {
		return err
	}
	self.enqueue(frameBytes)
	return nil
}

// callers must hold the mutex
func (self *WebsocketTransport) enqueue(frameBytes []byte) {
	select {
	case self.send <- frameBytes:
	default:
		// fire-and-forget: never block the caller on the network
		glog.Infof("[t]send buffer full, drop\n")
	}
}

func (self *WebsocketTransport) run(ctx context.Context, onReady func()) {
	ready := false
	for {
		dialer := &websocket.Dialer{
			HandshakeTimeout: self.settings.WsHandshakeTimeout,
		}
		ws, _, err := dialer.DialContext(ctx, self.url, nil)
		if err != nil {
			glog.Infof("[t]dial %s error = %s\n", self.url, err)
			select {
			case <-ctx.Done():
				return
			case <-time.After(self.settings.ReconnectTimeout):
				continue
			}
		}

		self.handleWs(ctx, ws, func() {
			if !ready {
				ready = true
				if onReady != nil {
					onReady()
				}
			}
		})

		select {
		case <-ctx.Done():
			return
		case <-time.After(self.settings.ReconnectTimeout):
		}
	}
}

func (self *WebsocketTransport) handleWs(ctx context.Context, ws *websocket.Conn, readyCallback func()) {
	defer ws.Close()

	handleCtx, handleCancel := context.WithCancel(ctx)
	defer handleCancel()

	send := make(chan []byte, transportSendBufferSize)

	self.mutex.Lock()
	self.send = send
	// re-establish subscriptions on every (re)connect
	for topic := range self.topics {
		self.enqueue(subscribeFrameBytes(topic))
	}
	self.mutex.Unlock()

	defer func() {
		self.mutex.Lock()
		if self.send == send {
			self.send = nil
		}
		self.mutex.Unlock()
	}()

	go func() {
		defer handleCancel()

		for {
			select {
			case <-handleCtx.Done():
				return
			case frameBytes, ok := <-send:
				if !ok {
					return
				}
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, frameBytes); err != nil {
					// a websocket deadline timeout cannot be recovered
					glog.Infof("[ts]-> error = %s\n", err)
					return
				}
				glog.V(2).Infof("[ts]->\n")
			case <-time.After(self.settings.PingTimeout):
				ws.SetWriteDeadline(time.Now().Add(self.settings.WriteTimeout))
				if err := ws.WriteMessage(websocket.TextMessage, make([]byte, 0)); err != nil {
					return
				}
			}
		}
	}()

	go func() {
		defer handleCancel()

		for {
			select {
			case <-handleCtx.Done():
				return
			default:
			}

			ws.SetReadDeadline(time.Now().Add(self.settings.ReadTimeout))
			_, message, err := ws.ReadMessage()
			if err != nil {
				glog.Infof("[tr]<- error = %s\n", err)
				return
			}
			if len(message) == 0 {
				// ping
				glog.V(2).Infof("[tr]ping <-\n")
				continue
			}

			frame := &Frame{}
			if err := json.Unmarshal(message, frame); err != nil {
				// per-message decode failures never tear down the
				// connection
				glog.Infof("[tr]decode error = %s\n", err)
				continue
			}
			if frame.Command != FrameCommandMessage {
				glog.Infof("[tr]unexpected command %s\n", frame.Command)
				continue
			}

			self.mutex.Lock()
			handler := self.topics[frame.Topic]
			self.mutex.Unlock()
			if handler == nil {
				glog.V(2).Infof("[tr]no handler for topic %s\n", frame.Topic)
				continue
			}
			handler(frame.Body)
			glog.V(2).Infof("[tr]<-\n")
		}
	}()

	readyCallback()

	select {
	case <-handleCtx.Done():
	}
}

func subscribeFrameBytes(topic string) []byte {
	frameBytes, err := json.Marshal(&Frame{
		Command: FrameCommandSubscribe,
		Topic:   topic,
	})
	if err != nil {
		panic(err)
	}
	return frameBytes
}
