package mapsync

import (
	"errors"
	"sync"

	"github.com/golang/glog"
)

var ErrNotConnected = errors.New("not connected")

type ChannelState int

const (
	ChannelDisconnected ChannelState = iota
	ChannelConnecting
	ChannelConnected
)

func (self ChannelState) String() string {
	switch self {
	case ChannelDisconnected:
		return "disconnected"
	case ChannelConnecting:
		return "connecting"
	case ChannelConnected:
		return "connected"
	default:
		return "unknown"
	}
}

type MessageChannelSettings struct {
	// distinct fixed addresses
	SubscribeTopic     string
	PublishDestination string
}

func DefaultMessageChannelSettings() *MessageChannelSettings {
	return &MessageChannelSettings{
		SubscribeTopic:     "/topic/features",
		PublishDestination: "/app/features",
	}
}

// MessageChannel carries envelopes between this client and the shared
// broadcast topic. It owns envelope encode/decode; the transport
// moves opaque bytes.
type MessageChannel struct {
	transport Transport
	settings  *MessageChannelSettings

	mutex     sync.Mutex
	started   bool
	connected bool
	handler   func(envelope *Envelope)
}

func NewMessageChannelWithDefaults(transport Transport) *MessageChannel {
	return NewMessageChannel(transport, DefaultMessageChannelSettings())
}

func NewMessageChannel(transport Transport, settings *MessageChannelSettings) *MessageChannel {
	return &MessageChannel{
		transport: transport,
		settings:  settings,
	}
}

// Connect establishes the session and subscribes to the broadcast
// topic. Idempotent: a second call while connecting or connected is a
// no-op. onReady runs once, after the session is up.
func (self *MessageChannel) Connect(onReady func()) {
	self.mutex.Lock()
	if self.started {
		self.mutex.Unlock()
		return
	}
	self.started = true
	self.mutex.Unlock()

	self.transport.Subscribe(self.settings.SubscribeTopic, self.dispatch)
	self.transport.Connect(func() {
		self.mutex.Lock()
		self.connected = true
		self.mutex.Unlock()
		if onReady != nil {
			onReady()
		}
	})
}

// RegisterHandler sets the handler for inbound envelopes. Exactly one
// handler is active at a time; registering replaces the prior one.
func (self *MessageChannel) RegisterHandler(handler func(envelope *Envelope)) {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	self.handler = handler
}

// Send builds an envelope and publishes it. While not connected the
// message is dropped with a warning, never queued, never retried.
func (self *MessageChannel) Send(messageType MessageType, data any, id Id) error {
	envelopeBytes, err := EncodeEnvelope(messageType, data, id)
	if err != nil {
		glog.Errorf("[ch]encode %s error = %s\n", messageType, err)
		return err
	}
	if self.State() != ChannelConnected {
		glog.Warningf("[ch]send %s while %s, drop\n", messageType, self.State())
		return ErrNotConnected
	}
	if err := self.transport.Publish(self.settings.PublishDestination, envelopeBytes); err != nil {
		glog.Warningf("[ch]publish %s error = %s\n", messageType, err)
		return err
	}
	glog.V(2).Infof("[ch]%s->\n", messageType)
	return nil
}

// Disconnect tears down the session. Subsequent sends are no-ops
// until Connect is called again.
func (self *MessageChannel) Disconnect() {
	self.mutex.Lock()
	self.started = false
	self.connected = false
	self.mutex.Unlock()

	self.transport.Close()
}

func (self *MessageChannel) State() ChannelState {
	self.mutex.Lock()
	defer self.mutex.Unlock()

	if !self.started {
		return ChannelDisconnected
	}
	if !self.connected || !self.transport.Connected() {
		return ChannelConnecting
	}
	return ChannelConnected
}

func (self *MessageChannel) dispatch(body []byte) {
	envelope, err := DecodeEnvelope(body)
	if err != nil {
		// malformed messages are dropped, the connection stays up
		glog.Infof("[ch]decode error = %s\n", err)
		return
	}

	self.mutex.Lock()
	handler := self.handler
	started := self.started
	self.mutex.Unlock()

	if !started {
		// disconnected while the frame was in flight
		return
	}
	if handler == nil {
		glog.V(2).Infof("[ch]%s<- no handler\n", envelope.Type)
		return
	}
	handler(envelope)
	glog.V(2).Infof("[ch]%s<-\n", envelope.Type)
}
