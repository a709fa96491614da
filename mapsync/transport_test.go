package mapsync

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-playground/assert/v2"

	"github.com/gorilla/websocket"
)

// echoHub is a single-connection loopback: sends come back as
// messages on the subscribed topic.
func echoHub(t *testing.T, dropFirst int) (*httptest.Server, *atomic.Int64) {
	connections := &atomic.Int64{}
	upgrader := websocket.Upgrader{}
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
		ws, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()

		connection := connections.Add(1)
		if connection <= int64(dropFirst) {
			// simulate an unexpected close
			return
		}

		topic := ""
		for {
			ws.SetReadDeadline(time.Now().Add(15 * time.Second))
			_, message, err := ws.ReadMessage()
			if err != nil {
				return
			}
			if len(message) == 0 {
				continue
			}
			frame := &Frame{}
			if err := json.Unmarshal(message, frame); err != nil {
				continue
			}
			switch frame.Command {
			case FrameCommandSubscribe:
				topic = frame.Topic
			case FrameCommandSend:
				echoBytes, _ := json.Marshal(&Frame{
					Command: FrameCommandMessage,
					Topic:   topic,
					Body:    frame.Body,
				})
				ws.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := ws.WriteMessage(websocket.TextMessage, echoBytes); err != nil {
					return
				}
			}
		}
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)
	return server, connections
}

func testWsUrl(server *httptest.Server) string {
	return "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
}

func TestWebsocketTransportPublishSubscribe(t *testing.T) {
	server, _ := echoHub(t, 0)

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := NewWebsocketTransportWithDefaults(cancelCtx, testWsUrl(server))
	defer transport.Close()

	received := make(chan []byte, 1)
	transport.Subscribe("/topic/features", func(body []byte) {
		received <- body
	})

	ready := make(chan struct{})
	transport.Connect(func() {
		close(ready)
	})
	// idempotent while running
	transport.Connect(nil)

	select {
	case <-ready:
	case <-time.After(5 * time.Second):
		t.Fatal("connect timeout")
	}
	assert.Equal(t, true, transport.Connected())

	payload := []byte(`{"type":"remove","id":"f1"}`)
	err := transport.Publish("/app/features", payload)
	assert.Equal(t, nil, err)

	select {
	case body := <-received:
		assert.Equal(t, payload, body)
	case <-time.After(5 * time.Second):
		t.Fatal("echo timeout")
	}
}

func TestWebsocketTransportPublishWhileDisconnected(t *testing.T) {
	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	transport := NewWebsocketTransportWithDefaults(cancelCtx, "ws://127.0.0.1:1/ws")

	err := transport.Publish("/app/features", []byte(`{}`))
	assert.Equal(t, ErrNotConnected, err)
}

func TestWebsocketTransportReconnects(t *testing.T) {
	// the first connection is dropped by the server, the transport
	// retries after the fixed delay and resubscribes
	server, connections := echoHub(t, 1)

	cancelCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	settings := DefaultWebsocketTransportSettings()
	settings.ReconnectTimeout = 100 * time.Millisecond
	transport := NewWebsocketTransport(cancelCtx, testWsUrl(server), settings)
	defer transport.Close()

	received := make(chan []byte, 16)
	transport.Subscribe("/topic/features", func(body []byte) {
		received <- body
	})
	transport.Connect(nil)

	payload := []byte(`{"type":"remove","id":"f1"}`)
	timeout := time.After(10 * time.Second)
	for {
		// publish fails while between connections, keep trying
		transport.Publish("/app/features", payload)
		select {
		case body := <-received:
			assert.Equal(t, payload, body)
			assert.Equal(t, true, int64(2) <= connections.Load())
			return
		case <-time.After(200 * time.Millisecond):
		case <-timeout:
			t.Fatal("reconnect timeout")
		}
	}
}
