package api

import (
	"net/http"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// WebSocketMessage is what /ws clients send and receive besides events.
type WebSocketMessage struct {
	Type  string `json:"type"`
	Error string `json:"error,omitempty"`
}

// WebSocketHandler streams state-change events until the client leaves.
func (h *Handlers) WebSocketHandler(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("ws: upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	events := h.events.Subscribe()
	defer h.events.Unsubscribe(events)

	replies := make(chan WebSocketMessage, 8)
	done := make(chan struct{})
	go h.readLoop(conn, replies, done)

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	glog.V(1).Infof("ws: client %s connected", r.RemoteAddr)
	for {
		select {
		case <-done:
			glog.V(1).Infof("ws: client %s disconnected", r.RemoteAddr)
			return
		case ev, ok := <-events:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"), time.Now().Add(writeWait))
				return
			}
			if err := send(conn, ev); err != nil {
				return
			}
		case msg := <-replies:
			if err := send(conn, msg); err != nil {
				return
			}
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

// readLoop answers client pings. All writes stay on the handler goroutine.
func (h *Handlers) readLoop(conn *websocket.Conn, replies chan<- WebSocketMessage, done chan<- struct{}) {
	defer close(done)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg WebSocketMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		var reply WebSocketMessage
		switch msg.Type {
		case "ping":
			reply = WebSocketMessage{Type: "pong"}
		default:
			reply = WebSocketMessage{Type: "error", Error: "Unknown message type"}
		}
		select {
		case replies <- reply:
		default:
		}
	}
}

func send(conn *websocket.Conn, v any) error {
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteJSON(v)
}
