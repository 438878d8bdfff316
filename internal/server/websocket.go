package server

import (
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/barkain/ironhide/internal/broadcast"
	"github.com/barkain/ironhide/internal/events"
)

const (
	writeWait      = 10 * time.Second
	maxClientFrame = 4096
)

// upgrader configures the websocket handshake.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// handleWebSocket handles GET /ws[?session=<id>]. The connection receives a
// connected event, then the subscription stream: for a session scope that
// starts with the session snapshot.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	sessionID := r.URL.Query().Get("session")
	scope := broadcast.Global()
	if sessionID != "" {
		scope = broadcast.ForSession(sessionID)
	}

	sub, err := s.hub.Subscribe(scope)
	if err != nil {
		if errors.Is(err, broadcast.ErrClosed) {
			respondError(w, http.StatusServiceUnavailable, "server is shutting down")
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Unsubscribe()
		log.Printf("[HTTP] websocket upgrade error: %v", err)
		return
	}

	hello := events.Connected{Timestamp: s.now(), ServerVersion: s.version}
	if sessionID != "" {
		hello.Session = &sessionID
	}
	if err := writeEvent(conn, hello); err != nil {
		sub.Unsubscribe()
		conn.Close()
		return
	}

	readDone := make(chan struct{})
	go s.readPump(conn, readDone)
	go s.writePump(conn, sub, readDone)
}

// readPump discards client frames until the peer goes away. Observers are
// receive-only.
func (s *Server) readPump(conn *websocket.Conn, done chan<- struct{}) {
	defer close(done)
	conn.SetReadLimit(maxClientFrame)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[HTTP] websocket read error: %v", err)
			}
			return
		}
	}
}

// writePump forwards subscription events to conn until the subscription
// ends, the peer disconnects or the server stops.
func (s *Server) writePump(conn *websocket.Conn, sub *broadcast.Subscription, readDone <-chan struct{}) {
	defer func() {
		sub.Unsubscribe()
		conn.Close()
	}()

	for {
		select {
		case e, ok := <-sub.Events():
			if !ok {
				closeConn(conn, websocket.CloseGoingAway, "server closing")
				return
			}
			if err := writeEvent(conn, e); err != nil {
				log.Printf("[HTTP] websocket write error: %v", err)
				return
			}
		case <-readDone:
			return
		case <-s.done:
			closeConn(conn, websocket.CloseGoingAway, "server closing")
			return
		}
	}
}

func writeEvent(conn *websocket.Conn, e events.Event) error {
	data, err := events.Encode(e)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
	return conn.WriteMessage(websocket.TextMessage, data)
}

func closeConn(conn *websocket.Conn, code int, reason string) {
	msg := websocket.FormatCloseMessage(code, reason)
	_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
}
