package server

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/normanking/netbot/internal/logging"
	"github.com/normanking/netbot/internal/orchestrator"
)

const (
	// WriteWait is the time allowed to write a message to the peer.
	WriteWait = 10 * time.Second

	// PongWait is the timeout for pong responses.
	PongWait = 60 * time.Second

	// PingPeriod is how often pings are sent. Must be less than PongWait.
	PingPeriod = (PongWait * 9) / 10

	// MaxMessageSize is the maximum size of a client message.
	MaxMessageSize = 64 * 1024
)

// chatConn is one websocket client. Turns on a connection run one at a time
// and share a session unless the client names its own.
type chatConn struct {
	conn    *websocket.Conn
	send    chan ChatEvent
	ctx     context.Context
	cancel  context.CancelFunc
	session string
	remote  string
}

func (c *chatConn) emit(ev ChatEvent) bool {
	select {
	case c.send <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// GET /ws/chat
func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn("websocket upgrade failed: %v", err)
		return
	}

	ctx, cancel := context.WithCancel(logging.DetachContext(r.Context()))
	c := &chatConn{
		conn:    conn,
		send:    make(chan ChatEvent, 64),
		ctx:     ctx,
		cancel:  cancel,
		session: uuid.NewString(),
		remote:  r.RemoteAddr,
	}
	s.log.Debug("chat client connected from %s", c.remote)

	requests := make(chan ChatRequest, 8)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		s.writePump(c)
	}()
	go func() {
		defer wg.Done()
		s.readPump(c, requests)
	}()

	for req := range requests {
		s.runTurn(c, req)
	}

	cancel()
	wg.Wait()
	conn.Close()
	s.log.Debug("chat client %s disconnected", c.remote)
}

// runTurn handles one request and streams the answer back.
func (s *Server) runTurn(c *chatConn, req ChatRequest) {
	if req.SessionID == "" {
		req.SessionID = c.session
	}

	reply, err := s.turns.Handle(c.ctx, orchestrator.Turn{
		SessionID:  req.SessionID,
		Query:      req.Query,
		History:    req.History,
		Language:   req.Language,
		RemoteAddr: c.remote,
	})
	if err != nil {
		c.emit(ChatEvent{Type: EventError, SessionID: req.SessionID, Error: err.Error()})
		return
	}

	stream := reply.Stream
	defer stream.Close()

	if !c.emit(ChatEvent{
		Type:        EventPersona,
		SessionID:   reply.SessionID,
		Persona:     reply.Persona.Key,
		PersonaName: reply.Persona.Name,
		Function:    reply.Capability,
		Fallback:    reply.Decision.Fallback,
	}) {
		return
	}

	for stream.Next() {
		if !c.emit(ChatEvent{Type: EventFragment, SessionID: reply.SessionID, Text: stream.Text()}) {
			return
		}
	}
	c.emit(ChatEvent{Type: EventDone, SessionID: reply.SessionID, Failed: stream.Failed()})
}

// writePump sends events and pings until the connection context ends.
func (s *Server) writePump(c *chatConn) {
	ticker := time.NewTicker(PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case ev := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteJSON(ev); err != nil {
				s.log.Debug("chat write failed: %v", err)
				c.cancel()
				c.conn.Close()
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.cancel()
				c.conn.Close()
				return
			}

		case <-c.ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		}
	}
}

// readPump decodes client requests. Closing the connection aborts the turn
// in progress.
func (s *Server) readPump(c *chatConn, requests chan<- ChatRequest) {
	defer close(requests)
	defer c.cancel()

	c.conn.SetReadLimit(MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				s.log.Warn("websocket error: %v", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(PongWait))

		var req ChatRequest
		if err := json.Unmarshal(message, &req); err != nil {
			if !c.emit(ChatEvent{Type: EventError, Error: "invalid request: " + err.Error()}) {
				return
			}
			continue
		}

		select {
		case requests <- req:
		case <-c.ctx.Done():
			return
		}
	}
}
