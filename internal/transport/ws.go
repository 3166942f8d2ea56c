package transport

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/roach88/livechat/internal/apperr"
	"github.com/roach88/livechat/internal/engine"
	"github.com/roach88/livechat/internal/observability/metrics"
)

const (
	writeWait     = 10 * time.Second
	pongWait      = 60 * time.Second
	pingPeriod    = pongWait * 9 / 10
	maxFrameBytes = 64 * 1024
)

// Frame types.
const (
	frameSubscribe   = "subscribe"
	frameUnsubscribe = "unsubscribe"
	frameQuery       = "query"
	frameMutation    = "mutation"
	frameResult      = "result"
	frameUpdate      = "update"
	frameError       = "error"
)

var errSendBufferFull = errors.New("send buffer full")

// clientFrame is a request from the client.
type clientFrame struct {
	ID         string          `json:"id,omitempty"`
	Type       string          `json:"type"`
	Name       string          `json:"name,omitempty"`
	Args       json.RawMessage `json:"args,omitempty"`
	ObserverID string          `json:"observerId,omitempty"`
}

// serverFrame is a reply or a pushed update.
type serverFrame struct {
	ID         string          `json:"id,omitempty"`
	Type       string          `json:"type"`
	ObserverID string          `json:"observerId,omitempty"`
	Query      string          `json:"query,omitempty"`
	Result     json.RawMessage `json:"result,omitempty"`
	Error      *apperr.Error   `json:"error,omitempty"`
	Snapshot   int64           `json:"snapshot,omitempty"`
}

// wsConn is the engine.Conn of one WebSocket. Frames are queued on send
// and written by a single writer goroutine.
type wsConn struct {
	id   string
	ws   *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
	// While holding, pushed updates wait in held so that a subscribe
	// reply always precedes updates for the new observer.
	holding bool
	held    []engine.Update
}

func newWSConn(id string, ws *websocket.Conn, buffer int) *wsConn {
	return &wsConn{id: id, ws: ws, send: make(chan []byte, buffer)}
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Push(u engine.Update) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return engine.ErrConnClosed
	}
	if c.holding {
		c.held = append(c.held, u)
		return nil
	}
	return c.enqueueLocked(updateFrame(u))
}

func (c *wsConn) reply(f serverFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		_ = c.enqueueLocked(f)
	}
}

func (c *wsConn) hold() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.holding = true
}

// release queues f, then every update held since hold.
func (c *wsConn) release(f serverFrame) {
	c.mu.Lock()
	defer c.mu.Unlock()
	held := c.held
	c.holding, c.held = false, nil
	if c.closed {
		return
	}
	if err := c.enqueueLocked(f); err != nil {
		return
	}
	for _, u := range held {
		if err := c.enqueueLocked(updateFrame(u)); err != nil {
			return
		}
	}
}

// enqueueLocked queues a frame without blocking. A connection that cannot
// keep up is closed; the client re-subscribes when it reconnects.
func (c *wsConn) enqueueLocked(f serverFrame) error {
	b, err := json.Marshal(f)
	if err != nil {
		return err
	}
	select {
	case c.send <- b:
		return nil
	default:
		slog.Warn("websocket send buffer full, closing", "conn", c.id)
		c.closeLocked()
		return errSendBufferFull
	}
}

func (c *wsConn) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeLocked()
}

func (c *wsConn) closeLocked() {
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *wsConn) writeLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.ws.Close()
	}()
	for {
		select {
		case msg, ok := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.ws.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.ws.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	// Resolve identity before the upgrade so failures are plain HTTP errors.
	caller, err := s.caller(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Debug("websocket upgrade failed", "error", err)
		return
	}

	c := newWSConn(uuid.NewString(), ws, s.opts.SendBuffer)
	metrics.WebSocketConnections.Inc()
	defer metrics.WebSocketConnections.Dec()
	slog.Info("websocket connected", "conn", c.id, "user", caller.UserID)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	go c.writeLoop()
	s.readLoop(ctx, c, caller)

	s.engine.CloseConnection(c.id)
	c.close()
	slog.Info("websocket disconnected", "conn", c.id, "user", caller.UserID)
}

func (s *Server) readLoop(ctx context.Context, c *wsConn, caller engine.Caller) {
	c.ws.SetReadLimit(maxFrameBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(pongWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) {
				slog.Debug("websocket read failed", "conn", c.id, "error", err)
			}
			return
		}
		var f clientFrame
		if err := json.Unmarshal(data, &f); err != nil {
			c.reply(errorFrame("", apperr.InvalidArg("malformed frame")))
			continue
		}
		s.dispatch(ctx, c, caller, f)
	}
}

func (s *Server) dispatch(ctx context.Context, c *wsConn, caller engine.Caller, f clientFrame) {
	switch f.Type {
	case frameSubscribe:
		c.hold()
		sub, err := s.engine.Subscribe(ctx, c, caller, f.Name, f.Args)
		if err != nil {
			c.release(errorFrame(f.ID, err))
			return
		}
		c.release(serverFrame{
			ID:         f.ID,
			Type:       frameResult,
			ObserverID: sub.ObserverID,
			Query:      f.Name,
			Result:     sub.Result,
			Snapshot:   sub.Snapshot,
		})
	case frameUnsubscribe:
		if !s.engine.Unsubscribe(c.id, f.ObserverID) {
			c.reply(errorFrame(f.ID, apperr.NotFound("unknown observer")))
			return
		}
		c.reply(serverFrame{ID: f.ID, Type: frameResult, ObserverID: f.ObserverID})
	case frameQuery:
		out, err := s.engine.Query(ctx, caller, f.Name, f.Args)
		c.reply(resultFrame(f, out, err))
	case frameMutation:
		out, err := s.engine.Mutate(ctx, caller, f.Name, f.Args)
		c.reply(resultFrame(f, out, err))
	default:
		c.reply(errorFrame(f.ID, apperr.Newf(apperr.CodeInvalidArgument, "unknown frame type %q", f.Type)))
	}
}

func resultFrame(f clientFrame, out json.RawMessage, err error) serverFrame {
	if err != nil {
		return errorFrame(f.ID, err)
	}
	return serverFrame{ID: f.ID, Type: frameResult, Query: f.Name, Result: out}
}

func updateFrame(u engine.Update) serverFrame {
	return serverFrame{
		Type:       frameUpdate,
		ObserverID: u.ObserverID,
		Query:      u.Query,
		Result:     u.Result,
		Error:      u.Error,
		Snapshot:   u.Snapshot,
	}
}

func errorFrame(id string, err error) serverFrame {
	e, ok := apperr.As(err)
	if !ok {
		slog.Error("websocket request failed", "error", err)
		e = &apperr.Error{Code: apperr.CodeInternal, Message: apperr.Public(err)}
	}
	return serverFrame{ID: id, Type: frameError, Error: e}
}
