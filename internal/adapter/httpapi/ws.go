package httpapi

import (
	"context"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"sync"
	"time"

	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"askverse/internal/domain"
	"askverse/internal/usecase/auth"
	"askverse/internal/usecase/orchestrator"
)

// Outbound frame types.
const (
	FrameProgress = "progress"
	FrameResult   = "result"
	FrameError    = "error"
)

// Frame is a server-to-client WebSocket message.
type Frame struct {
	Type   string                      `json:"type"`
	Event  *orchestrator.Event         `json:"event,omitempty"`
	Result *domain.OrchestrationResult `json:"result,omitempty"`
	Error  string                      `json:"error,omitempty"`
}

const (
	socketBuffer  = 64
	writeTimeout  = 5 * time.Second
	maxFrameBytes = maxBodyBytes
)

// socket tracks one WebSocket connection.
type socket struct {
	ws        *websocket.Conn
	principal *auth.Principal
	sendCh    chan Frame
	done      chan struct{}
	closeOnce sync.Once
}

func (c *socket) close() { c.closeOnce.Do(func() { close(c.done) }) }

// offer queues a frame unless the buffer is full.
func (c *socket) offer(f Frame) bool {
	select {
	case c.sendCh <- f:
		return true
	default:
		return false
	}
}

// send queues a frame, waiting for buffer space.
func (c *socket) send(f Frame) bool {
	select {
	case c.sendCh <- f:
		return true
	case <-c.done:
		return false
	}
}

func (s *Server) acceptOptions() *websocket.AcceptOptions {
	if len(s.cfg.CORSOrigins) == 0 || slices.Contains(s.cfg.CORSOrigins, "*") {
		return &websocket.AcceptOptions{InsecureSkipVerify: true}
	}
	patterns := make([]string, 0, len(s.cfg.CORSOrigins))
	for _, o := range s.cfg.CORSOrigins {
		if u, err := url.Parse(o); err == nil && u.Host != "" {
			o = u.Host
		}
		patterns = append(patterns, o)
	}
	return &websocket.AcceptOptions{OriginPatterns: patterns}
}

// handleWebSocket answers queries sent as JSON frames. Each query streams
// progress frames followed by one result frame. Queries on a connection
// run one at a time.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	p, err := s.authenticate(r)
	if err != nil {
		s.writeError(w, err)
		return
	}

	ws, err := websocket.Accept(w, r, s.acceptOptions())
	if err != nil {
		s.logger.Warn("websocket accept failed", "error", err)
		return
	}
	ws.SetReadLimit(maxFrameBytes)

	connID := s.nextID.Add(1)
	c := &socket{
		ws:        ws,
		principal: p,
		sendCh:    make(chan Frame, socketBuffer),
		done:      make(chan struct{}),
	}
	s.sockets.Store(connID, c)
	s.metrics.ActiveSockets.Add(1)
	s.logger.Info("websocket connected", "conn_id", connID)

	go s.writeLoop(c)
	s.readLoop(r.Context(), c)

	c.close()
	s.sockets.Delete(connID)
	s.metrics.ActiveSockets.Add(-1)
	ws.Close(websocket.StatusNormalClosure, "")
	s.logger.Info("websocket disconnected", "conn_id", connID)
}

func (s *Server) readLoop(ctx context.Context, c *socket) {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		var req QueryRequest
		if err := wsjson.Read(ctx, c.ws, &req); err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				s.logger.Debug("websocket read failed", "error", err)
			}
			return
		}
		if strings.TrimSpace(req.Query) == "" {
			c.send(Frame{Type: FrameError, Error: "query must not be empty"})
			continue
		}

		obs := func(ev orchestrator.Event) {
			if !c.offer(Frame{Type: FrameProgress, Event: &ev}) {
				s.logger.Warn("dropped progress frame for slow client", "event", ev.Type)
			}
		}
		res := s.answer(ctx, req, c.principal, obs)
		if !c.send(Frame{Type: FrameResult, Result: res}) {
			return
		}
	}
}

func (s *Server) writeLoop(c *socket) {
	for {
		select {
		case <-c.done:
			return
		case f := <-c.sendCh:
			ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
			err := wsjson.Write(ctx, c.ws, f)
			cancel()
			if err != nil {
				c.close()
				return
			}
		}
	}
}

// closeSockets closes every open connection. It runs on server shutdown.
func (s *Server) closeSockets() {
	s.sockets.Range(func(key, value any) bool {
		c := value.(*socket)
		c.close()
		c.ws.Close(websocket.StatusGoingAway, "server shutting down")
		s.sockets.Delete(key)
		return true
	})
}
