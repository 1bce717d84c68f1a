package session

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puzpuzpuz/xsync/v3"

	"github.com/gazouio/gazou/pkg/errors"
	"github.com/gazouio/gazou/pkg/ratelimit"
)

// Conn is the per-connection session state. Authed and UserID are only
// touched from the connection's own dispatch loop, which processes messages
// strictly in order.
type Conn struct {
	id    uint64
	ws    *websocket.Conn
	token *ratelimit.Token
	alive atomic.Bool

	// Authed is set once the identity challenge completes.
	Authed bool
	// UserID is adopted at challenge start, before it is verified.
	UserID string
}

// Options tune the session server.
type Options struct {
	// HeartbeatInterval is the ping cadence; a connection without a pong
	// between two pings is closed.
	HeartbeatInterval time.Duration
	// MaxMessageSize caps an inbound frame.
	MaxMessageSize int64
}

// Stats is a snapshot of session counters for the metrics collector.
type Stats struct {
	Connections int
	Messages    uint64
	RateLimited uint64
	Errors      uint64
}

// Server accepts WebSocket connections and dispatches their messages. Each
// connection gets one goroutine; messages on a connection are handled
// strictly sequentially, connections proceed fully in parallel.
type Server struct {
	registry *Registry
	limiter  *ratelimit.Limiter
	opts     Options

	upgrader websocket.Upgrader
	conns    *xsync.MapOf[uint64, *Conn]
	nextID   atomic.Uint64

	wg       sync.WaitGroup
	stop     chan struct{}
	stopOnce sync.Once

	messages    atomic.Uint64
	rateLimited atomic.Uint64
	errcount    atomic.Uint64
}

// NewServer creates the session server and starts the heartbeat loop.
func NewServer(registry *Registry, limiter *ratelimit.Limiter, opts Options) *Server {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Second
	}
	if opts.MaxMessageSize <= 0 {
		opts.MaxMessageSize = 64 * 1024
	}
	s := &Server{
		registry: registry,
		limiter:  limiter,
		opts:     opts,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns: xsync.NewMapOf[uint64, *Conn](),
		stop:  make(chan struct{}),
	}
	s.wg.Add(1)
	go s.heartbeat()
	return s
}

// ServeHTTP upgrades the request and runs the connection's dispatch loop.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("session_upgrade_failed", "remote", r.RemoteAddr, "error", err)
		return
	}

	conn := &Conn{id: s.nextID.Add(1), ws: ws, token: s.limiter.Register()}
	conn.alive.Store(true)
	ws.SetReadLimit(s.opts.MaxMessageSize)
	ws.SetPongHandler(func(string) error {
		conn.alive.Store(true)
		return nil
	})

	s.conns.Store(conn.id, conn)
	slog.Info("session_connected", "conn_id", conn.id, "remote", r.RemoteAddr)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.readLoop(conn)
	}()
}

func (s *Server) readLoop(conn *Conn) {
	defer func() {
		s.limiter.Unregister(conn.token)
		s.conns.Delete(conn.id)
		conn.ws.Close()
		slog.Info("session_disconnected", "conn_id", conn.id)
	}()

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		_, raw, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}

		// The response is written before the next read; this is the
		// per-connection strict ordering guarantee.
		resp := s.handleMessage(context.Background(), conn, raw)
		if err := conn.ws.WriteJSON(resp); err != nil {
			slog.Warn("session_write_failed", "conn_id", conn.id, "error", err)
			return
		}
	}
}

// handleMessage parses, rate-tags and dispatches one inbound message,
// producing the correlated response envelope. Handler errors never close
// the connection.
func (s *Server) handleMessage(ctx context.Context, conn *Conn, raw []byte) Response {
	s.messages.Add(1)

	var env Envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		s.errcount.Add(1)
		return Response{
			Event: "error",
			Data:  ErrorPayload{Message: "Malformed message"},
		}
	}

	// Over-budget messages still run; the limited tag tells the client to
	// back off. This is admission shaping, not a hard reject.
	limited := conn.token != nil && !conn.token.Allow()
	if limited {
		s.rateLimited.Add(1)
	}

	result, err := s.dispatch(ctx, conn, &env)
	if err != nil {
		s.errcount.Add(1)
		payload := ErrorPayload{Event: env.Event, Message: "Internal server error"}
		if typed, ok := errors.AsError(err); ok {
			payload = ErrorPayload{Event: typed.Event, Message: typed.Message}
		} else {
			slog.Error("session_handler_failed", "conn_id", conn.id, "event", env.Event, "error", err)
		}
		return Response{Event: "error", Data: payload, Callback: env.Callback, Limited: limited}
	}

	return Response{Event: env.Event, Data: result, Callback: env.Callback, Limited: limited}
}

func (s *Server) dispatch(ctx context.Context, conn *Conn, env *Envelope) (any, error) {
	handler, err := s.registry.Resolve(env.Event)
	if err != nil {
		return nil, err
	}

	result, err := handler(ctx, env.Data, conn)
	if err != nil {
		return nil, err
	}

	// Two response fields carry session side effects owned by the router,
	// not the handler: beginAuth adopts the challenged identity before it
	// is verified, authed flips the connection's auth flag.
	if fields, ok := result.(map[string]any); ok {
		if adopted, _ := fields["beginAuth"].(bool); adopted {
			var d struct {
				ID string `json:"id"`
			}
			if err := json.Unmarshal(env.Data, &d); err == nil {
				conn.UserID = d.ID
			}
		}
		if authed, _ := fields["authed"].(bool); authed {
			conn.Authed = true
			slog.Info("session_authenticated", "conn_id", conn.id, "user_id", conn.UserID)
		}
	}
	return result, nil
}

// heartbeat pings every connection on a fixed cadence and closes those that
// did not pong since the previous ping.
func (s *Server) heartbeat() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.opts.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(10 * time.Second)
			s.conns.Range(func(id uint64, conn *Conn) bool {
				if !conn.alive.Swap(false) {
					slog.Warn("session_liveness_failed", "conn_id", id)
					conn.ws.Close()
					return true
				}
				if err := conn.ws.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
					conn.ws.Close()
				}
				return true
			})
		}
	}
}

// Close stops the heartbeat, closes every connection and waits for the
// dispatch loops to drain.
func (s *Server) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
	s.conns.Range(func(_ uint64, conn *Conn) bool {
		conn.ws.Close()
		return true
	})
	s.wg.Wait()
}

// Stats snapshots the session counters.
func (s *Server) Stats() Stats {
	return Stats{
		Connections: s.conns.Size(),
		Messages:    s.messages.Load(),
		RateLimited: s.rateLimited.Load(),
		Errors:      s.errcount.Load(),
	}
}
