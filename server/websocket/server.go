// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package websocket

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/absmach/meshrelay/broker"
	"github.com/absmach/meshrelay/frames"
	"github.com/absmach/meshrelay/ratelimit"
)

// writeWait bounds a single frame write to a peer.
const writeWait = 10 * time.Second

type Config struct {
	Address         string
	Path            string
	ShutdownTimeout time.Duration

	// SendQueueSize is the per-connection outbound frame buffer. Frames
	// beyond a full buffer are dropped rather than blocking the router.
	SendQueueSize int
}

type Server struct {
	config   Config
	broker   *broker.Broker
	limiter  *ratelimit.IPRateLimiter
	logger   *slog.Logger
	server   *http.Server
	upgrader websocket.Upgrader
}

// New creates the websocket transport. limiter may be nil to disable
// connection rate limiting.
func New(cfg Config, b *broker.Broker, limiter *ratelimit.IPRateLimiter, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Path == "" {
		cfg.Path = "/mesh"
	}
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = 64
	}

	s := &Server{
		config:  cfg,
		broker:  b,
		limiter: limiter,
		logger:  logger,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.Path, s.handleWebSocket)

	s.server = &http.Server{
		Addr:    cfg.Address,
		Handler: mux,
	}

	return s
}

func (s *Server) Listen(ctx context.Context) error {
	s.logger.Info("websocket_server_starting",
		slog.String("addr", s.config.Address),
		slog.String("path", s.config.Path))

	errCh := make(chan error, 1)
	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		s.logger.Info("websocket_server_shutdown_initiated")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.config.ShutdownTimeout)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("websocket_server_shutdown_error", slog.String("error", err.Error()))
			return err
		}

		s.logger.Info("websocket_server_stopped")
		return nil
	}
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.limiter != nil && !s.limiter.Allow(r.RemoteAddr) {
		s.logger.Warn("connection_rate_limited", slog.String("remote_addr", r.RemoteAddr))
		http.Error(w, "too many connection attempts", http.StatusTooManyRequests)
		return
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket_upgrade_failed", slog.String("error", err.Error()))
		return
	}

	s.logger.Debug("websocket_connection_accepted", slog.String("remote_addr", r.RemoteAddr))

	conn := newWSConnection(ws, r.RemoteAddr, s.config.SendQueueSize)
	go conn.writePump()
	s.broker.HandleConnection(conn)
}

// wsConnection implements broker.Connection for the WebSocket transport.
// The connection id doubles as the node id; it is generated here, never
// chosen by the peer.
type wsConnection struct {
	id         string
	ws         *websocket.Conn
	remoteAddr string

	outbound chan []byte
	closed   chan struct{}
	once     sync.Once
}

func newWSConnection(ws *websocket.Conn, remoteAddr string, sendQueueSize int) *wsConnection {
	return &wsConnection{
		id:         uuid.New().String(),
		ws:         ws,
		remoteAddr: remoteAddr,
		outbound:   make(chan []byte, sendQueueSize),
		closed:     make(chan struct{}),
	}
}

func (c *wsConnection) ID() string { return c.id }

func (c *wsConnection) ReadFrame() (*frames.Frame, error) {
	_, data, err := c.ws.ReadMessage()
	if err != nil {
		return nil, err
	}
	return frames.Decode(data)
}

// WriteFrame enqueues a frame for the writer goroutine. A full buffer or a
// closed connection drops the frame; delivery here is fire-and-forget.
func (c *wsConnection) WriteFrame(frameType string, payload any) error {
	data, err := frames.Encode(frameType, payload)
	if err != nil {
		return err
	}

	select {
	case <-c.closed:
		return net.ErrClosed
	default:
	}

	select {
	case c.outbound <- data:
		return nil
	case <-c.closed:
		return net.ErrClosed
	default:
		return errSendQueueFull
	}
}

var errSendQueueFull = errors.New("websocket: send queue full")

// writePump serializes all writes to the peer. A slow peer stalls only its
// own queue, never the broker.
func (c *wsConnection) writePump() {
	for {
		select {
		case <-c.closed:
			return
		case data := <-c.outbound:
			c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.TextMessage, data); err != nil {
				c.Close()
				return
			}
		}
	}
}

func (c *wsConnection) RemoteAddr() net.Addr {
	return &wsAddr{addr: c.remoteAddr}
}

func (c *wsConnection) Close() error {
	c.once.Do(func() {
		close(c.closed)
		c.ws.Close()
	})
	return nil
}

// wsAddr implements net.Addr for WebSocket connections.
type wsAddr struct {
	addr string
}

func (a *wsAddr) Network() string {
	return "websocket"
}

func (a *wsAddr) String() string {
	return a.addr
}
