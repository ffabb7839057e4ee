package stream

import (
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chuanjin/obdbridge/internal/canbus"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// GeneratorFactory creates the frame generator for a new peer.
type GeneratorFactory func() Generator

// HandlerConfig holds settings shared by every session of a handler.
type HandlerConfig struct {
	Interval     time.Duration
	Baud         int
	WriteTimeout time.Duration
}

// Handler upgrades HTTP requests to WebSocket sessions. Every peer gets its
// own Session and Generator; nothing is shared between peers.
type Handler struct {
	name     string
	newGen   GeneratorFactory
	cfg      HandlerConfig
	log      *zap.Logger
	upgrader websocket.Upgrader
	active   atomic.Int64
	seq      atomic.Uint64

	mu    sync.Mutex
	conns map[*websocket.Conn]struct{}
}

// NewHandler returns a handler named name (used in logs and session ids).
func NewHandler(name string, newGen GeneratorFactory, cfg HandlerConfig, log *zap.Logger) *Handler {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Handler{
		name:   name,
		newGen: newGen,
		cfg:    cfg,
		log:    log,
		conns:  make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
			CheckOrigin:     allowAnyOrigin,
		},
	}
}

// allowAnyOrigin accepts cross-origin upgrades; the sniffer UI is served
// from its own origin.
func allowAnyOrigin(*http.Request) bool { return true }

// Active returns the number of connected peers.
func (h *Handler) Active() int64 {
	return h.active.Load()
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied with an HTTP error
		h.log.Warn("WebSocket upgrade failed", zap.Error(err), zap.String("remote_addr", r.RemoteAddr))
		return
	}
	h.track(conn)
	defer func() {
		h.untrack(conn)
		if err := conn.Close(); err != nil {
			h.log.Debug("Failed to close connection", zap.Error(err))
		}
	}()

	id := fmt.Sprintf("%s-%d", h.name, h.seq.Add(1))
	sink := &wsSink{conn: conn, timeout: h.cfg.WriteTimeout}
	sess := NewSession(id, h.newGen(), sink, SessionConfig{Interval: h.cfg.Interval, Baud: h.cfg.Baud}, h.log)

	h.active.Add(1)
	h.log.Info("Client connected", zap.String("session", id), zap.String("remote_addr", r.RemoteAddr))
	defer func() {
		sess.Close()
		h.active.Add(-1)
		h.log.Info("Client disconnected", zap.String("session", id), zap.Uint64("frames_sent", sess.Sent()))
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.log.Warn("Read error", zap.String("session", id), zap.Error(err))
			}
			return
		}
		sess.Handle(msg)
	}
}

// CloseAll disconnects every peer. http.Server.Shutdown does not touch
// hijacked connections, so servers register this with RegisterOnShutdown.
func (h *Handler) CloseAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.conns {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(time.Second))
		_ = conn.Close()
	}
}

func (h *Handler) track(conn *websocket.Conn) {
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	h.mu.Unlock()
}

func (h *Handler) untrack(conn *websocket.Conn) {
	h.mu.Lock()
	delete(h.conns, conn)
	h.mu.Unlock()
}

// wsSink writes frames as JSON text messages. Only the session's tick
// goroutine writes, which satisfies gorilla's single-writer rule.
type wsSink struct {
	conn    *websocket.Conn
	timeout time.Duration
}

func (s *wsSink) WriteFrame(f canbus.Frame) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(s.timeout)); err != nil {
		return err
	}
	return s.conn.WriteJSON(f)
}
