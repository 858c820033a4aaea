package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/saker-ai/openclaw-gateway/internal/security"
	"github.com/saker-ai/openclaw-gateway/internal/transport/codec"
)

const (
	writeWait  = 5 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = 45 * time.Second
)

// Handler is the push-channel hub. Every connected front-end receives every
// broadcast event.
type Handler struct {
	logger   *zap.Logger
	upgrader websocket.Upgrader
	sessions map[string]*session
	mu       sync.Mutex
	closed   bool
}

type session struct {
	id     string
	conn   *websocket.Conn
	sendMu sync.Mutex
	logger *zap.Logger
	remote string
}

// NewHandler executes the newHandler function. Browser upgrades must come
// from an allowed origin; requests without an Origin header (non-browser
// agents) are accepted.
func NewHandler(logger *zap.Logger, origins security.OriginPolicy) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		logger:   logger,
		sessions: make(map[string]*session),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || origins.Allowed(origin)
			},
		},
	}
}

// Handle upgrades the request and keeps the session registered until the
// peer disconnects.
func (h *Handler) Handle(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("ws upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	sess := &session{
		id:     uuid.NewString(),
		conn:   conn,
		logger: h.logger,
		remote: r.RemoteAddr,
	}
	if !h.registerSession(sess) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		return
	}
	defer h.unregisterSession(sess.id)

	sess.logger.Info("ws session opened",
		zap.String("session_id", sess.id),
		zap.String("remote_addr", sess.remote),
	)

	conn.SetReadLimit(4096)
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	go sess.keepAlive(ctx)

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			sess.logger.Debug("ws connection closed", zap.String("session_id", sess.id), zap.Error(err))
			break
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))
		var msg incomingMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			sess.sendJSON(Message{Type: "error", Payload: "invalid json"})
			continue
		}
		sess.dispatchIncoming(ctx, msg)
	}

	sess.logger.Info("ws session closed", zap.String("session_id", sess.id))
}

// Broadcast sends one custom event to every session and returns how many
// sessions accepted the write.
func (h *Handler) Broadcast(event string, payload any) int {
	frame, err := codec.Encode(event, payload)
	if err != nil {
		h.logger.Warn("ws broadcast encode failed", zap.String("event", event), zap.Error(err))
		return 0
	}

	h.mu.Lock()
	targets := make([]*session, 0, len(h.sessions))
	for _, sess := range h.sessions {
		targets = append(targets, sess)
	}
	h.mu.Unlock()

	delivered := 0
	for _, sess := range targets {
		if err := sess.send(frame); err != nil {
			sess.logger.Debug("ws send failed", zap.String("session_id", sess.id), zap.Error(err))
			_ = sess.conn.Close()
			h.unregisterSession(sess.id)
			continue
		}
		delivered++
	}
	return delivered
}

// Count returns the number of connected sessions.
func (h *Handler) Count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Close disconnects every session and refuses new ones.
func (h *Handler) Close() {
	h.mu.Lock()
	h.closed = true
	sessions := h.sessions
	h.sessions = make(map[string]*session)
	h.mu.Unlock()

	for _, sess := range sessions {
		sess.sendMu.Lock()
		_ = sess.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
			time.Now().Add(writeWait))
		sess.sendMu.Unlock()
		_ = sess.conn.Close()
	}
}

func (h *Handler) registerSession(sess *session) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return false
	}
	h.sessions[sess.id] = sess
	return true
}

func (h *Handler) unregisterSession(id string) {
	h.mu.Lock()
	delete(h.sessions, id)
	h.mu.Unlock()
}

func (s *session) send(frame []byte) error {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return s.conn.WriteMessage(websocket.TextMessage, frame)
}

func (s *session) sendJSON(payload any) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()
	_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := s.conn.WriteJSON(payload); err != nil {
		s.logger.Debug("ws send failed", zap.String("session_id", s.id), zap.Error(err))
	}
}

func (s *session) keepAlive(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sendMu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			s.sendMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}
