package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/yungbote/listinglens-backend/internal/http/response"
	"github.com/yungbote/listinglens-backend/internal/platform/logger"
	"github.com/yungbote/listinglens-backend/internal/realtime"
	"github.com/yungbote/listinglens-backend/internal/services"
)

const (
	maxClientMessage = 4096
	defaultPongWait  = 60 * time.Second
)

// ProgressHub is the per-session delivery point a websocket attaches to.
type ProgressHub interface {
	Attach(ctx context.Context, sessionID string, sink realtime.Sink) error
	Detach(sessionID string, sink realtime.Sink)
	SendDirect(ctx context.Context, sessionID string, sink realtime.Sink, msg realtime.Message) error
}

// SessionChecker confirms a session exists before a subscriber is accepted.
type SessionChecker interface {
	Status(ctx context.Context, sessionID string) (*services.StatusView, error)
}

type RealtimeConfig struct {
	WriteTimeout time.Duration
	PongWait     time.Duration
	// AllowedOrigins empty accepts any origin.
	AllowedOrigins []string
}

type RealtimeHandler struct {
	log      *logger.Logger
	hub      ProgressHub
	sessions SessionChecker
	cfg      RealtimeConfig
	upgrader websocket.Upgrader
}

func NewRealtimeHandler(log *logger.Logger, hub ProgressHub, sessions SessionChecker, cfg RealtimeConfig) *RealtimeHandler {
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	h := &RealtimeHandler{
		log:      log.With("handler", "RealtimeHandler"),
		hub:      hub,
		sessions: sessions,
		cfg:      cfg,
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *RealtimeHandler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, o := range h.cfg.AllowedOrigins {
		if o == "*" || strings.EqualFold(o, origin) {
			return true
		}
	}
	return false
}

type clientMessage struct {
	Type string `json:"type"`
}

func isPing(data []byte) bool {
	text := strings.TrimSpace(string(data))
	if strings.EqualFold(text, "ping") {
		return true
	}
	var msg clientMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return false
	}
	return strings.EqualFold(msg.Type, "ping")
}

// GET /ws/:id
func (h *RealtimeHandler) Stream(c *gin.Context) {
	sessionID := strings.TrimSpace(c.Param("id"))
	if _, err := h.sessions.Status(c.Request.Context(), sessionID); err != nil {
		response.RespondAPIError(c, err, "session_lookup_failed")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("WebSocket upgrade failed", "session_id", sessionID, "error", err)
		return
	}
	log := h.log.With("session_id", sessionID)
	sink := realtime.NewWSSink(conn, h.cfg.WriteTimeout)
	ctx := context.Background()

	if err := sink.Send(ctx, realtime.ConnectionAck(sessionID, time.Now())); err != nil {
		log.Warn("Connection ack failed", "error", err)
		_ = sink.Close()
		return
	}
	if err := h.hub.Attach(ctx, sessionID, sink); err != nil {
		// Unsent events stay buffered for the next subscriber.
		log.Warn("Progress flush failed", "error", err)
		_ = sink.Close()
		return
	}
	log.Info("Progress subscriber attached")

	done := make(chan struct{})
	defer func() {
		close(done)
		h.hub.Detach(sessionID, sink)
		_ = sink.Close()
		log.Info("Progress subscriber detached")
	}()
	go h.keepAlive(sink, done)

	conn.SetReadLimit(maxClientMessage)
	_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Debug("WebSocket read ended", "error", err)
			}
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		if !isPing(data) {
			continue
		}
		err = h.hub.SendDirect(ctx, sessionID, sink, realtime.Pong(sessionID, time.Now()))
		if errors.Is(err, realtime.ErrNoSink) {
			log.Info("Subscriber replaced by a newer connection")
			return
		}
		if err != nil {
			log.Debug("Pong failed", "error", err)
			return
		}
	}
}

func (h *RealtimeHandler) keepAlive(sink *realtime.WSSink, done <-chan struct{}) {
	ticker := time.NewTicker(h.cfg.PongWait * 9 / 10)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := sink.Ping(); err != nil {
				return
			}
		}
	}
}
