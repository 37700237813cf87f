package ws

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"social-events/internal/auth"
	"social-events/internal/observability"
	"social-events/internal/telemetry"
)

type HandlerConfig struct {
	SendBuffer     int
	MaxFrameBytes  int64
	AllowedOrigins []string
}

// Handler upgrades authenticated requests to gateway connections.
type Handler struct {
	gateway   *Gateway
	validator auth.TokenValidator
	upgrader  websocket.Upgrader
	cfg       HandlerConfig
	log       zerolog.Logger
}

func NewHandler(gateway *Gateway, validator auth.TokenValidator, cfg HandlerConfig, log zerolog.Logger) *Handler {
	h := &Handler{gateway: gateway, validator: validator, cfg: cfg, log: log}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

func (h *Handler) checkOrigin(r *http.Request) bool {
	if len(h.cfg.AllowedOrigins) == 0 {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

// Handle resolves the caller from the Authorization header or the token query
// parameter, then upgrades. Rooms are joined afterwards with join_room.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("social-events/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token, err := auth.BearerToken(c.GetHeader("Authorization"))
	if err != nil {
		token = c.Query("token")
	}
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
		return
	}

	userID, err := h.validator.ValidateToken(ctx, token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	wsConn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn().Err(err).Int64("user_id", userID).Msg("websocket upgrade failed")
		return
	}

	requestID := c.GetHeader(telemetry.RequestIDHeader)
	if requestID == "" {
		requestID = uuid.NewString()
	}
	info := ConnInfo{
		ConnID:      uuid.NewString(),
		UserID:      userID,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   requestID,
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	conn := newConn(wsConn, info, h.cfg.SendBuffer, h.log)

	observability.IncWSActive()
	observability.IncWSEvent("connect", "ok")
	conn.log.Info().Str("ip", info.IP).Str("request_id", requestID).Msg("websocket connected")

	connCtx := telemetry.WithRequestID(context.WithoutCancel(ctx), requestID)
	go conn.writePump()
	go func() {
		reason := conn.readPump(h.cfg.MaxFrameBytes, func(raw []byte) {
			h.gateway.Dispatch(connCtx, conn, raw)
		})

		h.gateway.Leave(conn)
		conn.Close()
		observability.DecWSActive()
		observability.IncWSEvent("disconnect", "ok")
		conn.log.Info().
			Str("reason", reason).
			Int64("duration_ms", time.Since(info.ConnectedAt).Milliseconds()).
			Msg("websocket disconnected")
	}()
}
