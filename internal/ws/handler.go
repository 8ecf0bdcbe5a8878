package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"

	"chat-sync/internal/observability"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades local UI connections and registers them with the hub.
type Handler struct {
	hub *Hub
}

func NewHandler(hub *Hub) *Handler {
	return &Handler{hub: hub}
}

// Handle upgrades the connection and keeps it registered until it closes.
func (h *Handler) Handle(c *gin.Context) {
	ctx, span := otel.Tracer("chat-sync/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	info := ConnInfo{
		ConnID:      newConnID(),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromContext(ctx),
		TraceID:     span.SpanContext().TraceID().String(),
		ConnectedAt: time.Now(),
	}
	h.hub.AddClient(conn, info)
	observability.IncWSActive()
	observability.IncWSEvent("ws_connect")
	h.hub.log.Debug().Str("conn_id", info.ConnID).Str("ip", info.IP).Msg("websocket connected")

	// Clients only listen; reads exist to notice the close.
	go func() {
		defer func() {
			h.hub.RemoveClient(conn)
			observability.DecWSActive()
			observability.IncWSEvent("ws_disconnect")
			_ = conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					h.hub.log.Debug().Err(err).Str("conn_id", info.ConnID).
						Dur("connected_for", time.Since(info.ConnectedAt)).Msg("websocket closed")
				}
				return
			}
		}
	}()
}
