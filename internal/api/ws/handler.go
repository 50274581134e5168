// Package ws streams committed dialogue turns to WebSocket subscribers.
package ws

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/YuzhangMei/vqa-dialogue/backend/internal/domain/dialogue"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/infrastructure/logging"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/infrastructure/monitoring"
	"github.com/YuzhangMei/vqa-dialogue/backend/internal/shared/id"
)

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS policy is enforced at the HTTP layer
	},
}

// Handler upgrades connections and forwards a session's turn events.
// The stream is read-only for clients; all mutations go through the JSON API.
type Handler struct {
	events  *dialogue.Events
	logger  *logging.Logger
	metrics *monitoring.Metrics
}

// NewHandler creates a stream handler.
func NewHandler(events *dialogue.Events, logger *logging.Logger) *Handler {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Handler{events: events, logger: logger}
}

// WithMetrics attaches a metrics collector.
func (h *Handler) WithMetrics(m *monitoring.Metrics) *Handler {
	h.metrics = m
	return h
}

// Stream handles GET /stream?session_id=... and pushes turn events until the
// session closes or the client disconnects.
func (h *Handler) Stream(c *gin.Context) {
	sid := id.SessionID(c.Query("session_id"))
	if sid == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "session_id query parameter is required",
			"code":  "validation_error",
		})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	if h.metrics != nil {
		h.metrics.IncWSConnections()
		defer h.metrics.DecWSConnections()
	}

	ch, cancel := h.events.Subscribe(sid)
	defer cancel()

	// Reader goroutine: clients send nothing meaningful, but reading is
	// what surfaces disconnects and close frames.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case ev, ok := <-ch:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(ev); err != nil {
				h.logger.Debug("websocket write failed",
					zap.String("session_id", sid.String()),
					zap.Error(err),
				)
				return
			}
			if ev.Closed {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session ended"),
					time.Now().Add(writeWait))
				return
			}
		case <-gone:
			return
		case <-c.Request.Context().Done():
			return
		}
	}
}
