package websocket

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/aescanero/genflow/pkg/domain"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// DefaultPollInterval is how often the replay buffer is polled
const DefaultPollInterval = 500 * time.Millisecond

const writeWait = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// EventSource reads process events and status. *orchestrator.Manager
// satisfies it.
type EventSource interface {
	StreamSince(ctx context.Context, processID string, lastEventID int64) ([]domain.Event, error)
	Status(ctx context.Context, processID string) (*domain.StatusView, error)
}

// Handler handles WebSocket connections
type Handler struct {
	source   EventSource
	interval time.Duration
	logger   *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(source EventSource, interval time.Duration, logger *zap.Logger) *Handler {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	return &Handler{
		source:   source,
		interval: interval,
		logger:   logger,
	}
}

// HandleProcessStream handles WebSocket streaming for a specific process
func (h *Handler) HandleProcessStream(c *gin.Context) {
	processID := c.Param("id")

	var since int64
	if raw := c.Query("lastEventId"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil || id < 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": gin.H{
				"code":    "INVALID_REQUEST",
				"message": "lastEventId must be a non-negative integer",
			}})
			return
		}
		since = id
	}

	if _, err := h.source.Status(c.Request.Context(), processID); err != nil {
		c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": gin.H{
			"code":    "PROCESS_NOT_FOUND",
			"message": err.Error(),
		}})
		return
	}

	// Upgrade connection
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("failed to upgrade connection", zap.Error(err))
		return
	}
	defer func() { _ = conn.Close() }()

	h.logger.Info("WebSocket connection established",
		zap.String("process_id", processID),
		zap.String("client", c.ClientIP()))

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	// Reader loop handles control frames and notices client disconnects
	go func() {
		defer cancel()
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		events, err := h.source.StreamSince(ctx, processID, since)
		if err != nil {
			h.close(conn, websocket.CloseGoingAway, "process removed")
			return
		}

		for _, event := range events {
			_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteJSON(event); err != nil {
				h.logger.Error("failed to write message",
					zap.String("process_id", processID),
					zap.Error(err))
				return
			}
			since = event.ID
			if event.Type.IsTerminal() {
				h.close(conn, websocket.CloseNormalClosure, string(event.Type))
				return
			}
		}

		if len(events) == 0 {
			if view, err := h.source.Status(ctx, processID); err == nil && view.Status.IsTerminal() {
				h.close(conn, websocket.CloseNormalClosure, string(view.Status))
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (h *Handler) close(conn *websocket.Conn, code int, text string) {
	msg := websocket.FormatCloseMessage(code, text)
	if err := conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait)); err != nil {
		h.logger.Debug("failed to send close frame", zap.Error(err))
	}
}
