package http

import (
	"net/http"
	"strconv"
	"time"

	"github.com/aescanero/genflow/pkg/domain"
	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// lastEventID reads the resume position from the lastEventId query
// parameter or the Last-Event-ID header. Zero replays the whole buffer.
func lastEventID(c *gin.Context) (int64, bool) {
	raw := c.Query("lastEventId")
	if raw == "" {
		raw = c.GetHeader("Last-Event-ID")
	}
	if raw == "" {
		return 0, true
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id < 0 {
		return 0, false
	}
	return id, true
}

// handleListEvents returns the buffered events after lastEventId
func (s *Server) handleListEvents(c *gin.Context) {
	processID := c.Param("id")
	since, ok := lastEventID(c)
	if !ok {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", "lastEventId must be a non-negative integer", nil)
		return
	}

	events, err := s.orchestrator.StreamSince(c.Request.Context(), processID, since)
	if err != nil {
		writeError(c, err)
		return
	}

	last := since
	if len(events) > 0 {
		last = events[len(events)-1].ID
	}

	c.JSON(http.StatusOK, gin.H{
		"process_id":    processID,
		"events":        events,
		"last_event_id": last,
	})
}

// handleStream pushes process events as Server-Sent Events. It polls the
// replay buffer and ends after a terminal event, when the process is
// terminal with nothing left to send, or after the maximum duration.
func (s *Server) handleStream(c *gin.Context) {
	processID := c.Param("id")
	since, ok := lastEventID(c)
	if !ok {
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", "lastEventId must be a non-negative integer", nil)
		return
	}

	ctx := c.Request.Context()
	if _, err := s.orchestrator.Status(ctx, processID); err != nil {
		writeError(c, err)
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	s.logger.Debug("event stream opened",
		zap.String("process_id", processID),
		zap.Int64("last_event_id", since))

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()
	deadline := time.NewTimer(s.maxStreamDuration)
	defer deadline.Stop()

	for {
		events, err := s.orchestrator.StreamSince(ctx, processID, since)
		if err != nil {
			// swept while streaming
			c.Render(-1, sse.Event{Event: "error", Data: gin.H{"message": err.Error()}})
			c.Writer.Flush()
			return
		}

		for _, event := range events {
			c.Render(-1, sse.Event{
				Id:    strconv.FormatInt(event.ID, 10),
				Event: string(event.Type),
				Data:  event,
			})
			since = event.ID
			if event.Type.IsTerminal() {
				c.Writer.Flush()
				return
			}
		}

		if len(events) == 0 {
			view, err := s.orchestrator.Status(ctx, processID)
			if err == nil && view.Status.IsTerminal() {
				s.sendEnd(c, view)
				return
			}
		}
		c.Writer.Flush()

		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			s.logger.Debug("event stream reached max duration",
				zap.String("process_id", processID))
			return
		case <-ticker.C:
		}
	}
}

func (s *Server) sendEnd(c *gin.Context, view *domain.StatusView) {
	c.Render(-1, sse.Event{Event: "end", Data: view})
	c.Writer.Flush()
}
