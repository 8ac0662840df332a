package http

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/aescanero/genflow/internal/application/orchestrator"
	"github.com/aescanero/genflow/internal/application/workers"
	"github.com/aescanero/genflow/pkg/pipeline"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// StartProcessRequest represents a process start request
type StartProcessRequest struct {
	PipelineID string         `json:"pipeline_id"`
	Data       map[string]any `json:"data"`
	PRDContent string         `json:"prd_content"`
	PRDType    string         `json:"prd_type"`
	Webhooks   []string       `json:"webhooks"`
}

// StartProcessResponse represents a process start response
type StartProcessResponse struct {
	ProcessID           string    `json:"process_id"`
	PipelineID          string    `json:"pipeline_id"`
	Status              string    `json:"status"`
	EstimatedCompletion time.Time `json:"estimated_completion"`
	SubmittedAt         time.Time `json:"submitted_at"`
}

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	status := http.StatusOK
	body := gin.H{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
	}

	if s.health != nil {
		workerStatus := s.health.GetStatus()
		body["workers"] = workerStatus
		if !workerStatus.Healthy {
			status = http.StatusServiceUnavailable
			body["status"] = "unhealthy"
		}
	}

	c.JSON(status, body)
}

// handleListPipelines lists the pipeline catalog
func (s *Server) handleListPipelines(c *gin.Context) {
	pipelines := s.orchestrator.Pipelines()
	c.JSON(http.StatusOK, gin.H{
		"pipelines": pipelines,
		"total":     len(pipelines),
	})
}

// handleGetPipeline returns a single pipeline definition
func (s *Server) handleGetPipeline(c *gin.Context) {
	p, err := s.orchestrator.Pipeline(c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, p)
}

// handleStartProcess starts a process and queues its execution
func (s *Server) handleStartProcess(c *gin.Context) {
	var req StartProcessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Error("invalid request", zap.Error(err))
		abortWithError(c, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
		return
	}

	if req.PipelineID == "" {
		req.PipelineID = pipeline.AppGeneration
	}
	data := req.Data
	if data == nil {
		data = make(map[string]any)
	}
	if req.PRDContent != "" {
		data["content"] = req.PRDContent
		if req.PRDType != "" {
			data["type"] = req.PRDType
		} else if _, ok := data["type"]; !ok {
			data["type"] = "text"
		}
	}

	ctx := c.Request.Context()
	processID, err := s.orchestrator.StartPipeline(ctx, req.PipelineID, data, orchestrator.StartOptions{
		Webhooks: req.Webhooks,
	})
	if err != nil {
		s.logger.Error("failed to start process",
			zap.String("pipeline_id", req.PipelineID),
			zap.Error(err))
		writeError(c, err)
		return
	}

	if err := s.submit(processID, data); err != nil {
		s.logger.Error("failed to queue process",
			zap.String("process_id", processID),
			zap.Error(err))
		if cancelErr := s.orchestrator.Cancel(ctx, processID); cancelErr != nil {
			s.logger.Warn("failed to cancel unqueued process",
				zap.String("process_id", processID),
				zap.Error(cancelErr))
		}
		writeError(c, err)
		return
	}

	view, err := s.orchestrator.Status(ctx, processID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusCreated, StartProcessResponse{
		ProcessID:           processID,
		PipelineID:          req.PipelineID,
		Status:              string(view.Status),
		EstimatedCompletion: view.EstimatedCompletion,
		SubmittedAt:         view.StartTime,
	})
}

// handleListProcesses lists known processes
func (s *Server) handleListProcesses(c *gin.Context) {
	processes, err := s.orchestrator.ListProcesses(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to list processes", zap.Error(err))
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"processes": processes,
		"total":     len(processes),
	})
}

// handleGetStatus returns the status view of a process
func (s *Server) handleGetStatus(c *gin.Context) {
	view, err := s.orchestrator.Status(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// handleGetData returns the data accumulated by a process
func (s *Server) handleGetData(c *gin.Context) {
	run, err := s.orchestrator.Process(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"process_id": run.ID,
		"status":     run.Status,
		"data":       run.Data,
	})
}

// handleCancelProcess cancels a running process
func (s *Server) handleCancelProcess(c *gin.Context) {
	processID := c.Param("id")

	ctx := c.Request.Context()
	if err := s.orchestrator.Cancel(ctx, processID); err != nil {
		writeError(c, err)
		return
	}

	view, err := s.orchestrator.Status(ctx, processID)
	if err != nil {
		writeError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"process_id":     processID,
		"status":         view.Status,
		"failure_reason": view.FailureReason,
		"cancelled_at":   time.Now().UTC(),
	})
}

// handleRetryStep reruns a failed step and resumes the process
func (s *Server) handleRetryStep(c *gin.Context) {
	processID := c.Param("id")
	stepID := c.Param("step")
	ctx := c.Request.Context()

	output, err := s.orchestrator.RetryStep(ctx, processID, stepID)
	if err != nil {
		s.logger.Warn("step retry failed",
			zap.String("process_id", processID),
			zap.String("step_id", stepID),
			zap.Error(err))
		writeError(c, err)
		return
	}

	view, err := s.orchestrator.Status(ctx, processID)
	if err != nil {
		writeError(c, err)
		return
	}

	if !view.Status.IsTerminal() {
		run, err := s.orchestrator.Process(ctx, processID)
		if err != nil {
			writeError(c, err)
			return
		}
		if err := s.submit(processID, run.Data); err != nil {
			s.logger.Error("failed to queue resumed process",
				zap.String("process_id", processID),
				zap.Error(err))
			writeError(c, err)
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"process_id": processID,
		"step_id":    stepID,
		"output":     output,
		"status":     view,
	})
}

// handleMetrics returns the orchestrator metrics rollup
func (s *Server) handleMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.orchestrator.Metrics())
}

// submit queues the sequential driver for a process. Without a job
// submitter the driver runs in its own goroutine.
func (s *Server) submit(processID string, input map[string]any) error {
	run := func(ctx context.Context) error {
		err := s.orchestrator.Execute(ctx, processID, input)
		if err != nil && !errors.Is(err, context.Canceled) {
			s.logger.Warn("process execution stopped",
				zap.String("process_id", processID),
				zap.Error(err))
		}
		return err
	}

	if s.jobs == nil {
		go func() { _ = run(context.Background()) }()
		return nil
	}
	return s.jobs.Submit(workers.Job{ID: processID, Run: run})
}
