package http

import (
	"errors"
	"net/http"

	"github.com/aescanero/genflow/internal/application/workers"
	"github.com/aescanero/genflow/pkg/domain"
	"github.com/gin-gonic/gin"
)

// ErrorResponse represents an error response
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail represents error details
type ErrorDetail struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

// abortWithError writes an ErrorResponse with the given status
func abortWithError(c *gin.Context, status int, code, message string, details interface{}) {
	c.AbortWithStatusJSON(status, ErrorResponse{
		Error: ErrorDetail{
			Code:    code,
			Message: message,
			Details: details,
		},
	})
}

// writeError maps orchestrator errors to HTTP status codes
func writeError(c *gin.Context, err error) {
	status, code := classify(err)

	var details interface{}
	var se *domain.StepError
	if errors.As(err, &se) {
		switch {
		case len(se.Violations) > 0:
			details = gin.H{"step_id": se.StepID, "violations": se.Violations}
		case len(se.Missing) > 0:
			details = gin.H{"step_id": se.StepID, "missing": se.Missing}
		default:
			details = gin.H{"step_id": se.StepID, "kind": se.Kind}
		}
	}

	abortWithError(c, status, code, err.Error(), details)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, domain.ErrProcessNotFound):
		return http.StatusNotFound, "PROCESS_NOT_FOUND"
	case errors.Is(err, domain.ErrStepNotFound):
		return http.StatusNotFound, "STEP_NOT_FOUND"
	case errors.Is(err, domain.ErrPipelineNotFound):
		return http.StatusNotFound, "PIPELINE_NOT_FOUND"
	case errors.Is(err, domain.ErrDependencyNotReady):
		return http.StatusConflict, "DEPENDENCY_NOT_READY"
	case errors.Is(err, domain.ErrInvalidStepState):
		return http.StatusConflict, "INVALID_STATE"
	case errors.Is(err, domain.ErrRetriesExhausted):
		return http.StatusUnprocessableEntity, "STEP_FAILED"
	case errors.Is(err, domain.ErrValidationFailed):
		return http.StatusUnprocessableEntity, "VALIDATION_FAILED"
	case errors.Is(err, domain.ErrInvalidPipeline), errors.Is(err, domain.ErrInvalidWebhook):
		return http.StatusUnprocessableEntity, "INVALID_REQUEST"
	case errors.Is(err, workers.ErrQueueFull), errors.Is(err, workers.ErrPoolStopped):
		return http.StatusServiceUnavailable, "QUEUE_FULL"
	default:
		return http.StatusInternalServerError, "INTERNAL_ERROR"
	}
}
