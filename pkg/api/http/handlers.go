package http

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/urbanmesh/urbanflow/internal/domain"
)

// RunSubmitRequest represents a run submission request
type RunSubmitRequest struct {
	Entities []*domain.Entity `json:"entities" binding:"required"`
}

// RunSubmitResponse represents a run submission response
type RunSubmitResponse struct {
	RunID       string    `json:"run_id"`
	Workflow    string    `json:"workflow"`
	Status      string    `json:"status"`
	SubmittedAt time.Time `json:"submitted_at"`
}

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

// handleHealth handles health check requests
func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "healthy",
		"workflow":  s.workflow,
		"timestamp": time.Now().UTC(),
	})
}

// handleSubmitRun handles run submission
func (s *Server) handleSubmitRun(c *gin.Context) {
	var req RunSubmitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		s.logger.Error("invalid request", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Error: ErrorDetail{
				Code:    "INVALID_REQUEST",
				Message: err.Error(),
			},
		})
		return
	}

	runID, err := s.orchestrator.Submit(c.Request.Context(), s.workflow, s.graph, req.Entities)
	if err != nil {
		s.logger.Error("failed to submit run", zap.Error(err))
		c.JSON(http.StatusUnprocessableEntity, ErrorResponse{
			Error: ErrorDetail{
				Code:    "SUBMISSION_FAILED",
				Message: err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusCreated, RunSubmitResponse{
		RunID:       runID,
		Workflow:    s.workflow,
		Status:      string(domain.RunStatusSubmitted),
		SubmittedAt: time.Now().UTC(),
	})
}

// handleListRuns handles listing runs
func (s *Server) handleListRuns(c *gin.Context) {
	ids, err := s.orchestrator.ListRuns(c.Request.Context())
	if err != nil {
		s.logger.Error("failed to list runs", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    "STORAGE_ERROR",
				Message: "Failed to list runs",
				Details: err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"runs":  ids,
		"total": len(ids),
	})
}

// handleGetRun handles getting run details
func (s *Server) handleGetRun(c *gin.Context) {
	runID := c.Param("id")

	state, err := s.orchestrator.GetStatus(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{
				Code:    "NOT_FOUND",
				Message: "Run not found",
			},
		})
		return
	}

	c.JSON(http.StatusOK, state)
}

// handleGetStatus handles getting run status
func (s *Server) handleGetStatus(c *gin.Context) {
	runID := c.Param("id")

	state, err := s.orchestrator.GetStatus(c.Request.Context(), runID)
	if err != nil {
		c.JSON(http.StatusNotFound, ErrorResponse{
			Error: ErrorDetail{
				Code:    "NOT_FOUND",
				Message: "Run not found",
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":        state.RunID,
		"workflow":      state.Workflow,
		"status":        state.Status,
		"current_phase": state.CurrentPhase,
		"submitted_at":  state.SubmittedAt,
		"started_at":    state.StartedAt,
		"completed_at":  state.CompletedAt,
	})
}

// handleListDeadLetters handles listing quarantined items for a run
func (s *Server) handleListDeadLetters(c *gin.Context) {
	runID := c.Param("id")

	if s.deadLetters == nil {
		c.JSON(http.StatusServiceUnavailable, ErrorResponse{
			Error: ErrorDetail{
				Code:    "DEAD_LETTERS_NOT_AVAILABLE",
				Message: "Dead-letter store is not configured",
			},
		})
		return
	}

	items, err := s.deadLetters.List(c.Request.Context(), runID)
	if err != nil {
		s.logger.Error("failed to list dead letters",
			zap.String("run_id", runID),
			zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{
			Error: ErrorDetail{
				Code:    "DEAD_LETTER_ERROR",
				Message: "Failed to list dead letters",
				Details: err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":       runID,
		"dead_letters": items,
		"total":        len(items),
	})
}

// handlePauseRun handles pausing a run at its next phase boundary
func (s *Server) handlePauseRun(c *gin.Context) {
	runID := c.Param("id")

	if err := s.orchestrator.Pause(c.Request.Context(), runID); err != nil {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{
				Code:    "PAUSE_FAILED",
				Message: err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id": runID,
		"status": string(domain.RunStatusPaused),
	})
}

// handleResumeRun handles resuming a paused run
func (s *Server) handleResumeRun(c *gin.Context) {
	runID := c.Param("id")

	if err := s.orchestrator.Resume(c.Request.Context(), runID); err != nil {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{
				Code:    "RESUME_FAILED",
				Message: err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id": runID,
		"status": string(domain.RunStatusRunning),
	})
}

// handleCancelRun handles run cancellation
func (s *Server) handleCancelRun(c *gin.Context) {
	runID := c.Param("id")

	if err := s.orchestrator.Cancel(c.Request.Context(), runID); err != nil {
		c.JSON(http.StatusConflict, ErrorResponse{
			Error: ErrorDetail{
				Code:    "CANCELLATION_FAILED",
				Message: err.Error(),
			},
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"run_id":       runID,
		"status":       string(domain.RunStatusCancelled),
		"cancelled_at": time.Now().UTC(),
	})
}
