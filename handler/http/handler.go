package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"reelforge/src/core/assembly"
	"reelforge/src/core/batch"
	"reelforge/src/core/pipeline"
	"reelforge/src/infrastructure/jobstore"
)

type Handler struct {
	pipelines *pipeline.Orchestrator
	batches   *batch.Orchestrator
	segments  assembly.SegmentSource
}

func NewHandler(pipelines *pipeline.Orchestrator, batches *batch.Orchestrator, segments assembly.SegmentSource) *Handler {
	return &Handler{
		pipelines: pipelines,
		batches:   batches,
		segments:  segments,
	}
}

// RegisterRoutes registers all API routes
func (h *Handler) RegisterRoutes(r *gin.Engine) {
	v1 := r.Group("/api/v1")

	// Pipeline routes
	v1.POST("/pipeline/generate", h.GeneratePipeline)
	v1.POST("/pipeline/preview/:pid/:variantIndex", h.PreviewVariant)
	v1.POST("/pipeline/render/:pid", h.RenderVariants)
	v1.GET("/pipeline/status/:pid", h.PipelineStatus)

	// Batch routes
	v1.POST("/batch/dispatch", h.DispatchBatch)
	v1.GET("/batch/:bid/status", h.BatchStatus)
	v1.POST("/batch/:bid/retry-failed", h.RetryFailed)

	// Library routes
	v1.GET("/segments", h.ListSegments)

	// System routes
	v1.GET("/health", h.CheckHealth)
}

// Common error response structure
type ErrorResponse struct {
	Code    string      `json:"code"`
	Message string      `json:"message"`
	Details interface{} `json:"details,omitempty"`
}

func sendError(c *gin.Context, err error) {
	var code string
	var status int
	switch {
	case errors.Is(err, pipeline.ErrVariantCountOutOfRange),
		errors.Is(err, pipeline.ErrNoVariantsSelected),
		errors.Is(err, batch.ErrBatchSizeOutOfRange),
		errors.Is(err, assembly.ErrEmptyScript):
		code = "VALIDATION_ERROR"
		status = http.StatusBadRequest
	case errors.Is(err, jobstore.ErrNotFound),
		errors.Is(err, pipeline.ErrVariantIndexOutOfRange):
		code = "NOT_FOUND"
		status = http.StatusNotFound
	default:
		code = "INTERNAL_ERROR"
		status = http.StatusInternalServerError
	}

	c.JSON(status, ErrorResponse{
		Code:    code,
		Message: err.Error(),
	})
}

func (h *Handler) ListSegments(c *gin.Context) {
	segments, err := h.segments.List(c.Request.Context())
	if err != nil {
		sendError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"segments": segments})
}

func (h *Handler) CheckHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}
