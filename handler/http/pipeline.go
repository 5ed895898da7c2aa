package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"reelforge/src/core/pipeline"
)

type generateRequest struct {
	Idea         string `json:"idea" binding:"required"`
	Context      string `json:"context"`
	VariantCount int    `json:"variant_count" binding:"required"`
	Provider     string `json:"provider"`
}

type generateResponse struct {
	PipelineID string   `json:"pipeline_id"`
	Scripts    []string `json:"scripts"`
}

func (h *Handler) GeneratePipeline(c *gin.Context) {
	var req generateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "VALIDATION_ERROR", Message: err.Error()})
		return
	}

	record, err := h.pipelines.Generate(c.Request.Context(), req.Idea, req.Context, req.VariantCount, req.Provider)
	if err != nil {
		sendError(c, err)
		return
	}

	scripts := make([]string, 0, len(record.Variants))
	for _, variant := range record.Variants {
		scripts = append(scripts, variant.ScriptText)
	}
	c.JSON(http.StatusOK, generateResponse{
		PipelineID: record.PipelineID,
		Scripts:    scripts,
	})
}

type previewRequest struct {
	TTSModel string `json:"tts_model"`
}

func (h *Handler) PreviewVariant(c *gin.Context) {
	variantIndex, err := strconv.Atoi(c.Param("variantIndex"))
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "VALIDATION_ERROR", Message: "variant index must be an integer"})
		return
	}

	var req previewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "VALIDATION_ERROR", Message: err.Error()})
		return
	}

	preview, err := h.pipelines.Preview(c.Request.Context(), c.Param("pid"), variantIndex, req.TTSModel)
	if err != nil {
		sendError(c, err)
		return
	}

	c.JSON(http.StatusOK, preview)
}

type renderRequest struct {
	VariantIndices []int                   `json:"variant_indices" binding:"required"`
	Preset         string                  `json:"preset"`
	Settings       pipeline.RenderSettings `json:"settings"`
}

func (h *Handler) RenderVariants(c *gin.Context) {
	var req renderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "VALIDATION_ERROR", Message: err.Error()})
		return
	}

	settings := req.Settings
	if req.Preset != "" {
		settings.Preset = req.Preset
	}

	if err := h.pipelines.Render(c.Request.Context(), c.Param("pid"), req.VariantIndices, settings); err != nil {
		sendError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{"accepted": true})
}

func (h *Handler) PipelineStatus(c *gin.Context) {
	statuses, err := h.pipelines.Status(c.Request.Context(), c.Param("pid"))
	if err != nil {
		sendError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"variants": statuses})
}
