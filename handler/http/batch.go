package http

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"reelforge/src/core/batch"
)

type dispatchRequest struct {
	ItemIDs  []string       `json:"item_ids" binding:"required"`
	Settings batch.Settings `json:"settings"`
}

type dispatchResponse struct {
	BatchID string `json:"batch_id"`
	Total   int    `json:"total"`
}

func (h *Handler) DispatchBatch(c *gin.Context) {
	var req dispatchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Code: "VALIDATION_ERROR", Message: err.Error()})
		return
	}

	record, err := h.batches.Dispatch(c.Request.Context(), req.ItemIDs, req.Settings)
	if err != nil {
		sendError(c, err)
		return
	}

	c.JSON(http.StatusAccepted, dispatchResponse{
		BatchID: record.BatchID,
		Total:   record.Total,
	})
}

func (h *Handler) BatchStatus(c *gin.Context) {
	batchStatus, err := h.batches.Status(c.Request.Context(), c.Param("bid"))
	if err != nil {
		sendError(c, err)
		return
	}

	c.JSON(http.StatusOK, batchStatus)
}

func (h *Handler) RetryFailed(c *gin.Context) {
	record, err := h.batches.RetryFailed(c.Request.Context(), c.Param("bid"))
	if err != nil {
		sendError(c, err)
		return
	}

	c.JSON(http.StatusOK, dispatchResponse{
		BatchID: record.BatchID,
		Total:   record.Total,
	})
}
