// Package localapi serves the device's state and controls to the UI layer
// on the loopback interface.
package localapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"classlink/internal/client"
	"classlink/internal/models"
	"classlink/internal/pairing"
	"classlink/internal/store"
)

const requestTimeout = 5 * time.Second

// Device is what the handlers need from the running agent.
type Device interface {
	Snapshot(ctx context.Context) client.Snapshot
	RaiseHand() error
	RecordResponse(ctx context.Context, response *models.PendingResponse) error
	TriggerSync() bool
}

type Handler struct {
	device    Device
	responses store.ResponseRepository
	materials store.MaterialRepository
	feedback  store.FeedbackRepository
}

func NewHandler(device Device, responses store.ResponseRepository, materials store.MaterialRepository, feedback store.FeedbackRepository) *Handler {
	return &Handler{device: device, responses: responses, materials: materials, feedback: feedback}
}

func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/status", h.Status)
	rg.POST("/responses", h.RecordResponse)
	rg.GET("/responses", h.ListResponses)
	rg.DELETE("/responses/:id", h.DeleteResponse)
	rg.POST("/sync", h.Sync)
	rg.POST("/hand", h.RaiseHand)
	rg.GET("/materials", h.ListMaterials)
	rg.GET("/feedback", h.ListFeedback)
}

type RecordResponseRequest struct {
	MaterialID     string     `json:"material_id"`
	QuestionID     string     `json:"question_id" binding:"required"`
	SelectedAnswer string     `json:"selected_answer"`
	Correct        bool       `json:"correct"`
	CapturedAt     *time.Time `json:"captured_at"`
}

func (h *Handler) Status(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()
	c.JSON(http.StatusOK, h.device.Snapshot(ctx))
}

// RecordResponse queues an answer for delivery
func (h *Handler) RecordResponse(c *gin.Context) {
	var req RecordResponseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	response := &models.PendingResponse{
		MaterialID:     req.MaterialID,
		QuestionID:     req.QuestionID,
		SelectedAnswer: req.SelectedAnswer,
		Correct:        req.Correct,
	}
	if req.CapturedAt != nil {
		response.CapturedAt = req.CapturedAt.UTC()
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	if err := h.device.RecordResponse(ctx, response); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusCreated, response)
}

// ListResponses accepts an optional ?synced=true|false filter
func (h *Handler) ListResponses(c *gin.Context) {
	var synced *bool
	if raw := c.Query("synced"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "synced must be true or false"})
			return
		}
		synced = &v
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	list, err := h.responses.List(ctx, synced)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "total": len(list)})
}

// DeleteResponse discards a recorded answer whether or not it was delivered.
func (h *Handler) DeleteResponse(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	if err := h.responses.Delete(ctx, c.Param("id")); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "response not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) Sync(c *gin.Context) {
	if !h.device.TriggerSync() {
		c.JSON(http.StatusConflict, gin.H{"error": "sync already running or engine stopped"})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "sync started"})
}

func (h *Handler) RaiseHand(c *gin.Context) {
	if err := h.device.RaiseHand(); err != nil {
		if errors.Is(err, pairing.ErrNotPaired) {
			c.JSON(http.StatusConflict, gin.H{"error": "not paired with a teacher"})
			return
		}
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusAccepted, gin.H{"message": "hand raised"})
}

func (h *Handler) ListMaterials(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	list, err := h.materials.List(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "total": len(list)})
}

func (h *Handler) ListFeedback(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), requestTimeout)
	defer cancel()

	list, err := h.feedback.List(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": list, "total": len(list)})
}
