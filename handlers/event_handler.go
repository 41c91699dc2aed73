package handlers

import (
	"net/http"
	"strconv"

	"circle-planning-backend/models"

	"github.com/gin-gonic/gin"
)

// RSVPInput is one member's attendance response.
type RSVPInput struct {
	UserID string            `json:"user_id" binding:"required"`
	Status models.RSVPStatus `json:"status" binding:"required"`
}

// CastRSVP records the member's yes/maybe/no on a confirmed event.
func (h *PlanningHandler) CastRSVP(c *gin.Context) {
	var input RSVPInput
	if err := c.ShouldBindJSON(&input); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	coord, ok := h.coordinator(c)
	if !ok {
		return
	}
	if err := coord.CastRSVP(c.Request.Context(), c.Param("eventID"), input.UserID, input.Status); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, stagePayload(coord.View()))
}

// ConfirmEvent flips a pending event to confirmed. The planning coordinator
// observes the change through its event subscription; it is not written to
// the planning record here.
func (h *PlanningHandler) ConfirmEvent(c *gin.Context) {
	circleID := c.Param("id")
	eventID := c.Param("eventID")

	ev, err := h.store.GetEventRecord(c.Request.Context(), eventID)
	if err != nil {
		respondError(c, err)
		return
	}
	if ev == nil || ev.CircleID != circleID {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	if ev.Status == models.EventConfirmed {
		c.JSON(http.StatusOK, ev)
		return
	}

	err = h.manager.WithStageLock(circleID, func() error {
		return h.store.UpdateEventRecord(c.Request.Context(), eventID, map[string]any{
			"status": models.EventConfirmed,
		})
	})
	if err != nil {
		respondError(c, err)
		return
	}

	confirmed, err := h.store.GetEventRecord(c.Request.Context(), eventID)
	if err != nil || confirmed == nil {
		c.JSON(http.StatusOK, gin.H{"status": models.EventConfirmed})
		return
	}
	c.JSON(http.StatusOK, confirmed)
}

// GetMessages returns the circle's reply-channel entries, newest first.
func (h *PlanningHandler) GetMessages(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil && parsed > 0 && parsed <= 200 {
			limit = parsed
		}
	}
	msgs, err := h.store.RecentMessages(c.Request.Context(), c.Param("id"), limit)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"messages": msgs})
}
