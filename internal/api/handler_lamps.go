package api

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"doorlamp-backend/internal/model"
	"doorlamp-backend/internal/parse"
)

type createLampBody struct {
	DeviceID    string `json:"device_id" binding:"required"`
	DisplayName string `json:"display_name" binding:"required"`
	BranchID    int64  `json:"branch_id" binding:"required"`
	ScheduleID  *int64 `json:"schedule_id"`
}

// CreateLamp handles POST /api/lamps (admin).
func (h *Handler) CreateLamp(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok || !h.requireAdmin(c, userID) {
		return
	}

	var body createLampBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := h.store.GetBranch(c.Request.Context(), body.BranchID); err != nil {
		abortWithError(c, err)
		return
	}

	lamp := &model.Lamp{
		DeviceID:    body.DeviceID,
		DisplayName: body.DisplayName,
		BranchID:    body.BranchID,
		ScheduleID:  body.ScheduleID,
		Active:      true,
	}
	if err := h.store.CreateLamp(c.Request.Context(), lamp); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, lamp)
}

// GetLamps handles GET /api/lamps.
func (h *Handler) GetLamps(c *gin.Context) {
	if _, ok := callerID(c); !ok {
		return
	}

	lamps, err := h.store.ListLamps(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to retrieve lamps"})
		return
	}
	c.JSON(http.StatusOK, lamps)
}

type overrideBody struct {
	Enabled bool  `json:"enabled"`
	State   *bool `json:"state"`
}

// SetOverride handles PATCH /api/lamps/:id/override (admin). The override
// takes physical effect immediately via a single-lamp reconciliation.
func (h *Handler) SetOverride(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok || !h.requireAdmin(c, userID) {
		return
	}
	lampID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var body overrideBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.store.SetLampOverride(c.Request.Context(), lampID, body.Enabled, body.State); err != nil {
		abortWithError(c, err)
		return
	}
	if err := h.scheduler.ReconcileLamp(c.Request.Context(), lampID); err != nil {
		log.Printf("Error reconciling lamp %d after override change: %v", lampID, err)
	}
	c.Status(http.StatusNoContent)
}

type assignScheduleBody struct {
	ScheduleID *int64 `json:"schedule_id"`
}

// AssignSchedule handles PATCH /api/lamps/:id/schedule (admin).
func (h *Handler) AssignSchedule(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok || !h.requireAdmin(c, userID) {
		return
	}
	lampID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var body assignScheduleBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if body.ScheduleID != nil {
		if _, err := h.store.GetSchedule(c.Request.Context(), *body.ScheduleID); err != nil {
			abortWithError(c, err)
			return
		}
	}

	if err := h.store.AssignSchedule(c.Request.Context(), lampID, body.ScheduleID); err != nil {
		abortWithError(c, err)
		return
	}
	if err := h.scheduler.ReconcileLamp(c.Request.Context(), lampID); err != nil {
		log.Printf("Error reconciling lamp %d after schedule change: %v", lampID, err)
	}
	c.Status(http.StatusNoContent)
}

// DeactivateLamp handles DELETE /api/lamps/:id (admin). Soft-delete; the
// device is pushed OFF.
func (h *Handler) DeactivateLamp(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok || !h.requireAdmin(c, userID) {
		return
	}
	lampID, ok := pathID(c, "id")
	if !ok {
		return
	}

	if err := h.store.DeactivateLamp(c.Request.Context(), lampID); err != nil {
		abortWithError(c, err)
		return
	}
	if err := h.scheduler.ReconcileLamp(c.Request.Context(), lampID); err != nil {
		log.Printf("Error reconciling lamp %d after deactivation: %v", lampID, err)
	}
	c.Status(http.StatusNoContent)
}

type createBranchBody struct {
	Name     string `json:"name" binding:"required"`
	Timezone string `json:"timezone" binding:"required"`
}

// CreateBranch handles POST /api/branches (admin).
func (h *Handler) CreateBranch(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok || !h.requireAdmin(c, userID) {
		return
	}

	var body createBranchBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	branch := &model.Branch{Name: body.Name, Timezone: body.Timezone}
	if err := h.store.CreateBranch(c.Request.Context(), branch); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, branch)
}

type createScheduleBody struct {
	Name       string `json:"name" binding:"required"`
	WorkStart  string `json:"work_start" binding:"required"`
	WorkEnd    string `json:"work_end"`
	EndEnabled bool   `json:"end_enabled"`
}

// CreateSchedule handles POST /api/schedules (admin).
func (h *Handler) CreateSchedule(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok || !h.requireAdmin(c, userID) {
		return
	}

	var body createScheduleBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if _, err := parse.Clock(body.WorkStart); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid work_start: " + err.Error()})
		return
	}
	if body.EndEnabled {
		if _, err := parse.Clock(body.WorkEnd); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid work_end: " + err.Error()})
			return
		}
	}

	schedule := &model.Schedule{
		Name:       body.Name,
		WorkStart:  body.WorkStart,
		WorkEnd:    body.WorkEnd,
		EndEnabled: body.EndEnabled,
	}
	if err := h.store.CreateSchedule(c.Request.Context(), schedule); err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, schedule)
}
