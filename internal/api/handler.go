package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"doorlamp-backend/config"
	"doorlamp-backend/internal/model"
	"doorlamp-backend/internal/registry"
	"doorlamp-backend/internal/scheduler"
	"doorlamp-backend/internal/store"
	"doorlamp-backend/internal/workflow"
)

// userIDHeader carries the authenticated caller's id, set by the identity
// layer in front of this service.
const userIDHeader = "X-User-ID"

// Handler holds shared dependencies for API handlers.
type Handler struct {
	store     store.Store
	workflow  *workflow.Service
	scheduler *scheduler.Service
	registry  *registry.Registry
	webpush   *webpush.Options
	deviceCfg config.DeviceConfig
}

// NewHandler creates a new API handler.
func NewHandler(s store.Store, wf *workflow.Service, sched *scheduler.Service, reg *registry.Registry, webpushOptions *webpush.Options, deviceCfg config.DeviceConfig) *Handler {
	return &Handler{
		store:     s,
		workflow:  wf,
		scheduler: sched,
		registry:  reg,
		webpush:   webpushOptions,
		deviceCfg: deviceCfg,
	}
}

// callerID extracts the caller's user id; aborts with 401 when absent.
func callerID(c *gin.Context) (int64, bool) {
	raw := c.GetHeader(userIDHeader)
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing or invalid " + userIDHeader + " header"})
		return 0, false
	}
	return id, true
}

// abortWithError maps workflow/store error kinds to transport status codes.
func abortWithError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, workflow.ErrNotFound), errors.Is(err, gorm.ErrRecordNotFound):
		status = http.StatusNotFound
	case errors.Is(err, workflow.ErrConflict), errors.Is(err, store.ErrDeviceInUse):
		status = http.StatusConflict
	case errors.Is(err, workflow.ErrForbidden):
		status = http.StatusForbidden
	case errors.Is(err, workflow.ErrInvalid):
		status = http.StatusBadRequest
	}
	c.AbortWithStatusJSON(status, gin.H{"error": err.Error()})
}

// requireAdmin aborts with 403 unless the caller holds the admin role.
func (h *Handler) requireAdmin(c *gin.Context, userID int64) bool {
	ok, err := h.store.HasRole(c.Request.Context(), userID, model.RoleAdmin)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "failed to check role"})
		return false
	}
	if !ok {
		c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin role required"})
		return false
	}
	return true
}

func pathID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid " + name})
		return 0, false
	}
	return id, true
}
