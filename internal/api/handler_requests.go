package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

type submitRequestBody struct {
	LampID int64  `json:"lamp_id" binding:"required"`
	Reason string `json:"reason"`
}

// SubmitRequest handles POST /api/requests.
func (h *Handler) SubmitRequest(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	var body submitRequestBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	req, err := h.workflow.Submit(c.Request.Context(), userID, body.LampID, body.Reason)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusCreated, req)
}

type respondBody struct {
	Notes string `json:"notes"`
}

// ApproveRequest handles POST /api/requests/:id/approve.
func (h *Handler) ApproveRequest(c *gin.Context) {
	h.respond(c, h.workflow.Approve)
}

// DeclineRequest handles POST /api/requests/:id/decline.
func (h *Handler) DeclineRequest(c *gin.Context) {
	h.respond(c, h.workflow.Decline)
}

func (h *Handler) respond(c *gin.Context, op func(ctx context.Context, requestID, responderID int64, notes string) error) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	requestID, ok := pathID(c, "id")
	if !ok {
		return
	}

	var body respondBody
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
	}

	if err := op(c.Request.Context(), requestID, userID, body.Notes); err != nil {
		abortWithError(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

// GetPendingRequests handles GET /api/requests/pending.
func (h *Handler) GetPendingRequests(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	reqs, err := h.workflow.ListPendingFor(c.Request.Context(), userID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, reqs)
}

// GetRequestHistory handles GET /api/requests/history?from=&to= (RFC3339).
func (h *Handler) GetRequestHistory(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	var from, to *time.Time
	if raw := c.Query("from"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'from' timestamp. Use RFC3339."})
			return
		}
		from = &t
	}
	if raw := c.Query("to"); raw != "" {
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid 'to' timestamp. Use RFC3339."})
			return
		}
		to = &t
	}

	reqs, err := h.workflow.ListHistory(c.Request.Context(), userID, from, to)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, reqs)
}

// GetRequest handles GET /api/requests/:id.
func (h *Handler) GetRequest(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	requestID, ok := pathID(c, "id")
	if !ok {
		return
	}

	req, err := h.workflow.Get(c.Request.Context(), requestID, userID)
	if err != nil {
		abortWithError(c, err)
		return
	}
	c.JSON(http.StatusOK, req)
}
