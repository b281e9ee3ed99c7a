package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/patrickmn/go-cache"
	"golang.org/x/time/rate"

	"doorlamp-backend/internal/mw"
)

// NewRouter creates and configures the Gin router.
func NewRouter(h *Handler, rateLimitPerSec float64, rateLimitBurst int, cacheTTL time.Duration) *gin.Engine {
	r := gin.Default()

	rateLimiter := mw.RateLimiter(rate.Limit(rateLimitPerSec), rateLimitBurst)

	cacheStore := cache.New(cacheTTL, 2*cacheTTL)
	caching := mw.Cache(cacheStore, cacheTTL)

	// Device transport: outside the rate limiter, see mw.RateLimiter.
	r.GET("/ws/device", h.DeviceSocket)

	api := r.Group("/api")
	api.Use(rateLimiter)
	{
		// Access-request lifecycle
		api.POST("/requests", h.SubmitRequest)
		api.POST("/requests/:id/approve", h.ApproveRequest)
		api.POST("/requests/:id/decline", h.DeclineRequest)
		api.GET("/requests/pending", h.GetPendingRequests)
		api.GET("/requests/history", h.GetRequestHistory)
		api.GET("/requests/:id", h.GetRequest)

		// Lamp administration
		api.GET("/lamps", caching, h.GetLamps)
		api.POST("/lamps", h.CreateLamp)
		api.PATCH("/lamps/:id/override", h.SetOverride)
		api.PATCH("/lamps/:id/schedule", h.AssignSchedule)
		api.DELETE("/lamps/:id", h.DeactivateLamp)

		api.POST("/branches", h.CreateBranch)
		api.POST("/schedules", h.CreateSchedule)

		// Operator push subscriptions
		api.GET("/subscriptions", h.GetSubscription)
		api.PUT("/subscriptions", h.PutSubscription)
		api.DELETE("/subscriptions", h.DeleteSubscription)
		api.GET("/vapid_public_key", h.GetVAPIDPublicKey)
	}

	return r
}
