package main

import (
	"database/sql"
	"net/http"
	"time"

	"callflow-platform/internal/flow"
	"callflow-platform/internal/httpapi"
	"callflow-platform/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type routeDeps struct {
	flow   *flow.Controller
	api    *httpapi.Handler
	authMW gin.HandlerFunc
	health gin.HandlerFunc
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", d.health)

	// Voice gateway webhooks (public). The call_id in the path is an
	// unguessable UUID minted at creation; the gateway echoes it back.
	// NOTE: production deployments should also validate the provider's
	// request signature at the edge.
	wh := r.Group("/webhooks/voice/:call_id")
	wh.Use(d.flow.Recover())
	{
		wh.POST("", d.flow.Initial)
		wh.POST("/first-input", d.flow.FirstInput)
		wh.POST("/otp", d.flow.GatherOTP)
		wh.POST("/wait", d.flow.Wait)
		wh.POST("/status", d.flow.Status)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(d.authMW)
	{
		calls := v1.Group("/calls")
		{
			calls.POST("/start", d.api.StartCall)
			calls.GET("/history", d.api.History)
			calls.GET("/:call_id", d.api.GetCall)
			calls.POST("/:call_id/hangup", d.api.Hangup)
			calls.POST("/:call_id/accept", d.api.Accept)
			calls.POST("/:call_id/deny", d.api.Deny)
		}
	}
}

func healthFunc(db *sql.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": err.Error()})
			return
		}
		if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "redis": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
