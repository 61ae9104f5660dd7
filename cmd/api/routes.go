package main

import (
	"database/sql"
	"net/http"
	"time"

	"voiceline/internal/httpapi"
	"voiceline/internal/rbac"
	"voiceline/internal/telephony"
	"voiceline/pkg/logger"
	"voiceline/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
)

type routeDeps struct {
	handlers httpapi.Handlers
	webhooks httpapi.Webhooks

	authMW    gin.HandlerFunc
	carrierMW gin.HandlerFunc
	health    gin.HandlerFunc
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, d routeDeps) {
	// public
	r.GET("/healthz", d.health)

	// Carrier webhooks (public, signature checked when enabled).
	hooks := r.Group("/webhooks/voice")
	{
		wh := d.webhooks
		signed := hooks.Group("", d.carrierMW)
		apologise := httpapi.RecoverWithTwiML(telephony.ApologyTwiML)
		pause := httpapi.RecoverWithTwiML(telephony.SilentPauseTwiML)
		signed.POST("/incoming", apologise, wh.Incoming)
		signed.POST("/status", wh.Status)
		signed.POST("/recording", wh.Recording)
		signed.GET("/whisper", pause, wh.Whisper)
		signed.POST("/whisper", pause, wh.Whisper)

		// Fetched by the carrier's media player; asset ids are unguessable.
		hooks.GET("/whisper/audio/:asset_id", wh.WhisperAudio)
	}

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(d.authMW)
	v1.Use(rbac.RequireAccount())
	{
		h := d.handlers
		read := rbac.RequireAnyRole(rbac.Readers...)
		write := rbac.RequireAnyRole(rbac.Managers...)

		// LINES routes
		lines := v1.Group("/lines")
		{
			lines.GET("", read, h.ListLines)
			lines.GET("/search", write, h.SearchNumbers)
			lines.POST("", write, h.AcquireLine)
			lines.GET("/:line_id", read, h.GetLine)
			lines.DELETE("/:line_id", write, h.ReleaseLine)

			lines.PATCH("/:line_id/whisper", write, h.UpdateWhisper)
			lines.POST("/:line_id/whisper/audio", write, h.UploadWhisperAudio)

			lines.GET("/:line_id/forwarding", read, h.GetForwarding)
			lines.POST("/:line_id/forwarding", write, h.CreateForwarding)
			lines.PATCH("/:line_id/forwarding", write, h.UpdateForwarding)
			lines.DELETE("/:line_id/forwarding", write, h.DeleteForwarding)
		}

		// CALLS routes
		calls := v1.Group("/calls")
		calls.Use(read)
		{
			calls.GET("", h.ListCalls)
			calls.GET("/:call_id", h.GetCall)
			calls.GET("/:call_id/recording", h.GetCallRecording)
		}

		// REPORTS routes
		reports := v1.Group("/reports")
		reports.Use(read)
		{
			reports.GET("/calls", h.CallsSummary)
			reports.GET("/spend", h.SpendSummary)
		}

		v1.GET("/billing/time-remaining", read, h.TimeRemaining)
	}
}

func healthHandler(db *sql.DB, rdb *redis.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
			logger.FromGin(c).Warn("health check failed", "dependency", "postgres", "err", err)
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "postgres": "down"})
			return
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			// The whisper cache and upload cap degrade without Redis; calls still route.
			logger.FromGin(c).Warn("health check degraded", "dependency", "redis", "err", err)
			c.JSON(http.StatusOK, gin.H{"status": "ok", "redis": "down"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}
