package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/marketdesk/livefeed/internal/api/handlers"
	"github.com/marketdesk/livefeed/internal/metrics"
)

// SetupRouter sets up the API router
func SetupRouter(
	streamHandler *handlers.StreamHandler,
	watchlistHandler *handlers.WatchlistHandler,
	registry *metrics.Registry,
	logger *zap.Logger,
	corsAllowOrigin string,
) *gin.Engine {
	// Set Gin mode
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	// Middleware
	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware(logger))

	// CORS configuration
	config := cors.Config{
		AllowOrigins:     []string{corsAllowOrigin},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	router.Use(cors.New(config))

	// Health check endpoint
	router.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"status":  "ok",
			"service": "livefeed-api",
			"version": "1.0.0",
		})
	})

	// Prometheus metrics endpoint
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(
		registry.Prometheus(),
		promhttp.HandlerOpts{},
	)))

	// API v1 routes
	v1 := router.Group("/api/v1")
	{
		// Stream status and market snapshots
		streamGroup := v1.Group("/stream")
		{
			streamGroup.GET("/status", streamHandler.GetStatus)
		}
		v1.GET("/market", streamHandler.GetMarketData)

		// Watchlist management
		watchlist := v1.Group("/watchlist")
		{
			watchlist.GET("", watchlistHandler.ListEntries)
			watchlist.POST("", watchlistHandler.AddEntry)
			watchlist.DELETE("/:token", watchlistHandler.RemoveEntry)
			watchlist.GET("/:token/quote", watchlistHandler.GetQuote)
		}
	}

	return router
}

// LoggerMiddleware creates a Gin middleware for logging
func LoggerMiddleware(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)

		if len(c.Errors) > 0 {
			// Log errors if any
			for _, e := range c.Errors.Errors() {
				logger.Error("Request error", zap.String("error", e))
			}
		} else {
			logger.Info("Request",
				zap.Int("status", c.Writer.Status()),
				zap.String("method", c.Request.Method),
				zap.String("path", path),
				zap.String("query", query),
				zap.String("ip", c.ClientIP()),
				zap.Duration("latency", latency),
			)
		}
	}
}
