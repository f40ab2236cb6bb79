package api

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/victorivanov/readreceipts/internal/auth"
	"github.com/victorivanov/readreceipts/internal/gateway"
	"github.com/victorivanov/readreceipts/internal/metrics"
	"github.com/victorivanov/readreceipts/internal/redis"
)

// Dependencies holds all handler instances and middleware for route wiring.
type Dependencies struct {
	ReadCursors *ReadCursorHandler
	Gateway     *gateway.Manager

	TokenService *auth.TokenService
	Redis        *redis.Client
	Metrics      *metrics.Metrics

	// Per-user budget for the read receipt endpoints, which clients poll as
	// posts scroll into view. Zero values fall back to defaults.
	ReceiptsRateLimit  int
	ReceiptsRateWindow time.Duration
}

// SetupRouter registers all API routes on the Echo instance.
func SetupRouter(e *echo.Echo, deps *Dependencies) {
	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
	})

	if deps.Metrics != nil {
		e.GET("/metrics", echo.WrapHandler(deps.Metrics.Handler()))
	}

	// WebSocket gateway
	e.GET("/gateway", deps.Gateway.HandleWebSocket)

	v1 := e.Group("/api/v1")

	// Protected routes - require JWT auth + general rate limit
	authMw := deps.TokenService.Middleware()
	protected := v1.Group("", authMw,
		RateLimitMiddleware(deps.Redis, 120, time.Minute),
	)

	// Read cursors
	protected.POST("/channels/:id/read_cursor", deps.ReadCursors.Advance)
	protected.GET("/channels/:id/read_cursor", deps.ReadCursors.Get)
	protected.POST("/channels/:id/view", deps.ReadCursors.View)
	protected.GET("/users/@me/read_cursors", deps.ReadCursors.ListMine)

	// Read receipts
	limit, window := deps.ReceiptsRateLimit, deps.ReceiptsRateWindow
	if limit <= 0 {
		limit = 600
	}
	if window <= 0 {
		window = time.Minute
	}
	receipts := v1.Group("/posts/:id/read_receipts", authMw, RateLimitMiddleware(deps.Redis, limit, window))
	receipts.GET("", deps.ReadCursors.Readers)
	receipts.GET("/count", deps.ReadCursors.Count)
}
