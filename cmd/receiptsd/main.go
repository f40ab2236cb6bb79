package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/victorivanov/readreceipts/internal/api"
	"github.com/victorivanov/readreceipts/internal/auth"
	"github.com/victorivanov/readreceipts/internal/config"
	"github.com/victorivanov/readreceipts/internal/database"
	"github.com/victorivanov/readreceipts/internal/gateway"
	"github.com/victorivanov/readreceipts/internal/metrics"
	redisclient "github.com/victorivanov/readreceipts/internal/redis"
	"github.com/victorivanov/readreceipts/internal/service"
)

func main() {
	cfg := config.Load()
	ctx := context.Background()

	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	// --- Infrastructure ---

	pool, err := database.NewPostgresPool(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("postgres: %v", err)
	}
	defer pool.Close()

	rdb, err := redisclient.NewClient(cfg.RedisURL)
	if err != nil {
		log.Fatalf("redis: %v", err)
	}
	defer rdb.Close()

	tokenSvc := auth.NewTokenService(cfg.JWTSecret)
	m := metrics.New()

	// --- Repositories ---

	cursors := database.NewReadCursorRepository(pool)
	posts := database.NewPostRepository(pool)
	members := database.NewChannelMemberRepository(pool)

	// --- Gateway ---

	gwManager := gateway.NewManager(tokenSvc, members, cursors, gateway.WithMetrics(m))

	// --- Services & handlers ---

	readCursorSvc := service.NewReadCursorService(cursors, posts, members, rdb, rdb, gwManager, nil, cfg.ReadCountCacheTTL)
	readCursorSvc.SetMetrics(m)

	deps := &api.Dependencies{
		ReadCursors:        api.NewReadCursorHandler(readCursorSvc),
		Gateway:            gwManager,
		TokenService:       tokenSvc,
		Redis:              rdb,
		Metrics:            m,
		ReceiptsRateLimit:  cfg.ReceiptsRateLimit,
		ReceiptsRateWindow: time.Minute,
	}

	// --- Echo ---

	e := echo.New()
	e.HidePort = true
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAccept, echo.HeaderAuthorization},
	}))

	api.SetupRouter(e, deps)

	// --- Start ---

	sigCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		slog.Info("receiptsd starting", "addr", cfg.ServerAddr)
		if err := e.Start(cfg.ServerAddr); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-sigCtx.Done()
	slog.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("shutdown error: %v", err)
	}
}
