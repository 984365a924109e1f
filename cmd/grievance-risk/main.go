package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/mr1hm/go-grievance-risk/internal/api"
	"github.com/mr1hm/go-grievance-risk/internal/app"
	"github.com/mr1hm/go-grievance-risk/internal/config"
	"github.com/mr1hm/go-grievance-risk/internal/intake"
	"github.com/mr1hm/go-grievance-risk/internal/logging"
)

func main() {
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		logging.Fatalf("Fatal while loading config: %v", err)
	}
	logging.Setup(cfg.Logging.Level, cfg.Logging.Format)

	slog.Info("Server starting", "host", cfg.Server.Host, "port", cfg.Server.Port)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := app.New(ctx, cfg)
	if err != nil {
		logging.Fatalf("Failed to initialize service: %v", err)
	}
	defer svc.Close()

	// Start intake workers and the risk scheduler
	mgr := intake.NewManager(cfg, svc.DB, svc.Aggregator, svc.Engine)
	mgr.Start(ctx)

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false, // Set to false when using wildcard origins
	}))

	handler := api.NewHandler(svc.DB, mgr, svc.Engine, svc.Reporter, svc.Broadcaster, svc.AssetFlusher())
	handler.RegisterRoutes(router, api.RateLimitMiddleware(cfg.Server.RateLimitRPS))

	srv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler: router,
	}

	go func() {
		slog.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatalf("server error: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down...")

	// End event streams so the HTTP server can go idle, stop accepting
	// requests, then let queued grievances finish clustering.
	svc.Broadcaster.Close()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	mgr.Stop()
	cancel()

	slog.Info("shutdown complete")
}
