package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"blueprint-service/config"
	"blueprint-service/internal/api"
	"blueprint-service/internal/clock"
	"blueprint-service/internal/pricing"
	"blueprint-service/internal/redisclient"
	"blueprint-service/internal/resolver"
	"blueprint-service/internal/upstream"
	"blueprint-service/internal/util"

	"github.com/gin-gonic/gin"
)

func main() {

	cfg := config.Load()

	if err := util.InitLogger(cfg.Server.Env); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer util.SyncLogger()

	logger := util.GetLogger()
	logger.Info("Starting blueprint service")

	tp, err := util.InitTracer("blueprint-service", cfg.Observ.JaegerEndpoint)
	if err != nil {
		log.Fatalf("Failed to initialize tracer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(ctx); err != nil {
			log.Printf("Error shutting down tracer: %v", err)
		}
	}()

	// Redis is an optional response cache in front of the remote source;
	// the service runs fine without it.
	var redisClient *redisclient.Client
	if cfg.Redis.Enabled {
		redisClient, err = redisclient.NewClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err != nil {
			log.Printf("Redis unavailable, continuing without response cache: %v", err)
		} else {
			defer redisClient.Close()
			log.Println("Redis connected")
		}
	}

	source := upstream.NewClient(
		cfg.Upstream.BaseURL,
		cfg.Upstream.ConsumerKey,
		cfg.Upstream.ConsumerSecret,
		cfg.Upstream.Timeout,
		redisClient,
		cfg.Cache.ResponseTTL,
	)

	clk := clock.New()
	assignments := resolver.NewAssignmentCache(source, clk, cfg.Cache.TTL, cfg.Cache.FetchTimeout)
	defer assignments.Close()

	blueprintResolver := resolver.New(source, assignments, clk, cfg.Cache.TTL, cfg.Cache.FetchTimeout)
	defer blueprintResolver.Close()

	interpreter := pricing.New(source, assignments, clk)

	if cfg.Server.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.Default()
	handler := api.NewHandler(blueprintResolver, interpreter, source)
	handler.SetupRoutes(router)

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("Starting HTTP server on port %s", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Failed to start server: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("Server forced to shutdown: %v", err)
	}

	log.Println("Server exited")
}
