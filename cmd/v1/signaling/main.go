// Command signaling runs the push-to-talk signaling server: WebSocket
// sessions, room rosters, floor control, WebRTC relay, and wake-up push
// dispatch.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.uber.org/zap"

	"github.com/wavelinkhq/pushtalk/internal/v1/auth"
	"github.com/wavelinkhq/pushtalk/internal/v1/config"
	"github.com/wavelinkhq/pushtalk/internal/v1/directory"
	"github.com/wavelinkhq/pushtalk/internal/v1/health"
	"github.com/wavelinkhq/pushtalk/internal/v1/logging"
	"github.com/wavelinkhq/pushtalk/internal/v1/middleware"
	"github.com/wavelinkhq/pushtalk/internal/v1/push"
	"github.com/wavelinkhq/pushtalk/internal/v1/ratelimit"
	"github.com/wavelinkhq/pushtalk/internal/v1/tracing"
	"github.com/wavelinkhq/pushtalk/internal/v1/transport"
	"github.com/wavelinkhq/pushtalk/internal/v1/types"
)

const serviceName = "ptt-signaling"

// shutdownGrace bounds how long in-flight work may take once SIGTERM lands.
const shutdownGrace = 10 * time.Second

var defaultDevOrigins = []string{
	"http://localhost:3000",
	"http://localhost:5173",
}

func main() {
	// Missing .env is fine in production; the environment is already set.
	_ = godotenv.Load()

	cfg, err := config.ValidateEnv()
	if err != nil {
		// Logger is not up yet.
		os.Stderr.WriteString(err.Error() + "\n")
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.IsDevelopment()); err != nil {
		os.Stderr.WriteString("failed to initialize logger: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logging.Info(ctx, "Starting signaling server",
		zap.String("listenAddress", cfg.ListenAddress),
		zap.String("env", cfg.GoEnv))

	if cfg.OtelCollectorAddr != "" {
		tp, err := tracing.InitTracer(ctx, serviceName, cfg.OtelCollectorAddr)
		if err != nil {
			logging.Fatal(ctx, "Failed to initialize tracing", zap.Error(err))
		}
		defer func() {
			shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(shCtx)
		}()
	}

	var validator types.TokenValidator
	if cfg.AllowDevAuth {
		logging.Warn(ctx, "ALLOW_DEV_AUTH is enabled; tokens are not verified")
		validator = &auth.DevVerifier{}
	} else {
		v, err := auth.NewValidator(ctx, cfg.AuthDomain, cfg.AuthAudience)
		if err != nil {
			logging.Fatal(ctx, "Failed to initialize token validator", zap.Error(err))
		}
		validator = v
	}

	var dir *directory.Service
	if cfg.RedisEnabled {
		dir, err = directory.NewService(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			logging.Fatal(ctx, "Failed to connect to directory store", zap.Error(err))
		}
		defer func() { _ = dir.Close() }()
	} else {
		logging.Warn(ctx, "Directory store disabled; push wake-ups will reach no one")
	}

	var pusher types.PushNotifier
	var dispatcher *push.Dispatcher
	if cfg.PushGatewayURL != "" {
		dispatcher = push.NewDispatcher(dir, push.NewHTTPGateway(cfg.PushGatewayURL, cfg.PushGatewayKey))
		pusher = dispatcher
	} else {
		logging.Warn(ctx, "PUSH_GATEWAY_URL not set; wake-up push disabled")
	}

	limiter, err := ratelimit.New(cfg.RateLimitWsIP, cfg.RateLimitWsUser, dir.Client())
	if err != nil {
		logging.Fatal(ctx, "Failed to initialize rate limiter", zap.Error(err))
	}

	origins := auth.GetAllowedOrigins(cfg.AllowedOrigins, defaultDevOrigins)
	hub := transport.NewHub(cfg, validator, limiter, pusher, origins, nil)

	if !cfg.IsDevelopment() {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	if cfg.OtelCollectorAddr != "" {
		router.Use(otelgin.Middleware(serviceName))
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Authorization", middleware.HeaderXCorrelationID},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	healthHandler := health.NewHandler(dir)
	router.GET("/ws", hub.ServeWs)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logging.Info(ctx, "Listening", zap.String("addr", cfg.ListenAddress))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error(ctx, "Server failed", zap.Error(err))
			os.Exit(1)
		}
	case <-ctx.Done():
	}

	logging.Info(context.Background(), "Shutting down")
	shCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()

	hub.Shutdown(shCtx)
	if dispatcher != nil {
		dispatcher.Close()
	}
	if err := srv.Shutdown(shCtx); err != nil {
		logging.Error(shCtx, "Graceful shutdown failed", zap.Error(err))
		os.Exit(1)
	}

	logging.Info(context.Background(), "Shutdown complete")
}
