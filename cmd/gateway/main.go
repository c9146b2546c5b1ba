// Command gateway is a transport demo: it wires package manager to a real
// WebSocket endpoint using gin, gorilla/websocket, and the JWT/rate-limit/
// health/correlation infrastructure under internal/.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/hollowgrove/yroom/internal/auth"
	"github.com/hollowgrove/yroom/internal/config"
	"github.com/hollowgrove/yroom/internal/gateway"
	"github.com/hollowgrove/yroom/internal/health"
	"github.com/hollowgrove/yroom/internal/logging"
	"github.com/hollowgrove/yroom/internal/manager"
	"github.com/hollowgrove/yroom/internal/middleware"
	"github.com/hollowgrove/yroom/internal/ratelimit"
	"go.uber.org/zap"
)

func main() {
	ctx := context.Background()

	// Load .env for local development; try a few relative paths to
	// accommodate running from the repo root or from cmd/gateway.
	for _, path := range []string{".env", "../../.env", "../.env"} {
		if err := godotenv.Load(path); err == nil {
			break
		}
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		panic(err)
	}

	if err := logging.Initialize(cfg.GoEnv != "production"); err != nil {
		panic(err)
	}
	logging.Info(ctx, "yroom gateway starting", zap.String("go_env", cfg.GoEnv), zap.String("port", cfg.Port))

	var validator gateway.TokenValidator
	if cfg.SkipAuth {
		logging.Warn(ctx, "SKIP_AUTH=true: authentication disabled, do not use in production")
		validator = &auth.MockValidator{}
	} else {
		v, err := auth.NewValidator(ctx, cfg.Auth0Domain, cfg.Auth0Audience)
		if err != nil {
			logging.Fatal(ctx, "failed to initialize auth validator", zap.Error(err))
		}
		validator = v
	}

	rl, err := ratelimit.NewRateLimiter(cfg)
	if err != nil {
		logging.Fatal(ctx, "failed to initialize rate limiter", zap.Error(err))
	}

	mgr := manager.NewDefault()
	gw := gateway.New(mgr, validator)
	allowedOrigins := auth.GetAllowedOriginsFromEnv("ALLOWED_ORIGINS", []string{"http://localhost:3000"})
	wsHandler := gateway.NewHandler(gw, allowedOrigins, rl)
	healthHandler := health.NewHandler(mgr)

	if cfg.GoEnv == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())

	corsConfig := cors.DefaultConfig()
	corsConfig.AllowOrigins = allowedOrigins
	corsConfig.AllowCredentials = true
	router.Use(cors.New(corsConfig))

	router.Use(rl.GlobalMiddleware())

	router.GET("/ws/:room", wsHandler.ServeWs)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	go func() {
		logging.Info(ctx, "gateway listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.Fatal(ctx, "gateway server failed", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logging.Info(ctx, "shutting down gateway")

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error(ctx, "gateway forced shutdown", zap.Error(err))
	}
	logging.Info(ctx, "gateway exited")
}
