package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mpcomm/internal/core/services"
	httphandlers "mpcomm/internal/handlers/http"
	"mpcomm/internal/infrastructure/distributed"
	"mpcomm/internal/infrastructure/middleware"
	"mpcomm/internal/infrastructure/monitoring"
	"mpcomm/internal/infrastructure/repositories"
	signalws "mpcomm/internal/infrastructure/signal"
	"mpcomm/pkg/config"
	"mpcomm/pkg/logger"
	"mpcomm/pkg/tracing"
	"mpcomm/pkg/utils"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// staleCallSweepInterval bounds how long an abandoned, never-answered call
// record can linger in the router.
const staleCallSweepInterval = time.Minute

func main() {
	// Try multiple config paths
	configPaths := []string{
		"configs/config.yaml",
		"./configs/config.yaml",
		"/root/configs/config.yaml",
		"config.yaml",
	}

	var cfg *config.Config
	var err error

	for _, path := range configPaths {
		cfg, err = config.Load(path)
		if err == nil {
			break
		}
	}

	if err != nil {
		// Fallback to defaults if config cannot be loaded
		cfg = config.DefaultConfig()
	}

	zapLogger := logger.New(cfg.Logging.Level)
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	tracerProvider, err := tracing.Init(tracing.Config{
		Enabled:     cfg.Tracing.Enabled,
		ServiceName: "mpcomm-signal",
		JaegerURL:   cfg.Tracing.JaegerURL,
		SampleRate:  cfg.Tracing.SampleRate,
	})
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	repoFactory, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		log.Fatalw("failed to create repository factory", "error", err)
	}
	defer repoFactory.Close()

	presenceRepo := repoFactory.CreatePresenceRepository()
	defer presenceRepo.Close()

	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)

	wsConfig := signalws.DefaultServerConfig()
	wsConfig.PingInterval = cfg.Signal.PingInterval
	wsConfig.PongTimeout = cfg.Signal.PongTimeout
	wsConfig.ReadTimeout = cfg.Signal.PongTimeout
	wsConfig.RateLimitEnabled = cfg.RateLimiting.Enabled
	wsConfig.MessagesPerSecond = cfg.RateLimiting.MessagesPerSecond
	wsConfig.Burst = cfg.RateLimiting.Burst

	wsServer := signalws.NewWebSocketServer(authService, presenceRepo, wsConfig, log)

	if cfg.Monitoring.PrometheusEnabled {
		wsServer.SetMetrics(monitoring.NewPrometheusCollector())
	}

	if redisClient := repoFactory.RedisClient(); redisClient != nil {
		bus := distributed.NewEventBus(redisClient, utils.GenerateSessionID(), log)
		defer bus.Close()
		wsServer.SetEventBus(bus)
	}

	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddCheck("presence", func(ctx context.Context) error {
		_, err := presenceRepo.IsBusy(ctx, "healthcheck")
		return err
	}, 2*time.Second)

	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(middleware.RecoveryMiddleware(log))
	router.Use(middleware.ErrorHandlerMiddleware(log))
	router.Use(middleware.RequestLogMiddleware(logger.NewContextLogger(zapLogger)))
	router.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if cfg.Tracing.Enabled {
		router.Use(middleware.TracingMiddleware())
	}

	router.GET("/ws", gin.WrapF(wsServer.HandleWebSocket))
	router.GET("/health", healthChecker.Handler())

	authHandler := httphandlers.NewAuthHandler(authService, cfg.Auth.TokenTTL)
	authHandler.SetupRoutes(router)

	if cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:    cfg.Signal.Address,
		Handler: router,
	}

	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()
	go func() {
		ticker := time.NewTicker(staleCallSweepInterval)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				if n := wsServer.SweepStaleCalls(5 * time.Minute); n > 0 {
					log.Infow("swept stale call records", "count", n)
				}
			}
		}
	}()

	serverErr := make(chan error, 1)
	go func() {
		log.Infof("Starting signaling server on %s", cfg.Signal.Address)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		log.Fatalw("Server failed", "error", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down signaling server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Signal.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	if err := tracerProvider.Shutdown(context.Background()); err != nil {
		log.Errorw("Error shutting down tracer provider", "error", err)
	}

	log.Info("Shutdown complete")
}
