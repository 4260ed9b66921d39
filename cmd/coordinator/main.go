package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"tandem/internal/core/domain"
	"tandem/internal/core/ports"
	"tandem/internal/core/services"
	httphandlers "tandem/internal/handlers/http"
	"tandem/internal/infrastructure/middleware"
	"tandem/internal/infrastructure/monitoring"
	"tandem/internal/infrastructure/reliability"
	"tandem/internal/infrastructure/repositories"
	wssignal "tandem/internal/infrastructure/signal"
	"tandem/pkg/batch"
	"tandem/pkg/circuitbreaker"
	"tandem/pkg/config"
	"tandem/pkg/logger"
	"tandem/pkg/retry"
	"tandem/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	flag "github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	configPath := flag.StringP("config", "c", "", "path to YAML config file (defaults are used when empty)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	log := zapLogger.Sugar()

	if err := run(cfg, zapLogger); err != nil {
		log.Fatalw("Coordinator failed", "error", err)
	}
}

func run(cfg *config.Config, zapLogger *zap.Logger) error {
	log := zapLogger.Sugar()

	tp, err := tracing.Init(tracing.FromConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	roster, err := buildRoster(cfg.Participants)
	if err != nil {
		return fmt.Errorf("invalid participants: %w", err)
	}

	repoFactory := repositories.NewRepositoryFactory(cfg, log)
	playRepo := repoFactory.CreatePlayCountRepository()

	collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)

	var recorder *reliability.PlayRecorder
	deps := services.CoordinatorDeps{
		Roster:  roster,
		Metrics: collector,
		Logger:  log,
	}
	if cfg.Plays.Enabled {
		recorder = reliability.NewPlayRecorder(playRepo, playRecorderConfig(cfg), collector, log.Named("plays"))
		deps.Recorder = recorder
	}
	coordinator := services.NewCoordinator(deps)

	var verifier ports.TokenVerifier
	if cfg.Auth.Enabled {
		verifier = services.NewJWTService(cfg.Auth.JWTSecret, cfg.Auth.Issuer)
	}
	wsServer := wssignal.NewWebSocketServer(coordinator,
		wssignal.OptionsFromConfig(cfg, verifier, collector), log)

	checker := monitoring.NewHealthChecker()
	checker.AddRepositoryCheck(playRepo, 30*time.Second, 2*time.Second)
	if client := repoFactory.RedisClient(); client != nil {
		checker.AddRedisCheck(client, 30*time.Second, 2*time.Second)
	}
	checkCtx, stopChecks := context.WithCancel(context.Background())
	defer stopChecks()
	checker.StartBackgroundChecks(checkCtx)

	router := newRouter(cfg, log, logger.NewContextLogger(zapLogger), coordinator, playRepo, wsServer, checker, verifier)

	srv := &http.Server{
		Addr:         cfg.Server.Address,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("Starting Tandem coordinator",
			"address", cfg.Server.Address,
			"ws_path", cfg.Signal.Path,
			"roles", roster.Roles(),
			"auth", cfg.Auth.Enabled,
			"redis", repoFactory.UsingRedis(),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-serverErr:
		return fmt.Errorf("server failed: %w", err)
	case sig := <-sigChan:
		log.Infow("Received shutdown signal", "signal", sig)
	}

	log.Info("Shutting down Tandem coordinator...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	// Hijacked websocket connections are not tracked by http.Server.
	if err := wsServer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error closing websocket clients", "error", err)
	}

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error during server shutdown", "error", err)
		if closeErr := srv.Close(); closeErr != nil {
			log.Errorw("Error force closing server", "error", closeErr)
		}
	} else {
		log.Info("Server shutdown gracefully")
	}

	if recorder != nil {
		recorder.Close(shutdownCtx)
	}
	if err := repoFactory.Close(); err != nil {
		log.Errorw("Error closing repository factory", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Errorw("Error shutting down tracer provider", "error", err)
	}

	log.Info("Tandem coordinator stopped")
	return nil
}

func newRouter(
	cfg *config.Config,
	log *zap.SugaredLogger,
	contextLogger *logger.ContextLogger,
	coordinator ports.Coordinator,
	playRepo ports.PlayCountRepository,
	wsServer *wssignal.WebSocketServer,
	checker *monitoring.HealthChecker,
	verifier ports.TokenVerifier,
) *gin.Engine {
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.RequestLoggerMiddleware(contextLogger),
		middleware.ErrorHandlerMiddleware(log),
	)

	// The upgrade route sits outside the HTTP limiter; message rates are limited per connection.
	router.GET(cfg.Signal.Path, wsServer.Handler())

	httphandlers.NewHealthHandler(checker).SetupRoutes(router)

	if cfg.Monitoring.PrometheusEnabled {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	api := router.Group("/api/v1")
	api.Use(middleware.NewHTTPRateLimitMiddleware(cfg))
	if verifier != nil {
		api.Use(middleware.AuthMiddleware(verifier))
	}
	httphandlers.NewPresenceHandler(coordinator, playRepo).SetupRoutes(api)

	return router
}

func buildRoster(participants []config.Participant) (*domain.Roster, error) {
	entries := make([]domain.Participant, 0, len(participants))
	for _, p := range participants {
		entries = append(entries, domain.Participant{
			Role:        domain.Role(p.Role),
			DisplayName: p.DisplayName,
		})
	}
	return domain.NewRoster(entries...)
}

func playRecorderConfig(cfg *config.Config) reliability.PlayRecorderConfig {
	retryCfg := retry.DefaultConfig()
	retryCfg.MaxAttempts = cfg.Plays.MaxRetries + 1

	breakerCfg := circuitbreaker.DefaultConfig()
	breakerCfg.FailureThreshold = cfg.Plays.FailureThreshold
	breakerCfg.Timeout = cfg.Plays.BreakerTimeout

	return reliability.PlayRecorderConfig{
		Batch: batch.Config{
			BatchSize:     cfg.Plays.BatchSize,
			FlushInterval: cfg.Plays.FlushInterval,
			MaxPending:    cfg.Plays.QueueSize,
		},
		Retry:   retryCfg,
		Breaker: breakerCfg,
	}
}
