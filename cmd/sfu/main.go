package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"voxsfu/internal/core/ports"
	"voxsfu/internal/core/services"
	"voxsfu/internal/engine"
	httphandlers "voxsfu/internal/handlers/http"
	"voxsfu/internal/infrastructure/middleware"
	"voxsfu/internal/infrastructure/monitoring"
	"voxsfu/internal/infrastructure/repositories"
	signalgw "voxsfu/internal/infrastructure/signal"
	"voxsfu/pkg/config"
	"voxsfu/pkg/logger"
	"voxsfu/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var configPaths = []string{
	"configs/config.yaml",
	"/etc/voxsfu/config.yaml",
	"config.yaml",
}

func loadConfig(explicit string) (*config.Config, string, error) {
	if explicit != "" {
		cfg, err := config.Load(explicit)
		return cfg, explicit, err
	}
	for _, path := range configPaths {
		if _, err := os.Stat(path); err == nil {
			cfg, err := config.Load(path)
			return cfg, path, err
		}
	}
	cfg, err := config.Load("")
	return cfg, "", err
}

func nodeID(cfg *config.Config) string {
	if cfg.Server.NodeID != "" {
		return cfg.Server.NodeID
	}
	if host, err := os.Hostname(); err == nil {
		return host
	}
	return "voxsfu"
}

func main() {
	configFlag := flag.String("config", "", "path to config.yaml")
	flag.Parse()

	startTime := time.Now()

	cfg, configPath, err := loadConfig(*configFlag)
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

	node := nodeID(cfg)
	log.Infow("starting voxsfu", "node_id", node, "config", configPath, "engine", cfg.Media.Engine, "workers", cfg.Media.NumWorkers)

	tracingCfg := tracing.DefaultConfig()
	tracingCfg.Enabled = cfg.Tracing.Enabled
	tracingCfg.JaegerURL = cfg.Tracing.JaegerURL
	tracingCfg.Environment = cfg.Tracing.Environment
	tracingCfg.SampleRate = cfg.Tracing.SampleRate
	tp, err := tracing.Init(tracingCfg)
	if err != nil {
		log.Fatalw("failed to initialize tracing", "error", err)
	}

	// Media workers
	workers, err := engine.NewWorkers(cfg, log)
	if err != nil {
		log.Fatalw("failed to start media workers", "error", err)
	}
	pool, err := services.NewWorkerPool(workers, log)
	if err != nil {
		log.Fatalw("failed to create worker pool", "error", err)
	}

	// Repositories
	repoFactory := repositories.NewRepositoryFactory(cfg, node, log)

	// Services
	registry := services.NewRoomRegistry(pool, engine.RouterCodecs(cfg.Media.Codecs), log)
	hub := signalgw.NewHub(log)
	sessionService := services.NewSessionService(
		registry,
		repoFactory.CreateProfileRepository(),
		hub,
		log,
		services.WithEventPublisher(repoFactory.CreateEventPublisher()),
		services.WithNodeID(node),
	)
	authService := services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL)

	// Monitoring
	collector := monitoring.NewPrometheusCollector(prometheus.DefaultRegisterer)
	healthChecker := monitoring.NewHealthChecker()
	healthChecker.AddWorkerCheck(pool, 2*time.Second)
	if repoFactory.UsingRedis() {
		healthChecker.AddPingCheck("redis", repoFactory.HealthCheck, 2*time.Second)
	}

	gatewayOpts := []signalgw.ServerOption{signalgw.WithMetrics(collector)}
	if limiter := middleware.NewConnectionLimiter(cfg); limiter != nil {
		gatewayOpts = append(gatewayOpts, signalgw.WithConnectionLimiter(limiter))
	}
	gateway := signalgw.NewWebSocketServer(
		sessionService,
		authService,
		hub,
		signalgw.OptionsFromConfig(cfg),
		log,
		gatewayOpts...,
	)

	var locator httphandlers.RoomLocator
	if dir := repoFactory.RoomDirectory(); dir != nil {
		locator = dir
	}
	roomHandler := httphandlers.NewRoomHandler(registry, locator, node)

	// Background loops
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go collector.Run(ctx, registry, cfg.Monitoring.MetricsInterval)
	directoryDone := make(chan struct{})
	if dir := repoFactory.RoomDirectory(); dir != nil {
		go func() {
			dir.Run(ctx)
			close(directoryDone)
		}()
	} else {
		close(directoryDone)
	}

	workerDied := make(chan error, 1)
	pool.Watch(ctx, func(w ports.MediaWorker, err error) {
		workerDied <- fmt.Errorf("media worker %d died: %v", w.ID(), err)
	})

	// HTTP
	if cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(log),
		middleware.TracingMiddleware(),
		middleware.ErrorHandlerMiddleware(log),
	)

	router.GET(cfg.Signal.Path, gin.WrapF(gateway.HandleWebSocket))

	api := router.Group("/api/v1")
	api.Use(middleware.NewHTTPRateLimitMiddleware(cfg), middleware.AuthMiddleware(authService))
	roomHandler.SetupRoutes(api)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":      "healthy",
			"timestamp":   time.Now(),
			"uptime":      time.Since(startTime).String(),
			"node_id":     node,
			"connections": gateway.ConnectionCount(),
		})
	})
	router.GET("/ready", func(c *gin.Context) {
		status := healthChecker.CheckAll(c.Request.Context())
		code := http.StatusOK
		if status.Status != "healthy" {
			code = http.StatusServiceUnavailable
		}
		c.JSON(code, status)
	})
	if cfg.Monitoring.PrometheusEnabled {
		router.GET(cfg.Monitoring.MetricsPath, gin.WrapH(promhttp.Handler()))
		log.Info("Prometheus metrics enabled")
	}

	srv := &http.Server{
		Addr:        cfg.Server.Address,
		Handler:     router,
		ReadTimeout: cfg.Server.ReadTimeout,
		// Hijacked WebSocket connections are not subject to WriteTimeout.
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Infow("listening", "address", cfg.Server.Address, "signal_path", cfg.Signal.Path)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case err := <-serverErr:
		log.Errorw("server failed", "error", err)
		exitCode = 1
	case err := <-workerDied:
		log.Errorw("media worker failure, shutting down", "error", err)
		exitCode = 1
	case sig := <-sigChan:
		log.Infow("received shutdown signal", "signal", sig)
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Errorw("error during server shutdown", "error", err)
		_ = srv.Close()
	}
	gateway.Shutdown()

	// Give disconnect handling a moment to leave rooms before the workers go.
	deadline := time.Now().Add(5 * time.Second)
	for registry.RoomCount() > 0 && time.Now().Before(deadline) {
		time.Sleep(50 * time.Millisecond)
	}

	cancel()
	<-directoryDone
	pool.Close()

	if err := repoFactory.Close(); err != nil {
		log.Errorw("error closing repositories", "error", err)
	}
	if err := tp.Shutdown(shutdownCtx); err != nil {
		log.Warnw("error shutting down tracer", "error", err)
	}

	log.Infow("voxsfu stopped", "node_id", node)
	if exitCode != 0 {
		zapLogger.Sync()
		os.Exit(exitCode)
	}
}
