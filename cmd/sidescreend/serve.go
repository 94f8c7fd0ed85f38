package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"sidescreen/internal/core/domain"
	"sidescreen/internal/core/ports"
	"sidescreen/internal/core/services"
	httphandlers "sidescreen/internal/handlers/http"
	backupinfra "sidescreen/internal/infrastructure/backup"
	"sidescreen/internal/infrastructure/capture"
	"sidescreen/internal/infrastructure/distributed"
	"sidescreen/internal/infrastructure/input"
	"sidescreen/internal/infrastructure/middleware"
	"sidescreen/internal/infrastructure/monitoring"
	"sidescreen/internal/infrastructure/repositories"
	"sidescreen/internal/infrastructure/transport"
	"sidescreen/pkg/backup"
	"sidescreen/pkg/config"
	redislock "sidescreen/pkg/distributed"
	"sidescreen/pkg/logger"
	"sidescreen/pkg/retry"
	"sidescreen/pkg/tracing"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the streaming engine and the control API",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, cfg.Logging.Format)
	defer zapLogger.Sync()

	d, err := newDaemon(cfg, zapLogger)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return d.run(ctx)
}

// daemon holds the wired engine and its supporting infrastructure.
type daemon struct {
	cfg       *config.Config
	zapLogger *zap.Logger
	log       *zap.SugaredLogger
	hostID    string
	startedAt time.Time

	repos    *repositories.RepositoryFactory
	trust    ports.TrustRepository
	backups  *backupinfra.Scheduler
	registry *prometheus.Registry
	health   *monitoring.HealthChecker
	tracer   *tracing.TracerProvider
	auth     services.AuthService

	notifier *services.EventNotifier
	catalog  *services.SourceCatalog
	hub      *services.CaptureHub
	coord    *services.ConnectionCoordinator
	manager  *services.SessionManager
	listener *transport.DeviceListener
	defaults domain.SessionConfig
}

func newDaemon(cfg *config.Config, zapLogger *zap.Logger) (*daemon, error) {
	log := zapLogger.Sugar()
	if !cfg.Capture.Synthetic {
		return nil, fmt.Errorf("no platform capture backend is built in; set capture.synthetic to true")
	}

	hostID := cfg.Host.ID
	if hostID == "" {
		hostID = uuid.NewString()
	}

	d := &daemon{
		cfg:       cfg,
		zapLogger: zapLogger,
		log:       log,
		hostID:    hostID,
		startedAt: time.Now(),
		registry:  prometheus.NewRegistry(),
		health:    monitoring.NewHealthChecker(log),
		notifier:  services.NewEventNotifier(log),
		catalog:   services.NewSourceCatalog(),
	}

	repos, err := repositories.NewRepositoryFactory(cfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create repository factory: %w", err)
	}
	d.repos = repos
	trust := repos.CreateTrustRepository()
	d.trust = trust

	d.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := monitoring.NewPrometheusCollector(d.registry)

	for _, s := range cfg.Capture.Sources {
		desc := domain.FrameSourceDescriptor{
			ID:          domain.SourceID(s.ID),
			Bounds:      domain.Rect{X: s.X, Y: s.Y, Width: s.Width, Height: s.Height},
			RefreshHint: s.RefreshHint,
		}
		if err := d.catalog.Register(desc); err != nil {
			repos.Close()
			return nil, err
		}
	}

	compressor := capture.NewJPEGCompressor()
	d.hub = services.NewCaptureHub(capture.NewSyntheticSource(d.catalog), metrics, log)
	d.defaults = domain.SessionConfig{
		TargetFPS: cfg.Sessions.DefaultFPS,
		Quality:   cfg.Sessions.DefaultQuality,
		Codec:     compressor.Format(),
	}

	chCfg := transport.Config{
		WriteTimeout: cfg.Transport.WriteTimeout,
		InboxSize:    cfg.Transport.InboxSize,
	}
	wsCfg := transport.WebSocketConfig{
		DevicePath:     cfg.Transport.WebSocket.DevicePath,
		DialTimeout:    cfg.Transport.WebSocket.DialTimeout,
		PingInterval:   cfg.Transport.WebSocket.PingInterval,
		PongTimeout:    cfg.Transport.WebSocket.PongTimeout,
		MaxMessageSize: cfg.Transport.WebSocket.MaxMessageSizeBytes,
	}
	d.listener = transport.NewDeviceListener(cfg.Pairing.Timeout, log)

	d.coord = services.NewConnectionCoordinator(coordinatorConfig(cfg, hostID, compressor.Format()), trust, d.notifier, metrics, log)
	d.coord.RegisterOpener(domain.TransportUSB, transport.NewUSBOpener(cfg.Transport.USB.DialTimeout, chCfg, log))
	d.coord.RegisterOpener(domain.TransportNetwork, transport.NewNetworkOpener(wsCfg, chCfg, d.listener, log))
	d.listener.SetDiscoveryHandler(d.coord)

	router := services.NewInputRouter(input.NewLogInjector(log), inputRouterConfig(cfg), metrics, log)
	d.manager = services.NewSessionManager(sessionManagerConfig(cfg), d.coord, d.hub, compressor, router, d.notifier, metrics, log)
	d.coord.SetInputHandler(d.manager)

	d.health.AddTrustStoreCheck(trust, 30*time.Second, 5*time.Second)
	if client := repos.RedisClient(); client != nil {
		d.health.AddRedisCheck(client, cfg.Storage.Driver != "redis", 15*time.Second, 2*time.Second)
	}

	if cfg.Backup.Enabled {
		storage, err := backup.NewFileStorage(cfg.Backup.Directory)
		if err != nil {
			repos.Close()
			return nil, err
		}
		d.backups = backupinfra.NewScheduler(backup.NewBackupService(storage, Version), trust, hostID,
			backupinfra.Config{Interval: cfg.Backup.Interval, RetentionDays: cfg.Backup.RetentionDays}, log)
		if client := repos.RedisClient(); client != nil && repos.Driver() == "redis" {
			d.backups.WithLock(redislock.NewLock(client, "sidescreen:lock:backup", time.Minute))
		}
	}

	if cfg.Auth.Enabled {
		d.auth = services.NewAuthService(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL)
	}

	tcfg := tracing.DefaultConfig()
	tcfg.Enabled = cfg.Tracing.Enabled
	tcfg.Version = Version
	tcfg.JaegerURL = cfg.Tracing.JaegerURL
	tcfg.SampleRate = cfg.Tracing.SampleRate
	tracer, err := tracing.Init(tcfg)
	if err != nil {
		log.Warnw("tracing disabled", "error", err)
		tracer = &tracing.TracerProvider{}
	}
	d.tracer = tracer

	log.Infow("engine ready",
		"host_id", hostID,
		"sources", len(cfg.Capture.Sources),
		"max_sessions", cfg.Sessions.MaxConcurrent,
		"trust_store", repos.Driver(),
	)
	return d, nil
}

func coordinatorConfig(cfg *config.Config, hostID, codec string) services.CoordinatorConfig {
	c := services.DefaultCoordinatorConfig()
	c.Host = domain.HostIdentity{ID: hostID, Name: cfg.Host.Name, Version: Version}
	c.PairTimeout = cfg.Pairing.Timeout
	c.HeartbeatInterval = cfg.Pairing.HeartbeatInterval
	c.HeartbeatTimeout = cfg.Pairing.HeartbeatTimeout
	c.AutoConnect = cfg.Pairing.AutoConnect
	c.Connect = retry.DefaultConfig()
	c.Connect.MaxAttempts = cfg.Pairing.ConnectAttempts
	c.Connect.InitialDelay = cfg.Pairing.ConnectBackoff
	c.Codecs = []string{codec}
	return c
}

func sessionManagerConfig(cfg *config.Config) services.SessionManagerConfig {
	opts := services.DefaultSessionOptions()
	opts.AckTimeout = cfg.Sessions.StartAckTimeout
	opts.DrainTimeout = cfg.Sessions.DrainTimeout
	opts.MaxCompressFailures = cfg.Sessions.MaxCompressFailures
	opts.Adaptive.Enabled = cfg.Sessions.Adaptive.Enabled
	if cfg.Sessions.Adaptive.Enabled {
		opts.Adaptive.Window = cfg.Sessions.Adaptive.Window
		opts.Adaptive.BusyThreshold = cfg.Sessions.Adaptive.BusyThreshold
		opts.Adaptive.StableWindows = cfg.Sessions.Adaptive.StableWindows
	}
	return services.SessionManagerConfig{
		MaxSessions: cfg.Sessions.MaxConcurrent,
		Options:     opts,
	}
}

func inputRouterConfig(cfg *config.Config) services.InputRouterConfig {
	if !cfg.RateLimiting.Enabled {
		return services.InputRouterConfig{}
	}
	return services.InputRouterConfig{
		EventsPerSecond: cfg.RateLimiting.Input.EventsPerSecond,
		Burst:           cfg.RateLimiting.Input.Burst,
	}
}

func (d *daemon) router() *gin.Engine {
	if d.cfg.Logging.Level != "debug" {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		middleware.RecoveryMiddleware(d.log),
		middleware.RequestIDMiddleware(logger.NewContextLogger(d.zapLogger)),
		middleware.TracingMiddleware(),
		middleware.ErrorHandlerMiddleware(d.log),
		middleware.NewHTTPRateLimitMiddleware(d.cfg),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":    "healthy",
			"timestamp": time.Now(),
			"uptime":    time.Since(d.startedAt).String(),
			"sessions":  len(d.manager.ListActiveSessions()),
		})
	})

	router.GET("/ready", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := d.health.CheckAll(ctx)
		if !status.Healthy() {
			c.JSON(http.StatusServiceUnavailable, status)
			return
		}
		c.JSON(http.StatusOK, status)
	})

	if d.cfg.Monitoring.PrometheusEnabled {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(d.registry, promhttp.HandlerOpts{})))
	}

	// Devices dial in here; the listener parks them until a channel is opened.
	router.GET(d.cfg.Transport.WebSocket.ListenPath, gin.WrapH(d.listener))

	api := router.Group("/api/v1")
	if d.auth != nil {
		api.Use(middleware.AuthMiddleware(d.auth))
	}
	httphandlers.NewSessionHandler(d.manager, d.coord, d.catalog, d.defaults).SetupRoutes(api)
	httphandlers.NewDeviceHandler(d.coord, httphandlers.PairingEndpoint{
		Address:    d.cfg.Server.Address,
		ListenPath: d.cfg.Transport.WebSocket.ListenPath,
	}).SetupRoutes(api)
	httphandlers.NewSourceHandler(d.catalog).SetupRoutes(api)

	return router
}

func (d *daemon) run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	d.health.StartBackgroundChecks(gctx)

	if d.backups != nil {
		g.Go(func() error {
			d.backups.Start(gctx)
			return nil
		})
	}

	if d.cfg.Redis.PublishEvents {
		if client := d.repos.RedisClient(); client != nil {
			bus := distributed.NewEventBus(client, d.cfg.Redis.EventChannel, d.hostID, d.log)
			g.Go(func() error {
				if err := bus.Forward(gctx, d.manager); err != nil && !errors.Is(err, context.Canceled) {
					return fmt.Errorf("event bus: %w", err)
				}
				return nil
			})
		} else {
			d.log.Warn("redis unavailable, lifecycle events stay local")
		}
	}

	srv := &http.Server{
		Addr:         d.cfg.Server.Address,
		Handler:      d.router(),
		ReadTimeout:  d.cfg.Server.ReadTimeout,
		WriteTimeout: d.cfg.Server.WriteTimeout,
	}

	g.Go(func() error {
		d.log.Infof("Starting sidescreend on %s", d.cfg.Server.Address)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		d.log.Info("Shutting down sidescreend...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), d.cfg.Server.ShutdownTimeout)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			d.log.Errorw("Error during server shutdown", "error", err)
			srv.Close()
		}
		d.shutdown(shutdownCtx)
		return nil
	})

	err := g.Wait()
	d.log.Info("sidescreend stopped")
	return err
}

// shutdown stops sessions before closing the channels they borrow.
func (d *daemon) shutdown(ctx context.Context) {
	if err := d.manager.Shutdown(ctx); err != nil {
		d.log.Errorw("sessions did not drain", "error", err)
	}
	d.coord.Shutdown()
	d.listener.Close()
	d.hub.Close()
	d.notifier.Close()

	if err := d.tracer.Shutdown(ctx); err != nil {
		d.log.Errorw("Error flushing traces", "error", err)
	}
	if err := d.repos.Close(); err != nil {
		d.log.Errorw("Error closing repository factory", "error", err)
	}
}
