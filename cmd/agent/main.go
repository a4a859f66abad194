package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"mozzafiato/internal/api"
	"mozzafiato/internal/config"
	"mozzafiato/internal/connectivity"
	"mozzafiato/internal/database"
	"mozzafiato/internal/domain"
	"mozzafiato/internal/events"
	"mozzafiato/internal/google"
	"mozzafiato/internal/interceptor"
	"mozzafiato/internal/logging"
	"mozzafiato/internal/metrics"
	"mozzafiato/internal/models"
	"mozzafiato/internal/notify"
	"mozzafiato/internal/remote"
	"mozzafiato/internal/repository"
	"mozzafiato/internal/syncer"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Fatal error: %v", err)
	}
}

func run() error {
	cfg, baseLogger, closer, err := loadConfigAndLogger()
	if err != nil {
		return err
	}
	if closer != nil {
		defer (func() { _ = closer.Close() })()
	}
	logger := logging.Component(baseLogger, "agent-main")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	startMetrics(ctx, cfg, logger)

	reporter := logging.NewReporter(logging.Component(baseLogger, "reporter")).WithHook(metrics.IncDegraded)

	db, err := database.NewDB(cfg.Storage.Path, logging.Component(baseLogger, "database"))
	if err != nil {
		logger.Error().Err(err).Str("db_path", cfg.Storage.Path).Msg("init database")
		return err
	}
	defer db.Close()

	redisClient := initRedis(ctx, cfg, logger)
	if redisClient != nil {
		defer func() { _ = repository.Close(redisClient) }()
	}

	queue, err := selectQueue(cfg, db, redisClient)
	if err != nil {
		return err
	}

	gateway, err := initGateway(ctx, cfg, reporter)
	if err != nil {
		logger.Error().Err(err).Str("backend", cfg.Remote.Backend).Msg("init remote gateway")
		return err
	}

	bus := events.NewEventBus()
	bus.OnError(func(eventType string, err error) {
		logger.Warn().Err(err).Str("event", eventType).Msg("event handler failed")
	})

	monitor := connectivity.NewMonitor(bus, !cfg.Sync.StartOffline, logging.Component(baseLogger, "connectivity"))
	prober := connectivity.NewProber(gateway, monitor, cfg.Sync.ProbeInterval, cfg.Sync.ProbeMaxInterval, logging.Component(baseLogger, "prober"))

	coordinator := syncer.New(syncer.Deps{
		Queue:    queue,
		Reads:    db,
		Gateway:  gateway,
		Monitor:  monitor,
		Reporter: reporter,
		Events:   bus,
		Logger:   logging.Component(baseLogger, "syncer"),
	}, syncer.Config{Interval: cfg.Sync.Interval, Categories: models.Categories})

	fallback, err := initInterceptor(ctx, cfg, db, redisClient, reporter, baseLogger)
	if err != nil {
		logger.Error().Err(err).Msg("init fetch interceptor")
		return err
	}

	notifier := initNotifier(cfg, baseLogger)
	notifier.Subscribe(bus)

	grpcServer, err := api.NewGRPCServer(cfg.API, monitor.IsOnline(), baseLogger)
	if err != nil {
		logger.Error().Err(err).Msg("create grpc server")
		return err
	}
	monitor.OnBecameOnline(func() { grpcServer.SetOnline(true) })
	monitor.OnBecameOffline(func() { grpcServer.SetOnline(false) })

	httpServer := api.NewHTTPServer(cfg.API, api.Deps{
		Syncer:   coordinator,
		Queue:    queue,
		Reads:    db,
		Monitor:  monitor,
		Fallback: fallback,
		Logger:   baseLogger,
	})

	backup := database.NewBackupService(db, cfg.Backup, logging.Component(baseLogger, "backup"))

	go backup.Start(ctx)
	go notifier.Run(ctx)
	go prober.Run(ctx)
	coordinatorDone := make(chan struct{})
	go func() {
		defer close(coordinatorDone)
		coordinator.Run(ctx)
	}()
	go triggerOnSignal(ctx, coordinator, logger)

	err = startServers(ctx, grpcServer, httpServer, cfg, logger)

	// in-flight sync runs still use the store; close it only after they finish
	<-coordinatorDone
	return err
}

func loadConfigAndLogger() (*config.Config, *zerolog.Logger, io.Closer, error) {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "configs/config.yaml"
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("load config: %w", err)
	}

	logger, closer, err := logging.New(cfg.Logging, cfg.App)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("init logger: %w", err)
	}
	return cfg, logger, closer, nil
}

func initRedis(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) *redis.Client {
	if cfg.Redis.Address == "" {
		return nil
	}

	client := repository.NewRedisClient(cfg.Redis)
	if err := repository.Ping(ctx, client); err != nil {
		if cfg.Storage.QueueBackend == config.QueueBackendRedis {
			// очередь живёт в Redis, клиент нужен даже пока сервер недоступен
			logger.Error().Err(err).Msg("redis unreachable, queue writes will fail until it recovers")
			return client
		}
		logger.Warn().Err(err).Msg("redis connection failed, continuing without redis")
		_ = client.Close()
		return nil
	}

	logger.Info().Str("addr", cfg.Redis.Address).Msg("redis connected")
	return client
}

func selectQueue(cfg *config.Config, db *database.DB, client *redis.Client) (domain.QueueStore, error) {
	switch cfg.Storage.QueueBackend {
	case config.QueueBackendRedis:
		if client == nil {
			return nil, errors.New("redis queue backend selected but redis is not configured")
		}
		return repository.NewRedisQueueStore(client), nil
	default:
		return db, nil
	}
}

// remoteGateway is what the agent needs from either backend.
type remoteGateway interface {
	domain.RemoteGateway
	connectivity.HealthChecker
}

func initGateway(ctx context.Context, cfg *config.Config, reporter domain.Reporter) (remoteGateway, error) {
	switch cfg.Remote.Backend {
	case config.RemoteBackendSheets:
		return google.NewSheetsGateway(ctx, cfg.Google, reporter)
	default:
		return remote.NewGateway(cfg.Remote, reporter), nil
	}
}

// initInterceptor returns nil when no upstream is configured; the API then
// serves only its own routes.
func initInterceptor(
	ctx context.Context,
	cfg *config.Config,
	db *database.DB,
	client *redis.Client,
	reporter domain.Reporter,
	baseLogger *zerolog.Logger,
) (http.Handler, error) {
	logger := logging.Component(baseLogger, "interceptor")
	if cfg.Cache.Upstream == "" {
		logger.Warn().Msg("cache.upstream is empty, front-end passthrough disabled")
		return nil, nil
	}

	var cache domain.ResponseCache = db.ResponseCache()
	if client != nil {
		cache = repository.NewFailoverResponseCache(repository.NewRedisResponseCache(client), db.ResponseCache(), logger)
	}

	ic, err := interceptor.New(cfg.Cache, cache, reporter, logger)
	if err != nil {
		return nil, err
	}

	installed := ic.Install(ctx)
	logger.Info().Int("precached", installed).Str("namespace", ic.Namespace()).Msg("shell installed")
	if err := ic.Activate(ctx); err != nil {
		logger.Warn().Err(err).Msg("failed to drop stale cache namespaces")
	}
	return ic, nil
}

func initNotifier(cfg *config.Config, baseLogger *zerolog.Logger) *notify.Notifier {
	logger := logging.Component(baseLogger, "notify")
	bot, err := notify.NewBot(cfg.Notify)
	if err != nil {
		logger.Warn().Err(err).Msg("telegram unavailable, notifications disabled")
		return nil
	}
	if bot == nil {
		return nil
	}
	return notify.New(cfg.Notify, bot, logger)
}

func triggerOnSignal(ctx context.Context, coordinator *syncer.Coordinator, logger *zerolog.Logger) {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGUSR1)
	defer signal.Stop(sigs)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sigs:
			logger.Info().Msg("SIGUSR1 received, scheduling sync")
			coordinator.Trigger(syncer.TriggerManual)
		}
	}
}

func startMetrics(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) {
	if !cfg.Monitoring.PrometheusEnabled {
		return
	}

	metrics.Register()
	go startMetricsServer(ctx, cfg.Monitoring.PrometheusPort, logger)
}

func startServers(
	ctx context.Context,
	grpcServer *api.GRPCServer,
	httpServer *api.HTTPServer,
	cfg *config.Config,
	logger *zerolog.Logger,
) error {
	go func() {
		if err := grpcServer.Serve(); err != nil {
			logger.Error().Err(err).Msg("grpc server stopped")
		}
	}()

	go func() {
		if err := httpServer.Start(); err != nil {
			logger.Error().Err(err).Msg("http server stopped")
		}
	}()

	logger.Info().Str("grpc_addr", grpcServer.Addr()).Int("http_port", cfg.API.Port).Msg("agent started")

	<-ctx.Done()
	logger.Info().Msg("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	grpcServer.Shutdown(shutdownCtx)
	_ = httpServer.Shutdown(shutdownCtx)

	logger.Info().Msg("agent stopped")
	return nil
}

func startMetricsServer(ctx context.Context, port int, logger *zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: fmt.Sprintf(":%d", port), Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctxShutdown)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error().Err(err).Msg("metrics server error")
	}
}
