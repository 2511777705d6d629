package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gridwars/gridwars-server-go/internal/config"
	"github.com/gridwars/gridwars-server-go/internal/game"
	"github.com/gridwars/gridwars-server-go/internal/game/catalog"
	"github.com/gridwars/gridwars-server-go/internal/game/passive"
	"github.com/gridwars/gridwars-server-go/internal/game/timer"
	"github.com/gridwars/gridwars-server-go/internal/repository"
	"github.com/gridwars/gridwars-server-go/internal/server"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	configPath = flag.String("config", "config/config.yaml", "path to configuration file")
	version    = "dev" // set via ldflags during build
)

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting gridwars server",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	shutdownTracing, err := initTracing(ctx, cfg.Telemetry)
	if err != nil {
		logger.Fatal("failed to initialize tracing", zap.Error(err))
	}

	repo, err := openRepository(ctx, cfg.Database, logger)
	if err != nil {
		logger.Fatal("failed to open session repository", zap.Error(err))
	}
	store := repository.NewSessionStore(repo, repository.StoreOptions{
		CacheSize: cfg.Cache.Size,
		CacheTTL:  cfg.Cache.TTL,
		Logger:    logger,
	})
	logger.Info("session store initialized",
		zap.String("driver", cfg.Database.Driver),
		zap.Int("cache_size", cfg.Cache.Size),
		zap.Duration("cache_ttl", cfg.Cache.TTL),
	)

	cards, err := loadCards(cfg.Game.CardsFile)
	if err != nil {
		logger.Fatal("failed to load card catalog", zap.Error(err))
	}
	logger.Info("card catalog loaded",
		zap.String("source", cardSource(cfg.Game.CardsFile)),
		zap.Int("cards", len(cards.All())),
	)

	clock := timer.RealClock{}
	engine := game.NewEngine(game.Deps{
		Store:  store,
		Cards:  cards,
		Timers: timer.NewCoordinator(clock, logger),
		Clock:  clock,
		Logger: logger,
		Seed:   cfg.Game.Seed,
		Config: engineConfig(cfg.Game),
	})

	hub := server.NewHub(engine, logger)
	engine.SetSink(hub)
	go hub.Run(ctx)

	ws := server.NewWebSocketServer(ctx, cfg.Server.WebSocket, hub, engine, logger)
	httpServer := &http.Server{
		Addr:              cfg.Server.WebSocket.Address,
		Handler:           ws.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Info("starting WebSocket server", zap.String("address", cfg.Server.WebSocket.Address))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("WebSocket server error", zap.Error(err))
		}
	}()

	grpcServer, healthServer := server.NewGRPCServer(logger)
	lis, err := net.Listen("tcp", cfg.Server.GRPC.Address)
	if err != nil {
		logger.Fatal("failed to listen", zap.Error(err))
	}
	go func() {
		logger.Info("starting gRPC server", zap.String("address", cfg.Server.GRPC.Address))
		if serveErr := grpcServer.Serve(lis); serveErr != nil {
			logger.Error("gRPC server error", zap.Error(serveErr))
		}
	}()

	logger.Info("gridwars server initialized",
		zap.String("version", version),
		zap.String("grpc_address", cfg.Server.GRPC.Address),
		zap.String("websocket_address", cfg.Server.WebSocket.Address),
		zap.Duration("turn_duration", cfg.Game.TurnDuration),
	)

	// Wait for termination signal
	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	logger.Info("shutting down gracefully...")
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("WebSocket server shutdown", zap.Error(err))
	}
	cancel()
	grpcServer.GracefulStop()

	if err := store.Close(); err != nil {
		logger.Warn("failed to close session store", zap.Error(err))
	}
	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("failed to flush traces", zap.Error(err))
	}

	stats := engine.Stats()
	logger.Info("gridwars server stopped",
		zap.Int64("sessions_created", stats.SessionsCreated),
		zap.Int64("actions_accepted", stats.ActionsAccepted),
		zap.Int64("actions_rejected", stats.ActionsRejected),
		zap.Int64("conflicts", stats.Conflicts),
		zap.Int64("timeouts_fired", stats.TimeoutsFired),
		zap.Int64("timeouts_dropped", stats.TimeoutsDropped),
		zap.Int64("internal_errors", stats.InternalErrors),
	)
}

// openRepository runs migrations and opens the configured durable tier.
func openRepository(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (repository.Repository, error) {
	if cfg.Migrate {
		if err := repository.Migrate(cfg.Driver, cfg.DSN); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}
	switch cfg.Driver {
	case config.DriverPostgres:
		return repository.NewPostgresRepository(ctx, repository.PostgresConfig{
			DSN:         cfg.DSN,
			MaxConns:    cfg.MaxConns,
			MinConns:    cfg.MinConns,
			ConnTimeout: cfg.ConnTimeout,
		}, logger)
	case config.DriverSQLite:
		return repository.NewSQLiteRepository(ctx, cfg.DSN, logger)
	default:
		logger.Warn("using in-memory session repository; sessions do not survive restarts")
		return repository.NewMemoryRepository(), nil
	}
}

// loadCards reads a CSV card pool, falling back to the built-in cards.
func loadCards(path string) (*catalog.Cards, error) {
	if path == "" {
		return catalog.DefaultCards(), nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return catalog.LoadCSV(f)
}

func cardSource(path string) string {
	if path == "" {
		return "builtin"
	}
	return path
}

func engineConfig(cfg config.GameConfig) game.Config {
	return game.Config{
		TurnDuration:    cfg.TurnDuration,
		MaxResources:    cfg.MaxResources,
		HandLimit:       cfg.HandLimit,
		StartingHand:    cfg.StartingHand,
		DeckSize:        cfg.DeckSize,
		ConflictRetries: cfg.ConflictRetries,
		Passive: passive.Config{
			ResurrectionChance: cfg.ResurrectionChance,
			LineBonusAttack:    cfg.LineBonusAttack,
			LineBonusHealth:    cfg.LineBonusHealth,
		},
	}
}

// initTracing installs an OTLP/HTTP exporter when telemetry is enabled and
// leaves the global no-op provider in place otherwise.
func initTracing(ctx context.Context, cfg config.TelemetryConfig) (func(context.Context) error, error) {
	if !cfg.Enabled {
		return func(context.Context) error { return nil }, nil
	}
	opts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.Endpoint)}
	if cfg.Insecure {
		opts = append(opts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", cfg.ServiceName),
		attribute.String("service.version", version),
	)
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	otel.SetTracerProvider(tp)
	return tp.Shutdown, nil
}

// initLogger initializes the zap logger based on configuration
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
