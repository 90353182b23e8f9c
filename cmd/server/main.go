package main

import (
	"context"
	"database/sql"
	"flag"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/rl1809/stock-orders/internal/adapter/handler"
	"github.com/rl1809/stock-orders/internal/adapter/messaging"
	"github.com/rl1809/stock-orders/internal/adapter/storage"
	"github.com/rl1809/stock-orders/internal/config"
	"github.com/rl1809/stock-orders/internal/core/progress"
	"github.com/rl1809/stock-orders/internal/core/service"
	"github.com/rl1809/stock-orders/internal/logging"
	"github.com/rl1809/stock-orders/internal/metrics"
	"github.com/rl1809/stock-orders/internal/port"
	"github.com/rl1809/stock-orders/internal/telemetry"
)

func main() {
	configPath := flag.String("config", "", "path to a YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger := logging.New(os.Stdout, cfg.Log.Level, cfg.Log.Format)
	slog.SetDefault(logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.Enabled,
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.Endpoint,
	})
	if err != nil {
		log.Fatalf("failed to set up tracing: %v", err)
	}

	reg := metrics.NewRegistry()

	// Document store
	var store port.DocumentStore
	var db *sql.DB
	switch cfg.Store.Driver {
	case "mysql":
		db, err = sql.Open("mysql", cfg.Store.MySQLDSN)
		if err != nil {
			log.Fatalf("failed to connect mysql: %v", err)
		}
		db.SetMaxOpenConns(cfg.Store.MaxOpenConns)
		db.SetMaxIdleConns(cfg.Store.MaxIdleConns)
		db.SetConnMaxLifetime(cfg.Store.ConnMaxLifetime)
		if err := db.PingContext(ctx); err != nil {
			log.Fatalf("failed to ping mysql: %v", err)
		}
		mysqlAdapter := storage.NewMySQLAdapter(db)
		if err := mysqlAdapter.EnsureSchema(ctx); err != nil {
			log.Fatalf("failed to prepare schema: %v", err)
		}
		store = mysqlAdapter
		logger.Info("connected to mysql")
	default:
		store = storage.NewMemoryStore()
		logger.Warn("using in-memory document store, data is lost on restart")
	}

	// Counters and commit guards
	docSequence := storage.NewDocumentSequence(store)
	var (
		sequence port.SequenceRepository = docSequence
		guard    port.GuardRepository    = storage.NewMemoryGuard()
		rdb      *redis.Client
	)
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			PoolSize: cfg.Redis.PoolSize,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to connect redis: %v", err)
		}
		redisAdapter := storage.NewRedisAdapter(rdb)
		// Continue numbering from the counter document so ids never repeat.
		last, err := docSequence.Current(ctx, service.OrderCounterName)
		if err != nil {
			log.Fatalf("failed to read order counter: %v", err)
		}
		if _, err := redisAdapter.SeedSequence(ctx, service.OrderCounterName, last); err != nil {
			log.Fatalf("failed to seed order counter: %v", err)
		}
		sequence, guard = redisAdapter, redisAdapter
		logger.Info("connected to redis", "addr", cfg.Redis.Addr)
	}

	// Device-local storage for carts and picking progress
	local, closeLocal, err := openLocalStore(cfg.Local)
	if err != nil {
		log.Fatalf("failed to open local store: %v", err)
	}
	progressStore := progress.NewStore(local, progress.WithLogger(logger))
	progressStore.EvictExpired()

	// Order events
	var events port.EventPublisher = messaging.NewLogPublisher(logger)
	var kafkaPublisher *messaging.KafkaPublisher
	var asyncPublisher *messaging.AsyncPublisher
	if cfg.Kafka.Brokers != "" {
		kafkaPublisher = messaging.NewKafkaPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		asyncPublisher = messaging.NewAsyncPublisher(
			messaging.NewMultiPublisher(events, kafkaPublisher),
			cfg.Kafka.Workers, cfg.Kafka.Queue, logger,
		)
		events = asyncPublisher
		logger.Info("publishing order events to kafka", "topic", cfg.Kafka.Topic, "workers", cfg.Kafka.Workers)
	}

	// Services
	opts := []service.Option{
		service.WithLogger(logger),
		service.WithMetrics(reg),
		service.WithTracer(otel.Tracer(cfg.Telemetry.ServiceName)),
	}
	catalog := service.NewCatalogService(store, opts...)
	orders := service.NewOrderService(store, sequence, events, opts...)
	picking := service.NewPickingService(store, guard, events, progressStore, service.PickingConfig{
		CommitTimeout: cfg.Picking.CommitTimeout,
		GuardTTL:      cfg.Picking.GuardTTL,
	}, opts...)

	var draftStore port.DocumentStore
	if cfg.Drafts.Enabled {
		draftStore = store
	}
	carts := service.NewCartSessions(local, draftStore, cfg.Drafts.Delay, opts...)

	// gRPC server
	grpcServer := grpc.NewServer()
	handler.NewGRPCHandler(picking).Register(grpcServer)
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)

	lis, err := net.Listen("tcp", cfg.GRPCAddr)
	if err != nil {
		log.Fatalf("failed to listen: %v", err)
	}

	go func() {
		logger.Info("gRPC server listening", "addr", cfg.GRPCAddr)
		if err := grpcServer.Serve(lis); err != nil {
			logger.Error("gRPC server error", "error", err)
		}
	}()

	// HTTP server
	httpHandler := handler.NewHTTPHandler(catalog, orders, picking, carts, reg.Handler())
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           otelhttp.NewHandler(httpHandler.Routes(), "http"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("HTTP server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
			logger.Error("HTTP server error", "error", err)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down")
	healthServer.Shutdown()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP shutdown", "error", err)
	}
	logger.Info("HTTP server stopped")

	grpcServer.GracefulStop()
	logger.Info("gRPC server stopped")

	if asyncPublisher != nil {
		asyncPublisher.Close()
		if err := kafkaPublisher.Close(); err != nil {
			logger.Warn("close kafka writer", "error", err)
		}
		logger.Info("event publishers stopped")
	}

	if err := shutdownTracing(shutdownCtx); err != nil {
		logger.Warn("tracer shutdown", "error", err)
	}
	if err := closeLocal(); err != nil {
		logger.Warn("close local store", "error", err)
	}
	if rdb != nil {
		rdb.Close()
	}
	if db != nil {
		db.Close()
	}
	logger.Info("connections closed")
}

func openLocalStore(cfg config.LocalConfig) (port.LocalStore, func() error, error) {
	switch cfg.Backend {
	case "pebble":
		s, err := storage.NewPebbleStore(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	case "badger":
		s, err := storage.NewBadgerStore(cfg.Dir)
		if err != nil {
			return nil, nil, err
		}
		return s, s.Close, nil
	}
	return storage.NewMemoryLocalStore(), func() error { return nil }, nil
}
