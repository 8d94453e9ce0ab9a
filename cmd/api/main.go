package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"autodelivery-api/internal/cache"
	"autodelivery-api/internal/config"
	"autodelivery-api/internal/events"
	"autodelivery-api/internal/handler"
	"autodelivery-api/internal/logger"
	"autodelivery-api/internal/metrics"
	"autodelivery-api/internal/middleware"
	"autodelivery-api/internal/repository"
	"autodelivery-api/internal/router"
	"autodelivery-api/internal/service"

	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

func main() {
	cfg := config.MustLoad()

	log, err := logger.New(logger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	}, cfg.App.Environment)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("Starting fulfillment API",
		zap.String("service", cfg.App.Name),
		zap.String("version", cfg.App.Version),
		zap.String("environment", cfg.App.Environment),
	)

	// Fulfillment store
	repo, err := openStore(cfg, log)
	if err != nil {
		log.Fatal("Failed to initialize fulfillment store", zap.Error(err))
	}
	defer repo.Close()

	// Product catalog (optional)
	var catalog repository.ProductCatalog
	if cfg.Catalog.Enabled {
		db, err := openCatalogDB(cfg.Catalog)
		if err != nil {
			log.Warn("Product catalog unavailable, ownership checks and usage guides disabled", zap.Error(err))
		} else {
			defer db.Close()
			catalog = repository.NewMySQLProductCatalog(db)
			log.Info("MySQL product catalog initialized")
		}
	}

	// Redis client, shared by the stock cache and the event stream
	var redisClient *redis.Client
	if strings.EqualFold(cfg.Cache.Type, "redis") || strings.EqualFold(cfg.Events.Type, "redis") {
		redisClient, err = openRedis(cfg.Cache)
		if err != nil {
			log.Warn("Redis connection failed", zap.Error(err))
		} else {
			defer redisClient.Close()
			log.Info("Redis client initialized", zap.String("addr", cfg.Cache.RedisAddress()))
		}
	}

	var stockCache cache.Cache
	if strings.EqualFold(cfg.Cache.Type, "redis") && redisClient != nil {
		stockCache = cache.NewRedisCache(redisClient, cache.DefaultKeyPrefix)
	} else {
		stockCache = cache.NewMemoryCache()
	}
	defer stockCache.Close()

	publisher := newPublisher(cfg.Events, redisClient, log)

	m := metrics.New()

	// Services
	stock := service.NewStockMonitor(repo, stockCache, service.StockConfig{
		LowThreshold: cfg.Fulfillment.LowStockThreshold,
		CacheTTL:     cfg.Fulfillment.StockCacheTTL,
	}, log)
	pool := service.NewPoolService(repo, catalog, stock, m, service.PoolConfig{
		MaxImportLines: cfg.Fulfillment.MaxImportLines,
	}, log)
	engine := service.NewAllocationEngine(repo, catalog, stock, publisher, m, service.EngineConfig{
		MaxAttempts:    cfg.Fulfillment.MaxClaimAttempts,
		RetryBaseDelay: cfg.Fulfillment.RetryBaseDelay,
		PublishTimeout: cfg.Events.Timeout,
	}, log)
	deliveries := service.NewDeliveryService(repo, catalog, m, log)

	sweeper := service.NewStockSweeper(stock, publisher, m, service.SweeperConfig{
		Interval:     cfg.Fulfillment.SweepInterval,
		InitialDelay: 10 * time.Second,
	}, log)
	sweeper.Start()

	if len(cfg.Auth.APIKeys) == 0 && len(cfg.Auth.AdminKeys) == 0 {
		log.Warn("AUTH_API_KEYS and AUTH_ADMIN_KEYS are empty, API key checks are disabled")
	}

	r := router.New(router.Config{
		Logger:             log,
		Metrics:            m,
		Handler:            handler.New(cfg.App.Name, cfg.App.Version, repo),
		FulfillmentHandler: handler.NewFulfillmentHandler(engine, cfg.Server.MaxBodyBytes),
		PoolHandler:        handler.NewPoolHandler(pool, cfg.Server.MaxBodyBytes),
		DeliveryHandler:    handler.NewDeliveryHandler(deliveries),
		AdminHandler:       handler.NewAdminHandler(repo, stock, sweeper, cfg.Store.Type),
		AuthMiddleware: middleware.NewAuthMiddleware(middleware.AuthConfig{
			APIKeys:   cfg.Auth.APIKeys,
			AdminKeys: cfg.Auth.AdminKeys,
		}),
		AdminMiddleware: middleware.RequireAdmin,
	})

	srv := &http.Server{
		Addr:         cfg.Server.Address(),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	go func() {
		log.Info("Server listening", zap.String("addr", cfg.Server.Address()))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server error", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("Server shutdown error", zap.Error(err))
	}

	sweeper.Stop()
	// In-flight notifications finish before the publisher closes.
	engine.Wait()
	if err := publisher.Close(); err != nil {
		log.Warn("Failed to close event publisher", zap.Error(err))
	}

	log.Info("Server stopped")
}

func openStore(cfg *config.Config, log *zap.Logger) (repository.FulfillmentRepository, error) {
	switch strings.ToLower(cfg.Store.Type) {
	case "postgres", "postgresql":
		repo, err := repository.NewPostgresFulfillmentRepository(cfg.Store.PostgresDSN(), log)
		if err != nil {
			return nil, err
		}
		log.Info("PostgreSQL fulfillment store initialized", zap.String("host", cfg.Store.Host))
		return repo, nil
	default:
		repo, err := repository.NewSQLiteFulfillmentRepository(cfg.Store.Path, log)
		if err != nil {
			return nil, err
		}
		log.Info("SQLite fulfillment store initialized", zap.String("path", cfg.Store.Path))
		return repo, nil
	}
}

func openCatalogDB(cfg config.CatalogConfig) (*sql.DB, error) {
	db, err := sql.Open("mysql", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping catalog database: %w", err)
	}
	return db, nil
}

func openRedis(cfg config.CacheConfig) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddress(),
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, err
	}
	return client, nil
}

func newPublisher(cfg config.EventsConfig, redisClient *redis.Client, log *zap.Logger) events.Publisher {
	switch strings.ToLower(cfg.Type) {
	case "kafka":
		log.Info("Kafka event publisher initialized",
			zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.Topic))
		return events.NewKafkaPublisher(events.NewKafkaWriter(cfg.KafkaBrokers, cfg.Topic), log)
	case "redis":
		if redisClient == nil {
			log.Warn("Redis unavailable, seller notifications disabled")
			return events.NopPublisher{}
		}
		log.Info("Redis event publisher initialized", zap.String("key", cfg.Topic))
		return events.NewRedisPublisher(redisClient, cfg.Topic, cfg.RedisMaxLen)
	default:
		return events.NopPublisher{}
	}
}
