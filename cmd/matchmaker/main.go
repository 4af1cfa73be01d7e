package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/ravenousdox/MarketplaceMatchmaker/internal/catalog"
	"github.com/ravenousdox/MarketplaceMatchmaker/internal/config"
	"github.com/ravenousdox/MarketplaceMatchmaker/internal/consumer"
	"github.com/ravenousdox/MarketplaceMatchmaker/internal/engine"
	"github.com/ravenousdox/MarketplaceMatchmaker/internal/gateway"
	"github.com/ravenousdox/MarketplaceMatchmaker/internal/handlers"
	"github.com/ravenousdox/MarketplaceMatchmaker/internal/listing"
	"github.com/ravenousdox/MarketplaceMatchmaker/internal/service"
	"github.com/ravenousdox/MarketplaceMatchmaker/internal/session"
	"github.com/ravenousdox/MarketplaceMatchmaker/internal/storage"
	"github.com/ravenousdox/MarketplaceMatchmaker/libs/health"
	"github.com/ravenousdox/MarketplaceMatchmaker/libs/httpmiddleware"
	"github.com/ravenousdox/MarketplaceMatchmaker/libs/kafka"
	"github.com/ravenousdox/MarketplaceMatchmaker/libs/logging"
	"github.com/ravenousdox/MarketplaceMatchmaker/libs/metrics"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"log/slog"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.App.LogLevel, cfg.App.ServiceName, cfg.App.Env)

	if cfg.App.Env == "dev" {
		gin.SetMode(gin.DebugMode)
	} else {
		gin.SetMode(gin.ReleaseMode)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics.Register(registry)

	svcMetrics := service.NewMetrics(registry)
	kafkaMetrics := kafka.NewProducerMetrics(registry)

	ready := health.NewManager(false)

	pool, err := connectDB(cfg)
	if err != nil {
		logger.Error("db connection failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	store := storage.New(pool)

	producer, err := kafka.NewSyncProducer(cfg.Kafka.Brokers, logger, kafkaMetrics)
	if err != nil {
		logger.Error("kafka producer init failed", "error", err)
		os.Exit(1)
	}
	defer producer.Close()
	publisher := kafka.Publisher(producer)
	if strings.TrimSpace(cfg.Kafka.Topics.DeadLetter) != "" {
		publisher = kafka.NewDLQPublisher(producer, producer, cfg.Kafka.Topics.DeadLetter, logger)
	}

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer bootCancel()

	itemCache := catalog.NewCache(cfg.Marketplace.CacheStaleAfter)
	if err := itemCache.Reload(bootCtx, store); err != nil {
		logger.Error("catalog load failed", "error", err)
		os.Exit(1)
	}
	svcMetrics.SetCacheSize(itemCache.Size())
	logger.Info("catalog loaded", "items", itemCache.Size())

	openRows, err := store.OpenListings(bootCtx)
	if err != nil {
		logger.Error("open listings load failed", "error", err)
		os.Exit(1)
	}
	listings := listing.NewStore(store, cfg.Marketplace.MaxListingsPerUser)
	listings.Load(openRows)
	logger.Info("open listings loaded", "count", len(openRows))

	matchEngine := engine.NewEngine(listings, store, publisher, cfg.Kafka.Topics.ListingsMatched, logger, svcMetrics)

	var sessionRegistry session.Registry = session.NewStoreRegistry(store)
	if cfg.Redis.Enabled {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		sessionRegistry = session.NewLayeredRegistry(sessionRegistry, session.NewRedisRegistry(redisClient, ""))
	}

	messenger := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.Token, cfg.Gateway.Timeout)
	orchestrator := session.NewOrchestrator(sessionRegistry, messenger, cfg.Gateway.Timeout, logger, svcMetrics)

	minPrice, err := decimal.NewFromString(cfg.Marketplace.MinPrice)
	if err != nil {
		logger.Error("invalid min price", "value", cfg.Marketplace.MinPrice, "error", err)
		os.Exit(1)
	}
	maxPrice, err := decimal.NewFromString(cfg.Marketplace.MaxPrice)
	if err != nil {
		logger.Error("invalid max price", "value", cfg.Marketplace.MaxPrice, "error", err)
		os.Exit(1)
	}

	marketplace := service.NewMarketplace(itemCache, store, listings, matchEngine, orchestrator, minPrice, maxPrice, logger, svcMetrics)

	consumerGroup, err := kafka.NewConsumer(cfg.Kafka.Brokers, cfg.Kafka.ConsumerGroup, logger)
	if err != nil {
		logger.Error("kafka consumer init failed", "error", err)
		os.Exit(1)
	}
	defer consumerGroup.Close()
	catalogConsumer := consumer.NewCatalogConsumer(itemCache, store, logger)

	httpServer := buildHTTPServer(cfg, ready, registry, marketplace, logger)

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()

	itemCache.StartAutoRefresh(runCtx, store, cfg.Marketplace.CacheRefreshInterval, svcMetrics, ready, logger)

	go func() {
		logger.Info("catalog consumer starting", "topic", cfg.Kafka.Topics.CatalogChanged, "group", cfg.Kafka.ConsumerGroup)
		if err := consumerGroup.Consume(runCtx, []string{cfg.Kafka.Topics.CatalogChanged}, catalogConsumer); err != nil {
			logger.Error("kafka consumer error", "error", err)
		}
	}()

	ready.SetReady(true)

	go func() {
		logger.Info("matchmaker http starting", "addr", httpServer.Addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "error", err)
		}
	}()

	waitForShutdown(httpServer, ready, runCancel, logger)
}

func connectDB(cfg *config.Config) (*pgxpool.Pool, error) {
	connStr := fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.DB.User,
		cfg.DB.Password,
		cfg.DB.Host,
		cfg.DB.Port,
		cfg.DB.Name,
		cfg.DB.SSLMode,
	)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, err
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return pool, nil
}

func buildHTTPServer(cfg *config.Config, ready *health.Manager, registry *prometheus.Registry, marketplace *service.Marketplace, logger *slog.Logger) *http.Server {
	router := gin.New()
	router.Use(httpmiddleware.RequestID())
	router.Use(httpmiddleware.Logger(logger))
	router.Use(httpmiddleware.Recovery(logger))

	router.GET("/healthz", health.LivenessHandler)
	router.GET("/readyz", health.ReadinessHandler(ready))
	router.GET(cfg.App.MetricsPath, gin.WrapH(metrics.Handler(registry)))

	handlers.New(marketplace, logger).Register(router, []byte(cfg.Marketplace.JWTSecret))

	addr := fmt.Sprintf("%s:%d", cfg.App.HTTP.Host, cfg.App.HTTP.Port)
	return &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.App.HTTP.ReadTimeout,
		WriteTimeout: cfg.App.HTTP.WriteTimeout,
		IdleTimeout:  cfg.App.HTTP.IdleTimeout,
	}
}

func waitForShutdown(httpServer *http.Server, ready *health.Manager, cancel context.CancelFunc, logger *slog.Logger) {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop

	logger.Info("shutdown started")
	ready.SetReady(false)
	cancel()

	ctx, cancelTimeout := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelTimeout()

	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error("http shutdown error", "error", err)
	}
	logger.Info("shutdown complete")
}
