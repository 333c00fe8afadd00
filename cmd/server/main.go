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

	"go.uber.org/zap"

	"github.com/CodyOutcast/ques-discovery/internal/analytics"
	"github.com/CodyOutcast/ques-discovery/internal/api"
	"github.com/CodyOutcast/ques-discovery/internal/casual"
	"github.com/CodyOutcast/ques-discovery/internal/config"
	"github.com/CodyOutcast/ques-discovery/internal/embedding"
	"github.com/CodyOutcast/ques-discovery/internal/indexing"
	"github.com/CodyOutcast/ques-discovery/internal/intent"
	"github.com/CodyOutcast/ques-discovery/internal/keyword"
	"github.com/CodyOutcast/ques-discovery/internal/llm"
	"github.com/CodyOutcast/ques-discovery/internal/observability"
	"github.com/CodyOutcast/ques-discovery/internal/pipeline"
	"github.com/CodyOutcast/ques-discovery/internal/profiles"
	"github.com/CodyOutcast/ques-discovery/internal/queryopt"
	"github.com/CodyOutcast/ques-discovery/internal/quota"
	"github.com/CodyOutcast/ques-discovery/internal/ranking"
	"github.com/CodyOutcast/ques-discovery/internal/retrieval"
	"github.com/CodyOutcast/ques-discovery/internal/seen"
	"github.com/CodyOutcast/ques-discovery/internal/vectorstore"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "fatal: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger, err := observability.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		return fmt.Errorf("creating logger: %w", err)
	}
	defer logger.Sync()

	logger.Info("starting discovery service",
		zap.String("service", cfg.Observability.ServiceName),
	)

	tracerShutdown, err := observability.InitTracer(cfg.Observability.ServiceName)
	if err != nil {
		logger.Warn("tracing initialization failed, continuing without tracing", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Shared Redis connection backs both the seen store and the quota gate.
	redisClient, err := seen.NewRedisClient(cfg.Redis)
	if err != nil {
		return fmt.Errorf("initializing redis: %w", err)
	}
	defer redisClient.Close()
	seenStore := seen.NewStore(redisClient, cfg.Search.SeenWindow, logger)
	logger.Info("redis initialized")

	vectorClient, err := vectorstore.NewClient(cfg.Qdrant, cfg.Search.CircuitBreaker, logger)
	if err != nil {
		return fmt.Errorf("initializing qdrant: %w", err)
	}
	defer vectorClient.Close()
	if err := vectorClient.EnsureCollection(ctx); err != nil {
		return fmt.Errorf("ensuring qdrant collection: %w", err)
	}
	logger.Info("qdrant client initialized")

	keywordClient, err := keyword.NewClient(cfg.Elasticsearch, cfg.Search.CircuitBreaker, logger)
	if err != nil {
		return fmt.Errorf("initializing elasticsearch: %w", err)
	}
	defer keywordClient.Close()
	logger.Info("elasticsearch client initialized")

	var chClient *analytics.Client
	chClient, err = analytics.NewClient(cfg.ClickHouse, logger)
	if err != nil {
		logger.Warn("clickhouse initialization failed, analytics will be unavailable", zap.Error(err))
		chClient = nil
	} else {
		defer chClient.Close()
		if err := chClient.EnsureTables(ctx); err != nil {
			logger.Warn("clickhouse table creation failed", zap.Error(err))
		}
		logger.Info("clickhouse client initialized")
	}

	profileClient, err := profiles.NewClient(ctx, cfg.Firestore, logger)
	if err != nil {
		return fmt.Errorf("initializing firestore: %w", err)
	}
	defer profileClient.Close()
	logger.Info("firestore client initialized")

	llmClient := llm.NewOpenAIClient(cfg.LLM, logger)
	embedder := embedding.NewOpenAIEmbedder(cfg.Embedding, logger)

	classifier := intent.NewClassifier(llmClient, logger)
	optimizer := queryopt.NewOptimizer(llmClient, logger)
	ranker := ranking.NewRanker(llmClient, logger)

	retriever := retrieval.NewRetriever(
		embedder, vectorClient, keywordClient, seenStore, cfg.Search, logger,
	)

	gate := quota.NewGate(redisClient, profileClient, cfg.Quota, logger)

	var analyticsWriter observability.AnalyticsWriter
	if chClient != nil {
		analyticsWriter = chClient
	}
	detector := observability.NewSlowPipelineDetector(
		cfg.Search.SlowPipeline.WarningThreshold,
		cfg.Search.SlowPipeline.CriticalThreshold,
		logger,
		analyticsWriter,
	)

	discovery := pipeline.NewPipeline(
		gate, classifier, optimizer, retriever, profileClient, ranker,
		seenStore, detector, analyticsWriter, cfg.Search, logger,
	)

	casualService := casual.NewService(
		classifier, optimizer, embedder, vectorClient, keywordClient, profileClient, logger,
	)

	sweeper := casual.NewSweeper(profileClient, profileClient, vectorClient, keywordClient, cfg.Casual, logger)
	sweeper.Start()
	defer sweeper.Stop()

	// Profile ingestion
	processor := indexing.NewProcessor(
		embedder, vectorClient, keywordClient, cfg.Elasticsearch, logger,
	)
	// Drain after the consumer stops: the consumer commits an offset once an
	// event is handled, so buffered keyword actions must flush before exit.
	defer func() {
		stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer stopCancel()
		if err := processor.Stop(stopCtx); err != nil {
			logger.Error("processor drain failed", zap.Error(err))
		}
	}()
	consumer := indexing.NewConsumer(cfg.Kafka, cfg.Search.Retry, processor.HandleEvent, logger)
	consumer.Start(ctx)
	defer consumer.Stop()
	logger.Info("profile ingestion started")

	// HTTP server
	var stats api.IntentStats
	if chClient != nil {
		stats = chClient
	}
	handler := api.NewHandler(discovery, casualService, stats, logger)

	healthHandler := api.NewHealthHandler(logger)
	healthHandler.Register("redis", seenStore)
	healthHandler.Register("qdrant", vectorClient)
	healthHandler.Register("elasticsearch", keywordClient)
	healthHandler.Register("firestore", profileClient)
	healthHandler.Register("embedding", embedder)
	healthHandler.Register("kafka", consumer)
	if chClient != nil {
		healthHandler.Register("clickhouse", chClient)
	}

	router := api.NewRouter(handler, healthHandler, logger)

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server starting", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))
	case err := <-errCh:
		return err
	}

	logger.Info("starting graceful shutdown", zap.Duration("timeout", cfg.Server.ShutdownTimeout))

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", zap.Error(err))
	}

	cancel()

	if tracerShutdown != nil {
		if err := tracerShutdown(shutdownCtx); err != nil {
			logger.Error("tracer shutdown error", zap.Error(err))
		}
	}

	logger.Info("shutdown complete")
	return nil
}
