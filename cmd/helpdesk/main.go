package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/redis/go-redis/v9"
	"github.com/xaenox/helpdesk-agent/internal/agent"
	"github.com/xaenox/helpdesk-agent/internal/audit"
	"github.com/xaenox/helpdesk-agent/internal/balancer"
	"github.com/xaenox/helpdesk-agent/internal/bot"
	"github.com/xaenox/helpdesk-agent/internal/gateway"
	"github.com/xaenox/helpdesk-agent/internal/idempotency"
	"github.com/xaenox/helpdesk-agent/internal/locks"
	"github.com/xaenox/helpdesk-agent/internal/retrieval"
	"github.com/xaenox/helpdesk-agent/internal/server"
	"github.com/xaenox/helpdesk-agent/internal/storage"
	"github.com/xaenox/helpdesk-agent/internal/tools"
	"github.com/xaenox/helpdesk-agent/pkg/config"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to the config file")
	flag.Parse()

	// Initialize logger
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err), zap.String("path", *configPath))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize storage
	var (
		store storage.Storage
		pg    *storage.PostgresStorage
	)
	if cfg.Database.UseInMemory {
		logger.Info("Using in-memory storage")
		mem := storage.NewMemoryStorage()
		if cfg.Database.Fixtures != "" {
			if err := storage.LoadFixtures(cfg.Database.Fixtures, mem); err != nil {
				logger.Fatal("Failed to load fixtures", zap.Error(err), zap.String("path", cfg.Database.Fixtures))
			}
		}
		store = mem
	} else {
		logger.Info("Using PostgreSQL storage")
		dbConfig := storage.DatabaseConfig{
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			DBName:   cfg.Database.DBName,
			SSLMode:  cfg.Database.SSLMode,
		}
		pg, err = storage.NewPostgresStorage(dbConfig, logger)
		if err != nil {
			logger.Fatal("Failed to initialize storage", zap.Error(err))
		}
		store = pg
	}
	defer store.Close()

	// Redis backs the shared ticket lock and the reply cache
	var (
		locker  locks.Locker = locks.NewKeyedMutex()
		replies server.ReplyCache
	)
	if cfg.Redis.URL != "" {
		opts, err := redis.ParseURL(cfg.Redis.URL)
		if err != nil {
			logger.Fatal("Failed to parse redis url", zap.Error(err))
		}
		rdb := redis.NewClient(opts)
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Fatal("Failed to connect to redis", zap.Error(err))
		}
		locker = locks.NewRedisLocker(rdb, cfg.Redis.LockTTL, logger)
		replies = idempotency.NewStore(rdb, cfg.Idempotency.TTL, logger)
		logger.Info("Using redis for ticket locks and idempotency")
	}

	// Model and embeddings
	client := gateway.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL)
	gw := gateway.NewOpenAIGateway(client, cfg.OpenAI.Model, cfg.OpenAI.MaxTokens, cfg.OpenAI.Temperature, logger)
	embedder := retrieval.NewOpenAIEmbedder(client, cfg.OpenAI.EmbeddingModel, logger)

	// Vector index
	var index retrieval.Index
	switch cfg.Retrieval.Backend {
	case config.BackendPostgres:
		index = pg
	default:
		chromemIndex, err := retrieval.NewChromemIndex()
		if err != nil {
			logger.Fatal("Failed to create vector index", zap.Error(err))
		}
		index = chromemIndex
	}

	ingester := retrieval.NewIngester(store, embedder, index, cfg.Retrieval.ChunkSize, cfg.Retrieval.Overlap, logger)
	if cfg.Retrieval.Backend == config.BackendMemory {
		n, err := ingester.Reindex(ctx)
		if err != nil {
			logger.Fatal("Failed to index knowledge base", zap.Error(err))
		}
		logger.Info("Indexed knowledge base", zap.Int("articles", n))
	}

	retriever := retrieval.NewRetriever(embedder, index, retrieval.RetrieverConfig{
		TopK:          cfg.Retrieval.TopK,
		Threshold:     float32(cfg.Retrieval.Threshold),
		HighThreshold: float32(cfg.Retrieval.HighThreshold),
	}, logger)

	recorder := audit.NewRecorder(store, logger)
	registry := tools.NewRegistry(tools.Dependencies{
		Store:     store,
		Balancer:  balancer.New(store, logger),
		Knowledge: retriever,
		Audit:     recorder,
		Locker:    locker,
		Logger:    logger,
	})

	resolver := agent.NewResolver(gw, registry, agent.Config{
		MaxRoundTrips:  cfg.Agent.MaxRoundTrips,
		RequestTimeout: cfg.Agent.RequestTimeout,
		SystemPrompt:   cfg.Agent.SystemPrompt,
	}, logger)

	srv := server.NewServer(resolver, ingester, replies, server.Config{
		Addr:            cfg.Server.Addr,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
	}, logger).WithModelCheck(gw)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx)
	})

	if cfg.Telegram.Token != "" {
		profiles, err := cfg.Telegram.ProfileMap()
		if err != nil {
			logger.Fatal("Invalid telegram profiles", zap.Error(err))
		}
		b, err := bot.New(cfg.Telegram.Token, store, resolver, recorder, profiles, logger)
		if err != nil {
			logger.Fatal("Failed to create bot", zap.Error(err))
		}
		g.Go(func() error {
			return b.Start(ctx)
		})
	}

	if err := g.Wait(); err != nil {
		logger.Fatal("Service error", zap.Error(err))
	}
}
