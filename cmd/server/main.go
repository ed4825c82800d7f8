// Package main is the entry point for the finance chat API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/alqutdigital/finance-chat/internal/api"
	"github.com/alqutdigital/finance-chat/internal/api/handlers"
	"github.com/alqutdigital/finance-chat/internal/api/middleware"
	"github.com/alqutdigital/finance-chat/internal/classifier"
	"github.com/alqutdigital/finance-chat/internal/config"
	"github.com/alqutdigital/finance-chat/internal/embedder"
	"github.com/alqutdigital/finance-chat/internal/events"
	"github.com/alqutdigital/finance-chat/internal/indexer"
	"github.com/alqutdigital/finance-chat/internal/llm"
	"github.com/alqutdigital/finance-chat/internal/rag"
	"github.com/alqutdigital/finance-chat/internal/router"
	"github.com/alqutdigital/finance-chat/internal/session"
	"github.com/alqutdigital/finance-chat/internal/sqlgen"
	"github.com/alqutdigital/finance-chat/internal/storage"
	"github.com/alqutdigital/finance-chat/internal/telemetry"
	"github.com/alqutdigital/finance-chat/pkg/logger"
	"github.com/alqutdigital/finance-chat/pkg/shutdown"
)

const version = "0.1.0"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	log := logger.New(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		AddSource:  cfg.Log.AddSource,
		File:       cfg.Log.File,
		MaxSizeMB:  cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAgeDays: cfg.Log.MaxAgeDays,
	})
	log.SetDefault()

	log.Info("starting finance chat",
		"version", version,
		"environment", cfg.Server.Environment,
		"port", cfg.Server.Port,
	)

	ctx := context.Background()
	shutdownHandler := shutdown.New(log.Logger, time.Duration(cfg.Server.ShutdownTimeout)*time.Second)
	shutdownHandler.RegisterNamed("logger", func(context.Context) error { return log.Close() })

	// Telemetry
	tel, err := telemetry.Setup(ctx, telemetry.Config{
		Enabled:     cfg.Telemetry.TracingEnabled,
		TraceFile:   cfg.Telemetry.TraceFile,
		ServiceName: "finance-chat",
		Version:     version,
	}, log.Logger)
	if err != nil {
		return fmt.Errorf("failed to set up tracing: %w", err)
	}
	shutdownHandler.RegisterNamed("telemetry", tel.Shutdown)

	checks := map[string]handlers.HealthChecker{}

	// Finance database
	db, err := storage.OpenSQL(storage.SQLConfig{
		Driver:       cfg.Database.Driver,
		DSN:          cfg.Database.DSN(),
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
	})
	if err != nil {
		return err
	}
	checks["database"] = db
	shutdownHandler.RegisterNamed("database", func(context.Context) error { return db.Close() })
	log.Info("finance database configured", "driver", db.Driver(), "database", cfg.Database.Database)

	// Redis
	var redisClient *storage.RedisClientWrapper
	if cfg.Redis.Host != "" {
		redisClient, err = storage.NewRedisClient(ctx, storage.RedisConfig{
			Addr:     cfg.Redis.Addr(),
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			if cfg.Session.Store == "redis" {
				return err
			}
			log.Warn("failed to connect to Redis, using in-memory stores", "error", err)
			redisClient = nil
		} else {
			log.Info("connected to Redis", "addr", cfg.Redis.Addr())
			checks["redis"] = healthFunc(redisClient.Ping)
			shutdownHandler.RegisterNamed("redis", func(context.Context) error { return redisClient.Close() })
		}
	}

	// Object storage
	var objects storage.ObjectStorage
	if cfg.Storage.Endpoint != "" {
		minioStore, err := storage.NewMinIOStorage(storage.MinIOConfig{
			Endpoint:        cfg.Storage.Endpoint,
			AccessKeyID:     cfg.Storage.AccessKeyID,
			SecretAccessKey: cfg.Storage.SecretAccessKey,
			BucketName:      cfg.Storage.BucketName,
			UseSSL:          cfg.Storage.UseSSL,
			Region:          cfg.Storage.Region,
		})
		if err != nil {
			log.Warn("failed to connect to object storage, index sync disabled", "error", err)
		} else {
			objects = minioStore
			checks["object_storage"] = minioStore
		}
	}

	// Retrieval
	vectorStore, err := openVectorStore(ctx, cfg, objects, log, shutdownHandler)
	if err != nil {
		return err
	}
	checks["vector_store"] = vectorStore

	emb, err := newEmbedder(cfg, log)
	if err != nil {
		return err
	}

	var embeddingCache storage.EmbeddingCache
	if redisClient != nil {
		embeddingCache = storage.NewCacheManager(redisClient, log.Logger, storage.DefaultCacheConfig())
	}

	retrieverCfg := rag.DefaultRetrieverConfig()
	retrieverCfg.TopK = cfg.RAG.TopK
	retriever := rag.NewRetriever(vectorStore, emb, embeddingCache, log.Logger, retrieverCfg)
	builder := rag.NewContextBuilder(rag.NewTokenCounter(cfg.LLM.RAGModel, log.Logger), cfg.RAG.MaxContextTokens, log.Logger)

	// Models
	classifierLLM, err := newProvider(cfg, cfg.LLM.ClassifierModel, log)
	if err != nil {
		return err
	}
	sqlLLM, err := newProvider(cfg, cfg.LLM.SQLModel, log)
	if err != nil {
		return err
	}
	ragLLM, err := newProvider(cfg, cfg.LLM.RAGModel, log)
	if err != nil {
		return err
	}

	pipeline := rag.NewPipeline(retriever, builder, ragLLM, cfg.Server.StageTimeout, log.Logger)
	executor := sqlgen.NewExecutor(sqlLLM, db.DB, sqlgen.Options{
		Temperature:  cfg.LLM.SQLTemperature,
		StageTimeout: cfg.Server.StageTimeout,
	}, log.Logger)
	cls := classifier.New(classifierLLM, log.Logger)

	// Sessions
	var sessions session.Store
	if cfg.Session.Store == "redis" {
		sessions = session.NewRedisStore(redisClient, "finchat:session", cfg.Session.TTL)
	} else {
		sessions = session.NewMemoryStore(cfg.Session.TTL)
	}
	log.Info("session store configured", "store", cfg.Session.Store, "ttl", cfg.Session.TTL)

	opts := []router.Option{router.WithTracer(tel.Tracer())}
	if cfg.NATS.URL != "" {
		natsCfg := events.DefaultConfig(cfg.NATS.URL)
		if cfg.NATS.ClusterID != "" {
			natsCfg.Name = cfg.NATS.ClusterID
		}
		publisher, err := events.NewNATSPublisher(ctx, natsCfg, log.Logger)
		if err != nil {
			log.Warn("failed to connect to NATS, turn events disabled", "error", err)
		} else {
			log.Info("connected to NATS", "url", cfg.NATS.URL)
			opts = append(opts, router.WithPublisher(publisher))
			checks["nats"] = healthFunc(func(context.Context) error {
				if !publisher.IsConnected() {
					return errors.New("disconnected")
				}
				return nil
			})
			shutdownHandler.RegisterNamed("nats", func(context.Context) error { return publisher.Close() })
		}
	}

	chatRouter := router.New(cls, executor, pipeline, sessions, router.Config{
		MaxUserTurns:    cfg.Session.MaxUserTurns,
		ClassifyTimeout: cfg.Server.StageTimeout,
	}, log.Logger, opts...)

	// HTTP
	var rateLimitStore middleware.RateLimitStore = middleware.NewMemoryRateLimitStore()
	if redisClient != nil {
		rateLimitStore = middleware.NewRedisRateLimitStore(redisClient, "finchat:ratelimit", log.Logger)
	}

	routerConfig := api.DefaultRouterConfig()
	routerConfig.AllowedOrigins = cfg.CORS.AllowedOrigins
	routerConfig.WebSocket.AllowedOrigins = cfg.CORS.AllowedOrigins
	routerConfig.RequestTimeout = cfg.Server.RequestTimeout
	routerConfig.RateLimitConfig = middleware.DefaultRateLimitConfig(cfg.Server.RateLimitPerMin)
	routerConfig.EnableMetrics = cfg.Telemetry.MetricsEnabled
	routerConfig.WebSocket.TurnTimeout = cfg.Server.RequestTimeout

	handler := api.NewRouter(api.Dependencies{
		Logger:         log.Logger,
		ChatService:    chatRouter,
		RateLimitStore: rateLimitStore,
		Checks:         checks,
	}, routerConfig)

	serverConfig := api.DefaultServerConfig()
	serverConfig.Port = cfg.Server.Port
	if cfg.Server.RequestTimeout+15*time.Second > serverConfig.WriteTimeout {
		serverConfig.WriteTimeout = cfg.Server.RequestTimeout + 15*time.Second
	}
	server := api.NewServer(handler, serverConfig, log.Logger)
	shutdownHandler.RegisterNamed("http-server", server.Shutdown)

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Start()
	}()

	waitCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		if err := <-serveErr; err != nil {
			log.Error("HTTP server error", "error", err)
			cancel()
		}
	}()

	if err := shutdownHandler.Wait(waitCtx); err != nil {
		return err
	}
	log.Info("server stopped")
	return nil
}

// healthFunc adapts a probe function to handlers.HealthChecker.
type healthFunc func(ctx context.Context) error

func (f healthFunc) Health(ctx context.Context) error { return f(ctx) }

// newProvider builds a chat model client for model using the configured provider.
func newProvider(cfg *config.Config, model string, log *logger.Logger) (llm.Provider, error) {
	provider := strings.ToLower(cfg.LLM.Provider)
	apiKey := cfg.LLM.OpenAIKey
	if provider == string(llm.ProviderAnthropic) {
		apiKey = cfg.LLM.AnthropicKey
		// Model names default to OpenAI ones; let the provider pick its own.
		if strings.HasPrefix(model, "gpt-") {
			model = ""
		}
	}

	p, err := llm.NewProvider(llm.ProviderConfig{
		Provider:  provider,
		Model:     model,
		APIKey:    apiKey,
		BaseURL:   cfg.LLM.BaseURL,
		MaxTokens: cfg.LLM.MaxTokens,
	}, log.Logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM provider: %w", err)
	}
	return p, nil
}

// newEmbedder returns the OpenAI embedder, or a deterministic local one for
// development when no key is configured.
func newEmbedder(cfg *config.Config, log *logger.Logger) (rag.Embedder, error) {
	if cfg.LLM.OpenAIKey == "" {
		log.Warn("OPENAI_API_KEY not set, using hash embeddings; retrieval quality will be poor")
		return embedder.NewHashEmbedder(1536), nil
	}

	embCfg := embedder.DefaultConfig(cfg.LLM.OpenAIKey)
	embCfg.Model = cfg.LLM.EmbeddingModel
	if strings.EqualFold(cfg.LLM.Provider, string(llm.ProviderOpenAI)) {
		embCfg.BaseURL = cfg.LLM.BaseURL
	}
	emb, err := embedder.NewOpenAIEmbedder(embCfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return emb, nil
}

// openVectorStore opens the configured index. A local index is pulled from
// object storage first when one is available there.
func openVectorStore(ctx context.Context, cfg *config.Config, objects storage.ObjectStorage, log *logger.Logger, sh *shutdown.Handler) (storage.VectorStore, error) {
	if cfg.RAG.VectorStore == "pgvector" {
		pg, err := storage.OpenSQL(storage.SQLConfig{Driver: "postgres", DSN: cfg.RAG.PgVectorDSN})
		if err != nil {
			return nil, err
		}
		sh.RegisterNamed("pgvector", func(context.Context) error { return pg.Close() })
		log.Info("using pgvector index")
		return storage.NewPgVectorStore(pg.DB, log.Logger), nil
	}

	if objects != nil {
		pullCtx, cancel := context.WithTimeout(ctx, 2*time.Minute)
		ok, err := indexer.PullIndex(pullCtx, objects, cfg.Storage.IndexPrefix, cfg.RAG.IndexDir)
		cancel()
		switch {
		case err != nil:
			log.Warn("failed to pull index from object storage", "error", err)
		case ok:
			log.Info("pulled index from object storage", "dir", cfg.RAG.IndexDir)
		}
	}

	store, err := storage.LoadLocalVectorStore(cfg.RAG.IndexDir)
	if errors.Is(err, storage.ErrIndexNotFound) {
		log.Warn("no vector index found, documentation answers will have no context", "dir", cfg.RAG.IndexDir)
		return storage.NewLocalVectorStore(cfg.RAG.IndexDir), nil
	}
	if err != nil {
		return nil, err
	}
	n, _ := store.Count(ctx)
	log.Info("loaded local vector index", "dir", cfg.RAG.IndexDir, "chunks", n)
	return store, nil
}
