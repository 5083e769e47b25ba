// Command fabricd boots the memory fabric's HTTP API and its background
// scheduler in one process, wiring every package under internal/ from a
// single config.Config the way the teacher's cmd/server/main.go assembles
// its own dependency graph.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/redis/go-redis/v9"

	"github.com/memcortex/fabric/internal/audit"
	"github.com/memcortex/fabric/internal/autotuner"
	"github.com/memcortex/fabric/internal/compaction"
	"github.com/memcortex/fabric/internal/config"
	"github.com/memcortex/fabric/internal/conversation"
	"github.com/memcortex/fabric/internal/crypto"
	"github.com/memcortex/fabric/internal/embedding"
	"github.com/memcortex/fabric/internal/feedback"
	"github.com/memcortex/fabric/internal/handler"
	"github.com/memcortex/fabric/internal/jobs"
	"github.com/memcortex/fabric/internal/llm"
	"github.com/memcortex/fabric/internal/logger"
	"github.com/memcortex/fabric/internal/memory"
	"github.com/memcortex/fabric/internal/orchestrator"
	"github.com/memcortex/fabric/internal/repository"
	"github.com/memcortex/fabric/internal/retrieval"
	"github.com/memcortex/fabric/internal/scoring"
	"github.com/memcortex/fabric/internal/secrets"
	"github.com/memcortex/fabric/internal/semcache"
	"github.com/memcortex/fabric/internal/server"
	"github.com/memcortex/fabric/internal/telemetry"
	"github.com/memcortex/fabric/internal/vectorstore"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("fabricd: loading config: %w", err)
	}

	telemetryProvider, err := telemetry.New(ctx, "fabric", string(cfg.Environment), os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"))
	if err != nil {
		return fmt.Errorf("fabricd: building telemetry provider: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := telemetryProvider.Shutdown(shutdownCtx); err != nil {
			logger.ErrorWithFields(shutdownCtx, err, map[string]any{"step": "telemetry_shutdown"})
		}
	}()

	db, err := repository.Open(cfg.Postgres)
	if err != nil {
		return fmt.Errorf("fabricd: opening database: %w", err)
	}
	if err := repository.Migrate(db); err != nil {
		return fmt.Errorf("fabricd: migrating schema: %w", err)
	}

	cryptoMgr, err := crypto.NewManagerFromBase64Key(cfg.Auth.EncryptionKeyB64)
	if err != nil {
		return fmt.Errorf("fabricd: building crypto manager: %w", err)
	}

	vectors, err := vectorstore.NewQdrantStore(cfg.Vector.Host, cfg.Vector.GRPCPort, "fabric", cfg.Embedding.Dimensions)
	if err != nil {
		return fmt.Errorf("fabricd: connecting to qdrant: %w", err)
	}

	embedder, err := embedding.New(embedding.Config{
		Source:     embedding.ModelSource(os.Getenv("EMBEDDING_SOURCE")),
		BaseURL:    os.Getenv("EMBEDDING_BASE_URL"),
		ModelName:  cfg.Embedding.Model,
		APIKey:     os.Getenv("EMBEDDING_API_KEY"),
		Dimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		return fmt.Errorf("fabricd: building embedder: %w", err)
	}

	chat, err := llm.New(llm.Config{
		Source:    llm.Source(os.Getenv("LLM_SOURCE")),
		BaseURL:   os.Getenv("LLM_BASE_URL"),
		ModelName: cfg.Agent.DefaultModel,
		APIKey:    os.Getenv("LLM_API_KEY"),
	})
	if err != nil {
		return fmt.Errorf("fabricd: building chat client: %w", err)
	}

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	users := repository.NewUserRepository(db)
	memories := repository.NewMemoryItemRepository(db)
	conversations := repository.NewConversationRepository(db)
	feedbackRepo := repository.NewFeedbackRepository(db)
	queries := repository.NewQueryMetricsRepository(db)
	auditRepo := repository.NewAuditRepository(db)
	semanticCacheRepo := repository.NewSemanticCacheRepository(db)
	oauthTokens := repository.NewOAuthTokenRepository(db)
	topicSummaries := repository.NewTopicSummaryRepository(db)
	domainMaps := repository.NewDomainMapRepository(db)
	autoTunerStats, err := repository.NewAutoTunerStatsRepository(db, cfg.Jobs.DuckDBPath)
	if err != nil {
		return fmt.Errorf("fabricd: building auto-tuner stats repository: %w", err)
	}

	auditLogger := audit.NewLogger(auditRepo)
	if len(cfg.Elastic.Addresses) > 0 {
		index, err := audit.NewSecondaryIndex(cfg.Elastic.Addresses, "")
		if err != nil {
			return fmt.Errorf("fabricd: building audit secondary index: %w", err)
		}
		auditLogger = auditLogger.WithIndex(index)
	}

	scorer := scoring.NewEngine()
	retriever := retrieval.NewRetriever(vectors)
	cache := semcache.NewCache(vectors, semanticCacheRepo, redisClient)
	cache.SetEnabled(cfg.Cache.SemanticCacheEnabled)

	summarizer := conversation.NewLLMSummarizer(chat, cfg.Agent.DefaultModel)
	conversationMgr := conversation.NewManager(conversations, summarizer)

	memoryWriter := memory.NewWriter(memories, vectors, cryptoMgr, embedder, auditLogger)
	feedbackAgg := feedback.NewAggregator(feedbackRepo, queries, memories)

	var graphMirror *compaction.GraphMirror
	if cfg.Neo4j.URI != "" {
		graphMirror, err = compaction.NewGraphMirror(cfg.Neo4j.URI, cfg.Neo4j.Username, cfg.Neo4j.Password)
		if err != nil {
			return fmt.Errorf("fabricd: connecting to neo4j: %w", err)
		}
	}
	compactor, err := compaction.NewCompactor(memories, topicSummaries, domainMaps, chat, graphMirror, 8, cfg.Compaction.SynthesisBudgetUSD)
	if err != nil {
		return fmt.Errorf("fabricd: building compactor: %w", err)
	}

	overrides := autotuner.NewOverrides()
	tuner := autotuner.NewTuner(autoTunerStats, overrides, func() string { return cfg.Agent.DefaultModel }, func() int { return cfg.Agent.ContextLimit })

	var fileStore *orchestrator.FileStore
	if cfg.Minio.Endpoint != "" {
		minioClient, err := minio.New(cfg.Minio.Endpoint, &minio.Options{
			Creds:  credentials.NewStaticV4(cfg.Minio.AccessKey, cfg.Minio.SecretKey, ""),
			Secure: cfg.Minio.UseSSL,
		})
		if err != nil {
			return fmt.Errorf("fabricd: building minio client: %w", err)
		}
		fileStore = orchestrator.NewFileStore(minioClient, cfg.Minio.Bucket)
	}

	orch := orchestrator.New(queries, conversationMgr, embedder, retriever, scorer, cache, chat, auditLogger, overrides, fileStore, orchestrator.Config{
		DefaultAgent: cfg.Agent.DefaultModel,
		LLMTimeout:   cfg.Agent.TimeoutLLM,
		EmbedTimeout: cfg.Agent.TimeoutEmbed,
		Tracer:       telemetryProvider.Tracer(),
	})

	archiveDir := os.Getenv("ARCHIVE_DIR")
	archiver, err := jobs.NewArchiver(archiveDir)
	if err != nil {
		return fmt.Errorf("fabricd: building archiver: %w", err)
	}

	scheduler := jobs.NewScheduler(cfg.Redis.Addr, cfg.Jobs.Enabled, jobs.Deps{
		Users:     users,
		Memories:  memories,
		Vectors:   vectors,
		Embedder:  embedder,
		Scorer:    scorer,
		Compactor: compactor,
		Tuner:     tuner,
		Stats:     autoTunerStats,
		AuditRepo: auditRepo,
		Queries:   queries,
		AuditLog:  auditLogger,
		Archiver:  archiver,
	})
	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("fabricd: starting scheduler: %w", err)
	}
	defer scheduler.Stop()

	if cfg.Auth.TokenMasterSecret != "" {
		if _, err := secrets.NewStoreFromMasterSecret(oauthTokens, cfg.Auth.TokenMasterSecret); err != nil {
			return fmt.Errorf("fabricd: building secrets store: %w", err)
		}
	}

	router := server.NewRouter(cfg, server.Handlers{
		Query:        handler.NewQueryHandler(orch),
		Memory:       handler.NewMemoryHandler(memoryWriter, memories),
		Feedback:     handler.NewFeedbackHandler(feedbackAgg),
		Conversation: handler.NewConversationHandler(conversationMgr, conversations),
	})

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.ErrorWithFields(shutdownCtx, err, map[string]any{"step": "http_shutdown"})
		}
	}()

	logger.Infof(ctx, "fabricd: listening on %s", httpServer.Addr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("fabricd: serving http: %w", err)
	}
	return nil
}
