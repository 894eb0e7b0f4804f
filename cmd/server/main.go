package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/developer-mesh/agent-hub/pkg/api"
	"github.com/developer-mesh/agent-hub/pkg/common/cache"
	"github.com/developer-mesh/agent-hub/pkg/config"
	"github.com/developer-mesh/agent-hub/pkg/database"
	"github.com/developer-mesh/agent-hub/pkg/observability"
	"github.com/developer-mesh/agent-hub/pkg/repository/postgres"
	"github.com/developer-mesh/agent-hub/pkg/services"
	"github.com/developer-mesh/agent-hub/pkg/tools"
)

// version is stamped at build time via -ldflags.
var version = "dev"

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logger := observability.NewStandardLoggerWithLevel("server", observability.ParseLogLevel(cfg.LogLevel))
	if cfg.Environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	metricsClient := observability.NewPrometheusMetricsClient("agenthub")
	tracer := observability.NewStartSpan("agent-hub")

	db, err := database.New(ctx, cfg.Database, logger.WithPrefix("database"))
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			logger.Warn("Database close failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	// The in-process LRU always fronts context resolution. Redis, when
	// configured, becomes the shared backend for repositories so several
	// instances see one cache.
	localCache := cache.NewMemoryCache(cfg.Cache.MaxEntries, cfg.CacheTTL())
	var backend cache.Cache = localCache
	if cfg.Cache.RedisAddress != "" {
		redisCache, err := cache.NewRedisCache(cache.RedisConfig{
			Address:   cfg.Cache.RedisAddress,
			Password:  cfg.Cache.RedisPassword,
			Database:  cfg.Cache.RedisDB,
			KeyPrefix: "agenthub",
		})
		if err != nil {
			log.Fatalf("Failed to connect to redis: %v", err)
		}
		backend = redisCache
		logger.Info("Using redis cache backend", map[string]interface{}{
			"address": cfg.Cache.RedisAddress,
		})
	}
	sharedCache := cache.NewInstrumentedCache("shared", backend, metricsClient)
	defer func() {
		if err := sharedCache.Close(); err != nil {
			logger.Warn("Cache close failed", map[string]interface{}{"error": err.Error()})
		}
	}()

	repos := postgres.NewRepositories(db.DB(), nil, sharedCache, logger.WithPrefix("repository"), tracer, metricsClient)

	svcConfig := services.ServiceConfig{
		Logger:         logger.WithPrefix("services"),
		Metrics:        metricsClient,
		Tracer:         tracer,
		VersionRetries: cfg.Engine.MaxWriteRetries,
		ReopenGrace:    cfg.ReopenGrace(),
	}

	// The nudge channel is bounded; a full channel is fine because the
	// worker's sweep picks up whatever the nudges missed.
	nudge := make(chan struct{}, cfg.Engine.DelegationQueueSize)

	contextService := services.NewContextService(svcConfig, services.ContextDeps{
		Contexts:     repos.Contexts,
		Cache:        repos.InheritanceCache,
		Delegations:  repos.Delegations,
		Insights:     repos.Insights,
		Propagations: repos.Propagations,
		Tasks:        repos.Tasks,
		Branches:     repos.Branches,
		Projects:     repos.Projects,
	}, services.ContextOptions{
		Local: localCache,
		TTL:   cfg.CacheTTL(),
		Nudge: nudge,
	})

	projectService := services.NewProjectService(svcConfig, repos.Projects, repos.Branches, repos.Contexts)
	branchService := services.NewBranchService(svcConfig, repos.Branches, repos.Projects)
	taskService := services.NewTaskService(svcConfig, repos.Tasks, repos.Branches, repos.Subtasks, repos.Graph, repos.Agents, contextService)
	subtaskService := services.NewSubtaskService(svcConfig, repos.Subtasks, repos.Tasks, repos.Branches, contextService)
	agentService := services.NewAgentService(svcConfig, repos.Agents, repos.Branches, repos.Projects, repos.Tasks)
	schedulerService := services.NewSchedulerService(svcConfig, repos.Tasks, repos.Branches, repos.Graph, repos.Agents, contextService)
	complianceService := services.NewComplianceService(svcConfig, repos.Projects, repos.Branches, repos.Graph, repos.Agents, repos.Delegations, repos.Propagations)

	worker := services.NewDelegationWorker(svcConfig, services.DelegationWorkerConfig{
		Parallelism:   cfg.Engine.DelegationWorkerParallelism,
		SweepInterval: cfg.Engine.DelegationSweepInterval,
	}, repos.Delegations, repos.Contexts, contextService, nudge)
	worker.Start()

	probes := []tools.HealthProbe{
		{Name: "database", Check: db.Ping},
		{Name: "cache", Check: func(ctx context.Context) error {
			_, err := sharedCache.Exists(ctx, "health_probe")
			return err
		}},
		{Name: "delegation_worker", Check: func(context.Context) error {
			return worker.Healthy()
		}},
	}

	dispatcher, err := tools.NewDispatcher(tools.DispatcherConfig{
		Logger:            logger.WithPrefix("tools"),
		Metrics:           metricsClient,
		Tracer:            tracer,
		CallTimeout:       cfg.ToolCallTimeout(),
		IdempotencyWindow: cfg.IdempotencyWindow(),
		RateLimit:         rate.Limit(cfg.API.RateLimitPerSecond),
		RateBurst:         cfg.API.RateLimitBurst,
	}, repos.Idempotency,
		tools.NewProjectTools(projectService),
		tools.NewBranchTools(branchService, agentService),
		tools.NewTaskTools(taskService, schedulerService, cfg.NextTaskTimeout()),
		tools.NewSubtaskTools(subtaskService),
		tools.NewAgentTools(agentService),
		tools.NewContextTools(contextService),
		tools.NewComplianceTools(complianceService),
	)
	if err != nil {
		log.Fatalf("Failed to build tool dispatcher: %v", err)
	}
	// Registered after the others so its capability listing sees them.
	if err := dispatcher.Register(tools.NewConnectionTools(version, probes, dispatcher.Capabilities)); err != nil {
		log.Fatalf("Failed to register connection tools: %v", err)
	}

	server := api.NewServer(cfg.API, dispatcher, logger.WithPrefix("api"), metricsClient.Registry(), probes...)

	go func() {
		logger.Info("Starting server", map[string]interface{}{
			"address": cfg.API.ListenAddress,
			"version": version,
		})
		if err := server.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	logger.Info("Received shutdown signal", nil)

	shutdownCtx, shutdownCancel := context.WithTimeout(ctx, 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server shutdown error", map[string]interface{}{
			"error": err.Error(),
		})
	}
	worker.Stop()

	logger.Info("Server stopped gracefully", nil)
}
