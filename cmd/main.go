package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/zypocare/core-backend/internal/cache"
	"github.com/zypocare/core-backend/internal/db"
	"github.com/zypocare/core-backend/internal/handlers"
	"github.com/zypocare/core-backend/internal/logger"
	"github.com/zypocare/core-backend/internal/middleware"
	"github.com/zypocare/core-backend/internal/observability"
	"github.com/zypocare/core-backend/internal/repos"
	"github.com/zypocare/core-backend/internal/server"
	"github.com/zypocare/core-backend/internal/services"
	"github.com/zypocare/core-backend/internal/utils"
)

func main() {
	// Logger
	logMode := os.Getenv("LOG_MODE")
	if logMode == "" {
		logMode = "development"
	}
	log, err := logger.New(logMode)
	if err != nil {
		fmt.Printf("Failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	// Env
	log.Info("Loading environment variables from main...")
	jwtSecretKey := utils.GetEnv("JWT_SECRET_KEY", "defaultsecret", log)
	httpPort := utils.GetEnv("HTTP_PORT", "8080", log)
	cacheTTLSeconds := utils.GetEnvAsInt("POLICY_CACHE_TTL_SECONDS", 30, log)
	cacheBackend := utils.GetEnv("POLICY_CACHE_BACKEND", "memory", log)

	// Tracing
	otelShutdown := observability.InitOTel(context.Background(), log, observability.OtelConfig{
		ServiceName: "core-backend",
		Environment: utils.GetEnv("DEPLOY_ENV", "development", log),
		Version:     utils.GetEnv("SERVICE_VERSION", "dev", log),
	})
	if otelShutdown != nil {
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(ctx)
		}()
	}

	// Postgres
	postgresService, err := db.NewPostgresService(log)
	if err != nil {
		log.Error("Postgres init failed", "error", err)
		os.Exit(1)
	}
	if err = postgresService.AutoMigrateAll(); err != nil {
		log.Error("Postgres auto migration failed", "error", err)
		os.Exit(1)
	}
	thePG := postgresService.DB()

	// Repos
	log.Info("Setting up Repos from main...")
	policyDefinitionRepo := repos.NewPolicyDefinitionRepo(thePG, log)
	policyVersionRepo := repos.NewPolicyVersionRepo(thePG, log)
	policyVersionBranchRepo := repos.NewPolicyVersionBranchRepo(thePG, log)
	branchRepo := repos.NewBranchRepo(thePG, log)
	auditEventRepo := repos.NewAuditEventRepo(thePG, log)

	// Cache
	var policyCache cache.Cache
	switch strings.ToLower(strings.TrimSpace(cacheBackend)) {
	case "redis":
		redisCache, err := cache.NewRedis(log)
		if err != nil {
			log.Error("Could not init Redis cache", "error", err)
			os.Exit(1)
		}
		policyCache = redisCache
	default:
		policyCache = cache.NewMemory()
	}

	// Services
	log.Info("Setting up Services from main...")
	auditService := services.NewAuditService(thePG, log, auditEventRepo)
	policyEngineService := services.NewPolicyEngineService(
		thePG,
		log,
		policyDefinitionRepo,
		policyVersionRepo,
		policyCache,
		time.Duration(cacheTTLSeconds)*time.Second,
	)
	catalogService := services.NewCatalogService(thePG, log, policyDefinitionRepo, auditService)
	governanceService := services.NewGovernanceService(
		thePG,
		log,
		policyDefinitionRepo,
		policyVersionRepo,
		policyVersionBranchRepo,
		branchRepo,
		auditEventRepo,
		auditService,
		policyEngineService,
	)

	// Handlers
	catalogHandler := handlers.NewCatalogHandler(catalogService)
	governanceHandler := handlers.NewGovernanceHandler(governanceService)
	policyHandler := handlers.NewPolicyHandler(policyEngineService)

	// Router
	principalMiddleware := middleware.NewPrincipalMiddleware(log, jwtSecretKey)
	router := server.NewRouter(server.RouterConfig{
		ServiceName:         "core-backend",
		PrincipalMiddleware: principalMiddleware,
		CatalogHandler:      catalogHandler,
		GovernanceHandler:   governanceHandler,
		PolicyHandler:       policyHandler,
		AllowOrigins:        strings.Split(utils.GetEnv("CORS_ALLOW_ORIGINS", "http://localhost:3000", log), ","),
	})

	log.Info("Starting HTTP server", "port", httpPort)
	if err := router.Run(":" + httpPort); err != nil {
		log.Error("HTTP server exited", "error", err)
		os.Exit(1)
	}
}
