package server

import (
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/zypocare/core-backend/internal/handlers"
	"github.com/zypocare/core-backend/internal/middleware"
)

type RouterConfig struct {
	ServiceName         string
	PrincipalMiddleware *middleware.PrincipalMiddleware
	CatalogHandler      *handlers.CatalogHandler
	GovernanceHandler   *handlers.GovernanceHandler
	PolicyHandler       *handlers.PolicyHandler
	AllowOrigins        []string
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	router := gin.Default()

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "core-backend"
	}
	router.Use(otelgin.Middleware(serviceName))

	origins := cfg.AllowOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000"}
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "PATCH", "OPTIONS"},
		AllowHeaders:     []string{"Authorization", "Content-Type", "X-Requested-With"},
		AllowCredentials: true,
	}))

	router.GET("/healthcheck", handlers.HealthCheck)

	api := router.Group("/api")
	api.Use(cfg.PrincipalMiddleware.RequirePrincipal())

	// Catalog
	api.POST("/policy/definitions", cfg.CatalogHandler.Create)
	api.GET("/policy/definitions", cfg.CatalogHandler.List)
	api.GET("/policy/definitions/:code", cfg.CatalogHandler.Get)

	// Governance workflow
	api.POST("/policy/drafts/global", cfg.GovernanceHandler.CreateGlobalDraft)
	api.POST("/policy/drafts/override", cfg.GovernanceHandler.CreateBranchOverrideDraft)
	api.PATCH("/policy/versions/:versionId", cfg.GovernanceHandler.UpdateDraft)
	api.POST("/policy/versions/:versionId/submit", cfg.GovernanceHandler.SubmitDraft)
	api.POST("/policy/versions/:versionId/approve", cfg.GovernanceHandler.Approve)
	api.POST("/policy/versions/:versionId/reject", cfg.GovernanceHandler.Reject)
	api.GET("/policy/approvals", cfg.GovernanceHandler.ListApprovals)

	// Admin views
	api.GET("/policy/policies", cfg.GovernanceHandler.ListPolicies)
	api.GET("/policy/policies/:code", cfg.GovernanceHandler.GetPolicyDetailGlobal)
	api.GET("/policy/branches", cfg.GovernanceHandler.ListBranches)
	api.GET("/policy/audit", cfg.GovernanceHandler.ListPolicyAudit)
	api.GET("/policy/summary", cfg.GovernanceHandler.Summary)

	// Branch views
	api.GET("/policy/branch/policies", cfg.GovernanceHandler.ListBranchPolicies)
	api.GET("/policy/branch/policies/:code", cfg.GovernanceHandler.GetBranchPolicyDetail)

	// Effective policy resolution
	api.GET("/policy/effective/:code", cfg.PolicyHandler.GetEffectivePolicy)
	api.POST("/policy/cache/invalidate", cfg.PolicyHandler.Invalidate)

	return router
}
