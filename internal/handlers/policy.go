package handlers

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zypocare/core-backend/internal/apierr"
	"github.com/zypocare/core-backend/internal/principal"
	"github.com/zypocare/core-backend/internal/services"
)

type PolicyHandler struct {
	policyService services.PolicyEngineService
}

func NewPolicyHandler(policyService services.PolicyEngineService) *PolicyHandler {
	return &PolicyHandler{policyService: policyService}
}

// resolveBranchID scopes a read: global-authority callers may ask about any
// branch (or none, for the global-only view); everyone else is pinned to
// their own branch.
func resolveBranchID(p *principal.Principal, requested string) (*uuid.UUID, error) {
	requested = strings.TrimSpace(requested)
	if p != nil && p.HasGlobalAuthority() {
		if requested == "" {
			return nil, nil
		}
		id, err := uuid.Parse(requested)
		if err != nil {
			return nil, apierr.InvalidArgument("invalid branch id")
		}
		return &id, nil
	}
	if p == nil || p.BranchID == nil {
		return nil, apierr.InvalidArgument("missing branch context")
	}
	if requested != "" && requested != p.BranchID.String() {
		return nil, apierr.Forbidden("cross-branch access is not allowed")
	}
	return p.BranchID, nil
}

func (ph *PolicyHandler) GetEffectivePolicy(c *gin.Context) {
	p := principal.FromContext(c.Request.Context())
	branchID, err := resolveBranchID(p, c.Query("branchId"))
	if err != nil {
		RespondError(c, err)
		return
	}
	eff, err := ph.policyService.GetEffectivePolicy(c.Request.Context(), c.Param("code"), branchID)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"effective": eff})
}

func (ph *PolicyHandler) Invalidate(c *gin.Context) {
	p := principal.FromContext(c.Request.Context())
	if p == nil || !p.HasGlobalAuthority() {
		RespondError(c, apierr.Forbidden("cache invalidation requires global policy authority"))
		return
	}
	var branchID *uuid.UUID
	if raw := strings.TrimSpace(c.Query("branchId")); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			RespondBadRequest(c, "invalid branch id")
			return
		}
		branchID = &id
	}
	ph.policyService.Invalidate(c.Request.Context(), c.Query("code"), branchID)
	RespondOK(c, gin.H{"ok": true})
}
