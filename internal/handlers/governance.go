package handlers

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/zypocare/core-backend/internal/principal"
	"github.com/zypocare/core-backend/internal/services"
)

type GovernanceHandler struct {
	governanceService services.GovernanceService
}

func NewGovernanceHandler(governanceService services.GovernanceService) *GovernanceHandler {
	return &GovernanceHandler{governanceService: governanceService}
}

func versionIDParam(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("versionId"))
	if err != nil {
		RespondBadRequest(c, "invalid version id")
		return uuid.Nil, false
	}
	return id, true
}

type createDraftRequest struct {
	Code string `json:"code"`
}

func (gh *GovernanceHandler) CreateGlobalDraft(c *gin.Context) {
	var req createDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "invalid request body")
		return
	}
	p := principal.FromContext(c.Request.Context())
	ref, err := gh.governanceService.CreateGlobalDraft(c.Request.Context(), p, req.Code)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, ref)
}

func (gh *GovernanceHandler) CreateBranchOverrideDraft(c *gin.Context) {
	var req createDraftRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "invalid request body")
		return
	}
	p := principal.FromContext(c.Request.Context())
	ref, err := gh.governanceService.CreateBranchOverrideDraft(c.Request.Context(), p, req.Code)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, ref)
}

func (gh *GovernanceHandler) UpdateDraft(c *gin.Context) {
	id, ok := versionIDParam(c)
	if !ok {
		return
	}
	var in services.UpdateDraftInput
	if err := c.ShouldBindJSON(&in); err != nil {
		RespondBadRequest(c, "invalid request body")
		return
	}
	p := principal.FromContext(c.Request.Context())
	if err := gh.governanceService.UpdateDraft(c.Request.Context(), p, id, in); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"ok": true})
}

func (gh *GovernanceHandler) SubmitDraft(c *gin.Context) {
	id, ok := versionIDParam(c)
	if !ok {
		return
	}
	p := principal.FromContext(c.Request.Context())
	if err := gh.governanceService.SubmitDraft(c.Request.Context(), p, id); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"ok": true})
}

type approveRequest struct {
	Note string `json:"note"`
}

func (gh *GovernanceHandler) Approve(c *gin.Context) {
	id, ok := versionIDParam(c)
	if !ok {
		return
	}
	var req approveRequest
	_ = c.ShouldBindJSON(&req)
	p := principal.FromContext(c.Request.Context())
	if err := gh.governanceService.Approve(c.Request.Context(), p, id, req.Note); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"ok": true})
}

type rejectRequest struct {
	Reason string `json:"reason"`
}

func (gh *GovernanceHandler) Reject(c *gin.Context) {
	id, ok := versionIDParam(c)
	if !ok {
		return
	}
	var req rejectRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondBadRequest(c, "invalid request body")
		return
	}
	p := principal.FromContext(c.Request.Context())
	if err := gh.governanceService.Reject(c.Request.Context(), p, id, req.Reason); err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"ok": true})
}

func (gh *GovernanceHandler) ListApprovals(c *gin.Context) {
	p := principal.FromContext(c.Request.Context())
	items, err := gh.governanceService.ListApprovals(c.Request.Context(), p)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"approvals": items})
}

func (gh *GovernanceHandler) ListPolicies(c *gin.Context) {
	p := principal.FromContext(c.Request.Context())
	items, err := gh.governanceService.ListPolicies(c.Request.Context(), p)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"policies": items})
}

func (gh *GovernanceHandler) GetPolicyDetailGlobal(c *gin.Context) {
	p := principal.FromContext(c.Request.Context())
	detail, err := gh.governanceService.GetPolicyDetailGlobal(c.Request.Context(), p, c.Param("code"))
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, detail)
}

func (gh *GovernanceHandler) ListBranches(c *gin.Context) {
	p := principal.FromContext(c.Request.Context())
	branches, err := gh.governanceService.ListBranches(c.Request.Context(), p)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"branches": branches})
}

func (gh *GovernanceHandler) ListBranchPolicies(c *gin.Context) {
	p := principal.FromContext(c.Request.Context())
	items, err := gh.governanceService.ListBranchPolicies(c.Request.Context(), p)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"policies": items})
}

func (gh *GovernanceHandler) GetBranchPolicyDetail(c *gin.Context) {
	p := principal.FromContext(c.Request.Context())
	detail, err := gh.governanceService.GetBranchPolicyDetail(c.Request.Context(), p, c.Param("code"))
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, detail)
}

func (gh *GovernanceHandler) ListPolicyAudit(c *gin.Context) {
	p := principal.FromContext(c.Request.Context())
	events, err := gh.governanceService.ListPolicyAudit(c.Request.Context(), p)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, gin.H{"events": events})
}

func (gh *GovernanceHandler) Summary(c *gin.Context) {
	p := principal.FromContext(c.Request.Context())
	summary, err := gh.governanceService.Summary(c.Request.Context(), p)
	if err != nil {
		RespondError(c, err)
		return
	}
	RespondOK(c, summary)
}
