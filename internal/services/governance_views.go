package services

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/zypocare/core-backend/internal/principal"
	"github.com/zypocare/core-backend/internal/types"
)

// Read-only projections over the governance state. These compose repo
// queries only; they are views, not a second source of truth.

type VersionView struct {
	ID                 uuid.UUID              `json:"id"`
	Version            int                    `json:"version"`
	Status             string                 `json:"status"` // display status
	Scope              string                 `json:"scope"`
	BranchID           *uuid.UUID             `json:"branch_id,omitempty"`
	EffectiveAt        time.Time              `json:"effective_at"`
	Notes              string                 `json:"notes"`
	Payload            map[string]interface{} `json:"payload"`
	ApplyToAllBranches bool                   `json:"apply_to_all_branches"`
	BranchIDs          []uuid.UUID            `json:"branch_ids"`
	CreatedByUserID    uuid.UUID              `json:"created_by_user_id"`
	ApprovedByUserID   *uuid.UUID             `json:"approved_by_user_id,omitempty"`
	SubmittedAt        *time.Time             `json:"submitted_at,omitempty"`
	ApprovedAt         *time.Time             `json:"approved_at,omitempty"`
	RejectedAt         *time.Time             `json:"rejected_at,omitempty"`
	RejectionReason    string                 `json:"rejection_reason,omitempty"`
	ApprovalNote       string                 `json:"approval_note,omitempty"`
	CreatedAt          time.Time              `json:"created_at"`
}

type PolicySummary struct {
	ID                uuid.UUID  `json:"id"`
	Code              string     `json:"code"`
	Name              string     `json:"name"`
	Type              string     `json:"type"`
	ActiveVersion     *int       `json:"active_version"`
	ActiveEffectiveAt *time.Time `json:"active_effective_at"`
	PendingCount      int64      `json:"pending_count"`
	UpdatedAt         *time.Time `json:"updated_at"`
}

type PolicyDetail struct {
	ID          uuid.UUID      `json:"id"`
	Code        string         `json:"code"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Active      *VersionView   `json:"active"`
	Draft       *VersionView   `json:"draft"`
	History     []*VersionView `json:"history"`
}

type ApprovalItem struct {
	ID                 uuid.UUID              `json:"id"`
	PolicyID           uuid.UUID              `json:"policy_id"`
	PolicyCode         string                 `json:"policy_code"`
	PolicyName         string                 `json:"policy_name"`
	Version            int                    `json:"version"`
	Status             string                 `json:"status"`
	Scope              string                 `json:"scope"`
	BranchID           *uuid.UUID             `json:"branch_id,omitempty"`
	SubmittedAt        time.Time              `json:"submitted_at"`
	EffectiveAt        time.Time              `json:"effective_at"`
	CreatedByUserID    uuid.UUID              `json:"created_by_user_id"`
	Notes              string                 `json:"notes"`
	Payload            map[string]interface{} `json:"payload"`
	ApplyToAllBranches bool                   `json:"apply_to_all_branches"`
	BranchIDs          []uuid.UUID            `json:"branch_ids"`
}

const (
	OverrideStateNone            = "NONE"
	OverrideStateDraft           = "DRAFT"
	OverrideStatePendingApproval = "PENDING_APPROVAL"
	OverrideStateActive          = "ACTIVE"
)

type BranchPolicySummary struct {
	Code             string     `json:"code"`
	Name             string     `json:"name"`
	Type             string     `json:"type"`
	EffectiveScope   string     `json:"effective_scope"`
	EffectiveVersion *int       `json:"effective_version"`
	EffectiveAt      *time.Time `json:"effective_at"`
	OverrideState    string     `json:"override_state"`
	OverrideVersion  *int       `json:"override_version"`
}

type BranchPolicyDetail struct {
	Code            string         `json:"code"`
	Name            string         `json:"name"`
	Type            string         `json:"type"`
	Description     string         `json:"description"`
	Effective       *VersionView   `json:"effective"`
	GlobalActive    *VersionView   `json:"global_active"`
	OverrideActive  *VersionView   `json:"override_active"`
	OverrideDraft   *VersionView   `json:"override_draft"`
	OverrideHistory []*VersionView `json:"override_history"`
}

type GovernanceSummary struct {
	TotalPolicies    int64 `json:"total_policies"`
	PendingApprovals int64 `json:"pending_approvals"`
	RecentEvents     int64 `json:"recent_events"`
}

func (gs *governanceService) mapVersion(ctx context.Context, v *types.PolicyVersion, now time.Time) (*VersionView, error) {
	var branchIDs []uuid.UUID
	if v.Scope == types.ScopeGlobal && !v.ApplyToAllBranches {
		ids, err := gs.targetingRepo.ListBranchIDs(ctx, nil, v.ID)
		if err != nil {
			return nil, err
		}
		branchIDs = ids
	}
	return &VersionView{
		ID:                 v.ID,
		Version:            v.Version,
		Status:             displayStatus(v.Status, v.EffectiveAt, now),
		Scope:              v.Scope,
		BranchID:           v.BranchID,
		EffectiveAt:        v.EffectiveAt,
		Notes:              v.Notes,
		Payload:            decodePayload(v.Payload),
		ApplyToAllBranches: v.ApplyToAllBranches,
		BranchIDs:          branchIDs,
		CreatedByUserID:    v.CreatedByUserID,
		ApprovedByUserID:   v.ApprovedByUserID,
		SubmittedAt:        v.SubmittedAt,
		ApprovedAt:         v.ApprovedAt,
		RejectedAt:         v.RejectedAt,
		RejectionReason:    v.RejectionReason,
		ApprovalNote:       v.ApprovalNote,
		CreatedAt:          v.CreatedAt,
	}, nil
}

func (gs *governanceService) ListApprovals(ctx context.Context, p *principal.Principal) ([]*ApprovalItem, error) {
	if err := gs.requireGlobalAuthority(p, "listing approvals"); err != nil {
		return nil, err
	}
	rows, err := gs.versionRepo.ListSubmitted(ctx, nil, 100)
	if err != nil {
		return nil, err
	}

	out := make([]*ApprovalItem, 0, len(rows))
	for _, v := range rows {
		def, err := gs.defRepo.GetByID(ctx, nil, v.PolicyID)
		if err != nil {
			return nil, err
		}
		if def == nil {
			continue
		}
		var branchIDs []uuid.UUID
		if v.Scope == types.ScopeGlobal && !v.ApplyToAllBranches {
			branchIDs, err = gs.targetingRepo.ListBranchIDs(ctx, nil, v.ID)
			if err != nil {
				return nil, err
			}
		} else if v.BranchID != nil {
			branchIDs = []uuid.UUID{*v.BranchID}
		}
		submittedAt := v.CreatedAt
		if v.SubmittedAt != nil {
			submittedAt = *v.SubmittedAt
		}
		out = append(out, &ApprovalItem{
			ID:                 v.ID,
			PolicyID:           def.ID,
			PolicyCode:         def.Code,
			PolicyName:         def.Name,
			Version:            v.Version,
			Status:             DisplayPendingApproval,
			Scope:              v.Scope,
			BranchID:           v.BranchID,
			SubmittedAt:        submittedAt,
			EffectiveAt:        v.EffectiveAt,
			CreatedByUserID:    v.CreatedByUserID,
			Notes:              v.Notes,
			Payload:            decodePayload(v.Payload),
			ApplyToAllBranches: v.Scope == types.ScopeGlobal && v.ApplyToAllBranches,
			BranchIDs:          branchIDs,
		})
	}
	return out, nil
}

func (gs *governanceService) ListPolicies(ctx context.Context, p *principal.Principal) ([]*PolicySummary, error) {
	if err := gs.requireGlobalAuthority(p, "listing policies"); err != nil {
		return nil, err
	}
	defs, err := gs.defRepo.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	now := gs.now()

	out := make([]*PolicySummary, 0, len(defs))
	for _, d := range defs {
		active, err := gs.versionRepo.LatestApprovedAsOf(ctx, nil, d.ID, types.ScopeGlobal, nil, now)
		if err != nil {
			return nil, err
		}
		policyID := d.ID
		pending, err := gs.versionRepo.CountSubmitted(ctx, nil, &policyID)
		if err != nil {
			return nil, err
		}
		updatedAt, err := gs.versionRepo.LastUpdatedAt(ctx, nil, d.ID)
		if err != nil {
			return nil, err
		}
		summary := &PolicySummary{
			ID:           d.ID,
			Code:         d.Code,
			Name:         d.Name,
			Type:         d.Type,
			PendingCount: pending,
			UpdatedAt:    updatedAt,
		}
		if active != nil {
			summary.ActiveVersion = &active.Version
			summary.ActiveEffectiveAt = &active.EffectiveAt
		}
		out = append(out, summary)
	}
	return out, nil
}

func (gs *governanceService) GetPolicyDetailGlobal(ctx context.Context, p *principal.Principal, code string) (*PolicyDetail, error) {
	if err := gs.requireGlobalAuthority(p, "global policy details"); err != nil {
		return nil, err
	}
	policy, err := gs.ensurePolicy(ctx, code)
	if err != nil {
		return nil, err
	}
	now := gs.now()

	detail := &PolicyDetail{
		ID:          policy.ID,
		Code:        policy.Code,
		Name:        policy.Name,
		Type:        policy.Type,
		Description: policy.Description,
	}

	active, err := gs.versionRepo.LatestApprovedAsOf(ctx, nil, policy.ID, types.ScopeGlobal, nil, now)
	if err != nil {
		return nil, err
	}
	if active != nil {
		if detail.Active, err = gs.mapVersion(ctx, active, now); err != nil {
			return nil, err
		}
	}

	draft, err := gs.versionRepo.FindByStatus(ctx, nil, policy.ID, types.ScopeGlobal, nil, types.StatusDraft)
	if err != nil {
		return nil, err
	}
	if draft != nil {
		if detail.Draft, err = gs.mapVersion(ctx, draft, now); err != nil {
			return nil, err
		}
	}

	history, err := gs.versionRepo.History(ctx, nil, policy.ID, types.ScopeGlobal, nil, 50)
	if err != nil {
		return nil, err
	}
	detail.History = make([]*VersionView, 0, len(history))
	for _, v := range history {
		view, err := gs.mapVersion(ctx, v, now)
		if err != nil {
			return nil, err
		}
		detail.History = append(detail.History, view)
	}
	return detail, nil
}

func (gs *governanceService) ListBranches(ctx context.Context, p *principal.Principal) ([]*types.Branch, error) {
	if p != nil && p.HasGlobalAuthority() {
		return gs.branchRepo.List(ctx, nil)
	}
	branchID, err := requireBranchID(p)
	if err != nil {
		return nil, err
	}
	return gs.branchRepo.GetByIDs(ctx, nil, []uuid.UUID{branchID})
}

func (gs *governanceService) ListBranchPolicies(ctx context.Context, p *principal.Principal) ([]*BranchPolicySummary, error) {
	branchID, err := requireBranchID(p)
	if err != nil {
		return nil, err
	}
	defs, err := gs.defRepo.List(ctx, nil)
	if err != nil {
		return nil, err
	}
	now := gs.now()

	out := make([]*BranchPolicySummary, 0, len(defs))
	for _, d := range defs {
		globalActive, err := gs.versionRepo.LatestApprovedGlobalFor(ctx, nil, d.ID, &branchID, now)
		if err != nil {
			return nil, err
		}
		overrideActive, err := gs.versionRepo.LatestApprovedOverride(ctx, nil, d.ID, branchID, now)
		if err != nil {
			return nil, err
		}
		overrideDraft, err := gs.versionRepo.FindByStatus(ctx, nil, d.ID, types.ScopeBranchOverride, &branchID, types.StatusDraft)
		if err != nil {
			return nil, err
		}
		overridePending, err := gs.versionRepo.FindByStatus(ctx, nil, d.ID, types.ScopeBranchOverride, &branchID, types.StatusSubmitted)
		if err != nil {
			return nil, err
		}

		summary := &BranchPolicySummary{
			Code:           d.Code,
			Name:           d.Name,
			Type:           d.Type,
			EffectiveScope: types.ScopeGlobal,
			OverrideState:  OverrideStateNone,
		}
		switch {
		case overrideActive != nil:
			summary.OverrideState = OverrideStateActive
			summary.OverrideVersion = &overrideActive.Version
		case overridePending != nil:
			summary.OverrideState = OverrideStatePendingApproval
			summary.OverrideVersion = &overridePending.Version
		case overrideDraft != nil:
			summary.OverrideState = OverrideStateDraft
			summary.OverrideVersion = &overrideDraft.Version
		}
		if overrideActive != nil {
			summary.EffectiveScope = types.ScopeBranchOverride
			summary.EffectiveVersion = &overrideActive.Version
			summary.EffectiveAt = &overrideActive.EffectiveAt
		} else if globalActive != nil {
			summary.EffectiveVersion = &globalActive.Version
			summary.EffectiveAt = &globalActive.EffectiveAt
		}
		out = append(out, summary)
	}
	return out, nil
}

func (gs *governanceService) GetBranchPolicyDetail(ctx context.Context, p *principal.Principal, code string) (*BranchPolicyDetail, error) {
	branchID, err := requireBranchID(p)
	if err != nil {
		return nil, err
	}
	policy, err := gs.ensurePolicy(ctx, code)
	if err != nil {
		return nil, err
	}
	now := gs.now()

	detail := &BranchPolicyDetail{
		Code:        policy.Code,
		Name:        policy.Name,
		Type:        policy.Type,
		Description: policy.Description,
	}

	globalActive, err := gs.versionRepo.LatestApprovedGlobalFor(ctx, nil, policy.ID, &branchID, now)
	if err != nil {
		return nil, err
	}
	overrideActive, err := gs.versionRepo.LatestApprovedOverride(ctx, nil, policy.ID, branchID, now)
	if err != nil {
		return nil, err
	}
	overrideDraft, err := gs.versionRepo.FindByStatus(ctx, nil, policy.ID, types.ScopeBranchOverride, &branchID, types.StatusDraft)
	if err != nil {
		return nil, err
	}

	if globalActive != nil {
		if detail.GlobalActive, err = gs.mapVersion(ctx, globalActive, now); err != nil {
			return nil, err
		}
	}
	if overrideActive != nil {
		if detail.OverrideActive, err = gs.mapVersion(ctx, overrideActive, now); err != nil {
			return nil, err
		}
	}
	if overrideDraft != nil {
		if detail.OverrideDraft, err = gs.mapVersion(ctx, overrideDraft, now); err != nil {
			return nil, err
		}
	}
	if detail.OverrideActive != nil {
		detail.Effective = detail.OverrideActive
	} else {
		detail.Effective = detail.GlobalActive
	}

	history, err := gs.versionRepo.History(ctx, nil, policy.ID, types.ScopeBranchOverride, &branchID, 50)
	if err != nil {
		return nil, err
	}
	detail.OverrideHistory = make([]*VersionView, 0, len(history))
	for _, v := range history {
		view, err := gs.mapVersion(ctx, v, now)
		if err != nil {
			return nil, err
		}
		detail.OverrideHistory = append(detail.OverrideHistory, view)
	}
	return detail, nil
}

func (gs *governanceService) ListPolicyAudit(ctx context.Context, p *principal.Principal) ([]*types.AuditEvent, error) {
	if err := gs.requireGlobalAuthority(p, "listing policy audit"); err != nil {
		return nil, err
	}
	return gs.auditRepo.ListByEntity(ctx, nil, types.AuditEntityPolicyVersion, 200)
}

func (gs *governanceService) Summary(ctx context.Context, p *principal.Principal) (*GovernanceSummary, error) {
	if err := gs.requireGlobalAuthority(p, "governance summary"); err != nil {
		return nil, err
	}
	total, err := gs.defRepo.Count(ctx, nil)
	if err != nil {
		return nil, err
	}
	pending, err := gs.versionRepo.CountSubmitted(ctx, nil, nil)
	if err != nil {
		return nil, err
	}
	since := gs.now().Add(-7 * 24 * time.Hour)
	recent, err := gs.auditRepo.CountByEntitySince(ctx, nil, types.AuditEntityPolicyVersion, since)
	if err != nil {
		return nil, err
	}
	return &GovernanceSummary{
		TotalPolicies:    total,
		PendingApprovals: pending,
		RecentEvents:     recent,
	}, nil
}
