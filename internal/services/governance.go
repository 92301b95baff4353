package services

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/zypocare/core-backend/internal/apierr"
	"github.com/zypocare/core-backend/internal/logger"
	"github.com/zypocare/core-backend/internal/principal"
	"github.com/zypocare/core-backend/internal/repos"
	"github.com/zypocare/core-backend/internal/types"
)

// Display statuses shown to operators. PENDING_APPROVAL and ACTIVE are
// derived, never persisted: an APPROVED version is ACTIVE only once its
// effective_at has passed.
const (
	DisplayDraft           = "DRAFT"
	DisplayPendingApproval = "PENDING_APPROVAL"
	DisplayApproved        = "APPROVED"
	DisplayActive          = "ACTIVE"
	DisplayRejected        = "REJECTED"
	DisplayRetired         = "RETIRED"
)

func displayStatus(status string, effectiveAt, now time.Time) string {
	switch status {
	case types.StatusDraft:
		return DisplayDraft
	case types.StatusSubmitted:
		return DisplayPendingApproval
	case types.StatusRejected:
		return DisplayRejected
	case types.StatusRetired:
		return DisplayRetired
	case types.StatusApproved:
		if !effectiveAt.After(now) {
			return DisplayActive
		}
		return DisplayApproved
	default:
		return DisplayRetired
	}
}

type DraftRef struct {
	ID uuid.UUID `json:"id"`
}

// UpdateDraftInput patches a DRAFT in place. Payload replaces the stored
// document wholesale (no merging); a non-nil BranchIDs replaces the full
// targeting set.
type UpdateDraftInput struct {
	Payload            map[string]interface{} `json:"payload"`
	Notes              *string                `json:"notes"`
	EffectiveAt        *time.Time             `json:"effective_at"`
	ApplyToAllBranches *bool                  `json:"apply_to_all_branches"`
	BranchIDs          *[]uuid.UUID           `json:"branch_ids"`
}

// GovernanceService is the maker-checker state machine over policy versions:
// DRAFT -> SUBMITTED -> {APPROVED, REJECTED}. Versions are append-only and
// version numbers are monotonic per (policy, scope, branch) lane.
type GovernanceService interface {
	CreateGlobalDraft(ctx context.Context, p *principal.Principal, code string) (*DraftRef, error)
	CreateBranchOverrideDraft(ctx context.Context, p *principal.Principal, code string) (*DraftRef, error)
	UpdateDraft(ctx context.Context, p *principal.Principal, versionID uuid.UUID, in UpdateDraftInput) error
	SubmitDraft(ctx context.Context, p *principal.Principal, versionID uuid.UUID) error
	Approve(ctx context.Context, p *principal.Principal, versionID uuid.UUID, note string) error
	Reject(ctx context.Context, p *principal.Principal, versionID uuid.UUID, reason string) error

	ListApprovals(ctx context.Context, p *principal.Principal) ([]*ApprovalItem, error)
	ListPolicies(ctx context.Context, p *principal.Principal) ([]*PolicySummary, error)
	GetPolicyDetailGlobal(ctx context.Context, p *principal.Principal, code string) (*PolicyDetail, error)
	ListBranches(ctx context.Context, p *principal.Principal) ([]*types.Branch, error)
	ListBranchPolicies(ctx context.Context, p *principal.Principal) ([]*BranchPolicySummary, error)
	GetBranchPolicyDetail(ctx context.Context, p *principal.Principal, code string) (*BranchPolicyDetail, error)
	ListPolicyAudit(ctx context.Context, p *principal.Principal) ([]*types.AuditEvent, error)
	Summary(ctx context.Context, p *principal.Principal) (*GovernanceSummary, error)
}

type governanceService struct {
	db            *gorm.DB
	log           *logger.Logger
	defRepo       repos.PolicyDefinitionRepo
	versionRepo   repos.PolicyVersionRepo
	targetingRepo repos.PolicyVersionBranchRepo
	branchRepo    repos.BranchRepo
	auditRepo     repos.AuditEventRepo
	audit         AuditSink
	policies      PolicyEngineService
	now           func() time.Time
}

func NewGovernanceService(
	db *gorm.DB,
	baseLog *logger.Logger,
	defRepo repos.PolicyDefinitionRepo,
	versionRepo repos.PolicyVersionRepo,
	targetingRepo repos.PolicyVersionBranchRepo,
	branchRepo repos.BranchRepo,
	auditRepo repos.AuditEventRepo,
	audit AuditSink,
	policies PolicyEngineService,
) GovernanceService {
	return &governanceService{
		db:            db,
		log:           baseLog.With("service", "GovernanceService"),
		defRepo:       defRepo,
		versionRepo:   versionRepo,
		targetingRepo: targetingRepo,
		branchRepo:    branchRepo,
		auditRepo:     auditRepo,
		audit:         audit,
		policies:      policies,
		now:           time.Now,
	}
}

func requireBranchID(p *principal.Principal) (uuid.UUID, error) {
	if p == nil || p.BranchID == nil || *p.BranchID == uuid.Nil {
		return uuid.Nil, apierr.InvalidArgument("missing branch context")
	}
	return *p.BranchID, nil
}

func (gs *governanceService) requireGlobalAuthority(p *principal.Principal, what string) error {
	if p == nil || !p.HasGlobalAuthority() {
		return apierr.Forbidden("%s requires global policy authority", what)
	}
	return nil
}

func (gs *governanceService) ensurePolicy(ctx context.Context, code string) (*types.PolicyDefinition, error) {
	normalized := NormalizePolicyCode(code)
	if normalized == "" {
		return nil, apierr.InvalidArgument("policy code is required")
	}
	def, err := gs.defRepo.GetByCode(ctx, nil, normalized)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, apierr.NotFound("unknown policy code %s", normalized)
	}
	return def, nil
}

func encodePayload(payload map[string]interface{}) (datatypes.JSON, error) {
	if payload == nil {
		return datatypes.JSON([]byte("{}")), nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, apierr.InvalidArgument("payload is not JSON-encodable: %v", err)
	}
	return datatypes.JSON(raw), nil
}

func (gs *governanceService) CreateGlobalDraft(ctx context.Context, p *principal.Principal, code string) (*DraftRef, error) {
	if err := gs.requireGlobalAuthority(p, "creating global policy drafts"); err != nil {
		return nil, err
	}
	policy, err := gs.ensurePolicy(ctx, code)
	if err != nil {
		return nil, err
	}

	existing, err := gs.versionRepo.FindByStatus(ctx, nil, policy.ID, types.ScopeGlobal, nil, types.StatusDraft)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &DraftRef{ID: existing.ID}, nil
	}

	max, err := gs.versionRepo.MaxVersion(ctx, nil, policy.ID, types.ScopeGlobal, nil)
	if err != nil {
		return nil, err
	}
	nextVersion := max + 1

	// Seed from the latest approved global payload so editors start from the
	// current baseline, not an empty document.
	seed := datatypes.JSON([]byte("{}"))
	baseActive, err := gs.versionRepo.LatestApproved(ctx, nil, policy.ID, types.ScopeGlobal, nil)
	if err != nil {
		return nil, err
	}
	if baseActive != nil && len(baseActive.Payload) > 0 {
		seed = baseActive.Payload
	}

	created := &types.PolicyVersion{
		ID:                 uuid.New(),
		PolicyID:           policy.ID,
		Scope:              types.ScopeGlobal,
		Version:            nextVersion,
		Status:             types.StatusDraft,
		Payload:            seed,
		EffectiveAt:        gs.now(),
		ApplyToAllBranches: true,
		CreatedByUserID:    p.UserID,
	}
	if err := gs.versionRepo.Create(ctx, nil, created); err != nil {
		// Unique partial index on the DRAFT lane: a concurrent caller won the
		// race, so return their draft (create-or-get is idempotent).
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			winner, ferr := gs.versionRepo.FindByStatus(ctx, nil, policy.ID, types.ScopeGlobal, nil, types.StatusDraft)
			if ferr == nil && winner != nil {
				return &DraftRef{ID: winner.ID}, nil
			}
		}
		return nil, err
	}

	gs.audit.Log(ctx, AuditEntry{
		ActorUserID: p.UserID,
		Action:      AuditActionPolicyDraftCreated,
		Entity:      types.AuditEntityPolicyVersion,
		EntityID:    created.ID.String(),
		Meta:        map[string]interface{}{"policyCode": policy.Code, "scope": types.ScopeGlobal, "version": nextVersion},
	})

	return &DraftRef{ID: created.ID}, nil
}

func (gs *governanceService) CreateBranchOverrideDraft(ctx context.Context, p *principal.Principal, code string) (*DraftRef, error) {
	branchID, err := requireBranchID(p)
	if err != nil {
		return nil, err
	}
	policy, err := gs.ensurePolicy(ctx, code)
	if err != nil {
		return nil, err
	}

	existing, err := gs.versionRepo.FindByStatus(ctx, nil, policy.ID, types.ScopeBranchOverride, &branchID, types.StatusDraft)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return &DraftRef{ID: existing.ID}, nil
	}

	max, err := gs.versionRepo.MaxVersion(ctx, nil, policy.ID, types.ScopeBranchOverride, &branchID)
	if err != nil {
		return nil, err
	}
	nextVersion := max + 1

	// Seed from what the branch actually lives under right now: its own
	// approved override when one exists, else the global baseline that
	// targets it. An override edits from lived reality.
	now := gs.now()
	seed := datatypes.JSON([]byte("{}"))
	base, err := gs.versionRepo.LatestApprovedOverride(ctx, nil, policy.ID, branchID, now)
	if err != nil {
		return nil, err
	}
	if base == nil {
		base, err = gs.versionRepo.LatestApprovedGlobalFor(ctx, nil, policy.ID, &branchID, now)
		if err != nil {
			return nil, err
		}
	}
	if base != nil && len(base.Payload) > 0 {
		seed = base.Payload
	}

	created := &types.PolicyVersion{
		ID:                 uuid.New(),
		PolicyID:           policy.ID,
		Scope:              types.ScopeBranchOverride,
		BranchID:           &branchID,
		Version:            nextVersion,
		Status:             types.StatusDraft,
		Payload:            seed,
		EffectiveAt:        now,
		ApplyToAllBranches: false,
		CreatedByUserID:    p.UserID,
	}
	if err := gs.versionRepo.Create(ctx, nil, created); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			winner, ferr := gs.versionRepo.FindByStatus(ctx, nil, policy.ID, types.ScopeBranchOverride, &branchID, types.StatusDraft)
			if ferr == nil && winner != nil {
				return &DraftRef{ID: winner.ID}, nil
			}
		}
		return nil, err
	}

	gs.audit.Log(ctx, AuditEntry{
		BranchID:    &branchID,
		ActorUserID: p.UserID,
		Action:      AuditActionPolicyOverrideDraftCreated,
		Entity:      types.AuditEntityPolicyVersion,
		EntityID:    created.ID.String(),
		Meta:        map[string]interface{}{"policyCode": policy.Code, "scope": types.ScopeBranchOverride, "version": nextVersion},
	})

	return &DraftRef{ID: created.ID}, nil
}

func (gs *governanceService) loadVersion(ctx context.Context, versionID uuid.UUID) (*types.PolicyVersion, *types.PolicyDefinition, error) {
	v, err := gs.versionRepo.GetByID(ctx, nil, versionID)
	if err != nil {
		return nil, nil, err
	}
	if v == nil {
		return nil, nil, apierr.NotFound("policy version not found")
	}
	def, err := gs.defRepo.GetByID(ctx, nil, v.PolicyID)
	if err != nil {
		return nil, nil, err
	}
	if def == nil {
		return nil, nil, apierr.NotFound("policy definition not found for version")
	}
	return v, def, nil
}

func (gs *governanceService) UpdateDraft(ctx context.Context, p *principal.Principal, versionID uuid.UUID, in UpdateDraftInput) error {
	v, def, err := gs.loadVersion(ctx, versionID)
	if err != nil {
		return err
	}
	if v.Status != types.StatusDraft {
		return apierr.NotDraft("only DRAFT versions are editable; this version is %s", v.Status)
	}

	if v.Scope == types.ScopeGlobal {
		if err := gs.requireGlobalAuthority(p, "editing global policy drafts"); err != nil {
			return err
		}
	} else {
		branchID, err := requireBranchID(p)
		if err != nil {
			return err
		}
		if v.BranchID == nil || *v.BranchID != branchID {
			return apierr.Forbidden("cannot edit another branch's override")
		}
		if v.CreatedByUserID != p.UserID {
			return apierr.Forbidden("only the creator can edit this draft")
		}
	}

	fields := map[string]interface{}{}
	if in.Payload != nil {
		encoded, err := encodePayload(in.Payload)
		if err != nil {
			return err
		}
		fields["payload"] = encoded
	}
	if in.Notes != nil {
		fields["notes"] = *in.Notes
	}
	if in.EffectiveAt != nil {
		if in.EffectiveAt.IsZero() {
			return apierr.InvalidArgument("invalid effective_at")
		}
		fields["effective_at"] = *in.EffectiveAt
	}
	applyToAll := v.ApplyToAllBranches
	if v.Scope == types.ScopeGlobal && in.ApplyToAllBranches != nil {
		applyToAll = *in.ApplyToAllBranches
		fields["apply_to_all_branches"] = applyToAll
	}

	// Version fields and targeting rows move together or not at all; a flipped
	// flag with stale target rows would leave the version half-updated.
	if err := gs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := gs.versionRepo.UpdateFields(ctx, tx, v.ID, fields); err != nil {
			return err
		}
		if v.Scope != types.ScopeGlobal {
			return nil
		}
		if applyToAll {
			return gs.targetingRepo.DeleteForVersion(ctx, tx, v.ID)
		}
		if in.BranchIDs != nil {
			return gs.targetingRepo.ReplaceForVersion(ctx, tx, v.ID, *in.BranchIDs)
		}
		return nil
	}); err != nil {
		return err
	}

	gs.audit.Log(ctx, AuditEntry{
		BranchID:    v.BranchID,
		ActorUserID: p.UserID,
		Action:      AuditActionPolicyDraftUpdated,
		Entity:      types.AuditEntityPolicyVersion,
		EntityID:    v.ID.String(),
		Meta:        map[string]interface{}{"policyCode": def.Code, "scope": v.Scope, "version": v.Version},
	})

	return nil
}

func (gs *governanceService) SubmitDraft(ctx context.Context, p *principal.Principal, versionID uuid.UUID) error {
	v, def, err := gs.loadVersion(ctx, versionID)
	if err != nil {
		return err
	}
	if v.Status != types.StatusDraft {
		return apierr.NotDraft("only DRAFT versions can be submitted; this version is %s", v.Status)
	}
	if p == nil || v.CreatedByUserID != p.UserID {
		return apierr.Forbidden("only the draft creator can submit")
	}
	if v.Scope == types.ScopeBranchOverride {
		branchID, err := requireBranchID(p)
		if err != nil {
			return err
		}
		if v.BranchID == nil || *v.BranchID != branchID {
			return apierr.Forbidden("cannot submit another branch's override")
		}
	} else if err := gs.requireGlobalAuthority(p, "submitting global policy changes"); err != nil {
		return err
	}

	// Guard on the persisted status: the precondition check above ran outside
	// any transaction, so a concurrent transition may have won since.
	ok, err := gs.versionRepo.TransitionStatus(ctx, nil, v.ID, types.StatusDraft, map[string]interface{}{
		"status":               types.StatusSubmitted,
		"submitted_at":         gs.now(),
		"submitted_by_user_id": p.UserID,
	})
	if err != nil {
		return err
	}
	if !ok {
		return apierr.Conflict("version is no longer a draft")
	}

	gs.audit.Log(ctx, AuditEntry{
		BranchID:    v.BranchID,
		ActorUserID: p.UserID,
		Action:      AuditActionPolicySubmitted,
		Entity:      types.AuditEntityPolicyVersion,
		EntityID:    v.ID.String(),
		Meta:        map[string]interface{}{"policyCode": def.Code, "scope": v.Scope, "version": v.Version},
	})
	// A submission cannot change the effective payload, but invalidating here
	// is cheap and removes any chance of resolver state drift.
	gs.policies.Invalidate(ctx, def.Code, nil)

	return nil
}

func (gs *governanceService) Approve(ctx context.Context, p *principal.Principal, versionID uuid.UUID, note string) error {
	if err := gs.requireGlobalAuthority(p, "approving policy versions"); err != nil {
		return err
	}
	v, def, err := gs.loadVersion(ctx, versionID)
	if err != nil {
		return err
	}
	if v.Status != types.StatusSubmitted {
		return apierr.NotSubmitted("only SUBMITTED versions can be approved; this version is %s", v.Status)
	}
	if v.CreatedByUserID == p.UserID {
		return apierr.SelfApproval("maker-checker separation: approver must differ from creator")
	}

	if err := gs.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if v.Scope == types.ScopeGlobal {
			if !v.ApplyToAllBranches {
				n, err := gs.targetingRepo.CountForVersion(ctx, tx, v.ID)
				if err != nil {
					return err
				}
				if n == 0 {
					return apierr.IncompleteTargeting("select at least one branch or enable apply_to_all_branches")
				}
			}
		} else if v.BranchID == nil {
			return apierr.InvalidArgument("branch override missing branch_id")
		}
		// Status may have moved since the precondition read; only a row still
		// SUBMITTED may flip to APPROVED.
		ok, err := gs.versionRepo.TransitionStatus(ctx, tx, v.ID, types.StatusSubmitted, map[string]interface{}{
			"status":              types.StatusApproved,
			"approved_at":         gs.now(),
			"approved_by_user_id": p.UserID,
			"approval_note":       strings.TrimSpace(note),
		})
		if err != nil {
			return err
		}
		if !ok {
			return apierr.Conflict("version was decided concurrently")
		}
		return nil
	}); err != nil {
		return err
	}

	gs.audit.Log(ctx, AuditEntry{
		BranchID:    v.BranchID,
		ActorUserID: p.UserID,
		Action:      AuditActionPolicyApproved,
		Entity:      types.AuditEntityPolicyVersion,
		EntityID:    v.ID.String(),
		Meta:        map[string]interface{}{"policyCode": def.Code, "scope": v.Scope, "version": v.Version},
	})
	// Invalidation strictly after commit: a global approval can change every
	// branch's view, so the whole code prefix goes.
	gs.policies.Invalidate(ctx, def.Code, nil)

	return nil
}

func (gs *governanceService) Reject(ctx context.Context, p *principal.Principal, versionID uuid.UUID, reason string) error {
	if err := gs.requireGlobalAuthority(p, "rejecting policy versions"); err != nil {
		return err
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return apierr.InvalidArgument("rejection reason is required")
	}
	v, def, err := gs.loadVersion(ctx, versionID)
	if err != nil {
		return err
	}
	if v.Status != types.StatusSubmitted {
		return apierr.NotSubmitted("only SUBMITTED versions can be rejected; this version is %s", v.Status)
	}
	if v.CreatedByUserID == p.UserID {
		return apierr.SelfApproval("maker-checker separation: checker must differ from creator")
	}

	ok, err := gs.versionRepo.TransitionStatus(ctx, nil, v.ID, types.StatusSubmitted, map[string]interface{}{
		"status":              types.StatusRejected,
		"rejected_at":         gs.now(),
		"rejected_by_user_id": p.UserID,
		"rejection_reason":    reason,
	})
	if err != nil {
		return err
	}
	if !ok {
		return apierr.Conflict("version was decided concurrently")
	}

	gs.audit.Log(ctx, AuditEntry{
		BranchID:    v.BranchID,
		ActorUserID: p.UserID,
		Action:      AuditActionPolicyRejected,
		Entity:      types.AuditEntityPolicyVersion,
		EntityID:    v.ID.String(),
		Meta:        map[string]interface{}{"policyCode": def.Code, "scope": v.Scope, "version": v.Version, "reason": reason},
	})
	gs.policies.Invalidate(ctx, def.Code, nil)

	return nil
}
