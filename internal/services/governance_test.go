package services

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/zypocare/core-backend/internal/apierr"
	"github.com/zypocare/core-backend/internal/types"
)

func TestCreateGlobalDraftIsIdempotent(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := globalAdmin()
	env.mustDefine(t, admin, "EXPORT_GUARDRAILS")

	first, err := env.gov.CreateGlobalDraft(ctx, admin, "EXPORT_GUARDRAILS")
	if err != nil {
		t.Fatalf("CreateGlobalDraft: %v", err)
	}
	second, err := env.gov.CreateGlobalDraft(ctx, admin, "export_guardrails")
	if err != nil {
		t.Fatalf("CreateGlobalDraft (repeat): %v", err)
	}
	if first.ID != second.ID {
		t.Fatalf("repeat call must return the existing draft: %s vs %s", first.ID, second.ID)
	}

	v, err := env.versions.GetByID(ctx, nil, first.ID)
	if err != nil || v == nil {
		t.Fatalf("load draft: %v", err)
	}
	if v.Version != 1 || v.Status != types.StatusDraft || v.Scope != types.ScopeGlobal {
		t.Fatalf("unexpected draft: version=%d status=%s scope=%s", v.Version, v.Status, v.Scope)
	}
	if !v.ApplyToAllBranches {
		t.Fatal("new global drafts default to apply_to_all_branches")
	}
}

func TestCreateGlobalDraftRequiresKnownCode(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.gov.CreateGlobalDraft(context.Background(), globalAdmin(), "NO_SUCH_POLICY")
	if !apierr.HasCode(err, apierr.CodeNotFound) {
		t.Fatalf("want NOT_FOUND, got %v", err)
	}
}

func TestGlobalDraftSeededFromActiveBaseline(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	maker := globalAdmin()
	checker := globalAdmin()
	env.mustDefine(t, maker, "DATA_RETENTION")

	env.mustApproveGlobal(t, maker, checker, "DATA_RETENTION", map[string]interface{}{
		"retainDays": float64(365),
	})

	draft, err := env.gov.CreateGlobalDraft(ctx, maker, "DATA_RETENTION")
	if err != nil {
		t.Fatalf("CreateGlobalDraft: %v", err)
	}
	v, err := env.versions.GetByID(ctx, nil, draft.ID)
	if err != nil || v == nil {
		t.Fatalf("load draft: %v", err)
	}
	if v.Version != 2 {
		t.Fatalf("want version 2, got %d", v.Version)
	}
	payload := decodePayload(v.Payload)
	if payload["retainDays"] != float64(365) {
		t.Fatalf("draft must start from the approved baseline, got %#v", payload)
	}
}

func TestVersionNumbersStayMonotonicAfterRejection(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	maker := globalAdmin()
	checker := globalAdmin()
	env.mustDefine(t, maker, "APPROVAL_LIMITS")

	env.mustApproveGlobal(t, maker, checker, "APPROVAL_LIMITS", map[string]interface{}{"limit": float64(100)})

	// v2 gets rejected.
	draft, err := env.gov.CreateGlobalDraft(ctx, maker, "APPROVAL_LIMITS")
	if err != nil {
		t.Fatalf("CreateGlobalDraft: %v", err)
	}
	if err := env.gov.SubmitDraft(ctx, maker, draft.ID); err != nil {
		t.Fatalf("SubmitDraft: %v", err)
	}
	if err := env.gov.Reject(ctx, checker, draft.ID, "limit unchanged"); err != nil {
		t.Fatalf("Reject: %v", err)
	}

	// The next draft is v3; rejected version numbers are never reused.
	next, err := env.gov.CreateGlobalDraft(ctx, maker, "APPROVAL_LIMITS")
	if err != nil {
		t.Fatalf("CreateGlobalDraft: %v", err)
	}
	v, err := env.versions.GetByID(ctx, nil, next.ID)
	if err != nil || v == nil {
		t.Fatalf("load draft: %v", err)
	}
	if v.Version != 3 {
		t.Fatalf("want version 3 after rejection, got %d", v.Version)
	}

	rejected, err := env.versions.GetByID(ctx, nil, draft.ID)
	if err != nil || rejected == nil {
		t.Fatalf("load rejected: %v", err)
	}
	if rejected.Status != types.StatusRejected || rejected.RejectionReason != "limit unchanged" {
		t.Fatalf("unexpected rejected version: status=%s reason=%q", rejected.Status, rejected.RejectionReason)
	}
}

func TestSubmitRequiresCreator(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	maker := globalAdmin()
	other := globalAdmin()
	env.mustDefine(t, maker, "EXPORT_GUARDRAILS")

	draft, err := env.gov.CreateGlobalDraft(ctx, maker, "EXPORT_GUARDRAILS")
	if err != nil {
		t.Fatalf("CreateGlobalDraft: %v", err)
	}
	if err := env.gov.SubmitDraft(ctx, other, draft.ID); !apierr.HasCode(err, apierr.CodeForbidden) {
		t.Fatalf("want FORBIDDEN for non-creator submit, got %v", err)
	}
	if err := env.gov.SubmitDraft(ctx, maker, draft.ID); err != nil {
		t.Fatalf("creator submit: %v", err)
	}
}

func TestMakerCheckerSeparation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	maker := globalAdmin()
	env.mustDefine(t, maker, "EXPORT_GUARDRAILS")

	draft, err := env.gov.CreateGlobalDraft(ctx, maker, "EXPORT_GUARDRAILS")
	if err != nil {
		t.Fatalf("CreateGlobalDraft: %v", err)
	}
	if err := env.gov.SubmitDraft(ctx, maker, draft.ID); err != nil {
		t.Fatalf("SubmitDraft: %v", err)
	}

	if err := env.gov.Approve(ctx, maker, draft.ID, ""); !apierr.HasCode(err, apierr.CodeSelfApproval) {
		t.Fatalf("want SELF_APPROVAL on approve, got %v", err)
	}
	if err := env.gov.Reject(ctx, maker, draft.ID, "no"); !apierr.HasCode(err, apierr.CodeSelfApproval) {
		t.Fatalf("want SELF_APPROVAL on reject, got %v", err)
	}

	// A different checker can still decide.
	if err := env.gov.Approve(ctx, globalAdmin(), draft.ID, "looks right"); err != nil {
		t.Fatalf("Approve by checker: %v", err)
	}
	v, err := env.versions.GetByID(ctx, nil, draft.ID)
	if err != nil || v == nil {
		t.Fatalf("load version: %v", err)
	}
	if v.Status != types.StatusApproved || v.ApprovedByUserID == nil || v.ApprovalNote != "looks right" {
		t.Fatalf("approval stamps missing: %+v", v)
	}
}

func TestStateMachineRejectsWrongStates(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	maker := globalAdmin()
	checker := globalAdmin()
	env.mustDefine(t, maker, "EXPORT_GUARDRAILS")

	draft, err := env.gov.CreateGlobalDraft(ctx, maker, "EXPORT_GUARDRAILS")
	if err != nil {
		t.Fatalf("CreateGlobalDraft: %v", err)
	}

	// DRAFT cannot be approved or rejected.
	if err := env.gov.Approve(ctx, checker, draft.ID, ""); !apierr.HasCode(err, apierr.CodeNotSubmitted) {
		t.Fatalf("want NOT_SUBMITTED approving a draft, got %v", err)
	}
	if err := env.gov.Reject(ctx, checker, draft.ID, "nope"); !apierr.HasCode(err, apierr.CodeNotSubmitted) {
		t.Fatalf("want NOT_SUBMITTED rejecting a draft, got %v", err)
	}

	if err := env.gov.SubmitDraft(ctx, maker, draft.ID); err != nil {
		t.Fatalf("SubmitDraft: %v", err)
	}

	// SUBMITTED is frozen: no edits, no second submit.
	if err := env.gov.UpdateDraft(ctx, maker, draft.ID, UpdateDraftInput{
		Payload: map[string]interface{}{"x": float64(1)},
	}); !apierr.HasCode(err, apierr.CodeNotDraft) {
		t.Fatalf("want NOT_DRAFT editing a submitted version, got %v", err)
	}
	if err := env.gov.SubmitDraft(ctx, maker, draft.ID); !apierr.HasCode(err, apierr.CodeNotDraft) {
		t.Fatalf("want NOT_DRAFT re-submitting, got %v", err)
	}

	if err := env.gov.Approve(ctx, checker, draft.ID, ""); err != nil {
		t.Fatalf("Approve: %v", err)
	}
	// APPROVED is terminal for the checker too.
	if err := env.gov.Approve(ctx, checker, draft.ID, "again"); !apierr.HasCode(err, apierr.CodeNotSubmitted) {
		t.Fatalf("want NOT_SUBMITTED approving twice, got %v", err)
	}
}

func TestRejectRequiresReason(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	maker := globalAdmin()
	env.mustDefine(t, maker, "EXPORT_GUARDRAILS")

	draft, err := env.gov.CreateGlobalDraft(ctx, maker, "EXPORT_GUARDRAILS")
	if err != nil {
		t.Fatalf("CreateGlobalDraft: %v", err)
	}
	if err := env.gov.SubmitDraft(ctx, maker, draft.ID); err != nil {
		t.Fatalf("SubmitDraft: %v", err)
	}
	if err := env.gov.Reject(ctx, globalAdmin(), draft.ID, "   "); !apierr.HasCode(err, apierr.CodeInvalidArgument) {
		t.Fatalf("want INVALID_ARGUMENT for blank reason, got %v", err)
	}
}

func TestApproveRequiresCompleteTargeting(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	maker := globalAdmin()
	checker := globalAdmin()
	env.mustDefine(t, maker, "EXPORT_GUARDRAILS")
	branchID := env.mustCreateBranch(t, "North")

	draft, err := env.gov.CreateGlobalDraft(ctx, maker, "EXPORT_GUARDRAILS")
	if err != nil {
		t.Fatalf("CreateGlobalDraft: %v", err)
	}
	off := false
	if err := env.gov.UpdateDraft(ctx, maker, draft.ID, UpdateDraftInput{
		ApplyToAllBranches: &off,
	}); err != nil {
		t.Fatalf("UpdateDraft: %v", err)
	}
	if err := env.gov.SubmitDraft(ctx, maker, draft.ID); err != nil {
		t.Fatalf("SubmitDraft: %v", err)
	}
	if err := env.gov.Approve(ctx, checker, draft.ID, ""); !apierr.HasCode(err, apierr.CodeIncompleteTargeting) {
		t.Fatalf("want INCOMPLETE_TARGETING, got %v", err)
	}

	// The version stays SUBMITTED: the failed approval must not half-apply.
	v, err := env.versions.GetByID(ctx, nil, draft.ID)
	if err != nil || v == nil {
		t.Fatalf("load version: %v", err)
	}
	if v.Status != types.StatusSubmitted {
		t.Fatalf("want SUBMITTED after failed approval, got %s", v.Status)
	}

	// With a concrete target the same flow approves.
	draft2, err := env.gov.CreateGlobalDraft(ctx, maker, "EXPORT_GUARDRAILS")
	if err != nil {
		t.Fatalf("CreateGlobalDraft: %v", err)
	}
	if err := env.gov.UpdateDraft(ctx, maker, draft2.ID, UpdateDraftInput{
		ApplyToAllBranches: &off,
		BranchIDs:          &[]uuid.UUID{branchID},
	}); err != nil {
		t.Fatalf("UpdateDraft: %v", err)
	}
	if err := env.gov.SubmitDraft(ctx, maker, draft2.ID); err != nil {
		t.Fatalf("SubmitDraft: %v", err)
	}
	if err := env.gov.Approve(ctx, checker, draft2.ID, ""); err != nil {
		t.Fatalf("Approve with targeting: %v", err)
	}

	ids, err := env.targeting.ListBranchIDs(ctx, nil, draft2.ID)
	if err != nil {
		t.Fatalf("ListBranchIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != branchID {
		t.Fatalf("unexpected targeting rows: %v", ids)
	}
}

func TestUpdateDraftReplacesTargetingSet(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	maker := globalAdmin()
	env.mustDefine(t, maker, "EXPORT_GUARDRAILS")
	b1 := env.mustCreateBranch(t, "North")
	b2 := env.mustCreateBranch(t, "South")

	draft, err := env.gov.CreateGlobalDraft(ctx, maker, "EXPORT_GUARDRAILS")
	if err != nil {
		t.Fatalf("CreateGlobalDraft: %v", err)
	}
	off := false
	if err := env.gov.UpdateDraft(ctx, maker, draft.ID, UpdateDraftInput{
		ApplyToAllBranches: &off,
		BranchIDs:          &[]uuid.UUID{b1, b2, b2},
	}); err != nil {
		t.Fatalf("UpdateDraft: %v", err)
	}
	ids, err := env.targeting.ListBranchIDs(ctx, nil, draft.ID)
	if err != nil {
		t.Fatalf("ListBranchIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("duplicate branch IDs must collapse, got %v", ids)
	}

	// A later replacement swaps the whole set.
	if err := env.gov.UpdateDraft(ctx, maker, draft.ID, UpdateDraftInput{
		BranchIDs: &[]uuid.UUID{b2},
	}); err != nil {
		t.Fatalf("UpdateDraft: %v", err)
	}
	ids, err = env.targeting.ListBranchIDs(ctx, nil, draft.ID)
	if err != nil {
		t.Fatalf("ListBranchIDs: %v", err)
	}
	if len(ids) != 1 || ids[0] != b2 {
		t.Fatalf("targeting must be replaced wholesale, got %v", ids)
	}

	// Flipping back to apply-to-all clears the rows.
	on := true
	if err := env.gov.UpdateDraft(ctx, maker, draft.ID, UpdateDraftInput{
		ApplyToAllBranches: &on,
	}); err != nil {
		t.Fatalf("UpdateDraft: %v", err)
	}
	n, err := env.targeting.CountForVersion(ctx, nil, draft.ID)
	if err != nil {
		t.Fatalf("CountForVersion: %v", err)
	}
	if n != 0 {
		t.Fatalf("apply_to_all_branches must clear targeting rows, got %d", n)
	}
}

func TestBranchOverrideDraftSeedsFromLivedReality(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := globalAdmin()
	checker := globalAdmin()
	env.mustDefine(t, admin, "EXPORT_GUARDRAILS")
	branchID := env.mustCreateBranch(t, "North")
	manager := branchUser(branchID)

	env.mustApproveGlobal(t, admin, checker, "EXPORT_GUARDRAILS", map[string]interface{}{
		"maxRows": float64(50000),
	})

	// First override draft starts from the global baseline.
	draft, err := env.gov.CreateBranchOverrideDraft(ctx, manager, "EXPORT_GUARDRAILS")
	if err != nil {
		t.Fatalf("CreateBranchOverrideDraft: %v", err)
	}
	v, err := env.versions.GetByID(ctx, nil, draft.ID)
	if err != nil || v == nil {
		t.Fatalf("load draft: %v", err)
	}
	if v.Scope != types.ScopeBranchOverride || v.BranchID == nil || *v.BranchID != branchID {
		t.Fatalf("unexpected draft lane: scope=%s branch=%v", v.Scope, v.BranchID)
	}
	if got := decodePayload(v.Payload)["maxRows"]; got != float64(50000) {
		t.Fatalf("override draft must seed from global baseline, got %v", got)
	}

	// Finish the override, then draft again: now the override is the baseline.
	if err := env.gov.UpdateDraft(ctx, manager, draft.ID, UpdateDraftInput{
		Payload: map[string]interface{}{"maxRows": float64(1000)},
	}); err != nil {
		t.Fatalf("UpdateDraft: %v", err)
	}
	if err := env.gov.SubmitDraft(ctx, manager, draft.ID); err != nil {
		t.Fatalf("SubmitDraft: %v", err)
	}
	if err := env.gov.Approve(ctx, checker, draft.ID, ""); err != nil {
		t.Fatalf("Approve: %v", err)
	}

	next, err := env.gov.CreateBranchOverrideDraft(ctx, manager, "EXPORT_GUARDRAILS")
	if err != nil {
		t.Fatalf("CreateBranchOverrideDraft: %v", err)
	}
	nv, err := env.versions.GetByID(ctx, nil, next.ID)
	if err != nil || nv == nil {
		t.Fatalf("load draft: %v", err)
	}
	if nv.Version != 2 {
		t.Fatalf("override lane has its own version sequence, want 2 got %d", nv.Version)
	}
	if got := decodePayload(nv.Payload)["maxRows"]; got != float64(1000) {
		t.Fatalf("second override draft must seed from the approved override, got %v", got)
	}
}

func TestBranchOverrideDraftRequiresBranchContext(t *testing.T) {
	env := newTestEnv(t)
	admin := globalAdmin()
	env.mustDefine(t, admin, "EXPORT_GUARDRAILS")

	_, err := env.gov.CreateBranchOverrideDraft(context.Background(), admin, "EXPORT_GUARDRAILS")
	if !apierr.HasCode(err, apierr.CodeInvalidArgument) {
		t.Fatalf("want INVALID_ARGUMENT without a branch, got %v", err)
	}
}

// An unencodable payload is a caller error, not something to paper over with
// an empty document.
func TestUpdateDraftRejectsUnencodablePayload(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	maker := globalAdmin()
	env.mustDefine(t, maker, "EXPORT_GUARDRAILS")

	draft, err := env.gov.CreateGlobalDraft(ctx, maker, "EXPORT_GUARDRAILS")
	if err != nil {
		t.Fatalf("CreateGlobalDraft: %v", err)
	}
	if err := env.gov.UpdateDraft(ctx, maker, draft.ID, UpdateDraftInput{
		Payload: map[string]interface{}{"limit": math.Inf(1)},
	}); !apierr.HasCode(err, apierr.CodeInvalidArgument) {
		t.Fatalf("want INVALID_ARGUMENT for unencodable payload, got %v", err)
	}

	got, err := env.versions.GetByID(ctx, nil, draft.ID)
	if err != nil || got == nil {
		t.Fatalf("load draft: %v", err)
	}
	if string(got.Payload) != "{}" {
		t.Fatalf("failed update must leave the payload untouched, got %s", got.Payload)
	}
}

func TestUpdateDraftAuthorization(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := globalAdmin()
	env.mustDefine(t, admin, "EXPORT_GUARDRAILS")
	b1 := env.mustCreateBranch(t, "North")
	b2 := env.mustCreateBranch(t, "South")
	owner := branchUser(b1)

	draft, err := env.gov.CreateBranchOverrideDraft(ctx, owner, "EXPORT_GUARDRAILS")
	if err != nil {
		t.Fatalf("CreateBranchOverrideDraft: %v", err)
	}

	// Another branch cannot touch it.
	if err := env.gov.UpdateDraft(ctx, branchUser(b2), draft.ID, UpdateDraftInput{
		Payload: map[string]interface{}{"x": float64(1)},
	}); !apierr.HasCode(err, apierr.CodeForbidden) {
		t.Fatalf("want FORBIDDEN for cross-branch edit, got %v", err)
	}

	// Same branch, different user: still only the creator edits.
	if err := env.gov.UpdateDraft(ctx, branchUser(b1), draft.ID, UpdateDraftInput{
		Payload: map[string]interface{}{"x": float64(1)},
	}); !apierr.HasCode(err, apierr.CodeForbidden) {
		t.Fatalf("want FORBIDDEN for non-creator edit, got %v", err)
	}

	if err := env.gov.UpdateDraft(ctx, owner, draft.ID, UpdateDraftInput{
		Payload: map[string]interface{}{"x": float64(1)},
	}); err != nil {
		t.Fatalf("creator edit: %v", err)
	}

	// Global drafts demand global authority.
	gdraft, err := env.gov.CreateGlobalDraft(ctx, admin, "EXPORT_GUARDRAILS")
	if err != nil {
		t.Fatalf("CreateGlobalDraft: %v", err)
	}
	if err := env.gov.UpdateDraft(ctx, owner, gdraft.ID, UpdateDraftInput{
		Payload: map[string]interface{}{"x": float64(1)},
	}); !apierr.HasCode(err, apierr.CodeForbidden) {
		t.Fatalf("want FORBIDDEN for branch user editing global draft, got %v", err)
	}
}

func TestDisplayStatus(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		name        string
		status      string
		effectiveAt time.Time
		want        string
	}{
		{"draft", types.StatusDraft, now, DisplayDraft},
		{"submitted shows pending", types.StatusSubmitted, now, DisplayPendingApproval},
		{"rejected", types.StatusRejected, now, DisplayRejected},
		{"approved in the past is active", types.StatusApproved, now.Add(-time.Hour), DisplayActive},
		{"approved right now is active", types.StatusApproved, now, DisplayActive},
		{"approved in the future is not yet active", types.StatusApproved, now.Add(time.Hour), DisplayApproved},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := displayStatus(tt.status, tt.effectiveAt, now); got != tt.want {
				t.Fatalf("displayStatus(%s) = %s, want %s", tt.status, got, tt.want)
			}
		})
	}
}

func TestGovernanceWritesAuditTrail(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	maker := globalAdmin()
	checker := globalAdmin()
	env.mustDefine(t, maker, "EXPORT_GUARDRAILS")

	versionID := env.mustApproveGlobal(t, maker, checker, "EXPORT_GUARDRAILS", map[string]interface{}{
		"maxRows": float64(50000),
	})

	events, err := env.audits.ListByEntity(ctx, nil, types.AuditEntityPolicyVersion, 50)
	if err != nil {
		t.Fatalf("ListByEntity: %v", err)
	}
	seen := map[string]bool{}
	for _, ev := range events {
		if ev.EntityID == versionID.String() {
			seen[ev.Action] = true
		}
	}
	for _, action := range []string{
		AuditActionPolicyDraftCreated,
		AuditActionPolicyDraftUpdated,
		AuditActionPolicySubmitted,
		AuditActionPolicyApproved,
	} {
		if !seen[action] {
			t.Fatalf("missing audit action %s; got %v", action, seen)
		}
	}
}
