package repos

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/zypocare/core-backend/internal/db"
	"github.com/zypocare/core-backend/internal/logger"
	"github.com/zypocare/core-backend/internal/types"
)

func newTestRepo(t *testing.T) PolicyVersionRepo {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.ReplaceAll(t.Name(), "/", "_"))
	gdb, err := db.OpenSQLite(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}
	return NewPolicyVersionRepo(gdb, log)
}

func draftRow(policyID uuid.UUID, scope string, branchID *uuid.UUID, version int) *types.PolicyVersion {
	return &types.PolicyVersion{
		ID:              uuid.New(),
		PolicyID:        policyID,
		Scope:           scope,
		BranchID:        branchID,
		Version:         version,
		Status:          types.StatusDraft,
		Payload:         datatypes.JSON([]byte("{}")),
		EffectiveAt:     time.Now(),
		CreatedByUserID: uuid.New(),
	}
}

// The DRAFT lane carries a partial unique index, so concurrent create-or-get
// callers surface as a translated duplicate-key error rather than a second row.
func TestSingleDraftPerLane(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	policyID := uuid.New()
	branchID := uuid.New()

	if err := repo.Create(ctx, nil, draftRow(policyID, types.ScopeGlobal, nil, 1)); err != nil {
		t.Fatalf("first global draft: %v", err)
	}
	err := repo.Create(ctx, nil, draftRow(policyID, types.ScopeGlobal, nil, 2))
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("want ErrDuplicatedKey for second global draft, got %v", err)
	}

	// A different lane (branch override) is unaffected.
	if err := repo.Create(ctx, nil, draftRow(policyID, types.ScopeBranchOverride, &branchID, 1)); err != nil {
		t.Fatalf("override draft in its own lane: %v", err)
	}
	err = repo.Create(ctx, nil, draftRow(policyID, types.ScopeBranchOverride, &branchID, 2))
	if !errors.Is(err, gorm.ErrDuplicatedKey) {
		t.Fatalf("want ErrDuplicatedKey for second override draft, got %v", err)
	}

	// Non-DRAFT rows never collide; history keeps every decided version.
	approved := draftRow(policyID, types.ScopeGlobal, nil, 2)
	approved.Status = types.StatusApproved
	if err := repo.Create(ctx, nil, approved); err != nil {
		t.Fatalf("approved row must not hit the draft index: %v", err)
	}
}

// apply_to_all_branches must round-trip both values through Create; a column
// default would make gorm omit the false case and persist true instead.
func TestApplyToAllBranchesRoundTrips(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	branchID := uuid.New()

	for _, tt := range []struct {
		name       string
		scope      string
		branchID   *uuid.UUID
		applyToAll bool
	}{
		{"targeted global stores false", types.ScopeGlobal, nil, false},
		{"apply-to-all global stores true", types.ScopeGlobal, nil, true},
		{"branch override stores false", types.ScopeBranchOverride, &branchID, false},
	} {
		t.Run(tt.name, func(t *testing.T) {
			row := draftRow(uuid.New(), tt.scope, tt.branchID, 1)
			row.ApplyToAllBranches = tt.applyToAll
			if err := repo.Create(ctx, nil, row); err != nil {
				t.Fatalf("create: %v", err)
			}
			got, err := repo.GetByID(ctx, nil, row.ID)
			if err != nil || got == nil {
				t.Fatalf("load: %v", err)
			}
			if got.ApplyToAllBranches != tt.applyToAll {
				t.Fatalf("apply_to_all_branches stored as %v, want %v", got.ApplyToAllBranches, tt.applyToAll)
			}
		})
	}
}

// TransitionStatus only moves rows still in the expected status; a version
// decided by one reviewer must not be re-decided by a concurrent one.
func TestTransitionStatusGuardsAgainstConcurrentDecision(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	row := draftRow(uuid.New(), types.ScopeGlobal, nil, 1)
	row.Status = types.StatusSubmitted
	if err := repo.Create(ctx, nil, row); err != nil {
		t.Fatalf("create submitted row: %v", err)
	}

	// First decision lands.
	ok, err := repo.TransitionStatus(ctx, nil, row.ID, types.StatusSubmitted, map[string]interface{}{
		"status": types.StatusRejected,
	})
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if !ok {
		t.Fatal("reject should match the submitted row")
	}

	// A second decision raced the first and must be refused.
	ok, err = repo.TransitionStatus(ctx, nil, row.ID, types.StatusSubmitted, map[string]interface{}{
		"status": types.StatusApproved,
	})
	if err != nil {
		t.Fatalf("late approve: %v", err)
	}
	if ok {
		t.Fatal("late approve must not match a rejected row")
	}

	got, err := repo.GetByID(ctx, nil, row.ID)
	if err != nil || got == nil {
		t.Fatalf("load: %v", err)
	}
	if got.Status != types.StatusRejected {
		t.Fatalf("status = %s, want %s", got.Status, types.StatusRejected)
	}
}

func TestMaxVersionPerLane(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()
	policyID := uuid.New()
	branchID := uuid.New()

	max, err := repo.MaxVersion(ctx, nil, policyID, types.ScopeGlobal, nil)
	if err != nil {
		t.Fatalf("MaxVersion on empty lane: %v", err)
	}
	if max != 0 {
		t.Fatalf("empty lane max must be 0, got %d", max)
	}

	for i, status := range []string{types.StatusApproved, types.StatusRejected, types.StatusDraft} {
		row := draftRow(policyID, types.ScopeGlobal, nil, i+1)
		row.Status = status
		if err := repo.Create(ctx, nil, row); err != nil {
			t.Fatalf("create v%d: %v", i+1, err)
		}
	}
	if err := repo.Create(ctx, nil, draftRow(policyID, types.ScopeBranchOverride, &branchID, 7)); err != nil {
		t.Fatalf("create override: %v", err)
	}

	max, err = repo.MaxVersion(ctx, nil, policyID, types.ScopeGlobal, nil)
	if err != nil {
		t.Fatalf("MaxVersion: %v", err)
	}
	if max != 3 {
		t.Fatalf("global lane max must count every status, got %d", max)
	}

	max, err = repo.MaxVersion(ctx, nil, policyID, types.ScopeBranchOverride, &branchID)
	if err != nil {
		t.Fatalf("MaxVersion override lane: %v", err)
	}
	if max != 7 {
		t.Fatalf("override lane is independent, got %d", max)
	}
}
