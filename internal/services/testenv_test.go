package services

import (
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zypocare/core-backend/internal/cache"
	"github.com/zypocare/core-backend/internal/db"
	"github.com/zypocare/core-backend/internal/logger"
	"github.com/zypocare/core-backend/internal/principal"
	"github.com/zypocare/core-backend/internal/repos"
	"github.com/zypocare/core-backend/internal/types"
)

type testEnv struct {
	db        *gorm.DB
	cache     *cache.Memory
	defs      repos.PolicyDefinitionRepo
	versions  repos.PolicyVersionRepo
	targeting repos.PolicyVersionBranchRepo
	branches  repos.BranchRepo
	audits    repos.AuditEventRepo
	catalog   CatalogService
	gov       GovernanceService
	engine    PolicyEngineService
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared",
		strings.NewReplacer("/", "_", " ", "_").Replace(t.Name()))
	gdb, err := db.OpenSQLite(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	log, err := logger.New("development")
	if err != nil {
		t.Fatalf("init logger: %v", err)
	}

	mem := cache.NewMemory()
	defs := repos.NewPolicyDefinitionRepo(gdb, log)
	versions := repos.NewPolicyVersionRepo(gdb, log)
	targeting := repos.NewPolicyVersionBranchRepo(gdb, log)
	branches := repos.NewBranchRepo(gdb, log)
	audits := repos.NewAuditEventRepo(gdb, log)

	audit := NewAuditService(gdb, log, audits)
	engine := NewPolicyEngineService(gdb, log, defs, versions, mem, 30*time.Second)
	catalog := NewCatalogService(gdb, log, defs, audit)
	gov := NewGovernanceService(gdb, log, defs, versions, targeting, branches, audits, audit, engine)

	return &testEnv{
		db:        gdb,
		cache:     mem,
		defs:      defs,
		versions:  versions,
		targeting: targeting,
		branches:  branches,
		audits:    audits,
		catalog:   catalog,
		gov:       gov,
		engine:    engine,
	}
}

// setNow pins the clock for both the workflow and the resolver so tests can
// reason about effective_at boundaries deterministically.
func (e *testEnv) setNow(at time.Time) {
	e.gov.(*governanceService).now = func() time.Time { return at }
	e.engine.(*policyEngineService).now = func() time.Time { return at }
}

func globalAdmin() *principal.Principal {
	return &principal.Principal{
		UserID:    uuid.New(),
		RoleCode:  "SUPER_ADMIN",
		RoleScope: principal.ScopeGlobal,
	}
}

func branchUser(branchID uuid.UUID) *principal.Principal {
	return &principal.Principal{
		UserID:    uuid.New(),
		RoleCode:  "BRANCH_MANAGER",
		RoleScope: principal.ScopeBranch,
		BranchID:  &branchID,
	}
}

func (e *testEnv) mustCreateBranch(t *testing.T, name string) uuid.UUID {
	t.Helper()
	b := &types.Branch{
		ID:   uuid.New(),
		Code: strings.ToUpper(strings.ReplaceAll(name, " ", "_")),
		Name: name,
		City: name + " City",
	}
	if err := e.branches.Create(context.Background(), nil, []*types.Branch{b}); err != nil {
		t.Fatalf("create branch %s: %v", name, err)
	}
	return b.ID
}

func (e *testEnv) mustDefine(t *testing.T, admin *principal.Principal, code string) *types.PolicyDefinition {
	t.Helper()
	def, err := e.catalog.CreateDefinition(context.Background(), admin, CreateDefinitionInput{
		Code: code,
		Name: "Policy " + code,
		Type: "OPERATIONAL",
	})
	if err != nil {
		t.Fatalf("create definition %s: %v", code, err)
	}
	return def
}

// mustApproveGlobal runs a full maker-checker cycle on a global draft: maker
// creates and edits the draft, submits it, checker approves.
func (e *testEnv) mustApproveGlobal(t *testing.T, maker, checker *principal.Principal, code string, payload map[string]interface{}) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	draft, err := e.gov.CreateGlobalDraft(ctx, maker, code)
	if err != nil {
		t.Fatalf("create global draft for %s: %v", code, err)
	}
	if err := e.gov.UpdateDraft(ctx, maker, draft.ID, UpdateDraftInput{Payload: payload}); err != nil {
		t.Fatalf("update global draft for %s: %v", code, err)
	}
	if err := e.gov.SubmitDraft(ctx, maker, draft.ID); err != nil {
		t.Fatalf("submit global draft for %s: %v", code, err)
	}
	if err := e.gov.Approve(ctx, checker, draft.ID, "ok"); err != nil {
		t.Fatalf("approve global draft for %s: %v", code, err)
	}
	return draft.ID
}

// mustApproveOverride runs the same cycle for a branch override draft.
func (e *testEnv) mustApproveOverride(t *testing.T, maker, checker *principal.Principal, code string, payload map[string]interface{}) uuid.UUID {
	t.Helper()
	ctx := context.Background()

	draft, err := e.gov.CreateBranchOverrideDraft(ctx, maker, code)
	if err != nil {
		t.Fatalf("create override draft for %s: %v", code, err)
	}
	if err := e.gov.UpdateDraft(ctx, maker, draft.ID, UpdateDraftInput{Payload: payload}); err != nil {
		t.Fatalf("update override draft for %s: %v", code, err)
	}
	if err := e.gov.SubmitDraft(ctx, maker, draft.ID); err != nil {
		t.Fatalf("submit override draft for %s: %v", code, err)
	}
	if err := e.gov.Approve(ctx, checker, draft.ID, "ok"); err != nil {
		t.Fatalf("approve override draft for %s: %v", code, err)
	}
	return draft.ID
}
