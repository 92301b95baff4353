package services

import (
	"context"
	"testing"

	"github.com/zypocare/core-backend/internal/apierr"
)

func TestCreateDefinitionCanonicalizesCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := globalAdmin()

	def, err := env.catalog.CreateDefinition(ctx, admin, CreateDefinitionInput{
		Code: "  export_guardrails ",
		Name: "Export Guardrails",
		Type: "operational",
	})
	if err != nil {
		t.Fatalf("CreateDefinition: %v", err)
	}
	if def.Code != "EXPORT_GUARDRAILS" {
		t.Fatalf("code not canonicalized: %q", def.Code)
	}
	if def.Type != "OPERATIONAL" {
		t.Fatalf("type not canonicalized: %q", def.Type)
	}

	// Lookups accept any casing.
	got, err := env.catalog.Get(ctx, "export_guardrails")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.ID != def.ID {
		t.Fatalf("lookup returned wrong definition")
	}
}

func TestCreateDefinitionValidation(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := globalAdmin()

	tests := []struct {
		name     string
		in       CreateDefinitionInput
		wantCode string
	}{
		{
			name:     "code too short",
			in:       CreateDefinitionInput{Code: "AB", Name: "N", Type: "T"},
			wantCode: apierr.CodeInvalidArgument,
		},
		{
			name:     "code with invalid chars",
			in:       CreateDefinitionInput{Code: "BAD-CODE!", Name: "N", Type: "T"},
			wantCode: apierr.CodeInvalidArgument,
		},
		{
			name:     "missing name",
			in:       CreateDefinitionInput{Code: "SOME_POLICY", Name: "  ", Type: "T"},
			wantCode: apierr.CodeInvalidArgument,
		},
		{
			name:     "missing type",
			in:       CreateDefinitionInput{Code: "SOME_POLICY", Name: "N", Type: ""},
			wantCode: apierr.CodeInvalidArgument,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := env.catalog.CreateDefinition(ctx, admin, tt.in)
			if !apierr.HasCode(err, tt.wantCode) {
				t.Fatalf("want %s, got %v", tt.wantCode, err)
			}
		})
	}
}

func TestCreateDefinitionDuplicateCode(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	admin := globalAdmin()

	env.mustDefine(t, admin, "DATA_RETENTION")

	// Same code in a different casing collides with the canonical form.
	_, err := env.catalog.CreateDefinition(ctx, admin, CreateDefinitionInput{
		Code: "data_retention",
		Name: "Data Retention",
		Type: "COMPLIANCE",
	})
	if !apierr.HasCode(err, apierr.CodeDuplicateCode) {
		t.Fatalf("want DUPLICATE_CODE, got %v", err)
	}
}

func TestCreateDefinitionRequiresGlobalAuthority(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	branchID := env.mustCreateBranch(t, "North")

	_, err := env.catalog.CreateDefinition(ctx, branchUser(branchID), CreateDefinitionInput{
		Code: "EXPORT_GUARDRAILS",
		Name: "Export Guardrails",
		Type: "OPERATIONAL",
	})
	if !apierr.HasCode(err, apierr.CodeForbidden) {
		t.Fatalf("want FORBIDDEN, got %v", err)
	}
}

func TestCatalogGetUnknownCode(t *testing.T) {
	env := newTestEnv(t)

	_, err := env.catalog.Get(context.Background(), "NO_SUCH_POLICY")
	if !apierr.HasCode(err, apierr.CodeNotFound) {
		t.Fatalf("want NOT_FOUND, got %v", err)
	}
}

func TestCatalogListOrdersByName(t *testing.T) {
	env := newTestEnv(t)
	admin := globalAdmin()

	env.mustDefine(t, admin, "ZONING_RULES")
	env.mustDefine(t, admin, "APPROVAL_LIMITS")

	defs, err := env.catalog.List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(defs) != 2 {
		t.Fatalf("want 2 definitions, got %d", len(defs))
	}
	if defs[0].Code != "APPROVAL_LIMITS" || defs[1].Code != "ZONING_RULES" {
		t.Fatalf("unexpected order: %s, %s", defs[0].Code, defs[1].Code)
	}
}
