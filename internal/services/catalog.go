package services

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/zypocare/core-backend/internal/apierr"
	"github.com/zypocare/core-backend/internal/logger"
	"github.com/zypocare/core-backend/internal/principal"
	"github.com/zypocare/core-backend/internal/repos"
	"github.com/zypocare/core-backend/internal/types"
)

var policyCodePattern = regexp.MustCompile(`^[A-Z0-9_]{3,64}$`)

type CreateDefinitionInput struct {
	Code        string `json:"code"`
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
}

// CatalogService administers the registry of policy definitions. Definitions
// carry identity only; versioned payloads live in the governance workflow.
type CatalogService interface {
	CreateDefinition(ctx context.Context, p *principal.Principal, in CreateDefinitionInput) (*types.PolicyDefinition, error)
	Get(ctx context.Context, code string) (*types.PolicyDefinition, error)
	List(ctx context.Context) ([]*types.PolicyDefinition, error)
}

type catalogService struct {
	db      *gorm.DB
	log     *logger.Logger
	defRepo repos.PolicyDefinitionRepo
	audit   AuditSink
}

func NewCatalogService(db *gorm.DB, baseLog *logger.Logger, defRepo repos.PolicyDefinitionRepo, audit AuditSink) CatalogService {
	return &catalogService{
		db:      db,
		log:     baseLog.With("service", "CatalogService"),
		defRepo: defRepo,
		audit:   audit,
	}
}

// NormalizePolicyCode canonicalizes a policy code the way every entry point
// must: trimmed and uppercased.
func NormalizePolicyCode(raw string) string {
	return strings.ToUpper(strings.TrimSpace(raw))
}

func (cs *catalogService) CreateDefinition(ctx context.Context, p *principal.Principal, in CreateDefinitionInput) (*types.PolicyDefinition, error) {
	if p == nil || !p.HasGlobalAuthority() {
		return nil, apierr.Forbidden("creating policy definitions requires global policy authority")
	}

	code := NormalizePolicyCode(in.Code)
	name := strings.TrimSpace(in.Name)
	policyType := strings.ToUpper(strings.TrimSpace(in.Type))
	description := strings.TrimSpace(in.Description)

	if !policyCodePattern.MatchString(code) {
		return nil, apierr.InvalidArgument("policy code must be 3-64 chars: A-Z, 0-9, underscore")
	}
	if name == "" {
		return nil, apierr.InvalidArgument("policy name is required")
	}
	if policyType == "" {
		return nil, apierr.InvalidArgument("policy type is required")
	}

	def := &types.PolicyDefinition{
		ID:          uuid.New(),
		Code:        code,
		Name:        name,
		Type:        policyType,
		Description: description,
	}
	if err := cs.defRepo.Create(ctx, nil, def); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, apierr.DuplicateCode("a policy with code %s already exists", code)
		}
		return nil, err
	}

	cs.audit.Log(ctx, AuditEntry{
		ActorUserID: p.UserID,
		Action:      AuditActionPolicyDefCreated,
		Entity:      types.AuditEntityPolicyDefinition,
		EntityID:    def.Code,
		Meta:        map[string]interface{}{"code": def.Code, "type": def.Type},
	})

	return def, nil
}

func (cs *catalogService) Get(ctx context.Context, code string) (*types.PolicyDefinition, error) {
	normalized := NormalizePolicyCode(code)
	if normalized == "" {
		return nil, apierr.InvalidArgument("policy code is required")
	}
	def, err := cs.defRepo.GetByCode(ctx, nil, normalized)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, apierr.NotFound("unknown policy code %s", normalized)
	}
	return def, nil
}

func (cs *catalogService) List(ctx context.Context) ([]*types.PolicyDefinition, error) {
	return cs.defRepo.List(ctx, nil)
}
