package services

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/zypocare/core-backend/internal/apierr"
	"github.com/zypocare/core-backend/internal/cache"
	"github.com/zypocare/core-backend/internal/logger"
	"github.com/zypocare/core-backend/internal/repos"
	"github.com/zypocare/core-backend/internal/types"
)

const DefaultPolicyCacheTTL = 30 * time.Second

// EffectivePolicy is the single payload a branch actually observes for a
// policy code at a point in time, after merging the GLOBAL baseline with any
// branch override. Derived, never stored.
type EffectivePolicy struct {
	Code         string                 `json:"code"`
	DefinitionID uuid.UUID              `json:"definition_id"`
	Scope        string                 `json:"scope"`
	VersionID    uuid.UUID              `json:"version_id"`
	Version      int                    `json:"version"`
	EffectiveAt  time.Time              `json:"effective_at"`
	Payload      map[string]interface{} `json:"payload"`
}

// PolicyEngineService resolves the effective policy for (code, branch).
// Results, including "no policy configured", are cached with a short TTL;
// governance transitions push explicit invalidations so a post-approval read
// is never served stale.
type PolicyEngineService interface {
	GetEffectivePolicy(ctx context.Context, code string, branchID *uuid.UUID) (*EffectivePolicy, error)
	GetPayload(ctx context.Context, code string, branchID *uuid.UUID, fallback map[string]interface{}) (map[string]interface{}, error)
	Invalidate(ctx context.Context, code string, branchID *uuid.UUID)
}

type policyEngineService struct {
	db          *gorm.DB
	log         *logger.Logger
	defRepo     repos.PolicyDefinitionRepo
	versionRepo repos.PolicyVersionRepo
	cache       cache.Cache
	ttl         time.Duration
	now         func() time.Time
}

func NewPolicyEngineService(
	db *gorm.DB,
	baseLog *logger.Logger,
	defRepo repos.PolicyDefinitionRepo,
	versionRepo repos.PolicyVersionRepo,
	policyCache cache.Cache,
	ttl time.Duration,
) PolicyEngineService {
	if ttl <= 0 {
		ttl = DefaultPolicyCacheTTL
	}
	return &policyEngineService{
		db:          db,
		log:         baseLog.With("service", "PolicyEngineService"),
		defRepo:     defRepo,
		versionRepo: versionRepo,
		cache:       policyCache,
		ttl:         ttl,
		now:         time.Now,
	}
}

func cacheKey(code string, branchID *uuid.UUID) string {
	if branchID == nil {
		return code + "::__none__"
	}
	return code + "::" + branchID.String()
}

var jsonNull = []byte("null")

// getCached distinguishes "no cache hit" (ok=false) from a cached nil result
// (ok=true, eff=nil). Cache errors degrade to a miss so an unreachable cache
// never fails a read.
func (pe *policyEngineService) getCached(ctx context.Context, key string) (*EffectivePolicy, bool) {
	raw, ok, err := pe.cache.Get(ctx, key)
	if err != nil {
		pe.log.Warn("Policy cache read failed, resolving from store", "key", key, "error", err)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	if bytes.Equal(bytes.TrimSpace(raw), jsonNull) {
		return nil, true
	}
	var eff EffectivePolicy
	if err := json.Unmarshal(raw, &eff); err != nil {
		pe.log.Warn("Policy cache entry corrupt, resolving from store", "key", key, "error", err)
		return nil, false
	}
	return &eff, true
}

func (pe *policyEngineService) setCached(ctx context.Context, key string, eff *EffectivePolicy) {
	raw, err := json.Marshal(eff)
	if err != nil {
		pe.log.Warn("Failed to marshal effective policy for cache", "key", key, "error", err)
		return
	}
	if err := pe.cache.Set(ctx, key, raw, pe.ttl); err != nil {
		pe.log.Warn("Policy cache write failed", "key", key, "error", err)
	}
}

// Invalidate drops every cached view of a policy code across all branches —
// a GLOBAL approval can change many branches' effective view at once. An
// empty code clears the whole cache (administrative reset).
func (pe *policyEngineService) Invalidate(ctx context.Context, code string, branchID *uuid.UUID) {
	normalized := NormalizePolicyCode(code)
	if normalized == "" {
		if err := pe.cache.Clear(ctx); err != nil {
			pe.log.Warn("Policy cache clear failed", "error", err)
		}
		return
	}
	if err := pe.cache.InvalidatePrefix(ctx, normalized+"::"); err != nil {
		pe.log.Warn("Policy cache invalidation failed", "code", normalized, "error", err)
	}
	if branchID != nil {
		if err := pe.cache.InvalidatePrefix(ctx, cacheKey(normalized, branchID)); err != nil {
			pe.log.Warn("Policy cache invalidation failed", "code", normalized, "branch_id", branchID, "error", err)
		}
	}
}

func (pe *policyEngineService) GetEffectivePolicy(ctx context.Context, code string, branchID *uuid.UUID) (*EffectivePolicy, error) {
	normalized := NormalizePolicyCode(code)
	if normalized == "" {
		return nil, apierr.InvalidArgument("policy code is required")
	}

	key := cacheKey(normalized, branchID)
	if eff, ok := pe.getCached(ctx, key); ok {
		return eff, nil
	}

	def, err := pe.defRepo.GetByCode(ctx, nil, normalized)
	if err != nil {
		return nil, err
	}
	if def == nil {
		// Unknown code is a valid default-fallback state for callers, not an
		// error. Cached as an explicit nil.
		pe.setCached(ctx, key, nil)
		return nil, nil
	}

	// One "now" per resolution; the override and global lookups must not
	// straddle a timestamp boundary.
	now := pe.now()

	var override *types.PolicyVersion
	if branchID != nil {
		override, err = pe.versionRepo.LatestApprovedOverride(ctx, nil, def.ID, *branchID, now)
		if err != nil {
			return nil, err
		}
	}

	global, err := pe.versionRepo.LatestApprovedGlobalFor(ctx, nil, def.ID, branchID, now)
	if err != nil {
		return nil, err
	}

	if global == nil && override == nil {
		pe.setCached(ctx, key, nil)
		return nil, nil
	}

	var globalPayload, overridePayload map[string]interface{}
	if global != nil {
		globalPayload = decodePayload(global.Payload)
	}
	if override != nil {
		overridePayload = decodePayload(override.Payload)
	}

	eff := &EffectivePolicy{
		Code:         normalized,
		DefinitionID: def.ID,
		Scope:        types.ScopeGlobal,
		Payload:      mergePayloads(globalPayload, overridePayload),
	}
	winner := global
	if override != nil {
		eff.Scope = types.ScopeBranchOverride
		winner = override
	}
	eff.VersionID = winner.ID
	eff.Version = winner.Version
	eff.EffectiveAt = winner.EffectiveAt

	pe.setCached(ctx, key, eff)
	return eff, nil
}

func (pe *policyEngineService) GetPayload(ctx context.Context, code string, branchID *uuid.UUID, fallback map[string]interface{}) (map[string]interface{}, error) {
	eff, err := pe.GetEffectivePolicy(ctx, code, branchID)
	if err != nil {
		return nil, err
	}
	if eff == nil {
		return fallback, nil
	}
	return eff.Payload, nil
}

func decodePayload(raw datatypes.JSON) map[string]interface{} {
	if len(raw) == 0 {
		return map[string]interface{}{}
	}
	var out map[string]interface{}
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]interface{}{}
	}
	return out
}
