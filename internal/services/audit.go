package services

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/zypocare/core-backend/internal/logger"
	"github.com/zypocare/core-backend/internal/repos"
	"github.com/zypocare/core-backend/internal/types"
)

const (
	AuditActionPolicyDefCreated           = "GOV_POLICY_DEF_CREATED"
	AuditActionPolicyDraftCreated         = "GOV_POLICY_DRAFT_CREATED"
	AuditActionPolicyOverrideDraftCreated = "GOV_POLICY_OVERRIDE_DRAFT_CREATED"
	AuditActionPolicyDraftUpdated         = "GOV_POLICY_DRAFT_UPDATED"
	AuditActionPolicySubmitted            = "GOV_POLICY_SUBMITTED"
	AuditActionPolicyApproved             = "GOV_POLICY_APPROVED"
	AuditActionPolicyRejected             = "GOV_POLICY_REJECTED"
)

type AuditEntry struct {
	BranchID    *uuid.UUID
	ActorUserID uuid.UUID
	Action      string
	Entity      string
	EntityID    string
	Meta        map[string]interface{}
}

// AuditSink receives one event per governance state transition. The sink is
// best-effort: Log never returns an error because a failed audit write must
// not roll back or fail the transition that produced it.
type AuditSink interface {
	Log(ctx context.Context, entry AuditEntry)
}

type auditService struct {
	db   *gorm.DB
	log  *logger.Logger
	repo repos.AuditEventRepo
}

func NewAuditService(db *gorm.DB, baseLog *logger.Logger, repo repos.AuditEventRepo) AuditSink {
	return &auditService{db: db, log: baseLog.With("service", "AuditService"), repo: repo}
}

func (as *auditService) Log(ctx context.Context, entry AuditEntry) {
	var meta datatypes.JSON
	if entry.Meta != nil {
		raw, err := json.Marshal(entry.Meta)
		if err != nil {
			as.log.Warn("Failed to marshal audit meta, writing event without it", "action", entry.Action, "error", err)
		} else {
			meta = datatypes.JSON(raw)
		}
	}

	event := &types.AuditEvent{
		ID:          uuid.New(),
		BranchID:    entry.BranchID,
		ActorUserID: entry.ActorUserID,
		Action:      entry.Action,
		Entity:      entry.Entity,
		EntityID:    entry.EntityID,
		Meta:        meta,
	}

	// Deliberately outside any caller transaction.
	if err := as.repo.Create(ctx, nil, event); err != nil {
		as.log.Warn("Failed to write audit event",
			"action", entry.Action,
			"entity", entry.Entity,
			"entity_id", entry.EntityID,
			"error", err,
		)
	}
}
